package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/phonetrust/internal/model"
	"github.com/sells-group/phonetrust/internal/resilience"
	"github.com/sells-group/phonetrust/internal/ussd"
)

var (
	analyzeImage      string
	analyzeText       string
	analyzeConfidence float64
	analyzeName       string
)

var analyzeUSSDCmd = &cobra.Command{
	Use:   "analyze-ussd",
	Short: "Evaluate a mobile-money USSD screenshot",
	Long:  "Runs OCR on --image, or analyzes already recognized text from --text, and prints the extracted fields with the certification verdict.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if (analyzeImage == "") == (analyzeText == "") {
			return eris.New("exactly one of --image or --text is required")
		}

		var res *model.USSDScreenshotResult
		if analyzeText != "" {
			text, err := os.ReadFile(analyzeText)
			if err != nil {
				return eris.Wrapf(err, "read %s", analyzeText)
			}
			res = ussd.AnalyzeText(string(text), analyzeConfidence, analyzeName)
		} else {
			if err := cfg.Validate("ocr"); err != nil {
				return err
			}
			image, err := os.ReadFile(analyzeImage)
			if err != nil {
				return eris.Wrapf(err, "read %s", analyzeImage)
			}
			breakers := resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig())
			analyzer, err := initOCR(breakers)
			if err != nil {
				return err
			}
			res, err = analyzer.Analyze(cmd.Context(), image, analyzeName)
			if err != nil {
				return eris.Wrap(err, "analyze screenshot")
			}
		}

		return printJSON(cmd.OutOrStdout(), struct {
			Result        *model.USSDScreenshotResult `json:"result"`
			Certification model.Certification         `json:"certification"`
		}{res, ussd.ValidateForCertification(res)})
	},
}

func init() {
	analyzeUSSDCmd.Flags().StringVar(&analyzeImage, "image", "", "screenshot image file")
	analyzeUSSDCmd.Flags().StringVar(&analyzeText, "text", "", "file with already recognized screenshot text")
	analyzeUSSDCmd.Flags().Float64Var(&analyzeConfidence, "confidence", 80, "OCR confidence (0-100) for --text")
	analyzeUSSDCmd.Flags().StringVar(&analyzeName, "name", "", "name on the identity card to compare")
	rootCmd.AddCommand(analyzeUSSDCmd)
}
