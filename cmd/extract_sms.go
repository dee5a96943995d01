package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/phonetrust/internal/model"
	"github.com/sells-group/phonetrust/internal/sms"
)

var extractSMSFile string

var extractSMSCmd = &cobra.Command{
	Use:   "extract-sms",
	Short: "Extract mobile-money transactions and utility bills from an SMS export",
	Long:  "Reads a JSON array of messages ({id, sender, body, date}) from --file or stdin and prints the extraction result. Nothing is stored.",
	RunE: func(cmd *cobra.Command, args []string) error {
		messages, err := readMessages(cmd.InOrStdin(), extractSMSFile)
		if err != nil {
			return err
		}
		res := sms.NewExtractor(nil).Extract(messages)
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func readMessages(stdin io.Reader, path string) ([]model.SMSMessage, error) {
	r := stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "open %s", path)
		}
		defer f.Close() //nolint:errcheck
		r = f
	}
	var messages []model.SMSMessage
	if err := json.NewDecoder(r).Decode(&messages); err != nil {
		return nil, eris.Wrap(err, "decode messages")
	}
	return messages, nil
}

func init() {
	extractSMSCmd.Flags().StringVar(&extractSMSFile, "file", "", "JSON message export (default stdin)")
	rootCmd.AddCommand(extractSMSCmd)
}
