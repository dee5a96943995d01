package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/phonetrust/internal/certainty"
	"github.com/sells-group/phonetrust/internal/model"
)

var certaintyCmd = &cobra.Command{
	Use:   "certainty",
	Short: "Inspect and manage the data-source certainty table",
}

var certaintyShowBuiltin bool

var certaintyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the certainty table the validator would use",
	RunE: func(cmd *cobra.Command, args []string) error {
		table, err := loadCertaintyTable(cmd, certaintyShowBuiltin)
		if err != nil {
			return err
		}
		out := make([]model.DataSourceCertainty, 0, len(table))
		for _, s := range model.SourceTypes {
			if e, ok := table[s]; ok {
				out = append(out, e)
			}
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

var certaintyExportOut string

var certaintyExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the certainty table to a YAML file",
	RunE: func(cmd *cobra.Command, args []string) error {
		table, err := loadCertaintyTable(cmd, certaintyShowBuiltin)
		if err != nil {
			return err
		}
		if err := certainty.WriteTable(certaintyExportOut, table); err != nil {
			return err
		}
		zap.L().Info("certainty table exported", zap.String("path", certaintyExportOut), zap.Int("sources", len(table)))
		return nil
	},
}

var certaintyImportFile string

var certaintyImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Validate a YAML certainty table and store it",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		table, err := (&certainty.FileTableStore{Path: certaintyImportFile}).LoadCertaintyTable(ctx)
		if err != nil {
			return err
		}
		if err := certainty.Validate(table); err != nil {
			return err
		}
		if err := cfg.Validate("store"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}
		if err := st.SaveCertaintyTable(ctx, table); err != nil {
			return eris.Wrap(err, "save certainty table")
		}
		zap.L().Info("certainty table imported", zap.String("path", certaintyImportFile), zap.Int("sources", len(table)))
		return nil
	},
}

// loadCertaintyTable resolves the table through the configured source, or
// returns the built-in table.
func loadCertaintyTable(cmd *cobra.Command, builtin bool) (model.CertaintyTable, error) {
	if builtin {
		return certainty.DefaultTable(), nil
	}
	ctx := cmd.Context()

	switch cfg.Certainty.Source {
	case "store", "":
		if err := cfg.Validate("store"); err != nil {
			return nil, err
		}
		st, err := initStore(ctx)
		if err != nil {
			return nil, err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return nil, eris.Wrap(err, "migrate store")
		}
		return certainty.NewCalculator(st).Table(ctx), nil
	default:
		calc, err := initCalculator(nil)
		if err != nil {
			return nil, err
		}
		return calc.Table(ctx), nil
	}
}

func init() {
	certaintyShowCmd.Flags().BoolVar(&certaintyShowBuiltin, "builtin", false, "use the built-in table")
	certaintyExportCmd.Flags().BoolVar(&certaintyShowBuiltin, "builtin", false, "use the built-in table")
	certaintyExportCmd.Flags().StringVar(&certaintyExportOut, "out", "certainty.yaml", "output YAML path")
	certaintyImportCmd.Flags().StringVar(&certaintyImportFile, "file", "", "YAML table to import")
	_ = certaintyImportCmd.MarkFlagRequired("file")

	certaintyCmd.AddCommand(certaintyShowCmd, certaintyExportCmd, certaintyImportCmd)
	rootCmd.AddCommand(certaintyCmd)
}
