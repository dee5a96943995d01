package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/phonetrust/internal/certainty"
)

var migrateSeedCertainty bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply store migrations",
	Long:  "Creates or upgrades the store schema. With --seed-certainty the built-in certainty table is written when the store has none.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
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
		zap.L().Info("store migrated", zap.String("driver", cfg.Store.Driver))

		if !migrateSeedCertainty {
			return nil
		}
		existing, err := st.LoadCertaintyTable(ctx)
		if err != nil {
			return eris.Wrap(err, "load certainty table")
		}
		if len(existing) > 0 {
			zap.L().Info("certainty table already present, not seeding", zap.Int("sources", len(existing)))
			return nil
		}
		if err := st.SaveCertaintyTable(ctx, certainty.DefaultTable()); err != nil {
			return eris.Wrap(err, "seed certainty table")
		}
		zap.L().Info("certainty table seeded")
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateSeedCertainty, "seed-certainty", false, "write the built-in certainty table if the store has none")
	rootCmd.AddCommand(migrateCmd)
}
