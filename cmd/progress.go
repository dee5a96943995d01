package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/phonetrust/internal/trust"
)

var (
	progressPhone string
	progressUser  string
)

var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Show the validation progress of a phone for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}
		phone, err := trust.NormalizePhone(progressPhone)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		state, err := st.GetState(ctx, phone, progressUser)
		if err != nil {
			return eris.Wrap(err, "load state")
		}
		return printJSON(cmd.OutOrStdout(), trust.GetValidationProgress(state))
	},
}

func init() {
	progressCmd.Flags().StringVar(&progressPhone, "phone", "", "phone number")
	progressCmd.Flags().StringVar(&progressUser, "user", "", "user id")
	_ = progressCmd.MarkFlagRequired("phone")
	_ = progressCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(progressCmd)
}
