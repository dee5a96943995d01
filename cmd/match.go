package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/phonetrust/internal/namematch"
)

var matchCmd = &cobra.Command{
	Use:   "match NAME1 NAME2",
	Short: "Score how likely two person names refer to the same person",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		res := namematch.Match(args[0], args[1])
		return printJSON(cmd.OutOrStdout(), struct {
			namematch.Result
			Normalized [2]string `json:"normalized"`
		}{res, [2]string{namematch.Normalize(args[0]), namematch.Normalize(args[1])}})
	},
}

func init() {
	rootCmd.AddCommand(matchCmd)
}
