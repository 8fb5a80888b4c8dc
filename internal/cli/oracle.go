package cli

import (
	"github.com/spf13/cobra"
)

var oracleCmd = &cobra.Command{
	Use:   "oracle",
	Short: "Inspect or initialize the on-chain price oracle",
}

var oracleShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the latest committed oracle price",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().OracleShow(cmd.Context())
	},
}

var oracleInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the oracle account (solana driver only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().OracleInit(cmd.Context())
	},
}

func init() {
	oracleCmd.AddCommand(oracleShowCmd)
	oracleCmd.AddCommand(oracleInitCmd)
}
