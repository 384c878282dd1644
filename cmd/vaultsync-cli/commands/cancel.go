package commands

import (
	"fmt"

	"vaultsync-backend/lib/util/serviceutil"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(cancelCmd)
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancels the in-flight run, if any.",
	Run: func(cmd *cobra.Command, args []string) {
		var payload struct {
			Cancelled bool   `json:"cancelled"`
			Message   string `json:"message"`
		}
		res, err := client().R().
			SetContext(cmd.Context()).
			SetResult(&payload).
			Delete("/api/task")
		if err != nil {
			serviceutil.Fatal("failed to reach vaultsyncd", err)
		}
		if res.IsError() {
			fail(res)
		}

		fmt.Println(payload.Message)
	},
}
