package commands

import (
	"fmt"
	"net/http"

	"vaultsync-backend/lib/util/serviceutil"
	"vaultsync-backend/services/mirror"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(resultsCmd)
}

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Shows the outcome of the most recent persisted run.",
	Run: func(cmd *cobra.Command, args []string) {
		var result mirror.TaskResult
		res, err := client().R().
			SetContext(cmd.Context()).
			SetResult(&result).
			Get("/api/results")
		if err != nil {
			serviceutil.Fatal("failed to reach vaultsyncd", err)
		}
		if res.StatusCode() == http.StatusNotFound {
			fmt.Println("no task results are available yet")
			return
		}
		if res.IsError() {
			fail(res)
		}

		renderResult(result)
	},
}
