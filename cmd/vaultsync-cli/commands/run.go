package commands

import (
	"vaultsync-backend/lib/util/serviceutil"
	"vaultsync-backend/services/mirror"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var runDate *string

func init() {
	runDate = runCmd.Flags().String("date", "", "The catalog date to mirror (yyyy-mm-dd), defaults to today.")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run [--date yyyy-mm-dd]",
	Short: "Triggers a mirror run and waits for it to finish.",
	Run: func(cmd *cobra.Command, args []string) {
		body := map[string]string{}
		if *runDate != "" {
			body["date"] = *runDate
		}

		var result mirror.TaskResult
		res, err := client().R().
			SetContext(cmd.Context()).
			SetBody(body).
			SetResult(&result).
			Post("/api/task")
		if err != nil {
			serviceutil.Fatal("failed to reach vaultsyncd", err)
		}
		if res.IsError() {
			fail(res)
		}

		renderResult(result)
	},
}

func renderResult(result mirror.TaskResult) {
	t := newTable()
	t.AppendHeader(table.Row{"run id", "date", "total", "successful", "failed", "message"})
	t.AppendRow(table.Row{
		result.RunID,
		result.Date,
		result.TotalEntries,
		len(result.Successful),
		len(result.Failed),
		result.Message,
	})
	t.Render()

	if len(result.Failed) == 0 {
		return
	}

	failures := newTable()
	failures.AppendHeader(table.Row{"slug", "error"})
	for _, entry := range result.Failed {
		failures.AppendRow(table.Row{entry.Slug, entry.Error})
	}
	failures.Render()
}
