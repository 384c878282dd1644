package commands

import (
	"vaultsync-backend/lib/util/serviceutil"
	"vaultsync-backend/services/mirror"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Shows whether a run is in flight and its download counters.",
	Run: func(cmd *cobra.Command, args []string) {
		var status mirror.Status
		res, err := client().R().
			SetContext(cmd.Context()).
			SetResult(&status).
			Get("/api/status")
		if err != nil {
			serviceutil.Fatal("failed to reach vaultsyncd", err)
		}
		if res.IsError() {
			fail(res)
		}

		t := newTable()
		t.AppendHeader(table.Row{"running", "successful", "failed", "total", "cleanup scheduled"})
		t.AppendRow(table.Row{
			status.IsRunning,
			status.Stats.Successful,
			status.Stats.Failed,
			status.Stats.Total,
			status.HasScheduledCleanup,
		})
		t.Render()
	},
}
