package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"vaultsync-backend/lib/util/serviceutil"

	"github.com/go-resty/resty/v2"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "vaultsync-cli",
	Short: "vaultsync-cli drives a vaultsyncd instance over its http api.",
}

var addr *string

func init() {
	addr = rootCmd.PersistentFlags().String("addr", "http://localhost:9160", "The base URL of the vaultsyncd api.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func client() *resty.Client {
	return resty.New().SetBaseURL(*addr)
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}

type apiError struct {
	Error string `json:"error"`
	RunID string `json:"run_id"`
}

// prints the api's error payload and exits
func fail(res *resty.Response) {
	var payload apiError
	err := json.Unmarshal(res.Body(), &payload)
	if err != nil || payload.Error == "" {
		serviceutil.Fatal("request failed", fmt.Errorf("status %s", res.Status()))
	}
	if payload.RunID != "" {
		slog.Error("request failed", "status", res.Status(), "err", payload.Error, "run_id", payload.RunID)
	} else {
		slog.Error("request failed", "status", res.Status(), "err", payload.Error)
	}
	os.Exit(1)
}
