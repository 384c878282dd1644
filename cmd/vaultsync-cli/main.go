package main

import (
	"context"

	"vaultsync-backend/cmd/vaultsync-cli/commands"
	"vaultsync-backend/lib/telemetry"
)

func main() {
	telemetry.SetupFromEnv(context.Background(), "vaultsync-cli")
	telemetry.InitSlog(true)
	commands.ExecuteContext(context.Background())
}
