package main

import (
	"context"
	"flag"

	"vaultsync-backend/lib/downloader"
	"vaultsync-backend/lib/recordstore"
	"vaultsync-backend/lib/scrapers/vault"
	"vaultsync-backend/lib/telemetry"
	"vaultsync-backend/lib/util/serviceutil"
	"vaultsync-backend/services/mirror"
	"vaultsync-backend/services/mirror/server"
)

func main() {
	verbose := flag.Bool("v", false, "enable verbose logging")
	flag.Parse()

	ctx := serviceutil.SignalContext()

	config, err := LoadConfig()
	if err != nil {
		serviceutil.Fatal("failed to load configuration", err)
	}

	telemetry.InitSlogConfig(telemetry.SlogConfig{
		Verbose:    config.Verbose || *verbose,
		Format:     config.LogFormat,
		File:       config.LogFile,
		MaxSizeMb:  config.LogMaxSizeMb,
		MaxBackups: config.LogMaxBackups,
		MaxAgeDays: config.LogMaxAgeDays,
	})

	err = telemetry.SetupFromEnv(ctx, "vaultsyncd")
	if err != nil {
		serviceutil.Fatal("failed to setup telemetry", err)
	}
	defer telemetry.Shutdown(context.Background())
	telemetry.InstrumentPerfStats(ctx)

	db, err := recordstore.Open(config.StoreDSN)
	if err != nil {
		serviceutil.Fatal("failed to open record store", err)
	}

	service := mirror.NewService(mirror.Options{
		NewSession: func() (mirror.Session, error) {
			return vault.NewSession(vault.Options{
				BaseURL: config.BaseURL,
				Driver: vault.NewChromeDriver(vault.ChromeOptions{
					Headless:      config.Headless,
					ActionTimeout: config.NavigationTimeout,
				}),
			})
		},
		NewFetcher: func() (mirror.Fetcher, error) {
			return downloader.NewManager(downloader.Options{
				BaseURL:       config.BaseURL,
				Dir:           config.DownloadDir,
				PublicBaseURL: config.PublicBaseURL,
				Timeout:       config.DownloadTimeout,
			})
		},
		Store:        recordstore.NewStore(db),
		DownloadDir:  config.DownloadDir,
		Username:     config.Username,
		Password:     config.Password,
		DataExport:   config.DataExport,
		ErrorExport:  config.ErrorExport,
		CleanupDelay: config.CleanupDelay,
	})

	router := server.NewRouter(service, config.DownloadDir)
	serviceutil.StartHttpServer(ctx, config.HTTPPort, router)
}
