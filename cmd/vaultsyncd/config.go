package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is read from VAULT_* environment variables, with an optional
// .env file for development.
type Config struct {
	// where the vault lives, e.g. https://vault.example.com
	BaseURL string `envconfig:"BASE_URL" validate:"required,url"`
	// member credentials, held in memory for the life of the process
	// and handed to the browser session on every run
	Username string `validate:"required"`
	Password string `validate:"required"`

	HTTPPort    int    `envconfig:"HTTP_PORT" default:"9160" validate:"gt=0,lte=65535"`
	DownloadDir string `split_words:"true" default:"./downloads"`
	// base of the file URLs stamped onto results, e.g. the reverse
	// proxy in front of this service
	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL" validate:"omitempty,url"`
	// sqlite file path or libsql:// url
	StoreDSN    string `envconfig:"STORE_DSN" default:"./vaultsync.db"`
	DataExport  string `split_words:"true" default:"./exports/data.csv"`
	ErrorExport string `split_words:"true" default:"./exports/errors.csv"`

	NavigationTimeout time.Duration `split_words:"true" default:"30s"`
	DownloadTimeout   time.Duration `split_words:"true" default:"5m"`
	CleanupDelay      time.Duration `split_words:"true" default:"1h"`
	Headless          bool          `default:"true"`

	Verbose       bool   `default:"false"`
	LogFormat     string `split_words:"true" default:"text" validate:"oneof=text json"`
	LogFile       string `split_words:"true"`
	LogMaxSizeMb  int    `envconfig:"LOG_MAX_SIZE_MB" default:"64"`
	LogMaxBackups int    `split_words:"true" default:"3"`
	LogMaxAgeDays int    `envconfig:"LOG_MAX_AGE_DAYS" default:"30"`
}

func LoadConfig() (Config, error) {
	err := godotenv.Load()
	if err != nil {
		slog.Debug("no .env file loaded", "err", err)
	}

	var cfg Config
	err = envconfig.Process("vault", &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("failed to process environment variables: %w", err)
	}

	err = validator.New().Struct(cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}
