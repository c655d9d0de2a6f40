// Package config parses the yieldserver's flags and environment.
//
// Every flag falls back to an environment variable of the same name in upper
// snake case (-listen → LISTEN, -imagery-token → IMAGERY_TOKEN). A .env file
// in the working directory is loaded first when present.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/HatiCode/agroyield/internal/appconfig"
	"github.com/HatiCode/agroyield/pkg/imagery"
	agrotls "github.com/HatiCode/agroyield/pkg/tls"
)

// Config holds the server configuration.
type Config struct {
	appconfig.Common

	Listen         string        `validate:"required"`
	DrainTimeout   time.Duration `validate:"gt=0"`
	MaxBodyBytes   int64         `validate:"gte=1024"`
	RequestTimeout time.Duration `validate:"gt=0"`
	ReloadInterval time.Duration `validate:"gte=0"`
	ZoneSeed       uint64

	TLS     agrotls.Config
	Imagery imagery.Config
}

// Parse reads args (without the program name) into a validated Config.
func Parse(args []string) (*Config, error) {
	if err := appconfig.LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	fs := flag.NewFlagSet("yieldserver", flag.ContinueOnError)
	cfg.Common.Register(fs)
	appconfig.RegisterTLS(fs, &cfg.TLS, "tls", "TLS")

	fs.StringVar(&cfg.Listen, "listen", appconfig.Env("LISTEN", ":8080"), "HTTP listen address")
	fs.DurationVar(&cfg.DrainTimeout, "drain-timeout", appconfig.EnvDuration("DRAIN_TIMEOUT", 10*time.Second), "Time allowed for in-flight requests on shutdown")
	fs.Int64Var(&cfg.MaxBodyBytes, "max-body-bytes", int64(appconfig.EnvInt("MAX_BODY_BYTES", 64<<20)), "Maximum request body size")
	fs.DurationVar(&cfg.RequestTimeout, "request-timeout", appconfig.EnvDuration("REQUEST_TIMEOUT", 60*time.Second), "Deadline for a single predict or analyze request")
	fs.DurationVar(&cfg.ReloadInterval, "reload-interval", appconfig.EnvDuration("RELOAD_INTERVAL", 0), "Reload artifacts from storage at this interval (0 disables)")
	fs.Uint64Var(&cfg.ZoneSeed, "zone-seed", appconfig.EnvUint64("ZONE_SEED", 42), "Seed for management zone clustering")

	im := &cfg.Imagery
	fs.StringVar(&im.BaseURL, "imagery-url", appconfig.Env("IMAGERY_URL", ""), "Imagery service base URL (imagery disabled when empty)")
	fs.StringVar(&im.Token, "imagery-token", appconfig.Env("IMAGERY_TOKEN", ""), "Imagery service bearer token")
	fs.StringVar(&im.HistoryPath, "imagery-history-path", appconfig.Env("IMAGERY_HISTORY_PATH", imagery.DefaultHistoryPath), "History endpoint template ({{.FarmID}}, {{.Before}})")
	fs.StringVar(&im.IDPath, "imagery-id-path", appconfig.Env("IMAGERY_ID_PATH", imagery.DefaultIDPath), "gjson path to image ids in history responses")
	fs.StringVar(&im.TimePath, "imagery-time-path", appconfig.Env("IMAGERY_TIME_PATH", imagery.DefaultTimePath), "gjson path to acquisition times")
	fs.StringVar(&im.URIPath, "imagery-uri-path", appconfig.Env("IMAGERY_URI_PATH", imagery.DefaultURIPath), "gjson path to raster locations")
	fs.StringVar(&im.TimeFormat, "imagery-time-format", appconfig.Env("IMAGERY_TIME_FORMAT", "rfc3339"), "Acquisition time format: rfc3339, unix or unix_milli")
	fs.DurationVar(&im.Timeout, "imagery-timeout", appconfig.EnvDuration("IMAGERY_TIMEOUT", imagery.DefaultTimeout), "Imagery request timeout")
	appconfig.RegisterTLS(fs, &im.TLS, "imagery-tls", "IMAGERY_TLS")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := appconfig.Validate(cfg); err != nil {
		return nil, err
	}
	if err := cfg.TLS.Validate(); err != nil {
		return nil, fmt.Errorf("tls: %w", err)
	}
	if cfg.TLS.Enabled && (cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "") {
		return nil, fmt.Errorf("tls: -tls-cert-file and -tls-key-file are required when TLS is enabled")
	}
	if err := cfg.Imagery.TLS.Validate(); err != nil {
		return nil, fmt.Errorf("imagery tls: %w", err)
	}
	return cfg, nil
}
