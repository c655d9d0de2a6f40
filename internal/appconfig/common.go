package appconfig

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	agrotls "github.com/HatiCode/agroyield/pkg/tls"
)

// Storage backends.
const (
	StorageFile   = "file"
	StorageMemory = "memory"
	StorageRedis  = "redis"
)

// Common is the configuration every binary shares.
type Common struct {
	LogFormat string `validate:"oneof=text json"`
	LogLevel  string `validate:"oneof=debug info warn error"`

	Storage       string        `validate:"oneof=file memory redis"`
	ArtifactDir   string        `validate:"required_if=Storage file"`
	RedisAddr     string        `validate:"required_if=Storage redis"`
	RedisPassword string
	RedisDB       int           `validate:"gte=0"`
	RedisTTL      time.Duration `validate:"gte=0"`
}

// Register defines the shared flags on fs with env fallbacks.
func (c *Common) Register(fs *flag.FlagSet) {
	fs.StringVar(&c.LogFormat, "log-format", Env("LOG_FORMAT", "text"), "Log format: text or json")
	fs.StringVar(&c.LogLevel, "log-level", Env("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	fs.StringVar(&c.Storage, "storage", Env("STORAGE", StorageFile), "Artifact storage: file, memory or redis")
	fs.StringVar(&c.ArtifactDir, "artifact-dir", Env("ARTIFACT_DIR", "./artifacts"), "Artifact directory for file storage")
	fs.StringVar(&c.RedisAddr, "redis-addr", Env("REDIS_ADDR", "localhost:6379"), "Redis server address")
	fs.StringVar(&c.RedisPassword, "redis-password", Env("REDIS_PASSWORD", ""), "Redis password")
	fs.IntVar(&c.RedisDB, "redis-db", EnvInt("REDIS_DB", 0), "Redis database number")
	fs.DurationVar(&c.RedisTTL, "redis-ttl", EnvDuration("REDIS_TTL", 0), "Redis artifact TTL (0 keeps artifacts forever)")
}

// RegisterTLS defines the TLS flags with prefix, e.g. "tls" or "imagery-tls".
func RegisterTLS(fs *flag.FlagSet, c *agrotls.Config, prefix, envPrefix string) {
	fs.BoolVar(&c.Enabled, prefix+"-enabled", EnvBool(envPrefix+"_ENABLED", false), "Enable TLS")
	fs.StringVar(&c.CertFile, prefix+"-cert-file", Env(envPrefix+"_CERT_FILE", ""), "TLS certificate file")
	fs.StringVar(&c.KeyFile, prefix+"-key-file", Env(envPrefix+"_KEY_FILE", ""), "TLS private key file")
	fs.StringVar(&c.CAFile, prefix+"-ca-file", Env(envPrefix+"_CA_FILE", ""), "TLS CA certificate file")
}

var validate = sync.OnceValue(func() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
})

// Validate checks v's validate tags and reports every failing field.
func Validate(v any) error {
	err := validate().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}
