// Package appconfig holds the configuration plumbing shared by the agroyield
// binaries: environment fallbacks for flags, .env loading, struct
// validation, logger construction and artifact store selection.
//
// Sources, highest precedence first:
//  1. Command-line flags
//  2. Environment variables (including those loaded from .env)
//  3. Default values
package appconfig

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads the given .env files, or ./.env when none are named.
// Missing files are ignored. Variables already set in the environment win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Env returns the value of key, or def when unset or empty.
func Env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// EnvInt is Env for integers. Unparsable values fall back to def.
func EnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return def
}

// EnvUint64 is Env for unsigned integers.
func EnvUint64(key string, def uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64); err == nil {
			return i
		}
	}
	return def
}

// EnvDuration is Env for durations in time.ParseDuration syntax.
func EnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return def
}

// EnvBool accepts "true" and "1" as true; any other non-empty value is false.
func EnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}
