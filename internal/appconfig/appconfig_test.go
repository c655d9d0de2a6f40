package appconfig

import (
	"bytes"
	"flag"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/HatiCode/agroyield/pkg/storage"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("AGRO_TEST_INT", "7")
	t.Setenv("AGRO_TEST_BAD_INT", "seven")
	t.Setenv("AGRO_TEST_DUR", "90s")
	t.Setenv("AGRO_TEST_BOOL", "1")
	t.Setenv("AGRO_TEST_SEED", "123")

	if got := Env("AGRO_TEST_UNSET", "def"); got != "def" {
		t.Errorf("Env() = %q", got)
	}
	if got := EnvInt("AGRO_TEST_INT", 1); got != 7 {
		t.Errorf("EnvInt() = %d", got)
	}
	if got := EnvInt("AGRO_TEST_BAD_INT", 1); got != 1 {
		t.Errorf("EnvInt(bad) = %d, want default", got)
	}
	if got := EnvDuration("AGRO_TEST_DUR", time.Second); got != 90*time.Second {
		t.Errorf("EnvDuration() = %v", got)
	}
	if !EnvBool("AGRO_TEST_BOOL", false) {
		t.Error("EnvBool() = false")
	}
	if got := EnvUint64("AGRO_TEST_SEED", 42); got != 123 {
		t.Errorf("EnvUint64() = %d", got)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("AGRO_DOTENV_VALUE=from-file\nAGRO_DOTENV_SET=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AGRO_DOTENV_SET", "from-env")
	t.Cleanup(func() { os.Unsetenv("AGRO_DOTENV_VALUE") })

	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if got := os.Getenv("AGRO_DOTENV_VALUE"); got != "from-file" {
		t.Errorf("AGRO_DOTENV_VALUE = %q", got)
	}
	if got := os.Getenv("AGRO_DOTENV_SET"); got != "from-env" {
		t.Errorf("existing variable overwritten: %q", got)
	}
}

func parseCommon(t *testing.T, args ...string) Common {
	t.Helper()
	var c Common
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.Register(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestCommon_Validate(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"defaults", nil, ""},
		{"redis", []string{"-storage=redis", "-redis-addr=cache:6379"}, ""},
		{"bad format", []string{"-log-format=xml"}, "LogFormat"},
		{"bad level", []string{"-log-level=trace"}, "LogLevel"},
		{"bad storage", []string{"-storage=s3"}, "Storage"},
		{"file without dir", []string{"-artifact-dir="}, "ArtifactDir"},
		{"redis without addr", []string{"-storage=redis", "-redis-addr="}, "RedisAddr"},
		{"negative db", []string{"-redis-db=-1"}, "RedisDB"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := parseCommon(t, tt.args...)
			err := Validate(c)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Common{LogFormat: "json", LogLevel: "warn"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "family", "random_forest")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info line logged at warn level")
	}
	if !strings.Contains(out, `"family":"random_forest"`) {
		t.Errorf("json output = %q", out)
	}
}

func TestOpenStore(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, closeFn, err := OpenStore(Common{Storage: StorageMemory}, logger)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*storage.MemoryStore); !ok {
		t.Errorf("memory backend = %T", s)
	}
	if err := closeFn(); err != nil {
		t.Error(err)
	}

	dir := filepath.Join(t.TempDir(), "artifacts")
	s, _, err = OpenStore(Common{Storage: StorageFile, ArtifactDir: dir}, logger)
	if err != nil {
		t.Fatal(err)
	}
	if fs, ok := s.(*storage.FileStore); !ok || fs.Dir() != dir {
		t.Errorf("file backend = %T", s)
	}

	if _, _, err := OpenStore(Common{Storage: "s3"}, logger); err == nil {
		t.Error("unknown backend accepted")
	}
}
