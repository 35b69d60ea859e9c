package app

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/clipgate/clipgate/testing"
)

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatal(err)
		}
	})
}

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("AUTH_ISSUER_URL", "https://idp.example.com/auth/v1")
}

func TestLoadConfigDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, "jwt", cfg.AuthMode)
	assert.Equal(t, "open", cfg.RateLimitFailurePolicy)
	assert.Equal(t, "log", cfg.ConversionQueue)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigRequiresIssuer(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("AUTH_ISSUER_URL", "")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfigValidation(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown driver":     {"STORE_DRIVER": "mysql"},
		"unknown auth mode":  {"AUTH_MODE": "saml"},
		"unknown queue":      {"CONVERSION_QUEUE": "kafka"},
		"asynq without addr": {"CONVERSION_QUEUE": "asynq", "REDIS_ADDR": ""},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			chdir(t, t.TempDir())
			setRequiredEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigSQLite(t *testing.T) {
	chdir(t, t.TempDir())
	setRequiredEnv(t)
	t.Setenv("STORE_DRIVER", "SQLite")
	t.Setenv("SQLITE_PATH", "/tmp/clipgate.db")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, cfg.StoreDriver)
}

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{LogFormat: "json", AppEnv: "production"}, &buf)
	logger.Info("hello")
	logger.Debug("hidden")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "hello", line["msg"])
}
