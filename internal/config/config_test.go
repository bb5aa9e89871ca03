package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, []string{"localhost:9000"}, cfg.Search.Addr)
	assert.Equal(t, "apm_transactions", cfg.Search.TransactionsTable)
	assert.Equal(t, serviceName, cfg.Observability.ServiceName)
	assert.Equal(t, "local", cfg.Observability.Environment)
	assert.False(t, cfg.Observability.NewRelicEnabled())
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("APM_PRIMARY__ENV", "production")
	t.Setenv("APM_SERVER__PORT", "9090")
	t.Setenv("APM_SERVER__REQUEST_TIMEOUT", "15s")
	t.Setenv("APM_SEARCH__ADDR", "ch-1:9000, ch-2:9000")
	t.Setenv("APM_SEARCH__MAX_OPEN_CONNS", "50")
	t.Setenv("APM_SEARCH__BREAKER__FAILURE_RATIO", "0.5")
	t.Setenv("APM_OBSERVABILITY__NEW_RELIC__LICENSE_KEY", "abc")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, []string{"ch-1:9000", "ch-2:9000"}, cfg.Search.Addr)
	assert.Equal(t, 50, cfg.Search.MaxOpenConns)
	assert.Equal(t, 0.5, cfg.Search.Breaker.FailureRatio)
	assert.True(t, cfg.Observability.IsProduction())
	assert.True(t, cfg.Observability.NewRelicEnabled())
	assert.Equal(t, "info", cfg.Observability.GetLogLevel())
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("search:\n  database: traces\nserver:\n  port: \"7070\"\n"), 0o600))

	t.Setenv(ConfigFileEnvVar, path)
	t.Setenv("APM_SERVER__PORT", "6060")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "traces", cfg.Search.Database)
	assert.Equal(t, "6060", cfg.Server.Port, "environment wins over the file")
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	cases := map[string][2]string{
		"unknown env":      {"APM_PRIMARY__ENV", "moon"},
		"bad address":      {"APM_SEARCH__ADDR", "no-port"},
		"bad log level":    {"APM_OBSERVABILITY__LOGGING__LEVEL", "loud"},
		"idle above open":  {"APM_SEARCH__MAX_IDLE_CONNS", "100"},
		"bad failure rate": {"APM_SEARCH__BREAKER__FAILURE_RATIO", "3"},
	}

	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "search.max_open_conns", envKey("APM_SEARCH__MAX_OPEN_CONNS"))
	assert.Equal(t, "observability.new_relic.license_key", envKey("APM_OBSERVABILITY__NEW_RELIC__LICENSE_KEY"))
}
