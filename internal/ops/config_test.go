package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/engine"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Addr)
	assert.Equal(t, "trader_001", cfg.APIKeys["api-key-123"])
	assert.Equal(t, engine.DefaultWorkers, cfg.Engine.Workers)
	assert.Equal(t, engine.DefaultTickInterval, cfg.Engine.TickInterval)
	assert.Nil(t, cfg.Postgres)
	assert.Len(t, cfg.Accounts, 2)
	assert.True(t, cfg.Prices["AAPL"].Equal(decimal.RequireFromString("190.50")))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadMalformedJSON(t *testing.T) {
	path := writeConfig(t, "{not json")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `{
		"server": {
			"addr": ":9100",
			"apiKeys": {"secret": "trader_042"}
		},
		"engine": {
			"workers": 8,
			"queueCapacity": 64,
			"tickIntervalMs": 100,
			"latencyMinMs": 1000,
			"latencyMaxMs": 2000,
			"gracePeriodMs": 500
		},
		"postgres": {"host": "db.internal", "port": 5432, "user": "app", "password": "pw", "database": "trades"},
		"market": {
			"quoteTtlMs": 30000,
			"streamIntervalMs": 2000,
			"prices": {"NVDA": "901.25"}
		},
		"accounts": [{"id": "trader_042", "cash": "2500.50"}]
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.Addr)
	assert.Equal(t, map[string]string{"secret": "trader_042"}, cfg.APIKeys)
	assert.Equal(t, 8, cfg.Engine.Workers)
	assert.Equal(t, 64, cfg.Engine.QueueCapacity)
	assert.Equal(t, 100*time.Millisecond, cfg.Engine.TickInterval)
	assert.Equal(t, time.Second, cfg.Engine.LatencyMin)
	assert.Equal(t, 2*time.Second, cfg.Engine.LatencyMax)
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.GracePeriod)
	require.NotNil(t, cfg.Postgres)
	assert.Equal(t, "db.internal", cfg.Postgres.Host)
	assert.Equal(t, 30*time.Second, cfg.QuoteTTL)
	assert.Equal(t, 2*time.Second, cfg.StreamInterval)
	assert.True(t, cfg.Prices["NVDA"].Equal(decimal.RequireFromString("901.25")))
	require.Len(t, cfg.Accounts, 1)
	assert.Equal(t, "trader_042", cfg.Accounts[0].ID)
	assert.True(t, cfg.Accounts[0].Cash.Equal(decimal.RequireFromString("2500.50")))
}

func TestLoadPartialConfigFillsDefaults(t *testing.T) {
	path := writeConfig(t, `{"server": {"addr": ":9100"}}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.Addr)
	assert.Equal(t, "trader_001", cfg.APIKeys["api-key-123"], "missing api keys fall back to defaults")
	assert.Equal(t, engine.DefaultWorkers, cfg.Engine.Workers)
	assert.Equal(t, 1024, cfg.Engine.QueueCapacity)
	assert.Equal(t, engine.DefaultGracePeriod, cfg.Engine.GracePeriod)
}

func TestLoadRejectsInvertedLatencyBounds(t *testing.T) {
	path := writeConfig(t, `{"engine": {"latencyMinMs": 5000, "latencyMaxMs": 1000}}`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "latencyMaxMs")
}

func TestLoadRejectsBadAccountSeeds(t *testing.T) {
	path := writeConfig(t, `{"accounts": [{"id": "", "cash": "100"}]}`)
	_, err := Load(path)
	assert.Error(t, err)

	path = writeConfig(t, `{"accounts": [{"id": "trader_001", "cash": "-1"}]}`)
	_, err = Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsNegativeSeedPrice(t *testing.T) {
	path := writeConfig(t, `{"market": {"prices": {"AAPL": "-5"}}}`)
	_, err := Load(path)
	assert.Error(t, err)
}
