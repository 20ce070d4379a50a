package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"main/internal/engine"
	"main/internal/market"
	"main/internal/store"
	"main/internal/trade"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Server    ServerConfig    `json:"server"`
	Engine    EngineConfig    `json:"engine"`
	Postgres  *store.Option   `json:"postgres"`
	Market    MarketConfig    `json:"market"`
	Accounts  []AccountSeed   `json:"accounts"`
	Profiling ProfilingConfig `json:"profiling"`
}

// ServerConfig defines the HTTP listener and the api-key → account map.
type ServerConfig struct {
	Addr    string            `json:"addr"`
	APIKeys map[string]string `json:"apiKeys"`
}

// EngineConfig defines the worker pool knobs, in milliseconds.
type EngineConfig struct {
	Workers        int `json:"workers"`
	QueueCapacity  int `json:"queueCapacity"`
	TickIntervalMs int `json:"tickIntervalMs"`
	LatencyMinMs   int `json:"latencyMinMs"`
	LatencyMaxMs   int `json:"latencyMaxMs"`
	GracePeriodMs  int `json:"gracePeriodMs"`
}

// MarketConfig defines quote caching, streaming and the seeded price table.
type MarketConfig struct {
	QuoteTTLMs       int                        `json:"quoteTtlMs"`
	StreamIntervalMs int                        `json:"streamIntervalMs"`
	Prices           map[string]decimal.Decimal `json:"prices"`
}

// AccountSeed is an account created at startup when the store has none.
type AccountSeed struct {
	ID   string          `json:"id"`
	Cash decimal.Decimal `json:"cash"`
}

// ProfilingConfig controls the optional pyroscope profiler.
type ProfilingConfig struct {
	Enabled       bool   `json:"enabled"`
	ServerAddress string `json:"serverAddress"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Addr           string
	APIKeys        map[string]string
	Engine         engine.Config
	Postgres       *store.Option
	QuoteTTL       time.Duration
	StreamInterval time.Duration
	Prices         map[string]decimal.Decimal
	Accounts       []AccountSeed
	Profiling      ProfilingConfig
}

// Load reads a JSON config file and resolves defaults. An empty path
// yields the default configuration.
func Load(path string) (Loaded, error) {
	if path == "" {
		return defaults(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, err
	}
	return resolve(cfg)
}

func defaults() Loaded {
	return Loaded{
		Addr: ":8000",
		APIKeys: map[string]string{
			"api-key-123": "trader_001",
			"api-key-456": "trader_002",
		},
		Engine: engine.Config{
			Workers:       engine.DefaultWorkers,
			QueueCapacity: 1024,
			TickInterval:  engine.DefaultTickInterval,
			LatencyMin:    trade.DefaultLatencyMin,
			LatencyMax:    trade.DefaultLatencyMax,
			GracePeriod:   engine.DefaultGracePeriod,
		},
		QuoteTTL:       market.DefaultQuoteTTL,
		StreamInterval: market.DefaultStreamInterval,
		Prices: map[string]decimal.Decimal{
			"AAPL": decimal.RequireFromString("190.50"),
			"GOOG": decimal.RequireFromString("141.20"),
			"TSLA": decimal.RequireFromString("244.75"),
		},
		Accounts: []AccountSeed{
			{ID: "trader_001", Cash: decimal.NewFromInt(10_000)},
			{ID: "trader_002", Cash: decimal.NewFromInt(10_000)},
		},
	}
}

func resolve(cfg FileConfig) (Loaded, error) {
	def := defaults()
	loaded := Loaded{
		Addr:           cfg.Server.Addr,
		APIKeys:        cfg.Server.APIKeys,
		Postgres:       cfg.Postgres,
		Prices:         cfg.Market.Prices,
		Accounts:       cfg.Accounts,
		Profiling:      cfg.Profiling,
		QuoteTTL:       msOrDefault(cfg.Market.QuoteTTLMs, def.QuoteTTL),
		StreamInterval: msOrDefault(cfg.Market.StreamIntervalMs, def.StreamInterval),
		Engine: engine.Config{
			Workers:       cfg.Engine.Workers,
			QueueCapacity: cfg.Engine.QueueCapacity,
			TickInterval:  msOrDefault(cfg.Engine.TickIntervalMs, def.Engine.TickInterval),
			LatencyMin:    msOrDefault(cfg.Engine.LatencyMinMs, def.Engine.LatencyMin),
			LatencyMax:    msOrDefault(cfg.Engine.LatencyMaxMs, def.Engine.LatencyMax),
			GracePeriod:   msOrDefault(cfg.Engine.GracePeriodMs, def.Engine.GracePeriod),
		},
	}
	if loaded.Addr == "" {
		loaded.Addr = def.Addr
	}
	if len(loaded.APIKeys) == 0 {
		loaded.APIKeys = def.APIKeys
	}
	if loaded.Engine.Workers <= 0 {
		loaded.Engine.Workers = def.Engine.Workers
	}
	if loaded.Engine.QueueCapacity <= 0 {
		loaded.Engine.QueueCapacity = def.Engine.QueueCapacity
	}
	if loaded.Engine.LatencyMax < loaded.Engine.LatencyMin {
		return Loaded{}, fmt.Errorf("latencyMaxMs must be >= latencyMinMs")
	}
	for _, seed := range cfg.Accounts {
		if seed.ID == "" {
			return Loaded{}, fmt.Errorf("account seed with empty id")
		}
		if seed.Cash.IsNegative() {
			return Loaded{}, fmt.Errorf("account %s seeded with negative cash", seed.ID)
		}
	}
	for symbol, price := range cfg.Market.Prices {
		if price.IsNegative() {
			return Loaded{}, fmt.Errorf("negative seed price for %s", symbol)
		}
	}
	return loaded, nil
}

func msOrDefault(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
