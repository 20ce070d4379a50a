package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"main/internal/api"
	"main/internal/broadcast"
	"main/internal/engine"
	"main/internal/ledger"
	"main/internal/market"
	"main/internal/notify"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/store"
)

const shutdownTimeout = 10 * time.Second

type noopLogger struct{}

func (noopLogger) Infof(string, ...interface{})  {}
func (noopLogger) Debugf(string, ...interface{}) {}
func (noopLogger) Errorf(string, ...interface{}) {}

func main() {
	configPath := flag.String("config", "", "Path to JSON config")
	flag.Parse()

	cfg, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if cfg.Profiling.Enabled {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "trade-engine",
			ServerAddress:   cfg.Profiling.ServerAddress,
			Logger:          noopLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	var st store.Store
	if cfg.Postgres != nil {
		pg, err := store.NewPostgres(*cfg.Postgres)
		if err != nil {
			log.Fatalf("postgres open failed: %v", err)
		}
		defer func() {
			_ = pg.Close()
		}()
		st = pg
	} else {
		logs.Warnf("no postgres configured, using in-memory store")
		st = store.NewMemory()
	}

	static := market.NewStatic(cfg.Prices)
	prices := market.NewCache(func(_ context.Context, symbol string) (decimal.Decimal, error) {
		return static.CurrentPrice(symbol)
	}, cfg.QuoteTTL)

	led := ledger.New(prices, st)
	seedAccounts(led, st, cfg.Accounts)

	registry := broadcast.NewRegistry()
	notifier := notify.NewService(st, registry, notify.LogPusher{})
	metrics := obs.NewMetrics()
	eng := engine.New(cfg.Engine, led, registry, notifier, metrics)
	eng.Start()

	serverCtx, stopStreams := context.WithCancel(context.Background())
	defer stopStreams()

	streamer := market.NewStreamer(prices, registry, cfg.StreamInterval)
	server := api.NewServer(serverCtx, eng, led, st, registry, streamer, prices, cfg.APIKeys)

	httpServer := &http.Server{Addr: cfg.Addr, Handler: server.Router()}
	go func() {
		logs.Infof("listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	<-sys.Shutdown()
	logs.Infof("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logs.Errorf("http shutdown: %v", err)
	}
	stopStreams()
	eng.Shutdown(ctx)

	snapshot := metrics.Snapshot()
	logs.Infof("metrics: submitted=%d completed=%d failed=%d abandoned=%d drops=%d settle=%+v",
		snapshot.TradesSubmitted, snapshot.TradesCompleted, snapshot.TradesFailed,
		snapshot.TradesAbandoned, snapshot.QueueDrops, snapshot.SettlementLatency)
}

func seedAccounts(led *ledger.Ledger, st store.Store, seeds []ops.AccountSeed) {
	ctx := context.Background()
	for _, seed := range seeds {
		account, err := st.LoadAccount(ctx, seed.ID)
		if err == nil {
			led.Restore(account)
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			logs.Errorf("load account %s: %v", seed.ID, err)
			continue
		}
		created := led.CreateAccount(seed.ID, seed.Cash)
		if err := st.SaveAccount(ctx, created); err != nil {
			logs.Errorf("seed account %s: %v", seed.ID, err)
		}
	}
}
