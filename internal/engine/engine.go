package engine

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"main/internal/broadcast"
	"main/internal/bus"
	"main/internal/ledger"
	"main/internal/obs"
	"main/internal/trade"
)

var (
	ErrInvalidOrder  = errors.New("invalid order")
	ErrEngineStopped = errors.New("engine stopped")
)

const (
	DefaultWorkers      = 5
	DefaultTickInterval = 500 * time.Millisecond
	DefaultGracePeriod  = time.Second
)

// Event is the wire shape of progress, completion and failure messages.
// Progress is a percentage in [0, 100] rounded to 2 decimals.
type Event struct {
	Event     string  `json:"event"`
	TradeID   string  `json:"tradeId"`
	AccountID string  `json:"accountId"`
	Symbol    string  `json:"symbol"`
	Quantity  int64   `json:"quantity"`
	Progress  float64 `json:"progress"`
	Status    string  `json:"status"`
	Reason    string  `json:"reason,omitempty"`
}

const (
	EventTradeProgress  = "trade_progress"
	EventTradeCompleted = "trade_completed"
	EventTradeFailed    = "trade_failed"
)

// Notifier is invoked once per successfully settled trade.
type Notifier interface {
	TradeSettled(ctx context.Context, t *trade.Trade, result ledger.SettlementResult)
}

// Config defines the engine runtime knobs.
type Config struct {
	Workers       int
	QueueCapacity int
	TickInterval  time.Duration
	LatencyMin    time.Duration
	LatencyMax    time.Duration
	GracePeriod   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	return c
}

// Engine owns the order queue and the worker pool. Workers dequeue trades,
// drive them through the state machine while broadcasting progress, and
// invoke ledger settlement plus notification on completion.
type Engine struct {
	cfg      Config
	queue    *bus.Queue
	ledger   *ledger.Ledger
	registry *broadcast.Registry
	notifier Notifier
	metrics  *obs.Metrics

	mu       sync.Mutex
	started  bool
	stopping chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New wires an engine. The notifier and metrics may be nil.
func New(cfg Config, led *ledger.Ledger, registry *broadcast.Registry, notifier Notifier, metrics *obs.Metrics) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:      cfg,
		queue:    bus.NewQueue(cfg.QueueCapacity),
		ledger:   led,
		registry: registry,
		notifier: notifier,
		metrics:  metrics,
		stopping: make(chan struct{}),
	}
}

// Start spawns the worker pool. It is a no-op when already started.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker(ctx, i)
	}
	logs.Infof("execution engine started with %d workers", e.cfg.Workers)
}

// Submit validates the order, wraps it into a trade and enqueues it. The
// returned id identifies the trade in later progress events.
func (e *Engine) Submit(accountID, symbol string, quantity int64, side trade.Side, price decimal.Decimal) (string, error) {
	select {
	case <-e.stopping:
		return "", ErrEngineStopped
	default:
	}

	t, err := trade.New(trade.Params{
		AccountID:  accountID,
		Symbol:     symbol,
		Quantity:   quantity,
		Side:       side,
		Price:      price,
		LatencyMin: e.cfg.LatencyMin,
		LatencyMax: e.cfg.LatencyMax,
	})
	if err != nil {
		return "", errors.Join(ErrInvalidOrder, err)
	}
	if err := e.queue.Enqueue(t); err != nil {
		e.metrics.IncQueueDrop()
		return "", err
	}
	e.metrics.IncSubmitted()
	return t.ID, nil
}

// Drain blocks until all currently queued and in-flight trades reach a
// terminal state.
func (e *Engine) Drain(ctx context.Context) error {
	return e.queue.Join(ctx)
}

// Shutdown stops accepting orders, grants in-flight trades a grace period,
// then cancels the workers and awaits their termination. It is idempotent;
// trades still mid-flight after the grace period are abandoned.
func (e *Engine) Shutdown(ctx context.Context) {
	e.stopOnce.Do(func() {
		close(e.stopping)
		e.queue.Close()

		done := make(chan struct{})
		go func() {
			e.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(e.cfg.GracePeriod):
		case <-ctx.Done():
		}

		e.mu.Lock()
		if e.cancel != nil {
			e.cancel()
		}
		e.mu.Unlock()
		e.wg.Wait()
		logs.Infof("execution engine shut down")
	})
}

func (e *Engine) worker(ctx context.Context, id int) {
	defer e.wg.Done()
	for {
		t, err := e.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		e.execute(ctx, id, t)
		e.queue.Done()
	}
}

// execute drives one trade end-to-end. It never lets an error escape: a
// panicking trade is logged and marked done by the caller, so one bad trade
// cannot kill a worker or stall the queue.
func (e *Engine) execute(ctx context.Context, workerID int, t *trade.Trade) {
	defer func() {
		if r := recover(); r != nil {
			logs.Errorf("worker %d: trade %s panicked: %v", workerID, t.ID, r)
		}
	}()

	began := time.Now()
	if err := t.Start(); err != nil {
		logs.Errorf("worker %d: start trade %s: %v", workerID, t.ID, err)
		return
	}

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	for t.Progress() < 1.0 {
		select {
		case <-ctx.Done():
			e.metrics.IncAbandoned()
			logs.Warnf("worker %d: trade %s abandoned on shutdown", workerID, t.ID)
			return
		case <-ticker.C:
		}
		e.publishProgress(t, EventTradeProgress)
	}

	// Settle while still in_progress: a rejection must be able to
	// transition the trade to failed, and fail is only valid from there.
	settleStart := time.Now()
	result, err := e.ledger.Settle(ctx, t.AccountID, t.Side, t.Symbol, t.Quantity, t.Price)
	e.metrics.ObserveSettlement(time.Since(settleStart))
	if err != nil {
		e.rejectTrade(t, err)
		e.metrics.ObserveExecution(time.Since(began))
		return
	}

	if err := t.Complete(); err != nil {
		logs.Errorf("worker %d: complete trade %s: %v", workerID, t.ID, err)
		return
	}

	e.publishProgress(t, EventTradeCompleted)
	e.metrics.IncCompleted()
	e.metrics.ObserveExecution(time.Since(began))
	if e.notifier != nil {
		e.notifier.TradeSettled(ctx, t, result)
	}
}

// rejectTrade converts a settlement rejection into trade state plus a
// failure event. Business rejections never propagate out of the worker.
func (e *Engine) rejectTrade(t *trade.Trade, cause error) {
	if failErr := t.Fail(cause.Error()); failErr != nil {
		logs.Errorf("fail trade %s: %v", t.ID, failErr)
	}
	e.metrics.IncFailed()
	event := e.event(t, EventTradeFailed)
	event.Reason = cause.Error()
	e.registry.Broadcast(event)
	logs.Warnf("trade %s failed: %v", t.ID, cause)
}

// publishProgress fans the current progress out to every subscriber.
// Everyone sees market activity; failures are also reported explicitly.
func (e *Engine) publishProgress(t *trade.Trade, name string) {
	e.registry.Broadcast(e.event(t, name))
}

func (e *Engine) event(t *trade.Trade, name string) Event {
	return Event{
		Event:     name,
		TradeID:   t.ID,
		AccountID: t.AccountID,
		Symbol:    t.Symbol,
		Quantity:  t.Quantity,
		Progress:  roundProgress(t.Progress()),
		Status:    string(t.Status()),
	}
}

// roundProgress converts [0,1] to a percentage rounded to 2 decimals.
func roundProgress(p float64) float64 {
	return math.Round(p*10000) / 100
}
