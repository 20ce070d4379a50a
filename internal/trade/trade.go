package trade

import (
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidQuantity   = errors.New("trade quantity must be > 0")
	ErrInvalidSide       = errors.New("invalid trade side")
	ErrNegativePrice     = errors.New("trade price must be >= 0")
	ErrInvalidTransition = errors.New("invalid trade state transition")
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Status tracks the lifecycle of a trade.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

const (
	DefaultLatencyMin = 3 * time.Second
	DefaultLatencyMax = 6 * time.Second
)

// Params defines a new trade. Latency and Clock are optional: a zero
// Latency draws a random duration from [LatencyMin, LatencyMax], and a
// nil Clock uses time.Now.
type Params struct {
	AccountID  string
	Symbol     string
	Quantity   int64
	Side       Side
	Price      decimal.Decimal
	Latency    time.Duration
	LatencyMin time.Duration
	LatencyMax time.Duration
	Clock      func() time.Time
}

// Trade is a single buy/sell order moving through execution.
type Trade struct {
	ID        string
	AccountID string
	Symbol    string
	Quantity  int64
	Side      Side
	Price     decimal.Decimal

	mu         sync.Mutex
	status     Status
	startedAt  time.Time
	latency    time.Duration
	failReason string
	lastKnown  float64
	clock      func() time.Time
}

// New validates params and creates a trade in the queued state.
func New(p Params) (*Trade, error) {
	if p.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if p.Side != SideBuy && p.Side != SideSell {
		return nil, ErrInvalidSide
	}
	if p.Price.IsNegative() {
		return nil, ErrNegativePrice
	}
	latency := p.Latency
	if latency <= 0 {
		latency = drawLatency(p.LatencyMin, p.LatencyMax)
	}
	clock := p.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Trade{
		ID:        uuid.NewString(),
		AccountID: p.AccountID,
		Symbol:    p.Symbol,
		Quantity:  p.Quantity,
		Side:      p.Side,
		Price:     p.Price,
		status:    StatusQueued,
		latency:   latency,
		clock:     clock,
	}, nil
}

func drawLatency(min, max time.Duration) time.Duration {
	if min <= 0 {
		min = DefaultLatencyMin
	}
	if max <= min {
		max = min + (DefaultLatencyMax - DefaultLatencyMin)
	}
	return min + rand.N(max-min)
}

// Status returns the current lifecycle state.
func (t *Trade) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// StartedAt returns the in_progress transition time, zero before Start.
func (t *Trade) StartedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startedAt
}

// Latency returns the dwell time required to reach full progress.
func (t *Trade) Latency() time.Duration {
	return t.latency
}

// FailReason returns the reason recorded by Fail, empty otherwise.
func (t *Trade) FailReason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failReason
}

// Start transitions queued → in_progress and stamps the start time.
// Calling it twice, or from any other state, is a usage error.
func (t *Trade) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusQueued {
		return ErrInvalidTransition
	}
	t.startedAt = t.clock()
	t.status = StatusInProgress
	return nil
}

// Progress reports execution progress in [0, 1]. It is a pure function of
// elapsed time over latency: 0 while queued, 1 once completed, and the
// last observed value after a failure.
func (t *Trade) Progress() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.status {
	case StatusQueued:
		return 0
	case StatusCompleted:
		return 1
	case StatusFailed:
		return t.lastKnown
	}
	elapsed := t.clock().Sub(t.startedAt)
	p := float64(elapsed) / float64(t.latency)
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	t.lastKnown = p
	return p
}

// Complete transitions in_progress → completed. It requires full progress.
func (t *Trade) Complete() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusInProgress {
		return ErrInvalidTransition
	}
	if t.clock().Sub(t.startedAt) < t.latency {
		return ErrInvalidTransition
	}
	t.status = StatusCompleted
	return nil
}

// Fail transitions in_progress → failed and records the reason. It is used
// when settlement rejects the trade, so it never panics out of a worker.
func (t *Trade) Fail(reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusInProgress {
		return ErrInvalidTransition
	}
	t.status = StatusFailed
	t.failReason = reason
	return nil
}
