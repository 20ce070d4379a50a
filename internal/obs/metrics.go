package obs

import (
	"sync/atomic"
	"time"
)

// Metrics collects lightweight counters and latency stats for the
// execution engine.
type Metrics struct {
	tradesSubmitted uint64
	tradesCompleted uint64
	tradesFailed    uint64
	tradesAbandoned uint64
	queueDrops      uint64

	executionLatency  LatencyStats
	settlementLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	TradesSubmitted   uint64
	TradesCompleted   uint64
	TradesFailed      uint64
	TradesAbandoned   uint64
	QueueDrops        uint64
	ExecutionLatency  LatencySnapshot
	SettlementLatency LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// IncSubmitted records an accepted trade order.
func (m *Metrics) IncSubmitted() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.tradesSubmitted, 1)
}

// IncCompleted records a settled trade.
func (m *Metrics) IncCompleted() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.tradesCompleted, 1)
}

// IncFailed records a trade rejected at settlement.
func (m *Metrics) IncFailed() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.tradesFailed, 1)
}

// IncAbandoned records a trade cut off mid-flight by shutdown.
func (m *Metrics) IncAbandoned() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.tradesAbandoned, 1)
}

// IncQueueDrop records a rejected enqueue.
func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueDrops, 1)
}

// ObserveExecution measures dequeue-to-terminal trade latency.
func (m *Metrics) ObserveExecution(d time.Duration) {
	if m == nil {
		return
	}
	m.executionLatency.Observe(d)
}

// ObserveSettlement measures ledger settlement latency.
func (m *Metrics) ObserveSettlement(d time.Duration) {
	if m == nil {
		return
	}
	m.settlementLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		TradesSubmitted:   atomic.LoadUint64(&m.tradesSubmitted),
		TradesCompleted:   atomic.LoadUint64(&m.tradesCompleted),
		TradesFailed:      atomic.LoadUint64(&m.tradesFailed),
		TradesAbandoned:   atomic.LoadUint64(&m.tradesAbandoned),
		QueueDrops:        atomic.LoadUint64(&m.queueDrops),
		ExecutionLatency:  m.executionLatency.Snapshot(),
		SettlementLatency: m.settlementLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
