package market

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"main/internal/broadcast"
)

const DefaultStreamInterval = 10 * time.Second

// QuoteEvent is the wire shape of one streamed quote snapshot.
type QuoteEvent struct {
	Event  string                     `json:"event"`
	Prices map[string]decimal.Decimal `json:"prices"`
}

// Streamer pushes periodic quote snapshots to a subscriber's live channel.
// At most one stream runs per (account, symbol set); a stream stops on its
// own when the account's channel goes dead.
type Streamer struct {
	source   Source
	registry *broadcast.Registry
	interval time.Duration

	mu     sync.Mutex
	active map[string]struct{}
}

// NewStreamer creates a streamer. A zero interval uses DefaultStreamInterval.
func NewStreamer(source Source, registry *broadcast.Registry, interval time.Duration) *Streamer {
	if interval <= 0 {
		interval = DefaultStreamInterval
	}
	return &Streamer{
		source:   source,
		registry: registry,
		interval: interval,
		active:   make(map[string]struct{}),
	}
}

// Stream starts a quote stream for the account. It returns false when an
// identical stream is already running.
func (s *Streamer) Stream(ctx context.Context, accountID string, symbols []string) bool {
	key := streamKey(accountID, symbols)
	s.mu.Lock()
	if _, running := s.active[key]; running {
		s.mu.Unlock()
		return false
	}
	s.active[key] = struct{}{}
	s.mu.Unlock()

	go s.run(ctx, key, accountID, symbols)
	return true
}

func (s *Streamer) run(ctx context.Context, key, accountID string, symbols []string) {
	defer func() {
		s.mu.Lock()
		delete(s.active, key)
		s.mu.Unlock()
		logs.Infof("quote stream stopped for account %s", accountID)
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if !s.registry.Connected(accountID) {
			return
		}
		prices := make(map[string]decimal.Decimal, len(symbols))
		for _, sym := range symbols {
			p, err := s.source.CurrentPrice(sym)
			if err != nil {
				logs.Warnf("quote %s: %v", sym, err)
				continue
			}
			prices[sym] = p
		}
		if !s.registry.SendTo(accountID, QuoteEvent{Event: "market_data", Prices: prices}) {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func streamKey(accountID string, symbols []string) string {
	sorted := append([]string(nil), symbols...)
	sort.Strings(sorted)
	return accountID + "|" + strings.Join(sorted, ",")
}
