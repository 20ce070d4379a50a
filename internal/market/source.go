package market

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var ErrUnknownSymbol = errors.New("no quote for symbol")

// Source supplies the current price of a symbol.
type Source interface {
	CurrentPrice(symbol string) (decimal.Decimal, error)
}

const DefaultQuoteTTL = 10 * time.Second

// Fetcher retrieves a current price from the upstream quote provider.
type Fetcher func(ctx context.Context, symbol string) (decimal.Decimal, error)

type quote struct {
	price     decimal.Decimal
	fetchedAt time.Time
}

// Cache is a TTL quote cache in front of a Fetcher. It implements
// ledger.PriceSource.
type Cache struct {
	fetcher Fetcher
	ttl     time.Duration

	mu      sync.Mutex
	entries map[string]quote
	clock   func() time.Time
}

// NewCache creates a quote cache. A zero ttl uses DefaultQuoteTTL.
func NewCache(fetcher Fetcher, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultQuoteTTL
	}
	return &Cache{
		fetcher: fetcher,
		ttl:     ttl,
		entries: make(map[string]quote),
		clock:   time.Now,
	}
}

// CurrentPrice returns the cached quote when fresh, refetching otherwise.
func (c *Cache) CurrentPrice(symbol string) (decimal.Decimal, error) {
	c.mu.Lock()
	entry, ok := c.entries[symbol]
	now := c.clock()
	if ok && now.Sub(entry.fetchedAt) < c.ttl {
		c.mu.Unlock()
		return entry.price, nil
	}
	c.mu.Unlock()

	price, err := c.fetcher(context.Background(), symbol)
	if err != nil {
		if ok {
			// stale beats absent
			return entry.price, nil
		}
		return decimal.Zero, err
	}

	c.mu.Lock()
	c.entries[symbol] = quote{price: price, fetchedAt: now}
	c.mu.Unlock()
	return price, nil
}

// Static is a fixed price table, used in tests and for seeded symbols.
type Static struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
}

// NewStatic creates a static source from a symbol → price table.
func NewStatic(prices map[string]decimal.Decimal) *Static {
	copied := make(map[string]decimal.Decimal, len(prices))
	for sym, p := range prices {
		copied[sym] = p
	}
	return &Static{prices: copied}
}

// CurrentPrice returns the table price or ErrUnknownSymbol.
func (s *Static) CurrentPrice(symbol string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prices[symbol]
	if !ok {
		return decimal.Zero, ErrUnknownSymbol
	}
	return p, nil
}

// SetPrice updates the table.
func (s *Static) SetPrice(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
}
