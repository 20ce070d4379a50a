package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"main/internal/trade"
)

var (
	ErrUnknownAccount       = errors.New("account not found")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
)

// Holding is a per-symbol position inside an account. Quantity is always
// positive: a holding that reaches zero is deleted, never retained.
type Holding struct {
	Symbol          string
	Quantity        int64
	FirstAcquiredAt time.Time
}

// Account holds cash and per-symbol holdings. It is mutated only through
// Ledger.Settle.
type Account struct {
	ID       string
	Cash     decimal.Decimal
	Holdings map[string]*Holding
}

// Clone returns a deep copy safe to hand out of the ledger.
func (a *Account) Clone() *Account {
	out := &Account{
		ID:       a.ID,
		Cash:     a.Cash,
		Holdings: make(map[string]*Holding, len(a.Holdings)),
	}
	for sym, h := range a.Holdings {
		copied := *h
		out.Holdings[sym] = &copied
	}
	return out
}

// PriceSource supplies current prices for portfolio valuation.
type PriceSource interface {
	CurrentPrice(symbol string) (decimal.Decimal, error)
}

// AccountStore persists post-settlement account state.
type AccountStore interface {
	SaveAccount(ctx context.Context, account *Account) error
}

// SettlementResult is the post-settlement account snapshot.
type SettlementResult struct {
	AccountID      string
	Cash           decimal.Decimal
	Holdings       []Holding
	PortfolioValue decimal.Decimal
}

// Ledger owns account cash/holdings mutation. Settlements for one account
// are serialized through a per-account mutex so two concurrent trades can
// never both pass a stale balance check; different accounts settle
// concurrently.
type Ledger struct {
	mu       sync.Mutex
	accounts map[string]*Account
	locks    map[string]*sync.Mutex

	prices PriceSource
	store  AccountStore
}

// New creates an empty ledger. The price source values portfolios after
// settlement; the store, when non-nil, is written through after each
// successful settlement.
func New(prices PriceSource, store AccountStore) *Ledger {
	return &Ledger{
		accounts: make(map[string]*Account),
		locks:    make(map[string]*sync.Mutex),
		prices:   prices,
		store:    store,
	}
}

// CreateAccount registers an account with an opening cash balance.
// Re-creating an existing account leaves it untouched.
func (l *Ledger) CreateAccount(id string, cash decimal.Decimal) *Account {
	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.accounts[id]; ok {
		return existing
	}
	account := &Account{ID: id, Cash: cash, Holdings: make(map[string]*Holding)}
	l.accounts[id] = account
	return account
}

// Restore loads a previously persisted account into the ledger, replacing
// any in-memory state for the same id.
func (l *Ledger) Restore(account *Account) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if account.Holdings == nil {
		account.Holdings = make(map[string]*Holding)
	}
	l.accounts[account.ID] = account
}

// Account returns a snapshot copy of the account, or false if unknown.
func (l *Ledger) Account(id string) (*Account, bool) {
	l.mu.Lock()
	account, ok := l.accounts[id]
	l.mu.Unlock()
	if !ok {
		return nil, false
	}
	lock := l.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	return account.Clone(), true
}

func (l *Ledger) lockFor(id string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[id] = lock
	}
	return lock
}

// Settle atomically applies a completed trade's financial effect. Buys fail
// with ErrInsufficientFunds when cash cannot cover quantity*price; sells
// fail with ErrInsufficientHoldings when the position is missing or too
// small. A rejected settlement leaves the account unchanged.
func (l *Ledger) Settle(ctx context.Context, accountID string, side trade.Side, symbol string, quantity int64, price decimal.Decimal) (SettlementResult, error) {
	l.mu.Lock()
	account, ok := l.accounts[accountID]
	l.mu.Unlock()
	if !ok {
		return SettlementResult{}, ErrUnknownAccount
	}

	lock := l.lockFor(accountID)
	lock.Lock()
	defer lock.Unlock()

	qty := decimal.NewFromInt(quantity)
	notional := qty.Mul(price)

	switch side {
	case trade.SideBuy:
		if account.Cash.LessThan(notional) {
			return SettlementResult{}, ErrInsufficientFunds
		}
		account.Cash = account.Cash.Sub(notional)
		if h, ok := account.Holdings[symbol]; ok {
			h.Quantity += quantity
		} else {
			account.Holdings[symbol] = &Holding{
				Symbol:          symbol,
				Quantity:        quantity,
				FirstAcquiredAt: time.Now().UTC(),
			}
		}
	case trade.SideSell:
		h, ok := account.Holdings[symbol]
		if !ok || h.Quantity < quantity {
			return SettlementResult{}, ErrInsufficientHoldings
		}
		account.Cash = account.Cash.Add(notional)
		h.Quantity -= quantity
		if h.Quantity == 0 {
			delete(account.Holdings, symbol)
		}
	default:
		return SettlementResult{}, trade.ErrInvalidSide
	}

	result := l.snapshot(account)

	if l.store != nil {
		if err := l.store.SaveAccount(ctx, account.Clone()); err != nil {
			logs.Errorf("persist account %s after settlement: %v", accountID, err)
		}
	}
	return result, nil
}

// snapshot values the account under the caller-held account lock. Quotes
// that cannot be fetched fall back to zero contribution for that symbol.
func (l *Ledger) snapshot(account *Account) SettlementResult {
	holdings := make([]Holding, 0, len(account.Holdings))
	total := decimal.Zero
	for _, h := range account.Holdings {
		holdings = append(holdings, *h)
		if l.prices == nil {
			continue
		}
		price, err := l.prices.CurrentPrice(h.Symbol)
		if err != nil {
			logs.Warnf("quote %s for portfolio value: %v", h.Symbol, err)
			continue
		}
		total = total.Add(price.Mul(decimal.NewFromInt(h.Quantity)))
	}
	sort.Slice(holdings, func(i, j int) bool { return holdings[i].Symbol < holdings[j].Symbol })
	return SettlementResult{
		AccountID:      account.ID,
		Cash:           account.Cash,
		Holdings:       holdings,
		PortfolioValue: total,
	}
}
