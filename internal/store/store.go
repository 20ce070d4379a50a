package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"main/internal/ledger"
)

var ErrNotFound = errors.New("record not found")

// Notification is created once per settled trade and owned by the store.
type Notification struct {
	ID        string `gorm:"primaryKey"`
	AccountID string `gorm:"index"`
	Message   string
	Read      bool
	CreatedAt time.Time
}

// Store is the system of record for accounts and notifications.
type Store interface {
	LoadAccount(ctx context.Context, id string) (*ledger.Account, error)
	SaveAccount(ctx context.Context, account *ledger.Account) error
	SaveNotification(ctx context.Context, n *Notification) error
	UnreadNotifications(ctx context.Context, accountID string) ([]Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
	PushTokens(ctx context.Context, accountID string) ([]string, error)
}

// accountRow is the persisted shape of an account's cash balance.
type accountRow struct {
	ID        string `gorm:"primaryKey"`
	Cash      decimal.Decimal
	UpdatedAt time.Time
}

func (accountRow) TableName() string { return "accounts" }

// holdingRow is one per-symbol position of an account.
type holdingRow struct {
	AccountID       string `gorm:"primaryKey"`
	Symbol          string `gorm:"primaryKey"`
	Quantity        int64
	FirstAcquiredAt time.Time
}

func (holdingRow) TableName() string { return "holdings" }

// pushTokenRow is a registered out-of-band push target for an account.
type pushTokenRow struct {
	AccountID string `gorm:"primaryKey"`
	Token     string `gorm:"primaryKey"`
}

func (pushTokenRow) TableName() string { return "push_tokens" }

func toRows(account *ledger.Account) (accountRow, []holdingRow) {
	row := accountRow{ID: account.ID, Cash: account.Cash, UpdatedAt: time.Now().UTC()}
	holdings := make([]holdingRow, 0, len(account.Holdings))
	for _, h := range account.Holdings {
		holdings = append(holdings, holdingRow{
			AccountID:       account.ID,
			Symbol:          h.Symbol,
			Quantity:        h.Quantity,
			FirstAcquiredAt: h.FirstAcquiredAt,
		})
	}
	return row, holdings
}

func fromRows(row accountRow, holdings []holdingRow) *ledger.Account {
	account := &ledger.Account{
		ID:       row.ID,
		Cash:     row.Cash,
		Holdings: make(map[string]*ledger.Holding, len(holdings)),
	}
	for _, h := range holdings {
		account.Holdings[h.Symbol] = &ledger.Holding{
			Symbol:          h.Symbol,
			Quantity:        h.Quantity,
			FirstAcquiredAt: h.FirstAcquiredAt,
		}
	}
	return account
}
