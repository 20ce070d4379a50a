package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/logs"

	"main/internal/broadcast"
	"main/internal/ledger"
	"main/internal/store"
	"main/internal/trade"
)

// Pusher delivers a message over an out-of-band push channel when the
// account has no live connection.
type Pusher interface {
	Push(token string, message string)
}

// LogPusher writes push deliveries to the log. It stands in for a real
// push provider.
type LogPusher struct{}

func (LogPusher) Push(token string, message string) {
	logs.Infof("push notification to %s: %s", token, message)
}

// Event is the wire shape of a point-to-point settlement notification.
type Event struct {
	Event          string                  `json:"event"`
	NotificationID string                  `json:"notificationId"`
	AccountID      string                  `json:"accountId"`
	Message        string                  `json:"message"`
	CreatedAt      time.Time               `json:"createdAt"`
	Snapshot       ledger.SettlementResult `json:"snapshot"`
}

// Service creates one notification per settled trade, persists it, and
// delivers it via the live channel when the account is connected, falling
// back to push tokens otherwise.
type Service struct {
	store    store.Store
	registry *broadcast.Registry
	pusher   Pusher
}

// NewService wires the notification path.
func NewService(st store.Store, registry *broadcast.Registry, pusher Pusher) *Service {
	if pusher == nil {
		pusher = LogPusher{}
	}
	return &Service{store: st, registry: registry, pusher: pusher}
}

// TradeSettled records and delivers the settlement notification.
func (s *Service) TradeSettled(ctx context.Context, t *trade.Trade, result ledger.SettlementResult) {
	verb := "bought"
	if t.Side == trade.SideSell {
		verb = "sold"
	}
	message := fmt.Sprintf("Trade completed: %s %d %s at %s", verb, t.Quantity, t.Symbol, t.Price.String())

	n := &store.Notification{
		ID:        uuid.NewString(),
		AccountID: t.AccountID,
		Message:   message,
		Read:      false,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.SaveNotification(ctx, n); err != nil {
		logs.Errorf("save notification for trade %s: %v", t.ID, err)
	}

	event := Event{
		Event:          "notification",
		NotificationID: n.ID,
		AccountID:      t.AccountID,
		Message:        message,
		CreatedAt:      n.CreatedAt,
		Snapshot:       result,
	}
	if s.registry.SendTo(t.AccountID, event) {
		return
	}

	tokens, err := s.store.PushTokens(ctx, t.AccountID)
	if err != nil {
		logs.Errorf("load push tokens for account %s: %v", t.AccountID, err)
		return
	}
	for _, token := range tokens {
		s.pusher.Push(token, message)
	}
}
