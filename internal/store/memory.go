package store

import (
	"context"
	"sort"
	"sync"

	"main/internal/ledger"
)

// Memory is an in-process store used when no database is configured and as
// the test double behind the engine.
type Memory struct {
	mu            sync.Mutex
	accounts      map[string]*ledger.Account
	notifications map[string]*Notification
	tokens        map[string][]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		accounts:      make(map[string]*ledger.Account),
		notifications: make(map[string]*Notification),
		tokens:        make(map[string][]string),
	}
}

// LoadAccount returns a copy of the stored account.
func (s *Memory) LoadAccount(_ context.Context, id string) (*ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return account.Clone(), nil
}

// SaveAccount stores a copy of the account.
func (s *Memory) SaveAccount(_ context.Context, account *ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.ID] = account.Clone()
	return nil
}

// SaveNotification stores one settlement notification.
func (s *Memory) SaveNotification(_ context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *n
	s.notifications[n.ID] = &copied
	return nil
}

// UnreadNotifications lists unread notifications, newest first.
func (s *Memory) UnreadNotifications(_ context.Context, accountID string) ([]Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Notification
	for _, n := range s.notifications {
		if n.AccountID == accountID && !n.Read {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// MarkNotificationRead flips the read flag.
func (s *Memory) MarkNotificationRead(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return ErrNotFound
	}
	n.Read = true
	return nil
}

// PushTokens lists the push targets for an account.
func (s *Memory) PushTokens(_ context.Context, accountID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tokens[accountID]...), nil
}

// AddPushToken registers an out-of-band push target.
func (s *Memory) AddPushToken(accountID, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[accountID] = append(s.tokens[accountID], token)
}
