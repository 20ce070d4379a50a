package broadcast

import (
	"sync"

	"github.com/yanun0323/logs"
)

// Channel is a send-capable handle to one subscriber connection. Alive is
// an explicit liveness capability so the registry never depends on caught
// transport errors to learn that a peer is gone.
type Channel interface {
	Send(v any) error
	Alive() bool
}

// Registry tracks live subscriber channels keyed by account id and fans
// messages out to them. Sends happen on handles copied out of the map so
// the lock is never held across slow I/O.
type Registry struct {
	mu       sync.Mutex
	channels map[string]Channel
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]Channel)}
}

// Register binds a channel to an account, replacing any previous one.
func (r *Registry) Register(accountID string, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[accountID] = ch
}

// Unregister removes the account's channel, if any.
func (r *Registry) Unregister(accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, accountID)
}

// Connected reports whether the account has a live channel.
func (r *Registry) Connected(accountID string) bool {
	r.mu.Lock()
	ch, ok := r.channels[accountID]
	r.mu.Unlock()
	return ok && ch.Alive()
}

// SendTo delivers point-to-point. A missing, dead, or failing channel
// yields false and drops the registry entry; it never raises.
func (r *Registry) SendTo(accountID string, v any) bool {
	r.mu.Lock()
	ch, ok := r.channels[accountID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	if !r.deliver(accountID, ch, v) {
		return false
	}
	return true
}

// Broadcast delivers best-effort to every registered channel and returns
// the number of successful sends. Dead entries are dropped as they are
// found; one failed channel never aborts the rest.
func (r *Registry) Broadcast(v any) int {
	r.mu.Lock()
	targets := make(map[string]Channel, len(r.channels))
	for id, ch := range r.channels {
		targets[id] = ch
	}
	r.mu.Unlock()

	delivered := 0
	for id, ch := range targets {
		if r.deliver(id, ch, v) {
			delivered++
		}
	}
	return delivered
}

// Len returns the number of registered channels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

func (r *Registry) deliver(accountID string, ch Channel, v any) bool {
	if ch.Alive() {
		err := ch.Send(v)
		if err == nil {
			return true
		}
		logs.Warnf("send to account %s failed: %v", accountID, err)
	}
	r.drop(accountID, ch)
	return false
}

// drop removes the entry only if it still maps to the same channel, so a
// reconnect that replaced the handle in the meantime survives.
func (r *Registry) drop(accountID string, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.channels[accountID]; ok && current == ch {
		delete(r.channels, accountID)
	}
}
