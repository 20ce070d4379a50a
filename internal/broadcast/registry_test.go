package broadcast

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	mu       sync.Mutex
	alive    bool
	sendErr  error
	received []any
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{alive: true}
}

func (c *fakeChannel) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.received = append(c.received, v)
	return nil
}

func (c *fakeChannel) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}

func (c *fakeChannel) kill() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alive = false
}

func (c *fakeChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.received)
}

func TestSendToRegistered(t *testing.T) {
	r := NewRegistry()
	ch := newFakeChannel()
	r.Register("acct-1", ch)

	assert.True(t, r.SendTo("acct-1", "hello"))
	assert.Equal(t, 1, ch.count())
}

func TestSendToMissingReturnsFalse(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.SendTo("nobody", "hello"))
}

func TestSendToDeadChannelDropsEntry(t *testing.T) {
	r := NewRegistry()
	ch := newFakeChannel()
	r.Register("acct-1", ch)
	ch.kill()

	assert.False(t, r.SendTo("acct-1", "hello"))
	assert.Equal(t, 0, r.Len(), "dead entry should be dropped")
	assert.False(t, r.Connected("acct-1"))
}

func TestSendFailureDropsEntry(t *testing.T) {
	r := NewRegistry()
	ch := newFakeChannel()
	ch.sendErr = errors.New("broken pipe")
	r.Register("acct-1", ch)

	assert.False(t, r.SendTo("acct-1", "hello"))
	assert.Equal(t, 0, r.Len())
}

func TestBroadcastSurvivesDeadChannel(t *testing.T) {
	r := NewRegistry()
	live := newFakeChannel()
	dead := newFakeChannel()
	r.Register("live", live)
	r.Register("dead", dead)
	dead.kill()

	delivered := r.Broadcast("tick")

	assert.Equal(t, 1, delivered)
	assert.Equal(t, 1, live.count())
	assert.Equal(t, 0, dead.count())
	assert.Equal(t, 1, r.Len(), "dead entry should self-heal out of the registry")
}

func TestRegisterReplacesChannel(t *testing.T) {
	r := NewRegistry()
	old := newFakeChannel()
	r.Register("acct-1", old)
	replacement := newFakeChannel()
	r.Register("acct-1", replacement)

	require.True(t, r.SendTo("acct-1", "hello"))
	assert.Equal(t, 0, old.count())
	assert.Equal(t, 1, replacement.count())
}

// A failed send must not evict a channel registered by a reconnect that
// happened after the handle was copied out.
func TestDropDoesNotEvictReconnectedChannel(t *testing.T) {
	r := NewRegistry()
	stale := newFakeChannel()
	fresh := newFakeChannel()
	r.Register("acct-1", fresh)

	r.drop("acct-1", stale)
	assert.Equal(t, 1, r.Len())
	assert.True(t, r.Connected("acct-1"))
}

func TestUnregister(t *testing.T) {
	r := NewRegistry()
	r.Register("acct-1", newFakeChannel())
	r.Unregister("acct-1")
	assert.False(t, r.SendTo("acct-1", "hello"))
	r.Unregister("acct-1") // no-op on missing entry
}

func TestConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				switch j % 4 {
				case 0:
					r.Register("acct-1", newFakeChannel())
				case 1:
					r.SendTo("acct-1", j)
				case 2:
					r.Broadcast(j)
				case 3:
					r.Unregister("acct-1")
				}
			}
		}(i)
	}
	wg.Wait()
}
