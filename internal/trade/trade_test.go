package trade

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestTrade(t *testing.T, clock *fakeClock, latency time.Duration) *Trade {
	t.Helper()
	tr, err := New(Params{
		AccountID: "acct-1",
		Symbol:    "AAPL",
		Quantity:  10,
		Side:      SideBuy,
		Price:     decimal.RequireFromString("190.50"),
		Latency:   latency,
		Clock:     clock.Now,
	})
	require.NoError(t, err)
	return tr
}

func TestNewValidation(t *testing.T) {
	cases := []struct {
		name string
		p    Params
		want error
	}{
		{"zero quantity", Params{Quantity: 0, Side: SideBuy}, ErrInvalidQuantity},
		{"negative quantity", Params{Quantity: -5, Side: SideSell}, ErrInvalidQuantity},
		{"bad side", Params{Quantity: 1, Side: Side("hold")}, ErrInvalidSide},
		{"negative price", Params{Quantity: 1, Side: SideBuy, Price: decimal.NewFromInt(-1)}, ErrNegativePrice},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.p)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestLatencyDrawWithinBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		tr, err := New(Params{Quantity: 1, Side: SideBuy})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, tr.Latency(), DefaultLatencyMin)
		assert.Less(t, tr.Latency(), DefaultLatencyMax)
	}
}

func TestLifecycle(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	tr := newTestTrade(t, clock, 4*time.Second)

	assert.Equal(t, StatusQueued, tr.Status())
	assert.Equal(t, 0.0, tr.Progress())
	assert.True(t, tr.StartedAt().IsZero())

	require.NoError(t, tr.Start())
	assert.Equal(t, StatusInProgress, tr.Status())
	assert.False(t, tr.StartedAt().IsZero())

	clock.Advance(2 * time.Second)
	assert.InDelta(t, 0.5, tr.Progress(), 1e-9)

	clock.Advance(2 * time.Second)
	assert.Equal(t, 1.0, tr.Progress())

	require.NoError(t, tr.Complete())
	assert.Equal(t, StatusCompleted, tr.Status())
	assert.Equal(t, 1.0, tr.Progress())
}

func TestStartAcceptedExactlyOnce(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	tr := newTestTrade(t, clock, time.Second)

	require.NoError(t, tr.Start())
	assert.ErrorIs(t, tr.Start(), ErrInvalidTransition)
}

func TestCompleteRequiresFullProgress(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	tr := newTestTrade(t, clock, 4*time.Second)

	assert.ErrorIs(t, tr.Complete(), ErrInvalidTransition)

	require.NoError(t, tr.Start())
	clock.Advance(time.Second)
	assert.ErrorIs(t, tr.Complete(), ErrInvalidTransition)

	clock.Advance(3 * time.Second)
	assert.NoError(t, tr.Complete())
}

func TestTerminalStatesAreFinal(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}

	completed := newTestTrade(t, clock, time.Second)
	require.NoError(t, completed.Start())
	clock.Advance(time.Second)
	require.NoError(t, completed.Complete())
	assert.ErrorIs(t, completed.Start(), ErrInvalidTransition)
	assert.ErrorIs(t, completed.Fail("x"), ErrInvalidTransition)
	assert.ErrorIs(t, completed.Complete(), ErrInvalidTransition)

	failed := newTestTrade(t, clock, time.Second)
	require.NoError(t, failed.Start())
	require.NoError(t, failed.Fail("insufficient funds"))
	assert.Equal(t, StatusFailed, failed.Status())
	assert.Equal(t, "insufficient funds", failed.FailReason())
	assert.ErrorIs(t, failed.Complete(), ErrInvalidTransition)
	assert.ErrorIs(t, failed.Start(), ErrInvalidTransition)
}

func TestFailOnlyFromInProgress(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	tr := newTestTrade(t, clock, time.Second)
	assert.ErrorIs(t, tr.Fail("too early"), ErrInvalidTransition)
}

func TestProgressMonotonicAndBounded(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	tr := newTestTrade(t, clock, 3*time.Second)
	require.NoError(t, tr.Start())

	last := 0.0
	for i := 0; i < 40; i++ {
		clock.Advance(100 * time.Millisecond)
		p := tr.Progress()
		assert.GreaterOrEqual(t, p, last)
		assert.LessOrEqual(t, p, 1.0)
		last = p
	}
	assert.Equal(t, 1.0, last)
}

func TestFailedProgressFreezes(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	tr := newTestTrade(t, clock, 4*time.Second)
	require.NoError(t, tr.Start())

	clock.Advance(time.Second)
	before := tr.Progress()
	require.NoError(t, tr.Fail("rejected"))

	clock.Advance(10 * time.Second)
	assert.Equal(t, before, tr.Progress())
}

func TestUniqueIDs(t *testing.T) {
	a, err := New(Params{Quantity: 1, Side: SideBuy})
	require.NoError(t, err)
	b, err := New(Params{Quantity: 1, Side: SideBuy})
	require.NoError(t, err)
	if a.ID == b.ID {
		t.Fatalf("trade ids collided: %s", a.ID)
	}
}

func TestErrInvalidTransitionIsSentinel(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	tr := newTestTrade(t, clock, time.Second)
	require.NoError(t, tr.Start())
	err := tr.Start()
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}
