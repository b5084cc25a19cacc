package subscription

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gelinger777/binancelink/internal/domain"
)

// fakeOpener records every rebuild the manager performs.
type fakeOpener struct {
	mu       sync.Mutex
	connects [][]string
	closes   int
	state    domain.SessionState
	failures int // fail this many Connect calls before succeeding
}

func (f *fakeOpener) Connect(ctx context.Context, streams []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, append([]string(nil), streams...))
	if f.failures > 0 {
		f.failures--
		f.state = domain.SessionDisconnected
		return errors.New("dial refused")
	}
	f.state = domain.SessionConnected
	return nil
}

func (f *fakeOpener) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.state = domain.SessionDisconnected
	return nil
}

func (f *fakeOpener) State() domain.SessionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeOpener) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.connects)
}

func (f *fakeOpener) lastConnect() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.connects) == 0 {
		return nil
	}
	return f.connects[len(f.connects)-1]
}

func newTestManager(t *testing.T, opener *fakeOpener, quiet time.Duration) *Manager {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(ctx, opener, domain.PassthroughMapper{}, nil, quiet, logger)
}

func TestAdd_BurstCoalescesIntoOneRebuild(t *testing.T) {
	opener := &fakeOpener{}
	m := newTestManager(t, opener, 30*time.Millisecond)

	// A rapid burst of changes must produce exactly one rebuild carrying the
	// end-of-burst set.
	m.Add("BTC-USDT")
	m.Add("ETH-USDT")
	m.Add("SOL-USDT")
	m.Remove("SOL-USDT")

	require.Eventually(t, func() bool {
		return opener.connectCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{
		"btcusdt@trade", "btcusdt@bookTicker",
		"ethusdt@trade", "ethusdt@bookTicker",
	}, opener.lastConnect())

	// And no further rebuild after the set settles.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, opener.connectCount())
}

func TestAdd_MutationDuringQuietExtendsWindow(t *testing.T) {
	opener := &fakeOpener{}
	m := newTestManager(t, opener, 50*time.Millisecond)

	m.Add("BTC-USDT")
	time.Sleep(20 * time.Millisecond)
	m.Add("ETH-USDT")

	require.Eventually(t, func() bool {
		return opener.connectCount() >= 1
	}, 2*time.Second, 5*time.Millisecond)

	// The single rebuild reflects both symbols, not just the first.
	assert.Len(t, opener.lastConnect(), 4)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, opener.connectCount())
}

func TestAdd_IdempotentWhenAlreadyApplied(t *testing.T) {
	opener := &fakeOpener{}
	m := newTestManager(t, opener, 10*time.Millisecond)

	m.Add("BTC-USDT")
	require.Eventually(t, func() bool {
		return opener.connectCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	m.Add("BTC-USDT")
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, opener.connectCount())
}

func TestRemove_ToEmptySetRebuilds(t *testing.T) {
	opener := &fakeOpener{}
	m := newTestManager(t, opener, 10*time.Millisecond)

	m.Add("BTC-USDT")
	require.Eventually(t, func() bool {
		return opener.connectCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	m.Remove("BTC-USDT")
	require.Eventually(t, func() bool {
		return opener.connectCount() == 2
	}, 2*time.Second, 5*time.Millisecond)

	assert.Empty(t, opener.lastConnect())
	assert.Empty(t, m.Subscribed())
}

func TestRebuild_ForcesReconnectWithUnchangedSet(t *testing.T) {
	opener := &fakeOpener{}
	m := newTestManager(t, opener, 10*time.Millisecond)

	m.Add("BTC-USDT")
	require.Eventually(t, func() bool {
		return opener.connectCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	m.Rebuild()
	require.Eventually(t, func() bool {
		return opener.connectCount() == 2
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"btcusdt@trade", "btcusdt@bookTicker"}, opener.lastConnect())
	assert.GreaterOrEqual(t, opener.closes, 2)
}

func TestRebuildFailure_StaysDownUntilNextMutation(t *testing.T) {
	opener := &fakeOpener{failures: 1}
	m := newTestManager(t, opener, 10*time.Millisecond)

	m.Add("BTC-USDT")
	require.Eventually(t, func() bool {
		return opener.connectCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	// No automatic retry loop after a failed rebuild.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, opener.connectCount())
	assert.Equal(t, domain.SessionDisconnected, opener.State())

	// The next mutation converges again.
	m.Add("ETH-USDT")
	require.Eventually(t, func() bool {
		return opener.connectCount() == 2 && opener.State() == domain.SessionConnected
	}, 2*time.Second, 5*time.Millisecond)
}

func TestApply_ConnectsSynchronously(t *testing.T) {
	opener := &fakeOpener{}
	m := newTestManager(t, opener, time.Hour) // debounce must not be involved

	require.NoError(t, m.Apply(context.Background()))

	// The connection exists before Apply returns, even with an empty set;
	// the user-data stream alone justifies it.
	assert.Equal(t, 1, opener.connectCount())
	assert.Empty(t, opener.lastConnect())
	assert.Equal(t, domain.SessionConnected, opener.State())
}
