package app

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

type fakeOrderLister struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeOrderLister) GetOpenOrders(ctx context.Context) ([]*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []*domain.Order{{LocalID: "a"}}, nil
}

func (f *fakeOrderLister) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestApp() *App {
	return &App{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestResyncLoop_RunsImmediatelyAndOnTimer(t *testing.T) {
	a := newTestApp()
	lister := &fakeOrderLister{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.resyncLoop(ctx, lister, 10*time.Millisecond) }()

	require.Eventually(t, func() bool { return lister.callCount() >= 3 },
		2*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestResyncLoop_SurvivesVenueErrors(t *testing.T) {
	a := newTestApp()
	lister := &fakeOrderLister{err: errors.New("venue down")}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.resyncLoop(ctx, lister, 10*time.Millisecond) }()

	// Failing passes keep the loop alive; each tick retries.
	require.Eventually(t, func() bool { return lister.callCount() >= 2 },
		2*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
