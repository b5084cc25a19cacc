package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGate_PassThroughWhenOpen(t *testing.T) {
	var got []string
	g := NewGate(func(raw []byte) { got = append(got, string(raw)) })

	g.Dispatch([]byte("a"))
	g.Dispatch([]byte("b"))

	assert.Equal(t, []string{"a", "b"}, got)
}

func TestGate_BuffersWhileLocked(t *testing.T) {
	var got []string
	g := NewGate(func(raw []byte) { got = append(got, string(raw)) })

	g.Lock()
	g.Dispatch([]byte("a"))
	g.Dispatch([]byte("b"))
	assert.Empty(t, got)
	assert.True(t, g.Locked())

	g.Unlock()
	assert.Equal(t, []string{"a", "b"}, got)
	assert.False(t, g.Locked())
}

func TestGate_ReplayPreservesArrivalOrder(t *testing.T) {
	var got []string
	g := NewGate(func(raw []byte) { got = append(got, string(raw)) })

	g.Dispatch([]byte("before"))
	g.Lock()
	g.Dispatch([]byte("held-1"))
	g.Dispatch([]byte("held-2"))
	g.Dispatch([]byte("held-3"))
	g.Unlock()
	g.Dispatch([]byte("after"))

	assert.Equal(t, []string{"before", "held-1", "held-2", "held-3", "after"}, got)
}

func TestGate_RelockAfterUnlock(t *testing.T) {
	var got []string
	g := NewGate(func(raw []byte) { got = append(got, string(raw)) })

	g.Lock()
	g.Dispatch([]byte("first"))
	g.Unlock()

	g.Lock()
	g.Dispatch([]byte("second"))
	assert.Equal(t, []string{"first"}, got)
	g.Unlock()

	assert.Equal(t, []string{"first", "second"}, got)
}

func TestGate_NestedLocksHoldUntilLastUnlock(t *testing.T) {
	var got []string
	g := NewGate(func(raw []byte) { got = append(got, string(raw)) })

	g.Lock()
	g.Lock()
	g.Dispatch([]byte("x"))

	g.Unlock()
	assert.Empty(t, got, "one holder remains, the gate must stay closed")
	assert.True(t, g.Locked())

	g.Unlock()
	assert.Equal(t, []string{"x"}, got)
	assert.False(t, g.Locked())
}

func TestGate_UnlockWhenOpenIsANoOp(t *testing.T) {
	var got []string
	g := NewGate(func(raw []byte) { got = append(got, string(raw)) })

	g.Unlock()
	g.Lock()
	g.Dispatch([]byte("x"))
	g.Unlock()

	assert.Equal(t, []string{"x"}, got)
}
