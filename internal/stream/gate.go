package stream

import "sync"

// Gate is a buffering switch in front of the inbound frame dispatch path.
// While locked, frames queue instead of being delivered; unlocking replays
// the queue in arrival order before pass-through resumes. The order cache
// locks the gate around REST order mutations so an execution report can
// never overtake the REST response that establishes its broker-id mapping.
//
// Locks are counted: each concurrent holder takes its own reference and the
// gate stays closed until every holder has unlocked, so overlapping REST
// round trips cannot reopen it under each other.
type Gate struct {
	mu      sync.Mutex
	depth   int
	buffer  [][]byte
	deliver func([]byte)
}

// NewGate creates a Gate delivering frames to the given function. deliver
// must not call back into the Gate from the same goroutine.
func NewGate(deliver func([]byte)) *Gate {
	return &Gate{deliver: deliver}
}

// Lock takes one buffering reference.
func (g *Gate) Lock() {
	g.mu.Lock()
	g.depth++
	g.mu.Unlock()
}

// Unlock releases one reference. When the last reference is released, every
// buffered frame replays in arrival order and pass-through resumes. Frames
// arriving during the replay queue behind it. Unlocking an open gate is a
// no-op.
func (g *Gate) Unlock() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.depth == 0 {
		return
	}
	g.depth--
	if g.depth > 0 {
		return
	}

	for _, raw := range g.buffer {
		g.deliver(raw)
	}
	g.buffer = nil
}

// Dispatch hands one raw frame to the gate: delivered immediately when
// open, buffered when locked.
func (g *Gate) Dispatch(raw []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.depth > 0 {
		g.buffer = append(g.buffer, raw)
		return
	}
	g.deliver(raw)
}

// Locked reports whether the gate is currently buffering.
func (g *Gate) Locked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.depth > 0
}
