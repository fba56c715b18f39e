package dispatch

import (
	"context"
	"sync"

	"wearnotify/internal/delivery"
)

// Gate is the single-slot handshake behind the user_action checkpoint:
// delivery blocks in Wait until an input calls Release.
type Gate struct {
	mu sync.Mutex
	ch chan bool

	onWait func()
}

func NewGate() *Gate { return &Gate{} }

// OnWait installs a callback fired each time a delivery starts waiting.
func (g *Gate) OnWait(fn func()) {
	g.mu.Lock()
	g.onWait = fn
	g.mu.Unlock()
}

// Wait blocks until Release or ctx is done. A cancelled wait reports false.
func (g *Gate) Wait(ctx context.Context) bool {
	ch := make(chan bool, 1)
	g.mu.Lock()
	g.ch = ch
	onWait := g.onWait
	g.mu.Unlock()
	if onWait != nil {
		onWait()
	}

	defer func() {
		g.mu.Lock()
		if g.ch == ch {
			g.ch = nil
		}
		g.mu.Unlock()
	}()
	select {
	case ok := <-ch:
		return ok
	case <-ctx.Done():
		return false
	}
}

// Release resolves a pending Wait with proceed. It reports false when
// nothing is waiting.
func (g *Gate) Release(proceed bool) bool {
	g.mu.Lock()
	ch := g.ch
	g.ch = nil
	g.mu.Unlock()
	if ch == nil {
		return false
	}
	ch <- proceed
	return true
}

// Waiting reports whether a delivery is blocked on the gate.
func (g *Gate) Waiting() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ch != nil
}

// Continuation adapts the gate to the delivery checkpoint callback.
func (g *Gate) Continuation() delivery.Continuation { return g.Wait }
