// Package event provides the two synchronization primitives used by the
// sampler: a single-consumer completion signal and a start/stop gate.
package event

import (
	"context"
	"sync"
	"time"
)

// AutoReset is a completion signal that releases exactly one waiter per
// Set. A Set with no waiter stays pending until the next Wait consumes it;
// repeated Sets before a Wait collapse into one.
//
// Set never blocks and never allocates, so it may be called from an
// interrupt handler.
type AutoReset struct {
	ch chan struct{}
}

// NewAutoReset returns an unsignaled event.
func NewAutoReset() *AutoReset {
	return &AutoReset{ch: make(chan struct{}, 1)}
}

// Set signals the event.
func (e *AutoReset) Set() {
	select {
	case e.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until the event is signaled and consumes the signal.
func (e *AutoReset) Wait() {
	<-e.ch
}

// WaitTimeout is Wait bounded by d. It returns false if the event was not
// signaled in time. A non-positive d waits forever.
func (e *AutoReset) WaitTimeout(d time.Duration) bool {
	if d <= 0 {
		e.Wait()
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-e.ch:
		return true
	case <-timer.C:
		return false
	}
}

// Reset discards a pending signal, if any.
func (e *AutoReset) Reset() {
	select {
	case <-e.ch:
	default:
	}
}

// Gate is a manual start/stop gate. While open, Wait returns immediately;
// while closed, Wait blocks until Open is called.
type Gate struct {
	mu     sync.Mutex
	open   chan struct{}
	isOpen bool
}

// NewGate returns a closed gate.
func NewGate() *Gate {
	return &Gate{open: make(chan struct{})}
}

// Open opens the gate. Opening an open gate is a no-op.
func (g *Gate) Open() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.isOpen {
		return
	}
	g.isOpen = true
	close(g.open)
}

// Close closes the gate. Closing a closed gate is a no-op.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.isOpen {
		return
	}
	g.isOpen = false
	g.open = make(chan struct{})
}

// IsOpen reports the current gate state.
func (g *Gate) IsOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.isOpen
}

// Wait blocks until the gate is open or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.open
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
