package common

import (
	"errors"
	"sync"
)

// ErrReentrantCall rejects a nested attempt to enter a guarded engine while a
// top-level operation is still in flight.
var ErrReentrantCall = errors.New("reentrant call rejected")

// ReentrancyGuard is an engine-wide exclusive flag held for the full duration
// of one top-level mutating operation. Any entry attempt while the guard is
// held fails instead of blocking, so a malicious external transfer
// implementation calling back into the engine is rejected outright.
type ReentrancyGuard struct {
	mu   sync.Mutex
	busy bool
}

// Enter acquires the guard or fails with ErrReentrantCall.
func (g *ReentrancyGuard) Enter() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy {
		return ErrReentrantCall
	}
	g.busy = true
	return nil
}

// Exit releases the guard. Exit without a matching Enter is a no-op.
func (g *ReentrancyGuard) Exit() {
	g.mu.Lock()
	g.busy = false
	g.mu.Unlock()
}
