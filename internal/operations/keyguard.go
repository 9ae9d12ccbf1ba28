package operations

import (
	"context"
	"errors"
	"sync"
)

// ErrCoalesced is returned to a trigger that arrived while its key was already
// running. The in-flight owner runs the latest such trigger after it finishes.
var ErrCoalesced = errors.New("coalesced into in-flight run")

type keyState struct {
	// next is the most recent coalesced fn, nil when no rerun is pending
	next func(ctx context.Context) error
}

// KeyGuard allows at most one in-flight run per key.
type KeyGuard struct {
	mu   sync.Mutex
	keys map[string]*keyState
}

// NewKeyGuard creates an empty guard
func NewKeyGuard() *KeyGuard {
	return &KeyGuard{keys: make(map[string]*keyState)}
}

// Do runs fn under key. If key is already running, Do stores fn as the pending
// rerun and returns ErrCoalesced without calling it. Any number of triggers
// arriving during one execution fold into a single rerun of the latest fn, so a
// trigger carrying different parameters is never replaced by an older closure.
// The error of the last execution is returned.
func (g *KeyGuard) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	g.mu.Lock()
	if st, ok := g.keys[key]; ok {
		if fn != nil {
			st.next = fn
		}
		g.mu.Unlock()
		return ErrCoalesced
	}
	st := &keyState{}
	g.keys[key] = st
	g.mu.Unlock()

	// a panicking fn must not leave the key locked forever
	done := false
	defer func() {
		if !done {
			g.mu.Lock()
			delete(g.keys, key)
			g.mu.Unlock()
		}
	}()

	for {
		err := fn(ctx)

		g.mu.Lock()
		if st.next == nil || ctx.Err() != nil {
			delete(g.keys, key)
			done = true
			g.mu.Unlock()
			return err
		}
		fn, st.next = st.next, nil
		g.mu.Unlock()
	}
}

// InFlight reports whether key is currently running.
func (g *KeyGuard) InFlight(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.keys[key]
	return ok
}

// Len returns the number of running keys.
func (g *KeyGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.keys)
}
