package agent

import (
	"context"
	"sync"
)

// SessionRegistry holds the cancellation handle for each active streaming
// session, keyed by message id. It is the single piece of in-process shared
// mutable state in the pipeline and is never iterated externally: the only
// operations are insert-if-absent, deregister, and cancel.
//
// The insert-if-absent semantics enforce the single-active-stream invariant:
// at most one session per message id at any instant.
type SessionRegistry struct {
	mu      sync.Mutex
	handles map[string]context.CancelFunc
}

// NewSessionRegistry returns an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{handles: make(map[string]context.CancelFunc)}
}

// register installs a cancellation handle for messageID. It fails with
// ErrSessionActive when a handle is already present.
func (r *SessionRegistry) register(messageID string, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handles[messageID]; ok {
		return ErrSessionActive
	}
	r.handles[messageID] = cancel
	return nil
}

// deregister removes the handle for messageID, if any.
func (r *SessionRegistry) deregister(messageID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, messageID)
}

// Cancel aborts the session owning messageID. It reports whether a handle
// was present. The abort propagates to the in-flight provider call; the
// session still runs its normal finalize-and-sweep sequence.
func (r *SessionRegistry) Cancel(messageID string) bool {
	r.mu.Lock()
	cancel, ok := r.handles[messageID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Active reports whether a session is registered for messageID.
func (r *SessionRegistry) Active(messageID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handles[messageID]
	return ok
}

// Len returns the number of active sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
