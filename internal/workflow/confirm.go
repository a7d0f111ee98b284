package workflow

import (
	"sync"
	"time"
)

// defaultConfirmTimeout is how long a destructive command waits for a yes
// before resolving to cancel.
const defaultConfirmTimeout = 60 * time.Second

// ConfirmRegistry tracks pending yes/no confirmations keyed by channel. A
// request that is never answered resolves to false when the timeout fires.
type ConfirmRegistry struct {
	mu      sync.Mutex
	pending map[string]chan bool
	timeout time.Duration
}

// NewConfirmRegistry creates a registry. A zero timeout uses the default.
func NewConfirmRegistry(timeout time.Duration) *ConfirmRegistry {
	if timeout <= 0 {
		timeout = defaultConfirmTimeout
	}
	return &ConfirmRegistry{
		pending: make(map[string]chan bool),
		timeout: timeout,
	}
}

// Request registers a pending confirmation and returns a channel that
// yields the answer exactly once. A new request for the same key cancels
// the old one.
func (r *ConfirmRegistry) Request(key string) <-chan bool {
	r.mu.Lock()
	if old, ok := r.pending[key]; ok {
		old <- false
		close(old)
	}
	ch := make(chan bool, 1)
	r.pending[key] = ch
	r.mu.Unlock()

	go func() {
		timer := time.NewTimer(r.timeout)
		defer timer.Stop()
		<-timer.C
		r.mu.Lock()
		defer r.mu.Unlock()
		if cur, ok := r.pending[key]; ok && cur == ch {
			delete(r.pending, key)
			ch <- false
			close(ch)
		}
	}()

	return ch
}

// Resolve answers a pending confirmation. Returns false when nothing was
// pending for the key, so callers can tell a stray "yes" from an answer.
func (r *ConfirmRegistry) Resolve(key string, answer bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.pending[key]
	if !ok {
		return false
	}
	delete(r.pending, key)
	ch <- answer
	close(ch)
	return true
}

// Pending reports whether a confirmation is waiting on the key.
func (r *ConfirmRegistry) Pending(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[key]
	return ok
}
