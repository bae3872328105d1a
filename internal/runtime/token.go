package runtime

import "sync/atomic"

// Token is the cooperative cancellation token. The coordinator never
// interrupts a worker mid-step: an operator abandon sets the token,
// and the dispatcher polls it only at declared yield points (before a
// subtask starts, at layer boundaries).
type Token struct {
	cancelled atomic.Bool
	reason    atomic.Value // string
}

// NewToken returns an unset token.
func NewToken() *Token {
	return &Token{}
}

// Cancel sets the token. The first reason wins; later calls are no-ops.
func (t *Token) Cancel(reason string) {
	if t.cancelled.CompareAndSwap(false, true) {
		t.reason.Store(reason)
	}
}

// Cancelled reports whether cancellation was requested. Callers check
// this at yield points only.
func (t *Token) Cancelled() bool {
	return t.cancelled.Load()
}

// Reason returns the cancellation reason, if any.
func (t *Token) Reason() string {
	if v := t.reason.Load(); v != nil {
		return v.(string)
	}
	return ""
}
