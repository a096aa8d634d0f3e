package openrouter

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// limitState is the per-model quota picture as last reported by the API.
type limitState struct {
	remaining  int
	hasRemain  bool
	limit      int
	hasLimit   bool
	retryAfter time.Time
}

// Tracker keeps per-model rate-limit state parsed from response headers.
// All methods are safe for concurrent use and never block.
type Tracker struct {
	mu     sync.Mutex
	limits map[string]*limitState
	now    func() time.Time
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		limits: make(map[string]*limitState),
		now:    time.Now,
	}
}

// Record updates the state for model from the response headers. Unknown or
// malformed headers are ignored.
func (t *Tracker) Record(model string, headers http.Header) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.limits[model]
	if st == nil {
		st = &limitState{}
		t.limits[model] = st
	}

	if v := headers.Get("X-Ratelimit-Remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			st.remaining = n
			st.hasRemain = true
		}
	}
	if v := headers.Get("X-Ratelimit-Limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			st.limit = n
			st.hasLimit = true
		}
	}
	if v := headers.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			st.retryAfter = t.now().Add(time.Duration(secs) * time.Second)
		}
	}
}

// RecordRetryAfter sets an explicit retry deadline for model, used when a
// 429 arrives without a parseable Retry-After header.
func (t *Tracker) RecordRetryAfter(model string, wait time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.limits[model]
	if st == nil {
		st = &limitState{}
		t.limits[model] = st
	}
	st.retryAfter = t.now().Add(wait)
}

// CanDispatch reports whether a request for model may be sent now. It is
// false only while a retry deadline is in the future or the reported
// remaining quota is zero.
func (t *Tracker) CanDispatch(model string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.limits[model]
	if st == nil {
		return true
	}
	if !st.retryAfter.IsZero() && t.now().Before(st.retryAfter) {
		return false
	}
	if st.hasRemain && st.remaining <= 0 {
		return false
	}
	return true
}

// WaitTime returns how long to wait before the next dispatch for model.
// Zero means a request may be sent immediately.
func (t *Tracker) WaitTime(model string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.limits[model]
	if st == nil || st.retryAfter.IsZero() {
		return 0
	}
	wait := st.retryAfter.Sub(t.now())
	if wait < 0 {
		return 0
	}
	return wait
}
