// Package tracker tracks in-flight cloud anchor operations and delivers a
// one-shot completion callback for each of them.
//
// The anchor service is polled, never pushed: the embedder calls Tick once
// per update cycle and every handle that has reached a terminal state is
// removed and handed to its listener.
package tracker

import (
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/marimax/cloudanchor/internal/models"
)

// StateSource reports the current state of an operation.
type StateSource interface {
	State(h models.Handle) models.CloudAnchorState
}

// StateSourceFunc adapts a function to StateSource.
type StateSourceFunc func(h models.Handle) models.CloudAnchorState

func (f StateSourceFunc) State(h models.Handle) models.CloudAnchorState { return f(h) }

// Listener receives the terminal state of a tracked operation.
type Listener func(h models.Handle, state models.CloudAnchorState)

// Options configures a Tracker.
type Options struct {
	// TaskTimeout expires operations that stay non-terminal for longer.
	// Zero disables expiry.
	TaskTimeout time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

type entry struct {
	handle   models.Handle
	listener Listener
	since    time.Time
}

type delivery struct {
	entry *entry
	state models.CloudAnchorState
}

// Tracker owns the handle → listener mapping. Track, Tick and Clear are
// mutually exclusive; listeners run outside the lock and may call back into
// the tracker.
type Tracker struct {
	mu      sync.Mutex
	source  StateSource
	timeout time.Duration
	now     func() time.Time
	entries map[models.Handle]*entry
	order   []*entry
	log     logr.Logger
}

// New creates a tracker polling source.
func New(source StateSource, opts Options, log logr.Logger) *Tracker {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		source:  source,
		timeout: opts.TaskTimeout,
		now:     now,
		entries: make(map[models.Handle]*entry),
		log:     log.WithName("tracker"),
	}
}

// Track registers listener for h. It returns false, leaving the existing
// registration in place, if h is already tracked or listener is nil.
func (t *Tracker) Track(h models.Handle, listener Listener) bool {
	if listener == nil {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[h]; exists {
		t.log.Info("Handle already tracked", "handle", h)
		return false
	}
	e := &entry{handle: h, listener: listener, since: t.now()}
	t.entries[h] = e
	t.order = append(t.order, e)
	t.log.V(1).Info("Tracking operation", "handle", h, "pending", len(t.order))
	return true
}

// Tick polls every tracked handle in insertion order. Handles in a terminal
// state, or past TaskTimeout, are removed and their listeners invoked once.
// It returns the number of listeners invoked.
func (t *Tracker) Tick() int {
	due := t.claim()
	for _, d := range due {
		d.entry.listener(d.entry.handle, d.state)
	}
	return len(due)
}

// claim removes and returns the entries due for delivery. Removal under the
// lock is what makes delivery exactly-once across concurrent ticks.
func (t *Tracker) claim() []delivery {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.order) == 0 {
		return nil
	}

	now := t.now()
	var due []delivery
	kept := t.order[:0]
	for _, e := range t.order {
		state := t.source.State(e.handle)
		switch {
		case state.IsReturnable():
			due = append(due, delivery{entry: e, state: state})
		case t.timeout > 0 && now.Sub(e.since) >= t.timeout:
			t.log.Info("Operation timed out", "handle", e.handle, "lastState", state, "after", t.timeout)
			due = append(due, delivery{entry: e, state: models.StateTaskTimedOut})
		default:
			kept = append(kept, e)
			continue
		}
		delete(t.entries, e.handle)
	}
	for i := len(kept); i < len(t.order); i++ {
		t.order[i] = nil
	}
	t.order = kept

	if len(due) > 0 {
		t.log.V(1).Info("Operations completed", "delivered", len(due), "pending", len(t.order))
	}
	return due
}

// Clear drops every tracked handle without invoking listeners. Operations
// already running at the anchor service are not cancelled; their results
// are simply never delivered. It returns the number of handles dropped.
func (t *Tracker) Clear() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.order)
	t.entries = make(map[models.Handle]*entry)
	t.order = nil
	if n > 0 {
		t.log.V(1).Info("Cleared pending operations", "dropped", n)
	}
	return n
}

// Len returns the number of tracked handles.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.order)
}

// Pending returns the tracked handles in insertion order.
func (t *Tracker) Pending() []models.Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]models.Handle, len(t.order))
	for i, e := range t.order {
		out[i] = e.handle
	}
	return out
}
