package cloudanchor

import (
	"sync"

	"github.com/go-logr/logr"
)

// Notifier shows user-facing status messages. Empty messages and repeats
// of the current message are dropped.
type Notifier struct {
	mu   sync.Mutex
	last string
	sink func(string)
	log  logr.Logger
}

// NewNotifier creates a notifier forwarding messages to sink, which may be nil.
func NewNotifier(sink func(string), log logr.Logger) *Notifier {
	return &Notifier{sink: sink, log: log.WithName("notifier")}
}

// Show displays msg and reports whether it was shown.
func (n *Notifier) Show(msg string) bool {
	n.mu.Lock()
	if msg == "" || msg == n.last {
		n.mu.Unlock()
		return false
	}
	n.last = msg
	sink := n.sink
	n.mu.Unlock()

	n.log.Info(msg)
	if sink != nil {
		sink(msg)
	}
	return true
}

// Last returns the message currently displayed.
func (n *Notifier) Last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.last
}
