package sync

import (
	"sync"
	"time"
)

// Outcome classifies how an operation settled.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"   // server confirmed
	OutcomeRetryable Outcome = "retryable" // transport failure, rolled back
	OutcomeRejected  Outcome = "rejected"  // application rejection, rolled back
	OutcomeDiscarded Outcome = "discarded" // local draft replaced by remote update
)

// Notification is a structured outcome delivered to the view layer.
// Failures never propagate as errors past the sync core; this is the
// only upward channel.
type Notification struct {
	Kind       string  `json:"kind"` // create, rename, move, delete, save, draft
	NodeID     string  `json:"node_id,omitempty"`
	DocumentID string  `json:"document_id,omitempty"`
	Outcome    Outcome `json:"outcome"`
	Reason     string  `json:"reason,omitempty"`
	Timestamp  int64   `json:"timestamp"`
}

// Notifier fans notifications out to view-layer subscribers.
// Non-blocking: drops for slow consumers.
type Notifier struct {
	mu          sync.RWMutex
	subscribers map[chan Notification]struct{}
}

// NewNotifier creates a notifier.
func NewNotifier() *Notifier {
	return &Notifier{
		subscribers: make(map[chan Notification]struct{}),
	}
}

// Subscribe adds a subscriber and returns its channel.
// The caller must call Unsubscribe when done.
func (n *Notifier) Subscribe() chan Notification {
	ch := make(chan Notification, 64)
	n.mu.Lock()
	n.subscribers[ch] = struct{}{}
	n.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (n *Notifier) Unsubscribe(ch chan Notification) {
	n.mu.Lock()
	delete(n.subscribers, ch)
	close(ch)
	n.mu.Unlock()
}

// Publish sends a notification to all subscribers.
func (n *Notifier) Publish(note Notification) {
	if note.Timestamp == 0 {
		note.Timestamp = time.Now().Unix()
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	for ch := range n.subscribers {
		select {
		case ch <- note:
		default:
			// Drop for slow consumer.
		}
	}
}
