// Package statusfeed fans poster status updates out to realtime observers.
// Each subscription owns a bounded queue; a slow consumer loses updates
// instead of ever blocking the publishing entity.
package statusfeed

import "sync"

// Wire event names for the realtime protocol.
const (
	EventStatusUpdate   = "status.update"
	EventStatusHistory  = "status.history"
	EventHistoryRequest = "status.history.request"
)

// StatusUpdate is the server-to-client frame for a single new status.
type StatusUpdate struct {
	Event  string `json:"event"`
	Status string `json:"status"`
}

// StatusHistory is the server-to-client frame replaying the full status
// history, oldest first.
type StatusHistory struct {
	Event   string   `json:"event"`
	History []string `json:"history"`
}

// ControlMessage is a client-to-server frame carrying only an event name.
type ControlMessage struct {
	Event string `json:"event"`
}

const subscriptionQueueSize = 64

// Subscription is one observer's bounded view of a poster's status feed.
type Subscription struct {
	hub *Hub
	ch  chan string
}

// Updates returns the channel of newly published statuses. The channel is
// closed when the hub shuts down or the subscription is cancelled.
func (s *Subscription) Updates() <-chan string { return s.ch }

// Cancel removes the subscription from its hub.
func (s *Subscription) Cancel() {
	if s == nil || s.hub == nil {
		return
	}
	s.hub.unsubscribe(s)
}

// Hub broadcasts status updates for a single poster entity.
type Hub struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a new observer. Subscribing to a closed hub returns a
// subscription whose channel is already closed.
func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{hub: h, ch: make(chan string, subscriptionQueueSize)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.ch)
		return sub
	}
	h.subs[sub] = struct{}{}
	return sub
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.ch)
}

// Publish delivers status to every subscriber without blocking. Full queues
// drop the update.
func (h *Hub) Publish(status string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for sub := range h.subs {
		select {
		case sub.ch <- status:
		default:
		}
	}
}

// Close shuts the hub down, closing every subscriber channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.ch)
	}
}

// SubscriberCount reports how many observers are attached.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
