package feed

import (
	"context"
	"sync"

	"advisorchat/internal/models"
)

// Status reports the health of a live subscription. Viewers use
// StatusSubscribed to trigger a history re-fetch, since missed events
// are not replayed.
type Status string

const (
	StatusSubscribed Status = "subscribed"
	StatusError      Status = "error"
	StatusClosed     Status = "closed"
)

// Filter narrows a subscription to a single conversation. The zero
// value subscribes to every conversation (admin panel scope).
type Filter struct {
	ConversationKey string
}

func (f Filter) matches(msg models.Message) bool {
	return f.ConversationKey == "" || f.ConversationKey == msg.ConversationKey
}

// Feed delivers newly persisted messages to subscribers.
type Feed interface {
	Subscribe(filter Filter) (*Subscription, error)
}

// Publisher accepts persisted messages for broadcast.
type Publisher interface {
	Publish(ctx context.Context, msg models.Message) error
}

const subscriptionBuffer = 32

// Subscription is one registered listener on a Feed.
type Subscription struct {
	filter Filter
	events chan models.Message
	status chan Status

	once   sync.Once
	closed chan struct{}
	hub    *Hub
}

// Events yields inserted messages matching the subscription filter.
// The channel is closed when the subscription is.
func (s *Subscription) Events() <-chan models.Message {
	return s.events
}

// Status yields subscription state transitions.
func (s *Subscription) Status() <-chan Status {
	return s.status
}

// Close releases the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.closed)
		s.hub.remove(s)
	})
}

// Hub fans out messages to in-process subscribers. It backs both the
// local single-instance feed and the redis-bridged feed.
type Hub struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a listener. StatusSubscribed is emitted
// immediately so the subscriber runs its reconciliation fetch.
func (h *Hub) Subscribe(filter Filter) (*Subscription, error) {
	sub := &Subscription{
		filter: filter,
		events: make(chan models.Message, subscriptionBuffer),
		status: make(chan Status, 4),
		closed: make(chan struct{}),
		hub:    h,
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	sub.notifyStatus(StatusSubscribed)
	return sub, nil
}

// Publish delivers msg to all matching subscribers.
func (h *Hub) Publish(_ context.Context, msg models.Message) error {
	h.Broadcast(msg)
	return nil
}

// Broadcast hands msg to every matching subscriber. A subscriber whose
// buffer is full is skipped; it recovers via the re-fetch on its next
// status signal rather than stalling the hub. Delivery runs under the
// hub lock so it cannot race a concurrent Close.
func (h *Hub) Broadcast(msg models.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if !sub.filter.matches(msg) {
			continue
		}
		select {
		case sub.events <- msg:
		default:
		}
	}
}

// BroadcastStatus pushes a status transition to every subscriber.
func (h *Hub) BroadcastStatus(status Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		sub.notifyStatus(status)
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	sub.notifyStatus(StatusClosed)
	close(sub.events)
	close(sub.status)
}

func (s *Subscription) notifyStatus(status Status) {
	select {
	case s.status <- status:
	default:
	}
}
