package realtime

import (
	"sync"

	"github.com/google/uuid"

	"github.com/zakiachsan27/CallExpert-sub000/models"
)

// EventType discriminates what a pushed Event carries.
type EventType string

const (
	EventMessage EventType = "message"
	EventStatus  EventType = "status"
)

// Event is one server push: either a newly appended message or a session
// state transition. Exactly one of Message/Session is set.
type Event struct {
	Type      EventType              `json:"type"`
	BookingID uint                   `json:"booking_id"`
	Message   *models.ConsultMessage `json:"message,omitempty"`
	Session   *models.ConsultSession `json:"session,omitempty"`
}

// sendQueueSize bounds each subscriber's buffer. A subscriber that falls this
// far behind loses events; at-least-once is recovered by reloading history.
const sendQueueSize = 64

// Subscription is one party's handle on a booking's push channel.
//
// C is never closed by the hub, so broadcasters can't panic on a concurrent
// unsubscribe; consumers select on Done() instead.
type Subscription struct {
	id        string
	bookingID uint
	C         chan Event

	hub       *Hub
	done      chan struct{}
	closeOnce sync.Once
}

// Done is closed when the subscription has been torn down.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Unsubscribe detaches from the hub and releases the channel slot.
// Safe to call multiple times.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		s.hub.remove(s)
		close(s.done)
	})
}

// Hub fans out consultation events to per-booking subscribers. Bookings are
// independent channels: ordering is only guaranteed within one booking.
type Hub struct {
	mu     sync.RWMutex
	topics map[uint]map[string]*Subscription

	// optional cross-instance relay, nil when running single-instance
	relay *Relay
}

func NewHub() *Hub {
	return &Hub{topics: make(map[uint]map[string]*Subscription)}
}

// Subscribe registers a new push channel scoped to the booking.
func (h *Hub) Subscribe(bookingID uint) *Subscription {
	sub := &Subscription{
		id:        uuid.NewString(),
		bookingID: bookingID,
		C:         make(chan Event, sendQueueSize),
		hub:       h,
		done:      make(chan struct{}),
	}
	h.mu.Lock()
	t, ok := h.topics[bookingID]
	if !ok {
		t = make(map[string]*Subscription)
		h.topics[bookingID] = t
	}
	t[sub.id] = sub
	h.mu.Unlock()
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.topics[sub.bookingID]; ok {
		delete(t, sub.id)
		if len(t) == 0 {
			delete(h.topics, sub.bookingID)
		}
	}
}

// Publish delivers an event to every subscriber of its booking, and to the
// relay when one is attached. Delivery is non-blocking: a full subscriber
// queue drops the event rather than stalling the caller. The lock is held
// exclusively for the whole fan-out so concurrent publishes for one booking
// cannot interleave their per-subscriber sends; every subscriber sees events
// in commit order.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	h.deliverLocked(ev)
	relay := h.relay
	h.mu.Unlock()
	if relay != nil {
		relay.forward(ev)
	}
}

func (h *Hub) publishLocal(ev Event) {
	h.mu.Lock()
	h.deliverLocked(ev)
	h.mu.Unlock()
}

func (h *Hub) deliverLocked(ev Event) {
	for _, sub := range h.topics[ev.BookingID] {
		select {
		case sub.C <- ev:
		default:
		}
	}
}

// Subscribers reports how many channels are open for a booking.
func (h *Hub) Subscribers(bookingID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[bookingID])
}
