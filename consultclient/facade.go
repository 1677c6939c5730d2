// Package consultclient is the per-client view of one consultation session:
// it joins the session, keeps the visible message list (including optimistic
// not-yet-acknowledged entries), runs the countdown anchored to the
// server-recorded join timestamps, and exposes the actions a UI calls.
package consultclient

import (
	"context"
	"errors"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zakiachsan27/CallExpert-sub000/consult"
	"github.com/zakiachsan27/CallExpert-sub000/models"
	"github.com/zakiachsan27/CallExpert-sub000/realtime"
)

// Lifecycle is the slice of the session controller the façade drives.
type Lifecycle interface {
	StartOrJoin(ctx context.Context, bookingID uint, caller consult.Party) (*models.ConsultSession, error)
	End(ctx context.Context, bookingID uint, by models.EndReason, caller consult.Party) (*models.ConsultSession, error)
}

// MessageLog is the slice of the message store the façade reads and writes.
type MessageLog interface {
	Append(ctx context.Context, bookingID uint, caller consult.Party, text string) (*models.ConsultMessage, error)
	ListSince(ctx context.Context, bookingID uint, sinceID uint) ([]models.ConsultMessage, error)
}

// Subscriber opens a push channel for a booking. A nil subscription means the
// channel could not be established; the façade then degrades to on-demand
// reloads instead of crashing.
type Subscriber interface {
	Subscribe(bookingID uint) *realtime.Subscription
}

// Directory resolves the booking to learn the purchased duration.
type Directory interface {
	GetBookingByID(ctx context.Context, id uint) (*models.Booking, error)
}

// Entry is one visible chat bubble. Pending entries carry a temp- id and no
// server-assigned fields yet; they exist only until the send is acknowledged.
type Entry struct {
	ID         string           `json:"id"`
	ServerID   uint             `json:"server_id,omitempty"`
	SenderID   uint             `json:"sender_id"`
	SenderType models.PartyType `json:"sender_type"`
	Text       string           `json:"text"`
	IsEdited   bool             `json:"is_edited"`
	CreatedAt  time.Time        `json:"created_at"`
	Pending    bool             `json:"pending"`
}

func entryFromMessage(m *models.ConsultMessage) Entry {
	return Entry{
		ID:         strconv.FormatUint(uint64(m.ID), 10),
		ServerID:   m.ID,
		SenderID:   m.SenderID,
		SenderType: m.SenderType,
		Text:       m.Text,
		IsEdited:   m.IsEdited,
		CreatedAt:  m.CreatedAt,
	}
}

// Config wires a façade to its collaborators. Lifecycle, Messages and Caller
// are required; Subscriber and Bookings may be nil (degraded modes), Clock
// defaults to wall time.
type Config struct {
	Lifecycle  Lifecycle
	Messages   MessageLog
	Subscriber Subscriber
	Bookings   Directory
	Caller     consult.Party
	Clock      Clock
}

// Facade coordinates one party's session view. All exported methods are safe
// for concurrent use; the timer and the push pump run on their own goroutines.
type Facade struct {
	lifecycle  Lifecycle
	messages   MessageLog
	subscriber Subscriber
	bookings   Directory
	caller     consult.Party
	clock      Clock

	mu          sync.Mutex
	bookingID   uint
	durationMin uint
	session     *models.ConsultSession
	entries     []Entry
	lastErr     string
	degraded    bool
	localEnded  bool // safety fallback when a timeout end could not be recorded

	sub       *realtime.Subscription
	timerStop chan struct{}

	endOnce      sync.Once
	teardownOnce sync.Once
	done         chan struct{}
}

func New(cfg Config) *Facade {
	clock := cfg.Clock
	if clock == nil {
		clock = systemClock{}
	}
	return &Facade{
		lifecycle:  cfg.Lifecycle,
		messages:   cfg.Messages,
		subscriber: cfg.Subscriber,
		bookings:   cfg.Bookings,
		caller:     cfg.Caller,
		clock:      clock,
		done:       make(chan struct{}),
	}
}

// Initialize joins the session, seeds the countdown, loads existing messages
// and opens the push channel. Partial failures degrade instead of aborting:
// a failed join still shows history read-only, a failed history load starts
// empty, a failed subscription leaves the façade in reload-on-demand mode.
func (f *Facade) Initialize(ctx context.Context, bookingID uint, durationMinutes uint) {
	f.mu.Lock()
	f.bookingID = bookingID
	f.durationMin = durationMinutes
	f.mu.Unlock()

	if f.bookings != nil {
		if booking, err := f.bookings.GetBookingByID(ctx, bookingID); err == nil {
			f.mu.Lock()
			f.durationMin = booking.SessionTypeDuration
			f.mu.Unlock()
		} else {
			log.Printf("[ConsultClient] booking %d lookup failed: %v", bookingID, err)
		}
	}

	session, err := f.lifecycle.StartOrJoin(ctx, bookingID, f.caller)
	if err != nil {
		f.setError(err)
	}

	history, listErr := f.messages.ListSince(ctx, bookingID, 0)
	if listErr != nil {
		// Start empty rather than blocking; a later Reload can fill in.
		log.Printf("[ConsultClient] history load for booking %d failed: %v", bookingID, listErr)
		history = nil
	}

	var sub *realtime.Subscription
	if f.subscriber != nil {
		sub = f.subscriber.Subscribe(bookingID)
	}

	f.mu.Lock()
	if session != nil {
		f.session = session
	}
	f.entries = f.entries[:0]
	for i := range history {
		f.entries = append(f.entries, entryFromMessage(&history[i]))
	}
	if sub == nil {
		f.degraded = true
		if f.subscriber != nil {
			f.lastErr = "live updates unavailable, messages will refresh on demand"
		}
	} else {
		f.sub = sub
		go f.pump(sub)
	}
	if f.session != nil && f.session.Status == models.StatusActive {
		f.startTimerLocked()
	}
	f.mu.Unlock()
}

// Reload re-fetches the full message list, replacing the settled entries but
// keeping pending ones. This is the degraded-mode substitute for push.
func (f *Facade) Reload(ctx context.Context) error {
	f.mu.Lock()
	bookingID := f.bookingID
	f.mu.Unlock()

	history, err := f.messages.ListSince(ctx, bookingID, 0)
	if err != nil {
		f.setError(err)
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var pending []Entry
	for _, e := range f.entries {
		if e.Pending {
			pending = append(pending, e)
		}
	}
	f.entries = f.entries[:0]
	for i := range history {
		f.entries = append(f.entries, entryFromMessage(&history[i]))
	}
	f.entries = append(f.entries, pending...)
	return nil
}

// Send validates locally, shows the message optimistically, then persists it.
// On success every temp-id entry is cleared; the pushed real message (which
// may already have arrived) is the single source of the visible bubble. On
// failure the optimistic entry is rolled back and the error surfaced.
func (f *Facade) Send(ctx context.Context, text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		f.mu.Lock()
		f.lastErr = "message cannot be empty"
		f.mu.Unlock()
		return consult.ErrEmptyMessage
	}

	f.mu.Lock()
	if !f.canChatLocked() {
		f.lastErr = "session is not accepting messages"
		f.mu.Unlock()
		return consult.ErrSessionEnded
	}
	tempID := "temp-" + uuid.NewString()
	f.entries = append(f.entries, Entry{
		ID:         tempID,
		SenderID:   f.caller.ID,
		SenderType: f.caller.Type,
		Text:       trimmed,
		CreatedAt:  f.clock.Now(),
		Pending:    true,
	})
	degraded := f.sub == nil
	bookingID := f.bookingID
	f.mu.Unlock()

	msg, err := f.messages.Append(ctx, bookingID, f.caller, trimmed)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.removeEntryLocked(tempID)
		f.lastErr = sendErrorMessage(err)
		return err
	}
	if degraded {
		// No push will arrive; reconcile with the acknowledged message directly.
		f.mergeMessageLocked(msg)
	}
	f.clearPendingLocked()
	return nil
}

// End terminates the session on behalf of the local party. A session already
// ended elsewhere is treated as success and the recorded reason kept.
func (f *Facade) End(ctx context.Context) error {
	f.mu.Lock()
	bookingID := f.bookingID
	f.mu.Unlock()

	session, err := f.lifecycle.End(ctx, bookingID, models.EndReason(f.caller.Type), f.caller)
	if err != nil && !errors.Is(err, consult.ErrAlreadyEnded) {
		f.setError(err)
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if session != nil {
		f.session = session
	}
	f.stopTimerLocked()
	return nil
}

// Teardown releases the push channel and stops the timer. Idempotent; call it
// whenever the UI navigates away so abandoned views don't leak subscriptions.
func (f *Facade) Teardown() {
	f.teardownOnce.Do(func() {
		f.mu.Lock()
		sub := f.sub
		f.sub = nil
		f.stopTimerLocked()
		f.mu.Unlock()
		if sub != nil {
			sub.Unsubscribe()
		}
		close(f.done)
	})
}

// pump drains push events until teardown or unsubscribe.
func (f *Facade) pump(sub *realtime.Subscription) {
	for {
		select {
		case <-f.done:
			return
		case <-sub.Done():
			return
		case ev := <-sub.C:
			switch ev.Type {
			case realtime.EventMessage:
				f.mu.Lock()
				f.mergeMessageLocked(ev.Message)
				f.clearPendingLocked()
				f.mu.Unlock()
			case realtime.EventStatus:
				f.applyStatus(ev.Session)
			}
		}
	}
}

// mergeMessageLocked adds a message if its server id is not already visible.
// A final in-flight message is accepted even after the session ended.
// Settled entries are kept in (created_at, id) order even when two pushes
// arrive inverted (both parties sending at once); pending placeholders stay
// at the tail until cleared.
func (f *Facade) mergeMessageLocked(m *models.ConsultMessage) {
	if m == nil {
		return
	}
	for _, e := range f.entries {
		if e.ServerID == m.ID {
			return
		}
	}
	f.entries = append(f.entries, entryFromMessage(m))
	sort.SliceStable(f.entries, func(i, j int) bool {
		a, b := f.entries[i], f.entries[j]
		if a.Pending != b.Pending {
			return !a.Pending
		}
		if a.Pending {
			return false
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ServerID < b.ServerID
	})
}

// applyStatus adopts a pushed session snapshot. Ended stops the countdown
// immediately regardless of locally computed remaining time; the server's
// recorded reason wins.
func (f *Facade) applyStatus(s *models.ConsultSession) {
	if s == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = s
	switch s.Status {
	case models.StatusEnded:
		f.stopTimerLocked()
	case models.StatusActive:
		f.startTimerLocked()
	}
}

// clearPendingLocked drops every temp-id entry. Deliberately unconditional:
// temp entries are transient placeholders, not content-matched against the
// acknowledged message.
func (f *Facade) clearPendingLocked() {
	kept := f.entries[:0]
	for _, e := range f.entries {
		if !e.Pending {
			kept = append(kept, e)
		}
	}
	f.entries = kept
}

func (f *Facade) removeEntryLocked(id string) {
	kept := f.entries[:0]
	for _, e := range f.entries {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	f.entries = kept
}

func (f *Facade) canChatLocked() bool {
	if f.localEnded || f.session == nil {
		return false
	}
	switch f.session.Status {
	case models.StatusActive, models.StatusWaitingUser, models.StatusWaitingExpert:
		return true
	}
	return false
}

func (f *Facade) setError(err error) {
	f.mu.Lock()
	f.lastErr = sendErrorMessage(err)
	f.mu.Unlock()
}

func sendErrorMessage(err error) string {
	switch {
	case errors.Is(err, consult.ErrNotAuthorized):
		return "you are not a participant of this consultation"
	case errors.Is(err, consult.ErrBookingNotFound), errors.Is(err, consult.ErrSessionNotFound):
		return "consultation session not found"
	case errors.Is(err, consult.ErrSessionEnded), errors.Is(err, consult.ErrAlreadyEnded):
		return "consultation session has ended"
	case errors.Is(err, consult.ErrEmptyMessage):
		return "message cannot be empty"
	default:
		return "something went wrong, please try again"
	}
}

// Messages returns a snapshot of the visible message list, pending entries
// included, in display order.
func (f *Facade) Messages() []Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Entry, len(f.entries))
	copy(out, f.entries)
	return out
}

// IsSessionActive reports whether both parties are present and time remains.
func (f *Facade) IsSessionActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.localEnded && f.session != nil && f.session.Status == models.StatusActive
}

// CanChat reports whether sends are currently accepted. Messages may be
// queued while waiting for the other party, waiting-room style.
func (f *Facade) CanChat() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.canChatLocked()
}

// TimeRemainingSeconds recomputes the countdown from the server-recorded
// start timestamp at call time.
func (f *Facade) TimeRemainingSeconds() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remainingLocked()
}

// SessionDurationMinutes is the purchased session length.
func (f *Facade) SessionDurationMinutes() uint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.durationMin
}

// Session returns the latest session snapshot known to this façade, nil
// before the first successful join or push.
func (f *Facade) Session() *models.ConsultSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session == nil {
		return nil
	}
	s := *f.session
	return &s
}

// Error returns the last user-facing error, empty when none.
func (f *Facade) Error() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

// ClearError resets the user-facing error field.
func (f *Facade) ClearError() {
	f.mu.Lock()
	f.lastErr = ""
	f.mu.Unlock()
}
