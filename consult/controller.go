package consult

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zakiachsan27/CallExpert-sub000/models"
	"github.com/zakiachsan27/CallExpert-sub000/realtime"
)

// Party is an already-authenticated caller identity. The core never
// authenticates; it receives the identity the auth layer resolved.
type Party struct {
	ID   uint
	Type models.PartyType
}

// Controller is the single writer of consultation session state. All
// mutations go through it, are persisted first, then broadcast to the hub.
type Controller struct {
	db       *gorm.DB
	hub      *realtime.Hub
	bookings Directory
}

func NewController(db *gorm.DB, hub *realtime.Hub, bookings Directory) *Controller {
	return &Controller{db: db, hub: hub, bookings: bookings}
}

// Authorize verifies the caller is a party of the booking. Read-only
// surfaces (history, message listing) use it before serving data.
func (c *Controller) Authorize(ctx context.Context, bookingID uint, caller Party) error {
	_, err := c.authorize(ctx, bookingID, caller)
	return err
}

// authorize loads the booking and verifies the caller is one of its parties.
func (c *Controller) authorize(ctx context.Context, bookingID uint, caller Party) (*models.Booking, error) {
	booking, err := c.bookings.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.PartyOf(caller.ID, caller.Type) == "" {
		return nil, ErrNotAuthorized
	}
	return booking, nil
}

// StartOrJoin creates the session on a booking's first join and records the
// caller's join timestamp exactly once. Repeat joins by the same party leave
// the timestamp untouched. The resulting status is recomputed from which
// timestamps are present; a transition is broadcast to all subscribers.
//
// Both parties may join near-simultaneously, so each write only touches the
// caller's own column and only when it is still NULL.
func (c *Controller) StartOrJoin(ctx context.Context, bookingID uint, caller Party) (*models.ConsultSession, error) {
	if _, err := c.authorize(ctx, bookingID, caller); err != nil {
		return nil, err
	}

	var session models.ConsultSession
	var prev models.SessionStatus

	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Create on first join; a concurrent create by the other party wins
		// the race harmlessly.
		fresh := models.ConsultSession{BookingID: bookingID, Status: models.StatusNotStarted}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&fresh).Error; err != nil {
			return fmt.Errorf("create session: %w", err)
		}

		joinCol := "user_joined_at"
		if caller.Type == models.PartyExpert {
			joinCol = "expert_joined_at"
		}
		now := time.Now()
		if err := tx.Model(&models.ConsultSession{}).
			Where("booking_id = ? AND "+joinCol+" IS NULL", bookingID).
			Update(joinCol, now).Error; err != nil {
			return fmt.Errorf("record join: %w", err)
		}

		if err := tx.First(&session, "booking_id = ?", bookingID).Error; err != nil {
			return fmt.Errorf("reload session: %w", err)
		}
		prev = session.Status

		// Ended is terminal; joins against an ended session only read it.
		if session.Status == models.StatusEnded {
			return nil
		}
		next := joinedStatus(&session)
		if next != session.Status {
			if err := tx.Model(&models.ConsultSession{}).
				Where("booking_id = ? AND status <> ?", bookingID, models.StatusEnded).
				Update("status", next).Error; err != nil {
				return fmt.Errorf("update status: %w", err)
			}
			session.Status = next
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if session.Status != prev {
		snapshot := session
		c.hub.Publish(realtime.Event{Type: realtime.EventStatus, BookingID: bookingID, Session: &snapshot})
	}
	return &session, nil
}

// joinedStatus derives the non-terminal status from which parties have joined.
func joinedStatus(s *models.ConsultSession) models.SessionStatus {
	switch {
	case s.UserJoinedAt != nil && s.ExpertJoinedAt != nil:
		return models.StatusActive
	case s.UserJoinedAt != nil:
		return models.StatusWaitingExpert
	case s.ExpertJoinedAt != nil:
		return models.StatusWaitingUser
	default:
		return models.StatusNotStarted
	}
}

// End transitions the session to its terminal state. An already-ended session
// is left exactly as it was (original ended_at and ended_by preserved) and
// reported via ErrAlreadyEnded, which racing callers should treat as success.
func (c *Controller) End(ctx context.Context, bookingID uint, by models.EndReason, caller Party) (*models.ConsultSession, error) {
	if _, err := c.authorize(ctx, bookingID, caller); err != nil {
		return nil, err
	}

	now := time.Now()
	res := c.db.WithContext(ctx).Model(&models.ConsultSession{}).
		Where("booking_id = ? AND status <> ?", bookingID, models.StatusEnded).
		Updates(map[string]interface{}{
			"status":   models.StatusEnded,
			"ended_at": now,
			"ended_by": by,
		})
	if res.Error != nil {
		log.Printf("[Consult] end session %d failed: %v", bookingID, res.Error)
		return nil, fmt.Errorf("end session: %w", res.Error)
	}

	var session models.ConsultSession
	if err := c.db.WithContext(ctx).First(&session, "booking_id = ?", bookingID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("reload session: %w", err)
	}

	if res.RowsAffected == 0 {
		return &session, ErrAlreadyEnded
	}

	snapshot := session
	c.hub.Publish(realtime.Event{Type: realtime.EventStatus, BookingID: bookingID, Session: &snapshot})
	return &session, nil
}

// GetSession returns the current session snapshot for a booking.
func (c *Controller) GetSession(ctx context.Context, bookingID uint) (*models.ConsultSession, error) {
	var session models.ConsultSession
	if err := c.db.WithContext(ctx).First(&session, "booking_id = ?", bookingID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	return &session, nil
}
