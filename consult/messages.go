package consult

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/zakiachsan27/CallExpert-sub000/models"
	"github.com/zakiachsan27/CallExpert-sub000/realtime"
)

// Append persists a message for the caller's booking and broadcasts it.
// Blank text is rejected before it reaches storage; sends against an ended
// session are refused so a late message cannot land after the countdown.
func (c *Controller) Append(ctx context.Context, bookingID uint, caller Party, text string) (*models.ConsultMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if _, err := c.authorize(ctx, bookingID, caller); err != nil {
		return nil, err
	}

	var session models.ConsultSession
	if err := c.db.WithContext(ctx).First(&session, "booking_id = ?", bookingID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session.Status == models.StatusEnded {
		return nil, ErrSessionEnded
	}

	msg := models.ConsultMessage{
		BookingID:  bookingID,
		SenderID:   caller.ID,
		SenderType: caller.Type,
		Text:       text,
	}
	if err := c.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}

	pushed := msg
	c.hub.Publish(realtime.Event{Type: realtime.EventMessage, BookingID: bookingID, Message: &pushed})
	return &msg, nil
}

// ListSince returns the booking's messages ordered by created_at ascending,
// ties broken by id so the order is stable. A zero sinceID returns the full
// history; callers can re-invoke it at any time for a clean reload.
func (c *Controller) ListSince(ctx context.Context, bookingID uint, sinceID uint) ([]models.ConsultMessage, error) {
	q := c.db.WithContext(ctx).Where("booking_id = ?", bookingID)
	if sinceID > 0 {
		q = q.Where("id > ?", sinceID)
	}
	var messages []models.ConsultMessage
	if err := q.Order("created_at ASC, id ASC").Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}
