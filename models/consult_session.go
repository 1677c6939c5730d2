package models

import "time"

// SessionStatus is the lifecycle state of a consultation session.
// Transitions are monotonic: not_started -> waiting_* -> active -> ended.
type SessionStatus string

const (
	StatusNotStarted    SessionStatus = "not_started"
	StatusWaitingUser   SessionStatus = "waiting_user"
	StatusWaitingExpert SessionStatus = "waiting_expert"
	StatusActive        SessionStatus = "active"
	StatusEnded         SessionStatus = "ended"
)

// PartyType identifies which side of the booking a caller is on.
type PartyType string

const (
	PartyUser   PartyType = "user"
	PartyExpert PartyType = "expert"
)

// EndReason records who (or what) ended a session.
type EndReason string

const (
	EndedByUser    EndReason = "user"
	EndedByExpert  EndReason = "expert"
	EndedByTimeout EndReason = "timeout"
)

// ConsultSession represents a timed chat consultation session, 1:1 with a booking.
type ConsultSession struct {
	BookingID      uint          `gorm:"column:booking_id;primaryKey" json:"booking_id"`
	Status         SessionStatus `gorm:"size:20;not null;default:'not_started'" json:"status"`
	UserJoinedAt   *time.Time    `gorm:"column:user_joined_at" json:"user_joined_at,omitempty"`
	ExpertJoinedAt *time.Time    `gorm:"column:expert_joined_at" json:"expert_joined_at,omitempty"`
	EndedAt        *time.Time    `gorm:"column:ended_at" json:"ended_at,omitempty"`
	EndedBy        EndReason     `gorm:"column:ended_by;size:20" json:"ended_by,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`

	// Relations
	Messages []ConsultMessage `gorm:"foreignKey:BookingID" json:"messages,omitempty"`
}

func (ConsultSession) TableName() string {
	return "consult_sessions"
}

// StartedAt returns the moment both parties were present (the later of the
// two join timestamps), or nil if the session never went active.
func (s *ConsultSession) StartedAt() *time.Time {
	if s.UserJoinedAt == nil || s.ExpertJoinedAt == nil {
		return nil
	}
	if s.ExpertJoinedAt.After(*s.UserJoinedAt) {
		return s.ExpertJoinedAt
	}
	return s.UserJoinedAt
}

// ConsultMessage represents one chat message in a consultation session.
// Rows are created on send and never updated or deleted.
type ConsultMessage struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	BookingID  uint      `gorm:"column:booking_id;not null;index" json:"booking_id"`
	SenderID   uint      `gorm:"column:sender_id;not null" json:"sender_id"`
	SenderType PartyType `gorm:"column:sender_type;size:10;not null" json:"sender_type"`
	Text       string    `gorm:"type:text;not null" json:"text"`
	IsEdited   bool      `gorm:"column:is_edited;default:false" json:"is_edited"`
	CreatedAt  time.Time `json:"created_at"`

	// Relations
	Session *ConsultSession `gorm:"foreignKey:BookingID;references:BookingID" json:"session,omitempty"`
}

func (ConsultMessage) TableName() string {
	return "consult_messages"
}
