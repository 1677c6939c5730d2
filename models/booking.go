package models

import "time"

// Booking is the purchased consultation slot. It is owned by the booking and
// payment flows; the consultation core only reads it to authorize the two
// parties and to learn the purchased session duration.
type Booking struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	UserID              uint      `gorm:"column:user_id;not null;index" json:"user_id"`
	ExpertID            uint      `gorm:"column:expert_id;not null;index" json:"expert_id"`
	SessionTypeDuration uint      `gorm:"column:session_type_duration;not null" json:"session_type_duration"` // minutes
	Status              string    `gorm:"size:20;default:'paid'" json:"status"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func (Booking) TableName() string {
	return "bookings"
}

// PartyOf returns which side of the booking the given identity is, or ""
// when the identity belongs to neither party.
func (b *Booking) PartyOf(id uint, role PartyType) PartyType {
	switch role {
	case PartyUser:
		if b.UserID == id {
			return PartyUser
		}
	case PartyExpert:
		if b.ExpertID == id {
			return PartyExpert
		}
	}
	return ""
}
