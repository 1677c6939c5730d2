package consult

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/zakiachsan27/CallExpert-sub000/models"
)

// Directory resolves bookings. The booking/payment flows own that data; the
// consultation core only reads it, once per operation, to authorize the
// caller and learn the purchased duration.
type Directory interface {
	GetBookingByID(ctx context.Context, id uint) (*models.Booking, error)
}

// GormDirectory reads bookings from the marketplace's own table.
type GormDirectory struct {
	db *gorm.DB
}

func NewGormDirectory(db *gorm.DB) *GormDirectory {
	return &GormDirectory{db: db}
}

func (d *GormDirectory) GetBookingByID(ctx context.Context, id uint) (*models.Booking, error) {
	var booking models.Booking
	if err := d.db.WithContext(ctx).First(&booking, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("load booking %d: %w", id, err)
	}
	return &booking, nil
}
