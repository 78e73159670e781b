package database

import (
	"gorm.io/gorm"

	"github.com/chachabrian/unipool-backend/internal/models"
)

func RunMigrations(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Ride{},
		&models.BookingRequest{},
		&models.Booking{},
		&models.Rating{},
		&models.Notification{},
		&models.DeviceToken{},
		&models.NotificationPreference{},
		&models.Chat{},
		&models.Message{},
	)
	if err != nil {
		return err
	}

	// A rider may hold at most one open request and one live booking per
	// ride. gorm tags cannot express partial indexes.
	statements := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_request_open
			ON booking_requests (ride_id, rider_id)
			WHERE status IN ('pending', 'accepted')`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_booking_open
			ON bookings (ride_id, rider_id)
			WHERE status <> 'cancelled'`,
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
