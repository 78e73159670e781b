package models

import "time"

const (
	MinScore = 1
	MaxScore = 5
)

// Rating is one participant's score for another after a completed ride.
type Rating struct {
	ID        string    `json:"id" gorm:"primaryKey;size:64" firestore:"-"`
	RideID    string    `json:"rideId" gorm:"size:64;not null;uniqueIndex:idx_rating_once" firestore:"rideId"`
	RaterID   string    `json:"raterId" gorm:"size:128;not null;uniqueIndex:idx_rating_once" firestore:"raterId"`
	RateeID   string    `json:"rateeId" gorm:"size:128;not null;uniqueIndex:idx_rating_once;index" firestore:"rateeId"`
	RaterName string    `json:"raterName,omitempty" firestore:"raterName,omitempty"`
	Score     int       `json:"score" gorm:"not null;check:score >= 1 AND score <= 5" firestore:"score"`
	Comment   string    `json:"comment,omitempty" firestore:"comment,omitempty"`
	CreatedAt time.Time `json:"createdAt" firestore:"createdAt"`
}

// TableName specifies the table name
func (Rating) TableName() string {
	return "ratings"
}
