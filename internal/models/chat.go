package models

import (
	"sort"
	"strings"
	"time"
)

// MaxMessageLength caps a chat message, counted in characters.
const MaxMessageLength = 1000

// ChatKey identifies the one conversation two users share, whichever of
// them opens it.
func ChatKey(userA, userB string) string {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return strings.Join(pair, "_")
}

// Chat is a two-person conversation, usually opened from a ride.
type Chat struct {
	ID string `json:"id" gorm:"primaryKey;size:64" firestore:"-"`
	// PairKey is ChatKey of the two participants and is unique.
	PairKey          string            `json:"-" gorm:"size:256;not null;uniqueIndex" firestore:"pairKey"`
	UserA            string            `json:"-" gorm:"size:128;not null;index" firestore:"userA"`
	UserB            string            `json:"-" gorm:"size:128;not null;index" firestore:"userB"`
	Participants     []string          `json:"participants" gorm:"serializer:json" firestore:"participants"`
	ParticipantNames map[string]string `json:"participantNames" gorm:"serializer:json" firestore:"participantNames"`
	RideID           string            `json:"rideId,omitempty" gorm:"size:64" firestore:"rideId,omitempty"`
	LastMessage      string            `json:"lastMessage" firestore:"lastMessage"`
	LastMessageAt    time.Time         `json:"lastMessageTime" gorm:"index" firestore:"lastMessageTime"`
	CreatedAt        time.Time         `json:"createdAt" firestore:"createdAt"`
}

// TableName specifies the table name
func (Chat) TableName() string {
	return "chats"
}

// NewChat returns an unsaved chat between a and b.
func NewChat(a, aName, b, bName, rideID string, at time.Time) *Chat {
	pair := []string{a, b}
	sort.Strings(pair)
	return &Chat{
		PairKey:          ChatKey(a, b),
		UserA:            pair[0],
		UserB:            pair[1],
		Participants:     []string{a, b},
		ParticipantNames: map[string]string{a: aName, b: bName},
		RideID:           rideID,
		LastMessageAt:    at,
		CreatedAt:        at,
	}
}

func (c *Chat) Has(userID string) bool {
	return userID != "" && (c.UserA == userID || c.UserB == userID)
}

// Other returns the participant that is not userID.
func (c *Chat) Other(userID string) string {
	if c.UserA == userID {
		return c.UserB
	}
	return c.UserA
}

// Message is one line in a chat. Read flips once the other participant
// has opened the chat.
type Message struct {
	ID         string    `json:"id" gorm:"primaryKey;size:64" firestore:"-"`
	ChatID     string    `json:"chatId" gorm:"size:64;not null;index" firestore:"chatId"`
	SenderID   string    `json:"senderId" gorm:"size:128;not null" firestore:"senderId"`
	SenderName string    `json:"senderName" firestore:"senderName"`
	Text       string    `json:"text" gorm:"not null" firestore:"text"`
	Read       bool      `json:"read" gorm:"not null;default:false" firestore:"read"`
	CreatedAt  time.Time `json:"createdAt" gorm:"index" firestore:"createdAt"`
}

// TableName specifies the table name
func (Message) TableName() string {
	return "messages"
}
