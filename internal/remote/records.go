package remote

import (
	"strings"
	"time"
)

// Profile is a user's public identity.
type Profile struct {
	ID        string    `json:"id" validate:"required"`
	Username  string    `json:"username" validate:"required"`
	AvatarURL *string   `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Conversation is a two-party thread with a denormalized preview of its
// latest message.
type Conversation struct {
	ID              string     `json:"id" validate:"required"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	LastMessage     *string    `json:"last_message,omitempty"`
	LastMessageTime *time.Time `json:"last_message_time,omitempty"`
}

// Participant links one profile to one conversation.
type Participant struct {
	ID             string    `json:"id" validate:"required"`
	ConversationID string    `json:"conversation_id" validate:"required"`
	ProfileID      string    `json:"profile_id" validate:"required"`
	CreatedAt      time.Time `json:"created_at"`
	Profile        *Profile  `json:"profile,omitempty" validate:"omitempty"`
}

// PlaceholderPrefix marks client-generated ids of unconfirmed sends.
const PlaceholderPrefix = "temp-"

// Message is one chat message with its three delivery states.
type Message struct {
	ID             string     `json:"id" validate:"required"`
	Seq            int64      `json:"seq,omitempty"`
	ConversationID string     `json:"conversation_id" validate:"required"`
	ProfileID      string     `json:"profile_id" validate:"required"`
	Content        string     `json:"content"`
	CreatedAt      time.Time  `json:"created_at" validate:"required"`
	IsReceived     bool       `json:"is_received"`
	ReceivedAt     *time.Time `json:"received_at,omitempty"`
	IsDelivered    bool       `json:"is_delivered"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	IsRead         bool       `json:"is_read"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	Profile        *Profile   `json:"profile,omitempty" validate:"omitempty"`
}

// IsPlaceholder reports whether m is an optimistic send not yet stored.
func (m Message) IsPlaceholder() bool {
	return strings.HasPrefix(m.ID, PlaceholderPrefix)
}

// Has reports whether stage s is set on m.
func (m Message) Has(s Stage) bool {
	switch s {
	case Received:
		return m.IsReceived
	case Delivered:
		return m.IsDelivered
	case Read:
		return m.IsRead
	}
	return false
}

// Stage is one of the three ordered delivery states.
type Stage int

const (
	Received Stage = iota + 1
	Delivered
	Read
)

// Stages lists the delivery states in order.
var Stages = []Stage{Received, Delivered, Read}

func (s Stage) String() string {
	switch s {
	case Received:
		return "received"
	case Delivered:
		return "delivered"
	case Read:
		return "read"
	}
	return "unknown"
}

// FlagColumn is the boolean column holding s.
func (s Stage) FlagColumn() string { return "is_" + s.String() }

// TimeColumn is the timestamp column holding s.
func (s Stage) TimeColumn() string { return s.String() + "_at" }
