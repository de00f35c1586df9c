package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventUserRegistered  EventType = "user_registered"
	EventUserLoggedIn    EventType = "user_logged_in"
	EventUserLoginFailed EventType = "user_login_failed"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	UserID    string      `json:"user_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// NewEvent stamps an event with an id and time.
func NewEvent(eventType EventType, userID string, at time.Time, payload interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		UserID:    userID,
		Timestamp: at,
		Payload:   payload,
	}
}

// UserRegisteredPayload payload.
type UserRegisteredPayload struct {
	Email string `json:"email"`
}

// UserLoggedInPayload payload.
type UserLoggedInPayload struct {
	Email     string `json:"email"`
	ClientIP  string `json:"client_ip,omitempty"`
	ExpiresAt int64  `json:"expires_at"`
}

// UserLoginFailedPayload payload. Reason is internal only and never sent to clients.
type UserLoginFailedPayload struct {
	Email    string `json:"email"`
	ClientIP string `json:"client_ip,omitempty"`
	Reason   string `json:"reason"`
	Failures int    `json:"failures,omitempty"`
}
