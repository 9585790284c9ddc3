package event

import (
	"encoding/json"
	"time"
)

// UserRef identifies a user in presence and notification payloads.
type UserRef struct {
	UserID   string          `json:"userId"`
	Username string          `json:"username"`
	Profile  json.RawMessage `json:"profile,omitempty"`
}

// RoomPresence announces a user joining a room to its other members.
type RoomPresence struct {
	UserID   string          `json:"userId"`
	Username string          `json:"username"`
	Profile  json.RawMessage `json:"profile,omitempty"`
	RoomID   string          `json:"roomId"`
}

// RoomDeparture announces a user leaving a room.
type RoomDeparture struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	RoomID   string `json:"roomId"`
}

// RoomMessage is the record fanned out to every member of a room,
// the sender included.
type RoomMessage struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Username  string          `json:"username"`
	Profile   json.RawMessage `json:"profile,omitempty"`
	Message   string          `json:"message"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	RoomID    string          `json:"roomId"`
}

// DirectMessage is delivered to the target connection and echoed to
// the sender as a confirmation copy.
type DirectMessage struct {
	ID           string          `json:"id"`
	FromUserID   string          `json:"fromUserId"`
	FromUsername string          `json:"fromUsername"`
	FromProfile  json.RawMessage `json:"fromProfile,omitempty"`
	ToUserID     string          `json:"toUserId"`
	Message      string          `json:"message"`
	Type         string          `json:"type"`
	Timestamp    time.Time       `json:"timestamp"`
}

// TypingIndicator is broadcast to the other members of a room while a
// user types.
type TypingIndicator struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	RoomID   string `json:"roomId"`
}

// DomainNotification carries a like or comment event to the affected
// post's author, if that author is online.
type DomainNotification struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	PostID    string    `json:"postId"`
	Comment   string    `json:"comment,omitempty"`
	FromUser  UserRef   `json:"fromUser"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusUpdate is broadcast to every connected client when a user
// changes their status.
type StatusUpdate struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Departure announces a user going offline.
type Departure struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// ErrorPayload is sent only to the connection that caused the error.
type ErrorPayload struct {
	Message string `json:"message"`
}
