package event

import "encoding/json"

// Envelope is the wire shape for every message exchanged over a
// connection, in both directions.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Inbound event names (client -> server).
const (
	JoinRoom           = "join_room"
	LeaveRoom          = "leave_room"
	SendMessage        = "send_message"
	SendPrivateMessage = "send_private_message"
	TypingStart        = "typing_start"
	TypingStop         = "typing_stop"
	PostLiked          = "post_liked"
	CommentAdded       = "comment_added"
	UpdateStatus       = "update_status"
)

// Outbound event names (server -> client).
const (
	UserOnline         = "user_online"
	OnlineUsers        = "online_users"
	UserJoined         = "user_joined"
	UserLeft           = "user_left"
	NewMessage         = "new_message"
	PrivateMessage     = "private_message"
	PrivateMessageSent = "private_message_sent"
	UserTyping         = "user_typing"
	UserStoppedTyping  = "user_stopped_typing"
	Notification       = "notification"
	UserStatusUpdated  = "user_status_updated"
	UserOffline        = "user_offline"
	Error              = "error"
)

// Message content types. An empty type on an inbound message is
// normalized to TypeText.
const (
	TypeText  = "text"
	TypeImage = "image"
	TypeFile  = "file"
)

// Marshal wraps a payload in an Envelope and serializes the whole frame.
func Marshal(name string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: name, Payload: raw})
}
