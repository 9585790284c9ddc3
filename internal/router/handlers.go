package router

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/pdords-ai/beacon/internal/presence"
	"github.com/pdords-ai/beacon/pkg/event"
)

// newMessageID generates a time-based message id, unique enough for a
// single-process fan-out with no persistence behind it.
func newMessageID() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}

func normalizeType(t string) string {
	if t == "" {
		return event.TypeText
	}
	return t
}

// roomIDFromPayload accepts the room id as a bare JSON string, which is
// how join_room and leave_room carry it on the wire.
func roomIDFromPayload(payload gjson.Result) string {
	if payload.Type == gjson.String {
		return payload.String()
	}
	return payload.Get("roomId").String()
}

func (r *EventRouter) handleJoinRoom(sender *presence.Entry, payload gjson.Result) {
	roomID := roomIDFromPayload(payload)
	if roomID == "" {
		return
	}

	r.registry.Join(sender.UserID, roomID)

	// Notify the existing members, not the joiner.
	r.fanOut(r.registry.RoomSinks(roomID, sender.UserID), event.UserJoined, event.RoomPresence{
		UserID:   sender.UserID,
		Username: sender.User.Username,
		Profile:  sender.User.Profile,
		RoomID:   roomID,
	})
	r.logger.Info("user joined room",
		slog.String("userID", sender.UserID),
		slog.String("roomID", roomID),
	)
}

func (r *EventRouter) handleLeaveRoom(sender *presence.Entry, payload gjson.Result) {
	roomID := roomIDFromPayload(payload)
	if roomID == "" {
		return
	}

	r.registry.Leave(sender.UserID, roomID)

	r.fanOut(r.registry.RoomSinks(roomID, sender.UserID), event.UserLeft, event.RoomDeparture{
		UserID:   sender.UserID,
		Username: sender.User.Username,
		RoomID:   roomID,
	})
	r.logger.Info("user left room",
		slog.String("userID", sender.UserID),
		slog.String("roomID", roomID),
	)
}

func (r *EventRouter) handleSendMessage(sender *presence.Entry, payload gjson.Result) {
	roomID := payload.Get("roomId").String()
	message := payload.Get("message").String()
	if roomID == "" || message == "" {
		r.sendError(sender, "room id and message required")
		return
	}

	record := event.RoomMessage{
		ID:        newMessageID(),
		UserID:    sender.UserID,
		Username:  sender.User.Username,
		Profile:   sender.User.Profile,
		Message:   message,
		Type:      normalizeType(payload.Get("type").String()),
		Timestamp: time.Now(),
		RoomID:    roomID,
	}

	// The sender receives its own echo through the room fan-out, not a
	// separate path.
	r.fanOut(r.registry.RoomSinks(roomID, ""), event.NewMessage, record)
}

func (r *EventRouter) handleSendPrivateMessage(sender *presence.Entry, payload gjson.Result) {
	targetUserID := payload.Get("targetUserId").String()
	message := payload.Get("message").String()
	if targetUserID == "" || message == "" {
		r.sendError(sender, "target user id and message required")
		return
	}

	target, online := r.registry.Get(targetUserID)
	if !online {
		// No offline queuing: the message is refused, not deferred.
		r.sendError(sender, "target user not online")
		return
	}

	record := event.DirectMessage{
		ID:           newMessageID(),
		FromUserID:   sender.UserID,
		FromUsername: sender.User.Username,
		FromProfile:  sender.User.Profile,
		ToUserID:     targetUserID,
		Message:      message,
		Type:         normalizeType(payload.Get("type").String()),
		Timestamp:    time.Now(),
	}

	// Two independent best-effort sends; one failing does not affect
	// the other.
	r.send(target.Sink, event.PrivateMessage, record)
	r.send(sender.Sink, event.PrivateMessageSent, record)
}

func (r *EventRouter) handleTypingStart(sender *presence.Entry, payload gjson.Result) {
	r.notifyTyping(sender, payload, event.UserTyping)
}

func (r *EventRouter) handleTypingStop(sender *presence.Entry, payload gjson.Result) {
	r.notifyTyping(sender, payload, event.UserStoppedTyping)
}

// notifyTyping goes to the other members of the room only. A missing
// room id silently no-ops.
func (r *EventRouter) notifyTyping(sender *presence.Entry, payload gjson.Result, name string) {
	roomID := payload.Get("roomId").String()
	if roomID == "" {
		return
	}
	r.fanOut(r.registry.RoomSinks(roomID, sender.UserID), name, event.TypingIndicator{
		UserID:   sender.UserID,
		Username: sender.User.Username,
		RoomID:   roomID,
	})
}

func (r *EventRouter) handlePostLiked(sender *presence.Entry, payload gjson.Result) {
	message := fmt.Sprintf("%s liked your post %q",
		sender.User.Username, payload.Get("postTitle").String())
	r.notifyAuthor(sender, payload, event.PostLiked, message, "")
}

func (r *EventRouter) handleCommentAdded(sender *presence.Entry, payload gjson.Result) {
	message := fmt.Sprintf("%s commented on your post %q",
		sender.User.Username, payload.Get("postTitle").String())
	r.notifyAuthor(sender, payload, event.CommentAdded, message, payload.Get("comment").String())
}

// notifyAuthor delivers a domain notification to the post author's
// live connection. An offline author means the notification is
// silently dropped; nothing is persisted or retried.
func (r *EventRouter) notifyAuthor(sender *presence.Entry, payload gjson.Result, kind, message, comment string) {
	authorID := payload.Get("authorId").String()
	author, online := r.registry.Get(authorID)
	if !online {
		r.logger.Debug("dropping notification for offline author",
			slog.String("type", kind),
			slog.String("authorID", authorID),
		)
		return
	}

	r.send(author.Sink, event.Notification, event.DomainNotification{
		Type:    kind,
		Message: message,
		PostID:  payload.Get("postId").String(),
		Comment: comment,
		FromUser: event.UserRef{
			UserID:   sender.UserID,
			Username: sender.User.Username,
			Profile:  sender.User.Profile,
		},
		Timestamp: time.Now(),
	})
}

func (r *EventRouter) handleUpdateStatus(sender *presence.Entry, payload gjson.Result) {
	status := payload.Get("status").String()
	r.registry.UpdateStatus(sender.UserID, status)

	// Status changes go to every connected client, not just rooms the
	// sender is in.
	r.fanOut(r.registry.Sinks(), event.UserStatusUpdated, event.StatusUpdate{
		UserID:    sender.UserID,
		Username:  sender.User.Username,
		Status:    status,
		Timestamp: time.Now(),
	})
}
