package router

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/pdords-ai/beacon/internal/presence"
	"github.com/pdords-ai/beacon/pkg/event"
)

// handlerFunc processes one validated inbound event from a registered
// sender.
type handlerFunc func(sender *presence.Entry, payload gjson.Result)

// EventRouter validates inbound events and fans them out to the
// correct sinks. It owns no transport state; everything it knows about
// live connections comes from the registry.
type EventRouter struct {
	logger   *slog.Logger
	registry *presence.Registry
	handlers map[string]handlerFunc
}

func NewEventRouter(logger *slog.Logger, registry *presence.Registry) *EventRouter {
	r := &EventRouter{
		logger:   logger.With(slog.String("component", "event_router")),
		registry: registry,
	}
	r.handlers = map[string]handlerFunc{
		event.JoinRoom:           r.handleJoinRoom,
		event.LeaveRoom:          r.handleLeaveRoom,
		event.SendMessage:        r.handleSendMessage,
		event.SendPrivateMessage: r.handleSendPrivateMessage,
		event.TypingStart:        r.handleTypingStart,
		event.TypingStop:         r.handleTypingStop,
		event.PostLiked:          r.handlePostLiked,
		event.CommentAdded:       r.handleCommentAdded,
		event.UpdateStatus:       r.handleUpdateStatus,
	}
	return r
}

// HandleMessage is the single dispatch point for inbound frames. The
// transport guarantees per-connection ordering; events from different
// connections may arrive here concurrently.
func (r *EventRouter) HandleMessage(ctx context.Context, connID uuid.UUID, msg []byte) {
	var env event.Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		r.logger.Warn("failed to unmarshal client message",
			slog.String("connID", connID.String()),
			slog.Any("error", err),
		)
		return
	}

	// A connection absent from the registry is either racing its own
	// disconnect or was superseded by a newer login; either way its
	// events are dropped.
	sender, ok := r.registry.GetByConn(connID)
	if !ok {
		r.logger.Warn("event from unregistered connection",
			slog.String("connID", connID.String()),
			slog.String("event", env.Event),
		)
		return
	}

	handler, ok := r.handlers[env.Event]
	if !ok {
		r.logger.Warn("received unknown event",
			slog.String("event", env.Event),
			slog.String("userID", sender.UserID),
		)
		return
	}

	r.logger.Debug("dispatching event",
		slog.String("event", env.Event),
		slog.String("userID", sender.UserID),
	)
	handler(sender, gjson.ParseBytes(env.Payload))
}

// send delivers one event to one sink, best effort.
func (r *EventRouter) send(sink presence.Sink, name string, payload any) {
	frame, err := event.Marshal(name, payload)
	if err != nil {
		r.logger.Error("failed to marshal outbound event",
			slog.String("event", name),
			slog.Any("error", err),
		)
		return
	}
	sink.Send(frame)
}

// fanOut marshals once and delivers to every sink.
func (r *EventRouter) fanOut(sinks []presence.Sink, name string, payload any) {
	if len(sinks) == 0 {
		return
	}
	frame, err := event.Marshal(name, payload)
	if err != nil {
		r.logger.Error("failed to marshal outbound event",
			slog.String("event", name),
			slog.Any("error", err),
		)
		return
	}
	for _, sink := range sinks {
		sink.Send(frame)
	}
}

// sendError reports a recoverable failure to the connection that
// caused it. Errors are never broadcast.
func (r *EventRouter) sendError(sender *presence.Entry, message string) {
	r.send(sender.Sink, event.Error, event.ErrorPayload{Message: message})
}
