package router

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/pdords-ai/beacon/internal/identity"
	"github.com/pdords-ai/beacon/internal/presence"
	"github.com/pdords-ai/beacon/pkg/event"
)

// HandleConnect registers an authenticated connection and announces it:
// a user_online broadcast to everyone (the new connection included)
// followed by an online_users snapshot to the new connection only.
func (r *EventRouter) HandleConnect(connID uuid.UUID, sink presence.Sink, user *identity.Identity, ipAddr string) *presence.Entry {
	entry := r.registry.Register(connID, sink, user, ipAddr)

	r.fanOut(r.registry.Sinks(), event.UserOnline, event.UserRef{
		UserID:   user.ID,
		Username: user.Username,
		Profile:  user.Profile,
	})

	online := r.registry.Snapshot()
	snapshot := make([]event.UserRef, 0, len(online))
	for _, e := range online {
		snapshot = append(snapshot, event.UserRef{
			UserID:   e.UserID,
			Username: e.User.Username,
			Profile:  e.User.Profile,
		})
	}
	r.send(sink, event.OnlineUsers, snapshot)

	r.logger.Info("user online",
		slog.String("userID", user.ID),
		slog.String("username", user.Username),
	)
	return entry
}

// HandleDisconnect removes the registry entry owned by connID and
// broadcasts the user going offline to the remaining connections. A
// close from a superseded connection removes nothing and stays silent.
func (r *EventRouter) HandleDisconnect(connID uuid.UUID, reason error) {
	entry, removed := r.registry.Remove(connID)
	if !removed {
		r.logger.Debug("close from unregistered connection",
			slog.String("connID", connID.String()),
		)
		return
	}

	r.fanOut(r.registry.Sinks(), event.UserOffline, event.Departure{
		UserID:   entry.UserID,
		Username: entry.User.Username,
	})
	r.logger.Info("user offline",
		slog.String("userID", entry.UserID),
		slog.Any("reason", reason),
	)
}
