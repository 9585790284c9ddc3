package presence

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pdords-ai/beacon/internal/identity"
)

// Sink is the outbound-addressing capability of one live connection.
// Implementations must be fire-and-forget: Send either queues the
// message or drops it, never blocks on delivery.
type Sink interface {
	Send(message []byte)
}

// Entry is the registry's record of one live, authenticated connection.
// A user has at most one entry; a later connection for the same user
// silently supersedes the earlier one.
type Entry struct {
	UserID      string
	ConnID      uuid.UUID
	Sink        Sink
	User        *identity.Identity
	IPAddress   string
	ConnectedAt time.Time

	// Mutated only under the registry lock, via UpdateStatus.
	Status       string
	LastActivity time.Time
}

// Registry is the process-wide connection registry plus the explicit
// room membership map. Absence of a user id here means that user is
// offline for every routing decision. All state shares one coarse
// mutex; the sweeper and the connection handlers use the same lock.
type Registry struct {
	mu     sync.Mutex
	byUser map[string]*Entry
	byConn map[uuid.UUID]*Entry
	rooms  map[string]map[string]struct{}

	now    func() time.Time
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		byUser: make(map[string]*Entry),
		byConn: make(map[uuid.UUID]*Entry),
		rooms:  make(map[string]map[string]struct{}),
		now:    time.Now,
		logger: logger.With(slog.String("component", "presence_registry")),
	}
}

// SetClock overrides the registry's time source. Tests use it to age
// entries without reaching into them; call it before any Register.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// Register inserts the entry for user.ID, replacing any prior entry
// (last-connected-wins). The superseded connection's socket is not
// closed; it simply stops receiving registry-routed messages. The
// superseded user's room memberships are cleared, since the new
// connection starts with none.
func (r *Registry) Register(connID uuid.UUID, sink Sink, user *identity.Identity, ipAddr string) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byUser[user.ID]; ok {
		delete(r.byConn, prev.ConnID)
		r.clearMembershipsLocked(user.ID)
		r.logger.Debug("superseding prior connection for user",
			slog.String("userID", user.ID),
			slog.String("oldConnID", prev.ConnID.String()),
		)
	}

	now := r.now()
	entry := &Entry{
		UserID:       user.ID,
		ConnID:       connID,
		Sink:         sink,
		User:         user,
		IPAddress:    ipAddr,
		ConnectedAt:  now,
		Status:       "online",
		LastActivity: now,
	}
	r.byUser[user.ID] = entry
	r.byConn[connID] = entry

	r.logger.Debug("connection registered",
		slog.String("userID", user.ID),
		slog.String("connID", connID.String()),
	)
	return entry
}

// Remove deletes the entry owned by connID, along with the owning
// user's room memberships. A close from a superseded connection finds
// no entry and is a no-op, so a reconnected user is not knocked
// offline by their old socket dying.
func (r *Registry) Remove(connID uuid.UUID) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byConn[connID]
	if !ok {
		return nil, false
	}
	delete(r.byConn, connID)
	delete(r.byUser, entry.UserID)
	r.clearMembershipsLocked(entry.UserID)

	r.logger.Debug("connection removed",
		slog.String("userID", entry.UserID),
		slog.String("connID", connID.String()),
	)
	return entry, true
}

func (r *Registry) Get(userID string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.byUser[userID]
	return entry, ok
}

func (r *Registry) GetByConn(connID uuid.UUID) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.byConn[connID]
	return entry, ok
}

// Snapshot returns every live entry, for the online-users unicast.
func (r *Registry) Snapshot() []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]*Entry, 0, len(r.byUser))
	for _, e := range r.byUser {
		entries = append(entries, e)
	}
	return entries
}

// Sinks returns the sinks of every live connection, for broadcasts.
func (r *Registry) Sinks() []Sink {
	r.mu.Lock()
	defer r.mu.Unlock()

	sinks := make([]Sink, 0, len(r.byUser))
	for _, e := range r.byUser {
		sinks = append(sinks, e.Sink)
	}
	return sinks
}

// UpdateStatus mutates the user's status and activity stamp. Returns
// false when the user is not online.
func (r *Registry) UpdateStatus(userID, status string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byUser[userID]
	if !ok {
		return nil, false
	}
	entry.Status = status
	entry.LastActivity = r.now()
	return entry, true
}

// Join adds the user to a room, creating the room on first join. Rooms
// are bare identifiers with no access control.
func (r *Registry) Join(userID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[roomID] = members
	}
	members[userID] = struct{}{}
	r.logger.Debug("user joined room", slog.String("userID", userID), slog.String("roomID", roomID))
}

// Leave removes the user from a room, deleting the room once empty.
// Leaving a room the user never joined is a no-op.
func (r *Registry) Leave(userID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(userID, roomID)
	r.logger.Debug("user left room", slog.String("userID", userID), slog.String("roomID", roomID))
}

// RoomSinks returns the sinks of every online member of a room,
// skipping excludeUserID when non-empty. An unknown room yields nil.
func (r *Registry) RoomSinks(roomID, excludeUserID string) []Sink {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	sinks := make([]Sink, 0, len(members))
	for userID := range members {
		if userID == excludeUserID {
			continue
		}
		if entry, online := r.byUser[userID]; online {
			sinks = append(sinks, entry.Sink)
		}
	}
	return sinks
}

// CountByIP reports live entries registered from the given address.
func (r *Registry) CountByIP(ipAddr string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, e := range r.byUser {
		if e.IPAddress == ipAddr {
			count++
		}
	}
	return count
}

// EvictStale removes every entry whose connection opened more than
// olderThan ago. The key is time since connect, not idle time, so a
// long-lived connection is evicted even while actively sending.
func (r *Registry) EvictStale(olderThan time.Duration) []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var evicted []*Entry
	for userID, entry := range r.byUser {
		if now.Sub(entry.ConnectedAt) <= olderThan {
			continue
		}
		delete(r.byUser, userID)
		delete(r.byConn, entry.ConnID)
		r.clearMembershipsLocked(userID)
		evicted = append(evicted, entry)
	}
	return evicted
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUser)
}

func (r *Registry) clearMembershipsLocked(userID string) {
	for roomID := range r.rooms {
		r.leaveLocked(userID, roomID)
	}
}

func (r *Registry) leaveLocked(userID, roomID string) {
	members, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(members, userID)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
}
