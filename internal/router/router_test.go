package router_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/pdords-ai/beacon/internal/identity"
	"github.com/pdords-ai/beacon/internal/presence"
	"github.com/pdords-ai/beacon/internal/router"
	"github.com/pdords-ai/beacon/pkg/event"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

// fakeSink records every frame delivered to one connection.
type fakeSink struct {
	mu     sync.Mutex
	frames []event.Envelope
}

func (s *fakeSink) Send(message []byte) {
	var env event.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		panic(fmt.Sprintf("fake sink received unparseable frame: %v", err))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, env)
}

// count returns how many frames of the named event were delivered.
func (s *fakeSink) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.frames {
		if f.Event == name {
			n++
		}
	}
	return n
}

// last returns the payload of the most recent frame of the named event.
func (s *fakeSink) last(t *testing.T, name string) gjson.Result {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.frames) - 1; i >= 0; i-- {
		if s.frames[i].Event == name {
			return gjson.ParseBytes(s.frames[i].Payload)
		}
	}
	t.Fatalf("no %q frame delivered", name)
	return gjson.Result{}
}

type testConn struct {
	id   uuid.UUID
	sink *fakeSink
}

func newTestRouter() (*router.EventRouter, *presence.Registry) {
	registry := presence.NewRegistry(newTestLogger())
	return router.NewEventRouter(newTestLogger(), registry), registry
}

func connect(r *router.EventRouter, userID, username string) testConn {
	conn := testConn{id: uuid.New(), sink: &fakeSink{}}
	r.HandleConnect(conn.id, conn.sink, &identity.Identity{
		ID:       userID,
		Username: username,
		IsActive: true,
	}, "127.0.0.1")
	return conn
}

func dispatch(r *router.EventRouter, conn testConn, name, payload string) {
	frame := fmt.Sprintf(`{"event":%q,"payload":%s}`, name, payload)
	r.HandleMessage(context.Background(), conn.id, []byte(frame))
}

func joinRoom(r *router.EventRouter, conn testConn, roomID string) {
	dispatch(r, conn, event.JoinRoom, fmt.Sprintf("%q", roomID))
}

func TestConnectBroadcastsPresence(t *testing.T) {
	r, reg := newTestRouter()

	alice := connect(r, "u1", "alice")
	if got := alice.sink.count(event.UserOnline); got != 1 {
		t.Errorf("expected alice to see her own user_online, got %d", got)
	}
	if got := alice.sink.count(event.OnlineUsers); got != 1 {
		t.Errorf("expected exactly one online_users unicast, got %d", got)
	}

	bob := connect(r, "u2", "bob")
	if got := alice.sink.count(event.UserOnline); got != 2 {
		t.Errorf("expected alice to see bob come online, got %d broadcasts", got)
	}
	if got := bob.sink.count(event.OnlineUsers); got != 1 {
		t.Errorf("expected one online_users unicast to bob, got %d", got)
	}
	snapshot := bob.sink.last(t, event.OnlineUsers)
	if got := len(snapshot.Array()); got != 2 {
		t.Errorf("expected 2 users in bob's snapshot, got %d", got)
	}
	if reg.Len() != 2 {
		t.Errorf("expected 2 registry entries, got %d", reg.Len())
	}
}

func TestReconnectReplacesEntry(t *testing.T) {
	r, reg := newTestRouter()

	connect(r, "u1", "alice")
	connect(r, "u1", "alice")

	if reg.Len() != 1 {
		t.Errorf("reconnect duplicated registry entry: %d entries", reg.Len())
	}
}

func TestDisconnect(t *testing.T) {
	r, reg := newTestRouter()
	alice := connect(r, "u1", "alice")
	bob := connect(r, "u2", "bob")

	r.HandleDisconnect(alice.id, nil)

	if got := bob.sink.count(event.UserOffline); got != 1 {
		t.Fatalf("expected exactly one user_offline broadcast, got %d", got)
	}
	offline := bob.sink.last(t, event.UserOffline)
	if offline.Get("userId").String() != "u1" {
		t.Errorf("user_offline carried wrong user: %s", offline.Raw)
	}
	if _, ok := reg.Get("u1"); ok {
		t.Error("registry still contains disconnected user")
	}

	// A second close for the same connection is silent.
	r.HandleDisconnect(alice.id, nil)
	if got := bob.sink.count(event.UserOffline); got != 1 {
		t.Errorf("duplicate disconnect produced extra broadcast: %d", got)
	}
}

func TestSupersededDisconnectIsSilent(t *testing.T) {
	r, reg := newTestRouter()

	first := connect(r, "u1", "alice")
	second := connect(r, "u1", "alice")
	bob := connect(r, "u2", "bob")

	// The orphaned socket dying must not make alice appear offline.
	r.HandleDisconnect(first.id, nil)
	if got := bob.sink.count(event.UserOffline); got != 0 {
		t.Errorf("superseded close broadcast user_offline %d times", got)
	}
	if _, ok := reg.Get("u1"); !ok {
		t.Error("alice went offline after her old socket closed")
	}

	r.HandleDisconnect(second.id, nil)
	if got := bob.sink.count(event.UserOffline); got != 1 {
		t.Errorf("expected one user_offline for the live connection, got %d", got)
	}
}

func TestRoomMessageFanout(t *testing.T) {
	r, _ := newTestRouter()
	alice := connect(r, "u1", "alice")
	bob := connect(r, "u2", "bob")
	carol := connect(r, "u3", "carol")

	joinRoom(r, alice, "general")
	joinRoom(r, bob, "general")

	dispatch(r, alice, event.SendMessage, `{"roomId":"general","message":"hi","type":"text"}`)

	for _, conn := range []testConn{alice, bob} {
		if got := conn.sink.count(event.NewMessage); got != 1 {
			t.Fatalf("expected 1 new_message per room member, got %d", got)
		}
		msg := conn.sink.last(t, event.NewMessage)
		if msg.Get("message").String() != "hi" {
			t.Errorf("wrong message body: %s", msg.Raw)
		}
		if msg.Get("userId").String() != "u1" {
			t.Errorf("wrong message sender: %s", msg.Raw)
		}
		if msg.Get("id").String() == "" || !msg.Get("timestamp").Exists() {
			t.Errorf("message record missing id or timestamp: %s", msg.Raw)
		}
	}
	if got := carol.sink.count(event.NewMessage); got != 0 {
		t.Errorf("non-member received %d room messages", got)
	}
}

func TestRoomIsolation(t *testing.T) {
	r, _ := newTestRouter()
	alice := connect(r, "u1", "alice")
	bob := connect(r, "u2", "bob")
	joinRoom(r, alice, "r1")
	joinRoom(r, bob, "r2")

	dispatch(r, alice, event.SendMessage, `{"roomId":"r1","message":"hello r1"}`)

	if got := bob.sink.count(event.NewMessage); got != 0 {
		t.Errorf("message leaked across rooms: bob received %d", got)
	}
}

func TestSendMessageMissingFields(t *testing.T) {
	r, _ := newTestRouter()
	alice := connect(r, "u1", "alice")
	bob := connect(r, "u2", "bob")
	joinRoom(r, alice, "general")
	joinRoom(r, bob, "general")

	dispatch(r, alice, event.SendMessage, `{"roomId":"general"}`)

	if got := alice.sink.count(event.Error); got != 1 {
		t.Fatalf("expected exactly one error to sender, got %d", got)
	}
	errPayload := alice.sink.last(t, event.Error)
	if errPayload.Get("message").String() != "room id and message required" {
		t.Errorf("unexpected error message: %s", errPayload.Raw)
	}
	if alice.sink.count(event.NewMessage)+bob.sink.count(event.NewMessage) != 0 {
		t.Error("invalid message still fanned out")
	}
	if got := bob.sink.count(event.Error); got != 0 {
		t.Errorf("error leaked to another connection: %d", got)
	}
}

func TestMessageTypeDefaultsToText(t *testing.T) {
	r, _ := newTestRouter()
	alice := connect(r, "u1", "alice")
	joinRoom(r, alice, "general")

	dispatch(r, alice, event.SendMessage, `{"roomId":"general","message":"hi"}`)

	msg := alice.sink.last(t, event.NewMessage)
	if msg.Get("type").String() != event.TypeText {
		t.Errorf("expected type text, got %q", msg.Get("type").String())
	}
}

func TestPrivateMessage(t *testing.T) {
	r, _ := newTestRouter()
	alice := connect(r, "u1", "alice")
	bob := connect(r, "u2", "bob")
	carol := connect(r, "u3", "carol")

	dispatch(r, alice, event.SendPrivateMessage, `{"targetUserId":"u2","message":"psst","type":"text"}`)

	if got := bob.sink.count(event.PrivateMessage); got != 1 {
		t.Fatalf("expected 1 private_message to target, got %d", got)
	}
	if got := alice.sink.count(event.PrivateMessageSent); got != 1 {
		t.Fatalf("expected 1 confirmation to sender, got %d", got)
	}
	if carol.sink.count(event.PrivateMessage)+carol.sink.count(event.PrivateMessageSent) != 0 {
		t.Error("private message leaked to a third connection")
	}

	delivered := bob.sink.last(t, event.PrivateMessage)
	echoed := alice.sink.last(t, event.PrivateMessageSent)
	for _, field := range []string{"id", "message", "type", "timestamp", "fromUserId", "toUserId"} {
		if delivered.Get(field).String() != echoed.Get(field).String() {
			t.Errorf("field %q differs between delivery and echo", field)
		}
	}
	if delivered.Get("message").String() != "psst" {
		t.Errorf("wrong private message body: %s", delivered.Raw)
	}
}

func TestPrivateMessageTargetOffline(t *testing.T) {
	r, _ := newTestRouter()
	alice := connect(r, "u1", "alice")

	dispatch(r, alice, event.SendPrivateMessage, `{"targetUserId":"ghost","message":"anyone there"}`)

	if got := alice.sink.count(event.Error); got != 1 {
		t.Fatalf("expected exactly one error, got %d", got)
	}
	errPayload := alice.sink.last(t, event.Error)
	if errPayload.Get("message").String() != "target user not online" {
		t.Errorf("unexpected error message: %s", errPayload.Raw)
	}
	if got := alice.sink.count(event.PrivateMessageSent); got != 0 {
		t.Errorf("offline target still produced a confirmation: %d", got)
	}
}

func TestJoinAndLeaveNotifications(t *testing.T) {
	r, _ := newTestRouter()
	alice := connect(r, "u1", "alice")
	bob := connect(r, "u2", "bob")

	joinRoom(r, alice, "general")
	joinRoom(r, bob, "general")

	// Existing members see the join; the joiner does not.
	if got := alice.sink.count(event.UserJoined); got != 1 {
		t.Errorf("expected alice to see bob join, got %d", got)
	}
	if got := bob.sink.count(event.UserJoined); got != 0 {
		t.Errorf("joiner received its own user_joined %d times", got)
	}
	joined := alice.sink.last(t, event.UserJoined)
	if joined.Get("userId").String() != "u2" || joined.Get("roomId").String() != "general" {
		t.Errorf("wrong user_joined payload: %s", joined.Raw)
	}

	dispatch(r, bob, event.LeaveRoom, `"general"`)
	if got := alice.sink.count(event.UserLeft); got != 1 {
		t.Errorf("expected alice to see bob leave, got %d", got)
	}
}

func TestLeaveRoomNeverJoined(t *testing.T) {
	r, _ := newTestRouter()
	alice := connect(r, "u1", "alice")

	// No error, no crash: a no-op notify to an absent group.
	dispatch(r, alice, event.LeaveRoom, `"never-joined"`)
	if got := alice.sink.count(event.Error); got != 0 {
		t.Errorf("leave of unjoined room produced %d errors", got)
	}
}

func TestTypingIndicators(t *testing.T) {
	r, _ := newTestRouter()
	alice := connect(r, "u1", "alice")
	bob := connect(r, "u2", "bob")
	joinRoom(r, alice, "general")
	joinRoom(r, bob, "general")

	dispatch(r, alice, event.TypingStart, `{"roomId":"general"}`)
	if got := bob.sink.count(event.UserTyping); got != 1 {
		t.Errorf("expected bob to see typing indicator, got %d", got)
	}
	if got := alice.sink.count(event.UserTyping); got != 0 {
		t.Errorf("typing indicator echoed to sender %d times", got)
	}

	dispatch(r, alice, event.TypingStop, `{"roomId":"general"}`)
	if got := bob.sink.count(event.UserStoppedTyping); got != 1 {
		t.Errorf("expected bob to see typing stop, got %d", got)
	}

	// Missing room id silently no-ops.
	dispatch(r, alice, event.TypingStart, `{}`)
	if got := alice.sink.count(event.Error); got != 0 {
		t.Errorf("typing without room id produced %d errors", got)
	}
}

func TestDomainNotifications(t *testing.T) {
	r, _ := newTestRouter()
	alice := connect(r, "u1", "alice")
	author := connect(r, "u2", "bob")

	dispatch(r, alice, event.PostLiked, `{"postId":"p1","postTitle":"First Post","authorId":"u2"}`)

	if got := author.sink.count(event.Notification); got != 1 {
		t.Fatalf("expected 1 notification to author, got %d", got)
	}
	notif := author.sink.last(t, event.Notification)
	if notif.Get("type").String() != event.PostLiked {
		t.Errorf("wrong notification type: %s", notif.Raw)
	}
	if notif.Get("fromUser.userId").String() != "u1" {
		t.Errorf("wrong notification origin: %s", notif.Raw)
	}
	if notif.Get("postId").String() != "p1" {
		t.Errorf("notification lost post id: %s", notif.Raw)
	}

	dispatch(r, alice, event.CommentAdded, `{"postId":"p1","postTitle":"First Post","authorId":"u2","comment":"nice"}`)
	comment := author.sink.last(t, event.Notification)
	if comment.Get("type").String() != event.CommentAdded {
		t.Errorf("wrong notification type: %s", comment.Raw)
	}
	if comment.Get("comment").String() != "nice" {
		t.Errorf("comment body missing: %s", comment.Raw)
	}
}

func TestNotificationOfflineAuthorDropped(t *testing.T) {
	r, _ := newTestRouter()
	alice := connect(r, "u1", "alice")

	dispatch(r, alice, event.PostLiked, `{"postId":"p1","postTitle":"First Post","authorId":"ghost"}`)

	// Silently dropped: no error, no delivery anywhere.
	if got := alice.sink.count(event.Error); got != 0 {
		t.Errorf("offline author produced %d errors", got)
	}
	if got := alice.sink.count(event.Notification); got != 0 {
		t.Errorf("notification bounced back to sender %d times", got)
	}
}

func TestUpdateStatus(t *testing.T) {
	r, reg := newTestRouter()
	alice := connect(r, "u1", "alice")
	bob := connect(r, "u2", "bob")

	dispatch(r, alice, event.UpdateStatus, `{"status":"away"}`)

	// Status updates go to everyone, the sender included.
	for _, conn := range []testConn{alice, bob} {
		if got := conn.sink.count(event.UserStatusUpdated); got != 1 {
			t.Fatalf("expected 1 user_status_updated, got %d", got)
		}
		update := conn.sink.last(t, event.UserStatusUpdated)
		if update.Get("status").String() != "away" {
			t.Errorf("wrong status: %s", update.Raw)
		}
	}

	entry, ok := reg.Get("u1")
	if !ok || entry.Status != "away" {
		t.Error("registry entry status not mutated")
	}
}

func TestMalformedAndUnknownEventsDropped(t *testing.T) {
	r, _ := newTestRouter()
	alice := connect(r, "u1", "alice")

	r.HandleMessage(context.Background(), alice.id, []byte(`{not json`))
	dispatch(r, alice, "no_such_event", `{}`)

	if got := alice.sink.count(event.Error); got != 0 {
		t.Errorf("malformed input produced %d error events", got)
	}
}

func TestEventFromUnregisteredConnectionDropped(t *testing.T) {
	r, _ := newTestRouter()
	alice := connect(r, "u1", "alice")
	joinRoom(r, alice, "general")

	// An id the registry has never seen: dropped without fan-out.
	stranger := uuid.New()
	r.HandleMessage(context.Background(), stranger, []byte(`{"event":"send_message","payload":{"roomId":"general","message":"hi"}}`))

	if got := alice.sink.count(event.NewMessage); got != 0 {
		t.Errorf("unregistered connection reached the room: %d messages", got)
	}
}
