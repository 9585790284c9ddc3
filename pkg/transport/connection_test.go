package transport_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/pdords-ai/beacon/pkg/transport"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

// connPair is a running server-side Connection with its client peer.
type connPair struct {
	conn       *transport.Connection
	client     *websocket.Conn
	closeCalls *atomic.Int32
}

func newConnPair(t *testing.T) *connPair {
	t.Helper()

	var wg sync.WaitGroup
	var closeCalls atomic.Int32
	connCh := make(chan *transport.Connection, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		c := transport.NewConnection(context.Background(), &wg, ws, transport.ConnectionConfig{ReadTimeout: time.Minute}, newTestLogger())
		c.SetMessageHandler(func(ctx context.Context, connID uuid.UUID, msg []byte) {})
		c.SetCloseHandler(func(connID uuid.UUID, err error) {
			closeCalls.Add(1)
		})
		connCh <- c
		c.Run()
		<-c.Done()
	}))
	t.Cleanup(srv.Close)

	dialCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, _, err := websocket.Dial(dialCtx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("failed to dial test server: %v", err)
	}
	t.Cleanup(func() { client.Close(websocket.StatusNormalClosure, "") })

	select {
	case conn := <-connCh:
		return &connPair{conn: conn, client: client, closeCalls: &closeCalls}
	case <-time.After(5 * time.Second):
		t.Fatal("server never produced a connection")
		return nil
	}
}

func (p *connPair) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-p.conn.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("connection never finished closing")
	}
}

func TestSendDeliversFrame(t *testing.T) {
	p := newConnPair(t)

	p.conn.Send([]byte("hello"))

	readCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	typ, data, err := p.client.Read(readCtx)
	if err != nil {
		t.Fatalf("client read failed: %v", err)
	}
	if typ != websocket.MessageText {
		t.Errorf("expected text frame, got %v", typ)
	}
	if string(data) != "hello" {
		t.Errorf("expected %q, got %q", "hello", string(data))
	}
}

func TestSendAfterCloseDoesNotPanic(t *testing.T) {
	p := newConnPair(t)

	p.conn.Close(nil)
	p.waitClosed(t)

	// Fire-and-forget: sends on a closed connection are dropped, never
	// blocked and never a crash. More sends than the buffer holds, so
	// both the buffered path and the drop path are exercised.
	for i := 0; i < 300; i++ {
		p.conn.Send([]byte("late frame"))
	}
}

func TestCloseHandlerRunsOnce(t *testing.T) {
	p := newConnPair(t)

	p.conn.Close(nil)
	p.conn.Close(errors.New("second close"))
	p.waitClosed(t)

	if got := p.closeCalls.Load(); got != 1 {
		t.Errorf("expected close handler to run exactly once, ran %d times", got)
	}
}

func TestClientDisconnectFiresCloseHandler(t *testing.T) {
	p := newConnPair(t)

	p.client.Close(websocket.StatusNormalClosure, "")
	p.waitClosed(t)

	if got := p.closeCalls.Load(); got != 1 {
		t.Errorf("expected close handler to run exactly once, ran %d times", got)
	}
}
