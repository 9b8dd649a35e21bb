package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"

	"github.com/lumipet/lumipet/priority"
)

var upgrader = websocket.Upgrader{}

// testServer accepts one WebSocket connection and pushes the given frames.
func testServer(t *testing.T, frames []Message) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range frames {
			if err := conn.WriteJSON(f); err != nil {
				return
			}
		}
		// Hold the connection open until the client disconnects.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

// recorder collects handled messages.
type recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *recorder) handle(msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) waitFor(t *testing.T, n int) []Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		if len(r.msgs) >= n {
			out := make([]Message, len(r.msgs))
			copy(out, r.msgs)
			r.mu.Unlock()
			return out
		}
		r.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestClient_DeliversMessagesInOrder(t *testing.T) {
	srv := testServer(t, []Message{
		{Type: TypeDialogue, ResponseID: "r1", Priority: 1},
		{Type: TypeExpression, ResponseID: "r1", Priority: 1},
	})
	defer srv.Close()

	rec := &recorder{}
	c := NewClient(wsURL(srv), rec.handle)
	assert.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	msgs := rec.waitFor(t, 2)
	assert.Len(t, msgs, 2)
	assert.Equal(t, TypeDialogue, msgs[0].Type)
	assert.Equal(t, TypeExpression, msgs[1].Type)
}

func TestClient_LowerPriorityMessagesDropped(t *testing.T) {
	srv := testServer(t, []Message{
		{Type: TypeDialogue, ResponseID: "high", Priority: 5},
		{Type: TypeDialogue, ResponseID: "low", Priority: 1},
		{Type: TypeDialogue, ResponseID: "high", Priority: 5},
	})
	defer srv.Close()

	rec := &recorder{}
	ctrl := priority.NewController()
	c := NewClient(wsURL(srv), rec.handle, func(o *ClientOptions) {
		o.Controller = ctrl
	})
	assert.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	msgs := rec.waitFor(t, 2)
	assert.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.Equal(t, "high", m.ResponseID)
	}
}

func TestClient_CompleteClearsSession(t *testing.T) {
	srv := testServer(t, []Message{
		{Type: TypeDialogue, ResponseID: "r1", Priority: 5},
		{Type: TypeComplete, ResponseID: "r1"},
		// After completion a lower-priority session is allowed in.
		{Type: TypeDialogue, ResponseID: "r2", Priority: 1},
	})
	defer srv.Close()

	rec := &recorder{}
	ctrl := priority.NewController()
	c := NewClient(wsURL(srv), rec.handle, func(o *ClientOptions) {
		o.Controller = ctrl
	})
	assert.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	msgs := rec.waitFor(t, 3)
	assert.Len(t, msgs, 3)
	assert.Equal(t, "r2", msgs[2].ResponseID)

	cur, ok := ctrl.Current()
	assert.True(t, ok)
	assert.Equal(t, "r2", cur.ResponseID)
}

func TestClient_AudioMarksSession(t *testing.T) {
	srv := testServer(t, []Message{
		{Type: TypeAudio, ResponseID: "r1", Priority: 1},
	})
	defer srv.Close()

	rec := &recorder{}
	ctrl := priority.NewController()
	c := NewClient(wsURL(srv), rec.handle, func(o *ClientOptions) {
		o.Controller = ctrl
	})
	assert.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	rec.waitFor(t, 1)
	cur, ok := ctrl.Current()
	assert.True(t, ok)
	assert.True(t, cur.AudioOn)
}

func TestClient_SendAfterCloseFails(t *testing.T) {
	srv := testServer(t, nil)
	defer srv.Close()

	c := NewClient(wsURL(srv), nil)
	assert.NoError(t, c.Connect(context.Background()))
	c.Close()

	err := c.Send(Message{Type: "ping"})
	assert.ErrorIs(t, err, ErrClosed)
}
