package main

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/mutwizard/common/engine"
	"github.com/lyzr/mutwizard/common/feedback"
	"github.com/lyzr/mutwizard/common/logger"
	"github.com/lyzr/mutwizard/common/mutation"
	"github.com/lyzr/mutwizard/common/residue"
)

func testLogger() *logger.Logger {
	return logger.New("error", "text")
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(testLogger())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-hub.done
	})
	return hub
}

// offlineClient has no connection; tests read its send channel directly
func offlineClient(hub *Hub, owner, runID string, buffer int) *Client {
	return &Client{hub: hub, owner: owner, runID: runID, send: make(chan []byte, buffer), log: testLogger()}
}

func receive(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func assertNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Fatalf("unexpected message %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_RoutesByOwnerAndRun(t *testing.T) {
	hub := startHub(t)

	alice := offlineClient(hub, "alice", "", 4)
	aliceRun := offlineClient(hub, "alice", "run-2", 4)
	bob := offlineClient(hub, "bob", "", 4)
	for _, c := range []*Client{alice, aliceRun, bob} {
		hub.register <- c
	}
	require.Eventually(t, func() bool { return hub.ConnectionCount() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, hub.OwnerCount())

	require.True(t, hub.Publish(&Message{Owner: "alice", RunID: "run-1", Data: []byte("one")}))
	assert.Equal(t, "one", string(receive(t, alice)))
	assertNothing(t, aliceRun)
	assertNothing(t, bob)

	require.True(t, hub.Publish(&Message{Owner: "alice", RunID: "run-2", Data: []byte("two")}))
	assert.Equal(t, "two", string(receive(t, alice)))
	assert.Equal(t, "two", string(receive(t, aliceRun)))
	assertNothing(t, bob)
}

func TestHub_UnregisterClosesOnce(t *testing.T) {
	hub := startHub(t)

	c := offlineClient(hub, "alice", "", 1)
	hub.register <- c
	hub.unregister <- c
	hub.unregister <- c

	require.Eventually(t, func() bool { return hub.ConnectionCount() == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-c.send
	assert.False(t, open)
	assert.Zero(t, hub.OwnerCount())
}

func TestHub_DropsSlowClient(t *testing.T) {
	hub := startHub(t)

	slow := offlineClient(hub, "alice", "", 1)
	hub.register <- slow

	hub.Publish(&Message{Owner: "alice", Data: []byte("1")})
	hub.Publish(&Message{Owner: "alice", Data: []byte("2")})

	require.Eventually(t, func() bool { return hub.ConnectionCount() == 0 }, time.Second, 5*time.Millisecond)

	// the buffered message is still delivered before the close
	assert.Equal(t, "1", string(<-slow.send))
	_, open := <-slow.send
	assert.False(t, open)

	// a late unregister from the read pump is harmless
	hub.leave(slow)
}

func TestSubscriber_ForwardRoutesByOwner(t *testing.T) {
	hub := startHub(t)
	c := offlineClient(hub, "alice", "", 4)
	hub.register <- c

	sub := NewRedisSubscriber(nil, "mutwizard:status", hub, testLogger())

	rot := 1
	rec := mutation.Record{Residue: residue.New("A", 1, ""), TargetType: "TRP", Status: mutation.StatusApplied, SelectedRotamer: &rot}
	status := feedback.NewStatusMessage("alice", engine.Event{RunID: uuid.New(), Mode: engine.ModeBatch, Record: rec, Previous: mutation.StatusInProgress})
	payload, err := json.Marshal(status)
	require.NoError(t, err)

	require.NoError(t, sub.forward(payload))
	assert.JSONEq(t, string(payload), string(receive(t, c)))

	assert.Error(t, sub.forward([]byte("{")))
	assert.Error(t, sub.forward([]byte(`{"run_id":"x"}`)))
}

func TestServer_StreamsOverWebSocket(t *testing.T) {
	hub := startHub(t)

	e := echo.New()
	s := NewServer(hub, testLogger())
	e.GET("/ws", s.HandleWebSocket)
	e.GET("/stats", s.Stats)
	srv := httptest.NewServer(e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?owner=alice"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ConnectionCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	hub.Publish(&Message{Owner: "bob", Data: []byte(`{"for":"bob"}`)})
	hub.Publish(&Message{Owner: "alice", RunID: "r1", Data: []byte(`{"for":"alice"}`)})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	assert.JSONEq(t, `{"for":"alice"}`, string(msg))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest("GET", "/stats", nil))
	assert.JSONEq(t, `{"connections":1,"owners":1}`, rec.Body.String())

	conn.Close()
	require.Eventually(t, func() bool { return hub.ConnectionCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}
