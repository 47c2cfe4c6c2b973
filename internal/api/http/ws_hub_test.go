package apihttp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"webtorrent/internal/domain"
)

// ---- helpers ----

// startTestHub creates a hub and runs it in a background goroutine. Fake
// clients have no conn, so tests unregister them instead of closing the hub.
func startTestHub(t *testing.T) *wsHub {
	t.Helper()
	hub := newWSHub(slog.Default())
	go hub.run()
	return hub
}

func unregisterAll(hub *wsHub, clients ...*wsClient) {
	for _, c := range clients {
		hub.unregister <- c
	}
	time.Sleep(20 * time.Millisecond)
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	resp.Body.Close()
	return conn
}

func readWSMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) wsMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read ws message: %v", err)
	}
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal ws message: %v (raw: %s)", err, data)
	}
	return msg
}

// waitClients polls until the hub reports n clients.
func waitClients(t *testing.T, hub *wsHub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.clientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", hub.clientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func sampleStates() []domain.TorrentState {
	return []domain.TorrentState{
		{
			ID:         "abc123",
			Name:       "Sintel",
			Ready:      true,
			TotalBytes: 200,
			DoneBytes:  140,
			Files: []domain.FileState{
				{FileInfo: domain.FileInfo{Index: 0, Path: "Sintel/a.mkv", Length: 150}, Downloaded: 120, Progress: 0.8},
				{FileInfo: domain.FileInfo{Index: 1, Offset: 150, Path: "Sintel/b.srt", Length: 50}, Downloaded: 20, Progress: 0.4},
			},
		},
		{ID: "def456", Name: "pending"},
	}
}

// ---- wsHub unit tests ----

func TestNewWSHub_Initialization(t *testing.T) {
	hub := newWSHub(slog.Default())
	if hub.clients == nil || len(hub.clients) != 0 {
		t.Fatalf("clients = %v, want empty map", hub.clients)
	}
	if hub.broadcast == nil || hub.register == nil || hub.unregister == nil || hub.done == nil {
		t.Fatal("hub channels not initialised")
	}
	if hub.clientCount() != 0 {
		t.Fatalf("clientCount = %d", hub.clientCount())
	}
}

func TestWSHub_RegisterUnregister(t *testing.T) {
	hub := startTestHub(t)

	clients := make([]*wsClient, 5)
	for i := range clients {
		clients[i] = &wsClient{hub: hub, send: make(chan []byte, 256)}
		hub.register <- clients[i]
	}
	waitClients(t, hub, 5)

	for i := 0; i < 3; i++ {
		hub.unregister <- clients[i]
	}
	waitClients(t, hub, 2)

	// Unknown clients are ignored.
	hub.unregister <- &wsClient{hub: hub, send: make(chan []byte, 1)}
	unregisterAll(hub, clients[3], clients[4])
	waitClients(t, hub, 0)
}

func TestWSHub_BroadcastToClients(t *testing.T) {
	hub := startTestHub(t)

	c1 := &wsClient{hub: hub, send: make(chan []byte, 256)}
	c2 := &wsClient{hub: hub, send: make(chan []byte, 256)}
	hub.register <- c1
	hub.register <- c2
	waitClients(t, hub, 2)

	hub.BroadcastStates(sampleStates())
	time.Sleep(20 * time.Millisecond)

	for i, c := range []*wsClient{c1, c2} {
		select {
		case data := <-c.send:
			var msg struct {
				Type string                `json:"type"`
				Data []domain.TorrentState `json:"data"`
			}
			if err := json.Unmarshal(data, &msg); err != nil {
				t.Fatalf("client %d: unmarshal: %v", i, err)
			}
			if msg.Type != "states" || len(msg.Data) != 2 {
				t.Fatalf("client %d: got %+v", i, msg)
			}
			if got := msg.Data[0].Files[1].Downloaded; got != 20 {
				t.Fatalf("client %d: file 1 downloaded = %d, want 20", i, got)
			}
		default:
			t.Fatalf("client %d: no message received", i)
		}
	}
	unregisterAll(hub, c1, c2)
}

func TestWSHub_BroadcastDropsSlowClient(t *testing.T) {
	hub := startTestHub(t)

	slow := &wsClient{hub: hub, send: make(chan []byte, 1)}
	hub.register <- slow
	waitClients(t, hub, 1)

	slow.send <- []byte("fill")
	hub.Broadcast("test", "x")

	waitClients(t, hub, 0)
}

func TestWSHub_BroadcastWithoutClients(t *testing.T) {
	hub := newWSHub(slog.Default())

	// The hub is not running: a queued message would sit in the channel.
	hub.BroadcastStates(sampleStates())
	hub.Broadcast("test", "x")
	if len(hub.broadcast) != 0 {
		t.Fatalf("queued %d messages with no clients", len(hub.broadcast))
	}
}

func TestWSHub_Broadcast_MarshalFailure(t *testing.T) {
	hub := startTestHub(t)

	client := &wsClient{hub: hub, send: make(chan []byte, 256)}
	hub.register <- client
	waitClients(t, hub, 1)

	hub.Broadcast("bad", make(chan int))
	time.Sleep(20 * time.Millisecond)

	select {
	case <-client.send:
		t.Fatal("should not receive message when marshal fails")
	default:
	}
	unregisterAll(hub, client)
}

// ---- WebSocket HTTP handler integration tests ----

func TestHandleWS_BroadcastStates(t *testing.T) {
	s := NewServer(nil)
	srv := httptest.NewServer(s)
	defer srv.Close()

	const numClients = 3
	conns := make([]*websocket.Conn, numClients)
	for i := range conns {
		conns[i] = dialWS(t, srv)
		defer conns[i].Close()
	}
	waitClients(t, s.wsHub, numClients)

	s.BroadcastStates(sampleStates())

	for i, conn := range conns {
		msg := readWSMessage(t, conn, 2*time.Second)
		if msg.Type != "states" {
			t.Fatalf("client %d: type = %q, want states", i, msg.Type)
		}
	}
}

func TestHandleWS_ClientDisconnect(t *testing.T) {
	s := NewServer(nil)
	srv := httptest.NewServer(s)
	defer srv.Close()

	conn := dialWS(t, srv)
	waitClients(t, s.wsHub, 1)

	conn.Close()
	waitClients(t, s.wsHub, 0)

	s.BroadcastStates(sampleStates())
}

func TestHandleWS_NonWSRequest(t *testing.T) {
	s := NewServer(nil)
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestBroadcastCurrentStates(t *testing.T) {
	list := &fakeListTorrentStates{result: sampleStates()}
	s := NewServer(nil, WithListTorrentStates(list))
	srv := httptest.NewServer(s)
	defer srv.Close()

	// Nobody connected: the states are not even listed.
	s.BroadcastCurrentStates(context.Background())
	if list.calls() != 0 {
		t.Fatalf("listed states %d times with no clients", list.calls())
	}

	conn := dialWS(t, srv)
	defer conn.Close()
	waitClients(t, s.wsHub, 1)

	s.BroadcastCurrentStates(context.Background())
	msg := readWSMessage(t, conn, 2*time.Second)
	if msg.Type != "states" {
		t.Fatalf("type = %q, want states", msg.Type)
	}
	if list.calls() != 1 {
		t.Fatalf("list calls = %d, want 1", list.calls())
	}
}

func TestBroadcastCurrentStates_ListError(t *testing.T) {
	list := &fakeListTorrentStates{err: context.DeadlineExceeded}
	s := NewServer(nil, WithListTorrentStates(list))
	srv := httptest.NewServer(s)
	defer srv.Close()

	conn := dialWS(t, srv)
	defer conn.Close()
	waitClients(t, s.wsHub, 1)

	s.BroadcastCurrentStates(context.Background())

	_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected read timeout, got message")
	}
}

func TestServer_NilHubIsSafe(t *testing.T) {
	s := &Server{}
	s.BroadcastStates(nil)
	s.BroadcastCurrentStates(context.Background())
	s.Close()
}

func TestServer_Close_DisconnectsClients(t *testing.T) {
	s := NewServer(nil)
	srv := httptest.NewServer(s)
	defer srv.Close()

	c1 := dialWS(t, srv)
	c2 := dialWS(t, srv)
	defer c1.Close()
	defer c2.Close()
	waitClients(t, s.wsHub, 2)

	s.Close()

	for i, c := range []*websocket.Conn{c1, c2} {
		_ = c.SetReadDeadline(time.Now().Add(time.Second))
		if _, _, err := c.ReadMessage(); err == nil {
			t.Fatalf("client %d: expected error after hub close", i)
		}
	}
}

func TestHandleWS_ConcurrentBroadcasts(t *testing.T) {
	s := NewServer(nil)
	srv := httptest.NewServer(s)
	defer srv.Close()

	conn := dialWS(t, srv)
	defer conn.Close()
	waitClients(t, s.wsHub, 1)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			s.BroadcastStates([]domain.TorrentState{{ID: domain.TorrentID("t" + string(rune('0'+idx)))}})
		}(i)
	}
	wg.Wait()

	received := 0
	for {
		_ = conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
		received++
	}
	if received == 0 {
		t.Fatal("expected at least one broadcast message")
	}
}

func TestWSHub_SkipsUnchangedSnapshot(t *testing.T) {
	hub := startTestHub(t)

	client := &wsClient{hub: hub, send: make(chan []byte, 8)}
	hub.register <- client
	waitClients(t, hub, 1)

	hub.BroadcastStates(sampleStates())
	hub.BroadcastStates(sampleStates())
	changed := sampleStates()
	changed[0].Files[1].Downloaded = 50
	hub.BroadcastStates(changed)
	time.Sleep(20 * time.Millisecond)

	if got := len(client.send); got != 2 {
		t.Fatalf("queued messages = %d, want 2", got)
	}
	unregisterAll(hub, client)
}

func TestWSHub_ReplaysLastSnapshotToNewClient(t *testing.T) {
	hub := startTestHub(t)

	first := &wsClient{hub: hub, send: make(chan []byte, 8)}
	hub.register <- first
	waitClients(t, hub, 1)
	hub.BroadcastStates(sampleStates())
	time.Sleep(20 * time.Millisecond)

	late := &wsClient{hub: hub, send: make(chan []byte, 8)}
	hub.register <- late
	waitClients(t, hub, 2)

	select {
	case data := <-late.send:
		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != wsTypeStates {
			t.Fatalf("replayed %s (%v)", data, err)
		}
	case <-time.After(time.Second):
		t.Fatal("new client got no snapshot")
	}
	unregisterAll(hub, first, late)
}
