package infra

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHub is a minimal hub endpoint: negotiate, handshake, then it records
// every invocation it receives.
type fakeHub struct {
	t         *testing.T
	srv       *httptest.Server
	rejectMsg string

	mu          sync.Mutex
	conns       []*websocket.Conn
	ids         []string
	invocations []hubInvocation
}

func newFakeHub(t *testing.T) *fakeHub {
	h := &fakeHub{t: t}
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/hub/negotiate", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "1", r.URL.Query().Get("negotiateVersion"))
		_ = json.NewEncoder(w).Encode(negotiateResponse{ConnectionID: "c1", ConnectionToken: "tok-1"})
	})
	mux.HandleFunc("/hub", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.mu.Lock()
		h.conns = append(h.conns, conn)
		h.ids = append(h.ids, r.URL.Query().Get("id"))
		h.mu.Unlock()
		go h.serve(conn)
	})
	h.srv = httptest.NewServer(mux)
	t.Cleanup(h.srv.Close)
	return h
}

func (h *fakeHub) serve(conn *websocket.Conn) {
	if _, _, err := conn.ReadMessage(); err != nil {
		return
	}
	reply := `{}`
	if h.rejectMsg != "" {
		reply = `{"error":"` + h.rejectMsg + `"}`
	}
	if err := conn.WriteMessage(websocket.TextMessage, append([]byte(reply), recordSeparator)); err != nil {
		return
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		for _, rec := range splitRecords(data) {
			var msg hubInvocation
			if json.Unmarshal(rec, &msg) == nil && msg.Type == hubMsgInvocation {
				h.mu.Lock()
				h.invocations = append(h.invocations, msg)
				h.mu.Unlock()
			}
		}
	}
}

func (h *fakeHub) url() string { return h.srv.URL + "/hub" }

func (h *fakeHub) received() []hubInvocation {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]hubInvocation(nil), h.invocations...)
}

func (h *fakeHub) connCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// closeLatest asks the client to go away with a protocol close message.
func (h *fakeHub) closeLatest() {
	h.mu.Lock()
	conn := h.conns[len(h.conns)-1]
	h.mu.Unlock()
	frame, _ := encodeHubFrame(hubInvocation{Type: hubMsgClose})
	_ = conn.WriteMessage(websocket.TextMessage, frame)
}

func TestHubClient_ConnectAndSend(t *testing.T) {
	hub := newFakeHub(t)
	c := NewHubClient(HubConfig{URL: hub.url(), KeepAlive: time.Hour})
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { _ = c.Close() })

	assert.Equal(t, ChannelConnected, c.State())
	require.NoError(t, c.Send(context.Background(), "ErrorReceived", "id-1", "ACME", false))

	require.Eventually(t, func() bool { return len(hub.received()) == 1 }, 2*time.Second, 10*time.Millisecond)
	got := hub.received()[0]
	assert.Equal(t, "ErrorReceived", got.Target)
	assert.Equal(t, []any{"id-1", "ACME", false}, got.Arguments)
	assert.Equal(t, []string{"tok-1"}, hub.ids)
}

func TestHubClient_HandshakeRejected(t *testing.T) {
	hub := newFakeHub(t)
	hub.rejectMsg = "unsupported protocol"
	c := NewHubClient(HubConfig{URL: hub.url()})

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported protocol")
	assert.Equal(t, ChannelDisconnected, c.State())
	assert.ErrorIs(t, c.Send(context.Background(), "UpdateCalendar"), ErrHubDisconnected)
}

func TestHubClient_ReconnectsAfterServerClose(t *testing.T) {
	hub := newFakeHub(t)
	c := NewHubClient(HubConfig{
		URL:             hub.url(),
		KeepAlive:       time.Hour,
		ReconnectDelays: []time.Duration{10 * time.Millisecond},
	})
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { _ = c.Close() })

	hub.closeLatest()

	require.Eventually(t, func() bool {
		return hub.connCount() == 2 && c.State() == ChannelConnected
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, c.Send(context.Background(), "UpdateLeadtime", map[string]any{"id": "x"}))
	require.Eventually(t, func() bool { return len(hub.received()) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubClient_SkipNegotiation(t *testing.T) {
	hub := newFakeHub(t)
	c := NewHubClient(HubConfig{URL: hub.url(), SkipNegotiation: true, KeepAlive: time.Hour})
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { _ = c.Close() })

	assert.Equal(t, []string{""}, hub.ids)
}

func TestHubClient_CloseIsIdempotent(t *testing.T) {
	hub := newFakeHub(t)
	c := NewHubClient(HubConfig{URL: hub.url(), KeepAlive: time.Hour})
	require.NoError(t, c.Connect(context.Background()))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, ChannelDisconnected, c.State())
	assert.ErrorIs(t, c.Send(context.Background(), "UpdateCalendar"), ErrHubDisconnected)
}

func TestToWebsocketURL(t *testing.T) {
	u, err := toWebsocketURL("https://dash.plant.example/hub?id=1")
	require.NoError(t, err)
	assert.Equal(t, "wss://dash.plant.example/hub?id=1", u)

	_, err = toWebsocketURL("ftp://x")
	assert.Error(t, err)
}

func TestSplitRecords(t *testing.T) {
	data := []byte("{\"type\":6}\x1e{\"type\":1}\x1e")
	assert.Len(t, splitRecords(data), 2)
	assert.Empty(t, splitRecords([]byte("\x1e")))
}
