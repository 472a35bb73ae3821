package infra

// hub.go
// Client for the dashboard's realtime hub. Speaks the SignalR JSON hub protocol
// over a gorilla/websocket connection: negotiate, handshake, then fire-and-forget
// invocations separated by the 0x1E record separator. The connection reconnects
// on its own with backoff; Send never blocks on a reconnect, it just fails.

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const recordSeparator = 0x1e

// Hub protocol message types.
const (
	hubMsgInvocation = 1
	hubMsgPing       = 6
	hubMsgClose      = 7
)

// ErrHubDisconnected is returned by Send while the hub connection is down.
var ErrHubDisconnected = errors.New("realtime hub is not connected")

// ChannelState is the lifecycle of a realtime connection.
type ChannelState int

const (
	ChannelDisconnected ChannelState = iota
	ChannelConnecting
	ChannelConnected
	ChannelReconnecting
)

func (s ChannelState) String() string {
	switch s {
	case ChannelConnecting:
		return "connecting"
	case ChannelConnected:
		return "connected"
	case ChannelReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// DefaultReconnectDelays mirrors the hub client's stock retry policy; the last
// delay repeats until the connection comes back.
var DefaultReconnectDelays = []time.Duration{0, 2 * time.Second, 10 * time.Second, 30 * time.Second}

// HubConfig holds connection settings for the realtime hub.
type HubConfig struct {
	URL             string
	AccessToken     string
	SkipNegotiation bool
	KeepAlive       time.Duration
	WriteTimeout    time.Duration
	ReconnectDelays []time.Duration
}

type hubInvocation struct {
	Type      int    `json:"type"`
	Target    string `json:"target,omitempty"`
	Arguments []any  `json:"arguments,omitempty"`
}

type negotiateResponse struct {
	ConnectionID    string `json:"connectionId"`
	ConnectionToken string `json:"connectionToken"`
	URL             string `json:"url"`
	AccessToken     string `json:"accessToken"`
	Error           string `json:"error"`
}

// HubClient is a realtime channel backed by a hub connection.
type HubClient struct {
	cfg        HubConfig
	httpClient *http.Client
	dialer     *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	state   ChannelState
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
	writeMu sync.Mutex
}

func NewHubClient(cfg HubConfig) *HubClient {
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 15 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if len(cfg.ReconnectDelays) == 0 {
		cfg.ReconnectDelays = DefaultReconnectDelays
	}
	return &HubClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		dialer:     &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
	}
}

// Connect opens the first connection. A failure here is returned to the caller;
// only later drops are retried automatically.
func (h *HubClient) Connect(ctx context.Context) error {
	h.mu.Lock()
	if h.cancel != nil {
		h.mu.Unlock()
		return errors.New("hub: already connected")
	}
	h.ctx, h.cancel = context.WithCancel(context.Background())
	h.state = ChannelConnecting
	h.mu.Unlock()

	if err := h.open(ctx); err != nil {
		h.mu.Lock()
		h.state = ChannelDisconnected
		h.cancel()
		h.cancel = nil
		h.mu.Unlock()
		return err
	}
	go h.keepAlive()
	log.Info().Str("url", h.cfg.URL).Msg("hub: connected")
	return nil
}

// State returns the current connection state.
func (h *HubClient) State() ChannelState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Send invokes target on the hub with the given arguments.
func (h *HubClient) Send(ctx context.Context, target string, args ...any) error {
	h.mu.Lock()
	conn, state := h.conn, h.state
	h.mu.Unlock()
	if conn == nil || state != ChannelConnected {
		return ErrHubDisconnected
	}
	if args == nil {
		args = []any{}
	}
	frame, err := encodeHubFrame(hubInvocation{Type: hubMsgInvocation, Target: target, Arguments: args})
	if err != nil {
		return fmt.Errorf("hub: encode %s: %w", target, err)
	}
	return h.write(ctx, conn, frame)
}

// Close stops reconnecting and closes the connection.
func (h *HubClient) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	conn := h.conn
	h.conn = nil
	h.state = ChannelDisconnected
	if h.cancel != nil {
		h.cancel()
	}
	h.mu.Unlock()

	if conn == nil {
		return nil
	}
	if frame, err := encodeHubFrame(hubInvocation{Type: hubMsgClose}); err == nil {
		_ = h.write(context.Background(), conn, frame)
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return conn.Close()
}

func (h *HubClient) write(ctx context.Context, conn *websocket.Conn, frame []byte) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	deadline := time.Now().Add(h.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("hub: write: %w", err)
	}
	return nil
}

// open negotiates, dials and completes the protocol handshake.
func (h *HubClient) open(ctx context.Context) error {
	wsURL, token, err := h.endpoint(ctx)
	if err != nil {
		return err
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := h.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return fmt.Errorf("hub: dial: %w", err)
	}

	if err := h.handshake(conn); err != nil {
		_ = conn.Close()
		return err
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return ErrHubDisconnected
	}
	h.conn = conn
	h.state = ChannelConnected
	h.mu.Unlock()

	go h.readLoop(conn)
	return nil
}

// endpoint resolves the websocket URL, running the negotiate round-trip unless skipped.
func (h *HubClient) endpoint(ctx context.Context) (string, string, error) {
	base, token := h.cfg.URL, h.cfg.AccessToken
	if !h.cfg.SkipNegotiation {
		neg, err := h.negotiate(ctx, base, token)
		if err != nil {
			return "", "", err
		}
		if neg.URL != "" {
			// redirected to another service
			base, token = neg.URL, neg.AccessToken
			if neg, err = h.negotiate(ctx, base, token); err != nil {
				return "", "", err
			}
		}
		id := neg.ConnectionToken
		if id == "" {
			id = neg.ConnectionID
		}
		base = withQuery(base, "id", id)
	}
	wsURL, err := toWebsocketURL(base)
	if err != nil {
		return "", "", err
	}
	return wsURL, token, nil
}

func (h *HubClient) negotiate(ctx context.Context, base, token string) (*negotiateResponse, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("hub: parse url: %w", err)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/negotiate"
	q := u.Query()
	q.Set("negotiateVersion", "1")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("hub: create negotiate request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hub: negotiate: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hub: negotiate returned %d", resp.StatusCode)
	}

	var neg negotiateResponse
	if err := json.NewDecoder(resp.Body).Decode(&neg); err != nil {
		return nil, fmt.Errorf("hub: decode negotiate: %w", err)
	}
	if neg.Error != "" {
		return nil, fmt.Errorf("hub: negotiate: %s", neg.Error)
	}
	return &neg, nil
}

func (h *HubClient) handshake(conn *websocket.Conn) error {
	req := append([]byte(`{"protocol":"json","version":1}`), recordSeparator)
	_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
		return fmt.Errorf("hub: send handshake: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.WriteTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("hub: read handshake: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	records := splitRecords(data)
	if len(records) == 0 {
		return errors.New("hub: empty handshake response")
	}
	var resp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(records[0], &resp); err != nil {
		return fmt.Errorf("hub: decode handshake: %w", err)
	}
	if resp.Error != "" {
		return fmt.Errorf("hub: handshake rejected: %s", resp.Error)
	}
	return nil
}

func (h *HubClient) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			h.connectionLost(conn, err)
			return
		}
		for _, rec := range splitRecords(data) {
			var msg struct {
				Type  int    `json:"type"`
				Error string `json:"error"`
			}
			if err := json.Unmarshal(rec, &msg); err != nil {
				log.Debug().Err(err).Msg("hub: ignoring malformed frame")
				continue
			}
			if msg.Type == hubMsgClose {
				_ = conn.Close()
				h.connectionLost(conn, fmt.Errorf("hub: server closed connection: %s", msg.Error))
				return
			}
		}
	}
}

// connectionLost moves to Reconnecting and retries with backoff until Close.
func (h *HubClient) connectionLost(conn *websocket.Conn, cause error) {
	h.mu.Lock()
	if h.closed || h.conn != conn {
		h.mu.Unlock()
		return
	}
	h.conn = nil
	h.state = ChannelReconnecting
	ctx := h.ctx
	h.mu.Unlock()

	log.Warn().Err(cause).Msg("hub: connection lost, reconnecting")

	for attempt := 0; ; attempt++ {
		delay := h.cfg.ReconnectDelays[min(attempt, len(h.cfg.ReconnectDelays)-1)]
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		if err := h.open(ctx); err != nil {
			log.Warn().Err(err).Int("attempt", attempt+1).Msg("hub: reconnect failed")
			continue
		}
		log.Info().Int("attempts", attempt+1).Msg("hub: reconnected")
		return
	}
}

func (h *HubClient) keepAlive() {
	h.mu.Lock()
	ctx := h.ctx
	h.mu.Unlock()

	ticker := time.NewTicker(h.cfg.KeepAlive)
	defer ticker.Stop()
	frame, _ := encodeHubFrame(hubInvocation{Type: hubMsgPing})
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.mu.Lock()
			conn, state := h.conn, h.state
			h.mu.Unlock()
			if conn != nil && state == ChannelConnected {
				if err := h.write(ctx, conn, frame); err != nil {
					log.Debug().Err(err).Msg("hub: keep-alive ping failed")
				}
			}
		}
	}
}

func encodeHubFrame(msg hubInvocation) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return append(b, recordSeparator), nil
}

func splitRecords(data []byte) [][]byte {
	var out [][]byte
	for _, rec := range bytes.Split(data, []byte{recordSeparator}) {
		if len(bytes.TrimSpace(rec)) > 0 {
			out = append(out, rec)
		}
	}
	return out
}

func withQuery(raw, key, value string) string {
	u, err := url.Parse(raw)
	if err != nil || value == "" {
		return raw
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}

func toWebsocketURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("hub: parse url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("hub: unsupported scheme %q", u.Scheme)
	}
	return u.String(), nil
}
