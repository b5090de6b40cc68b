// Package transport owns the single live WebSocket connection of a client instance.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"aichat/internal/auth"
	"aichat/internal/logging"
	"aichat/internal/types"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrNotOpen is returned by Send when the connection is not open.
// It matches types.ErrConnection under errors.Is.
var ErrNotOpen = types.NewError(types.KindConnection, "send", errors.New("connection not open"))

// closeWait bounds how long Close waits for the peer to acknowledge the close frame.
const closeWait = 2 * time.Second

// Manager establishes, owns and tears down the live connection.
// It is the only reader and writer of the socket: frames are read by a single
// goroutine and delivered in receipt order, writes are serialized.
type Manager struct {
	mu      sync.Mutex
	writeMu sync.Mutex

	baseURL          string
	dialer           *websocket.Dialer
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	tokens           auth.TokenSource

	state     types.ConnState
	conn      *websocket.Conn
	done      chan struct{}
	closing   bool
	onMessage func(types.InboundFrame)
	onState   func(types.ConnState, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialer replaces the WebSocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithHandshakeTimeout bounds the opening handshake.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(m *Manager) { m.handshakeTimeout = d }
}

// WithWriteTimeout sets the per-frame write deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(m *Manager) { m.writeTimeout = d }
}

// WithHandshakeToken sends "Authorization: Bearer <token>" on the opening handshake.
// Without it the handshake carries no credentials.
func WithHandshakeToken(src auth.TokenSource) Option {
	return func(m *Manager) { m.tokens = src }
}

// NewManager creates an idle manager for the backend at baseURL (http, https, ws or wss).
func NewManager(baseURL string, opts ...Option) *Manager {
	m := &Manager{
		baseURL:          baseURL,
		handshakeTimeout: 10 * time.Second,
		writeTimeout:     10 * time.Second,
		state:            types.ConnIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dialer == nil {
		d := *websocket.DefaultDialer
		d.HandshakeTimeout = m.handshakeTimeout
		m.dialer = &d
	}
	return m
}

// NewClientID returns a random identifier for this client instance.
// It addresses the connection and says nothing about the user.
func NewClientID() string {
	return uuid.NewString()
}

// Endpoint returns the WebSocket URL for clientID.
func Endpoint(baseURL, clientID string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q in %q", u.Scheme, baseURL)
	}
	if u.Host == "" {
		return "", fmt.Errorf("base url %q has no host", baseURL)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/" + url.PathEscape(clientID)
	u.RawPath = ""
	u.RawQuery = ""
	return u.String(), nil
}

// OnMessage registers the frame handler. A later call replaces the earlier one.
// The handler runs on the read goroutine and must not call Close.
func (m *Manager) OnMessage(fn func(types.InboundFrame)) {
	m.mu.Lock()
	m.onMessage = fn
	m.mu.Unlock()
}

// OnStateChange registers the lifecycle handler. The error accompanies
// errored and closed transitions caused by a failure.
func (m *Manager) OnStateChange(fn func(types.ConnState, error)) {
	m.mu.Lock()
	m.onState = fn
	m.mu.Unlock()
}

// State returns the current lifecycle state.
func (m *Manager) State() types.ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s types.ConnState, err error) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	fn := m.onState
	m.mu.Unlock()

	if prev == s {
		return
	}
	log := logging.Get(logging.CategoryTransport)
	if err != nil {
		log.Warn("%s -> %s: %v", prev, s, err)
	} else {
		log.Debug("%s -> %s", prev, s)
	}
	if fn != nil {
		fn(s, err)
	}
}

// fail moves through errored to closed.
func (m *Manager) fail(err error) {
	m.setState(types.ConnErrored, err)
	m.setState(types.ConnClosed, err)
}

// Connect opens the connection for clientID. It fails while a connection is
// connecting or open; after closed a new Connect is allowed.
func (m *Manager) Connect(ctx context.Context, clientID string) error {
	m.mu.Lock()
	if m.state == types.ConnConnecting || m.state == types.ConnOpen {
		state := m.state
		m.mu.Unlock()
		return types.NewError(types.KindConnection, "connect", fmt.Errorf("connection already %s", state))
	}
	m.closing = false
	m.mu.Unlock()

	m.setState(types.ConnConnecting, nil)

	endpoint, err := Endpoint(m.baseURL, clientID)
	if err != nil {
		err = types.NewError(types.KindValidation, "connect", err)
		m.fail(err)
		return err
	}

	header := http.Header{}
	if m.tokens != nil {
		tok, err := m.tokens.Token()
		if err != nil {
			err = types.NewError(types.KindUnauthorized, "connect", err)
			m.fail(err)
			return err
		}
		header.Set("Authorization", "Bearer "+tok)
	}

	dialCtx := ctx
	if m.handshakeTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, m.handshakeTimeout)
		defer cancel()
	}

	logging.Transport("dialing %s", endpoint)
	conn, resp, err := m.dialer.DialContext(dialCtx, endpoint, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		cerr := types.NewError(types.KindConnection, "connect", err)
		if resp != nil {
			cerr.Status = resp.StatusCode
			if resp.StatusCode == http.StatusUnauthorized {
				cerr.Kind = types.KindUnauthorized
			}
		}
		m.fail(cerr)
		return cerr
	}

	m.mu.Lock()
	if m.closing {
		// Close raced the handshake.
		m.mu.Unlock()
		conn.Close()
		m.setState(types.ConnClosed, nil)
		return types.NewError(types.KindConnection, "connect", errors.New("closed during handshake"))
	}
	done := make(chan struct{})
	m.conn = conn
	m.done = done
	m.mu.Unlock()

	m.setState(types.ConnOpen, nil)
	logging.Transport("connected to %s", endpoint)

	go m.readLoop(conn, done)
	return nil
}

// readLoop delivers frames until the connection ends.
func (m *Manager) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	log := logging.Get(logging.CategoryTransport)

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			m.finish(conn, err)
			return
		}
		if kind != websocket.TextMessage {
			log.Debug("ignoring non-text frame (type %d)", kind)
			continue
		}

		frame, err := types.DecodeInbound(data)
		if err != nil {
			log.Warn("skipping undecodable frame: %v", err)
			continue
		}
		log.Debug("received frame for session %q", frame.SessionID)

		m.mu.Lock()
		fn := m.onMessage
		m.mu.Unlock()
		if fn != nil {
			fn(frame)
		}
	}
}

// finish releases the socket after the read loop stops.
func (m *Manager) finish(conn *websocket.Conn, readErr error) {
	m.mu.Lock()
	closing := m.closing
	m.conn = nil
	m.mu.Unlock()

	conn.Close()

	switch {
	case closing:
		m.setState(types.ConnClosed, nil)
	case websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		m.setState(types.ConnClosed, types.NewError(types.KindConnection, "read", readErr))
	default:
		m.fail(types.NewError(types.KindConnection, "read", readErr))
	}
}

// Send writes env as a single text frame. Outside open it returns ErrNotOpen
// without touching the socket.
func (m *Manager) Send(env types.Envelope) error {
	m.mu.Lock()
	conn := m.conn
	open := m.state == types.ConnOpen && conn != nil && !m.closing
	m.mu.Unlock()
	if !open {
		return ErrNotOpen
	}

	data, err := json.Marshal(env)
	if err != nil {
		return types.NewError(types.KindValidation, "send", err)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if m.writeTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(m.writeTimeout))
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return types.NewError(types.KindConnection, "send", err)
	}
	logging.TransportDebug("sent frame for session %q", env.SessionID)
	return nil
}

// Close sends a close frame and waits for the read goroutine to exit.
// It is the only path that releases a healthy socket and is safe to call repeatedly.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.conn == nil {
		if m.state == types.ConnConnecting {
			m.closing = true
		}
		m.mu.Unlock()
		return nil
	}
	if m.closing {
		done := m.done
		m.mu.Unlock()
		<-done
		return nil
	}
	m.closing = true
	conn, done := m.conn, m.done
	m.mu.Unlock()

	m.writeMu.Lock()
	err := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeWait))
	m.writeMu.Unlock()
	if err != nil {
		logging.Get(logging.CategoryTransport).Debug("close frame not sent: %v", err)
		conn.Close()
	}

	select {
	case <-done:
	case <-time.After(closeWait):
		conn.Close()
		<-done
	}
	return nil
}
