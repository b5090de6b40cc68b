package backend

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"aichat/internal/logging"
	"aichat/internal/types"

	"github.com/gorilla/websocket"
)

// =============================================================================
// SERVER
// =============================================================================

// Server serves the session REST API and the live chat endpoint.
type Server struct {
	store     Store
	responder Responder
	tokens    map[string]string // bearer token -> user

	replyTimeout time.Duration
	maxConns     int
	now          func() time.Time

	upgrader websocket.Upgrader
	mux      *http.ServeMux

	mu      sync.Mutex
	clients map[string]*websocket.Conn
	wsWG    sync.WaitGroup
}

var _ http.Handler = (*Server)(nil)

// Option configures a Server.
type Option func(*Server)

// WithTokens sets the accepted bearer tokens and the user each one authenticates.
// With no tokens every non-empty token is accepted and names its own user.
func WithTokens(tokens map[string]string) Option {
	return func(s *Server) { s.tokens = tokens }
}

// WithReplyTimeout bounds each responder call.
func WithReplyTimeout(d time.Duration) Option {
	return func(s *Server) { s.replyTimeout = d }
}

// WithMaxConnections caps concurrent TCP connections accepted by Serve.
func WithMaxConnections(n int) Option {
	return func(s *Server) { s.maxConns = n }
}

// WithClock overrides the clock used for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// NewServer creates a server over store and responder.
func NewServer(store Store, responder Responder, opts ...Option) *Server {
	s := &Server{
		store:        store,
		responder:    responder,
		replyTimeout: 2 * time.Minute,
		now:          func() time.Time { return time.Now().UTC() },
		clients:      make(map[string]*websocket.Conn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients may be served from any origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.responder == nil {
		s.responder = EchoResponder{}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /sessions", s.authenticated(s.handleListSessions))
	mux.HandleFunc("POST /sessions", s.authenticated(s.handleCreateSession))
	mux.HandleFunc("GET /sessions/{id}", s.authenticated(s.handleGetSession))
	mux.HandleFunc("GET /ws/{client_id}", s.handleWebSocket)
	s.mux = mux

	if len(s.tokens) == 0 {
		logging.BackendWarn("no tokens configured: any bearer token is accepted as its own user")
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// =============================================================================
// AUTH
// =============================================================================

type userKey struct{}

var (
	errNoCredentials  = errors.New("Not authenticated")
	errBadCredentials = errors.New("Invalid authentication credentials")
)

// userFor resolves the Authorization header. An absent header yields errNoCredentials.
func (s *Server) userFor(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", errNoCredentials
	}
	scheme, token, ok := strings.Cut(h, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", errBadCredentials
	}
	if len(s.tokens) == 0 {
		return token, nil
	}
	user, ok := s.tokens[token]
	if !ok {
		return "", errBadCredentials
	}
	return user, nil
}

type authedHandler func(w http.ResponseWriter, r *http.Request, user string)

func (s *Server) authenticated(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := s.userFor(r)
		if err != nil {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeDetail(w, http.StatusUnauthorized, err.Error())
			return
		}
		next(w, r, user)
	}
}

// =============================================================================
// REST HANDLERS
// =============================================================================

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to AI Chat Application API"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request, user string) {
	sessions, err := s.store.ListSessions(r.Context(), user)
	if err != nil {
		logging.Get(logging.CategoryBackend).Error("list sessions for %s: %v", user, err)
		writeDetail(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request, user string) {
	title := r.URL.Query().Get("title")
	if title == "" && r.Body != nil {
		var body struct {
			Title string `json:"title"`
		}
		// An absent or non-JSON body just means no title.
		_ = json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&body)
		title = body.Title
	}

	session, err := s.store.CreateSession(r.Context(), user, strings.TrimSpace(title))
	if err != nil {
		logging.Get(logging.CategoryBackend).Error("create session for %s: %v", user, err)
		writeDetail(w, http.StatusInternalServerError, "Failed to create session")
		return
	}
	logging.Backend("user %s created session %s", user, session.ID)
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request, user string) {
	session, err := s.store.GetSession(r.Context(), r.PathValue("id"))
	if errors.Is(err, ErrNotFound) {
		writeDetail(w, http.StatusNotFound, "Session not found")
		return
	}
	if err != nil {
		logging.Get(logging.CategoryBackend).Error("get session: %v", err)
		writeDetail(w, http.StatusInternalServerError, "Failed to load session")
		return
	}
	if session.UserID != "" && session.UserID != user {
		writeDetail(w, http.StatusForbidden, "Not authorized to access this session")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Get(logging.CategoryBackend).Debug("write response: %v", err)
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// sessionOwnedBy reports whether user may use session. Unowned sessions are shared.
func sessionOwnedBy(session types.SessionDetail, user string) bool {
	return session.UserID == "" || user == "" || session.UserID == user
}
