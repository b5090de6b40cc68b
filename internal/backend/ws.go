package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"aichat/internal/logging"
	"aichat/internal/types"

	"github.com/gorilla/websocket"
)

// maxFrameBytes bounds a single inbound frame.
const maxFrameBytes = 64 << 10

// inboundMessage is what clients send on /ws/{client_id}.
type inboundMessage struct {
	SessionID *string `json:"session_id"`
	Message   string  `json:"message"`
	UserID    string  `json:"user_id,omitempty"`
	Title     string  `json:"title,omitempty"`
}

// handleWebSocket upgrades the request and serves frames until the client leaves.
// A bearer token on the handshake is optional; an invalid one is rejected.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("client_id")
	log := logging.Get(logging.CategoryBackend)

	user, err := s.userFor(r)
	if errors.Is(err, errBadCredentials) {
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeDetail(w, http.StatusUnauthorized, err.Error())
		return
	}

	// Counted before the upgrade: once hijacked, http.Server.Shutdown no longer waits for us.
	s.wsWG.Add(1)
	defer s.wsWG.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("upgrade for %s failed: %v", clientID, err)
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	s.register(clientID, conn)
	defer s.unregister(clientID, conn)
	log.Info("client %s connected (user %q)", clientID, user)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("client %s read error: %v", clientID, err)
			} else {
				log.Info("client %s disconnected", clientID)
			}
			return
		}

		var in inboundMessage
		if err := json.Unmarshal(data, &in); err != nil || strings.TrimSpace(in.Message) == "" {
			log.Warn("client %s sent an invalid frame: %v", clientID, err)
			continue
		}

		out, err := s.exchange(r.Context(), user, in)
		if err != nil {
			log.Error("client %s: %v", clientID, err)
			continue
		}
		payload, err := json.Marshal(out)
		if err != nil {
			log.Error("encode reply: %v", err)
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Warn("client %s write failed: %v", clientID, err)
			return
		}
	}
}

// exchange resolves the session, records the user turn, asks the responder and records the reply.
func (s *Server) exchange(ctx context.Context, user string, in inboundMessage) (types.InboundFrame, error) {
	owner := user
	if owner == "" {
		owner = in.UserID
	}

	var session types.SessionDetail
	found := false
	if in.SessionID != nil && *in.SessionID != "" {
		existing, err := s.store.GetSession(ctx, *in.SessionID)
		switch {
		case err == nil && sessionOwnedBy(existing, owner):
			session, found = existing, true
		case err == nil:
			logging.BackendWarn("user %q tried to use session %s owned by %q", owner, existing.ID, existing.UserID)
		case !errors.Is(err, ErrNotFound):
			return types.InboundFrame{}, err
		}
	}
	if !found {
		created, err := s.store.CreateSession(ctx, owner, in.Title)
		if err != nil {
			return types.InboundFrame{}, err
		}
		session = created
	}

	if err := s.store.AppendMessage(ctx, session.ID, types.HistoryEntry{
		Content:   in.Message,
		Role:      types.SenderUser,
		Timestamp: s.now(),
	}); err != nil {
		return types.InboundFrame{}, err
	}

	replyCtx := ctx
	if s.replyTimeout > 0 {
		var cancel context.CancelFunc
		replyCtx, cancel = context.WithTimeout(ctx, s.replyTimeout)
		defer cancel()
	}
	reply, err := s.responder.Respond(replyCtx, Request{
		SessionID: session.ID,
		History:   session.Messages,
		Message:   in.Message,
	})
	if err != nil {
		logging.Get(logging.CategoryBackend).Error("responder %s failed: %v", s.responder.Name(), err)
		// The client is still owed a reply; the failure is not stored in history.
		return types.InboundFrame{
			SessionID: session.ID,
			Message:   "Sorry, I could not generate a response right now.",
			Timestamp: s.now(),
		}, nil
	}

	ts := s.now()
	if err := s.store.AppendMessage(ctx, session.ID, types.HistoryEntry{
		Content:   reply,
		Role:      types.SenderAssistant,
		Timestamp: ts,
	}); err != nil {
		return types.InboundFrame{}, err
	}

	return types.InboundFrame{SessionID: session.ID, Message: reply, Timestamp: ts}, nil
}

func (s *Server) register(clientID string, conn *websocket.Conn) {
	s.mu.Lock()
	old := s.clients[clientID]
	s.clients[clientID] = conn
	s.mu.Unlock()

	if old != nil {
		logging.BackendWarn("client %s reconnected; closing previous connection", clientID)
		old.Close()
	}
}

func (s *Server) unregister(clientID string, conn *websocket.Conn) {
	s.mu.Lock()
	if s.clients[clientID] == conn {
		delete(s.clients, clientID)
	}
	s.mu.Unlock()
	conn.Close()
}

// ConnectedClients returns the number of live WebSocket clients.
func (s *Server) ConnectedClients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// closeClients sends a going-away close frame to every client and drops the sockets.
func (s *Server) closeClients() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for _, c := range s.clients {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	for _, c := range conns {
		c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
		c.Close()
	}
}
