// Package dispatch pushes reconciled state to connected browser views.
package dispatch

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/carpool-sync/internal/observability"
)

const writeWait = 5 * time.Second

// Envelope is every frame sent to a view.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

var ErrNoSession = errors.New("no ws session")

// WSSession is one connected view.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) send(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, b)
}

// WSRegistry holds the sessions of every user; a user may have several tabs
// open.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[int64]map[*WSSession]struct{}
	logger   *slog.Logger
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSRegistry{sessions: make(map[int64]map[*WSSession]struct{}), logger: logger}
}

// Add registers conn for userID and serves it until the peer goes away.
// It blocks; run it on the upgrading goroutine.
func (r *WSRegistry) Add(userID int64, conn *websocket.Conn) {
	s := &WSSession{conn: conn}
	r.mu.Lock()
	if r.sessions[userID] == nil {
		r.sessions[userID] = make(map[*WSSession]struct{})
	}
	r.sessions[userID][s] = struct{}{}
	r.mu.Unlock()
	observability.PushClients.Inc()

	defer r.remove(userID, s)
	// views never send; reading only notices the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (r *WSRegistry) remove(userID int64, s *WSSession) {
	r.mu.Lock()
	set, ok := r.sessions[userID]
	if ok {
		if _, present := set[s]; present {
			delete(set, s)
			observability.PushClients.Dec()
		}
		if len(set) == 0 {
			delete(r.sessions, userID)
		}
	}
	r.mu.Unlock()
	_ = s.conn.Close()
}

// Push sends one envelope to every session of userID. Sessions that fail to
// take the write are dropped.
func (r *WSRegistry) Push(userID int64, typ string, payload any) error {
	b, err := json.Marshal(Envelope{Type: typ, Payload: payload})
	if err != nil {
		return err
	}
	r.mu.RLock()
	targets := make([]*WSSession, 0, len(r.sessions[userID]))
	for s := range r.sessions[userID] {
		targets = append(targets, s)
	}
	r.mu.RUnlock()
	if len(targets) == 0 {
		return ErrNoSession
	}
	for _, s := range targets {
		if err := s.send(b); err != nil {
			r.logger.Debug("ws send error", "user_id", userID, "error", err)
			r.remove(userID, s)
		}
	}
	return nil
}

func (r *WSRegistry) Connected(userID int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[userID])
}

// CloseUser disconnects every session of userID, e.g. on logout.
func (r *WSRegistry) CloseUser(userID int64) {
	r.mu.RLock()
	targets := make([]*WSSession, 0, len(r.sessions[userID]))
	for s := range r.sessions[userID] {
		targets = append(targets, s)
	}
	r.mu.RUnlock()
	for _, s := range targets {
		r.remove(userID, s)
	}
}
