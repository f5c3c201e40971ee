// Package chat implements a small multi-user chat application on top of
// package transport/endpoint: username login, a shared room with bounded
// history, and direct messages. Deliberately thin, per the peripheral
// scope assigned to it.
package chat

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/xid"

	"github.com/duskline/rdtp/transport"
)

// Session is one logged-in chat participant: a username bound to the
// transport connection carrying its traffic. The wire-format conn_id is
// transport.Conn.ConnID; Session.ID is a separate, process-local xid
// identifying the chat participant, grounded on runZeroInc-sockstats's use
// of xid.New() to label live connections for its Prometheus collector.
type Session struct {
	ID       xid.ID
	Username string
	Conn     *transport.Conn
}

// Registry tracks logged-in sessions by username, used to route direct
// messages and to reject duplicate logins.
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]*Session
	byConnID map[uint32]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		byName:   make(map[string]*Session),
		byConnID: make(map[uint32]*Session),
	}
}

// Login registers username against conn, failing if the name is already
// taken by a live session.
func (r *Registry) Login(username string, conn *transport.Conn) (*Session, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errors.New("chat: username must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byName[username]; taken {
		return nil, errors.Errorf("chat: username %q already in use", username)
	}

	s := &Session{ID: xid.New(), Username: username, Conn: conn}
	r.byName[username] = s
	r.byConnID[conn.ConnID] = s
	return s, nil
}

// Logout removes a session, e.g. once its connection reaches CLOSED.
func (r *Registry) Logout(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byName, s.Username)
	delete(r.byConnID, s.Conn.ConnID)
}

// Lookup finds a live session by username, for direct-message routing.
func (r *Registry) Lookup(username string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[username]
	return s, ok
}

// Sessions returns a snapshot of every logged-in session, for room
// broadcast.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.byName))
	for _, s := range r.byName {
		out = append(out, s)
	}
	return out
}
