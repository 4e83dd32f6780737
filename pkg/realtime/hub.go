package realtime

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// Conn is one client connection. Send must be safe for concurrent use.
type Conn interface {
	Send(ctx context.Context, ev Event) error
	Close() error
}

// Publisher relays events to every instance, this one included.
type Publisher interface {
	Publish(ctx context.Context, sessionID string, ev Event) error
}

type session struct {
	mu     sync.Mutex
	conns  map[Conn]string
	typing map[string]struct{}
	// retired is set once the session left the hub map; writers must look
	// it up again.
	retired bool
}

func (s *session) typingUsers() []string {
	users := make([]string, 0, len(s.typing))
	for u := range s.typing {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// Hub tracks connections and typing users per session. Typing state is local
// to the instance; events reach other instances through the Publisher.
type Hub struct {
	mu       sync.Mutex
	sessions map[string]*session
	bus      Publisher
}

func NewHub() *Hub {
	return &Hub{sessions: make(map[string]*session)}
}

// UseBus routes broadcasts through p. Delivery to local connections then
// happens when the bus hands the event back through Deliver.
func (h *Hub) UseBus(p Publisher) {
	h.mu.Lock()
	h.bus = p
	h.mu.Unlock()
}

func (h *Hub) session(id string, create bool) *session {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[id]
	if !ok && create {
		s = &session{conns: make(map[Conn]string), typing: make(map[string]struct{})}
		h.sessions[id] = s
	}
	return s
}

// acquire returns the live session locked.
func (h *Hub) acquire(id string) *session {
	for {
		s := h.session(id, true)
		s.mu.Lock()
		if !s.retired {
			return s
		}
		s.mu.Unlock()
	}
}

func (h *Hub) dropIfIdle(id string, s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 && len(s.typing) == 0 && h.sessions[id] == s {
		s.retired = true
		delete(h.sessions, id)
	}
}

// Connect registers conn and sends it the current typing set when someone
// is typing.
func (h *Hub) Connect(ctx context.Context, sessionID, userID string, conn Conn) error {
	s := h.acquire(sessionID)
	s.conns[conn] = userID
	users := s.typingUsers()
	s.mu.Unlock()
	if len(users) == 0 {
		return nil
	}
	return conn.Send(ctx, TypingStatus(users))
}

// Disconnect removes conn. A user who was typing is removed from the set and
// the corrected set is broadcast.
func (h *Hub) Disconnect(ctx context.Context, sessionID, userID string, conn Conn) {
	s := h.session(sessionID, false)
	if s == nil {
		return
	}
	s.mu.Lock()
	delete(s.conns, conn)
	_, wasTyping := s.typing[userID]
	delete(s.typing, userID)
	users := s.typingUsers()
	s.mu.Unlock()
	if wasTyping {
		h.Broadcast(ctx, sessionID, TypingStatus(users))
	}
	h.dropIfIdle(sessionID, s)
}

// SetTyping updates the user's typing flag and broadcasts the new set.
func (h *Hub) SetTyping(ctx context.Context, sessionID, userID string, typing bool) {
	s := h.acquire(sessionID)
	if typing {
		s.typing[userID] = struct{}{}
	} else {
		delete(s.typing, userID)
	}
	users := s.typingUsers()
	s.mu.Unlock()
	h.Broadcast(ctx, sessionID, TypingStatus(users))
	if !typing {
		h.dropIfIdle(sessionID, s)
	}
}

// TypingUsers returns the sorted typing set of a session.
func (h *Hub) TypingUsers(sessionID string) []string {
	s := h.session(sessionID, false)
	if s == nil {
		return []string{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typingUsers()
}

// Broadcast sends ev to every connection of the session, through the bus
// when one is configured. It never fails because one peer did.
func (h *Hub) Broadcast(ctx context.Context, sessionID string, ev Event) {
	h.mu.Lock()
	bus := h.bus
	h.mu.Unlock()
	if bus != nil {
		err := bus.Publish(ctx, sessionID, ev)
		if err == nil {
			return
		}
		slog.Warn("realtime publish failed, delivering locally", "session_id", sessionID, "err", err)
	}
	h.Deliver(ctx, sessionID, ev)
}

// Deliver sends ev to this instance's connections only. Connections whose
// send fails are dropped, and their users leave the typing set.
func (h *Hub) Deliver(ctx context.Context, sessionID string, ev Event) {
	s := h.session(sessionID, false)
	if s == nil {
		return
	}
	pending := []Event{ev}
	for len(pending) > 0 {
		ev, pending = pending[0], pending[1:]
		s.mu.Lock()
		targets := make(map[Conn]string, len(s.conns))
		for c, u := range s.conns {
			targets[c] = u
		}
		s.mu.Unlock()

		var dead []Conn
		for c := range targets {
			if err := c.Send(ctx, ev); err != nil {
				slog.Warn("realtime send failed, dropping connection", "session_id", sessionID, "user_id", targets[c], "err", err)
				dead = append(dead, c)
			}
		}
		if len(dead) == 0 {
			continue
		}
		s.mu.Lock()
		typingChanged := false
		for _, c := range dead {
			user := s.conns[c]
			delete(s.conns, c)
			if _, ok := s.typing[user]; ok {
				delete(s.typing, user)
				typingChanged = true
			}
		}
		users := s.typingUsers()
		s.mu.Unlock()
		for _, c := range dead {
			_ = c.Close()
		}
		if typingChanged {
			pending = append(pending, TypingStatus(users))
		}
	}
	h.dropIfIdle(sessionID, s)
}

// ConnCount reports the live connections of a session on this instance.
func (h *Hub) ConnCount(sessionID string) int {
	s := h.session(sessionID, false)
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
