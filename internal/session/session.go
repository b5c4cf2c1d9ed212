// Package session owns the lifecycle of PTY-backed terminal sessions: spawn,
// attach, detach, teardown and idle reaping.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/boardterm/relay/internal/buffer"
	"github.com/boardterm/relay/internal/protocol"
	"github.com/boardterm/relay/internal/pty"
)

// ErrNotFound is returned when operating on an unknown or already torn-down
// session id.
var ErrNotFound = errors.New("session not found")

// historySize is the per-session ring buffer capacity (64KB) used to replay
// recent output to reattaching clients.
const historySize = 64 * 1024

// Client is a live bidirectional connection attached to a session. Send must
// not block: a slow or closed client is the client's problem, never the
// broadcast loop's.
type Client interface {
	Send(data []byte)
	Close()
}

// Session is one PTY-backed shell plus its set of attached clients.
type Session struct {
	// ID is the opaque external handle, stable for the session's lifetime.
	ID string

	// Name is an optional human label, defaulting to "terminal".
	Name string

	proc    *pty.Process
	history *buffer.RingBuffer

	mu           sync.Mutex
	clients      map[Client]struct{}
	lastActivity time.Time
	closed       bool
}

func newSession(id, name string, now time.Time) *Session {
	return &Session{
		ID:           id,
		Name:         name,
		history:      buffer.NewRingBuffer(historySize),
		clients:      make(map[Client]struct{}),
		lastActivity: now,
	}
}

// touch refreshes the activity timestamp that drives idle eviction.
func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActivity = now
	s.mu.Unlock()
}

// idleSince reports whether the session has seen no activity since cutoff.
func (s *Session) idleSince(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity.Before(cutoff)
}

// attach adds a client to the session. It fails once teardown has begun so
// that an attach racing the idle sweeper sees not-found instead of joining a
// half-torn-down session.
func (s *Session) attach(c Client, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrNotFound
	}

	// The handshake ack and buffered history go to the new client only,
	// under the same lock that publishes it into the broadcast set, so no
	// concurrent output broadcast can deliver a data frame first.
	c.Send(protocol.Connected())
	if history := s.history.Bytes(); len(history) > 0 {
		c.Send(protocol.Data(history))
	}

	s.clients[c] = struct{}{}
	s.lastActivity = now
	return nil
}

// detach removes a client. The session survives with zero clients so that a
// later reconnect can reattach.
func (s *Session) detach(c Client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

// broadcast fans a frame out to a snapshot of the attached clients. Delivery
// is best-effort per client.
func (s *Session) broadcast(frame []byte) {
	s.mu.Lock()
	snapshot := make([]Client, 0, len(s.clients))
	for c := range s.clients {
		snapshot = append(snapshot, c)
	}
	s.mu.Unlock()

	for _, c := range snapshot {
		c.Send(frame)
	}
}

// ClientCount returns the number of attached clients.
func (s *Session) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// terminate marks the session unusable, optionally broadcasts a final error
// frame, force-closes all clients and kills the process. Idempotent.
func (s *Session) terminate(errMsg string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	snapshot := make([]Client, 0, len(s.clients))
	for c := range s.clients {
		snapshot = append(snapshot, c)
	}
	s.clients = make(map[Client]struct{})
	s.mu.Unlock()

	if errMsg != "" {
		frame := protocol.Error(errMsg)
		for _, c := range snapshot {
			c.Send(frame)
		}
	}
	for _, c := range snapshot {
		c.Close()
	}
	if s.proc != nil {
		s.proc.Close()
	}
}
