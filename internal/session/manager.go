package session

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/boardterm/relay/internal/protocol"
	"github.com/boardterm/relay/internal/pty"
)

// DefaultName labels sessions whose callers did not supply one.
const DefaultName = "terminal"

// Config holds configuration for the session manager.
type Config struct {
	// AllowedRoot is the directory requested working directories must
	// resolve under.
	AllowedRoot string

	// IdleTimeout is how long a session may stay inactive, attached or
	// not, before the sweeper reaps it.
	IdleTimeout time.Duration

	// SweepInterval is the period of the idle sweeper.
	SweepInterval time.Duration
}

// Manager is the process-scoped registry of terminal sessions. It is
// constructed at startup and torn down on shutdown by closing all sessions.
type Manager struct {
	cfg Config

	// now is injectable so tests can drive the idle sweep with a virtual
	// clock instead of waiting on real timers.
	now func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session manager with the given policy configuration.
func NewManager(cfg Config) *Manager {
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = time.Hour
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = time.Minute
	}
	return &Manager{
		cfg:      cfg,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// StartOrAttach resolves a session for the given id: an existing live session
// is reused (its activity refreshed), otherwise a new shell is spawned. An
// empty id always spawns a fresh session under a random id. A caller-supplied
// id that collides with a live session joins it without any ownership check;
// sessions are shared by convention.
func (m *Manager) StartOrAttach(sid, cwd, name string) (*Session, error) {
	if sid != "" {
		m.mu.RLock()
		sess := m.sessions[sid]
		m.mu.RUnlock()
		if sess != nil {
			sess.touch(m.now())
			return sess, nil
		}
	} else {
		sid = uuid.New().String()
	}

	if name == "" {
		name = DefaultName
	}

	sess := newSession(sid, name, m.now())

	proc, err := pty.Start(pty.StartOptions{
		Shell: resolveShell(),
		Dir:   m.resolveWorkdir(cwd),
		Env:   append(os.Environ(), "TERM=xterm-256color"),
		OnOutput: func(data []byte) {
			sess.history.Write(data)
			sess.touch(m.now())
			sess.broadcast(protocol.Data(data))
		},
		OnExit: func(err error) {
			m.handleExit(sess, err)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to spawn session: %w", err)
	}
	sess.proc = proc

	m.mu.Lock()
	if existing, ok := m.sessions[sid]; ok {
		// A concurrent caller won the spawn race for this id. Keep the
		// first process, discard ours.
		m.mu.Unlock()
		proc.Close()
		existing.touch(m.now())
		return existing, nil
	}
	m.sessions[sid] = sess
	m.mu.Unlock()

	log.Printf("session %s started (pid %d)", sid, proc.PID())
	return sess, nil
}

// Attach adds a client to the named session and sends it the connected ack.
// Returns ErrNotFound if the session is unknown or already being torn down.
func (m *Manager) Attach(sid string, c Client) error {
	m.mu.RLock()
	sess := m.sessions[sid]
	m.mu.RUnlock()

	if sess == nil {
		return ErrNotFound
	}
	return sess.attach(c, m.now())
}

// Detach removes a client from the named session. The session itself
// survives so the client can reattach later.
func (m *Manager) Detach(sid string, c Client) {
	m.mu.RLock()
	sess := m.sessions[sid]
	m.mu.RUnlock()

	if sess != nil {
		sess.detach(c)
	}
}

// Write forwards input bytes to the session's process.
func (m *Manager) Write(sid string, data []byte) error {
	m.mu.RLock()
	sess := m.sessions[sid]
	m.mu.RUnlock()

	if sess == nil {
		return ErrNotFound
	}
	sess.touch(m.now())
	return sess.proc.Write(data)
}

// Resize forwards a window size change to the session's process.
func (m *Manager) Resize(sid string, cols, rows uint16) error {
	m.mu.RLock()
	sess := m.sessions[sid]
	m.mu.RUnlock()

	if sess == nil {
		return ErrNotFound
	}
	sess.touch(m.now())
	return sess.proc.Resize(cols, rows)
}

// Close tears down the named session: the entry is removed synchronously so
// new operations see not-found immediately, then clients are force-closed and
// the process killed. Closing an unknown id returns ErrNotFound.
func (m *Manager) Close(sid string) error {
	m.mu.Lock()
	sess, ok := m.sessions[sid]
	if ok {
		delete(m.sessions, sid)
	}
	m.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	sess.terminate("")
	log.Printf("session %s closed", sid)
	return nil
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Get returns the named session, if live.
func (m *Manager) Get(sid string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[sid]
	return sess, ok
}

// Sweep reaps every session whose last activity is older than the idle
// timeout, attached clients notwithstanding. It returns the number of
// sessions removed.
func (m *Manager) Sweep(now time.Time) int {
	cutoff := now.Add(-m.cfg.IdleTimeout)

	m.mu.Lock()
	var expired []*Session
	for sid, sess := range m.sessions {
		if sess.idleSince(cutoff) {
			delete(m.sessions, sid)
			expired = append(expired, sess)
		}
	}
	m.mu.Unlock()

	for _, sess := range expired {
		sess.terminate("session closed due to inactivity")
		log.Printf("session %s reaped after idle timeout", sess.ID)
	}
	return len(expired)
}

// RunSweeper runs the periodic idle sweep until ctx is cancelled. Ticks are
// skipped, not queued, when the process falls behind.
func (m *Manager) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(m.now()); n > 0 {
				log.Printf("idle sweep reaped %d session(s)", n)
			}
		}
	}
}

// Shutdown closes every session. Used on server shutdown.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.terminate("server shutting down")
	}
}

// handleExit is the process exit subscriber: attached clients get an error
// frame and are closed, and the entry is removed. Exit is an implicit close.
// The entry is removed only when it still belongs to the exiting session: a
// duplicate process discarded by a losing concurrent start also fires this
// callback, and it must not tear down the winner registered under the same
// id.
func (m *Manager) handleExit(sess *Session, err error) {
	m.mu.Lock()
	current, ok := m.sessions[sess.ID]
	if ok && current == sess {
		delete(m.sessions, sess.ID)
	}
	m.mu.Unlock()

	if !ok || current != sess {
		// Already removed by an explicit close or the sweeper, or the
		// id is now owned by a different session.
		return
	}

	msg := "terminal process exited"
	if err != nil {
		msg = fmt.Sprintf("terminal process exited: %v", err)
	}
	sess.terminate(msg)
	log.Printf("session %s: %s", sess.ID, msg)
}

// resolveWorkdir normalizes the requested working directory and enforces the
// allowed-root boundary. Escapes and unusable paths fall back to the user
// home directory rather than failing the request.
func (m *Manager) resolveWorkdir(requested string) string {
	fallback, err := os.UserHomeDir()
	if err != nil {
		fallback = m.cfg.AllowedRoot
	}

	if requested == "" {
		return fallback
	}

	abs, err := filepath.Abs(filepath.Clean(requested))
	if err != nil {
		log.Printf("WARNING: cannot resolve workdir %q, falling back to %s", requested, fallback)
		return fallback
	}

	root := filepath.Clean(m.cfg.AllowedRoot)
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		log.Printf("WARNING: workdir %q escapes allowed root %q, falling back to %s", requested, root, fallback)
		return fallback
	}

	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		log.Printf("WARNING: workdir %q is not a directory, falling back to %s", abs, fallback)
		return fallback
	}
	return abs
}

// resolveShell picks the shell binary for new sessions.
func resolveShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "/bin/bash"
}
