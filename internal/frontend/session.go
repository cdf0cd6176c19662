package frontend

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jo-hoe/goberry/internal/history"
	"github.com/jo-hoe/goberry/internal/workflow"
	"github.com/labstack/echo/v4"
)

const clientCookieName = "goberry_client"

// Session is the server-side state of one browser.
type Session struct {
	ID       string
	Workflow *workflow.Workflow
	History  *history.Store

	mu       sync.Mutex
	lastSeen time.Time
	preview  string
	alerted  error
}

// SetPreview remembers the inline preview of the selected image.
func (s *Session) SetPreview(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preview = uri
}

func (s *Session) Preview() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preview
}

// shouldAlert reports whether err has not been alerted yet.
func (s *Session) shouldAlert(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil || err == s.alerted {
		return false
	}
	s.alerted = err
	return true
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSeen)
}

func (s *Session) close() {
	s.Workflow.Close()
	s.History.Close()
}

// SessionFactory builds the per-client components.
type SessionFactory interface {
	NewWorkflow() *workflow.Workflow
	NewHistoryStore() *history.Store
}

// SessionManager maps the client id cookie to sessions and evicts idle ones.
type SessionManager struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	factory     SessionFactory
	idleTimeout time.Duration
	now         func() time.Time
}

func NewSessionManager(factory SessionFactory, idleTimeout time.Duration) *SessionManager {
	return &SessionManager{
		sessions:    make(map[string]*Session),
		factory:     factory,
		idleTimeout: idleTimeout,
		now:         time.Now,
	}
}

// Get returns the session of the requesting client, creating the session and
// the cookie when needed.
func (m *SessionManager) Get(ctx echo.Context) *Session {
	id := ""
	if cookie, err := ctx.Cookie(clientCookieName); err == nil {
		if parsed, perr := uuid.Parse(cookie.Value); perr == nil {
			id = parsed.String()
		}
	}
	if id == "" {
		id = uuid.NewString()
	}

	ctx.SetCookie(&http.Cookie{
		Name:     clientCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int((365 * 24 * time.Hour).Seconds()),
	})

	now := m.now()
	m.mu.Lock()
	session, ok := m.sessions[id]
	if !ok {
		session = &Session{
			ID:       id,
			Workflow: m.factory.NewWorkflow(),
			History:  m.factory.NewHistoryStore(),
		}
		m.sessions[id] = session
		slog.Debug("sessionManager: session created", "client_id", id)
	}
	m.mu.Unlock()

	session.touch(now)
	return session
}

// EvictIdle closes sessions unused for longer than the idle timeout.
// Sessions with a running submission are kept.
func (m *SessionManager) EvictIdle() int {
	now := m.now()
	var evicted []*Session

	m.mu.Lock()
	for id, session := range m.sessions {
		if session.idleSince(now) < m.idleTimeout {
			continue
		}
		if session.Workflow.Snapshot().State == workflow.Submitting {
			continue
		}
		delete(m.sessions, id)
		evicted = append(evicted, session)
	}
	m.mu.Unlock()

	for _, session := range evicted {
		session.close()
	}
	if len(evicted) > 0 {
		slog.Info("sessionManager: evicted idle sessions", "count", len(evicted))
	}
	return len(evicted)
}

// Run evicts idle sessions periodically until ctx is done, then closes all sessions.
func (m *SessionManager) Run(ctx context.Context) error {
	interval := max(m.idleTimeout/4, time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.CloseAll()
			return nil
		case <-ticker.C:
			m.EvictIdle()
		}
	}
}

func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, session := range sessions {
		session.close()
	}
}

func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
