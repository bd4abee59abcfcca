package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"
)

// sessionTTL is how long an established session is trusted before the next
// use re-visits the landing page.
const sessionTTL = 5 * time.Minute

// SourceSession is the long-lived, stateful fetching context for one
// emulated-session feed: a cookie jar seeded by loading the feed's landing
// page, so subsequent API calls carry the same cookie/header fingerprint a
// real browser session would.
//
// A session is owned by exactly one source; the scheduler's per-source
// run-guard keeps adapter calls serial. The refresh cadence runs
// independently of fetches, so a refresh never mutates a client a fetch
// may be using: it builds a fresh client with a fresh jar and swaps the
// pointer under the mutex, while an in-flight fetch keeps the client it
// captured when it started.
type SourceSession struct {
	source  string
	landing string

	mu        sync.Mutex
	client    *http.Client
	expiresAt time.Time
}

// ensure establishes the session if it has never been used or its cookies
// have gone stale, and returns the client to fetch with. The returned
// client is a stable snapshot: a concurrent refresh swaps in a new client
// rather than touching this one.
func (s *SourceSession) ensure(ctx context.Context) (*http.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if time.Now().Before(s.expiresAt) {
		return s.client, nil
	}
	if err := s.establishLocked(ctx); err != nil {
		return nil, err
	}
	return s.client, nil
}

// refresh replaces the session's client with one holding an empty jar and
// re-establishes it. Called on the slow refresh cadence and on
// authentication failures.
func (s *SourceSession) refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.client
	s.client = newSessionClient()
	s.expiresAt = time.Time{}
	if err := s.establishLocked(ctx); err != nil {
		s.client = old
		return err
	}
	old.CloseIdleConnections()
	return nil
}

// establishLocked loads the landing page with browser headers to seed the
// cookie jar. Must be called with mu held.
func (s *SourceSession) establishLocked(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.landing, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", DefaultUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("load landing page for %s session: %w", s.source, err)
	}
	defer resp.Body.Close()
	drain(resp.Body)

	s.expiresAt = time.Now().Add(sessionTTL)
	return nil
}

// Get issues a feed call from inside the session context, ensuring the
// session is established first. The request inherits the jar's cookies and
// the browser fingerprint, which is what defeats endpoints that reject
// requests lacking a consistent session signature.
func (s *SourceSession) Get(ctx context.Context, url string) ([]byte, error) {
	client, err := s.ensure(ctx)
	if err != nil {
		return nil, err
	}
	return doGet(ctx, client, url, s.landing+"/")
}

// SessionManager owns one SourceSession per emulated-session source.
// Sessions are created lazily on first use, refreshed on an independent
// cadence or on auth failure, and torn down on shutdown. Sessions are never
// shared across sources.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*SourceSession
}

// NewSessionManager creates an empty session registry.
func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[string]*SourceSession)}
}

// Session returns the session for source, creating it on first use.
// landing is the feed's landing page used to establish cookies.
func (m *SessionManager) Session(source, landing string) *SourceSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[source]; ok {
		return s
	}
	s := &SourceSession{
		source:  source,
		landing: landing,
		client:  newSessionClient(),
	}
	m.sessions[source] = s
	return s
}

// newSessionClient builds a client with an empty cookie jar. Each refresh
// gets a brand-new client so cookie state is never mutated under a fetch.
func newSessionClient() *http.Client {
	jar, _ := cookiejar.New(nil)
	return &http.Client{
		Timeout: 30 * time.Second,
		Jar:     jar,
	}
}

// Refresh re-establishes the session for source, if one exists. Unknown
// sources are a no-op: a session that was never used has nothing to refresh.
func (m *SessionManager) Refresh(ctx context.Context, source string) error {
	m.mu.Lock()
	s, ok := m.sessions[source]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return s.refresh(ctx)
}

// RefreshAll re-establishes every live session. Used by the scheduler's
// slow session-refresh cadence.
func (m *SessionManager) RefreshAll(ctx context.Context) error {
	m.mu.Lock()
	live := make([]*SourceSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.Unlock()

	var firstErr error
	for _, s := range live {
		if err := s.refresh(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close tears down all sessions. Idle connections are released; the cookie
// state is simply dropped.
func (m *SessionManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		s.mu.Lock()
		s.client.CloseIdleConnections()
		s.mu.Unlock()
	}
	m.sessions = make(map[string]*SourceSession)
}
