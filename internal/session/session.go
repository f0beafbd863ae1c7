// Package session keeps the per-browser session state: who is signed in, the bearer token for the
// backend, and the messages to show on the next page. Sessions live in process memory only; a
// restart signs everybody out.
//
// A session is only stored, and its cookie only set, once something is written to it. Stored
// sessions expire after IdleTimeout without a request, and signed-in sessions after MaxLifetime
// at the latest.
package session

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"gitlab.com/dirk.krummacker/contacts-ui/internal/model"
)

// CookieName is the name of the cookie holding the session id.
const CookieName = "contacts_session"

const contextKey = "session"

const (
	// IdleTimeout is how long a session survives without a request.
	IdleTimeout = 30 * time.Minute
	// MaxLifetime caps a signed-in session at the lifetime of the access token it holds.
	MaxLifetime = time.Hour

	sweepInterval = time.Minute
)

// Kind is the severity of a flash message.
type Kind string

const (
	Success Kind = "success"
	Info    Kind = "info"
	Warning Kind = "warning"
	Error   Kind = "error"
)

// Flash is a message shown once on the next rendered page.
type Flash struct {
	Kind    Kind
	Message string
}

// Session is the state of one browser.
type Session struct {
	id string

	// created and lastSeen are guarded by the store's mutex.
	created  time.Time
	lastSeen time.Time

	// persist stores a new session on its first write.
	persist func()
	once    sync.Once

	mu       sync.Mutex
	identity *model.Identity
	token    string
	flashes  []Flash
}

// ID returns the session id stored in the cookie.
func (s *Session) ID() string {
	return s.id
}

// SetIdentity records the signed-in identity and its access token.
func (s *Session) SetIdentity(identity model.Identity, token string) {
	s.mu.Lock()
	s.identity = &identity
	s.token = token
	s.mu.Unlock()
	s.stored()
}

// Identity returns the signed-in identity, if any.
func (s *Session) Identity() (model.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return model.Identity{}, false
	}
	return *s.identity, true
}

// Token returns the access token, or "" for an anonymous session.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Authenticated reports whether someone is signed in.
func (s *Session) Authenticated() bool {
	_, ok := s.Identity()
	return ok
}

// Clear wipes all session state.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = nil
	s.token = ""
	s.flashes = nil
}

// AddFlash queues a message for the next page.
func (s *Session) AddFlash(kind Kind, message string) {
	s.mu.Lock()
	s.flashes = append(s.flashes, Flash{Kind: kind, Message: message})
	s.mu.Unlock()
	s.stored()
}

func (s *Session) stored() {
	s.once.Do(func() {
		if s.persist != nil {
			s.persist()
		}
	})
}

// Flashes returns the queued messages and forgets them.
func (s *Session) Flashes() []Flash {
	s.mu.Lock()
	defer s.mu.Unlock()
	flashes := s.flashes
	s.flashes = nil
	return flashes
}

// Store holds all sessions of the process.
type Store struct {
	mu        sync.Mutex
	sessions  map[string]*Session
	secure    bool
	now       func() time.Time
	nextSweep time.Time
}

// NewStore creates an empty store. If secure is set the cookie is only sent over HTTPS.
func NewStore(secure bool) *Store {
	return &Store{
		sessions: make(map[string]*Session),
		secure:   secure,
		now:      time.Now,
	}
}

// New creates and registers an anonymous session.
func (st *Store) New() *Session {
	s := st.unregistered()
	st.register(s)
	return s
}

func (st *Store) unregistered() *Session {
	now := st.now()
	return &Session{id: uuid.NewString(), created: now, lastSeen: now}
}

func (st *Store) register(s *Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	now := st.now()
	if !now.Before(st.nextSweep) {
		st.prune(now)
		st.nextSweep = now.Add(sweepInterval)
	}
	s.lastSeen = now
	st.sessions[s.id] = s
}

// Get looks a session up by id and marks it as seen. Expired sessions are removed and reported as
// unknown.
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		return nil, false
	}
	now := st.now()
	if s.expired(now) {
		delete(st.sessions, id)
		return nil, false
	}
	s.lastSeen = now
	return s, true
}

// expired must be called with the store's mutex held.
func (s *Session) expired(now time.Time) bool {
	if now.Sub(s.lastSeen) > IdleTimeout {
		return true
	}
	return s.Authenticated() && now.Sub(s.created) > MaxLifetime
}

// Delete forgets a session.
func (st *Store) Delete(id string) {
	st.mu.Lock()
	delete(st.sessions, id)
	st.mu.Unlock()
}

// Len returns the number of stored sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Prune removes all expired sessions and returns how many there were. Registering a session
// prunes as well, at most once per minute.
func (st *Store) Prune() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.prune(st.now())
}

func (st *Store) prune(now time.Time) int {
	removed := 0
	for id, s := range st.sessions {
		if s.expired(now) {
			delete(st.sessions, id)
			removed++
		}
	}
	return removed
}

// Middleware resolves the session cookie to a session. Requests without a known cookie get an
// anonymous session that is stored, and sent as cookie, only once a handler writes to it.
func (st *Store) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		var s *Session
		if id, err := c.Cookie(CookieName); err == nil {
			s, _ = st.Get(id)
		}
		if s == nil {
			s = st.lazy(c)
		}
		c.Set(contextKey, s)
		c.Next()
	}
}

// lazy returns an unregistered session that registers itself and sets the cookie on its first
// write.
func (st *Store) lazy(c *gin.Context) *Session {
	s := st.unregistered()
	s.persist = func() {
		st.register(s)
		st.setCookie(c, s)
	}
	return s
}

// Renew replaces the session by a fresh one carrying the same state and points the cookie at it.
// It is called on sign-in so that a session id seen before authentication is never authenticated.
func (st *Store) Renew(c *gin.Context, old *Session) *Session {
	s := st.New()
	if identity, ok := old.Identity(); ok {
		s.SetIdentity(identity, old.Token())
	}
	for _, f := range old.Flashes() {
		s.AddFlash(f.Kind, f.Message)
	}
	st.Delete(old.ID())
	st.setCookie(c, s)
	c.Set(contextKey, s)
	return s
}

// Destroy clears the session and removes it from the store. An anonymous session takes its place
// so that messages can still be shown after sign-out.
func (st *Store) Destroy(c *gin.Context, old *Session) *Session {
	old.Clear()
	st.Delete(old.ID())
	s := st.lazy(c)
	c.Set(contextKey, s)
	return s
}

func (st *Store) setCookie(c *gin.Context, s *Session) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, s.ID(), 0, "/", "", st.secure, true)
}

// From returns the session attached by Middleware.
func From(c *gin.Context) *Session {
	return c.MustGet(contextKey).(*Session)
}
