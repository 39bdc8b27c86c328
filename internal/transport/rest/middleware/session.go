package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

type contextKey string

const (
	SessionIDKey contextKey = "sessionId"
)

// SessionCookie is the cookie carrying the respondent's session id
const SessionCookie = "sid"

// Session issues the sid cookie and stores the session id in the request context
type Session struct {
	maxAge time.Duration
	secure bool
}

// NewSession creates the session middleware. maxAge bounds the cookie lifetime.
func NewSession(maxAge time.Duration, secure bool) *Session {
	return &Session{maxAge: maxAge, secure: secure}
}

// Handle makes sure every request carries a session id
func (s *Session) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ""
		if c, err := r.Cookie(SessionCookie); err == nil {
			if _, err := uuid.Parse(c.Value); err == nil {
				id = c.Value
			}
		}
		if id == "" {
			id = uuid.NewString()
		}
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    id,
			Path:     "/",
			MaxAge:   int(s.maxAge.Seconds()),
			HttpOnly: true,
			Secure:   s.secure,
			SameSite: http.SameSiteLaxMode,
		})

		ctx := context.WithValue(r.Context(), SessionIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetSessionID extracts the session id from context
func GetSessionID(ctx context.Context) string {
	if v := ctx.Value(SessionIDKey); v != nil {
		return v.(string)
	}
	return ""
}

// SessionLocks serializes requests of the same session
type SessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewSessionLocks creates an empty lock table
func NewSessionLocks() *SessionLocks {
	return &SessionLocks{locks: make(map[string]*sessionLock)}
}

// Lock blocks until id is free and returns its unlock function
func (l *SessionLocks) Lock(id string) func() {
	l.mu.Lock()
	sl, ok := l.locks[id]
	if !ok {
		sl = &sessionLock{}
		l.locks[id] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.mu.Lock()
	return func() {
		sl.mu.Unlock()
		l.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

// Len returns the number of sessions holding or waiting for a lock
func (l *SessionLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// Serialize allows one in-flight request per session. It must run after Session.Handle.
func (l *SessionLocks) Serialize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := GetSessionID(r.Context())
		if id == "" {
			next.ServeHTTP(w, r)
			return
		}
		unlock := l.Lock(id)
		defer unlock()
		next.ServeHTTP(w, r)
	})
}
