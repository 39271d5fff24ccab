package web

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	sessionCookieName = "fleetctl_session"
	sessionMaxAge     = 7 * 24 * time.Hour
)

// sessionStore maps opaque tokens to their expiry.
type sessionStore struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	tokens map[string]time.Time
}

func newSessionStore(ttl time.Duration) *sessionStore {
	return &sessionStore{
		ttl:    ttl,
		now:    time.Now,
		tokens: make(map[string]time.Time),
	}
}

func (ss *sessionStore) create() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)

	ss.mu.Lock()
	ss.tokens[token] = ss.now().Add(ss.ttl)
	ss.mu.Unlock()
	return token, nil
}

// touch extends a live session. Expired tokens are forgotten.
func (ss *sessionStore) touch(token string) bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	expiry, ok := ss.tokens[token]
	if !ok {
		return false
	}
	now := ss.now()
	if !now.Before(expiry) {
		delete(ss.tokens, token)
		return false
	}
	ss.tokens[token] = now.Add(ss.ttl)
	return true
}

func (ss *sessionStore) revoke(token string) {
	ss.mu.Lock()
	delete(ss.tokens, token)
	ss.mu.Unlock()
}

// protected reports whether path needs a session or basic auth.
func (s *Server) protected(path string) bool {
	if s.cfg.Auth == "" {
		return false
	}
	if path == "/metrics" {
		return true
	}
	if !strings.HasPrefix(path, "/api/") {
		return false
	}
	return path != "/api/login" && path != "/api/auth/check"
}

// authorized accepts a live session cookie, refreshing it, or basic auth
// carrying the configured password.
func (s *Server) authorized(w http.ResponseWriter, r *http.Request) bool {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && s.sessions.touch(cookie.Value) {
		setSessionCookie(w, cookie.Value, int(sessionMaxAge.Seconds()))
		return true
	}
	_, pass, ok := r.BasicAuth()
	return ok && s.passwordMatches(pass)
}

func (s *Server) passwordMatches(pass string) bool {
	return subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.Auth)) == 1
}

func setSessionCookie(w http.ResponseWriter, token string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Auth == "" {
		jsonResponse(w, map[string]string{"status": "ok"})
		return
	}

	var body struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !s.passwordMatches(body.Password) {
		jsonError(w, "invalid password", http.StatusUnauthorized)
		return
	}

	token, err := s.sessions.create()
	if err != nil {
		jsonError(w, "session creation failed", http.StatusInternalServerError)
		return
	}
	setSessionCookie(w, token, int(sessionMaxAge.Seconds()))
	jsonResponse(w, map[string]string{"status": "ok"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		s.sessions.revoke(cookie.Value)
	}
	setSessionCookie(w, "", -1)
	jsonResponse(w, map[string]string{"status": "ok"})
}

func (s *Server) handleAuthCheck(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Auth == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if s.authorized(w, r) {
		jsonResponse(w, map[string]string{"status": "ok"})
		return
	}
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}
