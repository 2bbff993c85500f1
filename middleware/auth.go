package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/rs/zerolog"

	"bookreader/config"
)

const (
	// SessionName is the key for the cookie session.
	SessionName = "bookreader-session"
	// UserSessionKey is the key used to store the authenticated status in the session.
	UserSessionKey = "authenticated"
	// DialogSessionKey binds a browser to its open generation dialog.
	DialogSessionKey = "dialog_id"
)

// Sessions wraps the cookie store shared by the reader surface.
type Sessions struct {
	Store    *sessions.CookieStore
	password string
	log      zerolog.Logger
}

// NewSessions initializes the session store from cfg.
func NewSessions(cfg *config.Config, log zerolog.Logger) *Sessions {
	log = log.With().Str("component", "sessions").Logger()
	if cfg.InsecureSessionSecret() {
		log.Warn().Msg("SESSION_SECRET is not set or is the default. Using a default, insecure key. Please set a strong secret in your .env file.")
	}
	store := sessions.NewCookieStore([]byte(cfg.Settings.SessionSecret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7, // 7 days
		HttpOnly: true,
		Secure:   false, // the reader listens on localhost
		SameSite: http.SameSiteLaxMode,
	}
	return &Sessions{Store: store, password: cfg.Settings.WebPassword, log: log}
}

// WebAuth protects routes when a web password is configured. API calls get
// 401, pages are redirected to /login.
func (s *Sessions) WebAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// If no password is set, authentication is disabled.
		if s.password == "" {
			next.ServeHTTP(w, r)
			return
		}

		session, err := s.Store.Get(r, SessionName)
		if err != nil {
			// This could happen if the cookie secret changes.
			s.log.Debug().Err(err).Msg("session error, forcing login")
		}
		if auth, ok := session.Values[UserSessionKey].(bool); err == nil && ok && auth {
			next.ServeHTTP(w, r)
			return
		}

		if strings.HasPrefix(r.URL.Path, "/api/") {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}
		http.Redirect(w, r, "/login", http.StatusFound)
	})
}

// Login marks the session authenticated if password matches.
func (s *Sessions) Login(w http.ResponseWriter, r *http.Request, password string) bool {
	if subtle.ConstantTimeCompare([]byte(password), []byte(s.password)) != 1 {
		return false
	}
	session, _ := s.Store.Get(r, SessionName)
	session.Values[UserSessionKey] = true
	if err := session.Save(r, w); err != nil {
		s.log.Error().Err(err).Msg("failed to save session")
		return false
	}
	return true
}

// DialogID returns the id of the dialog bound to this browser, creating one
// when create is set. The second result is false if there is none.
func (s *Sessions) DialogID(w http.ResponseWriter, r *http.Request, create bool) (string, bool) {
	session, _ := s.Store.Get(r, SessionName)
	if id, ok := session.Values[DialogSessionKey].(string); ok && id != "" {
		return id, true
	}
	if !create {
		return "", false
	}
	id := uuid.NewString()
	session.Values[DialogSessionKey] = id
	if err := session.Save(r, w); err != nil {
		s.log.Error().Err(err).Msg("failed to save session")
		return "", false
	}
	return id, true
}

// ClearDialog unbinds the dialog from this browser.
func (s *Sessions) ClearDialog(w http.ResponseWriter, r *http.Request) {
	session, _ := s.Store.Get(r, SessionName)
	delete(session.Values, DialogSessionKey)
	if err := session.Save(r, w); err != nil {
		s.log.Error().Err(err).Msg("failed to save session")
	}
}
