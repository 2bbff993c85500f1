package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookreader/config"
)

func newSessions(password string) *Sessions {
	cfg := config.Default()
	cfg.Settings.WebPassword = password
	cfg.Settings.SessionSecret = "0123456789abcdef0123456789abcdef"
	return NewSessions(cfg, zerolog.Nop())
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusTeapot)
})

func TestWebAuthDisabledWithoutPassword(t *testing.T) {
	s := newSessions("")
	rec := httptest.NewRecorder()
	s.WebAuth(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestWebAuthRejectsAnonymous(t *testing.T) {
	s := newSessions("secret")
	h := s.WebAuth(okHandler)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/backends", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogin(t *testing.T) {
	s := newSessions("secret")

	rec := httptest.NewRecorder()
	assert.False(t, s.Login(rec, httptest.NewRequest(http.MethodPost, "/login", nil), "wrong"))

	rec = httptest.NewRecorder()
	require.True(t, s.Login(rec, httptest.NewRequest(http.MethodPost, "/login", nil), "secret"))
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)

	req := httptest.NewRequest(http.MethodGet, "/api/backends", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec = httptest.NewRecorder()
	s.WebAuth(okHandler).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestDialogID(t *testing.T) {
	s := newSessions("")

	rec := httptest.NewRecorder()
	_, ok := s.DialogID(rec, httptest.NewRequest(http.MethodGet, "/", nil), false)
	assert.False(t, ok)

	rec = httptest.NewRecorder()
	id, ok := s.DialogID(rec, httptest.NewRequest(http.MethodPost, "/api/dialog", nil), true)
	require.True(t, ok)
	assert.Len(t, id, 36)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	again, ok := s.DialogID(httptest.NewRecorder(), req, false)
	require.True(t, ok)
	assert.Equal(t, id, again)

	rec = httptest.NewRecorder()
	s.ClearDialog(rec, req)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	_, ok = s.DialogID(httptest.NewRecorder(), req, false)
	assert.False(t, ok)
}
