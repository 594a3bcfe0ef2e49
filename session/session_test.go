package session

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/uma-oauth/internal/testutil"
	"github.com/giantswarm/uma-oauth/security"
	"github.com/giantswarm/uma-oauth/server"
	"github.com/giantswarm/uma-oauth/storage"
	"github.com/giantswarm/uma-oauth/storage/memory"
)

func newTestManager(t *testing.T, config Config) (*Manager, *bytes.Buffer) {
	t.Helper()

	store := memory.New()
	t.Cleanup(store.Stop)
	require.NoError(t, store.SaveResourceOwner(context.Background(), testutil.GenerateTestOwner(t, testutil.OwnerID)))

	logBuf := &bytes.Buffer{}
	config.Logger = slog.New(slog.NewTextHandler(logBuf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	key, err := security.GenerateKey()
	require.NoError(t, err)

	m, err := NewManager(config, key, server.NewPasswordAuthenticator(store))
	require.NoError(t, err)
	m.SetAuditor(security.NewAuditor(config.Logger, true))
	return m, logBuf
}

// requestWith returns a request carrying the cookies set on rec
func requestWith(rec *httptest.ResponseRecorder) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/authorize", nil)
	for _, c := range rec.Result().Cookies() {
		r.AddCookie(c)
	}
	return r
}

// flipChar replaces the character at i with a different base64url character
func flipChar(s string, i int) string {
	c := byte('A')
	if s[i] == 'A' {
		c = 'B'
	}
	return s[:i] + string(c) + s[i+1:]
}

func TestNewManager(t *testing.T) {
	store := memory.New()
	t.Cleanup(store.Stop)
	auth := server.NewPasswordAuthenticator(store)

	_, err := NewManager(Config{}, nil, auth)
	assert.ErrorIs(t, err, ErrKeyRequired)

	_, err = NewManager(Config{}, []byte("short"), auth)
	assert.Error(t, err)

	key, err := security.GenerateKey()
	require.NoError(t, err)
	_, err = NewManager(Config{}, key, nil)
	assert.Error(t, err)

	m, err := NewManager(Config{}, key, auth)
	require.NoError(t, err)
	assert.Equal(t, DefaultCookieName, m.config.CookieName)
	assert.Equal(t, DefaultTTL, m.config.TTL)
	assert.Equal(t, "/", m.config.Path)
}

func TestLoginAndLoad(t *testing.T) {
	m, logBuf := newTestManager(t, Config{})

	rec := httptest.NewRecorder()
	sess, err := m.Login(context.Background(), rec, testutil.OwnerID, testutil.OwnerSecret)
	require.NoError(t, err)
	assert.Equal(t, testutil.OwnerID, sess.Subject)
	assert.Contains(t, logBuf.String(), security.EventLoginSucceeded)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, DefaultCookieName, c.Name)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.NotContains(t, c.Value, testutil.OwnerID, "the subject is encrypted")

	loaded, err := m.Load(requestWith(rec))
	require.NoError(t, err)
	assert.Equal(t, testutil.OwnerID, loaded.Subject)
	assert.Equal(t, sess.AuthTime.Unix(), loaded.AuthTime.Unix())
}

func TestLogin_WrongCredentials(t *testing.T) {
	m, logBuf := newTestManager(t, Config{})

	tests := []struct {
		name     string
		username string
		password string
	}{
		{name: "wrong password", username: testutil.OwnerID, password: "nope"},
		{name: "unknown owner", username: "mallory", password: testutil.OwnerSecret},
		{name: "empty", username: "", password: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			_, err := m.Login(context.Background(), rec, tt.username, tt.password)
			assert.ErrorIs(t, err, server.ErrInvalidCredentials)
			assert.Empty(t, rec.Result().Cookies(), "no cookie on failure")
		})
	}
	assert.Contains(t, logBuf.String(), security.EventLoginFailed)
}

type failingAuthenticator struct{}

func (failingAuthenticator) Authenticate(context.Context, string, string) (*storage.ResourceOwner, error) {
	return nil, errors.New("backend down")
}

func TestLogin_AuthenticatorFailure(t *testing.T) {
	key, err := security.GenerateKey()
	require.NoError(t, err)
	m, err := NewManager(Config{}, key, failingAuthenticator{})
	require.NoError(t, err)

	_, err = m.Login(context.Background(), httptest.NewRecorder(), "alice", "x")
	require.Error(t, err)
	assert.NotErrorIs(t, err, server.ErrInvalidCredentials)
}

func TestLoad_Rejects(t *testing.T) {
	m, _ := newTestManager(t, Config{TTL: time.Hour})

	rec := httptest.NewRecorder()
	require.NoError(t, m.Issue(rec, &server.Session{Subject: "alice", AuthTime: time.Now()}))
	valid := rec.Result().Cookies()[0].Value

	other, _ := newTestManager(t, Config{TTL: time.Hour})
	otherRec := httptest.NewRecorder()
	require.NoError(t, other.Issue(otherRec, &server.Session{Subject: "alice", AuthTime: time.Now()}))
	foreign := otherRec.Result().Cookies()[0].Value

	tests := []struct {
		name   string
		cookie *http.Cookie
	}{
		{name: "no cookie"},
		{name: "empty value", cookie: &http.Cookie{Name: DefaultCookieName, Value: ""}},
		{name: "not base64", cookie: &http.Cookie{Name: DefaultCookieName, Value: "!!!"}},
		{name: "tampered", cookie: &http.Cookie{Name: DefaultCookieName, Value: flipChar(valid, len(valid)/2)}},
		{name: "sealed with another key", cookie: &http.Cookie{Name: DefaultCookieName, Value: foreign}},
		{name: "too short", cookie: &http.Cookie{Name: DefaultCookieName, Value: "YWJj"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.cookie != nil {
				r.AddCookie(tt.cookie)
			}
			_, err := m.Load(r)
			assert.ErrorIs(t, err, ErrNoSession)
		})
	}

	t.Run("cookie bound to its name", func(t *testing.T) {
		renamed, _ := newTestManager(t, Config{CookieName: "other"})
		renamed.enc = m.enc
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(&http.Cookie{Name: "other", Value: valid})
		_, err := renamed.Load(r)
		assert.ErrorIs(t, err, ErrNoSession)
	})
}

func TestLoad_Expired(t *testing.T) {
	m, _ := newTestManager(t, Config{TTL: time.Minute})

	rec := httptest.NewRecorder()
	require.NoError(t, m.Issue(rec, &server.Session{Subject: "alice", AuthTime: time.Now()}))
	r := requestWith(rec)

	_, err := m.Load(r)
	require.NoError(t, err)

	m.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = m.Load(r)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestLogout(t *testing.T) {
	m, _ := newTestManager(t, Config{Insecure: true})

	rec := httptest.NewRecorder()
	m.Logout(rec)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, DefaultCookieName, cookies[0].Name)
	assert.Empty(t, cookies[0].Value)
	assert.Negative(t, cookies[0].MaxAge)
	assert.False(t, cookies[0].Secure)
}
