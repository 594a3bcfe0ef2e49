package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/giantswarm/uma-oauth/internal/util"
	"github.com/giantswarm/uma-oauth/security"
	"github.com/giantswarm/uma-oauth/server"
)

// Defaults
const (
	DefaultCookieName = "uma_session"
	DefaultTTL        = 8 * time.Hour
)

var (
	// ErrNoSession is returned by Load when the request carries no valid session
	ErrNoSession = errors.New("no session")

	// ErrKeyRequired is returned when the manager is created without a key
	ErrKeyRequired = errors.New("session encryption key is required")
)

// Config holds session cookie settings
type Config struct {
	// CookieName is the name of the session cookie
	// Default: "uma_session"
	CookieName string

	// TTL is how long a session stays valid after login
	// Default: 8 hours
	TTL time.Duration

	// Path scopes the cookie
	// Default: "/"
	Path string

	// Insecure drops the Secure attribute for plain-http development servers
	Insecure bool

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.CookieName == "" {
		c.CookieName = DefaultCookieName
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.Path == "" {
		c.Path = "/"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// cookiePayload is the sealed content of the session cookie
type cookiePayload struct {
	Subject   string `json:"sub"`
	AuthTime  int64  `json:"auth_time"`
	ExpiresAt int64  `json:"exp"`
}

// Manager issues, reads and clears session cookies.
type Manager struct {
	config  Config
	enc     *security.Encryptor
	auth    server.ResourceOwnerAuthenticator
	auditor *security.Auditor
	logger  *slog.Logger
	now     func() time.Time
}

// NewManager creates a session manager sealing cookies with key (32 bytes).
// auth verifies the credentials of Login.
func NewManager(config Config, key []byte, auth server.ResourceOwnerAuthenticator) (*Manager, error) {
	if len(key) == 0 {
		return nil, ErrKeyRequired
	}
	if auth == nil {
		return nil, fmt.Errorf("resource owner authenticator is required")
	}
	enc, err := security.NewEncryptor(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create session encryptor: %w", err)
	}
	config.applyDefaults()

	return &Manager{
		config: config,
		enc:    enc,
		auth:   auth,
		logger: config.Logger,
		now:    time.Now,
	}, nil
}

// SetAuditor enables login audit events
func (m *Manager) SetAuditor(a *security.Auditor) {
	m.auditor = a
}

// Login verifies the resource owner credentials and sets the session cookie.
// Wrong credentials yield server.ErrInvalidCredentials.
func (m *Manager) Login(ctx context.Context, w http.ResponseWriter, username, password string) (*server.Session, error) {
	clientIP := security.ClientIPFromContext(ctx)

	owner, err := m.auth.Authenticate(ctx, username, password)
	if err != nil {
		if errors.Is(err, server.ErrInvalidCredentials) {
			m.logger.Warn("Login failed", "username", util.SafeTruncate(username, 8), "ip", clientIP)
			m.auditor.LogEvent(security.Event{
				Type:      security.EventLoginFailed,
				UserID:    username,
				IPAddress: clientIP,
				RequestID: security.GetRequestID(ctx),
			})
			return nil, err
		}
		return nil, fmt.Errorf("failed to authenticate resource owner: %w", err)
	}

	sess := &server.Session{Subject: owner.ID, AuthTime: m.now()}
	if err := m.Issue(w, sess); err != nil {
		return nil, err
	}

	m.logger.Info("Resource owner signed in", "ip", clientIP)
	m.auditor.LogEvent(security.Event{
		Type:      security.EventLoginSucceeded,
		UserID:    owner.ID,
		IPAddress: clientIP,
		RequestID: security.GetRequestID(ctx),
	})
	return sess, nil
}

// Issue sets a session cookie for sess
func (m *Manager) Issue(w http.ResponseWriter, sess *server.Session) error {
	payload := cookiePayload{
		Subject:   sess.Subject,
		AuthTime:  sess.AuthTime.Unix(),
		ExpiresAt: sess.AuthTime.Add(m.config.TTL).Unix(),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	sealed, err := m.enc.Seal(raw, []byte(m.config.CookieName))
	if err != nil {
		return fmt.Errorf("failed to seal session: %w", err)
	}

	http.SetCookie(w, m.cookie(base64.RawURLEncoding.EncodeToString(sealed), int(m.config.TTL.Seconds())))
	return nil
}

// Load returns the session of r. Missing, tampered and expired cookies all
// yield ErrNoSession.
func (m *Manager) Load(r *http.Request) (*server.Session, error) {
	c, err := r.Cookie(m.config.CookieName)
	if err != nil || c.Value == "" {
		return nil, ErrNoSession
	}

	sealed, err := base64.RawURLEncoding.DecodeString(c.Value)
	if err != nil {
		return nil, ErrNoSession
	}
	raw, err := m.enc.Open(sealed, []byte(m.config.CookieName))
	if err != nil {
		m.logger.Debug("Session cookie rejected", "error", err)
		return nil, ErrNoSession
	}

	var payload cookiePayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Subject == "" {
		return nil, ErrNoSession
	}
	if !m.now().Before(time.Unix(payload.ExpiresAt, 0)) {
		return nil, ErrNoSession
	}

	return &server.Session{
		Subject:  payload.Subject,
		AuthTime: time.Unix(payload.AuthTime, 0),
	}, nil
}

// Logout clears the session cookie
func (m *Manager) Logout(w http.ResponseWriter) {
	http.SetCookie(w, m.cookie("", -1))
}

func (m *Manager) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     m.config.CookieName,
		Value:    value,
		Path:     m.config.Path,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   !m.config.Insecure,
		SameSite: http.SameSiteLaxMode,
	}
}
