package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/ismistube/backend/internal/models"
)

// DefaultSessionTTL is the sliding lifetime applied when none is configured.
const DefaultSessionTTL = 24 * time.Hour

var (
	// ErrSessionNotFound indicates the token does not map to an active session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired indicates the session outlived its sliding lifetime.
	ErrSessionExpired = errors.New("session expired")
)

// SessionStore keeps issued sessions keyed by token.
type SessionStore interface {
	Save(ctx context.Context, session models.Session) error
	// Touch extends an unexpired session to now+ttl in one step. Expired
	// sessions are removed and reported as ErrSessionExpired.
	Touch(ctx context.Context, token string, now time.Time, ttl time.Duration) (models.Session, error)
	Delete(ctx context.Context, token string) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// Manager binds usernames to opaque session tokens.
type Manager struct {
	ttl   time.Duration
	store SessionStore
	now   func() time.Time
}

// NewManager constructs a Manager whose sessions expire after ttl of inactivity.
func NewManager(ttl time.Duration, store SessionStore) *Manager {
	if store == nil {
		panic("auth: session store must not be nil")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Manager{ttl: ttl, store: store, now: func() time.Time { return time.Now().UTC() }}
}

// WithNowFunc overrides the clock. Intended for tests.
func (m *Manager) WithNowFunc(now func() time.Time) {
	m.now = now
}

// Login creates a fresh session for username.
func (m *Manager) Login(ctx context.Context, username string) (models.Session, error) {
	if strings.TrimSpace(username) == "" {
		return models.Session{}, errors.New("username must be provided")
	}

	token, err := randomToken()
	if err != nil {
		return models.Session{}, err
	}

	session := models.Session{
		Token:     token,
		Username:  username,
		ExpiresAt: m.now().Add(m.ttl),
	}
	if err := m.store.Save(ctx, session); err != nil {
		return models.Session{}, err
	}
	return session, nil
}

// Lookup resolves token to its session, extending the expiry on success.
// Expired sessions are removed and reported as ErrSessionExpired.
func (m *Manager) Lookup(ctx context.Context, token string) (models.Session, error) {
	if token == "" {
		return models.Session{}, ErrSessionNotFound
	}

	return m.store.Touch(ctx, token, m.now(), m.ttl)
}

// Logout destroys the session. Unknown tokens are ignored.
func (m *Manager) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return m.store.Delete(ctx, token)
}

// Sweep drops every session that has already expired.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	return m.store.DeleteExpired(ctx, m.now())
}

// RunSweeper calls Sweep every interval until ctx is cancelled.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration, onSweep func(removed int, err error)) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := m.Sweep(ctx)
			if onSweep != nil {
				onSweep(removed, err)
			}
		}
	}
}

func randomToken() (string, error) {
	const size = 32
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
