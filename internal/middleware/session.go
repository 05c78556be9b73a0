package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ismistube/backend/internal/auth"
	"github.com/ismistube/backend/internal/logging"
	"github.com/ismistube/backend/internal/models"
)

// SessionResolver resolves a session token, sliding its expiry forward.
type SessionResolver interface {
	Lookup(ctx context.Context, token string) (models.Session, error)
}

// SessionCookie describes how the session token is carried by the browser.
type SessionCookie struct {
	Name   string
	Secure bool
}

// Set writes the cookie for session, expiring with it.
func (c SessionCookie) Set(w http.ResponseWriter, session models.Session, now time.Time) {
	maxAge := int(session.ExpiresAt.Sub(now).Seconds())
	if maxAge <= 0 {
		maxAge = 1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear instructs the browser to drop the cookie.
func (c SessionCookie) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Token returns the session token sent by the client, if any.
func (c SessionCookie) Token(r *http.Request) string {
	cookie, err := r.Cookie(c.Name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// Sessions attaches the caller's identity to the request context when the
// session cookie resolves. Requests without a valid session continue anonymously.
func Sessions(resolver SessionResolver, cookie SessionCookie) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := cookie.Token(r)
			if token == "" || resolver == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			session, err := resolver.Lookup(ctx, token)
			switch {
			case err == nil:
				cookie.Set(w, session, time.Now())
				ctx = auth.WithIdentity(ctx, session.Username, session.Token)
				ctx = logging.WithUser(ctx, session.Username)
				r = r.WithContext(ctx)
			case errors.Is(err, auth.ErrSessionNotFound), errors.Is(err, auth.ErrSessionExpired):
				logging.FromContext(ctx).Debug("discarding stale session cookie", "error", err)
				cookie.Clear(w)
			default:
				logging.FromContext(ctx).Error("session lookup failed", "error", err)
			}

			next.ServeHTTP(w, r)
		})
	}
}
