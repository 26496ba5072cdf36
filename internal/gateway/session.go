package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/flemzord/toolgate/internal/security"
	"github.com/flemzord/toolgate/internal/session"
)

// Session key transport. Browsers carry the cookie; other clients may send
// the header instead. The key in effect is echoed in the header on every
// response.
const (
	CookieName = "srx-tzn"
	HeaderName = "X-Session-Key"
)

type sessionKeyCtx struct{}

// sessionKey returns the key resolved by sessionMiddleware.
func sessionKey(ctx context.Context) string {
	key, _ := ctx.Value(sessionKeyCtx{}).(string)
	return key
}

// requestKey extracts the client's session key. The cookie takes
// precedence over the header.
func requestKey(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return r.Header.Get(HeaderName)
}

// sessionMiddleware resolves the caller's session, minting one when the key
// is missing, unknown or expired, and refreshes the cookie so its lifetime
// slides with activity.
func (g *Gateway) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, created, err := g.sessions.Resolve(requestKey(r))
		if err != nil {
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, security.ErrRateLimited):
				status = http.StatusTooManyRequests
			case errors.Is(err, session.ErrTooManySessions):
				status = http.StatusServiceUnavailable
			}
			g.logger.Warn("session resolve failed", "error", err, "remote_addr", r.RemoteAddr)
			http.Error(w, err.Error(), status)
			return
		}
		if created {
			g.logger.Debug("session created", "remote_addr", r.RemoteAddr)
		}

		http.SetCookie(w, g.sessionCookie(sess))
		w.Header().Set(HeaderName, sess.Key)

		ctx := context.WithValue(r.Context(), sessionKeyCtx{}, sess.Key)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sessionCookie builds the cookie for sess. A session without an expiry
// gets a browser-session cookie.
func (g *Gateway) sessionCookie(sess session.Session) *http.Cookie {
	c := &http.Cookie{
		Name:     CookieName,
		Value:    sess.Key,
		Path:     "/",
		HttpOnly: true,
		Secure:   g.config.SecureCookie,
		SameSite: http.SameSiteStrictMode,
	}
	if !sess.CookieExpiry.IsZero() {
		maxAge := int(time.Until(sess.CookieExpiry).Seconds())
		if maxAge < 1 {
			maxAge = 1
		}
		c.MaxAge = maxAge
		c.Expires = sess.CookieExpiry.UTC()
	}
	return c
}
