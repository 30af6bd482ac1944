package coordinator

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"time"

	"vlog/internal/apierr"
	"vlog/internal/catalog"
	"vlog/internal/models"
)

const adminSessionCookie = "vlog_admin_session"

// adminSessionTokenBytes is 48 bytes of entropy per spec.md §3's AdminSession
// invariant, base64url-encoded for cookie transport.
const adminSessionTokenBytes = 48

// AdminSessionStore issues, validates and rotates AdminSession rows on top
// of the catalog.
type AdminSessionStore struct {
	repo      catalog.Repository
	ttl       time.Duration
	secret    string
	headerKey string
}

// NewAdminSessionStore constructs a store with session lifetime ttl and an
// optional shared-secret header fallback (empty disables it).
func NewAdminSessionStore(repo catalog.Repository, ttl time.Duration, sharedSecret string) *AdminSessionStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AdminSessionStore{repo: repo, ttl: ttl, secret: sharedSecret, headerKey: "X-Admin-Secret"}
}

// Login mints a fresh session, sets the HTTP-only cookie, and returns the
// created row.
func (s *AdminSessionStore) Login(ctx context.Context, w http.ResponseWriter, r *http.Request) (models.AdminSession, error) {
	token, err := randomToken(adminSessionTokenBytes)
	if err != nil {
		return models.AdminSession{}, apierr.Wrap(apierr.Internal, err)
	}
	now := time.Now().UTC()
	sess := models.AdminSession{
		Token:      token,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.ttl),
		LastUsedAt: now,
		IPAddress:  r.RemoteAddr,
		UserAgent:  truncate(r.UserAgent(), 200),
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return models.AdminSession{}, err
	}
	s.setCookie(w, token, sess.ExpiresAt)
	return sess, nil
}

// Logout deletes the session named by the request's cookie, if any, and
// clears the cookie.
func (s *AdminSessionStore) Logout(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(adminSessionCookie); err == nil {
		_ = s.repo.DeleteSession(ctx, c.Value)
	}
	s.setCookie(w, "", time.Unix(0, 0))
}

func (s *AdminSessionStore) setCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     adminSessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

// Middleware rejects any request lacking a valid, unexpired AdminSession
// cookie or a matching X-Admin-Secret header, per spec.md §4.3's admin
// session gate. On success for the cookie path it touches LastUsedAt.
func (s *AdminSessionStore) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.checkSharedSecret(r) {
			next.ServeHTTP(w, r)
			return
		}

		c, err := r.Cookie(adminSessionCookie)
		if err != nil || c.Value == "" {
			writeError(w, r, loggerFromRequest(r), apierr.New(apierr.AuthRequired, "admin session required"))
			return
		}

		sess, err := s.repo.GetSession(r.Context(), c.Value)
		if err != nil {
			writeError(w, r, loggerFromRequest(r), apierr.New(apierr.AuthRequired, "admin session invalid"))
			return
		}
		now := time.Now().UTC()
		if now.After(sess.ExpiresAt) {
			writeError(w, r, loggerFromRequest(r), apierr.New(apierr.AuthRequired, "admin session expired"))
			return
		}
		_ = s.repo.TouchSession(r.Context(), c.Value, now)
		next.ServeHTTP(w, r)
	})
}

// checkSharedSecret reports whether r carries a matching X-Admin-Secret
// header, compared in constant time. A store with no configured secret
// always rejects.
func (s *AdminSessionStore) checkSharedSecret(r *http.Request) bool {
	if s.secret == "" {
		return false
	}
	given := r.Header.Get(s.headerKey)
	return given != "" && subtle.ConstantTimeCompare([]byte(given), []byte(s.secret)) == 1
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
