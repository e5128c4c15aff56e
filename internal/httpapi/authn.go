package httpapi

import (
	"net/http"
	"strings"

	"firemap.org/internal/auth"
)

var publicPaths = []string{
	"/auth/register",
	"/auth/login",
	"/auth/logout",
	"/auth/status",
	"/user/forgot_password",
	"/user/confirm_forgot_password",
	"/healthz",
	"/readyz",
	"/metrics",
	"/",
}

var publicPrefixes = []string{
	"/user/confirm_admin_reset_password/",
	"/invite/validate/",
}

// twoFactorVerifyPath also accepts a 2fa_pending temporary session so the
// login can be completed.
const twoFactorVerifyPath = "/user/2fa/verify"

func (a *API) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		if sid := a.cookieValue(r, a.cfg.SessionCookie); sid != "" {
			sess, err := a.sessions.Get(ctx, sid)
			if err != nil {
				writeError(w, r, http.StatusInternalServerError, "session lookup failed")
				return
			}
			if sess != nil {
				user, err := a.store.Users(ctx).Find(ctx, sess.UserID)
				if err == nil && !user.Deactivated {
					next.ServeHTTP(w, r.WithContext(auth.ContextWithUser(ctx, user)))
					return
				}
			}
		}

		if r.URL.Path == twoFactorVerifyPath {
			if tmpID := a.cookieValue(r, a.cfg.TempSessionCookie); tmpID != "" {
				sess, err := a.sessions.GetTemp(ctx, tmpID)
				if err != nil {
					writeError(w, r, http.StatusInternalServerError, "session lookup failed")
					return
				}
				if sess != nil {
					user, err := a.store.Users(ctx).Find(ctx, sess.UserID)
					if err == nil && !user.Deactivated {
						ctx = auth.ContextWithUser(ctx, user)
						ctx = auth.ContextWithTempSession(ctx)
						next.ServeHTTP(w, r.WithContext(ctx))
						return
					}
				}
			}
		}

		writeError(w, r, http.StatusUnauthorized, "not authenticated")
	})
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
