package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"firemap.org/internal/auth"
	"firemap.org/internal/obs"
	"firemap.org/internal/session"
)

// ReadyProbe checks downstream dependencies for /readyz.
type ReadyProbe struct {
	DB   *sql.DB
	Ping func(context.Context) error
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Ping != nil {
		return rp.Ping(ctx)
	}
	return nil
}

// Config carries the HTTP-level knobs. Zero values fall back to the
// defaults used in production.
type Config struct {
	Version           string
	SessionCookie     string
	TempSessionCookie string
	SecureCookies     bool
}

// API is the HTTP layer. All state lives in the injected dependencies.
type API struct {
	mux      *http.ServeMux
	store    auth.Store
	svc      *auth.Service
	twofa    *auth.TwoFactor
	sessions *session.Manager
	ready    ReadyProbe
	cfg      Config
}

func New(cfg Config, store auth.Store, svc *auth.Service, twofa *auth.TwoFactor, sessions *session.Manager, ready ReadyProbe) *API {
	if cfg.SessionCookie == "" {
		cfg.SessionCookie = "sid"
	}
	if cfg.TempSessionCookie == "" {
		cfg.TempSessionCookie = "tmp_sid"
	}
	a := &API{
		mux:      http.NewServeMux(),
		store:    store,
		svc:      svc,
		twofa:    twofa,
		sessions: sessions,
		ready:    ready,
		cfg:      cfg,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/auth/register", a.handleRegister)
	a.mux.HandleFunc("/auth/login", a.handleLogin)
	a.mux.HandleFunc("/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/auth/status", a.handleAuthStatus)

	a.mux.HandleFunc("/user", a.handleUserCollection)
	a.mux.HandleFunc("/user/me", a.handleMe)
	a.mux.HandleFunc("/user/2fa/setup", a.handle2FASetup)
	a.mux.HandleFunc("/user/2fa/verify", a.handle2FAVerify)
	a.mux.HandleFunc("/user/2fa/disable", a.handle2FADisable)
	a.mux.HandleFunc("/user/self_reset_password", a.handleSelfReset)
	a.mux.HandleFunc("/user/admin_reset_password", a.handleAdminReset)
	a.mux.HandleFunc("/user/confirm_admin_reset_password/", a.handleConfirmAdminReset)
	a.mux.HandleFunc("/user/forgot_password", a.handleForgotPassword)
	a.mux.HandleFunc("/user/confirm_forgot_password", a.handleConfirmForgotPassword)
	a.mux.HandleFunc("/user/edit_role/", a.handleEditRole)
	a.mux.HandleFunc("/user/deactivate/", a.handleDeactivate)

	a.mux.HandleFunc("/invite", a.handleInviteCollection)
	a.mux.HandleFunc("/invite/validate/", a.handleInviteValidate)
	a.mux.HandleFunc("/invite/", a.handleInviteResource)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler.
func (a *API) Handler() http.Handler {
	h := a.withSession(a.mux)
	h = MaxBodyBytes(h, 1<<20)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Probes ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "firemap-api",
		"version": a.cfg.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// handleAuthError maps the auth sentinels onto HTTP statuses. Everything
// unrecognized is a 500 with no detail leaked.
func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput),
		errors.Is(err, auth.ErrConflict),
		errors.Is(err, auth.ErrTokenInvalid),
		errors.Is(err, auth.ErrTokenUsed),
		errors.Is(err, auth.ErrTokenExpired),
		errors.Is(err, auth.ErrEmailMismatch):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrUnauthorized),
		errors.Is(err, auth.ErrInvalidCode):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, auth.ErrNotConfigured):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

// currentUser returns the user attached by the session middleware.
func currentUser(w http.ResponseWriter, r *http.Request) (*auth.User, bool) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "not authenticated")
		return nil, false
	}
	return user, true
}

func (a *API) cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func (a *API) setSessionCookie(w http.ResponseWriter, sid string) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cfg.SessionCookie,
		Value:    sid,
		Path:     "/",
		MaxAge:   int(a.sessions.TTL().Seconds()),
		HttpOnly: true,
		Secure:   a.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) setTempSessionCookie(w http.ResponseWriter, sid string) {
	// No max_age: the temp cookie dies with the browser session, the
	// server-side record expires on its own.
	http.SetCookie(w, &http.Cookie{
		Name:     a.cfg.TempSessionCookie,
		Value:    sid,
		Path:     "/",
		HttpOnly: true,
		Secure:   a.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}
