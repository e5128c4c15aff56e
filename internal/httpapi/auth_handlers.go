package httpapi

import (
	"net/http"
	"strings"

	"firemap.org/internal/auth"
)

type userView struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
}

func viewOf(u *auth.User) userView {
	return userView{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Role:      string(u.Role),
	}
}

type registerRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Password  string `json:"password"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	inviteToken := strings.TrimSpace(r.URL.Query().Get("invite"))
	if inviteToken == "" {
		writeError(w, r, http.StatusBadRequest, "invite query parameter is required")
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	user, sid, err := a.svc.Register(r.Context(), inviteToken, auth.RegisterInput{
		Email:     strings.TrimSpace(req.Email),
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Password:  req.Password,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	a.setSessionCookie(w, sid)
	writeJSON(w, http.StatusCreated, viewOf(user))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	RequiresMFA bool      `json:"requires_mfa"`
	User        *userView `json:"user,omitempty"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	res, err := a.svc.Login(r.Context(), strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	if res.RequiresMFA {
		a.setTempSessionCookie(w, res.TempSessionID)
		writeJSON(w, http.StatusOK, loginResponse{RequiresMFA: true})
		return
	}

	view := viewOf(res.User)
	a.setSessionCookie(w, res.SessionID)
	writeJSON(w, http.StatusOK, loginResponse{User: &view})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	if sid := a.cookieValue(r, a.cfg.SessionCookie); sid != "" {
		if err := a.svc.Logout(r.Context(), sid); err != nil {
			handleAuthError(w, r, err)
			return
		}
	}
	a.clearCookie(w, a.cfg.SessionCookie)
	a.clearCookie(w, a.cfg.TempSessionCookie)
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func (a *API) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
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
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": true})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
}
