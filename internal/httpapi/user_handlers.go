package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"firemap.org/internal/auth"
)

type meResponse struct {
	userView
	OtpConfigured bool `json:"otp_configured"`
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	configured := false
	settings, err := a.store.Otp(r.Context()).Find(r.Context(), user.ID)
	if err != nil && !errors.Is(err, auth.ErrNotFound) {
		handleAuthError(w, r, err)
		return
	}
	if settings != nil {
		configured = settings.Configured
	}
	writeJSON(w, http.StatusOK, meResponse{userView: viewOf(user), OtpConfigured: configured})
}

func (a *API) handleUserCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	if !user.Role.IsAdmin() {
		writeError(w, r, http.StatusForbidden, "admin role required")
		return
	}

	users, err := a.store.Users(r.Context()).List(r.Context())
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	views := make([]userView, 0, len(users))
	for _, u := range users {
		views = append(views, viewOf(u))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": views})
}

// --- 2FA ---

func (a *API) handle2FASetup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	img, err := a.twofa.BeginSetup(r.Context(), user)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img)
}

type twoFactorCodeRequest struct {
	Code string `json:"code"`
}

// handle2FAVerify completes either the enrollment or a pending login,
// depending on which kind of session carried the request here.
func (a *API) handle2FAVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req twoFactorCodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	code := strings.TrimSpace(req.Code)

	if auth.IsTempSession(r.Context()) {
		tmpID := a.cookieValue(r, a.cfg.TempSessionCookie)
		sid, err := a.twofa.VerifyLogin(r.Context(), user, code, tmpID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		a.clearCookie(w, a.cfg.TempSessionCookie)
		a.setSessionCookie(w, sid)
		view := viewOf(user)
		writeJSON(w, http.StatusOK, loginResponse{User: &view})
		return
	}

	if err := a.twofa.VerifySetup(r.Context(), user, code); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "enabled"})
}

type twoFactorDisableRequest struct {
	Code    string `json:"code"`
	Confirm bool   `json:"confirm"`
}

func (a *API) handle2FADisable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req twoFactorDisableRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	sid := a.cookieValue(r, a.cfg.SessionCookie)
	if err := a.twofa.Disable(r.Context(), user, strings.TrimSpace(req.Code), req.Confirm, sid); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.clearCookie(w, a.cfg.SessionCookie)
	writeJSON(w, http.StatusOK, map[string]any{"status": "disabled"})
}

// --- Password resets ---

type selfResetRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func (a *API) handleSelfReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req selfResetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.SelfResetPassword(r.Context(), user, req.OldPassword, req.NewPassword); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "password_changed"})
}

type adminResetRequest struct {
	UserID string `json:"user_id"`
}

func (a *API) handleAdminReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req adminResetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, r, http.StatusBadRequest, "user_id is required")
		return
	}
	if err := a.svc.AdminResetPassword(r.Context(), user, req.UserID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "reset_link_sent"})
}

type confirmResetRequest struct {
	NewPassword string `json:"new_password"`
}

func (a *API) handleConfirmAdminReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	token := strings.TrimPrefix(r.URL.Path, "/user/confirm_admin_reset_password/")
	if token == "" || strings.Contains(token, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	var req confirmResetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.ConfirmAdminReset(r.Context(), token, req.NewPassword); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "password_changed"})
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

func (a *API) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req forgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.ForgotPassword(r.Context(), strings.TrimSpace(req.Email)); err != nil {
		handleAuthError(w, r, err)
		return
	}
	// One answer for every address, known or not.
	writeJSON(w, http.StatusOK, map[string]any{"status": "code_sent"})
}

type confirmForgotRequest struct {
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

func (a *API) handleConfirmForgotPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req confirmForgotRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.ConfirmForgotPassword(r.Context(), strings.TrimSpace(req.Code), req.NewPassword); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "password_changed"})
}

// --- Admin user management ---

type editRoleRequest struct {
	Role string `json:"role"`
}

func (a *API) handleEditRole(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w, r, http.MethodPatch)
		return
	}
	actor, ok := currentUser(w, r)
	if !ok {
		return
	}
	if !actor.Role.IsAdmin() {
		writeError(w, r, http.StatusForbidden, "admin role required")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/user/edit_role/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	var req editRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role := auth.Role(strings.TrimSpace(req.Role))
	if !role.Valid() {
		writeError(w, r, http.StatusBadRequest, "role must be admin or user")
		return
	}
	if err := a.store.Users(r.Context()).SetRole(r.Context(), id, role); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "role_updated"})
}

type deactivateRequest struct {
	Deactivated bool `json:"deactivated"`
}

func (a *API) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w, r, http.MethodPatch)
		return
	}
	actor, ok := currentUser(w, r)
	if !ok {
		return
	}
	if !actor.Role.IsAdmin() {
		writeError(w, r, http.StatusForbidden, "admin role required")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/user/deactivate/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if id == actor.ID {
		writeError(w, r, http.StatusBadRequest, "cannot deactivate your own account")
		return
	}

	var req deactivateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.store.Users(r.Context()).SetDeactivated(r.Context(), id, req.Deactivated); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "updated"})
}
