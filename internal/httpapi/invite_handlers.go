package httpapi

import (
	"net/http"
	"strings"
	"time"

	"firemap.org/internal/auth"
)

type inviteView struct {
	ID         string    `json:"id"`
	UUID       string    `json:"uuid"`
	Email      string    `json:"email"`
	ExpireDate time.Time `json:"expire_date"`
	Used       bool      `json:"is_used"`
	CreatedAt  time.Time `json:"created_at"`
}

func inviteViewOf(inv *auth.Invite) inviteView {
	return inviteView{
		ID:         inv.ID,
		UUID:       inv.UUID,
		Email:      inv.Email,
		ExpireDate: inv.ExpireDate,
		Used:       inv.Used,
		CreatedAt:  inv.CreatedAt,
	}
}

type createInviteRequest struct {
	Email      string `json:"email"`
	ExpireDays int    `json:"expire_days"`
}

func (a *API) handleInviteCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createInvite(w, r)
	case http.MethodGet:
		a.listInvites(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

func (a *API) createInvite(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req createInviteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	invite, err := a.svc.CreateInvite(r.Context(), actor, req.Email, req.ExpireDays)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inviteViewOf(invite))
}

func (a *API) listInvites(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(w, r)
	if !ok {
		return
	}
	if !actor.Role.IsAdmin() {
		writeError(w, r, http.StatusForbidden, "admin role required")
		return
	}

	invites, err := a.store.Invites(r.Context()).List(r.Context())
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	views := make([]inviteView, 0, len(invites))
	for _, inv := range invites {
		views = append(views, inviteViewOf(inv))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": views})
}

// handleInviteValidate is public: the registration page asks whether the
// invite behind its link is still redeemable.
func (a *API) handleInviteValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	uuid := strings.TrimPrefix(r.URL.Path, "/invite/validate/")
	if uuid == "" || strings.Contains(uuid, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	invite, err := a.svc.ValidateInvite(r.Context(), uuid)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid": true,
		"email": invite.Email,
	})
}

func (a *API) handleInviteResource(w http.ResponseWriter, r *http.Request) {
	uuid := strings.TrimPrefix(r.URL.Path, "/invite/")
	if uuid == "" || strings.Contains(uuid, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
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

	switch r.Method {
	case http.MethodGet:
		invite, err := a.store.Invites(r.Context()).FindByUUID(r.Context(), uuid)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, inviteViewOf(invite))
	case http.MethodDelete:
		if err := a.store.Invites(r.Context()).Delete(r.Context(), uuid); err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}
