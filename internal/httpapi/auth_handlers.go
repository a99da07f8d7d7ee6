package httpapi

import (
	"net/http"

	"trustcenter.dev/internal/audit"
	"trustcenter.dev/internal/auth"
	"trustcenter.dev/internal/trust"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signupRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		handleTrustError(w, r, err)
		return
	}
	session, err := a.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		_ = audit.LogEvent(r.Context(), "auth.login.failed", map[string]any{"email": req.Email})
		handleTrustError(w, r, err)
		return
	}
	ctx := auth.ContextWithAdmin(r.Context(), session.Admin)
	_ = audit.LogEvent(ctx, "auth.login", map[string]any{"expires_at": session.ExpiresAt})
	writeJSON(w, http.StatusOK, session)
}

// signup registers a regular admin. Demo deployments refuse it.
func (a *API) signup(w http.ResponseWriter, r *http.Request) {
	if a.opts.DemoMode {
		writeError(w, r, http.StatusForbidden, "signup is disabled in demo mode")
		return
	}
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		handleTrustError(w, r, err)
		return
	}
	admin, err := a.auth.CreateAdmin(r.Context(), auth.NewAdmin{
		Email:    req.Email,
		Name:     req.Name,
		Password: req.Password,
		Role:     trust.RoleAdmin,
	})
	if err != nil {
		handleTrustError(w, r, err)
		return
	}
	a.activity.Record(auth.ContextWithAdmin(r.Context(), admin), trust.ActivityLog{
		Action:     "admin.signup",
		EntityType: "admin_user",
		EntityID:   admin.ID,
		NewValue:   map[string]any{"email": admin.Email, "role": string(admin.Role)},
	})
	session, err := a.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleTrustError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}
