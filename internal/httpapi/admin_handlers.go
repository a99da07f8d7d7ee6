package httpapi

import (
	"net/http"

	"trustcenter.dev/internal/orgs"
	"trustcenter.dev/internal/trust"
	"trustcenter.dev/internal/webhook"
)

type orgPatchRequest struct {
	Name   *string          `json:"name"`
	Status *trust.OrgStatus `json:"status"`
}

type createWebhookRequest struct {
	URL    string   `json:"url"`
	Secret string   `json:"secret"`
	Events []string `json:"events"`
}

func (a *API) listOrganizations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseBoundedInt(q.Get("limit"), "limit", 100, 1, 500)
	if err != nil {
		handleTrustError(w, r, err)
		return
	}
	offset, err := parseBoundedInt(q.Get("offset"), "offset", 0, 0, 1_000_000)
	if err != nil {
		handleTrustError(w, r, err)
		return
	}
	items, err := a.orgs.List(r.Context(), trust.OrganizationFilter{
		Status:          trust.OrgStatus(q.Get("status")),
		IncludeInactive: q.Get("include_inactive") == "true",
		Search:          q.Get("q"),
		Limit:           limit,
		Offset:          offset,
	})
	if err != nil {
		handleTrustError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": nonNil(items), "limit": limit, "offset": offset})
}

func (a *API) getOrganization(w http.ResponseWriter, r *http.Request) {
	org, err := a.orgs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		handleTrustError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, org)
}

func (a *API) updateOrganization(w http.ResponseWriter, r *http.Request) {
	var in orgPatchRequest
	if err := decodeJSON(r, &in); err != nil {
		handleTrustError(w, r, err)
		return
	}
	org, err := a.orgs.Update(r.Context(), r.PathValue("id"), orgs.Patch{Name: in.Name, Status: in.Status})
	if err != nil {
		handleTrustError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, org)
}

func (a *API) revokeOrganization(w http.ResponseWriter, r *http.Request) {
	org, err := a.orgs.Revoke(r.Context(), r.PathValue("id"))
	if err != nil {
		handleTrustError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, org)
}

func (a *API) restoreOrganization(w http.ResponseWriter, r *http.Request) {
	org, err := a.orgs.Restore(r.Context(), r.PathValue("id"))
	if err != nil {
		handleTrustError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, org)
}

func (a *API) listActivity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseBoundedInt(q.Get("limit"), "limit", 100, 1, 500)
	if err != nil {
		handleTrustError(w, r, err)
		return
	}
	items, err := a.activity.List(r.Context(), trust.ActivityFilter{
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		AdminID:    q.Get("admin_id"),
		Limit:      limit,
	})
	if err != nil {
		handleTrustError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": nonNil(items)})
}

func (a *API) listWebhooks(w http.ResponseWriter, r *http.Request) {
	hooks, err := a.webhooks.List(r.Context())
	if err != nil {
		handleTrustError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": nonNil(hooks), "events": webhook.KnownEvents})
}

func (a *API) createWebhook(w http.ResponseWriter, r *http.Request) {
	var in createWebhookRequest
	if err := decodeJSON(r, &in); err != nil {
		handleTrustError(w, r, err)
		return
	}
	hook, err := a.webhooks.Create(r.Context(), webhook.NewHook{URL: in.URL, Secret: in.Secret, Events: in.Events})
	if err != nil {
		handleTrustError(w, r, err)
		return
	}
	a.activity.Record(r.Context(), trust.ActivityLog{
		Action:     "webhook.create",
		EntityType: "webhook",
		EntityID:   hook.ID,
		NewValue:   map[string]any{"url": hook.URL, "events": hook.Events},
	})
	writeJSON(w, http.StatusCreated, hook)
}

func (a *API) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.webhooks.Delete(r.Context(), id); err != nil {
		handleTrustError(w, r, err)
		return
	}
	a.activity.Record(r.Context(), trust.ActivityLog{Action: "webhook.delete", EntityType: "webhook", EntityID: id})
	w.WriteHeader(http.StatusNoContent)
}
