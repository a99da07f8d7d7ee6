package httpapi

import (
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"trustcenter.dev/internal/obs"
	"trustcenter.dev/internal/trust"
)

func (a *API) salesforceConnect(w http.ResponseWriter, r *http.Request) {
	if a.oauth == nil {
		writeError(w, r, http.StatusServiceUnavailable, "salesforce is not configured")
		return
	}
	authURL, err := a.oauth.Connect(r.Context(), adminID(r))
	if err != nil {
		handleTrustError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"authorization_url": authURL})
}

// salesforceCallback finishes the OAuth flow. With AfterConnectURL set the
// browser is sent back to the admin UI with the outcome in the query string.
func (a *API) salesforceCallback(w http.ResponseWriter, r *http.Request) {
	if a.oauth == nil {
		writeError(w, r, http.StatusServiceUnavailable, "salesforce is not configured")
		return
	}
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		obs.Logger().Warn("salesforce_oauth_denied", zap.String("error", e), zap.String("description", q.Get("error_description")))
		a.finishConnect(w, r, "error", e)
		return
	}
	conn, err := a.oauth.Callback(r.Context(), q.Get("state"), q.Get("code"))
	if err != nil {
		if a.opts.AfterConnectURL == "" {
			handleTrustError(w, r, err)
			return
		}
		obs.Logger().Warn("salesforce_oauth_failed", zap.Error(err))
		a.finishConnect(w, r, "error", "connection_failed")
		return
	}
	a.activity.Record(r.Context(), trust.ActivityLog{
		AdminID:    conn.ConnectedBy,
		Action:     "salesforce.connect",
		EntityType: "salesforce_connection",
		EntityID:   conn.ID,
		NewValue:   map[string]any{"instance_url": conn.InstanceURL},
	})
	if a.opts.AfterConnectURL == "" {
		writeJSON(w, http.StatusOK, conn)
		return
	}
	a.finishConnect(w, r, "connected", "")
}

func (a *API) finishConnect(w http.ResponseWriter, r *http.Request, status, reason string) {
	if a.opts.AfterConnectURL == "" {
		writeError(w, r, http.StatusBadRequest, "salesforce authorization failed: "+reason)
		return
	}
	v := url.Values{"salesforce": {status}}
	if reason != "" {
		v.Set("reason", reason)
	}
	http.Redirect(w, r, a.opts.AfterConnectURL+"?"+v.Encode(), http.StatusFound)
}

func (a *API) salesforceSync(w http.ResponseWriter, r *http.Request) {
	if a.syncer == nil {
		writeError(w, r, http.StatusServiceUnavailable, "salesforce is not configured")
		return
	}
	report, err := a.syncer.Run(r.Context())
	if err != nil {
		handleTrustError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
