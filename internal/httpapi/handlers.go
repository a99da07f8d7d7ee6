package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"trustcenter.dev/internal/access"
	"trustcenter.dev/internal/audit"
	"trustcenter.dev/internal/auth"
	"trustcenter.dev/internal/documents"
	"trustcenter.dev/internal/obs"
	"trustcenter.dev/internal/orgs"
	"trustcenter.dev/internal/salesforce"
	"trustcenter.dev/internal/stream"
	"trustcenter.dev/internal/trust"
	"trustcenter.dev/internal/webhook"
)

const serviceName = "trustcenter-api"

// ReadyProbe checks readiness (a database ping when one is configured).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps are the services the HTTP layer routes to. OAuth and Syncer are nil
// when the CRM integration is not configured.
type Deps struct {
	Version   string
	Ready     ReadyProbe
	Auth      *auth.Service
	Access    *access.Workflow
	Documents *documents.Catalog
	Orgs      *orgs.Admin
	Activity  *audit.Recorder
	Stream    *stream.Stream
	Webhooks  *webhook.Registry
	OAuth     *salesforce.OAuth
	Syncer    *salesforce.Syncer
}

// Options tune the outer middleware.
type Options struct {
	DemoMode        bool
	CORSOrigins     []string
	RateLimitBurst  int
	RateLimitPerSec int
	MaxBodyBytes    int64
	// TrustedProxies are the peers allowed to set X-Forwarded-For.
	TrustedProxies []netip.Prefix
	// AfterConnectURL is where the CRM OAuth callback sends the browser.
	AfterConnectURL string
}

// API is the HTTP layer.
type API struct {
	mux   *http.ServeMux
	opts  Options
	limit func(http.Handler) http.Handler

	version    string
	readyProbe ReadyProbe
	auth       *auth.Service
	access     *access.Workflow
	docs       *documents.Catalog
	orgs       *orgs.Admin
	activity   *audit.Recorder
	stream     *stream.Stream
	webhooks   *webhook.Registry
	oauth      *salesforce.OAuth
	syncer     *salesforce.Syncer
}

func New(d Deps, opts Options) *API {
	a := &API{
		mux:        http.NewServeMux(),
		opts:       opts,
		limit:      RateLimit(opts.RateLimitBurst, opts.RateLimitPerSec),
		version:    d.Version,
		readyProbe: d.Ready,
		auth:       d.Auth,
		access:     d.Access,
		docs:       d.Documents,
		orgs:       d.Orgs,
		activity:   d.Activity,
		stream:     d.Stream,
		webhooks:   d.Webhooks,
		oauth:      d.OAuth,
		syncer:     d.Syncer,
	}
	a.routes()
	return a
}

func (a *API) routes() {
	m := a.mux
	m.HandleFunc("GET /healthz", a.Healthz)
	m.HandleFunc("GET /readyz", a.Ready)
	m.HandleFunc("GET /v1/info", a.Info)
	m.Handle("GET /metrics", obs.Handler())

	// public
	m.Handle("POST /v1/document-requests", a.limited(a.submitRequest))
	m.Handle("GET /v1/access/{token}", a.limited(a.resolveAccess))
	m.Handle("GET /v1/access/{token}/download/{documentID}", a.limited(a.downloadWithToken))
	m.HandleFunc("GET /v1/documents", a.listPublicDocuments)
	m.Handle("GET /v1/documents/{id}/download", a.limited(a.downloadPublic))
	m.Handle("POST /v1/auth/login", a.limited(a.login))
	m.Handle("POST /v1/auth/signup", a.limited(a.signup))
	m.HandleFunc("GET /v1/salesforce/callback", a.salesforceCallback)

	// admin
	admin := func(pattern string, h http.HandlerFunc) { m.HandleFunc(pattern, a.admin(trust.RoleAdmin, h)) }
	super := func(pattern string, h http.HandlerFunc) { m.HandleFunc(pattern, a.admin(trust.RoleSuperAdmin, h)) }

	admin("GET /v1/admin/document-requests", a.listRequests)
	admin("GET /v1/admin/document-requests/{id}", a.requestDetail)
	admin("POST /v1/admin/document-requests/{id}/approve", a.approveRequest)
	admin("POST /v1/admin/document-requests/{id}/deny", a.denyRequest)
	admin("POST /v1/admin/document-requests/batch-approve", a.batchApprove)
	admin("POST /v1/admin/document-requests/batch-deny", a.batchDeny)

	admin("GET /v1/admin/organizations", a.listOrganizations)
	admin("GET /v1/admin/organizations/{id}", a.getOrganization)
	admin("PATCH /v1/admin/organizations/{id}", a.updateOrganization)
	admin("DELETE /v1/admin/organizations/{id}", a.revokeOrganization)
	admin("POST /v1/admin/organizations/{id}/restore", a.restoreOrganization)

	admin("GET /v1/admin/documents", a.listDocuments)
	admin("POST /v1/admin/documents", a.createDocument)
	admin("POST /v1/admin/documents/bulk", a.bulkCreateDocuments)
	admin("GET /v1/admin/documents/{id}", a.getDocument)
	admin("PATCH /v1/admin/documents/{id}", a.updateDocument)
	admin("DELETE /v1/admin/documents/{id}", a.archiveDocument)
	admin("POST /v1/admin/documents/{id}/replace", a.replaceDocument)

	admin("GET /v1/admin/activity", a.listActivity)
	admin("GET /v1/admin/activity/stream", a.Stream)

	super("GET /v1/admin/webhooks", a.listWebhooks)
	super("POST /v1/admin/webhooks", a.createWebhook)
	super("DELETE /v1/admin/webhooks/{id}", a.deleteWebhook)

	super("POST /v1/admin/salesforce/connect", a.salesforceConnect)
	super("POST /v1/admin/salesforce/sync", a.salesforceSync)

	m.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
}

// limited applies the per-client rate limit to public endpoints. All of them
// share one set of buckets.
func (a *API) limited(h http.HandlerFunc) http.Handler {
	return a.limit(h)
}

// Handler returns the fully wrapped handler for the HTTP server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, a.opts.MaxBodyBytes)
	h = CORS(a.opts.CORSOrigins)(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	h = ClientAddr(a.opts.TrustedProxies)(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":      serviceName,
		"time":      time.Now().UTC().Format(time.RFC3339),
		"version":   a.version,
		"demo_mode": a.opts.DemoMode,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{"error": msg}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// handleTrustError maps domain sentinels onto status codes.
func handleTrustError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, trust.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, trust.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, trust.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, trust.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, trust.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
	case errors.As(err, &tooLarge):
		writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
	case errors.Is(err, context.Canceled):
		writeError(w, r, 499, "request canceled")
	default:
		obs.Logger().Error("request_failed",
			zap.String("request_id", audit.RequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, r, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return badRequest("invalid JSON: " + err.Error())
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return badRequest("unexpected data after JSON body")
	}
	return nil
}

func badRequest(msg string) error {
	return &inputError{msg: msg}
}

// inputError is a request-shape problem reported as 400.
type inputError struct{ msg string }

func (e *inputError) Error() string { return e.msg }
func (e *inputError) Is(target error) bool {
	return target == trust.ErrInvalidInput
}

func parseBoundedInt(raw, name string, def, min, max int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest(name + " must be an integer")
	}
	if val < min || val > max {
		return 0, badRequest(name + " must be between " + strconv.Itoa(min) + " and " + strconv.Itoa(max))
	}
	return val, nil
}
