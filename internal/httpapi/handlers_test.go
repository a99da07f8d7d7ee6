package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"trustcenter.dev/internal/access"
	"trustcenter.dev/internal/audit"
	"trustcenter.dev/internal/auth"
	"trustcenter.dev/internal/documents"
	"trustcenter.dev/internal/notify"
	"trustcenter.dev/internal/orgs"
	"trustcenter.dev/internal/storage"
	"trustcenter.dev/internal/stream"
	"trustcenter.dev/internal/trust"
	"trustcenter.dev/internal/webhook"
)

const (
	testAdminEmail    = "admin@trust.example"
	testAdminPassword = "correct-horse"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	store   *trust.InMemory
	mailer  *notify.LogMailer
	t       *testing.T
}

func newTestAPI(t *testing.T, opts Options) *apiClient {
	t.Helper()

	store := trust.NewInMemory()
	issuer, err := auth.NewIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	authSvc := auth.NewService(store.Admins(), issuer)
	if _, err := authSvc.CreateAdmin(context.Background(), auth.NewAdmin{
		Email:    testAdminEmail,
		Name:     "Admin",
		Password: testAdminPassword,
		Role:     trust.RoleSuperAdmin,
	}); err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}

	blobs, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	downloads := storage.NewServer(blobs, time.Minute, true)
	events := stream.New()
	recorder := audit.NewRecorder(store.Activity(), events)
	mailer := notify.NewLogMailer()
	hooks := webhook.NewDispatcher(store.Webhooks(), time.Second)

	wf := access.New(store,
		access.WithMailer(notify.NewNotifier(mailer, "trust@example.com")),
		access.WithRecorder(recorder),
		access.WithWebhooks(hooks),
		access.WithDownloads(downloads),
		access.WithLinkBaseURL("https://trust.example"),
	)
	catalog := documents.NewCatalog(store.Documents(), documents.Options{
		Blobs:     blobs,
		Downloads: downloads,
		Recorder:  recorder,
		Webhooks:  hooks,
		BulkLimit: 3,
	})

	api := New(Deps{
		Version:   "test",
		Auth:      authSvc,
		Access:    wf,
		Documents: catalog,
		Orgs:      orgs.NewAdmin(store.Organizations(), recorder),
		Activity:  recorder,
		Stream:    events,
		Webhooks:  webhook.NewRegistry(store.Webhooks()),
	}, opts)

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{baseURL: srv.URL, client: srv.Client(), store: store, mailer: mailer, t: t}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.baseURL+path, payload)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	if params != nil {
		path += "?" + params.Encode()
	}
	return c.do(http.MethodGet, path, nil, headers)
}

func (c *apiClient) login() map[string]string {
	c.t.Helper()
	resp := c.post("/v1/auth/login", map[string]any{
		"email":    testAdminEmail,
		"password": testAdminPassword,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected login status: %d", resp.StatusCode)
	}
	session := decode[auth.Session](c.t, resp)
	if session.Token == "" {
		c.t.Fatalf("empty token issued")
	}
	return map[string]string{"Authorization": "Bearer " + session.Token}
}

func (c *apiClient) seedDocument(title string, level trust.AccessLevel) trust.Document {
	c.t.Helper()
	doc := trust.Document{
		Title:            title,
		AccessLevel:      level,
		Status:           trust.DocumentPublished,
		Version:          1,
		IsCurrentVersion: true,
	}
	if err := c.store.Documents().Create(context.Background(), &doc); err != nil {
		c.t.Fatalf("seed document: %v", err)
	}
	return doc
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("expected %d, got %d: %s", want, resp.StatusCode, body)
	}
}

func TestAPIRequestApproveAccessFlow(t *testing.T) {
	api := newTestAPI(t, Options{})
	admin := api.login()
	soc2 := api.seedDocument("SOC 2 Type II", trust.AccessRestricted)
	pentest := api.seedDocument("Pentest summary", trust.AccessRestricted)

	// Submit from a new company: everything is pending.
	resp := api.post("/v1/document-requests", map[string]any{
		"name":         "Ann",
		"email":        "ann@acme.io",
		"company":      "Acme",
		"document_ids": []string{soc2.ID, pentest.ID},
		"reason":       "vendor review",
	}, nil)
	expectStatus(t, resp, http.StatusCreated)
	submitted := decode[map[string]any](t, resp)
	if submitted["success"] != true || submitted["auto_approved"] != false {
		t.Fatalf("unexpected submit response: %v", submitted)
	}
	pendingID, _ := submitted["pending_request_id"].(string)
	if pendingID == "" {
		t.Fatalf("expected pending request id: %v", submitted)
	}

	// The queue shows it.
	resp = api.get("/v1/admin/document-requests", url.Values{"status": {"pending"}}, admin)
	expectStatus(t, resp, http.StatusOK)
	list := decode[map[string]any](t, resp)
	if items := list["items"].([]any); len(items) != 1 {
		t.Fatalf("expected one pending request, got %d", len(items))
	}

	// Approve with a 30 day access window.
	resp = api.post("/v1/admin/document-requests/"+pendingID+"/approve", map[string]any{
		"notes":           "ok",
		"expiration_days": 30,
	}, admin)
	expectStatus(t, resp, http.StatusOK)
	approved := decode[struct {
		Request trust.DocumentRequest `json:"request"`
		Outcome access.ApproveOutcome `json:"outcome"`
	}](t, resp)
	if approved.Request.Status != trust.RequestApproved || approved.Request.MagicLinkToken == "" {
		t.Fatalf("unexpected approval: %+v", approved.Request)
	}
	if !approved.Outcome.EmailSent || len(api.mailer.Sent()) != 1 {
		t.Fatalf("expected one magic link email, outcome %+v", approved.Outcome)
	}

	// Approving twice conflicts.
	resp = api.post("/v1/admin/document-requests/"+pendingID+"/approve", nil, admin)
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	// The link resolves to both documents.
	token := approved.Request.MagicLinkToken
	resp = api.get("/v1/access/"+token, nil, nil)
	expectStatus(t, resp, http.StatusOK)
	view := decode[struct {
		Request access.AccessView `json:"request"`
	}](t, resp)
	if len(view.Request.Documents) != 2 || view.Request.AccessExpiresAt == nil {
		t.Fatalf("unexpected access view: %+v", view.Request)
	}

	// A placeholder PDF is streamed for documents without a stored file.
	resp = api.get("/v1/access/"+token+"/download/"+soc2.ID, nil, nil)
	expectStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("unexpected content type %q", ct)
	}
	resp.Body.Close()

	// Documents outside the grant are refused.
	other := api.seedDocument("ISO 27001", trust.AccessRestricted)
	resp = api.get("/v1/access/"+token+"/download/"+other.ID, nil, nil)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	// A second request from the same company is auto-approved.
	resp = api.post("/v1/document-requests", map[string]any{
		"name":         "Bob",
		"email":        "bob@acme.io",
		"document_ids": []string{soc2.ID},
	}, nil)
	expectStatus(t, resp, http.StatusCreated)
	again := decode[map[string]any](t, resp)
	if again["auto_approved"] != true {
		t.Fatalf("expected auto approval: %v", again)
	}
}

func TestAPIBatchDenySkipsReviewed(t *testing.T) {
	api := newTestAPI(t, Options{})
	admin := api.login()
	doc := api.seedDocument("SOC 2", trust.AccessRestricted)

	var ids []string
	for _, email := range []string{"a@one.io", "b@two.io"} {
		resp := api.post("/v1/document-requests", map[string]any{
			"name": "Requester", "email": email, "document_ids": []string{doc.ID},
		}, nil)
		expectStatus(t, resp, http.StatusCreated)
		ids = append(ids, decode[map[string]any](t, resp)["pending_request_id"].(string))
	}

	resp := api.post("/v1/admin/document-requests/"+ids[0]+"/deny", map[string]any{"reason": "no NDA"}, admin)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = api.post("/v1/admin/document-requests/batch-deny", map[string]any{
		"request_ids": ids,
		"reason":      "cleanup",
	}, admin)
	expectStatus(t, resp, http.StatusOK)
	out := decode[batchResponse](t, resp)
	if out.Succeeded != 1 || out.Skipped != 1 || out.Failed != 0 {
		t.Fatalf("unexpected batch summary: %+v", out)
	}
}

func TestAPIEnforcesAuth(t *testing.T) {
	api := newTestAPI(t, Options{})

	resp := api.get("/v1/admin/document-requests", nil, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatal("expected WWW-Authenticate header")
	}
	var errBody map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&errBody); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if errBody["error"] == "" || errBody["request_id"] == "" {
		t.Fatalf("expected error and request id, got %v", errBody)
	}

	resp = api.get("/v1/admin/organizations", nil, map[string]string{"Authorization": "Bearer nope"})
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}

func TestAPIRegularAdminCannotManageWebhooks(t *testing.T) {
	api := newTestAPI(t, Options{})
	resp := api.post("/v1/auth/signup", map[string]any{
		"email": "ops@trust.example", "name": "Ops", "password": "long-enough-pw",
	}, nil)
	expectStatus(t, resp, http.StatusCreated)
	session := decode[auth.Session](t, resp)
	headers := map[string]string{"Authorization": "Bearer " + session.Token}

	resp = api.get("/v1/admin/webhooks", nil, headers)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = api.get("/v1/admin/organizations", nil, headers)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestAPISignupBlockedInDemoMode(t *testing.T) {
	api := newTestAPI(t, Options{DemoMode: true})
	resp := api.post("/v1/auth/signup", map[string]any{
		"email": "x@trust.example", "name": "X", "password": "long-enough-pw",
	}, nil)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()
}

func TestAPILoginRejectsBadPassword(t *testing.T) {
	api := newTestAPI(t, Options{})
	resp := api.post("/v1/auth/login", map[string]any{"email": testAdminEmail, "password": "wrong"}, nil)
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}

func TestAPISubmitValidation(t *testing.T) {
	api := newTestAPI(t, Options{})

	resp := api.post("/v1/document-requests", map[string]any{"name": "", "email": "x@y.io"}, nil)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = api.post("/v1/document-requests", map[string]any{"unknown": true}, nil)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestAPIUnknownTokenIsNotFound(t *testing.T) {
	api := newTestAPI(t, Options{})
	resp := api.get("/v1/access/AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", nil, nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestAPIPublicCatalogAndDownload(t *testing.T) {
	api := newTestAPI(t, Options{})
	public := api.seedDocument("Security overview", trust.AccessPublic)
	restricted := api.seedDocument("SOC 2", trust.AccessRestricted)

	resp := api.get("/v1/documents", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	list := decode[map[string][]trust.Document](t, resp)
	if len(list["items"]) != 2 {
		t.Fatalf("expected both published documents listed, got %d", len(list["items"]))
	}

	resp = api.get("/v1/documents/"+public.ID+"/download", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = api.get("/v1/documents/"+restricted.ID+"/download", nil, nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestAPIDocumentUploadAndReplace(t *testing.T) {
	api := newTestAPI(t, Options{})
	admin := api.login()

	upload := func(path string) *http.Response {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		_ = mw.WriteField("title", "Privacy policy")
		_ = mw.WriteField("access_level", "public")
		_ = mw.WriteField("status", "published")
		fw, err := mw.CreateFormFile("file", "privacy.pdf")
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		_, _ = fw.Write([]byte("%PDF-1.4 test"))
		_ = mw.Close()

		req, _ := http.NewRequest(http.MethodPost, api.baseURL+path, &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", admin["Authorization"])
		resp, err := api.client.Do(req)
		if err != nil {
			t.Fatalf("upload: %v", err)
		}
		return resp
	}

	resp := upload("/v1/admin/documents")
	expectStatus(t, resp, http.StatusCreated)
	doc := decode[trust.Document](t, resp)
	if doc.Version != 1 || doc.FileName != "privacy.pdf" {
		t.Fatalf("unexpected document: %+v", doc)
	}

	resp = upload("/v1/admin/documents/" + doc.ID + "/replace")
	expectStatus(t, resp, http.StatusCreated)
	next := decode[trust.Document](t, resp)
	if next.Version != 2 || next.ReplacesDocumentID != doc.ID {
		t.Fatalf("unexpected replacement: %+v", next)
	}

	resp = api.get("/v1/documents/"+next.ID+"/download", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	got, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(got) != "%PDF-1.4 test" {
		t.Fatalf("unexpected body %q", got)
	}
}

func TestAPIBulkCreateHonoursLimit(t *testing.T) {
	api := newTestAPI(t, Options{})
	admin := api.login()
	docs := make([]map[string]any, 4)
	for i := range docs {
		docs[i] = map[string]any{"title": "Doc", "access_level": "public"}
	}
	resp := api.post("/v1/admin/documents/bulk", map[string]any{"documents": docs}, admin)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestAPIOrganizationRevokeAndRestore(t *testing.T) {
	api := newTestAPI(t, Options{})
	admin := api.login()
	org := trust.Organization{Name: "Acme", Domain: "acme.io", IsActive: true}
	if err := api.store.Organizations().Create(context.Background(), &org); err != nil {
		t.Fatalf("create org: %v", err)
	}

	resp := api.do(http.MethodDelete, "/v1/admin/organizations/"+org.ID, nil, admin)
	expectStatus(t, resp, http.StatusOK)
	revoked := decode[trust.Organization](t, resp)
	if revoked.IsActive || revoked.RevokedAt == nil {
		t.Fatalf("expected revoked org: %+v", revoked)
	}

	resp = api.post("/v1/admin/organizations/"+org.ID+"/restore", nil, admin)
	expectStatus(t, resp, http.StatusOK)
	restored := decode[trust.Organization](t, resp)
	if !restored.IsActive || restored.Status != trust.OrgStatusConditional {
		t.Fatalf("unexpected restored org: %+v", restored)
	}

	resp = api.do(http.MethodPatch, "/v1/admin/organizations/"+org.ID, map[string]any{"status": "bogus"}, admin)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = api.get("/v1/admin/activity", url.Values{"entity_type": {"organization"}}, admin)
	expectStatus(t, resp, http.StatusOK)
	activity := decode[map[string][]trust.ActivityLog](t, resp)
	if len(activity["items"]) < 2 {
		t.Fatalf("expected revoke and restore entries, got %d", len(activity["items"]))
	}
}

func TestAPIWebhookLifecycle(t *testing.T) {
	api := newTestAPI(t, Options{})
	admin := api.login()

	resp := api.post("/v1/admin/webhooks", map[string]any{
		"url":    "https://hooks.example/trust",
		"secret": "0123456789abcdef",
		"events": []string{"*"},
	}, admin)
	expectStatus(t, resp, http.StatusCreated)
	hook := decode[map[string]any](t, resp)
	if _, leaked := hook["secret"]; leaked {
		t.Fatal("secret must not be serialized")
	}

	resp = api.do(http.MethodDelete, "/v1/admin/webhooks/"+hook["id"].(string), nil, admin)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = api.do(http.MethodDelete, "/v1/admin/webhooks/"+hook["id"].(string), nil, admin)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestAPISalesforceDisabled(t *testing.T) {
	api := newTestAPI(t, Options{})
	admin := api.login()
	resp := api.post("/v1/admin/salesforce/sync", nil, admin)
	expectStatus(t, resp, http.StatusServiceUnavailable)
	resp.Body.Close()
}

func TestHealthEndpoints(t *testing.T) {
	api := newTestAPI(t, Options{})
	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		resp := api.get(path, nil, nil)
		expectStatus(t, resp, http.StatusOK)
		resp.Body.Close()
	}
}

func TestPublicRoutesShareRateLimit(t *testing.T) {
	api := newTestAPI(t, Options{RateLimitBurst: 2, RateLimitPerSec: 1})

	resp := api.post("/v1/auth/login", map[string]any{"email": "nobody@trust.example", "password": "wrong-password"}, nil)
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = api.get("/v1/access/AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", nil, nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	// A third public route finds the bucket already drained by the other two.
	resp = api.post("/v1/document-requests", map[string]any{}, nil)
	expectStatus(t, resp, http.StatusTooManyRequests)
	resp.Body.Close()
}
