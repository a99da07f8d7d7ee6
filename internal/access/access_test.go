package access

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustcenter.dev/internal/notify"
	"trustcenter.dev/internal/storage"
	"trustcenter.dev/internal/trust"
	"trustcenter.dev/internal/webhook"
)

type fakeMailer struct {
	mu       sync.Mutex
	links    []notify.MagicLinkData
	rejected []notify.RejectionData
	fail     error
}

func (m *fakeMailer) SendMagicLink(_ context.Context, data notify.MagicLinkData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.links = append(m.links, data)
	return nil
}

func (m *fakeMailer) SendRejection(_ context.Context, data notify.RejectionData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.rejected = append(m.rejected, data)
	return nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []trust.ActivityLog
}

func (r *fakeRecorder) Record(_ context.Context, entry trust.ActivityLog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func (r *fakeRecorder) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}

type fakeHooks struct {
	mu     sync.Mutex
	events []string
}

func (h *fakeHooks) Dispatch(_ context.Context, event string, _ any) []webhook.Delivery {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	return nil
}

type fixture struct {
	store    *trust.InMemory
	wf       *Workflow
	mailer   *fakeMailer
	recorder *fakeRecorder
	hooks    *fakeHooks
	now      time.Time
	docs     map[string]string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    trust.NewInMemory(),
		mailer:   &fakeMailer{},
		recorder: &fakeRecorder{},
		hooks:    &fakeHooks{},
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		docs:     map[string]string{},
	}
	f.store.SetClock(f.clock)
	ctx := context.Background()
	for _, title := range []string{"A", "B", "C"} {
		doc := trust.Document{
			Title:            "Doc " + title,
			AccessLevel:      trust.AccessRestricted,
			Status:           trust.DocumentPublished,
			Version:          1,
			IsCurrentVersion: true,
		}
		require.NoError(t, f.store.Documents().Create(ctx, &doc))
		f.docs[title] = doc.ID
	}
	f.wf = New(f.store,
		WithClock(f.clock),
		WithMailer(f.mailer),
		WithRecorder(f.recorder),
		WithWebhooks(f.hooks),
		WithLinkBaseURL("https://trust.example.com/"),
	)
	return f
}

func (f *fixture) clock() time.Time { return f.now }

func (f *fixture) ids(titles ...string) []string {
	out := make([]string, 0, len(titles))
	for _, t := range titles {
		out = append(out, f.docs[t])
	}
	return out
}

func (f *fixture) org(t *testing.T, domain string) trust.Organization {
	t.Helper()
	org, err := f.store.Organizations().FindByDomain(context.Background(), domain)
	require.NoError(t, err)
	return org
}

func (f *fixture) request(t *testing.T, id string) trust.DocumentRequest {
	t.Helper()
	req, err := f.store.Requests().Get(context.Background(), id)
	require.NoError(t, err)
	return req
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.wf.Submit(ctx, SubmitInput{Email: "a@acme.com"})
	require.ErrorIs(t, err, trust.ErrInvalidInput)
	assert.Contains(t, err.Error(), "name")
	assert.Contains(t, err.Error(), "document_ids")

	_, err = f.wf.Submit(ctx, SubmitInput{Name: "A", Email: "not-an-email", DocumentIDs: f.ids("A")})
	assert.ErrorIs(t, err, trust.ErrInvalidInput)

	_, err = f.wf.Submit(ctx, SubmitInput{Name: "A", Email: "a@acme.com", DocumentIDs: []string{"missing"}})
	assert.ErrorIs(t, err, trust.ErrInvalidInput)
}

func TestSubmitNewOrganizationGoesPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.wf.Submit(ctx, SubmitInput{
		Name:        "Alice",
		Email:       "alice@newco.com",
		DocumentIDs: append(f.ids("A", "B"), f.docs["A"]),
	})
	require.NoError(t, err)
	assert.False(t, res.AutoApproved)
	assert.Empty(t, res.AutoApprovedRequestID)
	require.NotEmpty(t, res.PendingRequestID)

	org := f.org(t, "newco.com")
	assert.Equal(t, "Newco", org.Name)
	assert.Equal(t, trust.OrgStatusUnset, org.Status)
	assert.Empty(t, org.ApprovedDocumentIDs)

	req := f.request(t, res.PendingRequestID)
	assert.Equal(t, trust.RequestPending, req.Status)
	assert.Equal(t, f.ids("A", "B"), req.DocumentIDs, "ids are de-duplicated in order")
	assert.Empty(t, req.MagicLinkToken)
	require.NotNil(t, req.OrganizationID)
	assert.Equal(t, org.ID, *req.OrganizationID)
	assert.Empty(t, f.mailer.links)
	assert.Equal(t, []string{webhook.EventRequestCreated}, f.hooks.events)
}

func TestSubmitPersonalDomainCreatesNoOrganization(t *testing.T) {
	f := newFixture(t)
	res, err := f.wf.Submit(context.Background(), SubmitInput{Name: "Bob", Email: "bob@gmail.com", DocumentIDs: f.ids("A")})
	require.NoError(t, err)

	req := f.request(t, res.PendingRequestID)
	assert.Nil(t, req.OrganizationID)

	named, err := f.wf.Submit(context.Background(), SubmitInput{Name: "Bob", Email: "Bob <bob@gmail.com>", DocumentIDs: f.ids("A")})
	require.NoError(t, err)
	req = f.request(t, named.PendingRequestID)
	assert.Nil(t, req.OrganizationID)
	assert.Equal(t, "bob@gmail.com", req.RequesterEmail)

	orgs, err := f.store.Organizations().List(context.Background(), trust.OrganizationFilter{IncludeInactive: true})
	require.NoError(t, err)
	assert.Empty(t, orgs)
}

func TestSubmitDisplayNameAddressResolvesRealDomain(t *testing.T) {
	f := newFixture(t)
	res, err := f.wf.Submit(context.Background(), SubmitInput{Name: "Alice", Email: "Alice Smith <alice@Acme.com>", DocumentIDs: f.ids("A")})
	require.NoError(t, err)

	req := f.request(t, res.PendingRequestID)
	assert.Equal(t, "alice@Acme.com", req.RequesterEmail)
	org := f.org(t, "acme.com")
	require.NotNil(t, req.OrganizationID)
	assert.Equal(t, org.ID, *req.OrganizationID)

	_, err = f.wf.Submit(context.Background(), SubmitInput{Name: "Mallory", Email: "mallory@acme.com>", DocumentIDs: f.ids("A")})
	assert.ErrorIs(t, err, trust.ErrInvalidInput)
}

func TestApproveThenSubmitPartitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.wf.Submit(ctx, SubmitInput{Name: "Alice", Email: "alice@acme.com", DocumentIDs: f.ids("A", "B")})
	require.NoError(t, err)
	days := 30
	approved, outcome, err := f.wf.Approve(ctx, first.PendingRequestID, "admin-1", "ok", &days)
	require.NoError(t, err)
	assert.True(t, outcome.EmailSent)
	assert.Empty(t, outcome.OrgUpdateError)
	assert.Equal(t, "https://trust.example.com/access/"+approved.MagicLinkToken, outcome.MagicLinkURL)

	org := f.org(t, "acme.com")
	assert.Equal(t, trust.OrgStatusConditional, org.Status)
	assert.ElementsMatch(t, f.ids("A", "B"), org.ApprovedDocumentIDs)
	require.NotNil(t, org.FirstApprovedAt)
	require.NotNil(t, org.LastApprovedAt)

	f.mailer.links = nil
	second, err := f.wf.Submit(ctx, SubmitInput{Name: "Carol", Email: "carol@acme.com", DocumentIDs: f.ids("A", "C")})
	require.NoError(t, err)
	assert.True(t, second.AutoApproved)
	require.NotEmpty(t, second.AutoApprovedRequestID)
	require.NotEmpty(t, second.PendingRequestID)
	assert.True(t, second.EmailSent)

	auto := f.request(t, second.AutoApprovedRequestID)
	assert.Equal(t, trust.RequestAutoApproved, auto.Status)
	assert.Equal(t, f.ids("A"), auto.DocumentIDs)
	assert.Len(t, auto.MagicLinkToken, 43)
	require.NotNil(t, auto.MagicLinkExpiresAt)
	assert.Equal(t, f.now.Add(7*24*time.Hour), *auto.MagicLinkExpiresAt)

	pending := f.request(t, second.PendingRequestID)
	assert.Equal(t, trust.RequestPending, pending.Status)
	assert.Equal(t, f.ids("C"), pending.DocumentIDs)

	require.Len(t, f.mailer.links, 1)
	assert.Equal(t, []string{"Doc A"}, f.mailer.links[0].Documents)
}

func TestApproveStampsAndRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.wf.Submit(ctx, SubmitInput{Name: "Alice", Email: "alice@acme.com", DocumentIDs: f.ids("A")})
	require.NoError(t, err)

	days := 10
	req, _, err := f.wf.Approve(ctx, res.PendingRequestID, "admin-1", " looks good ", &days)
	require.NoError(t, err)
	assert.Equal(t, trust.RequestApproved, req.Status)
	assert.Equal(t, "admin-1", req.ReviewedBy)
	assert.Equal(t, "looks good", req.AdminNotes)
	require.NotNil(t, req.ReviewedAt)
	require.NotNil(t, req.AccessExpiresAt)
	assert.Equal(t, f.now.AddDate(0, 0, 10), *req.AccessExpiresAt)

	assert.Contains(t, f.recorder.actions(), "document_request.approve")
	assert.Contains(t, f.recorder.actions(), "organization.auto_status")
	assert.Contains(t, f.hooks.events, webhook.EventRequestApproved)

	_, _, err = f.wf.Approve(ctx, res.PendingRequestID, "admin-1", "", nil)
	assert.ErrorIs(t, err, trust.ErrConflict)
	_, _, err = f.wf.Approve(ctx, "missing", "admin-1", "", nil)
	assert.ErrorIs(t, err, trust.ErrNotFound)
	neg := -1
	_, _, err = f.wf.Approve(ctx, res.PendingRequestID, "admin-1", "", &neg)
	assert.ErrorIs(t, err, trust.ErrInvalidInput)
}

func TestApproveWithoutExpirationIsPermanent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.wf.Submit(ctx, SubmitInput{Name: "Alice", Email: "alice@acme.com", DocumentIDs: f.ids("A")})
	require.NoError(t, err)
	req, _, err := f.wf.Approve(ctx, res.PendingRequestID, "admin-1", "", nil)
	require.NoError(t, err)
	assert.Nil(t, req.AccessExpiresAt)
}

func TestApproveUnionsApprovedSet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r1, err := f.wf.Submit(ctx, SubmitInput{Name: "A", Email: "a@acme.com", DocumentIDs: f.ids("A", "B")})
	require.NoError(t, err)
	r2, err := f.wf.Submit(ctx, SubmitInput{Name: "B", Email: "b@acme.com", DocumentIDs: f.ids("B", "C")})
	require.NoError(t, err)

	_, _, err = f.wf.Approve(ctx, r1.PendingRequestID, "admin-1", "", nil)
	require.NoError(t, err)
	firstApproved := *f.org(t, "acme.com").FirstApprovedAt

	f.now = f.now.Add(time.Hour)
	_, _, err = f.wf.Approve(ctx, r2.PendingRequestID, "admin-1", "", nil)
	require.NoError(t, err)

	org := f.org(t, "acme.com")
	assert.ElementsMatch(t, f.ids("A", "B", "C"), org.ApprovedDocumentIDs)
	assert.Equal(t, firstApproved, *org.FirstApprovedAt)
	assert.Equal(t, f.now, *org.LastApprovedAt)
}

func TestApproveBlockedOrganizationLeavesRequestUntouched(t *testing.T) {
	for _, block := range []struct {
		name string
		upd  trust.OrganizationUpdate
	}{
		{"no_access", trust.OrganizationUpdate{Status: ptr(trust.OrgStatusNoAccess)}},
		{"revoked", trust.OrganizationUpdate{IsActive: ptr(false)}},
	} {
		t.Run(block.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			res, err := f.wf.Submit(ctx, SubmitInput{Name: "A", Email: "a@blocked.com", DocumentIDs: f.ids("A")})
			require.NoError(t, err)
			org := f.org(t, "blocked.com")
			_, err = f.store.Organizations().Update(ctx, org.ID, block.upd)
			require.NoError(t, err)

			_, _, err = f.wf.Approve(ctx, res.PendingRequestID, "admin-1", "", nil)
			assert.ErrorIs(t, err, trust.ErrForbidden)

			req := f.request(t, res.PendingRequestID)
			assert.Equal(t, trust.RequestPending, req.Status)
			assert.Empty(t, req.MagicLinkToken)
			assert.Empty(t, f.org(t, "blocked.com").ApprovedDocumentIDs)
			assert.Empty(t, f.mailer.links)
		})
	}
}

func TestBlockedOrganizationNeverAutoApproves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.wf.Submit(ctx, SubmitInput{Name: "A", Email: "a@acme.com", DocumentIDs: f.ids("A")})
	require.NoError(t, err)
	_, _, err = f.wf.Approve(ctx, res.PendingRequestID, "admin-1", "", nil)
	require.NoError(t, err)

	org := f.org(t, "acme.com")
	_, err = f.store.Organizations().Update(ctx, org.ID, trust.OrganizationUpdate{IsActive: ptr(false)})
	require.NoError(t, err)

	again, err := f.wf.Submit(ctx, SubmitInput{Name: "B", Email: "b@acme.com", DocumentIDs: f.ids("A")})
	require.NoError(t, err)
	assert.False(t, again.AutoApproved)
	assert.NotEmpty(t, again.PendingRequestID)
}

func TestDeny(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.wf.Submit(ctx, SubmitInput{Name: "A", Email: "a@acme.com", DocumentIDs: f.ids("A")})
	require.NoError(t, err)

	req, outcome, err := f.wf.Deny(ctx, res.PendingRequestID, "admin-1", "not a customer")
	require.NoError(t, err)
	assert.True(t, outcome.EmailSent)
	assert.Equal(t, trust.RequestDenied, req.Status)
	assert.Equal(t, "not a customer", req.DenialReason)
	assert.Equal(t, "not a customer", req.AdminNotes)
	assert.Empty(t, req.MagicLinkToken)

	require.Len(t, f.mailer.rejected, 1)
	assert.Equal(t, "not a customer", f.mailer.rejected[0].Reason)
	assert.Empty(t, f.org(t, "acme.com").ApprovedDocumentIDs)
	assert.Contains(t, f.recorder.actions(), "document_request.deny")

	_, _, err = f.wf.Deny(ctx, res.PendingRequestID, "admin-1", "again")
	assert.ErrorIs(t, err, trust.ErrConflict)
}

func TestEmailFailureDoesNotFailApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.wf.Submit(ctx, SubmitInput{Name: "A", Email: "a@acme.com", DocumentIDs: f.ids("A")})
	require.NoError(t, err)

	f.mailer.fail = errors.New("smtp: auth failed password=hunter2")
	req, outcome, err := f.wf.Approve(ctx, res.PendingRequestID, "admin-1", "", nil)
	require.NoError(t, err)
	assert.Equal(t, trust.RequestApproved, req.Status)
	assert.False(t, outcome.EmailSent)
	assert.NotEmpty(t, outcome.EmailError)
	assert.NotContains(t, outcome.EmailError, "hunter2")
}

func TestBatchApproveIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var reqIDs []string
	for _, email := range []string{"a@acme.com", "b@beta.io"} {
		res, err := f.wf.Submit(ctx, SubmitInput{Name: "X", Email: email, DocumentIDs: f.ids("A", "B")})
		require.NoError(t, err)
		reqIDs = append(reqIDs, res.PendingRequestID)
	}
	batch := append([]string{}, reqIDs...)
	batch = append(batch, reqIDs[0], "missing")

	out, err := f.wf.BatchApprove(ctx, batch, "admin-1", "bulk", nil)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, BatchApproved, out[0].Status)
	assert.Equal(t, BatchApproved, out[1].Status)
	assert.Equal(t, BatchFailed, out[2].Status)

	before := f.org(t, "acme.com")
	token := f.request(t, reqIDs[0]).MagicLinkToken
	linksBefore := len(f.mailer.links)
	again, err := f.wf.BatchApprove(ctx, batch, "admin-1", "bulk", nil)
	require.NoError(t, err)
	assert.Equal(t, BatchSkipped, again[0].Status)
	assert.Equal(t, BatchSkipped, again[1].Status)

	after := f.org(t, "acme.com")
	assert.Equal(t, before.ApprovedDocumentIDs, after.ApprovedDocumentIDs)
	assert.Equal(t, before.LastApprovedAt, after.LastApprovedAt)
	assert.Len(t, f.mailer.links, linksBefore)
	assert.Equal(t, token, f.request(t, reqIDs[0]).MagicLinkToken)

	actions := f.recorder.actions()
	assert.Contains(t, actions, "document_request.batch_approve")
	assert.NotContains(t, actions, "document_request.approve")
}

func TestBatchDenySkipsReviewed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r1, err := f.wf.Submit(ctx, SubmitInput{Name: "X", Email: "a@acme.com", DocumentIDs: f.ids("A")})
	require.NoError(t, err)
	r2, err := f.wf.Submit(ctx, SubmitInput{Name: "Y", Email: "b@acme.com", DocumentIDs: f.ids("B")})
	require.NoError(t, err)
	_, _, err = f.wf.Approve(ctx, r1.PendingRequestID, "admin-1", "", nil)
	require.NoError(t, err)

	out, err := f.wf.BatchDeny(ctx, []string{r1.PendingRequestID, r2.PendingRequestID}, "admin-1", "no")
	require.NoError(t, err)
	assert.Equal(t, BatchSkipped, out[0].Status)
	assert.Equal(t, BatchDenied, out[1].Status)
	assert.Equal(t, trust.RequestApproved, f.request(t, r1.PendingRequestID).Status)

	_, err = f.wf.BatchDeny(ctx, nil, "admin-1", "no")
	assert.ErrorIs(t, err, trust.ErrInvalidInput)
}

func TestResolveAccessExpiryBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.wf.Submit(ctx, SubmitInput{Name: "A", Email: "a@acme.com", DocumentIDs: f.ids("A")})
	require.NoError(t, err)
	req, _, err := f.wf.Approve(ctx, res.PendingRequestID, "admin-1", "", nil)
	require.NoError(t, err)
	expiry := *req.MagicLinkExpiresAt

	f.now = expiry.Add(-time.Second)
	_, err = f.wf.ResolveAccess(ctx, req.MagicLinkToken)
	require.NoError(t, err)

	f.now = expiry
	_, err = f.wf.ResolveAccess(ctx, req.MagicLinkToken)
	require.NoError(t, err, "a link is still valid at its exact expiry")

	f.now = expiry.Add(time.Nanosecond)
	_, err = f.wf.ResolveAccess(ctx, req.MagicLinkToken)
	require.ErrorIs(t, err, trust.ErrForbidden)
	assert.Contains(t, err.Error(), "link expired")
}

func TestResolveAccessIsReusableAndStampsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.wf.Submit(ctx, SubmitInput{Name: "A", Email: "a@acme.com", DocumentIDs: f.ids("A", "B")})
	require.NoError(t, err)
	req, _, err := f.wf.Approve(ctx, res.PendingRequestID, "admin-1", "", nil)
	require.NoError(t, err)

	view, err := f.wf.ResolveAccess(ctx, req.MagicLinkToken)
	require.NoError(t, err)
	assert.Equal(t, req.ID, view.RequestID)
	assert.Equal(t, "A", view.RequesterName)
	assert.Len(t, view.Documents, 2)
	firstUse := f.request(t, req.ID).MagicLinkUsedAt
	require.NotNil(t, firstUse)

	f.now = f.now.Add(time.Hour)
	_, err = f.wf.ResolveAccess(ctx, req.MagicLinkToken)
	require.NoError(t, err)
	assert.Equal(t, *firstUse, *f.request(t, req.ID).MagicLinkUsedAt)
}

func TestResolveAccessRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.wf.ResolveAccess(ctx, "short")
	assert.ErrorIs(t, err, trust.ErrNotFound)
	_, err = f.wf.ResolveAccess(ctx, strings.Repeat("a", 43))
	assert.ErrorIs(t, err, trust.ErrNotFound)

	token := strings.Repeat("b", 43)
	expires := f.now.Add(time.Hour)
	denied := trust.DocumentRequest{
		RequesterName:      "X",
		RequesterEmail:     "x@acme.com",
		DocumentIDs:        f.ids("A"),
		Status:             trust.RequestDenied,
		MagicLinkToken:     token,
		MagicLinkExpiresAt: &expires,
	}
	require.NoError(t, f.store.Requests().Create(ctx, &denied))
	_, err = f.wf.ResolveAccess(ctx, token)
	require.ErrorIs(t, err, trust.ErrForbidden)
	assert.Contains(t, err.Error(), "request not approved")

	ended := f.now.Add(-time.Minute)
	lapsed := trust.DocumentRequest{
		RequesterName:      "Y",
		RequesterEmail:     "y@acme.com",
		DocumentIDs:        f.ids("A"),
		Status:             trust.RequestApproved,
		MagicLinkToken:     strings.Repeat("c", 43),
		MagicLinkExpiresAt: &expires,
		AccessExpiresAt:    &ended,
	}
	require.NoError(t, f.store.Requests().Create(ctx, &lapsed))
	_, err = f.wf.ResolveAccess(ctx, lapsed.MagicLinkToken)
	require.ErrorIs(t, err, trust.ErrForbidden)
	assert.Contains(t, err.Error(), "access expired")
}

func TestDownloadDocumentScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	local, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	key := storage.ObjectKey("doc-d", 1, "d.pdf")
	require.NoError(t, local.Put(ctx, key, strings.NewReader("%PDF-d"), 6, "application/pdf"))
	doc := trust.Document{
		ID:               "doc-d",
		Title:            "Doc D",
		AccessLevel:      trust.AccessRestricted,
		Status:           trust.DocumentPublished,
		Version:          1,
		IsCurrentVersion: true,
		StorageKey:       key,
		FileName:         "d.pdf",
	}
	require.NoError(t, f.store.Documents().Create(ctx, &doc))
	f.wf.downloads = storage.NewServer(local, time.Minute, false)

	res, err := f.wf.Submit(ctx, SubmitInput{Name: "A", Email: "a@acme.com", DocumentIDs: []string{doc.ID}})
	require.NoError(t, err)
	req, _, err := f.wf.Approve(ctx, res.PendingRequestID, "admin-1", "", nil)
	require.NoError(t, err)

	dl, err := f.wf.DownloadDocument(ctx, req.MagicLinkToken, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, dl.Body)
	body, _ := io.ReadAll(dl.Body)
	dl.Body.Close()
	assert.Equal(t, "%PDF-d", string(body))
	assert.Equal(t, "d.pdf", dl.FileName)

	_, err = f.wf.DownloadDocument(ctx, req.MagicLinkToken, f.docs["B"])
	assert.ErrorIs(t, err, trust.ErrForbidden)
}

func TestDetailIncludesHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	older, err := f.wf.Submit(ctx, SubmitInput{Name: "A", Email: "a@acme.com", DocumentIDs: f.ids("A")})
	require.NoError(t, err)
	f.now = f.now.Add(time.Minute)
	newer, err := f.wf.Submit(ctx, SubmitInput{Name: "A", Email: "a@acme.com", DocumentIDs: f.ids("B")})
	require.NoError(t, err)

	detail, err := f.wf.Detail(ctx, newer.PendingRequestID)
	require.NoError(t, err)
	assert.Equal(t, newer.PendingRequestID, detail.Request.ID)
	require.Len(t, detail.Documents, 1)
	assert.Equal(t, "Doc B", detail.Documents[0].Title)
	require.NotNil(t, detail.Organization)
	assert.Equal(t, "acme.com", detail.Organization.Domain)
	require.Len(t, detail.History, 1)
	assert.Equal(t, older.PendingRequestID, detail.History[0].ID)

	_, err = f.wf.List(ctx, trust.RequestFilter{Status: "bogus"})
	assert.ErrorIs(t, err, trust.ErrInvalidInput)
	pending, err := f.wf.List(ctx, trust.RequestFilter{Status: trust.RequestPending})
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

// A new company asks for two documents, an admin approves, and a colleague's
// later request for an overlapping set is split between instant access and review.
func TestEndToEndNewCompany(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.wf.Submit(ctx, SubmitInput{Name: "Dana", Email: "dana@widgets.dev", Company: "Widgets", DocumentIDs: f.ids("A", "B")})
	require.NoError(t, err)
	require.False(t, res.AutoApproved)

	_, _, err = f.wf.Approve(ctx, res.PendingRequestID, "admin-1", "", nil)
	require.NoError(t, err)
	link := f.mailer.links[len(f.mailer.links)-1].Link
	token := link[strings.LastIndex(link, "/")+1:]
	view, err := f.wf.ResolveAccess(ctx, token)
	require.NoError(t, err)
	assert.Len(t, view.Documents, 2)

	next, err := f.wf.Submit(ctx, SubmitInput{Name: "Eli", Email: "eli@widgets.dev", DocumentIDs: f.ids("B", "C")})
	require.NoError(t, err)
	assert.True(t, next.AutoApproved)
	assert.Equal(t, f.ids("B"), f.request(t, next.AutoApprovedRequestID).DocumentIDs)
	assert.Equal(t, f.ids("C"), f.request(t, next.PendingRequestID).DocumentIDs)
	assert.Equal(t, "Widgets", f.org(t, "widgets.dev").Name)
}

// An organization that loses access stops auto-approving and cannot be
// approved until it is restored.
func TestEndToEndRevokedCompany(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.wf.Submit(ctx, SubmitInput{Name: "A", Email: "a@gone.io", DocumentIDs: f.ids("A")})
	require.NoError(t, err)
	_, _, err = f.wf.Approve(ctx, res.PendingRequestID, "admin-1", "", nil)
	require.NoError(t, err)

	org := f.org(t, "gone.io")
	_, err = f.store.Organizations().Update(ctx, org.ID, trust.OrganizationUpdate{Status: ptr(trust.OrgStatusNoAccess)})
	require.NoError(t, err)

	again, err := f.wf.Submit(ctx, SubmitInput{Name: "B", Email: "b@gone.io", DocumentIDs: f.ids("A")})
	require.NoError(t, err)
	assert.False(t, again.AutoApproved)

	_, _, err = f.wf.Approve(ctx, again.PendingRequestID, "admin-1", "", nil)
	assert.ErrorIs(t, err, trust.ErrForbidden)
	assert.Equal(t, trust.RequestPending, f.request(t, again.PendingRequestID).Status)
}

func ptr[T any](v T) *T { return &v }
