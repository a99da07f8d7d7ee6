// Package access runs the document request workflow and the magic-link
// gateway that redeems approved requests.
package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"trustcenter.dev/internal/magiclink"
	"trustcenter.dev/internal/notify"
	"trustcenter.dev/internal/obs"
	"trustcenter.dev/internal/orgs"
	"trustcenter.dev/internal/storage"
	"trustcenter.dev/internal/trust"
	"trustcenter.dev/internal/webhook"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	historyLimit     = 10
)

// Mailer sends the workflow emails.
type Mailer interface {
	SendMagicLink(ctx context.Context, data notify.MagicLinkData) error
	SendRejection(ctx context.Context, data notify.RejectionData) error
}

// Recorder appends activity entries on a best-effort basis.
type Recorder interface {
	Record(ctx context.Context, entry trust.ActivityLog)
}

// Dispatcher delivers workflow events to webhook subscribers.
type Dispatcher interface {
	Dispatch(ctx context.Context, event string, data any) []webhook.Delivery
}

// Workflow implements request submission, review and magic-link redemption.
type Workflow struct {
	store     trust.Store
	resolver  *orgs.Resolver
	mailer    Mailer
	recorder  Recorder
	hooks     Dispatcher
	downloads *storage.Server
	now       func() time.Time
	linkBase  string
	tokenTTL  time.Duration
}

// Option configures a Workflow.
type Option func(*Workflow)

func WithClock(fn func() time.Time) Option {
	return func(w *Workflow) {
		if fn != nil {
			w.now = fn
		}
	}
}

func WithMailer(m Mailer) Option { return func(w *Workflow) { w.mailer = m } }

func WithRecorder(r Recorder) Option { return func(w *Workflow) { w.recorder = r } }

func WithWebhooks(d Dispatcher) Option { return func(w *Workflow) { w.hooks = d } }

func WithDownloads(s *storage.Server) Option { return func(w *Workflow) { w.downloads = s } }

// WithLinkBaseURL sets the public site URL that magic links point at.
func WithLinkBaseURL(base string) Option {
	return func(w *Workflow) { w.linkBase = strings.TrimRight(base, "/") }
}

// WithTokenTTL overrides the magic-link lifetime.
func WithTokenTTL(ttl time.Duration) Option {
	return func(w *Workflow) {
		if ttl > 0 {
			w.tokenTTL = ttl
		}
	}
}

// New builds a Workflow over store.
func New(store trust.Store, opts ...Option) *Workflow {
	w := &Workflow{
		store:    store,
		resolver: orgs.NewResolver(store.Organizations()),
		now:      time.Now,
		tokenTTL: magiclink.DefaultTTL,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// SubmitInput is a public document request.
type SubmitInput struct {
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	Company     string   `json:"company"`
	DocumentIDs []string `json:"document_ids"`
	Reason      string   `json:"reason"`
}

// SubmitResult reports how a submission was split.
type SubmitResult struct {
	AutoApproved          bool   `json:"auto_approved"`
	Message               string `json:"message"`
	AutoApprovedRequestID string `json:"auto_approved_request_id,omitempty"`
	PendingRequestID      string `json:"pending_request_id,omitempty"`
	EmailSent             bool   `json:"email_sent"`
	EmailError            string `json:"email_error,omitempty"`
}

// Submit records a request, auto-approving the documents the requester's
// organization already holds and queueing the rest for review.
func (w *Workflow) Submit(ctx context.Context, in SubmitInput) (SubmitResult, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.Company = strings.TrimSpace(in.Company)
	in.Reason = strings.TrimSpace(in.Reason)
	docIDs := trust.MergeIDs(nil, trimAll(in.DocumentIDs))

	var missing []string
	if in.Name == "" {
		missing = append(missing, "name")
	}
	if in.Email == "" {
		missing = append(missing, "email")
	}
	if len(docIDs) == 0 {
		missing = append(missing, "document_ids")
	}
	if len(missing) > 0 {
		return SubmitResult{}, fmt.Errorf("%w: missing required fields: %s", trust.ErrInvalidInput, strings.Join(missing, ", "))
	}
	addr, err := notify.ValidateAddress(in.Email)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("%w: invalid email address", trust.ErrInvalidInput)
	}
	// Display-name forms ("Bob <bob@x.com>") reduce to the bare address.
	in.Email = addr
	domain, err := orgs.ExtractDomain(in.Email)
	if err != nil {
		return SubmitResult{}, err
	}
	docs, err := w.requestableDocuments(ctx, docIDs)
	if err != nil {
		return SubmitResult{}, err
	}

	var org *trust.Organization
	if !orgs.IsPersonalDomain(domain) {
		resolved, err := w.resolver.Resolve(ctx, domain, in.Company)
		if err != nil {
			return SubmitResult{}, err
		}
		org = &resolved
	}
	approvedDocs, pendingDocs := Partition(docIDs, org)

	var orgID *string
	if org != nil {
		id := org.ID
		orgID = &id
	}
	now := w.now().UTC()
	res := SubmitResult{}

	if len(approvedDocs) > 0 {
		token, err := magiclink.Generate()
		if err != nil {
			return SubmitResult{}, err
		}
		expires := now.Add(w.tokenTTL)
		req := trust.DocumentRequest{
			RequesterName:      in.Name,
			RequesterEmail:     in.Email,
			Company:            in.Company,
			Reason:             in.Reason,
			OrganizationID:     orgID,
			DocumentIDs:        approvedDocs,
			Status:             trust.RequestAutoApproved,
			MagicLinkToken:     token,
			MagicLinkExpiresAt: &expires,
			ReviewedAt:         &now,
		}
		if err := w.store.Requests().Create(ctx, &req); err != nil {
			return SubmitResult{}, err
		}
		res.AutoApproved = true
		res.AutoApprovedRequestID = req.ID
		res.EmailSent, res.EmailError = w.sendMagicLink(ctx, req, titlesFor(docs, approvedDocs))
		obs.CountDocumentRequest(string(trust.RequestAutoApproved))
		w.dispatch(ctx, webhook.EventRequestCreated, req)
	}

	if len(pendingDocs) > 0 {
		req := trust.DocumentRequest{
			RequesterName:  in.Name,
			RequesterEmail: in.Email,
			Company:        in.Company,
			Reason:         in.Reason,
			OrganizationID: orgID,
			DocumentIDs:    pendingDocs,
			Status:         trust.RequestPending,
		}
		if err := w.store.Requests().Create(ctx, &req); err != nil {
			return SubmitResult{}, err
		}
		res.PendingRequestID = req.ID
		obs.CountDocumentRequest(string(trust.RequestPending))
		w.dispatch(ctx, webhook.EventRequestCreated, req)
	}

	switch {
	case res.AutoApproved && res.PendingRequestID != "":
		res.Message = "Some documents were approved and sent to your email. The rest are pending review."
	case res.AutoApproved:
		res.Message = "Your request was approved. Check your email for your access link."
	default:
		res.Message = "Your request was submitted and is pending review."
	}
	return res, nil
}

// Partition splits requested ids into those the organization already holds
// and those that need review. Without an organization, or when the
// organization is blocked, everything needs review.
func Partition(requested []string, org *trust.Organization) (approved, pending []string) {
	for _, id := range requested {
		if org != nil && !org.Blocked() && org.HasApproved(id) {
			approved = append(approved, id)
		} else {
			pending = append(pending, id)
		}
	}
	return approved, pending
}

// requestableDocuments loads the requested documents and rejects unknown or
// unpublished ids.
func (w *Workflow) requestableDocuments(ctx context.Context, ids []string) ([]trust.Document, error) {
	docs, err := w.store.Documents().GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	found := make(map[string]trust.Document, len(docs))
	for _, d := range docs {
		if d.Status == trust.DocumentPublished {
			found[d.ID] = d
		}
	}
	var unknown []string
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("%w: unknown document_ids: %s", trust.ErrInvalidInput, strings.Join(unknown, ", "))
	}
	return docs, nil
}

// ApproveOutcome carries the best-effort side effects of an approval.
type ApproveOutcome struct {
	EmailSent      bool   `json:"email_sent"`
	EmailError     string `json:"email_error,omitempty"`
	MagicLinkURL   string `json:"magic_link_url,omitempty"`
	OrgUpdateError string `json:"organization_error,omitempty"`
}

// Approve moves a pending request to approved, mints its magic link and
// extends the organization's approved set.
func (w *Workflow) Approve(ctx context.Context, requestID, adminID, notes string, expirationDays *int) (trust.DocumentRequest, ApproveOutcome, error) {
	if err := validateExpiration(expirationDays); err != nil {
		return trust.DocumentRequest{}, ApproveOutcome{}, err
	}
	req, err := w.store.Requests().Get(ctx, requestID)
	if err != nil {
		return trust.DocumentRequest{}, ApproveOutcome{}, err
	}
	if req.Status != trust.RequestPending {
		return trust.DocumentRequest{}, ApproveOutcome{}, fmt.Errorf("%w: request is already %s", trust.ErrConflict, req.Status)
	}
	updated, outcome, err := w.approve(ctx, req, adminID, notes, expirationDays)
	if err != nil {
		return trust.DocumentRequest{}, ApproveOutcome{}, err
	}
	w.record(ctx, trust.ActivityLog{
		AdminID:    adminID,
		Action:     "document_request.approve",
		EntityType: "document_request",
		EntityID:   updated.ID,
		OldValue:   map[string]any{"status": string(trust.RequestPending)},
		NewValue:   map[string]any{"status": string(updated.Status), "access_expires_at": updated.AccessExpiresAt},
		Metadata:   map[string]any{"notes": notes, "email_sent": outcome.EmailSent, "document_ids": updated.DocumentIDs},
	})
	return updated, outcome, nil
}

func (w *Workflow) approve(ctx context.Context, req trust.DocumentRequest, adminID, notes string, expirationDays *int) (trust.DocumentRequest, ApproveOutcome, error) {
	var org *trust.Organization
	if req.OrganizationID != nil {
		o, err := w.store.Organizations().Get(ctx, *req.OrganizationID)
		switch {
		case err == nil:
			if o.Blocked() {
				return trust.DocumentRequest{}, ApproveOutcome{}, fmt.Errorf("%w: organization %s has no access", trust.ErrForbidden, o.Domain)
			}
			org = &o
		case errors.Is(err, trust.ErrNotFound):
			obs.Logger().Warn("request_organization_missing", zap.String("request_id", req.ID))
		default:
			return trust.DocumentRequest{}, ApproveOutcome{}, err
		}
	}

	token, err := magiclink.Generate()
	if err != nil {
		return trust.DocumentRequest{}, ApproveOutcome{}, err
	}
	now := w.now().UTC()
	linkExpires := now.Add(w.tokenTTL)
	review := trust.Review{
		Status:             trust.RequestApproved,
		MagicLinkToken:     token,
		MagicLinkExpiresAt: &linkExpires,
		ReviewedBy:         adminID,
		ReviewedAt:         now,
		AdminNotes:         strings.TrimSpace(notes),
	}
	if expirationDays != nil && *expirationDays > 0 {
		access := magiclink.ExpirationFromNow(now, *expirationDays)
		review.AccessExpiresAt = &access
	}
	updated, err := w.store.Requests().Review(ctx, req.ID, review)
	if err != nil {
		return trust.DocumentRequest{}, ApproveOutcome{}, err
	}
	obs.CountDocumentRequest(string(trust.RequestApproved))

	var outcome ApproveOutcome
	if org != nil {
		if err := w.syncOrganization(ctx, *org, updated, adminID, now); err != nil {
			outcome.OrgUpdateError = err.Error()
			obs.Logger().Error("organization_approval_sync_failed",
				zap.String("request_id", updated.ID),
				zap.String("organization_id", org.ID),
				zap.Error(err),
			)
		}
	}

	docs, err := w.store.Documents().GetMany(ctx, updated.DocumentIDs)
	if err != nil {
		obs.Logger().Warn("approval_documents_lookup_failed", zap.String("request_id", updated.ID), zap.Error(err))
	}
	outcome.EmailSent, outcome.EmailError = w.sendMagicLink(ctx, updated, titlesFor(docs, updated.DocumentIDs))
	outcome.MagicLinkURL = w.linkURL(token)
	w.dispatch(ctx, webhook.EventRequestApproved, updated)
	return updated, outcome, nil
}

func (w *Workflow) syncOrganization(ctx context.Context, before trust.Organization, req trust.DocumentRequest, adminID string, now time.Time) error {
	after, err := w.store.Organizations().RecordApproval(ctx, before.ID, req.DocumentIDs, now)
	if err != nil {
		return fmt.Errorf("record approval: %w", err)
	}
	approvals := make([]trust.OrganizationApproval, 0, len(req.DocumentIDs))
	for _, docID := range req.DocumentIDs {
		approvals = append(approvals, trust.OrganizationApproval{
			OrganizationID: before.ID,
			DocumentID:     docID,
			RequestID:      req.ID,
			ApprovedBy:     adminID,
			ApprovedAt:     now,
		})
	}
	if err := w.store.Organizations().AppendApprovals(ctx, approvals); err != nil {
		return fmt.Errorf("append approvals: %w", err)
	}
	if before.Status != after.Status {
		w.record(ctx, trust.ActivityLog{
			AdminID:    adminID,
			Action:     "organization.auto_status",
			EntityType: "organization",
			EntityID:   after.ID,
			OldValue:   map[string]any{"status": string(before.Status)},
			NewValue:   map[string]any{"status": string(after.Status)},
			Metadata:   map[string]any{"request_id": req.ID},
		})
	}
	return nil
}

// DenyOutcome carries the best-effort side effects of a denial.
type DenyOutcome struct {
	EmailSent  bool   `json:"email_sent"`
	EmailError string `json:"email_error,omitempty"`
}

// Deny moves a pending request to denied. Organizations are never touched.
func (w *Workflow) Deny(ctx context.Context, requestID, adminID, reason string) (trust.DocumentRequest, DenyOutcome, error) {
	req, err := w.store.Requests().Get(ctx, requestID)
	if err != nil {
		return trust.DocumentRequest{}, DenyOutcome{}, err
	}
	if req.Status != trust.RequestPending {
		return trust.DocumentRequest{}, DenyOutcome{}, fmt.Errorf("%w: request is already %s", trust.ErrConflict, req.Status)
	}
	updated, outcome, err := w.deny(ctx, req, adminID, reason)
	if err != nil {
		return trust.DocumentRequest{}, DenyOutcome{}, err
	}
	w.record(ctx, trust.ActivityLog{
		AdminID:    adminID,
		Action:     "document_request.deny",
		EntityType: "document_request",
		EntityID:   updated.ID,
		OldValue:   map[string]any{"status": string(trust.RequestPending)},
		NewValue:   map[string]any{"status": string(updated.Status)},
		Metadata:   map[string]any{"reason": reason, "email_sent": outcome.EmailSent},
	})
	return updated, outcome, nil
}

func (w *Workflow) deny(ctx context.Context, req trust.DocumentRequest, adminID, reason string) (trust.DocumentRequest, DenyOutcome, error) {
	reason = strings.TrimSpace(reason)
	updated, err := w.store.Requests().Review(ctx, req.ID, trust.Review{
		Status:       trust.RequestDenied,
		ReviewedBy:   adminID,
		ReviewedAt:   w.now().UTC(),
		AdminNotes:   reason,
		DenialReason: reason,
	})
	if err != nil {
		return trust.DocumentRequest{}, DenyOutcome{}, err
	}
	obs.CountDocumentRequest(string(trust.RequestDenied))

	var outcome DenyOutcome
	if w.mailer != nil {
		docs, _ := w.store.Documents().GetMany(ctx, updated.DocumentIDs)
		err := w.mailer.SendRejection(ctx, notify.RejectionData{
			To:        updated.RequesterEmail,
			Name:      updated.RequesterName,
			Documents: titlesFor(docs, updated.DocumentIDs),
			Reason:    reason,
		})
		outcome.EmailSent, outcome.EmailError = emailResult(updated.ID, err)
	}
	w.dispatch(ctx, webhook.EventRequestDenied, updated)
	return updated, outcome, nil
}

// BatchStatus is the per-item result of a batch review.
type BatchStatus string

const (
	BatchApproved BatchStatus = "approved"
	BatchDenied   BatchStatus = "denied"
	BatchSkipped  BatchStatus = "skipped"
	BatchFailed   BatchStatus = "failed"
)

// BatchOutcome reports what happened to one request in a batch.
type BatchOutcome struct {
	RequestID string      `json:"request_id"`
	Status    BatchStatus `json:"status"`
	Error     string      `json:"error,omitempty"`
	EmailSent bool        `json:"email_sent"`
}

// BatchApprove approves each pending request in order. Requests that already
// left pending are skipped, so repeating a batch changes nothing.
func (w *Workflow) BatchApprove(ctx context.Context, requestIDs []string, adminID, notes string, expirationDays *int) ([]BatchOutcome, error) {
	if err := validateBatch(requestIDs); err != nil {
		return nil, err
	}
	if err := validateExpiration(expirationDays); err != nil {
		return nil, err
	}
	return w.batch(ctx, requestIDs, adminID, "document_request.batch_approve", notes, func(req trust.DocumentRequest) (BatchOutcome, error) {
		_, outcome, err := w.approve(ctx, req, adminID, notes, expirationDays)
		return BatchOutcome{Status: BatchApproved, EmailSent: outcome.EmailSent}, err
	})
}

// BatchDeny denies each pending request in order, skipping the rest.
func (w *Workflow) BatchDeny(ctx context.Context, requestIDs []string, adminID, reason string) ([]BatchOutcome, error) {
	if err := validateBatch(requestIDs); err != nil {
		return nil, err
	}
	return w.batch(ctx, requestIDs, adminID, "document_request.batch_deny", reason, func(req trust.DocumentRequest) (BatchOutcome, error) {
		_, outcome, err := w.deny(ctx, req, adminID, reason)
		return BatchOutcome{Status: BatchDenied, EmailSent: outcome.EmailSent}, err
	})
}

func (w *Workflow) batch(ctx context.Context, requestIDs []string, adminID, action, note string, apply func(trust.DocumentRequest) (BatchOutcome, error)) ([]BatchOutcome, error) {
	ids := trust.MergeIDs(nil, trimAll(requestIDs))
	out := make([]BatchOutcome, 0, len(ids))
	counts := map[BatchStatus]int{}
	for _, id := range ids {
		res := BatchOutcome{RequestID: id}
		req, err := w.store.Requests().Get(ctx, id)
		switch {
		case errors.Is(err, trust.ErrNotFound):
			res.Status, res.Error = BatchFailed, "not found"
		case err != nil:
			res.Status, res.Error = BatchFailed, err.Error()
		case req.Status != trust.RequestPending:
			res.Status = BatchSkipped
		default:
			applied, err := apply(req)
			switch {
			case errors.Is(err, trust.ErrConflict):
				res.Status = BatchSkipped
			case err != nil:
				res.Status, res.Error = BatchFailed, err.Error()
			default:
				res.Status, res.EmailSent = applied.Status, applied.EmailSent
			}
		}
		counts[res.Status]++
		out = append(out, res)
	}
	w.record(ctx, trust.ActivityLog{
		AdminID:    adminID,
		Action:     action,
		EntityType: "document_request",
		Metadata: map[string]any{
			"request_ids": ids,
			"note":        note,
			"approved":    counts[BatchApproved],
			"denied":      counts[BatchDenied],
			"skipped":     counts[BatchSkipped],
			"failed":      counts[BatchFailed],
		},
	})
	return out, nil
}

// List returns requests matching filter, newest first.
func (w *Workflow) List(ctx context.Context, filter trust.RequestFilter) ([]trust.DocumentRequest, error) {
	switch filter.Status {
	case "", trust.RequestPending, trust.RequestApproved, trust.RequestAutoApproved, trust.RequestDenied:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", trust.ErrInvalidInput, filter.Status)
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return w.store.Requests().List(ctx, filter)
}

// RequestDetail is the admin view of one request.
type RequestDetail struct {
	Request      trust.DocumentRequest   `json:"request"`
	Documents    []trust.Document        `json:"documents"`
	Organization *trust.Organization     `json:"organization,omitempty"`
	History      []trust.DocumentRequest `json:"history"`
}

// Detail loads a request with its documents, organization and the
// requester's earlier requests.
func (w *Workflow) Detail(ctx context.Context, id string) (RequestDetail, error) {
	req, err := w.store.Requests().Get(ctx, id)
	if err != nil {
		return RequestDetail{}, err
	}
	detail := RequestDetail{Request: req}
	if detail.Documents, err = w.store.Documents().GetMany(ctx, req.DocumentIDs); err != nil {
		return RequestDetail{}, err
	}
	if req.OrganizationID != nil {
		org, err := w.store.Organizations().Get(ctx, *req.OrganizationID)
		switch {
		case err == nil:
			detail.Organization = &org
		case !errors.Is(err, trust.ErrNotFound):
			return RequestDetail{}, err
		}
	}
	if detail.History, err = w.store.Requests().History(ctx, req.RequesterEmail, req.ID, historyLimit); err != nil {
		return RequestDetail{}, err
	}
	if detail.History == nil {
		detail.History = []trust.DocumentRequest{}
	}
	return detail, nil
}

func (w *Workflow) sendMagicLink(ctx context.Context, req trust.DocumentRequest, titles []string) (bool, string) {
	if w.mailer == nil {
		return false, "email is not configured"
	}
	data := notify.MagicLinkData{
		To:              req.RequesterEmail,
		Name:            req.RequesterName,
		Documents:       titles,
		Link:            w.linkURL(req.MagicLinkToken),
		AccessExpiresAt: req.AccessExpiresAt,
	}
	if req.MagicLinkExpiresAt != nil {
		data.ExpiresAt = *req.MagicLinkExpiresAt
	}
	return emailResult(req.ID, w.mailer.SendMagicLink(ctx, data))
}

func (w *Workflow) linkURL(token string) string {
	return magiclink.URL(w.linkBase, token)
}

func (w *Workflow) record(ctx context.Context, entry trust.ActivityLog) {
	if w.recorder != nil {
		w.recorder.Record(ctx, entry)
	}
}

func (w *Workflow) dispatch(ctx context.Context, event string, req trust.DocumentRequest) {
	if w.hooks == nil {
		return
	}
	w.hooks.Dispatch(ctx, event, map[string]any{
		"request_id":      req.ID,
		"status":          req.Status,
		"requester_email": req.RequesterEmail,
		"organization_id": req.OrganizationID,
		"document_ids":    req.DocumentIDs,
	})
}

func emailResult(requestID string, err error) (bool, string) {
	if err == nil {
		return true, ""
	}
	msg := notify.Scrub(err.Error())
	obs.Logger().Warn("workflow_email_failed", zap.String("request_id", requestID), zap.String("error", msg))
	return false, msg
}

func titlesFor(docs []trust.Document, ids []string) []string {
	byID := make(map[string]string, len(docs))
	for _, d := range docs {
		byID[d.ID] = d.Title
	}
	titles := make([]string, 0, len(ids))
	for _, id := range ids {
		if t, ok := byID[id]; ok {
			titles = append(titles, t)
		}
	}
	return titles
}

func validateExpiration(days *int) error {
	if days != nil && *days < 0 {
		return fmt.Errorf("%w: expiration_days must not be negative", trust.ErrInvalidInput)
	}
	return nil
}

func validateBatch(ids []string) error {
	if len(trimAll(ids)) == 0 {
		return fmt.Errorf("%w: missing required fields: request_ids", trust.ErrInvalidInput)
	}
	return nil
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
