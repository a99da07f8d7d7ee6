package trust

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"trustcenter.dev/internal/ids"
)

var _ Store = (*InMemory)(nil)

// InMemory implements Store with in-process concurrency safety. It backs
// tests and single-node development runs without a database.
type InMemory struct {
	mu          sync.RWMutex
	now         func() time.Time
	orgs        map[string]*Organization
	approvals   []OrganizationApproval
	docs        map[string]*Document
	requests    map[string]*DocumentRequest
	activity    []ActivityLog
	admins      map[string]*AdminUser
	webhooks    map[string]*Webhook
	connections []SalesforceConnection
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		now:      time.Now,
		orgs:     make(map[string]*Organization),
		docs:     make(map[string]*Document),
		requests: make(map[string]*DocumentRequest),
		admins:   make(map[string]*AdminUser),
		webhooks: make(map[string]*Webhook),
	}
}

// SetClock overrides the time source used for created/updated stamps.
func (s *InMemory) SetClock(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn != nil {
		s.now = fn
	}
}

func (s *InMemory) Organizations() OrganizationStore { return memOrgs{s} }
func (s *InMemory) Documents() DocumentStore         { return memDocs{s} }
func (s *InMemory) Requests() RequestStore           { return memRequests{s} }
func (s *InMemory) Activity() ActivityStore          { return memActivity{s} }
func (s *InMemory) Admins() AdminStore               { return memAdmins{s} }
func (s *InMemory) Webhooks() WebhookStore           { return memWebhooks{s} }
func (s *InMemory) Salesforce() SalesforceStore      { return memSalesforce{s} }

// Approvals returns a copy of recorded organization approvals.
func (s *InMemory) Approvals() []OrganizationApproval {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.approvals)
}

// --- organizations ---

type memOrgs struct{ s *InMemory }

func (m memOrgs) Create(_ context.Context, org *Organization) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, existing := range m.s.orgs {
		if existing.Domain == org.Domain {
			return fmt.Errorf("%w: organization domain %s already exists", ErrConflict, org.Domain)
		}
	}
	if org.ID == "" {
		org.ID = ids.New()
	}
	now := m.s.now().UTC()
	org.CreatedAt, org.UpdatedAt = now, now
	if org.ApprovedDocumentIDs == nil {
		org.ApprovedDocumentIDs = []string{}
	}
	cp := cloneOrg(*org)
	m.s.orgs[org.ID] = &cp
	return nil
}

func (m memOrgs) Get(_ context.Context, id string) (Organization, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	org, ok := m.s.orgs[id]
	if !ok {
		return Organization{}, ErrNotFound
	}
	return cloneOrg(*org), nil
}

func (m memOrgs) FindByDomain(_ context.Context, domain string) (Organization, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	for _, org := range m.s.orgs {
		if org.Domain == domain {
			return cloneOrg(*org), nil
		}
	}
	return Organization{}, ErrNotFound
}

func (m memOrgs) List(_ context.Context, f OrganizationFilter) ([]Organization, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	search := strings.ToLower(strings.TrimSpace(f.Search))
	var out []Organization
	for _, org := range m.s.orgs {
		if !f.IncludeInactive && !org.IsActive {
			continue
		}
		if f.Status != OrgStatusUnset && org.Status != f.Status {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(org.Name), search) && !strings.Contains(org.Domain, search) {
			continue
		}
		out = append(out, cloneOrg(*org))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return paginate(out, f.Limit, f.Offset), nil
}

func (m memOrgs) Update(_ context.Context, id string, upd OrganizationUpdate) (Organization, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	org, ok := m.s.orgs[id]
	if !ok {
		return Organization{}, ErrNotFound
	}
	if upd.Name != nil {
		org.Name = *upd.Name
	}
	if upd.Status != nil {
		org.Status = *upd.Status
	}
	if upd.IsActive != nil {
		org.IsActive = *upd.IsActive
	}
	if upd.RevokedAt != nil {
		t := *upd.RevokedAt
		org.RevokedAt = &t
	}
	if upd.ClearRevokedAt {
		org.RevokedAt = nil
	}
	if upd.SalesforceAccountID != nil {
		org.SalesforceAccountID = *upd.SalesforceAccountID
	}
	org.UpdatedAt = m.s.now().UTC()
	return cloneOrg(*org), nil
}

func (m memOrgs) RecordApproval(_ context.Context, id string, documentIDs []string, at time.Time) (Organization, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	org, ok := m.s.orgs[id]
	if !ok {
		return Organization{}, ErrNotFound
	}
	org.ApprovedDocumentIDs = MergeIDs(org.ApprovedDocumentIDs, documentIDs)
	if org.Status == OrgStatusUnset || org.Status == OrgStatusNoAccess {
		org.Status = OrgStatusConditional
	}
	at = at.UTC()
	if org.FirstApprovedAt == nil {
		first := at
		org.FirstApprovedAt = &first
	}
	last := at
	org.LastApprovedAt = &last
	org.UpdatedAt = at
	return cloneOrg(*org), nil
}

func (m memOrgs) AppendApprovals(_ context.Context, approvals []OrganizationApproval) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, a := range approvals {
		if a.ID == "" {
			a.ID = ids.New()
		}
		m.s.approvals = append(m.s.approvals, a)
	}
	return nil
}

// --- documents ---

type memDocs struct{ s *InMemory }

func (m memDocs) Create(_ context.Context, doc *Document) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if doc.ID == "" {
		doc.ID = ids.New()
	}
	if _, ok := m.s.docs[doc.ID]; ok {
		return fmt.Errorf("%w: document %s already exists", ErrConflict, doc.ID)
	}
	now := m.s.now().UTC()
	doc.CreatedAt, doc.UpdatedAt = now, now
	cp := *doc
	m.s.docs[doc.ID] = &cp
	return nil
}

func (m memDocs) Get(_ context.Context, id string) (Document, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	doc, ok := m.s.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return *doc, nil
}

func (m memDocs) GetMany(_ context.Context, docIDs []string) ([]Document, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	out := make([]Document, 0, len(docIDs))
	for _, id := range docIDs {
		if doc, ok := m.s.docs[id]; ok {
			out = append(out, *doc)
		}
	}
	return out, nil
}

func (m memDocs) List(_ context.Context, f DocumentFilter) ([]Document, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var out []Document
	for _, doc := range m.s.docs {
		if f.Status != "" && doc.Status != f.Status {
			continue
		}
		if f.AccessLevel != "" && doc.AccessLevel != f.AccessLevel {
			continue
		}
		if f.Category != "" && doc.Category != f.Category {
			continue
		}
		if f.CurrentOnly && !doc.IsCurrentVersion {
			continue
		}
		out = append(out, *doc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Title == out[j].Title {
			return out[i].Version > out[j].Version
		}
		return out[i].Title < out[j].Title
	})
	return out, nil
}

func (m memDocs) Update(_ context.Context, id string, upd DocumentUpdate) (Document, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	doc, ok := m.s.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	if upd.Title != nil {
		doc.Title = *upd.Title
	}
	if upd.Description != nil {
		doc.Description = *upd.Description
	}
	if upd.Category != nil {
		doc.Category = *upd.Category
	}
	if upd.AccessLevel != nil {
		doc.AccessLevel = *upd.AccessLevel
	}
	if upd.Status != nil {
		doc.Status = *upd.Status
	}
	if upd.IsCurrentVersion != nil {
		doc.IsCurrentVersion = *upd.IsCurrentVersion
	}
	doc.UpdatedAt = m.s.now().UTC()
	return *doc, nil
}

func (m memDocs) Retire(_ context.Context, id string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	doc, ok := m.s.docs[id]
	if !ok {
		return ErrNotFound
	}
	if !doc.IsCurrentVersion {
		return fmt.Errorf("%w: document %s is not the current version", ErrConflict, id)
	}
	doc.IsCurrentVersion = false
	doc.UpdatedAt = m.s.now().UTC()
	return nil
}

// --- requests ---

type memRequests struct{ s *InMemory }

func (m memRequests) Create(_ context.Context, req *DocumentRequest) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if req.ID == "" {
		req.ID = ids.New()
	}
	if req.MagicLinkToken != "" {
		for _, existing := range m.s.requests {
			if existing.MagicLinkToken == req.MagicLinkToken {
				return fmt.Errorf("%w: magic link token collision", ErrConflict)
			}
		}
	}
	now := m.s.now().UTC()
	req.CreatedAt, req.UpdatedAt = now, now
	cp := cloneRequest(*req)
	m.s.requests[req.ID] = &cp
	return nil
}

func (m memRequests) Get(_ context.Context, id string) (DocumentRequest, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	req, ok := m.s.requests[id]
	if !ok {
		return DocumentRequest{}, ErrNotFound
	}
	return cloneRequest(*req), nil
}

func (m memRequests) FindByToken(_ context.Context, token string) (DocumentRequest, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	if token == "" {
		return DocumentRequest{}, ErrNotFound
	}
	for _, req := range m.s.requests {
		if req.MagicLinkToken == token {
			return cloneRequest(*req), nil
		}
	}
	return DocumentRequest{}, ErrNotFound
}

func (m memRequests) List(_ context.Context, f RequestFilter) ([]DocumentRequest, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var out []DocumentRequest
	for _, req := range m.s.requests {
		if f.Status != "" && req.Status != f.Status {
			continue
		}
		if f.OrganizationID != "" && (req.OrganizationID == nil || *req.OrganizationID != f.OrganizationID) {
			continue
		}
		if f.Email != "" && !strings.EqualFold(req.RequesterEmail, f.Email) {
			continue
		}
		out = append(out, cloneRequest(*req))
	}
	sortNewestFirst(out)
	return paginate(out, f.Limit, f.Offset), nil
}

func (m memRequests) History(_ context.Context, email, excludeID string, limit int) ([]DocumentRequest, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var out []DocumentRequest
	for _, req := range m.s.requests {
		if req.ID == excludeID || !strings.EqualFold(req.RequesterEmail, email) {
			continue
		}
		out = append(out, cloneRequest(*req))
	}
	sortNewestFirst(out)
	return paginate(out, limit, 0), nil
}

func (m memRequests) Review(_ context.Context, id string, review Review) (DocumentRequest, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	req, ok := m.s.requests[id]
	if !ok {
		return DocumentRequest{}, ErrNotFound
	}
	if req.Status != RequestPending {
		return DocumentRequest{}, fmt.Errorf("%w: request is %s", ErrConflict, req.Status)
	}
	req.Status = review.Status
	req.MagicLinkToken = review.MagicLinkToken
	req.MagicLinkExpiresAt = cloneTime(review.MagicLinkExpiresAt)
	req.AccessExpiresAt = cloneTime(review.AccessExpiresAt)
	req.ReviewedBy = review.ReviewedBy
	reviewed := review.ReviewedAt.UTC()
	req.ReviewedAt = &reviewed
	req.AdminNotes = review.AdminNotes
	req.DenialReason = review.DenialReason
	req.UpdatedAt = reviewed
	return cloneRequest(*req), nil
}

func (m memRequests) MarkUsed(_ context.Context, id string, at time.Time) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	req, ok := m.s.requests[id]
	if !ok {
		return false, ErrNotFound
	}
	if req.MagicLinkUsedAt != nil {
		return false, nil
	}
	used := at.UTC()
	req.MagicLinkUsedAt = &used
	return true, nil
}

// --- activity ---

type memActivity struct{ s *InMemory }

func (m memActivity) Append(_ context.Context, entry *ActivityLog) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = m.s.now().UTC()
	}
	m.s.activity = append(m.s.activity, *entry)
	return nil
}

func (m memActivity) List(_ context.Context, f ActivityFilter) ([]ActivityLog, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var out []ActivityLog
	for i := len(m.s.activity) - 1; i >= 0; i-- {
		e := m.s.activity[i]
		if f.EntityType != "" && e.EntityType != f.EntityType {
			continue
		}
		if f.EntityID != "" && e.EntityID != f.EntityID {
			continue
		}
		if f.AdminID != "" && e.AdminID != f.AdminID {
			continue
		}
		out = append(out, e)
	}
	return paginate(out, f.Limit, 0), nil
}

// --- admins ---

type memAdmins struct{ s *InMemory }

func (m memAdmins) Create(_ context.Context, admin *AdminUser) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, existing := range m.s.admins {
		if strings.EqualFold(existing.Email, admin.Email) {
			return fmt.Errorf("%w: admin %s already exists", ErrConflict, admin.Email)
		}
	}
	if admin.ID == "" {
		admin.ID = ids.New()
	}
	admin.CreatedAt = m.s.now().UTC()
	cp := *admin
	m.s.admins[admin.ID] = &cp
	return nil
}

func (m memAdmins) Get(_ context.Context, id string) (AdminUser, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	admin, ok := m.s.admins[id]
	if !ok {
		return AdminUser{}, ErrNotFound
	}
	return *admin, nil
}

func (m memAdmins) FindByEmail(_ context.Context, email string) (AdminUser, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	for _, admin := range m.s.admins {
		if strings.EqualFold(admin.Email, email) {
			return *admin, nil
		}
	}
	return AdminUser{}, ErrNotFound
}

// --- webhooks ---

type memWebhooks struct{ s *InMemory }

func (m memWebhooks) Create(_ context.Context, hook *Webhook) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if hook.ID == "" {
		hook.ID = ids.New()
	}
	hook.CreatedAt = m.s.now().UTC()
	cp := *hook
	cp.Events = slices.Clone(hook.Events)
	m.s.webhooks[hook.ID] = &cp
	return nil
}

func (m memWebhooks) List(_ context.Context) ([]Webhook, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	out := make([]Webhook, 0, len(m.s.webhooks))
	for _, hook := range m.s.webhooks {
		out = append(out, *hook)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m memWebhooks) ListActive(ctx context.Context, event string) ([]Webhook, error) {
	all, _ := m.List(ctx)
	var out []Webhook
	for _, hook := range all {
		if hook.IsActive && hook.Subscribed(event) {
			out = append(out, hook)
		}
	}
	return out, nil
}

func (m memWebhooks) Delete(_ context.Context, id string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.webhooks[id]; !ok {
		return ErrNotFound
	}
	delete(m.s.webhooks, id)
	return nil
}

// --- salesforce ---

type memSalesforce struct{ s *InMemory }

func (m memSalesforce) SaveConnection(_ context.Context, conn *SalesforceConnection) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if conn.ID == "" {
		conn.ID = ids.New()
	}
	if conn.ConnectedAt.IsZero() {
		conn.ConnectedAt = m.s.now().UTC()
	}
	for i := range m.s.connections {
		if m.s.connections[i].ID == conn.ID {
			m.s.connections[i] = *conn
			return nil
		}
	}
	m.s.connections = append(m.s.connections, *conn)
	return nil
}

func (m memSalesforce) Connection(_ context.Context) (SalesforceConnection, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	if len(m.s.connections) == 0 {
		return SalesforceConnection{}, ErrNotFound
	}
	return m.s.connections[len(m.s.connections)-1], nil
}

func (m memSalesforce) MarkSynced(_ context.Context, id string, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for i := range m.s.connections {
		if m.s.connections[i].ID == id {
			t := at.UTC()
			m.s.connections[i].LastSyncAt = &t
			return nil
		}
	}
	return ErrNotFound
}

// --- helpers ---

func cloneOrg(o Organization) Organization {
	o.ApprovedDocumentIDs = slices.Clone(o.ApprovedDocumentIDs)
	if o.ApprovedDocumentIDs == nil {
		o.ApprovedDocumentIDs = []string{}
	}
	o.RevokedAt = cloneTime(o.RevokedAt)
	o.FirstApprovedAt = cloneTime(o.FirstApprovedAt)
	o.LastApprovedAt = cloneTime(o.LastApprovedAt)
	return o
}

func cloneRequest(r DocumentRequest) DocumentRequest {
	r.DocumentIDs = slices.Clone(r.DocumentIDs)
	if r.OrganizationID != nil {
		id := *r.OrganizationID
		r.OrganizationID = &id
	}
	r.MagicLinkExpiresAt = cloneTime(r.MagicLinkExpiresAt)
	r.MagicLinkUsedAt = cloneTime(r.MagicLinkUsedAt)
	r.AccessExpiresAt = cloneTime(r.AccessExpiresAt)
	r.ReviewedAt = cloneTime(r.ReviewedAt)
	return r
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// ids are ULIDs, so id order breaks ties between rows created in the same instant.
func sortNewestFirst(list []DocumentRequest) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID > list[j].ID
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}

func paginate[T any](list []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(list) {
			return nil
		}
		list = list[offset:]
	}
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list
}
