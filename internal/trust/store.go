package trust

import (
	"context"
	"time"
)

// Store describes the persistence collaborator behind every workflow.
type Store interface {
	Organizations() OrganizationStore
	Documents() DocumentStore
	Requests() RequestStore
	Activity() ActivityStore
	Admins() AdminStore
	Webhooks() WebhookStore
	Salesforce() SalesforceStore
}

// OrganizationStore manages organizations. Domain is unique; Create returns
// ErrConflict when another row already owns the domain.
type OrganizationStore interface {
	Create(ctx context.Context, org *Organization) error
	Get(ctx context.Context, id string) (Organization, error)
	FindByDomain(ctx context.Context, domain string) (Organization, error)
	List(ctx context.Context, filter OrganizationFilter) ([]Organization, error)
	Update(ctx context.Context, id string, upd OrganizationUpdate) (Organization, error)
	// RecordApproval unions documentIDs into the approved set, flips an unset
	// or no_access status to conditional, stamps first_approved_at once and
	// last_approved_at always. Implementations apply it atomically.
	RecordApproval(ctx context.Context, id string, documentIDs []string, at time.Time) (Organization, error)
	AppendApprovals(ctx context.Context, approvals []OrganizationApproval) error
}

// DocumentStore manages document metadata.
type DocumentStore interface {
	Create(ctx context.Context, doc *Document) error
	Get(ctx context.Context, id string) (Document, error)
	GetMany(ctx context.Context, ids []string) ([]Document, error)
	List(ctx context.Context, filter DocumentFilter) ([]Document, error)
	Update(ctx context.Context, id string, upd DocumentUpdate) (Document, error)
	// Retire clears the current-version flag only if it is still set. It
	// returns ErrConflict when the row was already retired.
	Retire(ctx context.Context, id string) error
}

// RequestStore manages document requests.
type RequestStore interface {
	Create(ctx context.Context, req *DocumentRequest) error
	Get(ctx context.Context, id string) (DocumentRequest, error)
	FindByToken(ctx context.Context, token string) (DocumentRequest, error)
	List(ctx context.Context, filter RequestFilter) ([]DocumentRequest, error)
	// History returns earlier requests from the same email, newest first.
	History(ctx context.Context, email, excludeID string, limit int) ([]DocumentRequest, error)
	// Review applies a terminal transition only if the request is still
	// pending. It returns ErrNotFound for unknown ids and ErrConflict when the
	// request already left pending.
	Review(ctx context.Context, id string, review Review) (DocumentRequest, error)
	// MarkUsed stamps magic_link_used_at if it is still empty and reports
	// whether this call set it.
	MarkUsed(ctx context.Context, id string, at time.Time) (bool, error)
}

// ActivityStore appends immutable activity entries.
type ActivityStore interface {
	Append(ctx context.Context, entry *ActivityLog) error
	List(ctx context.Context, filter ActivityFilter) ([]ActivityLog, error)
}

// AdminStore is the admin registry.
type AdminStore interface {
	Create(ctx context.Context, admin *AdminUser) error
	Get(ctx context.Context, id string) (AdminUser, error)
	FindByEmail(ctx context.Context, email string) (AdminUser, error)
}

// WebhookStore manages outbound subscribers.
type WebhookStore interface {
	Create(ctx context.Context, hook *Webhook) error
	List(ctx context.Context) ([]Webhook, error)
	ListActive(ctx context.Context, event string) ([]Webhook, error)
	Delete(ctx context.Context, id string) error
}

// SalesforceStore persists the CRM connection.
type SalesforceStore interface {
	SaveConnection(ctx context.Context, conn *SalesforceConnection) error
	Connection(ctx context.Context) (SalesforceConnection, error)
	MarkSynced(ctx context.Context, id string, at time.Time) error
}
