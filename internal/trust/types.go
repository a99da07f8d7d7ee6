package trust

import (
	"slices"
	"time"
)

// OrgStatus is the access standing of an organization.
type OrgStatus string

const (
	OrgStatusUnset       OrgStatus = ""
	OrgStatusWhitelisted OrgStatus = "whitelisted"
	OrgStatusConditional OrgStatus = "conditional"
	OrgStatusNoAccess    OrgStatus = "no_access"
)

// Valid reports whether s is one of the statuses an admin may assign.
func (s OrgStatus) Valid() bool {
	switch s {
	case OrgStatusWhitelisted, OrgStatusConditional, OrgStatusNoAccess:
		return true
	}
	return false
}

// Organization is a company-level access-control entity keyed by email domain.
type Organization struct {
	ID                  string     `json:"id"`
	Name                string     `json:"name"`
	Domain              string     `json:"domain"`
	Status              OrgStatus  `json:"status"`
	IsActive            bool       `json:"is_active"`
	ApprovedDocumentIDs []string   `json:"approved_document_ids"`
	SalesforceAccountID string     `json:"salesforce_account_id,omitempty"`
	RevokedAt           *time.Time `json:"revoked_at,omitempty"`
	FirstApprovedAt     *time.Time `json:"first_approved_at,omitempty"`
	LastApprovedAt      *time.Time `json:"last_approved_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Blocked reports whether approvals against the organization must be refused.
func (o Organization) Blocked() bool {
	return !o.IsActive || o.Status == OrgStatusNoAccess
}

// HasApproved reports whether documentID is in the approved set.
func (o Organization) HasApproved(documentID string) bool {
	return slices.Contains(o.ApprovedDocumentIDs, documentID)
}

// OrganizationUpdate carries optional organization changes. Nil fields are left untouched.
type OrganizationUpdate struct {
	Name                *string
	Status              *OrgStatus
	IsActive            *bool
	RevokedAt           *time.Time
	ClearRevokedAt      bool
	SalesforceAccountID *string
}

// OrganizationFilter narrows organization listings.
type OrganizationFilter struct {
	Status          OrgStatus
	IncludeInactive bool
	Search          string
	Limit           int
	Offset          int
}

// OrganizationApproval records that one document was approved for an organization.
type OrganizationApproval struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	DocumentID     string    `json:"document_id"`
	RequestID      string    `json:"request_id"`
	ApprovedBy     string    `json:"approved_by"`
	ApprovedAt     time.Time `json:"approved_at"`
}

type AccessLevel string

const (
	AccessPublic     AccessLevel = "public"
	AccessRestricted AccessLevel = "restricted"
)

type DocumentStatus string

const (
	DocumentDraft     DocumentStatus = "draft"
	DocumentPublished DocumentStatus = "published"
	DocumentArchived  DocumentStatus = "archived"
)

// Document is a versioned compliance artifact.
type Document struct {
	ID                 string         `json:"id"`
	Title              string         `json:"title"`
	Description        string         `json:"description,omitempty"`
	Category           string         `json:"category,omitempty"`
	AccessLevel        AccessLevel    `json:"access_level"`
	Status             DocumentStatus `json:"status"`
	Version            int            `json:"version"`
	IsCurrentVersion   bool           `json:"is_current_version"`
	ReplacesDocumentID string         `json:"replaces_document_id,omitempty"`
	StorageKey         string         `json:"-"`
	FileName           string         `json:"file_name,omitempty"`
	ContentType        string         `json:"content_type,omitempty"`
	SizeBytes          int64          `json:"size_bytes,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// PubliclyDownloadable reports whether anyone may fetch the document without a token.
func (d Document) PubliclyDownloadable() bool {
	return d.AccessLevel == AccessPublic && d.Status == DocumentPublished && d.IsCurrentVersion
}

// DocumentUpdate carries optional document changes.
type DocumentUpdate struct {
	Title            *string
	Description      *string
	Category         *string
	AccessLevel      *AccessLevel
	Status           *DocumentStatus
	IsCurrentVersion *bool
}

// DocumentFilter narrows document listings.
type DocumentFilter struct {
	Status      DocumentStatus
	AccessLevel AccessLevel
	Category    string
	CurrentOnly bool
}

type RequestStatus string

const (
	RequestPending      RequestStatus = "pending"
	RequestApproved     RequestStatus = "approved"
	RequestAutoApproved RequestStatus = "auto_approved"
	RequestDenied       RequestStatus = "denied"
)

// GrantsAccess reports whether a request in this status may redeem its magic link.
func (s RequestStatus) GrantsAccess() bool {
	return s == RequestApproved || s == RequestAutoApproved
}

// DocumentRequest is one access request for one or more documents.
type DocumentRequest struct {
	ID                 string        `json:"id"`
	RequesterName      string        `json:"requester_name"`
	RequesterEmail     string        `json:"requester_email"`
	Company            string        `json:"company,omitempty"`
	Reason             string        `json:"reason,omitempty"`
	OrganizationID     *string       `json:"organization_id,omitempty"`
	DocumentIDs        []string      `json:"document_ids"`
	Status             RequestStatus `json:"status"`
	MagicLinkToken     string        `json:"magic_link_token,omitempty"`
	MagicLinkExpiresAt *time.Time    `json:"magic_link_expires_at,omitempty"`
	MagicLinkUsedAt    *time.Time    `json:"magic_link_used_at,omitempty"`
	AccessExpiresAt    *time.Time    `json:"access_expires_at,omitempty"`
	ReviewedBy         string        `json:"reviewed_by,omitempty"`
	ReviewedAt         *time.Time    `json:"reviewed_at,omitempty"`
	AdminNotes         string        `json:"admin_notes,omitempty"`
	DenialReason       string        `json:"denial_reason,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// Covers reports whether documentID belongs to the request.
func (r DocumentRequest) Covers(documentID string) bool {
	return slices.Contains(r.DocumentIDs, documentID)
}

// Review is the terminal transition applied to a pending request.
type Review struct {
	Status             RequestStatus
	MagicLinkToken     string
	MagicLinkExpiresAt *time.Time
	AccessExpiresAt    *time.Time
	ReviewedBy         string
	ReviewedAt         time.Time
	AdminNotes         string
	DenialReason       string
}

// RequestFilter narrows request listings.
type RequestFilter struct {
	Status         RequestStatus
	OrganizationID string
	Email          string
	Limit          int
	Offset         int
}

// ActivityLog is an append-only audit record of an admin action.
type ActivityLog struct {
	ID         string         `json:"id"`
	AdminID    string         `json:"admin_id,omitempty"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id,omitempty"`
	OldValue   map[string]any `json:"old_value,omitempty"`
	NewValue   map[string]any `json:"new_value,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	IPAddress  string         `json:"ip_address,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ActivityFilter narrows activity listings.
type ActivityFilter struct {
	EntityType string
	EntityID   string
	AdminID    string
	Limit      int
}

type AdminRole string

const (
	RoleAdmin      AdminRole = "admin"
	RoleSuperAdmin AdminRole = "super_admin"
)

// AdminUser is an entry in the admin registry.
type AdminUser struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         AdminRole `json:"role"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Webhook is an outbound subscriber for workflow events.
type Webhook struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Secret    string    `json:"-"`
	Events    []string  `json:"events"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Subscribed reports whether the webhook wants event.
func (w Webhook) Subscribed(event string) bool {
	return slices.Contains(w.Events, event) || slices.Contains(w.Events, "*")
}

// SalesforceConnection holds encrypted OAuth credentials for the CRM sync.
type SalesforceConnection struct {
	ID              string     `json:"id"`
	InstanceURL     string     `json:"instance_url"`
	AccessTokenEnc  string     `json:"-"`
	RefreshTokenEnc string     `json:"-"`
	ConnectedBy     string     `json:"connected_by"`
	ConnectedAt     time.Time  `json:"connected_at"`
	LastSyncAt      *time.Time `json:"last_sync_at,omitempty"`
}

// MergeIDs returns the set union of existing and added, preserving first-seen order.
func MergeIDs(existing, added []string) []string {
	out := make([]string, 0, len(existing)+len(added))
	seen := make(map[string]struct{}, len(existing)+len(added))
	for _, list := range [][]string{existing, added} {
		for _, id := range list {
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
