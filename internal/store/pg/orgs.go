package pg

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"trustcenter.dev/internal/ids"
	"trustcenter.dev/internal/trust"
)

const orgColumns = `id, name, domain, status, is_active, approved_document_ids, coalesce(salesforce_account_id, ''),
	revoked_at, first_approved_at, last_approved_at, created_at, updated_at`

type orgStore struct{ db *sql.DB }

func scanOrg(row scanner) (trust.Organization, error) {
	var (
		org                    trust.Organization
		status                 string
		revoked, first, latest sql.NullTime
	)
	err := row.Scan(&org.ID, &org.Name, &org.Domain, &status, &org.IsActive, textArray(&org.ApprovedDocumentIDs),
		&org.SalesforceAccountID, &revoked, &first, &latest, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return trust.Organization{}, notFound(err)
	}
	org.Status = trust.OrgStatus(status)
	org.RevokedAt = timePtr(revoked)
	org.FirstApprovedAt = timePtr(first)
	org.LastApprovedAt = timePtr(latest)
	if org.ApprovedDocumentIDs == nil {
		org.ApprovedDocumentIDs = []string{}
	}
	return org, nil
}

func (s orgStore) Create(ctx context.Context, org *trust.Organization) error {
	if org.ID == "" {
		org.ID = ids.New()
	}
	approved := org.ApprovedDocumentIDs
	if approved == nil {
		approved = []string{}
	}
	created, err := scanOrg(s.db.QueryRowContext(ctx, `
		insert into organizations (id, name, domain, status, is_active, approved_document_ids, salesforce_account_id)
		values ($1, $2, lower($3), $4, $5, $6, $7)
		returning `+orgColumns,
		org.ID, org.Name, org.Domain, string(org.Status), org.IsActive, approved, nullIfEmpty(org.SalesforceAccountID)))
	if err != nil {
		return mapWriteErr(err, "organization domain "+org.Domain)
	}
	*org = created
	return nil
}

func (s orgStore) Get(ctx context.Context, id string) (trust.Organization, error) {
	return scanOrg(s.db.QueryRowContext(ctx, `select `+orgColumns+` from organizations where id = $1`, id))
}

func (s orgStore) FindByDomain(ctx context.Context, domain string) (trust.Organization, error) {
	return scanOrg(s.db.QueryRowContext(ctx, `select `+orgColumns+` from organizations where lower(domain) = lower($1)`, domain))
}

func (s orgStore) List(ctx context.Context, f trust.OrganizationFilter) ([]trust.Organization, error) {
	var w where
	if !f.IncludeInactive {
		w.clauses = append(w.clauses, "is_active")
	}
	if f.Status != trust.OrgStatusUnset {
		w.add("status = ?", string(f.Status))
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		w.add("(name ilike ? or domain ilike ?)", "%"+q+"%")
	}
	query := `select ` + orgColumns + ` from organizations` + w.render() + ` order by name`
	query += w.page(f.Limit, f.Offset)
	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []trust.Organization
	for rows.Next() {
		org, err := scanOrg(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, org)
	}
	return out, rows.Err()
}

func (s orgStore) Update(ctx context.Context, id string, upd trust.OrganizationUpdate) (trust.Organization, error) {
	var status sql.NullString
	if upd.Status != nil {
		status = sql.NullString{String: string(*upd.Status), Valid: true}
	}
	var active sql.NullBool
	if upd.IsActive != nil {
		active = sql.NullBool{Bool: *upd.IsActive, Valid: true}
	}
	var name, sfID sql.NullString
	if upd.Name != nil {
		name = sql.NullString{String: *upd.Name, Valid: true}
	}
	if upd.SalesforceAccountID != nil {
		sfID = sql.NullString{String: *upd.SalesforceAccountID, Valid: true}
	}
	return scanOrg(s.db.QueryRowContext(ctx, `
		update organizations set
			name = coalesce($2, name),
			status = coalesce($3, status),
			is_active = coalesce($4, is_active),
			revoked_at = case when $6 then null else coalesce($5, revoked_at) end,
			salesforce_account_id = coalesce($7, salesforce_account_id),
			updated_at = now()
		where id = $1
		returning `+orgColumns,
		id, name, status, active, nullTime(upd.RevokedAt), upd.ClearRevokedAt, sfID))
}

// RecordApproval merges documentIDs into the approved set in a single
// statement, keeping first-seen order.
func (s orgStore) RecordApproval(ctx context.Context, id string, documentIDs []string, at time.Time) (trust.Organization, error) {
	return scanOrg(s.db.QueryRowContext(ctx, `
		update organizations set
			approved_document_ids = array(
				select x from unnest(approved_document_ids || $2::text[]) with ordinality as t(x, n)
				group by x order by min(n)
			),
			status = case when status in ('', 'no_access') then 'conditional' else status end,
			first_approved_at = coalesce(first_approved_at, $3),
			last_approved_at = $3,
			updated_at = $3
		where id = $1
		returning `+orgColumns,
		id, documentIDs, at.UTC()))
}

func (s orgStore) AppendApprovals(ctx context.Context, approvals []trust.OrganizationApproval) error {
	if len(approvals) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, a := range approvals {
		if a.ID == "" {
			a.ID = ids.New()
		}
		if _, err := tx.ExecContext(ctx, `
			insert into organization_approvals (id, organization_id, document_id, request_id, approved_by, approved_at)
			values ($1, $2, $3, $4, $5, $6)
		`, a.ID, a.OrganizationID, a.DocumentID, a.RequestID, a.ApprovedBy, a.ApprovedAt.UTC()); err != nil {
			return err
		}
	}
	return tx.Commit()
}
