package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"trustcenter.dev/internal/ids"
	"trustcenter.dev/internal/trust"
)

const requestColumns = `id, requester_name, requester_email, company, reason, organization_id, document_ids, status,
	coalesce(magic_link_token, ''), magic_link_expires_at, magic_link_used_at, access_expires_at,
	coalesce(reviewed_by, ''), reviewed_at, admin_notes, denial_reason, created_at, updated_at`

type requestStore struct{ db *sql.DB }

func scanRequest(row scanner) (trust.DocumentRequest, error) {
	var (
		r                               trust.DocumentRequest
		orgID                           sql.NullString
		status                          string
		linkExp, used, access, reviewed sql.NullTime
	)
	err := row.Scan(&r.ID, &r.RequesterName, &r.RequesterEmail, &r.Company, &r.Reason, &orgID, textArray(&r.DocumentIDs),
		&status, &r.MagicLinkToken, &linkExp, &used, &access, &r.ReviewedBy, &reviewed, &r.AdminNotes, &r.DenialReason,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return trust.DocumentRequest{}, notFound(err)
	}
	if orgID.Valid {
		id := orgID.String
		r.OrganizationID = &id
	}
	r.Status = trust.RequestStatus(status)
	r.MagicLinkExpiresAt = timePtr(linkExp)
	r.MagicLinkUsedAt = timePtr(used)
	r.AccessExpiresAt = timePtr(access)
	r.ReviewedAt = timePtr(reviewed)
	return r, nil
}

func scanRequests(rows *sql.Rows) ([]trust.DocumentRequest, error) {
	defer rows.Close()
	var out []trust.DocumentRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s requestStore) Create(ctx context.Context, req *trust.DocumentRequest) error {
	if req.ID == "" {
		req.ID = ids.New()
	}
	var orgID sql.NullString
	if req.OrganizationID != nil {
		orgID = sql.NullString{String: *req.OrganizationID, Valid: true}
	}
	created, err := scanRequest(s.db.QueryRowContext(ctx, `
		insert into document_requests (id, requester_name, requester_email, company, reason, organization_id,
			document_ids, status, magic_link_token, magic_link_expires_at, access_expires_at, reviewed_by, reviewed_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		returning `+requestColumns,
		req.ID, req.RequesterName, req.RequesterEmail, req.Company, req.Reason, orgID, req.DocumentIDs,
		string(req.Status), nullIfEmpty(req.MagicLinkToken), nullTime(req.MagicLinkExpiresAt), nullTime(req.AccessExpiresAt),
		nullIfEmpty(req.ReviewedBy), nullTime(req.ReviewedAt)))
	if err != nil {
		return mapWriteErr(err, "magic link token")
	}
	*req = created
	return nil
}

func (s requestStore) Get(ctx context.Context, id string) (trust.DocumentRequest, error) {
	return scanRequest(s.db.QueryRowContext(ctx, `select `+requestColumns+` from document_requests where id = $1`, id))
}

func (s requestStore) FindByToken(ctx context.Context, token string) (trust.DocumentRequest, error) {
	if token == "" {
		return trust.DocumentRequest{}, trust.ErrNotFound
	}
	return scanRequest(s.db.QueryRowContext(ctx, `select `+requestColumns+` from document_requests where magic_link_token = $1`, token))
}

func (s requestStore) List(ctx context.Context, f trust.RequestFilter) ([]trust.DocumentRequest, error) {
	var w where
	if f.Status != "" {
		w.add("status = ?", string(f.Status))
	}
	if f.OrganizationID != "" {
		w.add("organization_id = ?", f.OrganizationID)
	}
	if f.Email != "" {
		w.add("lower(requester_email) = lower(?)", f.Email)
	}
	query := `select ` + requestColumns + ` from document_requests` + w.render() + ` order by created_at desc, id desc`
	query += w.page(f.Limit, f.Offset)
	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	return scanRequests(rows)
}

func (s requestStore) History(ctx context.Context, email, excludeID string, limit int) ([]trust.DocumentRequest, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+requestColumns+` from document_requests
		where lower(requester_email) = lower($1) and id <> $2
		order by created_at desc, id desc
		limit $3
	`, email, excludeID, limit)
	if err != nil {
		return nil, err
	}
	return scanRequests(rows)
}

// Review updates only while the row is still pending.
func (s requestStore) Review(ctx context.Context, id string, review trust.Review) (trust.DocumentRequest, error) {
	req, err := scanRequest(s.db.QueryRowContext(ctx, `
		update document_requests set
			status = $2,
			magic_link_token = $3,
			magic_link_expires_at = $4,
			access_expires_at = $5,
			reviewed_by = $6,
			reviewed_at = $7,
			admin_notes = $8,
			denial_reason = $9,
			updated_at = $7
		where id = $1 and status = 'pending'
		returning `+requestColumns,
		id, string(review.Status), nullIfEmpty(review.MagicLinkToken), nullTime(review.MagicLinkExpiresAt),
		nullTime(review.AccessExpiresAt), nullIfEmpty(review.ReviewedBy), review.ReviewedAt.UTC(),
		review.AdminNotes, review.DenialReason))
	if err == nil {
		return req, nil
	}
	if !errors.Is(err, trust.ErrNotFound) {
		return trust.DocumentRequest{}, mapWriteErr(err, "magic link token")
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return trust.DocumentRequest{}, err
	}
	return trust.DocumentRequest{}, fmt.Errorf("%w: request is %s", trust.ErrConflict, current.Status)
}

func (s requestStore) MarkUsed(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		update document_requests set magic_link_used_at = $2
		where id = $1 and magic_link_used_at is null
	`, id, at.UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `select exists(select 1 from document_requests where id = $1)`, id).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, trust.ErrNotFound
	}
	return false, nil
}
