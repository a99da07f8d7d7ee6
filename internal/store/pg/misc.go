package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"trustcenter.dev/internal/ids"
	"trustcenter.dev/internal/trust"
)

type activityStore struct{ db *sql.DB }

func (s activityStore) Append(ctx context.Context, e *trust.ActivityLog) error {
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	oldV, err := encodeJSON(e.OldValue)
	if err != nil {
		return fmt.Errorf("encode old_value: %w", err)
	}
	newV, err := encodeJSON(e.NewValue)
	if err != nil {
		return fmt.Errorf("encode new_value: %w", err)
	}
	meta, err := encodeJSON(e.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into activity_logs (id, admin_id, action, entity_type, entity_id, old_value, new_value, metadata, ip_address, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, nullIfEmpty(e.AdminID), e.Action, e.EntityType, nullIfEmpty(e.EntityID), oldV, newV, meta, nullIfEmpty(e.IPAddress), e.CreatedAt)
	return err
}

func (s activityStore) List(ctx context.Context, f trust.ActivityFilter) ([]trust.ActivityLog, error) {
	var w where
	if f.EntityType != "" {
		w.add("entity_type = ?", f.EntityType)
	}
	if f.EntityID != "" {
		w.add("entity_id = ?", f.EntityID)
	}
	if f.AdminID != "" {
		w.add("admin_id = ?", f.AdminID)
	}
	query := `select id, coalesce(admin_id, ''), action, entity_type, coalesce(entity_id, ''), old_value, new_value, metadata,
		coalesce(ip_address, ''), created_at from activity_logs` + w.render() + ` order by created_at desc, id desc`
	query += w.page(f.Limit, 0)
	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []trust.ActivityLog
	for rows.Next() {
		var (
			e                trust.ActivityLog
			oldV, newV, meta []byte
		)
		if err := rows.Scan(&e.ID, &e.AdminID, &e.Action, &e.EntityType, &e.EntityID, &oldV, &newV, &meta, &e.IPAddress, &e.CreatedAt); err != nil {
			return nil, err
		}
		if e.OldValue, err = decodeJSON(oldV); err != nil {
			return nil, err
		}
		if e.NewValue, err = decodeJSON(newV); err != nil {
			return nil, err
		}
		if e.Metadata, err = decodeJSON(meta); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type adminStore struct{ db *sql.DB }

const adminColumns = `id, email, name, password_hash, role, is_active, created_at`

func scanAdmin(row scanner) (trust.AdminUser, error) {
	var (
		a    trust.AdminUser
		role string
	)
	if err := row.Scan(&a.ID, &a.Email, &a.Name, &a.PasswordHash, &role, &a.IsActive, &a.CreatedAt); err != nil {
		return trust.AdminUser{}, notFound(err)
	}
	a.Role = trust.AdminRole(role)
	return a, nil
}

func (s adminStore) Create(ctx context.Context, a *trust.AdminUser) error {
	if a.ID == "" {
		a.ID = ids.New()
	}
	created, err := scanAdmin(s.db.QueryRowContext(ctx, `
		insert into admin_users (id, email, name, password_hash, role, is_active)
		values ($1, $2, $3, $4, $5, $6)
		returning `+adminColumns,
		a.ID, strings.ToLower(a.Email), a.Name, a.PasswordHash, string(a.Role), a.IsActive))
	if err != nil {
		return mapWriteErr(err, "admin "+a.Email)
	}
	*a = created
	return nil
}

func (s adminStore) Get(ctx context.Context, id string) (trust.AdminUser, error) {
	return scanAdmin(s.db.QueryRowContext(ctx, `select `+adminColumns+` from admin_users where id = $1`, id))
}

func (s adminStore) FindByEmail(ctx context.Context, email string) (trust.AdminUser, error) {
	return scanAdmin(s.db.QueryRowContext(ctx, `select `+adminColumns+` from admin_users where lower(email) = lower($1)`, email))
}

type webhookStore struct{ db *sql.DB }

const webhookColumns = `id, url, secret, events, is_active, created_at`

func scanWebhook(row scanner) (trust.Webhook, error) {
	var h trust.Webhook
	if err := row.Scan(&h.ID, &h.URL, &h.Secret, textArray(&h.Events), &h.IsActive, &h.CreatedAt); err != nil {
		return trust.Webhook{}, notFound(err)
	}
	return h, nil
}

func (s webhookStore) Create(ctx context.Context, h *trust.Webhook) error {
	if h.ID == "" {
		h.ID = ids.New()
	}
	created, err := scanWebhook(s.db.QueryRowContext(ctx, `
		insert into webhooks (id, url, secret, events, is_active)
		values ($1, $2, $3, $4, $5)
		returning `+webhookColumns,
		h.ID, h.URL, h.Secret, h.Events, h.IsActive))
	if err != nil {
		return mapWriteErr(err, "webhook")
	}
	*h = created
	return nil
}

func (s webhookStore) query(ctx context.Context, query string, args ...any) ([]trust.Webhook, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []trust.Webhook
	for rows.Next() {
		h, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s webhookStore) List(ctx context.Context) ([]trust.Webhook, error) {
	return s.query(ctx, `select `+webhookColumns+` from webhooks order by created_at`)
}

func (s webhookStore) ListActive(ctx context.Context, event string) ([]trust.Webhook, error) {
	return s.query(ctx, `
		select `+webhookColumns+` from webhooks
		where is_active and ($1 = any(events) or '*' = any(events))
		order by created_at
	`, event)
}

func (s webhookStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from webhooks where id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return trust.ErrNotFound
	}
	return err
}

type salesforceStore struct{ db *sql.DB }

func (s salesforceStore) SaveConnection(ctx context.Context, c *trust.SalesforceConnection) error {
	if c.ID == "" {
		c.ID = ids.New()
	}
	if c.ConnectedAt.IsZero() {
		c.ConnectedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into salesforce_connections (id, instance_url, access_token_enc, refresh_token_enc, connected_by, connected_at, last_sync_at)
		values ($1, $2, $3, $4, $5, $6, $7)
		on conflict (id) do update set
			instance_url = excluded.instance_url,
			access_token_enc = excluded.access_token_enc,
			refresh_token_enc = excluded.refresh_token_enc
	`, c.ID, c.InstanceURL, c.AccessTokenEnc, c.RefreshTokenEnc, c.ConnectedBy, c.ConnectedAt.UTC(), nullTime(c.LastSyncAt))
	return err
}

func (s salesforceStore) Connection(ctx context.Context) (trust.SalesforceConnection, error) {
	var (
		c    trust.SalesforceConnection
		last sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select id, instance_url, access_token_enc, refresh_token_enc, connected_by, connected_at, last_sync_at
		from salesforce_connections
		order by connected_at desc
		limit 1
	`).Scan(&c.ID, &c.InstanceURL, &c.AccessTokenEnc, &c.RefreshTokenEnc, &c.ConnectedBy, &c.ConnectedAt, &last)
	if err != nil {
		return trust.SalesforceConnection{}, notFound(err)
	}
	c.LastSyncAt = timePtr(last)
	return c, nil
}

func (s salesforceStore) MarkSynced(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `update salesforce_connections set last_sync_at = $2 where id = $1`, id, at.UTC())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return trust.ErrNotFound
	}
	return nil
}
