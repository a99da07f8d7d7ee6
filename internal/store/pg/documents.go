package pg

import (
	"context"
	"database/sql"
	"fmt"

	"trustcenter.dev/internal/ids"
	"trustcenter.dev/internal/trust"
)

const docColumns = `id, title, description, category, access_level, status, version, is_current_version,
	coalesce(replaces_document_id, ''), storage_key, file_name, content_type, size_bytes, created_at, updated_at`

type docStore struct{ db *sql.DB }

func scanDoc(row scanner) (trust.Document, error) {
	var (
		d              trust.Document
		access, status string
	)
	err := row.Scan(&d.ID, &d.Title, &d.Description, &d.Category, &access, &status, &d.Version, &d.IsCurrentVersion,
		&d.ReplacesDocumentID, &d.StorageKey, &d.FileName, &d.ContentType, &d.SizeBytes, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return trust.Document{}, notFound(err)
	}
	d.AccessLevel = trust.AccessLevel(access)
	d.Status = trust.DocumentStatus(status)
	return d, nil
}

func (s docStore) Create(ctx context.Context, doc *trust.Document) error {
	if doc.ID == "" {
		doc.ID = ids.New()
	}
	created, err := scanDoc(s.db.QueryRowContext(ctx, `
		insert into documents (id, title, description, category, access_level, status, version, is_current_version,
			replaces_document_id, storage_key, file_name, content_type, size_bytes)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		returning `+docColumns,
		doc.ID, doc.Title, doc.Description, doc.Category, string(doc.AccessLevel), string(doc.Status), doc.Version,
		doc.IsCurrentVersion, nullIfEmpty(doc.ReplacesDocumentID), doc.StorageKey, doc.FileName, doc.ContentType, doc.SizeBytes))
	if err != nil {
		return mapWriteErr(err, "document "+doc.ID)
	}
	*doc = created
	return nil
}

func (s docStore) Get(ctx context.Context, id string) (trust.Document, error) {
	return scanDoc(s.db.QueryRowContext(ctx, `select `+docColumns+` from documents where id = $1`, id))
}

// GetMany returns the documents that exist, in the order of docIDs.
func (s docStore) GetMany(ctx context.Context, docIDs []string) ([]trust.Document, error) {
	if len(docIDs) == 0 {
		return []trust.Document{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `select `+docColumns+` from documents where id = any($1)`, docIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	byID := make(map[string]trust.Document, len(docIDs))
	for rows.Next() {
		d, err := scanDoc(rows)
		if err != nil {
			return nil, err
		}
		byID[d.ID] = d
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]trust.Document, 0, len(byID))
	for _, id := range docIDs {
		if d, ok := byID[id]; ok {
			out = append(out, d)
			delete(byID, id)
		}
	}
	return out, nil
}

func (s docStore) List(ctx context.Context, f trust.DocumentFilter) ([]trust.Document, error) {
	var w where
	if f.Status != "" {
		w.add("status = ?", string(f.Status))
	}
	if f.AccessLevel != "" {
		w.add("access_level = ?", string(f.AccessLevel))
	}
	if f.Category != "" {
		w.add("category = ?", f.Category)
	}
	if f.CurrentOnly {
		w.clauses = append(w.clauses, "is_current_version")
	}
	rows, err := s.db.QueryContext(ctx, `select `+docColumns+` from documents`+w.render()+` order by title, version desc`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []trust.Document
	for rows.Next() {
		d, err := scanDoc(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s docStore) Update(ctx context.Context, id string, upd trust.DocumentUpdate) (trust.Document, error) {
	str := func(p *string) sql.NullString {
		if p == nil {
			return sql.NullString{}
		}
		return sql.NullString{String: *p, Valid: true}
	}
	var access, status sql.NullString
	if upd.AccessLevel != nil {
		access = sql.NullString{String: string(*upd.AccessLevel), Valid: true}
	}
	if upd.Status != nil {
		status = sql.NullString{String: string(*upd.Status), Valid: true}
	}
	var current sql.NullBool
	if upd.IsCurrentVersion != nil {
		current = sql.NullBool{Bool: *upd.IsCurrentVersion, Valid: true}
	}
	return scanDoc(s.db.QueryRowContext(ctx, `
		update documents set
			title = coalesce($2, title),
			description = coalesce($3, description),
			category = coalesce($4, category),
			access_level = coalesce($5, access_level),
			status = coalesce($6, status),
			is_current_version = coalesce($7, is_current_version),
			updated_at = now()
		where id = $1
		returning `+docColumns,
		id, str(upd.Title), str(upd.Description), str(upd.Category), access, status, current))
}

func (s docStore) Retire(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		update documents set is_current_version = false, updated_at = now()
		where id = $1 and is_current_version`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: document %s is not the current version", trust.ErrConflict, id)
	}
	return nil
}
