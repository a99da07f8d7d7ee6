// Package documents manages the compliance document catalog and its files.
package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"trustcenter.dev/internal/ids"
	"trustcenter.dev/internal/obs"
	"trustcenter.dev/internal/storage"
	"trustcenter.dev/internal/trust"
	"trustcenter.dev/internal/webhook"
)

// Recorder appends activity entries.
type Recorder interface {
	Record(ctx context.Context, entry trust.ActivityLog)
}

// Dispatcher delivers catalog events to webhook subscribers.
type Dispatcher interface {
	Dispatch(ctx context.Context, event string, data any) []webhook.Delivery
}

// Catalog is the admin and public surface over documents.
type Catalog struct {
	docs      trust.DocumentStore
	blobs     storage.Provider
	downloads *storage.Server
	recorder  Recorder
	hooks     Dispatcher
	bulkLimit int
}

// Options configure a Catalog.
type Options struct {
	Blobs     storage.Provider
	Downloads *storage.Server
	Recorder  Recorder
	Webhooks  Dispatcher
	// BulkLimit caps BulkCreate batches when positive.
	BulkLimit int
}

func NewCatalog(docs trust.DocumentStore, opts Options) *Catalog {
	return &Catalog{
		docs:      docs,
		blobs:     opts.Blobs,
		downloads: opts.Downloads,
		recorder:  opts.Recorder,
		hooks:     opts.Webhooks,
		bulkLimit: opts.BulkLimit,
	}
}

// Input describes a new document or a new version of one.
type Input struct {
	Title       string               `json:"title"`
	Description string               `json:"description"`
	Category    string               `json:"category"`
	AccessLevel trust.AccessLevel    `json:"access_level"`
	Status      trust.DocumentStatus `json:"status"`
	FileName    string               `json:"file_name"`
	ContentType string               `json:"content_type"`
	Size        int64                `json:"-"`
}

// Patch carries optional metadata changes.
type Patch struct {
	Title       *string               `json:"title"`
	Description *string               `json:"description"`
	Category    *string               `json:"category"`
	AccessLevel *trust.AccessLevel    `json:"access_level"`
	Status      *trust.DocumentStatus `json:"status"`
}

func (c *Catalog) List(ctx context.Context, filter trust.DocumentFilter) ([]trust.Document, error) {
	return c.docs.List(ctx, filter)
}

// ListPublic returns the published, current catalog. Restricted entries are
// listed by metadata only.
func (c *Catalog) ListPublic(ctx context.Context) ([]trust.Document, error) {
	docs, err := c.docs.List(ctx, trust.DocumentFilter{Status: trust.DocumentPublished, CurrentOnly: true})
	if err != nil {
		return nil, err
	}
	for i := range docs {
		docs[i].StorageKey = ""
	}
	return docs, nil
}

func (c *Catalog) Get(ctx context.Context, id string) (trust.Document, error) {
	return c.docs.Get(ctx, id)
}

// Create stores file when given and inserts version 1 of a document.
func (c *Catalog) Create(ctx context.Context, in Input, file io.Reader) (trust.Document, error) {
	doc, err := newDocument(in)
	if err != nil {
		return trust.Document{}, err
	}
	doc.ID = ids.New()
	doc.Version = 1
	if err := c.upload(ctx, &doc, file, in.Size); err != nil {
		return trust.Document{}, err
	}
	if err := c.docs.Create(ctx, &doc); err != nil {
		c.cleanup(ctx, doc.StorageKey)
		return trust.Document{}, err
	}
	c.record(ctx, trust.ActivityLog{
		Action:     "document.create",
		EntityType: "document",
		EntityID:   doc.ID,
		NewValue:   snapshot(doc),
	})
	c.dispatch(ctx, doc)
	return doc, nil
}

// BulkCreate inserts metadata-only documents in order, stopping at the
// first failure.
func (c *Catalog) BulkCreate(ctx context.Context, inputs []Input) ([]trust.Document, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: at least one document is required", trust.ErrInvalidInput)
	}
	if c.bulkLimit > 0 && len(inputs) > c.bulkLimit {
		return nil, fmt.Errorf("%w: at most %d documents per batch", trust.ErrInvalidInput, c.bulkLimit)
	}
	for i, in := range inputs {
		if _, err := newDocument(in); err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
	}
	out := make([]trust.Document, 0, len(inputs))
	for _, in := range inputs {
		doc, err := c.Create(ctx, in, nil)
		if err != nil {
			return out, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func (c *Catalog) Update(ctx context.Context, id string, p Patch) (trust.Document, error) {
	before, err := c.docs.Get(ctx, id)
	if err != nil {
		return trust.Document{}, err
	}
	upd := trust.DocumentUpdate{Description: p.Description, Category: p.Category}
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return trust.Document{}, fmt.Errorf("%w: title must not be empty", trust.ErrInvalidInput)
		}
		upd.Title = &title
	}
	if p.AccessLevel != nil {
		if !validAccess(*p.AccessLevel) {
			return trust.Document{}, fmt.Errorf("%w: unknown access_level %q", trust.ErrInvalidInput, *p.AccessLevel)
		}
		upd.AccessLevel = p.AccessLevel
	}
	if p.Status != nil {
		if !validStatus(*p.Status) {
			return trust.Document{}, fmt.Errorf("%w: unknown status %q", trust.ErrInvalidInput, *p.Status)
		}
		upd.Status = p.Status
	}
	after, err := c.docs.Update(ctx, id, upd)
	if err != nil {
		return trust.Document{}, err
	}
	c.record(ctx, trust.ActivityLog{
		Action:     "document.update",
		EntityType: "document",
		EntityID:   id,
		OldValue:   snapshot(before),
		NewValue:   snapshot(after),
	})
	return after, nil
}

// Replace publishes a new version of id and retires the old one.
func (c *Catalog) Replace(ctx context.Context, id string, in Input, file io.Reader) (trust.Document, error) {
	old, err := c.docs.Get(ctx, id)
	if err != nil {
		return trust.Document{}, err
	}
	if !old.IsCurrentVersion {
		return trust.Document{}, fmt.Errorf("%w: document %s is not the current version", trust.ErrConflict, id)
	}
	if strings.TrimSpace(in.Title) == "" {
		in.Title = old.Title
	}
	if in.Description == "" {
		in.Description = old.Description
	}
	if in.Category == "" {
		in.Category = old.Category
	}
	if in.AccessLevel == "" {
		in.AccessLevel = old.AccessLevel
	}
	if in.Status == "" {
		in.Status = old.Status
	}
	doc, err := newDocument(in)
	if err != nil {
		return trust.Document{}, err
	}
	doc.ID = ids.New()
	doc.Version = old.Version + 1
	doc.ReplacesDocumentID = old.ID
	if err := c.upload(ctx, &doc, file, in.Size); err != nil {
		return trust.Document{}, err
	}
	// Only one concurrent replace can retire the head; the others stop here
	// before inserting a second current version.
	if err := c.docs.Retire(ctx, old.ID); err != nil {
		c.cleanup(ctx, doc.StorageKey)
		return trust.Document{}, err
	}
	if err := c.docs.Create(ctx, &doc); err != nil {
		c.cleanup(ctx, doc.StorageKey)
		current := true
		if _, rerr := c.docs.Update(ctx, old.ID, trust.DocumentUpdate{IsCurrentVersion: &current}); rerr != nil {
			obs.Logger().Error("document_head_restore_failed", zap.String("document_id", old.ID), zap.Error(rerr))
		}
		return trust.Document{}, err
	}
	c.record(ctx, trust.ActivityLog{
		Action:     "document.replace",
		EntityType: "document",
		EntityID:   doc.ID,
		OldValue:   snapshot(old),
		NewValue:   snapshot(doc),
		Metadata:   map[string]any{"replaces_document_id": old.ID},
	})
	c.dispatch(ctx, doc)
	return doc, nil
}

func (c *Catalog) Archive(ctx context.Context, id string) (trust.Document, error) {
	archived := trust.DocumentArchived
	return c.Update(ctx, id, Patch{Status: &archived})
}

// PublicDownload serves a published, public, current document without a token.
func (c *Catalog) PublicDownload(ctx context.Context, id string) (storage.Download, error) {
	doc, err := c.docs.Get(ctx, id)
	if err != nil {
		return storage.Download{}, err
	}
	if !doc.PubliclyDownloadable() {
		return storage.Download{}, trust.ErrNotFound
	}
	if c.downloads == nil {
		return storage.Download{}, fmt.Errorf("%w: document file unavailable", trust.ErrNotFound)
	}
	dl, err := c.downloads.Fetch(ctx, doc)
	if err != nil {
		return storage.Download{}, err
	}
	switch {
	case dl.Placeholder:
		obs.CountDownload("public", "placeholder")
	case dl.RedirectURL != "":
		obs.CountDownload("public", "redirect")
	default:
		obs.CountDownload("public", "stream")
	}
	return dl, nil
}

func (c *Catalog) upload(ctx context.Context, doc *trust.Document, file io.Reader, size int64) error {
	if file == nil {
		return nil
	}
	if c.blobs == nil {
		return errors.New("document storage is not configured")
	}
	if doc.FileName == "" {
		doc.FileName = "document.pdf"
	}
	if doc.ContentType == "" {
		doc.ContentType = mime.TypeByExtension(filepath.Ext(doc.FileName))
		if doc.ContentType == "" {
			doc.ContentType = "application/octet-stream"
		}
	}
	key := storage.ObjectKey(doc.ID, doc.Version, doc.FileName)
	if err := c.blobs.Put(ctx, key, file, size, doc.ContentType); err != nil {
		return fmt.Errorf("store document file: %w", err)
	}
	obj, err := c.blobs.Stat(ctx, key)
	if err != nil {
		return fmt.Errorf("stat document file: %w", err)
	}
	doc.StorageKey = key
	doc.SizeBytes = obj.Size
	return nil
}

func (c *Catalog) cleanup(ctx context.Context, key string) {
	if key == "" || c.blobs == nil {
		return
	}
	if err := c.blobs.Delete(ctx, key); err != nil {
		obs.Logger().Warn("document_blob_cleanup_failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *Catalog) record(ctx context.Context, entry trust.ActivityLog) {
	if c.recorder != nil {
		c.recorder.Record(ctx, entry)
	}
}

func (c *Catalog) dispatch(ctx context.Context, doc trust.Document) {
	if c.hooks == nil {
		return
	}
	c.hooks.Dispatch(ctx, webhook.EventDocumentCreated, map[string]any{
		"document_id":  doc.ID,
		"title":        doc.Title,
		"version":      doc.Version,
		"access_level": doc.AccessLevel,
		"status":       doc.Status,
	})
}

func newDocument(in Input) (trust.Document, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return trust.Document{}, fmt.Errorf("%w: missing required fields: title", trust.ErrInvalidInput)
	}
	access := in.AccessLevel
	if access == "" {
		access = trust.AccessRestricted
	}
	if !validAccess(access) {
		return trust.Document{}, fmt.Errorf("%w: unknown access_level %q", trust.ErrInvalidInput, access)
	}
	status := in.Status
	if status == "" {
		status = trust.DocumentDraft
	}
	if status != trust.DocumentDraft && status != trust.DocumentPublished {
		return trust.Document{}, fmt.Errorf("%w: new documents must be draft or published", trust.ErrInvalidInput)
	}
	return trust.Document{
		Title:            title,
		Description:      strings.TrimSpace(in.Description),
		Category:         strings.TrimSpace(in.Category),
		AccessLevel:      access,
		Status:           status,
		IsCurrentVersion: true,
		FileName:         baseName(in.FileName),
		ContentType:      in.ContentType,
	}, nil
}

func baseName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, `\`, "/"))
	if name == "" {
		return ""
	}
	return filepath.Base(name)
}

func validAccess(a trust.AccessLevel) bool {
	return a == trust.AccessPublic || a == trust.AccessRestricted
}

func validStatus(s trust.DocumentStatus) bool {
	switch s {
	case trust.DocumentDraft, trust.DocumentPublished, trust.DocumentArchived:
		return true
	}
	return false
}

func snapshot(d trust.Document) map[string]any {
	return map[string]any{
		"title":              d.Title,
		"access_level":       string(d.AccessLevel),
		"status":             string(d.Status),
		"version":            d.Version,
		"is_current_version": d.IsCurrentVersion,
	}
}
