package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trustcenter.dev/internal/audit"
	"trustcenter.dev/internal/magiclink"
	"trustcenter.dev/internal/obs"
	"trustcenter.dev/internal/storage"
	"trustcenter.dev/internal/trust"
)

var (
	errLinkNotFound = fmt.Errorf("%w: access link not found", trust.ErrNotFound)
	errLinkExpired  = fmt.Errorf("%w: link expired", trust.ErrForbidden)
	errNotApproved  = fmt.Errorf("%w: request not approved", trust.ErrForbidden)
	errAccessEnded  = fmt.Errorf("%w: access expired", trust.ErrForbidden)
)

// AccessView is what a magic-link holder may see.
type AccessView struct {
	RequestID       string           `json:"id"`
	RequesterName   string           `json:"requester_name"`
	Documents       []trust.Document `json:"documents"`
	ExpiresAt       *time.Time       `json:"expires_at"`
	AccessExpiresAt *time.Time       `json:"access_expires_at,omitempty"`
}

// ResolveAccess redeems token. Links are reusable until they expire; the
// first successful use is stamped on the request.
func (w *Workflow) ResolveAccess(ctx context.Context, token string) (AccessView, error) {
	req, err := w.redeem(ctx, token)
	if err != nil {
		return AccessView{}, err
	}
	docs, err := w.store.Documents().GetMany(ctx, req.DocumentIDs)
	if err != nil {
		return AccessView{}, err
	}
	if docs == nil {
		docs = []trust.Document{}
	}
	return AccessView{
		RequestID:       req.ID,
		RequesterName:   req.RequesterName,
		Documents:       docs,
		ExpiresAt:       req.MagicLinkExpiresAt,
		AccessExpiresAt: req.AccessExpiresAt,
	}, nil
}

// DownloadDocument serves one document covered by token.
func (w *Workflow) DownloadDocument(ctx context.Context, token, documentID string) (storage.Download, error) {
	req, err := w.redeem(ctx, token)
	if err != nil {
		return storage.Download{}, err
	}
	if !req.Covers(documentID) {
		return storage.Download{}, fmt.Errorf("%w: document not included in this request", trust.ErrForbidden)
	}
	doc, err := w.store.Documents().Get(ctx, documentID)
	if err != nil {
		return storage.Download{}, err
	}
	if w.downloads == nil {
		return storage.Download{}, fmt.Errorf("%w: document file unavailable", trust.ErrNotFound)
	}
	dl, err := w.downloads.Fetch(ctx, doc)
	if err != nil {
		return storage.Download{}, err
	}
	audit.LogEvent(ctx, "document.downloaded", map[string]any{
		"request_id":  req.ID,
		"document_id": doc.ID,
		"placeholder": dl.Placeholder,
	})
	obs.CountDownload("magic_link", deliveryKind(dl))
	return dl, nil
}

func (w *Workflow) redeem(ctx context.Context, token string) (trust.DocumentRequest, error) {
	if !magiclink.LooksValid(token) {
		obs.CountMagicLink("not_found")
		return trust.DocumentRequest{}, errLinkNotFound
	}
	req, err := w.store.Requests().FindByToken(ctx, token)
	if errors.Is(err, trust.ErrNotFound) {
		obs.CountMagicLink("not_found")
		return trust.DocumentRequest{}, errLinkNotFound
	}
	if err != nil {
		return trust.DocumentRequest{}, err
	}
	now := w.now().UTC()
	if magiclink.Expired(req.MagicLinkExpiresAt, now) {
		obs.CountMagicLink("expired")
		return trust.DocumentRequest{}, errLinkExpired
	}
	if !req.Status.GrantsAccess() {
		obs.CountMagicLink("not_approved")
		return trust.DocumentRequest{}, errNotApproved
	}
	if req.AccessExpiresAt != nil && req.AccessExpiresAt.Before(now) {
		obs.CountMagicLink("expired")
		return trust.DocumentRequest{}, errAccessEnded
	}
	if req.MagicLinkUsedAt == nil {
		first, err := w.store.Requests().MarkUsed(ctx, req.ID, now)
		switch {
		case err != nil:
			obs.Logger().Warn("magic_link_mark_used_failed", zap.String("request_id", req.ID), zap.Error(err))
		case first:
			req.MagicLinkUsedAt = &now
		}
	}
	obs.CountMagicLink("ok")
	return req, nil
}

func deliveryKind(dl storage.Download) string {
	switch {
	case dl.Placeholder:
		return "placeholder"
	case dl.RedirectURL != "":
		return "redirect"
	default:
		return "stream"
	}
}
