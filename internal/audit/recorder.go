package audit

import (
	"context"

	"go.uber.org/zap"

	"trustcenter.dev/internal/auth"
	"trustcenter.dev/internal/obs"
	"trustcenter.dev/internal/trust"
)

// Publisher receives activity entries after they are stored.
type Publisher interface {
	Publish(entry trust.ActivityLog)
}

// Recorder appends activity entries. Failures are logged and never returned,
// so an activity write cannot abort the operation that produced it.
type Recorder struct {
	store     trust.ActivityStore
	publisher Publisher
}

// NewRecorder builds a Recorder. publisher may be nil.
func NewRecorder(store trust.ActivityStore, publisher Publisher) *Recorder {
	return &Recorder{store: store, publisher: publisher}
}

// Record stores entry, filling the admin and client address from ctx when unset.
func (r *Recorder) Record(ctx context.Context, entry trust.ActivityLog) {
	if r == nil || r.store == nil {
		return
	}
	if entry.AdminID == "" {
		if id, ok := auth.AdminIDFromContext(ctx); ok {
			entry.AdminID = id
		}
	}
	if entry.IPAddress == "" {
		entry.IPAddress = ClientIPFromContext(ctx)
	}
	if err := r.store.Append(ctx, &entry); err != nil {
		obs.Logger().Warn("activity_append_failed",
			zap.String("action", entry.Action),
			zap.String("entity_type", entry.EntityType),
			zap.String("entity_id", entry.EntityID),
			zap.Error(err),
		)
		return
	}
	_ = LogEvent(ctx, entry.Action, map[string]any{
		"entity_type": entry.EntityType,
		"entity_id":   entry.EntityID,
		"activity_id": entry.ID,
	})
	if r.publisher != nil {
		r.publisher.Publish(entry)
	}
}

// List returns activity entries, newest first.
func (r *Recorder) List(ctx context.Context, filter trust.ActivityFilter) ([]trust.ActivityLog, error) {
	return r.store.List(ctx, filter)
}
