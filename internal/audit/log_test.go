package audit

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"trustcenter.dev/internal/auth"
	"trustcenter.dev/internal/obs"
	"trustcenter.dev/internal/trust"
)

func captureLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zap.InfoLevel)
	original := obs.Logger()
	obs.SetLogger(zap.New(core))
	t.Cleanup(func() { obs.SetLogger(original) })
	return logs
}

func TestLogEvent(t *testing.T) {
	logs := captureLogs(t)

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = auth.ContextWithAdmin(ctx, trust.AdminUser{ID: "admin-42"})

	if err := LogEvent(ctx, "audit.test", map[string]any{"foo": "bar"}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	entries := logs.FilterMessage("audit").All()
	if len(entries) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["type"] != "audit" {
		t.Fatalf("unexpected type: %v", fields["type"])
	}
	if fields["event"] != "audit.test" {
		t.Fatalf("unexpected event: %v", fields["event"])
	}
	if fields["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", fields["request_id"])
	}
	if fields["admin_id"] != "admin-42" {
		t.Fatalf("unexpected admin id: %v", fields["admin_id"])
	}
	payload, ok := fields["fields"].(map[string]any)
	if !ok || payload["foo"] != "bar" {
		t.Fatalf("fields missing or incorrect: %v", fields["fields"])
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for empty event")
	}
}

type collector struct{ got []trust.ActivityLog }

func (c *collector) Publish(entry trust.ActivityLog) { c.got = append(c.got, entry) }

func TestRecorderFillsContextAndPublishes(t *testing.T) {
	captureLogs(t)
	store := trust.NewInMemory()
	pub := &collector{}
	rec := NewRecorder(store.Activity(), pub)

	ctx := auth.ContextWithAdmin(context.Background(), trust.AdminUser{ID: "admin-1"})
	ctx = WithClientIP(ctx, "203.0.113.9")
	rec.Record(ctx, trust.ActivityLog{Action: "organization.update_status", EntityType: "organization", EntityID: "org-1"})

	list, err := rec.List(context.Background(), trust.ActivityFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one entry, got %d", len(list))
	}
	if list[0].AdminID != "admin-1" || list[0].IPAddress != "203.0.113.9" {
		t.Fatalf("context not applied: %+v", list[0])
	}
	if len(pub.got) != 1 || pub.got[0].ID != list[0].ID {
		t.Fatalf("expected published entry, got %+v", pub.got)
	}
}

type failingActivity struct{}

func (failingActivity) Append(context.Context, *trust.ActivityLog) error {
	return errors.New("disk full")
}

func (failingActivity) List(context.Context, trust.ActivityFilter) ([]trust.ActivityLog, error) {
	return nil, nil
}

func TestRecorderSwallowsStoreFailure(t *testing.T) {
	logs := captureLogs(t)
	pub := &collector{}
	rec := NewRecorder(failingActivity{}, pub)

	rec.Record(context.Background(), trust.ActivityLog{Action: "document.create", EntityType: "document"})

	if len(pub.got) != 0 {
		t.Fatal("failed entries must not be published")
	}
	if logs.FilterMessage("activity_append_failed").Len() != 1 {
		t.Fatal("expected failure to be logged")
	}
}
