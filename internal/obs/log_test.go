package obs

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogRequestUsesSharedLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	original := Logger()
	SetLogger(zap.New(core))
	defer SetLogger(original)

	LogRequest(zap.String("method", "GET"), zap.Int("status", 200))

	entries := logs.FilterMessage("request_complete").All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["method"] != "GET" {
		t.Fatalf("unexpected method field: %v", fields["method"])
	}
	if fields["status"] != int64(200) {
		t.Fatalf("unexpected status field: %v", fields["status"])
	}
}

func TestInitLoggerFallsBackOnBadLevel(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	l := InitLogger(LogConfig{Level: "shouting"})
	if !l.Core().Enabled(zap.InfoLevel) {
		t.Fatal("expected info level to be enabled")
	}
	if l.Core().Enabled(zap.DebugLevel) {
		t.Fatal("expected debug to be disabled by default")
	}
}
