package audit

import (
	"context"
	"errors"
	"maps"
	"strings"

	"go.uber.org/zap"

	"trustcenter.dev/internal/auth"
	"trustcenter.dev/internal/obs"
)

type ctxKey string

const (
	requestIDKey ctxKey = "audit_request_id"
	clientIPKey  ctxKey = "audit_client_ip"
)

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// WithClientIP attaches the caller address recorded on activity entries.
func WithClientIP(ctx context.Context, ip string) context.Context {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIPFromContext returns the address stored by WithClientIP.
func ClientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(clientIPKey).(string)
	return v
}

// LogEvent writes an audit log entry enriched with request and admin context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	zf := []zap.Field{
		zap.String("type", "audit"),
		zap.String("event", event),
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		zf = append(zf, zap.String("request_id", rid))
	}
	if adminID, ok := auth.AdminIDFromContext(ctx); ok {
		zf = append(zf, zap.String("admin_id", adminID))
	}
	copyFields := make(map[string]any, len(fields))
	maps.Copy(copyFields, fields)
	zf = append(zf, zap.Any("fields", copyFields))

	obs.Logger().Info("audit", zf...)
	return nil
}
