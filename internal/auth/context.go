package auth

import (
	"context"

	"trustcenter.dev/internal/trust"
)

type adminContextKey struct{}

// ContextWithAdmin attaches the authenticated admin to the context.
func ContextWithAdmin(ctx context.Context, admin trust.AdminUser) context.Context {
	return context.WithValue(ctx, adminContextKey{}, &admin)
}

// AdminFromContext extracts the authenticated admin from the context.
func AdminFromContext(ctx context.Context) (trust.AdminUser, bool) {
	if ctx == nil {
		return trust.AdminUser{}, false
	}
	v, ok := ctx.Value(adminContextKey{}).(*trust.AdminUser)
	if !ok || v == nil {
		return trust.AdminUser{}, false
	}
	return *v, true
}

// AdminIDFromContext returns the admin id if the request is authenticated.
func AdminIDFromContext(ctx context.Context) (string, bool) {
	admin, ok := AdminFromContext(ctx)
	if !ok || admin.ID == "" {
		return "", false
	}
	return admin.ID, true
}
