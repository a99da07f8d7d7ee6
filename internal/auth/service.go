package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"

	"trustcenter.dev/internal/obs"
	"trustcenter.dev/internal/trust"
)

const minPasswordLength = 8

// Service manages the admin registry and bearer token issuance.
type Service struct {
	admins trust.AdminStore
	tokens *Issuer
}

// NewService constructs Service over the admin store.
func NewService(admins trust.AdminStore, tokens *Issuer) *Service {
	return &Service{admins: admins, tokens: tokens}
}

// Session is the result of a successful login.
type Session struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	Admin     trust.AdminUser `json:"admin"`
}

// NewAdmin carries registration input.
type NewAdmin struct {
	Email    string
	Name     string
	Password string
	Role     trust.AdminRole
}

// CreateAdmin validates input, hashes the password and inserts the admin.
func (s *Service) CreateAdmin(ctx context.Context, in NewAdmin) (trust.AdminUser, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	var missing []string
	if email == "" {
		missing = append(missing, "email")
	}
	if strings.TrimSpace(in.Name) == "" {
		missing = append(missing, "name")
	}
	if in.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return trust.AdminUser{}, fmt.Errorf("%w: missing %s", trust.ErrInvalidInput, strings.Join(missing, ", "))
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return trust.AdminUser{}, fmt.Errorf("%w: invalid email", trust.ErrInvalidInput)
	}
	if len(in.Password) < minPasswordLength {
		return trust.AdminUser{}, fmt.Errorf("%w: password must be at least %d characters", trust.ErrInvalidInput, minPasswordLength)
	}
	role := in.Role
	if role == "" {
		role = trust.RoleAdmin
	}
	if _, ok := roleRank[role]; !ok {
		return trust.AdminUser{}, fmt.Errorf("%w: unknown role %q", trust.ErrInvalidInput, role)
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return trust.AdminUser{}, err
	}
	admin := trust.AdminUser{
		Email:        email,
		Name:         strings.TrimSpace(in.Name),
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}
	if err := s.admins.Create(ctx, &admin); err != nil {
		return trust.AdminUser{}, err
	}
	return admin, nil
}

// Login verifies credentials and issues a bearer token.
// Every credential failure is reported as trust.ErrUnauthorized.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return Session{}, trust.ErrUnauthorized
	}
	admin, err := s.admins.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, trust.ErrNotFound) {
			burnCompare(password)
			return Session{}, trust.ErrUnauthorized
		}
		return Session{}, err
	}
	if !admin.IsActive {
		burnCompare(password)
		return Session{}, trust.ErrUnauthorized
	}
	if err := VerifyPassword(admin.PasswordHash, password); err != nil {
		return Session{}, trust.ErrUnauthorized
	}
	if NeedsRehash(admin.PasswordHash) {
		obs.Logger().Info("admin_password_weak_hash", zap.String("admin_id", admin.ID))
	}
	token, expires, err := s.tokens.Issue(admin.ID, admin.Role)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, ExpiresAt: expires, Admin: admin}, nil
}

// Authenticate resolves a bearer token to an active admin.
func (s *Service) Authenticate(ctx context.Context, token string) (trust.AdminUser, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return trust.AdminUser{}, trust.ErrUnauthorized
	}
	admin, err := s.admins.Get(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, trust.ErrNotFound) {
			return trust.AdminUser{}, trust.ErrUnauthorized
		}
		return trust.AdminUser{}, err
	}
	if !admin.IsActive {
		return trust.AdminUser{}, trust.ErrUnauthorized
	}
	return admin, nil
}
