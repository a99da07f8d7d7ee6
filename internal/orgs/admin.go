package orgs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"trustcenter.dev/internal/trust"
)

// Recorder appends activity entries on a best-effort basis.
type Recorder interface {
	Record(ctx context.Context, entry trust.ActivityLog)
}

// Admin exposes organization management for authenticated admins.
type Admin struct {
	orgs     trust.OrganizationStore
	recorder Recorder
	now      func() time.Time
}

func NewAdmin(orgs trust.OrganizationStore, recorder Recorder) *Admin {
	return &Admin{orgs: orgs, recorder: recorder, now: time.Now}
}

// SetClock overrides the time source used for revocation stamps.
func (a *Admin) SetClock(fn func() time.Time) {
	if fn != nil {
		a.now = fn
	}
}

// Patch carries admin edits. Nil fields are left untouched.
type Patch struct {
	Name   *string
	Status *trust.OrgStatus
}

func (a *Admin) List(ctx context.Context, filter trust.OrganizationFilter) ([]trust.Organization, error) {
	if filter.Status != trust.OrgStatusUnset && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", trust.ErrInvalidInput, filter.Status)
	}
	return a.orgs.List(ctx, filter)
}

func (a *Admin) Get(ctx context.Context, id string) (trust.Organization, error) {
	return a.orgs.Get(ctx, id)
}

// Update applies name and status edits and records the old and new values.
func (a *Admin) Update(ctx context.Context, id string, patch Patch) (trust.Organization, error) {
	upd := trust.OrganizationUpdate{}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return trust.Organization{}, fmt.Errorf("%w: name must not be empty", trust.ErrInvalidInput)
		}
		upd.Name = &name
	}
	if patch.Status != nil {
		if !patch.Status.Valid() {
			return trust.Organization{}, fmt.Errorf("%w: unknown status %q", trust.ErrInvalidInput, *patch.Status)
		}
		upd.Status = patch.Status
	}
	if upd.Name == nil && upd.Status == nil {
		return trust.Organization{}, fmt.Errorf("%w: nothing to update", trust.ErrInvalidInput)
	}

	before, err := a.orgs.Get(ctx, id)
	if err != nil {
		return trust.Organization{}, err
	}
	after, err := a.orgs.Update(ctx, id, upd)
	if err != nil {
		return trust.Organization{}, err
	}
	a.record(ctx, "organization.update", before, after)
	return after, nil
}

// UpdateStatus is Update restricted to the status field.
func (a *Admin) UpdateStatus(ctx context.Context, id string, status trust.OrgStatus) (trust.Organization, error) {
	return a.Update(ctx, id, Patch{Status: &status})
}

// Revoke soft-deletes the organization: it stays on record but every later
// approval against it is refused.
func (a *Admin) Revoke(ctx context.Context, id string) (trust.Organization, error) {
	before, err := a.orgs.Get(ctx, id)
	if err != nil {
		return trust.Organization{}, err
	}
	inactive := false
	status := trust.OrgStatusNoAccess
	now := a.now().UTC()
	after, err := a.orgs.Update(ctx, id, trust.OrganizationUpdate{
		IsActive:  &inactive,
		Status:    &status,
		RevokedAt: &now,
	})
	if err != nil {
		return trust.Organization{}, err
	}
	a.record(ctx, "organization.revoke", before, after)
	return after, nil
}

// Restore reactivates a revoked organization as conditional.
func (a *Admin) Restore(ctx context.Context, id string) (trust.Organization, error) {
	before, err := a.orgs.Get(ctx, id)
	if err != nil {
		return trust.Organization{}, err
	}
	if before.IsActive {
		return trust.Organization{}, fmt.Errorf("%w: organization is active", trust.ErrConflict)
	}
	active := true
	status := trust.OrgStatusConditional
	after, err := a.orgs.Update(ctx, id, trust.OrganizationUpdate{
		IsActive:       &active,
		Status:         &status,
		ClearRevokedAt: true,
	})
	if err != nil {
		return trust.Organization{}, err
	}
	a.record(ctx, "organization.restore", before, after)
	return after, nil
}

func (a *Admin) record(ctx context.Context, action string, before, after trust.Organization) {
	if a.recorder == nil {
		return
	}
	a.recorder.Record(ctx, trust.ActivityLog{
		Action:     action,
		EntityType: "organization",
		EntityID:   after.ID,
		OldValue:   snapshot(before),
		NewValue:   snapshot(after),
	})
}

func snapshot(o trust.Organization) map[string]any {
	return map[string]any{
		"name":      o.Name,
		"status":    string(o.Status),
		"is_active": o.IsActive,
	}
}
