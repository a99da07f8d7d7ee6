package orgs

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"trustcenter.dev/internal/obs"
	"trustcenter.dev/internal/trust"
)

// ErrPersonalDomain is returned when asked to resolve a consumer mail domain.
var ErrPersonalDomain = fmt.Errorf("%w: personal email domains have no organization", trust.ErrInvalidInput)

// Resolver finds or lazily creates the organization for a domain.
type Resolver struct {
	orgs trust.OrganizationStore
}

func NewResolver(orgs trust.OrganizationStore) *Resolver {
	return &Resolver{orgs: orgs}
}

// Resolve returns the organization owning domain, creating it with an empty
// approved set and unset status when absent. A concurrent create that wins
// the unique index is re-read instead of failing the caller.
func (r *Resolver) Resolve(ctx context.Context, domain, nameHint string) (trust.Organization, error) {
	if IsPersonalDomain(domain) {
		return trust.Organization{}, ErrPersonalDomain
	}
	org, err := r.orgs.FindByDomain(ctx, domain)
	if err == nil {
		return org, nil
	}
	if !errors.Is(err, trust.ErrNotFound) {
		return trust.Organization{}, err
	}

	org = trust.Organization{
		Name:                DisplayName(domain, nameHint),
		Domain:              domain,
		Status:              trust.OrgStatusUnset,
		IsActive:            true,
		ApprovedDocumentIDs: []string{},
	}
	if err := r.orgs.Create(ctx, &org); err != nil {
		if !errors.Is(err, trust.ErrConflict) {
			return trust.Organization{}, err
		}
		obs.Logger().Debug("organization_create_race", zap.String("domain", domain))
		return r.orgs.FindByDomain(ctx, domain)
	}
	return org, nil
}
