package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const maxTenantIDLen = 128

// TenantResolver decides whether a user may act on a company.
type TenantResolver struct {
	store TenantStore
}

// NewTenantResolver constructs a resolver over the given store.
func NewTenantResolver(store TenantStore) *TenantResolver {
	return &TenantResolver{store: store}
}

// NormalizeTenantID trims the id and rejects blank or malformed values.
func NormalizeTenantID(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", ErrTenantIDMissing
	}
	if len(id) > maxTenantIDLen {
		return "", fmt.Errorf("%w: too long", ErrTenantIDInvalid)
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return "", fmt.Errorf("%w: unexpected character %q", ErrTenantIDInvalid, r)
		}
	}
	return id, nil
}

// Resolve returns the user's active grant and the company it points at. The
// grant is checked first so that ErrTenantNotFound only reaches callers who
// hold a grant.
func (r *TenantResolver) Resolve(ctx context.Context, userID, companyID string) (Grant, Company, error) {
	id, err := NormalizeTenantID(companyID)
	if err != nil {
		return Grant{}, Company{}, err
	}

	grant, err := r.store.ActiveGrant(ctx, userID, id)
	switch {
	case errors.Is(err, ErrNotFound):
		return Grant{}, Company{}, ErrAccessDenied
	case err != nil:
		return Grant{}, Company{}, fmt.Errorf("load grant: %w", err)
	case !grant.Active():
		return Grant{}, Company{}, ErrAccessDenied
	}

	company, err := r.store.Company(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		return Grant{}, Company{}, ErrTenantNotFound
	case err != nil:
		return Grant{}, Company{}, fmt.Errorf("load company: %w", err)
	case !company.Active():
		return Grant{}, Company{}, ErrTenantNotFound
	}
	return grant, company, nil
}

// Memberships lists the companies a user can currently act on.
func (r *TenantResolver) Memberships(ctx context.Context, userID string) ([]Membership, error) {
	ms, err := r.store.Memberships(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	return ms, nil
}

// Members lists the active members of a company.
func (r *TenantResolver) Members(ctx context.Context, companyID string) ([]Member, error) {
	ms, err := r.store.Members(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return ms, nil
}

// DemoCompany loads the designated demo company. When id is set it must name
// an active company flagged is_demo.
func (r *TenantResolver) DemoCompany(ctx context.Context, id string) (Company, error) {
	if strings.TrimSpace(id) == "" {
		c, err := r.store.DemoCompany(ctx)
		if err != nil {
			return Company{}, fmt.Errorf("load demo company: %w", err)
		}
		return c, nil
	}
	c, err := r.store.Company(ctx, strings.TrimSpace(id))
	if err != nil {
		return Company{}, fmt.Errorf("load demo company %s: %w", id, err)
	}
	if !c.IsDemo || !c.Active() {
		return Company{}, fmt.Errorf("company %s is not an active demo company", id)
	}
	return c, nil
}
