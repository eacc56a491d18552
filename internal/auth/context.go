package auth

import (
	"context"
	"fmt"

	"github.com/siarheistar/psc-accounting-app-sub002/internal/rbac"
)

type contextKind uint8

const (
	kindAuthenticated contextKind = iota + 1
	kindDemo
)

// RequestContext is the outcome of authentication and tenant resolution. It is
// either a demo context, which carries no user, or an authenticated one.
type RequestContext struct {
	kind    contextKind
	user    User
	company Company
	role    rbac.Role
	perms   rbac.PermissionSet
}

// NewDemoContext builds the fixed demo context for the demo company.
func NewDemoContext(company Company, perms rbac.PermissionSet) RequestContext {
	return RequestContext{
		kind:    kindDemo,
		company: company,
		role:    rbac.RoleDemo,
		perms:   perms.Clone(),
	}
}

// NewAuthenticatedContext builds a context for a user acting on a company.
func NewAuthenticatedContext(user User, company Company, role rbac.Role, perms rbac.PermissionSet) RequestContext {
	return RequestContext{
		kind:    kindAuthenticated,
		user:    user,
		company: company,
		role:    role,
		perms:   perms.Clone(),
	}
}

func (c RequestContext) IsDemo() bool { return c.kind == kindDemo }

// Valid reports whether the context was built by one of the constructors.
func (c RequestContext) Valid() bool { return c.kind != 0 }

// User returns the resolved user; ok is false for demo contexts.
func (c RequestContext) User() (User, bool) {
	if c.kind != kindAuthenticated {
		return User{}, false
	}
	return c.user, true
}

func (c RequestContext) Company() Company { return c.company }

func (c RequestContext) Role() rbac.Role { return c.role }

// Permissions returns a copy of the merged permission set.
func (c RequestContext) Permissions() rbac.PermissionSet { return c.perms.Clone() }

// HasRole is always true in demo mode.
func (c RequestContext) HasRole(min rbac.Role) bool {
	if c.IsDemo() {
		return true
	}
	return c.kind == kindAuthenticated && rbac.AtLeast(c.role, min)
}

// HasPermission is always true in demo mode.
func (c RequestContext) HasPermission(name string) bool {
	if c.IsDemo() {
		return true
	}
	return c.kind == kindAuthenticated && c.perms.Has(name)
}

// RequireRole returns ErrInsufficientRole unless HasRole(min).
func (c RequestContext) RequireRole(min rbac.Role) error {
	if !c.HasRole(min) {
		return fmt.Errorf("%w: %s required, have %s", ErrInsufficientRole, min, c.role)
	}
	return nil
}

// RequirePermission returns ErrInsufficientPermission unless HasPermission(name).
func (c RequestContext) RequirePermission(name string) error {
	if !c.HasPermission(name) {
		return fmt.Errorf("%w: %s", ErrInsufficientPermission, name)
	}
	return nil
}

type requestContextKey struct{}
type userContextKey struct{}

// ContextWithRequestContext attaches the resolved request context.
func ContextWithRequestContext(ctx context.Context, rc RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, &rc)
}

// RequestContextFrom extracts the resolved request context.
func RequestContextFrom(ctx context.Context) (RequestContext, bool) {
	if ctx == nil {
		return RequestContext{}, false
	}
	v, ok := ctx.Value(requestContextKey{}).(*RequestContext)
	if !ok || v == nil || !v.Valid() {
		return RequestContext{}, false
	}
	return *v, true
}

// ContextWithUser attaches the authenticated user ahead of tenant resolution.
func ContextWithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, userContextKey{}, &u)
}

// UserFromContext returns the authenticated user if one was attached.
func UserFromContext(ctx context.Context) (User, bool) {
	if ctx == nil {
		return User{}, false
	}
	v, ok := ctx.Value(userContextKey{}).(*User)
	if !ok || v == nil {
		return User{}, false
	}
	return *v, true
}

// UserIDFromContext returns the id of the acting user. Demo requests have none.
func UserIDFromContext(ctx context.Context) (string, bool) {
	if rc, ok := RequestContextFrom(ctx); ok {
		if u, ok := rc.User(); ok {
			return u.ID, true
		}
		return "", false
	}
	if u, ok := UserFromContext(ctx); ok {
		return u.ID, true
	}
	return "", false
}
