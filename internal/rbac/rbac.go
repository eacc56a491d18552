// Package rbac holds the role hierarchy and the capability table used to
// resolve what a company member may do. It performs no I/O after loading.
package rbac

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Role is the name of a company-scoped role.
type Role string

const (
	RoleViewer     Role = "viewer"
	RoleAccountant Role = "accountant"
	RoleAdmin      Role = "admin"
	RoleOwner      Role = "owner"

	// RoleDemo marks the synthetic demo context. It has no rank.
	RoleDemo Role = "demo"
)

var (
	ErrUnknownRole  = errors.New("rbac: unknown role")
	ErrInvalidTable = errors.New("rbac: invalid capability table")
)

// rankedRoles lists the hierarchy from least to most privileged.
var rankedRoles = []Role{RoleViewer, RoleAccountant, RoleAdmin, RoleOwner}

var ranks = func() map[Role]int {
	m := make(map[Role]int, len(rankedRoles))
	for i, r := range rankedRoles {
		m[r] = i + 1
	}
	return m
}()

// Rank returns the position of the role in the hierarchy. Roles outside the
// hierarchy report ok=false.
func (r Role) Rank() (int, bool) {
	n, ok := ranks[r]
	return n, ok
}

// Ranked reports whether the role takes part in the hierarchy.
func (r Role) Ranked() bool {
	_, ok := ranks[r]
	return ok
}

func (r Role) String() string { return string(r) }

// ParseRole accepts one of the ranked role names, case-insensitively.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Ranked() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
	return r, nil
}

// Roles returns the ranked roles in ascending order.
func Roles() []Role {
	out := make([]Role, len(rankedRoles))
	copy(out, rankedRoles)
	return out
}

// AtLeast reports whether role ranks at or above required. Either side being
// unranked yields false.
func AtLeast(role, required Role) bool {
	have, ok := ranks[role]
	if !ok {
		return false
	}
	need, ok := ranks[required]
	if !ok {
		return false
	}
	return have >= need
}

// PermissionSet maps capability names to grants. Absent names are denied.
type PermissionSet map[string]bool

// Has reports whether the capability is granted.
func (p PermissionSet) Has(name string) bool {
	return p[name]
}

// Clone returns an independent copy.
func (p PermissionSet) Clone() PermissionSet {
	out := make(PermissionSet, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Granted returns the sorted names of granted capabilities.
func (p PermissionSet) Granted() []string {
	out := make([]string, 0, len(p))
	for k, v := range p {
		if v {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Merge overlays overrides on defaults. An override always wins, including an
// explicit false.
func Merge(defaults, overrides PermissionSet) PermissionSet {
	out := defaults.Clone()
	for k, v := range overrides {
		out[k] = v
	}
	return out
}
