package rbac

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed permissions.yaml
var defaultTableYAML []byte

// Table is the static role → capability matrix.
type Table struct {
	capabilities []string
	known        map[string]struct{}
	roles        map[Role]PermissionSet
}

type tableFile struct {
	Capabilities []string                   `yaml:"capabilities"`
	Roles        map[string]map[string]bool `yaml:"roles"`
}

// Default returns the table compiled into the binary.
func Default() *Table {
	t, err := Parse(defaultTableYAML)
	if err != nil {
		panic(fmt.Sprintf("rbac: embedded table: %v", err))
	}
	return t
}

// Load reads a table from a YAML file.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read capability table: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML table. Every ranked role must be present
// and must define every catalogued capability, and nothing else.
func Parse(data []byte) (*Table, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}
	if len(f.Capabilities) == 0 {
		return nil, fmt.Errorf("%w: empty capability catalogue", ErrInvalidTable)
	}
	t := &Table{
		known: make(map[string]struct{}, len(f.Capabilities)),
		roles: make(map[Role]PermissionSet, len(rankedRoles)),
	}
	for _, c := range f.Capabilities {
		if c == "" {
			return nil, fmt.Errorf("%w: blank capability", ErrInvalidTable)
		}
		if _, dup := t.known[c]; dup {
			return nil, fmt.Errorf("%w: duplicate capability %q", ErrInvalidTable, c)
		}
		t.known[c] = struct{}{}
		t.capabilities = append(t.capabilities, c)
	}
	sort.Strings(t.capabilities)

	for name, grants := range f.Roles {
		role, err := ParseRole(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
		}
		set := make(PermissionSet, len(t.capabilities))
		for c, v := range grants {
			if _, ok := t.known[c]; !ok {
				return nil, fmt.Errorf("%w: role %s defines undeclared capability %q", ErrInvalidTable, role, c)
			}
			set[c] = v
		}
		for _, c := range t.capabilities {
			if _, ok := set[c]; !ok {
				return nil, fmt.Errorf("%w: role %s is missing capability %q", ErrInvalidTable, role, c)
			}
		}
		t.roles[role] = set
	}
	for _, r := range rankedRoles {
		if _, ok := t.roles[r]; !ok {
			return nil, fmt.Errorf("%w: role %s is not defined", ErrInvalidTable, r)
		}
	}
	return t, nil
}

// Capabilities returns the sorted capability catalogue.
func (t *Table) Capabilities() []string {
	out := make([]string, len(t.capabilities))
	copy(out, t.capabilities)
	return out
}

// Known reports whether name is in the catalogue.
func (t *Table) Known(name string) bool {
	_, ok := t.known[name]
	return ok
}

// PermissionsFor returns the defaults of a role. An unknown role gets every
// capability denied.
func (t *Table) PermissionsFor(role Role) PermissionSet {
	if set, ok := t.roles[role]; ok {
		return set.Clone()
	}
	return t.uniform(false)
}

// Resolve merges a grant's overrides onto the role defaults, dropping
// override keys outside the catalogue.
func (t *Table) Resolve(role Role, overrides map[string]bool) PermissionSet {
	filtered := make(PermissionSet, len(overrides))
	for k, v := range overrides {
		if t.Known(k) {
			filtered[k] = v
		}
	}
	return Merge(t.PermissionsFor(role), filtered)
}

// All returns a set granting every catalogued capability.
func (t *Table) All() PermissionSet {
	return t.uniform(true)
}

func (t *Table) uniform(v bool) PermissionSet {
	set := make(PermissionSet, len(t.capabilities))
	for _, c := range t.capabilities {
		set[c] = v
	}
	return set
}
