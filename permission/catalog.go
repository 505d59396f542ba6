package permission

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Wildcard in a role's permission list expands to every catalogue permission.
const Wildcard = "*"

// PermissionDef is one catalogue permission.
type PermissionDef struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// RoleDef is one catalogue role. Catalogue roles are system roles.
type RoleDef struct {
	Name        string   `yaml:"name"`
	DisplayName string   `yaml:"display_name"`
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

// Catalog is the seed data for the role/permission graph.
type Catalog struct {
	Permissions []PermissionDef `yaml:"permissions"`
	Roles       []RoleDef       `yaml:"roles"`
}

// DefaultCatalog returns the embedded catalogue with wildcards expanded.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// ParseCatalog decodes YAML, validates every grain and role reference, and
// expands Wildcard entries.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("permission: decode catalog: %w", err)
	}

	known := make(Set, len(c.Permissions))
	all := make([]string, 0, len(c.Permissions))
	for _, p := range c.Permissions {
		if _, err := Parse(p.Name); err != nil {
			return nil, err
		}
		if known.Has(p.Name) {
			return nil, fmt.Errorf("permission: duplicate permission %q", p.Name)
		}
		known.Add(p.Name)
		all = append(all, p.Name)
	}

	seenRoles := make(map[string]bool, len(c.Roles))
	for i := range c.Roles {
		r := &c.Roles[i]
		if r.Name == "" || seenRoles[r.Name] {
			return nil, fmt.Errorf("permission: empty or duplicate role %q", r.Name)
		}
		seenRoles[r.Name] = true

		expanded := make([]string, 0, len(r.Permissions))
		for _, name := range r.Permissions {
			if name == Wildcard {
				expanded = append(expanded, all...)
				continue
			}
			if !known.Has(name) {
				return nil, fmt.Errorf("permission: role %q references unknown permission %q", r.Name, name)
			}
			expanded = append(expanded, name)
		}
		r.Permissions = NewSet(expanded...).Sorted()
	}
	return &c, nil
}
