package permission

import (
	"errors"
	"slices"
	"testing"
)

func TestParseGrain(t *testing.T) {
	g, err := Parse("user.manage_roles")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if g.Resource != "user" || g.Action != "manage_roles" || g.String() != "user.manage_roles" {
		t.Fatalf("unexpected grain %+v", g)
	}

	for _, bad := range []string{"", "user", ".read", "user.", "User.read", "user.read all"} {
		if _, err := Parse(bad); !errors.Is(err, ErrInvalidGrain) {
			t.Fatalf("Parse(%q) err = %v, want ErrInvalidGrain", bad, err)
		}
	}
}

func TestSetHasAllFailsClosedOnEmptyRequirement(t *testing.T) {
	s := NewSet("a.read", "b.write")
	if s.HasAll() {
		t.Fatal("expected empty requirement list to be denied")
	}
	if !s.HasAll("a.read", "b.write") {
		t.Fatal("expected full requirement to pass")
	}
	if s.HasAll("a.read", "c.delete") {
		t.Fatal("expected partial requirement to fail")
	}
	if got := s.Missing("a.read", "c.delete"); !slices.Equal(got, []string{"c.delete"}) {
		t.Fatalf("Missing = %v", got)
	}
}

func TestSetUnionAndSorted(t *testing.T) {
	s := NewSet("b.x")
	s.Union(NewSet("a.x", "b.x"))
	if got := s.Sorted(); !slices.Equal(got, []string{"a.x", "b.x"}) {
		t.Fatalf("Sorted = %v", got)
	}
}

func TestDefaultCatalog(t *testing.T) {
	c, err := DefaultCatalog()
	if err != nil {
		t.Fatalf("DefaultCatalog error: %v", err)
	}
	if len(c.Permissions) != 29 {
		t.Fatalf("permission count = %d, want 29", len(c.Permissions))
	}

	roles := map[string]RoleDef{}
	for _, r := range c.Roles {
		roles[r.Name] = r
	}
	for _, name := range []string{RoleUser, RoleVerifiedReporter, RoleModerator, RoleAnalyst, RoleAdmin, RoleSuperAdmin} {
		if _, ok := roles[name]; !ok {
			t.Fatalf("missing system role %q", name)
		}
	}
	if got := len(roles[RoleSuperAdmin].Permissions); got != len(c.Permissions) {
		t.Fatalf("super_admin has %d permissions, want all %d", got, len(c.Permissions))
	}
	if slices.Contains(roles[RoleAdmin].Permissions, "user.impersonate") {
		t.Fatal("admin must not hold user.impersonate")
	}
	if !slices.Contains(roles[RoleAdmin].Permissions, UserManageRoles) {
		t.Fatal("admin must hold user.manage_roles")
	}
}

func TestParseCatalogRejectsUnknownReference(t *testing.T) {
	data := []byte("permissions:\n  - {name: a.read}\nroles:\n  - name: r\n    permissions: [a.write]\n")
	if _, err := ParseCatalog(data); err == nil {
		t.Fatal("expected unknown permission reference to fail")
	}
}

func TestIsProtectedRole(t *testing.T) {
	if !IsProtectedRole(RoleAdmin) || !IsProtectedRole(RoleSuperAdmin) || IsProtectedRole(RoleModerator) {
		t.Fatal("unexpected protected-role classification")
	}
}
