package permission

import (
	"sync"
	"testing"
)

const adminEmail = "admin@edupanel.org"

func TestCatalogRolesCarryFullKeySet(t *testing.T) {
	c := DefaultCatalog()
	for _, r := range c.Roles() {
		if len(r.Permissions) != len(Keys) {
			t.Fatalf("role %s has %d keys, want %d", r.ID, len(r.Permissions), len(Keys))
		}
		for _, k := range Keys {
			if _, ok := r.Permissions[k]; !ok {
				t.Fatalf("role %s omits %s", r.ID, k)
			}
		}
	}
}

func TestNewCatalogRejectsIncompleteRole(t *testing.T) {
	_, err := NewCatalog([]string{"a", "b"},
		Role{ID: "full", Permissions: map[string]bool{"a": true, "b": true}, Level: 10},
		Role{ID: "partial", Permissions: map[string]bool{"a": true}, Level: 5},
	)
	if err == nil {
		t.Fatalf("expected error for role missing a key")
	}
	_, err = NewCatalog([]string{"a"},
		Role{ID: "x", Permissions: map[string]bool{"a": true}},
		Role{ID: "x", Permissions: map[string]bool{"a": false}},
	)
	if err == nil {
		t.Fatalf("expected error for duplicate role id")
	}
}

func TestCatalogRoleIDs(t *testing.T) {
	ids := DefaultCatalog().RoleIDs()
	if len(ids) != 3 || ids[0] != RoleSuperAdmin || ids[1] != RoleAdmin || ids[2] != RoleStudentAdvisor {
		t.Fatalf("RoleIDs = %v", ids)
	}
}

func TestCatalogIsImmutable(t *testing.T) {
	c := DefaultCatalog()
	roles := c.Roles()
	roles[0].Permissions[ManageSettings] = false
	if top := c.Top(); !top.Allows(ManageSettings) {
		t.Fatalf("catalog mutated through returned copy")
	}
}

func TestResolveRole(t *testing.T) {
	e := NewEngine(DefaultCatalog(), adminEmail)
	cases := []struct {
		name        string
		email       string
		md          Metadata
		wantRole    string
		wantDefault bool
	}{
		{"default admin ignores metadata", adminEmail, Metadata{Role: RoleStudentAdvisor}, RoleSuperAdmin, true},
		{"default admin case-insensitive", "  ADMIN@edupanel.org ", Metadata{}, RoleSuperAdmin, true},
		{"metadata role", "advisor@school.test", Metadata{Role: RoleStudentAdvisor}, RoleStudentAdvisor, false},
		{"metadata role beats flag", "a@school.test", Metadata{Role: RoleAdmin, IsSuperAdmin: true}, RoleAdmin, false},
		{"super admin flag", "boss@school.test", Metadata{IsSuperAdmin: true}, RoleSuperAdmin, false},
		{"unknown role falls back", "x@school.test", Metadata{Role: "unknown_id"}, RoleAdmin, false},
		{"no metadata falls back", "y@school.test", Metadata{}, RoleAdmin, false},
		{"provisioned student falls back", "pupil@school.test", MetadataFromMap(map[string]any{"role": "student"}), RoleAdmin, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			role, isDefault := e.ResolveRole(tc.email, tc.md)
			if role.ID != tc.wantRole || isDefault != tc.wantDefault {
				t.Fatalf("ResolveRole = (%s, %v), want (%s, %v)", role.ID, isDefault, tc.wantRole, tc.wantDefault)
			}
		})
	}
}

func TestHasPermissionScenario(t *testing.T) {
	e := NewEngine(DefaultCatalog(), adminEmail)
	levels := []int{}
	for _, r := range e.Catalog().Roles() {
		levels = append(levels, r.Level)
	}
	if len(levels) != 3 || levels[0] != 100 || levels[1] != 80 || levels[2] != 60 {
		t.Fatalf("unexpected catalog levels: %v", levels)
	}
	if !e.HasPermission(adminEmail, ManageSettings, Metadata{}) {
		t.Fatalf("default admin must manage settings")
	}
	advisor := Metadata{Role: RoleStudentAdvisor}
	if e.HasPermission("advisor@school.test", ManageSettings, advisor) {
		t.Fatalf("student advisor must not manage settings")
	}
	if !e.HasPermission("advisor@school.test", ManageStudents, advisor) {
		t.Fatalf("student advisor must manage students")
	}
	if e.HasPermission(adminEmail, "noSuchPermission", Metadata{}) {
		t.Fatalf("unknown permission granted")
	}
}

func TestMetadataFromMap(t *testing.T) {
	md := MetadataFromMap(map[string]any{"role": " admin ", "isSuperAdmin": "TRUE"})
	if md.Role != "admin" || !md.IsSuperAdmin {
		t.Fatalf("unexpected metadata: %+v", md)
	}
	md = MetadataFromMap(map[string]any{"role": 42, "is_super_admin": 1})
	if md.Role != "" || md.IsSuperAdmin {
		t.Fatalf("unexpected types were not ignored: %+v", md)
	}
	if md := MetadataFromMap(nil); md != (Metadata{}) {
		t.Fatalf("nil map produced %+v", md)
	}
}

type denyAll struct{}

func (denyAll) Name() string { return "deny_all" }

func (denyAll) Resolve(c *Catalog, _ string, _ Metadata) (Match, bool) {
	r, _ := c.ByRank(len(c.Roles()) - 1)
	return Match{Role: r}, true
}

func TestCustomStrategyOrder(t *testing.T) {
	e := NewEngineWithStrategies(DefaultCatalog(), denyAll{}, DefaultAdminEmail{Email: adminEmail})
	role, isDefault := e.ResolveRole(adminEmail, Metadata{})
	if role.ID != RoleStudentAdvisor || isDefault {
		t.Fatalf("first strategy must win, got %s", role.ID)
	}
}

func TestEngineConcurrentUse(t *testing.T) {
	e := NewEngine(DefaultCatalog(), adminEmail)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if !e.HasPermission(adminEmail, ManageSettings, Metadata{}) {
					t.Error("permission flipped under concurrency")
					return
				}
			}
		}()
	}
	wg.Wait()
}
