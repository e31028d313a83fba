// Package permission resolves an authenticated principal to a role from a
// fixed catalog and answers permission checks against it.
package permission

import (
	"errors"
	"fmt"
	"sort"
)

// Permission keys. Every role in a catalog carries all of them.
const (
	ManageStudents = "manageStudents"
	ManageContent  = "manageContent"
	ManageSections = "manageSections"
	ViewAnalytics  = "viewAnalytics"
	ViewAuditLogs  = "viewAuditLogs"
	ExportData     = "exportData"
	ManageAdmins   = "manageAdmins"
	ManageSettings = "manageSettings"
)

// Keys is the permission universe in display order.
var Keys = []string{
	ManageStudents,
	ManageContent,
	ManageSections,
	ViewAnalytics,
	ViewAuditLogs,
	ExportData,
	ManageAdmins,
	ManageSettings,
}

// Role ids of the default catalog.
const (
	RoleSuperAdmin     = "super_admin"
	RoleAdmin          = "admin"
	RoleStudentAdvisor = "student_advisor"
)

// Role is a named permission set with a privilege level.
type Role struct {
	ID            string          `json:"id"`
	DisplayName   string          `json:"display_name"`
	LocalizedName string          `json:"localized_name"`
	Permissions   map[string]bool `json:"permissions"`
	Level         int             `json:"level"`
}

// Allows reports whether the role grants key. Unknown keys are denied.
func (r Role) Allows(key string) bool {
	return r.Permissions[key]
}

func (r Role) clone() Role {
	perms := make(map[string]bool, len(r.Permissions))
	for k, v := range r.Permissions {
		perms[k] = v
	}
	r.Permissions = perms
	return r
}

// Catalog is an immutable, ordered set of roles. Construct it once at startup
// and share it; accessors hand out copies.
type Catalog struct {
	roles []Role
	byID  map[string]int
	keys  []string
}

// NewCatalog validates roles against the permission universe keys and returns
// the catalog. Roles keep the given order.
func NewCatalog(keys []string, roles ...Role) (*Catalog, error) {
	if len(keys) == 0 {
		return nil, errors.New("permission: empty permission universe")
	}
	if len(roles) == 0 {
		return nil, errors.New("permission: catalog needs at least one role")
	}
	universe := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		universe[k] = struct{}{}
	}
	c := &Catalog{
		roles: make([]Role, 0, len(roles)),
		byID:  make(map[string]int, len(roles)),
		keys:  append([]string(nil), keys...),
	}
	for _, r := range roles {
		if r.ID == "" {
			return nil, errors.New("permission: role id is required")
		}
		if _, dup := c.byID[r.ID]; dup {
			return nil, fmt.Errorf("permission: duplicate role %q", r.ID)
		}
		if len(r.Permissions) != len(universe) {
			return nil, fmt.Errorf("permission: role %q defines %d permissions, want %d", r.ID, len(r.Permissions), len(universe))
		}
		for k := range r.Permissions {
			if _, ok := universe[k]; !ok {
				return nil, fmt.Errorf("permission: role %q defines unknown permission %q", r.ID, k)
			}
		}
		c.byID[r.ID] = len(c.roles)
		c.roles = append(c.roles, r.clone())
	}
	return c, nil
}

// Roles returns the catalog in its construction order.
func (c *Catalog) Roles() []Role {
	out := make([]Role, len(c.roles))
	for i, r := range c.roles {
		out[i] = r.clone()
	}
	return out
}

// RoleIDs returns the role ids in construction order.
func (c *Catalog) RoleIDs() []string {
	out := make([]string, len(c.roles))
	for i, r := range c.roles {
		out[i] = r.ID
	}
	return out
}

// PermissionKeys returns the permission universe.
func (c *Catalog) PermissionKeys() []string {
	return append([]string(nil), c.keys...)
}

// Lookup returns the role with the given id.
func (c *Catalog) Lookup(id string) (Role, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Role{}, false
	}
	return c.roles[i].clone(), true
}

// ByRank returns the role at rank n when ordered by level, highest first
// (rank 0 is the top-level role). Equal levels keep catalog order.
func (c *Catalog) ByRank(n int) (Role, bool) {
	if n < 0 || n >= len(c.roles) {
		return Role{}, false
	}
	idx := make([]int, len(c.roles))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return c.roles[idx[a]].Level > c.roles[idx[b]].Level
	})
	return c.roles[idx[n]].clone(), true
}

// Top returns the highest-level role.
func (c *Catalog) Top() Role {
	r, _ := c.ByRank(0)
	return r
}

func grantAll(except ...string) map[string]bool {
	perms := make(map[string]bool, len(Keys))
	for _, k := range Keys {
		perms[k] = true
	}
	for _, k := range except {
		perms[k] = false
	}
	return perms
}

// DefaultCatalog returns the platform's built-in roles.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(Keys,
		Role{
			ID:            RoleSuperAdmin,
			DisplayName:   "Super Admin",
			LocalizedName: "مدير عام",
			Permissions:   grantAll(),
			Level:         100,
		},
		Role{
			ID:            RoleAdmin,
			DisplayName:   "Admin",
			LocalizedName: "مدير",
			Permissions:   grantAll(ManageAdmins),
			Level:         80,
		},
		Role{
			ID:            RoleStudentAdvisor,
			DisplayName:   "Student Advisor",
			LocalizedName: "مرشد طلابي",
			Permissions:   grantAll(ManageAdmins, ManageSettings, ManageContent, ExportData),
			Level:         60,
		},
	)
	if err != nil {
		panic(err)
	}
	return c
}
