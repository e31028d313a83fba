package permission

import (
	"strings"
)

// Metadata is the role hint attached to a credential. Only the fields the
// resolver understands are kept.
type Metadata struct {
	Role         string
	IsSuperAdmin bool
}

// MetadataFromMap extracts a hint from free-form credential metadata.
// Values of unexpected types are ignored.
func MetadataFromMap(m map[string]any) Metadata {
	var md Metadata
	if m == nil {
		return md
	}
	if role, ok := m["role"].(string); ok {
		md.Role = strings.TrimSpace(role)
	}
	for _, key := range []string{"is_super_admin", "isSuperAdmin"} {
		switch v := m[key].(type) {
		case bool:
			md.IsSuperAdmin = md.IsSuperAdmin || v
		case string:
			md.IsSuperAdmin = md.IsSuperAdmin || strings.EqualFold(v, "true")
		}
	}
	return md
}

// Match is a strategy's verdict.
type Match struct {
	Role      Role
	IsDefault bool
}

// Strategy inspects a principal and optionally claims it.
type Strategy interface {
	Name() string
	Resolve(c *Catalog, email string, md Metadata) (Match, bool)
}

// DefaultAdminEmail claims the reserved administrator address.
type DefaultAdminEmail struct {
	Email string
}

func (DefaultAdminEmail) Name() string { return "default_admin_email" }

func (s DefaultAdminEmail) Resolve(c *Catalog, email string, _ Metadata) (Match, bool) {
	if s.Email == "" || normalizeEmail(email) != normalizeEmail(s.Email) {
		return Match{}, false
	}
	return Match{Role: c.Top(), IsDefault: true}, true
}

// MetadataRole claims principals whose metadata names a catalog role.
type MetadataRole struct{}

func (MetadataRole) Name() string { return "metadata_role" }

func (MetadataRole) Resolve(c *Catalog, _ string, md Metadata) (Match, bool) {
	if md.Role == "" {
		return Match{}, false
	}
	role, ok := c.Lookup(md.Role)
	if !ok {
		return Match{}, false
	}
	return Match{Role: role}, true
}

// SuperAdminFlag claims principals flagged as super administrators.
type SuperAdminFlag struct{}

func (SuperAdminFlag) Name() string { return "super_admin_flag" }

func (SuperAdminFlag) Resolve(c *Catalog, _ string, md Metadata) (Match, bool) {
	if !md.IsSuperAdmin {
		return Match{}, false
	}
	return Match{Role: c.Top()}, true
}

// Engine resolves roles by running strategies in order; the first match wins.
// Unclaimed principals get the second-highest role of the catalog.
//
// Engine holds no mutable state and is safe for concurrent use.
type Engine struct {
	catalog    *Catalog
	strategies []Strategy
}

// NewEngine builds an engine over catalog with the standard strategy order:
// reserved admin email, metadata role, super-admin flag.
func NewEngine(catalog *Catalog, defaultAdminEmail string) *Engine {
	return NewEngineWithStrategies(catalog,
		DefaultAdminEmail{Email: defaultAdminEmail},
		MetadataRole{},
		SuperAdminFlag{},
	)
}

// NewEngineWithStrategies builds an engine with an explicit strategy list.
func NewEngineWithStrategies(catalog *Catalog, strategies ...Strategy) *Engine {
	return &Engine{catalog: catalog, strategies: append([]Strategy(nil), strategies...)}
}

// Catalog returns the engine's role catalog.
func (e *Engine) Catalog() *Catalog { return e.catalog }

// ResolveRole returns the principal's role and whether it was granted as the
// reserved default administrator.
func (e *Engine) ResolveRole(email string, md Metadata) (Role, bool) {
	for _, s := range e.strategies {
		if m, ok := s.Resolve(e.catalog, email, md); ok {
			return m.Role, m.IsDefault
		}
	}
	return e.fallback(), false
}

// HasPermission reports whether the resolved role grants key.
func (e *Engine) HasPermission(email, key string, md Metadata) bool {
	role, _ := e.ResolveRole(email, md)
	return role.Allows(key)
}

// TODO: fallback is permissive (mid-privilege role); switch to deny-by-default once product signs off.
// Accounts provisioned with the default "student" role carry no catalog role
// and land here, so they resolve to the second-highest role. Account creation
// only lets manageAdmins holders hand out catalog roles.
func (e *Engine) fallback() Role {
	if r, ok := e.catalog.ByRank(1); ok {
		return r
	}
	return e.catalog.Top()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
