package credential

import "context"

// Principal is the authenticated caller as seen by request handlers.
type Principal struct {
	ID       string
	Email    string
	Name     string
	Metadata map[string]any
}

type principalContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &p)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}

// PrincipalFromClaims builds a principal from verified token claims.
func PrincipalFromClaims(c *Claims) Principal {
	p := Principal{ID: c.Subject, Email: c.Email, Metadata: cloneMetadata(c.Metadata)}
	if name, ok := c.Metadata["full_name"].(string); ok {
		p.Name = name
	}
	return p
}
