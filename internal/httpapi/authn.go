package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"edupanel.org/internal/audit"
	"edupanel.org/internal/credential"
	"edupanel.org/internal/permission"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/token",
	"/v1/info",
	"/metrics",
	"/healthz",
	"/readyz",
}

type roleKey struct{}

// withAuth verifies the bearer token, resolves the caller's role once and
// attaches principal, role and audit actor to the request context.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := a.tokens.Parse(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}

		principal := credential.PrincipalFromClaims(claims)
		role, _ := a.engine.ResolveRole(principal.Email, permission.MetadataFromMap(principal.Metadata))
		name := principal.Name
		if name == "" {
			name = principal.Email
		}

		ctx := credential.ContextWithPrincipal(r.Context(), principal)
		ctx = context.WithValue(ctx, roleKey{}, role)
		ctx = audit.WithActor(ctx, audit.Actor{ID: principal.ID, Name: name, Role: role.ID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func roleFromContext(ctx context.Context) (permission.Role, bool) {
	role, ok := ctx.Value(roleKey{}).(permission.Role)
	return role, ok
}

// requirePermission writes 403 and returns false when the caller's role does
// not grant key.
func (a *API) requirePermission(w http.ResponseWriter, r *http.Request, key string) bool {
	role, ok := roleFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return false
	}
	if !role.Allows(key) {
		writeError(w, r, http.StatusForbidden, "permission denied: "+key)
		return false
	}
	return true
}

// authorizeRoleGrant checks that the caller may hand out the requested role.
// Catalog roles need manageAdmins and may not outrank the caller. Other
// values are left to account validation.
func (a *API) authorizeRoleGrant(w http.ResponseWriter, r *http.Request, requested string) bool {
	target, ok := a.engine.Catalog().Lookup(strings.TrimSpace(requested))
	if !ok {
		return true
	}
	caller, ok := roleFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return false
	}
	if !caller.Allows(permission.ManageAdmins) {
		writeError(w, r, http.StatusForbidden, "permission denied: "+permission.ManageAdmins)
		return false
	}
	if target.Level > caller.Level {
		writeError(w, r, http.StatusForbidden, "permission denied: role "+target.ID+" outranks caller")
		return false
	}
	return true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
