package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"edupanel.org/internal/audit"
	"edupanel.org/internal/credential"
	"edupanel.org/internal/permission"
)

func authAPI(t *testing.T) (*API, *credential.TokenIssuer) {
	t.Helper()
	tokens, err := credential.NewTokenIssuer("authn-secret", time.Hour)
	if err != nil {
		t.Fatalf("token issuer: %v", err)
	}
	return &API{
		engine: permission.NewEngine(permission.DefaultCatalog(), testAdminEmail),
		tokens: tokens,
	}, tokens
}

func TestWithAuthAttachesPrincipalRoleAndActor(t *testing.T) {
	a, tokens := authAPI(t)
	session, err := tokens.Issue(credential.Entity{
		ID:       "cred-1",
		Email:    "advisor@school.test",
		Metadata: map[string]any{"role": permission.RoleStudentAdvisor, "full_name": "Sam Advisor"},
	})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	var (
		actor audit.Actor
		role  permission.Role
	)
	handler := a.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor = audit.ActorFromContext(r.Context())
		role, _ = roleFromContext(r.Context())
		if !a.requirePermission(w, r, permission.ViewAuditLogs) {
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/audit", nil)
	req.Header.Set(authHeader, "bearer "+session.AccessToken)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if actor.ID != "cred-1" || actor.Name != "Sam Advisor" || actor.Role != permission.RoleStudentAdvisor {
		t.Fatalf("unexpected actor: %+v", actor)
	}
	if role.ID != permission.RoleStudentAdvisor {
		t.Fatalf("unexpected role: %+v", role)
	}
}

func TestRequirePermissionRejectsMissingGrant(t *testing.T) {
	a, _ := authAPI(t)
	advisor, _ := a.engine.Catalog().Lookup(permission.RoleStudentAdvisor)

	req := httptest.NewRequest(http.MethodGet, "/v1/audit/export", nil)
	req = req.WithContext(context.WithValue(req.Context(), roleKey{}, advisor))
	rr := httptest.NewRecorder()
	if a.requirePermission(rr, req, permission.ExportData) {
		t.Fatal("advisor must not export")
	}
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestRequirePermissionRejectsMissingRole(t *testing.T) {
	a, _ := authAPI(t)
	rr := httptest.NewRecorder()
	if a.requirePermission(rr, httptest.NewRequest(http.MethodGet, "/v1/audit", nil), permission.ViewAuditLogs) {
		t.Fatal("anonymous request passed")
	}
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestWithAuthRejectsBadCredentials(t *testing.T) {
	a, _ := authAPI(t)
	other, _ := credential.NewTokenIssuer("someone-else", time.Hour)
	forged, err := other.Issue(credential.Entity{ID: "x", Email: testAdminEmail})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	handler := a.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	cases := map[string]string{
		"missing":      "",
		"wrong scheme": "Basic dXNlcjpwYXNz",
		"empty bearer": "Bearer ",
		"forged":       "Bearer " + forged.AccessToken,
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/accounts", nil)
			if header != "" {
				req.Header.Set(authHeader, header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rr.Code)
			}
		})
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("public path blocked: %d", rr.Code)
	}
}

func TestAuthorizeRoleGrant(t *testing.T) {
	perms := func(except ...string) map[string]bool {
		out := make(map[string]bool, len(permission.Keys))
		for _, k := range permission.Keys {
			out[k] = true
		}
		for _, k := range except {
			out[k] = false
		}
		return out
	}
	catalog, err := permission.NewCatalog(permission.Keys,
		permission.Role{ID: "owner", Permissions: perms(), Level: 100},
		permission.Role{ID: "registrar", Permissions: perms(), Level: 70},
		permission.Role{ID: "clerk", Permissions: perms(permission.ManageAdmins), Level: 50},
	)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	a := &API{engine: permission.NewEngine(catalog, testAdminEmail)}

	cases := []struct {
		caller, requested string
		want              int
	}{
		{"registrar", "owner", http.StatusForbidden},
		{"registrar", "registrar", http.StatusOK},
		{"registrar", "clerk", http.StatusOK},
		{"clerk", "clerk", http.StatusForbidden},
		{"clerk", "", http.StatusOK},
		{"clerk", "student", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.caller+"->"+tc.requested, func(t *testing.T) {
			role, _ := catalog.Lookup(tc.caller)
			req := httptest.NewRequest(http.MethodPost, "/v1/accounts", nil)
			req = req.WithContext(context.WithValue(req.Context(), roleKey{}, role))
			rr := httptest.NewRecorder()
			got := http.StatusOK
			if !a.authorizeRoleGrant(rr, req, tc.requested) {
				got = rr.Code
			}
			if got != tc.want {
				t.Fatalf("status = %d, want %d: %s", got, tc.want, rr.Body.String())
			}
		})
	}
}
