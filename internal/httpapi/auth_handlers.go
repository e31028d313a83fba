package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"edupanel.org/internal/apperr"
	"edupanel.org/internal/audit"
	"edupanel.org/internal/credential"
	"edupanel.org/internal/permission"
)

type tokenRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string          `json:"access_token"`
	TokenType   string          `json:"token_type"`
	ExpiresAt   time.Time       `json:"expires_at"`
	Role        permission.Role `json:"role"`
	IsDefault   bool            `json:"is_default_admin"`
}

// handleToken signs a caller in. Both outcomes are audited; a failed attempt
// is recorded under the email that was tried.
func (a *API) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	session, err := a.creds.SignIn(r.Context(), email, req.Password)
	if err != nil {
		if errors.Is(err, credential.ErrInvalidCredentials) {
			_ = a.audit.Append(r.Context(), audit.Entry{
				ActorID:      "anonymous",
				ActorName:    email,
				ActorRole:    "anonymous",
				Action:       "login",
				ActionType:   audit.ActionLogin,
				ResourceType: audit.ResourceSession,
				Severity:     audit.SeverityMedium,
				Status:       audit.StatusFailed,
				Details:      map[string]any{"email": email},
			})
			writeError(w, r, http.StatusUnauthorized, "invalid email or password")
			return
		}
		if errors.Is(err, apperr.ErrUnsupported) {
			writeError(w, r, http.StatusNotImplemented, "sign-in is not available")
			return
		}
		handleDomainError(w, r, &apperr.StoreError{Store: apperr.StoreCredential, Op: "sign in", Err: err})
		return
	}

	role, isDefault := a.engine.ResolveRole(session.Entity.Email, permission.MetadataFromMap(session.Entity.Metadata))
	name, _ := session.Entity.Metadata["full_name"].(string)
	if name == "" {
		name = session.Entity.Email
	}
	_ = a.audit.Append(r.Context(), audit.Entry{
		ActorID:      session.Entity.ID,
		ActorName:    name,
		ActorRole:    role.ID,
		Action:       "login",
		ActionType:   audit.ActionLogin,
		ResourceType: audit.ResourceSession,
		ResourceID:   session.Entity.ID,
		Severity:     audit.SeverityLow,
		Status:       audit.StatusSuccess,
		Details:      map[string]any{"email": session.Entity.Email, "default_admin": isDefault},
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: session.AccessToken,
		TokenType:   "Bearer",
		ExpiresAt:   session.ExpiresAt,
		Role:        role,
		IsDefault:   isDefault,
	})
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	catalog := a.engine.Catalog()
	writeJSON(w, http.StatusOK, map[string]any{
		"roles":       catalog.Roles(),
		"permissions": catalog.PermissionKeys(),
	})
}

// handleMe reports the caller's resolved role.
func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := credential.PrincipalFromContext(r.Context())
	role, roleOK := roleFromContext(r.Context())
	if !ok || !roleOK {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":    principal.ID,
		"email": principal.Email,
		"name":  principal.Name,
		"role":  role,
	})
}
