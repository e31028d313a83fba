package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"edupanel.org/internal/account"
	"edupanel.org/internal/grant"
	"edupanel.org/internal/obs"
	"edupanel.org/internal/permission"
)

type createAccountRequest struct {
	account.CreateInput
	Sections []string `json:"sections"`
}

type updateAccountRequest struct {
	account.Patch
	Sections *[]string `json:"sections"`
}

type statusRequest struct {
	Status account.Status `json:"status"`
}

type sectionsRequest struct {
	SectionIDs []string `json:"section_ids"`
}

type accountResponse struct {
	Account  account.Account `json:"account"`
	Sections []string        `json:"sections,omitempty"`
}

func (a *API) handleAccountsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listAccounts(w, r)
	case http.MethodPost:
		a.createAccount(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleAccountResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/accounts/"), "/")
	parts := strings.Split(rest, "/")
	if rest == "" || len(parts) > 2 {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	id := parts[0]
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			a.getAccount(w, r, id)
		case http.MethodPatch:
			a.updateAccount(w, r, id)
		case http.MethodDelete:
			a.deleteAccount(w, r, id)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
		}
		return
	}
	switch parts[1] {
	case "status":
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		a.setStatus(w, r, id)
	case "sections":
		switch r.Method {
		case http.MethodGet:
			a.getSections(w, r, id)
		case http.MethodPut:
			a.replaceSections(w, r, id)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
		}
	default:
		writeError(w, r, http.StatusNotFound, "not found")
	}
}

func (a *API) listAccounts(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, permission.ManageStudents) {
		return
	}
	q := r.URL.Query()
	limit, err := parsePositiveInt(q.Get("limit"), 0, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid limit")
		return
	}
	f := account.ListFilter{Status: account.Status(q.Get("status")), Limit: limit}
	if raw := q.Get("enrolled_since"); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid enrolled_since")
			return
		}
		f.EnrolledSince = t
	}
	out, err := a.accounts.List(r.Context(), f)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if out == nil {
		out = []account.Account{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": out})
}

// createAccount provisions the account and, when sections are named, grants
// them. A failed grant removes the freshly created account again so the
// caller sees a single outcome.
func (a *API) createAccount(w http.ResponseWriter, r *http.Request) {
	if !a.requirePermission(w, r, permission.ManageStudents) {
		return
	}
	var req createAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if !a.authorizeRoleGrant(w, r, req.Role) {
		return
	}
	acc, _, err := a.accounts.Create(r.Context(), req.CreateInput)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	var titles []string
	if len(req.Sections) > 0 {
		if _, err := a.grants.Assign(r.Context(), acc.ID, req.Sections); err != nil {
			a.rollbackCreate(r.Context(), acc.ID, err)
			handleDomainError(w, r, err)
			return
		}
		if titles, err = a.grants.Query(r.Context(), acc.ID); err != nil {
			handleDomainError(w, r, err)
			return
		}
	}
	w.Header().Set("Location", "/v1/accounts/"+acc.ID)
	writeJSON(w, http.StatusCreated, accountResponse{Account: acc, Sections: titles})
}

func (a *API) rollbackCreate(ctx context.Context, accountID string, cause error) {
	l := obs.Logger().With().
		Str("event", "create_rolled_back").
		Str("account_id", accountID).
		Str("request_id", RequestIDFromContext(ctx)).
		AnErr("cause", cause).
		Logger()
	if _, _, err := a.accounts.Delete(ctx, accountID); err != nil {
		l.Error().Err(err).Msg("account left behind after failed section grant")
		return
	}
	l.Warn().Msg("account removed after failed section grant")
}

func (a *API) getAccount(w http.ResponseWriter, r *http.Request, id string) {
	if !a.requirePermission(w, r, permission.ManageStudents) {
		return
	}
	acc, err := a.accounts.Get(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	titles, err := a.grants.Query(r.Context(), acc.ID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{Account: acc, Sections: titles})
}

func (a *API) updateAccount(w http.ResponseWriter, r *http.Request, id string) {
	if !a.requirePermission(w, r, permission.ManageStudents) {
		return
	}
	var req updateAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var (
		acc account.Account
		err error
	)
	if req.Sections == nil || !req.Patch.IsEmpty() {
		acc, _, err = a.accounts.Update(r.Context(), id, req.Patch)
	} else {
		acc, err = a.accounts.Get(r.Context(), id)
	}
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if req.Sections != nil {
		if _, err := a.grants.Replace(r.Context(), acc.ID, *req.Sections); err != nil {
			handleDomainError(w, r, err)
			return
		}
	}
	titles, err := a.grants.Query(r.Context(), acc.ID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{Account: acc, Sections: titles})
}

func (a *API) setStatus(w http.ResponseWriter, r *http.Request, id string) {
	if !a.requirePermission(w, r, permission.ManageStudents) {
		return
	}
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	acc, _, err := a.accounts.SetStatus(r.Context(), id, req.Status)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{Account: acc})
}

func (a *API) deleteAccount(w http.ResponseWriter, r *http.Request, id string) {
	if !a.requirePermission(w, r, permission.ManageStudents) {
		return
	}
	if _, _, err := a.accounts.Delete(r.Context(), id); err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) getSections(w http.ResponseWriter, r *http.Request, id string) {
	if !a.requirePermission(w, r, permission.ManageStudents) {
		return
	}
	titles, err := a.grants.Query(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if titles == nil {
		titles = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"account_id": id, "sections": titles})
}

func (a *API) replaceSections(w http.ResponseWriter, r *http.Request, id string) {
	if !a.requirePermission(w, r, permission.ManageSections) {
		return
	}
	var req sectionsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := a.grants.Replace(r.Context(), id, req.SectionIDs); err != nil {
		handleDomainError(w, r, err)
		return
	}
	titles, err := a.grants.Query(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if titles == nil {
		titles = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"account_id": id, "sections": titles})
}

func (a *API) handleSections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	out, err := a.grants.Sections(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if out == nil {
		out = []grant.Section{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sections": out})
}

// parseTime accepts RFC 3339 timestamps and plain dates (UTC midnight).
func parseTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02", raw)
}
