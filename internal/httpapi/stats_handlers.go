package httpapi

import (
	"net/http"

	"edupanel.org/internal/permission"
)

func (a *API) handleSignups(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.requirePermission(w, r, permission.ViewAnalytics) {
		return
	}
	buckets, err := a.stats.MonthlySignups(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"months": buckets})
}

func (a *API) handleActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.requirePermission(w, r, permission.ViewAnalytics) {
		return
	}
	n, err := parsePositiveInt(r.URL.Query().Get("limit"), 0, 1, 50)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid limit")
		return
	}
	items, err := a.stats.RecentActivity(r.Context(), n)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activity": items})
}
