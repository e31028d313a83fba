package httpapi

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"edupanel.org/internal/apperr"
	"edupanel.org/internal/audit"
	"edupanel.org/internal/permission"
)

func (a *API) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.requirePermission(w, r, permission.ViewAuditLogs) {
		return
	}
	q := r.URL.Query()
	f, err := auditFilter(q)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	page, err := parsePositiveInt(q.Get("page"), 1, 1, 1<<20)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid page")
		return
	}
	limit, err := parsePositiveInt(q.Get("limit"), 0, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid limit")
		return
	}
	out, err := a.audit.Query(r.Context(), f, page, limit)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleAuditExport renders the filtered log as CSV. The export itself is
// audited once the body has been produced.
func (a *API) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.requirePermission(w, r, permission.ExportData) {
		return
	}
	f, err := auditFilter(r.URL.Query())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	var buf bytes.Buffer
	n, err := a.audit.ExportCSV(r.Context(), f, &buf)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = a.audit.Append(r.Context(), audit.Entry{
		Action:       "audit_exported",
		ActionType:   audit.ActionExport,
		ResourceType: audit.ResourceAuditLog,
		Severity:     audit.SeverityMedium,
		Status:       audit.StatusSuccess,
		Details:      map[string]any{"rows": n, "filter": r.URL.RawQuery},
	})

	name := fmt.Sprintf("audit-logs-%s.csv", time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (a *API) handleAuditStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.requirePermission(w, r, permission.ViewAuditLogs) {
		return
	}
	s, err := a.audit.Stats(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func auditFilter(q url.Values) (audit.Filter, error) {
	f := audit.Filter{
		Search:     q.Get("search"),
		ActionType: audit.ActionType(q.Get("action_type")),
		ActorRole:  q.Get("actor_role"),
		Severity:   audit.Severity(q.Get("severity")),
		Status:     audit.Status(q.Get("status")),
	}
	if raw := q.Get("from"); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			return audit.Filter{}, apperr.Invalid("from", "expected RFC 3339 timestamp or YYYY-MM-DD")
		}
		f.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			return audit.Filter{}, apperr.Invalid("to", "expected RFC 3339 timestamp or YYYY-MM-DD")
		}
		// a plain date covers the whole day
		if len(raw) == len("2006-01-02") {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		f.To = t
	}
	if err := f.Validate(); err != nil {
		return audit.Filter{}, err
	}
	return f, nil
}
