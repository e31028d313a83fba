package audit

import (
	"encoding/json"
	"strings"
	"time"

	"edupanel.org/internal/apperr"
)

// ActionType classifies an audit entry.
type ActionType string

const (
	ActionCreate ActionType = "create"
	ActionUpdate ActionType = "update"
	ActionDelete ActionType = "delete"
	ActionLogin  ActionType = "login"
	ActionLogout ActionType = "logout"
	ActionView   ActionType = "view"
	ActionExport ActionType = "export"
	ActionSystem ActionType = "system"
)

// Severity ranks an audit entry.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Status is the outcome recorded by an audit entry.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusPending Status = "pending"
)

// Resource types written by the services.
const (
	ResourceUser          = "user"
	ResourceSectionAccess = "section_access"
	ResourceAuditLog      = "audit_log"
	ResourceSession       = "session"
)

// Entry is one append-only record of an administrative action.
type Entry struct {
	ID           string         `json:"id"`
	ActorID      string         `json:"actor_id"`
	ActorName    string         `json:"actor_name"`
	ActorRole    string         `json:"actor_role"`
	Action       string         `json:"action"`
	ActionType   ActionType     `json:"action_type"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Details      map[string]any `json:"details"`
	Severity     Severity       `json:"severity"`
	Status       Status         `json:"status"`
	Timestamp    time.Time      `json:"timestamp"`
}

// DetailsJSON renders Details as a compact JSON document ("{}" when empty).
func (e Entry) DetailsJSON() string {
	if len(e.Details) == 0 {
		return "{}"
	}
	b, err := json.Marshal(e.Details)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Filter narrows audit queries. Zero values match everything; From and To
// are inclusive bounds.
type Filter struct {
	Search     string
	ActionType ActionType
	ActorRole  string
	Severity   Severity
	Status     Status
	From       time.Time
	To         time.Time
}

// Matches applies the filter to a single entry. Stores without a query
// language use it directly.
func (f Filter) Matches(e Entry) bool {
	if f.ActionType != "" && e.ActionType != f.ActionType {
		return false
	}
	if f.ActorRole != "" && e.ActorRole != f.ActorRole {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		haystack := strings.ToLower(strings.Join([]string{
			e.Action, e.ActorName, e.ResourceType, e.ResourceID, e.DetailsJSON(),
		}, "\x00"))
		if !strings.Contains(haystack, q) {
			return false
		}
	}
	return true
}

// Validate rejects unknown enum values and an inverted time range.
func (f Filter) Validate() error {
	switch {
	case f.ActionType != "" && !validActionType(f.ActionType):
		return apperr.Invalid("action_type", "unknown action type "+string(f.ActionType))
	case f.Severity != "" && !validSeverity(f.Severity):
		return apperr.Invalid("severity", "unknown severity "+string(f.Severity))
	case f.Status != "" && !validStatus(f.Status):
		return apperr.Invalid("status", "unknown status "+string(f.Status))
	case !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From):
		return apperr.Invalid("to", "must not be before from")
	}
	return nil
}

// Stats summarises the audit log.
type Stats struct {
	Total      int `json:"total"`
	Today      int `json:"today"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Critical   int `json:"critical"`
}

// Reduce computes Stats from rows; entries at or after dayStart count as today.
func Reduce(rows []Entry, dayStart time.Time) Stats {
	var s Stats
	for _, e := range rows {
		s.Total++
		if !e.Timestamp.Before(dayStart) {
			s.Today++
		}
		switch e.Status {
		case StatusSuccess:
			s.Successful++
		case StatusFailed:
			s.Failed++
		}
		if e.Severity == SeverityCritical {
			s.Critical++
		}
	}
	return s
}

func validActionType(t ActionType) bool {
	switch t {
	case ActionCreate, ActionUpdate, ActionDelete, ActionLogin, ActionLogout, ActionView, ActionExport, ActionSystem:
		return true
	}
	return false
}

func validSeverity(s Severity) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

func validStatus(s Status) bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusPending:
		return true
	}
	return false
}
