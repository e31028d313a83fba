// Package audit records administrative actions in an append-only log and
// serves filtered queries, CSV exports and summary statistics over it.
package audit

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"edupanel.org/internal/apperr"
	"edupanel.org/internal/ids"
	"edupanel.org/internal/obs"
)

const (
	defaultLimit     = 20
	maxLimit         = 100
	defaultExportCap = 10000
	statsPageSize    = 1000
)

// StepAppendAudit names the audit append in consistency warnings.
const StepAppendAudit = "append_audit"

// CSVHeader is the fixed column order of ExportCSV.
var CSVHeader = []string{"timestamp", "actor", "role", "action", "actionType", "resourceType", "severity", "status", "details"}

// Store persists audit entries.
type Store interface {
	AppendAudit(ctx context.Context, e Entry) error
	// ListAudit returns entries matching f ordered newest first, plus the
	// total number of matches ignoring offset and limit.
	ListAudit(ctx context.Context, f Filter, offset, limit int) ([]Entry, int, error)
	DeleteAuditByResource(ctx context.Context, resourceType, resourceID string) (int, error)
}

// Aggregator is implemented by stores that can compute Stats in one call.
// Returning apperr.ErrUnsupported selects the row-reduction fallback.
type Aggregator interface {
	AuditStats(ctx context.Context, dayStart time.Time) (Stats, error)
}

// Page is one page of query results.
type Page struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Page    int     `json:"page"`
	Limit   int     `json:"limit"`
}

// Log is the audit service.
type Log struct {
	store     Store
	now       func() time.Time
	exportCap int
}

// Option configures Log.
type Option func(*Log)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(l *Log) {
		if fn != nil {
			l.now = fn
		}
	}
}

// WithExportCap bounds the number of rows ExportCSV materializes.
func WithExportCap(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.exportCap = n
		}
	}
}

// NewLog constructs the audit service over store.
func NewLog(store Store, opts ...Option) (*Log, error) {
	if store == nil {
		return nil, errors.New("audit store is required")
	}
	l := &Log{store: store, now: time.Now, exportCap: defaultExportCap}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Append writes an audit entry enriched with actor and request context.
// Failures are logged to the diagnostic channel and returned, but callers
// must never let them change the outcome of the audited operation.
func (l *Log) Append(ctx context.Context, e Entry) error {
	e = l.prepare(ctx, e)
	if err := l.store.AppendAudit(ctx, e); err != nil {
		obs.AuditAppendFailed()
		obs.Logger().Error().
			Err(err).
			Str("type", "audit").
			Str("event", "append_failed").
			Str("action", e.Action).
			Str("resource_type", e.ResourceType).
			Str("resource_id", e.ResourceID).
			Msg("audit entry dropped")
		return &apperr.StoreError{Store: apperr.StoreAudit, Op: "append entry", Err: err}
	}
	return nil
}

// Record appends e and, on failure, notes a consistency warning in ps.
func (l *Log) Record(ctx context.Context, e Entry, ps *apperr.PartialSuccess) {
	if err := l.Append(ctx, e); err != nil && ps != nil {
		ps.Add(apperr.ConsistencyWarning{Step: StepAppendAudit, Store: apperr.StoreAudit, Err: err})
		obs.ConsistencyWarning(StepAppendAudit)
	}
}

func (l *Log) prepare(ctx context.Context, e Entry) Entry {
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now().UTC()
	}
	if e.ActorID == "" {
		actor := ActorFromContext(ctx)
		e.ActorID, e.ActorName, e.ActorRole = actor.ID, actor.Name, actor.Role
	}
	if !validActionType(e.ActionType) {
		e.ActionType = ActionSystem
	}
	if !validSeverity(e.Severity) {
		e.Severity = SeverityLow
	}
	if !validStatus(e.Status) {
		e.Status = StatusSuccess
	}
	details := make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		details["request_id"] = rid
	}
	e.Details = details
	return e
}

// Query returns one page of entries matching f, newest first. page is
// 1-based; limit defaults to 20 and is capped at 100.
func (l *Log) Query(ctx context.Context, f Filter, page, limit int) (Page, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	entries, total, err := l.store.ListAudit(ctx, f, (page-1)*limit, limit)
	if err != nil {
		return Page{}, &apperr.StoreError{Store: apperr.StoreAudit, Op: "query entries", Err: err}
	}
	if entries == nil {
		entries = []Entry{}
	}
	return Page{Entries: entries, Total: total, Page: page, Limit: limit}, nil
}

// ExportCSV writes every entry matching f, up to the export cap, as CSV with
// the CSVHeader columns. It returns the number of data rows written.
func (l *Log) ExportCSV(ctx context.Context, f Filter, w io.Writer) (int, error) {
	entries, _, err := l.store.ListAudit(ctx, f, 0, l.exportCap)
	if err != nil {
		return 0, &apperr.StoreError{Store: apperr.StoreAudit, Op: "export entries", Err: err}
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return 0, fmt.Errorf("write csv header: %w", err)
	}
	for _, e := range entries {
		actor := e.ActorName
		if actor == "" {
			actor = e.ActorID
		}
		record := []string{
			e.Timestamp.UTC().Format(time.RFC3339),
			actor,
			e.ActorRole,
			e.Action,
			string(e.ActionType),
			e.ResourceType,
			string(e.Severity),
			string(e.Status),
			e.DetailsJSON(),
		}
		if err := cw.Write(record); err != nil {
			return 0, fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("flush csv: %w", err)
	}
	return len(entries), nil
}

// Stats summarises the whole log. It uses the store's aggregation when
// available and otherwise reduces the stored rows page by page.
func (l *Log) Stats(ctx context.Context) (Stats, error) {
	now := l.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	if agg, ok := l.store.(Aggregator); ok {
		s, err := agg.AuditStats(ctx, dayStart)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, apperr.ErrUnsupported) {
			return Stats{}, &apperr.StoreError{Store: apperr.StoreAudit, Op: "aggregate stats", Err: err}
		}
	}

	var rows []Entry
	for offset := 0; ; offset += statsPageSize {
		batch, total, err := l.store.ListAudit(ctx, Filter{}, offset, statsPageSize)
		if err != nil {
			return Stats{}, &apperr.StoreError{Store: apperr.StoreAudit, Op: "fetch stats rows", Err: err}
		}
		rows = append(rows, batch...)
		if len(batch) == 0 || offset+len(batch) >= total {
			break
		}
	}
	return Reduce(rows, dayStart), nil
}

// DeleteForResource removes every entry about one resource and reports how
// many were deleted.
func (l *Log) DeleteForResource(ctx context.Context, resourceType, resourceID string) (int, error) {
	resourceType = strings.TrimSpace(resourceType)
	resourceID = strings.TrimSpace(resourceID)
	if resourceType == "" || resourceID == "" {
		return 0, apperr.Invalid("resource", "resource type and id are required")
	}
	n, err := l.store.DeleteAuditByResource(ctx, resourceType, resourceID)
	if err != nil {
		return 0, &apperr.StoreError{Store: apperr.StoreAudit, Op: "delete entries", Err: err}
	}
	return n, nil
}
