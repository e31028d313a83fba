package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"edupanel.org/internal/audit"
)

var (
	_ audit.Store      = (*Store)(nil)
	_ audit.Aggregator = (*Store)(nil)
)

const auditColumns = `id, actor_id, actor_name, actor_role, action, action_type, resource_type,
	resource_id, details, severity, status, occurred_at`

func (s *Store) AppendAudit(ctx context.Context, e audit.Entry) error {
	if s.db == nil {
		return errNoDB
	}
	details := []byte("{}")
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshal details: %w", err)
		}
		details = b
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_logs (`+auditColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, e.ID, e.ActorID, e.ActorName, e.ActorRole, e.Action, string(e.ActionType), e.ResourceType,
		nullIfEmpty(e.ResourceID), details, string(e.Severity), string(e.Status), e.Timestamp.UTC())
	return err
}

// auditWhere renders f as a where clause with positional arguments.
func auditWhere(f audit.Filter) (string, []any) {
	clause := ` where 1=1`
	var args []any
	argPos := 1
	add := func(cond string, v any) {
		clause += fmt.Sprintf(" and "+cond, argPos)
		args = append(args, v)
		argPos++
	}
	if f.ActionType != "" {
		add("action_type = $%d", string(f.ActionType))
	}
	if f.ActorRole != "" {
		add("actor_role = $%d", f.ActorRole)
	}
	if f.Severity != "" {
		add("severity = $%d", string(f.Severity))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if !f.From.IsZero() {
		add("occurred_at >= $%d", f.From.UTC())
	}
	if !f.To.IsZero() {
		add("occurred_at <= $%d", f.To.UTC())
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		clause += fmt.Sprintf(` and (action ilike $%[1]d or actor_name ilike $%[1]d or resource_type ilike $%[1]d
			or coalesce(resource_id, '') ilike $%[1]d or details::text ilike $%[1]d)`, argPos)
		args = append(args, "%"+escapeLike(q)+"%")
	}
	return clause, args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (s *Store) ListAudit(ctx context.Context, f audit.Filter, offset, limit int) ([]audit.Entry, int, error) {
	if s.db == nil {
		return nil, 0, errNoDB
	}
	where, args := auditWhere(f)

	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from audit_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	argPos := len(args) + 1
	query := `select ` + auditColumns + ` from audit_logs` + where +
		fmt.Sprintf(` order by occurred_at desc, id desc limit $%d offset $%d`, argPos, argPos+1)
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []audit.Entry{}
	for rows.Next() {
		var (
			e                            audit.Entry
			actionType, severity, status string
			resourceID                   sql.NullString
			details                      []byte
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &e.ActorName, &e.ActorRole, &e.Action, &actionType, &e.ResourceType,
			&resourceID, &details, &severity, &status, &e.Timestamp); err != nil {
			return nil, 0, err
		}
		e.ActionType = audit.ActionType(actionType)
		e.Severity = audit.Severity(severity)
		e.Status = audit.Status(status)
		e.ResourceID = resourceID.String
		e.Details = map[string]any{}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, 0, fmt.Errorf("decode details: %w", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *Store) DeleteAuditByResource(ctx context.Context, resourceType, resourceID string) (int, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from audit_logs where resource_type = $1 and resource_id = $2`,
		resourceType, resourceID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// AuditStats computes every counter in one aggregate query.
func (s *Store) AuditStats(ctx context.Context, dayStart time.Time) (audit.Stats, error) {
	if s.db == nil {
		return audit.Stats{}, errNoDB
	}
	var st audit.Stats
	err := s.db.QueryRowContext(ctx, `
		select count(*),
			count(*) filter (where occurred_at >= $1),
			count(*) filter (where status = 'success'),
			count(*) filter (where status = 'failed'),
			count(*) filter (where severity = 'critical')
		from audit_logs
	`, dayStart.UTC()).Scan(&st.Total, &st.Today, &st.Successful, &st.Failed, &st.Critical)
	return st, err
}
