package pg

import (
	"context"
	"fmt"
	"strings"

	"edupanel.org/internal/grant"
)

var _ grant.Store = (*Store)(nil)

func (s *Store) AccountExists(ctx context.Context, accountID string) (bool, error) {
	if s.db == nil {
		return false, errNoDB
	}
	var exists bool
	err := s.db.QueryRowContext(ctx, `select exists(select 1 from accounts where id = $1)`, accountID).Scan(&exists)
	return exists, err
}

// InsertGrants writes the batch as one multi-row statement, so a constraint
// violation on any row persists none of them.
func (s *Store) InsertGrants(ctx context.Context, grants []grant.Grant) error {
	if s.db == nil {
		return errNoDB
	}
	if len(grants) == 0 {
		return nil
	}
	values := make([]string, 0, len(grants))
	args := make([]any, 0, len(grants)*3)
	argPos := 1
	for _, g := range grants {
		values = append(values, fmt.Sprintf("($%d, $%d, $%d)", argPos, argPos+1, argPos+2))
		args = append(args, g.AccountID, g.SectionID, g.GrantedAt.UTC())
		argPos += 3
	}
	query := `insert into account_sections (account_id, section_id, granted_at) values ` + strings.Join(values, ", ")
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return classify(err, "insert grants")
	}
	return nil
}

func (s *Store) DeleteGrants(ctx context.Context, accountID string) (int, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from account_sections where account_id = $1`, accountID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) GrantedSections(ctx context.Context, accountID string) ([]grant.Section, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	return s.querySections(ctx, `
		select sec.id, sec.title
		from account_sections acs
		join sections sec on sec.id = acs.section_id
		where acs.account_id = $1
		order by sec.title, sec.id
	`, accountID)
}

func (s *Store) ListSections(ctx context.Context) ([]grant.Section, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	return s.querySections(ctx, `select id, title from sections order by title, id`)
}

func (s *Store) querySections(ctx context.Context, query string, args ...any) ([]grant.Section, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []grant.Section{}
	for rows.Next() {
		var sec grant.Section
		if err := rows.Scan(&sec.ID, &sec.Title); err != nil {
			return nil, err
		}
		out = append(out, sec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
