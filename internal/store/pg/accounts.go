package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"edupanel.org/internal/account"
	"edupanel.org/internal/apperr"
)

var _ account.ProfileStore = (*Store)(nil)

const accountColumns = `id, credential_id, full_name, email, phone, parent_phone, status,
	expires_at, enrollment_date, last_activity, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (account.Account, error) {
	var (
		a                          account.Account
		credID, phone, parentPhone sql.NullString
		status                     string
		expires, lastActivity      sql.NullTime
	)
	if err := row.Scan(&a.ID, &credID, &a.FullName, &a.Email, &phone, &parentPhone, &status,
		&expires, &a.EnrollmentDate, &lastActivity, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return account.Account{}, err
	}
	a.CredentialRef = credID.String
	a.Phone = phone.String
	a.ParentPhone = parentPhone.String
	a.Status = account.Status(status)
	a.ExpiresAt = timePtr(expires)
	a.LastActivity = timePtr(lastActivity)
	return a, nil
}

func (s *Store) InsertAccount(ctx context.Context, a account.Account) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into accounts (id, credential_id, full_name, email, phone, parent_phone, status,
			expires_at, enrollment_date, last_activity, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, a.ID, nullIfEmpty(a.CredentialRef), a.FullName, a.Email, nullIfEmpty(a.Phone), nullIfEmpty(a.ParentPhone),
		string(a.Status), nullTime(a.ExpiresAt), a.EnrollmentDate.UTC(), nullTime(a.LastActivity),
		a.CreatedAt.UTC(), a.UpdatedAt.UTC())
	if err != nil {
		return classify(err, "insert account")
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (account.Account, error) {
	if s.db == nil {
		return account.Account{}, errNoDB
	}
	a, err := scanAccount(s.db.QueryRowContext(ctx, `select `+accountColumns+` from accounts where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return account.Account{}, apperr.ErrNotFound
	}
	if err != nil {
		return account.Account{}, err
	}
	return a, nil
}

func (s *Store) UpdateAccount(ctx context.Context, a account.Account) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		update accounts
		set full_name = $2, email = $3, phone = $4, parent_phone = $5, status = $6,
			expires_at = $7, last_activity = $8, updated_at = $9
		where id = $1
	`, a.ID, a.FullName, a.Email, nullIfEmpty(a.Phone), nullIfEmpty(a.ParentPhone), string(a.Status),
		nullTime(a.ExpiresAt), nullTime(a.LastActivity), a.UpdatedAt.UTC())
	if err != nil {
		return classify(err, "update account")
	}
	return expectOne(res)
}

// DeleteAccount removes the row; account_sections rows go with it through
// the foreign key's on delete cascade.
func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from accounts where id = $1`, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (s *Store) ListAccounts(ctx context.Context, f account.ListFilter) ([]account.Account, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	query := `select ` + accountColumns + ` from accounts where 1=1`
	var args []any
	argPos := 1
	if f.Status != "" {
		query += fmt.Sprintf(` and status = $%d`, argPos)
		args = append(args, string(f.Status))
		argPos++
	}
	if !f.EnrolledSince.IsZero() {
		query += fmt.Sprintf(` and enrollment_date >= $%d`, argPos)
		args = append(args, f.EnrolledSince.UTC())
		argPos++
	}
	query += ` order by enrollment_date desc, id desc`
	if f.Limit > 0 {
		query += fmt.Sprintf(` limit $%d`, argPos)
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []account.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}
