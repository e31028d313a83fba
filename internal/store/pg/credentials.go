package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"edupanel.org/internal/apperr"
	"edupanel.org/internal/credential"
	"edupanel.org/internal/ids"
	"edupanel.org/internal/obs"
)

// CredentialStore keeps login identities in the credentials table.
type CredentialStore struct {
	db     *sql.DB
	tokens *credential.TokenIssuer
	now    func() time.Time
}

var _ credential.Store = (*CredentialStore)(nil)

// NewCredentialStore returns a credential store on db. tokens may be nil, in
// which case SignIn reports apperr.ErrUnsupported.
func NewCredentialStore(db *sql.DB, tokens *credential.TokenIssuer) *CredentialStore {
	return &CredentialStore{db: db, tokens: tokens, now: time.Now}
}

func encodeMetadata(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return b, nil
}

func decodeMetadata(raw []byte) (map[string]any, error) {
	out := map[string]any{}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return out, nil
}

func (s *CredentialStore) Create(ctx context.Context, req credential.CreateRequest) (string, error) {
	if s.db == nil {
		return "", errNoDB
	}
	hash, err := credential.HashPassword(req.Password)
	if err != nil {
		return "", err
	}
	meta, err := encodeMetadata(req.Metadata)
	if err != nil {
		return "", err
	}
	id := ids.New()
	now := s.now().UTC()
	_, err = s.db.ExecContext(ctx, `
		insert into credentials (id, email, password_hash, email_confirmed, metadata, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $6)
	`, id, strings.ToLower(strings.TrimSpace(req.Email)), hash, req.AutoConfirm, meta, now)
	if err != nil {
		return "", classify(err, "create credential")
	}
	return id, nil
}

func (s *CredentialStore) UpdateByID(ctx context.Context, id string, patch credential.Patch) error {
	if s.db == nil {
		return errNoDB
	}
	var (
		setClauses []string
		args       []any
		idx        = 1
	)
	if patch.Email != nil {
		setClauses = append(setClauses, fmt.Sprintf("email = $%d", idx))
		args = append(args, strings.ToLower(strings.TrimSpace(*patch.Email)))
		idx++
	}
	if patch.Password != nil {
		hash, err := credential.HashPassword(*patch.Password)
		if err != nil {
			return err
		}
		setClauses = append(setClauses, fmt.Sprintf("password_hash = $%d", idx))
		args = append(args, hash)
		idx++
	}
	if patch.Metadata != nil {
		meta, err := encodeMetadata(patch.Metadata)
		if err != nil {
			return err
		}
		setClauses = append(setClauses, fmt.Sprintf("metadata = metadata || $%d::jsonb", idx))
		args = append(args, meta)
		idx++
	}
	setClauses = append(setClauses, fmt.Sprintf("updated_at = $%d", idx))
	args = append(args, s.now().UTC())
	idx++
	args = append(args, id)

	query := fmt.Sprintf(`update credentials set %s where id = $%d`, strings.Join(setClauses, ", "), idx)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return classify(err, "update credential")
	}
	return expectOne(res)
}

func (s *CredentialStore) DeleteByID(ctx context.Context, id string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from credentials where id = $1`, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (s *CredentialStore) List(ctx context.Context) ([]credential.Entity, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, email, email_confirmed, metadata, created_at, updated_at
		from credentials
		order by id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []credential.Entity
	for rows.Next() {
		var (
			e   credential.Entity
			raw []byte
		)
		if err := rows.Scan(&e.ID, &e.Email, &e.EmailConfirmed, &raw, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		if e.Metadata, err = decodeMetadata(raw); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *CredentialStore) SignIn(ctx context.Context, email, password string) (credential.Session, error) {
	if s.tokens == nil {
		return credential.Session{}, apperr.ErrUnsupported
	}
	if s.db == nil {
		return credential.Session{}, errNoDB
	}
	var (
		e    credential.Entity
		hash string
		raw  []byte
	)
	err := s.db.QueryRowContext(ctx, `
		select id, email, password_hash, email_confirmed, metadata, created_at, updated_at
		from credentials
		where email = $1
	`, strings.ToLower(strings.TrimSpace(email))).Scan(&e.ID, &e.Email, &hash, &e.EmailConfirmed, &raw, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return credential.Session{}, credential.ErrInvalidCredentials
	}
	if err != nil {
		return credential.Session{}, err
	}
	if !e.EmailConfirmed {
		return credential.Session{}, credential.ErrInvalidCredentials
	}
	ok, err := credential.VerifyPassword(hash, password)
	if err != nil || !ok {
		return credential.Session{}, credential.ErrInvalidCredentials
	}
	if e.Metadata, err = decodeMetadata(raw); err != nil {
		return credential.Session{}, err
	}
	if credential.NeedsRehash(hash) {
		s.upgradeHash(ctx, e.ID, password)
	}
	return s.tokens.Issue(e)
}

// upgradeHash replaces an imported password hash after a successful sign-in.
// Failures only leave the old hash in place.
func (s *CredentialStore) upgradeHash(ctx context.Context, id, password string) {
	hash, err := credential.HashPassword(password)
	if err == nil {
		_, err = s.db.ExecContext(ctx,
			`update credentials set password_hash = $1, updated_at = $2 where id = $3`,
			hash, s.now().UTC(), id)
	}
	if err != nil {
		obs.Logger().Warn().Err(err).Str("event", "rehash_failed").Str("credential_id", id).Msg("password hash not upgraded")
	}
}
