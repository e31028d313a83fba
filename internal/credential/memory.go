package credential

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"edupanel.org/internal/apperr"
	"edupanel.org/internal/ids"
)

type memoryRecord struct {
	entity       Entity
	passwordHash string
}

// MemoryStore is an in-process credential store used for local runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*memoryRecord
	byEmail map[string]string
	tokens  *TokenIssuer
	now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store. tokens may be nil, in which case
// SignIn reports apperr.ErrUnsupported.
func NewMemoryStore(tokens *TokenIssuer) *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*memoryRecord),
		byEmail: make(map[string]string),
		tokens:  tokens,
		now:     time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, req CreateRequest) (string, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	hash, err := HashPassword(req.Password)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byEmail[email]; taken {
		return "", fmt.Errorf("%w: email %s already registered", apperr.ErrConflict, email)
	}
	now := s.now().UTC()
	id := ids.New()
	s.records[id] = &memoryRecord{
		entity: Entity{
			ID:             id,
			Email:          email,
			EmailConfirmed: req.AutoConfirm,
			Metadata:       cloneMetadata(req.Metadata),
			CreatedAt:      now,
			UpdatedAt:      now,
		},
		passwordHash: hash,
	}
	s.byEmail[email] = id
	return id, nil
}

func (s *MemoryStore) UpdateByID(_ context.Context, id string, patch Patch) error {
	var hash string
	if patch.Password != nil {
		h, err := HashPassword(*patch.Password)
		if err != nil {
			return err
		}
		hash = h
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return apperr.ErrNotFound
	}
	if patch.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*patch.Email))
		if owner, taken := s.byEmail[email]; taken && owner != id {
			return fmt.Errorf("%w: email %s already registered", apperr.ErrConflict, email)
		}
		delete(s.byEmail, rec.entity.Email)
		rec.entity.Email = email
		s.byEmail[email] = id
	}
	if hash != "" {
		rec.passwordHash = hash
	}
	if patch.Metadata != nil {
		rec.entity.Metadata = MergeMetadata(rec.entity.Metadata, patch.Metadata)
	}
	rec.entity.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) DeleteByID(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return apperr.ErrNotFound
	}
	delete(s.byEmail, rec.entity.Email)
	delete(s.records, id)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entity, 0, len(s.records))
	for _, rec := range s.records {
		e := rec.entity
		e.Metadata = cloneMetadata(e.Metadata)
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SignIn(_ context.Context, email, password string) (Session, error) {
	if s.tokens == nil {
		return Session{}, apperr.ErrUnsupported
	}
	email = strings.ToLower(strings.TrimSpace(email))

	s.mu.RLock()
	var (
		entity Entity
		hash   string
		found  bool
	)
	if id, ok := s.byEmail[email]; ok {
		rec := s.records[id]
		entity, hash, found = rec.entity, rec.passwordHash, true
		entity.Metadata = cloneMetadata(entity.Metadata)
	}
	s.mu.RUnlock()

	if !found || !entity.EmailConfirmed {
		return Session{}, ErrInvalidCredentials
	}
	ok, err := VerifyPassword(hash, password)
	if err != nil || !ok {
		return Session{}, ErrInvalidCredentials
	}
	return s.tokens.Issue(entity)
}
