// Package memory is an in-process profile store holding accounts, section
// grants, sections and audit entries. It backs local runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"edupanel.org/internal/account"
	"edupanel.org/internal/apperr"
	"edupanel.org/internal/audit"
	"edupanel.org/internal/grant"
)

// Store is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]account.Account
	sections map[string]grant.Section
	grants   map[string]map[string]grant.Grant
	entries  []audit.Entry
}

var (
	_ account.ProfileStore = (*Store)(nil)
	_ grant.Store          = (*Store)(nil)
	_ audit.Store          = (*Store)(nil)
)

// New returns an empty store seeded with sections.
func New(sections ...grant.Section) *Store {
	s := &Store{
		accounts: make(map[string]account.Account),
		sections: make(map[string]grant.Section),
		grants:   make(map[string]map[string]grant.Grant),
	}
	for _, sec := range sections {
		s.sections[sec.ID] = sec
	}
	return s
}

// PutSection adds or renames a section.
func (s *Store) PutSection(sec grant.Section) {
	s.mu.Lock()
	s.sections[sec.ID] = sec
	s.mu.Unlock()
}

func (s *Store) InsertAccount(_ context.Context, a account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.ID]; ok {
		return fmt.Errorf("%w: account %s exists", apperr.ErrConflict, a.ID)
	}
	if s.emailTaken(a.Email, a.ID) {
		return fmt.Errorf("%w: email %s already registered", apperr.ErrConflict, a.Email)
	}
	s.accounts[a.ID] = a
	return nil
}

func (s *Store) GetAccount(_ context.Context, id string) (account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return account.Account{}, apperr.ErrNotFound
	}
	return a, nil
}

func (s *Store) UpdateAccount(_ context.Context, a account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.ID]; !ok {
		return apperr.ErrNotFound
	}
	if s.emailTaken(a.Email, a.ID) {
		return fmt.Errorf("%w: email %s already registered", apperr.ErrConflict, a.Email)
	}
	s.accounts[a.ID] = a
	return nil
}

func (s *Store) DeleteAccount(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[id]; !ok {
		return apperr.ErrNotFound
	}
	delete(s.accounts, id)
	delete(s.grants, id)
	return nil
}

func (s *Store) ListAccounts(_ context.Context, f account.ListFilter) ([]account.Account, error) {
	s.mu.RLock()
	out := make([]account.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if !f.EnrolledSince.IsZero() && a.EnrollmentDate.Before(f.EnrolledSince) {
			continue
		}
		out = append(out, a)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].EnrollmentDate.Equal(out[j].EnrollmentDate) {
			return out[i].ID > out[j].ID
		}
		return out[i].EnrollmentDate.After(out[j].EnrollmentDate)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) emailTaken(email, exceptID string) bool {
	for id, a := range s.accounts {
		if id != exceptID && strings.EqualFold(a.Email, email) {
			return true
		}
	}
	return false
}

func (s *Store) AccountExists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.accounts[id]
	return ok, nil
}

// InsertGrants validates the whole batch before writing any row.
func (s *Store) InsertGrants(_ context.Context, grants []grant.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := make(map[string]struct{}, len(grants))
	for _, g := range grants {
		if _, ok := s.accounts[g.AccountID]; !ok {
			return fmt.Errorf("%w: account %s", apperr.ErrNotFound, g.AccountID)
		}
		if _, ok := s.sections[g.SectionID]; !ok {
			return fmt.Errorf("%w: section %s", apperr.ErrNotFound, g.SectionID)
		}
		key := g.AccountID + "\x00" + g.SectionID
		if _, dup := batch[key]; dup {
			return fmt.Errorf("%w: duplicate grant %s/%s", apperr.ErrConflict, g.AccountID, g.SectionID)
		}
		if _, exists := s.grants[g.AccountID][g.SectionID]; exists {
			return fmt.Errorf("%w: duplicate grant %s/%s", apperr.ErrConflict, g.AccountID, g.SectionID)
		}
		batch[key] = struct{}{}
	}
	for _, g := range grants {
		if s.grants[g.AccountID] == nil {
			s.grants[g.AccountID] = make(map[string]grant.Grant)
		}
		s.grants[g.AccountID][g.SectionID] = g
	}
	return nil
}

func (s *Store) DeleteGrants(_ context.Context, accountID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.grants[accountID])
	delete(s.grants, accountID)
	return n, nil
}

func (s *Store) GrantedSections(_ context.Context, accountID string) ([]grant.Section, error) {
	s.mu.RLock()
	out := make([]grant.Section, 0, len(s.grants[accountID]))
	for sectionID := range s.grants[accountID] {
		if sec, ok := s.sections[sectionID]; ok {
			out = append(out, sec)
		}
	}
	s.mu.RUnlock()
	sortSections(out)
	return out, nil
}

func (s *Store) ListSections(context.Context) ([]grant.Section, error) {
	s.mu.RLock()
	out := make([]grant.Section, 0, len(s.sections))
	for _, sec := range s.sections {
		out = append(out, sec)
	}
	s.mu.RUnlock()
	sortSections(out)
	return out, nil
}

func sortSections(out []grant.Section) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].Title == out[j].Title {
			return out[i].ID < out[j].ID
		}
		return out[i].Title < out[j].Title
	})
}

func (s *Store) AppendAudit(_ context.Context, e audit.Entry) error {
	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
	return nil
}

func (s *Store) ListAudit(_ context.Context, f audit.Filter, offset, limit int) ([]audit.Entry, int, error) {
	s.mu.RLock()
	matched := make([]audit.Entry, 0)
	for _, e := range s.entries {
		if f.Matches(e) {
			matched = append(matched, e)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Timestamp.After(matched[j].Timestamp)
		}
		return matched[i].ID > matched[j].ID
	})
	total := len(matched)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []audit.Entry{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return matched[offset:end], total, nil
}

func (s *Store) DeleteAuditByResource(_ context.Context, resourceType, resourceID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	n := 0
	for _, e := range s.entries {
		if e.ResourceType == resourceType && e.ResourceID == resourceID {
			n++
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(s.entries); i++ {
		s.entries[i] = audit.Entry{}
	}
	s.entries = kept
	return n, nil
}
