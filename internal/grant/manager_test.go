package grant

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"edupanel.org/internal/apperr"
	"edupanel.org/internal/audit"
)

type stubStore struct {
	accounts  map[string]bool
	sections  map[string]string
	grants    map[string]map[string]Grant
	insertErr error
	deleteErr error
	inserts   int
}

func newStubStore() *stubStore {
	return &stubStore{
		accounts: map[string]bool{"acc-1": true},
		sections: map[string]string{"s1": "Algebra", "s2": "Biology", "s3": "Chemistry"},
		grants:   map[string]map[string]Grant{},
	}
}

func (s *stubStore) AccountExists(_ context.Context, id string) (bool, error) {
	return s.accounts[id], nil
}

func (s *stubStore) InsertGrants(_ context.Context, grants []Grant) error {
	s.inserts++
	if s.insertErr != nil {
		return s.insertErr
	}
	for _, g := range grants {
		if _, ok := s.sections[g.SectionID]; !ok {
			return apperr.ErrNotFound
		}
		if _, ok := s.grants[g.AccountID][g.SectionID]; ok {
			return apperr.ErrConflict
		}
	}
	for _, g := range grants {
		if s.grants[g.AccountID] == nil {
			s.grants[g.AccountID] = map[string]Grant{}
		}
		s.grants[g.AccountID][g.SectionID] = g
	}
	return nil
}

func (s *stubStore) DeleteGrants(_ context.Context, accountID string) (int, error) {
	if s.deleteErr != nil {
		return 0, s.deleteErr
	}
	n := len(s.grants[accountID])
	delete(s.grants, accountID)
	return n, nil
}

func (s *stubStore) GrantedSections(_ context.Context, accountID string) ([]Section, error) {
	var out []Section
	for id := range s.grants[accountID] {
		out = append(out, Section{ID: id, Title: s.sections[id]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

func (s *stubStore) ListSections(context.Context) ([]Section, error) {
	var out []Section
	for id, title := range s.sections {
		out = append(out, Section{ID: id, Title: title})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

type recorder struct {
	entries []audit.Entry
}

func (r *recorder) Record(_ context.Context, e audit.Entry, _ *apperr.PartialSuccess) {
	r.entries = append(r.entries, e)
}

var grantNow = time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T, store *stubStore) (*Manager, *recorder) {
	t.Helper()
	rec := &recorder{}
	m, err := NewManager(store, rec, func() time.Time { return grantNow })
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m, rec
}

func TestAssignDeduplicates(t *testing.T) {
	store := newStubStore()
	m, rec := newTestManager(t, store)
	if _, err := m.Assign(context.Background(), "acc-1", []string{"s2", " s1 ", "s2", ""}); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if len(store.grants["acc-1"]) != 2 {
		t.Fatalf("grants = %v", store.grants["acc-1"])
	}
	if g := store.grants["acc-1"]["s1"]; !g.GrantedAt.Equal(grantNow) {
		t.Fatalf("grantedAt = %v", g.GrantedAt)
	}
	if len(rec.entries) != 1 || rec.entries[0].Action != "sections_assigned" || rec.entries[0].ResourceType != audit.ResourceSectionAccess {
		t.Fatalf("unexpected audit entries: %+v", rec.entries)
	}
}

func TestAssignFailureIsAllOrNothing(t *testing.T) {
	store := newStubStore()
	m, rec := newTestManager(t, store)
	_, err := m.Assign(context.Background(), "acc-1", []string{"s1", "unknown"})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found for unknown section, got %v", err)
	}
	if len(store.grants["acc-1"]) != 0 {
		t.Fatalf("partial grants persisted: %v", store.grants["acc-1"])
	}
	if len(rec.entries) != 0 {
		t.Fatalf("audit entry written for failed assign")
	}

	store.insertErr = errors.New("connection lost")
	if _, err := m.Assign(context.Background(), "acc-1", []string{"s1"}); !errors.Is(err, apperr.ErrStore) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestAssignUnknownAccount(t *testing.T) {
	store := newStubStore()
	m, _ := newTestManager(t, store)
	if _, err := m.Assign(context.Background(), "ghost", nil); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := m.Assign(context.Background(), "acc-1", nil); err != nil {
		t.Fatalf("empty assign: %v", err)
	}
	if store.inserts != 0 {
		t.Fatalf("insert issued for empty section list")
	}
}

func TestReplaceIsIdempotentOverOverlappingSets(t *testing.T) {
	store := newStubStore()
	m, _ := newTestManager(t, store)
	ctx := context.Background()

	if _, err := m.Assign(ctx, "acc-1", []string{"s3"}); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if _, err := m.Replace(ctx, "acc-1", []string{"s1", "s2"}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if _, err := m.Replace(ctx, "acc-1", []string{"s2", "s1", "s1"}); err != nil {
		t.Fatalf("second Replace: %v", err)
	}
	titles, err := m.Query(ctx, "acc-1")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(titles) != 2 || titles[0] != "Algebra" || titles[1] != "Biology" {
		t.Fatalf("titles = %v", titles)
	}
}

func TestReplaceWithEmptyClears(t *testing.T) {
	store := newStubStore()
	m, rec := newTestManager(t, store)
	ctx := context.Background()
	_, _ = m.Assign(ctx, "acc-1", []string{"s1", "s2"})
	if _, err := m.Replace(ctx, "acc-1", []string{}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	titles, _ := m.Query(ctx, "acc-1")
	if len(titles) != 0 {
		t.Fatalf("grants remain: %v", titles)
	}
	last := rec.entries[len(rec.entries)-1]
	if last.Action != "sections_replaced" || last.Details["removed"] != 2 {
		t.Fatalf("unexpected audit entry: %+v", last)
	}
}

func TestReplaceInsertFailureLeavesNoGrants(t *testing.T) {
	store := newStubStore()
	m, _ := newTestManager(t, store)
	ctx := context.Background()
	_, _ = m.Assign(ctx, "acc-1", []string{"s1"})
	store.insertErr = errors.New("disk full")

	if _, err := m.Replace(ctx, "acc-1", []string{"s2"}); !errors.Is(err, apperr.ErrStore) {
		t.Fatalf("expected store error, got %v", err)
	}
	if len(store.grants["acc-1"]) != 0 {
		t.Fatalf("expected zero grants after failed replace, got %v", store.grants["acc-1"])
	}
}

func TestReplaceDeleteFailureKeepsGrants(t *testing.T) {
	store := newStubStore()
	m, _ := newTestManager(t, store)
	ctx := context.Background()
	_, _ = m.Assign(ctx, "acc-1", []string{"s1"})
	store.deleteErr = errors.New("timeout")
	if _, err := m.Replace(ctx, "acc-1", []string{"s2"}); !errors.Is(err, apperr.ErrStore) {
		t.Fatalf("expected store error, got %v", err)
	}
	if len(store.grants["acc-1"]) != 1 || store.inserts != 1 {
		t.Fatalf("replace continued after delete failure")
	}
}

func TestQueryValidatesAccount(t *testing.T) {
	m, _ := newTestManager(t, newStubStore())
	if _, err := m.Query(context.Background(), ""); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := m.Query(context.Background(), "ghost"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
