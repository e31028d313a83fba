// Package grant manages section-access grants between accounts and content
// sections.
package grant

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"edupanel.org/internal/apperr"
	"edupanel.org/internal/audit"
	"edupanel.org/internal/obs"
)

// Grant is an authorization edge from an account to a section.
type Grant struct {
	AccountID string    `json:"account_id"`
	SectionID string    `json:"section_id"`
	GrantedAt time.Time `json:"granted_at"`
}

// Section is an externally managed content section.
type Section struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Store persists grants. InsertGrants must write all rows or none; it
// reports an existing (account, section) pair as apperr.ErrConflict and an
// unknown section or account as apperr.ErrNotFound.
type Store interface {
	AccountExists(ctx context.Context, accountID string) (bool, error)
	InsertGrants(ctx context.Context, grants []Grant) error
	DeleteGrants(ctx context.Context, accountID string) (int, error)
	// GrantedSections returns the account's sections ordered by title.
	GrantedSections(ctx context.Context, accountID string) ([]Section, error)
	ListSections(ctx context.Context) ([]Section, error)
}

// Auditor is the slice of the audit log the manager writes to.
type Auditor interface {
	Record(ctx context.Context, e audit.Entry, ps *apperr.PartialSuccess)
}

// Manager assigns, replaces and resolves section grants.
type Manager struct {
	store Store
	audit Auditor
	now   func() time.Time
}

// NewManager wires the manager to its store.
func NewManager(store Store, auditor Auditor, now func() time.Time) (*Manager, error) {
	if store == nil || auditor == nil {
		return nil, errors.New("grant: store and auditor are required")
	}
	if now == nil {
		now = time.Now
	}
	return &Manager{store: store, audit: auditor, now: now}, nil
}

// Assign grants sectionIDs to the account in one atomic insert. On failure
// nothing is persisted; rolling back a freshly created account is the
// caller's decision.
func (m *Manager) Assign(ctx context.Context, accountID string, sectionIDs []string) (apperr.PartialSuccess, error) {
	var ps apperr.PartialSuccess
	accountID = strings.TrimSpace(accountID)
	sections := normalize(sectionIDs)
	if err := m.ensureAccount(ctx, accountID); err != nil {
		return ps, err
	}
	if len(sections) == 0 {
		return ps, nil
	}
	if err := m.insert(ctx, accountID, sections); err != nil {
		return ps, err
	}
	m.audit.Record(ctx, audit.Entry{
		Action:       "sections_assigned",
		ActionType:   audit.ActionCreate,
		ResourceType: audit.ResourceSectionAccess,
		ResourceID:   accountID,
		Severity:     audit.SeverityMedium,
		Status:       audit.StatusSuccess,
		Details:      map[string]any{"sections": sections},
	}, &ps)
	return ps, nil
}

// Replace deletes every grant of the account and inserts the new set. The
// two writes are not transactional: if the insert fails the account is left
// with no grants and the error is returned.
func (m *Manager) Replace(ctx context.Context, accountID string, sectionIDs []string) (apperr.PartialSuccess, error) {
	var ps apperr.PartialSuccess
	accountID = strings.TrimSpace(accountID)
	sections := normalize(sectionIDs)
	if err := m.ensureAccount(ctx, accountID); err != nil {
		return ps, err
	}
	removed, err := m.store.DeleteGrants(ctx, accountID)
	if err != nil {
		return ps, &apperr.StoreError{Store: apperr.StoreProfile, Op: "delete grants", Err: err}
	}
	if len(sections) > 0 {
		if err := m.insert(ctx, accountID, sections); err != nil {
			obs.Logger().Error().
				Err(err).
				Str("event", "grants_cleared").
				Str("account_id", accountID).
				Int("removed", removed).
				Msg("grant insert failed after delete; account has no grants")
			return ps, err
		}
	}
	m.audit.Record(ctx, audit.Entry{
		Action:       "sections_replaced",
		ActionType:   audit.ActionUpdate,
		ResourceType: audit.ResourceSectionAccess,
		ResourceID:   accountID,
		Severity:     audit.SeverityMedium,
		Status:       audit.StatusSuccess,
		Details:      map[string]any{"sections": sections, "removed": removed},
	}, &ps)
	return ps, nil
}

// Query resolves the account's grants to section titles.
func (m *Manager) Query(ctx context.Context, accountID string) ([]string, error) {
	accountID = strings.TrimSpace(accountID)
	if err := m.ensureAccount(ctx, accountID); err != nil {
		return nil, err
	}
	sections, err := m.store.GrantedSections(ctx, accountID)
	if err != nil {
		return nil, &apperr.StoreError{Store: apperr.StoreProfile, Op: "query grants", Err: err}
	}
	titles := make([]string, 0, len(sections))
	for _, s := range sections {
		titles = append(titles, s.Title)
	}
	return titles, nil
}

// Sections lists every known section.
func (m *Manager) Sections(ctx context.Context) ([]Section, error) {
	out, err := m.store.ListSections(ctx)
	if err != nil {
		return nil, &apperr.StoreError{Store: apperr.StoreProfile, Op: "list sections", Err: err}
	}
	return out, nil
}

func (m *Manager) ensureAccount(ctx context.Context, accountID string) error {
	if accountID == "" {
		return apperr.Invalid("account_id", "account id is required")
	}
	ok, err := m.store.AccountExists(ctx, accountID)
	if err != nil {
		return &apperr.StoreError{Store: apperr.StoreProfile, Op: "load account", Err: err}
	}
	if !ok {
		return &apperr.NotFoundError{Resource: "account", ID: accountID}
	}
	return nil
}

func (m *Manager) insert(ctx context.Context, accountID string, sections []string) error {
	now := m.now().UTC()
	grants := make([]Grant, 0, len(sections))
	for _, s := range sections {
		grants = append(grants, Grant{AccountID: accountID, SectionID: s, GrantedAt: now})
	}
	err := m.store.InsertGrants(ctx, grants)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, apperr.ErrConflict):
		return &apperr.DuplicateError{Field: "section_id", Value: strings.Join(sections, ",")}
	case errors.Is(err, apperr.ErrNotFound):
		return &apperr.NotFoundError{Resource: "section", ID: strings.Join(sections, ",")}
	default:
		return &apperr.StoreError{Store: apperr.StoreProfile, Op: "insert grants", Err: err}
	}
}

// normalize trims, drops blanks and de-duplicates, returning ids sorted.
func normalize(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
