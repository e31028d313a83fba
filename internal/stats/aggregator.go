// Package stats builds read-only dashboard rollups over the profile store.
package stats

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"edupanel.org/internal/account"
	"edupanel.org/internal/apperr"
)

const (
	signupMonths        = 6
	monthLabelLayout    = "Jan 2006"
	defaultActivitySize = 5
	maxActivitySize     = 50
)

// AccountLister is the profile store read used by the aggregator.
type AccountLister interface {
	ListAccounts(ctx context.Context, f account.ListFilter) ([]account.Account, error)
}

// Bucket is the signup count of one calendar month.
type Bucket struct {
	Label string    `json:"label"`
	Month time.Time `json:"month"`
	Count int       `json:"count"`
}

// Activity is one human-readable enrollment event.
type Activity struct {
	AccountID string    `json:"account_id"`
	Sentence  string    `json:"sentence"`
	At        time.Time `json:"at"`
}

// Aggregator computes dashboard summaries. It holds no mutable state.
type Aggregator struct {
	profiles AccountLister
	now      func() time.Time
}

// NewAggregator returns an aggregator reading from profiles.
func NewAggregator(profiles AccountLister, now func() time.Time) (*Aggregator, error) {
	if profiles == nil {
		return nil, errors.New("stats: profile store is required")
	}
	if now == nil {
		now = time.Now
	}
	return &Aggregator{profiles: profiles, now: now}, nil
}

// MonthlySignups counts enrollments in the trailing six calendar months,
// oldest first, ending with the current month.
func (a *Aggregator) MonthlySignups(ctx context.Context) ([]Bucket, error) {
	now := a.now().UTC()
	current := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	first := current.AddDate(0, -(signupMonths - 1), 0)

	buckets := make([]Bucket, signupMonths)
	for i := range buckets {
		m := first.AddDate(0, i, 0)
		buckets[i] = Bucket{Label: m.Format(monthLabelLayout), Month: m}
	}

	accounts, err := a.profiles.ListAccounts(ctx, account.ListFilter{EnrolledSince: first})
	if err != nil {
		return nil, &apperr.StoreError{Store: apperr.StoreProfile, Op: "list enrollments", Err: err}
	}
	for _, acc := range accounts {
		d := acc.EnrollmentDate.UTC()
		idx := (d.Year()-first.Year())*12 + int(d.Month()) - int(first.Month())
		if idx < 0 || idx >= signupMonths {
			continue
		}
		buckets[idx].Count++
	}
	return buckets, nil
}

// RecentActivity describes the n most recently enrolled accounts, newest first.
func (a *Aggregator) RecentActivity(ctx context.Context, n int) ([]Activity, error) {
	if n <= 0 {
		n = defaultActivitySize
	}
	if n > maxActivitySize {
		n = maxActivitySize
	}
	accounts, err := a.profiles.ListAccounts(ctx, account.ListFilter{Limit: n})
	if err != nil {
		return nil, &apperr.StoreError{Store: apperr.StoreProfile, Op: "list recent accounts", Err: err}
	}
	if len(accounts) > n {
		accounts = accounts[:n]
	}
	now := a.now()
	out := make([]Activity, 0, len(accounts))
	for _, acc := range accounts {
		name := strings.TrimSpace(acc.FullName)
		if name == "" {
			name = acc.Email
		}
		out = append(out, Activity{
			AccountID: acc.ID,
			Sentence:  name + " enrolled " + humanize.RelTime(acc.EnrollmentDate, now, "ago", "from now"),
			At:        acc.EnrollmentDate,
		})
	}
	return out, nil
}
