// Package ngmatch keeps client NG entries bound to the companies they name.
//
// An entry is matched when exactly one company has the same normalized
// name (see model.NormalizeCompanyName). Zero or several candidates leave
// the entry unmatched; there is no fuzzy matching.
package ngmatch

import (
	"context"
	"errors"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/saleslist/internal/model"
	"github.com/sells-group/saleslist/internal/resilience"
	"github.com/sells-group/saleslist/internal/store"
)

// Outcome is what one resolution did to an entry.
type Outcome string

// Resolution outcomes.
const (
	OutcomeMatched   Outcome = "matched"
	OutcomeUnmatched Outcome = "unmatched"
	OutcomeAmbiguous Outcome = "ambiguous"
	OutcomeSkipped   Outcome = "skipped"
)

// Result counts the entries a pass examined by outcome.
type Result struct {
	Examined  int `json:"examined"`
	Matched   int `json:"matched"`
	Unmatched int `json:"unmatched"`
	Ambiguous int `json:"ambiguous"`
}

func (r *Result) add(o Outcome) {
	r.Examined++
	switch o {
	case OutcomeMatched:
		r.Matched++
	case OutcomeUnmatched:
		r.Unmatched++
	case OutcomeAmbiguous:
		r.Ambiguous++
	}
}

// Store is the persistence the matcher needs.
type Store interface {
	GetCompany(ctx context.Context, id int64) (*model.Company, error)
	ListUnmatchedNGEntryIDs(ctx context.Context, clientID *int64) ([]int64, error)
	ListNGEntryIDsByName(ctx context.Context, normalizedName string) ([]int64, error)
	ListNGEntryIDsByCompany(ctx context.Context, companyID int64) ([]int64, error)
	UnbindNGEntries(ctx context.Context, companyID int64) (int, error)
	LockNGEntry(ctx context.Context, id int64, fn func(ctx context.Context, e *model.NGEntry, tx store.NGEntryTx) error) error
}

// Observer receives one call per resolved entry.
type Observer interface {
	ObserveMatch(outcome string)
}

// Matcher resolves NG entries against the company table.
type Matcher struct {
	store    Store
	workers  int
	retry    resilience.RetryConfig
	observer Observer
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithWorkers bounds how many entries are resolved concurrently.
func WithWorkers(n int) Option {
	return func(m *Matcher) {
		if n > 0 {
			m.workers = n
		}
	}
}

// WithRetryAttempts sets how often a transient store error is retried.
func WithRetryAttempts(n int) Option {
	return func(m *Matcher) { m.retry = m.retry.WithAttempts(n) }
}

// WithObserver reports every resolution outcome to o.
func WithObserver(o Observer) Option {
	return func(m *Matcher) { m.observer = o }
}

// New creates a Matcher.
func New(st Store, opts ...Option) *Matcher {
	m := &Matcher{
		store:   st,
		workers: 4,
		retry:   resilience.DefaultRetryConfig(),
	}
	m.retry.OnRetry = resilience.RetryLogger("ngmatch", "resolve_entry")
	for _, o := range opts {
		o(m)
	}
	return m
}

// MatchAll resolves every active entry that is not confirmed.
func (m *Matcher) MatchAll(ctx context.Context) (Result, error) {
	ids, err := m.store.ListUnmatchedNGEntryIDs(ctx, nil)
	if err != nil {
		return Result{}, eris.Wrap(err, "ngmatch: list unmatched entries")
	}
	return m.resolveAll(ctx, ids, false)
}

// MatchClient resolves one client's unconfirmed entries.
func (m *Matcher) MatchClient(ctx context.Context, clientID int64) (Result, error) {
	ids, err := m.store.ListUnmatchedNGEntryIDs(ctx, &clientID)
	if err != nil {
		return Result{}, eris.Wrapf(err, "ngmatch: list unmatched entries for client %d", clientID)
	}
	return m.resolveAll(ctx, ids, false)
}

// MatchEntry resolves a single entry.
func (m *Matcher) MatchEntry(ctx context.Context, entryID int64) (Outcome, error) {
	return m.resolve(ctx, entryID, false)
}

// CompanyCreated binds unmatched entries that name the new company.
func (m *Matcher) CompanyCreated(ctx context.Context, companyID int64) (Result, error) {
	c, err := m.store.GetCompany(ctx, companyID)
	if err != nil {
		return Result{}, eris.Wrapf(err, "ngmatch: load company %d", companyID)
	}
	return m.resolveByName(ctx, c.NormalizedName())
}

// CompanyRenamed re-resolves the entries bound to the company, then the
// unmatched entries that carry its new name.
func (m *Matcher) CompanyRenamed(ctx context.Context, companyID int64) (Result, error) {
	c, err := m.store.GetCompany(ctx, companyID)
	if err != nil {
		return Result{}, eris.Wrapf(err, "ngmatch: load company %d", companyID)
	}

	bound, err := m.store.ListNGEntryIDsByCompany(ctx, companyID)
	if err != nil {
		return Result{}, eris.Wrapf(err, "ngmatch: list entries of company %d", companyID)
	}
	res, err := m.resolveAll(ctx, bound, true)
	if err != nil {
		return res, err
	}

	more, err := m.resolveByName(ctx, c.NormalizedName())
	return merge(res, more), err
}

// CompanyDeleted releases the entries bound to a deleted company, keeping
// their free-text names, and retries entries that carried its name since
// another company may now be the only candidate.
func (m *Matcher) CompanyDeleted(ctx context.Context, company model.Company) (Result, error) {
	n, err := m.store.UnbindNGEntries(ctx, company.ID)
	if err != nil {
		return Result{}, eris.Wrapf(err, "ngmatch: unbind entries of company %d", company.ID)
	}
	if n > 0 {
		zap.L().Info("ngmatch: released entries of deleted company",
			zap.Int64("company_id", company.ID),
			zap.Int("entries", n),
		)
	}
	return m.resolveByName(ctx, company.NormalizedName())
}

func (m *Matcher) resolveByName(ctx context.Context, normalizedName string) (Result, error) {
	if normalizedName == "" {
		return Result{}, nil
	}
	ids, err := m.store.ListNGEntryIDsByName(ctx, normalizedName)
	if err != nil {
		return Result{}, eris.Wrap(err, "ngmatch: list entries by name")
	}
	return m.resolveAll(ctx, ids, false)
}

func (m *Matcher) resolveAll(ctx context.Context, ids []int64, rebind bool) (Result, error) {
	var (
		mu  sync.Mutex
		res Result
	)
	if len(ids) == 0 {
		return res, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)

	for _, id := range ids {
		g.Go(func() error {
			outcome, err := m.resolve(gctx, id, rebind)
			if err != nil {
				return err
			}
			mu.Lock()
			res.add(outcome)
			mu.Unlock()
			return nil
		})
	}

	err := g.Wait()

	zap.L().Debug("ngmatch: pass complete",
		zap.Int("examined", res.Examined),
		zap.Int("matched", res.Matched),
		zap.Int("unmatched", res.Unmatched),
		zap.Int("ambiguous", res.Ambiguous),
	)
	return res, err
}

// resolve re-reads the entry under lock and binds it when exactly one
// company carries its normalized name. With rebind set, a confirmed entry
// is re-checked instead of left alone.
func (m *Matcher) resolve(ctx context.Context, id int64, rebind bool) (Outcome, error) {
	var outcome Outcome
	err := resilience.Do(ctx, m.retry, func(ctx context.Context) error {
		return m.store.LockNGEntry(ctx, id, func(ctx context.Context, e *model.NGEntry, tx store.NGEntryTx) error {
			outcome = OutcomeSkipped
			if !rebind && (!e.IsActive || (e.Matched && e.CompanyID != nil)) {
				return nil
			}

			name := e.NormalizedName()
			var candidates []int64
			if name != "" {
				var err error
				if candidates, err = tx.FindCompanyIDs(ctx, name, 2); err != nil {
					return err
				}
			}

			switch len(candidates) {
			case 1:
				outcome = OutcomeMatched
				if e.BoundTo(candidates[0]) {
					return nil
				}
				zap.L().Debug("ngmatch: bound entry",
					zap.Int64("entry_id", e.ID),
					zap.Int64("client_id", e.ClientID),
					zap.Int64("company_id", candidates[0]),
				)
				return tx.SetMatch(ctx, &candidates[0], true)
			case 0:
				outcome = OutcomeUnmatched
			default:
				outcome = OutcomeAmbiguous
			}
			if e.Matched {
				return tx.SetMatch(ctx, e.CompanyID, false)
			}
			return nil
		})
	})
	if errors.Is(err, store.ErrNotFound) {
		// Deleted since it was listed.
		outcome, err = OutcomeSkipped, nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "ngmatch: resolve entry %d", id)
	}
	if m.observer != nil {
		m.observer.ObserveMatch(string(outcome))
	}
	return outcome, nil
}

func merge(a, b Result) Result {
	return Result{
		Examined:  a.Examined + b.Examined,
		Matched:   a.Matched + b.Matched,
		Unmatched: a.Unmatched + b.Unmatched,
		Ambiguous: a.Ambiguous + b.Ambiguous,
	}
}
