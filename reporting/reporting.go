/*
Package reporting builds pay-period summaries over the payroll record store.

PURPOSE:
  Downstream consumers (dashboards, exports) want aggregate views of a
  run without replaying line items on every request. This package computes
  the summary and caches it.

CACHE CONTRACT:
  The cache is explicit process-wide state: initialized in NewReporter,
  invalidated by TTL (5 minutes by default), and clearable with Clear.
  There is no implicit memoization; the lifecycle is visible here.

SEE ALSO:
  - payroll/processor.go: produces the runs and line items summarized here
*/
package reporting

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/payroll"
)

// DefaultTTL is the cache lifetime for computed summaries.
const DefaultTTL = 5 * time.Minute

// PeriodSummary aggregates one pay period's latest non-cancelled run.
type PeriodSummary struct {
	PeriodID    payroll.PeriodID
	RunID       payroll.RunID
	RunStatus   payroll.RunStatus
	Start       payroll.Date
	End         payroll.Date
	PaymentDate payroll.Date

	TotalGross      decimal.Decimal
	TotalDeductions decimal.Decimal
	TotalNet        decimal.Decimal
	TaxTotals       map[payroll.TaxKind]decimal.Decimal

	ProcessedCount int
	FailedCount    int

	GeneratedAt time.Time
}

// Reporter computes and caches period summaries.
type Reporter struct {
	store payroll.PayrollRecordStore
	ttl   time.Duration

	mu    sync.Mutex
	cache map[payroll.PeriodID]cachedSummary
}

type cachedSummary struct {
	summary PeriodSummary
	expires time.Time
}

func NewReporter(store payroll.PayrollRecordStore, ttl time.Duration) *Reporter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Reporter{
		store: store,
		ttl:   ttl,
		cache: make(map[payroll.PeriodID]cachedSummary),
	}
}

// PeriodSummary returns the summary for a period, serving from cache while
// fresh. Periods without a non-cancelled run report ErrNotFound.
func (r *Reporter) PeriodSummary(ctx context.Context, periodID payroll.PeriodID) (PeriodSummary, error) {
	r.mu.Lock()
	if entry, ok := r.cache[periodID]; ok && time.Now().Before(entry.expires) {
		r.mu.Unlock()
		return entry.summary, nil
	}
	r.mu.Unlock()

	summary, err := r.compute(ctx, periodID)
	if err != nil {
		return PeriodSummary{}, err
	}

	r.mu.Lock()
	r.cache[periodID] = cachedSummary{summary: summary, expires: time.Now().Add(r.ttl)}
	r.mu.Unlock()
	return summary, nil
}

// Clear drops every cached summary. Call after out-of-band data changes.
func (r *Reporter) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[payroll.PeriodID]cachedSummary)
}

// Invalidate drops a single period's cached summary.
func (r *Reporter) Invalidate(periodID payroll.PeriodID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, periodID)
}

func (r *Reporter) compute(ctx context.Context, periodID payroll.PeriodID) (PeriodSummary, error) {
	period, err := r.store.PayPeriod(ctx, periodID)
	if err != nil {
		return PeriodSummary{}, err
	}
	runs, err := r.store.RunsForPeriod(ctx, periodID)
	if err != nil {
		return PeriodSummary{}, err
	}

	var latest *payroll.PayrollRun
	for i := range runs {
		if runs[i].Status == payroll.RunCancelled {
			continue
		}
		if latest == nil || runs[i].CreatedAt.After(latest.CreatedAt) {
			latest = &runs[i]
		}
	}
	if latest == nil {
		return PeriodSummary{}, payroll.ErrNotFound
	}

	items, err := r.store.LineItems(ctx, latest.ID)
	if err != nil {
		return PeriodSummary{}, err
	}

	taxTotals := make(map[payroll.TaxKind]decimal.Decimal)
	for i := range items {
		if items[i].Status != payroll.LineItemProcessed {
			continue
		}
		for _, t := range items[i].Taxes {
			taxTotals[t.Kind] = taxTotals[t.Kind].Add(t.Amount)
		}
	}
	for kind, total := range taxTotals {
		taxTotals[kind] = payroll.RoundCents(total)
	}

	return PeriodSummary{
		PeriodID:        periodID,
		RunID:           latest.ID,
		RunStatus:       latest.Status,
		Start:           period.Start,
		End:             period.End,
		PaymentDate:     period.PaymentDate,
		TotalGross:      latest.TotalGross,
		TotalDeductions: latest.TotalDeductions,
		TotalNet:        latest.TotalNet,
		TaxTotals:       taxTotals,
		ProcessedCount:  latest.ProcessedCount,
		FailedCount:     latest.FailedCount,
		GeneratedAt:     time.Now().UTC(),
	}, nil
}
