/*
collaborators.go - Interfaces to external collaborators

PURPOSE:
  The engine consumes employee data, approved hours, rules, durable
  records, and an event sink through these interfaces. HTTP routing,
  persistence mechanics, and notification delivery live behind them.

GUARANTEES ASSUMED OF THE RECORD STORE:
  - At most one line item per (run, employee): InsertLineItemIfAbsent is
    keyed on that pair, and a duplicate insert is success-no-op, so
    concurrent or retried workers can never double-post.
  - The period lock is exclusive: TryAcquirePeriodLock returns false while
    another holder has it, and the holder releases it on every terminal
    transition.

IMPLEMENTATIONS:
  - payroll/store: in-memory (tests, dev)
  - store/sqlite: durable SQLite

SEE ALSO:
  - processor.go: the only component that writes through PayrollRecordStore
*/
package payroll

import "context"

// =============================================================================
// EMPLOYEE DIRECTORY
// =============================================================================

// EmployeeDirectory resolves compensation profiles. Implementations return
// an error wrapping ErrNotFound if the employee does not exist or is
// inactive as of the date.
type EmployeeDirectory interface {
	CompensationProfile(ctx context.Context, id EmployeeID, asOf Date) (CompensationProfile, error)
}

// =============================================================================
// TIME TRACKING
// =============================================================================

// TimeTrackingService supplies approved hours for a pay period.
// An error wrapping ErrHoursUnavailable triggers the calculator's
// contracted-hours fallback; any other error is fatal for that employee.
type TimeTrackingService interface {
	ApprovedHours(ctx context.Context, id EmployeeID, period PayPeriod) (WorkedTime, error)
}

// =============================================================================
// RULE REPOSITORY
// =============================================================================

// RuleRepository supplies the tax and deduction rules the engines resolve
// against. Rules are immutable once effective; supersession is a new row.
type RuleRepository interface {
	// TaxRules returns all rules for a jurisdiction that could be in effect
	// at asOf. The engine narrows to kind and checks uniqueness.
	TaxRules(ctx context.Context, jurisdiction string, asOf Date) ([]TaxRule, error)

	// DeductionRules returns all rules for an employee that could be active
	// at asOf.
	DeductionRules(ctx context.Context, id EmployeeID, asOf Date) ([]DeductionRule, error)
}

// =============================================================================
// PAYROLL RECORD STORE
// =============================================================================

// PayrollRecordStore is the durable home of pay periods, runs, and line
// items, with the uniqueness and lock guarantees the processor relies on.
type PayrollRecordStore interface {
	// Pay periods
	SavePayPeriod(ctx context.Context, p PayPeriod) error
	PayPeriod(ctx context.Context, id PeriodID) (PayPeriod, error)
	ListPayPeriods(ctx context.Context) ([]PayPeriod, error)
	UpdatePayPeriodStatus(ctx context.Context, id PeriodID, status PeriodStatus) error

	// Runs
	SaveRun(ctx context.Context, run PayrollRun) error
	Run(ctx context.Context, id RunID) (PayrollRun, error)
	RunsForPeriod(ctx context.Context, id PeriodID) ([]PayrollRun, error)

	// Period lock. Exclusive for the lifetime of `processing`; released on
	// any terminal transition.
	TryAcquirePeriodLock(ctx context.Context, id PeriodID) (bool, error)
	ReleasePeriodLock(ctx context.Context, id PeriodID) error

	// Line items. Insert-if-absent keyed by (run, employee); a duplicate
	// attempt returns inserted=false and the existing item, not an error.
	InsertLineItemIfAbsent(ctx context.Context, item PayrollLineItem) (inserted bool, existing PayrollLineItem, err error)
	LineItems(ctx context.Context, runID RunID) ([]PayrollLineItem, error)

	// DiscardLineItems removes the line items of a cancelled run. Only legal
	// for cancelled runs; a cancelled run produces no line items.
	DiscardLineItems(ctx context.Context, runID RunID) error
}

// =============================================================================
// EVENT SINK
// =============================================================================

// RunEvent notifies downstream collaborators of a run-level terminal
// transition. Delivery is fire-and-forget; failures never affect run status.
type RunEvent struct {
	RunID    RunID
	PeriodID PeriodID
	Status   RunStatus
}

type PayrollEventSink interface {
	RunCompleted(ctx context.Context, event RunEvent) error
}

// NopEventSink discards events. Used when no downstream collaborator is wired.
type NopEventSink struct{}

func (NopEventSink) RunCompleted(context.Context, RunEvent) error { return nil }
