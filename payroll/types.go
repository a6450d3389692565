/*
Package payroll provides the core payroll computation and batch processing engine.

PURPOSE:
  This package contains the domain types and algorithms for converting
  compensation profiles, worked-time data, tax rules, and deduction rules
  into per-employee net pay, and for orchestrating that computation across
  an entire pay period with guarantees suitable for financial data.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money helpers: decimal.Decimal amounts rounded half-up to the cent
  - CompensationProfile: how an employee is paid (read-only to this engine)
  - PayPeriod: the date range one payment covers
  - PayrollRun: one processing attempt over a pay period
  - PayrollLineItem: the per-employee result within a run

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal everywhere, never float64 for money
  2. Closed enums: status and kind fields are typed constants, not open strings
  3. Immutability: a line item that reached `processed` is never overwritten;
     recomputation requires a new run
  4. Determinism: per-employee calculation is a pure function of its inputs

SEE ALSO:
  - calculator.go: gross/net composition
  - tax.go: tax rule resolution and application
  - deduction.go: deduction resolution, proration, pre/post-tax split
  - processor.go: batch orchestration and run state machine
*/
package payroll

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - decimal amounts with payroll rounding
// =============================================================================

// RoundCents rounds a monetary amount to 2 decimal places, half-up.
// Every intermediate monetary step is rounded this way so results match
// audit expectations of human-computed payroll.
func RoundCents(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// MustDecimal parses a decimal literal, returning zero on malformed input.
// Intended for constants and fixtures, not request data.
func MustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type PeriodID string
type RunID string
type LineItemID string
type RuleID string

// =============================================================================
// PAY FREQUENCY
// =============================================================================

type PayFrequency string

const (
	FrequencyWeekly      PayFrequency = "weekly"
	FrequencyBiweekly    PayFrequency = "biweekly"
	FrequencySemiMonthly PayFrequency = "semi_monthly"
	FrequencyMonthly     PayFrequency = "monthly"
)

// PeriodsPerYear returns how many pay periods a year contains for a frequency.
func (f PayFrequency) PeriodsPerYear() int64 {
	switch f {
	case FrequencyWeekly:
		return 52
	case FrequencyBiweekly:
		return 26
	case FrequencySemiMonthly:
		return 24
	case FrequencyMonthly:
		return 12
	default:
		return 0
	}
}

// NominalDays returns the nominal span of one period at this frequency.
// Used for deduction proration, where a monthly rule under a biweekly
// payroll is charged ~14/30 of its face value per run.
func (f PayFrequency) NominalDays() int {
	switch f {
	case FrequencyWeekly:
		return 7
	case FrequencyBiweekly:
		return 14
	case FrequencySemiMonthly:
		return 15
	case FrequencyMonthly:
		return 30
	default:
		return 0
	}
}

// =============================================================================
// COMPENSATION PROFILE - owned by HR-side collaborators, read-only here
// =============================================================================

type PayType string

const (
	PaySalaried PayType = "salaried"
	PayHourly   PayType = "hourly"
)

type FilingStatus string

const (
	FilingSingle          FilingStatus = "single"
	FilingMarried         FilingStatus = "married"
	FilingHeadOfHousehold FilingStatus = "head_of_household"
)

// CompensationProfile describes how an employee is paid as of a date.
// For salaried employees BaseRate is the annual salary; for hourly
// employees it is the hourly rate.
type CompensationProfile struct {
	EmployeeID          EmployeeID
	PayType             PayType
	BaseRate            decimal.Decimal
	OvertimeEligible    bool
	StandardHours       decimal.Decimal // contracted hours per period, fallback when time tracking is unavailable
	FilingStatus        FilingStatus
	Exemptions          int
	FederalJurisdiction string // e.g. "US"
	StateJurisdiction   string // e.g. "US-CA"
}

// =============================================================================
// WORKED TIME - supplied by the time-tracking collaborator
// =============================================================================

// WorkedTime is the approved hours for one employee in one pay period.
type WorkedTime struct {
	RegularHours  decimal.Decimal
	OvertimeHours decimal.Decimal

	// Flat gross additions, not subject to the overtime multiplier.
	Bonus      decimal.Decimal
	Commission decimal.Decimal
}

// =============================================================================
// PAY PERIOD
// =============================================================================

type PeriodStatus string

const (
	PeriodScheduled PeriodStatus = "scheduled"
	PeriodOpen      PeriodStatus = "open"
	PeriodClosed    PeriodStatus = "closed"
)

// PayPeriod is a fixed date range over which hours/salary accrue for one
// payment. Start and End are inclusive; End >= Start always holds.
type PayPeriod struct {
	ID          PeriodID
	Start       Date
	End         Date
	PaymentDate Date
	Frequency   PayFrequency
	Status      PeriodStatus
}

// Days returns the inclusive length of the period in days.
func (p PayPeriod) Days() int {
	return DaysBetween(p.Start, p.End) + 1
}

// Contains reports whether d falls within [Start, End].
func (p PayPeriod) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.BeforeOrEqual(p.End)
}

// Validate enforces the structural invariants of a pay period.
func (p PayPeriod) Validate() error {
	if p.End.Before(p.Start) {
		return ErrInvalidPeriod
	}
	if p.PaymentDate.Before(p.Start) {
		return &ValidationError{Field: "payment_date", Reason: "payment date cannot precede period start"}
	}
	return nil
}

// Overlaps reports whether two periods share any day.
// Adjacent periods (one ends the day before the other starts) do not overlap.
func (p PayPeriod) Overlaps(other PayPeriod) bool {
	return p.Start.BeforeOrEqual(other.End) && other.Start.BeforeOrEqual(p.End)
}

// =============================================================================
// PAYROLL RUN - one processing attempt over a pay period
// =============================================================================

type RunStatus string

const (
	RunDraft           RunStatus = "draft"
	RunProcessing      RunStatus = "processing"
	RunProcessed       RunStatus = "processed"
	RunPartiallyFailed RunStatus = "partially_failed"
	RunCancelled       RunStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state of the run
// state machine: draft -> processing -> {processed, partially_failed, cancelled}.
func (s RunStatus) Terminal() bool {
	return s == RunProcessed || s == RunPartiallyFailed || s == RunCancelled
}

// PayrollRun identifies one (PayPeriod, processing attempt). A pay period
// has at most one non-cancelled run at a time, enforced by the period lock.
type PayrollRun struct {
	ID       RunID
	PeriodID PeriodID
	Status   RunStatus

	// Aggregate totals over successful line items only. Populated by a
	// single-writer post-pass after all per-employee work is terminal.
	TotalGross      decimal.Decimal
	TotalDeductions decimal.Decimal
	TotalNet        decimal.Decimal
	ProcessedCount  int
	FailedCount     int

	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// =============================================================================
// PAYROLL LINE ITEM - per-employee result within a run
// =============================================================================

type LineItemStatus string

const (
	LineItemPending   LineItemStatus = "pending"
	LineItemProcessed LineItemStatus = "processed"
	LineItemFailed    LineItemStatus = "failed"
)

// GrossBreakdown itemizes the components of gross pay.
type GrossBreakdown struct {
	Regular    decimal.Decimal
	Overtime   decimal.Decimal
	Bonus      decimal.Decimal
	Commission decimal.Decimal
}

// Total sums the gross components, rounded to the cent.
func (g GrossBreakdown) Total() decimal.Decimal {
	return RoundCents(g.Regular.Add(g.Overtime).Add(g.Bonus).Add(g.Commission))
}

// TaxLine is one computed tax amount, per kind.
type TaxLine struct {
	Kind         TaxKind
	Jurisdiction string
	Amount       decimal.Decimal
}

// DeductionLine is one resolved deduction, after proration.
type DeductionLine struct {
	RuleID RuleID
	Kind   DeductionKind
	PreTax bool
	Amount decimal.Decimal
}

// PayrollLineItem is the per-employee calculation result within a run.
// Unique per (RunID, EmployeeID); never overwritten after reaching
// `processed` - recomputation requires a new run.
type PayrollLineItem struct {
	ID         LineItemID
	RunID      RunID
	EmployeeID EmployeeID
	Status     LineItemStatus

	Gross      GrossBreakdown
	PreTax     decimal.Decimal
	Taxes      []TaxLine
	PostTax    decimal.Decimal
	Deductions []DeductionLine
	NetPay     decimal.Decimal

	// Notes records non-fatal substitutions, e.g. the contracted-hours
	// fallback when time tracking was unavailable.
	Notes []string

	// Failure classification, set only when Status == LineItemFailed.
	FailureKind    string
	FailureMessage string

	CreatedAt time.Time
}

// TaxTotal sums the per-kind tax amounts, rounded to the cent.
func (li *PayrollLineItem) TaxTotal() decimal.Decimal {
	total := decimal.Zero
	for _, t := range li.Taxes {
		total = total.Add(t.Amount)
	}
	return RoundCents(total)
}

// DeductionTotal returns pre-tax + post-tax deductions, rounded to the cent.
func (li *PayrollLineItem) DeductionTotal() decimal.Decimal {
	return RoundCents(li.PreTax.Add(li.PostTax))
}
