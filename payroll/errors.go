/*
errors.go - Centralized error types for the payroll engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Collaborator implementations should wrap these errors with added context.

ERROR CATEGORIES:
  1. Per-employee errors - recorded in the offending line item, never fatal
     to the batch (validation, deduction overruns, timeouts)
  2. Data-integrity errors - missing/overlapping/malformed rules; recorded
     per-employee but also operator-visible since they indicate a
     configuration gap
  3. Orchestration errors - returned to the batch caller (lock conflicts)

USAGE:
  Callers classify with errors.Is / errors.As:

    if errors.Is(err, payroll.ErrRuleResolution) {
        // configuration gap, alert operators
    }

SEE ALSO:
  - processor.go: maps these onto line-item failure records
  - tax.go, deduction.go, calculator.go: producers of these errors
*/
package payroll

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for bad input data, e.g. a non-positive
	// salary or rate. Local to the offending employee.
	ErrValidation = errors.New("validation failed")

	// ErrRuleResolution is returned when a tax or deduction rule is missing,
	// overlapping, or malformed. A data-integrity defect, not bad user input.
	ErrRuleResolution = errors.New("rule resolution failed")

	// ErrDeductionExceedsGross is returned when resolved deductions would
	// exceed gross pay. The engine errors instead of producing negative net.
	ErrDeductionExceedsGross = errors.New("deductions exceed gross pay")

	// ErrConcurrentRunConflict is returned when the pay period is locked by
	// an actively processing run.
	ErrConcurrentRunConflict = errors.New("pay period already being processed")

	// ErrCalculationTimeout is returned when a per-employee calculation
	// exceeds its bounded timeout after all retries.
	ErrCalculationTimeout = errors.New("calculation timed out")

	// ErrNotFound is returned when a referenced employee, period, run, or
	// line item does not exist.
	ErrNotFound = errors.New("not found")

	// ErrHoursUnavailable is returned by the time-tracking collaborator when
	// approved hours cannot be provided. Triggers the contracted-hours
	// fallback in the calculator; non-fatal.
	ErrHoursUnavailable = errors.New("approved hours unavailable")

	// ErrInvalidPeriod is returned when a pay period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid pay period: end before start")

	// ErrPeriodOverlap is returned when persisting a pay period that shares
	// days with an existing one. Adjacent periods are allowed.
	ErrPeriodOverlap = errors.New("pay period overlaps an existing period")

	// ErrRunNotCancellable is returned when cancelling a run that already
	// reached a terminal state.
	ErrRunNotCancellable = errors.New("run is not in a cancellable state")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports bad input data on a specific field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// RuleResolutionError reports a missing, duplicate, or malformed rule.
type RuleResolutionError struct {
	Jurisdiction string
	Kind         string
	AsOf         Date
	Reason       string
}

func (e *RuleResolutionError) Error() string {
	return fmt.Sprintf("rule resolution failed: %s/%s as of %s: %s",
		e.Jurisdiction, e.Kind, e.AsOf, e.Reason)
}

func (e *RuleResolutionError) Unwrap() error { return ErrRuleResolution }

// DeductionExceedsGrossPayError reports a deduction overrun for one employee.
type DeductionExceedsGrossPayError struct {
	EmployeeID EmployeeID
	Gross      decimal.Decimal
	Deductions decimal.Decimal
}

func (e *DeductionExceedsGrossPayError) Error() string {
	return fmt.Sprintf("deductions %s exceed gross pay %s for employee %s",
		e.Deductions.StringFixed(2), e.Gross.StringFixed(2), e.EmployeeID)
}

func (e *DeductionExceedsGrossPayError) Unwrap() error { return ErrDeductionExceedsGross }

// ConcurrentRunConflictError reports a lock conflict with an active run.
type ConcurrentRunConflictError struct {
	PeriodID    PeriodID
	ActiveRunID RunID
}

func (e *ConcurrentRunConflictError) Error() string {
	return fmt.Sprintf("pay period %s is locked by active run %s", e.PeriodID, e.ActiveRunID)
}

func (e *ConcurrentRunConflictError) Unwrap() error { return ErrConcurrentRunConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// FailureKind classifies an error for line-item failure records.
func FailureKind(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrRuleResolution):
		return "rule_resolution_error"
	case errors.Is(err, ErrDeductionExceedsGross):
		return "deduction_exceeds_gross_pay_error"
	case errors.Is(err, ErrCalculationTimeout):
		return "calculation_timeout_error"
	case errors.Is(err, ErrNotFound):
		return "not_found_error"
	default:
		return "internal_error"
	}
}

// IsOperatorAlert reports whether the error indicates a configuration gap
// that should be surfaced to operators, not just recorded per-employee.
func IsOperatorAlert(err error) bool {
	return errors.Is(err, ErrRuleResolution)
}

// IsClientError reports whether the error is due to invalid input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrPeriodOverlap) ||
		errors.Is(err, ErrRunNotCancellable)
}

// IsNotFound reports whether the error indicates a missing resource.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
