/*
calculator.go - Per-employee payroll calculation

PURPOSE:
  Composes gross-pay computation, pre-tax deductions, tax computation, and
  post-tax deductions into one per-employee result. The calculation is a
  pure function of its inputs (profile, period, worked time, rules), which
  is what makes deterministic re-computation and parallel execution safe.

COMPOSITION:
  gross   = regular + overtime + bonus + commission
  taxable = gross - pre-tax deductions
  net     = taxable - taxes(taxable) - post-tax deductions

  Each monetary step is rounded to the cent, half-up.

FALLBACK:
  For hourly employees, approved hours come from the time-tracking
  collaborator. If it reports ErrHoursUnavailable, the employee's
  contracted standard hours substitute, and the substitution is recorded
  in the line item's notes (non-fatal).

ERRORS:
  ValidationError for non-positive salary/rate. RuleResolutionError and
  DeductionExceedsGrossPayError propagate from collaborators unchanged;
  this component does not mask sub-component errors.

SEE ALSO:
  - tax.go, deduction.go: the composed sub-engines
  - processor.go: fans this out over a worker pool
*/
package payroll

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var overtimeMultiplier = MustDecimal("1.5")

// PayrollCalculator computes one line item for one employee in one period.
type PayrollCalculator struct {
	Taxes        *TaxRuleEngine
	Deductions   *DeductionCalculator
	TimeTracking TimeTrackingService
}

func NewPayrollCalculator(taxes *TaxRuleEngine, deductions *DeductionCalculator, timeTracking TimeTrackingService) *PayrollCalculator {
	return &PayrollCalculator{Taxes: taxes, Deductions: deductions, TimeTracking: timeTracking}
}

// Calculate computes the line item body for an employee. The returned item
// has no ID, RunID, or status; the processor owns those.
func (c *PayrollCalculator) Calculate(ctx context.Context, profile CompensationProfile, period PayPeriod) (PayrollLineItem, error) {
	item := PayrollLineItem{EmployeeID: profile.EmployeeID}

	worked, note, err := c.workedTime(ctx, profile, period)
	if err != nil {
		return PayrollLineItem{}, err
	}
	if note != "" {
		item.Notes = append(item.Notes, note)
	}

	gross, err := grossPay(profile, period, worked)
	if err != nil {
		return PayrollLineItem{}, err
	}
	item.Gross = gross
	grossTotal := gross.Total()

	resolved, err := c.Deductions.Resolve(ctx, profile.EmployeeID, period, grossTotal)
	if err != nil {
		return PayrollLineItem{}, err
	}
	item.PreTax = resolved.PreTax
	item.PostTax = resolved.PostTax
	item.Deductions = resolved.Itemized

	taxable := grossTotal.Sub(resolved.PreTax)
	for _, kind := range AllTaxKinds {
		jurisdiction := profile.FederalJurisdiction
		if kind == TaxStateIncome {
			jurisdiction = profile.StateJurisdiction
		}
		amount, err := c.Taxes.Apply(ctx, taxable, jurisdiction, kind, period.PaymentDate)
		if err != nil {
			return PayrollLineItem{}, err
		}
		item.Taxes = append(item.Taxes, TaxLine{Kind: kind, Jurisdiction: jurisdiction, Amount: amount})
	}

	item.NetPay = RoundCents(taxable.Sub(item.TaxTotal()).Sub(resolved.PostTax))
	return item, nil
}

// workedTime fetches approved hours for hourly employees, falling back to
// the contracted standard hours when the collaborator is unavailable.
// Salaried employees still pass through for bonus/commission components.
func (c *PayrollCalculator) workedTime(ctx context.Context, profile CompensationProfile, period PayPeriod) (WorkedTime, string, error) {
	if c.TimeTracking == nil {
		return WorkedTime{}, "", nil
	}
	worked, err := c.TimeTracking.ApprovedHours(ctx, profile.EmployeeID, period)
	if err == nil {
		return worked, "", nil
	}
	if errors.Is(err, ErrHoursUnavailable) {
		// Salaried pay does not depend on hours; missing timesheets only
		// matter (and get noted) for hourly employees.
		if profile.PayType != PayHourly {
			return WorkedTime{}, "", nil
		}
		fallback := WorkedTime{RegularHours: profile.StandardHours}
		note := fmt.Sprintf("time tracking unavailable; substituted contracted standard hours (%s)",
			profile.StandardHours.String())
		return fallback, note, nil
	}
	return WorkedTime{}, "", err
}

// grossPay computes the gross breakdown for one period.
func grossPay(profile CompensationProfile, period PayPeriod, worked WorkedTime) (GrossBreakdown, error) {
	g := GrossBreakdown{
		Regular:    decimal.Zero,
		Overtime:   decimal.Zero,
		Bonus:      RoundCents(worked.Bonus),
		Commission: RoundCents(worked.Commission),
	}

	switch profile.PayType {
	case PaySalaried:
		if !profile.BaseRate.IsPositive() {
			return GrossBreakdown{}, &ValidationError{Field: "salary", Reason: "must be positive"}
		}
		periods := period.Frequency.PeriodsPerYear()
		if periods == 0 {
			return GrossBreakdown{}, &ValidationError{Field: "frequency", Reason: "unknown pay frequency"}
		}
		g.Regular = RoundCents(profile.BaseRate.Div(decimal.NewFromInt(periods)))

	case PayHourly:
		if !profile.BaseRate.IsPositive() {
			return GrossBreakdown{}, &ValidationError{Field: "hourly_rate", Reason: "must be positive"}
		}
		if worked.RegularHours.IsNegative() || worked.OvertimeHours.IsNegative() {
			return GrossBreakdown{}, &ValidationError{Field: "hours", Reason: "must not be negative"}
		}
		g.Regular = RoundCents(profile.BaseRate.Mul(worked.RegularHours))
		// Ineligible employees are paid overtime hours at straight time.
		otRate := profile.BaseRate
		if profile.OvertimeEligible {
			otRate = profile.BaseRate.Mul(overtimeMultiplier)
		}
		g.Overtime = RoundCents(otRate.Mul(worked.OvertimeHours))

	default:
		return GrossBreakdown{}, &ValidationError{Field: "pay_type", Reason: "unknown pay type"}
	}

	return g, nil
}
