/*
deduction.go - Deduction rule resolution, proration, and pre/post-tax split

PURPOSE:
  Selects the deduction rules active for an employee on the pay period's
  payment date, prorates each to the pay frequency, and splits the result
  into pre-tax (reduces the taxable base) and post-tax (subtracted after
  tax) buckets.

PRORATION:
  A rule whose frequency is coarser than the pay frequency (e.g. a monthly
  deduction under a biweekly payroll) is charged actual_period_days /
  rule_nominal_days of its face value per run, so a $200 monthly premium
  under a 14-day period costs ~$93.33 per run, not $200. Rules at or finer
  than the pay frequency are charged at face value per run. Percentage
  rules scale with gross and are never prorated.

OVERRUN POLICY:
  If the deduction total would exceed gross pay the calculator fails with
  DeductionExceedsGrossPayError rather than silently producing negative
  net pay. Clamping and negative carry-forward were considered and
  rejected; the error is the documented choice.

SEE ALSO:
  - calculator.go: consumes the pre/post split
  - collaborators.go: RuleRepository supplies active rules
*/
package payroll

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DEDUCTION RULE
// =============================================================================

type DeductionKind string

const (
	DeductionHealthInsurance DeductionKind = "health_insurance"
	DeductionDentalInsurance DeductionKind = "dental_insurance"
	DeductionVisionInsurance DeductionKind = "vision_insurance"
	DeductionRetirement      DeductionKind = "retirement_401k"
	DeductionGarnishment     DeductionKind = "garnishment"
	DeductionOther           DeductionKind = "other"
)

// DeductionRule is one recurring deduction for one employee. Multiple
// active rules per employee are allowed and summed.
type DeductionRule struct {
	ID         RuleID
	EmployeeID EmployeeID
	Kind       DeductionKind

	// Amount is a currency amount when IsPercent is false, or a percentage
	// of gross (e.g. 5 means 5%) when IsPercent is true.
	Amount    decimal.Decimal
	IsPercent bool

	PreTax    bool
	Frequency PayFrequency

	// Effective range [From, To). Nil To means open-ended.
	EffectiveFrom Date
	EffectiveTo   *Date
}

// InEffect reports whether the rule is active on the given date.
func (r DeductionRule) InEffect(asOf Date) bool {
	if asOf.Before(r.EffectiveFrom) {
		return false
	}
	return r.EffectiveTo == nil || asOf.Before(*r.EffectiveTo)
}

// Validate checks structural integrity at load time.
func (r DeductionRule) Validate() error {
	if r.Amount.IsNegative() {
		return &RuleResolutionError{
			Jurisdiction: string(r.EmployeeID), Kind: string(r.Kind), AsOf: r.EffectiveFrom,
			Reason: "negative deduction amount",
		}
	}
	if r.EffectiveTo != nil && !r.EffectiveFrom.Before(*r.EffectiveTo) {
		return &RuleResolutionError{
			Jurisdiction: string(r.EmployeeID), Kind: string(r.Kind), AsOf: r.EffectiveFrom,
			Reason: "effective range is empty",
		}
	}
	if r.Frequency.NominalDays() == 0 {
		return &RuleResolutionError{
			Jurisdiction: string(r.EmployeeID), Kind: string(r.Kind), AsOf: r.EffectiveFrom,
			Reason: "unknown deduction frequency",
		}
	}
	return nil
}

// =============================================================================
// DEDUCTION CALCULATOR
// =============================================================================

// DeductionCalculator resolves active rules and produces the per-run
// pre-tax/post-tax amounts.
type DeductionCalculator struct {
	Rules RuleRepository
}

func NewDeductionCalculator(rules RuleRepository) *DeductionCalculator {
	return &DeductionCalculator{Rules: rules}
}

// Resolved is the outcome of deduction resolution for one employee and run.
type Resolved struct {
	PreTax   decimal.Decimal
	PostTax  decimal.Decimal
	Itemized []DeductionLine
}

// Resolve selects the rules active on the period's payment date, prorates
// each against the pay period, and splits the totals. Fails with
// DeductionExceedsGrossPayError if the total would exceed gross.
func (c *DeductionCalculator) Resolve(ctx context.Context, employeeID EmployeeID, period PayPeriod, gross decimal.Decimal) (Resolved, error) {
	rules, err := c.Rules.DeductionRules(ctx, employeeID, period.PaymentDate)
	if err != nil {
		return Resolved{}, err
	}

	// Deterministic ordering keeps itemized output (and rounding) stable
	// across retries of the same run.
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })

	out := Resolved{PreTax: decimal.Zero, PostTax: decimal.Zero}
	for _, rule := range rules {
		if !rule.InEffect(period.PaymentDate) {
			continue
		}
		if err := rule.Validate(); err != nil {
			return Resolved{}, err
		}

		amount := proratedAmount(rule, period, gross)
		if amount.IsZero() {
			continue
		}

		out.Itemized = append(out.Itemized, DeductionLine{
			RuleID: rule.ID,
			Kind:   rule.Kind,
			PreTax: rule.PreTax,
			Amount: amount,
		})
		if rule.PreTax {
			out.PreTax = out.PreTax.Add(amount)
		} else {
			out.PostTax = out.PostTax.Add(amount)
		}
	}

	out.PreTax = RoundCents(out.PreTax)
	out.PostTax = RoundCents(out.PostTax)

	if out.PreTax.Add(out.PostTax).GreaterThan(gross) {
		return Resolved{}, &DeductionExceedsGrossPayError{
			EmployeeID: employeeID,
			Gross:      gross,
			Deductions: out.PreTax.Add(out.PostTax),
		}
	}
	return out, nil
}

// proratedAmount charges the rule's face value per run when its frequency
// is at or finer than the pay frequency, and actual_days/nominal_days of
// face value when coarser.
func proratedAmount(rule DeductionRule, period PayPeriod, gross decimal.Decimal) decimal.Decimal {
	if rule.IsPercent {
		return RoundCents(gross.Mul(rule.Amount).Div(decimal.NewFromInt(100)))
	}

	ruleDays := rule.Frequency.NominalDays()
	payDays := period.Frequency.NominalDays()
	if ruleDays <= payDays {
		return RoundCents(rule.Amount)
	}

	ratio := decimal.NewFromInt(int64(period.Days())).Div(decimal.NewFromInt(int64(ruleDays)))
	return RoundCents(rule.Amount.Mul(ratio))
}
