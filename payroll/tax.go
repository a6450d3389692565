/*
tax.go - Tax rule resolution and application

PURPOSE:
  Resolves the tax rule in effect for a (jurisdiction, kind, date) and
  applies it to a taxable amount. Supports flat rates with optional wage
  caps (contribution ceilings) and progressive bracket schedules.

RULE LIFECYCLE:
  Rules are immutable once effective. A rate change is a new rule with a
  later effective date, never an edit in place. Effective ranges are
  half-open [From, To); a nil To means open-ended.

VALIDATION:
  Bracket schedules are validated at load time (sorted, contiguous, no
  gaps or overlaps). Calculation never encounters a malformed schedule;
  it only encounters missing or ambiguous rules, which are data-integrity
  errors, not user errors.

ROUNDING:
  Every per-kind amount is rounded to the nearest cent (half-up) before
  being summed into totals.

SEE ALSO:
  - calculator.go: invokes Apply per tax kind on the taxable base
  - collaborators.go: RuleRepository supplies candidate rules
*/
package payroll

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TAX RULE
// =============================================================================

type TaxKind string

const (
	TaxFederalIncome  TaxKind = "federal_income"
	TaxStateIncome    TaxKind = "state_income"
	TaxSocialSecurity TaxKind = "social_security"
	TaxMedicare       TaxKind = "medicare"
)

// AllTaxKinds lists the kinds every calculation resolves. Jurisdictions
// without a given tax configure a zero-rate rule rather than omitting one.
var AllTaxKinds = []TaxKind{TaxFederalIncome, TaxStateIncome, TaxSocialSecurity, TaxMedicare}

// TaxBracket taxes the portion of the amount within [Lower, Upper).
// A nil Upper marks the top bracket.
type TaxBracket struct {
	Lower decimal.Decimal
	Upper *decimal.Decimal
	Rate  decimal.Decimal
}

// TaxRule is either a flat rate (Brackets empty) or a progressive bracket
// schedule. WageCap, when set on a flat rule, models a contribution
// ceiling: the amount beyond the cap is taxed at zero for that kind.
type TaxRule struct {
	ID           RuleID
	Jurisdiction string
	Kind         TaxKind
	Rate         decimal.Decimal
	Brackets     []TaxBracket
	WageCap      *decimal.Decimal

	// Effective range [From, To). Nil To means open-ended.
	EffectiveFrom Date
	EffectiveTo   *Date
}

// InEffect reports whether the rule covers the given date.
func (r TaxRule) InEffect(asOf Date) bool {
	if asOf.Before(r.EffectiveFrom) {
		return false
	}
	return r.EffectiveTo == nil || asOf.Before(*r.EffectiveTo)
}

// Validate checks structural integrity. Bracket schedules must be sorted
// and contiguous; a gap or overlap is a RuleResolutionError at load time,
// not at calculation time.
func (r TaxRule) Validate() error {
	if r.EffectiveTo != nil && !r.EffectiveFrom.Before(*r.EffectiveTo) {
		return &RuleResolutionError{
			Jurisdiction: r.Jurisdiction, Kind: string(r.Kind), AsOf: r.EffectiveFrom,
			Reason: "effective range is empty",
		}
	}
	if len(r.Brackets) == 0 {
		if r.Rate.IsNegative() {
			return &RuleResolutionError{
				Jurisdiction: r.Jurisdiction, Kind: string(r.Kind), AsOf: r.EffectiveFrom,
				Reason: "negative flat rate",
			}
		}
		return nil
	}

	if !r.Brackets[0].Lower.IsZero() {
		return &RuleResolutionError{
			Jurisdiction: r.Jurisdiction, Kind: string(r.Kind), AsOf: r.EffectiveFrom,
			Reason: "first bracket must start at zero",
		}
	}
	for i, b := range r.Brackets {
		if b.Rate.IsNegative() {
			return &RuleResolutionError{
				Jurisdiction: r.Jurisdiction, Kind: string(r.Kind), AsOf: r.EffectiveFrom,
				Reason: "negative bracket rate",
			}
		}
		last := i == len(r.Brackets)-1
		if last {
			if b.Upper != nil && !b.Upper.GreaterThan(b.Lower) {
				return &RuleResolutionError{
					Jurisdiction: r.Jurisdiction, Kind: string(r.Kind), AsOf: r.EffectiveFrom,
					Reason: "empty top bracket",
				}
			}
			continue
		}
		if b.Upper == nil {
			return &RuleResolutionError{
				Jurisdiction: r.Jurisdiction, Kind: string(r.Kind), AsOf: r.EffectiveFrom,
				Reason: "only the top bracket may be unbounded",
			}
		}
		if !b.Upper.GreaterThan(b.Lower) {
			return &RuleResolutionError{
				Jurisdiction: r.Jurisdiction, Kind: string(r.Kind), AsOf: r.EffectiveFrom,
				Reason: "bracket upper bound must exceed lower bound",
			}
		}
		// Contiguity: next bracket must start exactly where this one ends.
		if !r.Brackets[i+1].Lower.Equal(*b.Upper) {
			return &RuleResolutionError{
				Jurisdiction: r.Jurisdiction, Kind: string(r.Kind), AsOf: r.EffectiveFrom,
				Reason: "brackets must be contiguous (gap or overlap detected)",
			}
		}
	}
	return nil
}

// =============================================================================
// TAX RULE ENGINE
// =============================================================================

// TaxRuleEngine resolves and applies tax rules through a RuleRepository.
type TaxRuleEngine struct {
	Rules RuleRepository
}

func NewTaxRuleEngine(rules RuleRepository) *TaxRuleEngine {
	return &TaxRuleEngine{Rules: rules}
}

// Resolve returns the unique rule in effect for (jurisdiction, kind) at
// asOf. Zero matches or more than one overlapping match is a
// RuleResolutionError: the former is a configuration gap, the latter a
// data-integrity violation.
func (e *TaxRuleEngine) Resolve(ctx context.Context, jurisdiction string, kind TaxKind, asOf Date) (TaxRule, error) {
	candidates, err := e.Rules.TaxRules(ctx, jurisdiction, asOf)
	if err != nil {
		return TaxRule{}, err
	}

	var matches []TaxRule
	for _, r := range candidates {
		if r.Kind == kind && r.InEffect(asOf) {
			matches = append(matches, r)
		}
	}

	switch len(matches) {
	case 0:
		return TaxRule{}, &RuleResolutionError{
			Jurisdiction: jurisdiction, Kind: string(kind), AsOf: asOf,
			Reason: "no rule in effect",
		}
	case 1:
		return matches[0], nil
	default:
		return TaxRule{}, &RuleResolutionError{
			Jurisdiction: jurisdiction, Kind: string(kind), AsOf: asOf,
			Reason: "multiple overlapping rules in effect",
		}
	}
}

// Apply computes the tax for taxable under the rule in effect, rounded to
// the cent. Negative taxable amounts are a validation error.
func (e *TaxRuleEngine) Apply(ctx context.Context, taxable decimal.Decimal, jurisdiction string, kind TaxKind, asOf Date) (decimal.Decimal, error) {
	if taxable.IsNegative() {
		return decimal.Zero, &ValidationError{Field: "taxable_amount", Reason: "must not be negative"}
	}

	rule, err := e.Resolve(ctx, jurisdiction, kind, asOf)
	if err != nil {
		return decimal.Zero, err
	}
	return ApplyRule(rule, taxable), nil
}

// ApplyRule computes the tax for taxable under an already-resolved rule.
// Exposed so callers holding validated rules can compute without a repository.
func ApplyRule(rule TaxRule, taxable decimal.Decimal) decimal.Decimal {
	if len(rule.Brackets) == 0 {
		base := taxable
		if rule.WageCap != nil && base.GreaterThan(*rule.WageCap) {
			base = *rule.WageCap
		}
		return RoundCents(base.Mul(rule.Rate))
	}

	// Progressive accumulation: each bracket taxes only the portion of the
	// amount within its bounds.
	total := decimal.Zero
	for _, b := range rule.Brackets {
		if taxable.LessThanOrEqual(b.Lower) {
			break
		}
		upper := taxable
		if b.Upper != nil && upper.GreaterThan(*b.Upper) {
			upper = *b.Upper
		}
		portion := upper.Sub(b.Lower)
		total = total.Add(portion.Mul(b.Rate))
	}
	return RoundCents(total)
}
