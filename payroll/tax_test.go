package payroll_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/payroll/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(s string) decimal.Decimal {
	return payroll.MustDecimal(s)
}

func jan(day int) payroll.Date {
	return payroll.NewDate(2025, time.January, day)
}

func flatRule(id string, jurisdiction string, kind payroll.TaxKind, rate string) payroll.TaxRule {
	return payroll.TaxRule{
		ID:            payroll.RuleID(id),
		Jurisdiction:  jurisdiction,
		Kind:          kind,
		Rate:          dec(rate),
		EffectiveFrom: jan(1),
	}
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func newTaxEngine(t *testing.T, rules ...payroll.TaxRule) *payroll.TaxRuleEngine {
	t.Helper()
	repo := store.NewMemory()
	for _, r := range rules {
		require.NoError(t, repo.AddTaxRule(r))
	}
	return payroll.NewTaxRuleEngine(repo)
}

// =============================================================================
// ROUNDING
// =============================================================================

func TestRoundCents_HalfUp(t *testing.T) {
	assert.True(t, payroll.RoundCents(dec("10.005")).Equal(dec("10.01")))
	assert.True(t, payroll.RoundCents(dec("10.004")).Equal(dec("10.00")))
	assert.True(t, payroll.RoundCents(dec("507.6918")).Equal(dec("507.69")))
	assert.True(t, payroll.RoundCents(dec("143.07678")).Equal(dec("143.08")))
}

// =============================================================================
// FLAT RATE APPLICATION
// =============================================================================

func TestTaxEngine_FlatRate(t *testing.T) {
	engine := newTaxEngine(t, flatRule("fed-2025", "US", payroll.TaxFederalIncome, "0.22"))

	amount, err := engine.Apply(context.Background(), dec("2307.69"), "US", payroll.TaxFederalIncome, jan(22))
	require.NoError(t, err)
	assert.True(t, amount.Equal(dec("507.69")), "got %s", amount)
}

func TestTaxEngine_FlatRate_RoundsHalfUp(t *testing.T) {
	engine := newTaxEngine(t, flatRule("st-2025", "US-CA", payroll.TaxStateIncome, "0.05"))

	// 100.10 * 0.05 = 5.005, which rounds up to 5.01
	amount, err := engine.Apply(context.Background(), dec("100.10"), "US-CA", payroll.TaxStateIncome, jan(22))
	require.NoError(t, err)
	assert.True(t, amount.Equal(dec("5.01")), "got %s", amount)
}

func TestTaxEngine_ZeroRate(t *testing.T) {
	// Jurisdictions without a given tax carry a zero-rate rule rather
	// than omitting one, so resolution still succeeds.
	engine := newTaxEngine(t, flatRule("tx-2025", "US-TX", payroll.TaxStateIncome, "0"))

	amount, err := engine.Apply(context.Background(), dec("5000"), "US-TX", payroll.TaxStateIncome, jan(22))
	require.NoError(t, err)
	assert.True(t, amount.IsZero())
}

func TestTaxEngine_WageCap_ClampsBase(t *testing.T) {
	// GIVEN: 6.2% rule capped at 1000 of wages per period
	// WHEN: Applying to 2000 of taxable wages
	// THEN: Only the first 1000 is taxed

	rule := flatRule("ss-2025", "US", payroll.TaxSocialSecurity, "0.062")
	rule.WageCap = decPtr("1000")
	engine := newTaxEngine(t, rule)

	amount, err := engine.Apply(context.Background(), dec("2000"), "US", payroll.TaxSocialSecurity, jan(22))
	require.NoError(t, err)
	assert.True(t, amount.Equal(dec("62.00")), "got %s", amount)
}

func TestTaxEngine_WageCap_BelowCapUnaffected(t *testing.T) {
	rule := flatRule("ss-2025", "US", payroll.TaxSocialSecurity, "0.062")
	rule.WageCap = decPtr("5000")
	engine := newTaxEngine(t, rule)

	amount, err := engine.Apply(context.Background(), dec("1000"), "US", payroll.TaxSocialSecurity, jan(22))
	require.NoError(t, err)
	assert.True(t, amount.Equal(dec("62.00")), "got %s", amount)
}

// =============================================================================
// BRACKET SCHEDULES
// =============================================================================

func TestTaxEngine_Brackets_ProgressiveAccumulation(t *testing.T) {
	// GIVEN: 10% on 0-1000, 20% above
	// WHEN: Applying to 1500
	// THEN: 1000*0.10 + 500*0.20 = 200

	rule := payroll.TaxRule{
		ID: "fed-brackets", Jurisdiction: "US", Kind: payroll.TaxFederalIncome,
		Brackets: []payroll.TaxBracket{
			{Lower: dec("0"), Upper: decPtr("1000"), Rate: dec("0.10")},
			{Lower: dec("1000"), Rate: dec("0.20")},
		},
		EffectiveFrom: jan(1),
	}
	engine := newTaxEngine(t, rule)

	amount, err := engine.Apply(context.Background(), dec("1500"), "US", payroll.TaxFederalIncome, jan(22))
	require.NoError(t, err)
	assert.True(t, amount.Equal(dec("200.00")), "got %s", amount)
}

func TestTaxEngine_Brackets_AmountWithinFirstBracket(t *testing.T) {
	rule := payroll.TaxRule{
		ID: "fed-brackets", Jurisdiction: "US", Kind: payroll.TaxFederalIncome,
		Brackets: []payroll.TaxBracket{
			{Lower: dec("0"), Upper: decPtr("1000"), Rate: dec("0.10")},
			{Lower: dec("1000"), Rate: dec("0.20")},
		},
		EffectiveFrom: jan(1),
	}
	engine := newTaxEngine(t, rule)

	amount, err := engine.Apply(context.Background(), dec("800"), "US", payroll.TaxFederalIncome, jan(22))
	require.NoError(t, err)
	assert.True(t, amount.Equal(dec("80.00")), "got %s", amount)
}

func TestTaxRule_Validate_RejectsGap(t *testing.T) {
	rule := payroll.TaxRule{
		ID: "bad", Jurisdiction: "US", Kind: payroll.TaxFederalIncome,
		Brackets: []payroll.TaxBracket{
			{Lower: dec("0"), Upper: decPtr("1000"), Rate: dec("0.10")},
			{Lower: dec("1200"), Rate: dec("0.20")}, // gap: 1000-1200 uncovered
		},
		EffectiveFrom: jan(1),
	}

	err := rule.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, payroll.ErrRuleResolution)
}

func TestTaxRule_Validate_RejectsNonZeroFirstBracket(t *testing.T) {
	rule := payroll.TaxRule{
		ID: "bad", Jurisdiction: "US", Kind: payroll.TaxFederalIncome,
		Brackets: []payroll.TaxBracket{
			{Lower: dec("100"), Rate: dec("0.10")},
		},
		EffectiveFrom: jan(1),
	}

	assert.ErrorIs(t, rule.Validate(), payroll.ErrRuleResolution)
}

func TestTaxRule_Validate_RejectsMidScheduleUnbounded(t *testing.T) {
	rule := payroll.TaxRule{
		ID: "bad", Jurisdiction: "US", Kind: payroll.TaxFederalIncome,
		Brackets: []payroll.TaxBracket{
			{Lower: dec("0"), Rate: dec("0.10")},
			{Lower: dec("1000"), Rate: dec("0.20")},
		},
		EffectiveFrom: jan(1),
	}

	assert.ErrorIs(t, rule.Validate(), payroll.ErrRuleResolution)
}

// =============================================================================
// RESOLUTION
// =============================================================================

func TestTaxEngine_Resolve_NoRuleInEffect(t *testing.T) {
	engine := newTaxEngine(t) // empty repository

	_, err := engine.Apply(context.Background(), dec("1000"), "US", payroll.TaxFederalIncome, jan(22))
	require.Error(t, err)
	assert.ErrorIs(t, err, payroll.ErrRuleResolution)

	var resErr *payroll.RuleResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, "US", resErr.Jurisdiction)
}

func TestTaxEngine_Resolve_OverlappingRulesRejected(t *testing.T) {
	engine := newTaxEngine(t,
		flatRule("fed-a", "US", payroll.TaxFederalIncome, "0.22"),
		flatRule("fed-b", "US", payroll.TaxFederalIncome, "0.24"),
	)

	_, err := engine.Apply(context.Background(), dec("1000"), "US", payroll.TaxFederalIncome, jan(22))
	assert.ErrorIs(t, err, payroll.ErrRuleResolution)
}

func TestTaxEngine_Resolve_EffectiveRangeIsHalfOpen(t *testing.T) {
	superseded := flatRule("fed-2024", "US", payroll.TaxFederalIncome, "0.20")
	superseded.EffectiveFrom = payroll.NewDate(2024, time.January, 1)
	to := jan(1)
	superseded.EffectiveTo = &to

	current := flatRule("fed-2025", "US", payroll.TaxFederalIncome, "0.22")
	engine := newTaxEngine(t, superseded, current)

	// On the boundary date the old rule has lapsed and the new one applies.
	rule, err := engine.Resolve(context.Background(), "US", payroll.TaxFederalIncome, jan(1))
	require.NoError(t, err)
	assert.Equal(t, payroll.RuleID("fed-2025"), rule.ID)

	// The day before, only the old rule is in effect.
	rule, err = engine.Resolve(context.Background(), "US", payroll.TaxFederalIncome, payroll.NewDate(2024, time.December, 31))
	require.NoError(t, err)
	assert.Equal(t, payroll.RuleID("fed-2024"), rule.ID)
}

func TestTaxEngine_NegativeTaxableRejected(t *testing.T) {
	engine := newTaxEngine(t, flatRule("fed-2025", "US", payroll.TaxFederalIncome, "0.22"))

	_, err := engine.Apply(context.Background(), dec("-1"), "US", payroll.TaxFederalIncome, jan(22))
	assert.ErrorIs(t, err, payroll.ErrValidation)
}
