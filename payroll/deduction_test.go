package payroll_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/payroll/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// biweeklyJan is a 14-day period, Jan 6-19 2025, paid Wednesday Jan 22.
func biweeklyJan() payroll.PayPeriod {
	return payroll.PayPeriod{
		ID:          "biweekly-2025-01-06",
		Start:       jan(6),
		End:         jan(19),
		PaymentDate: jan(22),
		Frequency:   payroll.FrequencyBiweekly,
		Status:      payroll.PeriodOpen,
	}
}

// semiMonthlyJan is the calendar 1st-15th span, paid Friday Jan 17
// (Jan 18 2025 is a Saturday).
func semiMonthlyJan() payroll.PayPeriod {
	return payroll.PayPeriod{
		ID:          "semi_monthly-2025-01-01",
		Start:       jan(1),
		End:         jan(15),
		PaymentDate: jan(17),
		Frequency:   payroll.FrequencySemiMonthly,
		Status:      payroll.PeriodOpen,
	}
}

func deductionRule(id string, employee string, kind payroll.DeductionKind, amount string, preTax bool, freq payroll.PayFrequency) payroll.DeductionRule {
	return payroll.DeductionRule{
		ID:            payroll.RuleID(id),
		EmployeeID:    payroll.EmployeeID(employee),
		Kind:          kind,
		Amount:        dec(amount),
		PreTax:        preTax,
		Frequency:     freq,
		EffectiveFrom: jan(1),
	}
}

func newDeductionCalculator(t *testing.T, rules ...payroll.DeductionRule) *payroll.DeductionCalculator {
	t.Helper()
	repo := store.NewMemory()
	for _, r := range rules {
		require.NoError(t, repo.AddDeductionRule(r))
	}
	return payroll.NewDeductionCalculator(repo)
}

// =============================================================================
// PRORATION
// =============================================================================

func TestDeductions_MonthlyRuleProratedToBiweeklyPeriod(t *testing.T) {
	// GIVEN: A $200/month health premium and a 14-day biweekly period
	// WHEN: Resolving deductions for the period
	// THEN: The charge is 200 * 14/30 = 93.33, not the full 200

	calc := newDeductionCalculator(t,
		deductionRule("health", "emp-1", payroll.DeductionHealthInsurance, "200", true, payroll.FrequencyMonthly),
	)

	resolved, err := calc.Resolve(context.Background(), "emp-1", biweeklyJan(), dec("2000"))
	require.NoError(t, err)
	assert.True(t, resolved.PreTax.Equal(dec("93.33")), "got %s", resolved.PreTax)
	assert.True(t, resolved.PostTax.IsZero())
}

func TestDeductions_MonthlyRuleProratedToSemiMonthlyPeriod(t *testing.T) {
	// Jan 1-15 is a 15-day span, so the charge is exactly half the premium.
	calc := newDeductionCalculator(t,
		deductionRule("health", "emp-1", payroll.DeductionHealthInsurance, "200", true, payroll.FrequencyMonthly),
	)

	resolved, err := calc.Resolve(context.Background(), "emp-1", semiMonthlyJan(), dec("2000"))
	require.NoError(t, err)
	assert.True(t, resolved.PreTax.Equal(dec("100.00")), "got %s", resolved.PreTax)
}

func TestDeductions_MatchingFrequencyChargedAtFaceValue(t *testing.T) {
	calc := newDeductionCalculator(t,
		deductionRule("health", "emp-1", payroll.DeductionHealthInsurance, "90", true, payroll.FrequencyBiweekly),
	)

	resolved, err := calc.Resolve(context.Background(), "emp-1", biweeklyJan(), dec("2000"))
	require.NoError(t, err)
	assert.True(t, resolved.PreTax.Equal(dec("90.00")), "got %s", resolved.PreTax)
}

func TestDeductions_FinerFrequencyChargedAtFaceValue(t *testing.T) {
	// A weekly rule under a biweekly payroll charges face value per run,
	// never more than face value.
	calc := newDeductionCalculator(t,
		deductionRule("union", "emp-1", payroll.DeductionOther, "15", false, payroll.FrequencyWeekly),
	)

	resolved, err := calc.Resolve(context.Background(), "emp-1", biweeklyJan(), dec("2000"))
	require.NoError(t, err)
	assert.True(t, resolved.PostTax.Equal(dec("15.00")), "got %s", resolved.PostTax)
}

func TestDeductions_PercentageNeverProrated(t *testing.T) {
	// GIVEN: A 5% 401k contribution configured as monthly
	// WHEN: Resolving against a biweekly period with 2000 gross
	// THEN: The charge is a flat 5% of gross, untouched by proration

	rule := deductionRule("401k", "emp-1", payroll.DeductionRetirement, "5", true, payroll.FrequencyMonthly)
	rule.IsPercent = true
	calc := newDeductionCalculator(t, rule)

	resolved, err := calc.Resolve(context.Background(), "emp-1", biweeklyJan(), dec("2000"))
	require.NoError(t, err)
	assert.True(t, resolved.PreTax.Equal(dec("100.00")), "got %s", resolved.PreTax)
}

// =============================================================================
// PRE/POST SPLIT AND ITEMIZATION
// =============================================================================

func TestDeductions_PrePostSplit(t *testing.T) {
	calc := newDeductionCalculator(t,
		deductionRule("health", "emp-1", payroll.DeductionHealthInsurance, "90", true, payroll.FrequencyBiweekly),
		deductionRule("garnish", "emp-1", payroll.DeductionGarnishment, "50", false, payroll.FrequencyBiweekly),
	)

	resolved, err := calc.Resolve(context.Background(), "emp-1", biweeklyJan(), dec("2000"))
	require.NoError(t, err)
	assert.True(t, resolved.PreTax.Equal(dec("90.00")))
	assert.True(t, resolved.PostTax.Equal(dec("50.00")))
	require.Len(t, resolved.Itemized, 2)

	// Itemized output is ordered by rule ID for deterministic re-computation.
	assert.Equal(t, payroll.RuleID("garnish"), resolved.Itemized[0].RuleID)
	assert.Equal(t, payroll.RuleID("health"), resolved.Itemized[1].RuleID)
}

func TestDeductions_ExpiredRuleSkipped(t *testing.T) {
	rule := deductionRule("health", "emp-1", payroll.DeductionHealthInsurance, "90", true, payroll.FrequencyBiweekly)
	to := jan(10) // lapsed before the Jan 22 payment date
	rule.EffectiveTo = &to
	calc := newDeductionCalculator(t, rule)

	resolved, err := calc.Resolve(context.Background(), "emp-1", biweeklyJan(), dec("2000"))
	require.NoError(t, err)
	assert.True(t, resolved.PreTax.IsZero())
	assert.Empty(t, resolved.Itemized)
}

func TestDeductions_NoRulesYieldsZero(t *testing.T) {
	calc := newDeductionCalculator(t)

	resolved, err := calc.Resolve(context.Background(), "emp-1", biweeklyJan(), dec("2000"))
	require.NoError(t, err)
	assert.True(t, resolved.PreTax.IsZero())
	assert.True(t, resolved.PostTax.IsZero())
}

// =============================================================================
// OVERRUN POLICY
// =============================================================================

func TestDeductions_ExceedingGrossFails(t *testing.T) {
	// GIVEN: Fixed deductions totaling more than the period's gross
	// WHEN: Resolving
	// THEN: DeductionExceedsGrossPayError, never negative net pay

	calc := newDeductionCalculator(t,
		deductionRule("garnish", "emp-1", payroll.DeductionGarnishment, "300", false, payroll.FrequencyBiweekly),
	)

	_, err := calc.Resolve(context.Background(), "emp-1", biweeklyJan(), dec("250"))
	require.Error(t, err)
	assert.ErrorIs(t, err, payroll.ErrDeductionExceedsGross)

	var overrun *payroll.DeductionExceedsGrossPayError
	require.ErrorAs(t, err, &overrun)
	assert.Equal(t, payroll.EmployeeID("emp-1"), overrun.EmployeeID)
	assert.True(t, overrun.Deductions.Equal(dec("300.00")))
}

func TestDeductions_ExactlyGrossAllowed(t *testing.T) {
	// The boundary case: deductions equal to gross produce zero net, which
	// is allowed. Only exceeding gross is an error.
	calc := newDeductionCalculator(t,
		deductionRule("garnish", "emp-1", payroll.DeductionGarnishment, "250", false, payroll.FrequencyBiweekly),
	)

	resolved, err := calc.Resolve(context.Background(), "emp-1", biweeklyJan(), dec("250"))
	require.NoError(t, err)
	assert.True(t, resolved.PostTax.Equal(dec("250.00")))
}

func TestDeductionRule_Validate_RejectsNegativeAmount(t *testing.T) {
	rule := deductionRule("bad", "emp-1", payroll.DeductionOther, "0", false, payroll.FrequencyBiweekly)
	rule.Amount = dec("-10")
	assert.ErrorIs(t, rule.Validate(), payroll.ErrRuleResolution)
}
