/*
schedule.go - Canonical pay period generation

PURPOSE:
  Generates the canonical, non-overlapping sequence of pay periods for a
  frequency and anchor date. Generation is finite and restartable: callers
  may request more periods from the same anchor without side effects.

SPANS:
  weekly        7-day spans from the anchor
  biweekly      14-day spans from the anchor
  semi-monthly  calendar 1st-15th and 16th-end-of-month
  monthly       calendar month spans

PAYMENT DATE:
  period end + configured lag, shifted to the preceding business day when
  it lands on a non-business day. The business-day predicate is injected;
  the default excludes weekends only, holiday calendars extend it.

SEE ALSO:
  - types.go: PayPeriod invariants
  - api/scheduler.go: background maintenance over generated periods
*/
package payroll

import "fmt"

// PayPeriodScheduler generates pay period sequences.
type PayPeriodScheduler struct {
	// PaymentLagDays is added to the period end to produce the payment date.
	PaymentLagDays int

	// IsBusinessDay decides payment-date shifting. Nil means weekdays only.
	IsBusinessDay BusinessDayFunc
}

func NewPayPeriodScheduler(lagDays int) *PayPeriodScheduler {
	return &PayPeriodScheduler{PaymentLagDays: lagDays, IsBusinessDay: WeekdayBusinessDays}
}

// Generate returns `count` consecutive pay periods starting from the period
// containing (or starting at) the anchor. Consecutive periods are contiguous:
// period n+1 starts the day after period n ends.
func (s *PayPeriodScheduler) Generate(frequency PayFrequency, anchor Date, count int) ([]PayPeriod, error) {
	if count <= 0 {
		return nil, &ValidationError{Field: "count", Reason: "must be positive"}
	}

	var periods []PayPeriod
	start := s.firstStart(frequency, anchor)
	for i := 0; i < count; i++ {
		end, err := periodEnd(frequency, start)
		if err != nil {
			return nil, err
		}
		periods = append(periods, PayPeriod{
			ID:          PeriodID(fmt.Sprintf("%s-%s", frequency, start)),
			Start:       start,
			End:         end,
			PaymentDate: s.paymentDate(end),
			Frequency:   frequency,
			Status:      PeriodScheduled,
		})
		start = end.AddDays(1)
	}
	return periods, nil
}

// firstStart normalizes the anchor onto a period boundary. Weekly and
// biweekly sequences start at the anchor itself; calendar-based
// frequencies snap to the boundary containing the anchor.
func (s *PayPeriodScheduler) firstStart(frequency PayFrequency, anchor Date) Date {
	switch frequency {
	case FrequencySemiMonthly:
		if anchor.Day() < 16 {
			return StartOfMonth(anchor)
		}
		return NewDate(anchor.Year(), anchor.Month(), 16)
	case FrequencyMonthly:
		return StartOfMonth(anchor)
	default:
		return anchor
	}
}

func periodEnd(frequency PayFrequency, start Date) (Date, error) {
	switch frequency {
	case FrequencyWeekly:
		return start.AddDays(6), nil
	case FrequencyBiweekly:
		return start.AddDays(13), nil
	case FrequencySemiMonthly:
		if start.Day() == 1 {
			return NewDate(start.Year(), start.Month(), 15), nil
		}
		return EndOfMonth(start), nil
	case FrequencyMonthly:
		return EndOfMonth(start), nil
	default:
		return Date{}, &ValidationError{Field: "frequency", Reason: "unknown pay frequency"}
	}
}

// paymentDate applies the lag and shifts backwards to a business day.
func (s *PayPeriodScheduler) paymentDate(end Date) Date {
	isBusinessDay := s.IsBusinessDay
	if isBusinessDay == nil {
		isBusinessDay = WeekdayBusinessDays
	}
	d := end.AddDays(s.PaymentLagDays)
	for !isBusinessDay(d) {
		d = d.AddDays(-1)
	}
	return d
}
