package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/payroll/store"
)

func testPeriod(id string, startDay, endDay int) payroll.PayPeriod {
	return payroll.PayPeriod{
		ID:          payroll.PeriodID(id),
		Start:       payroll.NewDate(2025, time.March, startDay),
		End:         payroll.NewDate(2025, time.March, endDay),
		PaymentDate: payroll.NewDate(2025, time.March, endDay),
		Frequency:   payroll.FrequencyWeekly,
		Status:      payroll.PeriodScheduled,
	}
}

func TestSavePayPeriod_RejectsOverlap(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, m.SavePayPeriod(ctx, testPeriod("w1", 3, 9)))

	// Sharing even one day is rejected.
	err := m.SavePayPeriod(ctx, testPeriod("w2", 9, 15))
	assert.ErrorIs(t, err, payroll.ErrPeriodOverlap)

	// Adjacent periods are allowed.
	require.NoError(t, m.SavePayPeriod(ctx, testPeriod("w3", 10, 16)))
}

func TestSavePayPeriod_RejectsInvertedRange(t *testing.T) {
	m := store.NewMemory()

	err := m.SavePayPeriod(context.Background(), testPeriod("bad", 9, 3))
	assert.ErrorIs(t, err, payroll.ErrInvalidPeriod)
}

func TestPeriodLock_SecondAcquireFails(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	acquired, err := m.TryAcquirePeriodLock(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, acquired)

	again, err := m.TryAcquirePeriodLock(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, again)

	require.NoError(t, m.ReleasePeriodLock(ctx, "p1"))

	reacquired, err := m.TryAcquirePeriodLock(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, reacquired)
}

func TestInsertLineItemIfAbsent_DuplicateIsNoOp(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	original := payroll.PayrollLineItem{
		ID: "item-1", RunID: "run-1", EmployeeID: "emp-1",
		Status: payroll.LineItemProcessed,
		NetPay: payroll.MustDecimal("1307.00"),
	}
	inserted, _, err := m.InsertLineItemIfAbsent(ctx, original)
	require.NoError(t, err)
	assert.True(t, inserted)

	// A retry writing a different result for the same (run, employee) key
	// keeps the original.
	retry := original
	retry.ID = "item-2"
	retry.NetPay = payroll.MustDecimal("999.99")

	inserted, existing, err := m.InsertLineItemIfAbsent(ctx, retry)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, payroll.LineItemID("item-1"), existing.ID)
	assert.True(t, existing.NetPay.Equal(payroll.MustDecimal("1307.00")))

	items, err := m.LineItems(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestDiscardLineItems_RemovesOnlyThatRun(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	for _, runID := range []payroll.RunID{"run-1", "run-2"} {
		_, _, err := m.InsertLineItemIfAbsent(ctx, payroll.PayrollLineItem{
			ID: payroll.LineItemID(string(runID) + "-item"), RunID: runID, EmployeeID: "emp-1",
			Status: payroll.LineItemProcessed,
		})
		require.NoError(t, err)
	}

	require.NoError(t, m.DiscardLineItems(ctx, "run-1"))

	gone, err := m.LineItems(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, gone)

	kept, err := m.LineItems(ctx, "run-2")
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}
