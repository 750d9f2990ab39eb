package evaluator_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitpay/keeper/pkg/chain"
	"github.com/orbitpay/keeper/pkg/contracts"
	"github.com/orbitpay/keeper/pkg/evaluator"
)

// countingLedger wraps the memory ledger to observe due predicate calls.
type countingLedger struct {
	*chain.MemoryLedger
	dueCalls int
}

func (c *countingLedger) IsPaymentDue(ctx context.Context, id contracts.ScheduleID) (bool, error) {
	c.dueCalls++
	return c.MemoryLedger.IsPaymentDue(ctx, id)
}

func newFixture(t *testing.T, now time.Time, s contracts.PaymentSchedule) (*countingLedger, *evaluator.Evaluator) {
	t.Helper()
	ledger := &countingLedger{MemoryLedger: chain.NewMemoryLedger().WithClock(func() time.Time { return now })}
	require.NoError(t, ledger.CreateSchedule(s))
	return ledger, evaluator.New(ledger).WithClock(func() time.Time { return now })
}

func TestEvaluate_DueSchedule(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ledger, ev := newFixture(t, now, contracts.PaymentSchedule{
		ID: "sub-1", Payer: "p", Recipient: "r", Amount: 100, Interval: 86400,
		NextPayment: now.Add(-time.Second), MaxExecutions: 3, ExecutionsLeft: 3, IsActive: true,
	})

	res, err := ev.Evaluate(context.Background(), "sub-1")
	require.NoError(t, err)
	assert.True(t, res.Due)
	assert.Equal(t, 1, ledger.dueCalls, "due predicate must be the ledger's, not a local clock")
}

func TestEvaluate_ExhaustedShortCircuits(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ledger, ev := newFixture(t, now, contracts.PaymentSchedule{
		ID: "sub-1", Payer: "p", Recipient: "r", Amount: 100, Interval: 86400,
		NextPayment: now.Add(-time.Second), MaxExecutions: 3, ExecutionsLeft: 0, IsActive: false,
	})

	res, err := ev.Evaluate(context.Background(), "sub-1")
	require.NoError(t, err)
	assert.False(t, res.Due)
	assert.Equal(t, 0, ledger.dueCalls, "terminal schedules must skip the predicate call")
}

func TestEvaluate_FarFutureUsesPreFilter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ledger, ev := newFixture(t, now, contracts.PaymentSchedule{
		ID: "sub-1", Payer: "p", Recipient: "r", Amount: 100, Interval: 86400,
		NextPayment: now.Add(12 * time.Hour), MaxExecutions: 3, ExecutionsLeft: 3, IsActive: true,
	})

	res, err := ev.Evaluate(context.Background(), "sub-1")
	require.NoError(t, err)
	assert.False(t, res.Due)
	assert.Equal(t, 0, ledger.dueCalls)
}

func TestEvaluate_NotFound(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ledger := chain.NewMemoryLedger().WithClock(func() time.Time { return now })
	ev := evaluator.New(ledger).WithClock(func() time.Time { return now })

	_, err := ev.Evaluate(context.Background(), "missing")
	assert.True(t, errors.Is(err, contracts.ErrScheduleNotFound))
}

// Two evaluations with no intervening ledger mutation must agree.
func TestEvaluate_Idempotent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_, ev := newFixture(t, now, contracts.PaymentSchedule{
		ID: "sub-1", Payer: "p", Recipient: "r", Amount: 100, Interval: 86400,
		NextPayment: now.Add(-time.Second), MaxExecutions: 3, ExecutionsLeft: 3, IsActive: true,
	})

	first, err := ev.Evaluate(context.Background(), "sub-1")
	require.NoError(t, err)
	second, err := ev.Evaluate(context.Background(), "sub-1")
	require.NoError(t, err)

	assert.Equal(t, first.Due, second.Due)
	assert.Equal(t, *first.Schedule, *second.Schedule)
}
