package guard_test

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitpay/keeper/pkg/chain"
	"github.com/orbitpay/keeper/pkg/contracts"
	"github.com/orbitpay/keeper/pkg/guard"
)

func newGuard(t *testing.T, now time.Time, grant contracts.AuthorizationGrant) *guard.SpendingGuard {
	t.Helper()
	ledger := chain.NewMemoryLedger().WithClock(func() time.Time { return now })
	ledger.SetPermissions(grant)
	return guard.NewSpendingGuard(ledger).WithClock(func() time.Time { return now })
}

func TestAuthorize_Allowed(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := newGuard(t, now, contracts.AuthorizationGrant{
		Payer:               "payer-1",
		MaxAmountPerPayment: 200,
		MaxTotalAmount:      1000,
		TotalSpent:          100,
		IsApproved:          true,
		ApprovedUntil:       now.Add(time.Hour),
	})

	decision, err := g.Authorize(context.Background(), "payer-1", 150)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	require.NotNil(t, decision.Receipt)
	assert.Equal(t, "allowed", decision.Receipt.Action)
	assert.NotEmpty(t, decision.Receipt.ID)
}

func TestAuthorize_DenyReasons(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	base := contracts.AuthorizationGrant{
		Payer:               "payer-1",
		MaxAmountPerPayment: 200,
		MaxTotalAmount:      1000,
		IsApproved:          true,
		ApprovedUntil:       now.Add(time.Hour),
	}

	tests := []struct {
		name   string
		mutate func(*contracts.AuthorizationGrant)
		amount int64
		want   contracts.DenyReason
	}{
		{
			name:   "expired grant",
			mutate: func(g *contracts.AuthorizationGrant) { g.ApprovedUntil = now.Add(-time.Minute) },
			amount: 50,
			want:   contracts.DenyExpired,
		},
		{
			name:   "not approved",
			mutate: func(g *contracts.AuthorizationGrant) { g.IsApproved = false },
			amount: 50,
			want:   contracts.DenyNotApproved,
		},
		{
			name:   "per payment limit",
			mutate: func(g *contracts.AuthorizationGrant) {},
			amount: 201,
			want:   contracts.DenyPerPaymentLimit,
		},
		{
			name:   "cumulative limit",
			mutate: func(g *contracts.AuthorizationGrant) { g.TotalSpent = 950 },
			amount: 100,
			want:   contracts.DenyCumulativeLimit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			grant := base
			tt.mutate(&grant)
			g := newGuard(t, now, grant)

			decision, err := g.Authorize(context.Background(), "payer-1", tt.amount)
			require.NoError(t, err)
			assert.False(t, decision.Allowed)
			assert.Equal(t, tt.want, decision.Reason)
			require.NotNil(t, decision.Receipt)
			assert.Equal(t, "denied", decision.Receipt.Action)
		})
	}
}

func TestAuthorize_FailsClosedOnMissingGrant(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ledger := chain.NewMemoryLedger().WithClock(func() time.Time { return now })
	g := guard.NewSpendingGuard(ledger).WithClock(func() time.Time { return now })

	decision, err := g.Authorize(context.Background(), "unknown-payer", 50)
	assert.Error(t, err)
	require.NotNil(t, decision)
	assert.False(t, decision.Allowed)
}

// Denial on the cumulative cap must hold for every larger amount under the
// same grant state.
func TestCheckGrant_CumulativeDenialIsMonotonic(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("cumulative denial is monotonic in amount", prop.ForAll(
		func(maxTotal, spent, amount, bump int64) bool {
			grant := &contracts.AuthorizationGrant{
				Payer:               "payer-1",
				MaxAmountPerPayment: 1 << 40,
				MaxTotalAmount:      maxTotal,
				TotalSpent:          spent,
				IsApproved:          true,
				ApprovedUntil:       now.Add(time.Hour),
			}
			reason, ok := guard.CheckGrant(grant, amount, now)
			if ok || reason != contracts.DenyCumulativeLimit {
				return true // property only constrains cumulative denials
			}
			biggerReason, biggerOK := guard.CheckGrant(grant, amount+bump, now)
			return !biggerOK && biggerReason == contracts.DenyCumulativeLimit
		},
		gen.Int64Range(0, 1_000_000),
		gen.Int64Range(0, 1_000_000),
		gen.Int64Range(1, 1_000_000),
		gen.Int64Range(1, 1_000_000),
	))

	properties.TestingRun(t)
}
