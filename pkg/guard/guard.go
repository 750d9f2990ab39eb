// Package guard enforces the payer's standing authorization before any
// dispatch. The schedule encodes the payer's intent at creation time; the
// grant encodes their current, possibly-reduced consent. The two can
// diverge, and the guard is what keeps a keeper faithfully following a
// stale schedule from overspending on the payer's behalf.
package guard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/orbitpay/keeper/pkg/chain"
	"github.com/orbitpay/keeper/pkg/contracts"
)

// Decision is the result of an authorization check.
type Decision struct {
	Allowed bool                 `json:"allowed"`
	Reason  contracts.DenyReason `json:"reason,omitempty"`
	Receipt *Receipt             `json:"receipt,omitempty"`
}

// Receipt records evidence of an authorization decision.
type Receipt struct {
	ID        string            `json:"id"`
	Payer     contracts.Address `json:"payer"`
	Amount    int64             `json:"amount"`
	Action    string            `json:"action"` // "allowed" or "denied"
	Reason    string            `json:"reason"`
	Timestamp time.Time         `json:"timestamp"`
}

// SpendingGuard validates proposed executions against the payer's grant,
// read fresh from the ledger each time. Fails closed: an unreadable grant
// denies.
type SpendingGuard struct {
	client chain.Client
	clock  func() time.Time
	logger *slog.Logger
}

// NewSpendingGuard creates a guard backed by the given ledger client.
func NewSpendingGuard(client chain.Client) *SpendingGuard {
	return &SpendingGuard{
		client: client,
		clock:  time.Now,
		logger: slog.Default().With("component", "guard"),
	}
}

// WithClock overrides the clock for testing.
func (g *SpendingGuard) WithClock(clock func() time.Time) *SpendingGuard {
	g.clock = clock
	return g
}

// Authorize checks, in order: grant not expired, grant approved, amount
// within the per-payment cap, and amount within the remaining cumulative
// cap. The first failing check denies with its specific reason.
func (g *SpendingGuard) Authorize(ctx context.Context, payer contracts.Address, amount int64) (*Decision, error) {
	grant, err := g.client.GetUserPermissions(ctx, payer)
	if err != nil {
		g.logger.Warn("grant lookup failed, denying", "payer", payer, "error", err)
		return g.deny(payer, amount, contracts.DenyNotApproved), fmt.Errorf("guard: fetch grant for %s: %w", payer, err)
	}

	if grant.ApprovedUntil.Before(g.clock()) {
		return g.deny(payer, amount, contracts.DenyExpired), nil
	}
	if !grant.IsApproved {
		return g.deny(payer, amount, contracts.DenyNotApproved), nil
	}
	if amount > grant.MaxAmountPerPayment {
		return g.deny(payer, amount, contracts.DenyPerPaymentLimit), nil
	}
	if grant.TotalSpent+amount > grant.MaxTotalAmount {
		return g.deny(payer, amount, contracts.DenyCumulativeLimit), nil
	}

	return &Decision{
		Allowed: true,
		Receipt: g.receipt(payer, amount, "allowed", "within grant"),
	}, nil
}

// CheckGrant applies the same ordered checks to an already-fetched grant.
// Exported so tests and the evaluator pre-filter can reuse the exact rules.
func CheckGrant(grant *contracts.AuthorizationGrant, amount int64, now time.Time) (contracts.DenyReason, bool) {
	switch {
	case grant.ApprovedUntil.Before(now):
		return contracts.DenyExpired, false
	case !grant.IsApproved:
		return contracts.DenyNotApproved, false
	case amount > grant.MaxAmountPerPayment:
		return contracts.DenyPerPaymentLimit, false
	case grant.TotalSpent+amount > grant.MaxTotalAmount:
		return contracts.DenyCumulativeLimit, false
	default:
		return "", true
	}
}

func (g *SpendingGuard) deny(payer contracts.Address, amount int64, reason contracts.DenyReason) *Decision {
	return &Decision{
		Allowed: false,
		Reason:  reason,
		Receipt: g.receipt(payer, amount, "denied", string(reason)),
	}
}

func (g *SpendingGuard) receipt(payer contracts.Address, amount int64, action, reason string) *Receipt {
	return &Receipt{
		ID:        uuid.New().String(),
		Payer:     payer,
		Amount:    amount,
		Action:    action,
		Reason:    reason,
		Timestamp: g.clock().UTC(),
	}
}
