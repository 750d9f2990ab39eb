// Package evaluator decides whether a candidate schedule is actually due
// right now. Discovery answers are stale the moment they are read; the
// evaluator re-derives the truth from the ledger immediately before any
// dispatch decision.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/orbitpay/keeper/pkg/chain"
	"github.com/orbitpay/keeper/pkg/contracts"
)

// Evaluation is a point-in-time snapshot of a schedule plus the ledger's
// verdict on whether it can execute now.
type Evaluation struct {
	Schedule *contracts.PaymentSchedule
	Due      bool
}

// Evaluator fetches fresh schedule state and applies the due predicate.
type Evaluator struct {
	client chain.Client
	clock  func() time.Time
	logger *slog.Logger
}

// New creates an evaluator backed by the given ledger client.
func New(client chain.Client) *Evaluator {
	return &Evaluator{
		client: client,
		clock:  time.Now,
		logger: slog.Default().With("component", "evaluator"),
	}
}

// WithClock overrides the clock for testing.
func (e *Evaluator) WithClock(clock func() time.Time) *Evaluator {
	e.clock = clock
	return e
}

// Evaluate fetches the schedule fresh and, if it could plausibly execute,
// asks the ledger's authoritative due predicate. Inactive or exhausted
// schedules short-circuit to not-due without the extra call, as does a
// local clock pre-filter when the next payment is clearly in the future —
// the pre-filter only ever skips work, it never declares a schedule due.
func (e *Evaluator) Evaluate(ctx context.Context, id contracts.ScheduleID) (*Evaluation, error) {
	s, err := e.client.GetSchedule(ctx, id)
	if err != nil {
		if errors.Is(err, contracts.ErrScheduleNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("evaluator: fetch %s: %w", id, err)
	}
	if err := s.Validate(); err != nil {
		e.logger.Warn("ledger returned invalid schedule", "schedule", id, "error", err)
		return nil, err
	}

	if s.Terminal() {
		return &Evaluation{Schedule: s, Due: false}, nil
	}

	// Pre-filter: a schedule whose window opens well in the future cannot
	// be due under any on-chain time semantics, so skip the predicate call.
	if s.NextPayment.Sub(e.clock()) > time.Minute {
		return &Evaluation{Schedule: s, Due: false}, nil
	}

	due, err := e.client.IsPaymentDue(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("evaluator: due predicate for %s: %w", id, err)
	}
	return &Evaluation{Schedule: s, Due: due}, nil
}
