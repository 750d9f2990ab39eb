package sweep

import (
	"context"
	"errors"
	"time"

	"github.com/orbitpay/keeper/pkg/contracts"
	"github.com/orbitpay/keeper/pkg/journal"
	"github.com/orbitpay/keeper/pkg/metering"
)

// CancelSweep walks the same candidate enumeration as a payment sweep but
// issues cancellations instead of executions. recipient narrows the sweep
// to schedules paying that account; empty cancels every active candidate.
// It shares all of SweepOnce's isolation guarantees: one bad schedule never
// stalls the rest.
func (e *Engine) CancelSweep(ctx context.Context, recipient contracts.Address) contracts.CycleSummary {
	summary := contracts.CycleSummary{StartedAt: time.Now().UTC()}

	candidates, err := e.deps.Source.ListCandidates(ctx)
	if err != nil {
		summary.SourceErrors++
		e.logger.Warn("schedule source unavailable, skipping cancellation sweep", "error", err)
	}
	summary.Candidates = len(candidates)

	for _, id := range candidates {
		if ctx.Err() != nil {
			break
		}
		outcome := e.cancelOne(ctx, id, recipient, &summary)
		summary.Outcomes = append(summary.Outcomes, outcome)
	}

	summary.Duration = time.Since(summary.StartedAt)
	e.journal(ctx, journal.KindCancellation, summary)
	e.logger.Info("cancellation sweep complete",
		"candidates", summary.Candidates,
		"canceled", summary.Executed,
		"filtered", summary.Denied,
		"failed", summary.Failed,
	)
	return summary
}

// cancelOne resolves a single schedule: inactive ones are skipped, filter
// misses get a "filtered out" outcome, matches are canceled on the ledger.
// In the cancellation summary, Executed counts cancellations and Denied
// counts filter misses.
func (e *Engine) cancelOne(ctx context.Context, id contracts.ScheduleID, recipient contracts.Address, summary *contracts.CycleSummary) (outcome contracts.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			summary.Failed++
			outcome = contracts.Outcome{
				Schedule: id,
				Status:   contracts.OutcomeTransportFailure,
				Err:      "panic during cancellation",
			}
			e.logger.Error("cancellation panicked", "schedule", id, "panic", r)
		}
	}()

	eval, err := e.deps.Evaluator.Evaluate(ctx, id)
	if err != nil {
		if errors.Is(err, contracts.ErrScheduleNotFound) {
			return contracts.Outcome{Schedule: id, Status: contracts.OutcomeRejected, Err: err.Error()}
		}
		summary.Failed++
		return contracts.Outcome{Schedule: id, Status: contracts.OutcomeTransportFailure, Err: err.Error()}
	}
	if !eval.Schedule.IsActive {
		return contracts.Outcome{Schedule: id, Status: contracts.OutcomeRejected, Err: "already inactive"}
	}
	if recipient != "" && eval.Schedule.Recipient != recipient {
		summary.Denied++
		return contracts.Outcome{Schedule: id, Status: contracts.OutcomeFiltered}
	}

	dispatchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.DispatchTimeout)
	defer cancel()
	outcome = e.deps.Dispatcher.Cancel(dispatchCtx, id)

	if outcome.Status == contracts.OutcomeCanceled {
		summary.Executed++
		e.meter(ctx, metering.EventCancellation, 1)
	} else {
		summary.Failed++
	}
	return outcome
}
