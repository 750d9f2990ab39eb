// Package dispatch submits executions and cancellations to the ledger,
// waits them out, and classifies what happened. Retry policy lives here:
// authoritative refusals are final for the cycle, transport faults get a
// bounded number of fixed-delay retries, gas-ceiling violations are flagged
// for the operator and never retried.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/orbitpay/keeper/pkg/chain"
	"github.com/orbitpay/keeper/pkg/contracts"
)

// Config tunes retry and pacing behavior. The right pause and retry count
// depend on the target chain's rate limits, so both are configuration
// rather than constants.
type Config struct {
	// MaxRetries bounds additional attempts after a transport failure.
	MaxRetries int
	// RetryDelay is the fixed wait between transport retries.
	RetryDelay time.Duration
	// ExecPause is the fixed pause enforced after every outcome, success or
	// not, before the sweep moves to the next schedule. A throughput
	// throttle for the transport layer, not a correctness requirement.
	ExecPause time.Duration
}

// DefaultConfig returns conservative defaults for a public gateway.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		RetryDelay: 2 * time.Second,
		ExecPause:  time.Second,
	}
}

// Dispatcher drives state-mutating ledger calls for the sweep loop.
type Dispatcher struct {
	client chain.Client
	cfg    Config
	pacer  *rate.Limiter
	logger *slog.Logger
}

// New creates a dispatcher over the given ledger client.
func New(client chain.Client, cfg Config) *Dispatcher {
	pause := cfg.ExecPause
	if pause <= 0 {
		pause = time.Second
	}
	return &Dispatcher{
		client: client,
		cfg:    cfg,
		pacer:  rate.NewLimiter(rate.Every(pause), 1),
		logger: slog.Default().With("component", "dispatch"),
	}
}

// Execute triggers one installment and classifies the terminal state. The
// returned outcome always carries a status; the error mirrors Err for
// callers that only care about failure.
func (d *Dispatcher) Execute(ctx context.Context, id contracts.ScheduleID) contracts.Outcome {
	outcome := contracts.Outcome{Schedule: id}

	for attempt := 1; ; attempt++ {
		outcome.Attempts = attempt

		settlement, err := d.client.ExecutePayment(ctx, id)
		if err == nil {
			outcome.Status = contracts.OutcomeExecuted
			outcome.Reward = settlement.Reward
			outcome.SettledAt = settlement.SettledAt
			d.logger.Info("payment executed",
				"schedule", id, "reward", settlement.Reward, "tx", settlement.TxHash, "attempts", attempt)
			break
		}

		var rejected *chain.RejectedError
		var gas *chain.ResourceLimitError
		switch {
		case errors.As(err, &rejected):
			// The ledger said no; the schedule gets re-evaluated next cycle.
			outcome.Status = contracts.OutcomeRejected
			outcome.Err = rejected.Reason
			d.logger.Info("execution rejected by ledger", "schedule", id, "reason", rejected.Reason)
		case errors.As(err, &gas):
			outcome.Status = contracts.OutcomeResourceExhausted
			outcome.Err = err.Error()
			d.logger.Error("execution exceeds gas ceiling, operator attention required",
				"schedule", id, "gas_wanted", gas.GasWanted, "gas_ceiling", gas.GasCeiling)
		default:
			outcome.Status = contracts.OutcomeTransportFailure
			outcome.Err = err.Error()
			if attempt <= d.cfg.MaxRetries && ctx.Err() == nil {
				d.logger.Warn("transport failure, retrying",
					"schedule", id, "attempt", attempt, "error", err)
				if werr := d.sleep(ctx); werr != nil {
					return d.pause(ctx, outcome)
				}
				continue
			}
			d.logger.Warn("giving up on schedule for this cycle",
				"schedule", id, "attempts", attempt, "error", err)
		}
		break
	}

	return d.pause(ctx, outcome)
}

// Cancel revokes a schedule via the ledger's cancellation entry point. It
// shares Execute's classification and pacing.
func (d *Dispatcher) Cancel(ctx context.Context, id contracts.ScheduleID) contracts.Outcome {
	outcome := contracts.Outcome{Schedule: id}

	for attempt := 1; ; attempt++ {
		outcome.Attempts = attempt

		err := d.client.CancelPaymentSchedule(ctx, id)
		if err == nil {
			outcome.Status = contracts.OutcomeCanceled
			d.logger.Info("schedule canceled", "schedule", id, "attempts", attempt)
			break
		}

		var rejected *chain.RejectedError
		if errors.As(err, &rejected) {
			outcome.Status = contracts.OutcomeRejected
			outcome.Err = rejected.Reason
			break
		}

		outcome.Status = contracts.OutcomeTransportFailure
		outcome.Err = err.Error()
		if attempt <= d.cfg.MaxRetries && ctx.Err() == nil {
			if werr := d.sleep(ctx); werr != nil {
				break
			}
			continue
		}
		break
	}

	return d.pause(ctx, outcome)
}

// sleep waits the fixed retry delay, aborting promptly on cancellation.
func (d *Dispatcher) sleep(ctx context.Context) error {
	t := time.NewTimer(d.cfg.RetryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// pause enforces the inter-execution throttle. A canceled context skips the
// wait; the outcome already settled and must not be discarded.
func (d *Dispatcher) pause(ctx context.Context, outcome contracts.Outcome) contracts.Outcome {
	_ = d.pacer.Wait(ctx)
	return outcome
}
