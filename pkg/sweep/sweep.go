// Package sweep runs the keeper's main loop: on a fixed cadence, enumerate
// candidate schedules, re-evaluate each against the ledger, pass the due
// ones through the spending guard, dispatch the allowed ones, and publish a
// per-cycle summary. No schedule state survives between cycles — every pass
// re-derives the truth from the ledger.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/orbitpay/keeper/pkg/contracts"
	"github.com/orbitpay/keeper/pkg/dispatch"
	"github.com/orbitpay/keeper/pkg/evaluator"
	"github.com/orbitpay/keeper/pkg/guard"
	"github.com/orbitpay/keeper/pkg/journal"
	"github.com/orbitpay/keeper/pkg/metering"
	"github.com/orbitpay/keeper/pkg/source"
)

var (
	// ErrAlreadyRunning is returned by Start when the loop is active.
	ErrAlreadyRunning = errors.New("sweep: engine already running")
	// ErrNotRunning is returned by Stop when there is nothing to stop.
	ErrNotRunning = errors.New("sweep: engine not running")
)

// Claimer marks due windows so cooperating keepers can skip redundant
// attempts. Advisory only; implementations must fail open.
type Claimer interface {
	TryClaim(ctx context.Context, window string) bool
	Release(ctx context.Context, window string)
}

// Recorder receives per-cycle telemetry. Implemented by the observability
// provider; a nil Recorder disables it.
type Recorder interface {
	RecordCycle(ctx context.Context, summary contracts.CycleSummary)
}

// Config tunes the loop.
type Config struct {
	// Cadence is the fixed period between sweep starts.
	Cadence time.Duration
	// DispatchTimeout bounds a single in-flight dispatch once shutdown has
	// begun; the dispatch is allowed to settle but not forever.
	DispatchTimeout time.Duration
}

// DefaultConfig returns the stock cadence.
func DefaultConfig() Config {
	return Config{
		Cadence:         15 * time.Second,
		DispatchTimeout: 3 * time.Minute,
	}
}

// Deps are the engine's collaborators. Source, Evaluator, Guard and
// Dispatcher are required; the rest are optional.
type Deps struct {
	Source     source.ScheduleSource
	Evaluator  *evaluator.Evaluator
	Guard      *guard.SpendingGuard
	Dispatcher *dispatch.Dispatcher
	Claimer    Claimer
	Meter      metering.Meter
	Journal    *journal.Journal
	Recorder   Recorder
}

// Status is the operator-facing snapshot of the engine.
type Status struct {
	Running   bool                    `json:"running"`
	Keeper    contracts.Address       `json:"keeper"`
	LastCycle *contracts.CycleSummary `json:"last_cycle,omitempty"`
}

// Engine is the sweep loop state machine: Idle -> Sweeping -> Idle, with
// Stopped reachable only through cancellation.
type Engine struct {
	cfg    Config
	deps   Deps
	keeper contracts.Address
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	cycle   uint64
	last    *contracts.CycleSummary
}

// NewEngine creates a sweep engine for the given keeper identity.
func NewEngine(keeper contracts.Address, cfg Config, deps Deps) *Engine {
	if cfg.Cadence <= 0 {
		cfg.Cadence = DefaultConfig().Cadence
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = DefaultConfig().DispatchTimeout
	}
	return &Engine{
		cfg:    cfg,
		deps:   deps,
		keeper: keeper,
		logger: slog.Default().With("component", "sweep", "keeper", keeper),
	}
}

// Run executes sweep cycles until ctx is canceled. It sweeps once
// immediately, then on every cadence tick. The caller owns ctx; Run always
// returns ctx.Err().
func (e *Engine) Run(ctx context.Context) error {
	e.setRunning(true)
	defer e.setRunning(false)

	e.logger.Info("sweep loop starting", "cadence", e.cfg.Cadence)

	ticker := time.NewTicker(e.cfg.Cadence)
	defer ticker.Stop()

	for {
		summary := e.SweepOnce(ctx)
		e.publish(ctx, summary)

		select {
		case <-ctx.Done():
			e.logger.Info("sweep loop stopped", "cycles", summary.Cycle)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Start launches Run on a background goroutine. Used by the control API.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	e.running = true

	go func() {
		defer close(e.done)
		_ = e.Run(ctx)
	}()
	return nil
}

// Stop cancels the loop and waits for the in-flight schedule to resolve.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running || e.cancel == nil {
		e.mu.Unlock()
		return ErrNotRunning
	}
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	cancel()
	<-done
	return nil
}

// Status reports the current engine state for the control API.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{Running: e.running, Keeper: e.keeper, LastCycle: e.last}
}

// SweepOnce performs one full pass over the candidate set. Schedules are
// processed sequentially in source order; a failure on one schedule is
// recorded and never aborts the rest of the batch. Once ctx is canceled no
// new schedule is started, but the in-flight dispatch settles first.
func (e *Engine) SweepOnce(ctx context.Context) contracts.CycleSummary {
	e.mu.Lock()
	e.cycle++
	summary := contracts.CycleSummary{Cycle: e.cycle, StartedAt: time.Now().UTC()}
	e.mu.Unlock()

	candidates, err := e.deps.Source.ListCandidates(ctx)
	if err != nil {
		summary.SourceErrors++
		e.logger.Warn("schedule source unavailable, skipping cycle", "error", err)
	}
	summary.Candidates = len(candidates)

	for _, id := range candidates {
		if ctx.Err() != nil {
			e.logger.Info("cancellation received, not starting further schedules",
				"remaining", summary.Candidates-len(summary.Outcomes))
			break
		}
		outcome := e.processOne(ctx, id, &summary)
		summary.Outcomes = append(summary.Outcomes, outcome)
	}

	summary.Duration = time.Since(summary.StartedAt)
	return summary
}

// processOne runs evaluate -> guard -> dispatch for a single schedule,
// converting every failure mode into an outcome. The deferred recover is
// the failure-isolation backstop: a panic on one schedule becomes a failed
// outcome instead of a dead sweep.
func (e *Engine) processOne(ctx context.Context, id contracts.ScheduleID, summary *contracts.CycleSummary) (outcome contracts.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			summary.Failed++
			outcome = contracts.Outcome{
				Schedule: id,
				Status:   contracts.OutcomeTransportFailure,
				Err:      fmt.Sprintf("panic: %v", r),
			}
			e.logger.Error("schedule processing panicked", "schedule", id, "panic", r)
		}
	}()

	eval, err := e.deps.Evaluator.Evaluate(ctx, id)
	if err != nil {
		if errors.Is(err, contracts.ErrScheduleNotFound) || errors.Is(err, contracts.ErrScheduleInactive) {
			// Expected between discovery and evaluation; silent skip.
			return contracts.Outcome{Schedule: id, Status: contracts.OutcomeRejected, Err: err.Error()}
		}
		summary.Failed++
		e.logger.Warn("evaluation failed", "schedule", id, "error", err)
		return contracts.Outcome{Schedule: id, Status: contracts.OutcomeTransportFailure, Err: err.Error()}
	}
	if !eval.Due {
		return contracts.Outcome{Schedule: id, Status: contracts.OutcomeRejected, Err: "not due"}
	}
	summary.Due++

	decision, err := e.deps.Guard.Authorize(ctx, eval.Schedule.Payer, eval.Schedule.Amount)
	if err != nil && decision == nil {
		summary.Failed++
		return contracts.Outcome{Schedule: id, Status: contracts.OutcomeTransportFailure, Err: err.Error()}
	}
	if !decision.Allowed {
		summary.Denied++
		e.meter(ctx, metering.EventDenied, 1)
		e.logger.Info("guard denied execution",
			"schedule", id, "payer", eval.Schedule.Payer, "reason", decision.Reason)
		return contracts.Outcome{Schedule: id, Status: contracts.OutcomeRejected, Err: string(decision.Reason)}
	}

	if e.deps.Claimer != nil {
		window := eval.Schedule.DueWindow()
		if !e.deps.Claimer.TryClaim(ctx, window) {
			e.logger.Debug("due window claimed by a peer keeper, skipping", "schedule", id)
			return contracts.Outcome{Schedule: id, Status: contracts.OutcomeRejected, Err: "claimed by peer"}
		}
		defer func() {
			if !outcome.Succeeded() {
				e.deps.Claimer.Release(ctx, window)
			}
		}()
	}

	// Shutdown may abort every other wait, but a submitted execution is
	// never abandoned mid-flight: the dispatch gets a detached context
	// bounded by its own timeout.
	dispatchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.DispatchTimeout)
	defer cancel()
	outcome = e.deps.Dispatcher.Execute(dispatchCtx, id)

	switch outcome.Status {
	case contracts.OutcomeExecuted:
		summary.Executed++
		e.meter(ctx, metering.EventExecution, 1)
		e.meter(ctx, metering.EventReward, outcome.Reward)
		e.journal(ctx, journal.KindReceipt, outcome)
	default:
		summary.Failed++
		e.meter(ctx, metering.EventFailed, 1)
	}
	return outcome
}

// publish records the finished cycle everywhere it is consumed.
func (e *Engine) publish(ctx context.Context, summary contracts.CycleSummary) {
	e.mu.Lock()
	cp := summary
	cp.Outcomes = nil // keep the retained summary small
	e.last = &cp
	e.mu.Unlock()

	e.meter(ctx, metering.EventCycle, 1)
	e.journal(ctx, journal.KindCycle, cp)
	if e.deps.Recorder != nil {
		e.deps.Recorder.RecordCycle(ctx, summary)
	}

	e.logger.Info("cycle complete",
		"cycle", summary.Cycle,
		"candidates", summary.Candidates,
		"due", summary.Due,
		"executed", summary.Executed,
		"denied", summary.Denied,
		"failed", summary.Failed,
		"source_errors", summary.SourceErrors,
		"duration", summary.Duration,
	)
}

func (e *Engine) setRunning(v bool) {
	e.mu.Lock()
	e.running = v
	if !v {
		e.cancel = nil
	}
	e.mu.Unlock()
}

func (e *Engine) meter(ctx context.Context, t metering.EventType, q int64) {
	if e.deps.Meter == nil || q < 0 {
		return
	}
	if err := e.deps.Meter.Record(ctx, metering.Event{EventType: t, Quantity: q, Timestamp: time.Now().UTC()}); err != nil {
		e.logger.Debug("metering record failed", "event", t, "error", err)
	}
}

func (e *Engine) journal(ctx context.Context, kind journal.EntryKind, data any) {
	if e.deps.Journal == nil {
		return
	}
	if _, err := e.deps.Journal.Append(ctx, kind, data); err != nil {
		e.logger.Warn("journal append failed", "kind", kind, "error", err)
	}
}
