// Package source answers one question for the sweep loop: which schedule
// IDs are worth evaluating this cycle. Sources are candidate filters only —
// the evaluator always re-checks against the ledger before anything is
// dispatched.
package source

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/orbitpay/keeper/pkg/chain"
	"github.com/orbitpay/keeper/pkg/contracts"
)

// ScheduleSource enumerates candidate schedule IDs. Pure read, no side
// effects. A transport failure is reported as an error; callers degrade
// gracefully rather than abort the cycle.
type ScheduleSource interface {
	Name() string
	ListCandidates(ctx context.Context) ([]contracts.ScheduleID, error)
}

// DirectEnumeration lists schedules straight off the ledger for a fixed set
// of watched accounts. Cheap correctness, higher latency, scoped to payers
// the keeper already knows about.
type DirectEnumeration struct {
	client   chain.Client
	accounts []contracts.Address
}

// NewDirectEnumeration creates a ledger-backed source over the given accounts.
func NewDirectEnumeration(client chain.Client, accounts []contracts.Address) *DirectEnumeration {
	return &DirectEnumeration{client: client, accounts: accounts}
}

func (d *DirectEnumeration) Name() string { return "direct" }

func (d *DirectEnumeration) ListCandidates(ctx context.Context) ([]contracts.ScheduleID, error) {
	var out []contracts.ScheduleID
	for _, account := range d.accounts {
		ids, err := d.client.GetUserSchedules(ctx, account)
		if err != nil {
			return nil, fmt.Errorf("source: enumerate %s: %w", account, err)
		}
		out = append(out, ids...)
	}
	return out, nil
}

// Union composes sources and deduplicates by schedule ID, preserving first
// occurrence order so the indexed source's most-overdue-first ordering wins
// when it is listed first. A failing member degrades to its peers; Union
// only errors when every member failed.
type Union struct {
	sources []ScheduleSource
	logger  *slog.Logger
}

// NewUnion composes the given sources. Order matters: earlier sources take
// precedence in the merged ordering.
func NewUnion(sources ...ScheduleSource) *Union {
	return &Union{
		sources: sources,
		logger:  slog.Default().With("component", "source.union"),
	}
}

func (u *Union) Name() string { return "union" }

func (u *Union) ListCandidates(ctx context.Context) ([]contracts.ScheduleID, error) {
	seen := make(map[contracts.ScheduleID]struct{})
	var out []contracts.ScheduleID
	var failed int
	var lastErr error

	for _, s := range u.sources {
		ids, err := s.ListCandidates(ctx)
		if err != nil {
			failed++
			lastErr = err
			u.logger.Warn("schedule source unavailable, degrading",
				"source", s.Name(), "error", err)
			continue
		}
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}

	if failed == len(u.sources) && failed > 0 {
		return nil, fmt.Errorf("source: all %d sources unavailable: %w", failed, lastErr)
	}
	return out, nil
}
