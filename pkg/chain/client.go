// Package chain is the keeper's view of the subscription ledger contract.
// It exposes the read and state-mutating entry points the engine needs and
// hides whether they are served by a remote RPC gateway or an in-process
// fake.
package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/orbitpay/keeper/pkg/contracts"
)

// Client is the ledger contract surface consumed by the engine.
// All calls are blocking and honor context cancellation.
type Client interface {
	// ExecutePayment triggers the next installment of a schedule and waits
	// for settlement. The ledger refuses if the schedule is not due,
	// inactive, exhausted, or already executed this window.
	ExecutePayment(ctx context.Context, id contracts.ScheduleID) (*Settlement, error)

	// CancelPaymentSchedule permanently deactivates a schedule. The caller
	// must be the payer or a designated canceler.
	CancelPaymentSchedule(ctx context.Context, id contracts.ScheduleID) error

	// IsPaymentDue is the authoritative due predicate. The ledger applies
	// its own time semantics; local clock checks are only a pre-filter.
	IsPaymentDue(ctx context.Context, id contracts.ScheduleID) (bool, error)

	// GetSchedule fetches the current schedule record.
	GetSchedule(ctx context.Context, id contracts.ScheduleID) (*contracts.PaymentSchedule, error)

	// GetUserSchedules lists schedule IDs created by an account.
	GetUserSchedules(ctx context.Context, account contracts.Address) ([]contracts.ScheduleID, error)

	// GetUserPermissions fetches a payer's authorization grant.
	GetUserPermissions(ctx context.Context, account contracts.Address) (*contracts.AuthorizationGrant, error)
}

// Settlement is the ledger's confirmation of a successful execution.
type Settlement struct {
	TxHash    string    `json:"tx_hash"`
	Reward    int64     `json:"reward"`
	GasUsed   uint64    `json:"gas_used"`
	SettledAt time.Time `json:"settled_at"`
}

// RejectedError is an authoritative refusal by the ledger. It is terminal
// for the attempt; the schedule is simply re-evaluated next cycle.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("chain: rejected by ledger: %s", e.Reason)
}

// ResourceLimitError means the execution would exceed the configured gas
// ceiling. This is an operator configuration problem, not a transient fault.
type ResourceLimitError struct {
	GasWanted  uint64
	GasCeiling uint64
}

func (e *ResourceLimitError) Error() string {
	return fmt.Sprintf("chain: gas %d exceeds ceiling %d", e.GasWanted, e.GasCeiling)
}
