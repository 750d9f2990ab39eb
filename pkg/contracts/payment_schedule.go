// Package contracts defines the shared domain types exchanged between the
// keeper engine and the on-chain subscription ledger.
package contracts

import (
	"errors"
	"fmt"
	"time"
)

// ScheduleID is the opaque fixed-width identifier of a payment schedule.
// It is assigned by the ledger at creation time and never changes.
type ScheduleID string

// Address identifies an account on the ledger (payer, recipient, executor).
type Address string

var (
	// ErrScheduleNotFound is returned when the ledger has no record for an ID.
	ErrScheduleNotFound = errors.New("contracts: schedule not found")
	// ErrScheduleInactive is returned for canceled or exhausted schedules.
	ErrScheduleInactive = errors.New("contracts: schedule inactive")
	// ErrPermissionsNotFound is returned when a payer has no authorization grant.
	ErrPermissionsNotFound = errors.New("contracts: permissions not found")
)

// PaymentSchedule is the ledger-owned record of a recurring payment
// authorization. The keeper only ever reads it; every mutation happens on
// the ledger in response to an execution or an explicit cancellation.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type PaymentSchedule struct {
	ID             ScheduleID `json:"id"`
	Payer          Address    `json:"payer"`
	Recipient      Address    `json:"recipient"`
	Amount         int64      `json:"amount"` // smallest denomination unit
	Interval       int64      `json:"interval"` // seconds between executions
	NextPayment    time.Time  `json:"next_payment"`
	MaxExecutions  uint64     `json:"max_executions"`
	ExecutionsLeft uint64     `json:"executions_left"`
	IsActive       bool       `json:"is_active"`
	CreatedAt      time.Time  `json:"created_at"`
	ExecutorReward int64      `json:"executor_reward"`
}

// Validate checks the ledger invariant on a freshly fetched record.
// An active schedule must always have executions remaining.
func (s *PaymentSchedule) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("contracts: schedule has empty id")
	}
	if s.IsActive && s.ExecutionsLeft == 0 {
		return fmt.Errorf("contracts: schedule %s active with zero executions left", s.ID)
	}
	return nil
}

// Terminal reports whether the schedule can never execute again.
func (s *PaymentSchedule) Terminal() bool {
	return !s.IsActive || s.ExecutionsLeft == 0
}

// DueWindow identifies the execution window this schedule is currently in.
// Two keepers racing on the same window will derive the same key, which is
// what makes the cooperative claim marker useful.
func (s *PaymentSchedule) DueWindow() string {
	return fmt.Sprintf("%s:%d", s.ID, s.NextPayment.Unix())
}

// AuthorizationGrant is the payer's standing consent, owned by the ledger.
// It can shrink or be revoked without the payer canceling each schedule,
// which is why the guard checks it independently of the schedule record.
type AuthorizationGrant struct {
	Payer               Address   `json:"payer"`
	MaxAmountPerPayment int64     `json:"max_amount_per_payment"`
	MaxTotalAmount      int64     `json:"max_total_amount"`
	TotalSpent          int64     `json:"total_spent"`
	IsApproved          bool      `json:"is_approved"`
	ApprovedUntil       time.Time `json:"approved_until"`
}
