package contracts

import "time"

// OutcomeStatus classifies the terminal state of a dispatch attempt.
type OutcomeStatus string

const (
	// OutcomeExecuted — the ledger settled the execution and paid the reward.
	OutcomeExecuted OutcomeStatus = "EXECUTED"
	// OutcomeRejected — the ledger refused (not due, inactive, already
	// executed this window, or authorization revoked mid-flight). Never
	// retried within the cycle; the schedule is re-evaluated next cycle.
	OutcomeRejected OutcomeStatus = "REJECTED_BY_LEDGER"
	// OutcomeTransportFailure — submission or settlement wait did not
	// complete. Retried a bounded number of times, then given up for the cycle.
	OutcomeTransportFailure OutcomeStatus = "TRANSPORT_FAILURE"
	// OutcomeResourceExhausted — the execution would exceed the configured
	// gas ceiling. A configuration problem, surfaced loudly, never retried.
	OutcomeResourceExhausted OutcomeStatus = "RESOURCE_EXHAUSTED"
	// OutcomeCanceled — the cancellation sweep revoked the schedule.
	OutcomeCanceled OutcomeStatus = "CANCELED"
	// OutcomeFiltered — the cancellation sweep skipped a schedule that did
	// not match the recipient filter.
	OutcomeFiltered OutcomeStatus = "FILTERED_OUT"
)

// Outcome is the result of a single dispatch or cancellation attempt.
type Outcome struct {
	Schedule  ScheduleID    `json:"schedule"`
	Status    OutcomeStatus `json:"status"`
	Reward    int64         `json:"reward,omitempty"`
	SettledAt time.Time     `json:"settled_at,omitempty"`
	Attempts  int           `json:"attempts"`
	Err       string        `json:"error,omitempty"`
}

// Succeeded reports whether the attempt changed ledger state.
func (o Outcome) Succeeded() bool {
	return o.Status == OutcomeExecuted || o.Status == OutcomeCanceled
}

// DenyReason explains why the spending guard refused an execution.
type DenyReason string

const (
	DenyExpired         DenyReason = "EXPIRED"
	DenyNotApproved     DenyReason = "NOT_APPROVED"
	DenyPerPaymentLimit DenyReason = "PER_PAYMENT_LIMIT"
	DenyCumulativeLimit DenyReason = "CUMULATIVE_LIMIT"
)

// CycleSummary aggregates one full pass of the sweep loop.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type CycleSummary struct {
	Cycle        uint64        `json:"cycle"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
	Candidates   int           `json:"candidates"`
	Due          int           `json:"due"`
	Executed     int           `json:"executed"`
	Denied       int           `json:"denied"`
	Failed       int           `json:"failed"`
	SourceErrors int           `json:"source_errors"`
	Outcomes     []Outcome     `json:"outcomes,omitempty"`
}
