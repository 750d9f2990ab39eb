package chain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/orbitpay/keeper/pkg/contracts"
)

// MemoryLedger is an in-process ledger with the full contract semantics:
// the authoritative due predicate, per-window double-execution rejection,
// executionsLeft accounting, exhaustion, and grant enforcement. It backs
// every engine test and the local dev loop.
type MemoryLedger struct {
	mu        sync.Mutex
	schedules map[contracts.ScheduleID]*contracts.PaymentSchedule
	grants    map[contracts.Address]*contracts.AuthorizationGrant
	byOwner   map[contracts.Address][]contracts.ScheduleID
	clock     func() time.Time
}

// NewMemoryLedger creates an empty ledger using the wall clock.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		schedules: make(map[contracts.ScheduleID]*contracts.PaymentSchedule),
		grants:    make(map[contracts.Address]*contracts.AuthorizationGrant),
		byOwner:   make(map[contracts.Address][]contracts.ScheduleID),
		clock:     time.Now,
	}
}

// WithClock overrides the clock for testing.
func (l *MemoryLedger) WithClock(clock func() time.Time) *MemoryLedger {
	l.clock = clock
	return l
}

// CreateSchedule registers a schedule the way the user-facing creation flow
// would. Returns an error if the ID is already taken.
func (l *MemoryLedger) CreateSchedule(s contracts.PaymentSchedule) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.schedules[s.ID]; ok {
		return fmt.Errorf("chain: schedule %s already exists", s.ID)
	}
	if err := s.Validate(); err != nil {
		return err
	}
	cp := s
	l.schedules[s.ID] = &cp
	l.byOwner[s.Payer] = append(l.byOwner[s.Payer], s.ID)
	return nil
}

// SetPermissions installs or replaces a payer's authorization grant.
func (l *MemoryLedger) SetPermissions(g contracts.AuthorizationGrant) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := g
	l.grants[g.Payer] = &cp
}

func (l *MemoryLedger) ExecutePayment(ctx context.Context, id contracts.ScheduleID) (*Settlement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.schedules[id]
	if !ok {
		return nil, &RejectedError{Reason: "schedule not found"}
	}
	now := l.clock()
	if !s.IsActive {
		return nil, &RejectedError{Reason: "schedule inactive"}
	}
	if s.ExecutionsLeft == 0 {
		return nil, &RejectedError{Reason: "schedule exhausted"}
	}
	if now.Before(s.NextPayment) {
		// Covers both "not yet due" and "already executed this window" —
		// a competing keeper's success advances NextPayment past now.
		return nil, &RejectedError{Reason: "payment not due"}
	}

	g, ok := l.grants[s.Payer]
	if !ok || !g.IsApproved {
		return nil, &RejectedError{Reason: "payer authorization revoked"}
	}
	if g.ApprovedUntil.Before(now) {
		return nil, &RejectedError{Reason: "payer authorization expired"}
	}
	if s.Amount > g.MaxAmountPerPayment {
		return nil, &RejectedError{Reason: "amount over per-payment limit"}
	}
	if g.TotalSpent+s.Amount > g.MaxTotalAmount {
		return nil, &RejectedError{Reason: "amount over cumulative limit"}
	}

	s.ExecutionsLeft--
	s.NextPayment = s.NextPayment.Add(time.Duration(s.Interval) * time.Second)
	if s.NextPayment.Before(now) {
		// Overdue schedules resume from now rather than burning windows.
		s.NextPayment = now.Add(time.Duration(s.Interval) * time.Second)
	}
	if s.ExecutionsLeft == 0 {
		s.IsActive = false
	}
	g.TotalSpent += s.Amount

	return &Settlement{
		TxHash:    fmt.Sprintf("0xmem%s%d", id, s.ExecutionsLeft),
		Reward:    s.ExecutorReward,
		GasUsed:   21000,
		SettledAt: now,
	}, nil
}

func (l *MemoryLedger) CancelPaymentSchedule(ctx context.Context, id contracts.ScheduleID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.schedules[id]
	if !ok {
		return &RejectedError{Reason: "schedule not found"}
	}
	if !s.IsActive {
		return &RejectedError{Reason: "schedule already inactive"}
	}
	s.IsActive = false
	return nil
}

func (l *MemoryLedger) IsPaymentDue(ctx context.Context, id contracts.ScheduleID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.schedules[id]
	if !ok {
		return false, contracts.ErrScheduleNotFound
	}
	if !s.IsActive || s.ExecutionsLeft == 0 {
		return false, nil
	}
	return !l.clock().Before(s.NextPayment), nil
}

func (l *MemoryLedger) GetSchedule(ctx context.Context, id contracts.ScheduleID) (*contracts.PaymentSchedule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.schedules[id]
	if !ok {
		return nil, contracts.ErrScheduleNotFound
	}
	cp := *s
	return &cp, nil
}

func (l *MemoryLedger) GetUserSchedules(ctx context.Context, account contracts.Address) ([]contracts.ScheduleID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ids := l.byOwner[account]
	out := make([]contracts.ScheduleID, len(ids))
	copy(out, ids)
	return out, nil
}

func (l *MemoryLedger) GetUserPermissions(ctx context.Context, account contracts.Address) (*contracts.AuthorizationGrant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	g, ok := l.grants[account]
	if !ok {
		return nil, contracts.ErrPermissionsNotFound
	}
	cp := *g
	return &cp, nil
}
