package source_test

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitpay/keeper/pkg/chain"
	"github.com/orbitpay/keeper/pkg/contracts"
	"github.com/orbitpay/keeper/pkg/source"
)

type stubSource struct {
	name string
	ids  []contracts.ScheduleID
	err  error
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) ListCandidates(ctx context.Context) ([]contracts.ScheduleID, error) {
	return s.ids, s.err
}

func TestDirectEnumeration(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ledger := chain.NewMemoryLedger().WithClock(func() time.Time { return now })

	for _, id := range []contracts.ScheduleID{"a", "b"} {
		require.NoError(t, ledger.CreateSchedule(contracts.PaymentSchedule{
			ID: id, Payer: "payer-1", Recipient: "m", Amount: 10, Interval: 60,
			NextPayment: now, MaxExecutions: 1, ExecutionsLeft: 1, IsActive: true,
		}))
	}
	require.NoError(t, ledger.CreateSchedule(contracts.PaymentSchedule{
		ID: "c", Payer: "payer-2", Recipient: "m", Amount: 10, Interval: 60,
		NextPayment: now, MaxExecutions: 1, ExecutionsLeft: 1, IsActive: true,
	}))

	src := source.NewDirectEnumeration(ledger, []contracts.Address{"payer-1", "payer-2"})
	ids, err := src.ListCandidates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []contracts.ScheduleID{"a", "b", "c"}, ids)
}

func TestIndexedQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"schedule_id"}).
		AddRow("overdue-1").
		AddRow("overdue-2")
	mock.ExpectQuery("SELECT schedule_id").
		WithArgs(now.UTC(), 50).
		WillReturnRows(rows)

	src := source.NewIndexedQuery(db, 50).WithClock(func() time.Time { return now })
	ids, err := src.ListCandidates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []contracts.ScheduleID{"overdue-1", "overdue-2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIndexedQuery_TransportError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT schedule_id").WillReturnError(errors.New("connection refused"))

	src := source.NewIndexedQuery(db, 10)
	ids, err := src.ListCandidates(context.Background())
	assert.Error(t, err)
	assert.Empty(t, ids)
}

func TestUnion_DedupesAndPreservesOrder(t *testing.T) {
	indexed := &stubSource{name: "indexed", ids: []contracts.ScheduleID{"b", "a", "c"}}
	direct := &stubSource{name: "direct", ids: []contracts.ScheduleID{"a", "d"}}

	ids, err := source.NewUnion(indexed, direct).ListCandidates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []contracts.ScheduleID{"b", "a", "c", "d"}, ids)
}

func TestUnion_DegradesWhenOneSourceFails(t *testing.T) {
	broken := &stubSource{name: "indexed", err: errors.New("indexer down")}
	direct := &stubSource{name: "direct", ids: []contracts.ScheduleID{"a"}}

	ids, err := source.NewUnion(broken, direct).ListCandidates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []contracts.ScheduleID{"a"}, ids)
}

func TestUnion_ErrorsWhenAllSourcesFail(t *testing.T) {
	u := source.NewUnion(
		&stubSource{name: "indexed", err: errors.New("indexer down")},
		&stubSource{name: "direct", err: errors.New("gateway down")},
	)
	_, err := u.ListCandidates(context.Background())
	assert.Error(t, err)
}
