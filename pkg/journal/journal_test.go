package journal_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitpay/keeper/pkg/contracts"
	"github.com/orbitpay/keeper/pkg/journal"
)

func TestJournal_AppendChains(t *testing.T) {
	j, err := journal.New("keeper-1", nil)
	require.NoError(t, err)
	j.WithClock(func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) })
	ctx := context.Background()

	seq, err := j.Append(ctx, journal.KindCycle, contracts.CycleSummary{Cycle: 1, Candidates: 4, Executed: 2})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)

	seq, err = j.Append(ctx, journal.KindReceipt, contracts.Outcome{Schedule: "sub-1", Status: contracts.OutcomeExecuted})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)

	ok, msg := j.Verify()
	assert.True(t, ok, msg)
	assert.NotEqual(t, "genesis", j.Head())
	assert.Equal(t, 2, j.Length())
}

func TestJournal_CanonicalizationIsOrderInsensitive(t *testing.T) {
	mk := func(data any) string {
		j, err := journal.New("keeper-1", nil)
		require.NoError(t, err)
		j.WithClock(func() time.Time { return time.Unix(0, 0) })
		_, err = j.Append(context.Background(), journal.KindCycle, data)
		require.NoError(t, err)
		return j.Head()
	}

	// Same logical object, different key order in the Go literal.
	a := mk(map[string]any{"cycle": 1, "executed": 2})
	b := mk(map[string]any{"executed": 2, "cycle": 1})
	assert.Equal(t, a, b)
}

func TestJournal_SQLitePersistenceAcrossRestart(t *testing.T) {
	path := t.TempDir() + "/journal.db"
	ctx := context.Background()

	store, err := journal.OpenSQLiteStore(path)
	require.NoError(t, err)

	j, err := journal.New("keeper-1", store)
	require.NoError(t, err)
	_, err = j.Append(ctx, journal.KindCycle, contracts.CycleSummary{Cycle: 1})
	require.NoError(t, err)
	_, err = j.Append(ctx, journal.KindCycle, contracts.CycleSummary{Cycle: 2})
	require.NoError(t, err)
	head := j.Head()
	require.NoError(t, store.Close())

	// Reopen: the chain continues from the persisted head.
	store2, err := journal.OpenSQLiteStore(path)
	require.NoError(t, err)
	defer func() { _ = store2.Close() }()

	j2, err := journal.New("keeper-1", store2)
	require.NoError(t, err)
	assert.Equal(t, head, j2.Head())
	assert.Equal(t, 2, j2.Length())

	seq, err := j2.Append(ctx, journal.KindCycle, contracts.CycleSummary{Cycle: 3})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq)

	entries, err := store2.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	assert.Equal(t, head, entries[0].PrevHash)
}
