package source

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // Postgres driver

	"github.com/orbitpay/keeper/pkg/contracts"
)

// IndexedQuery discovers candidates from the event indexer's Postgres
// mirror of the ledger. Lower latency and broader visibility than direct
// enumeration, but the mirror can lag the chain by a block or more — its
// answers are hints, never authority.
type IndexedQuery struct {
	db    *sql.DB
	limit int
	clock func() time.Time
}

// NewIndexedQuery creates an indexer-backed source. limit caps the page
// size of a single discovery query.
func NewIndexedQuery(db *sql.DB, limit int) *IndexedQuery {
	if limit <= 0 {
		limit = 200
	}
	return &IndexedQuery{db: db, limit: limit, clock: time.Now}
}

// WithClock overrides the clock for testing.
func (q *IndexedQuery) WithClock(clock func() time.Time) *IndexedQuery {
	q.clock = clock
	return q
}

func (q *IndexedQuery) Name() string { return "indexed" }

// ListCandidates returns schedules the mirror believes are due, most
// overdue first, so the sweep services the longest-waiting payments before
// the rest.
func (q *IndexedQuery) ListCandidates(ctx context.Context) ([]contracts.ScheduleID, error) {
	const query = `
        SELECT schedule_id
        FROM payment_schedules
        WHERE is_active = TRUE
          AND next_payment <= $1
          AND executions_left > 0
        ORDER BY next_payment ASC
        LIMIT $2
    `
	rows, err := q.db.QueryContext(ctx, query, q.clock().UTC(), q.limit)
	if err != nil {
		return nil, fmt.Errorf("source: indexer query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.ScheduleID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("source: scan indexer row: %w", err)
		}
		out = append(out, contracts.ScheduleID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("source: iterate indexer rows: %w", err)
	}
	return out, nil
}
