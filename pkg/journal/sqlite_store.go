package journal

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists journal entries in a local SQLite file so the audit
// trail survives keeper restarts.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the journal table on the given database.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenSQLiteStore opens the database file at path and prepares the store.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open sqlite %s: %w", path, err)
	}
	return NewSQLiteStore(db)
}

func (s *SQLiteStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS journal_entries (
        sequence INTEGER PRIMARY KEY,
        kind TEXT NOT NULL,
        content_hash TEXT NOT NULL,
        prev_hash TEXT NOT NULL,
        timestamp DATETIME NOT NULL,
        keeper TEXT,
        data JSON NOT NULL
    );`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStore) Save(ctx context.Context, entry Entry) error {
	query := `
        INSERT INTO journal_entries (sequence, kind, content_hash, prev_hash, timestamp, keeper, data)
        VALUES (?, ?, ?, ?, ?, ?, ?)
    `
	_, err := s.db.ExecContext(ctx, query,
		entry.Sequence, string(entry.Kind), entry.ContentHash, entry.PrevHash,
		entry.Timestamp, entry.Keeper, string(entry.Data))
	if err != nil {
		return fmt.Errorf("journal: insert entry %d: %w", entry.Sequence, err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Entry, error) {
	query := `
        SELECT sequence, kind, content_hash, prev_hash, timestamp, keeper, data
        FROM journal_entries
        ORDER BY sequence DESC
        LIMIT ?
    `
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: list entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var kind, data string
		if err := rows.Scan(&e.Sequence, &kind, &e.ContentHash, &e.PrevHash, &e.Timestamp, &e.Keeper, &data); err != nil {
			return nil, fmt.Errorf("journal: scan entry: %w", err)
		}
		e.Kind = EntryKind(kind)
		e.Data = []byte(data)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *SQLiteStore) Head(ctx context.Context) (uint64, string, error) {
	query := `SELECT sequence, content_hash FROM journal_entries ORDER BY sequence DESC LIMIT 1`
	var seq uint64
	var hash string
	err := s.db.QueryRowContext(ctx, query).Scan(&seq, &hash)
	if err == sql.ErrNoRows {
		return 0, "genesis", nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("journal: read head: %w", err)
	}
	return seq, hash, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
