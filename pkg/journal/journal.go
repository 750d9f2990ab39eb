// Package journal — append-only audit trail of keeper activity.
//
// Every sweep cycle and execution receipt is hash-chained to its
// predecessor so an operator can prove after the fact what the keeper did
// and in what order. The journal is local evidence only: the engine never
// consults it when deciding whether a payment is due.
package journal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gowebpki/jcs"
)

// EntryKind categorizes a journal entry.
type EntryKind string

const (
	KindCycle        EntryKind = "CYCLE"
	KindReceipt      EntryKind = "RECEIPT"
	KindCancellation EntryKind = "CANCELLATION"
)

// Entry is an immutable, hash-chained journal record.
type Entry struct {
	Sequence    uint64          `json:"sequence"`
	Kind        EntryKind       `json:"kind"`
	ContentHash string          `json:"content_hash"`
	PrevHash    string          `json:"prev_hash"`
	Timestamp   time.Time       `json:"timestamp"`
	Keeper      string          `json:"keeper,omitempty"`
	Data        json.RawMessage `json:"data"`
}

// Store persists journal entries across restarts.
type Store interface {
	Save(ctx context.Context, entry Entry) error
	List(ctx context.Context, limit int) ([]Entry, error)
	Head(ctx context.Context) (seq uint64, hash string, err error)
}

// Journal is an append-only, hash-chained log of keeper activity.
type Journal struct {
	mu       sync.RWMutex
	keeper   string
	entries  []Entry
	headHash string
	clock    func() time.Time
	store    Store
}

// New creates a journal for the given keeper identity. store may be nil for
// a purely in-memory journal.
func New(keeper string, store Store) (*Journal, error) {
	j := &Journal{
		keeper:   keeper,
		entries:  make([]Entry, 0),
		headHash: "genesis",
		clock:    time.Now,
		store:    store,
	}
	if store != nil {
		seq, hash, err := store.Head(context.Background())
		if err != nil {
			return nil, fmt.Errorf("journal: read persisted head: %w", err)
		}
		if seq > 0 {
			j.headHash = hash
			// Persisted entries stay in the store; the in-memory chain
			// continues from the recovered head.
			j.entries = make([]Entry, seq)
		}
	}
	return j, nil
}

// WithClock overrides the clock for testing.
func (j *Journal) WithClock(clock func() time.Time) *Journal {
	j.clock = clock
	return j
}

// Append records an entry chained to the current head and returns its
// sequence number. data must marshal to canonical-izable JSON.
func (j *Journal) Append(ctx context.Context, kind EntryKind, data any) (uint64, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return 0, fmt.Errorf("journal: marshal entry data: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return 0, fmt.Errorf("journal: canonicalize entry data: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	seq := uint64(len(j.entries)) + 1
	contentHash := hashEntry(seq, kind, canonical, j.headHash)

	entry := Entry{
		Sequence:    seq,
		Kind:        kind,
		ContentHash: contentHash,
		PrevHash:    j.headHash,
		Timestamp:   j.clock().UTC(),
		Keeper:      j.keeper,
		Data:        canonical,
	}

	if j.store != nil {
		if err := j.store.Save(ctx, entry); err != nil {
			return 0, fmt.Errorf("journal: persist entry %d: %w", seq, err)
		}
	}

	j.entries = append(j.entries, entry)
	j.headHash = contentHash
	return seq, nil
}

// Head returns the current head hash.
func (j *Journal) Head() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.headHash
}

// Length returns the number of entries, including recovered ones.
func (j *Journal) Length() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries)
}

// Verify checks the integrity of the in-memory chain.
func (j *Journal) Verify() (bool, string) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	prevHash := "genesis"
	for i, entry := range j.entries {
		if entry.ContentHash == "" {
			// Recovered placeholder from a persisted head; chain resumes after it.
			prevHash = ""
			continue
		}
		if prevHash != "" && entry.PrevHash != prevHash {
			return false, fmt.Sprintf("chain broken at entry %d: expected prev %s, got %s", i+1, prevHash, entry.PrevHash)
		}
		computed := hashEntry(entry.Sequence, entry.Kind, entry.Data, entry.PrevHash)
		if computed != entry.ContentHash {
			return false, fmt.Sprintf("hash mismatch at entry %d", i+1)
		}
		prevHash = entry.ContentHash
	}
	return true, "chain verified"
}

func hashEntry(seq uint64, kind EntryKind, canonical []byte, prevHash string) string {
	h := sha256.New()
	_, _ = fmt.Fprintf(h, "%d|%s|%s|", seq, kind, prevHash)
	_, _ = h.Write(canonical)
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}
