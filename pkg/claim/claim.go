// Package claim is a best-effort coordination hint between cooperating
// keepers. A keeper marks a (schedule, due-window) pair in Redis before
// dispatching so its peers can skip redundant attempts. It is strictly
// advisory: the ledger's per-window idempotency remains the only thing
// that prevents double execution, and a Redis outage must never block a
// dispatch.
package claim

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// claimScript marks a due window atomically, returning 1 when this keeper
// won the claim and 0 when a peer already holds it.
// KEYS[1] = claim key ("claim:<schedule>:<window>")
// ARGV[1] = keeper address
// ARGV[2] = TTL seconds
var claimScript = redis.NewScript(`
if redis.call("SET", KEYS[1], ARGV[1], "NX", "EX", tonumber(ARGV[2])) then
    return 1
end
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return 1
end
return 0
`)

// Marker claims due windows on a shared Redis.
type Marker struct {
	client *redis.Client
	owner  string
	ttl    time.Duration
	logger *slog.Logger
}

// NewMarker creates a claim marker for the given keeper identity. ttl
// bounds how long a crashed keeper's claim shadows a window.
func NewMarker(addr, password string, db int, owner string, ttl time.Duration) *Marker {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Marker{
		client: rdb,
		owner:  owner,
		ttl:    ttl,
		logger: slog.Default().With("component", "claim"),
	}
}

// TryClaim attempts to mark a due window for this keeper. It returns true
// when the keeper should proceed — including whenever Redis is unreachable,
// because the marker must only ever save work, never gate it.
func (m *Marker) TryClaim(ctx context.Context, window string) bool {
	res, err := claimScript.Run(ctx, m.client, []string{"claim:" + window}, m.owner, int(m.ttl.Seconds())).Result()
	if err != nil {
		m.logger.Warn("claim marker unavailable, proceeding anyway", "window", window, "error", err)
		return true
	}
	won, ok := res.(int64)
	if !ok {
		return true
	}
	return won == 1
}

// Release drops a claim after a terminal non-success so peers can try the
// window sooner than the TTL. Best effort.
func (m *Marker) Release(ctx context.Context, window string) {
	if err := m.client.Del(ctx, "claim:"+window).Err(); err != nil {
		m.logger.Debug("claim release failed", "window", window, "error", err)
	}
}

// Close releases the underlying Redis connection.
func (m *Marker) Close() error {
	return m.client.Close()
}
