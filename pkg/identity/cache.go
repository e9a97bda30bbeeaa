package identity

import (
	"context"
	"time"
)

// CachedRecord is a persisted projection of a resolved identity together
// with the time it was last refreshed. Staleness is computed against a
// caller-supplied maximum age, not stored.
type CachedRecord struct {
	Identity    UserIdentity `json:"identity"`
	RefreshedAt time.Time    `json:"refreshed_at"`
}

// Stale reports whether the record is older than maxAge at the given
// instant. A non-positive maxAge means unbounded (never stale).
func (r *CachedRecord) Stale(now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 {
		return false
	}
	return now.Sub(r.RefreshedAt) > maxAge
}

// Cache is the durable identity store used both as a fast path (a fresh
// entry wins over live directory resolution) and as a stale-tolerant
// fallback when the directory is unreachable.
//
// Implementations must tolerate concurrent writers; upserts are
// idempotent by SID and last-write-wins is the accepted conflict policy.
type Cache interface {
	// GetBySID returns the cached record for a SID, or nil when absent
	// or older than maxAge (maxAge <= 0 disables the staleness check).
	GetBySID(ctx context.Context, sidStr string, maxAge time.Duration) (*CachedRecord, error)

	// GetByName is GetBySID keyed by (username, domain).
	GetByName(ctx context.Context, username, domain string, maxAge time.Duration) (*CachedRecord, error)

	// Put upserts the identity, stamping it as refreshed now.
	Put(ctx context.Context, id *UserIdentity) error
}
