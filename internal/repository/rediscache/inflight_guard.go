package rediscache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-engine/internal/config"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// InFlightGuard allows at most one outstanding autosave per attempt across
// every API instance. The key expires after ttl so a crashed writer cannot
// block an attempt forever.
type InFlightGuard struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewInFlightGuard creates a guard with the given lease.
func NewInFlightGuard(rdb *redis.Client, ttl time.Duration) *InFlightGuard {
	return &InFlightGuard{rdb: rdb, ttl: ttl}
}

// Acquire takes the lease for attemptID. ok is false when another write holds
// it; release is then nil.
func (g *InFlightGuard) Acquire(ctx context.Context, attemptID uuid.UUID) (release func(), ok bool, err error) {
	key := config.CacheKey.AutosaveInFlightKey(attemptID)
	token := uuid.NewString()

	ok, err = g.rdb.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire autosave guard: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release = func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, g.rdb, []string{key}, token).Err()
	}
	return release, true, nil
}
