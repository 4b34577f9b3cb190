package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes a lock key only when it still holds the
// releaser's token, so a lock that expired and was re-acquired by a
// competing attempt is never released from under its new owner.
var releaseScript = redis.NewScript(`
    if redis.call('GET', KEYS[1]) == ARGV[1] then
        return redis.call('DEL', KEYS[1])
    end
    return 0
`)

// SeatLock is the short-TTL mutual exclusion around a single seat's
// read-check-write sequence. Acquisition is non-blocking: a held lock
// fails the attempt immediately and the caller reports seat_locked.
// The TTL bounds how long a crashed holder can block the seat, and is
// kept to 1-2 seconds because the critical section never spans a
// network round-trip to an external collaborator.
type SeatLock struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSeatLock returns a SeatLock with the given TTL. A nil client is
// allowed: locking degrades to always-acquired, leaving the durable
// store's unique index as the only serialization (single-process
// deployments and tests).
func NewSeatLock(rdb *redis.Client, ttl time.Duration) *SeatLock {
	if ttl <= 0 {
		ttl = 1500 * time.Millisecond
	}
	return &SeatLock{rdb: rdb, ttl: ttl}
}

func lockKey(vehicleID uint64, seatLabel, date string) string {
	return fmt.Sprintf("seatlock:%d:%s:%s", vehicleID, seatLabel, date)
}

// Acquire attempts to take the lock for (vehicle, seat, date). It
// returns the token needed to release on success, ok=false when the
// lock is held by a concurrent attempt, and a non-nil error only on
// Redis failure.
func (l *SeatLock) Acquire(ctx context.Context, vehicleID uint64, seatLabel, date string) (token string, ok bool, err error) {
	if l.rdb == nil {
		return "nolock", true, nil
	}
	token = uuid.NewString()
	ok, err = l.rdb.SetNX(ctx, lockKey(vehicleID, seatLabel, date), token, l.ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// Release frees the lock if the token still owns it. Safe to call on
// every exit path, including after the TTL already reclaimed the key.
func (l *SeatLock) Release(ctx context.Context, vehicleID uint64, seatLabel, date, token string) error {
	if l.rdb == nil {
		return nil
	}
	return releaseScript.Run(ctx, l.rdb, []string{lockKey(vehicleID, seatLabel, date)}, token).Err()
}
