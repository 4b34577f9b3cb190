// Package cache implements the ephemeral Redis layer: the hold
// mirror that carries the authoritative expiry clock for active
// holds, the short-lived availability snapshot cache, and the
// per-seat lock that serializes hold attempts. Every type here
// tolerates a nil Redis client and degrades to a no-op, because the
// durable store must remain sufficient on its own – the cache is a
// disposable accelerator, never the sole source of truth.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// HoldMirror is the ephemeral copy of a live hold. Its Redis TTL
// matches the remaining hold duration, so the key disappears on its
// own when the hold lapses.
type HoldMirror struct {
	UserID    uint64    `json:"user_id"`
	HeldAt    time.Time `json:"held_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CachedSeat is one entry of a cached availability snapshot. The
// snapshot is stored viewer-independently; the projector rewrites
// "held" to "selected" for the owning viewer after loading it.
type CachedSeat struct {
	Status    string     `json:"status"`
	UserID    uint64     `json:"user_id,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// HoldCache stores hold mirrors and availability snapshots in Redis.
type HoldCache struct {
	rdb *redis.Client
}

// NewHoldCache returns a HoldCache over the given client. A nil
// client is allowed and turns every method into a cache miss / no-op.
func NewHoldCache(rdb *redis.Client) *HoldCache { return &HoldCache{rdb: rdb} }

func holdKey(vehicleID uint64, seatLabel, date string) string {
	return fmt.Sprintf("hold:%d:%s:%s", vehicleID, seatLabel, date)
}

func snapshotKey(vehicleID uint64, date string) string {
	return fmt.Sprintf("avail:%d:%s", vehicleID, date)
}

// SetHold mirrors a hold with a TTL equal to the time remaining until
// its expiry. Holds that are already past expiry are not written.
func (c *HoldCache) SetHold(ctx context.Context, vehicleID uint64, seatLabel, date string, m HoldMirror) error {
	if c.rdb == nil {
		return nil
	}
	ttl := time.Until(m.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	body, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, holdKey(vehicleID, seatLabel, date), body, ttl).Err()
}

// GetHold returns the mirror for a seat or (nil, nil) on a miss.
func (c *HoldCache) GetHold(ctx context.Context, vehicleID uint64, seatLabel, date string) (*HoldMirror, error) {
	if c.rdb == nil {
		return nil, nil
	}
	body, err := c.rdb.Get(ctx, holdKey(vehicleID, seatLabel, date)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m HoldMirror
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// DeleteHold removes the mirror for a seat. Deleting an absent key is
// not an error.
func (c *HoldCache) DeleteHold(ctx context.Context, vehicleID uint64, seatLabel, date string) error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Del(ctx, holdKey(vehicleID, seatLabel, date)).Err()
}

// ListHolds scans the mirrors for (vehicle, date) and returns them
// keyed by seat label. The sweeper compares this set against the
// durable store to find orphaned mirrors.
func (c *HoldCache) ListHolds(ctx context.Context, vehicleID uint64, date string) (map[string]HoldMirror, error) {
	if c.rdb == nil {
		return map[string]HoldMirror{}, nil
	}
	pattern := fmt.Sprintf("hold:%d:*:%s", vehicleID, date)
	out := make(map[string]HoldMirror)
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			body, err := c.rdb.Get(ctx, key).Bytes()
			if err == redis.Nil {
				continue // expired between scan and get
			}
			if err != nil {
				return nil, err
			}
			var m HoldMirror
			if err := json.Unmarshal(body, &m); err != nil {
				continue // unreadable mirror, sweeper will rebuild
			}
			out[seatLabelFromHoldKey(key, vehicleID, date)] = m
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

// seatLabelFromHoldKey strips the "hold:{vehicle}:" prefix and the
// ":{date}" suffix, leaving the seat label (labels never contain ':').
func seatLabelFromHoldKey(key string, vehicleID uint64, date string) string {
	prefix := fmt.Sprintf("hold:%d:", vehicleID)
	label := key[len(prefix):]
	return label[:len(label)-len(date)-1]
}

// SetSnapshot caches a viewer-independent availability snapshot for
// (vehicle, date) with the given TTL.
func (c *HoldCache) SetSnapshot(ctx context.Context, vehicleID uint64, date string, snap map[string]CachedSeat, ttl time.Duration) error {
	if c.rdb == nil || ttl <= 0 {
		return nil
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, snapshotKey(vehicleID, date), body, ttl).Err()
}

// GetSnapshot returns the cached snapshot or (nil, nil) on a miss.
func (c *HoldCache) GetSnapshot(ctx context.Context, vehicleID uint64, date string) (map[string]CachedSeat, error) {
	if c.rdb == nil {
		return nil, nil
	}
	body, err := c.rdb.Get(ctx, snapshotKey(vehicleID, date)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap map[string]CachedSeat
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// InvalidateSnapshot drops the cached snapshot for (vehicle, date).
// Called after every write touching the pair.
func (c *HoldCache) InvalidateSnapshot(ctx context.Context, vehicleID uint64, date string) error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Del(ctx, snapshotKey(vehicleID, date)).Err()
}
