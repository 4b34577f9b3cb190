package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
)

// matchKeyOnly compares only the command name and key, ignoring value
// and TTL arguments that depend on the wall clock.
func matchKeyOnly(expected, actual []interface{}) error {
	if len(expected) < 2 || len(actual) < 2 || expected[0] != actual[0] || expected[1] != actual[1] {
		return assert.AnError
	}
	return nil
}

func TestHoldCache_SetGetDelete(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := NewHoldCache(rdb)
	ctx := context.Background()

	m := HoldMirror{
		UserID:    42,
		HeldAt:    time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(15 * time.Minute),
	}
	mock.CustomMatch(matchKeyOnly).
		ExpectSet("hold:7:12A:2026-09-01", nil, time.Minute).
		SetVal("OK")
	assert.NoError(t, c.SetHold(ctx, 7, "12A", "2026-09-01", m))

	body, _ := json.Marshal(m)
	mock.ExpectGet("hold:7:12A:2026-09-01").SetVal(string(body))
	got, err := c.GetHold(ctx, 7, "12A", "2026-09-01")
	assert.NoError(t, err)
	if assert.NotNil(t, got) {
		assert.Equal(t, uint64(42), got.UserID)
		assert.WithinDuration(t, m.ExpiresAt, got.ExpiresAt, time.Second)
	}

	mock.ExpectDel("hold:7:12A:2026-09-01").SetVal(1)
	assert.NoError(t, c.DeleteHold(ctx, 7, "12A", "2026-09-01"))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHoldCache_GetHoldMiss(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := NewHoldCache(rdb)

	mock.ExpectGet("hold:7:12A:2026-09-01").RedisNil()
	got, err := c.GetHold(context.Background(), 7, "12A", "2026-09-01")
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHoldCache_SetHoldSkipsLapsed(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := NewHoldCache(rdb)

	m := HoldMirror{UserID: 1, ExpiresAt: time.Now().Add(-time.Minute)}
	// no expectation registered: a lapsed hold must not touch Redis
	assert.NoError(t, c.SetHold(context.Background(), 7, "12A", "2026-09-01", m))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHoldCache_ListHolds(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := NewHoldCache(rdb)

	a, _ := json.Marshal(HoldMirror{UserID: 1, ExpiresAt: time.Now().Add(time.Minute)})
	b, _ := json.Marshal(HoldMirror{UserID: 2, ExpiresAt: time.Now().Add(time.Minute)})
	mock.ExpectScan(0, "hold:7:*:2026-09-01", 100).
		SetVal([]string{"hold:7:12A:2026-09-01", "hold:7:12B:2026-09-01"}, 0)
	mock.ExpectGet("hold:7:12A:2026-09-01").SetVal(string(a))
	mock.ExpectGet("hold:7:12B:2026-09-01").SetVal(string(b))

	out, err := c.ListHolds(context.Background(), 7, "2026-09-01")
	assert.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Equal(t, uint64(1), out["12A"].UserID)
	assert.Equal(t, uint64(2), out["12B"].UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHoldCache_ListHoldsSkipsVanishedKey(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := NewHoldCache(rdb)

	mock.ExpectScan(0, "hold:7:*:2026-09-01", 100).
		SetVal([]string{"hold:7:12A:2026-09-01"}, 0)
	mock.ExpectGet("hold:7:12A:2026-09-01").RedisNil()

	out, err := c.ListHolds(context.Background(), 7, "2026-09-01")
	assert.NoError(t, err)
	assert.Empty(t, out)
}

func TestHoldCache_Snapshots(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := NewHoldCache(rdb)
	ctx := context.Background()

	snap := map[string]CachedSeat{
		"12A": {Status: "held", UserID: 42},
		"12B": {Status: "booked"},
	}
	body, _ := json.Marshal(snap)

	mock.ExpectSet("avail:7:2026-09-01", body, 5*time.Minute).SetVal("OK")
	assert.NoError(t, c.SetSnapshot(ctx, 7, "2026-09-01", snap, 5*time.Minute))

	mock.ExpectGet("avail:7:2026-09-01").SetVal(string(body))
	got, err := c.GetSnapshot(ctx, 7, "2026-09-01")
	assert.NoError(t, err)
	assert.Equal(t, "held", got["12A"].Status)

	mock.ExpectDel("avail:7:2026-09-01").SetVal(1)
	assert.NoError(t, c.InvalidateSnapshot(ctx, 7, "2026-09-01"))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHoldCache_NilClientDegrades(t *testing.T) {
	c := NewHoldCache(nil)
	ctx := context.Background()

	assert.NoError(t, c.SetHold(ctx, 1, "1A", "2026-09-01", HoldMirror{ExpiresAt: time.Now().Add(time.Minute)}))
	got, err := c.GetHold(ctx, 1, "1A", "2026-09-01")
	assert.NoError(t, err)
	assert.Nil(t, got)

	holds, err := c.ListHolds(ctx, 1, "2026-09-01")
	assert.NoError(t, err)
	assert.Empty(t, holds)

	snap, err := c.GetSnapshot(ctx, 1, "2026-09-01")
	assert.NoError(t, err)
	assert.Nil(t, snap)
}

func TestSeatLabelFromHoldKey(t *testing.T) {
	assert.Equal(t, "12A", seatLabelFromHoldKey("hold:7:12A:2026-09-01", 7, "2026-09-01"))
	assert.Equal(t, "B3", seatLabelFromHoldKey("hold:1024:B3:2027-01-31", 1024, "2027-01-31"))
}
