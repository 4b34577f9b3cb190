package cache

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
)

func TestSeatLock_AcquireAndRelease(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	l := NewSeatLock(rdb, 2*time.Second)
	ctx := context.Background()

	// token is random, match on command and key only
	mock.CustomMatch(matchKeyOnly).
		ExpectSetNX("seatlock:7:12A:2026-09-01", "", 2*time.Second).
		SetVal(true)
	token, ok, err := l.Acquire(ctx, 7, "12A", "2026-09-01")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, token)

	mock.ExpectEvalSha(releaseScript.Hash(),
		[]string{"seatlock:7:12A:2026-09-01"}, token).SetVal(int64(1))
	assert.NoError(t, l.Release(ctx, 7, "12A", "2026-09-01", token))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeatLock_AcquireContended(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	l := NewSeatLock(rdb, 2*time.Second)

	mock.CustomMatch(matchKeyOnly).
		ExpectSetNX("seatlock:7:12A:2026-09-01", "", 2*time.Second).
		SetVal(false)
	_, ok, err := l.Acquire(context.Background(), 7, "12A", "2026-09-01")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestSeatLock_ReleaseLostOwnership(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	l := NewSeatLock(rdb, time.Second)

	// script returns 0 when the key now carries another token; the
	// release is still a clean no-op for the caller
	mock.ExpectEvalSha(releaseScript.Hash(),
		[]string{"seatlock:7:12A:2026-09-01"}, "stale-token").SetVal(int64(0))
	assert.NoError(t, l.Release(context.Background(), 7, "12A", "2026-09-01", "stale-token"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeatLock_NilClientAlwaysAcquires(t *testing.T) {
	l := NewSeatLock(nil, 0)
	token, ok, err := l.Acquire(context.Background(), 7, "12A", "2026-09-01")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "nolock", token)
	assert.NoError(t, l.Release(context.Background(), 7, "12A", "2026-09-01", token))
}
