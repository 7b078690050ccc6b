package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisBidCacheGet(t *testing.T) {
	ctx := context.Background()

	t.Run("hit", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		cache := NewRedisBidCache(db, time.Minute)
		mock.ExpectGet("auction:a1:highest_bid").SetVal("130.50")

		amount, found, err := cache.Get(ctx, "a1")
		require.NoError(t, err)
		assert.True(t, found)
		assert.True(t, decimal.RequireFromString("130.50").Equal(amount))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("miss", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		cache := NewRedisBidCache(db, time.Minute)
		mock.ExpectGet("auction:a1:highest_bid").RedisNil()

		_, found, err := cache.Get(ctx, "a1")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("error", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		cache := NewRedisBidCache(db, time.Minute)
		mock.ExpectGet("auction:a1:highest_bid").SetErr(errors.New("connection refused"))

		_, found, err := cache.Get(ctx, "a1")
		assert.Error(t, err)
		assert.False(t, found)
	})

	t.Run("garbage", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		cache := NewRedisBidCache(db, time.Minute)
		mock.ExpectGet("auction:a1:highest_bid").SetVal("not-a-number")

		_, _, err := cache.Get(ctx, "a1")
		assert.Error(t, err)
	})
}

func TestRedisBidCacheSetUsesRaiseOnlyScript(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewRedisBidCache(db, 10*time.Minute)

	mock.ExpectEval(raiseScript, []string{"auction:a1:highest_bid"}, "140", int64(600000)).SetVal(int64(1))

	require.NoError(t, cache.Set(context.Background(), "a1", decimal.NewFromInt(140)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisBidCacheInvalidate(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewRedisBidCache(db, time.Minute)

	mock.ExpectDel("auction:a1:highest_bid").SetVal(1)

	require.NoError(t, cache.Invalidate(context.Background(), "a1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
