package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

// raiseScript stores ARGV[1] only when it is above the cached amount, so a
// late writer carrying an older amount can never lower the entry.
const raiseScript = `
        local current = redis.call('GET', KEYS[1])
        if current == false or tonumber(ARGV[1]) > tonumber(current) then
            redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
            return 1
        end
        redis.call('PEXPIRE', KEYS[1], ARGV[2])
        return 0
    `

type RedisBidCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisBidCache(client *redis.Client, ttl time.Duration) *RedisBidCache {
	return &RedisBidCache{client: client, ttl: ttl}
}

func highestBidKey(auctionID string) string {
	return fmt.Sprintf("auction:%s:highest_bid", auctionID)
}

func (r *RedisBidCache) Get(ctx context.Context, auctionID string) (decimal.Decimal, bool, error) {
	val, err := r.client.Get(ctx, highestBidKey(auctionID)).Result()
	if err != nil {
		if err == redis.Nil {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, errors.Wrapf(err, "get highest bid for %s", auctionID)
	}

	amount, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, false, errors.Wrapf(err, "parse cached highest bid %q", val)
	}
	return amount, true, nil
}

func (r *RedisBidCache) Set(ctx context.Context, auctionID string, amount decimal.Decimal) error {
	_, err := r.client.Eval(ctx, raiseScript, []string{highestBidKey(auctionID)},
		amount.String(), r.ttl.Milliseconds()).Result()
	return errors.Wrapf(err, "set highest bid for %s", auctionID)
}

func (r *RedisBidCache) Invalidate(ctx context.Context, auctionID string) error {
	return errors.Wrapf(r.client.Del(ctx, highestBidKey(auctionID)).Err(),
		"invalidate highest bid for %s", auctionID)
}
