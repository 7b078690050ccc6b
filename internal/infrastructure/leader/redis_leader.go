package leader

import (
	"context"
	"sync"
	"time"

	"auction-engine/pkg/logger"

	"github.com/cockroachdb/errors"
	"github.com/go-redis/redis/v8"
)

const DefaultLeaderKey = "auction_engine:lifecycle_leader"

const releaseScript = `
        if redis.call("GET", KEYS[1]) == ARGV[1] then
            return redis.call("DEL", KEYS[1])
        else
            return 0
        end
    `

const renewScript = `
        if redis.call("GET", KEYS[1]) == ARGV[1] then
            return redis.call("PEXPIRE", KEYS[1], ARGV[2])
        else
            return 0
        end
    `

// RedisLeaderElection elects one lifecycle sweeper per deployment. The holder
// renews its key at a third of the TTL until it loses or releases it.
type RedisLeaderElection struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	log    logger.Logger

	mu        sync.Mutex
	heartbeat map[string]*heartbeat
}

type heartbeat struct {
	cancel context.CancelFunc
}

func NewRedisLeaderElection(client *redis.Client, ttl time.Duration, log logger.Logger) *RedisLeaderElection {
	return &RedisLeaderElection{
		client:    client,
		key:       DefaultLeaderKey,
		ttl:       ttl,
		log:       log,
		heartbeat: make(map[string]*heartbeat),
	}
}

func (r *RedisLeaderElection) BecomeLeader(ctx context.Context, instanceID string) (bool, error) {
	acquired, err := r.client.SetNX(ctx, r.key, instanceID, r.ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "acquire leadership")
	}

	if acquired {
		r.log.Info("Acquired lifecycle leadership", "instance_id", instanceID)
		r.startHeartbeat(instanceID)
	}

	return acquired, nil
}

func (r *RedisLeaderElection) IsLeader(ctx context.Context, instanceID string) (bool, error) {
	currentLeader, err := r.client.Get(ctx, r.key).Result()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, errors.Wrap(err, "read leader")
	}

	if currentLeader != instanceID {
		return false, nil
	}
	// A failed renew ends the heartbeat while the key may still be ours.
	r.startHeartbeat(instanceID)
	return true, nil
}

func (r *RedisLeaderElection) ReleaseLeadership(ctx context.Context, instanceID string) error {
	r.stopHeartbeat(instanceID)

	_, err := r.client.Eval(ctx, releaseScript, []string{r.key}, instanceID).Result()
	return errors.Wrap(err, "release leadership")
}

func (r *RedisLeaderElection) startHeartbeat(instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, running := r.heartbeat[instanceID]; running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	hb := &heartbeat{cancel: cancel}
	r.heartbeat[instanceID] = hb
	go r.maintainLeadership(ctx, instanceID, hb)
}

func (r *RedisLeaderElection) stopHeartbeat(instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if hb, ok := r.heartbeat[instanceID]; ok {
		hb.cancel()
		delete(r.heartbeat, instanceID)
	}
}

// endHeartbeat removes hb only if a newer heartbeat has not replaced it.
func (r *RedisLeaderElection) endHeartbeat(instanceID string, hb *heartbeat) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hb.cancel()
	if r.heartbeat[instanceID] == hb {
		delete(r.heartbeat, instanceID)
	}
}

func (r *RedisLeaderElection) maintainLeadership(ctx context.Context, instanceID string, hb *heartbeat) {
	ticker := time.NewTicker(r.ttl / 3) // Refresh at 1/3 of TTL
	defer ticker.Stop()
	defer r.endHeartbeat(instanceID, hb)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		renewed, err := r.renew(ctx, instanceID)
		if err != nil || !renewed {
			r.log.Warn("Lost lifecycle leadership", "instance_id", instanceID, "error", err)
			return
		}
	}
}

func (r *RedisLeaderElection) renew(ctx context.Context, instanceID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result, err := r.client.Eval(ctx, renewScript, []string{r.key},
		instanceID, r.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return result == 1, nil
}
