package bootstrap

import (
	"context"
	"database/sql"
	"time"

	"auction-engine/internal/config"
	"auction-engine/internal/domain"
	"auction-engine/internal/infrastructure/amqp"
	"auction-engine/internal/infrastructure/leader"
	"auction-engine/internal/infrastructure/localcache"
	"auction-engine/internal/infrastructure/memory"
	"auction-engine/internal/infrastructure/mysql"
	"auction-engine/internal/infrastructure/redis"
	"auction-engine/internal/services"
	"auction-engine/pkg/clock"
	"auction-engine/pkg/logger"
	"auction-engine/pkg/retry"

	"github.com/cockroachdb/errors"
	redisClient "github.com/go-redis/redis/v8"
	"go.uber.org/multierr"
)

// Engine holds the collaborators every service process shares. Redis and DB
// are nil when the configuration does not need them.
type Engine struct {
	Config    *config.Config
	Clock     clock.Clock
	Redis     *redisClient.Client
	DB        *sql.DB
	Store     domain.AuctionStore
	Cache     domain.HighestBidCache
	Sink      domain.NotificationSink
	Confirmer domain.SaleConfirmer
	AMQP      *amqp.Publisher

	log     logger.Logger
	closers []func() error
}

func Build(ctx context.Context, cfg *config.Config, log logger.Logger) (*Engine, error) {
	e := &Engine{Config: cfg, Clock: clock.NewRealClock(), log: log}

	if err := e.connectRedis(ctx); err != nil {
		return nil, err
	}
	if err := e.buildStore(ctx); err != nil {
		_ = e.Close()
		return nil, err
	}
	e.buildCache()
	if err := e.buildSink(); err != nil {
		_ = e.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) needsRedis() bool {
	return e.Config.Cache.Driver == config.CacheRedis || e.Config.Notifications.Transport == config.TransportRedis
}

func (e *Engine) connectRedis(ctx context.Context) error {
	if !e.needsRedis() {
		return nil
	}

	rdb := redisClient.NewClient(&redisClient.Options{
		Addr:     e.Config.Redis.Address,
		Password: e.Config.Redis.Password,
		DB:       e.Config.Redis.DB,
	})

	// Test Redis connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return errors.Wrap(err, "connect to redis")
	}

	e.log.Info("Connected to Redis", "address", e.Config.Redis.Address)
	e.Redis = rdb
	e.closers = append(e.closers, rdb.Close)
	return nil
}

func (e *Engine) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries:      e.Config.Engine.MaxRetries,
		InitialInterval: e.Config.Engine.RetryInitialInterval,
		MaxInterval:     e.Config.Engine.RetryMaxInterval,
	}
}

func (e *Engine) buildStore(ctx context.Context) error {
	engineCfg := e.Config.Engine

	if e.Config.Store.Driver == config.StoreMemory {
		e.log.Warn("Using in-memory auction store; state is lost on restart")
		e.Store = memory.NewAuctionStore(engineCfg.LockTimeout, e.RetryPolicy(), e.Clock, e.log)
		return nil
	}

	db, err := mysql.Open(ctx, e.Config.MySQL, e.log)
	if err != nil {
		return err
	}
	e.DB = db
	e.closers = append(e.closers, db.Close)

	if e.Config.MySQL.Migrate {
		if err := mysql.Migrate(ctx, db); err != nil {
			return err
		}
		e.log.Info("MySQL schema applied")
	}

	e.Store = mysql.NewMySQLAuctionStore(db, engineCfg.LockTimeout, e.RetryPolicy(), e.Clock, e.log)
	return nil
}

func (e *Engine) buildCache() {
	switch e.Config.Cache.Driver {
	case config.CacheRedis:
		e.Cache = redis.NewRedisBidCache(e.Redis, e.Config.Cache.TTL)
	case config.CacheLocal:
		e.Cache = localcache.NewBidCache(e.Config.Cache.TTL, e.Clock)
	default:
		e.Cache = localcache.NopCache{}
	}
}

func (e *Engine) buildSink() error {
	notifications := e.Config.Notifications

	var transport interface {
		domain.NotificationSink
		domain.SaleConfirmer
	}
	switch notifications.Transport {
	case config.TransportRedis:
		transport = redis.NewEventPublisher(e.Redis, notifications.Channel)
	case config.TransportAMQP:
		publisher, err := amqp.Dial(notifications.AMQPURL, notifications.Exchange, e.log)
		if err != nil {
			return err
		}
		e.AMQP = publisher
		e.closers = append(e.closers, func() error {
			publisher.Close()
			return nil
		})
		transport = publisher
	default:
		transport = services.NewLogSink(e.log)
	}

	e.Confirmer = transport
	e.Sink = transport
	if e.Config.Log.Level == "debug" && notifications.Transport != config.TransportLog {
		e.Sink = services.NewFanoutSink(transport, services.NewLogSink(e.log))
	}
	return nil
}

// Subscriber is the Redis pub/sub side of the event transport, or nil when
// events do not travel through Redis.
func (e *Engine) Subscriber() domain.EventSubscriber {
	if e.Redis == nil || e.Config.Notifications.Transport != config.TransportRedis {
		return nil
	}
	return redis.NewRedisEventSubscriber(e.Redis, e.Config.Notifications.Channel, e.log)
}

// NotificationRepository persists notifications in MySQL when the engine has a
// database and in process memory otherwise.
func (e *Engine) NotificationRepository() domain.NotificationRepository {
	if e.DB != nil {
		return mysql.NewMySQLNotificationRepository(e.DB)
	}
	return memory.NewNotificationRepository()
}

// LeaderElection is nil without Redis, which makes this instance always lead.
func (e *Engine) LeaderElection() domain.LeaderElection {
	if e.Redis == nil {
		return nil
	}
	return leader.NewRedisLeaderElection(e.Redis, e.Config.Leader.TTL, e.log)
}

// IncrementRules loads the tiered default increments, from Redis when available.
func (e *Engine) IncrementRules(ctx context.Context) (*services.BiddingRuleDaoImpl, error) {
	rules := services.NewBiddingRuleDao(e.Redis)
	if err := rules.LoadRules(ctx); err != nil {
		return nil, err
	}
	return rules, nil
}

func (e *Engine) Close() error {
	var errs error
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, e.closers[i]())
	}
	e.closers = nil
	return errs
}
