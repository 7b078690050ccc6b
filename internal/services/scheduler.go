package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"auction-engine/internal/domain"
	"auction-engine/pkg/clock"
	"auction-engine/pkg/logger"

	"github.com/robfig/cron/v3"
)

// LifecycleScheduler drives AuctionManager.Advance on a fixed interval. Only
// the elected leader sweeps; a nil election means this instance always does.
type LifecycleScheduler struct {
	cron           *cron.Cron
	auctionMgr     *AuctionManager
	negotiation    *NegotiationService
	leaderElection domain.LeaderElection
	instanceID     string
	interval       time.Duration
	clock          clock.Clock
	log            logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewLifecycleScheduler(
	auctionMgr *AuctionManager,
	negotiation *NegotiationService,
	leaderElection domain.LeaderElection,
	instanceID string,
	interval time.Duration,
	clk clock.Clock,
	log logger.Logger,
) *LifecycleScheduler {
	return &LifecycleScheduler{
		cron:           cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		auctionMgr:     auctionMgr,
		negotiation:    negotiation,
		leaderElection: leaderElection,
		instanceID:     instanceID,
		interval:       interval,
		clock:          clk,
		log:            log,
	}
}

func (s *LifecycleScheduler) Start(ctx context.Context) error {
	s.log.Info("Starting lifecycle scheduler", "interval", s.interval, "instance_id", s.instanceID)

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		s.RunOnce(ctx)
	})
	if err != nil {
		cancel()
		return err
	}

	s.cron.Start()
	return nil
}

func (s *LifecycleScheduler) Stop() error {
	s.log.Info("Stopping lifecycle scheduler")

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	<-s.cron.Stop().Done()

	if s.leaderElection != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.leaderElection.ReleaseLeadership(ctx, s.instanceID); err != nil {
			s.log.Warn("Failed to release leadership", "instance_id", s.instanceID, "error", err)
		}
	}
	return nil
}

// RunOnce performs a single sweep if this instance holds or wins leadership.
// It reports whether a sweep ran.
func (s *LifecycleScheduler) RunOnce(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}

	leader, err := s.ensureLeader(ctx)
	if err != nil {
		s.log.Error("Leader election failed", "instance_id", s.instanceID, "error", err)
		return false
	}
	if !leader {
		s.log.Debug("Not the leader, skipping sweep", "instance_id", s.instanceID)
		return false
	}

	now := s.clock.Now()
	transitions, err := s.auctionMgr.Advance(ctx, now)
	if err != nil {
		s.log.Error("Lifecycle sweep incomplete", "transitions", len(transitions), "error", err)
	}

	if s.negotiation != nil {
		expired, err := s.negotiation.ExpiredCounterOffers(ctx, now)
		if err != nil {
			s.log.Error("Failed to list expired counter offers", "error", err)
		} else if len(expired) > 0 {
			s.log.Info("Counter offers expired unanswered", "count", len(expired))
		}
	}
	return true
}

func (s *LifecycleScheduler) ensureLeader(ctx context.Context) (bool, error) {
	if s.leaderElection == nil {
		return true, nil
	}

	isLeader, err := s.leaderElection.IsLeader(ctx, s.instanceID)
	if err != nil {
		return false, err
	}
	if isLeader {
		return true, nil
	}
	return s.leaderElection.BecomeLeader(ctx, s.instanceID)
}
