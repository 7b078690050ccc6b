package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"auction-engine/internal/domain"
	"auction-engine/pkg/clock"
	"auction-engine/pkg/logger"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeElection struct {
	mu       sync.Mutex
	holder   string
	err      error
	released []string
}

func (e *fakeElection) BecomeLeader(ctx context.Context, instanceID string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return false, e.err
	}
	if e.holder == "" {
		e.holder = instanceID
	}
	return e.holder == instanceID, nil
}

func (e *fakeElection) IsLeader(ctx context.Context, instanceID string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err == nil && e.holder == instanceID, e.err
}

func (e *fakeElection) ReleaseLeadership(ctx context.Context, instanceID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.holder == instanceID {
		e.holder = ""
	}
	e.released = append(e.released, instanceID)
	return nil
}

func newSchedulerFixture(t *testing.T, election domain.LeaderElection, instanceID string) (*LifecycleScheduler, domain.AuctionStore, *clock.MockClock) {
	t.Helper()
	clk := clock.NewMockClock(t0.Add(2 * time.Hour))
	store := newMemoryStore(clk)
	seedAuction(t, store, liveAuction("a1"))

	sink := &recordingSink{}
	log := logger.NewNop()
	manager := NewAuctionManager(store, newStubCache(), sink, NewBiddingRuleDao(nil), clk, log)
	negotiation := NewNegotiationService(store, sink, sink, time.Hour, clk, log)
	return NewLifecycleScheduler(manager, negotiation, election, instanceID, time.Second, clk, log), store, clk
}

func statusOf(t *testing.T, store domain.AuctionStore, id string) domain.AuctionStatus {
	t.Helper()
	a, err := store.ReadAuction(context.Background(), id)
	require.NoError(t, err)
	return a.Status
}

func TestRunOnce_LeaderSweeps(t *testing.T) {
	election := &fakeElection{}
	s, store, _ := newSchedulerFixture(t, election, "node-1")

	assert.True(t, s.RunOnce(context.Background()))
	assert.Equal(t, domain.AuctionEnded, statusOf(t, store, "a1"))
	assert.Equal(t, "node-1", election.holder)
}

func TestRunOnce_FollowerSkips(t *testing.T) {
	election := &fakeElection{holder: "node-2"}
	s, store, _ := newSchedulerFixture(t, election, "node-1")

	assert.False(t, s.RunOnce(context.Background()))
	assert.Equal(t, domain.AuctionLive, statusOf(t, store, "a1"))
}

func TestRunOnce_ElectionErrorSkips(t *testing.T) {
	election := &fakeElection{err: errors.New("redis down")}
	s, store, _ := newSchedulerFixture(t, election, "node-1")

	assert.False(t, s.RunOnce(context.Background()))
	assert.Equal(t, domain.AuctionLive, statusOf(t, store, "a1"))
}

func TestRunOnce_NoElectionAlwaysSweeps(t *testing.T) {
	s, store, _ := newSchedulerFixture(t, nil, "solo")

	assert.True(t, s.RunOnce(context.Background()))
	assert.Equal(t, domain.AuctionEnded, statusOf(t, store, "a1"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, s.RunOnce(ctx))
}

func TestScheduler_StartStop(t *testing.T) {
	election := &fakeElection{}
	s, store, _ := newSchedulerFixture(t, election, "node-1")

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool {
		a, err := store.ReadAuction(context.Background(), "a1")
		return err == nil && a.Status == domain.AuctionEnded
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, s.Stop())
	assert.Equal(t, []string{"node-1"}, election.released)
	assert.Empty(t, election.holder)
}
