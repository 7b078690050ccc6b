package websocket

import (
	"encoding/json"
	"sync"
	"testing"

	"auction-engine/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu        sync.Mutex
	userID    string
	auctionID string
	sent      []string
	closed    bool
}

func (f *fakeConn) Send(message interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}
	f.sent = append(f.sent, string(payload))
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) UserID() string    { return f.userID }
func (f *fakeConn) AuctionID() string { return f.auctionID }

func TestConnectionManagerBroadcastAndNotify(t *testing.T) {
	cm := NewConnectionManager(logger.NewNop())
	alice := &fakeConn{userID: "alice", auctionID: "a1"}
	bob := &fakeConn{userID: "bob", auctionID: "a1"}
	aliceOther := &fakeConn{userID: "alice", auctionID: "a2"}

	require.NoError(t, cm.RegisterConnection("alice", "a1", alice))
	require.NoError(t, cm.RegisterConnection("bob", "a1", bob))
	require.NoError(t, cm.RegisterConnection("alice", "a2", aliceOther))

	require.NoError(t, cm.BroadcastToAuction("a1", map[string]string{"type": "bid_update"}))
	assert.Equal(t, []string{`{"type":"bid_update"}`}, alice.sent)
	assert.Equal(t, []string{`{"type":"bid_update"}`}, bob.sent)
	assert.Empty(t, aliceOther.sent)

	require.NoError(t, cm.NotifyUser("alice", map[string]string{"type": "outbid"}))
	assert.Len(t, alice.sent, 2)
	assert.Equal(t, []string{`{"type":"outbid"}`}, aliceOther.sent)
	assert.Len(t, bob.sent, 1)
}

func TestConnectionManagerReplaceAndClose(t *testing.T) {
	cm := NewConnectionManager(logger.NewNop())
	first := &fakeConn{userID: "alice", auctionID: "a1"}
	second := &fakeConn{userID: "alice", auctionID: "a1"}

	require.NoError(t, cm.RegisterConnection("alice", "a1", first))
	require.NoError(t, cm.RegisterConnection("alice", "a1", second))
	assert.True(t, first.closed)
	assert.Len(t, cm.GetConnectionsForAuction("a1"), 1)

	require.NoError(t, cm.CloseAndUnregisterConnections("a1"))
	assert.True(t, second.closed)
	assert.Empty(t, cm.GetConnectionsForAuction("a1"))
	assert.Empty(t, cm.GetConnectionsForUser("alice"))
}

func TestConnectionManagerUnregister(t *testing.T) {
	cm := NewConnectionManager(logger.NewNop())
	conn := &fakeConn{userID: "bob", auctionID: "a1"}

	require.NoError(t, cm.RegisterConnection("bob", "a1", conn))
	require.NoError(t, cm.UnregisterConnection(conn))

	assert.Empty(t, cm.GetConnectionsForUser("bob"))
	assert.False(t, conn.closed)
}

func TestConnectionManagerStaleUnregisterKeepsReplacement(t *testing.T) {
	cm := NewConnectionManager(logger.NewNop())
	first := &fakeConn{userID: "alice", auctionID: "a1"}
	second := &fakeConn{userID: "alice", auctionID: "a1"}

	require.NoError(t, cm.RegisterConnection("alice", "a1", first))
	require.NoError(t, cm.RegisterConnection("alice", "a1", second))

	// the replaced socket's read loop exits after the reconnect
	require.NoError(t, cm.UnregisterConnection(first))

	require.Len(t, cm.GetConnectionsForAuction("a1"), 1)
	require.NoError(t, cm.BroadcastToAuction("a1", map[string]string{"type": "bid_update"}))
	require.NoError(t, cm.NotifyUser("alice", map[string]string{"type": "outbid"}))
	assert.Equal(t, []string{`{"type":"bid_update"}`, `{"type":"outbid"}`}, second.sent)
	assert.Empty(t, first.sent)

	require.NoError(t, cm.UnregisterConnection(second))
	assert.Empty(t, cm.GetConnectionsForUser("alice"))
}
