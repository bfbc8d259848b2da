package pbft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bftchain/chain"
)

type testNetwork struct {
	env    *testEnv
	chains []*chain.Controller
	dbs    []*Database
}

// newTestNetwork starts one node per producer, each signing for itself.
func newTestNetwork(t *testing.T, n int, interval int64) *testNetwork {
	env := newTestEnv(t, n)
	net := &testNetwork{env: env}
	for i := 0; i < n; i++ {
		c := env.newChain()
		net.chains = append(net.chains, c)
		net.dbs = append(net.dbs, env.newDatabase(c, interval, env.pvs[i]))
	}
	return net
}

// flush broadcasts every queued message until all outboxes are empty.
func (net *testNetwork) flush() {
	for {
		sent := 0
		for i, db := range net.dbs {
			for _, msg := range db.Outbox().Drain() {
				sent++
				for j, peer := range net.dbs {
					if i != j {
						deliver(peer, msg)
					}
				}
			}
		}
		if sent == 0 {
			return
		}
	}
}

func (net *testNetwork) each(fn func(db *Database)) {
	for _, db := range net.dbs {
		fn(db)
	}
	net.flush()
}

func TestNetworkFinalityAndViewChange(t *testing.T) {
	net := newTestNetwork(t, 4, 5)
	net.env.extendTo(12, net.chains...)

	net.each(func(db *Database) { db.SendPrepares() })
	net.each(func(db *Database) { db.SendCommits() })
	for i, db := range net.dbs {
		info, err := db.CommitLocal()
		require.NoError(t, err)
		assert.Equal(t, int64(12), info.Num, "node %d", i)
		assert.Equal(t, int64(12), net.chains[i].LastIrreversibleBlockNum())
	}

	net.each(func(db *Database) { db.SendCheckpoints() })
	for i, db := range net.dbs {
		info, ok := db.CheckpointLocal()
		require.True(t, ok, "node %d", i)
		assert.Equal(t, int64(10), info.Num)
	}

	// every node times out on view 0
	net.each(func(db *Database) { db.SendViewChanges(1) })
	for _, db := range net.dbs {
		view, ok := db.ShouldViewChange()
		require.True(t, ok)
		assert.Equal(t, uint64(1), view)
	}
	for i, db := range net.dbs {
		assert.Equal(t, i == 1, db.IsNewPrimary(1))
	}
	nv, ok := net.dbs[1].SendNewView(1)
	require.True(t, ok)
	assert.Equal(t, int64(10), nv.StableCheckpoint.Num)
	net.flush()
	for i, db := range net.dbs {
		assert.Equal(t, uint64(1), db.CurrentView(), "node %d", i)
	}

	// the network keeps finalizing in the new view
	net.env.extendTo(14, net.chains...)
	net.each(func(db *Database) { db.SendPrepares() })
	net.each(func(db *Database) { db.SendCommits() })
	for _, db := range net.dbs {
		_, err := db.CommitLocal()
		require.NoError(t, err)
	}
	for i, c := range net.chains {
		assert.Equal(t, int64(14), c.LastIrreversibleBlockNum(), "node %d", i)
	}
}
