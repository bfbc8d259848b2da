package pbft

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bftchain/types"
)

func permutations(idx []int) [][]int {
	if len(idx) <= 1 {
		return [][]int{append([]int{}, idx...)}
	}
	var res [][]int
	for i := range idx {
		rest := make([]int, 0, len(idx)-1)
		rest = append(rest, idx[:i]...)
		rest = append(rest, idx[i+1:]...)
		for _, p := range permutations(rest) {
			res = append(res, append([]int{idx[i]}, p...))
		}
	}
	return res
}

func TestPrepareQuorumIgnoresArrivalOrder(t *testing.T) {
	env := newTestEnv(t, 4)
	for _, order := range permutations([]int{0, 2, 3}) {
		order := order
		t.Run(fmt.Sprint(order), func(t *testing.T) {
			c := env.newChain()
			env.extendTo(10, c)
			db := env.newDatabase(c, 100)
			head := c.HeadBlockState()

			for i, idx := range order {
				assert.False(t, db.ShouldPrepare(head.ID), "prepared after %d votes", i)
				assert.True(t, db.AddPrepare(env.prepare(env.pvs[idx], 0, head)))
			}
			assert.True(t, db.ShouldPrepare(head.ID))
			// ancestors above the LIB are prepared with it
			parent := c.FetchBlockStateByID(head.Previous())
			assert.True(t, db.ShouldPrepare(parent.ID))

			info, ok := db.HighestPrepared()
			require.True(t, ok)
			assert.Equal(t, head.Info(), info)
		})
	}
}

// 4 producers, f = 1: three prepares and three commits on block 10 make it
// BFT final while the DPoS LIB is still behind.
func TestPrepareCommitFinalizesBlock(t *testing.T) {
	env := newTestEnv(t, 4)
	c := env.newChain()
	env.extendTo(10, c)
	db := env.newDatabase(c, 100)
	b10 := c.HeadBlockState()
	require.Equal(t, int64(10), b10.Height)
	require.Less(t, c.LastIrreversibleBlockNum(), int64(10))

	for _, pv := range env.pvs[:3] {
		require.True(t, db.AddPrepare(env.prepare(pv, 0, b10)))
	}
	assert.True(t, db.ShouldPrepare(b10.ID))
	assert.False(t, db.ShouldCommit())

	for _, pv := range env.pvs[:3] {
		require.True(t, db.AddCommit(env.commit(pv, 0, b10)))
	}
	assert.True(t, db.ShouldCommit())

	info, err := db.CommitLocal()
	require.NoError(t, err)
	assert.Equal(t, b10.Info(), info)
	assert.Equal(t, int64(10), c.LastIrreversibleBlockNum())
	assert.Equal(t, int64(10), c.BFTIrreversibleBlockNum())
}

func TestCommitRequiresPrepare(t *testing.T) {
	env := newTestEnv(t, 4)
	c := env.newChain()
	env.extendTo(10, c)
	db := env.newDatabase(c, 100)
	head := c.HeadBlockState()

	for _, pv := range env.pvs[:3] {
		require.True(t, db.AddCommit(env.commit(pv, 0, head)))
	}
	assert.False(t, db.ShouldCommit())

	for _, pv := range env.pvs[:3] {
		require.True(t, db.AddPrepare(env.prepare(pv, 0, head)))
	}
	assert.True(t, db.ShouldPrepare(head.ID))
	assert.False(t, db.ShouldCommit(), "commits admitted before the prepare quorum must not commit")

	// the early commits still count once a later one arrives
	require.True(t, db.AddCommit(env.commit(env.pvs[3], 0, head)))
	assert.True(t, db.ShouldCommit())

	info, err := db.CommitLocal()
	require.NoError(t, err)
	assert.Equal(t, head.Height, info.Num)
}

func TestPrepareQuorumCountsPerView(t *testing.T) {
	env := newTestEnv(t, 4)
	c := env.newChain()
	env.extendTo(10, c)
	db := env.newDatabase(c, 100)
	head := c.HeadBlockState()

	require.True(t, db.AddPrepare(env.prepare(env.pvs[0], 0, head)))
	require.True(t, db.AddPrepare(env.prepare(env.pvs[0], 0, head)))
	require.True(t, db.AddPrepare(env.prepare(env.pvs[1], 0, head)))
	require.True(t, db.AddPrepare(env.prepare(env.pvs[2], 1, head)))
	assert.False(t, db.ShouldPrepare(head.ID))
	assert.Len(t, db.VoteStore().Get(head.ID).Prepares, 3)

	// the same signers in another view do not add up with view 0
	require.True(t, db.AddPrepare(env.prepare(env.pvs[0], 1, head)))
	assert.False(t, db.ShouldPrepare(head.ID))
	require.True(t, db.AddPrepare(env.prepare(env.pvs[1], 1, head)))
	assert.True(t, db.ShouldPrepare(head.ID))

	pc := db.GeneratePreparedCertificate()
	assert.Equal(t, head.Info(), pc.BlockInfo)
	require.Len(t, pc.Prepares, 3)
	for _, p := range pc.Prepares {
		assert.Equal(t, uint64(1), p.View)
	}
}

func TestAddPrepareRejectsInvalidVotes(t *testing.T) {
	env := newTestEnv(t, 4)
	c := env.newChain()
	env.extendTo(10, c)
	db := env.newDatabase(c, 100)
	head := c.HeadBlockState()

	wrongChain := env.prepare(env.pvs[0], 0, head)
	wrongChain.ChainID = "other-chain"
	require.NoError(t, wrongChain.Sign(env.pvs[0]))
	assert.False(t, db.AddPrepare(wrongChain))

	outsider := env.prepare(types.NewMockPV(), 0, head)
	assert.False(t, db.AddPrepare(outsider))

	tampered := env.prepare(env.pvs[0], 0, head)
	tampered.View = 7
	assert.False(t, db.AddPrepare(tampered))

	commit := env.commit(env.pvs[0], 0, head)
	assert.False(t, db.AddPrepare(commit))

	unknown := env.prepare(env.pvs[0], 0, head)
	unknown.BlockNum = 11
	require.NoError(t, unknown.Sign(env.pvs[0]))
	assert.False(t, db.AddPrepare(unknown))

	assert.Equal(t, 0, db.VoteStore().Size())
}

func TestPreparedCertificate(t *testing.T) {
	env := newTestEnv(t, 4)
	c := env.newChain()
	env.extendTo(10, c)
	db := env.newDatabase(c, 100)
	head := c.HeadBlockState()

	empty := db.GeneratePreparedCertificate()
	assert.True(t, empty.IsEmpty())
	assert.True(t, db.IsValidPreparedCertificate(empty))

	for _, view := range []uint64{2, 1} {
		for _, pv := range env.pvs[:3] {
			require.True(t, db.AddPrepare(env.prepare(pv, view, head)))
		}
	}
	pc := db.GeneratePreparedCertificate()
	require.Len(t, pc.Prepares, 3)
	assert.Equal(t, uint64(1), pc.Prepares[0].View)
	assert.True(t, db.IsValidPreparedCertificate(pc))

	short := pc
	short.Prepares = pc.Prepares[:2]
	assert.ErrorIs(t, db.validatePreparedCertificate(short), ErrNoQuorum)

	// the certificate has to name a block the prepares build on
	other := pc
	other.BlockInfo = c.FetchBlockStateByNumber(9).Info()
	assert.True(t, db.IsValidPreparedCertificate(other))
	other.BlockInfo = types.BlockInfo{ID: head.ID, Num: 9}
	assert.False(t, db.IsValidPreparedCertificate(other))
}

func TestPreparedCertificateCannotSpanForks(t *testing.T) {
	env := newTestEnv(t, 4)
	c := env.newChain()
	env.extendTo(5, c)
	db := env.newDatabase(c, 100)
	base := c.HeadBlockState()

	left := env.makeBlock(c, base, 0)
	right := env.makeBlock(c, base, 1)
	require.NoError(t, c.PushBlock(left))
	require.NoError(t, c.PushBlock(right))
	leftState := c.FetchBlockStateByID(left.ID())
	rightState := c.FetchBlockStateByID(right.ID())
	require.NotNil(t, leftState)
	require.NotNil(t, rightState)

	split := types.PreparedCertificate{
		BlockInfo: base.Info(),
		Prepares: []types.Vote{
			env.prepare(env.pvs[0], 0, leftState),
			env.prepare(env.pvs[1], 0, leftState),
			env.prepare(env.pvs[2], 0, rightState),
		},
	}
	assert.ErrorIs(t, db.validatePreparedCertificate(split), ErrNoQuorum)

	oneFork := types.PreparedCertificate{
		BlockInfo: base.Info(),
		Prepares: []types.Vote{
			env.prepare(env.pvs[0], 0, leftState),
			env.prepare(env.pvs[1], 0, leftState),
			env.prepare(env.pvs[2], 0, base),
		},
	}
	assert.NoError(t, db.validatePreparedCertificate(oneFork))

	// the fork is also kept apart when the votes are admitted
	for _, p := range split.Prepares {
		require.True(t, db.AddPrepare(p))
	}
	assert.False(t, db.ShouldPrepare(leftState.ID))
	assert.False(t, db.ShouldPrepare(rightState.ID))
	assert.True(t, db.ShouldPrepare(base.ID))

	// base is prepared only across forks, so there is nothing to certify
	pc := db.GeneratePreparedCertificate()
	assert.True(t, pc.IsEmpty())
	assert.True(t, db.IsValidPreparedCertificate(pc))

	// a quorum on left certifies left, and peers accept a view change
	// carrying it
	require.True(t, db.AddPrepare(env.prepare(env.pvs[2], 0, leftState)))
	require.True(t, db.ShouldPrepare(leftState.ID))
	pc = db.GeneratePreparedCertificate()
	assert.Equal(t, leftState.Info(), pc.BlockInfo)
	assert.Len(t, pc.Prepares, 3)
	assert.True(t, db.IsValidPreparedCertificate(pc))

	peer := env.newDatabase(c, 100)
	assert.True(t, peer.AddViewChange(env.viewChange(env.pvs[0], 0, 1, pc, types.StableCheckpoint{})))
	assert.Len(t, peer.ViewManager().Get(1).ViewChanges, 1)
}

func TestSendPreparesAndCommits(t *testing.T) {
	env := newTestEnv(t, 4)
	c := env.newChain()
	env.extendTo(10, c)
	db := env.newDatabase(c, 100, env.pvs...)
	head := c.HeadBlockState()

	assert.Empty(t, db.SendCommits())

	prepares := db.SendPrepares()
	require.Len(t, prepares, 4)
	for _, p := range prepares {
		assert.Equal(t, head.Info(), p.BlockInfo())
	}
	assert.True(t, db.ShouldPrepare(head.ID))

	commits := db.SendCommits()
	require.Len(t, commits, 4)
	assert.True(t, db.ShouldCommit())
	assert.Equal(t, 8, db.Outbox().Len())

	msgs := db.Outbox().Drain()
	require.Len(t, msgs, 8)
	assert.Equal(t, types.PrepareType, msgs[0].MsgType())
	assert.Equal(t, types.CommitType, msgs[7].MsgType())
	assert.Equal(t, 0, db.Outbox().Len())
}
