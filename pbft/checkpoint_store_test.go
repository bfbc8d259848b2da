package pbft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bftchain/chain"
	"bftchain/types"
)

// commitHead runs prepare and commit with every local signer of db and
// commits the head locally.
func commitHead(t *testing.T, db *Database) {
	require.NotEmpty(t, db.SendPrepares())
	require.NotEmpty(t, db.SendCommits())
	_, err := db.CommitLocal()
	require.NoError(t, err)
	db.Outbox().Drain()
}

func TestCheckpointStableAndPrune(t *testing.T) {
	env := newTestEnv(t, 4)
	c := env.newChain()
	env.extendTo(12, c)
	db := env.newDatabase(c, 5, env.pvs...)
	commitHead(t, db)
	require.Equal(t, int64(12), c.LastIrreversibleBlockNum())

	sent := db.SendCheckpoints()
	// blocks 5 and 10, one checkpoint per signer
	require.Len(t, sent, 8)
	assert.Equal(t, int64(5), sent[0].BlockNum)
	assert.Equal(t, int64(10), sent[7].BlockNum)
	assert.True(t, db.CheckpointStore().Get(sent[0].BlockID).IsStable)
	assert.True(t, db.CheckpointStore().Get(sent[7].BlockID).IsStable)

	// the stable checkpoint travels with the block
	b10 := c.FetchBlockStateByNumber(10)
	require.NotNil(t, b10)
	_, ok := b10.Block.Extension(types.StableCheckpointExtension)
	assert.True(t, ok)

	info, ok := db.CheckpointLocal()
	require.True(t, ok)
	assert.Equal(t, b10.Info(), info)
	assert.Equal(t, info, db.StableCheckpoint())
	assert.Equal(t, 1, db.CheckpointStore().Size())
	for _, rec := range db.VoteStore().Records() {
		assert.GreaterOrEqual(t, rec.BlockNum, int64(10))
	}

	// a second pass changes nothing
	votes, checkpoints := db.VoteStore().Size(), db.CheckpointStore().Size()
	_, ok = db.CheckpointLocal()
	assert.False(t, ok)
	assert.Equal(t, info, db.StableCheckpoint())
	assert.Equal(t, votes, db.VoteStore().Size())
	assert.Equal(t, checkpoints, db.CheckpointStore().Size())

	// settled votes are accepted without being stored
	b8 := c.FetchBlockStateByNumber(8)
	assert.True(t, db.AddPrepare(env.prepare(env.pvs[0], 0, b8)))
	assert.True(t, db.AddCheckpoint(env.checkpoint(env.pvs[0], b8)))
	assert.Equal(t, votes, db.VoteStore().Size())
	assert.Equal(t, checkpoints, db.CheckpointStore().Size())

	sc, ok := db.StableCheckpointByID(b10.ID)
	require.True(t, ok)
	assert.Len(t, sc.Checkpoints, 4)
	assert.True(t, db.IsValidStableCheckpoint(sc))

	// nothing new is due, the last stable checkpoint is sent again
	resent := db.SendCheckpoints()
	require.Len(t, resent, 4)
	assert.Equal(t, b10.Info(), resent[0].BlockInfo())
}

func TestStableCheckpointFromBlockExtension(t *testing.T) {
	env := newTestEnv(t, 4)
	c := env.newChain()
	env.extendTo(10, c)
	db := env.newDatabase(c, 5, env.pvs...)
	commitHead(t, db)
	db.SendCheckpoints()

	// a node without the records reads the checkpoint off the block
	other := env.newDatabase(c, 5)
	b5 := c.FetchBlockStateByNumber(5)
	sc, ok := other.StableCheckpointByID(b5.ID)
	require.True(t, ok)
	assert.Equal(t, b5.Info(), sc.BlockInfo)
	assert.True(t, other.IsValidStableCheckpoint(sc))

	short := sc
	short.Checkpoints = sc.Checkpoints[:2]
	assert.ErrorIs(t, other.validateStableCheckpoint(short), ErrNoQuorum)
}

func TestCheckpointQuorum(t *testing.T) {
	env := newTestEnv(t, 4)
	c := env.newChain()
	env.extendTo(10, c)
	db := env.newDatabase(c, 5)
	b9 := c.FetchBlockStateByNumber(9)
	require.Less(t, c.LastIrreversibleBlockNum(), int64(9))

	require.True(t, db.AddCheckpoint(env.checkpoint(env.pvs[0], b9)))
	require.True(t, db.AddCheckpoint(env.checkpoint(env.pvs[0], b9)))
	require.True(t, db.AddCheckpoint(env.checkpoint(env.pvs[1], b9)))
	assert.False(t, db.CheckpointStore().Get(b9.ID).IsStable)
	assert.False(t, db.AddCheckpoint(env.checkpoint(types.NewMockPV(), b9)))

	require.True(t, db.AddCheckpoint(env.checkpoint(env.pvs[2], b9)))
	assert.True(t, db.CheckpointStore().Get(b9.ID).IsStable)

	info, ok := db.CheckpointLocal()
	require.True(t, ok)
	assert.Equal(t, int64(9), info.Num)
	// a stable checkpoint above the LIB makes the block final
	assert.Equal(t, int64(9), c.LastIrreversibleBlockNum())
}

func TestCheckpointAtScheduleChange(t *testing.T) {
	env := newTestEnv(t, 4)
	c := env.newChain()
	env.extendTo(3, c)

	// block 4 proposes a schedule without producer3
	next := types.NewProducerSchedule(1, env.schedule.Producers[:3])
	head := c.HeadBlockState()
	block := env.makeBlock(c, head, 0)
	proposed, err := c.ProduceBlock(head.ID, env.byName[block.Producer], block.Timestamp, nil, next)
	require.NoError(t, err)
	require.NoError(t, c.PushBlock(proposed))
	env.extendTo(7, c)

	db := env.newDatabase(c, 100, env.pvs...)
	commitHead(t, db)
	sent := db.SendCheckpoints()
	require.NotEmpty(t, sent)
	assert.Equal(t, int64(4), sent[0].BlockNum)
}

var _ Chain = (*chain.Controller)(nil)
