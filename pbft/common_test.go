package pbft

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/libs/log"

	"bftchain/chain"
	"bftchain/store"
	"bftchain/types"
)

const (
	testChainID  = "pbft-test-chain"
	testInterval = 500 * time.Millisecond
)

type testEnv struct {
	t        *testing.T
	genDoc   *types.GenesisDoc
	schedule *types.ProducerSchedule
	pvs      []types.PrivValidator
	byName   map[string]types.PrivValidator
}

func newTestEnv(t *testing.T, n int) *testEnv {
	schedule, pvs := types.RandProducerSchedule(n)
	env := &testEnv{
		t: t,
		genDoc: &types.GenesisDoc{
			GenesisTime: types.SlotTime(1000, testInterval),
			ChainID:     testChainID,
		},
		schedule: schedule,
		pvs:      pvs,
		byName:   make(map[string]types.PrivValidator),
	}
	for i, p := range schedule.Producers {
		env.genDoc.Producers = append(env.genDoc.Producers, types.GenesisProducer{Name: p.Name, PubKey: p.SigningKey})
		env.byName[p.Name] = pvs[i]
	}
	require.NoError(t, env.genDoc.ValidateAndComplete())
	return env
}

// newChain opens a controller whose DPoS LIB trails every producer.
func (env *testEnv) newChain() *chain.Controller {
	cfg := chain.DefaultConfig()
	cfg.ChainID = testChainID
	cfg.BlockInterval = testInterval
	cfg.IrreversibleThresholdPercent = 100
	blockStore, err := store.NewBlockStore(store.NewMockDB())
	require.NoError(env.t, err)
	c, err := chain.NewController(cfg, store.NewStore(store.NewMockDB()), blockStore, env.genDoc)
	require.NoError(env.t, err)
	c.SetLogger(log.TestingLogger())
	return c
}

func (env *testEnv) newDatabase(c *chain.Controller, interval int64, signers ...types.PrivValidator) *Database {
	cfg := DefaultConfig()
	cfg.CheckpointInterval = interval
	db, err := NewDatabase(c, cfg, signers)
	require.NoError(env.t, err)
	db.SetLogger(log.TestingLogger())
	return db
}

// makeBlock builds a block on parent, skipping skip slots.
func (env *testEnv) makeBlock(c *chain.Controller, parent *types.BlockState, skip int64) *types.Block {
	slot := types.SlotAt(parent.Timestamp(), testInterval) + 1 + skip
	ts := types.SlotTime(slot, testInterval)
	p, err := c.ScheduledProducer(parent.ID, ts)
	require.NoError(env.t, err)
	block, err := c.ProduceBlock(parent.ID, env.byName[p.Name], ts, nil, nil)
	require.NoError(env.t, err)
	return block
}

// extendTo grows the head of chains[0] to height and pushes every block
// into all chains.
func (env *testEnv) extendTo(height int64, chains ...*chain.Controller) {
	src := chains[0]
	for src.HeadBlockState().Height < height {
		block := env.makeBlock(src, src.HeadBlockState(), 0)
		for _, c := range chains {
			require.NoError(env.t, c.PushBlock(block))
		}
	}
}

func (env *testEnv) vote(typ types.MsgType, pv types.PrivValidator, view uint64, bs *types.BlockState) types.Vote {
	v := types.Vote{
		Type:      typ,
		RequestID: newRequestID(),
		View:      view,
		BlockNum:  bs.Height,
		BlockID:   bs.ID,
		ChainID:   testChainID,
	}
	require.NoError(env.t, v.Sign(pv))
	return v
}

func (env *testEnv) prepare(pv types.PrivValidator, view uint64, bs *types.BlockState) types.Vote {
	return env.vote(types.PrepareType, pv, view, bs)
}

func (env *testEnv) commit(pv types.PrivValidator, view uint64, bs *types.BlockState) types.Vote {
	return env.vote(types.CommitType, pv, view, bs)
}

func (env *testEnv) checkpoint(pv types.PrivValidator, bs *types.BlockState) types.Checkpoint {
	cp := types.Checkpoint{
		RequestID: newRequestID(),
		BlockNum:  bs.Height,
		BlockID:   bs.ID,
		ChainID:   testChainID,
	}
	require.NoError(env.t, cp.Sign(pv))
	return cp
}

func (env *testEnv) viewChange(
	pv types.PrivValidator,
	current, target uint64,
	pc types.PreparedCertificate,
	sc types.StableCheckpoint,
) types.ViewChange {
	vc := types.ViewChange{
		RequestID:        newRequestID(),
		CurrentView:      current,
		TargetView:       target,
		PreparedCert:     pc,
		StableCheckpoint: sc,
		ChainID:          testChainID,
	}
	require.NoError(env.t, vc.Sign(pv))
	return vc
}

// deliver feeds msg into db the way the consensus layer does.
func deliver(db *Database, msg types.PBFTMessage) bool {
	return db.Receive(msg)
}
