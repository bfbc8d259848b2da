package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bftchain/types"
)

func TestBlockStoreSaveAndLoad(t *testing.T) {
	db := NewMockDB()
	bs, err := NewBlockStore(db)
	require.NoError(t, err)
	assert.Equal(t, int64(0), bs.Height())

	schedule, _ := types.RandProducerSchedule(3)
	block := types.MakeBlock(types.Header{
		ChainID:   "test-chain",
		Height:    1,
		Timestamp: time.Unix(100, 0).UTC(),
	}, types.Txs{})
	state := &types.BlockState{
		ID:                     block.ID(),
		Height:                 1,
		Block:                  block,
		ActiveSchedule:         schedule,
		ProducerToLastProduced: map[string]int64{"producer0": 1},
	}
	require.NoError(t, bs.SaveBlockState(state))
	assert.Equal(t, int64(1), bs.Height())

	loaded, err := bs.LoadBlockStateByHeight(1)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, state.ID, loaded.ID)
	assert.Equal(t, state.ID, loaded.Block.ID())
	assert.True(t, schedule.Equal(loaded.ActiveSchedule))
	assert.Equal(t, int64(1), loaded.ProducerToLastProduced["producer0"])

	byID, err := bs.LoadBlockStateByID(state.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, int64(1), byID.Height)

	missing, err := bs.LoadBlockStateByHeight(2)
	assert.NoError(t, err)
	assert.Nil(t, missing)

	// height survives reopening
	reopened, err := NewBlockStore(db)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reopened.Height())
}
