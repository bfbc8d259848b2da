package store

import (
	"fmt"
	"strconv"

	tmjson "github.com/tendermint/tendermint/libs/json"
	dbm "github.com/tendermint/tm-db"

	"bftchain/types"
)

var blockStoreKey = []byte("blockStore")

// BlockStore keeps irreversible block states, indexed by height and id.
//
// NOTE: Not goroutine-safe.
type BlockStore struct {
	db     dbm.DB
	height int64
}

func NewBlockStore(db dbm.DB) (*BlockStore, error) {
	bz, err := db.Get(blockStoreKey)
	if err != nil {
		return nil, err
	}
	bs := &BlockStore{db: db}
	if len(bz) > 0 {
		if bs.height, err = strconv.ParseInt(string(bz), 10, 64); err != nil {
			return nil, fmt.Errorf("corrupt block store height %q: %w", bz, err)
		}
	}
	return bs, nil
}

// Height is the highest saved block, 0 when empty.
func (bs *BlockStore) Height() int64 {
	return bs.height
}

// SaveBlockState persists state. Saving the same height again overwrites
// it, which is how late extensions are stored.
func (bs *BlockStore) SaveBlockState(state *types.BlockState) error {
	bz, err := tmjson.Marshal(state)
	if err != nil {
		return err
	}

	batch := bs.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(calcHeightKey(state.Height), bz); err != nil {
		return err
	}
	if err := batch.Set(calcIDKey(state.ID), []byte(strconv.FormatInt(state.Height, 10))); err != nil {
		return err
	}
	height := bs.height
	if state.Height > height {
		height = state.Height
		if err := batch.Set(blockStoreKey, []byte(strconv.FormatInt(height, 10))); err != nil {
			return err
		}
	}
	if err := batch.WriteSync(); err != nil {
		return err
	}
	bs.height = height
	return nil
}

// LoadBlockStateByHeight returns nil when nothing is stored at height.
func (bs *BlockStore) LoadBlockStateByHeight(height int64) (*types.BlockState, error) {
	bz, err := bs.db.Get(calcHeightKey(height))
	if err != nil || bz == nil {
		return nil, err
	}
	state := new(types.BlockState)
	if err := tmjson.Unmarshal(bz, state); err != nil {
		return nil, fmt.Errorf("unmarshal block state at %d: %w", height, err)
	}
	return state, nil
}

// LoadBlockStateByID returns nil when id is unknown.
func (bs *BlockStore) LoadBlockStateByID(id []byte) (*types.BlockState, error) {
	bz, err := bs.db.Get(calcIDKey(id))
	if err != nil || bz == nil {
		return nil, err
	}
	height, err := strconv.ParseInt(string(bz), 10, 64)
	if err != nil {
		return nil, err
	}
	return bs.LoadBlockStateByHeight(height)
}

func calcHeightKey(height int64) []byte {
	return []byte(fmt.Sprintf("H:%v", height))
}

func calcIDKey(id []byte) []byte {
	return []byte(fmt.Sprintf("I:%X", id))
}
