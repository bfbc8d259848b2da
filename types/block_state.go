package types

import (
	"fmt"
	"time"

	tmbytes "github.com/tendermint/tendermint/libs/bytes"
)

// BlockState is a validated block together with the derived chain state at
// that block: the schedules in force and the DPoS irreversibility watermark.
type BlockState struct {
	ID     tmbytes.HexBytes `json:"id"`
	Height int64            `json:"height"`
	Block  *Block           `json:"block"`

	ActiveSchedule        *ProducerSchedule `json:"active_schedule"`
	PendingSchedule       *ProducerSchedule `json:"pending_schedule,omitempty"`
	PendingScheduleHeight int64             `json:"pending_schedule_height"` // 提议pending schedule的区块高度

	// 出块者名字 -> 最近一次出块的高度
	ProducerToLastProduced   map[string]int64 `json:"producer_to_last_produced"`
	DposIrreversibleBlockNum int64            `json:"dpos_irreversible_blocknum"`
}

func (bs *BlockState) Previous() tmbytes.HexBytes {
	return bs.Block.Previous
}

func (bs *BlockState) Timestamp() time.Time {
	return bs.Block.Timestamp
}

func (bs *BlockState) Info() BlockInfo {
	return BlockInfo{ID: bs.ID, Num: bs.Height}
}

func (bs *BlockState) String() string {
	if bs == nil {
		return "nil-BlockState"
	}
	return fmt.Sprintf("BlockState{#%d %v dpos_lib=%d}", bs.Height, bs.ID, bs.DposIrreversibleBlockNum)
}
