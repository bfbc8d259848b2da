package chain

import (
	"bytes"
	"fmt"
	"sort"

	"bftchain/types"
)

// promoteSchedule returns the schedules in force for a block built on prev:
// the pending schedule becomes active once prev's DPoS LIB reaches the
// block that proposed it.
func promoteSchedule(prev *types.BlockState) (active, pending *types.ProducerSchedule, pendingHeight int64) {
	active, pending, pendingHeight = prev.ActiveSchedule, prev.PendingSchedule, prev.PendingScheduleHeight
	if pending != nil && prev.DposIrreversibleBlockNum >= pendingHeight {
		return pending, nil, 0
	}
	return active, pending, pendingHeight
}

// nextBlockState validates block against prev and derives its state.
func (c *Controller) nextBlockState(prev *types.BlockState, block *types.Block) (*types.BlockState, error) {
	if block.ChainID != c.config.ChainID {
		return nil, fmt.Errorf("%w: %s", ErrWrongChainID, block.ChainID)
	}
	if block.Height != prev.Height+1 {
		return nil, fmt.Errorf("%w: got %d, parent %d", ErrInvalidHeight, block.Height, prev.Height)
	}
	if !bytes.Equal(block.Previous, prev.ID) {
		return nil, ErrUnlinkableBlock
	}
	if !block.Timestamp.After(prev.Timestamp()) {
		return nil, ErrInvalidTimestamp
	}
	if err := block.ValidateBasic(); err != nil {
		return nil, err
	}

	active, pending, pendingHeight := promoteSchedule(prev)
	if block.ScheduleVersion != active.Version {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrScheduleVersion, block.ScheduleVersion, active.Version)
	}
	producer := active.Scheduled(types.SlotAt(block.Timestamp, c.config.BlockInterval), c.config.ProducerRepetitions)
	if block.Producer != producer.Name {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrWrongProducer, block.Producer, producer.Name)
	}
	if !producer.SigningKey.VerifySignature(block.ID(), block.ProducerSignature) {
		return nil, ErrInvalidSignature
	}
	if block.NewProducers != nil {
		if pending != nil {
			return nil, fmt.Errorf("%w: a schedule is already pending", ErrInvalidNewSchedule)
		}
		if block.NewProducers.Version != active.Version+1 {
			return nil, fmt.Errorf("%w: version %d after %d", ErrInvalidNewSchedule, block.NewProducers.Version, active.Version)
		}
		pending = block.NewProducers.Copy()
		pendingHeight = block.Height
	}

	lastProduced := make(map[string]int64, len(active.Producers))
	for _, p := range active.Producers {
		if h, ok := prev.ProducerToLastProduced[p.Name]; ok {
			lastProduced[p.Name] = h
		}
	}
	lastProduced[block.Producer] = block.Height

	dposLIB := calcDposIrreversible(lastProduced, active, c.config.IrreversibleThresholdPercent)
	if dposLIB < prev.DposIrreversibleBlockNum {
		dposLIB = prev.DposIrreversibleBlockNum
	}

	return &types.BlockState{
		ID:                       block.ID(),
		Height:                   block.Height,
		Block:                    block,
		ActiveSchedule:           active,
		PendingSchedule:          pending,
		PendingScheduleHeight:    pendingHeight,
		ProducerToLastProduced:   lastProduced,
		DposIrreversibleBlockNum: dposLIB,
	}, nil
}

// calcDposIrreversible sorts the producers' last produced heights in
// ascending order and takes the one at offset ceil(N*(100-pct)/100), so
// at least N-offset producers have built on top of it.
func calcDposIrreversible(lastProduced map[string]int64, active *types.ProducerSchedule, percent int) int64 {
	n := active.Size()
	if n == 0 {
		return 0
	}
	heights := make([]int64, n)
	for i, p := range active.Producers {
		heights[i] = lastProduced[p.Name]
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })

	offset := (n*(100-percent) + 99) / 100
	if offset < 0 {
		offset = 0
	}
	if offset > n-1 {
		offset = n - 1
	}
	return heights[offset]
}
