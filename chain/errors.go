package chain

import (
	"errors"

	"bftchain/forkdb"
)

var (
	ErrUnlinkableBlock    = forkdb.ErrUnlinkableBlock
	ErrDuplicateBlock     = forkdb.ErrDuplicateBlock
	ErrUnknownBlock       = errors.New("unknown block")
	ErrBlockTooOld        = errors.New("block is at or below the last irreversible block")
	ErrWrongChainID       = errors.New("block belongs to another chain")
	ErrInvalidHeight      = errors.New("block height does not follow its parent")
	ErrInvalidTimestamp   = errors.New("block timestamp must be after its parent's")
	ErrWrongProducer      = errors.New("block producer is not scheduled for the slot")
	ErrInvalidSignature   = errors.New("invalid block producer signature")
	ErrScheduleVersion    = errors.New("block schedule version does not match the active schedule")
	ErrInvalidNewSchedule = errors.New("invalid proposed producer schedule")
	// ErrInvariant marks a failure the node cannot recover from.
	ErrInvariant = errors.New("chain invariant violated")
)
