package pbft

import (
	"bytes"
	"sort"

	"github.com/pkg/errors"

	"bftchain/types"
)

// IsValidPreparedCertificate reports whether pc proves a prepare quorum on
// one fork. An empty certificate, or one at or below the last stable
// checkpoint, is trivially valid.
func (db *Database) IsValidPreparedCertificate(pc types.PreparedCertificate) bool {
	err := db.validatePreparedCertificate(pc)
	if err != nil {
		db.logger.Debug("invalid prepared certificate", "block", pc.BlockInfo, "err", err)
	}
	return err == nil
}

func (db *Database) validatePreparedCertificate(pc types.PreparedCertificate) error {
	if pc.IsEmpty() || pc.Num <= db.checkpoints.Stable().Num {
		return nil
	}
	if len(pc.Prepares) == 0 {
		return errors.Wrap(ErrInvalidCert, "no prepares")
	}
	certBlock := db.chain.FetchBlockStateByID(pc.ID)
	if certBlock == nil || certBlock.Height != pc.Num {
		return errors.Wrapf(ErrInvalidCert, "unknown block %v", pc.BlockInfo)
	}

	// vote block id -> block state
	blocks := make(map[string]*types.BlockState)
	for i := range pc.Prepares {
		p := &pc.Prepares[i]
		if p.Type != types.PrepareType {
			return errors.Wrapf(ErrInvalidCert, "unexpected %v", p.Type)
		}
		if p.ChainID != db.chain.ChainID() {
			return ErrWrongChainID
		}
		if err := p.VerifySignature(); err != nil {
			return err
		}
		if _, ok := blocks[string(p.BlockID)]; ok {
			continue
		}
		bs := db.chain.FetchBlockStateByID(p.BlockID)
		if bs == nil || bs.Height != p.BlockNum {
			return errors.Wrapf(ErrInvalidCert, "prepare on unknown block %v", p.BlockInfo())
		}
		if !db.isAncestorOrEqual(certBlock, bs) {
			return errors.Wrapf(ErrInvalidCert, "prepare on %v does not extend %v", p.BlockInfo(), pc.BlockInfo)
		}
		blocks[string(p.BlockID)] = bs
	}

	if _, ok := db.forkQuorum(certBlock, pc.Prepares, blocks); !ok {
		return errors.Wrapf(ErrNoQuorum, "prepared certificate on %v", pc.BlockInfo)
	}
	return nil
}

// forkQuorum returns the prepares of the lowest view that reaches quorum
// on a single fork above certBlock. blocks maps the block id of every vote
// to its block state.
func (db *Database) forkQuorum(
	certBlock *types.BlockState,
	votes []types.Vote,
	blocks map[string]*types.BlockState,
) ([]types.Vote, bool) {
	tips := make([]*types.BlockState, 0, len(blocks))
	for _, bs := range blocks {
		tips = append(tips, bs)
	}
	sort.Slice(tips, func(i, j int) bool {
		if tips[i].Height != tips[j].Height {
			return tips[i].Height > tips[j].Height
		}
		return bytes.Compare(tips[i].ID, tips[j].ID) < 0
	})

	// 每个vote区块作为一个分叉的末端，只统计在该分叉上的prepare
	for _, tip := range tips {
		var fork []types.Vote
		for i := range votes {
			if db.isAncestorOrEqual(blocks[string(votes[i].BlockID)], tip) {
				fork = append(fork, votes[i])
			}
		}
		if views := quorumViews(fork, certBlock.ActiveSchedule); len(views) > 0 {
			return votesInView(fork, views[0], certBlock.ActiveSchedule), true
		}
	}
	return nil, false
}

// isAncestorOrEqual walks back from desc until the height of anc.
func (db *Database) isAncestorOrEqual(anc, desc *types.BlockState) bool {
	cur := desc
	for cur != nil && cur.Height > anc.Height {
		cur = db.chain.FetchBlockStateByID(cur.Previous())
	}
	return cur != nil && bytes.Equal(cur.ID, anc.ID)
}

// IsValidStableCheckpoint reports whether sc carries a checkpoint quorum of
// the schedule active at its block. The empty checkpoint is valid.
func (db *Database) IsValidStableCheckpoint(sc types.StableCheckpoint) bool {
	err := db.validateStableCheckpoint(sc)
	if err != nil {
		db.logger.Debug("invalid stable checkpoint", "block", sc.BlockInfo, "err", err)
	}
	return err == nil
}

func (db *Database) validateStableCheckpoint(sc types.StableCheckpoint) error {
	if sc.IsEmpty() {
		return nil
	}
	bs := db.chain.FetchBlockStateByID(sc.ID)
	if bs == nil || bs.Height != sc.Num {
		return errors.Wrapf(ErrInvalidCert, "unknown block %v", sc.BlockInfo)
	}
	signers := newSignerSet(bs.ActiveSchedule)
	for i := range sc.Checkpoints {
		cp := &sc.Checkpoints[i]
		if !cp.BlockInfo().Equal(sc.BlockInfo) {
			return errors.Wrapf(ErrInvalidCert, "checkpoint on %v", cp.BlockInfo())
		}
		if cp.ChainID != db.chain.ChainID() {
			return ErrWrongChainID
		}
		if err := cp.VerifySignature(); err != nil {
			return err
		}
		signers.add(cp.Signer)
	}
	if !signers.hasQuorum() {
		return errors.Wrapf(ErrNoQuorum, "stable checkpoint on %v", sc.BlockInfo)
	}
	return nil
}
