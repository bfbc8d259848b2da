package pbft

import (
	"bytes"
	"sort"

	"github.com/pkg/errors"
	tmjson "github.com/tendermint/tendermint/libs/json"

	"bftchain/types"
)

// CheckpointStore keeps one CheckpointRecord per block id and the last
// stable checkpoint (lscb).
type CheckpointStore struct {
	records map[string]*CheckpointRecord
	stable  types.BlockInfo
}

func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{records: make(map[string]*CheckpointRecord)}
}

// Stable returns the last stable checkpoint, empty before the first one.
func (cs *CheckpointStore) Stable() types.BlockInfo {
	return cs.stable
}

func (cs *CheckpointStore) Get(id []byte) *CheckpointRecord {
	return cs.records[string(id)]
}

func (cs *CheckpointStore) Size() int {
	return len(cs.records)
}

// Records returns the records ordered by block number, then id.
func (cs *CheckpointStore) Records() []*CheckpointRecord {
	res := make([]*CheckpointRecord, 0, len(cs.records))
	for _, rec := range cs.records {
		res = append(res, rec)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].BlockNum != res[j].BlockNum {
			return res[i].BlockNum < res[j].BlockNum
		}
		return bytes.Compare(res[i].BlockID, res[j].BlockID) < 0
	})
	return res
}

func (cs *CheckpointStore) getOrCreate(bs *types.BlockState) *CheckpointRecord {
	rec, ok := cs.records[string(bs.ID)]
	if !ok {
		rec = &CheckpointRecord{BlockID: bs.ID, BlockNum: bs.Height}
		cs.records[string(bs.ID)] = rec
	}
	return rec
}

func (cs *CheckpointStore) insert(rec *CheckpointRecord) error {
	if _, ok := cs.records[string(rec.BlockID)]; ok {
		return errors.Wrapf(ErrInvariant, "duplicate checkpoint record for block %v", rec.BlockID)
	}
	cs.records[string(rec.BlockID)] = rec
	return nil
}

// PruneBelow drops records with block number below num.
func (cs *CheckpointStore) PruneBelow(num int64) int {
	pruned := 0
	for id, rec := range cs.records {
		if rec.BlockNum < num {
			delete(cs.records, id)
			pruned++
		}
	}
	return pruned
}

// restoreStable sets lscb to the highest stable record.
func (cs *CheckpointStore) restoreStable() {
	for _, rec := range cs.records {
		if rec.IsStable && rec.BlockNum > cs.stable.Num {
			cs.stable = rec.BlockInfo()
		}
	}
}

//-----------------------------------------------------------------------------
// checkpoints

// AddCheckpoint admits a checkpoint. Once the signers of the block's active
// schedule reach quorum the record turns stable and the block gets a
// stable checkpoint extension.
func (db *Database) AddCheckpoint(cp types.Checkpoint) bool {
	if err := db.checkCheckpoint(&cp); err != nil {
		db.reject(&cp, err)
		return false
	}
	if cp.BlockNum <= db.checkpoints.Stable().Num {
		return true
	}
	bs := db.chain.FetchBlockStateByID(cp.BlockID)
	if bs == nil || bs.Height != cp.BlockNum {
		db.logger.Debug("checkpoint for unknown block", "block", cp.BlockInfo())
		return false
	}
	db.metrics.VotesAccepted.With("type", "checkpoint").Add(1)

	rec := db.checkpoints.getOrCreate(bs)
	rec.addCheckpoint(cp)
	if rec.IsStable {
		return true
	}
	signers := newSignerSet(bs.ActiveSchedule)
	for i := range rec.Checkpoints {
		signers.add(rec.Checkpoints[i].Signer)
	}
	if !signers.hasQuorum() {
		return true
	}
	rec.IsStable = true
	db.logger.Info("Checkpoint is stable", "height", rec.BlockNum, "id", rec.BlockID)
	if _, ok := bs.Block.Extension(types.StableCheckpointExtension); !ok {
		db.attachStableCheckpoint(rec, bs)
	}
	return true
}

func (db *Database) checkCheckpoint(cp *types.Checkpoint) error {
	if cp.ChainID != db.chain.ChainID() {
		return ErrWrongChainID
	}
	if !db.shouldRecv(cp.Signer) {
		return ErrUnknownSigner
	}
	return cp.VerifySignature()
}

func (db *Database) attachStableCheckpoint(rec *CheckpointRecord, bs *types.BlockState) {
	sc := types.StableCheckpoint{BlockInfo: rec.BlockInfo()}
	for _, cp := range rec.Checkpoints {
		if bs.ActiveSchedule.Contains(cp.Signer) {
			sc.Checkpoints = append(sc.Checkpoints, cp)
		}
	}
	bz, err := tmjson.Marshal(sc)
	if err != nil {
		db.logger.Error("failed to encode stable checkpoint", "err", err)
		return
	}
	ext := types.Extension{Type: types.StableCheckpointExtension, Data: bz}
	if err := db.chain.AttachStableCheckpoint(rec.BlockID, ext); err != nil {
		db.logger.Error("failed to attach stable checkpoint", "height", rec.BlockNum, "err", err)
	}
}

// StableCheckpointByID returns the stable checkpoint on id from the local
// record, or from the extension of the block.
func (db *Database) StableCheckpointByID(id []byte) (types.StableCheckpoint, bool) {
	if len(id) == 0 {
		return types.StableCheckpoint{}, false
	}
	if rec := db.checkpoints.Get(id); rec != nil && rec.IsStable {
		bs := db.chain.FetchBlockStateByID(id)
		sc := types.StableCheckpoint{BlockInfo: rec.BlockInfo()}
		for _, cp := range rec.Checkpoints {
			if bs == nil || bs.ActiveSchedule.Contains(cp.Signer) {
				sc.Checkpoints = append(sc.Checkpoints, cp)
			}
		}
		return sc, true
	}
	bs := db.chain.FetchBlockStateByID(id)
	if bs == nil {
		return types.StableCheckpoint{}, false
	}
	ext, ok := bs.Block.Extension(types.StableCheckpointExtension)
	if !ok {
		return types.StableCheckpoint{}, false
	}
	var sc types.StableCheckpoint
	if err := tmjson.Unmarshal(ext.Data, &sc); err != nil {
		db.logger.Error("failed to decode stable checkpoint", "height", bs.Height, "err", err)
		return types.StableCheckpoint{}, false
	}
	return sc, true
}

// checkpointTargets returns the blocks above lscb, up to the highest
// committed one, that need a checkpoint: every CheckpointInterval blocks
// and every schedule transition.
func (db *Database) checkpointTargets() []*types.BlockState {
	lscb := db.checkpoints.Stable().Num
	committed := db.votes.highest(func(r *ConsensusRecord) bool {
		return r.ShouldCommit && r.BlockNum > lscb
	})
	if committed == nil {
		return nil
	}
	var targets []*types.BlockState
	cur := db.chain.FetchBlockStateByID(committed.BlockID)
	for cur != nil && cur.Height > lscb {
		prev := db.chain.FetchBlockStateByID(cur.Previous())
		if cur.Height%db.config.CheckpointInterval == 0 || isScheduleTransition(prev, cur) {
			targets = append(targets, cur)
		}
		cur = prev
	}
	// 由低到高发送
	for i, j := 0, len(targets)-1; i < j; i, j = i+1, j-1 {
		targets[i], targets[j] = targets[j], targets[i]
	}
	return targets
}

func isScheduleTransition(prev, bs *types.BlockState) bool {
	if bs.Block.NewProducers != nil {
		return true
	}
	return prev != nil && prev.ActiveSchedule.Version != bs.ActiveSchedule.Version
}

// SendCheckpoints signs checkpoints on the due blocks. With nothing due it
// resends the checkpoint on lscb so lagging peers can catch up.
func (db *Database) SendCheckpoints() []types.Checkpoint {
	targets := db.checkpointTargets()
	if len(targets) == 0 {
		lscb := db.checkpoints.Stable()
		if lscb.IsEmpty() {
			return nil
		}
		if bs := db.chain.FetchBlockStateByID(lscb.ID); bs != nil {
			targets = append(targets, bs)
		}
	}

	var sent []types.Checkpoint
	for _, bs := range targets {
		for _, s := range db.activeSigners() {
			if !bs.ActiveSchedule.Contains(s.pubKey) {
				continue
			}
			cp := types.Checkpoint{
				RequestID: newRequestID(),
				BlockNum:  bs.Height,
				BlockID:   bs.ID,
				ChainID:   db.chain.ChainID(),
			}
			if err := cp.Sign(s.pv); err != nil {
				db.logger.Error("failed to sign checkpoint", "err", err)
				continue
			}
			db.AddCheckpoint(cp)
			db.outbox.Push(&cp)
			sent = append(sent, cp)
		}
	}
	return sent
}

// CheckpointLocal advances lscb to the highest stable checkpoint whose
// block ran under the head's active or pending schedule, prunes every
// record below it and makes it BFT irreversible.
func (db *Database) CheckpointLocal() (types.BlockInfo, bool) {
	lscb := db.checkpoints.Stable()
	var candidates []*CheckpointRecord
	for _, rec := range db.checkpoints.records {
		if rec.IsStable && rec.BlockNum > lscb.Num {
			candidates = append(candidates, rec)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].BlockNum > candidates[j].BlockNum })

	head := db.chain.HeadBlockState()
	for _, rec := range candidates {
		bs := db.chain.FetchBlockStateByID(rec.BlockID)
		if bs == nil {
			continue
		}
		if !bs.ActiveSchedule.Equal(head.ActiveSchedule) &&
			(head.PendingSchedule == nil || !bs.ActiveSchedule.Equal(head.PendingSchedule)) {
			continue
		}
		db.checkpoints.stable = rec.BlockInfo()
		vp := db.votes.PruneBelow(rec.BlockNum)
		cp := db.checkpoints.PruneBelow(rec.BlockNum)
		db.metrics.StableCheckpoint.Set(float64(rec.BlockNum))
		db.logger.Info("Advanced stable checkpoint", "height", rec.BlockNum, "id", rec.BlockID,
			"pruned_votes", vp, "pruned_checkpoints", cp)

		if rec.BlockNum > db.chain.LastIrreversibleBlockNum() {
			if err := db.chain.SetBFTIrreversible(rec.BlockID); err != nil {
				db.logger.Error("failed to make stable checkpoint irreversible", "height", rec.BlockNum, "err", err)
			}
		}
		return rec.BlockInfo(), true
	}
	return types.BlockInfo{}, false
}
