package pbft

import (
	tmbytes "github.com/tendermint/tendermint/libs/bytes"

	"bftchain/types"
)

// ConsensusRecord collects the prepares and commits for one block.
// ShouldPrepare and ShouldCommit never go back to false.
type ConsensusRecord struct {
	BlockID       tmbytes.HexBytes `json:"block_id"`
	BlockNum      int64            `json:"block_num"`
	Prepares      []types.Vote     `json:"prepares"`
	Commits       []types.Vote     `json:"commits"`
	ShouldPrepare bool             `json:"should_prepare"`
	ShouldCommit  bool             `json:"should_commit"`
}

func (r *ConsensusRecord) BlockInfo() types.BlockInfo {
	return types.BlockInfo{ID: r.BlockID, Num: r.BlockNum}
}

// addPrepare ignores a second prepare from the same signer in the same view.
func (r *ConsensusRecord) addPrepare(v types.Vote) bool {
	if hasVote(r.Prepares, v) {
		return false
	}
	r.Prepares = append(r.Prepares, v)
	return true
}

func (r *ConsensusRecord) addCommit(v types.Vote) bool {
	if hasVote(r.Commits, v) {
		return false
	}
	r.Commits = append(r.Commits, v)
	return true
}

func hasVote(votes []types.Vote, v types.Vote) bool {
	for i := range votes {
		if votes[i].View == v.View && types.KeyEqual(votes[i].Signer, v.Signer) {
			return true
		}
	}
	return false
}

// ViewRecord collects the view changes targeting one view.
type ViewRecord struct {
	View             uint64             `json:"view"`
	ViewChanges      []types.ViewChange `json:"view_changes"`
	ShouldViewChange bool               `json:"should_view_change"`
}

func (r *ViewRecord) addViewChange(vc types.ViewChange) bool {
	for i := range r.ViewChanges {
		if types.KeyEqual(r.ViewChanges[i].Signer, vc.Signer) {
			return false
		}
	}
	r.ViewChanges = append(r.ViewChanges, vc)
	return true
}

// CheckpointRecord collects the checkpoints on one block.
type CheckpointRecord struct {
	BlockID     tmbytes.HexBytes   `json:"block_id"`
	BlockNum    int64              `json:"block_num"`
	Checkpoints []types.Checkpoint `json:"checkpoints"`
	IsStable    bool               `json:"is_stable"`
}

func (r *CheckpointRecord) BlockInfo() types.BlockInfo {
	return types.BlockInfo{ID: r.BlockID, Num: r.BlockNum}
}

func (r *CheckpointRecord) addCheckpoint(cp types.Checkpoint) bool {
	for i := range r.Checkpoints {
		if types.KeyEqual(r.Checkpoints[i].Signer, cp.Signer) {
			return false
		}
	}
	r.Checkpoints = append(r.Checkpoints, cp)
	return true
}
