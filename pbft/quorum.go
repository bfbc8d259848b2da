package pbft

import (
	"sort"

	"github.com/tendermint/tendermint/crypto"

	"bftchain/types"
)

// signerSet counts distinct schedule members.
type signerSet struct {
	schedule *types.ProducerSchedule
	signers  map[string]struct{}
}

func newSignerSet(schedule *types.ProducerSchedule) *signerSet {
	return &signerSet{schedule: schedule, signers: make(map[string]struct{})}
}

// add ignores keys outside the schedule.
func (s *signerSet) add(key crypto.PubKey) {
	if s.schedule.Contains(key) {
		s.signers[types.KeyString(key)] = struct{}{}
	}
}

func (s *signerSet) size() int {
	return len(s.signers)
}

func (s *signerSet) hasQuorum() bool {
	return s.size() >= types.QuorumThreshold(s.schedule.Size())
}

// quorumViews returns, ascending, every view in which distinct schedule
// members reach quorum. A signer counts at most once per view and never
// across views.
func quorumViews(votes []types.Vote, schedule *types.ProducerSchedule) []uint64 {
	byView := make(map[uint64]*signerSet)
	for i := range votes {
		set, ok := byView[votes[i].View]
		if !ok {
			set = newSignerSet(schedule)
			byView[votes[i].View] = set
		}
		set.add(votes[i].Signer)
	}
	var views []uint64
	for view, set := range byView {
		if set.hasQuorum() {
			views = append(views, view)
		}
	}
	sort.Slice(views, func(i, j int) bool { return views[i] < views[j] })
	return views
}

// votesInView returns the votes of view cast by schedule members.
func votesInView(votes []types.Vote, view uint64, schedule *types.ProducerSchedule) []types.Vote {
	var res []types.Vote
	for i := range votes {
		if votes[i].View == view && schedule.Contains(votes[i].Signer) {
			res = append(res, votes[i])
		}
	}
	return res
}
