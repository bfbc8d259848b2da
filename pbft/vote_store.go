package pbft

import (
	"bytes"
	"sort"

	"github.com/pkg/errors"

	"bftchain/types"
)

// VoteStore keeps one ConsensusRecord per block id.
type VoteStore struct {
	records map[string]*ConsensusRecord
}

func NewVoteStore() *VoteStore {
	return &VoteStore{records: make(map[string]*ConsensusRecord)}
}

// Get returns nil when no record exists for id.
func (vs *VoteStore) Get(id []byte) *ConsensusRecord {
	return vs.records[string(id)]
}

func (vs *VoteStore) Size() int {
	return len(vs.records)
}

// Records returns the records ordered by block number, then id.
func (vs *VoteStore) Records() []*ConsensusRecord {
	res := make([]*ConsensusRecord, 0, len(vs.records))
	for _, rec := range vs.records {
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

func (vs *VoteStore) getOrCreate(bs *types.BlockState) *ConsensusRecord {
	rec, ok := vs.records[string(bs.ID)]
	if !ok {
		rec = &ConsensusRecord{BlockID: bs.ID, BlockNum: bs.Height}
		vs.records[string(bs.ID)] = rec
	}
	return rec
}

// insert fails on a second record for the same block.
func (vs *VoteStore) insert(rec *ConsensusRecord) error {
	if _, ok := vs.records[string(rec.BlockID)]; ok {
		return errors.Wrapf(ErrInvariant, "duplicate consensus record for block %v", rec.BlockID)
	}
	vs.records[string(rec.BlockID)] = rec
	return nil
}

// highest returns the matching record with the largest block number.
func (vs *VoteStore) highest(match func(rec *ConsensusRecord) bool) *ConsensusRecord {
	var best *ConsensusRecord
	for _, rec := range vs.records {
		if !match(rec) {
			continue
		}
		if best == nil || rec.BlockNum > best.BlockNum ||
			(rec.BlockNum == best.BlockNum && bytes.Compare(rec.BlockID, best.BlockID) < 0) {
			best = rec
		}
	}
	return best
}

// PruneBelow drops records with block number below num.
func (vs *VoteStore) PruneBelow(num int64) int {
	pruned := 0
	for id, rec := range vs.records {
		if rec.BlockNum < num {
			delete(vs.records, id)
			pruned++
		}
	}
	return pruned
}

//-----------------------------------------------------------------------------
// prepare / commit

// AddPrepare admits a prepare and merges it into the record of the voted
// block and of every ancestor above the LIB. It returns false when the
// prepare is rejected.
func (db *Database) AddPrepare(p types.Vote) bool {
	if err := db.checkVote(&p, types.PrepareType); err != nil {
		db.reject(&p, err)
		return false
	}
	if p.BlockNum <= db.checkpoints.Stable().Num {
		return true
	}
	bs := db.chain.FetchBlockStateByID(p.BlockID)
	if bs == nil || bs.Height != p.BlockNum {
		db.logger.Debug("prepare for unknown block", "vote", p.String())
		return false
	}
	db.metrics.VotesAccepted.With("type", "prepare").Add(1)

	lib := db.chain.LastIrreversibleBlockNum()
	for cur := bs; cur != nil && cur.Height > lib; cur = db.chain.FetchBlockStateByID(cur.Previous()) {
		rec := db.votes.getOrCreate(cur)
		rec.addPrepare(p)
		if !rec.ShouldPrepare && len(quorumViews(rec.Prepares, cur.ActiveSchedule)) > 0 {
			rec.ShouldPrepare = true
			db.metrics.PreparedHeight.Set(float64(rec.BlockNum))
			db.logger.Info("Block prepared", "height", rec.BlockNum, "id", rec.BlockID)
		}
	}
	return true
}

// AddCommit admits a commit like AddPrepare. The commit quorum is only
// evaluated for records that are already prepared.
func (db *Database) AddCommit(c types.Vote) bool {
	if err := db.checkVote(&c, types.CommitType); err != nil {
		db.reject(&c, err)
		return false
	}
	if c.BlockNum <= db.checkpoints.Stable().Num {
		return true
	}
	bs := db.chain.FetchBlockStateByID(c.BlockID)
	if bs == nil || bs.Height != c.BlockNum {
		db.logger.Debug("commit for unknown block", "vote", c.String())
		return false
	}
	db.metrics.VotesAccepted.With("type", "commit").Add(1)

	lib := db.chain.LastIrreversibleBlockNum()
	for cur := bs; cur != nil && cur.Height > lib; cur = db.chain.FetchBlockStateByID(cur.Previous()) {
		rec := db.votes.getOrCreate(cur)
		rec.addCommit(c)
		if rec.ShouldPrepare && !rec.ShouldCommit && len(quorumViews(rec.Commits, cur.ActiveSchedule)) > 0 {
			rec.ShouldCommit = true
			db.logger.Info("Block committed", "height", rec.BlockNum, "id", rec.BlockID)
		}
	}
	return true
}

func (db *Database) reject(msg types.PBFTMessage, err error) {
	db.metrics.VotesRejected.With("type", msg.MsgType().String()).Add(1)
	db.logger.Debug("rejected pbft message", "type", msg.MsgType(), "err", err)
}

// ShouldPrepare reports whether id has a prepare quorum.
func (db *Database) ShouldPrepare(id []byte) bool {
	rec := db.votes.Get(id)
	return rec != nil && rec.ShouldPrepare
}

// HighestPrepared returns the highest prepared block above the LIB.
func (db *Database) HighestPrepared() (types.BlockInfo, bool) {
	lib := db.chain.LastIrreversibleBlockNum()
	rec := db.votes.highest(func(r *ConsensusRecord) bool {
		return r.ShouldPrepare && r.BlockNum > lib
	})
	if rec == nil {
		return types.BlockInfo{}, false
	}
	return rec.BlockInfo(), true
}

// ShouldCommit reports whether any block above the LIB has a commit quorum.
func (db *Database) ShouldCommit() bool {
	_, ok := db.highestCommitted()
	return ok
}

func (db *Database) highestCommitted() (*ConsensusRecord, bool) {
	lib := db.chain.LastIrreversibleBlockNum()
	rec := db.votes.highest(func(r *ConsensusRecord) bool {
		return r.ShouldCommit && r.BlockNum > lib
	})
	return rec, rec != nil
}

// CommitLocal makes the highest committed block above the LIB BFT
// irreversible. It returns the empty BlockInfo when there is none.
func (db *Database) CommitLocal() (types.BlockInfo, error) {
	rec, ok := db.highestCommitted()
	if !ok {
		return types.BlockInfo{}, nil
	}
	if err := db.chain.SetBFTIrreversible(rec.BlockID); err != nil {
		return types.BlockInfo{}, err
	}
	db.metrics.CommittedHeight.Set(float64(rec.BlockNum))
	db.logger.Info("Committed block locally", "height", rec.BlockNum, "id", rec.BlockID)
	return rec.BlockInfo(), nil
}

// GeneratePreparedCertificate bundles the prepares of the lowest view that
// reached quorum on one fork, for the highest such block above the last
// stable checkpoint. It is empty when nothing is prepared.
//
// A record can be prepared by prepares spread over sibling forks. Those
// records are skipped, since such a certificate would not validate.
func (db *Database) GeneratePreparedCertificate() types.PreparedCertificate {
	lscb := db.checkpoints.Stable().Num
	records := db.votes.Records()
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		if !rec.ShouldPrepare || rec.BlockNum <= lscb {
			continue
		}
		if prepares, ok := db.forkPrepares(rec); ok {
			return types.PreparedCertificate{
				BlockInfo: rec.BlockInfo(),
				Prepares:  prepares,
			}
		}
	}
	return types.PreparedCertificate{}
}

// forkPrepares returns the prepares of rec that form a quorum on one fork.
func (db *Database) forkPrepares(rec *ConsensusRecord) ([]types.Vote, bool) {
	bs := db.chain.FetchBlockStateByID(rec.BlockID)
	if bs == nil {
		return nil, false
	}
	blocks := make(map[string]*types.BlockState)
	known := make([]types.Vote, 0, len(rec.Prepares))
	for i := range rec.Prepares {
		p := rec.Prepares[i]
		voted, ok := blocks[string(p.BlockID)]
		if !ok {
			voted = db.chain.FetchBlockStateByID(p.BlockID)
			if voted == nil || voted.Height != p.BlockNum {
				continue
			}
			blocks[string(p.BlockID)] = voted
		}
		known = append(known, p)
	}
	return db.forkQuorum(bs, known, blocks)
}

// SendPrepares signs prepares for the current view with every active local
// signer. The target is the highest prepared block, else the head capped
// at a pending schedule's proposal height.
func (db *Database) SendPrepares() []types.Vote {
	target := db.prepareTarget()
	if target == nil {
		return nil
	}
	var sent []types.Vote
	for _, s := range db.activeSigners() {
		p := types.Vote{
			Type:      types.PrepareType,
			RequestID: newRequestID(),
			View:      db.views.CurrentView(),
			BlockNum:  target.Height,
			BlockID:   target.ID,
			ChainID:   db.chain.ChainID(),
		}
		if err := p.Sign(s.pv); err != nil {
			db.logger.Error("failed to sign prepare", "err", err)
			continue
		}
		db.AddPrepare(p)
		db.outbox.Push(&p)
		sent = append(sent, p)
	}
	return sent
}

func (db *Database) prepareTarget() *types.BlockState {
	if info, ok := db.HighestPrepared(); ok {
		return db.chain.FetchBlockStateByID(info.ID)
	}
	head := db.chain.HeadBlockState()
	lib := db.chain.LastIrreversibleBlockNum()
	watermark := head.Height
	if head.PendingSchedule != nil && head.PendingScheduleHeight > lib && head.PendingScheduleHeight < watermark {
		watermark = head.PendingScheduleHeight
	}
	if watermark <= lib {
		return nil
	}
	return db.chain.FetchBlockStateByNumber(watermark)
}

// SendCommits signs commits on the highest prepared block, if any.
func (db *Database) SendCommits() []types.Vote {
	info, ok := db.HighestPrepared()
	if !ok {
		return nil
	}
	var sent []types.Vote
	for _, s := range db.activeSigners() {
		c := types.Vote{
			Type:      types.CommitType,
			RequestID: newRequestID(),
			View:      db.views.CurrentView(),
			BlockNum:  info.Num,
			BlockID:   info.ID,
			ChainID:   db.chain.ChainID(),
		}
		if err := c.Sign(s.pv); err != nil {
			db.logger.Error("failed to sign commit", "err", err)
			continue
		}
		db.AddCommit(c)
		db.outbox.Push(&c)
		sent = append(sent, c)
	}
	return sent
}
