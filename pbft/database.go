package pbft

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tendermint/tendermint/crypto"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	"github.com/tendermint/tendermint/libs/log"

	"bftchain/types"
)

var (
	// ErrInvariant marks corrupted PBFT state the node cannot continue with.
	ErrInvariant = errors.New("pbft invariant violated")

	ErrWrongChainID     = errors.New("message belongs to another chain")
	ErrUnknownSigner    = errors.New("signer is not an active producer")
	ErrStaleView        = errors.New("view is not above the current view")
	ErrNotPrimary       = errors.New("signer is not the primary of the view")
	ErrNoQuorum         = errors.New("not enough distinct signers for a quorum")
	ErrCertMismatch     = errors.New("certificate does not match the highest valid one")
	ErrInvalidCert      = errors.New("invalid certificate")
	ErrViewChangeTarget = errors.New("view change targets another view")
)

// Chain is what the PBFT database needs from the chain controller.
type Chain interface {
	ChainID() string
	HeadBlockState() *types.BlockState
	FetchBlockStateByID(id []byte) *types.BlockState
	FetchBlockStateByNumber(num int64) *types.BlockState
	LastIrreversibleBlockNum() int64
	SetBFTIrreversible(id []byte) error
	AttachStableCheckpoint(id []byte, ext types.Extension) error
}

type Config struct {
	// checkpoints are taken every CheckpointInterval blocks
	CheckpointInterval int64
}

func DefaultConfig() Config {
	return Config{CheckpointInterval: 100}
}

type Option func(*Database)

func WithMetrics(metrics *Metrics) Option {
	return func(db *Database) { db.metrics = metrics }
}

// Database holds the PBFT state of a node: the vote store, the view
// manager and the checkpoint store, sharing one chain and one set of local
// signers. Messages it produces are queued on its Outbox.
//
// NOTE: Not goroutine-safe. Every call must come from the consensus
// receive routine.
type Database struct {
	chain   Chain
	config  Config
	signers []localSigner

	votes       *VoteStore
	views       *ViewManager
	checkpoints *CheckpointStore
	outbox      *Outbox

	// 从lscb到head所有active schedule的出块者
	recvHead tmbytes.HexBytes
	recvLscb int64
	recvKeys map[string]struct{}

	genesisSchedule *types.ProducerSchedule

	metrics *Metrics
	logger  log.Logger
}

type localSigner struct {
	pv     types.PrivValidator
	pubKey crypto.PubKey
}

func NewDatabase(chain Chain, config Config, signers []types.PrivValidator, options ...Option) (*Database, error) {
	if config.CheckpointInterval <= 0 {
		return nil, errors.New("checkpoint interval must be positive")
	}
	db := &Database{
		chain:       chain,
		config:      config,
		votes:       NewVoteStore(),
		views:       NewViewManager(),
		checkpoints: NewCheckpointStore(),
		outbox:      NewOutbox(),
		metrics:     NopMetrics(),
		logger:      log.NewNopLogger(),
	}
	for _, pv := range signers {
		pubKey, err := pv.GetPubKey()
		if err != nil {
			return nil, err
		}
		db.signers = append(db.signers, localSigner{pv: pv, pubKey: pubKey})
	}
	for _, option := range options {
		option(db)
	}
	return db, nil
}

func (db *Database) SetLogger(l log.Logger) {
	db.logger = l
}

func (db *Database) Outbox() *Outbox {
	return db.outbox
}

func (db *Database) VoteStore() *VoteStore {
	return db.votes
}

func (db *Database) ViewManager() *ViewManager {
	return db.views
}

func (db *Database) CheckpointStore() *CheckpointStore {
	return db.checkpoints
}

func (db *Database) CurrentView() uint64 {
	return db.views.CurrentView()
}

// StableCheckpoint is the last stable checkpoint, the PBFT low-water mark.
func (db *Database) StableCheckpoint() types.BlockInfo {
	return db.checkpoints.Stable()
}

//-----------------------------------------------------------------------------
// admission

// shouldRecv reports whether key is in any active schedule between the
// last stable checkpoint and the head.
func (db *Database) shouldRecv(key crypto.PubKey) bool {
	_, ok := db.activeKeys()[types.KeyString(key)]
	return ok
}

func (db *Database) activeKeys() map[string]struct{} {
	head := db.chain.HeadBlockState()
	lscb := db.checkpoints.Stable()
	if db.recvKeys != nil && db.recvLscb == lscb.Num && bytes.Equal(db.recvHead, head.ID) {
		return db.recvKeys
	}

	keys := make(map[string]struct{})
	floor := db.lscbSchedule().Version
	for cur := head; cur != nil; cur = db.chain.FetchBlockStateByID(cur.Previous()) {
		for _, p := range cur.ActiveSchedule.Producers {
			keys[types.KeyString(p.SigningKey)] = struct{}{}
		}
		if cur.ActiveSchedule.Version <= floor || cur.Height <= lscb.Num || cur.Height <= types.GenesisHeight {
			break
		}
	}
	db.recvHead, db.recvLscb, db.recvKeys = head.ID, lscb.Num, keys
	return keys
}

// lscbSchedule is the active schedule at the last stable checkpoint, or the
// genesis schedule before the first one.
func (db *Database) lscbSchedule() *types.ProducerSchedule {
	lscb := db.checkpoints.Stable()
	if !lscb.IsEmpty() {
		if bs := db.chain.FetchBlockStateByID(lscb.ID); bs != nil {
			return bs.ActiveSchedule
		}
	}
	if db.genesisSchedule == nil {
		if bs := db.chain.FetchBlockStateByNumber(types.GenesisHeight); bs != nil {
			db.genesisSchedule = bs.ActiveSchedule
		} else {
			return db.chain.HeadBlockState().ActiveSchedule
		}
	}
	return db.genesisSchedule
}

// checkVote runs the admission checks shared by prepares and commits.
func (db *Database) checkVote(v *types.Vote, typ types.MsgType) error {
	if v.Type != typ {
		return errors.New("unexpected vote type " + v.Type.String())
	}
	if v.ChainID != db.chain.ChainID() {
		return ErrWrongChainID
	}
	if !db.shouldRecv(v.Signer) {
		return ErrUnknownSigner
	}
	return v.VerifySignature()
}

// signersFor returns the local signers that are members of schedule.
func (db *Database) signersFor(schedule *types.ProducerSchedule) []localSigner {
	var res []localSigner
	for _, s := range db.signers {
		if schedule.Contains(s.pubKey) {
			res = append(res, s)
		}
	}
	return res
}

// activeSigners returns the local signers whose votes peers will accept.
func (db *Database) activeSigners() []localSigner {
	var res []localSigner
	for _, s := range db.signers {
		if db.shouldRecv(s.pubKey) {
			res = append(res, s)
		}
	}
	return res
}

func newRequestID() string {
	return uuid.New().String()
}

// Receive dispatches a message from the network to the matching Add call.
func (db *Database) Receive(msg types.PBFTMessage) bool {
	switch m := msg.(type) {
	case *types.Vote:
		switch m.Type {
		case types.PrepareType:
			return db.AddPrepare(*m)
		case types.CommitType:
			return db.AddCommit(*m)
		}
	case *types.Checkpoint:
		return db.AddCheckpoint(*m)
	case *types.ViewChange:
		return db.AddViewChange(*m)
	case *types.NewView:
		return db.AddNewView(*m)
	}
	db.logger.Error("unknown pbft message", "msg", fmt.Sprintf("%T", msg))
	return false
}
