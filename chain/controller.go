package chain

import (
	"bytes"
	"fmt"
	"time"

	"github.com/pkg/errors"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	tmjson "github.com/tendermint/tendermint/libs/json"
	"github.com/tendermint/tendermint/libs/log"

	"bftchain/forkdb"
	"bftchain/store"
	"bftchain/types"
)

const (
	TableProducers = "producers"
	TableGlobal    = "global"

	headKey = "head"
)

// Config are the chain parameters shared by every node of a network.
type Config struct {
	ChainID                      string
	BlockInterval                time.Duration
	ProducerRepetitions          int
	IrreversibleThresholdPercent int
}

func DefaultConfig() Config {
	return Config{
		BlockInterval:                500 * time.Millisecond,
		ProducerRepetitions:          1,
		IrreversibleThresholdPercent: 75,
	}
}

// ProducerStats is kept in the producers table.
type ProducerStats struct {
	Produced         int64 `json:"produced"`
	MissedBlocks     int64 `json:"missed_blocks"`
	LastProducedNum  int64 `json:"last_produced_num"`
	LastProducedTime int64 `json:"last_produced_time"`
}

// GlobalProperties is kept in the global table and follows the head.
type GlobalProperties struct {
	HeadBlockNum  int64  `json:"head_block_num"`
	HeadBlockID   string `json:"head_block_id"`
	HeadBlockTime int64  `json:"head_block_time"`
}

type ControllerOption func(*Controller)

func WithMetrics(metrics *Metrics) ControllerOption {
	return func(c *Controller) { c.metrics = metrics }
}

// Controller 维护当前链：区块校验、执行、分叉切换和不可逆区块
//
// Blocks above the last irreversible block (LIB) live in the fork database
// and each applied one owns an undo session in the state store, whose
// revision equals the block height. Advancing the LIB commits those
// sessions and moves the block states to the block store.
//
// NOTE: Not goroutine-safe. It is driven by the consensus receive routine.
type Controller struct {
	config     Config
	store      *store.Store
	blockStore *store.BlockStore
	forkDB     *forkdb.ForkDB
	executor   *store.SmallBank

	head               *types.BlockState
	bftIrreversibleNum int64

	metrics *Metrics
	logger  log.Logger
}

// NewController opens the chain, creating the genesis state when the block
// store is empty. Reversible blocks do not survive a restart.
func NewController(
	config Config,
	st *store.Store,
	blockStore *store.BlockStore,
	genDoc *types.GenesisDoc,
	options ...ControllerOption,
) (*Controller, error) {
	if config.ChainID == "" {
		config.ChainID = genDoc.ChainID
	}
	if config.ChainID != genDoc.ChainID {
		return nil, fmt.Errorf("%w: config %s, genesis %s", ErrWrongChainID, config.ChainID, genDoc.ChainID)
	}
	if config.BlockInterval <= 0 {
		return nil, errors.New("block interval must be positive")
	}
	c := &Controller{
		config:     config,
		store:      st,
		blockStore: blockStore,
		executor:   store.NewSmallBank(st),
		metrics:    NopMetrics(),
		logger:     log.NewNopLogger(),
	}
	for _, option := range options {
		option(c)
	}

	var root *types.BlockState
	if blockStore.Height() == 0 {
		var err error
		if root, err = c.initGenesis(genDoc); err != nil {
			return nil, errors.Wrap(err, "init genesis")
		}
	} else {
		var err error
		if root, err = blockStore.LoadBlockStateByHeight(blockStore.Height()); err != nil {
			return nil, err
		}
		if root == nil {
			return nil, errors.Wrapf(ErrInvariant, "missing irreversible block %d", blockStore.Height())
		}
		if root.Block.ChainID != config.ChainID {
			return nil, fmt.Errorf("%w: stored chain %s", ErrWrongChainID, root.Block.ChainID)
		}
	}
	if err := st.SetRevision(root.Height); err != nil {
		return nil, err
	}
	c.forkDB = forkdb.NewForkDB(root)
	c.head = root
	c.metrics.Height.Set(float64(root.Height))
	c.metrics.IrreversibleHeight.Set(float64(root.Height))
	return c, nil
}

func (c *Controller) initGenesis(genDoc *types.GenesisDoc) (*types.BlockState, error) {
	block := genDoc.GenesisBlock()
	state := &types.BlockState{
		ID:                       block.ID(),
		Height:                   block.Height,
		Block:                    block,
		ActiveSchedule:           genDoc.Schedule(),
		ProducerToLastProduced:   map[string]int64{},
		DposIrreversibleBlockNum: block.Height,
	}
	for _, acc := range genDoc.Accounts {
		if err := c.executor.CreateAccount(acc.Name, acc.Saving, acc.Checking); err != nil {
			return nil, err
		}
	}
	if err := c.saveGlobalProperties(state); err != nil {
		return nil, err
	}
	if err := c.blockStore.SaveBlockState(state); err != nil {
		return nil, err
	}
	return state, nil
}

func (c *Controller) SetLogger(l log.Logger) {
	c.logger = l
	c.store.SetLogger(l.With("module", "store"))
	c.forkDB.SetLogger(l.With("module", "forkdb"))
}

func (c *Controller) ChainID() string {
	return c.config.ChainID
}

func (c *Controller) Config() Config {
	return c.config
}

func (c *Controller) HeadBlockState() *types.BlockState {
	return c.head
}

func (c *Controller) LastIrreversibleBlockNum() int64 {
	return c.forkDB.Root().Height
}

func (c *Controller) LastIrreversibleBlockID() tmbytes.HexBytes {
	return c.forkDB.Root().ID
}

// BFTIrreversibleBlockNum is the highest block finalized by PBFT commits.
func (c *Controller) BFTIrreversibleBlockNum() int64 {
	return c.bftIrreversibleNum
}

func (c *Controller) ForkDB() *forkdb.ForkDB {
	return c.forkDB
}

func (c *Controller) Store() *store.Store {
	return c.store
}

func (c *Controller) SmallBank() *store.SmallBank {
	return c.executor
}

// FetchBlockStateByID looks in the fork database, then the block store.
func (c *Controller) FetchBlockStateByID(id []byte) *types.BlockState {
	if bs := c.forkDB.GetBlock(id); bs != nil {
		return bs
	}
	bs, err := c.blockStore.LoadBlockStateByID(id)
	if err != nil {
		c.logger.Error("failed to load block state", "id", fmt.Sprintf("%X", id), "err", err)
		return nil
	}
	return bs
}

// FetchBlockStateByNumber returns the block at num on the current chain.
func (c *Controller) FetchBlockStateByNumber(num int64) *types.BlockState {
	if num <= 0 || num > c.head.Height {
		return nil
	}
	if num <= c.forkDB.Root().Height {
		bs, err := c.blockStore.LoadBlockStateByHeight(num)
		if err != nil {
			c.logger.Error("failed to load block state", "height", num, "err", err)
			return nil
		}
		return bs
	}
	cur := c.head
	for cur != nil && cur.Height > num {
		cur = c.forkDB.GetBlock(cur.Previous())
	}
	return cur
}

// FetchBranchFrom returns both branches down to the common ancestor of two
// reversible blocks.
func (c *Controller) FetchBranchFrom(first, second []byte) (forkdb.Branch, forkdb.Branch, error) {
	return c.forkDB.FetchBranchFrom(first, second)
}

// ProducerStats returns the stats row of a producer.
func (c *Controller) ProducerStats(name string) (ProducerStats, error) {
	var stats ProducerStats
	bz, err := c.store.Get(TableProducers, name)
	if err != nil || bz == nil {
		return stats, err
	}
	err = tmjson.Unmarshal(bz, &stats)
	return stats, err
}

func (c *Controller) GlobalProperties() (GlobalProperties, error) {
	var gpo GlobalProperties
	bz, err := c.store.Get(TableGlobal, headKey)
	if err != nil || bz == nil {
		return gpo, err
	}
	err = tmjson.Unmarshal(bz, &gpo)
	return gpo, err
}

//-----------------------------------------------------------------------------
// block production

// ScheduledProducer returns who may produce a block at timestamp on top of parent.
func (c *Controller) ScheduledProducer(parentID []byte, timestamp time.Time) (types.ProducerKey, error) {
	parent := c.forkDB.GetBlock(parentID)
	if parent == nil {
		return types.ProducerKey{}, ErrUnknownBlock
	}
	active, _, _ := promoteSchedule(parent)
	return active.Scheduled(types.SlotAt(timestamp, c.config.BlockInterval), c.config.ProducerRepetitions), nil
}

// ProduceBlock builds and signs a block on top of parent. The block still
// has to go through PushBlock.
func (c *Controller) ProduceBlock(
	parentID []byte,
	pv types.PrivValidator,
	timestamp time.Time,
	txs types.Txs,
	newProducers *types.ProducerSchedule,
) (*types.Block, error) {
	parent := c.forkDB.GetBlock(parentID)
	if parent == nil {
		return nil, ErrUnknownBlock
	}
	active, _, _ := promoteSchedule(parent)
	producer := active.Scheduled(types.SlotAt(timestamp, c.config.BlockInterval), c.config.ProducerRepetitions)
	pubKey, err := pv.GetPubKey()
	if err != nil {
		return nil, err
	}
	if !types.KeyEqual(pubKey, producer.SigningKey) {
		return nil, fmt.Errorf("%w: slot belongs to %s", ErrWrongProducer, producer.Name)
	}

	block := types.MakeBlock(types.Header{
		ChainID:         c.config.ChainID,
		Height:          parent.Height + 1,
		Previous:        parent.ID,
		Timestamp:       timestamp,
		Producer:        producer.Name,
		ScheduleVersion: active.Version,
		NewProducers:    newProducers,
	}, txs)
	if err := block.Sign(pv); err != nil {
		return nil, err
	}
	return block, nil
}

//-----------------------------------------------------------------------------
// block application

// PushBlock validates block, stores it in the fork database and makes the
// best branch current. Blocks on a shorter fork are kept but not applied.
func (c *Controller) PushBlock(block *types.Block) error {
	if block.Height <= c.LastIrreversibleBlockNum() {
		return ErrBlockTooOld
	}
	prev := c.forkDB.GetBlock(block.Previous)
	if prev == nil {
		return ErrUnlinkableBlock
	}
	bs, err := c.nextBlockState(prev, block)
	if err != nil {
		return err
	}
	if err := c.forkDB.Add(bs); err != nil {
		return err
	}

	newHead := c.forkDB.Head()
	if bytes.Equal(newHead.ID, c.head.ID) {
		c.logger.Debug("stored block on a side fork", "height", bs.Height, "id", bs.ID)
		return nil
	}
	if bytes.Equal(newHead.Previous(), c.head.ID) {
		if err := c.applyBlock(newHead); err != nil {
			c.logger.Error("failed to apply block", "height", newHead.Height, "id", newHead.ID, "err", err)
			if rerr := c.forkDB.Remove(newHead.ID); rerr != nil {
				return errors.Wrapf(ErrInvariant, "remove bad block: %v", rerr)
			}
			return err
		}
	} else if err := c.switchForks(newHead, false); err != nil {
		return err
	}
	return c.updateIrreversible()
}

func (c *Controller) applyBlock(bs *types.BlockState) error {
	if !bytes.Equal(bs.Previous(), c.head.ID) {
		return errors.Wrapf(ErrInvariant, "block %d does not extend head %d", bs.Height, c.head.Height)
	}
	sess := c.store.StartSession()
	defer sess.Undo()

	if err := c.recordProducer(c.head, bs); err != nil {
		return err
	}
	for i, tx := range bs.Block.Txs {
		if err := c.executor.ExecuteTx(tx); err != nil {
			return fmt.Errorf("block %d tx #%d (%s): %w", bs.Height, i, tx.TxType, err)
		}
	}
	if err := c.saveGlobalProperties(bs); err != nil {
		return err
	}

	sess.Push()
	c.head = bs
	c.metrics.Height.Set(float64(bs.Height))
	c.metrics.NumTxs.Set(float64(len(bs.Block.Txs)))
	c.logger.Info("Applied block", "height", bs.Height, "id", bs.ID, "producer", bs.Block.Producer, "txs", len(bs.Block.Txs))
	return nil
}

// popBlock undoes the head block.
func (c *Controller) popBlock() {
	prev := c.forkDB.GetBlock(c.head.Previous())
	if prev == nil {
		panic(fmt.Sprintf("cannot pop head %d: parent not in fork database", c.head.Height))
	}
	c.store.Undo()
	c.head = prev
}

// switchForks moves the head to newHead. Unless forced, newHead must be
// higher than the current head. If a block of the new branch fails, that
// block and its descendants are dropped and the old branch is restored.
func (c *Controller) switchForks(newHead *types.BlockState, force bool) error {
	if !force && newHead.Height <= c.head.Height {
		return nil
	}
	newBranch, oldBranch, err := c.forkDB.FetchBranchFrom(newHead.ID, c.head.ID)
	if err != nil {
		return errors.Wrapf(ErrInvariant, "fetch branches: %v", err)
	}
	c.logger.Info("Switching forks", "from", c.head.Height, "fromID", c.head.ID,
		"to", newHead.Height, "toID", newHead.ID, "undo", len(oldBranch), "apply", len(newBranch))
	c.metrics.ForkSwitches.Add(1)

	for range oldBranch {
		c.popBlock()
	}
	for i := len(newBranch) - 1; i >= 0; i-- {
		applyErr := c.applyBlock(newBranch[i])
		if applyErr == nil {
			continue
		}
		c.logger.Error("Fork switch failed, restoring previous branch",
			"height", newBranch[i].Height, "id", newBranch[i].ID, "err", applyErr)
		if err := c.forkDB.Remove(newBranch[i].ID); err != nil {
			return errors.Wrapf(ErrInvariant, "remove bad block: %v", err)
		}
		for j := len(newBranch) - 1; j > i; j-- {
			c.popBlock()
		}
		for j := len(oldBranch) - 1; j >= 0; j-- {
			if err := c.applyBlock(oldBranch[j]); err != nil {
				return errors.Wrapf(ErrInvariant, "restore block %d: %v", oldBranch[j].Height, err)
			}
		}
		return applyErr
	}
	return nil
}

func (c *Controller) recordProducer(prev, bs *types.BlockState) error {
	var (
		active   = bs.ActiveSchedule
		reps     = int64(c.config.ProducerRepetitions)
		prevSlot = types.SlotAt(prev.Timestamp(), c.config.BlockInterval)
		slot     = types.SlotAt(bs.Timestamp(), c.config.BlockInterval)
	)
	if reps <= 0 {
		reps = 1
	}

	// 统计跳过的slot
	if gap := slot - prevSlot - 1; gap > 0 {
		round := int64(active.Size()) * reps
		missed := make(map[string]int64)
		rounds := gap / round
		if rounds > 0 {
			for _, p := range active.Producers {
				missed[p.Name] += rounds * reps
			}
		}
		for s := prevSlot + 1 + rounds*round; s < slot; s++ {
			missed[active.Scheduled(s, int(reps)).Name]++
		}
		for _, p := range active.Producers {
			if missed[p.Name] == 0 {
				continue
			}
			stats, err := c.ProducerStats(p.Name)
			if err != nil {
				return err
			}
			stats.MissedBlocks += missed[p.Name]
			if err := c.saveProducerStats(p.Name, stats); err != nil {
				return err
			}
			c.metrics.MissedBlocks.With("producer", p.Name).Add(float64(missed[p.Name]))
		}
	}

	stats, err := c.ProducerStats(bs.Block.Producer)
	if err != nil {
		return err
	}
	stats.Produced++
	stats.LastProducedNum = bs.Height
	stats.LastProducedTime = bs.Timestamp().UnixNano()
	return c.saveProducerStats(bs.Block.Producer, stats)
}

func (c *Controller) saveProducerStats(name string, stats ProducerStats) error {
	bz, err := tmjson.Marshal(stats)
	if err != nil {
		return err
	}
	return c.store.Set(TableProducers, name, bz)
}

func (c *Controller) saveGlobalProperties(bs *types.BlockState) error {
	bz, err := tmjson.Marshal(GlobalProperties{
		HeadBlockNum:  bs.Height,
		HeadBlockID:   bs.ID.String(),
		HeadBlockTime: bs.Timestamp().UnixNano(),
	})
	if err != nil {
		return err
	}
	return c.store.Set(TableGlobal, headKey, bz)
}

//-----------------------------------------------------------------------------
// irreversibility

// SetBFTIrreversible marks id final. A block off the current chain makes
// the chain switch to its best descendant first.
func (c *Controller) SetBFTIrreversible(id []byte) error {
	bs := c.forkDB.GetBlock(id)
	if bs == nil {
		if stored := c.FetchBlockStateByID(id); stored != nil {
			return nil
		}
		return ErrUnknownBlock
	}
	if bs.Height <= c.LastIrreversibleBlockNum() {
		return nil
	}
	if !c.onCurrentChain(bs) {
		tip := c.forkDB.BestDescendant(id)
		c.logger.Info("BFT irreversible block is off the current chain", "height", bs.Height, "id", bs.ID)
		if err := c.switchForks(tip, true); err != nil {
			return err
		}
	}
	if bs.Height > c.bftIrreversibleNum {
		c.bftIrreversibleNum = bs.Height
		c.metrics.BFTIrreversibleHeight.Set(float64(bs.Height))
	}
	return c.updateIrreversible()
}

func (c *Controller) onCurrentChain(bs *types.BlockState) bool {
	cur := c.FetchBlockStateByNumber(bs.Height)
	return cur != nil && bytes.Equal(cur.ID, bs.ID)
}

// updateIrreversible advances the LIB to the larger of the head's DPoS LIB
// and the BFT irreversible block.
func (c *Controller) updateIrreversible() error {
	newLIB := c.head.DposIrreversibleBlockNum
	if c.bftIrreversibleNum > newLIB {
		newLIB = c.bftIrreversibleNum
	}
	if newLIB > c.head.Height {
		newLIB = c.head.Height
	}
	root := c.forkDB.Root()
	if newLIB <= root.Height {
		return nil
	}

	var branch []*types.BlockState
	for cur := c.head; cur.Height > root.Height; cur = c.forkDB.GetBlock(cur.Previous()) {
		if cur.Height <= newLIB {
			branch = append(branch, cur)
		}
	}
	for i := len(branch) - 1; i >= 0; i-- {
		if err := c.blockStore.SaveBlockState(branch[i]); err != nil {
			return errors.Wrapf(ErrInvariant, "save irreversible block %d: %v", branch[i].Height, err)
		}
	}
	if err := c.store.Commit(newLIB); err != nil {
		return errors.Wrapf(ErrInvariant, "commit state at %d: %v", newLIB, err)
	}
	lib := branch[0]
	if err := c.forkDB.Prune(lib.ID); err != nil {
		return errors.Wrapf(ErrInvariant, "prune fork database: %v", err)
	}

	c.metrics.IrreversibleHeight.Set(float64(lib.Height))
	c.logger.Info("Advanced irreversible block", "height", lib.Height, "id", lib.ID)
	return nil
}

// AttachStableCheckpoint adds ext to the block unless it already carries
// an extension of that type.
func (c *Controller) AttachStableCheckpoint(id []byte, ext types.Extension) error {
	if bs := c.forkDB.GetBlock(id); bs != nil {
		if attachExtension(bs.Block, ext) && bs.Height <= c.LastIrreversibleBlockNum() {
			return c.blockStore.SaveBlockState(bs)
		}
		return nil
	}
	stored, err := c.blockStore.LoadBlockStateByID(id)
	if err != nil {
		return err
	}
	if stored == nil {
		return ErrUnknownBlock
	}
	if attachExtension(stored.Block, ext) {
		return c.blockStore.SaveBlockState(stored)
	}
	return nil
}

func attachExtension(block *types.Block, ext types.Extension) bool {
	if _, ok := block.Extension(ext.Type); ok {
		return false
	}
	block.Extensions = append(block.Extensions, ext)
	return true
}
