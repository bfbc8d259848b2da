package consensus

import (
	"errors"
	"sync"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
	"github.com/tendermint/tendermint/libs/events"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/libs/service"

	"bftchain/chain"
	"bftchain/config"
	"bftchain/libs/metric"
	"bftchain/pbft"
	"bftchain/types"
)

const msgQueueSize = 1000

var ErrStateStopped = errors.New("consensus state is not running")

// State 共识状态机
// 所有对chain和pbft database的写操作都在receiveRoutine中串行执行
type State struct {
	service.BaseService

	config *config.PBFTConfig

	chain  *chain.Controller
	pbftDB *pbft.Database

	// 本节点持有的出块私钥，按调度轮到时出块
	producers []types.PrivValidator

	mtx sync.Mutex

	// 通信管道
	peerMsgQueue     chan msgInfo       // 来自其他节点的区块、投票
	internalMsgQueue chan msgInfo       // 本节点生成的区块
	eventSwitch      events.EventSwitch // 对外广播本节点生成的消息

	tickInterval time.Duration
	ticker       *time.Ticker

	// view change计时
	lastLIB      int64
	lastView     uint64
	wait         time.Duration
	deadline     time.Time
	lastProduced int64

	metric *consensusMetric

	now func() time.Time
}

type StateOption func(*State)

// WithProducers lets the state produce blocks in the slots of pvs.
func WithProducers(pvs ...types.PrivValidator) StateOption {
	return func(cs *State) { cs.producers = append(cs.producers, pvs...) }
}

func NewState(
	cfg *config.PBFTConfig,
	controller *chain.Controller,
	pbftDB *pbft.Database,
	options ...StateOption,
) *State {
	cs := &State{
		config:           cfg,
		chain:            controller,
		pbftDB:           pbftDB,
		peerMsgQueue:     make(chan msgInfo, msgQueueSize),
		internalMsgQueue: make(chan msgInfo, msgQueueSize),
		eventSwitch:      events.NewEventSwitch(),
		tickInterval:     cfg.TickInterval,
		wait:             cfg.ViewChangeTimeout,
		lastView:         pbftDB.CurrentView(),
		metric:           newConsensusMetric(),
		now:              time.Now,
	}
	if bi := controller.Config().BlockInterval; bi < cs.tickInterval {
		cs.tickInterval = bi
	}
	cs.BaseService = *service.NewBaseService(nil, "CONSENSUS", cs)

	for _, opt := range options {
		opt(cs)
	}
	return cs
}

func (cs *State) SetLogger(logger log.Logger) {
	cs.Logger = logger
	cs.eventSwitch.SetLogger(logger)
}

func (cs *State) EventSwitch() events.EventSwitch {
	return cs.eventSwitch
}

// Metric exposes the consensus status to the node's metric set.
func (cs *State) Metric() metric.MetricItem {
	return cs.metric
}

// Registry holds the message counters of the consensus module.
func (cs *State) Registry() gometrics.Registry {
	return cs.metric.Registry()
}

func (cs *State) OnStart() error {
	if err := cs.eventSwitch.Start(); err != nil {
		return err
	}
	cs.mtx.Lock()
	cs.lastLIB = cs.chain.LastIrreversibleBlockNum()
	cs.lastView = cs.pbftDB.CurrentView()
	cs.resetTimer(cs.now())
	cs.mtx.Unlock()

	cs.ticker = time.NewTicker(cs.tickInterval)
	go cs.receiveRoutine()
	cs.Logger.Info("consensus receive routine started.", "tick", cs.tickInterval, "pbft", cs.config.Enabled)
	return nil
}

func (cs *State) OnStop() {
	if cs.ticker != nil {
		cs.ticker.Stop()
	}
	if err := cs.eventSwitch.Stop(); err != nil {
		cs.Logger.Error("failed trying to stop eventSwitch", "error", err)
	}
	cs.Logger.Info("consensus state stopped.")
}

// ReceiveBlock queues a block from peerID.
func (cs *State) ReceiveBlock(block *types.Block, peerID string) error {
	return cs.sendPeerMessage(msgInfo{&BlockMessage{Block: block}, peerID})
}

// ReceiveMessage queues a pbft message from peerID.
func (cs *State) ReceiveMessage(msg types.PBFTMessage, peerID string) error {
	return cs.sendPeerMessage(msgInfo{&PBFTMessage{Msg: msg}, peerID})
}

func (cs *State) sendPeerMessage(mi msgInfo) error {
	if err := mi.Msg.ValidateBasic(); err != nil {
		return err
	}
	select {
	case cs.peerMsgQueue <- mi:
		return nil
	case <-cs.Quit():
		return ErrStateStopped
	}
}

// send a msg into the receiveRoutine regarding our own block
// 直接写可能会因为receiveRoutine blocked从而导致本协程block
func (cs *State) sendInternalMessage(mi msgInfo) {
	select {
	case cs.internalMsgQueue <- mi:
	default:
		cs.Logger.Debug("internal msg queue is full; using a go-routine")
		go func() {
			select {
			case cs.internalMsgQueue <- mi:
			case <-cs.Quit():
			}
		}()
	}
}

// View returns the current and the target view.
func (cs *State) View() (current, target uint64) {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()
	vm := cs.pbftDB.ViewManager()
	return vm.CurrentView(), vm.TargetView()
}

// Heights returns the head height, the BFT irreversible height and the last
// stable checkpoint height.
func (cs *State) Heights() (head, bft, lscb int64) {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()
	return cs.chain.HeadBlockState().Height, cs.chain.BFTIrreversibleBlockNum(), cs.pbftDB.StableCheckpoint().Num
}

// receiveRoutine负责接收所有的消息和定时事件
func (cs *State) receiveRoutine() {
	cs.Logger.Debug("consensus receive routine starts.")
	for {
		select {
		case <-cs.Quit():
			cs.Logger.Info("receiveRoutine quit.")
			return

		case mi := <-cs.peerMsgQueue:
			cs.handleMsg(mi)

		case mi := <-cs.internalMsgQueue:
			cs.handleMsg(mi)

		case t := <-cs.ticker.C:
			cs.handleTick(t)
		}
	}
}

// handleMsg 根据不同的消息类型进行操作
func (cs *State) handleMsg(mi msgInfo) {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()

	msg, peerID := mi.Msg, mi.PeerID

	switch msg := msg.(type) {
	case *BlockMessage:
		if err := cs.chain.PushBlock(msg.Block); err != nil {
			cs.Logger.Debug("failed to push block", "peer", peerID, "height", msg.Block.Height, "err", err)
			cs.metric.IncReceived("block", false)
			return
		}
		if peerID == "" {
			cs.eventSwitch.FireEvent(EventNewBlock, msg.Block)
		}
		cs.metric.IncReceived("block", true)

	case *PBFTMessage:
		if !cs.config.Enabled {
			return
		}
		kind, _ := eventFor(msg.Msg)
		accepted := cs.pbftDB.Receive(msg.Msg)
		cs.metric.IncReceived(kind, accepted)
		if accepted {
			cs.checkView(cs.now())
		}
	}
	cs.broadcast()
}

// handleTick 定时推进：出块，然后依次执行
// prepare -> commit -> commit_local -> checkpoint -> checkpoint_local
func (cs *State) handleTick(t time.Time) {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()

	cs.tryProduce(t)
	if !cs.config.Enabled {
		return
	}

	if cs.pbftDB.ViewManager().IsChanging() {
		cs.tickViewChange(t)
	} else {
		cs.tickNormal(t)
	}
	cs.checkView(t)
	cs.broadcast()
	cs.markMetric()
}

func (cs *State) tickNormal(t time.Time) {
	cs.pbftDB.SendPrepares()
	cs.pbftDB.SendCommits()
	if _, err := cs.pbftDB.CommitLocal(); err != nil {
		cs.Logger.Error("failed to commit locally", "err", err)
	}
	cs.pbftDB.SendCheckpoints()
	cs.pbftDB.CheckpointLocal()

	lib := cs.chain.LastIrreversibleBlockNum()
	switch {
	case lib > cs.lastLIB:
		cs.lastLIB = lib
		cs.wait = cs.config.ViewChangeTimeout
		cs.resetTimer(t)
	case cs.chain.HeadBlockState().Height <= lib:
		// 没有待确认的区块
		cs.resetTimer(t)
	case t.After(cs.deadline):
		cs.startViewChange(cs.pbftDB.CurrentView()+1, t)
	}
}

func (cs *State) tickViewChange(t time.Time) {
	if view, ok := cs.pbftDB.ShouldViewChange(); ok && cs.pbftDB.IsNewPrimary(view) {
		if _, ok := cs.pbftDB.SendNewView(view); ok {
			return
		}
	}
	if t.After(cs.deadline) {
		cs.startViewChange(cs.pbftDB.ViewManager().TargetView()+1, t)
	}
}

// startViewChange 发起view change，每次重试等待时间翻倍
func (cs *State) startViewChange(target uint64, t time.Time) {
	cs.Logger.Info("no irreversible progress, starting view change",
		"view", cs.pbftDB.CurrentView(), "target", target, "wait", cs.wait)
	cs.pbftDB.SendViewChanges(target)
	cs.wait *= 2
	cs.resetTimer(t)
}

// checkView joins a higher view once a quorum asks for it and restarts the
// timers after a view was entered.
func (cs *State) checkView(t time.Time) {
	if view, ok := cs.pbftDB.ShouldViewChange(); ok && view > cs.pbftDB.ViewManager().TargetView() {
		cs.Logger.Info("joining view change", "target", view)
		cs.pbftDB.SendViewChanges(view)
	}
	if cur := cs.pbftDB.CurrentView(); cur != cs.lastView {
		cs.lastView = cur
		cs.lastLIB = cs.chain.LastIrreversibleBlockNum()
		cs.wait = cs.config.ViewChangeTimeout
		cs.resetTimer(t)
	}
}

func (cs *State) resetTimer(t time.Time) {
	cs.deadline = t.Add(cs.wait)
	cs.metric.MarkProgress(t, cs.wait)
}

// tryProduce 轮到本节点的出块者时生成区块
func (cs *State) tryProduce(t time.Time) {
	if len(cs.producers) == 0 {
		return
	}
	cfg := cs.chain.Config()
	slot := types.SlotAt(t, cfg.BlockInterval)
	if slot <= cs.lastProduced {
		return
	}
	head := cs.chain.HeadBlockState()
	ts := types.SlotTime(slot, cfg.BlockInterval)
	if !ts.After(head.Timestamp()) {
		return
	}
	producer, err := cs.chain.ScheduledProducer(head.ID, ts)
	if err != nil {
		cs.Logger.Error("failed to find scheduled producer", "err", err)
		return
	}
	for _, pv := range cs.producers {
		pubKey, err := pv.GetPubKey()
		if err != nil || !types.KeyEqual(pubKey, producer.SigningKey) {
			continue
		}
		block, err := cs.chain.ProduceBlock(head.ID, pv, ts, nil, nil)
		if err != nil {
			cs.Logger.Error("failed to produce block", "slot", slot, "err", err)
			return
		}
		cs.lastProduced = slot
		cs.metric.IncProduced()
		cs.sendInternalMessage(msgInfo{&BlockMessage{Block: block}, ""})
		return
	}
}

// broadcast drains the outbox onto the event switch.
func (cs *State) broadcast() {
	for _, msg := range cs.pbftDB.Outbox().Drain() {
		event, ok := eventFor(msg)
		if !ok {
			continue
		}
		cs.metric.IncSent(event)
		cs.eventSwitch.FireEvent(event, msg)
	}
}

func (cs *State) markMetric() {
	vm := cs.pbftDB.ViewManager()
	cs.metric.MarkView(vm.CurrentView(), vm.TargetView(), cs.pbftDB.IsNewPrimary(vm.CurrentView()))
	cs.metric.MarkHeights(
		cs.chain.HeadBlockState().Height,
		cs.chain.BFTIrreversibleBlockNum(),
		cs.pbftDB.StableCheckpoint().Num,
	)
}
