package consensus

import (
	"errors"
	"fmt"

	"bftchain/types"
)

// ------ Event ------
// consensus对外广播的事件，网络层订阅后转发给其他节点
const (
	EventNewBlock   = "NewBlock"
	EventPrepare    = "Prepare"
	EventCommit     = "Commit"
	EventViewChange = "ViewChange"
	EventNewView    = "NewView"
	EventCheckpoint = "Checkpoint"
)

// eventFor maps a pbft message to the event it is broadcast under.
func eventFor(msg types.PBFTMessage) (string, bool) {
	switch msg.MsgType() {
	case types.PrepareType:
		return EventPrepare, true
	case types.CommitType:
		return EventCommit, true
	case types.ViewChangeType:
		return EventViewChange, true
	case types.NewViewType:
		return EventNewView, true
	case types.CheckpointType:
		return EventCheckpoint, true
	}
	return "", false
}

// ------ Message ------
type Message interface {
	ValidateBasic() error
}

// BlockMessage carries a block produced by this or another node.
type BlockMessage struct {
	Block *types.Block
}

func (m *BlockMessage) ValidateBasic() error {
	if m.Block == nil {
		return errors.New("nil block")
	}
	return m.Block.ValidateBasic()
}

func (m *BlockMessage) String() string {
	return fmt.Sprintf("[BlockMessage %v]", m.Block)
}

// PBFTMessage carries a prepare, commit, view change, new view or
// checkpoint.
type PBFTMessage struct {
	Msg types.PBFTMessage
}

func (m *PBFTMessage) ValidateBasic() error {
	if m.Msg == nil {
		return errors.New("nil pbft message")
	}
	if _, ok := eventFor(m.Msg); !ok {
		return fmt.Errorf("unknown pbft message type %v", m.Msg.MsgType())
	}
	return nil
}

func (m *PBFTMessage) String() string {
	return fmt.Sprintf("[PBFTMessage %v]", m.Msg.MsgType())
}

// ----- MsgInfo -----
// 与网络层之间通信的消息格式
type msgInfo struct {
	Msg    Message
	PeerID string
}
