package pbft

import (
	"github.com/tendermint/tendermint/libs/clist"

	"bftchain/types"
)

// Outbox queues the messages produced locally until the network layer
// drains them for broadcast.
type Outbox struct {
	msgs *clist.CList
}

func NewOutbox() *Outbox {
	return &Outbox{msgs: clist.New()}
}

func (ob *Outbox) Push(msg types.PBFTMessage) {
	ob.msgs.PushBack(msg)
}

func (ob *Outbox) Len() int {
	return ob.msgs.Len()
}

// Drain removes and returns every queued message in push order.
func (ob *Outbox) Drain() []types.PBFTMessage {
	res := make([]types.PBFTMessage, 0, ob.msgs.Len())
	for e := ob.msgs.Front(); e != nil; {
		next := e.Next()
		res = append(res, e.Value.(types.PBFTMessage))
		ob.msgs.Remove(e)
		e.DetachPrev()
		e = next
	}
	return res
}
