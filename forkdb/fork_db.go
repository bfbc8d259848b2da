package forkdb

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/tendermint/tendermint/libs/log"

	"bftchain/types"
)

var (
	ErrDuplicateBlock   = errors.New("duplicated block in fork database")
	ErrUnlinkableBlock  = errors.New("unlinkable block: previous block not found in fork database")
	ErrUnknownBlock     = errors.New("no such block in fork database")
	ErrNoCommonAncestor = errors.New("branches have no common ancestor in fork database")
	ErrRemoveRoot       = errors.New("cannot remove the root of the fork database")
)

// Branch is a list of block states ordered from highest to lowest.
type Branch []*types.BlockState

// ForkDB 保存所有可逆区块组成的多叉树，树根是最新的不可逆区块
//
// NOTE: Not goroutine-safe. The chain controller is its single writer.
type ForkDB struct {
	root  *treeNode
	head  *treeNode
	index map[string]*treeNode

	// 到达顺序，高度相同时先到达的区块作为head
	arrival uint64

	logger log.Logger
}

type treeNode struct {
	parent   *treeNode
	children []*treeNode
	state    *types.BlockState
	arrival  uint64
}

func NewForkDB(root *types.BlockState) *ForkDB {
	node := &treeNode{state: root}
	return &ForkDB{
		root:   node,
		head:   node,
		index:  map[string]*treeNode{key(root.ID): node},
		logger: log.NewNopLogger(),
	}
}

func (fdb *ForkDB) SetLogger(l log.Logger) {
	fdb.logger = l
}

// 在树中插入一个节点，根据Previous确定父节点
func (fdb *ForkDB) Add(bs *types.BlockState) error {
	if _, ok := fdb.index[key(bs.ID)]; ok {
		return ErrDuplicateBlock
	}
	parent, ok := fdb.index[key(bs.Previous())]
	if !ok {
		return ErrUnlinkableBlock
	}

	fdb.arrival++
	node := &treeNode{
		parent:  parent,
		state:   bs,
		arrival: fdb.arrival,
	}
	parent.children = append(parent.children, node)
	fdb.index[key(bs.ID)] = node
	if better(node, fdb.head) {
		fdb.head = node
	}
	return nil
}

func (fdb *ForkDB) Head() *types.BlockState {
	return fdb.head.state
}

func (fdb *ForkDB) Root() *types.BlockState {
	return fdb.root.state
}

// GetBlock returns nil when id is unknown.
func (fdb *ForkDB) GetBlock(id []byte) *types.BlockState {
	if node, ok := fdb.index[key(id)]; ok {
		return node.state
	}
	return nil
}

func (fdb *ForkDB) Size() int {
	return len(fdb.index)
}

// FetchBranchFrom walks both blocks back to their common ancestor. Each
// returned branch runs from its starting block down to, but excluding, the
// common ancestor.
func (fdb *ForkDB) FetchBranchFrom(first, second []byte) (Branch, Branch, error) {
	a, ok := fdb.index[key(first)]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %X", ErrUnknownBlock, first)
	}
	b, ok := fdb.index[key(second)]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %X", ErrUnknownBlock, second)
	}

	var firstBranch, secondBranch Branch
	for a.state.Height > b.state.Height {
		firstBranch = append(firstBranch, a.state)
		a = a.parent
	}
	for b.state.Height > a.state.Height {
		secondBranch = append(secondBranch, b.state)
		b = b.parent
	}
	for a != b {
		firstBranch = append(firstBranch, a.state)
		secondBranch = append(secondBranch, b.state)
		a, b = a.parent, b.parent
		if a == nil || b == nil {
			return nil, nil, ErrNoCommonAncestor
		}
	}
	return firstBranch, secondBranch, nil
}

// Remove drops the block and all of its descendants.
func (fdb *ForkDB) Remove(id []byte) error {
	node, ok := fdb.index[key(id)]
	if !ok {
		return fmt.Errorf("%w: %X", ErrUnknownBlock, id)
	}
	if node == fdb.root {
		return ErrRemoveRoot
	}

	parent := node.parent
	for i, child := range parent.children {
		if child == node {
			parent.children = append(parent.children[:i], parent.children[i+1:]...)
			break
		}
	}
	removed := 0
	node.walk(func(n *treeNode) {
		delete(fdb.index, key(n.state.ID))
		removed++
	})
	fdb.logger.Debug("removed blocks from fork database", "root", node.state.ID, "count", removed)

	fdb.head = fdb.root.best()
	return nil
}

// Prune makes newRoot the root, discarding every block that does not
// descend from it. newRoot must be known.
func (fdb *ForkDB) Prune(newRoot []byte) error {
	node, ok := fdb.index[key(newRoot)]
	if !ok {
		return fmt.Errorf("%w: %X", ErrUnknownBlock, newRoot)
	}
	if node == fdb.root {
		return nil
	}

	index := make(map[string]*treeNode, len(fdb.index))
	node.walk(func(n *treeNode) {
		index[key(n.state.ID)] = n
	})
	pruned := len(fdb.index) - len(index)
	node.parent = nil
	fdb.root = node
	fdb.index = index
	fdb.head = node.best()
	fdb.logger.Debug("pruned fork database", "root", node.state.Height, "pruned", pruned)
	return nil
}

// BestDescendant returns the head of the subtree rooted at id, or nil.
func (fdb *ForkDB) BestDescendant(id []byte) *types.BlockState {
	node, ok := fdb.index[key(id)]
	if !ok {
		return nil
	}
	return node.best().state
}

// IsAncestor reports whether ancestor is a strict ancestor of id.
func (fdb *ForkDB) IsAncestor(ancestor, id []byte) bool {
	node, ok := fdb.index[key(id)]
	if !ok {
		return false
	}
	for cur := node.parent; cur != nil; cur = cur.parent {
		if bytes.Equal(cur.state.ID, ancestor) {
			return true
		}
	}
	return false
}

// 层次遍历树中所有区块
func (fdb *ForkDB) ForEach(fn func(bs *types.BlockState)) {
	queue := []*treeNode{fdb.root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		fn(cur.state)
		queue = append(queue, cur.children...)
	}
}

// walk visits the subtree rooted at tnode, parents before children.
func (tnode *treeNode) walk(fn func(n *treeNode)) {
	queue := []*treeNode{tnode}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		fn(cur)
		queue = append(queue, cur.children...)
	}
}

// best returns the highest node of the subtree, earliest arrival first.
func (tnode *treeNode) best() *treeNode {
	res := tnode
	tnode.walk(func(n *treeNode) {
		if better(n, res) {
			res = n
		}
	})
	return res
}

func better(a, b *treeNode) bool {
	if a.state.Height != b.state.Height {
		return a.state.Height > b.state.Height
	}
	return a.arrival < b.arrival
}

func key(id []byte) string {
	return string(id)
}
