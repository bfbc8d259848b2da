package types

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/tendermint/tendermint/crypto/merkle"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
)

var (
	ErrTxsHashMismatch    = errors.New("txs hash does not match the block's transactions")
	ErrMissingSignature   = errors.New("block has no producer signature")
	ErrMissingProducer    = errors.New("block has no producer")
	ErrInvalidBlockHeight = errors.New("block height must be positive")
)

// 区块头，区块ID即区块头的merkle hash
type Header struct {
	ChainID         string            `json:"chain_id"`
	Height          int64             `json:"height"`
	Previous        tmbytes.HexBytes  `json:"previous"`
	Timestamp       time.Time         `json:"timestamp"`
	Producer        string            `json:"producer"`
	ScheduleVersion uint32            `json:"schedule_version"`
	NewProducers    *ProducerSchedule `json:"new_producers,omitempty"` // 提议的新出块者名单
	TxsHash         tmbytes.HexBytes  `json:"txs_hash"`
}

// Hash returns the block ID. Extensions and the producer signature are not
// covered, so a stable checkpoint can be attached to an existing block.
func (h *Header) Hash() tmbytes.HexBytes {
	if h == nil {
		return nil
	}
	var newProducers []byte
	if h.NewProducers != nil {
		newProducers = h.NewProducers.Hash()
	}
	return merkle.HashFromByteSlices([][]byte{
		[]byte(h.ChainID),
		int64Bytes(h.Height),
		h.Previous,
		int64Bytes(h.Timestamp.UnixNano()),
		[]byte(h.Producer),
		uint32Bytes(h.ScheduleVersion),
		newProducers,
		h.TxsHash,
	})
}

type ExtensionType uint16

const (
	StableCheckpointExtension = ExtensionType(1)
)

// Extension 附加在区块上、不参与区块ID计算的数据
type Extension struct {
	Type ExtensionType    `json:"type"`
	Data tmbytes.HexBytes `json:"data"`
}

// local blockchain维护的区块的基本单位
type Block struct {
	Header            `json:"header"`
	Txs               Txs              `json:"txs"`
	ProducerSignature tmbytes.HexBytes `json:"producer_signature"`
	Extensions        []Extension      `json:"extensions,omitempty"`
}

// MakeBlock returns an unsigned block with its txs hash filled in.
func MakeBlock(header Header, txs Txs) *Block {
	b := &Block{Header: header, Txs: txs}
	b.TxsHash = b.Txs.Hash()
	return b
}

// ID is the hash of the header.
func (b *Block) ID() tmbytes.HexBytes {
	return b.Header.Hash()
}

// 检验一个block是否合法 - 这里的合法指的是没有明确的错误
func (b *Block) ValidateBasic() error {
	if b == nil {
		return errors.New("nil block")
	}
	if b.Height <= 0 {
		return ErrInvalidBlockHeight
	}
	if b.Producer == "" {
		return ErrMissingProducer
	}
	if len(b.ProducerSignature) == 0 {
		return ErrMissingSignature
	}
	if !bytes.Equal(b.TxsHash, b.Txs.Hash()) {
		return ErrTxsHashMismatch
	}
	if b.NewProducers != nil {
		if err := b.NewProducers.ValidateBasic(); err != nil {
			return fmt.Errorf("invalid new producers: %w", err)
		}
	}
	return nil
}

// Sign fills the producer signature over the block ID.
func (b *Block) Sign(pv PrivValidator) error {
	sig, err := pv.SignBytes(b.ID())
	if err != nil {
		return err
	}
	b.ProducerSignature = sig
	return nil
}

func (b *Block) Extension(typ ExtensionType) (Extension, bool) {
	for _, ext := range b.Extensions {
		if ext.Type == typ {
			return ext, true
		}
	}
	return Extension{}, false
}

func (b *Block) String() string {
	if b == nil {
		return "nil-Block"
	}
	return fmt.Sprintf("Block{#%d %v by %s, %d txs}", b.Height, b.ID(), b.Producer, len(b.Txs))
}

func int64Bytes(i int64) []byte {
	bz := make([]byte, 8)
	binary.BigEndian.PutUint64(bz, uint64(i))
	return bz
}

func uint32Bytes(i uint32) []byte {
	bz := make([]byte, 4)
	binary.BigEndian.PutUint32(bz, i)
	return bz
}
