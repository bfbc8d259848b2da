package types

import (
	"errors"
	"fmt"

	"github.com/tendermint/tendermint/crypto"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
)

var (
	ErrVoteNoSigner         = errors.New("consensus message has no signer")
	ErrVoteInvalidSignature = errors.New("invalid consensus message signature")
)

type MsgType uint8

const (
	PrepareType    = MsgType(1)
	CommitType     = MsgType(2)
	ViewChangeType = MsgType(3)
	NewViewType    = MsgType(4)
	CheckpointType = MsgType(5)
)

func (t MsgType) String() string {
	switch t {
	case PrepareType:
		return "Prepare"
	case CommitType:
		return "Commit"
	case ViewChangeType:
		return "ViewChange"
	case NewViewType:
		return "NewView"
	case CheckpointType:
		return "Checkpoint"
	default:
		return "UnknownMsg"
	}
}

// PBFTMessage is any message the PBFT database emits or accepts.
type PBFTMessage interface {
	MsgType() MsgType
	Digest() []byte
}

// BlockInfo identifies a block by id and number.
type BlockInfo struct {
	ID  tmbytes.HexBytes `json:"block_id"`
	Num int64            `json:"block_num"`
}

func (bi BlockInfo) IsEmpty() bool {
	return len(bi.ID) == 0
}

func (bi BlockInfo) Equal(other BlockInfo) bool {
	return bi.Num == other.Num && bi.ID.String() == other.ID.String()
}

func (bi BlockInfo) String() string {
	return fmt.Sprintf("#%d(%v)", bi.Num, bi.ID)
}

// Vote - prepare或commit投票，一个签名者在一个view内对同一区块只计一票
type Vote struct {
	Type      MsgType          `json:"type"`
	RequestID string           `json:"request_id"`
	View      uint64           `json:"view"`
	BlockNum  int64            `json:"block_num"`
	BlockID   tmbytes.HexBytes `json:"block_id"`
	Signer    crypto.PubKey    `json:"signer"`
	ChainID   string           `json:"chain_id"`
	Signature tmbytes.HexBytes `json:"signature"`
}

func (v *Vote) MsgType() MsgType {
	return v.Type
}

func (v *Vote) BlockInfo() BlockInfo {
	return BlockInfo{ID: v.BlockID, Num: v.BlockNum}
}

func (v *Vote) Digest() []byte {
	return newDigest(v.Type).
		string(v.RequestID).
		uint64(v.View).
		int64(v.BlockNum).
		bytes(v.BlockID).
		key(v.Signer).
		string(v.ChainID).
		sum()
}

func (v *Vote) Sign(pv PrivValidator) error {
	return signMessage(pv, &v.Signer, &v.Signature, v.Digest)
}

func (v *Vote) VerifySignature() error {
	return verifyMessage(v.Signer, v.Signature, v.Digest())
}

func (v *Vote) String() string {
	if v == nil {
		return "nil-Vote"
	}
	return fmt.Sprintf("%v{view %d %v signer %.12s}", v.Type, v.View, v.BlockInfo(), KeyString(v.Signer))
}

// Checkpoint 对某个已提交区块的检查点签名
type Checkpoint struct {
	RequestID string           `json:"request_id"`
	BlockNum  int64            `json:"block_num"`
	BlockID   tmbytes.HexBytes `json:"block_id"`
	Signer    crypto.PubKey    `json:"signer"`
	ChainID   string           `json:"chain_id"`
	Signature tmbytes.HexBytes `json:"signature"`
}

func (cp *Checkpoint) MsgType() MsgType {
	return CheckpointType
}

func (cp *Checkpoint) BlockInfo() BlockInfo {
	return BlockInfo{ID: cp.BlockID, Num: cp.BlockNum}
}

func (cp *Checkpoint) Digest() []byte {
	return newDigest(CheckpointType).
		string(cp.RequestID).
		int64(cp.BlockNum).
		bytes(cp.BlockID).
		key(cp.Signer).
		string(cp.ChainID).
		sum()
}

func (cp *Checkpoint) Sign(pv PrivValidator) error {
	return signMessage(pv, &cp.Signer, &cp.Signature, cp.Digest)
}

func (cp *Checkpoint) VerifySignature() error {
	return verifyMessage(cp.Signer, cp.Signature, cp.Digest())
}

// ViewChange 请求切换到TargetView，携带本地最高的prepared证书和稳定检查点
type ViewChange struct {
	RequestID        string              `json:"request_id"`
	CurrentView      uint64              `json:"current_view"`
	TargetView       uint64              `json:"target_view"`
	PreparedCert     PreparedCertificate `json:"prepared_cert"`
	StableCheckpoint StableCheckpoint    `json:"stable_checkpoint"`
	Signer           crypto.PubKey       `json:"signer"`
	ChainID          string              `json:"chain_id"`
	Signature        tmbytes.HexBytes    `json:"signature"`
}

func (vc *ViewChange) MsgType() MsgType {
	return ViewChangeType
}

func (vc *ViewChange) Digest() []byte {
	return newDigest(ViewChangeType).
		string(vc.RequestID).
		uint64(vc.CurrentView).
		uint64(vc.TargetView).
		bytes(vc.PreparedCert.Digest()).
		bytes(vc.StableCheckpoint.Digest()).
		key(vc.Signer).
		string(vc.ChainID).
		sum()
}

func (vc *ViewChange) Sign(pv PrivValidator) error {
	return signMessage(pv, &vc.Signer, &vc.Signature, vc.Digest)
}

func (vc *ViewChange) VerifySignature() error {
	return verifyMessage(vc.Signer, vc.Signature, vc.Digest())
}

// NewView 新view的primary广播，证明2f+1节点同意切换
type NewView struct {
	RequestID        string                 `json:"request_id"`
	View             uint64                 `json:"view"`
	PreparedCert     PreparedCertificate    `json:"prepared_cert"`
	StableCheckpoint StableCheckpoint       `json:"stable_checkpoint"`
	ViewChangedCert  ViewChangedCertificate `json:"view_changed_cert"`
	Signer           crypto.PubKey          `json:"signer"`
	ChainID          string                 `json:"chain_id"`
	Signature        tmbytes.HexBytes       `json:"signature"`
}

func (nv *NewView) MsgType() MsgType {
	return NewViewType
}

func (nv *NewView) Digest() []byte {
	return newDigest(NewViewType).
		string(nv.RequestID).
		uint64(nv.View).
		bytes(nv.PreparedCert.Digest()).
		bytes(nv.StableCheckpoint.Digest()).
		bytes(nv.ViewChangedCert.Digest()).
		key(nv.Signer).
		string(nv.ChainID).
		sum()
}

func (nv *NewView) Sign(pv PrivValidator) error {
	return signMessage(pv, &nv.Signer, &nv.Signature, nv.Digest)
}

func (nv *NewView) VerifySignature() error {
	return verifyMessage(nv.Signer, nv.Signature, nv.Digest())
}

// signMessage sets the signer first since it is covered by the digest.
func signMessage(pv PrivValidator, signer *crypto.PubKey, sig *tmbytes.HexBytes, digest func() []byte) error {
	pubKey, err := pv.GetPubKey()
	if err != nil {
		return err
	}
	*signer = pubKey
	bz, err := pv.SignBytes(digest())
	if err != nil {
		return err
	}
	*sig = bz
	return nil
}

func verifyMessage(signer crypto.PubKey, sig []byte, digest []byte) error {
	if signer == nil {
		return ErrVoteNoSigner
	}
	if len(sig) == 0 || !signer.VerifySignature(digest, sig) {
		return ErrVoteInvalidSignature
	}
	return nil
}
