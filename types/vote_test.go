package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVoteSignAndVerify(t *testing.T) {
	pv := NewMockPVFromSecret([]byte("producer1"))
	v := &Vote{
		Type:      PrepareType,
		RequestID: "req",
		View:      5,
		BlockNum:  10,
		BlockID:   []byte("block-10"),
		ChainID:   "test-chain",
	}
	require.NoError(t, v.Sign(pv))
	require.NoError(t, v.VerifySignature())

	pubKey, _ := pv.GetPubKey()
	assert.True(t, KeyEqual(pubKey, v.Signer))

	// the type tag separates prepares from commits
	c := *v
	c.Type = CommitType
	assert.Equal(t, ErrVoteInvalidSignature, c.VerifySignature())

	v.View = 6
	assert.Equal(t, ErrVoteInvalidSignature, v.VerifySignature())

	v.Signer = nil
	assert.Equal(t, ErrVoteNoSigner, v.VerifySignature())
}

func TestViewChangeDigestCoversCertificates(t *testing.T) {
	pv := NewMockPVFromSecret([]byte("producer2"))
	vc := &ViewChange{
		RequestID:   "req",
		CurrentView: 0,
		TargetView:  1,
		ChainID:     "test-chain",
	}
	require.NoError(t, vc.Sign(pv))
	require.NoError(t, vc.VerifySignature())

	vc.PreparedCert = PreparedCertificate{BlockInfo: BlockInfo{ID: []byte("b"), Num: 3}}
	assert.Error(t, vc.VerifySignature())
}

func TestCheckpointAndNewViewSignatures(t *testing.T) {
	pv := NewMockPVFromSecret([]byte("producer3"))
	cp := &Checkpoint{RequestID: "r", BlockNum: 100, BlockID: []byte("b100"), ChainID: "c"}
	require.NoError(t, cp.Sign(pv))
	require.NoError(t, cp.VerifySignature())
	assert.Equal(t, CheckpointType, cp.MsgType())

	nv := &NewView{RequestID: "r", View: 2, ChainID: "c"}
	require.NoError(t, nv.Sign(pv))
	require.NoError(t, nv.VerifySignature())
	nv.ViewChangedCert.TargetView = 2
	assert.Error(t, nv.VerifySignature())
}

func TestBlockInfoEqual(t *testing.T) {
	a := BlockInfo{ID: []byte{1, 2}, Num: 4}
	assert.True(t, a.Equal(BlockInfo{ID: []byte{1, 2}, Num: 4}))
	assert.False(t, a.Equal(BlockInfo{ID: []byte{1, 2}, Num: 5}))
	assert.False(t, a.Equal(BlockInfo{}))
	assert.True(t, BlockInfo{}.IsEmpty())
}
