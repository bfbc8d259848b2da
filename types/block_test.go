package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeTestBlock(t *testing.T, pv PrivValidator) *Block {
	b := MakeBlock(Header{
		ChainID:   "test-chain",
		Height:    2,
		Previous:  []byte("previous-block-id-000000000000000"),
		Timestamp: time.Unix(1000, 0).UTC(),
		Producer:  "producer0",
	}, Txs{NewTx(SBDepositCheckingTx, "alice", "10")})
	require.NoError(t, b.Sign(pv))
	return b
}

func TestBlockIDIgnoresExtensionsAndSignature(t *testing.T) {
	pv := NewMockPVFromSecret([]byte("producer0"))
	b := makeTestBlock(t, pv)
	id := b.ID()

	b.Extensions = append(b.Extensions, Extension{Type: StableCheckpointExtension, Data: []byte("cert")})
	b.ProducerSignature = []byte("other")
	assert.Equal(t, id, b.ID())

	b.Height = 3
	assert.NotEqual(t, id, b.ID())
}

func TestBlockValidateBasic(t *testing.T) {
	pv := NewMockPVFromSecret([]byte("producer0"))
	b := makeTestBlock(t, pv)
	require.NoError(t, b.ValidateBasic())

	pubKey, _ := pv.GetPubKey()
	assert.True(t, pubKey.VerifySignature(b.ID(), b.ProducerSignature))

	b.Txs = append(b.Txs, NewTx(SBBalanceTx, "bob"))
	assert.Equal(t, ErrTxsHashMismatch, b.ValidateBasic())

	b = makeTestBlock(t, pv)
	b.ProducerSignature = nil
	assert.Equal(t, ErrMissingSignature, b.ValidateBasic())

	ext, ok := b.Extension(StableCheckpointExtension)
	assert.False(t, ok)
	assert.Empty(t, ext.Data)
}

func TestTxHashIsUnambiguous(t *testing.T) {
	a := NewTx(SBAmalgamateTx, "ab", "c")
	b := NewTx(SBAmalgamateTx, "a", "bc")
	assert.NotEqual(t, a.Hash(), b.Hash())
}
