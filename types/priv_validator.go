package types

import (
	"github.com/tendermint/tendermint/crypto"
	"github.com/tendermint/tendermint/crypto/ed25519"
)

// PrivValidator signs blocks and consensus messages on behalf of one
// producer key.
type PrivValidator interface {
	GetPubKey() (crypto.PubKey, error)
	SignBytes(msg []byte) ([]byte, error)
}

// MockPV implements PrivValidator without any safety or persistence.
// Only use it for testing.
type MockPV struct {
	PrivKey crypto.PrivKey
}

func NewMockPV() MockPV {
	return MockPV{ed25519.GenPrivKey()}
}

func NewMockPVFromSecret(secret []byte) MockPV {
	return MockPV{ed25519.GenPrivKeyFromSecret(secret)}
}

// Implements PrivValidator.
func (pv MockPV) GetPubKey() (crypto.PubKey, error) {
	return pv.PrivKey.PubKey(), nil
}

// Implements PrivValidator.
func (pv MockPV) SignBytes(msg []byte) ([]byte, error) {
	return pv.PrivKey.Sign(msg)
}

// String returns a string representation of the MockPV.
func (pv MockPV) String() string {
	return "MockPV{" + KeyString(pv.PrivKey.PubKey()) + "}"
}
