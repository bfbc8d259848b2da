package privval

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bftchain/types"
)

func TestGenLoadFilePV(t *testing.T) {
	dir, err := ioutil.TempDir("", "privval")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	keyFilePath := filepath.Join(dir, "priv_validator_key.json")

	filePV := GenFilePV(keyFilePath)
	filePV.Save()

	loaded := LoadFilePV(keyFilePath)
	assert.Equal(t, filePV.GetAddress(), loaded.GetAddress())
	pubKey, err := loaded.GetPubKey()
	require.NoError(t, err)
	assert.True(t, types.KeyEqual(filePV.Key.PubKey, pubKey))

	again := LoadOrGenFilePV(keyFilePath)
	assert.Equal(t, filePV.GetAddress(), again.GetAddress())
}

func TestFilePVSignBytes(t *testing.T) {
	dir, err := ioutil.TempDir("", "privval")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	pv := GenFilePVFromSecret(filepath.Join(dir, "key.json"), []byte("producer0"))
	// the same secret gives the same key as the test schedules
	mock := types.NewMockPVFromSecret([]byte("producer0"))
	mockKey, err := mock.GetPubKey()
	require.NoError(t, err)
	assert.True(t, types.KeyEqual(mockKey, pv.Key.PubKey))

	vote := types.Vote{Type: types.PrepareType, BlockNum: 3, BlockID: []byte{1, 2, 3}, ChainID: "c"}
	require.NoError(t, vote.Sign(pv))
	assert.NoError(t, vote.VerifySignature())
}

func TestReadFilePVMissing(t *testing.T) {
	_, err := ReadFilePV(filepath.Join(os.TempDir(), "does-not-exist", "key.json"))
	assert.Error(t, err)
}
