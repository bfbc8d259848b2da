package types

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenesisDocSaveAndLoad(t *testing.T) {
	dir, err := ioutil.TempDir("", "genesis")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	ps, _ := RandProducerSchedule(4)
	genDoc := &GenesisDoc{
		GenesisTime: time.Unix(5000, 0).UTC(),
		ChainID:     "test-chain",
		Accounts:    []GenesisAccount{{Name: "alice", Saving: 100, Checking: 50}},
	}
	for _, p := range ps.Producers {
		genDoc.Producers = append(genDoc.Producers, GenesisProducer{Name: p.Name, PubKey: p.SigningKey})
	}
	require.NoError(t, genDoc.ValidateAndComplete())

	file := filepath.Join(dir, "genesis.json")
	require.NoError(t, genDoc.SaveAs(file))

	loaded, err := GenesisDocFromFile(file)
	require.NoError(t, err)
	assert.Equal(t, genDoc.ChainID, loaded.ChainID)
	assert.True(t, genDoc.GenesisTime.Equal(loaded.GenesisTime))
	assert.True(t, ps.Equal(loaded.Schedule()))
	assert.Equal(t, genDoc.Accounts, loaded.Accounts)
	assert.Equal(t, genDoc.GenesisBlock().ID(), loaded.GenesisBlock().ID())
}

func TestGenesisDocValidation(t *testing.T) {
	assert.Error(t, (&GenesisDoc{}).ValidateAndComplete())
	assert.Error(t, (&GenesisDoc{ChainID: "c"}).ValidateAndComplete())
}
