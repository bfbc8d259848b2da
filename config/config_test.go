package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.ValidateBasic())

	cfg.SetRoot("/foo")
	assert.Equal(t, "/foo/config/genesis.json", cfg.GenesisFile())
	assert.Equal(t, "/foo/data", cfg.DBDir())
	assert.Equal(t, "/foo/data/pbft", cfg.PBFT.Dir())

	cfg.Genesis = "/opt/genesis.json"
	assert.Equal(t, "/opt/genesis.json", cfg.GenesisFile())
}

func TestConfigValidateBasic(t *testing.T) {
	cfg := TestConfig()
	require.NoError(t, cfg.ValidateBasic())

	cfg.PBFT.CheckpointInterval = 0
	assert.Error(t, cfg.ValidateBasic())

	cfg = TestConfig()
	cfg.Chain.IrreversibleThresholdPercent = 101
	assert.Error(t, cfg.ValidateBasic())

	cfg = TestConfig()
	cfg.DBBackend = "rocksdb"
	assert.Error(t, cfg.ValidateBasic())
}

func TestEnsureRootAndLoad(t *testing.T) {
	root, err := ioutil.TempDir("", "config-test")
	require.NoError(t, err)
	defer os.RemoveAll(root)

	EnsureRoot(root)
	data, err := ioutil.ReadFile(filepath.Join(root, defaultConfigFilePath))
	require.NoError(t, err)
	assert.Contains(t, string(data), "checkpoint_interval = 100")

	custom := TestConfig()
	custom.PBFT.CheckpointInterval = 7
	custom.PBFT.ViewChangeTimeout = 3 * time.Second
	WriteConfigFile(filepath.Join(root, defaultConfigFilePath), custom)

	loaded, err := LoadConfig(root)
	require.NoError(t, err)
	assert.Equal(t, int64(7), loaded.PBFT.CheckpointInterval)
	assert.Equal(t, 3*time.Second, loaded.PBFT.ViewChangeTimeout)
	assert.Equal(t, 10*time.Millisecond, loaded.Chain.BlockInterval)
	assert.Equal(t, "memdb", loaded.DBBackend)
	assert.Equal(t, root, loaded.RootDir)
}

func TestLoadConfigWithoutFile(t *testing.T) {
	root, err := ioutil.TempDir("", "config-test")
	require.NoError(t, err)
	defer os.RemoveAll(root)

	loaded, err := LoadConfig(root)
	require.NoError(t, err)
	assert.Equal(t, DefaultPBFTConfig().CheckpointInterval, loaded.PBFT.CheckpointInterval)
}
