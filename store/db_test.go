package store

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDB(t *testing.T) {
	dir, err := ioutil.TempDir("", "store-db")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	for _, backend := range []string{GoLevelDBBackend, MemDBBackend} {
		db, err := NewDB("state", backend, dir)
		require.NoError(t, err, backend)
		require.NoError(t, db.Set([]byte("k"), []byte("v")))
		v, err := db.Get([]byte("k"))
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), v, backend)
		require.NoError(t, db.Close())
	}

	_, err = NewDB("state", "rocksdb", dir)
	assert.Error(t, err)
}
