package store

import (
	"fmt"

	tmdb "github.com/tendermint/tm-db"
	leveldb "github.com/tendermint/tm-db/goleveldb"
	"github.com/tendermint/tm-db/memdb"
)

// supported db_backend values
const (
	GoLevelDBBackend = "goleveldb"
	MemDBBackend     = "memdb"
)

// NewDB opens the database name under dir with backend.
func NewDB(name, backend, dir string) (tmdb.DB, error) {
	switch backend {
	case GoLevelDBBackend:
		levelDB, err := leveldb.NewDB(name, dir)
		if err != nil {
			return nil, err
		}
		return levelDB, nil
	case MemDBBackend:
		return memdb.NewDB(), nil
	default:
		return nil, fmt.Errorf("unknown db backend %q", backend)
	}
}
