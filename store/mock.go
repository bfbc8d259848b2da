package store

import (
	tmdb "github.com/tendermint/tm-db"
	"github.com/tendermint/tm-db/memdb"
)

// NewMockDB returns an empty in-memory database for tests.
func NewMockDB() tmdb.DB {
	return memdb.NewDB()
}
