package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, s *Store, key string) string {
	v, err := s.Get("t", key)
	require.NoError(t, err)
	return string(v)
}

func set(t *testing.T, s *Store, key, value string) {
	require.NoError(t, s.Set("t", key, []byte(value)))
}

func TestStoreWithoutSessionWritesThrough(t *testing.T) {
	db := NewMockDB()
	s := NewStore(db)
	set(t, s, "a", "1")

	v, err := db.Get([]byte("t/a"))
	require.NoError(t, err)
	assert.Equal(t, "1", string(v))

	require.NoError(t, s.Delete("t", "a"))
	ok, err := s.Has("t", "a")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, ErrEmptyKey, s.Set("t", "", []byte("x")))
}

func TestStoreSessionUndo(t *testing.T) {
	s := NewStore(NewMockDB())
	set(t, s, "a", "1")
	set(t, s, "b", "2")

	sess := s.StartSession()
	assert.Equal(t, int64(1), s.Revision())
	set(t, s, "a", "10")
	set(t, s, "c", "30")
	require.NoError(t, s.Delete("t", "b"))
	assert.Equal(t, "10", get(t, s, "a"))
	assert.Equal(t, "", get(t, s, "b"))

	sess.Undo()
	assert.Equal(t, "1", get(t, s, "a"))
	assert.Equal(t, "2", get(t, s, "b"))
	assert.Equal(t, "", get(t, s, "c"))
	assert.Equal(t, int64(0), s.Revision())
	assert.Equal(t, 0, s.Sessions())

	// handle is spent
	sess.Undo()
	assert.Equal(t, int64(0), s.Revision())
}

func TestStoreOuterUndoDiscardsInner(t *testing.T) {
	s := NewStore(NewMockDB())
	outer := s.StartSession()
	set(t, s, "a", "1")
	inner := s.StartSession()
	set(t, s, "a", "2")
	inner.Push()
	assert.Equal(t, 2, s.Sessions())

	outer.Undo()
	assert.Equal(t, 0, s.Sessions())
	assert.Equal(t, "", get(t, s, "a"))
}

func TestStoreSquash(t *testing.T) {
	s := NewStore(NewMockDB())
	outer := s.StartSession()
	set(t, s, "a", "1")
	inner := s.StartSession()
	set(t, s, "a", "2")
	set(t, s, "b", "3")
	inner.Squash()
	assert.Equal(t, 1, s.Sessions())
	assert.Equal(t, "2", get(t, s, "a"))

	outer.Undo()
	assert.Equal(t, "", get(t, s, "a"))
	assert.Equal(t, "", get(t, s, "b"))
}

func TestStoreSquashLastSessionFlushes(t *testing.T) {
	db := NewMockDB()
	s := NewStore(db)
	sess := s.StartSession()
	set(t, s, "a", "1")
	sess.Squash()
	assert.Equal(t, 0, s.Sessions())

	v, err := db.Get([]byte("t/a"))
	require.NoError(t, err)
	assert.Equal(t, "1", string(v))
}

func TestStorePushedSessionsUndoNewestFirst(t *testing.T) {
	s := NewStore(NewMockDB())
	for _, v := range []string{"1", "2", "3"} {
		sess := s.StartSession()
		set(t, s, "a", v)
		sess.Push()
	}
	assert.Equal(t, int64(3), s.Revision())

	s.Undo()
	assert.Equal(t, "2", get(t, s, "a"))
	s.UndoAll()
	assert.Equal(t, "", get(t, s, "a"))
	assert.Equal(t, int64(0), s.Revision())
}

func TestStoreCommit(t *testing.T) {
	db := NewMockDB()
	s := NewStore(db)
	require.NoError(t, s.SetRevision(10))

	first := s.StartSession()
	set(t, s, "a", "1")
	set(t, s, "b", "1")
	first.Push()
	second := s.StartSession()
	set(t, s, "a", "2")
	require.NoError(t, s.Delete("t", "b"))
	second.Push()
	assert.Equal(t, ErrSessionsPending, s.SetRevision(3))

	require.NoError(t, s.Commit(first.Revision()))
	assert.Equal(t, 1, s.Sessions())

	// database holds the committed values, reads see the newest ones
	v, err := db.Get([]byte("t/a"))
	require.NoError(t, err)
	assert.Equal(t, "1", string(v))
	assert.Equal(t, "2", get(t, s, "a"))
	assert.Equal(t, "", get(t, s, "b"))

	s.Undo()
	assert.Equal(t, "1", get(t, s, "a"))
	assert.Equal(t, "1", get(t, s, "b"))
	assert.Equal(t, int64(11), s.Revision())

	// committed sessions cannot be undone
	first.Undo()
	assert.Equal(t, "1", get(t, s, "a"))
}

func TestStoreCommitIsIdempotent(t *testing.T) {
	s := NewStore(NewMockDB())
	sess := s.StartSession()
	set(t, s, "a", "1")
	sess.Push()
	require.NoError(t, s.Commit(1))
	require.NoError(t, s.Commit(1))
	assert.Equal(t, 0, s.Sessions())
	assert.Equal(t, "1", get(t, s, "a"))
}
