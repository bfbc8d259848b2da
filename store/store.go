package store

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/tendermint/tendermint/libs/log"
	dbm "github.com/tendermint/tm-db"
)

var (
	ErrEmptyKey        = errors.New("empty row key")
	ErrSessionsPending = errors.New("cannot set revision while undo sessions are open")
)

// Store 基于tm-db的可回滚状态存储
//
// Writes made inside an undo session live in an in-memory overlay on top of
// the database, together with the value each row had before the session
// first touched it. Undoing a session restores those values; Commit flushes
// the oldest sessions to the database, after which they can no longer be
// undone.
//
// NOTE: Not goroutine-safe. The chain controller is its single writer.
type Store struct {
	db     dbm.DB
	logger log.Logger

	rows     map[string]row
	stack    []*undoState
	revision int64
}

type row struct {
	value   []byte
	deleted bool
}

type undoState struct {
	revision int64
	// 本session第一次写某行之前的值
	old map[string]row
}

func NewStore(db dbm.DB) *Store {
	return &Store{
		db:     db,
		logger: log.NewNopLogger(),
		rows:   make(map[string]row),
	}
}

func (s *Store) SetLogger(l log.Logger) {
	s.logger = l
}

// Revision is the revision of the newest undo session, or the committed
// revision when none is open.
func (s *Store) Revision() int64 {
	return s.revision
}

// SetRevision is only allowed with no open sessions.
func (s *Store) SetRevision(rev int64) error {
	if len(s.stack) > 0 {
		return ErrSessionsPending
	}
	s.revision = rev
	return nil
}

// Sessions is the number of open undo sessions.
func (s *Store) Sessions() int {
	return len(s.stack)
}

func (s *Store) Get(table, key string) ([]byte, error) {
	k := genKey(table, key)
	if r, ok := s.rows[k]; ok {
		if r.deleted {
			return nil, nil
		}
		return copyBytes(r.value), nil
	}
	return s.db.Get([]byte(k))
}

func (s *Store) Has(table, key string) (bool, error) {
	v, err := s.Get(table, key)
	return v != nil, err
}

func (s *Store) Set(table, key string, value []byte) error {
	if key == "" {
		return ErrEmptyKey
	}
	return s.write(genKey(table, key), row{value: copyBytes(value)})
}

func (s *Store) Delete(table, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return s.write(genKey(table, key), row{deleted: true})
}

func (s *Store) write(k string, r row) error {
	if len(s.stack) == 0 {
		delete(s.rows, k)
		if r.deleted {
			return s.db.Delete([]byte(k))
		}
		return s.db.Set([]byte(k), r.value)
	}

	top := s.stack[len(s.stack)-1]
	if _, ok := top.old[k]; !ok {
		prev, err := s.current(k)
		if err != nil {
			return err
		}
		top.old[k] = prev
	}
	s.rows[k] = r
	return nil
}

func (s *Store) current(k string) (row, error) {
	if r, ok := s.rows[k]; ok {
		return r, nil
	}
	v, err := s.db.Get([]byte(k))
	if err != nil {
		return row{}, err
	}
	if v == nil {
		return row{deleted: true}, nil
	}
	return row{value: v}, nil
}

//-----------------------------------------------------------------------------
// undo sessions

// Session is a handle on one undo state. Exactly one of Push, Squash or Undo
// takes effect; the others become no-ops afterwards.
type Session struct {
	store *Store
	state *undoState
	apply bool
}

// StartSession opens a nested undo session.
func (s *Store) StartSession() *Session {
	s.revision++
	state := &undoState{revision: s.revision, old: make(map[string]row)}
	s.stack = append(s.stack, state)
	return &Session{store: s, state: state, apply: true}
}

// Push keeps the session's changes on the undo stack, to be removed later
// by Store.Undo or made permanent by Commit.
func (sess *Session) Push() {
	sess.apply = false
}

// Squash merges the session into its parent. Sessions opened after it are
// merged along with it.
func (sess *Session) Squash() {
	if !sess.apply {
		return
	}
	sess.apply = false
	if sess.store.indexOf(sess.state) < 0 {
		return
	}
	for sess.store.top() != sess.state {
		sess.store.squash()
	}
	sess.store.squash()
}

// Undo discards the session. Sessions opened after it are discarded too.
func (sess *Session) Undo() {
	if !sess.apply {
		return
	}
	sess.apply = false
	if sess.store.indexOf(sess.state) < 0 {
		return
	}
	for sess.store.top() != sess.state {
		sess.store.Undo()
	}
	sess.store.Undo()
}

func (sess *Session) Revision() int64 {
	return sess.state.revision
}

// Undo discards the newest undo state.
func (s *Store) Undo() {
	if len(s.stack) == 0 {
		return
	}
	top := s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	for k, r := range top.old {
		s.rows[k] = r
	}
	s.revision--
	if len(s.stack) == 0 {
		// nothing left to shadow, the overlay equals the database
		s.rows = make(map[string]row)
	}
}

// UndoAll discards every open undo state.
func (s *Store) UndoAll() {
	for len(s.stack) > 0 {
		s.Undo()
	}
}

func (s *Store) squash() {
	n := len(s.stack)
	if n == 1 {
		if err := s.Commit(s.stack[0].revision); err != nil {
			panic(fmt.Sprintf("failed to flush squashed session: %v", err))
		}
		s.revision--
		return
	}
	top, prev := s.stack[n-1], s.stack[n-2]
	for k, r := range top.old {
		if _, ok := prev.old[k]; !ok {
			prev.old[k] = r
		}
	}
	s.stack = s.stack[:n-1]
	s.revision--
}

// Commit makes every undo state with revision <= rev permanent, writing
// their effects to the database in one batch.
func (s *Store) Commit(rev int64) error {
	i := 0
	for i < len(s.stack) && s.stack[i].revision <= rev {
		i++
	}
	if i == 0 {
		return nil
	}
	committed, remaining := s.stack[:i], s.stack[i:]

	// 被后续session修改过的行，提交的值是后续session记录的旧值
	later := make(map[string]row)
	for j := len(remaining) - 1; j >= 0; j-- {
		for k, r := range remaining[j].old {
			later[k] = r
		}
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	flushed := make(map[string]struct{})
	for _, state := range committed {
		for k := range state.old {
			if _, ok := flushed[k]; ok {
				continue
			}
			flushed[k] = struct{}{}
			r, ok := later[k]
			if !ok {
				r = s.rows[k]
			}
			var err error
			if r.deleted {
				err = batch.Delete([]byte(k))
			} else {
				err = batch.Set([]byte(k), r.value)
			}
			if err != nil {
				return err
			}
		}
	}
	if err := batch.WriteSync(); err != nil {
		return err
	}

	for k := range flushed {
		if _, ok := later[k]; !ok {
			delete(s.rows, k)
		}
	}
	s.stack = append([]*undoState(nil), remaining...)
	s.logger.Debug("committed undo sessions", "revision", rev, "count", len(committed), "rows", len(flushed))
	return nil
}

func (s *Store) top() *undoState {
	if len(s.stack) == 0 {
		return nil
	}
	return s.stack[len(s.stack)-1]
}

func (s *Store) indexOf(state *undoState) int {
	for i, st := range s.stack {
		if st == state {
			return i
		}
	}
	return -1
}

// table/key
func genKey(table, key string) string {
	buffer := new(bytes.Buffer)
	buffer.WriteString(table)
	buffer.WriteByte('/')
	buffer.WriteString(key)
	return buffer.String()
}

func copyBytes(bz []byte) []byte {
	if bz == nil {
		return nil
	}
	res := make([]byte, len(bz))
	copy(res, bz)
	return res
}
