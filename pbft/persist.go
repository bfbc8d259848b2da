package pbft

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"io/ioutil"
	"path/filepath"

	"github.com/pkg/errors"
	tmjson "github.com/tendermint/tendermint/libs/json"
	tmos "github.com/tendermint/tendermint/libs/os"
	"github.com/tendermint/tendermint/libs/tempfile"
)

const (
	ConsensusRecordsFile  = "pbft_consensus.dat"
	CheckpointRecordsFile = "pbft_checkpoints.dat"

	// 单条记录的长度上限
	maxRecordSize = 64 << 20
)

// 文件格式: uvarint记录数, 然后每条记录为 uvarint长度 + json

func writeRecords(w io.Writer, n int, record func(i int) interface{}) error {
	var buf [binary.MaxVarintLen64]byte
	if _, err := w.Write(buf[:binary.PutUvarint(buf[:], uint64(n))]); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		bz, err := tmjson.Marshal(record(i))
		if err != nil {
			return err
		}
		if _, err := w.Write(buf[:binary.PutUvarint(buf[:], uint64(len(bz)))]); err != nil {
			return err
		}
		if _, err := w.Write(bz); err != nil {
			return err
		}
	}
	return nil
}

func readRecords(r io.Reader, decode func(bz []byte) error) error {
	br := bufio.NewReader(r)
	n, err := binary.ReadUvarint(br)
	if err != nil {
		return errors.Wrap(err, "read record count")
	}
	for i := uint64(0); i < n; i++ {
		size, err := binary.ReadUvarint(br)
		if err != nil {
			return errors.Wrapf(err, "read size of record %d", i)
		}
		if size > maxRecordSize {
			return errors.Errorf("record %d is too large: %d bytes", i, size)
		}
		bz := make([]byte, size)
		if _, err := io.ReadFull(br, bz); err != nil {
			return errors.Wrapf(err, "read record %d", i)
		}
		if err := decode(bz); err != nil {
			return err
		}
	}
	return nil
}

// SaveConsensusRecords writes every consensus record to w.
func (db *Database) SaveConsensusRecords(w io.Writer) error {
	recs := db.votes.Records()
	return writeRecords(w, len(recs), func(i int) interface{} { return recs[i] })
}

// LoadConsensusRecords adds the records read from r. A record for a block
// that already has one is an ErrInvariant.
func (db *Database) LoadConsensusRecords(r io.Reader) error {
	return readRecords(r, func(bz []byte) error {
		rec := new(ConsensusRecord)
		if err := tmjson.Unmarshal(bz, rec); err != nil {
			return errors.Wrap(err, "decode consensus record")
		}
		return db.votes.insert(rec)
	})
}

// SaveCheckpointRecords writes every checkpoint record to w.
func (db *Database) SaveCheckpointRecords(w io.Writer) error {
	recs := db.checkpoints.Records()
	return writeRecords(w, len(recs), func(i int) interface{} { return recs[i] })
}

// LoadCheckpointRecords adds the records read from r and restores the last
// stable checkpoint from them.
func (db *Database) LoadCheckpointRecords(r io.Reader) error {
	err := readRecords(r, func(bz []byte) error {
		rec := new(CheckpointRecord)
		if err := tmjson.Unmarshal(bz, rec); err != nil {
			return errors.Wrap(err, "decode checkpoint record")
		}
		return db.checkpoints.insert(rec)
	})
	if err != nil {
		return err
	}
	db.checkpoints.restoreStable()
	db.metrics.StableCheckpoint.Set(float64(db.checkpoints.Stable().Num))
	return nil
}

// SaveToDir writes both record files into dir atomically.
func (db *Database) SaveToDir(dir string) error {
	if err := tmos.EnsureDir(dir, 0700); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := db.SaveConsensusRecords(&buf); err != nil {
		return err
	}
	if err := tempfile.WriteFileAtomic(filepath.Join(dir, ConsensusRecordsFile), buf.Bytes(), 0600); err != nil {
		return err
	}
	buf.Reset()
	if err := db.SaveCheckpointRecords(&buf); err != nil {
		return err
	}
	return tempfile.WriteFileAtomic(filepath.Join(dir, CheckpointRecordsFile), buf.Bytes(), 0600)
}

// LoadFromDir restores both record files from dir. Missing files are
// skipped.
func (db *Database) LoadFromDir(dir string) error {
	load := func(name string, fn func(io.Reader) error) error {
		path := filepath.Join(dir, name)
		if !tmos.FileExists(path) {
			return nil
		}
		bz, err := ioutil.ReadFile(path)
		if err != nil {
			return err
		}
		if err := fn(bytes.NewReader(bz)); err != nil {
			return errors.Wrapf(err, "load %s", path)
		}
		db.logger.Info("Loaded pbft records", "file", path)
		return nil
	}
	if err := load(CheckpointRecordsFile, db.LoadCheckpointRecords); err != nil {
		return err
	}
	return load(ConsensusRecordsFile, db.LoadConsensusRecords)
}
