package types

import (
	"encoding/binary"
	"hash"

	"github.com/tendermint/tendermint/crypto"
	"github.com/tendermint/tendermint/crypto/tmhash"
)

// digest builds the canonical hash a consensus message is signed over.
// Variable length fields are length prefixed.
type digest struct {
	h   hash.Hash
	buf [8]byte
}

func newDigest(typ MsgType) *digest {
	d := &digest{h: tmhash.New()}
	d.h.Write([]byte{byte(typ)})
	return d
}

func (d *digest) uint64(v uint64) *digest {
	binary.BigEndian.PutUint64(d.buf[:], v)
	d.h.Write(d.buf[:])
	return d
}

func (d *digest) int64(v int64) *digest {
	return d.uint64(uint64(v))
}

func (d *digest) bytes(bz []byte) *digest {
	d.uint64(uint64(len(bz)))
	d.h.Write(bz)
	return d
}

func (d *digest) string(s string) *digest {
	return d.bytes([]byte(s))
}

func (d *digest) key(k crypto.PubKey) *digest {
	if k == nil {
		return d.bytes(nil)
	}
	return d.bytes(k.Bytes())
}

func (d *digest) sum() []byte {
	return d.h.Sum(nil)
}
