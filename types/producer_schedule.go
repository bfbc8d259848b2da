package types

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tendermint/tendermint/crypto"
	"github.com/tendermint/tendermint/crypto/merkle"
)

// ProducerKey 一个出块者的名字和签名公钥
type ProducerKey struct {
	Name       string        `json:"name"`
	SigningKey crypto.PubKey `json:"signing_key"`
}

func (pk ProducerKey) ValidateBasic() error {
	if pk.Name == "" {
		return errors.New("producer has no name")
	}
	if pk.SigningKey == nil {
		return fmt.Errorf("producer %s does not have a signing key", pk.Name)
	}
	return nil
}

func (pk ProducerKey) String() string {
	return fmt.Sprintf("%s(%v)", pk.Name, pk.SigningKey)
}

// ProducerSchedule is a versioned, ordered list of block producers. The
// order fixes both the slot rotation and the PBFT primary for a view.
//
// NOTE: Not goroutine-safe.
type ProducerSchedule struct {
	Version   uint32        `json:"version"`
	Producers []ProducerKey `json:"producers"`
}

func NewProducerSchedule(version uint32, producers []ProducerKey) *ProducerSchedule {
	ps := make([]ProducerKey, len(producers))
	copy(ps, producers)
	return &ProducerSchedule{Version: version, Producers: ps}
}

func (ps *ProducerSchedule) ValidateBasic() error {
	if ps.IsNilOrEmpty() {
		return errors.New("producer schedule is nil or empty")
	}
	names := make(map[string]struct{}, len(ps.Producers))
	keys := make(map[string]struct{}, len(ps.Producers))
	for idx, p := range ps.Producers {
		if err := p.ValidateBasic(); err != nil {
			return fmt.Errorf("invalid producer #%d: %w", idx, err)
		}
		if _, ok := names[p.Name]; ok {
			return fmt.Errorf("duplicate producer name %s", p.Name)
		}
		if _, ok := keys[KeyString(p.SigningKey)]; ok {
			return fmt.Errorf("duplicate signing key for producer %s", p.Name)
		}
		names[p.Name] = struct{}{}
		keys[KeyString(p.SigningKey)] = struct{}{}
	}
	return nil
}

// IsNilOrEmpty returns true if the schedule is nil or has no producers.
func (ps *ProducerSchedule) IsNilOrEmpty() bool {
	return ps == nil || len(ps.Producers) == 0
}

func (ps *ProducerSchedule) Copy() *ProducerSchedule {
	if ps == nil {
		return nil
	}
	return NewProducerSchedule(ps.Version, ps.Producers)
}

func (ps *ProducerSchedule) Size() int {
	if ps == nil {
		return 0
	}
	return len(ps.Producers)
}

// Contains reports whether key signs for one of the producers.
func (ps *ProducerSchedule) Contains(key crypto.PubKey) bool {
	_, ok := ps.GetByKey(key)
	return ok
}

func (ps *ProducerSchedule) GetByKey(key crypto.PubKey) (ProducerKey, bool) {
	if ps == nil || key == nil {
		return ProducerKey{}, false
	}
	for _, p := range ps.Producers {
		if KeyEqual(p.SigningKey, key) {
			return p, true
		}
	}
	return ProducerKey{}, false
}

func (ps *ProducerSchedule) GetByName(name string) (ProducerKey, bool) {
	if ps == nil {
		return ProducerKey{}, false
	}
	for _, p := range ps.Producers {
		if p.Name == name {
			return p, true
		}
	}
	return ProducerKey{}, false
}

// Scheduled returns the producer owning slot. Each producer gets
// repetitions consecutive slots before the rotation moves on.
func (ps *ProducerSchedule) Scheduled(slot int64, repetitions int) ProducerKey {
	if repetitions <= 0 {
		repetitions = 1
	}
	idx := (slot / int64(repetitions)) % int64(len(ps.Producers))
	return ps.Producers[idx]
}

// Primary returns the PBFT primary of view: producers[view mod N].
func (ps *ProducerSchedule) Primary(view uint64) ProducerKey {
	return ps.Producers[view%uint64(len(ps.Producers))]
}

// Hash returns the Merkle root over the version and every producer.
func (ps *ProducerSchedule) Hash() []byte {
	bzs := make([][]byte, 0, len(ps.Producers)+1)
	bzs = append(bzs, uint32Bytes(ps.Version))
	for _, p := range ps.Producers {
		bz := append([]byte(p.Name), 0)
		if p.SigningKey != nil {
			bz = append(bz, p.SigningKey.Bytes()...)
		}
		bzs = append(bzs, bz)
	}
	return merkle.HashFromByteSlices(bzs)
}

// Equal compares version and producer list.
func (ps *ProducerSchedule) Equal(other *ProducerSchedule) bool {
	if ps == nil || other == nil {
		return ps == other
	}
	if ps.Version != other.Version || len(ps.Producers) != len(other.Producers) {
		return false
	}
	for i := range ps.Producers {
		if ps.Producers[i].Name != other.Producers[i].Name ||
			!KeyEqual(ps.Producers[i].SigningKey, other.Producers[i].SigningKey) {
			return false
		}
	}
	return true
}

func (ps *ProducerSchedule) String() string {
	if ps == nil {
		return "nil-ProducerSchedule"
	}
	names := make([]string, len(ps.Producers))
	for i, p := range ps.Producers {
		names[i] = p.Name
	}
	return fmt.Sprintf("ProducerSchedule{v%d [%s]}", ps.Version, strings.Join(names, " "))
}

// KeyEqual compares two public keys; nil never equals anything.
func KeyEqual(a, b crypto.PubKey) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Equals(b)
}

// KeyString is a map key for a public key.
func KeyString(key crypto.PubKey) string {
	if key == nil {
		return ""
	}
	return fmt.Sprintf("%X", key.Bytes())
}

//----------------------------------------

// RandProducerSchedule returns a schedule of n producers named producer0..
// with deterministic keys, along with their signers in schedule order.
//
// EXPOSED FOR TESTING.
func RandProducerSchedule(n int) (*ProducerSchedule, []PrivValidator) {
	var (
		producers = make([]ProducerKey, n)
		pvs       = make([]PrivValidator, n)
	)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("producer%d", i)
		pv := NewMockPVFromSecret([]byte(name))
		pubKey, err := pv.GetPubKey()
		if err != nil {
			panic(fmt.Errorf("could not retrieve pubkey %w", err))
		}
		producers[i] = ProducerKey{Name: name, SigningKey: pubKey}
		pvs[i] = pv
	}
	return NewProducerSchedule(0, producers), pvs
}
