package privval

import (
	"fmt"
	"io/ioutil"

	"github.com/tendermint/tendermint/crypto"
	"github.com/tendermint/tendermint/crypto/ed25519"
	tmjson "github.com/tendermint/tendermint/libs/json"
	tmos "github.com/tendermint/tendermint/libs/os"
	"github.com/tendermint/tendermint/libs/tempfile"

	"bftchain/types"
)

//-------------------------------------------------------------------------------

// FilePVKey stores the immutable part of PrivValidator.
type FilePVKey struct {
	Address crypto.Address `json:"address"`
	PubKey  crypto.PubKey  `json:"pub_key"`
	PrivKey crypto.PrivKey `json:"priv_key"`

	filePath string
}

// Save persists the FilePVKey to its filePath.
func (pvKey FilePVKey) Save() {
	outFile := pvKey.filePath
	if outFile == "" {
		panic("cannot save PrivValidator key: filePath not set")
	}

	jsonBytes, err := tmjson.MarshalIndent(pvKey, "", "  ")
	if err != nil {
		panic(err)
	}
	err = tempfile.WriteFileAtomic(outFile, jsonBytes, 0600)
	if err != nil {
		panic(err)
	}
}

//-------------------------------------------------------------------------------

// FilePV implements types.PrivValidator with a key persisted to disk.
// NOTE: the directory containing pv.Key.filePath must already exist.
type FilePV struct {
	Key FilePVKey
}

var _ types.PrivValidator = (*FilePV)(nil)

// NewFilePV generates a new validator from the given key and path.
func NewFilePV(privKey crypto.PrivKey, keyFilePath string) *FilePV {
	return &FilePV{
		Key: FilePVKey{
			Address:  privKey.PubKey().Address(),
			PubKey:   privKey.PubKey(),
			PrivKey:  privKey,
			filePath: keyFilePath,
		},
	}
}

// GenFilePV generates a new validator with randomly generated private key
// and sets the filePath, but does not call Save().
func GenFilePV(keyFilePath string) *FilePV {
	return NewFilePV(ed25519.GenPrivKey(), keyFilePath)
}

// GenFilePVFromSecret derives the key from secret, so every node of a test
// network can rebuild the producer keys of its peers.
func GenFilePVFromSecret(keyFilePath string, secret []byte) *FilePV {
	return NewFilePV(ed25519.GenPrivKeyFromSecret(secret), keyFilePath)
}

// LoadFilePV loads a FilePV from keyFilePath. If the file does not exist
// or cannot be decoded, the program will exit.
func LoadFilePV(keyFilePath string) *FilePV {
	pv, err := ReadFilePV(keyFilePath)
	if err != nil {
		tmos.Exit(err.Error())
	}
	return pv
}

// ReadFilePV loads a FilePV from keyFilePath.
func ReadFilePV(keyFilePath string) (*FilePV, error) {
	keyJSONBytes, err := ioutil.ReadFile(keyFilePath)
	if err != nil {
		return nil, err
	}
	pvKey := FilePVKey{}
	err = tmjson.Unmarshal(keyJSONBytes, &pvKey)
	if err != nil {
		return nil, fmt.Errorf("error reading PrivValidator key from %v: %w", keyFilePath, err)
	}
	if pvKey.PrivKey == nil {
		return nil, fmt.Errorf("no private key in %v", keyFilePath)
	}

	// overwrite pubkey and address for convenience
	pvKey.PubKey = pvKey.PrivKey.PubKey()
	pvKey.Address = pvKey.PubKey.Address()
	pvKey.filePath = keyFilePath

	return &FilePV{
		Key: pvKey,
	}, nil
}

// LoadOrGenFilePV loads a FilePV from keyFilePath or else generates a new
// one and saves it there.
func LoadOrGenFilePV(keyFilePath string) *FilePV {
	var pv *FilePV
	if tmos.FileExists(keyFilePath) {
		pv = LoadFilePV(keyFilePath)
	} else {
		pv = GenFilePV(keyFilePath)
		pv.Save()
	}
	return pv
}

// GetAddress returns the address of the validator.
func (pv *FilePV) GetAddress() crypto.Address {
	return pv.Key.Address
}

// GetPubKey returns the public key of the validator.
// Implements PrivValidator.
func (pv *FilePV) GetPubKey() (crypto.PubKey, error) {
	return pv.Key.PubKey, nil
}

// SignBytes signs the digest of a block or a consensus message.
// Implements PrivValidator.
func (pv *FilePV) SignBytes(msg []byte) ([]byte, error) {
	sig, err := pv.Key.PrivKey.Sign(msg)
	if err != nil {
		return nil, fmt.Errorf("error signing: %w", err)
	}
	return sig, nil
}

// Save persists the FilePV to disk.
func (pv *FilePV) Save() {
	pv.Key.Save()
}

// String returns a string representation of the FilePV.
func (pv *FilePV) String() string {
	return fmt.Sprintf(
		"PrivValidator{%v}",
		pv.GetAddress(),
	)
}
