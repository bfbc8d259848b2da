package types

import (
	"errors"
	"fmt"
	"io/ioutil"
	"time"

	"github.com/tendermint/tendermint/crypto"
	tmjson "github.com/tendermint/tendermint/libs/json"
	tmos "github.com/tendermint/tendermint/libs/os"
	tmtime "github.com/tendermint/tendermint/types/time"
)

const (
	// MaxChainIDLen is a maximum length of the chain ID.
	MaxChainIDLen = 50

	// GenesisHeight is the height of the genesis block.
	GenesisHeight = int64(1)
)

// GenesisProducer is an initial producer.
type GenesisProducer struct {
	Name   string        `json:"name"`
	PubKey crypto.PubKey `json:"pub_key"`
}

// GenesisAccount is a SmallBank account created at genesis.
type GenesisAccount struct {
	Name     string `json:"name"`
	Saving   int64  `json:"saving"`
	Checking int64  `json:"checking"`
}

// GenesisDoc defines the initial conditions for a blockchain.
type GenesisDoc struct {
	GenesisTime time.Time         `json:"genesis_time"`
	ChainID     string            `json:"chain_id"`
	Producers   []GenesisProducer `json:"producers"`
	Accounts    []GenesisAccount  `json:"accounts,omitempty"`
}

// SaveAs is a utility method for saving GenensisDoc as a JSON file.
func (genDoc *GenesisDoc) SaveAs(file string) error {
	genDocBytes, err := tmjson.MarshalIndent(genDoc, "", "  ")
	if err != nil {
		return err
	}
	return tmos.WriteFile(file, genDocBytes, 0644)
}

// ValidateAndComplete checks that all necessary fields are present
// and fills in defaults for optional fields left empty
func (genDoc *GenesisDoc) ValidateAndComplete() error {
	if genDoc.ChainID == "" {
		return errors.New("genesis doc must include non-empty chain_id")
	}
	if len(genDoc.ChainID) > MaxChainIDLen {
		return fmt.Errorf("chain_id in genesis doc is too long (max: %d)", MaxChainIDLen)
	}
	if len(genDoc.Producers) == 0 {
		return errors.New("genesis doc must include at least one producer")
	}
	if err := genDoc.Schedule().ValidateBasic(); err != nil {
		return fmt.Errorf("invalid genesis producers: %w", err)
	}
	for i, acc := range genDoc.Accounts {
		if acc.Name == "" {
			return fmt.Errorf("genesis account #%d has no name", i)
		}
	}
	if genDoc.GenesisTime.IsZero() {
		genDoc.GenesisTime = tmtime.Now()
	}
	return nil
}

// Schedule returns the version 0 producer schedule.
func (genDoc *GenesisDoc) Schedule() *ProducerSchedule {
	producers := make([]ProducerKey, len(genDoc.Producers))
	for i, p := range genDoc.Producers {
		producers[i] = ProducerKey{Name: p.Name, SigningKey: p.PubKey}
	}
	return NewProducerSchedule(0, producers)
}

// GenesisBlock is unsigned and has no producer.
func (genDoc *GenesisDoc) GenesisBlock() *Block {
	return MakeBlock(Header{
		ChainID:   genDoc.ChainID,
		Height:    GenesisHeight,
		Timestamp: genDoc.GenesisTime,
	}, Txs{})
}

//------------------------------------------------------------
// Make genesis state from file

// GenesisDocFromJSON unmarshalls JSON data into a GenesisDoc.
func GenesisDocFromJSON(jsonBlob []byte) (*GenesisDoc, error) {
	genDoc := GenesisDoc{}
	err := tmjson.Unmarshal(jsonBlob, &genDoc)
	if err != nil {
		return nil, err
	}

	if err := genDoc.ValidateAndComplete(); err != nil {
		return nil, err
	}

	return &genDoc, err
}

// GenesisDocFromFile reads JSON data from a file and unmarshalls it into a GenesisDoc.
func GenesisDocFromFile(genDocFile string) (*GenesisDoc, error) {
	jsonBlob, err := ioutil.ReadFile(genDocFile)
	if err != nil {
		return nil, fmt.Errorf("couldn't read GenesisDoc file: %w", err)
	}
	genDoc, err := GenesisDocFromJSON(jsonBlob)
	if err != nil {
		return nil, fmt.Errorf("error reading GenesisDoc at %s: %w", genDocFile, err)
	}
	return genDoc, nil
}
