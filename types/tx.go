package types

import (
	"github.com/tendermint/tendermint/crypto/merkle"
	"github.com/tendermint/tendermint/crypto/tmhash"
)

// ===== small bank Tx =====

type SmallBankTxType string

var (
	SBCreateAccountTx     = SmallBankTxType("create_account")
	SBBalanceTx           = SmallBankTxType("balance")
	SBDepositCheckingTx   = SmallBankTxType("deposit_checking")
	SBTransactionSavingTx = SmallBankTxType("transaction_saving")
	SBAmalgamateTx        = SmallBankTxType("amalgamate")
	SBWriteCheckingTx     = SmallBankTxType("write_checking")
)

type Tx struct {
	TxType SmallBankTxType `json:"tx_type"`
	Args   []string        `json:"args"`
}

func NewTx(typ SmallBankTxType, args ...string) Tx {
	return Tx{TxType: typ, Args: args}
}

func (tx *Tx) Hash() []byte {
	h := tmhash.New()
	h.Write([]byte(tx.TxType))
	for _, arg := range tx.Args {
		h.Write(uint32Bytes(uint32(len(arg))))
		h.Write([]byte(arg))
	}

	return h.Sum([]byte{})
}

// ===== tx array =====
type Txs []Tx

// 返回交易形成的merkle tree的根value
func (txs Txs) Hash() []byte {
	txBzs := make([][]byte, len(txs))
	for i := 0; i < len(txs); i++ {
		txBzs[i] = txs[i].Hash()
	}
	return merkle.HashFromByteSlices(txBzs)
}
