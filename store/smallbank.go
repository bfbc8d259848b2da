package store

import (
	"errors"
	"fmt"
	"strconv"

	"bftchain/types"
)

const (
	TableAccount  = "account"
	TableSaving   = "saving"
	TableChecking = "checking"
	TableMeta     = "meta"

	nextCustomIDKey = "next_custom_id"
)

var (
	ErrAccountNotFound = errors.New("smallbank account not found")
	ErrAccountExists   = errors.New("smallbank account already exists")
	ErrInvalidTxArgs   = errors.New("invalid smallbank tx arguments")
)

// SmallBank executes SmallBank transactions against a Store.
// table definition：
// account table； key=account/{name}; value=customID
// saving table: key=saving/{customID}; value=balance
// checking table: key=checking/{customID}; value=balance
type SmallBank struct {
	store *Store
}

func NewSmallBank(store *Store) *SmallBank {
	return &SmallBank{store: store}
}

// CreateAccount opens an account with the given balances.
func (sb *SmallBank) CreateAccount(name string, saving, checking int64) error {
	if ok, err := sb.store.Has(TableAccount, name); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%w: %s", ErrAccountExists, name)
	}
	customID, err := sb.getInt(TableMeta, nextCustomIDKey)
	if err != nil {
		return err
	}
	id := strconv.FormatInt(customID, 10)
	if err := sb.store.Set(TableMeta, nextCustomIDKey, int2byte(customID+1)); err != nil {
		return err
	}
	if err := sb.store.Set(TableAccount, name, []byte(id)); err != nil {
		return err
	}
	if err := sb.store.Set(TableSaving, id, int2byte(saving)); err != nil {
		return err
	}
	return sb.store.Set(TableChecking, id, int2byte(checking))
}

// Balance returns saving and checking balances of name.
func (sb *SmallBank) Balance(name string) (saving, checking int64, err error) {
	customID, err := sb.getCustomID(name)
	if err != nil {
		return 0, 0, err
	}
	if saving, err = sb.getInt(TableSaving, customID); err != nil {
		return 0, 0, err
	}
	checking, err = sb.getInt(TableChecking, customID)
	return saving, checking, err
}

// ExecuteTx applies one transaction. Any error aborts the enclosing block.
func (sb *SmallBank) ExecuteTx(tx types.Tx) error {
	switch tx.TxType {
	case types.SBCreateAccountTx:
		if len(tx.Args) != 3 {
			return ErrInvalidTxArgs
		}
		saving, err := parseAmount(tx.Args[1])
		if err != nil {
			return err
		}
		checking, err := parseAmount(tx.Args[2])
		if err != nil {
			return err
		}
		return sb.CreateAccount(tx.Args[0], saving, checking)

	case types.SBBalanceTx:
		if len(tx.Args) != 1 {
			return ErrInvalidTxArgs
		}
		// query, continue
		_, err := sb.getCustomID(tx.Args[0])
		return err

	case types.SBDepositCheckingTx:
		return sb.add(tx, TableChecking)

	case types.SBTransactionSavingTx:
		return sb.add(tx, TableSaving)

	case types.SBAmalgamateTx:
		if len(tx.Args) != 2 {
			return ErrInvalidTxArgs
		}
		customID1, err := sb.getCustomID(tx.Args[0])
		if err != nil {
			return err
		}
		customID2, err := sb.getCustomID(tx.Args[1])
		if err != nil {
			return err
		}
		c1Total, err := sb.getTotalBal(customID1)
		if err != nil {
			return err
		}
		preBal, err := sb.getInt(TableChecking, customID2)
		if err != nil {
			return err
		}
		if err := sb.store.Set(TableSaving, customID1, int2byte(0)); err != nil {
			return err
		}
		if err := sb.store.Set(TableChecking, customID1, int2byte(0)); err != nil {
			return err
		}
		return sb.store.Set(TableChecking, customID2, int2byte(preBal+c1Total))

	case types.SBWriteCheckingTx:
		if len(tx.Args) != 2 {
			return ErrInvalidTxArgs
		}
		value, err := parseAmount(tx.Args[1])
		if err != nil {
			return err
		}
		customID, err := sb.getCustomID(tx.Args[0])
		if err != nil {
			return err
		}
		total, err := sb.getTotalBal(customID)
		if err != nil {
			return err
		}
		preBal, err := sb.getInt(TableChecking, customID)
		if err != nil {
			return err
		}
		// 透支罚款1
		if total < value {
			preBal -= value + 1
		} else {
			preBal -= value
		}
		return sb.store.Set(TableChecking, customID, int2byte(preBal))

	default:
		return fmt.Errorf("wrong small bank tx type(%s)", tx.TxType)
	}
}

func (sb *SmallBank) add(tx types.Tx, table string) error {
	if len(tx.Args) != 2 {
		return ErrInvalidTxArgs
	}
	value, err := parseAmount(tx.Args[1])
	if err != nil {
		return err
	}
	customID, err := sb.getCustomID(tx.Args[0])
	if err != nil {
		return err
	}
	preBal, err := sb.getInt(table, customID)
	if err != nil {
		return err
	}
	return sb.store.Set(table, customID, int2byte(preBal+value))
}

func (sb *SmallBank) getCustomID(name string) (string, error) {
	customID, err := sb.store.Get(TableAccount, name)
	if err != nil {
		return "", err
	}
	if customID == nil {
		return "", fmt.Errorf("%w: %s", ErrAccountNotFound, name)
	}
	return string(customID), nil
}

func (sb *SmallBank) getTotalBal(customID string) (int64, error) {
	saving, err := sb.getInt(TableSaving, customID)
	if err != nil {
		return 0, err
	}
	checking, err := sb.getInt(TableChecking, customID)
	if err != nil {
		return 0, err
	}
	return saving + checking, nil
}

// getInt reads a decimal row, missing rows read as 0.
func (sb *SmallBank) getInt(table, key string) (int64, error) {
	bz, err := sb.store.Get(table, key)
	if err != nil || bz == nil {
		return 0, err
	}
	return strconv.ParseInt(string(bz), 10, 64)
}

func parseAmount(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidTxArgs, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("%w: negative amount %d", ErrInvalidTxArgs, v)
	}
	return v, nil
}

func int2byte(src int64) []byte {
	return []byte(strconv.FormatInt(src, 10))
}
