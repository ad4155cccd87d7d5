package ethtx

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	ErrPending        = errors.New("transaction is still in the mempool")
	ErrContractCreate = errors.New("contract creation has no recipient")
)

// Info is what the tracker needs to know about a signed transaction.
type Info struct {
	Hash     common.Hash
	From     common.Address
	To       common.Address
	Value    *big.Int
	GasPrice *big.Int
	Nonce    uint64
	Gas      uint64
}

// Describe recovers the sender of a signed transaction.
func Describe(tx *types.Transaction) (Info, error) {
	signer := types.LatestSignerForChainID(tx.ChainId())
	from, err := types.Sender(signer, tx)
	if err != nil {
		return Info{}, fmt.Errorf("recover sender: %w", err)
	}

	to := tx.To()
	if to == nil {
		return Info{}, ErrContractCreate
	}

	val := tx.Value()
	if val == nil {
		val = big.NewInt(0)
	}

	var gasPrice *big.Int
	if gp := tx.GasPrice(); gp != nil {
		gasPrice = new(big.Int).Set(gp)
	}

	return Info{
		Hash:     tx.Hash(),
		From:     from,
		To:       *to,
		Value:    new(big.Int).Set(val),
		GasPrice: gasPrice,
		Nonce:    tx.Nonce(),
		Gas:      tx.Gas(),
	}, nil
}

// TxSource is the subset of *ethclient.Client that Lookup needs.
type TxSource interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
}

// Lookup fetches a broadcast transaction by hash. A transaction still pending in
// the mempool is returned together with ErrPending only when allowPending is false.
func Lookup(ctx context.Context, src TxSource, hash common.Hash, allowPending bool) (Info, error) {
	tx, isPending, err := src.TransactionByHash(ctx, hash)
	if err != nil {
		return Info{}, fmt.Errorf("transaction by hash: %w", err)
	}
	info, err := Describe(tx)
	if err != nil {
		return Info{}, err
	}
	if isPending && !allowPending {
		return info, ErrPending
	}
	return info, nil
}
