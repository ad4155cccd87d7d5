package chain

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrReceiptNotFound means the chain has no receipt for the hash (yet, or any more).
var ErrReceiptNotFound = errors.New("receipt not found")

var ErrNoBaseFee = errors.New("provider returned no base fee")

type Receipt struct {
	Success           bool
	BlockNumber       uint64
	GasUsed           uint64
	EffectiveGasPrice *big.Int
}

// Provider is everything the tracker and estimator need from a chain.
type Provider interface {
	Submit(ctx context.Context, tx *types.Transaction) (common.Hash, error)
	// WaitForReceipt blocks until the transaction has the given number of
	// confirmations or the provider's own timeout elapses.
	WaitForReceipt(ctx context.Context, hash common.Hash, confirmations uint64) (Receipt, error)
	Receipt(ctx context.Context, hash common.Hash) (Receipt, error)
	BlockHeight(ctx context.Context) (uint64, error)
	BaseFeePerGas(ctx context.Context) (*big.Int, error)
	EstimateGasLimit(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
}

// HeaderFeeSource is implemented by providers that can read the EIP-1559 base
// fee of the latest header. A nil fee means the chain has no base fee.
type HeaderFeeSource interface {
	HeaderBaseFee(ctx context.Context) (*big.Int, error)
}

func ReceiptFromTypes(r *types.Receipt) Receipt {
	out := Receipt{
		Success: r.Status == types.ReceiptStatusSuccessful,
		GasUsed: r.GasUsed,
	}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	if r.EffectiveGasPrice != nil {
		out.EffectiveGasPrice = new(big.Int).Set(r.EffectiveGasPrice)
	}
	return out
}
