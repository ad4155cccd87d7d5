package ethtx

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

type fakeSource struct {
	tx      *types.Transaction
	pending bool
	err     error
}

func (f fakeSource) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	return f.tx, f.pending, f.err
}

func signedTx(t *testing.T, to *common.Address) (*types.Transaction, common.Address) {
	t.Helper()

	chainID := big.NewInt(42220)
	signer := types.LatestSignerForChainID(chainID)

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)

	unsigned := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     3,
		To:        to,
		Value:     big.NewInt(1000),
		Gas:       21000,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2_000_000_000),
	})
	tx, err := types.SignTx(unsigned, signer, key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tx, from
}

func TestDescribe_RecoversSender(t *testing.T) {
	to := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	tx, from := signedTx(t, &to)

	info, err := Describe(tx)
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if info.From != from {
		t.Fatalf("expected from=%s got=%s", from.Hex(), info.From.Hex())
	}
	if info.To != to || info.Value.Int64() != 1000 || info.Nonce != 3 || info.Gas != 21000 {
		t.Fatalf("unexpected info: %+v", info)
	}
	if info.Hash != tx.Hash() {
		t.Fatalf("expected hash=%s got=%s", tx.Hash().Hex(), info.Hash.Hex())
	}
}

func TestDescribe_ContractCreation(t *testing.T) {
	tx, _ := signedTx(t, nil)
	if _, err := Describe(tx); !errors.Is(err, ErrContractCreate) {
		t.Fatalf("expected ErrContractCreate, got %v", err)
	}
}

func TestLookup(t *testing.T) {
	to := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	tx, _ := signedTx(t, &to)
	ctx := context.Background()

	if _, err := Lookup(ctx, fakeSource{tx: tx}, tx.Hash(), false); err != nil {
		t.Fatalf("lookup mined: %v", err)
	}

	info, err := Lookup(ctx, fakeSource{tx: tx, pending: true}, tx.Hash(), false)
	if !errors.Is(err, ErrPending) || info.Hash != tx.Hash() {
		t.Fatalf("expected ErrPending with info, got info=%+v err=%v", info, err)
	}

	if _, err := Lookup(ctx, fakeSource{tx: tx, pending: true}, tx.Hash(), true); err != nil {
		t.Fatalf("lookup pending allowed: %v", err)
	}

	boom := errors.New("not found")
	if _, err := Lookup(ctx, fakeSource{err: boom}, tx.Hash(), true); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
