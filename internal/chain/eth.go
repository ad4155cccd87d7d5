package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Backend is the subset of *ethclient.Client used by EthProvider.
type Backend interface {
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

var _ Backend = (*ethclient.Client)(nil)

type EthConfig struct {
	ReceiptTimeout time.Duration
	ReceiptPoll    time.Duration
	// RPS caps calls to the node across every monitoring goroutine. 0 disables the limit.
	RPS int
}

var ErrReceiptTimeout = errors.New("timed out waiting for receipt")

type EthProvider struct {
	backend Backend
	limiter *rate.Limiter
	cfg     EthConfig
	logger  *zap.Logger
}

var (
	_ Provider        = (*EthProvider)(nil)
	_ HeaderFeeSource = (*EthProvider)(nil)
)

func NewEthProvider(backend Backend, cfg EthConfig, logger *zap.Logger) *EthProvider {
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 2 * time.Minute
	}
	if cfg.ReceiptPoll <= 0 {
		cfg.ReceiptPoll = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), cfg.RPS)
	}

	return &EthProvider{backend: backend, limiter: limiter, cfg: cfg, logger: logger}
}

// Dial connects to the node and checks it answers, retrying with exponential backoff.
func Dial(ctx context.Context, url string, maxElapsed time.Duration, logger *zap.Logger) (*ethclient.Client, error) {
	var client *ethclient.Client

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxElapsed

	op := func() error {
		c, err := ethclient.DialContext(ctx, url)
		if err != nil {
			return err
		}
		if _, err := c.BlockNumber(ctx); err != nil {
			c.Close()
			return err
		}
		client = c
		return nil
	}
	notify := func(err error, next time.Duration) {
		logger.Warn("eth dial failed, retrying", zap.Error(err), zap.Duration("next", next))
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify); err != nil {
		return nil, fmt.Errorf("dial eth rpc: %w", err)
	}
	return client, nil
}

func (p *EthProvider) Submit(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	if err := p.throttle(ctx); err != nil {
		return common.Hash{}, err
	}
	if err := p.backend.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, fmt.Errorf("send transaction: %w", err)
	}
	return tx.Hash(), nil
}

func (p *EthProvider) Receipt(ctx context.Context, hash common.Hash) (Receipt, error) {
	if err := p.throttle(ctx); err != nil {
		return Receipt{}, err
	}
	r, err := p.backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) || (err == nil && r == nil) {
		return Receipt{}, ErrReceiptNotFound
	}
	if err != nil {
		return Receipt{}, fmt.Errorf("transaction receipt: %w", err)
	}
	return ReceiptFromTypes(r), nil
}

func (p *EthProvider) WaitForReceipt(ctx context.Context, hash common.Hash, confirmations uint64) (Receipt, error) {
	if confirmations == 0 {
		confirmations = 1
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(p.cfg.ReceiptPoll)
	defer ticker.Stop()

	for {
		r, err := p.Receipt(ctx, hash)
		switch {
		case err == nil:
			height, herr := p.BlockHeight(ctx)
			if herr != nil {
				return Receipt{}, p.waitErr(ctx, herr)
			}
			if height+1 >= r.BlockNumber+confirmations {
				return r, nil
			}
		case errors.Is(err, ErrReceiptNotFound):
			p.logger.Debug("receipt not yet available", zap.String("hash", hash.Hex()))
		default:
			return Receipt{}, p.waitErr(ctx, err)
		}

		select {
		case <-ctx.Done():
			return Receipt{}, p.waitErr(ctx, ctx.Err())
		case <-ticker.C:
		}
	}
}

// throttle waits for a limiter slot. The limiter gives up early when the
// slot lies past the context deadline; that is reported as DeadlineExceeded.
func (p *EthProvider) throttle(ctx context.Context) error {
	err := p.limiter.Wait(ctx)
	if err == nil {
		return nil
	}
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	if _, ok := ctx.Deadline(); ok {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}

func (p *EthProvider) waitErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrReceiptTimeout, p.cfg.ReceiptTimeout)
	}
	return err
}

func (p *EthProvider) BlockHeight(ctx context.Context) (uint64, error) {
	if err := p.throttle(ctx); err != nil {
		return 0, err
	}
	n, err := p.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("block number: %w", err)
	}
	return n, nil
}

func (p *EthProvider) BaseFeePerGas(ctx context.Context) (*big.Int, error) {
	if err := p.throttle(ctx); err != nil {
		return nil, err
	}
	price, err := p.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	return price, nil
}

func (p *EthProvider) EstimateGasLimit(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if err := p.throttle(ctx); err != nil {
		return 0, err
	}
	gas, err := p.backend.EstimateGas(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("estimate gas: %w", err)
	}
	return gas, nil
}

func (p *EthProvider) HeaderBaseFee(ctx context.Context) (*big.Int, error) {
	if err := p.throttle(ctx); err != nil {
		return nil, err
	}
	h, err := p.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("latest header: %w", err)
	}
	if h.BaseFee == nil {
		return nil, nil
	}
	return new(big.Int).Set(h.BaseFee), nil
}
