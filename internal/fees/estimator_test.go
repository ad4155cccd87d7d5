package fees

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pvzzle/paytrack/internal/bus"
	"github.com/pvzzle/paytrack/internal/chain"
	"github.com/pvzzle/paytrack/internal/errs"
)

type fakeChain struct {
	mu        sync.Mutex
	baseFee   *big.Int
	feeErr    error
	feeCalls  int
	gasLimit  uint64
	gasErr    error
	panicOnce bool
}

func (f *fakeChain) Submit(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	return tx.Hash(), nil
}

func (f *fakeChain) WaitForReceipt(ctx context.Context, hash common.Hash, confirmations uint64) (chain.Receipt, error) {
	return chain.Receipt{}, errors.New("not used")
}

func (f *fakeChain) Receipt(ctx context.Context, hash common.Hash) (chain.Receipt, error) {
	return chain.Receipt{}, chain.ErrReceiptNotFound
}

func (f *fakeChain) BlockHeight(ctx context.Context) (uint64, error) { return 0, nil }

func (f *fakeChain) BaseFeePerGas(ctx context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feeCalls++
	if f.panicOnce {
		f.panicOnce = false
		panic("rpc exploded")
	}
	if f.feeErr != nil {
		return nil, f.feeErr
	}
	return new(big.Int).Set(f.baseFee), nil
}

func (f *fakeChain) EstimateGasLimit(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gasErr != nil {
		return 0, f.gasErr
	}
	return f.gasLimit, nil
}

func (f *fakeChain) set(fee int64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.baseFee = big.NewInt(fee)
	f.feeErr = err
}

func (f *fakeChain) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.feeCalls
}

type headerChain struct {
	*fakeChain
	header *big.Int
}

func (h headerChain) HeaderBaseFee(ctx context.Context) (*big.Int, error) { return h.header, nil }

func newEstimator(t *testing.T, p chain.Provider, opts ...Option) *Estimator {
	t.Helper()
	e, err := New(zaptest.NewLogger(t), p, Config{}, opts...)
	require.NoError(t, err)
	t.Cleanup(e.StopAutoRefresh)
	return e
}

func TestQuote_TierPrices(t *testing.T) {
	p := &fakeChain{baseFee: big.NewInt(1_000_000), gasLimit: 21000}
	e := newEstimator(t, p)

	q, err := e.Quote(context.Background(), "", &ethereum.CallMsg{})
	require.NoError(t, err)
	require.Equal(t, TierAverage, q.Selected)
	require.Equal(t, uint64(21000), q.GasLimit)
	require.False(t, q.DefaultedLimit)

	want := map[string]int64{TierSlow: 800_000, TierAverage: 1_000_000, TierFast: 1_200_000}
	for name, price := range want {
		tq, ok := q.ForTier(name)
		require.True(t, ok, name)
		require.Equal(t, price, tq.GasPrice.Int64(), name)
		require.Equal(t, price*21000, tq.Cost.Int64(), name)
	}
	require.Equal(t, int64(1_000_000), q.Selection().GasPrice.Int64())
}

func TestQuote_LargeValuesDoNotOverflow(t *testing.T) {
	huge, ok := new(big.Int).SetString("123456789012345678901234567890", 10)
	require.True(t, ok)
	p := &fakeChain{baseFee: huge, gasLimit: 1}
	e := newEstimator(t, p)

	q, err := e.Quote(context.Background(), TierFast, &ethereum.CallMsg{})
	require.NoError(t, err)

	want := new(big.Int).Mul(huge, big.NewInt(120))
	want.Quo(want, big.NewInt(100))
	require.Equal(t, 0, q.Selection().GasPrice.Cmp(want))
}

func TestQuote_UnknownTier(t *testing.T) {
	e := newEstimator(t, &fakeChain{baseFee: big.NewInt(1)})

	_, err := e.Quote(context.Background(), "turbo", nil)
	require.True(t, errs.IsValidation(err))
}

func TestQuote_DefaultGasLimitFallback(t *testing.T) {
	p := &fakeChain{baseFee: big.NewInt(10), gasErr: errors.New("execution reverted")}
	e := newEstimator(t, p)

	q, err := e.Quote(context.Background(), "", &ethereum.CallMsg{})
	require.NoError(t, err)
	require.True(t, q.DefaultedLimit)
	require.Equal(t, uint64(100000), q.GasLimit)

	q, err = e.Quote(context.Background(), "", nil)
	require.NoError(t, err)
	require.True(t, q.DefaultedLimit)
}

func TestQuote_UsesCacheUntilStale(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := &fakeChain{baseFee: big.NewInt(100), gasLimit: 21000}
	e := newEstimator(t, p, WithClock(func() time.Time { return now }))

	_, err := e.Quote(context.Background(), "", nil)
	require.NoError(t, err)
	require.Equal(t, 1, p.calls())

	now = now.Add(30 * time.Second)
	_, err = e.Quote(context.Background(), "", nil)
	require.NoError(t, err)
	require.Equal(t, 1, p.calls())

	now = now.Add(31 * time.Second)
	p.set(200, nil)
	q, err := e.Quote(context.Background(), "", nil)
	require.NoError(t, err)
	require.Equal(t, 2, p.calls())
	require.Equal(t, int64(200), q.BaseFee.Wei.Int64())
}

func TestRefreshBaseFee_FailureKeepsCache(t *testing.T) {
	p := &fakeChain{baseFee: big.NewInt(42)}
	e := newEstimator(t, p)

	_, err := e.RefreshBaseFee(context.Background())
	require.NoError(t, err)

	p.set(0, errors.New("connection refused"))
	_, err = e.RefreshBaseFee(context.Background())
	require.Error(t, err)
	require.True(t, errs.IsProvider(err))

	cached, ok := e.Cached()
	require.True(t, ok)
	require.Equal(t, int64(42), cached.Wei.Int64())
}

func TestSelectTier(t *testing.T) {
	b := bus.New(zaptest.NewLogger(t))
	var got []Tier
	b.Subscribe(bus.TopicTierChanged, func(ev bus.Event) { got = append(got, ev.Payload.(Tier)) })

	e := newEstimator(t, &fakeChain{baseFee: big.NewInt(1)}, WithBus(b))

	require.True(t, errs.IsValidation(e.SelectTier("turbo")))
	require.Equal(t, TierAverage, e.Selected())
	require.Empty(t, got)

	require.NoError(t, e.SelectTier(TierFast))
	require.Equal(t, TierFast, e.Selected())
	require.Len(t, got, 1)
	require.Equal(t, 120, int(got[0].Multiplier))
}

func TestNew_RejectsUndefinedDefaultTier(t *testing.T) {
	_, err := New(zaptest.NewLogger(t), &fakeChain{}, Config{DefaultTier: "turbo"})
	require.True(t, errs.IsValidation(err))

	_, err = New(zaptest.NewLogger(t), &fakeChain{}, Config{Tiers: []Tier{{Name: "x", Multiplier: 0}}, DefaultTier: "x"})
	require.True(t, errs.IsValidation(err))
}

func TestCongestionLevel(t *testing.T) {
	cases := []struct {
		wei  int64
		want Congestion
	}{
		{500_000_000, CongestionLow},
		{1_000_000_000, CongestionMedium},
		{4_999_999_999, CongestionMedium},
		{5_000_000_000, CongestionHigh},
	}
	for _, tc := range cases {
		e := newEstimator(t, &fakeChain{baseFee: big.NewInt(tc.wei)})
		require.Equal(t, tc.want, e.CongestionLevel(context.Background()), tc.wei)
	}

	failing := newEstimator(t, &fakeChain{feeErr: errors.New("down")})
	require.Equal(t, CongestionUnknown, failing.CongestionLevel(context.Background()))
}

func TestCongestionLevel_StaleCacheOnRefreshFailure(t *testing.T) {
	now := time.Now()
	p := &fakeChain{baseFee: big.NewInt(6_000_000_000)}
	e := newEstimator(t, p, WithClock(func() time.Time { return now }))

	_, err := e.RefreshBaseFee(context.Background())
	require.NoError(t, err)

	now = now.Add(time.Hour)
	p.set(0, errors.New("down"))
	require.Equal(t, CongestionHigh, e.CongestionLevel(context.Background()))
}

func TestAutoRefresh_SurvivesFailuresAndPublishes(t *testing.T) {
	b := bus.New(zaptest.NewLogger(t))
	var (
		mu      sync.Mutex
		updates []BaseFee
	)
	b.Subscribe(bus.TopicBaseFeeUpdated, func(ev bus.Event) {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, ev.Payload.(BaseFee))
	})

	p := &fakeChain{feeErr: errors.New("down"), panicOnce: true}
	e := newEstimator(t, p, WithBus(b))

	e.StartAutoRefresh(2 * time.Millisecond)
	require.Eventually(t, func() bool { return p.calls() >= 3 }, time.Second, time.Millisecond)

	p.set(777, nil)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(updates) > 0
	}, time.Second, time.Millisecond)

	mu.Lock()
	require.Equal(t, int64(777), updates[0].Wei.Int64())
	mu.Unlock()

	e.StopAutoRefresh()
	stopped := p.calls()
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, stopped, p.calls())
}

func TestAutoRefresh_RestartReplacesTask(t *testing.T) {
	p := &fakeChain{baseFee: big.NewInt(1)}
	e := newEstimator(t, p)

	e.StartAutoRefresh(time.Hour)
	first := e.refresher
	e.StartAutoRefresh(time.Hour)

	select {
	case <-first.Done():
	case <-time.After(time.Second):
		t.Fatal("previous refresh task still running")
	}
	require.NotSame(t, first, e.refresher)
}

func TestAnnotate(t *testing.T) {
	p := &fakeChain{baseFee: big.NewInt(1_000), gasLimit: 50_000}
	e := newEstimator(t, p)

	to := common.HexToAddress("0x2")
	a, err := e.Annotate(context.Background(), ethereum.CallMsg{To: &to, Value: big.NewInt(5)}, TierSlow)
	require.NoError(t, err)
	require.Equal(t, TierSlow, a.Tier)
	require.Equal(t, int64(800), a.Msg.GasPrice.Int64())
	require.Equal(t, uint64(50_000), a.Msg.Gas)
	require.Equal(t, &to, a.Msg.To)
	require.False(t, a.DefaultedLimit)
}

func TestEstimateGasLimits(t *testing.T) {
	p := &fakeChain{gasLimit: 30_000}
	e := newEstimator(t, p)

	got := e.EstimateGasLimits(context.Background(), make([]ethereum.CallMsg, 3))
	require.Len(t, got, 3)
	for _, g := range got {
		require.Equal(t, GasEstimate{Limit: 30_000}, g)
	}

	p.gasErr = errors.New("reverted")
	got = e.EstimateGasLimits(context.Background(), make([]ethereum.CallMsg, 2))
	for _, g := range got {
		require.Equal(t, GasEstimate{Limit: 100000, Defaulted: true}, g)
	}
}

func TestDynamicFees(t *testing.T) {
	plain := newEstimator(t, &fakeChain{})
	_, ok, err := plain.DynamicFees(context.Background())
	require.NoError(t, err)
	require.False(t, ok)

	legacy := newEstimator(t, headerChain{fakeChain: &fakeChain{}})
	_, ok, err = legacy.DynamicFees(context.Background())
	require.NoError(t, err)
	require.False(t, ok)

	e := newEstimator(t, headerChain{fakeChain: &fakeChain{}, header: big.NewInt(3_000_000_000)})
	df, ok, err := e.DynamicFees(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(2_000_000_000), df.MaxPriorityFee.Int64())
	require.Equal(t, int64(8_000_000_000), df.MaxFee.Int64())
}

func TestSavings(t *testing.T) {
	s := Savings(big.NewInt(80), big.NewInt(120))
	require.Equal(t, int64(40), s.Amount.Int64())
	require.InDelta(t, 33.333, s.Percent, 0.001)

	zero := Savings(big.NewInt(0), big.NewInt(0))
	require.Zero(t, zero.Amount.Sign())
	require.Zero(t, zero.Percent)
}

func TestFiatCost(t *testing.T) {
	// 0.0021 CELO at 0.5 per CELO
	cost := big.NewInt(2_100_000_000_000_000)
	got := FiatCost(cost, big.NewRat(1, 2))
	require.Equal(t, "0.001050", got.FloatString(6))

	require.Zero(t, FiatCost(new(big.Int), big.NewRat(3, 1)).Sign())
}

func TestBatchSavings(t *testing.T) {
	s := BatchSavings([]*big.Int{big.NewInt(100), big.NewInt(100), big.NewInt(100)}, big.NewInt(240))
	require.Equal(t, int64(300), s.SingleTotal.Int64())
	require.Equal(t, int64(240), s.BatchTotal.Int64())
	require.Equal(t, int64(60), s.Amount.Int64())
	require.InDelta(t, 20.0, s.Percent, 1e-9)

	empty := BatchSavings(nil, big.NewInt(0))
	require.Zero(t, empty.SingleTotal.Sign())
	require.Zero(t, empty.Percent)
}
