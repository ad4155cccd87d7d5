package fees

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/params"
	"go.uber.org/zap"

	"github.com/pvzzle/paytrack/internal/bus"
	"github.com/pvzzle/paytrack/internal/chain"
	"github.com/pvzzle/paytrack/internal/errs"
	"github.com/pvzzle/paytrack/internal/logging"
	"github.com/pvzzle/paytrack/internal/metrics"
	"github.com/pvzzle/paytrack/internal/periodic"
)

type Congestion string

const (
	CongestionLow     Congestion = "low"
	CongestionMedium  Congestion = "medium"
	CongestionHigh    Congestion = "high"
	CongestionUnknown Congestion = "unknown"
)

// BaseFee is one cached sample of the network's base price per gas unit.
type BaseFee struct {
	Wei       *big.Int
	FetchedAt time.Time
}

type TierQuote struct {
	Tier     Tier
	GasPrice *big.Int
	Cost     *big.Int
}

// Quote prices every tier for one gas limit. It is derived on each call and
// never stored.
type Quote struct {
	BaseFee        BaseFee
	GasLimit       uint64
	DefaultedLimit bool
	Selected       string
	Tiers          []TierQuote
}

func (q Quote) ForTier(name string) (TierQuote, bool) {
	for _, tq := range q.Tiers {
		if tq.Tier.Name == name {
			return tq, true
		}
	}
	return TierQuote{}, false
}

// Selection returns the quote for the tier the quote was requested for.
func (q Quote) Selection() TierQuote {
	tq, _ := q.ForTier(q.Selected)
	return tq
}

type Config struct {
	Tiers           []Tier
	DefaultTier     string
	Freshness       time.Duration
	DefaultGasLimit uint64
	// base fee below Low is low congestion, below High medium, else high
	Low  *big.Int
	High *big.Int
}

func DefaultConfig() Config {
	return Config{
		Tiers:           DefaultTiers(),
		DefaultTier:     TierAverage,
		Freshness:       60 * time.Second,
		DefaultGasLimit: 100000,
		Low:             big.NewInt(1 * params.GWei),
		High:            big.NewInt(5 * params.GWei),
	}
}

type Option func(*Estimator)

func WithBus(b *bus.Bus) Option { return func(e *Estimator) { e.bus = b } }

func WithMetrics(m *metrics.Metrics) Option { return func(e *Estimator) { e.metrics = m } }

func WithClock(now func() time.Time) Option { return func(e *Estimator) { e.now = now } }

type Estimator struct {
	logger   *zap.Logger
	provider chain.Provider
	bus      *bus.Bus
	metrics  *metrics.Metrics
	cfg      Config
	now      func() time.Time

	mu       sync.Mutex
	cache    *BaseFee
	selected string

	refreshMu sync.Mutex
	refresher *periodic.Task
}

func New(logger *zap.Logger, provider chain.Provider, cfg Config, opts ...Option) (*Estimator, error) {
	def := DefaultConfig()
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = def.Tiers
	}
	if cfg.DefaultTier == "" {
		cfg.DefaultTier = def.DefaultTier
	}
	if cfg.Freshness <= 0 {
		cfg.Freshness = def.Freshness
	}
	if cfg.DefaultGasLimit == 0 {
		cfg.DefaultGasLimit = def.DefaultGasLimit
	}
	if cfg.Low == nil {
		cfg.Low = def.Low
	}
	if cfg.High == nil {
		cfg.High = def.High
	}

	if err := validateTiers(cfg.Tiers); err != nil {
		return nil, errs.Validation("new estimator", "%v", err)
	}

	e := &Estimator{
		logger:   logging.WithPackage(logger),
		provider: provider,
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = metrics.NewNop()
	}
	if _, ok := e.tier(cfg.DefaultTier); !ok {
		return nil, errs.Validation("new estimator", "default tier %q is not defined", cfg.DefaultTier)
	}
	e.selected = cfg.DefaultTier
	return e, nil
}

func (e *Estimator) Tiers() []Tier {
	out := make([]Tier, len(e.cfg.Tiers))
	copy(out, e.cfg.Tiers)
	return out
}

func (e *Estimator) tier(name string) (Tier, bool) {
	for _, t := range e.cfg.Tiers {
		if t.Name == name {
			return t, true
		}
	}
	return Tier{}, false
}

func (e *Estimator) Selected() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selected
}

// SelectTier changes the tier used when a caller does not name one.
func (e *Estimator) SelectTier(name string) error {
	t, ok := e.tier(name)
	if !ok {
		return errs.Validation("select tier", "unknown tier %q", name)
	}

	e.mu.Lock()
	e.selected = name
	e.mu.Unlock()

	e.bus.Publish(bus.TopicTierChanged, t)
	return nil
}

// Cached returns the last base fee sample, if any.
func (e *Estimator) Cached() (BaseFee, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cache == nil {
		return BaseFee{}, false
	}
	return copyFee(*e.cache), true
}

func copyFee(f BaseFee) BaseFee {
	return BaseFee{Wei: new(big.Int).Set(f.Wei), FetchedAt: f.FetchedAt}
}

// RefreshBaseFee fetches a new sample and replaces the cache. On failure the
// previous sample stays.
func (e *Estimator) RefreshBaseFee(ctx context.Context) (BaseFee, error) {
	wei, err := e.provider.BaseFeePerGas(ctx)
	if err == nil && wei == nil {
		err = chain.ErrNoBaseFee
	}
	if err != nil {
		e.metrics.FeeRefreshes.WithLabelValues("error").Inc()
		return BaseFee{}, errs.Provider("refresh base fee", err)
	}

	fee := BaseFee{Wei: new(big.Int).Set(wei), FetchedAt: e.now()}

	e.mu.Lock()
	e.cache = &fee
	e.mu.Unlock()

	e.metrics.FeeRefreshes.WithLabelValues("ok").Inc()
	f, _ := new(big.Float).SetInt(wei).Float64()
	e.metrics.BaseFeeWei.Set(f)

	return copyFee(fee), nil
}

func (e *Estimator) fresh(ctx context.Context) (BaseFee, error) {
	if fee, ok := e.Cached(); ok && e.now().Sub(fee.FetchedAt) <= e.cfg.Freshness {
		return fee, nil
	}
	return e.RefreshBaseFee(ctx)
}

// GasLimit estimates msg, falling back to the configured default. The flag
// reports whether the default was used.
func (e *Estimator) GasLimit(ctx context.Context, msg *ethereum.CallMsg) (uint64, bool) {
	if msg == nil {
		return e.cfg.DefaultGasLimit, true
	}
	limit, err := e.provider.EstimateGasLimit(ctx, *msg)
	if err != nil || limit == 0 {
		e.logger.Debug("gas estimate unavailable, using default",
			zap.Uint64("default", e.cfg.DefaultGasLimit),
			zap.Error(err),
		)
		return e.cfg.DefaultGasLimit, true
	}
	return limit, false
}

// Quote prices every tier. An empty tier name means the selected tier.
func (e *Estimator) Quote(ctx context.Context, tier string, msg *ethereum.CallMsg) (Quote, error) {
	if tier == "" {
		tier = e.Selected()
	}
	if _, ok := e.tier(tier); !ok {
		return Quote{}, errs.Validation("quote", "unknown tier %q", tier)
	}

	fee, err := e.fresh(ctx)
	if err != nil {
		return Quote{}, err
	}

	limit, defaulted := e.GasLimit(ctx, msg)

	q := Quote{
		BaseFee:        fee,
		GasLimit:       limit,
		DefaultedLimit: defaulted,
		Selected:       tier,
		Tiers:          make([]TierQuote, 0, len(e.cfg.Tiers)),
	}
	gl := new(big.Int).SetUint64(limit)
	for _, t := range e.cfg.Tiers {
		price := PriceFor(fee.Wei, t.Multiplier)
		q.Tiers = append(q.Tiers, TierQuote{
			Tier:     t,
			GasPrice: price,
			Cost:     new(big.Int).Mul(price, gl),
		})
	}
	return q, nil
}

// PriceFor is base * percent / 100, truncated.
func PriceFor(base *big.Int, percent int64) *big.Int {
	p := new(big.Int).Mul(base, big.NewInt(percent))
	return p.Quo(p, big.NewInt(100))
}

// Annotated is a call message with the gas settings filled in.
type Annotated struct {
	Msg            ethereum.CallMsg
	Tier           string
	GasPrice       *big.Int
	GasLimit       uint64
	DefaultedLimit bool
}

// Annotate fills gas price and gas limit on a transaction about to be built.
func (e *Estimator) Annotate(ctx context.Context, msg ethereum.CallMsg, tier string) (Annotated, error) {
	q, err := e.Quote(ctx, tier, &msg)
	if err != nil {
		return Annotated{}, err
	}
	sel := q.Selection()

	msg.GasPrice = new(big.Int).Set(sel.GasPrice)
	msg.Gas = q.GasLimit
	return Annotated{
		Msg:            msg,
		Tier:           q.Selected,
		GasPrice:       sel.GasPrice,
		GasLimit:       q.GasLimit,
		DefaultedLimit: q.DefaultedLimit,
	}, nil
}

type GasEstimate struct {
	Limit     uint64
	Defaulted bool
}

// EstimateGasLimits estimates each message independently. A failed item gets the
// default limit without affecting the others.
func (e *Estimator) EstimateGasLimits(ctx context.Context, msgs []ethereum.CallMsg) []GasEstimate {
	out := make([]GasEstimate, len(msgs))

	var wg sync.WaitGroup
	for i := range msgs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			limit, defaulted := e.GasLimit(ctx, &msgs[i])
			out[i] = GasEstimate{Limit: limit, Defaulted: defaulted}
		}(i)
	}
	wg.Wait()
	return out
}

var defaultPriorityFee = big.NewInt(2 * params.GWei)

type DynamicFees struct {
	BaseFee        *big.Int
	MaxPriorityFee *big.Int
	MaxFee         *big.Int
}

// DynamicFees suggests EIP-1559 caps from the latest header: max fee is twice
// the base fee plus a 2 gwei tip. ok is false when the chain or the provider
// has no header base fee.
func (e *Estimator) DynamicFees(ctx context.Context) (fees DynamicFees, ok bool, err error) {
	src, isSource := e.provider.(chain.HeaderFeeSource)
	if !isSource {
		return DynamicFees{}, false, nil
	}
	base, err := src.HeaderBaseFee(ctx)
	if err != nil {
		return DynamicFees{}, false, errs.Provider("header base fee", err)
	}
	if base == nil {
		return DynamicFees{}, false, nil
	}

	maxFee := new(big.Int).Mul(base, big.NewInt(2))
	maxFee.Add(maxFee, defaultPriorityFee)
	return DynamicFees{
		BaseFee:        new(big.Int).Set(base),
		MaxPriorityFee: new(big.Int).Set(defaultPriorityFee),
		MaxFee:         maxFee,
	}, true, nil
}

// CongestionLevel classifies the base fee. A stale or missing sample is
// refreshed first; a stale one is still used if that refresh fails.
func (e *Estimator) CongestionLevel(ctx context.Context) Congestion {
	fee, err := e.fresh(ctx)
	if err != nil {
		cached, ok := e.Cached()
		if !ok {
			e.logger.Debug("congestion unknown", zap.Error(err))
			return CongestionUnknown
		}
		fee = cached
	}

	switch {
	case fee.Wei.Cmp(e.cfg.Low) < 0:
		return CongestionLow
	case fee.Wei.Cmp(e.cfg.High) < 0:
		return CongestionMedium
	default:
		return CongestionHigh
	}
}

// StartAutoRefresh refreshes the base fee every interval, replacing any task
// already running. Failed ticks are logged and the task keeps going.
func (e *Estimator) StartAutoRefresh(interval time.Duration) {
	e.refreshMu.Lock()
	defer e.refreshMu.Unlock()

	if e.refresher != nil {
		e.refresher.Stop()
	}

	tick := func(ctx context.Context) error {
		fee, err := e.RefreshBaseFee(ctx)
		if err != nil {
			return err
		}
		e.bus.Publish(bus.TopicBaseFeeUpdated, fee)
		return nil
	}
	onError := func(err error) {
		e.logger.Warn("base fee refresh failed", zap.Error(err))
	}

	e.refresher = periodic.Start(context.Background(), interval, tick, periodic.WithErrorHandler(onError))
	e.logger.Info("auto refresh started", zap.Duration("interval", interval))
}

func (e *Estimator) StopAutoRefresh() {
	e.refreshMu.Lock()
	defer e.refreshMu.Unlock()

	if e.refresher == nil {
		return
	}
	e.refresher.Stop()
	e.refresher = nil
}

// Saving is how much cheaper slow is than fast.
type Saving struct {
	Amount  *big.Int
	Percent float64 // of the fast cost, 0 when fast is 0
}

func Savings(slow, fast *big.Int) Saving {
	amount := new(big.Int).Sub(fast, slow)
	s := Saving{Amount: amount}
	if fast.Sign() != 0 {
		pct, _ := new(big.Rat).SetFrac(new(big.Int).Mul(amount, big.NewInt(100)), fast).Float64()
		s.Percent = pct
	}
	return s
}

// FiatCost converts a cost in wei to fiat at price per whole CELO.
func FiatCost(costWei *big.Int, price *big.Rat) *big.Rat {
	celo := new(big.Rat).SetFrac(costWei, big.NewInt(params.Ether))
	return celo.Mul(celo, price)
}

// BatchSaving compares sending transactions one by one with a single batch.
type BatchSaving struct {
	SingleTotal *big.Int
	BatchTotal  *big.Int
	Amount      *big.Int
	Percent     float64 // of SingleTotal, 0 when it is 0
}

func BatchSavings(single []*big.Int, batch *big.Int) BatchSaving {
	total := new(big.Int)
	for _, c := range single {
		total.Add(total, c)
	}
	amount := new(big.Int).Sub(total, batch)

	s := BatchSaving{SingleTotal: total, BatchTotal: new(big.Int).Set(batch), Amount: amount}
	if total.Sign() != 0 {
		pct, _ := new(big.Rat).SetFrac(new(big.Int).Mul(amount, big.NewInt(100)), total).Float64()
		s.Percent = pct
	}
	return s
}
