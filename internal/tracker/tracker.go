package tracker

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/pvzzle/paytrack/internal/bus"
	"github.com/pvzzle/paytrack/internal/chain"
	"github.com/pvzzle/paytrack/internal/codec"
	"github.com/pvzzle/paytrack/internal/errs"
	"github.com/pvzzle/paytrack/internal/ethtx"
	"github.com/pvzzle/paytrack/internal/logging"
	"github.com/pvzzle/paytrack/internal/metrics"
	"github.com/pvzzle/paytrack/internal/periodic"
	"github.com/pvzzle/paytrack/internal/storage"
)

var ErrClosed = errors.New("tracker is closed")

const persistTimeout = 5 * time.Second

type Config struct {
	MaxRecords            int
	RequiredConfirmations uint64
	ConfirmInterval       time.Duration
	ConfirmTarget         uint64
	ConfirmCeiling        time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxRecords:            100,
		RequiredConfirmations: 1,
		ConfirmInterval:       3 * time.Second,
		ConfirmTarget:         12,
		ConfirmCeiling:        5 * time.Minute,
	}
}

type Option func(*Tracker)

func WithBus(b *bus.Bus) Option { return func(t *Tracker) { t.bus = b } }

func WithCodec(c codec.Codec) Option { return func(t *Tracker) { t.codec = c } }

func WithMetrics(m *metrics.Metrics) Option { return func(t *Tracker) { t.metrics = m } }

func WithClock(now func() time.Time) Option { return func(t *Tracker) { t.now = now } }

// Tracker owns the record set and one monitoring goroutine per in-flight
// transaction. Records are kept most-recent-first.
type Tracker struct {
	logger   *zap.Logger
	provider chain.Provider
	store    storage.Store
	codec    codec.Codec
	bus      *bus.Bus
	metrics  *metrics.Metrics
	cfg      Config
	now      func() time.Time

	mu       sync.RWMutex
	records  []*Record
	index    map[string]*Record
	watching map[string]*watch
	closed   bool

	// serializes writes so the last save always carries the latest state
	persistMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a tracker and loads any previously persisted records. A load
// failure is logged and the tracker starts empty.
func New(ctx context.Context, logger *zap.Logger, provider chain.Provider, store storage.Store, cfg Config, opts ...Option) *Tracker {
	def := DefaultConfig()
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = def.MaxRecords
	}
	if cfg.RequiredConfirmations == 0 {
		cfg.RequiredConfirmations = def.RequiredConfirmations
	}
	if cfg.ConfirmInterval <= 0 {
		cfg.ConfirmInterval = def.ConfirmInterval
	}
	if cfg.ConfirmTarget == 0 {
		cfg.ConfirmTarget = def.ConfirmTarget
	}
	if cfg.ConfirmCeiling <= 0 {
		cfg.ConfirmCeiling = def.ConfirmCeiling
	}

	t := &Tracker{
		logger:   logging.WithPackage(logger),
		provider: provider,
		store:    store,
		codec:    codec.JSON{},
		cfg:      cfg,
		now:      time.Now,
		index:    make(map[string]*Record),
		watching: make(map[string]*watch),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.metrics == nil {
		t.metrics = metrics.NewNop()
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())

	t.load(ctx)
	return t
}

// Start resumes monitoring for records that were loaded mid-flight: pending
// ones wait for their receipt again, shallow confirmed ones resume depth polling.
// It returns how many goroutines were started.
func (t *Tracker) Start() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0
	}

	started := 0
	for _, r := range t.records {
		if w, busy := t.watching[r.Hash]; busy && w.rec == r {
			continue
		}
		switch {
		case r.State == StatePending:
			t.spawnLocked(r, true)
		case r.State == StateConfirmed && r.Confirmations < t.cfg.ConfirmTarget:
			t.spawnLocked(r, false)
		default:
			continue
		}
		started++
	}
	return started
}

// Close stops depth polling, abandons receipt waits and waits for every
// monitoring goroutine to exit. Interrupted records stay as they were.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	t.wg.Wait()
}

func validate(desc Descriptor) error {
	const op = "record transaction"
	switch {
	case strings.TrimSpace(desc.Hash) == "":
		return errs.Validation(op, "hash is required")
	case strings.TrimSpace(desc.From) == "":
		return errs.Validation(op, "sender is required")
	case strings.TrimSpace(desc.To) == "":
		return errs.Validation(op, "recipient is required")
	case desc.Value == nil:
		return errs.Validation(op, "value is required")
	case desc.Value.Sign() < 0:
		return errs.Validation(op, "value must not be negative")
	}
	return nil
}

// Record inserts a pending record, persists the set and starts monitoring it.
func (t *Tracker) Record(desc Descriptor) (Record, error) {
	if err := validate(desc); err != nil {
		return Record{}, err
	}

	category := desc.Category
	if category == "" {
		category = DefaultCategory
	}
	rec := &Record{
		Hash:        desc.Hash,
		From:        desc.From,
		To:          desc.To,
		Value:       new(big.Int).Set(desc.Value),
		Memo:        desc.Memo,
		SubmittedAt: t.now(),
		State:       StatePending,
		Category:    category,
	}
	if desc.GasPrice != nil {
		rec.GasPrice = new(big.Int).Set(desc.GasPrice)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return Record{}, ErrClosed
	}
	if _, dup := t.index[rec.Hash]; dup {
		t.mu.Unlock()
		return Record{}, errs.Validation("record transaction", "hash %s is already tracked", rec.Hash)
	}

	t.records = append([]*Record{rec}, t.records...)
	t.index[rec.Hash] = rec
	evicted := t.evictLocked()
	out := rec.clone()
	t.spawnLocked(rec, true)
	t.mu.Unlock()

	for _, h := range evicted {
		t.logger.Debug("evicted oldest record", zap.String("hash", h))
	}

	t.metrics.TxRecorded.Inc()
	t.persist()
	return out, nil
}

// Submit broadcasts a signed transaction through the provider and records it.
func (t *Tracker) Submit(ctx context.Context, tx *types.Transaction, memo, category string) (Record, error) {
	info, err := ethtx.Describe(tx)
	if err != nil {
		return Record{}, errs.Validation("submit transaction", "%v", err)
	}

	hash, err := t.provider.Submit(ctx, tx)
	if err != nil {
		return Record{}, errs.Provider("submit transaction", err)
	}

	return t.Record(Descriptor{
		Hash:     hash.Hex(),
		From:     info.From.Hex(),
		To:       info.To.Hex(),
		Value:    info.Value,
		Memo:     memo,
		GasPrice: info.GasPrice,
		Category: category,
	})
}

func (t *Tracker) evictLocked() []string {
	if len(t.records) <= t.cfg.MaxRecords {
		return nil
	}
	var evicted []string
	for _, r := range t.records[t.cfg.MaxRecords:] {
		delete(t.index, r.Hash)
		evicted = append(evicted, r.Hash)
	}
	t.records = t.records[:t.cfg.MaxRecords:t.cfg.MaxRecords]
	return evicted
}

// watch ties a monitoring goroutine to the record instance it was started
// for. A hash that is evicted or cleared and then recorded again gets a new
// instance, so the old goroutine can no longer touch it.
type watch struct {
	hash string
	rec  *Record
}

func (t *Tracker) spawnLocked(rec *Record, fromReceipt bool) {
	w := &watch{hash: rec.Hash, rec: rec}
	t.watching[rec.Hash] = w
	t.wg.Add(1)
	go t.run(w, fromReceipt)
}

func (t *Tracker) run(w *watch, fromReceipt bool) {
	defer t.wg.Done()
	defer func() {
		t.mu.Lock()
		if t.watching[w.hash] == w {
			delete(t.watching, w.hash)
		}
		t.mu.Unlock()
	}()

	t.metrics.TxInflight.Inc()
	defer t.metrics.TxInflight.Dec()

	if fromReceipt && !t.monitor(w) {
		return
	}
	t.trackConfirmations(w)
}

// monitor waits for the first confirmation. It reports whether the record
// ended up confirmed; any provider failure is terminal for the record.
func (t *Tracker) monitor(w *watch) bool {
	hash := w.hash
	receipt, err := t.provider.WaitForReceipt(t.ctx, common.HexToHash(hash), t.cfg.RequiredConfirmations)
	if err != nil {
		if t.ctx.Err() != nil {
			// shutting down, the record stays pending for the next Start
			return false
		}
		t.logger.Warn("waiting for receipt failed",
			zap.String("hash", hash),
			zap.Error(errs.Provider("wait for receipt", err)),
		)
		t.update(w, func(r *Record) bool {
			if r.State != StatePending {
				return false
			}
			r.State = StateFailed
			t.metrics.TxTransitions.WithLabelValues(string(StateFailed)).Inc()
			return true
		})
		return false
	}

	state := StateFailed
	if receipt.Success {
		state = StateConfirmed
	}

	_, _, changed := t.update(w, func(r *Record) bool {
		if r.State != StatePending {
			return false
		}
		bn, gas := receipt.BlockNumber, receipt.GasUsed
		r.State = state
		r.BlockNumber = &bn
		r.GasUsed = &gas
		r.Confirmations = 1
		t.metrics.TxTransitions.WithLabelValues(string(state)).Inc()
		return true
	})
	if !changed {
		return false
	}

	t.logger.Info("transaction mined",
		zap.String("hash", hash),
		zap.String("state", string(state)),
		zap.Uint64("block", receipt.BlockNumber),
		zap.Uint64("gas_used", receipt.GasUsed),
	)
	return state == StateConfirmed
}

// trackConfirmations polls depth until the target, the ceiling, or the first
// provider hiccup. None of those change the record's state.
func (t *Tracker) trackConfirmations(w *watch) {
	hash := w.hash
	h := common.HexToHash(hash)

	poll := func(ctx context.Context) error {
		t.metrics.ConfirmationPolls.Inc()

		receipt, err := t.provider.Receipt(ctx, h)
		if errors.Is(err, context.DeadlineExceeded) {
			// ceiling reached while throttled
			return periodic.ErrStop
		}
		if errors.Is(err, chain.ErrReceiptNotFound) {
			t.logger.Info("receipt disappeared, stopping confirmation polling", zap.String("hash", hash))
			return periodic.ErrStop
		}
		if err != nil {
			t.logger.Debug("confirmation poll failed", zap.String("hash", hash), zap.Error(errs.Provider("receipt", err)))
			return periodic.ErrStop
		}

		height, err := t.provider.BlockHeight(ctx)
		if err != nil {
			t.logger.Debug("confirmation poll failed", zap.String("hash", hash), zap.Error(errs.Provider("block height", err)))
			return periodic.ErrStop
		}

		var depth uint64
		if height > receipt.BlockNumber {
			depth = height - receipt.BlockNumber
		}

		rec, live, _ := t.update(w, func(r *Record) bool {
			if r.State != StateConfirmed || depth <= r.Confirmations {
				return false
			}
			r.Confirmations = depth
			return true
		})
		if !live || rec.State != StateConfirmed || rec.Confirmations >= t.cfg.ConfirmTarget {
			return periodic.ErrStop
		}
		return nil
	}

	task := periodic.Start(t.ctx, t.cfg.ConfirmInterval, poll, periodic.WithCeiling(t.cfg.ConfirmCeiling))
	<-task.Done()
}

// update applies fn to the record owned by w under lock. When fn reports a
// change the set is persisted and transaction.updated is published. live is
// false once the record is gone or was replaced by a newer instance.
func (t *Tracker) update(w *watch, fn func(r *Record) bool) (rec Record, live, changed bool) {
	t.mu.Lock()
	r, found := t.index[w.hash]
	if !found || r != w.rec {
		t.mu.Unlock()
		return Record{}, false, false
	}
	changed = fn(r)
	rec = r.clone()
	t.mu.Unlock()

	if changed {
		t.persist()
		t.bus.Publish(bus.TopicTransactionUpdated, rec)
	}
	return rec, true, changed
}

func (t *Tracker) persist() {
	t.persistMu.Lock()
	defer t.persistMu.Unlock()

	snapshot := t.All()

	b, err := t.codec.Marshal(snapshot)
	if err != nil {
		t.persistFailed(fmt.Errorf("encode %s: %w", t.codec.Name(), err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := t.store.Save(ctx, storage.KeyTransactions, b); err != nil {
		t.persistFailed(err)
	}
}

func (t *Tracker) persistFailed(err error) {
	t.metrics.PersistFailures.Inc()
	t.logger.Error("persisting records failed", zap.Error(errs.Persistence("save", storage.KeyTransactions, err)))
}

func (t *Tracker) load(ctx context.Context) {
	b, found, err := t.store.Load(ctx, storage.KeyTransactions)
	if err != nil {
		t.logger.Error("loading records failed", zap.Error(errs.Persistence("load", storage.KeyTransactions, err)))
		return
	}
	if !found {
		return
	}

	var stored []Record
	if err := t.codec.Unmarshal(b, &stored); err != nil {
		t.logger.Error("decoding records failed", zap.Error(errs.Persistence("load", storage.KeyTransactions, err)))
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range stored {
		r := stored[i]
		if r.Hash == "" || r.Value == nil {
			continue
		}
		if _, dup := t.index[r.Hash]; dup {
			continue
		}
		t.records = append(t.records, &r)
		t.index[r.Hash] = &r
	}
	t.evictLocked()

	t.logger.Info("loaded records", zap.Int("count", len(t.records)))
}

func (t *Tracker) collect(limit int, keep func(*Record) bool) []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Record, 0, len(t.records))
	for _, r := range t.records {
		if limit >= 0 && len(out) == limit {
			break
		}
		if keep == nil || keep(r) {
			out = append(out, r.clone())
		}
	}
	return out
}

// All returns copies of every record, most recent first.
func (t *Tracker) All() []Record {
	return t.collect(-1, nil)
}

func (t *Tracker) Recent(n int) []Record {
	if n < 0 {
		n = 0
	}
	return t.collect(n, nil)
}

func (t *Tracker) ByHash(hash string) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	r, ok := t.index[hash]
	if !ok {
		return Record{}, false
	}
	return r.clone(), true
}

func (t *Tracker) ByState(state State) []Record {
	return t.collect(-1, func(r *Record) bool { return r.State == state })
}

// ByParty returns records sent from or to addr, compared case-insensitively.
func (t *Tracker) ByParty(addr string) []Record {
	return t.collect(-1, func(r *Record) bool {
		return strings.EqualFold(r.From, addr) || strings.EqualFold(r.To, addr)
	})
}

func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st := Stats{Total: len(t.records), TotalValue: new(big.Int)}
	for _, r := range t.records {
		switch r.State {
		case StatePending:
			st.Pending++
		case StateConfirmed:
			st.Confirmed++
			st.TotalValue.Add(st.TotalValue, r.Value)
		case StateFailed:
			st.Failed++
		}
		if r.GasUsed != nil {
			st.TotalGasUsed += *r.GasUsed
		}
	}
	if st.Total > 0 {
		st.SuccessRate = float64(st.Confirmed) / float64(st.Total)
	}
	return st
}

// PurgeOlderThan drops records submitted before now-age and returns how many went.
func (t *Tracker) PurgeOlderThan(age time.Duration) int {
	cutoff := t.now().Add(-age)

	t.mu.Lock()
	kept := t.records[:0:0]
	removed := 0
	for _, r := range t.records {
		if r.SubmittedAt.After(cutoff) {
			kept = append(kept, r)
			continue
		}
		delete(t.index, r.Hash)
		removed++
	}
	t.records = kept
	t.mu.Unlock()

	t.persist()
	return removed
}

// Clear drops every record. Running monitors find nothing left to update and exit.
func (t *Tracker) Clear() {
	t.mu.Lock()
	t.records = nil
	t.index = make(map[string]*Record)
	t.mu.Unlock()

	t.persist()
}

func (t *Tracker) ExportDelimited() string {
	return ExportDelimited(t.All(), time.Local)
}
