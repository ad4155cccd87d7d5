package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/pvzzle/paytrack/internal/codec"
	"github.com/pvzzle/paytrack/internal/storage"
	"github.com/pvzzle/paytrack/internal/storage/memory"
	"github.com/pvzzle/paytrack/internal/storage/pg"
	"github.com/pvzzle/paytrack/internal/tracker"
)

type opType int

const (
	opWrite opType = iota
	opRead
)

func main() {
	var (
		dsn       = flag.String("dsn", "", "Postgres DSN (empty = in-memory store)")
		codecName = flag.String("codec", "json", "record set codec: json|cbor")
		dur       = flag.Duration("dur", 60*time.Second, "test duration")
		warmup    = flag.Duration("warmup", 5*time.Second, "warmup duration (not counted)")
		avgRPS    = flag.Int("avg-rps", 300, "avg RPS")
		peakRPS   = flag.Int("peak-rps", 1500, "peak RPS (during ramp)")
		ramp      = flag.Duration("ramp", 10*time.Second, "ramp-up duration to peak")
		rwRatio   = flag.Int("rw", 15, "R/W ratio, reads per 1 write (e.g. 15)")
		workers   = flag.Int("workers", 64, "concurrent workers")
		keys      = flag.Int("keys", 1000, "distinct keys (one per simulated tenant)")
		records   = flag.Int("records", 100, "records per saved set")
	)
	flag.Parse()

	c, err := codec.ByName(*codecName)
	if err != nil {
		fail(err)
	}

	ctx := context.Background()

	var store storage.Store = memory.New()
	if *dsn != "" {
		pool, err := pg.Connect(ctx, *dsn, 30*time.Second)
		if err != nil {
			fail(err)
		}
		defer pool.Close()

		repo := pg.New(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			fail(err)
		}
		store = repo
	}

	payload, err := c.Marshal(fakeRecords(rand.New(rand.NewSource(1)), *records))
	if err != nil {
		fail(err)
	}
	fmt.Printf("store=%v codec=%s payload=%d bytes\n", store, c.Name(), len(payload))

	w := workload{store: store, codec: c, payload: payload, keys: *keys}

	fmt.Println("starting warmup:", *warmup)
	w.runPhase(ctx, *workers, *avgRPS, *avgRPS, 0, *warmup, *rwRatio, false)

	fmt.Println("starting measured test:", *dur)
	res := w.runPhase(ctx, *workers, *avgRPS, *peakRPS, *ramp, *dur, *rwRatio, true)

	printReport(res)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "loadtest:", err)
	os.Exit(1)
}

type workload struct {
	store   storage.Store
	codec   codec.Codec
	payload []byte
	keys    int
}

type results struct {
	totalOps   uint64
	readOps    uint64
	writeOps   uint64
	errOps     uint64
	latencies  []time.Duration // measured ops only
	startedAt  time.Time
	finishedAt time.Time
}

func (w workload) runPhase(
	ctx context.Context,
	workers int,
	avgRPS int,
	peakRPS int,
	ramp time.Duration,
	dur time.Duration,
	rw int,
	collect bool,
) *results {
	ctx, cancel := context.WithTimeout(ctx, dur)
	defer cancel()

	// ramp == 0 => constant avgRPS
	lim := rate.NewLimiter(rate.Limit(avgRPS), avgRPS)

	jobs := make(chan opType, 1024)

	var (
		res = &results{startedAt: time.Now()}
		mu  sync.Mutex
		wg  sync.WaitGroup
	)

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			for op := range jobs {
				t0 := time.Now()
				err := w.do(ctx, op, r)
				dt := time.Since(t0)

				atomic.AddUint64(&res.totalOps, 1)
				if op == opRead {
					atomic.AddUint64(&res.readOps, 1)
				} else {
					atomic.AddUint64(&res.writeOps, 1)
				}
				if err != nil {
					atomic.AddUint64(&res.errOps, 1)
					continue
				}
				if collect {
					mu.Lock()
					res.latencies = append(res.latencies, dt)
					mu.Unlock()
				}
			}
		}(time.Now().UnixNano() + int64(i))
	}

	go func() {
		defer close(jobs)

		// rw reads then 1 write
		pattern := make([]opType, 0, rw+1)
		for i := 0; i < rw; i++ {
			pattern = append(pattern, opRead)
		}
		pattern = append(pattern, opWrite)
		idx := 0

		rampStart := time.Now()

		for {
			if err := lim.Wait(ctx); err != nil {
				return
			}

			if ramp > 0 {
				el := time.Since(rampStart)
				if el < ramp {
					cur := float64(avgRPS) + (float64(peakRPS-avgRPS) * (float64(el) / float64(ramp)))
					lim.SetLimit(rate.Limit(cur))
				} else {
					lim.SetLimit(rate.Limit(peakRPS))
				}
			}

			jobs <- pattern[idx]
			idx = (idx + 1) % len(pattern)
		}
	}()

	wg.Wait()
	res.finishedAt = time.Now()
	return res
}

// do reads or writes one record set; reads decode it like the tracker does on startup.
func (w workload) do(ctx context.Context, op opType, r *rand.Rand) error {
	key := fmt.Sprintf("%s:%d", storage.KeyTransactions, r.Intn(w.keys))
	switch op {
	case opRead:
		b, found, err := w.store.Load(ctx, key)
		if err != nil || !found {
			return err
		}
		var out []tracker.Record
		return w.codec.Unmarshal(b, &out)
	case opWrite:
		return w.store.Save(ctx, key, w.payload)
	default:
		return nil
	}
}

func fakeRecords(r *rand.Rand, n int) []tracker.Record {
	out := make([]tracker.Record, 0, n)
	now := time.Now().UTC()
	for i := 0; i < n; i++ {
		bn := uint64(r.Intn(30_000_000))
		gas := uint64(21000)
		out = append(out, tracker.Record{
			Hash:          fmt.Sprintf("0x%064x", r.Uint64()),
			From:          fmt.Sprintf("0x%040x", r.Uint64()),
			To:            fmt.Sprintf("0x%040x", r.Uint64()),
			Value:         new(big.Int).Mul(big.NewInt(int64(r.Intn(100)+1)), big.NewInt(1e16)),
			SubmittedAt:   now.Add(-time.Duration(i) * time.Minute),
			State:         tracker.StateConfirmed,
			Confirmations: 12,
			GasUsed:       &gas,
			GasPrice:      big.NewInt(5_000_000_000),
			BlockNumber:   &bn,
			Category:      tracker.DefaultCategory,
		})
	}
	return out
}

func printReport(res *results) {
	d := res.finishedAt.Sub(res.startedAt)
	total := atomic.LoadUint64(&res.totalOps)
	errs := atomic.LoadUint64(&res.errOps)
	reads := atomic.LoadUint64(&res.readOps)
	writes := atomic.LoadUint64(&res.writeOps)

	fmt.Printf("\n== REPORT ==\n")
	fmt.Printf("duration: %s\n", d)
	fmt.Printf("ops: total=%d read=%d write=%d errors=%d\n", total, reads, writes, errs)
	if d > 0 {
		fmt.Printf("throughput: %.2f ops/s\n", float64(total)/d.Seconds())
	}
	if len(res.latencies) == 0 {
		fmt.Println("no latency samples")
		return
	}
	sort.Slice(res.latencies, func(i, j int) bool { return res.latencies[i] < res.latencies[j] })
	p := func(q float64) time.Duration {
		return res.latencies[int(q*float64(len(res.latencies)-1))]
	}
	fmt.Printf("latency p50=%s p95=%s p99=%s max=%s\n",
		p(0.50), p(0.95), p(0.99), res.latencies[len(res.latencies)-1],
	)
}
