package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pvzzle/paytrack/internal/bus"
	"github.com/pvzzle/paytrack/internal/chain"
	"github.com/pvzzle/paytrack/internal/codec"
	"github.com/pvzzle/paytrack/internal/cron"
	"github.com/pvzzle/paytrack/internal/fees"
	"github.com/pvzzle/paytrack/internal/logging"
	"github.com/pvzzle/paytrack/internal/metrics"
	"github.com/pvzzle/paytrack/internal/storage"
	"github.com/pvzzle/paytrack/internal/storage/memory"
	"github.com/pvzzle/paytrack/internal/storage/pg"
	"github.com/pvzzle/paytrack/internal/subs"
	"github.com/pvzzle/paytrack/internal/tg"
	"github.com/pvzzle/paytrack/internal/tracker"
)

const shutdownTimeout = 5 * time.Second

func Run(ctx context.Context) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	storeCodec, err := codec.ByName(cfg.StoreCodec)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	ethCl, err := chain.Dial(ctx, cfg.EthRPCURL, cfg.ConnectTimeout, logger)
	if err != nil {
		return err
	}
	defer ethCl.Close()

	chainID, err := ethCl.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("chain id: %w", err)
	}

	provider := chain.NewEthProvider(ethCl, chain.EthConfig{
		ReceiptTimeout: cfg.ReceiptTimeout,
		ReceiptPoll:    cfg.ReceiptPoll,
		RPS:            cfg.RPCRPS,
	}, logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	events := bus.New(logger)

	tr := tracker.New(ctx, logger, provider, store, tracker.Config{
		MaxRecords:            cfg.MaxRecords,
		RequiredConfirmations: 1,
		ConfirmInterval:       cfg.ConfirmInterval,
		ConfirmTarget:         cfg.ConfirmTarget,
		ConfirmCeiling:        cfg.ConfirmCeiling,
	}, tracker.WithBus(events), tracker.WithCodec(storeCodec), tracker.WithMetrics(m))
	defer tr.Close()

	tiers := fees.DefaultTiers()
	if cfg.TiersFile != "" {
		if tiers, err = fees.LoadTiers(cfg.TiersFile); err != nil {
			return err
		}
	}

	est, err := fees.New(logger, provider, fees.Config{
		Tiers:       tiers,
		DefaultTier: cfg.DefaultTier,
		Freshness:   cfg.FeeFreshness,
	}, fees.WithBus(events), fees.WithMetrics(m))
	if err != nil {
		return err
	}
	est.StartAutoRefresh(cfg.FeeRefresh)
	defer est.StopAutoRefresh()

	runner, err := cron.NewRunner(logger, cron.NewRetention(logger, tr, cfg.RetentionSchedule, cfg.Retention))
	if err != nil {
		return err
	}
	runner.Start()
	defer runner.Stop()

	srv := startMetricsServer(cfg.MetricsAddr, reg, logger)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	subStore := subs.NewStore()
	notifyCh := make(chan bus.Notification, cfg.NotifyBuffer)
	unsubscribe := tg.Fanout(events, subStore, notifyCh, logger)
	defer unsubscribe()

	events.Subscribe(bus.TopicTierChanged, func(ev bus.Event) {
		if t, ok := ev.Payload.(fees.Tier); ok {
			logger.Info("default fee tier changed", zap.String("tier", t.Name))
		}
	})

	b, err := tgbot.New(cfg.TelegramToken,
		tgbot.WithWorkers(4),
		tgbot.WithNotAsyncHandlers(),
	)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}

	tgSvc := tg.NewService(b, logger, tg.Deps{
		Tracker:   tr,
		Estimator: est,
		TxSource:  ethCl,
		Subs:      subStore,
		Notify:    notifyCh,
		Explorer:  cfg.ExplorerURL,
	})
	go tgSvc.StartNotifyLoop(ctx)

	resumed := tr.Start()
	logger.Info("started",
		zap.String("chain_id", chainID.String()),
		zap.String("store", fmt.Sprint(store)),
		zap.String("codec", storeCodec.Name()),
		zap.Int("resumed", resumed),
	)

	b.Start(ctx)
	logger.Info("shutting down")
	return nil
}

// openStore picks Postgres when a DSN is configured and memory otherwise.
func openStore(ctx context.Context, cfg Config, logger *zap.Logger) (storage.Store, func(), error) {
	if cfg.PostgresURL == "" {
		logger.Warn("POSTGRES_URL is empty, records will not survive a restart")
		return memory.New(), func() {}, nil
	}

	pool, err := pg.Connect(ctx, cfg.PostgresURL, cfg.ConnectTimeout)
	if err != nil {
		return nil, nil, err
	}

	repo := pg.New(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}
	return repo, pool.Close, nil
}

func startMetricsServer(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("metrics server listening", zap.String("addr", addr))
	return srv
}
