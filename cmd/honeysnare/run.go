package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"honeysnare/internal/chain"
	"honeysnare/internal/config"
	"honeysnare/internal/decoder"
	"honeysnare/internal/indexer"
	"honeysnare/internal/metrics"
	"honeysnare/internal/storage"
	"honeysnare/internal/storage/postgres"
)

// pipeline is everything a poll command needs, built from one Config.
type pipeline struct {
	cfg      config.Config
	runner   *indexer.Runner
	registry *prometheus.Registry
	closers  []func()
}

func (p *pipeline) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
}

func runLoop(cmd *cobra.Command, _ []string) error {
	return runPoller(cmd, false)
}

func runOnce(cmd *cobra.Command, _ []string) error {
	return runPoller(cmd, true)
}

func runPoller(cmd *cobra.Command, once bool) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := buildPipeline(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return err
	}
	defer p.Close()

	if once {
		report := p.runner.RunOnce(ctx)
		for _, c := range report.Chains {
			logger.Info("chain result",
				zap.String("chain", c.Chain),
				zap.Bool("skipped", c.Skipped),
				zap.String("reason", c.Reason),
				zap.Int("fetched", c.Fetched),
				zap.Int("appended", c.Appended),
				zap.Int("dropped", c.Dropped),
				zap.Error(c.Err),
			)
		}
		return nil
	}

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsHandler(p.registry)}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
	}

	logger.Info("poller start",
		zap.Int("chains", len(cfg.Chains)),
		zap.Duration("interval", cfg.Interval),
		zap.String("current_file", cfg.CurrentFile),
		zap.Bool("cursor_enabled", cfg.CursorEnabled),
		zap.String("cursor_backend", cfg.CursorBackend),
	)
	return p.runner.Run(ctx)
}

func buildPipeline(ctx context.Context, cfg config.Config, logger *zap.Logger) (*pipeline, error) {
	targets, err := config.ResolveTargets(cfg.Chains, os.LookupEnv)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)
	p := &pipeline{cfg: cfg, registry: registry}

	logStore, err := storage.NewLogStore(storage.LogStoreConfig{
		CurrentPath: cfg.CurrentFile,
		ArchiveDir:  cfg.ArchiveDir,
		MaxBytes:    cfg.MaxBytes,
		MaxRecords:  cfg.MaxRecords,
	}, m, logger)
	if err != nil {
		return nil, err
	}

	var sink storage.Storage = logStore
	var pgStore *postgres.Store
	if cfg.PGDSN != "" {
		pgStore, err = postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		p.closers = append(p.closers, pgStore.Close)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			p.Close()
			return nil, err
		}
		sink = storage.NewMulti(logStore, []storage.Storage{pgStore}, m, logger)
	}

	var cursors indexer.CursorStore
	if cfg.CursorEnabled {
		switch cfg.CursorBackend {
		case config.CursorBackendPostgres:
			cursors = indexer.NewDBCursorStore(pgStore)
		default:
			cursors = indexer.NewFileCursorStore(cfg.CursorFile)
		}
	}

	dec, err := decoder.New(decoder.Config{
		Signatures: cfg.EventSignatures,
		Topic0Map:  cfg.Topic0Map,
	}, logger)
	if err != nil {
		p.Close()
		return nil, err
	}

	runTargets := make([]indexer.Target, 0, len(targets))
	for _, target := range targets {
		rt := indexer.Target{ChainTarget: target}
		if target.Active() {
			client, err := chain.NewClient(ctx, chain.Config{
				Chain:       target.Chain,
				Endpoint:    target.Endpoint,
				CallTimeout: cfg.CallTimeout,
			}, m, logger)
			if err != nil {
				p.Close()
				return nil, fmt.Errorf("connect rpc for %s: %w", target.Chain, err)
			}
			p.closers = append(p.closers, client.Close)
			rt.Client = client
		}
		runTargets = append(runTargets, rt)
	}

	runner, err := indexer.NewRunner(indexer.RunConfig{
		Interval:     cfg.Interval,
		Concurrency:  cfg.Concurrency,
		FromBlock:    cfg.FromBlock,
		BatchSize:    cfg.BatchSize,
		Topic0:       cfg.Topic0,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, runTargets, dec, sink, cursors, m, logger)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.runner = runner
	return p, nil
}

func metricsHandler(registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
