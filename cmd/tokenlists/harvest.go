package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Mugen-Finance/token-lists/internal/chain"
	"github.com/Mugen-Finance/token-lists/internal/config"
	"github.com/Mugen-Finance/token-lists/internal/dex"
	"github.com/Mugen-Finance/token-lists/internal/indexer"
	"github.com/Mugen-Finance/token-lists/internal/metrics"
	"github.com/Mugen-Finance/token-lists/internal/model"
	"github.com/Mugen-Finance/token-lists/internal/registry"
	"github.com/Mugen-Finance/token-lists/internal/retry"
	"github.com/Mugen-Finance/token-lists/internal/storage"
	"github.com/Mugen-Finance/token-lists/internal/storage/postgres"
)

func runHarvest(opts indexer.Options) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}

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

		table, err := cfg.LayoutTable()
		if err != nil {
			return err
		}
		targets, err := cfg.ResolveTargets(table)
		if err != nil {
			return err
		}

		var extraTokens []string
		if cmd.Flags().Lookup("address") != nil {
			extraTokens, _ = cmd.Flags().GetStringSlice("address")
		}
		extra, err := indexer.ParseAddresses(extraTokens)
		if err != nil {
			return fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var mirror *postgres.Store
		if cfg.PGDSN != "" {
			mirror, err = postgres.NewStore(ctx, cfg.PGDSN)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer mirror.Close()
			if err := mirror.Migrate(ctx); err != nil {
				return err
			}
		}

		h := &harvester{
			cfg:     cfg,
			opts:    opts,
			extra:   extra,
			mirror:  mirror,
			limiter: newLimiter(cfg.RPCRate),
			clients: make(map[string]*chain.Client),
			logger:  logger,
		}
		defer h.close()

		runErr := runTargets(ctx, logger, targets, h.run)
		if err := metrics.WriteTextfile(cfg.MetricsFile); err != nil {
			return errors.Join(runErr, err)
		}
		return runErr
	}
}

// runTargets runs every target in order. A failed target is logged and the
// rest still run; persistence failures and cancellation stop the loop. All
// target errors are returned joined.
func runTargets(ctx context.Context, logger *zap.Logger, targets []config.Target, run func(context.Context, config.Target) error) error {
	var errs []error
	for _, target := range targets {
		err := run(ctx, target)
		if err == nil {
			continue
		}
		err = fmt.Errorf("%s/%s: %w", target.Network, target.Layout.Protocol, err)
		errs = append(errs, err)
		if isFatal(ctx, err) {
			break
		}
		logger.Error("target failed, continuing with the next one",
			zap.String("network", target.Network),
			zap.String("protocol", target.Layout.Protocol),
			zap.Error(err),
		)
	}
	return errors.Join(errs...)
}

func isFatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, registry.ErrPersistence) ||
		errors.Is(err, storage.ErrPersistence)
}

type harvester struct {
	cfg     config.Config
	opts    indexer.Options
	extra   []common.Address
	mirror  *postgres.Store
	limiter *rate.Limiter
	clients map[string]*chain.Client
	logger  *zap.Logger
}

func (h *harvester) run(ctx context.Context, target config.Target) error {
	client, err := h.client(ctx, target.RPCURL)
	if err != nil {
		return err
	}
	chainID, err := client.GetChainID(ctx)
	if err != nil {
		return fmt.Errorf("get chain id: %w", err)
	}
	if !chainID.IsUint64() {
		return fmt.Errorf("chain id does not fit in uint64: %s", chainID)
	}

	policy := retry.Policy{MaxRetries: h.cfg.MaxRetries, Backoff: h.cfg.RetryBackoff}
	source := indexer.NewLogSource(indexer.SourceConfig{BatchSize: h.cfg.BatchSize, Retry: policy}, client, h.logger)
	runner := indexer.NewRunner(source, chainID.Uint64(), h.logger).
		WithErrorSink(storage.NewJsonlStorage(target.ErrorsPath))
	if h.mirror != nil {
		runner.WithMirror(h.mirror)
	}

	run := indexer.Target{
		Network:        target.Network,
		Factory:        target.Factory,
		Layout:         target.Layout,
		FromBlock:      target.FromBlock,
		ToBlock:        target.ToBlock,
		PairsPath:      target.PairsPath,
		CheckpointPath: target.CheckpointPath,
		ExtraTokens:    h.extra,
	}
	if !h.opts.WritePairs {
		// without a pair artifact a checkpoint would hide pairs from later runs
		run.CheckpointPath = ""
	}

	if h.opts.UpdateRegistry {
		store := &registry.FileStore{Path: target.RegistryPath, Logger: h.logger}
		raw, reg, err := store.Load()
		if err != nil {
			return err
		}
		reader := dex.NewMetadataReader(client, h.limiter, h.logger)
		reconciler := registry.NewReconciler(reg, reader, registry.ReconcileConfig{
			Workers:           h.cfg.Workers,
			Retry:             policy,
			LegacyText:        raw,
			LegacyContainment: h.cfg.LegacyContainment,
		}, h.logger)
		runner.WithRegistry(reconciler, store)
	}

	h.logger.Info("harvest start",
		zap.String("network", target.Network),
		zap.String("rpc", chain.RedactURL(target.RPCURL)),
		zap.Uint64("chain_id", chainID.Uint64()),
		zap.String("protocol", target.Layout.Protocol),
		zap.String("factory", model.CanonicalAddress(target.Factory)),
		zap.Uint64("from", target.FromBlock),
		zap.Uint64("to", target.ToBlock),
		zap.Bool("write_pairs", h.opts.WritePairs),
		zap.Bool("update_registry", h.opts.UpdateRegistry),
	)

	report, err := runner.Run(ctx, run, h.opts)
	if err != nil {
		return err
	}
	logReport(h.logger, report)
	return nil
}

func (h *harvester) client(ctx context.Context, rpcURL string) (*chain.Client, error) {
	if client, ok := h.clients[rpcURL]; ok {
		return client, nil
	}
	client, err := chain.NewClient(ctx, rpcURL, h.cfg.RPCTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect rpc: %w", err)
	}
	h.clients[rpcURL] = client
	return client, nil
}

func (h *harvester) close() {
	for _, client := range h.clients {
		client.Close()
	}
}

func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

func logReport(logger *zap.Logger, report indexer.Report) {
	failed := make([]string, 0, len(report.Failed))
	for _, f := range report.Failed {
		failed = append(failed, model.CanonicalAddress(f.Address))
	}

	fields := []zap.Field{
		zap.String("network", report.Network),
		zap.String("protocol", report.Protocol),
		zap.Uint64("from", report.FromBlock),
		zap.Uint64("to", report.ToBlock),
		zap.Int("logs", report.Logs),
		zap.Int("pairs", report.Pairs),
		zap.Int("malformed", report.Malformed),
		zap.Int("tokens_scheduled", report.Scheduled),
		zap.Int("tokens_added", report.Added),
		zap.Strings("tokens_failed", failed),
	}
	if report.Partial() {
		logger.Warn("harvest finished with skipped entries", fields...)
		return
	}
	logger.Info("harvest complete", fields...)
}
