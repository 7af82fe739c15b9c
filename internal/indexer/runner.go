package indexer

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Mugen-Finance/token-lists/internal/dex"
	"github.com/Mugen-Finance/token-lists/internal/metrics"
	"github.com/Mugen-Finance/token-lists/internal/model"
	"github.com/Mugen-Finance/token-lists/internal/registry"
	"github.com/Mugen-Finance/token-lists/internal/storage"
)

// Target is one factory on one network.
type Target struct {
	Network   string
	Factory   common.Address
	Layout    dex.Layout
	FromBlock uint64
	ToBlock   uint64
	// PairsPath is the pair artifact. Existing pairs in it are merged with
	// newly decoded ones before reconciliation.
	PairsPath string
	// CheckpointPath is empty when the run should not resume or record progress.
	CheckpointPath string
	// ExtraTokens are reconciled after the pair tokens.
	ExtraTokens []common.Address
}

// Options selects the phases of a run.
type Options struct {
	WritePairs     bool
	UpdateRegistry bool
}

// RegistryStore persists the registry after reconciliation.
type RegistryStore interface {
	Persist(reg *registry.Registry) error
}

// Mirror receives pairs and new tokens after they are persisted locally.
type Mirror interface {
	UpsertPairs(ctx context.Context, chainID uint64, network, protocol string, pairs []model.PairRecord) error
	UpsertTokens(ctx context.Context, chainID uint64, network string, tokens []model.TokenMetadata) error
	SaveState(ctx context.Context, name string, block uint64) error
}

// Report summarises a target run.
type Report struct {
	Network   string
	Protocol  string
	FromBlock uint64
	ToBlock   uint64
	Logs      int
	Pairs     int
	Malformed int
	Scheduled int
	Added     int
	Failed    []registry.FailedToken
}

// Partial reports whether anything was skipped.
func (r Report) Partial() bool {
	return r.Malformed > 0 || len(r.Failed) > 0
}

// Runner harvests factory logs, decodes them and reconciles the registry.
type Runner struct {
	source     *LogSource
	chainID    uint64
	reconciler *registry.Reconciler
	store      RegistryStore
	errors     storage.ErrorSink
	mirror     Mirror
	logger     *zap.Logger
}

// NewRunner builds a Runner with its dependencies.
func NewRunner(source *LogSource, chainID uint64, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{source: source, chainID: chainID, logger: logger}
}

// WithRegistry enables the reconcile phase.
func (r *Runner) WithRegistry(reconciler *registry.Reconciler, store RegistryStore) *Runner {
	r.reconciler = reconciler
	r.store = store
	return r
}

// WithErrorSink records malformed logs.
func (r *Runner) WithErrorSink(sink storage.ErrorSink) *Runner {
	r.errors = sink
	return r
}

// WithMirror copies results to a secondary store.
func (r *Runner) WithMirror(mirror Mirror) *Runner {
	r.mirror = mirror
	return r
}

// Run executes one target. Malformed logs and failed token reads are
// reported, not returned; fetch and persistence failures abort the target.
func (r *Runner) Run(ctx context.Context, target Target, opts Options) (Report, error) {
	report := Report{Network: target.Network, Protocol: target.Layout.Protocol}
	if r.source == nil {
		return report, fmt.Errorf("log source is nil")
	}
	if opts.UpdateRegistry && (r.reconciler == nil || r.store == nil) {
		return report, fmt.Errorf("registry update requested without a registry")
	}

	decoder, err := dex.NewDecoder(target.Layout)
	if err != nil {
		return report, err
	}
	labels := []string{target.Network, target.Layout.Protocol}
	factory := model.CanonicalAddress(target.Factory)
	checkpoint := NewCheckpointStore(target.CheckpointPath)

	from := target.FromBlock
	cp, ok, err := checkpoint.Load()
	if err != nil {
		return report, err
	}
	if ok && !cp.Covers(factory, target.PairsPath) {
		r.logger.Warn("ignore checkpoint from another factory or artifact",
			zap.String("checkpoint_factory", cp.Factory),
			zap.String("checkpoint_artifact", cp.Artifact),
			zap.String("artifact", target.PairsPath),
		)
		ok = false
	}
	if ok && cp.LastProcessedBlock >= from {
		from = cp.LastProcessedBlock + 1
		r.logger.Info("resume from checkpoint",
			zap.String("protocol", target.Layout.Protocol),
			zap.Uint64("last_processed", cp.LastProcessedBlock),
			zap.Uint64("from", from),
		)
	}

	filter, err := r.source.Resolve(ctx, Filter{
		Address:   target.Factory,
		Topic0:    decoder.Topic0(),
		FromBlock: from,
		ToBlock:   target.ToBlock,
	})
	if err != nil {
		return report, err
	}
	report.FromBlock = filter.FromBlock
	report.ToBlock = filter.ToBlock

	var pairs []model.PairRecord
	if filter.FromBlock <= filter.ToBlock {
		r.logger.Info("fetch factory logs",
			zap.String("network", target.Network),
			zap.String("protocol", target.Layout.Protocol),
			zap.String("factory", factory),
			zap.Uint64("from", filter.FromBlock),
			zap.Uint64("to", filter.ToBlock),
		)

		logs, err := r.source.GetLogs(ctx, filter)
		if err != nil {
			return report, err
		}
		report.Logs = len(logs)
		metrics.LogsFetched.WithLabelValues(labels...).Add(float64(len(logs)))

		pairs, err = r.decode(target, decoder, logs, &report)
		if err != nil {
			return report, err
		}
		metrics.PairsDecoded.WithLabelValues(labels...).Add(float64(len(pairs)))
	} else {
		r.logger.Info("nothing to fetch", zap.Uint64("from", filter.FromBlock), zap.Uint64("to", filter.ToBlock))
	}

	existing, err := storage.LoadPairs(target.PairsPath)
	if err != nil {
		return report, err
	}
	merged := storage.MergePairs(existing, pairs)

	if opts.WritePairs {
		if err := storage.WritePairs(target.PairsPath, merged); err != nil {
			return report, err
		}
		r.logger.Info("pairs written", zap.String("path", target.PairsPath), zap.Int("pairs", len(merged)))
		if r.mirror != nil {
			if err := r.mirror.UpsertPairs(ctx, r.chainID, target.Network, target.Layout.Protocol, pairs); err != nil {
				return report, fmt.Errorf("mirror pairs: %w", err)
			}
		}
	}

	if opts.UpdateRegistry {
		if err := r.reconcile(ctx, target, merged, &report); err != nil {
			return report, err
		}
	}

	if opts.WritePairs {
		if err := checkpoint.Save(factory, target.PairsPath, filter.ToBlock); err != nil {
			return report, err
		}
		if r.mirror != nil {
			name := fmt.Sprintf("%s/%s/%s", target.Network, target.Layout.Protocol, factory)
			if err := r.mirror.SaveState(ctx, name, filter.ToBlock); err != nil {
				return report, fmt.Errorf("mirror state: %w", err)
			}
		}
	}
	metrics.LastBlock.WithLabelValues(labels...).Set(float64(filter.ToBlock))

	return report, nil
}

func (r *Runner) decode(target Target, decoder *dex.Decoder, logs []model.RawLog, report *Report) ([]model.PairRecord, error) {
	pairs := make([]model.PairRecord, 0, len(logs))
	var failures []model.DecodeError
	for _, log := range logs {
		pair, err := decoder.Decode(log)
		if err != nil {
			if !errors.Is(err, dex.ErrMalformedLog) {
				return nil, err
			}
			report.Malformed++
			metrics.MalformedLogs.WithLabelValues(target.Network, target.Layout.Protocol).Inc()
			r.logger.Warn("skip malformed log",
				zap.Uint64("block_number", log.BlockNumber),
				zap.String("tx_hash", log.TxHash.Hex()),
				zap.Uint("log_index", log.LogIndex),
				zap.Error(err),
			)
			failures = append(failures, buildDecodeError(r.chainID, target, log, err))
			continue
		}
		pairs = append(pairs, pair)
	}
	report.Pairs = len(pairs)

	if r.errors != nil {
		if err := r.errors.PutDecodeErrors(failures); err != nil {
			return nil, fmt.Errorf("store decode errors: %w", err)
		}
	}
	return pairs, nil
}

func (r *Runner) reconcile(ctx context.Context, target Target, pairs []model.PairRecord, report *Report) error {
	tokens := append(registry.PairTokens(pairs), target.ExtraTokens...)
	result, err := r.reconciler.ReconcileAddresses(ctx, tokens)
	if err != nil {
		return err
	}
	report.Scheduled = len(result.Scheduled)
	report.Added = len(result.Added)
	report.Failed = result.Failed

	reg := r.reconciler.Registry()
	if err := r.store.Persist(reg); err != nil {
		return err
	}
	metrics.TokensAdded.WithLabelValues(target.Network).Add(float64(len(result.Added)))
	metrics.TokenFetchFailures.WithLabelValues(target.Network).Add(float64(len(result.Failed)))
	metrics.RegistrySize.WithLabelValues(target.Network).Set(float64(reg.Len()))

	if r.mirror != nil {
		if err := r.mirror.UpsertTokens(ctx, r.chainID, target.Network, result.Added); err != nil {
			return fmt.Errorf("mirror tokens: %w", err)
		}
	}
	return nil
}
