package registry

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/remeh/sizedwaitgroup"
	"go.uber.org/zap"

	"github.com/Mugen-Finance/token-lists/internal/metrics"
	"github.com/Mugen-Finance/token-lists/internal/model"
	"github.com/Mugen-Finance/token-lists/internal/retry"
)

const (
	defaultWorkers = 8
	maxWorkers     = 64
)

// MetadataFetcher resolves a token address to its metadata.
type MetadataFetcher interface {
	ReadTokenMetadata(ctx context.Context, token common.Address) (model.TokenMetadata, error)
}

// ReconcileConfig controls the fetch phase.
type ReconcileConfig struct {
	Workers int
	Retry   retry.Policy
	// LegacyText is the raw registry file text. When LegacyContainment is
	// set, an address whose canonical text appears anywhere in it counts as
	// known even if the parsed registry lacks it.
	LegacyText        string
	LegacyContainment bool
}

// FailedToken is a token whose metadata could not be read this run.
type FailedToken struct {
	Address common.Address
	Err     error
}

// Result summarises one reconciliation.
type Result struct {
	Scheduled []common.Address
	Added     []model.TokenMetadata
	Failed    []FailedToken
}

// Reconciler merges the tokens of decoded pairs into a registry, fetching
// metadata only for addresses the registry does not know yet.
type Reconciler struct {
	registry   *Registry
	fetcher    MetadataFetcher
	cfg        ReconcileConfig
	legacyText string
	logger     *zap.Logger
}

// NewReconciler builds a Reconciler over reg.
func NewReconciler(reg *Registry, fetcher MetadataFetcher, cfg ReconcileConfig, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.Workers > maxWorkers {
		cfg.Workers = maxWorkers
	}

	r := &Reconciler{
		registry: reg,
		fetcher:  fetcher,
		cfg:      cfg,
		logger:   logger,
	}
	if cfg.LegacyContainment {
		r.legacyText = strings.ToLower(cfg.LegacyText)
	}
	return r
}

// Plan lists the token addresses of pairs that need a metadata fetch, in
// first-seen order and without repeats.
func (r *Reconciler) Plan(pairs []model.PairRecord) []common.Address {
	return r.PlanAddresses(PairTokens(pairs))
}

// PlanAddresses is Plan over a flat address list.
func (r *Reconciler) PlanAddresses(tokens []common.Address) []common.Address {
	seen := make(map[common.Address]struct{})
	plan := make([]common.Address, 0)
	for _, token := range tokens {
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		if r.known(token) {
			continue
		}
		plan = append(plan, token)
	}
	return plan
}

// PairTokens flattens pairs into their token addresses in event order.
func PairTokens(pairs []model.PairRecord) []common.Address {
	out := make([]common.Address, 0, 2*len(pairs))
	for _, pair := range pairs {
		tokens := pair.Tokens()
		out = append(out, tokens[0], tokens[1])
	}
	return out
}

func (r *Reconciler) known(token common.Address) bool {
	if r.registry.Contains(token) {
		return true
	}
	return r.legacyText != "" && strings.Contains(r.legacyText, model.CanonicalAddress(token))
}

type fetchOutcome struct {
	meta model.TokenMetadata
	err  error
}

// Reconcile fetches metadata for every planned address with a bounded pool
// of workers and appends the successes to the registry in plan order.
// Failed addresses stay unknown so a later run retries them. The only error
// returned is ctx's.
func (r *Reconciler) Reconcile(ctx context.Context, pairs []model.PairRecord) (Result, error) {
	return r.ReconcileAddresses(ctx, PairTokens(pairs))
}

// ReconcileAddresses is Reconcile over a flat address list.
func (r *Reconciler) ReconcileAddresses(ctx context.Context, tokens []common.Address) (Result, error) {
	plan := r.PlanAddresses(tokens)
	result := Result{Scheduled: plan}
	if len(plan) == 0 {
		return result, nil
	}

	r.logger.Info("fetch token metadata", zap.Int("tokens", len(plan)), zap.Int("workers", r.cfg.Workers))

	outcomes := make([]fetchOutcome, len(plan))
	swg := sizedwaitgroup.New(r.cfg.Workers)
	for i, token := range plan {
		if err := swg.AddWithContext(ctx); err != nil {
			break
		}
		go func(i int, token common.Address) {
			defer swg.Done()
			outcomes[i] = r.fetch(ctx, token)
		}(i, token)
	}
	swg.Wait()

	if err := ctx.Err(); err != nil {
		return result, err
	}

	for i, token := range plan {
		outcome := outcomes[i]
		if outcome.err != nil {
			r.logger.Warn("token metadata fetch failed",
				zap.String("token", model.CanonicalAddress(token)),
				zap.Error(outcome.err),
			)
			result.Failed = append(result.Failed, FailedToken{Address: token, Err: outcome.err})
			continue
		}

		meta := outcome.meta
		meta.Address = token
		if r.registry.Add(meta) {
			result.Added = append(result.Added, meta)
		}
	}

	return result, nil
}

func (r *Reconciler) fetch(ctx context.Context, token common.Address) fetchOutcome {
	var meta model.TokenMetadata
	notify := func(err error, wait time.Duration) {
		metrics.RPCRetries.WithLabelValues("metadata").Inc()
		r.logger.Debug("retry token metadata",
			zap.String("token", model.CanonicalAddress(token)),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	err := retry.Do(ctx, r.cfg.Retry, notify, func(ctx context.Context) error {
		var err error
		meta, err = r.fetcher.ReadTokenMetadata(ctx, token)
		return err
	})
	return fetchOutcome{meta: meta, err: err}
}

// Registry returns the registry the reconciler appends to.
func (r *Reconciler) Registry() *Registry {
	return r.registry
}
