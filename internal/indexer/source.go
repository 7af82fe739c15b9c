package indexer

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/Mugen-Finance/token-lists/internal/metrics"
	"github.com/Mugen-Finance/token-lists/internal/model"
	"github.com/Mugen-Finance/token-lists/internal/retry"
)

// ChainReader is the part of the chain client the log source uses.
type ChainReader interface {
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

// Filter selects the creation logs of one factory. A zero ToBlock means the
// latest block.
type Filter struct {
	Address   common.Address
	Topic0    common.Hash
	FromBlock uint64
	ToBlock   uint64
}

// SourceConfig controls pagination and retries of eth_getLogs.
type SourceConfig struct {
	BatchSize uint64
	Retry     retry.Policy
}

// LogSource fetches factory logs in fixed-size block ranges.
type LogSource struct {
	cfg    SourceConfig
	chain  ChainReader
	logger *zap.Logger
}

// NewLogSource builds a LogSource over chain.
func NewLogSource(cfg SourceConfig, chain ChainReader, logger *zap.Logger) *LogSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSource{cfg: cfg, chain: chain, logger: logger}
}

// Resolve pins a zero ToBlock to the current chain head.
func (s *LogSource) Resolve(ctx context.Context, filter Filter) (Filter, error) {
	if filter.ToBlock != 0 {
		return filter, nil
	}
	err := retry.Do(ctx, s.cfg.Retry, s.notify("latest block", filter), func(ctx context.Context) error {
		latest, err := s.chain.LatestBlockNumber(ctx)
		if err != nil {
			return err
		}
		filter.ToBlock = latest
		return nil
	})
	if err != nil {
		return filter, fmt.Errorf("get latest block: %w", err)
	}
	return filter, nil
}

// GetLogs returns the logs matching filter in chain order, one eth_getLogs
// per block range. Removed logs and repeats across ranges are dropped. A
// range that still fails after retries fails the whole call.
func (s *LogSource) GetLogs(ctx context.Context, filter Filter) ([]model.RawLog, error) {
	if s.chain == nil {
		return nil, fmt.Errorf("chain reader is nil")
	}
	filter, err := s.Resolve(ctx, filter)
	if err != nil {
		return nil, err
	}
	if filter.FromBlock > filter.ToBlock {
		return nil, nil
	}

	ranges, err := SplitRange(filter.FromBlock, filter.ToBlock, s.cfg.BatchSize)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	out := make([]model.RawLog, 0)
	for _, blockRange := range ranges {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		logs, err := s.filterRange(ctx, filter, blockRange)
		if err != nil {
			return nil, fmt.Errorf("filter logs %d-%d: %w", blockRange.From, blockRange.To, err)
		}

		kept := 0
		for _, log := range logs {
			if log.Removed {
				continue
			}
			id := fmt.Sprintf("%d:%s:%d", log.BlockNumber, log.TxHash.Hex(), log.Index)
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, model.RawLogFromTypes(log))
			kept++
		}

		s.logger.Debug("range fetched",
			zap.Uint64("from", blockRange.From),
			zap.Uint64("to", blockRange.To),
			zap.Int("logs", kept),
		)
	}

	return out, nil
}

func (s *LogSource) filterRange(ctx context.Context, filter Filter, blockRange BlockRange) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(blockRange.From),
		ToBlock:   new(big.Int).SetUint64(blockRange.To),
		Addresses: []common.Address{filter.Address},
		Topics:    [][]common.Hash{{filter.Topic0}},
	}

	var logs []types.Log
	err := retry.Do(ctx, s.cfg.Retry, s.notify("filter logs", filter), func(ctx context.Context) error {
		var err error
		logs, err = s.chain.FilterLogs(ctx, query)
		return err
	})
	return logs, err
}

func (s *LogSource) notify(op string, filter Filter) retry.Notify {
	return func(err error, wait time.Duration) {
		metrics.RPCRetries.WithLabelValues("logs").Inc()
		s.logger.Warn(op+" failed, retrying",
			zap.String("factory", model.CanonicalAddress(filter.Address)),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
}
