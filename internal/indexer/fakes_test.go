package indexer

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Mugen-Finance/token-lists/internal/model"
	"github.com/Mugen-Finance/token-lists/internal/retry"
)

type fakeChain struct {
	mu        sync.Mutex
	logs      []types.Log
	latest    uint64
	queries   []ethereum.FilterQuery
	transient int
	fatal     error
}

func (f *fakeChain) LatestBlockNumber(context.Context) (uint64, error) {
	return f.latest, nil
}

func (f *fakeChain) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)

	if f.transient > 0 {
		f.transient--
		return nil, retry.Transient(errors.New("503 service unavailable"))
	}
	if f.fatal != nil {
		return nil, f.fatal
	}

	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	out := make([]types.Log, 0)
	for _, log := range f.logs {
		if log.BlockNumber < from || log.BlockNumber > to {
			continue
		}
		if len(q.Addresses) > 0 && log.Address != q.Addresses[0] {
			continue
		}
		if len(q.Topics) > 0 && len(log.Topics) > 0 && log.Topics[0] != q.Topics[0][0] {
			continue
		}
		out = append(out, log)
	}
	return out, nil
}

func (f *fakeChain) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	fail  map[common.Address]error
}

func (f *fakeFetcher) ReadTokenMetadata(_ context.Context, token common.Address) (model.TokenMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.fail[token]; err != nil {
		return model.TokenMetadata{}, err
	}
	return model.TokenMetadata{Name: "Token", Symbol: "TKN", Decimals: 18}, nil
}

type fakeMirror struct {
	pairs  []model.PairRecord
	tokens []model.TokenMetadata
	state  map[string]uint64
}

func (m *fakeMirror) UpsertPairs(_ context.Context, _ uint64, _, _ string, pairs []model.PairRecord) error {
	m.pairs = append(m.pairs, pairs...)
	return nil
}

func (m *fakeMirror) UpsertTokens(_ context.Context, _ uint64, _ string, tokens []model.TokenMetadata) error {
	m.tokens = append(m.tokens, tokens...)
	return nil
}

func (m *fakeMirror) SaveState(_ context.Context, name string, block uint64) error {
	if m.state == nil {
		m.state = make(map[string]uint64)
	}
	m.state[name] = block
	return nil
}
