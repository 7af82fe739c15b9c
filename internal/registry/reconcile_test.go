package registry

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/Mugen-Finance/token-lists/internal/model"
	"github.com/Mugen-Finance/token-lists/internal/retry"
)

type fakeFetcher struct {
	mu       sync.Mutex
	calls    map[common.Address]int
	fail     map[common.Address]error
	flaky    map[common.Address]int
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		calls: make(map[common.Address]int),
		fail:  make(map[common.Address]error),
		flaky: make(map[common.Address]int),
	}
}

func (f *fakeFetcher) ReadTokenMetadata(ctx context.Context, token common.Address) (model.TokenMetadata, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return model.TokenMetadata{}, ctx.Err()
		}
	}

	f.mu.Lock()
	f.calls[token]++
	attempt := f.calls[token]
	err := f.fail[token]
	flaky := f.flaky[token]
	f.mu.Unlock()

	if err != nil {
		return model.TokenMetadata{}, err
	}
	if attempt <= flaky {
		return model.TokenMetadata{}, retry.Transient(errors.New("connection reset"))
	}
	hex := model.CanonicalAddress(token)
	return model.TokenMetadata{
		Name:     "Token " + hex[len(hex)-4:],
		Symbol:   "T" + hex[len(hex)-4:],
		Decimals: 18,
	}, nil
}

func (f *fakeFetcher) callCount(token common.Address) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[token]
}

func (f *fakeFetcher) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

func addr(n int) common.Address {
	return common.BigToAddress(new(big.Int).Lsh(big.NewInt(1), uint(n)))
}

func pair(a, b common.Address) model.PairRecord {
	return model.PairRecord{Kind: model.KindClassic, TokenA: a, TokenB: b, PairAddress: common.BytesToAddress(append(a.Bytes()[10:], b.Bytes()[10:]...))}
}

func fastRetry() retry.Policy {
	return retry.Policy{MaxRetries: 3, Backoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestPlanSkipsKnownAndRepeated(t *testing.T) {
	known := addr(1)
	reg, _ := New([]model.TokenMetadata{{Address: known, Symbol: "KNOWN"}})
	r := NewReconciler(reg, newFakeFetcher(), ReconcileConfig{}, nil)

	plan := r.Plan([]model.PairRecord{
		pair(addr(2), known),
		pair(addr(3), addr(2)),
		pair(known, addr(4)),
	})

	require.Equal(t, []common.Address{addr(2), addr(3), addr(4)}, plan)
}

func TestReconcileAppendsInPlanOrder(t *testing.T) {
	reg, _ := New(nil)
	fetcher := newFakeFetcher()
	r := NewReconciler(reg, fetcher, ReconcileConfig{Workers: 4, Retry: fastRetry()}, nil)

	pairs := []model.PairRecord{pair(addr(1), addr(2)), pair(addr(3), addr(1)), pair(addr(4), addr(5))}
	result, err := r.Reconcile(context.Background(), pairs)
	require.NoError(t, err)

	want := []common.Address{addr(1), addr(2), addr(3), addr(4), addr(5)}
	require.Equal(t, want, result.Scheduled)
	require.Len(t, result.Added, len(want))
	require.Empty(t, result.Failed)

	entries := reg.Entries()
	require.Len(t, entries, len(want))
	for i, token := range want {
		require.Equal(t, token, entries[i].Address)
		require.Equal(t, token, result.Added[i].Address)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	reg, _ := New(nil)
	fetcher := newFakeFetcher()
	r := NewReconciler(reg, fetcher, ReconcileConfig{Workers: 2, Retry: fastRetry()}, nil)
	pairs := []model.PairRecord{pair(addr(1), addr(2)), pair(addr(2), addr(3))}

	_, err := r.Reconcile(context.Background(), pairs)
	require.NoError(t, err)
	calls := fetcher.totalCalls()
	require.Equal(t, 3, calls)

	result, err := r.Reconcile(context.Background(), pairs)
	require.NoError(t, err)
	require.Empty(t, result.Scheduled)
	require.Empty(t, result.Added)
	require.Equal(t, calls, fetcher.totalCalls())
	require.Equal(t, 3, reg.Len())
}

func TestReconcileIsolatesFetchFailures(t *testing.T) {
	reg, _ := New(nil)
	fetcher := newFakeFetcher()
	broken := addr(2)
	fetcher.fail[broken] = errors.New("execution reverted")
	r := NewReconciler(reg, fetcher, ReconcileConfig{Workers: 3, Retry: fastRetry()}, nil)

	result, err := r.Reconcile(context.Background(), []model.PairRecord{pair(addr(1), broken), pair(addr(3), addr(1))})
	require.NoError(t, err)

	require.Len(t, result.Added, 2)
	require.Len(t, result.Failed, 1)
	require.Equal(t, broken, result.Failed[0].Address)
	require.ErrorContains(t, result.Failed[0].Err, "execution reverted")
	require.Equal(t, 1, fetcher.callCount(broken), "non-transient errors are not retried")

	require.True(t, reg.Contains(addr(1)))
	require.True(t, reg.Contains(addr(3)))
	require.False(t, reg.Contains(broken))

	// the failed token is scheduled again on the next run
	delete(fetcher.fail, broken)
	result, err = r.Reconcile(context.Background(), []model.PairRecord{pair(addr(1), broken)})
	require.NoError(t, err)
	require.Equal(t, []common.Address{broken}, result.Scheduled)
	require.Len(t, result.Added, 1)
	require.True(t, reg.Contains(broken))
}

func TestReconcileRetriesTransientFailures(t *testing.T) {
	reg, _ := New(nil)
	fetcher := newFakeFetcher()
	fetcher.flaky[addr(1)] = 2
	r := NewReconciler(reg, fetcher, ReconcileConfig{Workers: 1, Retry: fastRetry()}, nil)

	result, err := r.Reconcile(context.Background(), []model.PairRecord{pair(addr(1), addr(2))})
	require.NoError(t, err)
	require.Len(t, result.Added, 2)
	require.Equal(t, 3, fetcher.callCount(addr(1)))
}

func TestReconcileExhaustedRetriesFail(t *testing.T) {
	reg, _ := New(nil)
	fetcher := newFakeFetcher()
	fetcher.flaky[addr(1)] = 100
	r := NewReconciler(reg, fetcher, ReconcileConfig{Workers: 1, Retry: fastRetry()}, nil)

	result, err := r.Reconcile(context.Background(), []model.PairRecord{pair(addr(1), addr(2))})
	require.NoError(t, err)
	require.Len(t, result.Failed, 1)
	require.Equal(t, 4, fetcher.callCount(addr(1)))
	require.False(t, reg.Contains(addr(1)))
}

func TestReconcileConcurrentDedup(t *testing.T) {
	reg, _ := New(nil)
	fetcher := newFakeFetcher()
	fetcher.delay = 5 * time.Millisecond
	r := NewReconciler(reg, fetcher, ReconcileConfig{Workers: 4, Retry: fastRetry()}, nil)

	shared := addr(0)
	pairs := make([]model.PairRecord, 0, 16)
	for i := 1; i <= 16; i++ {
		pairs = append(pairs, pair(shared, addr(i)))
	}

	result, err := r.Reconcile(context.Background(), pairs)
	require.NoError(t, err)
	require.Len(t, result.Added, 17)
	require.Equal(t, 1, fetcher.callCount(shared))
	require.Equal(t, 17, fetcher.totalCalls())
	require.LessOrEqual(t, fetcher.maxSeen.Load(), int32(4))
	require.Equal(t, 17, reg.Len())
}

func TestReconcileLegacyContainment(t *testing.T) {
	listed := common.HexToAddress("0x82aF49447D8a07e3bd95BD0d56f35241523fBab1")
	raw := fmt.Sprintf(`[{"address":"%s","name":"x"`, "0x82AF49447D8A07E3BD95BD0D56F35241523FBAB1")
	reg, _ := New(nil)

	off := NewReconciler(reg, newFakeFetcher(), ReconcileConfig{LegacyText: raw}, nil)
	require.Equal(t, []common.Address{listed}, off.Plan([]model.PairRecord{pair(listed, addr(1))})[:1])

	on := NewReconciler(reg, newFakeFetcher(), ReconcileConfig{LegacyText: raw, LegacyContainment: true}, nil)
	require.Equal(t, []common.Address{addr(1)}, on.Plan([]model.PairRecord{pair(listed, addr(1))}))
}

func TestReconcileCancelled(t *testing.T) {
	reg, _ := New(nil)
	fetcher := newFakeFetcher()
	fetcher.delay = time.Second
	r := NewReconciler(reg, fetcher, ReconcileConfig{Workers: 2, Retry: fastRetry()}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.Reconcile(ctx, []model.PairRecord{pair(addr(1), addr(2)), pair(addr(3), addr(4))})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 0, reg.Len())
}

func TestNewReconcilerClampsWorkers(t *testing.T) {
	reg, _ := New(nil)
	require.Equal(t, defaultWorkers, NewReconciler(reg, nil, ReconcileConfig{}, nil).cfg.Workers)
	require.Equal(t, maxWorkers, NewReconciler(reg, nil, ReconcileConfig{Workers: 1000}, nil).cfg.Workers)
}
