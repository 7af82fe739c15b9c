package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Mugen-Finance/token-lists/internal/model"
)

// ErrPersistence wraps failures to read or write a pair artifact or its
// checkpoint.
var ErrPersistence = errors.New("artifact persistence")

// LoadPairs reads a pairs artifact. A missing file yields no pairs.
func LoadPairs(path string) ([]model.PairRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read pairs %s: %w", ErrPersistence, path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var pairs []model.PairRecord
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, fmt.Errorf("%w: decode pairs %s: %w", ErrPersistence, path, err)
	}
	return pairs, nil
}

// WritePairs replaces the pairs artifact with pairs as a JSON array.
func WritePairs(path string, pairs []model.PairRecord) error {
	if pairs == nil {
		pairs = []model.PairRecord{}
	}
	data, err := json.MarshalIndent(pairs, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode pairs: %w", ErrPersistence, err)
	}
	if err := WriteFileAtomic(path, data); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

// MergePairs appends the pairs of next not already in existing, keyed by
// pair address. Order is existing first, then next in its own order.
func MergePairs(existing, next []model.PairRecord) []model.PairRecord {
	seen := make(map[common.Address]struct{}, len(existing)+len(next))
	out := make([]model.PairRecord, 0, len(existing)+len(next))
	for _, batch := range [][]model.PairRecord{existing, next} {
		for _, pair := range batch {
			if _, ok := seen[pair.PairAddress]; ok {
				continue
			}
			seen[pair.PairAddress] = struct{}{}
			out = append(out, pair)
		}
	}
	return out
}
