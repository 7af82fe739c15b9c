package registry

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Mugen-Finance/token-lists/internal/model"
)

// Registry is an append-only list of token metadata with a membership set.
// No two entries share an address.
type Registry struct {
	mu      sync.RWMutex
	entries []model.TokenMetadata
	known   map[common.Address]struct{}
}

// New builds a registry from entries, keeping the first entry for every
// address. It returns the number of duplicates dropped.
func New(entries []model.TokenMetadata) (*Registry, int) {
	r := &Registry{
		entries: make([]model.TokenMetadata, 0, len(entries)),
		known:   make(map[common.Address]struct{}, len(entries)),
	}
	dropped := 0
	for _, entry := range entries {
		if !r.Add(entry) {
			dropped++
		}
	}
	return r, dropped
}

// Contains reports whether the address has an entry.
func (r *Registry) Contains(address common.Address) bool {
	r.mu.RLock()
	_, ok := r.known[address]
	r.mu.RUnlock()
	return ok
}

// Add appends meta unless its address is already present.
func (r *Registry) Add(meta model.TokenMetadata) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.known[meta.Address]; ok {
		return false
	}
	r.known[meta.Address] = struct{}{}
	r.entries = append(r.entries, meta)
	return true
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Entries returns a copy of the entries in insertion order.
func (r *Registry) Entries() []model.TokenMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.TokenMetadata, len(r.entries))
	copy(out, r.entries)
	return out
}
