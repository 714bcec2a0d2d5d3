// Package asset resolves on-chain asset identifiers to display metadata.
package asset

import (
	"strings"
	"sync"

	"dcawatch/internal/amount"
)

// Info is display metadata for an asset. Known is false when the identifier
// was not found and Symbol holds a shortened placeholder.
type Info struct {
	ID       string `json:"id"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
	Known    bool   `json:"known"`
}

// Resolver never fails; unknown identifiers get a placeholder.
type Resolver interface {
	Resolve(id string) Info
}

// Entry is one configured asset.
type Entry struct {
	ID       string
	Symbol   string
	Decimals int
}

// Registry is a static, concurrency-safe asset table.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]Info
}

func NewRegistry(entries ...Entry) *Registry {
	r := &Registry{byID: map[string]Info{}}
	for _, e := range entries {
		r.Add(e)
	}
	return r
}

// Add inserts or replaces an entry. An empty ID is ignored.
func (r *Registry) Add(e Entry) {
	id := strings.TrimSpace(e.ID)
	if id == "" {
		return
	}
	sym := strings.TrimSpace(e.Symbol)
	if sym == "" {
		sym = amount.ShortAddress(id)
	}
	r.mu.Lock()
	r.byID[id] = Info{ID: id, Symbol: sym, Decimals: e.Decimals, Known: true}
	r.mu.Unlock()
}

func (r *Registry) Resolve(id string) Info {
	if r != nil {
		r.mu.RLock()
		info, ok := r.byID[id]
		r.mu.RUnlock()
		if ok {
			return info
		}
	}
	return Info{ID: id, Symbol: amount.ShortAddress(id), Decimals: 0, Known: false}
}

// Symbol is a convenience for Resolve(id).Symbol.
func (r *Registry) Symbol(id string) string { return r.Resolve(id).Symbol }
