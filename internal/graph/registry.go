package graph

import (
	"context"
	"sort"
)

// AnalystFn runs one analyst over the shared store. Signals are published
// via store.PutSignals under the entry's AgentName.
type AnalystFn func(ctx context.Context, store *Store) error

// Entry describes one selectable analyst.
type Entry struct {
	// Key is the selection key clients send (e.g. "technical_analyst").
	Key string
	// AgentName is the key analyst signals are published under
	// (e.g. "technical_analyst_agent").
	AgentName string
	// DisplayName is the human-readable name for listings.
	DisplayName string
	// Order fixes the listing order.
	Order int
	Fn    AnalystFn
}

// Registry holds the available analysts.
type Registry struct {
	entries map[string]Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

func (r *Registry) Register(e Entry) {
	r.entries[e.Key] = e
}

// Entries returns all analysts in display order.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Select resolves requested selection keys against the registry. Unknown
// keys are silently dropped, so an all-unknown request selects no analysts
// and the pipeline runs with risk and portfolio stages only. An empty
// request selects every analyst. The result preserves display order.
func (r *Registry) Select(keys []string) []Entry {
	if len(keys) == 0 {
		return r.Entries()
	}
	requested := make(map[string]bool, len(keys))
	for _, k := range keys {
		requested[k] = true
	}
	out := []Entry{}
	for _, e := range r.Entries() {
		if requested[e.Key] {
			out = append(out, e)
		}
	}
	return out
}
