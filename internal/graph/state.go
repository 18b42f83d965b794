// Package graph runs the analyst pipeline as a small dependency graph:
// parallel analysts feed a risk stage, which feeds the portfolio stage.
package graph

import (
	"sort"
	"sync"

	"github.com/hedgeworks/hedged/internal/domain"
)

// Message is one agent's contribution to the conversation log.
type Message struct {
	Agent   string `json:"agent"`
	Content string `json:"content"`
}

// Data is the shared working set agents read from and write to.
type Data struct {
	Tickers   []string
	StartDate string
	EndDate   string
	Portfolio *domain.Portfolio

	// AnalystSignals is keyed by agent name, then ticker.
	AnalystSignals map[string]map[string]domain.AnalystSignal
}

// Metadata carries run-scoped knobs that are not analysis inputs.
type Metadata struct {
	ShowReasoning bool
	RequestID     string

	// Request is the originating run request; agents consult it for model
	// selection and per-agent overrides.
	Request *domain.HedgeFundRequest
}

// State is the run state threaded through the pipeline.
type State struct {
	Messages []Message
	Data     Data
	Metadata Metadata
}

// Store serializes all writes to a State. Concurrent analysts publish
// through it; stages that run alone may read the state directly once
// all writers for the previous stage have finished.
type Store struct {
	mu    sync.Mutex
	state *State
}

func NewStore(initial *State) *Store {
	if initial.Data.AnalystSignals == nil {
		initial.Data.AnalystSignals = make(map[string]map[string]domain.AnalystSignal)
	}
	return &Store{state: initial}
}

// AppendMessage records an agent message in completion order.
func (s *Store) AppendMessage(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Messages = append(s.state.Messages, msg)
}

// SortMessages reorders the transcript by agent rank. The sort is stable,
// so messages from the same agent keep the order they were produced in.
func (s *Store) SortMessages(rank func(agent string) int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sort.SliceStable(s.state.Messages, func(i, j int) bool {
		return rank(s.state.Messages[i].Agent) < rank(s.state.Messages[j].Agent)
	})
}

// PutSignals merges one agent's per-ticker signals into the shared map.
// Tickers the agent did not produce are left untouched.
func (s *Store) PutSignals(agentName string, signals map[string]domain.AnalystSignal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.state.Data.AnalystSignals[agentName]
	if existing == nil {
		existing = make(map[string]domain.AnalystSignal, len(signals))
		s.state.Data.AnalystSignals[agentName] = existing
	}
	for ticker, signal := range signals {
		existing[ticker] = signal
	}
}

// Signals returns a copy of the signal map for safe concurrent reads.
func (s *Store) Signals() map[string]map[string]domain.AnalystSignal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]map[string]domain.AnalystSignal, len(s.state.Data.AnalystSignals))
	for agent, byTicker := range s.state.Data.AnalystSignals {
		inner := make(map[string]domain.AnalystSignal, len(byTicker))
		for ticker, signal := range byTicker {
			inner[ticker] = signal
		}
		out[agent] = inner
	}
	return out
}

// State returns the underlying state. Callers must ensure no writers are
// active, which holds between pipeline stages.
func (s *Store) State() *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
