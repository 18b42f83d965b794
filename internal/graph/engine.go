package graph

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hedgeworks/hedged/internal/domain"
	"github.com/hedgeworks/hedged/internal/progress"
)

// StageFn runs a single serial stage (risk management, portfolio
// management) over the shared store.
type StageFn func(ctx context.Context, store *Store) error

// Engine drives one analysis run: all selected analysts concurrently,
// then the risk stage, then the portfolio stage.
type Engine struct {
	registry  *Registry
	risk      StageFn
	portfolio StageFn
	bus       *progress.Bus
	log       zerolog.Logger
}

func NewEngine(registry *Registry, risk, portfolio StageFn, bus *progress.Bus, log zerolog.Logger) *Engine {
	return &Engine{
		registry:  registry,
		risk:      risk,
		portfolio: portfolio,
		bus:       bus,
		log:       log.With().Str("component", "graph").Logger(),
	}
}

// Run executes the pipeline for the given selection keys. Analyst failures
// degrade to neutral signals so the downstream stages always see a complete
// signal set; risk or portfolio failures abort the run.
func (e *Engine) Run(ctx context.Context, store *Store, selectedKeys []string) error {
	entries := e.registry.Select(selectedKeys)
	tickers := store.State().Data.Tickers

	group, groupCtx := errgroup.WithContext(ctx)
	for _, entry := range entries {
		entry := entry
		group.Go(func() error {
			if err := e.runAnalyst(groupCtx, entry, store, tickers); err != nil {
				// Not reachable today, runAnalyst absorbs failures.
				return err
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	// Concurrent analysts finish in arbitrary order; reorder the transcript
	// by registry rank so identical inputs yield identical output.
	rank := make(map[string]int, len(entries))
	for _, entry := range entries {
		rank[entry.AgentName] = entry.Order
	}
	store.SortMessages(func(agent string) int {
		if r, ok := rank[agent]; ok {
			return r
		}
		return len(rank)
	})

	if err := e.runStage(ctx, "risk_management_agent", e.risk, store); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return e.runStage(ctx, "portfolio_manager", e.portfolio, store)
}

// runAnalyst executes one analyst, converting any failure or panic into a
// neutral signal for every ticker plus a message noting the failure.
func (e *Engine) runAnalyst(ctx context.Context, entry Entry, store *Store, tickers []string) error {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("analyst panicked: %v", r)
			}
		}()
		return entry.Fn(ctx, store)
	}()
	if err == nil {
		return nil
	}

	e.log.Error().Err(err).Str("agent", entry.AgentName).Msg("Analyst failed, using neutral signals")
	e.bus.UpdateStatus(entry.AgentName, "", "Error", err.Error())

	neutral := make(map[string]domain.AnalystSignal, len(tickers))
	for _, ticker := range tickers {
		neutral[ticker] = domain.NeutralSignal(fmt.Sprintf("Analysis failed: %v", err))
	}
	store.PutSignals(entry.AgentName, neutral)
	store.AppendMessage(Message{
		Agent:   entry.AgentName,
		Content: fmt.Sprintf("%s failed and returned neutral signals: %v", entry.DisplayName, err),
	})
	return nil
}

// runStage executes a serial stage. Panics and errors terminate the run.
func (e *Engine) runStage(ctx context.Context, name string, fn StageFn, store *Store) error {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("stage panicked: %v", r)
			}
		}()
		return fn(ctx, store)
	}()
	if err != nil {
		e.log.Error().Err(err).Str("agent", name).Msg("Stage failed")
		e.bus.UpdateStatus(name, "", "Error", err.Error())
		return fmt.Errorf("%s failed: %w", name, err)
	}
	return nil
}
