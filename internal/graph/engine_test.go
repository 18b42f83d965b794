package graph

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hedgeworks/hedged/internal/domain"
	"github.com/hedgeworks/hedged/internal/progress"
)

func signalFn(agentName string, signal domain.Signal) AnalystFn {
	return func(ctx context.Context, store *Store) error {
		signals := make(map[string]domain.AnalystSignal)
		for _, ticker := range store.State().Data.Tickers {
			signals[ticker] = domain.AnalystSignal{Signal: signal, Confidence: 50}
		}
		store.PutSignals(agentName, signals)
		return nil
	}
}

func noopStage(ctx context.Context, store *Store) error { return nil }

func newTestRegistry(fns map[string]AnalystFn) *Registry {
	r := NewRegistry()
	order := 0
	for key, fn := range fns {
		r.Register(Entry{
			Key:         key,
			AgentName:   key + "_agent",
			DisplayName: key,
			Order:       order,
			Fn:          fn,
		})
		order++
	}
	return r
}

func newTestStore(tickers ...string) *Store {
	return NewStore(&State{Data: Data{
		Tickers:   tickers,
		Portfolio: domain.NewPortfolio(100000, 0.5, tickers),
	}})
}

func TestEngine_AnalystsRunConcurrently(t *testing.T) {
	release := make(chan struct{})
	var waiting atomic.Int32

	blocker := func(agentName string) AnalystFn {
		return func(ctx context.Context, store *Store) error {
			waiting.Add(1)
			select {
			case <-release:
			case <-time.After(5 * time.Second):
				return errors.New("never released")
			}
			store.PutSignals(agentName, map[string]domain.AnalystSignal{
				"AAPL": {Signal: domain.SignalBullish, Confidence: 50},
			})
			return nil
		}
	}

	registry := newTestRegistry(map[string]AnalystFn{
		"a": blocker("a_agent"),
		"b": blocker("b_agent"),
	})
	engine := NewEngine(registry, noopStage, noopStage, progress.NewBus(zerolog.Nop()), zerolog.Nop())
	store := newTestStore("AAPL")

	done := make(chan error, 1)
	go func() { done <- engine.Run(context.Background(), store, nil) }()

	// Both analysts must be in flight at the same time.
	require.Eventually(t, func() bool { return waiting.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
	close(release)
	require.NoError(t, <-done)
	assert.Len(t, store.Signals(), 2)
}

func TestEngine_FailedAnalystYieldsNeutralSignals(t *testing.T) {
	registry := newTestRegistry(map[string]AnalystFn{
		"good": signalFn("good_agent", domain.SignalBullish),
		"bad": func(ctx context.Context, store *Store) error {
			return errors.New("data source unavailable")
		},
	})
	engine := NewEngine(registry, noopStage, noopStage, progress.NewBus(zerolog.Nop()), zerolog.Nop())
	store := newTestStore("AAPL", "MSFT")

	require.NoError(t, engine.Run(context.Background(), store, nil))

	signals := store.Signals()
	require.Contains(t, signals, "bad_agent")
	for _, ticker := range []string{"AAPL", "MSFT"} {
		sig := signals["bad_agent"][ticker]
		assert.Equal(t, domain.SignalNeutral, sig.Signal)
		assert.Equal(t, float64(0), sig.Confidence)
	}
	assert.Equal(t, domain.SignalBullish, signals["good_agent"]["AAPL"].Signal)

	// The failure leaves a message behind.
	msgs := store.State().Messages
	require.Len(t, msgs, 1)
	assert.Equal(t, "bad_agent", msgs[0].Agent)
}

func TestEngine_PanickingAnalystYieldsNeutralSignals(t *testing.T) {
	registry := newTestRegistry(map[string]AnalystFn{
		"panicky": func(ctx context.Context, store *Store) error {
			panic("nil pointer somewhere")
		},
	})
	engine := NewEngine(registry, noopStage, noopStage, progress.NewBus(zerolog.Nop()), zerolog.Nop())
	store := newTestStore("AAPL")

	require.NoError(t, engine.Run(context.Background(), store, nil))
	assert.Equal(t, domain.SignalNeutral, store.Signals()["panicky_agent"]["AAPL"].Signal)
}

func TestEngine_AnalystsFinishBeforeRiskStage(t *testing.T) {
	var analystsDone atomic.Int32
	slow := func(ctx context.Context, store *Store) error {
		time.Sleep(50 * time.Millisecond)
		analystsDone.Add(1)
		return nil
	}
	registry := newTestRegistry(map[string]AnalystFn{"a": slow, "b": slow})

	risk := func(ctx context.Context, store *Store) error {
		assert.Equal(t, int32(2), analystsDone.Load())
		return nil
	}
	engine := NewEngine(registry, risk, noopStage, progress.NewBus(zerolog.Nop()), zerolog.Nop())
	require.NoError(t, engine.Run(context.Background(), newTestStore("AAPL"), nil))
}

func TestEngine_TranscriptOrderIsDeterministic(t *testing.T) {
	messageFn := func(agentName string, delay time.Duration) AnalystFn {
		return func(ctx context.Context, store *Store) error {
			time.Sleep(delay)
			store.AppendMessage(Message{Agent: agentName, Content: "done"})
			return nil
		}
	}

	// The first-ranked analyst is the slowest, so completion order is the
	// reverse of registry order.
	registry := NewRegistry()
	registry.Register(Entry{Key: "slow", AgentName: "slow_agent", Order: 0, Fn: messageFn("slow_agent", 50*time.Millisecond)})
	registry.Register(Entry{Key: "mid", AgentName: "mid_agent", Order: 1, Fn: messageFn("mid_agent", 20*time.Millisecond)})
	registry.Register(Entry{Key: "fast", AgentName: "fast_agent", Order: 2, Fn: messageFn("fast_agent", 0)})

	engine := NewEngine(registry, noopStage, noopStage, progress.NewBus(zerolog.Nop()), zerolog.Nop())
	store := newTestStore("AAPL")
	require.NoError(t, engine.Run(context.Background(), store, nil))

	msgs := store.State().Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, "slow_agent", msgs[0].Agent)
	assert.Equal(t, "mid_agent", msgs[1].Agent)
	assert.Equal(t, "fast_agent", msgs[2].Agent)
}

func TestEngine_RiskFailureAbortsRun(t *testing.T) {
	registry := newTestRegistry(map[string]AnalystFn{
		"good": signalFn("good_agent", domain.SignalBullish),
	})
	risk := func(ctx context.Context, store *Store) error {
		return errors.New("no prices")
	}
	var portfolioRan bool
	portfolio := func(ctx context.Context, store *Store) error {
		portfolioRan = true
		return nil
	}
	engine := NewEngine(registry, risk, portfolio, progress.NewBus(zerolog.Nop()), zerolog.Nop())

	err := engine.Run(context.Background(), newTestStore("AAPL"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "risk_management_agent")
	assert.False(t, portfolioRan)
}

func TestEngine_UnknownAnalystsAreDropped(t *testing.T) {
	registry := newTestRegistry(map[string]AnalystFn{
		"known": signalFn("known_agent", domain.SignalBearish),
	})
	var riskRan bool
	risk := func(ctx context.Context, store *Store) error {
		riskRan = true
		return nil
	}
	engine := NewEngine(registry, risk, noopStage, progress.NewBus(zerolog.Nop()), zerolog.Nop())
	store := newTestStore("AAPL")

	// All-unknown selection: no analysts run, but the run still proceeds
	// through risk and portfolio.
	require.NoError(t, engine.Run(context.Background(), store, []string{"not_an_agent"}))
	assert.True(t, riskRan)
	assert.Empty(t, store.Signals())
}

func TestEngine_CancelledContext(t *testing.T) {
	registry := newTestRegistry(map[string]AnalystFn{
		"good": signalFn("good_agent", domain.SignalBullish),
	})
	engine := NewEngine(registry, noopStage, noopStage, progress.NewBus(zerolog.Nop()), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := engine.Run(ctx, newTestStore("AAPL"), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegistry_Select(t *testing.T) {
	registry := NewRegistry()
	registry.Register(Entry{Key: "b", Order: 2})
	registry.Register(Entry{Key: "a", Order: 1})

	all := registry.Select(nil)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Key)

	one := registry.Select([]string{"b", "bogus"})
	require.Len(t, one, 1)
	assert.Equal(t, "b", one[0].Key)
}

func TestStore_PutSignalsMergesPerTicker(t *testing.T) {
	store := newTestStore("AAPL", "MSFT")
	store.PutSignals("agent", map[string]domain.AnalystSignal{
		"AAPL": {Signal: domain.SignalBullish, Confidence: 70},
	})
	store.PutSignals("agent", map[string]domain.AnalystSignal{
		"MSFT": {Signal: domain.SignalBearish, Confidence: 60},
	})

	signals := store.Signals()["agent"]
	assert.Equal(t, domain.SignalBullish, signals["AAPL"].Signal)
	assert.Equal(t, domain.SignalBearish, signals["MSFT"].Signal)
}
