package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hedgeworks/hedged/internal/agents"
	"github.com/hedgeworks/hedged/internal/domain"
	"github.com/hedgeworks/hedged/internal/graph"
	"github.com/hedgeworks/hedged/internal/metrics"
	"github.com/hedgeworks/hedged/internal/progress"
)

const (
	// runTickInterval bounds disconnect detection latency.
	runTickInterval = time.Second

	// progressBuffer absorbs bursts from concurrent analysts. Overflow
	// drops events rather than blocking the pipeline.
	progressBuffer = 100

	defaultInitialCash = 100000.0
)

// runEvent is one frame of the run stream.
type runEvent struct {
	Type string `json:"type"`

	// progress_update fields
	Agent     string `json:"agent,omitempty"`
	Ticker    string `json:"ticker,omitempty"`
	Status    string `json:"status,omitempty"`
	Analysis  string `json:"analysis,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`

	// error fields
	Message string `json:"message,omitempty"`

	// complete fields
	Data *runResult `json:"data,omitempty"`
}

type runResult struct {
	Decisions      map[string]domain.TradeDecision            `json:"decisions"`
	AnalystSignals map[string]map[string]domain.AnalystSignal `json:"analyst_signals"`
}

// handleRunStream executes one analysis run, streaming progress over SSE.
//
// Sequence: one start event, any number of progress_update events, then
// exactly one complete or error event. A client disconnect is detected
// within one tick, cancels the run, and closes the stream without a
// terminal event.
func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	var req domain.HedgeFundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if s.metrics != nil {
		s.metrics.SSEClients.Inc()
		defer s.metrics.SSEClients.Dec()
	}

	emit := func(event runEvent) {
		payload, err := json.Marshal(event)
		if err != nil {
			s.log.Error().Err(err).Str("type", event.Type).Msg("Failed to encode stream event")
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}
	s.streamRun(r.Context(), &req, emit)
}

// streamRun drives one run to its terminal event, forwarding progress to
// emit. The client context going away cancels the run; cancelled runs close
// without a terminal event.
func (s *Server) streamRun(clientCtx context.Context, req *domain.HedgeFundRequest, emit func(runEvent)) {
	req.Normalize(time.Now())
	if req.InitialCash == 0 {
		req.InitialCash = defaultInitialCash
	}

	if s.metrics != nil {
		s.metrics.RunsStarted.Inc()
		s.metrics.ActiveRuns.Inc()
		defer s.metrics.ActiveRuns.Dec()
		started := time.Now()
		defer func() {
			s.metrics.RunDuration.Observe(time.Since(started).Seconds())
		}()
	}

	s.markRunStarted(req)
	emit(runEvent{Type: "start"})

	deps, err := s.newRunDeps()
	if err != nil {
		emit(runEvent{Type: "error", Message: err.Error()})
		s.markRunFinished(req, metrics.OutcomeError, nil, err.Error())
		return
	}

	// Per-run bus: concurrent runs never see each other's events.
	bus := progress.NewBus(s.log)
	deps.Bus = bus

	progressCh := make(chan progress.Update, progressBuffer)
	handlerID := bus.Register(func(u progress.Update) {
		select {
		case progressCh <- u:
		default:
		}
	})
	defer bus.Unregister(handlerID)

	registry := agents.NewRegistry(deps)
	engine := graph.NewEngine(registry, agents.RiskManager(deps), agents.PortfolioManager(deps), bus, s.log)

	store := graph.NewStore(&graph.State{
		Data: graph.Data{
			Tickers:   req.Tickers,
			StartDate: req.StartDate,
			EndDate:   req.EndDate,
			Portfolio: domain.NewPortfolio(req.InitialCash, req.MarginRequirement, req.Tickers),
		},
		Metadata: graph.Metadata{Request: req},
	})

	// The run owns its own context so handler teardown cannot race it.
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	done := make(chan error, 1)
	go func() {
		done <- engine.Run(runCtx, store, req.SelectedAgents)
	}()

	disconnect := clientCtx.Done()
	ticker := time.NewTicker(runTickInterval)
	defer ticker.Stop()

	for {
		select {
		case update := <-progressCh:
			emit(progressEvent(update))

		case err := <-done:
			drainProgress(progressCh, emit)
			if err != nil {
				if runCtx.Err() != nil {
					s.markRunFinished(req, metrics.OutcomeCancelled, nil, "cancelled")
					return
				}
				s.log.Error().Err(err).Msg("Run failed")
				emit(runEvent{Type: "error", Message: err.Error()})
				s.markRunFinished(req, metrics.OutcomeError, nil, err.Error())
				return
			}
			s.completeRun(req, store, emit)
			return

		case <-disconnect:
			s.log.Info().Msg("Client disconnected, cancelling run")
			cancelRun()
			// Let the graph observe cancellation before the handler returns.
			select {
			case <-done:
			case <-time.After(5 * time.Second):
			}
			s.markRunFinished(req, metrics.OutcomeCancelled, nil, "cancelled")
			return

		case <-ticker.C:
			// Disconnect detection tick; nothing queued.
		}
	}
}

// completeRun emits the terminal complete event with decisions and signals.
func (s *Server) completeRun(req *domain.HedgeFundRequest, store *graph.Store, emit func(runEvent)) {
	decisions, err := agents.ExtractDecisions(store.State().Messages)
	if err != nil {
		s.log.Error().Err(err).Msg("Run produced no decisions")
		emit(runEvent{Type: "error", Message: err.Error()})
		s.markRunFinished(req, metrics.OutcomeError, nil, err.Error())
		return
	}

	result := &runResult{
		Decisions:      decisions,
		AnalystSignals: store.Signals(),
	}
	emit(runEvent{Type: "complete", Data: result})

	results, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		results = nil
	}
	s.markRunFinished(req, metrics.OutcomeComplete, results, "")
}

// drainProgress flushes updates still queued when the run finishes, keeping
// the terminal event last.
func drainProgress(progressCh <-chan progress.Update, emit func(runEvent)) {
	for {
		select {
		case update := <-progressCh:
			emit(progressEvent(update))
		default:
			return
		}
	}
}

func progressEvent(u progress.Update) runEvent {
	return runEvent{
		Type:      "progress_update",
		Agent:     u.Agent,
		Ticker:    u.Ticker,
		Status:    u.Status,
		Analysis:  u.Analysis,
		Timestamp: u.Timestamp.Format(time.RFC3339Nano),
	}
}

// markRunStarted transitions the linked flow run, when the request names one.
func (s *Server) markRunStarted(req *domain.HedgeFundRequest) {
	if s.runRepo == nil || req.FlowID == "" || req.FlowRunID == "" {
		return
	}
	if _, err := s.runRepo.UpdateStatus(req.FlowID, req.FlowRunID, domain.RunInProgress, nil, ""); err != nil {
		s.log.Warn().Err(err).Str("run_id", req.FlowRunID).Msg("Failed to mark flow run in progress")
	}
}

// markRunFinished records the terminal state of the linked flow run and the
// run outcome metric.
func (s *Server) markRunFinished(req *domain.HedgeFundRequest, outcome string, results json.RawMessage, errorMessage string) {
	if s.metrics != nil {
		s.metrics.RunsDone.WithLabelValues(outcome).Inc()
	}
	if s.runRepo == nil || req.FlowID == "" || req.FlowRunID == "" {
		return
	}

	status := domain.RunComplete
	if outcome != metrics.OutcomeComplete {
		status = domain.RunError
	}
	if _, err := s.runRepo.UpdateStatus(req.FlowID, req.FlowRunID, status, results, errorMessage); err != nil {
		s.log.Warn().Err(err).Str("run_id", req.FlowRunID).Msg("Failed to mark flow run finished")
	}
}

// handleListAgents lists the selectable analysts.
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	deps, err := s.newRunDeps()
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	type agentInfo struct {
		Key         string `json:"key"`
		DisplayName string `json:"display_name"`
		Order       int    `json:"order"`
	}
	entries := agents.NewRegistry(deps).Entries()
	out := make([]agentInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, agentInfo{Key: e.Key, DisplayName: e.DisplayName, Order: e.Order})
	}
	respondJSON(w, http.StatusOK, map[string]any{"agents": out})
}
