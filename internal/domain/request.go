package domain

import (
	"fmt"
	"time"
)

// AgentModel overrides the LLM model for a single agent within one run.
type AgentModel struct {
	AgentID       string `json:"agent_id"`
	Model         string `json:"model,omitempty"`
	ModelProvider string `json:"model_provider,omitempty"`
}

// HedgeFundRequest is the body of POST /hedge-fund/run.
type HedgeFundRequest struct {
	Tickers           []string     `json:"tickers"`
	SelectedAgents    []string     `json:"selected_agents"`
	AgentModels       []AgentModel `json:"agent_models,omitempty"`
	StartDate         string       `json:"start_date,omitempty"`
	EndDate           string       `json:"end_date,omitempty"`
	ModelName         string       `json:"model_name"`
	ModelProvider     string       `json:"model_provider"`
	InitialCash       float64      `json:"initial_cash"`
	MarginRequirement float64      `json:"margin_requirement"`

	// Optional linkage to a persisted flow run whose status should track
	// this execution.
	FlowID    string `json:"flow_id,omitempty"`
	FlowRunID string `json:"flow_run_id,omitempty"`
}

const dateLayout = "2006-01-02"

// Validate checks request parameters before any run is created.
func (r *HedgeFundRequest) Validate() error {
	if len(r.Tickers) == 0 {
		return fmt.Errorf("at least one ticker is required")
	}
	if r.InitialCash < 0 {
		return fmt.Errorf("initial_cash must not be negative")
	}
	if r.MarginRequirement < 0 || r.MarginRequirement > 1 {
		return fmt.Errorf("margin_requirement must be in [0, 1]")
	}
	for _, d := range []string{r.StartDate, r.EndDate} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(dateLayout, d); err != nil {
			return fmt.Errorf("invalid date %q: expected YYYY-MM-DD", d)
		}
	}
	return nil
}

// Normalize fills defaulted dates: EndDate defaults to today, StartDate to
// three months before EndDate.
func (r *HedgeFundRequest) Normalize(now time.Time) {
	if r.EndDate == "" {
		r.EndDate = now.Format(dateLayout)
	}
	if r.StartDate == "" {
		end, err := time.Parse(dateLayout, r.EndDate)
		if err != nil {
			end = now
		}
		r.StartDate = end.AddDate(0, -3, 0).Format(dateLayout)
	}
}

// ModelFor resolves the per-agent model override, falling back to the run's
// global model.
func (r *HedgeFundRequest) ModelFor(agentID string) (model, provider string) {
	for _, am := range r.AgentModels {
		if am.AgentID == agentID {
			model, provider = am.Model, am.ModelProvider
			break
		}
	}
	if model == "" {
		model = r.ModelName
	}
	if provider == "" {
		provider = r.ModelProvider
	}
	return model, provider
}
