package domain

import (
	"encoding/json"
	"time"
)

// Flow is a saved DAG definition. Nodes, edges and viewport are opaque blobs
// owned by the UI; the server never interprets them beyond extracting the
// selected analyst ids at run time.
type Flow struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Nodes       json.RawMessage `json:"nodes"`
	Edges       json.RawMessage `json:"edges"`
	Viewport    json.RawMessage `json:"viewport,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	IsTemplate  bool            `json:"is_template"`
	Tags        []string        `json:"tags"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// RunStatus is the finite-state lifecycle of a flow run.
type RunStatus string

const (
	RunIdle       RunStatus = "IDLE"
	RunInProgress RunStatus = "IN_PROGRESS"
	RunComplete   RunStatus = "COMPLETE"
	RunError      RunStatus = "ERROR"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunComplete || s == RunError
}

// FlowRun is one execution of a Flow.
//
// Lifecycle: created IDLE; IDLE -> IN_PROGRESS stamps StartedAt;
// IN_PROGRESS -> COMPLETE or ERROR stamps CompletedAt. Terminal timestamps
// are write-once.
type FlowRun struct {
	ID           string          `json:"id"`
	FlowID       string          `json:"flow_id"`
	RunNumber    int             `json:"run_number"`
	Status       RunStatus       `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	RequestData  json.RawMessage `json:"request_data,omitempty"`
	Results      json.RawMessage `json:"results,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}
