// Package flows persists saved DAG definitions and their execution records.
package flows

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hedgeworks/hedged/internal/database"
	"github.com/hedgeworks/hedged/internal/domain"
)

// ErrNotFound is returned when a flow or run does not exist.
var ErrNotFound = errors.New("not found")

const timeLayout = time.RFC3339Nano

// FlowRepository is the relational layer for saved flows.
type FlowRepository struct {
	db  *database.DB
	log zerolog.Logger
}

func NewFlowRepository(db *database.DB, log zerolog.Logger) *FlowRepository {
	return &FlowRepository{
		db:  db,
		log: log.With().Str("component", "flow_repository").Logger(),
	}
}

const flowColumns = "id, name, description, nodes, edges, viewport, data, is_template, tags, created_at, updated_at"

// Create inserts a new flow, assigning an id and timestamps.
func (r *FlowRepository) Create(flow *domain.Flow) error {
	if flow.ID == "" {
		flow.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	flow.CreatedAt = now
	flow.UpdatedAt = now

	tags, err := json.Marshal(flowTags(flow))
	if err != nil {
		return fmt.Errorf("encoding tags: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO flows (`+flowColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		flow.ID, flow.Name, flow.Description,
		rawOrDefault(flow.Nodes, "[]"), rawOrDefault(flow.Edges, "[]"),
		rawOrNull(flow.Viewport), rawOrNull(flow.Data),
		flow.IsTemplate, string(tags),
		now.Format(timeLayout), now.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("inserting flow: %w", err)
	}

	r.log.Info().Str("flow_id", flow.ID).Str("name", flow.Name).Msg("Flow created")
	return nil
}

// Get returns one flow by id.
func (r *FlowRepository) Get(id string) (*domain.Flow, error) {
	row := r.db.QueryRow(`SELECT `+flowColumns+` FROM flows WHERE id = ?`, id)
	return scanFlow(row)
}

// List returns all flows, most recently updated first.
func (r *FlowRepository) List() ([]domain.Flow, error) {
	return r.queryFlows(`SELECT ` + flowColumns + ` FROM flows ORDER BY updated_at DESC`)
}

// Search returns flows whose name contains the query, case-insensitively,
// most recently updated first.
func (r *FlowRepository) Search(name string) ([]domain.Flow, error) {
	return r.queryFlows(
		`SELECT `+flowColumns+` FROM flows WHERE name LIKE ? COLLATE NOCASE ORDER BY updated_at DESC`,
		"%"+name+"%")
}

// Update rewrites the mutable fields and bumps updated_at.
func (r *FlowRepository) Update(flow *domain.Flow) error {
	flow.UpdatedAt = time.Now().UTC()

	tags, err := json.Marshal(flowTags(flow))
	if err != nil {
		return fmt.Errorf("encoding tags: %w", err)
	}

	res, err := r.db.Exec(`
		UPDATE flows
		SET name = ?, description = ?, nodes = ?, edges = ?, viewport = ?,
		    data = ?, is_template = ?, tags = ?, updated_at = ?
		WHERE id = ?`,
		flow.Name, flow.Description,
		rawOrDefault(flow.Nodes, "[]"), rawOrDefault(flow.Edges, "[]"),
		rawOrNull(flow.Viewport), rawOrNull(flow.Data),
		flow.IsTemplate, string(tags),
		flow.UpdatedAt.Format(timeLayout), flow.ID)
	if err != nil {
		return fmt.Errorf("updating flow: %w", err)
	}
	return requireAffected(res)
}

// Delete removes a flow; runs cascade.
func (r *FlowRepository) Delete(id string) error {
	res, err := r.db.Exec(`DELETE FROM flows WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting flow: %w", err)
	}
	return requireAffected(res)
}

// Duplicate deep-copies a flow under a new id. The copy is never a template;
// an empty newName defaults to "{orig} (Copy)".
func (r *FlowRepository) Duplicate(id, newName string) (*domain.Flow, error) {
	orig, err := r.Get(id)
	if err != nil {
		return nil, err
	}

	copied := *orig
	copied.ID = uuid.NewString()
	copied.IsTemplate = false
	copied.Name = newName
	if copied.Name == "" {
		copied.Name = orig.Name + " (Copy)"
	}
	if err := r.Create(&copied); err != nil {
		return nil, err
	}
	return &copied, nil
}

func (r *FlowRepository) queryFlows(query string, args ...any) ([]domain.Flow, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying flows: %w", err)
	}
	defer rows.Close()

	var out []domain.Flow
	for rows.Next() {
		flow, err := scanFlow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *flow)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFlow(row rowScanner) (*domain.Flow, error) {
	var f domain.Flow
	var description, viewport, data sql.NullString
	var nodes, edges, tags, createdAt, updatedAt string

	err := row.Scan(&f.ID, &f.Name, &description, &nodes, &edges, &viewport,
		&data, &f.IsTemplate, &tags, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning flow: %w", err)
	}

	f.Description = description.String
	f.Nodes = json.RawMessage(nodes)
	f.Edges = json.RawMessage(edges)
	if viewport.Valid {
		f.Viewport = json.RawMessage(viewport.String)
	}
	if data.Valid {
		f.Data = json.RawMessage(data.String)
	}
	if err := json.Unmarshal([]byte(tags), &f.Tags); err != nil {
		f.Tags = nil
	}
	if f.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if f.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &f, nil
}

func flowTags(flow *domain.Flow) []string {
	if flow.Tags == nil {
		return []string{}
	}
	return flow.Tags
}

func rawOrDefault(raw json.RawMessage, def string) string {
	if len(raw) == 0 {
		return def
	}
	return string(raw)
}

func rawOrNull(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
