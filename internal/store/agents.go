package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hive-mind/hivecore/internal/domain"
)

// InsertAgent persists a new agent row.
func (s *Store) InsertAgent(ctx context.Context, a domain.Agent) error {
	caps, _ := json.Marshal(a.Capabilities)
	tasks, _ := json.Marshal(a.CurrentTasks)
	metrics, _ := json.Marshal(a.Metrics)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, swarm_id, name, type, role, status, capabilities, current_tasks, workload, metrics, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SwarmID, a.Name, string(a.Type), string(a.Role), string(a.Status),
		string(caps), string(tasks), a.Workload, string(metrics), a.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

// UpdateAgent persists the mutable fields of an agent (status, tasks,
// workload, metrics).
func (s *Store) UpdateAgent(ctx context.Context, a domain.Agent) error {
	tasks, _ := json.Marshal(a.CurrentTasks)
	metrics, _ := json.Marshal(a.Metrics)

	res, err := s.db.ExecContext(ctx, `
		UPDATE agents SET status = ?, current_tasks = ?, workload = ?, metrics = ? WHERE id = ?`,
		string(a.Status), string(tasks), a.Workload, string(metrics), a.ID)
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	return expectOneRow(res)
}

// ListAgentsBySwarm returns every agent in a swarm.
func (s *Store) ListAgentsBySwarm(ctx context.Context, swarmID string) ([]domain.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, swarm_id, name, type, role, status, capabilities, current_tasks, workload, metrics, created_at
		FROM agents WHERE swarm_id = ? ORDER BY created_at`, swarmID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetAgent fetches a single agent by id.
func (s *Store) GetAgent(ctx context.Context, id string) (domain.Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, swarm_id, name, type, role, status, capabilities, current_tasks, workload, metrics, created_at
		FROM agents WHERE id = ?`, id)
	return scanAgent(row)
}

func scanAgent(row rowScanner) (domain.Agent, error) {
	var a domain.Agent
	var typ, role, status, caps, tasks, metrics, createdAt string

	err := row.Scan(&a.ID, &a.SwarmID, &a.Name, &typ, &role, &status, &caps, &tasks, &a.Workload, &metrics, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Agent{}, ErrNotFound
	}
	if err != nil {
		return domain.Agent{}, fmt.Errorf("scan agent: %w", err)
	}

	a.Type = domain.WorkerType(typ)
	a.Role = domain.AgentRole(role)
	a.Status = domain.AgentStatus(status)
	_ = json.Unmarshal([]byte(caps), &a.Capabilities)
	_ = json.Unmarshal([]byte(tasks), &a.CurrentTasks)
	_ = json.Unmarshal([]byte(metrics), &a.Metrics)
	a.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return a, nil
}
