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

// InsertTask persists a new task row.
func (s *Store) InsertTask(ctx context.Context, t domain.Task) error {
	subtasks, _ := json.Marshal(t.SubtaskIDs)
	deps, _ := json.Marshal(t.Dependencies)
	resources, _ := json.Marshal(t.ResourceRequirements)
	schedule, _ := json.Marshal(t.Schedule)
	tags, _ := json.Marshal(t.Tags)
	metadata, _ := json.Marshal(t.Metadata)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, swarm_id, assigned_agent_id, parent_task_id, subtask_ids, dependencies,
			description, type, priority, status, progress, resource_requirements, schedule, tags, metadata, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SwarmID, nullIfEmpty(t.AssignedAgentID), nullIfEmpty(t.ParentTaskID),
		string(subtasks), string(deps), t.Description, t.Type, t.Priority, string(t.Status),
		t.Progress, string(resources), string(schedule), string(tags), string(metadata),
		t.CreatedAt.Format(timeLayout), nullTime(t.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// UpdateTask persists the mutable fields of a task.
func (s *Store) UpdateTask(ctx context.Context, t domain.Task) error {
	subtasks, _ := json.Marshal(t.SubtaskIDs)
	metadata, _ := json.Marshal(t.Metadata)

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET assigned_agent_id = ?, subtask_ids = ?, status = ?, progress = ?, metadata = ?, completed_at = ?
		WHERE id = ?`,
		nullIfEmpty(t.AssignedAgentID), string(subtasks), string(t.Status), t.Progress,
		string(metadata), nullTime(t.CompletedAt), t.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return expectOneRow(res)
}

// GetTask fetches a single task by id.
func (s *Store) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := s.db.QueryRowContext(ctx, taskSelectCols+` FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// ListTasksBySwarm returns every task in a swarm.
func (s *Store) ListTasksBySwarm(ctx context.Context, swarmID string) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, taskSelectCols+` FROM tasks WHERE swarm_id = ? ORDER BY created_at`, swarmID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ListTasksByStatus returns every task in a swarm with the given status.
func (s *Store) ListTasksByStatus(ctx context.Context, swarmID string, status domain.TaskStatus) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, taskSelectCols+` FROM tasks WHERE swarm_id = ? AND status = ? ORDER BY created_at`, swarmID, string(status))
	if err != nil {
		return nil, fmt.Errorf("list tasks by status: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ListSubtasks returns every task whose parent_task_id is id.
func (s *Store) ListSubtasks(ctx context.Context, id string) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, taskSelectCols+` FROM tasks WHERE parent_task_id = ? ORDER BY created_at`, id)
	if err != nil {
		return nil, fmt.Errorf("list subtasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// TaskStatusHistogram counts tasks per status across a swarm.
func (s *Store) TaskStatusHistogram(ctx context.Context, swarmID string) (map[domain.TaskStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks WHERE swarm_id = ? GROUP BY status`, swarmID)
	if err != nil {
		return nil, fmt.Errorf("task status histogram: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.TaskStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan histogram row: %w", err)
		}
		out[domain.TaskStatus(status)] = count
	}
	return out, rows.Err()
}

const taskSelectCols = `SELECT id, swarm_id, assigned_agent_id, parent_task_id, subtask_ids, dependencies,
	description, type, priority, status, progress, resource_requirements, schedule, tags, metadata, created_at, completed_at`

func scanTasks(rows *sql.Rows) ([]domain.Task, error) {
	var out []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var assignedAgent, parentTask sql.NullString
	var subtasks, deps, resources, schedule, tags, metadata string
	var status string
	var createdAt string
	var completedAt sql.NullString

	err := row.Scan(&t.ID, &t.SwarmID, &assignedAgent, &parentTask, &subtasks, &deps,
		&t.Description, &t.Type, &t.Priority, &status, &t.Progress, &resources, &schedule,
		&tags, &metadata, &createdAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, ErrNotFound
	}
	if err != nil {
		return domain.Task{}, fmt.Errorf("scan task: %w", err)
	}

	t.AssignedAgentID = assignedAgent.String
	t.ParentTaskID = parentTask.String
	t.Status = domain.TaskStatus(status)
	_ = json.Unmarshal([]byte(subtasks), &t.SubtaskIDs)
	_ = json.Unmarshal([]byte(deps), &t.Dependencies)
	_ = json.Unmarshal([]byte(resources), &t.ResourceRequirements)
	_ = json.Unmarshal([]byte(schedule), &t.Schedule)
	_ = json.Unmarshal([]byte(tags), &t.Tags)
	_ = json.Unmarshal([]byte(metadata), &t.Metadata)
	t.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	if completedAt.Valid {
		ts, _ := time.Parse(timeLayout, completedAt.String)
		t.CompletedAt = &ts
	}
	return t, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(timeLayout)
}
