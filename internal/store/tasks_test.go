package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hive-mind/hivecore/internal/domain"
)

func openTaskFixture(t *testing.T) (*Store, domain.Swarm) {
	t.Helper()
	s := openHiveStore(t, filepath.Join(t.TempDir(), "hive.db"))
	t.Cleanup(func() { _ = s.Close() })

	sw := domain.Swarm{
		ID: "sw-tasks", Name: "n", Objective: "o", QueenType: domain.QueenStrategic,
		Status: domain.SwarmActive, MaxWorkers: 1, ConsensusAlgorithm: domain.AlgorithmMajority,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.InsertSwarm(context.Background(), sw))
	return s, sw
}

// TestTask_CompletionInvariant is P1: a task transitioned to completed
// status always ends with progress=100 and a non-nil completedAt.
func TestTask_CompletionInvariant(t *testing.T) {
	s, sw := openTaskFixture(t)
	ctx := context.Background()

	task := domain.Task{
		ID: "t-1", SwarmID: sw.ID, Description: "ship it", Type: "build",
		Status: domain.TaskRunning, Progress: 40, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.InsertTask(ctx, task))

	task.Status = domain.TaskCompleted
	task.Progress = 100
	now := time.Now().UTC()
	task.CompletedAt = &now
	require.NoError(t, s.UpdateTask(ctx, task))

	got, err := s.GetTask(ctx, "t-1")
	require.NoError(t, err)
	require.Equal(t, domain.TaskCompleted, got.Status)
	require.Equal(t, 100, got.Progress)
	require.NotNil(t, got.CompletedAt)
}

func TestTask_ParentSubtaskLinkage(t *testing.T) {
	s, sw := openTaskFixture(t)
	ctx := context.Background()

	parent := domain.Task{ID: "p-1", SwarmID: sw.ID, Description: "parent", Status: domain.TaskQueued, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.InsertTask(ctx, parent))

	child := domain.Task{ID: "c-1", SwarmID: sw.ID, ParentTaskID: "p-1", Description: "child", Status: domain.TaskQueued, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.InsertTask(ctx, child))

	parent.SubtaskIDs = append(parent.SubtaskIDs, "c-1")
	require.NoError(t, s.UpdateTask(ctx, parent))

	got, err := s.GetTask(ctx, "p-1")
	require.NoError(t, err)
	require.Equal(t, []string{"c-1"}, got.SubtaskIDs)

	subs, err := s.ListSubtasks(ctx, "p-1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.Equal(t, "c-1", subs[0].ID)
}

func TestTask_StatusHistogram(t *testing.T) {
	s, sw := openTaskFixture(t)
	ctx := context.Background()

	statuses := []domain.TaskStatus{domain.TaskQueued, domain.TaskQueued, domain.TaskRunning, domain.TaskCompleted}
	for i, status := range statuses {
		require.NoError(t, s.InsertTask(ctx, domain.Task{
			ID: "t-" + string(rune('a'+i)), SwarmID: sw.ID, Description: "d", Status: status, CreatedAt: time.Now().UTC(),
		}))
	}

	h, err := s.TaskStatusHistogram(ctx, sw.ID)
	require.NoError(t, err)
	require.Equal(t, 2, h[domain.TaskQueued])
	require.Equal(t, 1, h[domain.TaskRunning])
	require.Equal(t, 1, h[domain.TaskCompleted])
}

func TestTask_GetUnknown_ReturnsNotFound(t *testing.T) {
	s, _ := openTaskFixture(t)
	_, err := s.GetTask(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}
