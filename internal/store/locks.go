package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrLockHeld is returned by AcquireLock when resourceKey is already held by
// a live (non-expired) lock.
var ErrLockHeld = errors.New("store: lock held")

// CoordinationLock is one row of coordination_locks (spec.md §4.4: advisory
// locks with a TTL, reclaimed once expired).
type CoordinationLock struct {
	LockID         string
	OwnerProcessID string
	ResourceKey    string
	HookType       string
	AcquiredAt     time.Time
	ExpiresAt      time.Time
}

// AcquireLock inserts a new advisory lock for resourceKey, reclaiming the
// slot if the previous holder's lock has expired (spec.md §4.4: "an expired
// lock is reclaimable by any waiter"). Returns ErrLockHeld if a live lock
// already owns the resource.
func (s *Store) AcquireLock(ctx context.Context, l CoordinationLock, now time.Time) error {
	return s.Transaction(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT expires_at FROM coordination_locks WHERE resource_key = ?`, l.ResourceKey)
		var expiresAt string
		err := row.Scan(&expiresAt)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// no existing holder
		case err != nil:
			return fmt.Errorf("check existing lock: %w", err)
		default:
			exp, _ := time.Parse(timeLayout, expiresAt)
			if exp.After(now) {
				return ErrLockHeld
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM coordination_locks WHERE resource_key = ?`, l.ResourceKey); err != nil {
				return fmt.Errorf("reclaim expired lock: %w", err)
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO coordination_locks (lock_id, owner_process_id, resource_key, hook_type, acquired_at, expires_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			l.LockID, l.OwnerProcessID, l.ResourceKey, l.HookType,
			l.AcquiredAt.Format(timeLayout), l.ExpiresAt.Format(timeLayout),
		)
		if err != nil {
			return fmt.Errorf("insert lock: %w", err)
		}
		return nil
	})
}

// ReleaseLock deletes a lock only if it is still owned by ownerProcessID
// (spec.md §4.4: "release is a no-op, not an error, if the lock already
// expired or was reclaimed by someone else").
func (s *Store) ReleaseLock(ctx context.Context, lockID, ownerProcessID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM coordination_locks WHERE lock_id = ? AND owner_process_id = ?`, lockID, ownerProcessID)
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// GetLock fetches a lock by its resource key, or ErrNotFound.
func (s *Store) GetLock(ctx context.Context, resourceKey string) (CoordinationLock, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT lock_id, owner_process_id, resource_key, hook_type, acquired_at, expires_at
		FROM coordination_locks WHERE resource_key = ?`, resourceKey)

	var l CoordinationLock
	var acquiredAt, expiresAt string
	err := row.Scan(&l.LockID, &l.OwnerProcessID, &l.ResourceKey, &l.HookType, &acquiredAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return CoordinationLock{}, ErrNotFound
	}
	if err != nil {
		return CoordinationLock{}, fmt.Errorf("get lock: %w", err)
	}
	l.AcquiredAt, _ = time.Parse(timeLayout, acquiredAt)
	l.ExpiresAt, _ = time.Parse(timeLayout, expiresAt)
	return l, nil
}

// GCExpiredLocks removes every lock whose expires_at is at or before now, and
// returns the count removed (spec.md §4.4 cleanup loop).
func (s *Store) GCExpiredLocks(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM coordination_locks WHERE expires_at <= ?`, now.Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("gc expired locks: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// HookExecution is one row of hook_executions (spec.md §4.4: registered so
// the dependency-wait and deadlock-detection logic can see in-flight hooks).
type HookExecution struct {
	ExecID    string
	HookType  string
	ProcessID string
	Deps      []string
	Status    string
	StartTime time.Time
}

// InsertHookExecution registers a new in-flight hook execution.
func (s *Store) InsertHookExecution(ctx context.Context, e HookExecution) error {
	deps, _ := json.Marshal(e.Deps)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hook_executions (exec_id, hook_type, process_id, deps, status, start_time)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ExecID, e.HookType, e.ProcessID, string(deps), e.Status, e.StartTime.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert hook execution: %w", err)
	}
	return nil
}

// UpdateHookExecutionStatus transitions an execution's status in place.
func (s *Store) UpdateHookExecutionStatus(ctx context.Context, execID, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE hook_executions SET status = ? WHERE exec_id = ?`, status, execID)
	if err != nil {
		return fmt.Errorf("update hook execution status: %w", err)
	}
	return expectOneRow(res)
}

// DeleteHookExecution removes a completed/failed execution record.
func (s *Store) DeleteHookExecution(ctx context.Context, execID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM hook_executions WHERE exec_id = ?`, execID)
	if err != nil {
		return fmt.Errorf("delete hook execution: %w", err)
	}
	return nil
}

// ListHookExecutionsByType returns every in-flight execution of a given hook
// type, used by the deadlock-cycle and would-block checks (spec.md §4.4).
func (s *Store) ListHookExecutionsByType(ctx context.Context, hookType string) ([]HookExecution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT exec_id, hook_type, process_id, deps, status, start_time
		FROM hook_executions WHERE hook_type = ?`, hookType)
	if err != nil {
		return nil, fmt.Errorf("list hook executions: %w", err)
	}
	defer rows.Close()
	return scanHookExecutions(rows)
}

// ListStaleHookExecutions returns every execution still "running" whose
// start_time is at or before the cutoff, for the cleanup loop to force-fail
// (spec.md §4.4).
func (s *Store) ListStaleHookExecutions(ctx context.Context, cutoff time.Time) ([]HookExecution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT exec_id, hook_type, process_id, deps, status, start_time
		FROM hook_executions WHERE status = 'running' AND start_time <= ?`, cutoff.Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("list stale hook executions: %w", err)
	}
	defer rows.Close()
	return scanHookExecutions(rows)
}

func scanHookExecutions(rows *sql.Rows) ([]HookExecution, error) {
	var out []HookExecution
	for rows.Next() {
		var e HookExecution
		var deps, startTime string
		if err := rows.Scan(&e.ExecID, &e.HookType, &e.ProcessID, &deps, &e.Status, &startTime); err != nil {
			return nil, fmt.Errorf("scan hook execution: %w", err)
		}
		_ = json.Unmarshal([]byte(deps), &e.Deps)
		e.StartTime, _ = time.Parse(timeLayout, startTime)
		out = append(out, e)
	}
	return out, rows.Err()
}

// EmergencyResetCoordination clears every lock and execution record
// (spec.md §4.4 emergencyReset()).
func (s *Store) EmergencyResetCoordination(ctx context.Context) error {
	return s.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM coordination_locks`); err != nil {
			return fmt.Errorf("clear locks: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM hook_executions`); err != nil {
			return fmt.Errorf("clear hook executions: %w", err)
		}
		return nil
	})
}
