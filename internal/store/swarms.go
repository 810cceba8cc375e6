package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hive-mind/hivecore/internal/domain"
)

// ErrNotFound is returned when a lookup by id finds no row.
var ErrNotFound = errors.New("store: not found")

const timeLayout = time.RFC3339Nano

// InsertSwarm persists a new swarm row.
func (s *Store) InsertSwarm(ctx context.Context, sw domain.Swarm) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO swarms (id, name, objective, queen_type, status, max_workers, consensus_algorithm, auto_scale, encryption, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sw.ID, sw.Name, sw.Objective, string(sw.QueenType), string(sw.Status), sw.MaxWorkers,
		string(sw.ConsensusAlgorithm), boolToInt(sw.AutoScale), boolToInt(sw.Encryption),
		sw.CreatedAt.Format(timeLayout), sw.UpdatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert swarm: %w", err)
	}
	return nil
}

// UpdateSwarmStatus updates a swarm's status and updated_at timestamp.
func (s *Store) UpdateSwarmStatus(ctx context.Context, id string, status domain.SwarmStatus, updatedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE swarms SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), updatedAt.Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("update swarm status: %w", err)
	}
	return expectOneRow(res)
}

// GetSwarm fetches a single swarm by id.
func (s *Store) GetSwarm(ctx context.Context, id string) (domain.Swarm, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, objective, queen_type, status, max_workers, consensus_algorithm, auto_scale, encryption, created_at, updated_at
		FROM swarms WHERE id = ?`, id)
	return scanSwarm(row)
}

// ListActiveSwarms returns every swarm not in a terminal status.
func (s *Store) ListActiveSwarms(ctx context.Context) ([]domain.Swarm, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, objective, queen_type, status, max_workers, consensus_algorithm, auto_scale, encryption, created_at, updated_at
		FROM swarms WHERE status IN ('active', 'paused') ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list active swarms: %w", err)
	}
	defer rows.Close()

	var out []domain.Swarm
	for rows.Next() {
		sw, err := scanSwarm(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sw)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSwarm(row rowScanner) (domain.Swarm, error) {
	var sw domain.Swarm
	var queenType, status, algorithm string
	var autoScale, encryption int
	var createdAt, updatedAt string

	err := row.Scan(&sw.ID, &sw.Name, &sw.Objective, &queenType, &status, &sw.MaxWorkers,
		&algorithm, &autoScale, &encryption, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Swarm{}, ErrNotFound
	}
	if err != nil {
		return domain.Swarm{}, fmt.Errorf("scan swarm: %w", err)
	}

	sw.QueenType = domain.QueenType(queenType)
	sw.Status = domain.SwarmStatus(status)
	sw.ConsensusAlgorithm = domain.ConsensusAlgorithm(algorithm)
	sw.AutoScale = autoScale != 0
	sw.Encryption = encryption != 0
	sw.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	sw.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return sw, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
