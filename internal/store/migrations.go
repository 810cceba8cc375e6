package store

import (
	"fmt"
	"time"
)

// Migration is one append-only, versioned schema step (spec.md §4.1).
type Migration struct {
	Version     int
	Description string
	Statements  []string
}

const migrationsTableDDL = `
CREATE TABLE IF NOT EXISTS migrations (
	version     INTEGER PRIMARY KEY,
	description TEXT NOT NULL,
	applied_at  TEXT NOT NULL
);`

// migrate reads the highest applied version from the migrations table and
// applies each higher-versioned migration in its own transaction, which
// also records it (spec.md §4.1).
func (s *Store) migrate(migrations []Migration) error {
	if _, err := s.db.Exec(migrationsTableDDL); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	current, err := s.currentVersion()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := s.applyMigration(m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
	}
	return nil
}

func (s *Store) currentVersion() (int, error) {
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations")
	var v int
	if err := row.Scan(&v); err != nil {
		return 0, fmt.Errorf("read current migration version: %w", err)
	}
	return v, nil
}

func (s *Store) applyMigration(m Migration) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range m.Statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("statement %q: %w", stmt, err)
		}
	}

	if _, err := tx.Exec(
		"INSERT INTO migrations (version, description, applied_at) VALUES (?, ?, ?)",
		m.Version, m.Description, time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}

	return tx.Commit()
}

// HiveMindMigrations is the schema for `.hive-mind/hive.db`: swarms,
// agents, tasks, consensus_decisions, collective_memory (spec.md §6).
func HiveMindMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "initial hive-mind schema",
			Statements: []string{
				`CREATE TABLE IF NOT EXISTS swarms (
					id                  TEXT PRIMARY KEY,
					name                TEXT NOT NULL,
					objective           TEXT NOT NULL,
					queen_type          TEXT NOT NULL,
					status              TEXT NOT NULL,
					max_workers         INTEGER NOT NULL,
					consensus_algorithm TEXT NOT NULL,
					auto_scale          INTEGER NOT NULL DEFAULT 0,
					encryption          INTEGER NOT NULL DEFAULT 0,
					created_at          TEXT NOT NULL,
					updated_at          TEXT NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS agents (
					id            TEXT PRIMARY KEY,
					swarm_id      TEXT NOT NULL REFERENCES swarms(id),
					name          TEXT NOT NULL,
					type          TEXT NOT NULL,
					role          TEXT NOT NULL,
					status        TEXT NOT NULL,
					capabilities  TEXT NOT NULL DEFAULT '[]',
					current_tasks TEXT NOT NULL DEFAULT '[]',
					workload      REAL NOT NULL DEFAULT 0,
					metrics       TEXT NOT NULL DEFAULT '{}',
					created_at    TEXT NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_agents_swarm ON agents(swarm_id)`,
				`CREATE TABLE IF NOT EXISTS tasks (
					id                    TEXT PRIMARY KEY,
					swarm_id              TEXT NOT NULL REFERENCES swarms(id),
					assigned_agent_id     TEXT,
					parent_task_id        TEXT,
					subtask_ids           TEXT NOT NULL DEFAULT '[]',
					dependencies          TEXT NOT NULL DEFAULT '[]',
					description           TEXT NOT NULL,
					type                  TEXT NOT NULL,
					priority              INTEGER NOT NULL DEFAULT 5,
					status                TEXT NOT NULL,
					progress              INTEGER NOT NULL DEFAULT 0,
					resource_requirements TEXT NOT NULL DEFAULT '[]',
					schedule              TEXT NOT NULL DEFAULT '{}',
					tags                  TEXT NOT NULL DEFAULT '[]',
					metadata              TEXT NOT NULL DEFAULT '{}',
					created_at            TEXT NOT NULL,
					completed_at          TEXT
				)`,
				`CREATE INDEX IF NOT EXISTS idx_tasks_swarm ON tasks(swarm_id)`,
				`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
				`CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_task_id)`,
				// collective_memory is part of the hive-mind schema spec.md §6
				// names for this file (swarms, agents, tasks, consensus, collective
				// memory); it is kept for schema parity but no component reads or
				// writes it — C2 SharedMemory's namespace/TTL/LRU contract is
				// implemented entirely against `.swarm/swarm.db`'s memory_store
				// (see SwarmMigrations), which is the table spec.md §2 names as C2's
				// actual responsibility.
				`CREATE TABLE IF NOT EXISTS collective_memory (
					namespace     TEXT NOT NULL,
					key           TEXT NOT NULL,
					value         BLOB NOT NULL,
					type          TEXT NOT NULL,
					confidence    REAL NOT NULL DEFAULT 1.0,
					created_by    TEXT NOT NULL DEFAULT '',
					created_at    TEXT NOT NULL,
					tags          TEXT NOT NULL DEFAULT '[]',
					PRIMARY KEY (namespace, key)
				)`,
				`CREATE TABLE IF NOT EXISTS consensus_decisions (
					id             TEXT PRIMARY KEY,
					swarm_id       TEXT NOT NULL REFERENCES swarms(id),
					topic          TEXT NOT NULL,
					type           TEXT NOT NULL,
					options        TEXT NOT NULL,
					algorithm      TEXT NOT NULL,
					required_ratio REAL NOT NULL,
					votes          TEXT NOT NULL DEFAULT '{}',
					result         TEXT NOT NULL,
					confidence     REAL NOT NULL DEFAULT 0,
					modified_text  TEXT NOT NULL DEFAULT '',
					deadline       TEXT,
					created_at     TEXT NOT NULL
				)`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_consensus_unique ON consensus_decisions(swarm_id, topic, created_at)`,
				`CREATE TABLE IF NOT EXISTS metadata (
					key   TEXT PRIMARY KEY,
					value TEXT NOT NULL
				)`,
			},
		},
	}
}

// SwarmMigrations is the schema for `.swarm/swarm.db`: memory_store (C2)
// and the hook-coordination durable records (C4) (spec.md §6).
func SwarmMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "initial swarm (shared memory + coordination) schema",
			Statements: []string{
				`CREATE TABLE IF NOT EXISTS memory_store (
					namespace        TEXT NOT NULL,
					key              TEXT NOT NULL,
					value            BLOB NOT NULL,
					type             TEXT NOT NULL,
					confidence       REAL NOT NULL DEFAULT 1.0,
					created_by       TEXT NOT NULL DEFAULT '',
					created_at       TEXT NOT NULL,
					accessed_at      TEXT NOT NULL,
					access_count     INTEGER NOT NULL DEFAULT 0,
					compressed       INTEGER NOT NULL DEFAULT 0,
					size             INTEGER NOT NULL DEFAULT 0,
					ttl_seconds      INTEGER,
					expires_at_epoch INTEGER,
					tags             TEXT NOT NULL DEFAULT '[]',
					metadata         TEXT NOT NULL DEFAULT '{}',
					PRIMARY KEY (namespace, key)
				)`,
				`CREATE INDEX IF NOT EXISTS idx_memory_namespace ON memory_store(namespace)`,
				`CREATE INDEX IF NOT EXISTS idx_memory_expires ON memory_store(expires_at_epoch) WHERE expires_at_epoch IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_memory_accessed ON memory_store(accessed_at)`,
				`CREATE INDEX IF NOT EXISTS idx_memory_key_ns ON memory_store(key, namespace)`,
				`CREATE TABLE IF NOT EXISTS coordination_locks (
					lock_id           TEXT PRIMARY KEY,
					owner_process_id  TEXT NOT NULL,
					resource_key      TEXT NOT NULL,
					hook_type         TEXT NOT NULL,
					acquired_at       TEXT NOT NULL,
					expires_at        TEXT NOT NULL
				)`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_locks_resource ON coordination_locks(resource_key)`,
				`CREATE TABLE IF NOT EXISTS hook_executions (
					exec_id     TEXT PRIMARY KEY,
					hook_type   TEXT NOT NULL,
					process_id  TEXT NOT NULL,
					deps        TEXT NOT NULL DEFAULT '[]',
					status      TEXT NOT NULL,
					start_time  TEXT NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_execs_hooktype ON hook_executions(hook_type)`,
				`CREATE TABLE IF NOT EXISTS metadata (
					key   TEXT PRIMARY KEY,
					value TEXT NOT NULL
				)`,
			},
		},
	}
}
