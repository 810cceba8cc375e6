// Package store is the embedded-SQL persistence layer (spec.md §4.1, C1).
// It wraps a single modernc.org/sqlite database file with WAL journaling,
// a prepared-statement cache, transaction helpers, and a VACUUM INTO-based
// backup primitive. Both `.hive-mind/` and `.swarm/` (spec.md §6) are
// opened through this same Store type with a different migration set.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sirupsen/logrus"
)

// Store wraps one embedded-SQL database file.
type Store struct {
	db     *sql.DB
	path   string
	logger *logrus.Entry

	mu       sync.Mutex
	prepared map[string]*sql.Stmt
}

// Options configures how a Store opens its database file.
type Options struct {
	BusyTimeout   time.Duration
	CacheSizeKB   int   // negative cache_size pragma semantics: N KB regardless of page size
	MmapSizeBytes int64
}

func (o Options) withDefaults() Options {
	if o.BusyTimeout <= 0 {
		o.BusyTimeout = 5 * time.Second
	}
	if o.CacheSizeKB <= 0 {
		o.CacheSizeKB = 20000
	}
	if o.MmapSizeBytes <= 0 {
		o.MmapSizeBytes = 256 * 1024 * 1024
	}
	return o
}

// lockMarker returns the path of the sentinel file that records whether
// the previous session closed this database cleanly.
func lockMarker(path string) string { return path + ".owner" }

// ownerPID reads the PID recorded in marker, returning ok=false if the
// marker is missing or unparsable.
func ownerPID(marker string) (pid int, ok bool) {
	data, err := os.ReadFile(marker)
	if err != nil {
		return 0, false
	}
	pid, err = strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// isProcessAlive reports whether pid still refers to a running process, by
// sending it signal 0 (delivers nothing, only checks existence/permission).
func isProcessAlive(pid int) bool {
	return syscall.Kill(pid, 0) != syscall.ESRCH
}

// Open opens or creates the database at path. If a prior owner marker is
// present, its recorded PID is checked: a still-alive owner means another
// process may actively hold this database open, so Open fails rather than
// risk two writers on the same file. A dead owner means the previous session
// never reached a clean Close() — its WAL/SHM sidecars are left exactly as
// they are (never deleted) and SQLite's own WAL replay recovers whatever
// committed-but-uncheckpointed frames they hold before the handle is handed
// back (spec.md §4.1's "On open" crash-recovery step, realized as "recover",
// not "discard", so P10 durability holds across an unclean shutdown). Then
// applies WAL/synchronous/cache pragmas and runs migrations.
func Open(path string, logger *logrus.Logger, opts Options, migrations []Migration) (*Store, error) {
	opts = opts.withDefaults()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}

	marker := lockMarker(path)
	if _, err := os.Stat(marker); err == nil {
		if pid, ok := ownerPID(marker); ok && isProcessAlive(pid) {
			return nil, fmt.Errorf("store: %s is still owned by running process %d", path, pid)
		}
		if logger != nil {
			logger.WithField("path", path).Warn("store: stale owner marker from an unclean shutdown; sqlite will recover any uncheckpointed WAL frames on open")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer discipline; sqlite serializes writers anyway

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		fmt.Sprintf("PRAGMA busy_timeout=%d", opts.BusyTimeout.Milliseconds()),
		fmt.Sprintf("PRAGMA cache_size=-%d", opts.CacheSizeKB),
		fmt.Sprintf("PRAGMA mmap_size=%d", opts.MmapSizeBytes),
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: pragma %q: %w", p, err)
		}
	}

	if err := os.WriteFile(marker, []byte(fmt.Sprintf("%d", os.Getpid())), 0o644); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: write owner marker: %w", err)
	}

	var entry *logrus.Entry
	if logger != nil {
		entry = logger.WithField("store", filepath.Base(path))
	} else {
		entry = logrus.NewEntry(logrus.New())
	}

	s := &Store{db: db, path: path, logger: entry, prepared: make(map[string]*sql.Stmt)}

	if err := s.migrate(migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return s, nil
}

// DB exposes the underlying *sql.DB for callers that need raw access
// (repositories in this package). Not exported outside the module.
func (s *Store) DB() *sql.DB { return s.db }

// Prepared returns a cached prepared statement for the given name, lazily
// preparing it from query on first use (spec.md §4.1: "prepared(name) →
// stmt").
func (s *Store) Prepared(name, query string) (*sql.Stmt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stmt, ok := s.prepared[name]; ok {
		return stmt, nil
	}
	stmt, err := s.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("store: prepare %s: %w", name, err)
	}
	s.prepared[name] = stmt
	return stmt, nil
}

// Transaction runs fn inside a transaction, committing on success and
// rolling back on error or panic (spec.md §4.1: "all write paths either
// commit atomically or leave the Store unchanged").
func (s *Store) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(tx)
	return err
}

// Backup writes a consistent snapshot of the database to target using
// SQLite's VACUUM INTO, which works uniformly across drivers since it is
// plain SQL rather than a driver-specific backup API (spec.md §4.1/§6:
// "Backup output is a single file written through the Store's backup API").
func (s *Store) Backup(ctx context.Context, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("store: create backup dir: %w", err)
	}
	_, err := s.db.ExecContext(ctx, "VACUUM INTO ?", target)
	if err != nil {
		return fmt.Errorf("store: backup: %w", err)
	}
	return nil
}

// Close forces a full WAL checkpoint, truncates the WAL, and closes the
// handle, then removes the owner marker so the next Open finds no prior
// owner to check (spec.md §4.1: "on close: a full checkpoint is forced and the
// WAL is truncated").
func (s *Store) Close() error {
	s.mu.Lock()
	for name, stmt := range s.prepared {
		_ = stmt.Close()
		delete(s.prepared, name)
	}
	s.mu.Unlock()

	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.WithError(err).Warn("store: checkpoint on close failed")
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}

	_ = os.Remove(lockMarker(s.path))
	return nil
}
