// Package app assembles the full component graph — both Store instances,
// SharedMemory, the hook pipeline, SwarmCore, the Orchestrator, Consensus,
// the event observer hub, and (when enabled) the introspection API server —
// behind a single App value that cmd/hivecore drives.
package app

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/hive-mind/hivecore/internal/api"
	"github.com/hive-mind/hivecore/internal/config"
	"github.com/hive-mind/hivecore/internal/consensus"
	"github.com/hive-mind/hivecore/internal/coordinator"
	"github.com/hive-mind/hivecore/internal/crypto"
	"github.com/hive-mind/hivecore/internal/hooks"
	"github.com/hive-mind/hivecore/internal/memory"
	"github.com/hive-mind/hivecore/internal/observer"
	"github.com/hive-mind/hivecore/internal/orchestrator"
	"github.com/hive-mind/hivecore/internal/pool"
	"github.com/hive-mind/hivecore/internal/runtime"
	"github.com/hive-mind/hivecore/internal/store"
	"github.com/hive-mind/hivecore/internal/swarm"
)

// App is the fully wired component graph for one process.
type App struct {
	Config  *config.Config
	Logger  *logrus.Logger
	Runtime *runtime.Runtime

	HiveStore  *store.Store
	SwarmStore *store.Store

	Memory       *memory.SharedMemory
	Pool         *pool.Pool
	Queue        *hooks.Queue
	Coordinator  *coordinator.Coordinator
	Swarm        *swarm.Core
	Orchestrator *orchestrator.Orchestrator
	Consensus    *consensus.Engine

	Hub *observer.Hub
	API *api.Server // nil unless cfg.API.Enabled
}

// Open wires every component together: open both databases, build the
// Runtime, and construct C2 through C9 over them (spec.md §6 persistent
// layout: `.hive-mind/` and `.swarm/`).
func Open(cfg *config.Config, log *logrus.Logger) (*App, error) {
	hiveStore, err := store.Open(cfg.Store.HiveMindPath, log, store.Options{
		BusyTimeout: cfg.Store.BusyTimeout, CacheSizeKB: cfg.Store.CacheSizeKB, MmapSizeBytes: cfg.Store.MmapSizeBytes,
	}, store.HiveMindMigrations())
	if err != nil {
		return nil, fmt.Errorf("app: open hive-mind store: %w", err)
	}

	swarmStore, err := store.Open(cfg.Store.SwarmPath, log, store.Options{
		BusyTimeout: cfg.Store.BusyTimeout, CacheSizeKB: cfg.Store.CacheSizeKB, MmapSizeBytes: cfg.Store.MmapSizeBytes,
	}, store.SwarmMigrations())
	if err != nil {
		_ = hiveStore.Close()
		return nil, fmt.Errorf("app: open swarm store: %w", err)
	}

	rt := runtime.New(log, runtime.Options{
		ChannelBuffer: cfg.Runtime.EventChannelBuffer,
		RedisAddr:     cfg.Runtime.RedisAddr,
	})

	var sealer *crypto.Sealer
	if cfg.Memory.EncryptionEnabled {
		key, err := crypto.DeriveKey([]byte(cfg.DataDir), []byte("hivecore-memory-encryption"))
		if err != nil {
			_ = hiveStore.Close()
			_ = swarmStore.Close()
			return nil, fmt.Errorf("app: derive memory encryption key: %w", err)
		}
		sealer, err = crypto.NewSealer(key)
		if err != nil {
			_ = hiveStore.Close()
			_ = swarmStore.Close()
			return nil, fmt.Errorf("app: build memory sealer: %w", err)
		}
	}

	memOpts := memory.Options{
		CacheMaxEntries:        cfg.Memory.CacheMaxEntries,
		CacheMaxBytes:          cfg.Memory.CacheMaxBytes,
		CompressThresholdBytes: int64(cfg.Memory.CompressThresholdBytes),
		GCInterval:             cfg.Memory.GCInterval,
	}
	if sealer != nil {
		memOpts.Sealer = sealer
	}
	mem := memory.New(swarmStore, rt, log.WithField("component", "memory"), memOpts)
	mem.StartBackgroundGC()

	procPool, err := pool.New(pool.Options{
		MinSize: cfg.Pool.MinSize, MaxSize: cfg.Pool.MaxSize, IdleTimeout: cfg.Pool.IdleTimeout,
		Command: "hivecore-hook-runner",
	}, log.WithField("component", "pool"))
	if err != nil {
		_ = hiveStore.Close()
		_ = swarmStore.Close()
		return nil, fmt.Errorf("app: start process pool: %w", err)
	}

	queue := hooks.New(procPool.ExecuteHook, rt, log.WithField("component", "hooks"), hooks.Options{
		MaxAttempts:    cfg.Hooks.MaxAttempts,
		BaseBackoff:    cfg.Hooks.BackoffBase,
		AdmissionRate:  rate.Limit(cfg.Hooks.AdmissionRPS),
		AdmissionBurst: cfg.Hooks.AdmissionBurst,
	})

	jwtSecret := []byte(cfg.DataDir + ":hivecore-coordination-lock-signing-key")
	coord := coordinator.New(swarmStore, queue, procPool, rt, log.WithField("component", "coordinator"), jwtSecret)

	var swarmSealer swarm.Sealer
	if sealer != nil {
		swarmSealer = sealer
	}
	core := swarm.New(hiveStore, rt, log.WithField("component", "swarm"), swarmSealer)
	orch := orchestrator.New(hiveStore, rt, log.WithField("component", "orchestrator"), orchestrator.Options{
		MaxConcurrentTasks: cfg.Swarm.MaxConcurrentTasks,
	})
	cons := consensus.New(hiveStore, rt, log.WithField("component", "consensus"))

	hub := observer.NewHub(rt, log.WithField("component", "observer"))

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.New(api.Deps{
			HiveStore: hiveStore,
			Memory:    mem,
			Consensus: cons,
			Hub:       hub,
			Logger:    log.WithField("component", "api"),
		})
	}

	return &App{
		Config: cfg, Logger: log, Runtime: rt,
		HiveStore: hiveStore, SwarmStore: swarmStore,
		Memory: mem, Pool: procPool, Queue: queue, Coordinator: coord,
		Swarm: core, Orchestrator: orch, Consensus: cons,
		Hub: hub, API: apiServer,
	}, nil
}

// Close releases every resource the App opened, in reverse dependency
// order (spec.md §5: background loops must drain before the process
// exits).
func (a *App) Close() error {
	a.Runtime.Shutdown()
	a.Pool.Shutdown()

	var firstErr error
	if err := a.SwarmStore.Close(); err != nil {
		firstErr = err
	}
	if err := a.HiveStore.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
