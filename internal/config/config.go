// Package config assembles the core's own default/environment-variable
// configuration layer. This is deliberately small: the outer CLI's
// config-file loading and presets are out of scope (spec.md §1); this
// package only owns the defaults and the §6 environment-variable
// overrides (HIVE_MAX_AGENTS, HIVE_MAX_CONCURRENT_HOOKS, HIVE_DATA_DIR).
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds every tunable the core reads at startup.
type Config struct {
	Environment string `mapstructure:"environment" validate:"oneof=development staging production"`
	LogLevel    string `mapstructure:"log_level" validate:"required"`
	LogFormat   string `mapstructure:"log_format" validate:"oneof=json text"`

	DataDir string `mapstructure:"data_dir" validate:"required"`

	Store   StoreConfig   `mapstructure:"store"`
	Memory  MemoryConfig  `mapstructure:"memory"`
	Hooks   HooksConfig   `mapstructure:"hooks"`
	Pool    PoolConfig    `mapstructure:"pool"`
	Swarm   SwarmConfig   `mapstructure:"swarm"`
	Runtime RuntimeConfig `mapstructure:"runtime"`
	API     APIConfig     `mapstructure:"api"`
}

// StoreConfig configures C1.
type StoreConfig struct {
	HiveMindPath  string        `mapstructure:"hive_mind_path"`
	SwarmPath     string        `mapstructure:"swarm_path"`
	BusyTimeout   time.Duration `mapstructure:"busy_timeout"`
	CacheSizeKB   int           `mapstructure:"cache_size_kb"`
	MmapSizeBytes int64         `mapstructure:"mmap_size_bytes"`
}

// MemoryConfig configures C2.
type MemoryConfig struct {
	CacheMaxEntries        int           `mapstructure:"cache_max_entries"`
	CacheMaxBytes          int64         `mapstructure:"cache_max_bytes"`
	CompressThresholdBytes int           `mapstructure:"compress_threshold_bytes"`
	GCInterval             time.Duration `mapstructure:"gc_interval"`
	DefaultNamespace       string        `mapstructure:"default_namespace"`
	EncryptionEnabled      bool          `mapstructure:"encryption_enabled"`
}

// HooksConfig configures C3.
type HooksConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	MetricsWindow  int           `mapstructure:"metrics_window"`
	AdmissionRPS   float64       `mapstructure:"admission_rps"`
	AdmissionBurst int           `mapstructure:"admission_burst"`
}

// PoolConfig configures C5.
type PoolConfig struct {
	MinSize     int           `mapstructure:"min_size" validate:"gte=1"`
	MaxSize     int           `mapstructure:"max_size" validate:"gtefield=MinSize"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	KillTimeout time.Duration `mapstructure:"kill_timeout"`
}

// SwarmConfig configures C6/C8 defaults.
type SwarmConfig struct {
	MaxWorkers         int `mapstructure:"max_workers" validate:"gte=1,lte=100"`
	MaxConcurrentTasks int `mapstructure:"max_concurrent_tasks" validate:"gte=1"`
	MaxConcurrentHooks int `mapstructure:"max_concurrent_hooks" validate:"gte=1"`
}

// RuntimeConfig configures the Runtime (§4.13).
type RuntimeConfig struct {
	CoordinatorCleanupInterval time.Duration `mapstructure:"coordinator_cleanup_interval"`
	HookMetricsInterval        time.Duration `mapstructure:"hook_metrics_interval"`
	RedisAddr                  string        `mapstructure:"redis_addr"`
	EventChannelBuffer         int           `mapstructure:"event_channel_buffer"`
}

// APIConfig configures the introspection HTTP surface (§4.14).
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load reads defaults, applies HIVE_* environment overrides, and validates
// the result. It never reads a user config file — that loading is the
// outer CLI's job (spec.md §1, out of scope here).
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("HIVE")
	v.AutomaticEnv()
	bindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return &cfg, nil
}

func bindEnv(v *viper.Viper) {
	// HIVE_MAX_AGENTS overrides swarm.max_workers; HIVE_MAX_CONCURRENT_HOOKS
	// overrides swarm.max_concurrent_hooks; HIVE_DATA_DIR overrides data_dir.
	// These three are named explicitly in spec.md §6.
	_ = v.BindEnv("swarm.max_workers", "HIVE_MAX_AGENTS")
	_ = v.BindEnv("swarm.max_concurrent_hooks", "HIVE_MAX_CONCURRENT_HOOKS")
	_ = v.BindEnv("data_dir", "HIVE_DATA_DIR")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("data_dir", ".")

	v.SetDefault("store.hive_mind_path", ".hive-mind/hive.db")
	v.SetDefault("store.swarm_path", ".swarm/swarm.db")
	v.SetDefault("store.busy_timeout", "5s")
	v.SetDefault("store.cache_size_kb", 20000)
	v.SetDefault("store.mmap_size_bytes", int64(256*1024*1024))

	v.SetDefault("memory.cache_max_entries", 10000)
	v.SetDefault("memory.cache_max_bytes", int64(64*1024*1024))
	v.SetDefault("memory.compress_threshold_bytes", 4096)
	v.SetDefault("memory.gc_interval", "5m")
	v.SetDefault("memory.default_namespace", "default")
	v.SetDefault("memory.encryption_enabled", false)

	v.SetDefault("hooks.max_attempts", 3)
	v.SetDefault("hooks.backoff_base", "250ms")
	v.SetDefault("hooks.metrics_window", 100)
	v.SetDefault("hooks.admission_rps", 50.0)
	v.SetDefault("hooks.admission_burst", 100)

	v.SetDefault("pool.min_size", 1)
	v.SetDefault("pool.max_size", 3)
	v.SetDefault("pool.idle_timeout", "30s")
	v.SetDefault("pool.kill_timeout", "5s")

	v.SetDefault("swarm.max_workers", 10)
	v.SetDefault("swarm.max_concurrent_tasks", 10)
	v.SetDefault("swarm.max_concurrent_hooks", 3)

	v.SetDefault("runtime.coordinator_cleanup_interval", "10s")
	v.SetDefault("runtime.hook_metrics_interval", "30s")
	v.SetDefault("runtime.redis_addr", "")
	v.SetDefault("runtime.event_channel_buffer", 256)

	v.SetDefault("api.enabled", false)
	v.SetDefault("api.addr", ":8787")
}

var validate = validator.New()

func validateConfig(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
