// Package memory implements SharedMemory (spec.md §4.2, C2): typed access
// to the memory_store table fronted by an in-process LRU cache, plus
// background TTL garbage collection. When a Sealer is configured, values are
// encrypted before they reach the store and decrypted on the way out; the
// cache always holds plaintext.
package memory

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hive-mind/hivecore/internal/domain"
	"github.com/hive-mind/hivecore/internal/errs"
	"github.com/hive-mind/hivecore/internal/events"
	"github.com/hive-mind/hivecore/internal/runtime"
	"github.com/hive-mind/hivecore/internal/store"
)

// Sealer seals and opens memory values at rest (spec.md §3 Swarm.encryption).
// A nil Sealer (the default) leaves values unencrypted.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// Options configures store behavior (cache bounds, compression
// threshold, GC interval).
type Options struct {
	CacheMaxEntries        int
	CacheMaxBytes          int64
	CompressThresholdBytes int64
	GCInterval             time.Duration
	Sealer                 Sealer
}

func (o Options) withDefaults() Options {
	if o.CacheMaxEntries <= 0 {
		o.CacheMaxEntries = 10_000
	}
	if o.CacheMaxBytes <= 0 {
		o.CacheMaxBytes = 64 * 1024 * 1024
	}
	if o.CompressThresholdBytes <= 0 {
		o.CompressThresholdBytes = 4096
	}
	if o.GCInterval <= 0 {
		o.GCInterval = 5 * time.Minute
	}
	return o
}

// SharedMemory is the C2 component: typed collective-memory access.
type SharedMemory struct {
	store  *store.Store
	rt     *runtime.Runtime
	log    *logrus.Entry
	opts   Options
	cache  *lru
	sealer Sealer
}

// New builds a SharedMemory over an already-open Store.
func New(st *store.Store, rt *runtime.Runtime, log *logrus.Entry, opts Options) *SharedMemory {
	opts = opts.withDefaults()
	return &SharedMemory{
		store:  st,
		rt:     rt,
		log:    log,
		opts:   opts,
		cache:  newLRU(opts.CacheMaxEntries, opts.CacheMaxBytes),
		sealer: opts.Sealer,
	}
}

// StoreParams configures a Store call's optional fields.
type StoreParams struct {
	Namespace              string
	TTLSeconds             *int64
	Tags                   []string
	Metadata               domain.MemoryMetadata
	CompressThresholdBytes int64 // 0 uses the SharedMemory default
	CreatedBy              string
}

// Store upserts a value, marking it compressed if its serialized size
// exceeds the configured threshold (spec.md §4.2 store()). value is
// persisted as-is if it is a string or []byte; any other value is
// JSON-encoded. Entries with a TTL are not kept in the cache.
func (m *SharedMemory) Store(ctx context.Context, key string, value any, p StoreParams) error {
	if p.Namespace == "" {
		return errs.New(errs.KindValidation, "memory", "namespace is required")
	}

	var raw []byte
	switch v := value.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return errs.Wrap(errs.KindValidation, "memory", "encode value", err)
		}
		raw = encoded
	}

	threshold := p.CompressThresholdBytes
	if threshold <= 0 {
		threshold = m.opts.CompressThresholdBytes
	}

	now := time.Now().UTC()
	entry := domain.MemoryEntry{
		Namespace:   p.Namespace,
		Key:         key,
		Value:       raw,
		Type:        domain.MemoryContext,
		Confidence:  1.0,
		CreatedBy:   p.CreatedBy,
		CreatedAt:   now,
		AccessedAt:  now,
		AccessCount: 0,
		Compressed:  int64(len(raw)) > threshold,
		Size:        int64(len(raw)),
		TTLSeconds:  p.TTLSeconds,
		Tags:        p.Tags,
		Metadata:    p.Metadata,
	}
	if p.TTLSeconds != nil {
		exp := now.Add(time.Duration(*p.TTLSeconds) * time.Second).Unix()
		entry.ExpiresAtEpoch = &exp
	}

	if m.sealer != nil {
		sealed, err := m.sealer.Seal(raw)
		if err != nil {
			return errs.Wrap(errs.KindFatal, "memory", "seal value", err)
		}
		entry.Value = sealed
	}

	if err := m.store.UpsertMemory(ctx, entry); err != nil {
		return errs.Wrap(errs.KindStorage, "memory", "upsert", err)
	}

	m.cache.put(p.Namespace, key, raw)
	if m.rt != nil {
		m.rt.EmitMemory(events.MemoryEvent{Kind: events.MemoryStored, Namespace: p.Namespace, Key: key})
	}
	return nil
}

// Retrieve returns the decoded value, or (nil, false) if absent or expired
// (spec.md §4.2 retrieve()). The cache is consulted first; a miss falls
// through to the Store, which remains the source of truth.
func (m *SharedMemory) Retrieve(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	if cached, ok := m.cache.get(namespace, key); ok {
		go m.touchAsync(namespace, key)
		return cached, true, nil
	}

	entry, err := m.store.GetMemory(ctx, namespace, key)
	if err == store.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.Wrap(errs.KindStorage, "memory", "get", err)
	}

	if entry.ExpiresAtEpoch != nil && *entry.ExpiresAtEpoch <= time.Now().Unix() {
		_ = m.store.DeleteMemory(ctx, namespace, key)
		m.cache.remove(namespace, key)
		if m.rt != nil {
			m.rt.EmitMemory(events.MemoryEvent{Kind: events.MemoryExpired, Namespace: namespace, Key: key})
		}
		return nil, false, nil
	}

	if err := m.store.TouchMemory(ctx, namespace, key, time.Now().UTC()); err != nil {
		m.log.WithError(err).Warn("memory: touch on hit failed")
	}

	value := entry.Value
	if m.sealer != nil {
		opened, err := m.sealer.Open(value)
		if err != nil {
			return nil, false, errs.Wrap(errs.KindFatal, "memory", "open sealed value", err)
		}
		value = opened
	}

	if entry.ExpiresAtEpoch == nil {
		m.cache.put(namespace, key, value)
	}
	return value, true, nil
}

// touchAsync refreshes accessedAt/accessCount for a cache hit without
// making the caller wait on a write the cache already answered.
func (m *SharedMemory) touchAsync(namespace, key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.store.TouchMemory(ctx, namespace, key, time.Now().UTC()); err != nil {
		m.log.WithError(err).Debug("memory: async touch on cache hit failed")
	}
}

// List returns entries in a namespace ordered by accessedAt desc.
func (m *SharedMemory) List(ctx context.Context, namespace string, limit, offset int) ([]domain.MemoryEntry, error) {
	entries, err := m.store.ListMemory(ctx, namespace, limit, offset)
	if err != nil {
		return nil, errs.Wrap(errs.KindStorage, "memory", "list", err)
	}
	return entries, nil
}

// SearchParams narrows a Search call (spec.md §4.2 search()).
type SearchParams struct {
	Pattern   string
	Namespace string
	Tags      []string
	Limit     int
	Offset    int
}

// Search filters by key pattern, namespace, and tags.
func (m *SharedMemory) Search(ctx context.Context, p SearchParams) ([]domain.MemoryEntry, error) {
	entries, err := m.store.SearchMemory(ctx, store.SearchMemoryParams{
		Pattern: p.Pattern, Namespace: p.Namespace, Tags: p.Tags, Limit: p.Limit, Offset: p.Offset,
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindStorage, "memory", "search", err)
	}
	return entries, nil
}

// Delete removes one entry and evicts its cache key.
func (m *SharedMemory) Delete(ctx context.Context, namespace, key string) error {
	if err := m.store.DeleteMemory(ctx, namespace, key); err != nil {
		return errs.Wrap(errs.KindStorage, "memory", "delete", err)
	}
	m.cache.remove(namespace, key)
	if m.rt != nil {
		m.rt.EmitMemory(events.MemoryEvent{Kind: events.MemoryDeleted, Namespace: namespace, Key: key})
	}
	return nil
}

// Clear removes every entry in a namespace and evicts matching cache keys.
func (m *SharedMemory) Clear(ctx context.Context, namespace string) (int64, error) {
	n, err := m.store.ClearMemoryNamespace(ctx, namespace)
	if err != nil {
		return 0, errs.Wrap(errs.KindStorage, "memory", "clear", err)
	}
	m.cache.clearNamespace(namespace)
	return n, nil
}

// NamespaceStats is a per-namespace stats row.
type NamespaceStats = store.MemoryNamespaceStats

// CombinedStats reports per-namespace storage stats plus cache
// effectiveness (spec.md §4.2 stats()).
type CombinedStats struct {
	Namespaces []NamespaceStats
	Cache      Stats
}

// StatsSnapshot reports per-namespace counts/sizes plus cache metrics.
func (m *SharedMemory) StatsSnapshot(ctx context.Context) (CombinedStats, error) {
	ns, err := m.store.MemoryStats(ctx)
	if err != nil {
		return CombinedStats{}, errs.Wrap(errs.KindStorage, "memory", "stats", err)
	}
	return CombinedStats{Namespaces: ns, Cache: m.cache.stats()}, nil
}

// GC deletes every expired row and fires a "gc" event with the count
// (spec.md §4.2 gc(), P2).
func (m *SharedMemory) GC(ctx context.Context) (int64, error) {
	n, err := m.store.GCExpiredMemory(ctx, time.Now().Unix())
	if err != nil {
		return 0, errs.Wrap(errs.KindStorage, "memory", "gc", err)
	}
	if n > 0 && m.rt != nil {
		m.rt.EmitMemory(events.MemoryEvent{Kind: events.MemoryGC, Count: int(n)})
	}
	return n, nil
}

// StartBackgroundGC registers the periodic GC loop on the Runtime (spec.md
// §4.2 "Background GC: runs on a fixed interval", §5).
func (m *SharedMemory) StartBackgroundGC() {
	if m.rt == nil {
		return
	}
	m.rt.Ticker("shared-memory-gc", m.opts.GCInterval, func(ctx context.Context) {
		if _, err := m.GC(ctx); err != nil {
			m.log.WithError(err).Warn("memory: background gc failed")
		}
	})
}
