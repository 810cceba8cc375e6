// Package swarm implements SwarmCore (spec.md §4.6, C6): swarm and agent
// lifecycle management.
package swarm

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hive-mind/hivecore/internal/domain"
	"github.com/hive-mind/hivecore/internal/errs"
	"github.com/hive-mind/hivecore/internal/events"
	"github.com/hive-mind/hivecore/internal/runtime"
	"github.com/hive-mind/hivecore/internal/sanitize"
	"github.com/hive-mind/hivecore/internal/store"
)

// Sealer seals and opens a swarm's persisted objective text when
// InitSwarmParams.Encryption is set (spec.md §3 Swarm.encryption). A nil
// Sealer on Core leaves the objective as sanitized plaintext regardless of
// the Encryption flag — the flag still records the caller's intent, but
// sealing it requires the encryption subsystem to actually be configured.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// capabilities is the fixed type→capability mapping (spec.md §4.6).
var capabilities = map[domain.WorkerType][]string{
	domain.WorkerResearcher: {"web-search", "data-gathering", "analysis", "synthesis"},
	domain.WorkerCoder:      {"code-generation", "implementation", "refactoring", "debugging"},
	domain.WorkerAnalyst:    {"data-analysis", "pattern-recognition", "reporting", "visualization"},
	domain.WorkerTester:     {"test-generation", "quality-assurance", "bug-detection", "validation"},
	domain.WorkerArchitect:  {"system-design", "architecture", "planning", "documentation"},
	domain.WorkerReviewer:   {"code-review", "quality-check", "feedback", "improvement"},
	domain.WorkerOptimizer:  {"performance-tuning", "optimization", "profiling", "enhancement"},
	domain.WorkerDocumenter: {"documentation", "explanation", "tutorial-creation", "knowledge-base"},
}

// Capabilities returns the fixed capability set for a worker type.
func Capabilities(t domain.WorkerType) []string { return capabilities[t] }

// InitSwarmParams is the validated input to InitSwarm.
type InitSwarmParams struct {
	Name                string `validate:"required"`
	Objective           string `validate:"required"`
	QueenType           domain.QueenType `validate:"required,oneof=strategic tactical adaptive"`
	MaxWorkers          int    `validate:"required,min=1,max=100"`
	ConsensusAlgorithm  domain.ConsensusAlgorithm `validate:"required,oneof=majority weighted quorum unanimous"`
	AutoScale           bool
	Encryption          bool
}

// Core is the C6 component.
type Core struct {
	st       *store.Store
	rt       *runtime.Runtime
	log      *logrus.Entry
	validate *validator.Validate
	sanitize *sanitize.Sanitizer
	sealer   Sealer
}

// New builds a Core over an already-open Store. sealer may be nil, in which
// case InitSwarmParams.Encryption is recorded on the Swarm row but has no
// sealing effect (see Sealer).
func New(st *store.Store, rt *runtime.Runtime, log *logrus.Entry, sealer Sealer) *Core {
	return &Core{st: st, rt: rt, log: log, validate: validator.New(), sanitize: sanitize.New(), sealer: sealer}
}

// InitSwarm validates every field, creates the Swarm row, and spawns its
// queen Agent (spec.md §4.6 initSwarm()).
func (c *Core) InitSwarm(ctx context.Context, p InitSwarmParams) (string, error) {
	if err := c.validate.Struct(p); err != nil {
		return "", errs.Wrap(errs.KindValidation, "swarm", "init swarm", err)
	}

	p.Name = c.sanitize.Text(p.Name)
	p.Objective = c.sanitize.Text(p.Objective)

	objective := p.Objective
	if p.Encryption && c.sealer != nil {
		sealed, err := c.sealer.Seal([]byte(p.Objective))
		if err != nil {
			return "", errs.Wrap(errs.KindFatal, "swarm", "seal objective", err)
		}
		objective = base64.StdEncoding.EncodeToString(sealed)
	}

	now := time.Now().UTC()
	sw := domain.Swarm{
		ID:                 uuid.NewString(),
		Name:               p.Name,
		Objective:          objective,
		QueenType:          p.QueenType,
		Status:             domain.SwarmActive,
		MaxWorkers:         p.MaxWorkers,
		ConsensusAlgorithm: p.ConsensusAlgorithm,
		AutoScale:          p.AutoScale,
		Encryption:         p.Encryption,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := c.st.InsertSwarm(ctx, sw); err != nil {
		return "", errs.Wrap(errs.KindStorage, "swarm", "insert swarm", err)
	}

	queen := domain.Agent{
		ID:        uuid.NewString(),
		SwarmID:   sw.ID,
		Name:      "queen",
		Type:      domain.WorkerArchitect,
		Role:      domain.RoleQueen,
		Status:    domain.AgentActive,
		CreatedAt: now,
	}
	if err := c.st.InsertAgent(ctx, queen); err != nil {
		return "", errs.Wrap(errs.KindStorage, "swarm", "insert queen agent", err)
	}

	c.emitSwarm(events.SwarmCreated, sw.ID, "", "")
	c.emitSwarm(events.AgentSpawned, sw.ID, queen.ID, string(queen.Role))
	return sw.ID, nil
}

// SpawnWorker creates a worker Agent with the fixed capability set for
// workerType (spec.md §4.6 spawnWorker()).
func (c *Core) SpawnWorker(ctx context.Context, swarmID string, workerType domain.WorkerType) (domain.Agent, error) {
	caps, ok := capabilities[workerType]
	if !ok {
		return domain.Agent{}, errs.New(errs.KindValidation, "swarm", fmt.Sprintf("unknown worker type %q", workerType))
	}

	agent := domain.Agent{
		ID:           uuid.NewString(),
		SwarmID:      swarmID,
		Name:         fmt.Sprintf("%s-%s", workerType, uuid.NewString()[:8]),
		Type:         workerType,
		Role:         domain.RoleWorker,
		Status:       domain.AgentIdle,
		Capabilities: caps,
		CreatedAt:    time.Now().UTC(),
	}
	if err := c.st.InsertAgent(ctx, agent); err != nil {
		return domain.Agent{}, errs.Wrap(errs.KindStorage, "swarm", "insert worker agent", err)
	}
	c.emitSwarm(events.AgentSpawned, swarmID, agent.ID, string(workerType))
	return agent, nil
}

// CancelSwarm cascades cancellation to every task and transitions the swarm
// to cancelled (spec.md §4.6 cancelSwarm()). taskCanceller is injected so
// this package doesn't import internal/orchestrator (it is the one being
// cancelled into, avoiding an import cycle).
func (c *Core) CancelSwarm(ctx context.Context, swarmID, reason string, cancelTasks func(ctx context.Context, swarmID, reason string) error) error {
	if cancelTasks != nil {
		if err := cancelTasks(ctx, swarmID, reason); err != nil {
			return errs.Wrap(errs.KindStorage, "swarm", "cascade cancel tasks", err)
		}
	}
	if err := c.st.UpdateSwarmStatus(ctx, swarmID, domain.SwarmCancelled, time.Now().UTC()); err != nil {
		return errs.Wrap(errs.KindStorage, "swarm", "update swarm status", err)
	}
	c.emitSwarm(events.SwarmStatusChanged, swarmID, "", string(domain.SwarmCancelled))
	return nil
}

// DecryptObjective reverses the sealing InitSwarm applies when a swarm was
// created with Encryption=true, returning the plaintext objective text. It
// is a no-op passthrough for swarms created without encryption.
func (c *Core) DecryptObjective(sw domain.Swarm) (string, error) {
	if !sw.Encryption || c.sealer == nil {
		return sw.Objective, nil
	}
	sealed, err := base64.StdEncoding.DecodeString(sw.Objective)
	if err != nil {
		return "", errs.Wrap(errs.KindFatal, "swarm", "decode sealed objective", err)
	}
	plaintext, err := c.sealer.Open(sealed)
	if err != nil {
		return "", errs.Wrap(errs.KindFatal, "swarm", "open sealed objective", err)
	}
	return string(plaintext), nil
}

func (c *Core) emitSwarm(kind events.SwarmEventKind, swarmID, entityID, detail string) {
	if c.rt == nil {
		return
	}
	c.rt.EmitSwarm(events.SwarmEvent{Kind: kind, SwarmID: swarmID, EntityID: entityID, Detail: detail})
}
