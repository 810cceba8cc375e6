// Package domain holds the entity types of spec.md §3. Heterogeneous
// "metadata: any" bags from the source are replaced with the tagged-variant
// records below (spec.md §9); opaque user payload stays an owned byte
// buffer rather than interface{}.
package domain

import "time"

// QueenType enumerates Swarm.queenType.
type QueenType string

const (
	QueenStrategic QueenType = "strategic"
	QueenTactical  QueenType = "tactical"
	QueenAdaptive  QueenType = "adaptive"
)

// SwarmStatus enumerates Swarm.status.
type SwarmStatus string

const (
	SwarmActive    SwarmStatus = "active"
	SwarmPaused    SwarmStatus = "paused"
	SwarmCompleted SwarmStatus = "completed"
	SwarmCancelled SwarmStatus = "cancelled"
)

// ConsensusAlgorithm enumerates the fixed algorithm set.
type ConsensusAlgorithm string

const (
	AlgorithmMajority  ConsensusAlgorithm = "majority"
	AlgorithmWeighted  ConsensusAlgorithm = "weighted"
	AlgorithmQuorum    ConsensusAlgorithm = "quorum"
	AlgorithmUnanimous ConsensusAlgorithm = "unanimous"
)

// Swarm is the top-level coordination unit (spec.md §3).
type Swarm struct {
	ID                 string
	Name               string
	Objective          string
	QueenType          QueenType
	Status             SwarmStatus
	MaxWorkers         int
	ConsensusAlgorithm ConsensusAlgorithm
	AutoScale          bool
	Encryption         bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// AgentRole enumerates Agent.role.
type AgentRole string

const (
	RoleQueen  AgentRole = "queen"
	RoleWorker AgentRole = "worker"
)

// AgentStatus enumerates Agent.status.
type AgentStatus string

const (
	AgentIdle       AgentStatus = "idle"
	AgentActive     AgentStatus = "active"
	AgentBusy       AgentStatus = "busy"
	AgentFailed     AgentStatus = "failed"
	AgentTerminated AgentStatus = "terminated"
)

// WorkerType is the closed set of worker specializations (spec.md §4.6).
// Restricted to an enum-over-strings per spec.md §9's "dynamic worker type"
// redesign note.
type WorkerType string

const (
	WorkerResearcher WorkerType = "researcher"
	WorkerCoder      WorkerType = "coder"
	WorkerAnalyst    WorkerType = "analyst"
	WorkerTester     WorkerType = "tester"
	WorkerArchitect  WorkerType = "architect"
	WorkerReviewer   WorkerType = "reviewer"
	WorkerOptimizer  WorkerType = "optimizer"
	WorkerDocumenter WorkerType = "documenter"
)

// AgentMetrics tracks agent effectiveness; kept as a concrete struct rather
// than a metadata bag.
type AgentMetrics struct {
	TasksCompleted int
	TasksFailed    int
	SuccessRate    float64
	BusyDuration   time.Duration
	WallDuration   time.Duration
}

// Agent is a queen or worker agent within a swarm (spec.md §3).
type Agent struct {
	ID           string
	SwarmID      string
	Name         string
	Type         WorkerType
	Role         AgentRole
	Status       AgentStatus
	Capabilities []string
	CurrentTasks []string
	Workload     float64
	Metrics      AgentMetrics
	CreatedAt    time.Time
}

// DependencyKind enumerates the four PM-style dependency kinds (spec.md §3).
type DependencyKind string

const (
	DepFinishToStart  DependencyKind = "finish-to-start"
	DepStartToStart   DependencyKind = "start-to-start"
	DepFinishToFinish DependencyKind = "finish-to-finish"
	DepStartToFinish  DependencyKind = "start-to-finish"
)

// TaskDependency is a single declared dependency edge.
type TaskDependency struct {
	TaskID string
	Kind   DependencyKind
	LagMs  int64
}

// TaskStatus enumerates Task.status.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// ResourceRequirement names a resource pool and the quantity a task claims
// from it for the duration of its execution.
type ResourceRequirement struct {
	ResourceKey string
	Amount      float64
}

// TaskSchedule is the optional scheduling envelope for a task.
type TaskSchedule struct {
	NotBefore *time.Time
	Deadline  *time.Time
}

// TaskMetadata is the tagged-variant replacement for the source's
// "metadata: any" bag on tasks (spec.md §9).
type TaskMetadata struct {
	Source       string
	Retryable    bool
	Labels       map[string]string
	OpaquePayload []byte
}

// Task is a unit of work within a swarm (spec.md §3).
type Task struct {
	ID                   string
	SwarmID              string
	AssignedAgentID      string
	ParentTaskID         string
	SubtaskIDs           []string
	Dependencies         []TaskDependency
	Description          string
	Type                 string
	Priority             int
	Status               TaskStatus
	Progress             int
	ResourceRequirements []ResourceRequirement
	Schedule             TaskSchedule
	Tags                 []string
	Metadata             TaskMetadata
	CreatedAt            time.Time
	CompletedAt          *time.Time
}

// MemoryType enumerates MemoryEntry.type.
type MemoryType string

const (
	MemoryContext   MemoryType = "context"
	MemoryConfig    MemoryType = "config"
	MemoryMetrics   MemoryType = "metrics"
	MemoryKnowledge MemoryType = "knowledge"
	MemoryInsight   MemoryType = "insight"
	MemoryDecision  MemoryType = "decision"
	MemoryArtifact  MemoryType = "artifact"
)

// MemoryMetadata is the tagged-variant replacement for the source's
// "metadata: any" bag on memory entries.
type MemoryMetadata struct {
	Source string
	Labels map[string]string
}

// MemoryEntry is a row of collective memory (spec.md §3).
type MemoryEntry struct {
	Namespace      string
	Key            string
	Value          []byte
	Type           MemoryType
	Confidence     float64
	CreatedBy      string
	CreatedAt      time.Time
	AccessedAt     time.Time
	AccessCount    int64
	Compressed     bool
	Size           int64
	TTLSeconds     *int64
	ExpiresAtEpoch *int64
	Tags           []string
	Metadata       MemoryMetadata
}

// ConsensusType enumerates the proposal type (spec.md §4.9).
type ConsensusType string

const (
	ConsensusStrategic  ConsensusType = "strategic"
	ConsensusTactical   ConsensusType = "tactical"
	ConsensusOperational ConsensusType = "operational"
)

// ConsensusResult enumerates ConsensusDecision.result.
type ConsensusResult string

const (
	ResultPending  ConsensusResult = "pending"
	ResultApproved ConsensusResult = "approved"
	ResultRejected ConsensusResult = "rejected"
	ResultModified ConsensusResult = "modified"
)

// Vote is one voter's ballot.
type Vote struct {
	VoterID   string
	Choice    string
	Weight    float64
	Rationale string
	Ts        time.Time
}

// ConsensusDecision is a proposal plus its vote tally (spec.md §3).
type ConsensusDecision struct {
	ID            string
	SwarmID       string
	Topic         string
	Type          ConsensusType
	Options       []string
	Algorithm     ConsensusAlgorithm
	RequiredRatio float64
	Votes         map[string]Vote
	Result        ConsensusResult
	Confidence    float64
	ModifiedText  string
	Deadline      *time.Time
	CreatedAt     time.Time
}

// HookPriority enumerates HookTask.priority.
type HookPriority string

const (
	PriorityHigh   HookPriority = "high"
	PriorityMedium HookPriority = "medium"
	PriorityLow    HookPriority = "low"
)

// HookType is the fixed enumeration of spec.md §4.3.
type HookType string

const (
	HookPreTask         HookType = "pre-task"
	HookPreEdit         HookType = "pre-edit"
	HookPreRead         HookType = "pre-read"
	HookPreBash         HookType = "pre-bash"
	HookPostEdit        HookType = "post-edit"
	HookPostTask        HookType = "post-task"
	HookNotify          HookType = "notify"
	HookSessionRestore  HookType = "session-restore"
	HookSessionEnd      HookType = "session-end"
)

// HookTaskStatus enumerates HookTask.status.
type HookTaskStatus string

const (
	HookTaskQueued    HookTaskStatus = "queued"
	HookTaskRunning   HookTaskStatus = "running"
	HookTaskCompleted HookTaskStatus = "completed"
	HookTaskFailed    HookTaskStatus = "failed"
)

// HookExecutionStatus enumerates HookExecution.status.
type HookExecutionStatus string

const (
	ExecPending   HookExecutionStatus = "pending"
	ExecRunning   HookExecutionStatus = "running"
	ExecCompleted HookExecutionStatus = "completed"
	ExecFailed    HookExecutionStatus = "failed"
)
