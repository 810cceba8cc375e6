// Package api exposes the read-only introspection surface of spec.md §6:
// a minimal HTTP API for health, status, and aggregate metrics, plus the
// websocket event feed of internal/observer.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/hive-mind/hivecore/internal/consensus"
	"github.com/hive-mind/hivecore/internal/domain"
	"github.com/hive-mind/hivecore/internal/memory"
	"github.com/hive-mind/hivecore/internal/observer"
	"github.com/hive-mind/hivecore/internal/store"
)

// Server wires the gin engine to the core components it reports on.
type Server struct {
	engine    *gin.Engine
	hiveStore *store.Store
	mem       *memory.SharedMemory
	consensus *consensus.Engine
	hub       *observer.Hub
	startedAt time.Time
}

// Deps is everything Server needs read access to.
type Deps struct {
	HiveStore *store.Store
	Memory    *memory.SharedMemory
	Consensus *consensus.Engine
	Hub       *observer.Hub
	Logger    *logrus.Entry
}

// New builds a gin engine with the three read-only routes of spec.md §6.
func New(d Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(ginLogger(d.Logger), gin.Recovery())

	s := &Server{engine: r, hiveStore: d.HiveStore, mem: d.Memory, consensus: d.Consensus, hub: d.Hub, startedAt: time.Now()}

	r.GET("/healthz", s.handleHealthz)
	r.GET("/status", s.handleStatus)
	r.GET("/metrics", s.handleMetrics)
	if d.Hub != nil {
		r.GET("/events", func(c *gin.Context) { d.Hub.ServeWS(c.Writer, c.Request) })
	}
	return s
}

func ginLogger(log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if log != nil {
			log.WithField("path", c.Request.URL.Path).
				WithField("status", c.Writer.Status()).
				WithField("duration", time.Since(start)).
				Debug("api: request handled")
		}
	}
}

// Handler exposes the underlying http.Handler for the cmd entrypoint.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "uptime": time.Since(s.startedAt).String()})
}

// SwarmSummary is one row of the /status response (spec.md §6 `status`
// command: "list active swarms with agent counts, task-status histogram,
// memory-entry count, and consensus-decision count").
type SwarmSummary struct {
	Swarm            domain.Swarm           `json:"swarm"`
	AgentCount       int                     `json:"agent_count"`
	TaskHistogram    map[domain.TaskStatus]int `json:"task_histogram"`
	ConsensusCount   int64                   `json:"consensus_count"`
}

func (s *Server) handleStatus(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	swarms, err := s.hiveStore.ListActiveSwarms(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	summaries := make([]SwarmSummary, 0, len(swarms))
	for _, sw := range swarms {
		agents, err := s.hiveStore.ListAgentsBySwarm(ctx, sw.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		histogram, err := s.hiveStore.TaskStatusHistogram(ctx, sw.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		consensusCount := int64(0)
		if s.consensus != nil {
			consensusCount, _ = s.consensus.Count(ctx, sw.ID)
		}
		summaries = append(summaries, SwarmSummary{Swarm: sw, AgentCount: len(agents), TaskHistogram: histogram, ConsensusCount: consensusCount})
	}

	var memoryStats any
	if s.mem != nil {
		if snap, err := s.mem.StatsSnapshot(ctx); err == nil {
			memoryStats = snap
		}
	}

	c.JSON(http.StatusOK, gin.H{"swarms": summaries, "memory": memoryStats})
}

func (s *Server) handleMetrics(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	swarms, err := s.hiveStore.ListActiveSwarms(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	totalAgents, totalTasks := 0, 0
	aggregateHistogram := map[domain.TaskStatus]int{}
	for _, sw := range swarms {
		agents, err := s.hiveStore.ListAgentsBySwarm(ctx, sw.ID)
		if err != nil {
			continue
		}
		totalAgents += len(agents)
		histogram, err := s.hiveStore.TaskStatusHistogram(ctx, sw.ID)
		if err != nil {
			continue
		}
		for status, n := range histogram {
			aggregateHistogram[status] += n
			totalTasks += n
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"active_swarms":    len(swarms),
		"total_agents":     totalAgents,
		"total_tasks":      totalTasks,
		"task_histogram":   aggregateHistogram,
	})
}
