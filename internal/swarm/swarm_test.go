package swarm

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/hive-mind/hivecore/internal/domain"
	"github.com/hive-mind/hivecore/internal/queen"
	"github.com/hive-mind/hivecore/internal/store"
)

var errBoom = errors.New("cascade failed")

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.FatalLevel)
	return l
}

func newTestCore(t *testing.T) (*Core, *store.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hive.db")
	st, err := store.Open(path, testLogger(), store.Options{}, store.HiveMindMigrations())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st, nil, logrus.NewEntry(testLogger()), nil), st
}

func TestInitSwarm_CreatesSwarmAndQueen(t *testing.T) {
	c, st := newTestCore(t)
	ctx := context.Background()

	id, err := c.InitSwarm(ctx, InitSwarmParams{
		Name: "n", Objective: "Build REST API with tests", QueenType: domain.QueenStrategic,
		MaxWorkers: 5, ConsensusAlgorithm: domain.AlgorithmMajority,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	sw, err := st.GetSwarm(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.SwarmActive, sw.Status)
	require.Equal(t, 5, sw.MaxWorkers)
	require.Equal(t, domain.AlgorithmMajority, sw.ConsensusAlgorithm)

	agents, err := st.ListAgentsBySwarm(ctx, id)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	require.Equal(t, domain.RoleQueen, agents[0].Role)
}

func TestInitSwarm_RejectsInvalidParams(t *testing.T) {
	c, _ := newTestCore(t)
	_, err := c.InitSwarm(context.Background(), InitSwarmParams{
		Name: "", Objective: "o", QueenType: domain.QueenStrategic,
		MaxWorkers: 5, ConsensusAlgorithm: domain.AlgorithmMajority,
	})
	require.Error(t, err, "a missing required name must fail struct validation")
}

func TestInitSwarm_RejectsMaxWorkersOutOfRange(t *testing.T) {
	c, _ := newTestCore(t)
	_, err := c.InitSwarm(context.Background(), InitSwarmParams{
		Name: "n", Objective: "o", QueenType: domain.QueenStrategic,
		MaxWorkers: 0, ConsensusAlgorithm: domain.AlgorithmMajority,
	})
	require.Error(t, err)
}

// TestScenario1_InitSpawnStatus is spec.md §8 Scenario 1 end-to-end across
// queen selection and swarm spawning: init, then spawn using the selector's
// expanded worker set for "Build REST API with tests" with maxWorkers=5,
// landing on exactly the 5-element {researcher, coder, tester, architect,
// analyst} set, plus the queen, with Workers: 5 / Consensus: majority
// visible on the persisted swarm.
func TestScenario1_InitSpawnStatus(t *testing.T) {
	c, st := newTestCore(t)
	ctx := context.Background()

	objective := "Build REST API with tests"
	id, err := c.InitSwarm(ctx, InitSwarmParams{
		Name: "n", Objective: objective, QueenType: domain.QueenStrategic,
		MaxWorkers: 5, ConsensusAlgorithm: domain.AlgorithmMajority,
	})
	require.NoError(t, err)

	analysis := queen.AnalyzeObjective(objective)
	selected := queen.SelectWorkerTypes(nil, objective, analysis, false)
	expanded := queen.ExpandToCount(selected, 5)
	require.ElementsMatch(t, []domain.WorkerType{
		domain.WorkerResearcher, domain.WorkerCoder, domain.WorkerTester,
		domain.WorkerArchitect, domain.WorkerAnalyst,
	}, expanded)

	for _, wt := range expanded {
		_, err := c.SpawnWorker(ctx, id, wt)
		require.NoError(t, err)
	}

	agents, err := st.ListAgentsBySwarm(ctx, id)
	require.NoError(t, err)
	require.Len(t, agents, 6, "1 queen + 5 workers")

	workerCount := 0
	for _, a := range agents {
		if a.Role == domain.RoleWorker {
			workerCount++
			require.NotEmpty(t, a.Capabilities, "spawned workers must carry the fixed capability set for their type")
		}
	}
	require.Equal(t, 5, workerCount)

	sw, err := st.GetSwarm(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 5, sw.MaxWorkers)
	require.Equal(t, domain.AlgorithmMajority, sw.ConsensusAlgorithm)
}

// fakeSealer XORs with a fixed key, same stand-in used by memory's tests.
type fakeSealer struct{}

func (fakeSealer) Seal(plaintext []byte) ([]byte, error) {
	out := make([]byte, len(plaintext))
	for i, b := range plaintext {
		out[i] = b ^ 0x5A
	}
	return out, nil
}

func (fakeSealer) Open(sealed []byte) ([]byte, error) {
	out := make([]byte, len(sealed))
	for i, b := range sealed {
		out[i] = b ^ 0x5A
	}
	return out, nil
}

// TestInitSwarm_Encryption_SealsObjectiveAndDecryptReverses covers
// InitSwarmParams.Encryption: the persisted objective is never the
// plaintext, and DecryptObjective recovers it.
func TestInitSwarm_Encryption_SealsObjectiveAndDecryptReverses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hive.db")
	st, err := store.Open(path, testLogger(), store.Options{}, store.HiveMindMigrations())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	c := New(st, nil, logrus.NewEntry(testLogger()), fakeSealer{})
	ctx := context.Background()

	id, err := c.InitSwarm(ctx, InitSwarmParams{
		Name: "n", Objective: "classified objective", QueenType: domain.QueenStrategic,
		MaxWorkers: 1, ConsensusAlgorithm: domain.AlgorithmMajority, Encryption: true,
	})
	require.NoError(t, err)

	sw, err := st.GetSwarm(ctx, id)
	require.NoError(t, err)
	require.True(t, sw.Encryption)
	require.NotEqual(t, "classified objective", sw.Objective, "the persisted objective must never be plaintext when Encryption is set")

	plaintext, err := c.DecryptObjective(sw)
	require.NoError(t, err)
	require.Equal(t, "classified objective", plaintext)
}

// TestInitSwarm_EncryptionRequestedButNoSealer_StaysPlaintext documents
// that Encryption records intent even when Core has no Sealer configured.
func TestInitSwarm_EncryptionRequestedButNoSealer_StaysPlaintext(t *testing.T) {
	c, st := newTestCore(t)
	ctx := context.Background()

	id, err := c.InitSwarm(ctx, InitSwarmParams{
		Name: "n", Objective: "plain objective", QueenType: domain.QueenStrategic,
		MaxWorkers: 1, ConsensusAlgorithm: domain.AlgorithmMajority, Encryption: true,
	})
	require.NoError(t, err)

	sw, err := st.GetSwarm(ctx, id)
	require.NoError(t, err)
	require.True(t, sw.Encryption)
	require.Equal(t, "plain objective", sw.Objective, "without a configured Sealer, Encryption is recorded but has no sealing effect")
}

func TestSpawnWorker_UnknownTypeRejected(t *testing.T) {
	c, _ := newTestCore(t)
	_, err := c.SpawnWorker(context.Background(), "sw-1", domain.WorkerType("unknown"))
	require.Error(t, err)
}

func TestSpawnWorker_CapabilitiesMatchFixedTable(t *testing.T) {
	c, st := newTestCore(t)
	ctx := context.Background()

	id, err := c.InitSwarm(ctx, InitSwarmParams{
		Name: "n", Objective: "o", QueenType: domain.QueenStrategic,
		MaxWorkers: 1, ConsensusAlgorithm: domain.AlgorithmMajority,
	})
	require.NoError(t, err)

	agent, err := c.SpawnWorker(ctx, id, domain.WorkerCoder)
	require.NoError(t, err)
	require.Equal(t, Capabilities(domain.WorkerCoder), agent.Capabilities)

	got, err := st.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	require.Equal(t, agent.Capabilities, got.Capabilities)
}

func TestCancelSwarm_CascadesThenMarksCancelled(t *testing.T) {
	c, st := newTestCore(t)
	ctx := context.Background()

	id, err := c.InitSwarm(ctx, InitSwarmParams{
		Name: "n", Objective: "o", QueenType: domain.QueenStrategic,
		MaxWorkers: 1, ConsensusAlgorithm: domain.AlgorithmMajority,
	})
	require.NoError(t, err)

	var cascadeCalledWith string
	cancelTasks := func(ctx context.Context, swarmID, reason string) error {
		cascadeCalledWith = swarmID
		return nil
	}

	require.NoError(t, c.CancelSwarm(ctx, id, "done", cancelTasks))
	require.Equal(t, id, cascadeCalledWith, "cancelling a swarm must cascade into its task canceller before marking it cancelled")

	sw, err := st.GetSwarm(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.SwarmCancelled, sw.Status)
}

func TestCancelSwarm_PropagatesCascadeError(t *testing.T) {
	c, _ := newTestCore(t)
	cancelTasks := func(ctx context.Context, swarmID, reason string) error {
		return errBoom
	}
	err := c.CancelSwarm(context.Background(), "sw-1", "r", cancelTasks)
	require.Error(t, err)
}
