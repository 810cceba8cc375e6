package consensus

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/hive-mind/hivecore/internal/domain"
	"github.com/hive-mind/hivecore/internal/store"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.FatalLevel)
	return l
}

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hive.db")
	st, err := store.Open(path, testLogger(), store.Options{}, store.HiveMindMigrations())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.InsertSwarm(context.Background(), domain.Swarm{
		ID: "sw-1", Name: "n", Objective: "o", QueenType: domain.QueenTactical,
		Status: domain.SwarmActive, MaxWorkers: 1, ConsensusAlgorithm: domain.AlgorithmMajority,
	}))

	return New(st, nil, logrus.NewEntry(testLogger())), st
}

// TestConsensus_MajorityApproval is Scenario 4.
func TestConsensus_MajorityApproval(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	id, err := e.Propose(ctx, ProposeParams{
		SwarmID: "sw-1", Topic: "REST or GraphQL?", Options: []string{"REST", "GraphQL", "Both"},
		Type: domain.ConsensusTactical, Algorithm: domain.AlgorithmMajority,
	})
	require.NoError(t, err)

	voters := []struct {
		id, choice string
	}{
		{"v1", "REST"}, {"v2", "REST"}, {"v3", "REST"}, {"v4", "GraphQL"}, {"v5", "Both"},
	}

	var last domain.ConsensusDecision
	for _, v := range voters {
		last, err = e.Vote(ctx, id, VoteParams{VoterID: v.id, Choice: v.choice, EligibleVoters: len(voters)})
		require.NoError(t, err)
	}

	require.Equal(t, domain.ResultApproved, last.Result)
	require.InDelta(t, 0.6, last.Confidence, 0.0001)

	got, err := st.GetConsensusDecision(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.ResultApproved, got.Result)
	require.Len(t, got.Votes, 5)

	row := st.DB().QueryRow(`SELECT votes FROM consensus_decisions WHERE id = ?`, id)
	var raw string
	require.NoError(t, row.Scan(&raw))

	var summary struct {
		For     int `json:"for"`
		Against int `json:"against"`
		Abstain int `json:"abstain"`
		Details []struct {
			VoterID string `json:"voterId"`
			Choice  string `json:"choice"`
		} `json:"details"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &summary))
	require.Equal(t, 3, summary.For)
	require.Equal(t, 2, summary.Against)
	require.Len(t, summary.Details, 5)
}

// TestConsensus_VoteOnTerminalDecision_IsNoop is P7: voting on an
// already-terminal decision returns the existing result unchanged rather
// than erroring or re-tallying.
func TestConsensus_VoteOnTerminalDecision_IsNoop(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	id, err := e.Propose(ctx, ProposeParams{
		SwarmID: "sw-1", Topic: "ship it?", Options: []string{"yes", "no"},
		Type: domain.ConsensusTactical, Algorithm: domain.AlgorithmUnanimous,
	})
	require.NoError(t, err)

	resolved, err := e.Vote(ctx, id, VoteParams{VoterID: "v1", Choice: "yes"})
	require.NoError(t, err)
	require.Equal(t, domain.ResultApproved, resolved.Result)

	again, err := e.Vote(ctx, id, VoteParams{VoterID: "v2", Choice: "no"})
	require.NoError(t, err)
	require.Equal(t, domain.ResultApproved, again.Result, "a vote on a terminal decision must not flip the result")
	require.Len(t, again.Votes, 1, "a vote on a terminal decision must not be tallied")
}

func TestConsensus_DuplicateVote_Rejected(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	id, err := e.Propose(ctx, ProposeParams{
		SwarmID: "sw-1", Topic: "t", Options: []string{"yes", "no"},
		Type: domain.ConsensusTactical, Algorithm: domain.AlgorithmQuorum,
	})
	require.NoError(t, err)

	_, err = e.Vote(ctx, id, VoteParams{VoterID: "v1", Choice: "yes", EligibleVoters: 3})
	require.NoError(t, err)

	_, err = e.Vote(ctx, id, VoteParams{VoterID: "v1", Choice: "no", EligibleVoters: 3})
	require.Error(t, err)
}

// TestConsensus_Unanimous_WaitsForFullPopulation shows that with a known
// voter population, unanimous resolution holds the decision pending until
// every eligible voter has cast a ballot, then rejects on a split tally
// that falls short of 100% agreement.
func TestConsensus_Unanimous_WaitsForFullPopulation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	id, err := e.Propose(ctx, ProposeParams{
		SwarmID: "sw-1", Topic: "t", Options: []string{"yes", "no"},
		Type: domain.ConsensusTactical, Algorithm: domain.AlgorithmUnanimous,
	})
	require.NoError(t, err)

	d, err := e.Vote(ctx, id, VoteParams{VoterID: "v1", Choice: "yes", EligibleVoters: 3})
	require.NoError(t, err)
	require.Equal(t, domain.ResultPending, d.Result, "one of several eligible voters must not resolve unanimity on its own")

	d, err = e.Vote(ctx, id, VoteParams{VoterID: "v2", Choice: "no", EligibleVoters: 3})
	require.NoError(t, err)
	require.Equal(t, domain.ResultPending, d.Result, "the decision must wait for the full population before resolving")

	d, err = e.Vote(ctx, id, VoteParams{VoterID: "v3", Choice: "yes", EligibleVoters: 3})
	require.NoError(t, err)
	require.Equal(t, domain.ResultRejected, d.Result, "2-of-3 does not meet the unanimous ratio once everyone has voted")
	require.InDelta(t, 2.0/3.0, d.Confidence, 0.0001)
}

// TestConsensus_Unanimous_NoKnownPopulation_ResolvesOnRatio covers the
// opposite branch: when the caller never supplies a population size, the
// engine has no "everyone has voted" signal to wait for, so a ratio met by
// the votes cast so far resolves immediately.
func TestConsensus_Unanimous_NoKnownPopulation_ResolvesOnRatio(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	id, err := e.Propose(ctx, ProposeParams{
		SwarmID: "sw-1", Topic: "t", Options: []string{"yes", "no"},
		Type: domain.ConsensusTactical, Algorithm: domain.AlgorithmUnanimous,
	})
	require.NoError(t, err)

	d, err := e.Vote(ctx, id, VoteParams{VoterID: "v1", Choice: "yes"})
	require.NoError(t, err)
	require.Equal(t, domain.ResultApproved, d.Result)
}

func TestConsensus_RejectedWhenAllEligibleVotersCastWithoutRatio(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	id, err := e.Propose(ctx, ProposeParams{
		SwarmID: "sw-1", Topic: "t", Options: []string{"yes", "no"},
		Type: domain.ConsensusTactical, Algorithm: domain.AlgorithmUnanimous,
	})
	require.NoError(t, err)

	_, err = e.Vote(ctx, id, VoteParams{VoterID: "v1", Choice: "yes", EligibleVoters: 2})
	require.NoError(t, err)

	final, err := e.Vote(ctx, id, VoteParams{VoterID: "v2", Choice: "no", EligibleVoters: 2})
	require.NoError(t, err)
	require.Equal(t, domain.ResultRejected, final.Result)
}
