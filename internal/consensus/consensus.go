// Package consensus implements Consensus (spec.md §4.9, C9): propose/vote
// across majority/weighted/quorum/unanimous algorithms.
package consensus

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hive-mind/hivecore/internal/domain"
	"github.com/hive-mind/hivecore/internal/errs"
	"github.com/hive-mind/hivecore/internal/events"
	"github.com/hive-mind/hivecore/internal/runtime"
	"github.com/hive-mind/hivecore/internal/sanitize"
	"github.com/hive-mind/hivecore/internal/store"
)

// requiredRatio returns the approval ratio required for a decision before
// algorithm overrides apply (spec.md §4.9: "0.8 for strategic, else 0.6").
func requiredRatio(typ domain.ConsensusType, algorithm domain.ConsensusAlgorithm) float64 {
	switch algorithm {
	case domain.AlgorithmUnanimous:
		return 1.0
	case domain.AlgorithmMajority:
		return 0.5000001 // "0.5+1" read as strictly-over-half on a ratio scale
	case domain.AlgorithmQuorum:
		return 2.0 / 3.0
	}
	if typ == domain.ConsensusStrategic {
		return 0.8
	}
	return 0.6
}

// Engine is the C9 component.
type Engine struct {
	st       *store.Store
	rt       *runtime.Runtime
	log      *logrus.Entry
	sanitize *sanitize.Sanitizer
}

// New builds an Engine over an already-open Store.
func New(st *store.Store, rt *runtime.Runtime, log *logrus.Entry) *Engine {
	return &Engine{st: st, rt: rt, log: log, sanitize: sanitize.New()}
}

// ProposeParams is the input to Propose.
type ProposeParams struct {
	SwarmID        string
	Topic          string
	Options        []string
	Type           domain.ConsensusType
	Algorithm      domain.ConsensusAlgorithm
	EligibleVoters int // not recorded on the decision; resolution uses the EligibleVoters given to each Vote call
	Deadline       *time.Time
}

// Propose creates a new pending decision (spec.md §4.9 propose()).
func (e *Engine) Propose(ctx context.Context, p ProposeParams) (string, error) {
	if p.Type == "" || p.Algorithm == "" || len(p.Options) == 0 {
		return "", errs.New(errs.KindValidation, "consensus", "type, algorithm, and options are required")
	}
	p.Topic = e.sanitize.Text(p.Topic)

	d := domain.ConsensusDecision{
		ID:            uuid.NewString(),
		SwarmID:       p.SwarmID,
		Topic:         p.Topic,
		Type:          p.Type,
		Options:       p.Options,
		Algorithm:     p.Algorithm,
		RequiredRatio: requiredRatio(p.Type, p.Algorithm),
		Votes:         map[string]domain.Vote{},
		Result:        domain.ResultPending,
		Deadline:      p.Deadline,
		CreatedAt:     time.Now().UTC(),
	}
	if err := e.st.InsertConsensusDecision(ctx, d); err != nil {
		return "", errs.Wrap(errs.KindStorage, "consensus", "insert decision", err)
	}
	e.emit(events.ConsensusProposed, d.SwarmID, d.ID)
	return d.ID, nil
}

// VoteParams is the input to Vote.
type VoteParams struct {
	VoterID        string
	Choice         string
	Weight         float64
	Rationale      string
	EligibleVoters int // total population eligible to vote on this decision; 0 if unknown (resolves as soon as the ratio is met)
}

// Vote records one ballot and recomputes the tally, transitioning the
// decision's result when the contract of spec.md §4.9 is met.
func (e *Engine) Vote(ctx context.Context, decisionID string, p VoteParams) (domain.ConsensusDecision, error) {
	d, err := e.st.GetConsensusDecision(ctx, decisionID)
	if err != nil {
		return domain.ConsensusDecision{}, errs.Wrap(errs.KindStorage, "consensus", "get decision", err)
	}
	if d.Result != domain.ResultPending {
		return d, nil // already resolved; idempotent no-op rather than a surfaced error
	}
	if _, voted := d.Votes[p.VoterID]; voted {
		return domain.ConsensusDecision{}, errs.New(errs.KindConflict, "consensus", "duplicate vote")
	}

	weight := p.Weight
	if d.Algorithm != domain.AlgorithmWeighted || weight <= 0 {
		weight = 1
	}
	p.Rationale = e.sanitize.Text(p.Rationale)

	d.Votes[p.VoterID] = domain.Vote{
		VoterID: p.VoterID, Choice: p.Choice, Weight: weight, Rationale: p.Rationale, Ts: time.Now().UTC(),
	}
	e.emit(events.ConsensusVoteCast, d.SwarmID, d.ID)

	resolve(&d, p.EligibleVoters)

	if err := e.st.UpdateConsensusVotes(ctx, d); err != nil {
		return domain.ConsensusDecision{}, errs.Wrap(errs.KindStorage, "consensus", "update votes", err)
	}
	if d.Result != domain.ResultPending {
		e.emit(events.ConsensusResolved, d.SwarmID, d.ID)
	}
	return d, nil
}

// resolve evaluates the tally against the required ratio and deadline,
// mutating d's Result/Confidence/ModifiedText in place (spec.md §4.9).
func resolve(d *domain.ConsensusDecision, eligibleVoters int) {
	tally := map[string]float64{}
	var totalWeight float64
	for _, v := range d.Votes {
		tally[v.Choice] += weightOf(d.Algorithm, v)
		totalWeight += weightOf(d.Algorithm, v)
	}
	if totalWeight == 0 {
		return
	}

	best, bestScore := "", -1.0
	tie := false
	for choice, score := range tally {
		ratio := score / totalWeight
		if ratio > bestScore {
			best, bestScore, tie = choice, ratio, false
		} else if ratio == bestScore {
			tie = true
		}
	}

	deadlinePassed := d.Deadline != nil && time.Now().After(*d.Deadline)
	allVoted := eligibleVoters > 0 && len(d.Votes) >= eligibleVoters

	// With a known voter population, hold the decision open until every
	// eligible voter has cast a ballot or the deadline passes: an early
	// vote trivially satisfies any ratio against itself, and resolving on
	// it would decide the outcome before the rest of the swarm weighed in.
	// Without a known population there is no "everyone has voted" signal
	// to wait for, so a ratio met on the votes cast so far resolves
	// immediately, same as a deadline-less poll always has.
	if eligibleVoters > 0 && !allVoted && !deadlinePassed {
		return
	}

	if bestScore >= d.RequiredRatio && !tie {
		d.Confidence = bestScore
		if isModifyChoice(best, d.Options) {
			d.Result = domain.ResultModified
			d.ModifiedText = best
		} else {
			d.Result = domain.ResultApproved
		}
		return
	}

	if deadlinePassed || allVoted {
		d.Result = domain.ResultRejected
		d.Confidence = bestScore
	}
}

func weightOf(algorithm domain.ConsensusAlgorithm, v domain.Vote) float64 {
	if algorithm == domain.AlgorithmWeighted {
		return v.Weight
	}
	return 1
}

// isModifyChoice recognizes the "modify" vote convention (spec.md §4.9: "a
// modify vote carries alternate text"): any winning choice not among the
// proposal's declared options is treated as alternate modify-text rather
// than a straight approval of one of the offered options.
func isModifyChoice(choice string, options []string) bool {
	if choice == "" {
		return false
	}
	for _, opt := range options {
		if choice == opt {
			return false
		}
	}
	return true
}

// List returns recent decisions for a swarm.
func (e *Engine) List(ctx context.Context, swarmID string, limit int) ([]domain.ConsensusDecision, error) {
	out, err := e.st.ListConsensusDecisions(ctx, swarmID, limit)
	if err != nil {
		return nil, errs.Wrap(errs.KindStorage, "consensus", "list decisions", err)
	}
	return out, nil
}

// Count returns the total number of decisions recorded for a swarm.
func (e *Engine) Count(ctx context.Context, swarmID string) (int64, error) {
	n, err := e.st.CountConsensusDecisions(ctx, swarmID)
	if err != nil {
		return 0, errs.Wrap(errs.KindStorage, "consensus", "count decisions", err)
	}
	return n, nil
}

func (e *Engine) emit(kind events.SwarmEventKind, swarmID, decisionID string) {
	if e.rt == nil {
		return
	}
	e.rt.EmitSwarm(events.SwarmEvent{Kind: kind, SwarmID: swarmID, EntityID: decisionID})
}
