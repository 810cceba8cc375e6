package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hive-mind/hivecore/internal/domain"
)

// voteDetail is one entry of the legacy/canonical "details" array
// (spec.md §6 consensus record format).
type voteDetail struct {
	VoterID   string `json:"voterId"`
	Choice    string `json:"choice"`
	Rationale string `json:"rationale,omitempty"`
}

// votesRecord is the persisted JSON blob shape described in spec.md §6:
// summary counts plus a details array. It is written alongside the full
// native vote map so legacy readers (for/against/abstain consumers) and
// native readers (full Vote objects, including weight/rationale/ts) both
// work from the same column.
type votesRecord struct {
	For     int          `json:"for"`
	Against int          `json:"against"`
	Abstain int          `json:"abstain"`
	Details []voteDetail `json:"details"`
	// Native carries the full Vote map so this process's own reads never
	// lose weight/timestamp information that the summary shape drops.
	Native map[string]domain.Vote `json:"_native,omitempty"`
}

// encodeVotes derives the legacy for/against/abstain summary from the
// native vote map: "for" counts ballots choosing the first declared option
// (spec.md §6's "winning option" position), "against" counts every other
// non-empty choice, and "abstain" counts empty choices.
func encodeVotes(votes map[string]domain.Vote, options []string) ([]byte, error) {
	rec := votesRecord{Native: votes}
	if len(options) > 0 {
		approve := options[0]
		for _, v := range votes {
			switch {
			case v.Choice == approve:
				rec.For++
			case v.Choice == "":
				rec.Abstain++
			default:
				rec.Against++
			}
			rec.Details = append(rec.Details, voteDetail{VoterID: v.VoterID, Choice: v.Choice, Rationale: v.Rationale})
		}
	}
	return json.Marshal(rec)
}

// decodeVotes accepts both this system's native shape (a flat
// voterId → {choice,...} map) and the legacy summary shape described in
// spec.md §6, per that section's requirement that "the reader must accept
// both shapes".
func decodeVotes(raw []byte) (map[string]domain.Vote, error) {
	if len(raw) == 0 {
		return map[string]domain.Vote{}, nil
	}

	var rec votesRecord
	if err := json.Unmarshal(raw, &rec); err == nil && len(rec.Native) > 0 {
		return rec.Native, nil
	}
	// A summary blob with no ballots yet carries an empty details array.
	var fields map[string]json.RawMessage
	_ = json.Unmarshal(raw, &fields)
	if _, summary := fields["details"]; summary && json.Unmarshal(raw, &rec) == nil {
		out := make(map[string]domain.Vote, len(rec.Details))
		for _, d := range rec.Details {
			out[d.VoterID] = domain.Vote{VoterID: d.VoterID, Choice: d.Choice, Rationale: d.Rationale}
		}
		return out, nil
	}

	// Flat legacy map: voterId -> choice string.
	var flat map[string]string
	if err := json.Unmarshal(raw, &flat); err == nil {
		out := make(map[string]domain.Vote, len(flat))
		for voter, choice := range flat {
			out[voter] = domain.Vote{VoterID: voter, Choice: choice}
		}
		return out, nil
	}

	// Flat native map: voterId -> Vote.
	var native map[string]domain.Vote
	if err := json.Unmarshal(raw, &native); err != nil {
		return nil, fmt.Errorf("decode votes: unrecognized shape: %w", err)
	}
	return native, nil
}

// InsertConsensusDecision persists a new proposal.
func (s *Store) InsertConsensusDecision(ctx context.Context, d domain.ConsensusDecision) error {
	options, _ := json.Marshal(d.Options)
	votes, err := encodeVotes(d.Votes, d.Options)
	if err != nil {
		return fmt.Errorf("encode votes: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO consensus_decisions (id, swarm_id, topic, type, options, algorithm, required_ratio, votes, result, confidence, modified_text, deadline, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.SwarmID, d.Topic, string(d.Type), string(options), string(d.Algorithm), d.RequiredRatio,
		string(votes), string(d.Result), d.Confidence, d.ModifiedText, nullTime(d.Deadline), d.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert consensus decision: %w", err)
	}
	return nil
}

// UpdateConsensusVotes persists the current vote tally and, if the result
// just became non-pending, the final result/confidence in the same atomic
// write (spec.md §4.9: "every non-pending transition is persisted in one
// atomic write that includes the full votes map and the final confidence").
func (s *Store) UpdateConsensusVotes(ctx context.Context, d domain.ConsensusDecision) error {
	votes, err := encodeVotes(d.Votes, d.Options)
	if err != nil {
		return fmt.Errorf("encode votes: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE consensus_decisions SET votes = ?, result = ?, confidence = ?, modified_text = ? WHERE id = ?`,
		string(votes), string(d.Result), d.Confidence, d.ModifiedText, d.ID,
	)
	if err != nil {
		return fmt.Errorf("update consensus votes: %w", err)
	}
	return expectOneRow(res)
}

// GetConsensusDecision fetches one decision by id.
func (s *Store) GetConsensusDecision(ctx context.Context, id string) (domain.ConsensusDecision, error) {
	row := s.db.QueryRowContext(ctx, consensusSelectCols+` FROM consensus_decisions WHERE id = ?`, id)
	return scanConsensus(row)
}

// ListConsensusDecisions returns recent decisions for a swarm, newest first.
func (s *Store) ListConsensusDecisions(ctx context.Context, swarmID string, limit int) ([]domain.ConsensusDecision, error) {
	rows, err := s.db.QueryContext(ctx,
		consensusSelectCols+` FROM consensus_decisions WHERE swarm_id = ? ORDER BY created_at DESC LIMIT ?`,
		swarmID, limitOrDefault(limit))
	if err != nil {
		return nil, fmt.Errorf("list consensus decisions: %w", err)
	}
	defer rows.Close()

	var out []domain.ConsensusDecision
	for rows.Next() {
		d, err := scanConsensus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CountConsensusDecisions counts all decisions across a swarm (for the
// `status` command's aggregate).
func (s *Store) CountConsensusDecisions(ctx context.Context, swarmID string) (int64, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM consensus_decisions WHERE swarm_id = ?`, swarmID)
	var n int64
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count consensus decisions: %w", err)
	}
	return n, nil
}

const consensusSelectCols = `SELECT id, swarm_id, topic, type, options, algorithm, required_ratio, votes, result, confidence, modified_text, deadline, created_at`

func scanConsensus(row rowScanner) (domain.ConsensusDecision, error) {
	var d domain.ConsensusDecision
	var typ, options, algorithm, votesRaw, result, createdAt string
	var deadline sql.NullString

	err := row.Scan(&d.ID, &d.SwarmID, &d.Topic, &typ, &options, &algorithm, &d.RequiredRatio,
		&votesRaw, &result, &d.Confidence, &d.ModifiedText, &deadline, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ConsensusDecision{}, ErrNotFound
	}
	if err != nil {
		return domain.ConsensusDecision{}, fmt.Errorf("scan consensus decision: %w", err)
	}

	d.Type = domain.ConsensusType(typ)
	d.Algorithm = domain.ConsensusAlgorithm(algorithm)
	d.Result = domain.ConsensusResult(result)
	_ = json.Unmarshal([]byte(options), &d.Options)
	d.Votes, err = decodeVotes([]byte(votesRaw))
	if err != nil {
		return domain.ConsensusDecision{}, err
	}
	d.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	if deadline.Valid {
		ts, _ := time.Parse(timeLayout, deadline.String)
		d.Deadline = &ts
	}
	return d, nil
}
