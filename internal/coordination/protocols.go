package coordination

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/flowgo-dev/flowgo/effect"
	"github.com/flowgo-dev/flowgo/internal/aggregation"
	obs "github.com/flowgo-dev/flowgo/pkg/observability"
)

// recordRound appends a completed round to the session transcript and counts
// it against the per-policy round metric.
func recordRound(session *Session, policy effect.Policy, results []PeerResult) {
	session.Rounds = append(session.Rounds, results)
	obs.RecordCoordinationRound(string(policy))
}

// sequential runs one peer at a time, folding each peer's output into the
// next peer's context.
func (c *Coordinator) sequential(ctx context.Context, session *Session, spec effect.Coordinate, ectx *effect.Context) (*Outcome, error) {
	working := ectx.Clone()
	results := make([]PeerResult, 0, len(spec.Peers))

	for _, peer := range spec.Peers {
		result, err := c.runPeer(ctx, peer, working)
		if err != nil {
			return nil, &effect.CoordinationError{Cause: err, Partial: partial(results)}
		}
		results = append(results, result)
		working.Put("peer."+peer.ID+".output", result.Output)
		working.Put("previous_output", result.Output)
	}

	recordRound(session, spec.Policy, results)
	resolution := ""
	if len(results) > 0 {
		resolution = results[len(results)-1].Recommendation
	}
	return &Outcome{Status: StatusCompleted, Rounds: 1, Results: results, Resolution: resolution}, nil
}

// parallel runs all peers concurrently against the same starting context.
func (c *Coordinator) parallel(ctx context.Context, session *Session, spec effect.Coordinate, ectx *effect.Context) (*Outcome, error) {
	results, err := c.fanOut(ctx, spec.Peers, ectx)
	if err != nil {
		return nil, err
	}
	recordRound(session, spec.Policy, results)

	tally := aggregation.Agree(votes(results))
	return &Outcome{
		Status:     StatusCompleted,
		Score:      tally.Agreement,
		Rounds:     1,
		Results:    results,
		Resolution: tally.Leading,
	}, nil
}

// consensus runs rounds of parallel fan-out until the agreement score reaches
// the threshold or the iteration budget runs out. Exhaustion is a terminal
// failed status, not an error.
func (c *Coordinator) consensus(ctx context.Context, session *Session, spec effect.Coordinate, ectx *effect.Context) (*Outcome, error) {
	threshold := spec.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	maxIterations := spec.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	working := ectx.Clone()
	var lastResults []PeerResult
	var lastTally aggregation.Tally

	for round := 1; round <= maxIterations; round++ {
		results, err := c.fanOut(ctx, spec.Peers, working)
		if err != nil {
			return nil, err
		}
		recordRound(session, spec.Policy, results)
		lastResults = results

		lastTally = aggregation.Agree(votes(results))
		session.Score = lastTally.Agreement

		if lastTally.Agreement >= threshold {
			return &Outcome{
				Status:     StatusAchieved,
				Score:      lastTally.Agreement,
				Rounds:     round,
				Results:    results,
				Resolution: lastTally.Leading,
			}, nil
		}

		working.Put("consensus_feedback", fmt.Sprintf(
			"round %d agreement %.2f below threshold %.2f; leading recommendation %q",
			round, lastTally.Agreement, threshold, lastTally.Leading))
		c.logger.Printf("consensus session %s: round %d agreement %.2f < %.2f, retrying",
			session.ID, round, lastTally.Agreement, threshold)
	}

	return &Outcome{
		Status:     StatusFailed,
		Score:      lastTally.Agreement,
		Rounds:     maxIterations,
		Results:    lastResults,
		Resolution: lastTally.Leading,
	}, nil
}

// debate runs a fixed number of structured rounds: every peer speaks each
// round with an alternating stance, transcripts fold into the shared context,
// and the final round's leading recommendation becomes the resolution.
func (c *Coordinator) debate(ctx context.Context, session *Session, spec effect.Coordinate, ectx *effect.Context) (*Outcome, error) {
	rounds := spec.MaxIterations
	if rounds <= 0 {
		rounds = DefaultMaxIterations
	}

	working := ectx.Clone()
	var lastResults []PeerResult

	for round := 1; round <= rounds; round++ {
		stance := "propose"
		if round%2 == 0 {
			stance = "rebut"
		}
		working.Put("debate_round", round)
		working.Put("debate_stance", stance)

		results, err := c.fanOut(ctx, spec.Peers, working)
		if err != nil {
			return nil, err
		}
		recordRound(session, spec.Policy, results)
		lastResults = results

		for _, r := range results {
			working.Put(fmt.Sprintf("debate.round%d.%s", round, r.PeerID), r.Output)
		}
	}

	tally := aggregation.Agree(votes(lastResults))
	return &Outcome{
		Status:     StatusResolved,
		Score:      tally.Agreement,
		Rounds:     rounds,
		Results:    lastResults,
		Resolution: tally.Leading,
	}, nil
}

// hierarchical runs the advisory peers in parallel, folds their outputs into
// the leader's context and lets the leader's answer be authoritative.
func (c *Coordinator) hierarchical(ctx context.Context, session *Session, spec effect.Coordinate, ectx *effect.Context) (*Outcome, error) {
	leader, advisors := splitLeader(spec.Peers)

	working := ectx.Clone()
	var results []PeerResult

	if len(advisors) > 0 {
		advisory, err := c.fanOut(ctx, advisors, working)
		if err != nil {
			return nil, err
		}
		results = advisory
		for _, r := range advisory {
			working.Put("advisory."+r.PeerID, r.Output)
		}
	}

	authoritative, err := c.runPeer(ctx, leader, working)
	if err != nil {
		return nil, &effect.CoordinationError{Cause: err, Partial: partial(results)}
	}
	results = append(results, authoritative)
	recordRound(session, spec.Policy, results)

	return &Outcome{
		Status:     StatusCompleted,
		Score:      authoritative.Confidence,
		Rounds:     1,
		Results:    results,
		Resolution: authoritative.Recommendation,
	}, nil
}

// fanOut runs all peers concurrently against clones of the same starting
// context and returns results in peer order. Any peer failure fails the round
// with the successes gathered so far as partial results.
func (c *Coordinator) fanOut(ctx context.Context, peers []effect.PeerSpec, ectx *effect.Context) ([]PeerResult, error) {
	results := make([]PeerResult, len(peers))
	done := make([]bool, len(peers))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, peer := range peers {
		g.Go(func() error {
			result, err := c.runPeer(gctx, peer, ectx.Clone())
			if err != nil {
				return err
			}
			mu.Lock()
			results[i] = result
			done[i] = true
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var completed []PeerResult
		for i, ok := range done {
			if ok {
				completed = append(completed, results[i])
			}
		}
		return nil, &effect.CoordinationError{Cause: err, Partial: partial(completed)}
	}
	return results, nil
}

// splitLeader picks the authoritative peer: the first one whose role marks it
// as a supervisor, otherwise the first peer.
func splitLeader(peers []effect.PeerSpec) (effect.PeerSpec, []effect.PeerSpec) {
	leadIdx := 0
	for i, p := range peers {
		switch p.Role {
		case "supervisor", "manager", "lead":
			leadIdx = i
		default:
			continue
		}
		break
	}
	advisors := make([]effect.PeerSpec, 0, len(peers)-1)
	for i, p := range peers {
		if i != leadIdx {
			advisors = append(advisors, p)
		}
	}
	return peers[leadIdx], advisors
}

func votes(results []PeerResult) []aggregation.Vote {
	out := make([]aggregation.Vote, len(results))
	for i, r := range results {
		out[i] = aggregation.Vote{PeerID: r.PeerID, Recommendation: r.Recommendation, Confidence: r.Confidence}
	}
	return out
}
