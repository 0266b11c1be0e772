package dispute

import (
	"fmt"
	"slices"
	"time"

	"escrowflow/apperr"
)

// New validates the narrative of a dispute and returns it in status open.
func New(id string, p OpenParams, now time.Time) (*Dispute, error) {
	if p.ContractID == "" || p.Initiator == "" {
		return nil, fmt.Errorf("dispute: %w: contract and initiator are required", apperr.ErrValidation)
	}
	if p.Category.Label() == "" {
		return nil, fmt.Errorf("dispute: %w: unknown category %q", apperr.ErrValidation, p.Category)
	}
	if p.Reason == "" || len(p.Reason) > MaxReasonLen {
		return nil, fmt.Errorf("dispute: %w: reason must be 1..%d chars", apperr.ErrValidation, MaxReasonLen)
	}
	if len(p.Description) > MaxDescriptionLen {
		return nil, fmt.Errorf("dispute: %w: description exceeds %d chars", apperr.ErrValidation, MaxDescriptionLen)
	}
	return &Dispute{
		ID:          id,
		ContractID:  p.ContractID,
		Initiator:   p.Initiator,
		Category:    p.Category,
		Reason:      p.Reason,
		Description: p.Description,
		Status:      StatusOpen,
		Arbitrators: make([]string, 0, Arbitrators),
		Votes:       make([]Vote, 0, MaxVotes),
		Version:     1,
		CreatedAt:   now,
	}, nil
}

// AssignArbitrators seats the panel and opens the dispute for voting. The
// panel must be exactly three distinct identities outside the contract.
func (d *Dispute) AssignArbitrators(ids []string, client, freelancer string) error {
	if d.Status != StatusOpen {
		return fmt.Errorf("dispute: %w: cannot assign arbitrators in status %s", apperr.ErrState, d.Status)
	}
	if len(ids) != Arbitrators {
		return fmt.Errorf("dispute: %w: need exactly %d arbitrators, got %d", apperr.ErrValidation, Arbitrators, len(ids))
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			return fmt.Errorf("dispute: %w: empty arbitrator identity", apperr.ErrValidation)
		}
		if id == client || id == freelancer {
			return fmt.Errorf("dispute: %w: %s is a party to the contract", apperr.ErrValidation, id)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("dispute: %w: arbitrator %s listed twice", apperr.ErrValidation, id)
		}
		seen[id] = struct{}{}
	}
	d.Arbitrators = append(make([]string, 0, Arbitrators), ids...)
	d.Status = StatusUnderReview
	return nil
}

// HasArbitrator reports whether id sits on the panel.
func (d *Dispute) HasArbitrator(id string) bool {
	return slices.Contains(d.Arbitrators, id)
}

func (d *Dispute) hasVoted(id string) bool {
	for _, v := range d.Votes {
		if v.Arbitrator == id {
			return true
		}
	}
	return false
}

// CastVote records a ballot and resolves the dispute once two ballots are in.
// It reports whether this vote resolved the dispute.
func (d *Dispute) CastVote(arbitrator string, favorsClient bool, reasoning string, now time.Time) (bool, error) {
	if len(reasoning) > MaxReasoningLen {
		return false, fmt.Errorf("dispute: %w: reasoning exceeds %d chars", apperr.ErrValidation, MaxReasoningLen)
	}
	if d.Status != StatusUnderReview {
		return false, fmt.Errorf("dispute: %w: dispute is %s", apperr.ErrState, d.Status)
	}
	if !d.HasArbitrator(arbitrator) {
		return false, fmt.Errorf("dispute: %w: %s is not an assigned arbitrator", apperr.ErrUnauthorized, arbitrator)
	}
	if d.hasVoted(arbitrator) {
		return false, fmt.Errorf("dispute: %w: %s already voted", apperr.ErrDuplicate, arbitrator)
	}
	if len(d.Votes) >= MaxVotes {
		return false, fmt.Errorf("dispute: %w: all %d votes recorded", apperr.ErrLimit, MaxVotes)
	}

	d.Votes = append(d.Votes, Vote{
		Arbitrator:   arbitrator,
		FavorsClient: favorsClient,
		Reasoning:    reasoning,
		VotedAt:      now,
	})
	outcome, resolved := Tally(d.Votes)
	if !resolved {
		return false, nil
	}
	d.Status = outcome
	resolvedAt := now
	d.ResolvedAt = &resolvedAt
	return true, nil
}

// Tally resolves once Majority ballots are recorded: for the client when
// Majority of them favor the client, otherwise for the freelancer.
func Tally(votes []Vote) (Status, bool) {
	if len(votes) < Majority {
		return StatusUnderReview, false
	}
	forClient := 0
	for _, v := range votes {
		if v.FavorsClient {
			forClient++
		}
	}
	if forClient >= Majority {
		return StatusResolvedForClient, true
	}
	return StatusResolvedForFreelancer, true
}
