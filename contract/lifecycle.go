package contract

import (
	"fmt"
	"time"

	"escrowflow/apperr"
)

// NewContract validates params and builds an active, unfunded contract.
func NewContract(p CreateParams, now time.Time) (*Contract, error) {
	if p.ID == "" || len(p.ID) > MaxIDLen {
		return nil, fmt.Errorf("contract: %w: id must be 1..%d chars", apperr.ErrValidation, MaxIDLen)
	}
	if p.Title == "" || len(p.Title) > MaxTitleLen {
		return nil, fmt.Errorf("contract: %w: title must be 1..%d chars", apperr.ErrValidation, MaxTitleLen)
	}
	if len(p.Description) > MaxDescriptionLen {
		return nil, fmt.Errorf("contract: %w: description exceeds %d chars", apperr.ErrValidation, MaxDescriptionLen)
	}
	if p.Client == "" || p.Freelancer == "" {
		return nil, fmt.Errorf("contract: %w: client and freelancer are required", apperr.ErrValidation)
	}
	if p.Client == p.Freelancer {
		return nil, fmt.Errorf("contract: %w: client and freelancer must differ", apperr.ErrValidation)
	}
	if p.Total <= 0 {
		return nil, fmt.Errorf("contract: %w: total amount must be positive", apperr.ErrValidation)
	}
	if p.Denomination == "" {
		return nil, fmt.Errorf("contract: %w: missing denomination", apperr.ErrValidation)
	}
	ledger, err := newLedger(p.Milestones)
	if err != nil {
		return nil, err
	}

	return &Contract{
		ID:             p.ID,
		Title:          p.Title,
		Description:    p.Description,
		Client:         p.Client,
		Freelancer:     p.Freelancer,
		Total:          p.Total,
		Denomination:   p.Denomination,
		Status:         StatusActive,
		RequiredSkills: append([]string(nil), p.RequiredSkills...),
		Milestones:     ledger,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (c *Contract) requireClient(caller string) error {
	if caller != c.Client {
		return fmt.Errorf("contract: %w: %s is not the client of %s", apperr.ErrUnauthorized, caller, c.ID)
	}
	return nil
}

func (c *Contract) requireFreelancer(caller string) error {
	if caller != c.Freelancer {
		return fmt.Errorf("contract: %w: %s is not the freelancer of %s", apperr.ErrUnauthorized, caller, c.ID)
	}
	return nil
}

// IsParty reports whether identity is the client or the freelancer.
func (c *Contract) IsParty(identity string) bool {
	return identity != "" && (identity == c.Client || identity == c.Freelancer)
}

// Fund checks the funding preconditions and moves the contract to funded. The
// custody deposit itself is performed by the caller in the same transaction.
func (c *Contract) Fund(caller string, amount int64, now time.Time) error {
	if err := c.requireClient(caller); err != nil {
		return err
	}
	if c.Status != StatusActive {
		return fmt.Errorf("contract: %w: cannot fund contract in status %s", apperr.ErrState, c.Status)
	}
	if amount != c.Total {
		return fmt.Errorf("contract: %w: deposit %d does not match total %d", apperr.ErrValidation, amount, c.Total)
	}
	c.Status = StatusFunded
	c.UpdatedAt = now
	return nil
}

// SignNDA records the caller's NDA acknowledgement.
func (c *Contract) SignNDA(caller string, now time.Time) error {
	switch caller {
	case c.Client:
		c.ClientNDA = true
	case c.Freelancer:
		c.FreelancerNDA = true
	default:
		return fmt.Errorf("contract: %w: %s is not a party to %s", apperr.ErrUnauthorized, caller, c.ID)
	}
	c.UpdatedAt = now
	return nil
}

// SubmitDeliverable appends work to a pending or revision-requested milestone
// and puts it under review.
func (c *Contract) SubmitDeliverable(caller string, index int, d Deliverable, now time.Time) (*Milestone, error) {
	if err := c.requireFreelancer(caller); err != nil {
		return nil, err
	}
	if d.ContentRef == "" || len(d.ContentRef) > MaxContentRefLen {
		return nil, fmt.Errorf("contract: %w: content reference must be 1..%d chars", apperr.ErrValidation, MaxContentRefLen)
	}
	if len(d.Name) > MaxDeliverableNameLen {
		return nil, fmt.Errorf("contract: %w: deliverable name exceeds %d chars", apperr.ErrValidation, MaxDeliverableNameLen)
	}
	if len(d.Note) > MaxDeliverableNoteLen {
		return nil, fmt.Errorf("contract: %w: deliverable note exceeds %d chars", apperr.ErrValidation, MaxDeliverableNoteLen)
	}
	m, err := c.Milestones.At(index)
	if err != nil {
		return nil, err
	}
	if m.Status != MilestonePending && m.Status != MilestoneRevisionRequested {
		return nil, fmt.Errorf("contract: %w: milestone %d is %s", apperr.ErrState, index, m.Status)
	}
	if err := m.appendDeliverable(d, now); err != nil {
		return nil, err
	}
	m.Status = MilestoneUnderReview
	c.UpdatedAt = now
	return m, nil
}

// RequestRevision sends an under-review milestone back to the freelancer.
func (c *Contract) RequestRevision(caller string, index int, reason string, now time.Time) (*Milestone, error) {
	if err := c.requireClient(caller); err != nil {
		return nil, err
	}
	if len(reason) > MaxRevisionReasonLen {
		return nil, fmt.Errorf("contract: %w: reason exceeds %d chars", apperr.ErrValidation, MaxRevisionReasonLen)
	}
	m, err := c.Milestones.At(index)
	if err != nil {
		return nil, err
	}
	// The cap is checked before the status.
	if m.Revisions >= MaxRevisions {
		return nil, fmt.Errorf("contract: %w: milestone %d already had %d revisions", apperr.ErrLimit, index, MaxRevisions)
	}
	if m.Status != MilestoneUnderReview {
		return nil, fmt.Errorf("contract: %w: milestone %d is %s", apperr.ErrState, index, m.Status)
	}
	// A full deliverable list leaves no room for a resubmission, so the
	// milestone stays under review where it can still be approved.
	if len(m.Deliverables) >= MaxDeliverables {
		return nil, fmt.Errorf("contract: %w: milestone %d holds %d deliverables, no resubmission possible", apperr.ErrLimit, index, MaxDeliverables)
	}
	m.Revisions++
	m.Status = MilestoneRevisionRequested
	c.UpdatedAt = now
	return m, nil
}

// ApproveMilestone completes an under-review milestone and books its amount as
// paid. It returns the milestone and whether the whole contract completed.
// The custody release is performed by the caller in the same transaction.
func (c *Contract) ApproveMilestone(caller string, index int, now time.Time) (*Milestone, bool, error) {
	if err := c.requireClient(caller); err != nil {
		return nil, false, err
	}
	if c.Status != StatusFunded {
		return nil, false, fmt.Errorf("contract: %w: cannot approve in status %s", apperr.ErrState, c.Status)
	}
	m, err := c.Milestones.At(index)
	if err != nil {
		return nil, false, err
	}
	if m.Status != MilestoneUnderReview {
		return nil, false, fmt.Errorf("contract: %w: milestone %d is %s", apperr.ErrState, index, m.Status)
	}
	if c.Paid+m.Amount > c.Total {
		return nil, false, fmt.Errorf("contract: %w: approval would pay %d of %d", apperr.ErrState, c.Paid+m.Amount, c.Total)
	}

	completedAt := now
	m.Status = MilestoneCompleted
	m.CompletedAt = &completedAt
	c.Paid += m.Amount
	c.UpdatedAt = now

	completed := c.Milestones.AllCompleted()
	if completed {
		c.Status = StatusCompleted
	}
	return m, completed, nil
}

// Escalate moves the contract to disputed regardless of its current status.
func (c *Contract) Escalate(caller string, now time.Time) (Status, error) {
	if !c.IsParty(caller) {
		return "", fmt.Errorf("contract: %w: %s is not a party to %s", apperr.ErrUnauthorized, caller, c.ID)
	}
	prev := c.Status
	c.Status = StatusDisputed
	c.UpdatedAt = now
	return prev, nil
}

// CheckInvariants verifies the paid amount against the ledger.
func (c *Contract) CheckInvariants() error {
	if c.Paid > c.Total {
		return fmt.Errorf("contract: paid %d exceeds total %d", c.Paid, c.Total)
	}
	if sum := c.Milestones.CompletedTotal(); sum != c.Paid {
		return fmt.Errorf("contract: paid %d differs from completed milestones %d", c.Paid, sum)
	}
	for _, m := range c.Milestones.All() {
		if m.Revisions > MaxRevisions {
			return fmt.Errorf("contract: milestone %d has %d revisions", m.Index, m.Revisions)
		}
		if len(m.Deliverables) > MaxDeliverables {
			return fmt.Errorf("contract: milestone %d has %d deliverables", m.Index, len(m.Deliverables))
		}
	}
	return nil
}
