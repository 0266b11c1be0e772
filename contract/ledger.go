package contract

import (
	"encoding/json"
	"fmt"
	"time"

	"escrowflow/apperr"
)

// Ledger is the fixed-capacity milestone sequence of a contract. Indexes are
// assigned at creation and never change.
type Ledger struct {
	slots [MaxMilestones]Milestone
	n     int
}

func newLedger(drafts []MilestoneDraft) (Ledger, error) {
	var l Ledger
	if len(drafts) == 0 || len(drafts) > MaxMilestones {
		return l, fmt.Errorf("contract: %w: milestone count %d outside [1,%d]", apperr.ErrValidation, len(drafts), MaxMilestones)
	}
	for i, d := range drafts {
		if d.Title == "" || len(d.Title) > MaxMilestoneTitleLen {
			return Ledger{}, fmt.Errorf("contract: %w: milestone %d title must be 1..%d chars", apperr.ErrValidation, i, MaxMilestoneTitleLen)
		}
		if len(d.Description) > MaxMilestoneDescriptionLen {
			return Ledger{}, fmt.Errorf("contract: %w: milestone %d description exceeds %d chars", apperr.ErrValidation, i, MaxMilestoneDescriptionLen)
		}
		if d.Amount <= 0 {
			return Ledger{}, fmt.Errorf("contract: %w: milestone %d amount must be positive", apperr.ErrValidation, i)
		}
		l.slots[i] = Milestone{
			Index:        i,
			Title:        d.Title,
			Description:  d.Description,
			Amount:       d.Amount,
			Deadline:     d.Deadline,
			Status:       MilestonePending,
			Deliverables: make([]Deliverable, 0, MaxDeliverables),
		}
	}
	l.n = len(drafts)
	return l, nil
}

// Len returns the number of milestones.
func (l *Ledger) Len() int { return l.n }

// At returns the milestone at index for in-place mutation.
func (l *Ledger) At(index int) (*Milestone, error) {
	if index < 0 || index >= l.n {
		return nil, fmt.Errorf("contract: %w: milestone index %d out of range", apperr.ErrValidation, index)
	}
	return &l.slots[index], nil
}

// All returns a copy of the milestones in index order.
func (l *Ledger) All() []Milestone {
	out := make([]Milestone, l.n)
	copy(out, l.slots[:l.n])
	return out
}

// AllCompleted reports whether every milestone has been approved.
func (l *Ledger) AllCompleted() bool {
	for i := 0; i < l.n; i++ {
		if l.slots[i].Status != MilestoneCompleted {
			return false
		}
	}
	return l.n > 0
}

// CompletedTotal sums the amounts of completed milestones.
func (l *Ledger) CompletedTotal() int64 {
	var sum int64
	for i := 0; i < l.n; i++ {
		if l.slots[i].Status == MilestoneCompleted {
			sum += l.slots[i].Amount
		}
	}
	return sum
}

func (m *Milestone) appendDeliverable(d Deliverable, now time.Time) error {
	if len(m.Deliverables) >= MaxDeliverables {
		return fmt.Errorf("contract: %w: milestone %d already has %d deliverables", apperr.ErrLimit, m.Index, MaxDeliverables)
	}
	d.SubmittedAt = now
	m.Deliverables = append(m.Deliverables, d)
	return nil
}

func (l Ledger) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.slots[:l.n])
}

func (l *Ledger) UnmarshalJSON(b []byte) error {
	var ms []Milestone
	if err := json.Unmarshal(b, &ms); err != nil {
		return err
	}
	if len(ms) > MaxMilestones {
		return fmt.Errorf("contract: stored ledger holds %d milestones", len(ms))
	}
	*l = Ledger{}
	for i, m := range ms {
		if m.Index != i {
			return fmt.Errorf("contract: stored milestone %d has index %d", i, m.Index)
		}
		if m.Deliverables == nil {
			m.Deliverables = make([]Deliverable, 0, MaxDeliverables)
		}
		l.slots[i] = m
	}
	l.n = len(ms)
	return nil
}
