package dispute

import "time"

// Status represents the lifecycle of a dispute record.
type Status string

const (
	StatusOpen                  Status = "open"
	StatusUnderReview           Status = "under_review"
	StatusResolvedForClient     Status = "resolved_for_client"
	StatusResolvedForFreelancer Status = "resolved_for_freelancer"
	// StatusCancelled is declared for storage compatibility; no transition reaches it.
	StatusCancelled Status = "cancelled"
)

// Resolved reports whether arbitration has reached an outcome.
func (s Status) Resolved() bool {
	return s == StatusResolvedForClient || s == StatusResolvedForFreelancer
}

// Category classifies the disagreement at open time.
type Category string

const (
	CategoryQuality       Category = "quality"
	CategoryDeadline      Category = "deadline"
	CategoryScope         Category = "scope"
	CategoryPayment       Category = "payment"
	CategoryCommunication Category = "communication"
	CategoryOther         Category = "other"
)

var categoryLabels = map[Category]string{
	CategoryQuality:       "Work Quality",
	CategoryDeadline:      "Missed Deadline",
	CategoryScope:         "Scope Disagreement",
	CategoryPayment:       "Payment",
	CategoryCommunication: "Communication",
	CategoryOther:         "Other",
}

// Label returns the display name, or "" for an unknown category.
func (c Category) Label() string {
	return categoryLabels[c]
}

const (
	Arbitrators = 3
	MaxVotes    = 3
	// Majority is the ballot count that resolves a dispute, and the number of
	// client votes needed for a client outcome.
	Majority = 2

	MaxReasonLen      = 100
	MaxDescriptionLen = 1000
	MaxReasoningLen   = 500
)

// Vote is one arbitrator's immutable ballot.
type Vote struct {
	Arbitrator   string    `json:"arbitrator"`
	FavorsClient bool      `json:"favors_client"`
	Reasoning    string    `json:"reasoning,omitempty"`
	VotedAt      time.Time `json:"voted_at"`
}

// Dispute mirrors the disputes table.
type Dispute struct {
	ID          string     `json:"id"`
	ContractID  string     `json:"contract_id"`
	Initiator   string     `json:"initiator"`
	Category    Category   `json:"category"`
	Reason      string     `json:"reason"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status"`
	Arbitrators []string   `json:"arbitrators"`
	Votes       []Vote     `json:"votes"`
	Version     int64      `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

// OpenParams is the caller input for escalating a contract.
type OpenParams struct {
	ContractID  string   `json:"-"`
	Initiator   string   `json:"-"`
	Category    Category `json:"category"`
	Reason      string   `json:"reason"`
	Description string   `json:"description"`
}
