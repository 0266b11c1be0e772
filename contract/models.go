package contract

import "time"

// Status is the lifecycle state of a contract.
type Status string

const (
	StatusActive    Status = "active"
	StatusFunded    Status = "funded"
	StatusCompleted Status = "completed"
	StatusDisputed  Status = "disputed"
	// StatusCancelled is declared for storage compatibility; no transition reaches it.
	StatusCancelled Status = "cancelled"
)

// MilestoneStatus is the review state of a single milestone.
type MilestoneStatus string

const (
	MilestonePending           MilestoneStatus = "pending"
	MilestoneUnderReview       MilestoneStatus = "under_review"
	MilestoneRevisionRequested MilestoneStatus = "revision_requested"
	MilestoneCompleted         MilestoneStatus = "completed"
)

const (
	MaxMilestones   = 5
	MaxDeliverables = 3
	MaxRevisions    = 3

	MaxIDLen                   = 32
	MaxTitleLen                = 64
	MaxDescriptionLen          = 200
	MaxMilestoneTitleLen       = 64
	MaxMilestoneDescriptionLen = 150
	MaxContentRefLen           = 64
	MaxDeliverableNameLen      = 64
	MaxDeliverableNoteLen      = 100
	MaxRevisionReasonLen       = 100
)

// MaxListLimit bounds one page of ListForParty.
const MaxListLimit = 100

// Deliverable is one freelancer submission against a milestone.
type Deliverable struct {
	ContentRef  string    `json:"content_ref"`
	Name        string    `json:"name"`
	Note        string    `json:"note,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Milestone is one unit of paid work embedded in a contract.
type Milestone struct {
	Index        int             `json:"index"`
	Title        string          `json:"title"`
	Description  string          `json:"description,omitempty"`
	Amount       int64           `json:"amount"`
	Deadline     time.Time       `json:"deadline"`
	Status       MilestoneStatus `json:"status"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	Revisions    int             `json:"revisions"`
	Deliverables []Deliverable   `json:"deliverables"`
}

// Contract mirrors the contracts table. Milestones are embedded, never stored
// as separate rows.
type Contract struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Description    string    `json:"description,omitempty"`
	Client         string    `json:"client"`
	Freelancer     string    `json:"freelancer"`
	Total          int64     `json:"total_amount"`
	Paid           int64     `json:"paid_amount"`
	Denomination   string    `json:"denomination"`
	ClientNDA      bool      `json:"client_nda"`
	FreelancerNDA  bool      `json:"freelancer_nda"`
	Status         Status    `json:"status"`
	RequiredSkills []string  `json:"required_skills,omitempty"`
	Milestones     Ledger    `json:"milestones"`
	Version        int64     `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// MilestoneDraft is the caller-supplied shape of a milestone at creation.
type MilestoneDraft struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Amount      int64     `json:"amount"`
	Deadline    time.Time `json:"deadline"`
}

// CreateParams carries everything needed to create a contract.
type CreateParams struct {
	ID             string           `json:"id"`
	Title          string           `json:"title"`
	Description    string           `json:"description"`
	Client         string           `json:"-"`
	Freelancer     string           `json:"freelancer"`
	Total          int64            `json:"total_amount"`
	Denomination   string           `json:"denomination"`
	Milestones     []MilestoneDraft `json:"milestones"`
	RequiredSkills []string         `json:"required_skills"`
}
