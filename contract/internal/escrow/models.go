package escrow

import "time"

// Account is the custody record held for one contract. Balance plus Released
// never exceeds Total, and Balance is only non-zero once Funded is set.
type Account struct {
	ContractID   string     `json:"contract_id"`
	Denomination string     `json:"denomination"`
	Total        int64      `json:"total"`
	Balance      int64      `json:"balance"`
	Released     int64      `json:"released"`
	Funded       bool       `json:"funded"`
	FundedAt     *time.Time `json:"funded_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// MovementKind distinguishes inbound and outbound custody movements.
type MovementKind string

const (
	MovementDeposit MovementKind = "deposit"
	MovementRelease MovementKind = "release"
)

// Movement is one append-only row of the custody ledger.
type Movement struct {
	ID             int64        `json:"id"`
	ContractID     string       `json:"contract_id"`
	Kind           MovementKind `json:"kind"`
	MilestoneIndex *int         `json:"milestone_index,omitempty"`
	Party          string       `json:"party"`
	Amount         int64        `json:"amount"`
	CreatedAt      time.Time    `json:"created_at"`
}

// ReleaseOrder instructs a payout of one milestone amount to the payee.
type ReleaseOrder struct {
	ContractID     string
	MilestoneIndex int
	To             string
	Amount         int64
}
