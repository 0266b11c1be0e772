package outbox

import (
	"encoding/json"
	"time"
)

// TimelineEvent captures an immutable business event for a contract.
type TimelineEvent struct {
	ID         int64           `json:"id"`
	ContractID string          `json:"contract_id"`
	Seq        int             `json:"seq"`
	Type       string          `json:"type"`
	ActorID    *string         `json:"actor_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Message represents a transactional outbox entry.
type Message struct {
	ID        string          `json:"id"`
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	Status    string          `json:"-"`
	Attempts  int             `json:"-"`
	CreatedAt time.Time       `json:"created_at"`
}

const (
	StatusPending   = "pending"
	StatusProcessed = "processed"
	StatusDead      = "dead"

	// MaxAttempts is the number of failed deliveries after which a message is parked.
	MaxAttempts = 5
)
