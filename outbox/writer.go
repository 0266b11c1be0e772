// Package outbox records the timeline of every contract and delivers domain
// events through a transactional outbox.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Writer appends timeline events and outbox messages inside the caller's
// transaction so they commit or roll back with the state change.
type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

// Append adds a timeline event for contractID. Sequence numbers are dense per
// contract; callers hold the contract row lock, which serialises writers.
func (w *Writer) Append(ctx context.Context, tx pgx.Tx, contractID, eventType, actorID string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: marshal timeline payload: %w", err)
	}
	var actor any
	if actorID != "" {
		actor = actorID
	}
	const q = `
INSERT INTO timeline_events (contract_id, seq, type, actor_id, payload)
SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4::jsonb
FROM timeline_events
WHERE contract_id = $1
`
	if _, err := tx.Exec(ctx, q, contractID, eventType, actor, body); err != nil {
		return fmt.Errorf("outbox: insert timeline event: %w", err)
	}
	return nil
}

// Enqueue stores a message for asynchronous delivery by the Relay.
func (w *Writer) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: marshal outbox payload: %w", err)
	}
	const q = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := tx.Exec(ctx, q, topic, body); err != nil {
		return fmt.Errorf("outbox: enqueue: %w", err)
	}
	return nil
}
