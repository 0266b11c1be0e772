package outbox

import (
	"context"
	"fmt"

	"escrowflow/db"
)

// ListTimeline returns the events recorded for a contract in sequence order.
func ListTimeline(ctx context.Context, q db.Querier, contractID string) ([]TimelineEvent, error) {
	rows, err := q.Query(ctx, `
SELECT id, contract_id, seq, type, actor_id, payload, created_at
FROM timeline_events
WHERE contract_id = $1
ORDER BY seq ASC
`, contractID)
	if err != nil {
		return nil, fmt.Errorf("outbox: list timeline: %w", err)
	}
	defer rows.Close()

	events := make([]TimelineEvent, 0)
	for rows.Next() {
		var ev TimelineEvent
		if err := rows.Scan(&ev.ID, &ev.ContractID, &ev.Seq, &ev.Type, &ev.ActorID, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("outbox: scan timeline: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: iterate timeline: %w", err)
	}
	return events, nil
}
