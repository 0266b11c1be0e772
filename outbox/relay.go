package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"escrowflow/metrics"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Publisher delivers one outbox message downstream.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Store claims and settles outbox rows.
type Store interface {
	ClaimPending(ctx context.Context, tx pgx.Tx, limit int) ([]Message, error)
	MarkProcessed(ctx context.Context, tx pgx.Tx, id string) error
	MarkFailed(ctx context.Context, tx pgx.Tx, id string, attempts int, cause string) error
}

// Relay polls pending outbox rows and hands them to a Publisher. Several
// relays may run against the same table; rows are claimed with SKIP LOCKED.
type Relay struct {
	pool     TxBeginner
	store    Store
	pub      Publisher
	batch    int
	interval time.Duration
	log      *slog.Logger
}

func NewRelay(pool TxBeginner, store Store, pub Publisher, batch int, interval time.Duration, log *slog.Logger) *Relay {
	if store == nil {
		store = NewPGStore()
	}
	if batch <= 0 {
		batch = 50
	}
	if interval <= 0 {
		interval = time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Relay{pool: pool, store: store, pub: pub, batch: batch, interval: interval, log: log.With("component", "outbox_relay")}
}

// Run drains the outbox every interval until ctx is cancelled. A fully
// delivered batch is followed by another drain straight away; any publish
// failure waits for the next tick so retries are spread over time.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		_, delivered, err := r.drain(ctx)
		if err != nil && ctx.Err() == nil {
			r.log.Error("outbox drain failed", "error", err)
		}
		if err == nil && delivered == r.batch {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Drain delivers at most one batch and returns how many rows it settled.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	settled, _, err := r.drain(ctx)
	return settled, err
}

func (r *Relay) drain(ctx context.Context) (settled, delivered int, err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("outbox: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	msgs, err := r.store.ClaimPending(ctx, tx, r.batch)
	if err != nil {
		return 0, 0, err
	}
	for _, msg := range msgs {
		if pubErr := r.pub.Publish(ctx, msg); pubErr != nil {
			attempts := msg.Attempts + 1
			if err := r.store.MarkFailed(ctx, tx, msg.ID, attempts, pubErr.Error()); err != nil {
				return 0, 0, err
			}
			result := "retry"
			if attempts >= MaxAttempts {
				result = "dead"
			}
			metrics.OutboxDeliveredTotal.WithLabelValues(result).Inc()
			r.log.Warn("outbox publish failed", "message_id", msg.ID, "topic", msg.Topic, "attempts", attempts, "error", pubErr)
			continue
		}
		if err := r.store.MarkProcessed(ctx, tx, msg.ID); err != nil {
			return 0, 0, err
		}
		delivered++
		metrics.OutboxDeliveredTotal.WithLabelValues("ok").Inc()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("outbox: commit drain: %w", err)
	}
	return len(msgs), delivered, nil
}

// PGStore is the PostgreSQL implementation of Store.
type PGStore struct{}

func NewPGStore() *PGStore {
	return &PGStore{}
}

func (s *PGStore) ClaimPending(ctx context.Context, tx pgx.Tx, limit int) ([]Message, error) {
	const q = `
SELECT id::text, topic, payload, status, attempts, created_at
FROM outbox
WHERE status = 'pending'
ORDER BY created_at ASC
LIMIT $1
FOR UPDATE SKIP LOCKED
`
	rows, err := tx.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox: claim pending: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.Status, &m.Attempts, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("outbox: scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: iterate pending: %w", err)
	}
	return out, nil
}

func (s *PGStore) MarkProcessed(ctx context.Context, tx pgx.Tx, id string) error {
	if _, err := tx.Exec(ctx, `UPDATE outbox SET status = 'processed', processed_at = now() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("outbox: mark processed: %w", err)
	}
	return nil
}

func (s *PGStore) MarkFailed(ctx context.Context, tx pgx.Tx, id string, attempts int, cause string) error {
	status := StatusPending
	if attempts >= MaxAttempts {
		status = StatusDead
	}
	const q = `UPDATE outbox SET attempts = $2, last_error = $3, status = $4 WHERE id = $1`
	if _, err := tx.Exec(ctx, q, id, attempts, cause, status); err != nil {
		return fmt.Errorf("outbox: mark failed: %w", err)
	}
	return nil
}
