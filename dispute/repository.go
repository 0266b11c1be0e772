package dispute

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"escrowflow/apperr"
	"escrowflow/db"
)

var (
	// ErrUnresolvedExists signals the contract already has an open or
	// under-review dispute.
	ErrUnresolvedExists = fmt.Errorf("dispute: %w: contract already has an unresolved dispute", apperr.ErrState)
	// ErrConcurrentUpdate is returned when the stored version moved underneath a locked update.
	ErrConcurrentUpdate = fmt.Errorf("dispute: %w: concurrent modification", apperr.ErrState)
)

type PGRepository struct{}

func NewPGRepository() *PGRepository {
	return &PGRepository{}
}

const disputeColumns = `id::text, contract_id, initiator, category, reason, description, status,
arbitrators, votes, version, created_at, resolved_at`

func scanDispute(row pgx.Row) (*Dispute, error) {
	var (
		d        Dispute
		category string
		status   string
		votes    []byte
	)
	if err := row.Scan(&d.ID, &d.ContractID, &d.Initiator, &category, &d.Reason, &d.Description, &status,
		&d.Arbitrators, &votes, &d.Version, &d.CreatedAt, &d.ResolvedAt); err != nil {
		return nil, err
	}
	d.Category = Category(category)
	d.Status = Status(status)
	if err := json.Unmarshal(votes, &d.Votes); err != nil {
		return nil, fmt.Errorf("dispute: decode votes for %s: %w", d.ID, err)
	}
	if d.Votes == nil {
		d.Votes = []Vote{}
	}
	if d.Arbitrators == nil {
		d.Arbitrators = []string{}
	}
	return &d, nil
}

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, d *Dispute) error {
	votes, err := json.Marshal(d.Votes)
	if err != nil {
		return fmt.Errorf("dispute: encode votes: %w", err)
	}
	const q = `
INSERT INTO disputes (id, contract_id, initiator, category, reason, description, status, arbitrators, votes, version, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11)
`
	if _, err := tx.Exec(ctx, q, d.ID, d.ContractID, d.Initiator, string(d.Category), d.Reason, d.Description,
		string(d.Status), d.Arbitrators, votes, d.Version, d.CreatedAt); err != nil {
		if db.IsUniqueViolation(err) {
			return ErrUnresolvedExists
		}
		return fmt.Errorf("dispute: insert: %w", err)
	}
	return nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (*Dispute, error) {
	d, err := scanDispute(tx.QueryRow(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id::text = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("dispute: %w: %s", apperr.ErrNotFound, id)
		}
		return nil, fmt.Errorf("dispute: lock %s: %w", id, err)
	}
	return d, nil
}

func (r *PGRepository) Get(ctx context.Context, q db.Querier, id string) (*Dispute, error) {
	d, err := scanDispute(q.QueryRow(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id::text = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("dispute: %w: %s", apperr.ErrNotFound, id)
		}
		return nil, fmt.Errorf("dispute: get %s: %w", id, err)
	}
	return d, nil
}

func (r *PGRepository) Update(ctx context.Context, tx pgx.Tx, d *Dispute) error {
	votes, err := json.Marshal(d.Votes)
	if err != nil {
		return fmt.Errorf("dispute: encode votes: %w", err)
	}
	const q = `
UPDATE disputes
SET status = $3, arbitrators = $4, votes = $5::jsonb, resolved_at = $6, version = version + 1
WHERE id::text = $1 AND version = $2
`
	tag, err := tx.Exec(ctx, q, d.ID, d.Version, string(d.Status), d.Arbitrators, votes, d.ResolvedAt)
	if err != nil {
		return fmt.Errorf("dispute: update %s: %w", d.ID, err)
	}
	if tag.RowsAffected() != 1 {
		return ErrConcurrentUpdate
	}
	d.Version++
	return nil
}

func (r *PGRepository) HasUnresolved(ctx context.Context, tx pgx.Tx, contractID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM disputes WHERE contract_id = $1 AND status IN ('open','under_review'))`
	var exists bool
	if err := tx.QueryRow(ctx, q, contractID).Scan(&exists); err != nil {
		return false, fmt.Errorf("dispute: check unresolved: %w", err)
	}
	return exists, nil
}

func (r *PGRepository) ListForContract(ctx context.Context, q db.Querier, contractID string) ([]*Dispute, error) {
	rows, err := q.Query(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE contract_id = $1 ORDER BY created_at DESC`, contractID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	defer rows.Close()

	out := make([]*Dispute, 0, 4)
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}
