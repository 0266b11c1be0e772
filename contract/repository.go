package contract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"escrowflow/apperr"
	"escrowflow/db"
)

// ErrConcurrentUpdate is returned when the stored version moved underneath a
// locked update. It wraps ErrState so callers treat it as a stale precondition.
var ErrConcurrentUpdate = fmt.Errorf("contract: %w: concurrent modification", apperr.ErrState)

// PGRepository persists contracts with milestones embedded as JSONB.
type PGRepository struct{}

func NewPGRepository() *PGRepository {
	return &PGRepository{}
}

const contractColumns = `
id, title, description, client_id, freelancer_id, total_amount, paid_amount,
denomination, client_nda, freelancer_nda, status, required_skills, milestones,
version, created_at, updated_at`

func scanContract(row pgx.Row) (*Contract, error) {
	var (
		c          Contract
		status     string
		milestones []byte
	)
	if err := row.Scan(
		&c.ID,
		&c.Title,
		&c.Description,
		&c.Client,
		&c.Freelancer,
		&c.Total,
		&c.Paid,
		&c.Denomination,
		&c.ClientNDA,
		&c.FreelancerNDA,
		&status,
		&c.RequiredSkills,
		&milestones,
		&c.Version,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	c.Status = Status(status)
	if err := json.Unmarshal(milestones, &c.Milestones); err != nil {
		return nil, fmt.Errorf("contract: decode milestones for %s: %w", c.ID, err)
	}
	return &c, nil
}

// Insert stores a new contract. A taken id is reported as ErrDuplicate.
func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, c *Contract) error {
	milestones, err := json.Marshal(c.Milestones)
	if err != nil {
		return fmt.Errorf("contract: encode milestones: %w", err)
	}
	skills := c.RequiredSkills
	if skills == nil {
		skills = []string{}
	}
	const q = `
INSERT INTO contracts (id, title, description, client_id, freelancer_id, total_amount, paid_amount,
    denomination, client_nda, freelancer_nda, status, required_skills, milestones, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::jsonb, $14, $15, $16)
`
	if _, err := tx.Exec(ctx, q,
		c.ID, c.Title, c.Description, c.Client, c.Freelancer, c.Total, c.Paid,
		c.Denomination, c.ClientNDA, c.FreelancerNDA, string(c.Status), skills, milestones,
		c.Version, c.CreatedAt, c.UpdatedAt,
	); err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("contract: %w: id %s already exists", apperr.ErrDuplicate, c.ID)
		}
		return fmt.Errorf("contract: insert: %w", err)
	}
	return nil
}

// GetForUpdate loads a contract and holds its row lock until tx ends.
func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (*Contract, error) {
	c, err := scanContract(tx.QueryRow(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("contract: %w: %s", apperr.ErrNotFound, id)
		}
		return nil, fmt.Errorf("contract: lock %s: %w", id, err)
	}
	return c, nil
}

// Get loads a contract without locking.
func (r *PGRepository) Get(ctx context.Context, q db.Querier, id string) (*Contract, error) {
	c, err := scanContract(q.QueryRow(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("contract: %w: %s", apperr.ErrNotFound, id)
		}
		return nil, fmt.Errorf("contract: get %s: %w", id, err)
	}
	return c, nil
}

// Update writes the mutable fields back if the stored version still matches,
// then advances c.Version.
func (r *PGRepository) Update(ctx context.Context, tx pgx.Tx, c *Contract) error {
	milestones, err := json.Marshal(c.Milestones)
	if err != nil {
		return fmt.Errorf("contract: encode milestones: %w", err)
	}
	const q = `
UPDATE contracts
SET paid_amount = $3,
    client_nda = $4,
    freelancer_nda = $5,
    status = $6,
    milestones = $7::jsonb,
    updated_at = $8,
    version = version + 1
WHERE id = $1 AND version = $2
`
	tag, err := tx.Exec(ctx, q, c.ID, c.Version, c.Paid, c.ClientNDA, c.FreelancerNDA, string(c.Status), milestones, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("contract: update %s: %w", c.ID, err)
	}
	if tag.RowsAffected() != 1 {
		return ErrConcurrentUpdate
	}
	c.Version++
	return nil
}

// ListForParty returns contracts where party is client or freelancer, newest first.
func (r *PGRepository) ListForParty(ctx context.Context, q db.Querier, party string, limit int) ([]*Contract, error) {
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}
	rows, err := q.Query(ctx, `
SELECT `+contractColumns+`
FROM contracts
WHERE client_id = $1 OR freelancer_id = $1
ORDER BY created_at DESC, id ASC
LIMIT $2
`, party, limit)
	if err != nil {
		return nil, fmt.Errorf("contract: list: %w", err)
	}
	defer rows.Close()

	out := make([]*Contract, 0)
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, fmt.Errorf("contract: scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("contract: iterate: %w", err)
	}
	return out, nil
}
