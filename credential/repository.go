package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"escrowflow/apperr"
	"escrowflow/db"
)

// PGRegistry provides read access to the credentials table.
type PGRegistry struct{}

// NewPGRegistry wires the pgx-backed registry.
func NewPGRegistry() *PGRegistry {
	return &PGRegistry{}
}

const credentialColumns = `id::text, holder, skill, score, is_valid, revoked, issued_at, expires_at`

func scanCredential(row pgx.Row) (Credential, error) {
	var (
		c     Credential
		skill string
	)
	if err := row.Scan(&c.ID, &c.Holder, &skill, &c.Score, &c.IsValid, &c.Revoked, &c.IssuedAt, &c.ExpiresAt); err != nil {
		return Credential{}, err
	}
	c.Skill = Skill(skill)
	c.Label = c.Skill.Label()
	return c, nil
}

// HasValid reports whether holder has at least one usable credential of skill.
func (r *PGRegistry) HasValid(ctx context.Context, q db.Querier, holder string, skill Skill) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM credentials
			WHERE holder = $1 AND skill = $2
			  AND is_valid AND NOT revoked
			  AND (expires_at IS NULL OR expires_at > now())
		)
	`
	var ok bool
	if err := q.QueryRow(ctx, query, holder, string(skill)).Scan(&ok); err != nil {
		return false, fmt.Errorf("credential: check %s: %w", skill, err)
	}
	return ok, nil
}

// GetByID fetches a credential by its primary key.
func (r *PGRegistry) GetByID(ctx context.Context, q db.Querier, id string) (Credential, error) {
	c, err := scanCredential(q.QueryRow(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE id::text = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Credential{}, fmt.Errorf("credential: %w: %s", apperr.ErrNotFound, id)
		}
		return Credential{}, fmt.Errorf("credential: query by id: %w", err)
	}
	return c, nil
}

// ListForHolder fetches the credentials held by an identity, newest first.
func (r *PGRegistry) ListForHolder(ctx context.Context, q db.Querier, holder string) ([]Credential, error) {
	rows, err := q.Query(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE holder = $1 ORDER BY issued_at DESC`, holder)
	if err != nil {
		return nil, fmt.Errorf("credential: list: %w", err)
	}
	defer rows.Close()

	creds := make([]Credential, 0)
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("credential: scan: %w", err)
		}
		creds = append(creds, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("credential: iterate: %w", err)
	}
	return creds, nil
}
