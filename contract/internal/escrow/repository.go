package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"escrowflow/apperr"
	"escrowflow/db"
)

// PGRepository stores custody state in escrow_accounts and escrow_movements.
type PGRepository struct{}

func NewPGRepository() *PGRepository {
	return &PGRepository{}
}

const accountColumns = `contract_id, denomination, total, balance, released, funded, funded_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ContractID, &a.Denomination, &a.Total, &a.Balance, &a.Released, &a.Funded, &a.FundedAt, &a.UpdatedAt)
	return a, err
}

func (r *PGRepository) InsertAccount(ctx context.Context, tx pgx.Tx, acct Account) error {
	const q = `
INSERT INTO escrow_accounts (contract_id, denomination, total, balance, released, funded, updated_at)
VALUES ($1, $2, $3, 0, 0, FALSE, $4)
`
	if _, err := tx.Exec(ctx, q, acct.ContractID, acct.Denomination, acct.Total, acct.UpdatedAt); err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("escrow: %w: account %s exists", apperr.ErrDuplicate, acct.ContractID)
		}
		return fmt.Errorf("escrow: insert account: %w", err)
	}
	return nil
}

func (r *PGRepository) LockAccount(ctx context.Context, tx pgx.Tx, contractID string) (Account, error) {
	q := `SELECT ` + accountColumns + ` FROM escrow_accounts WHERE contract_id = $1 FOR UPDATE`
	acct, err := scanAccount(tx.QueryRow(ctx, q, contractID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, fmt.Errorf("escrow: %w: account %s", apperr.ErrNotFound, contractID)
		}
		return Account{}, fmt.Errorf("escrow: lock account: %w", err)
	}
	return acct, nil
}

func (r *PGRepository) SaveAccount(ctx context.Context, tx pgx.Tx, acct Account) error {
	const q = `
UPDATE escrow_accounts
SET balance = $2, released = $3, funded = $4, funded_at = $5, updated_at = $6
WHERE contract_id = $1
`
	tag, err := tx.Exec(ctx, q, acct.ContractID, acct.Balance, acct.Released, acct.Funded, acct.FundedAt, acct.UpdatedAt)
	if err != nil {
		return fmt.Errorf("escrow: save account: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("escrow: %w: account %s", apperr.ErrNotFound, acct.ContractID)
	}
	return nil
}

func (r *PGRepository) InsertMovement(ctx context.Context, tx pgx.Tx, m Movement) error {
	const q = `
INSERT INTO escrow_movements (contract_id, kind, milestone_index, party, amount, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
`
	if _, err := tx.Exec(ctx, q, m.ContractID, string(m.Kind), m.MilestoneIndex, m.Party, m.Amount, m.CreatedAt); err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("escrow: %w: %s movement", apperr.ErrDuplicate, m.Kind)
		}
		return fmt.Errorf("escrow: insert movement: %w", err)
	}
	return nil
}

func (r *PGRepository) HasRelease(ctx context.Context, tx pgx.Tx, contractID string, milestoneIndex int) (bool, error) {
	const q = `
SELECT EXISTS (
    SELECT 1 FROM escrow_movements
    WHERE contract_id = $1 AND kind = 'release' AND milestone_index = $2
)`
	var exists bool
	if err := tx.QueryRow(ctx, q, contractID, milestoneIndex).Scan(&exists); err != nil {
		return false, fmt.Errorf("escrow: check release: %w", err)
	}
	return exists, nil
}

func (r *PGRepository) GetAccount(ctx context.Context, q db.Querier, contractID string) (Account, error) {
	acct, err := scanAccount(q.QueryRow(ctx, `SELECT `+accountColumns+` FROM escrow_accounts WHERE contract_id = $1`, contractID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, fmt.Errorf("escrow: %w: account %s", apperr.ErrNotFound, contractID)
		}
		return Account{}, fmt.Errorf("escrow: get account: %w", err)
	}
	return acct, nil
}

func (r *PGRepository) ListMovements(ctx context.Context, q db.Querier, contractID string) ([]Movement, error) {
	rows, err := q.Query(ctx, `
SELECT id, contract_id, kind, milestone_index, party, amount, created_at
FROM escrow_movements
WHERE contract_id = $1
ORDER BY id ASC
`, contractID)
	if err != nil {
		return nil, fmt.Errorf("escrow: list movements: %w", err)
	}
	defer rows.Close()

	var out []Movement
	for rows.Next() {
		var (
			m    Movement
			kind string
		)
		if err := rows.Scan(&m.ID, &m.ContractID, &kind, &m.MilestoneIndex, &m.Party, &m.Amount, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("escrow: scan movement: %w", err)
		}
		m.Kind = MovementKind(kind)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("escrow: iterate movements: %w", err)
	}
	return out, nil
}
