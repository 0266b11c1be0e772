// Package escrow holds contract funds in custody. Deposits go through a Vault;
// releases require the Releaser returned by New. The package is internal to
// contract, so the lifecycle service is the only holder of a Releaser.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"escrowflow/apperr"
	"escrowflow/db"
)

var (
	// ErrNotIssued is returned by a Releaser that was not obtained from New.
	ErrNotIssued = errors.New("escrow: releaser not issued by escrow.New")
)

// Repository persists custody accounts and their movements. Writes always run
// inside the caller's transaction.
type Repository interface {
	InsertAccount(ctx context.Context, tx pgx.Tx, acct Account) error
	LockAccount(ctx context.Context, tx pgx.Tx, contractID string) (Account, error)
	SaveAccount(ctx context.Context, tx pgx.Tx, acct Account) error
	InsertMovement(ctx context.Context, tx pgx.Tx, m Movement) error
	HasRelease(ctx context.Context, tx pgx.Tx, contractID string, milestoneIndex int) (bool, error)
	GetAccount(ctx context.Context, q db.Querier, contractID string) (Account, error)
	ListMovements(ctx context.Context, q db.Querier, contractID string) ([]Movement, error)
}

// Vault opens custody accounts and accepts deposits.
type Vault struct {
	repo Repository
	now  func() time.Time
}

// Releaser is the only path by which custody funds leave an account.
type Releaser struct {
	repo Repository
	now  func() time.Time
}

// New returns the deposit side and the release capability for repo.
func New(repo Repository) (*Vault, *Releaser) {
	if repo == nil {
		repo = NewPGRepository()
	}
	now := func() time.Time { return time.Now().UTC() }
	return &Vault{repo: repo, now: now}, &Releaser{repo: repo, now: now}
}

// Open creates an unfunded custody account for a contract.
func (v *Vault) Open(ctx context.Context, tx pgx.Tx, contractID, denomination string, total int64) error {
	if contractID == "" {
		return fmt.Errorf("escrow: %w: missing contract id", apperr.ErrValidation)
	}
	if denomination == "" {
		return fmt.Errorf("escrow: %w: missing denomination", apperr.ErrValidation)
	}
	if total <= 0 {
		return fmt.Errorf("escrow: %w: total must be positive", apperr.ErrValidation)
	}
	return v.repo.InsertAccount(ctx, tx, Account{
		ContractID:   contractID,
		Denomination: denomination,
		Total:        total,
		UpdatedAt:    v.now(),
	})
}

// Deposit moves the full contract total into custody. Partial or excess
// amounts are rejected and the balance stays zero.
func (v *Vault) Deposit(ctx context.Context, tx pgx.Tx, contractID, from string, amount int64) (Account, error) {
	acct, err := v.repo.LockAccount(ctx, tx, contractID)
	if err != nil {
		return Account{}, err
	}
	if acct.Funded {
		return Account{}, fmt.Errorf("escrow: %w: account %s already funded", apperr.ErrState, contractID)
	}
	if amount != acct.Total {
		return Account{}, fmt.Errorf("escrow: %w: deposit %d does not match total %d", apperr.ErrValidation, amount, acct.Total)
	}

	now := v.now()
	acct.Balance = amount
	acct.Funded = true
	acct.FundedAt = &now
	acct.UpdatedAt = now
	if err := v.repo.SaveAccount(ctx, tx, acct); err != nil {
		return Account{}, err
	}
	if err := v.repo.InsertMovement(ctx, tx, Movement{
		ContractID: contractID,
		Kind:       MovementDeposit,
		Party:      from,
		Amount:     amount,
		CreatedAt:  now,
	}); err != nil {
		if errors.Is(err, apperr.ErrDuplicate) {
			return Account{}, fmt.Errorf("escrow: %w: account %s already funded", apperr.ErrState, contractID)
		}
		return Account{}, err
	}
	return acct, nil
}

// Account reads the custody record without locking it.
func (v *Vault) Account(ctx context.Context, q db.Querier, contractID string) (Account, error) {
	return v.repo.GetAccount(ctx, q, contractID)
}

// Movements lists the custody ledger for a contract, oldest first.
func (v *Vault) Movements(ctx context.Context, q db.Querier, contractID string) ([]Movement, error) {
	return v.repo.ListMovements(ctx, q, contractID)
}

// Release pays one milestone out of custody. Each milestone index is released
// at most once per account.
func (r *Releaser) Release(ctx context.Context, tx pgx.Tx, order ReleaseOrder) (Account, error) {
	if r == nil || r.repo == nil {
		return Account{}, ErrNotIssued
	}
	if order.Amount <= 0 {
		return Account{}, fmt.Errorf("escrow: %w: release amount must be positive", apperr.ErrValidation)
	}
	if order.To == "" {
		return Account{}, fmt.Errorf("escrow: %w: missing payee", apperr.ErrValidation)
	}

	acct, err := r.repo.LockAccount(ctx, tx, order.ContractID)
	if err != nil {
		return Account{}, err
	}
	if !acct.Funded {
		return Account{}, fmt.Errorf("escrow: %w: account %s not funded", apperr.ErrState, order.ContractID)
	}
	released, err := r.repo.HasRelease(ctx, tx, order.ContractID, order.MilestoneIndex)
	if err != nil {
		return Account{}, err
	}
	if released {
		return Account{}, fmt.Errorf("escrow: %w: milestone %d already released", apperr.ErrState, order.MilestoneIndex)
	}
	if acct.Balance < order.Amount {
		return Account{}, fmt.Errorf("escrow: %w: balance %d below release %d", apperr.ErrState, acct.Balance, order.Amount)
	}

	now := r.now()
	acct.Balance -= order.Amount
	acct.Released += order.Amount
	acct.UpdatedAt = now
	if err := r.repo.SaveAccount(ctx, tx, acct); err != nil {
		return Account{}, err
	}
	idx := order.MilestoneIndex
	if err := r.repo.InsertMovement(ctx, tx, Movement{
		ContractID:     order.ContractID,
		Kind:           MovementRelease,
		MilestoneIndex: &idx,
		Party:          order.To,
		Amount:         order.Amount,
		CreatedAt:      now,
	}); err != nil {
		if errors.Is(err, apperr.ErrDuplicate) {
			return Account{}, fmt.Errorf("escrow: %w: milestone %d already released", apperr.ErrState, order.MilestoneIndex)
		}
		return Account{}, err
	}
	return acct, nil
}
