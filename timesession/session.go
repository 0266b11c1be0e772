// Package timesession keeps the freelancer's append-only work log. Sessions
// have no effect on contract or milestone status.
package timesession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"escrowflow/apperr"
	"escrowflow/contract"
	"escrowflow/db"
)

const MaxNoteLen = 200

// Session is one tracked work interval against a milestone.
type Session struct {
	ID             string     `json:"id"`
	ContractID     string     `json:"contract_id"`
	Freelancer     string     `json:"freelancer"`
	MilestoneIndex int        `json:"milestone_index"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	Duration       int64      `json:"duration_seconds"`
	Note           string     `json:"note,omitempty"`
}

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, s Session) error
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Session, error)
	Close(ctx context.Context, tx pgx.Tx, s Session) error
	ListForContract(ctx context.Context, q db.Querier, contractID string) ([]Session, error)
}

// Contracts resolves the contract a session is logged against.
type Contracts interface {
	Lookup(ctx context.Context, q db.Querier, id string) (*contract.Contract, error)
}

type Service struct {
	pool        TxBeginner
	repo        Repository
	contracts   Contracts
	log         *slog.Logger
	idGenerator func() string
	now         func() time.Time
}

func NewService(pool TxBeginner, repo Repository, contracts Contracts) *Service {
	if repo == nil {
		repo = NewPGRepository()
	}
	return &Service{
		pool:        pool,
		repo:        repo,
		contracts:   contracts,
		log:         slog.Default().With("component", "timesession"),
		idGenerator: func() string { return uuid.NewString() },
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

// Start opens a session for the contract's freelancer on one milestone.
func (s *Service) Start(ctx context.Context, contractID, freelancer string, milestoneIndex int) (Session, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("timesession: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := s.contracts.Lookup(ctx, tx, contractID)
	if err != nil {
		return Session{}, err
	}
	if c.Freelancer != freelancer {
		return Session{}, fmt.Errorf("timesession: %w: %s is not the freelancer of %s", apperr.ErrUnauthorized, freelancer, contractID)
	}
	if _, err := c.Milestones.At(milestoneIndex); err != nil {
		return Session{}, err
	}

	sess := Session{
		ID:             s.idGenerator(),
		ContractID:     contractID,
		Freelancer:     freelancer,
		MilestoneIndex: milestoneIndex,
		StartedAt:      s.now(),
	}
	if err := s.repo.Insert(ctx, tx, sess); err != nil {
		return Session{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Session{}, fmt.Errorf("timesession: commit tx: %w", err)
	}
	s.log.Info("session started", "session_id", sess.ID, "contract_id", contractID, "milestone", milestoneIndex)
	return sess, nil
}

// End closes an open session and stamps its duration.
func (s *Service) End(ctx context.Context, sessionID, freelancer, note string) (Session, error) {
	if len(note) > MaxNoteLen {
		return Session{}, fmt.Errorf("timesession: %w: note exceeds %d chars", apperr.ErrValidation, MaxNoteLen)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("timesession: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	sess, err := s.repo.GetForUpdate(ctx, tx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if sess.Freelancer != freelancer {
		return Session{}, fmt.Errorf("timesession: %w: session belongs to another freelancer", apperr.ErrUnauthorized)
	}
	if sess.EndedAt != nil {
		return Session{}, fmt.Errorf("timesession: %w: session %s already ended", apperr.ErrState, sessionID)
	}

	end := s.now()
	if end.Before(sess.StartedAt) {
		end = sess.StartedAt
	}
	sess.EndedAt = &end
	sess.Duration = int64(end.Sub(sess.StartedAt) / time.Second)
	sess.Note = note
	if err := s.repo.Close(ctx, tx, sess); err != nil {
		return Session{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Session{}, fmt.Errorf("timesession: commit tx: %w", err)
	}
	s.log.Info("session ended", "session_id", sess.ID, "contract_id", sess.ContractID, "duration_seconds", sess.Duration)
	return sess, nil
}

// List returns the sessions logged against a contract, oldest first.
func (s *Service) List(ctx context.Context, contractID string) ([]Session, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("timesession: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.contracts.Lookup(ctx, tx, contractID); err != nil {
		return nil, err
	}
	out, err := s.repo.ListForContract(ctx, tx, contractID)
	if err != nil {
		return nil, err
	}
	return out, tx.Commit(ctx)
}

// PGRepository stores sessions in the time_sessions table.
type PGRepository struct{}

func NewPGRepository() *PGRepository {
	return &PGRepository{}
}

const sessionColumns = `id::text, contract_id, freelancer_id, milestone_index, started_at, ended_at, duration_seconds, note`

func scanSession(row pgx.Row) (Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.ContractID, &s.Freelancer, &s.MilestoneIndex, &s.StartedAt, &s.EndedAt, &s.Duration, &s.Note)
	return s, err
}

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, s Session) error {
	const q = `
INSERT INTO time_sessions (id, contract_id, freelancer_id, milestone_index, started_at)
VALUES ($1, $2, $3, $4, $5)
`
	if _, err := tx.Exec(ctx, q, s.ID, s.ContractID, s.Freelancer, s.MilestoneIndex, s.StartedAt); err != nil {
		return fmt.Errorf("timesession: insert: %w", err)
	}
	return nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Session, error) {
	s, err := scanSession(tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM time_sessions WHERE id::text = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, fmt.Errorf("timesession: %w: %s", apperr.ErrNotFound, id)
		}
		return Session{}, fmt.Errorf("timesession: lock %s: %w", id, err)
	}
	return s, nil
}

func (r *PGRepository) Close(ctx context.Context, tx pgx.Tx, s Session) error {
	const q = `
UPDATE time_sessions
SET ended_at = $2, duration_seconds = $3, note = $4
WHERE id::text = $1 AND ended_at IS NULL
`
	tag, err := tx.Exec(ctx, q, s.ID, s.EndedAt, s.Duration, s.Note)
	if err != nil {
		return fmt.Errorf("timesession: close: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("timesession: %w: session %s already ended", apperr.ErrState, s.ID)
	}
	return nil
}

func (r *PGRepository) ListForContract(ctx context.Context, q db.Querier, contractID string) ([]Session, error) {
	rows, err := q.Query(ctx, `SELECT `+sessionColumns+` FROM time_sessions WHERE contract_id = $1 ORDER BY started_at ASC`, contractID)
	if err != nil {
		return nil, fmt.Errorf("timesession: list: %w", err)
	}
	defer rows.Close()

	out := make([]Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("timesession: scan: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("timesession: iterate: %w", err)
	}
	return out, nil
}
