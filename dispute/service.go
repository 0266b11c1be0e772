package dispute

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"escrowflow/apperr"
	"escrowflow/contract"
	"escrowflow/db"
	"escrowflow/metrics"
)

const (
	TopicOpened   = "dispute.opened"
	TopicAssigned = "dispute.arbitrators_assigned"
	TopicVoted    = "dispute.vote_cast"
	TopicResolved = "dispute.resolved"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, d *Dispute) error
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (*Dispute, error)
	Get(ctx context.Context, q db.Querier, id string) (*Dispute, error)
	Update(ctx context.Context, tx pgx.Tx, d *Dispute) error
	HasUnresolved(ctx context.Context, tx pgx.Tx, contractID string) (bool, error)
	ListForContract(ctx context.Context, q db.Querier, contractID string) ([]*Dispute, error)
}

// Contracts is the slice of the contract service arbitration depends on.
type Contracts interface {
	Escalate(ctx context.Context, tx pgx.Tx, id, caller string) (*contract.Contract, error)
	Lookup(ctx context.Context, q db.Querier, id string) (*contract.Contract, error)
}

type TimelineWriter interface {
	Append(ctx context.Context, tx pgx.Tx, contractID, eventType, actorID string, payload map[string]any) error
}

type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// AssignParams seats an arbitration panel. Only administrators may assign.
type AssignParams struct {
	DisputeID    string
	ActorID      string
	ActorIsAdmin bool
	Arbitrators  []string
}

type Service struct {
	pool        TxBeginner
	repo        Repository
	contracts   Contracts
	timeline    TimelineWriter
	outbox      OutboxWriter
	log         *slog.Logger
	idGenerator func() string
	now         func() time.Time
}

func NewService(pool TxBeginner, repo Repository, contracts Contracts, timeline TimelineWriter, ob OutboxWriter) *Service {
	if repo == nil {
		repo = NewPGRepository()
	}
	return &Service{
		pool:        pool,
		repo:        repo,
		contracts:   contracts,
		timeline:    timeline,
		outbox:      ob,
		log:         slog.Default().With("component", "dispute"),
		idGenerator: func() string { return uuid.NewString() },
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithLogger(log *slog.Logger) *Service {
	s.log = log.With("component", "dispute")
	return s
}

func (s *Service) record(ctx context.Context, tx pgx.Tx, d *Dispute, topic, actor string, payload map[string]any) error {
	payload["contract_id"] = d.ContractID
	payload["dispute_id"] = d.ID
	if s.timeline != nil {
		if err := s.timeline.Append(ctx, tx, d.ContractID, topic, actor, payload); err != nil {
			return fmt.Errorf("dispute: append timeline: %w", err)
		}
	}
	if s.outbox != nil {
		if err := s.outbox.Enqueue(ctx, tx, topic, payload); err != nil {
			return fmt.Errorf("dispute: enqueue outbox: %w", err)
		}
	}
	return nil
}

func (s *Service) observe(op, disputeID, caller string, err error) {
	metrics.ObserveOperation(op, err)
	if err == nil {
		s.log.Info("dispute operation applied", "operation", op, "dispute_id", disputeID, "caller", caller)
		return
	}
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		s.log.Error("dispute operation failed", "operation", op, "dispute_id", disputeID, "caller", caller, "error", err)
		return
	}
	s.log.Warn("dispute operation rejected", "operation", op, "dispute_id", disputeID, "caller", caller, "kind", string(kind), "error", err)
}

// Open records a dispute and moves the contract to disputed in one
// transaction. A contract holds at most one unresolved dispute.
func (s *Service) Open(ctx context.Context, p OpenParams) (d *Dispute, err error) {
	defer func() {
		id := ""
		if d != nil {
			id = d.ID
		}
		s.observe("open_dispute", id, p.Initiator, err)
	}()

	d, err = New(s.idGenerator(), p, s.now())
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.contracts.Escalate(ctx, tx, p.ContractID, p.Initiator); err != nil {
		return nil, err
	}
	open, err := s.repo.HasUnresolved(ctx, tx, p.ContractID)
	if err != nil {
		return nil, err
	}
	if open {
		return nil, ErrUnresolvedExists
	}
	if err := s.repo.Insert(ctx, tx, d); err != nil {
		return nil, err
	}
	if err := s.record(ctx, tx, d, TopicOpened, p.Initiator, map[string]any{
		"initiator": d.Initiator,
		"category":  string(d.Category),
		"reason":    d.Reason,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("dispute: commit tx: %w", err)
	}
	metrics.DisputesOpenedTotal.WithLabelValues(string(d.Category)).Inc()
	return d, nil
}

// AssignArbitrators seats the three-member panel and opens voting.
func (s *Service) AssignArbitrators(ctx context.Context, p AssignParams) (d *Dispute, err error) {
	defer func() { s.observe("assign_arbitrators", p.DisputeID, p.ActorID, err) }()

	if !p.ActorIsAdmin {
		return nil, fmt.Errorf("dispute: %w: only administrators assign arbitrators", apperr.ErrUnauthorized)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err = s.repo.GetForUpdate(ctx, tx, p.DisputeID)
	if err != nil {
		return nil, err
	}
	c, err := s.contracts.Lookup(ctx, tx, d.ContractID)
	if err != nil {
		return nil, err
	}
	if err := d.AssignArbitrators(p.Arbitrators, c.Client, c.Freelancer); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, tx, d); err != nil {
		return nil, err
	}
	if err := s.record(ctx, tx, d, TopicAssigned, p.ActorID, map[string]any{
		"arbitrators": d.Arbitrators,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("dispute: commit tx: %w", err)
	}
	return d, nil
}

// SubmitVote records an arbitrator's ballot. Resolution only updates the
// dispute; the contract stays disputed and custody is untouched.
func (s *Service) SubmitVote(ctx context.Context, disputeID, arbitrator string, favorsClient bool, reasoning string) (d *Dispute, err error) {
	defer func() { s.observe("submit_vote", disputeID, arbitrator, err) }()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err = s.repo.GetForUpdate(ctx, tx, disputeID)
	if err != nil {
		return nil, err
	}
	resolved, err := d.CastVote(arbitrator, favorsClient, reasoning, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, tx, d); err != nil {
		return nil, err
	}
	if err := s.record(ctx, tx, d, TopicVoted, arbitrator, map[string]any{
		"favors_client": favorsClient,
		"votes":         len(d.Votes),
	}); err != nil {
		return nil, err
	}
	if resolved {
		if err := s.record(ctx, tx, d, TopicResolved, arbitrator, map[string]any{
			"outcome": string(d.Status),
		}); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("dispute: commit tx: %w", err)
	}
	if resolved {
		metrics.DisputesResolvedTotal.WithLabelValues(string(d.Status)).Inc()
		// TODO: disburse custody per outcome once the payout policy for
		// resolved disputes is defined; until then funds stay locked.
		s.log.Warn("dispute resolved without financial effect",
			"dispute_id", d.ID, "contract_id", d.ContractID, "outcome", string(d.Status))
	}
	return d, nil
}

func (s *Service) read(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Get returns a dispute by id.
func (s *Service) Get(ctx context.Context, id string) (*Dispute, error) {
	var d *Dispute
	err := s.read(ctx, func(tx pgx.Tx) error {
		var err error
		d, err = s.repo.Get(ctx, tx, id)
		return err
	})
	return d, err
}

// List returns every dispute raised on a contract, newest first.
func (s *Service) List(ctx context.Context, contractID string) ([]*Dispute, error) {
	var out []*Dispute
	err := s.read(ctx, func(tx pgx.Tx) error {
		if _, err := s.contracts.Lookup(ctx, tx, contractID); err != nil {
			return err
		}
		var err error
		out, err = s.repo.ListForContract(ctx, tx, contractID)
		return err
	})
	return out, err
}
