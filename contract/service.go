package contract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"escrowflow/apperr"
	"escrowflow/credential"
	"escrowflow/db"
	"escrowflow/contract/internal/escrow"
	"escrowflow/metrics"
	"escrowflow/outbox"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository defines the data access required by the service.
type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, c *Contract) error
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (*Contract, error)
	Get(ctx context.Context, q db.Querier, id string) (*Contract, error)
	Update(ctx context.Context, tx pgx.Tx, c *Contract) error
	ListForParty(ctx context.Context, q db.Querier, party string, limit int) ([]*Contract, error)
}

// custodian is the deposit side of the escrow.
type custodian interface {
	Open(ctx context.Context, tx pgx.Tx, contractID, denomination string, total int64) error
	Deposit(ctx context.Context, tx pgx.Tx, contractID, from string, amount int64) (escrow.Account, error)
	Account(ctx context.Context, q db.Querier, contractID string) (escrow.Account, error)
	Movements(ctx context.Context, q db.Querier, contractID string) ([]escrow.Movement, error)
}

// disburser releases custody funds. Outside tests it is the *escrow.Releaser
// created in NewService.
type disburser interface {
	Release(ctx context.Context, tx pgx.Tx, order escrow.ReleaseOrder) (escrow.Account, error)
}

type TimelineWriter interface {
	Append(ctx context.Context, tx pgx.Tx, contractID, eventType, actorID string, payload map[string]any) error
}

type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// SkillRegistry answers whether an identity holds a usable credential.
type SkillRegistry interface {
	HasValid(ctx context.Context, q db.Querier, holder string, skill credential.Skill) (bool, error)
}

// EscrowView is the custody state reported for a contract.
type EscrowView struct {
	Account   escrow.Account    `json:"account"`
	Movements []escrow.Movement `json:"movements"`
}

type Service struct {
	pool     TxBeginner
	repo     Repository
	custody  custodian
	releaser disburser
	timeline TimelineWriter
	outbox   OutboxWriter
	skills   SkillRegistry
	log      *slog.Logger
	now      func() time.Time
}

// NewService wires the lifecycle over pool. The escrow vault and its release
// capability are created here and never leave the service.
func NewService(pool TxBeginner, repo Repository, timeline TimelineWriter, ob OutboxWriter) *Service {
	vault, releaser := escrow.New(escrow.NewPGRepository())
	return newService(pool, repo, vault, releaser, timeline, ob)
}

func newService(pool TxBeginner, repo Repository, custody custodian, releaser disburser, timeline TimelineWriter, ob OutboxWriter) *Service {
	if repo == nil {
		repo = NewPGRepository()
	}
	return &Service{
		pool:     pool,
		repo:     repo,
		custody:  custody,
		releaser: releaser,
		timeline: timeline,
		outbox:   ob,
		log:      slog.Default().With("component", "contract"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithSkillRegistry(reg SkillRegistry) *Service {
	s.skills = reg
	return s
}

func (s *Service) WithLogger(log *slog.Logger) *Service {
	s.log = log.With("component", "contract")
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) record(ctx context.Context, tx pgx.Tx, contractID, topic, actor string, payload map[string]any) error {
	payload["contract_id"] = contractID
	if s.timeline != nil {
		if err := s.timeline.Append(ctx, tx, contractID, topic, actor, payload); err != nil {
			return fmt.Errorf("contract: append timeline: %w", err)
		}
	}
	if s.outbox != nil {
		if err := s.outbox.Enqueue(ctx, tx, topic, payload); err != nil {
			return fmt.Errorf("contract: enqueue outbox: %w", err)
		}
	}
	return nil
}

func (s *Service) observe(op, contractID, caller string, err error, attrs ...any) {
	metrics.ObserveOperation(op, err)
	attrs = append(attrs, "operation", op, "contract_id", contractID, "caller", caller)
	if err != nil {
		kind := apperr.KindOf(err)
		attrs = append(attrs, "kind", string(kind), "error", err)
		if kind == apperr.KindInternal {
			s.log.Error("contract operation failed", attrs...)
			return
		}
		s.log.Warn("contract operation rejected", attrs...)
		return
	}
	s.log.Info("contract operation applied", attrs...)
}

// mutate runs fn against the locked contract and persists the result in one
// transaction. Nothing is written when fn fails.
func (s *Service) mutate(ctx context.Context, id string, fn func(tx pgx.Tx, c *Contract) error) (*Contract, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(tx, c); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, tx, c); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("contract: commit tx: %w", err)
	}
	return c, nil
}

// Create validates and stores a new contract, opening its custody account.
func (s *Service) Create(ctx context.Context, p CreateParams) (c *Contract, err error) {
	defer func() { s.observe("create", p.ID, p.Client, err) }()

	c, err = NewContract(p, s.now())
	if err != nil {
		return nil, err
	}
	skills := make([]credential.Skill, 0, len(p.RequiredSkills))
	for _, raw := range p.RequiredSkills {
		skill, err := credential.ParseSkill(raw)
		if err != nil {
			return nil, err
		}
		skills = append(skills, skill)
	}
	if len(skills) > 0 && s.skills == nil {
		return nil, errors.New("contract: credential registry not configured")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, skill := range skills {
		ok, err := s.skills.HasValid(ctx, tx, c.Freelancer, skill)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("contract: %w: freelancer %s lacks a valid %s credential", apperr.ErrUnauthorized, c.Freelancer, skill.Label())
		}
	}

	if err := s.repo.Insert(ctx, tx, c); err != nil {
		return nil, err
	}
	if err := s.custody.Open(ctx, tx, c.ID, c.Denomination, c.Total); err != nil {
		return nil, err
	}
	if err := s.record(ctx, tx, c.ID, TopicCreated, c.Client, map[string]any{
		"client":       c.Client,
		"freelancer":   c.Freelancer,
		"total_amount": c.Total,
		"denomination": c.Denomination,
		"milestones":   c.Milestones.Len(),
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("contract: commit tx: %w", err)
	}
	metrics.ContractsCreatedTotal.Inc()
	return c, nil
}

// Fund deposits the full total into custody and marks the contract funded.
func (s *Service) Fund(ctx context.Context, id, caller string, amount int64) (c *Contract, err error) {
	defer func() { s.observe("fund", id, caller, err, "amount", amount) }()

	c, err = s.mutate(ctx, id, func(tx pgx.Tx, c *Contract) error {
		if err := c.Fund(caller, amount, s.now()); err != nil {
			return err
		}
		if _, err := s.custody.Deposit(ctx, tx, c.ID, caller, amount); err != nil {
			return err
		}
		return s.record(ctx, tx, c.ID, TopicFunded, caller, map[string]any{
			"amount":       amount,
			"denomination": c.Denomination,
		})
	})
	if err == nil {
		metrics.EscrowDepositedTotal.WithLabelValues(c.Denomination).Add(float64(amount))
	}
	return c, err
}

// SignNDA records the caller's NDA acknowledgement.
func (s *Service) SignNDA(ctx context.Context, id, caller string) (c *Contract, err error) {
	defer func() { s.observe("sign_nda", id, caller, err) }()

	return s.mutate(ctx, id, func(tx pgx.Tx, c *Contract) error {
		if err := c.SignNDA(caller, s.now()); err != nil {
			return err
		}
		party := "client"
		if caller == c.Freelancer {
			party = "freelancer"
		}
		return s.record(ctx, tx, c.ID, TopicNDASigned, caller, map[string]any{
			"party":          party,
			"client_nda":     c.ClientNDA,
			"freelancer_nda": c.FreelancerNDA,
		})
	})
}

// SubmitDeliverable appends a deliverable and puts the milestone under review.
func (s *Service) SubmitDeliverable(ctx context.Context, id, caller string, index int, d Deliverable) (c *Contract, err error) {
	defer func() { s.observe("submit_deliverable", id, caller, err, "milestone", index) }()

	return s.mutate(ctx, id, func(tx pgx.Tx, c *Contract) error {
		m, err := c.SubmitDeliverable(caller, index, d, s.now())
		if err != nil {
			return err
		}
		return s.record(ctx, tx, c.ID, TopicSubmitted, caller, map[string]any{
			"milestone_index": m.Index,
			"content_ref":     d.ContentRef,
			"deliverables":    len(m.Deliverables),
		})
	})
}

// RequestRevision sends a milestone back to the freelancer.
func (s *Service) RequestRevision(ctx context.Context, id, caller string, index int, reason string) (c *Contract, err error) {
	defer func() { s.observe("request_revision", id, caller, err, "milestone", index) }()

	return s.mutate(ctx, id, func(tx pgx.Tx, c *Contract) error {
		m, err := c.RequestRevision(caller, index, reason, s.now())
		if err != nil {
			return err
		}
		return s.record(ctx, tx, c.ID, TopicRevisionRequested, caller, map[string]any{
			"milestone_index": m.Index,
			"revision_count":  m.Revisions,
			"reason":          reason,
		})
	})
}

// ApproveMilestone releases the milestone amount to the freelancer. When it is
// the last open milestone the contract completes in the same transaction.
func (s *Service) ApproveMilestone(ctx context.Context, id, caller string, index int) (c *Contract, err error) {
	defer func() { s.observe("approve_milestone", id, caller, err, "milestone", index) }()

	var released int64
	c, err = s.mutate(ctx, id, func(tx pgx.Tx, c *Contract) error {
		m, completed, err := c.ApproveMilestone(caller, index, s.now())
		if err != nil {
			return err
		}
		if _, err := s.releaser.Release(ctx, tx, escrow.ReleaseOrder{
			ContractID:     c.ID,
			MilestoneIndex: m.Index,
			To:             c.Freelancer,
			Amount:         m.Amount,
		}); err != nil {
			return err
		}
		released = m.Amount
		if err := s.record(ctx, tx, c.ID, TopicApproved, caller, map[string]any{
			"milestone_index": m.Index,
			"amount":          m.Amount,
			"paid_amount":     c.Paid,
		}); err != nil {
			return err
		}
		if completed {
			return s.record(ctx, tx, c.ID, TopicCompleted, caller, map[string]any{
				"paid_amount": c.Paid,
			})
		}
		return nil
	})
	if err == nil {
		metrics.EscrowReleasedTotal.WithLabelValues(c.Denomination).Add(float64(released))
	}
	return c, err
}

// Escalate marks the contract disputed inside the caller's transaction. The
// dispute service calls it while opening a dispute.
func (s *Service) Escalate(ctx context.Context, tx pgx.Tx, id, caller string) (*Contract, error) {
	c, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	prev, err := c.Escalate(caller, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, tx, c); err != nil {
		return nil, err
	}
	if err := s.record(ctx, tx, c.ID, TopicDisputed, caller, map[string]any{
		"previous_status": string(prev),
	}); err != nil {
		return nil, err
	}
	return c, nil
}

// Lookup reads a contract through q, typically the caller's transaction.
func (s *Service) Lookup(ctx context.Context, q db.Querier, id string) (*Contract, error) {
	return s.repo.Get(ctx, q, id)
}

func (s *Service) read(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Get returns a contract by id.
func (s *Service) Get(ctx context.Context, id string) (*Contract, error) {
	var c *Contract
	err := s.read(ctx, func(tx pgx.Tx) error {
		var err error
		c, err = s.repo.Get(ctx, tx, id)
		return err
	})
	return c, err
}

// List returns the contracts where party is client or freelancer.
func (s *Service) List(ctx context.Context, party string, limit int) ([]*Contract, error) {
	var out []*Contract
	err := s.read(ctx, func(tx pgx.Tx) error {
		var err error
		out, err = s.repo.ListForParty(ctx, tx, party, limit)
		return err
	})
	return out, err
}

// Escrow returns the custody account and its movements for a contract.
func (s *Service) Escrow(ctx context.Context, id string) (EscrowView, error) {
	var view EscrowView
	err := s.read(ctx, func(tx pgx.Tx) error {
		acct, err := s.custody.Account(ctx, tx, id)
		if err != nil {
			return err
		}
		moves, err := s.custody.Movements(ctx, tx, id)
		if err != nil {
			return err
		}
		view = EscrowView{Account: acct, Movements: moves}
		return nil
	})
	return view, err
}

// Timeline returns the recorded events of a contract in order.
func (s *Service) Timeline(ctx context.Context, id string) ([]outbox.TimelineEvent, error) {
	var events []outbox.TimelineEvent
	err := s.read(ctx, func(tx pgx.Tx) error {
		if _, err := s.repo.Get(ctx, tx, id); err != nil {
			return err
		}
		var err error
		events, err = outbox.ListTimeline(ctx, tx, id)
		return err
	})
	return events, err
}
