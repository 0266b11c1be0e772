package contract

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"escrowflow/apperr"
	"escrowflow/credential"
	"escrowflow/db"
	"escrowflow/db/dbtest"
	"escrowflow/contract/internal/escrow"
)

// fakeRepo stores serialized copies so a failed operation cannot leak
// in-memory mutations into the next read.
type fakeRepo struct {
	rows map[string][]byte
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: make(map[string][]byte)}
}

func (f *fakeRepo) load(id string) (*Contract, error) {
	raw, ok := f.rows[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	var c Contract
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (f *fakeRepo) store(c *Contract) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	f.rows[c.ID] = raw
	return nil
}

func (f *fakeRepo) Insert(_ context.Context, _ pgx.Tx, c *Contract) error {
	if _, ok := f.rows[c.ID]; ok {
		return apperr.ErrDuplicate
	}
	return f.store(c)
}

func (f *fakeRepo) GetForUpdate(_ context.Context, _ pgx.Tx, id string) (*Contract, error) {
	return f.load(id)
}

func (f *fakeRepo) Get(_ context.Context, _ db.Querier, id string) (*Contract, error) {
	return f.load(id)
}

func (f *fakeRepo) Update(_ context.Context, _ pgx.Tx, c *Contract) error {
	c.Version++
	return f.store(c)
}

func (f *fakeRepo) ListForParty(_ context.Context, _ db.Querier, party string, _ int) ([]*Contract, error) {
	var out []*Contract
	for id := range f.rows {
		c, _ := f.load(id)
		if c.IsParty(party) {
			out = append(out, c)
		}
	}
	return out, nil
}

// fakeEscrow mirrors the escrow rules closely enough for service tests.
type fakeEscrow struct {
	accounts map[string]escrow.Account
	releases map[string]map[int]bool
}

func newFakeEscrow() *fakeEscrow {
	return &fakeEscrow{accounts: make(map[string]escrow.Account), releases: make(map[string]map[int]bool)}
}

func (f *fakeEscrow) Open(_ context.Context, _ pgx.Tx, id, denom string, total int64) error {
	f.accounts[id] = escrow.Account{ContractID: id, Denomination: denom, Total: total}
	return nil
}

func (f *fakeEscrow) Deposit(_ context.Context, _ pgx.Tx, id, _ string, amount int64) (escrow.Account, error) {
	a := f.accounts[id]
	if a.Funded {
		return escrow.Account{}, apperr.ErrState
	}
	if amount != a.Total {
		return escrow.Account{}, apperr.ErrValidation
	}
	a.Balance, a.Funded = amount, true
	f.accounts[id] = a
	return a, nil
}

func (f *fakeEscrow) Release(_ context.Context, _ pgx.Tx, o escrow.ReleaseOrder) (escrow.Account, error) {
	a := f.accounts[o.ContractID]
	if !a.Funded || a.Balance < o.Amount || f.releases[o.ContractID][o.MilestoneIndex] {
		return escrow.Account{}, apperr.ErrState
	}
	if f.releases[o.ContractID] == nil {
		f.releases[o.ContractID] = make(map[int]bool)
	}
	f.releases[o.ContractID][o.MilestoneIndex] = true
	a.Balance -= o.Amount
	a.Released += o.Amount
	f.accounts[o.ContractID] = a
	return a, nil
}

func (f *fakeEscrow) Account(_ context.Context, _ db.Querier, id string) (escrow.Account, error) {
	a, ok := f.accounts[id]
	if !ok {
		return escrow.Account{}, apperr.ErrNotFound
	}
	return a, nil
}

func (f *fakeEscrow) Movements(context.Context, db.Querier, string) ([]escrow.Movement, error) {
	return nil, nil
}

type fakeEvents struct {
	topics []string
	queued []map[string]any
}

func (f *fakeEvents) Append(_ context.Context, _ pgx.Tx, _, eventType, _ string, _ map[string]any) error {
	f.topics = append(f.topics, eventType)
	return nil
}

func (f *fakeEvents) Enqueue(_ context.Context, _ pgx.Tx, _ string, payload map[string]any) error {
	f.queued = append(f.queued, payload)
	return nil
}

type fakeSkills map[string]bool

func (f fakeSkills) HasValid(_ context.Context, _ db.Querier, holder string, skill credential.Skill) (bool, error) {
	return f[holder+"/"+string(skill)], nil
}

type harness struct {
	svc    *Service
	pool   *dbtest.Pool
	repo   *fakeRepo
	escrow *fakeEscrow
	events *fakeEvents
}

func newHarness() *harness {
	h := &harness{pool: &dbtest.Pool{}, repo: newFakeRepo(), escrow: newFakeEscrow(), events: &fakeEvents{}}
	h.svc = newService(h.pool, h.repo, h.escrow, h.escrow, h.events, h.events).WithClock(func() time.Time { return t0 })
	return h
}

func TestServiceFortySixty(t *testing.T) {
	ctx := context.Background()
	h := newHarness()

	c, err := h.svc.Create(ctx, params(40, 60))
	require.NoError(t, err)
	require.True(t, h.pool.Last().Committed)

	_, err = h.svc.Fund(ctx, c.ID, "client", 100)
	require.NoError(t, err)
	_, err = h.svc.SubmitDeliverable(ctx, c.ID, "freelancer", 0, deliverable("ipfs://a"))
	require.NoError(t, err)

	c, err = h.svc.ApproveMilestone(ctx, c.ID, "client", 0)
	require.NoError(t, err)
	require.EqualValues(t, 40, c.Paid)
	require.Equal(t, StatusFunded, c.Status)

	_, err = h.svc.SubmitDeliverable(ctx, c.ID, "freelancer", 1, deliverable("ipfs://b"))
	require.NoError(t, err)
	c, err = h.svc.ApproveMilestone(ctx, c.ID, "client", 1)
	require.NoError(t, err)
	require.EqualValues(t, 100, c.Paid)
	require.Equal(t, StatusCompleted, c.Status)

	view, err := h.svc.Escrow(ctx, c.ID)
	require.NoError(t, err)
	require.Zero(t, view.Account.Balance)
	require.EqualValues(t, 100, view.Account.Released)

	require.Equal(t, []string{
		TopicCreated,
		TopicFunded,
		TopicSubmitted,
		TopicApproved,
		TopicSubmitted,
		TopicApproved,
		TopicCompleted,
	}, h.events.topics)
	for _, payload := range h.events.queued {
		require.Equal(t, c.ID, payload["contract_id"])
	}

	stored, err := h.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	require.NoError(t, stored.CheckInvariants())
}

func TestServiceFundMismatchLeavesBalanceZero(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	c, err := h.svc.Create(ctx, params(40, 60))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = h.svc.Fund(ctx, c.ID, "client", 90)
		require.ErrorIs(t, err, apperr.ErrValidation)
		require.True(t, h.pool.Last().Rolled)
		require.False(t, h.pool.Last().Committed)
	}

	view, err := h.svc.Escrow(ctx, c.ID)
	require.NoError(t, err)
	require.Zero(t, view.Account.Balance)

	stored, err := h.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, StatusActive, stored.Status)
	require.Equal(t, []string{TopicCreated}, h.events.topics)
}

func TestServiceRevisionCycleEndsApprovable(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	c, err := h.svc.Create(ctx, params(40, 60))
	require.NoError(t, err)
	_, err = h.svc.Fund(ctx, c.ID, "client", 100)
	require.NoError(t, err)

	for round := 1; round < MaxDeliverables; round++ {
		_, err = h.svc.SubmitDeliverable(ctx, c.ID, "freelancer", 0, deliverable("ipfs://r"))
		require.NoError(t, err)
		_, err = h.svc.RequestRevision(ctx, c.ID, "client", 0, "tweak")
		require.NoError(t, err)
	}
	_, err = h.svc.SubmitDeliverable(ctx, c.ID, "freelancer", 0, deliverable("ipfs://final"))
	require.NoError(t, err)

	_, err = h.svc.RequestRevision(ctx, c.ID, "client", 0, "tweak")
	require.ErrorIs(t, err, apperr.ErrLimit)

	stored, err := h.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	m, err := stored.Milestones.At(0)
	require.NoError(t, err)
	require.Equal(t, MilestoneUnderReview, m.Status)
	require.Len(t, m.Deliverables, MaxDeliverables)

	c, err = h.svc.ApproveMilestone(ctx, c.ID, "client", 0)
	require.NoError(t, err)
	require.EqualValues(t, 40, c.Paid)
}

func TestServiceRejectedOperationRollsBack(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	c, err := h.svc.Create(ctx, params(40, 60))
	require.NoError(t, err)
	before := h.repo.rows[c.ID]

	_, err = h.svc.ApproveMilestone(ctx, c.ID, "client", 0)
	require.ErrorIs(t, err, apperr.ErrState)
	_, err = h.svc.SignNDA(ctx, c.ID, "stranger")
	require.ErrorIs(t, err, apperr.ErrUnauthorized)
	_, err = h.svc.RequestRevision(ctx, c.ID, "client", 0, "early")
	require.ErrorIs(t, err, apperr.ErrState)

	require.Equal(t, before, h.repo.rows[c.ID])
	for _, tx := range h.pool.Txs[1:] {
		require.False(t, tx.Committed)
		require.True(t, tx.Rolled)
	}
}

func TestServiceCreateChecksCredentials(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.svc.WithSkillRegistry(fakeSkills{"freelancer/frontend_developer": true})

	p := params(40, 60)
	p.RequiredSkills = []string{"frontend_developer", "data_analyst"}
	_, err := h.svc.Create(ctx, p)
	require.ErrorIs(t, err, apperr.ErrUnauthorized)
	require.Empty(t, h.repo.rows)

	p.RequiredSkills = []string{"frontend_developer"}
	c, err := h.svc.Create(ctx, p)
	require.NoError(t, err)
	require.Equal(t, []string{"frontend_developer"}, c.RequiredSkills)

	p.ID = "job-2"
	p.RequiredSkills = []string{"juggler"}
	_, err = h.svc.Create(ctx, p)
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestServiceCreateDuplicateID(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	_, err := h.svc.Create(ctx, params(40, 60))
	require.NoError(t, err)
	_, err = h.svc.Create(ctx, params(40, 60))
	require.ErrorIs(t, err, apperr.ErrDuplicate)
}

func TestServiceEscalateInCallerTx(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	c, err := h.svc.Create(ctx, params(40, 60))
	require.NoError(t, err)

	tx := &dbtest.Tx{}
	_, err = h.svc.Escalate(ctx, tx, c.ID, "stranger")
	require.ErrorIs(t, err, apperr.ErrUnauthorized)

	escalated, err := h.svc.Escalate(ctx, tx, c.ID, "freelancer")
	require.NoError(t, err)
	require.Equal(t, StatusDisputed, escalated.Status)
	require.False(t, tx.Committed, "escalate leaves commit to the caller")
	require.Equal(t, TopicDisputed, h.events.topics[len(h.events.topics)-1])
}
