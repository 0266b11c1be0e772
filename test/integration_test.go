package test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"escrowflow/apperr"
	"escrowflow/auth"
	"escrowflow/contract"
	"escrowflow/credential"
	"escrowflow/dispute"
	"escrowflow/outbox"
	"escrowflow/test/actors"
	"escrowflow/test/infra"
)

// openClean returns a harness with every table emptied.
func openClean(t *testing.T) *infra.Harness {
	t.Helper()
	h := infra.Open(t)
	require.NoError(t, h.Reset(context.Background()))
	return h
}

func twoMilestones(id string) contract.CreateParams {
	deadline := time.Now().Add(72 * time.Hour)
	return contract.CreateParams{
		ID:           id,
		Title:        "Landing page",
		Client:       "client-a",
		Freelancer:   "freelancer-a",
		Total:        100,
		Denomination: "USDC",
		Milestones: []contract.MilestoneDraft{
			{Title: "design", Amount: 40, Deadline: deadline},
			{Title: "build", Amount: 60, Deadline: deadline},
		},
	}
}

func TestIntegration_MilestoneFlowReleasesCustody(t *testing.T) {
	h := openClean(t)
	ctx := context.Background()
	svc := actors.Wire(h.Pool())

	_, err := svc.Contracts.Create(ctx, twoMilestones("flow-1"))
	require.NoError(t, err)

	_, err = svc.Contracts.Create(ctx, twoMilestones("flow-1"))
	require.ErrorIs(t, err, apperr.ErrDuplicate)

	_, err = svc.Contracts.Fund(ctx, "flow-1", "client-a", 99)
	require.ErrorIs(t, err, apperr.ErrValidation)
	_, err = svc.Contracts.Fund(ctx, "flow-1", "client-a", 100)
	require.NoError(t, err)

	for idx := 0; idx < 2; idx++ {
		_, err = svc.Contracts.SubmitDeliverable(ctx, "flow-1", "freelancer-a", idx, contract.Deliverable{ContentRef: "ipfs://x", Name: "cut"})
		require.NoError(t, err)
		_, err = svc.Contracts.ApproveMilestone(ctx, "flow-1", "client-a", idx)
		require.NoError(t, err)

		_, err = svc.Contracts.ApproveMilestone(ctx, "flow-1", "client-a", idx)
		require.ErrorIs(t, err, apperr.ErrState)
	}

	c, err := svc.Contracts.Get(ctx, "flow-1")
	require.NoError(t, err)
	require.Equal(t, contract.StatusCompleted, c.Status)
	require.Equal(t, int64(100), c.Paid)

	view, err := svc.Contracts.Escrow(ctx, "flow-1")
	require.NoError(t, err)
	require.Equal(t, int64(0), view.Account.Balance)
	require.Equal(t, int64(100), view.Account.Released)
	require.Len(t, view.Movements, 3)

	events, err := svc.Contracts.Timeline(ctx, "flow-1")
	require.NoError(t, err)
	for i, ev := range events {
		require.Equal(t, i+1, ev.Seq)
	}
	require.Equal(t, contract.TopicCompleted, events[len(events)-1].Type)
}

func TestIntegration_RevisionLimit(t *testing.T) {
	h := openClean(t)
	ctx := context.Background()
	svc := actors.Wire(h.Pool())

	_, err := svc.Contracts.Create(ctx, twoMilestones("rev-1"))
	require.NoError(t, err)
	_, err = svc.Contracts.Fund(ctx, "rev-1", "client-a", 100)
	require.NoError(t, err)

	for i := 0; i < contract.MaxDeliverables; i++ {
		_, err = svc.Contracts.SubmitDeliverable(ctx, "rev-1", "freelancer-a", 0, contract.Deliverable{ContentRef: "ipfs://r", Name: "cut"})
		require.NoError(t, err)
		if i < contract.MaxDeliverables-1 {
			_, err = svc.Contracts.RequestRevision(ctx, "rev-1", "client-a", 0, "again")
			require.NoError(t, err)
		}
	}

	_, err = svc.Contracts.RequestRevision(ctx, "rev-1", "client-a", 0, "again")
	require.ErrorIs(t, err, apperr.ErrLimit)

	c, err := svc.Contracts.Get(ctx, "rev-1")
	require.NoError(t, err)
	m, err := c.Milestones.At(0)
	require.NoError(t, err)
	require.Equal(t, contract.MaxDeliverables-1, m.Revisions)
	require.Equal(t, contract.MilestoneUnderReview, m.Status)

	c, err = svc.Contracts.ApproveMilestone(ctx, "rev-1", "client-a", 0)
	require.NoError(t, err)
	require.Equal(t, int64(40), c.Paid)
}

func TestIntegration_DisputeMajority(t *testing.T) {
	h := openClean(t)
	ctx := context.Background()
	svc := actors.Wire(h.Pool())

	_, err := svc.Contracts.Create(ctx, twoMilestones("arb-1"))
	require.NoError(t, err)

	d, err := svc.Disputes.Open(ctx, dispute.OpenParams{
		ContractID: "arb-1",
		Initiator:  "freelancer-a",
		Category:   dispute.CategoryPayment,
		Reason:     "client never funded",
	})
	require.NoError(t, err)

	_, err = svc.Disputes.Open(ctx, dispute.OpenParams{ContractID: "arb-1", Initiator: "client-a", Category: dispute.CategoryOther, Reason: "counter"})
	require.ErrorIs(t, err, apperr.ErrState)

	panel := []string{"arb-x", "arb-y", "arb-z"}
	_, err = svc.Disputes.AssignArbitrators(ctx, dispute.AssignParams{DisputeID: d.ID, ActorID: "admin", ActorIsAdmin: true, Arbitrators: panel})
	require.NoError(t, err)

	_, err = svc.Disputes.SubmitVote(ctx, d.ID, "client-a", true, "")
	require.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = svc.Disputes.SubmitVote(ctx, d.ID, "arb-x", false, "unfunded")
	require.NoError(t, err)
	_, err = svc.Disputes.SubmitVote(ctx, d.ID, "arb-x", false, "again")
	require.ErrorIs(t, err, apperr.ErrDuplicate)

	d, err = svc.Disputes.SubmitVote(ctx, d.ID, "arb-y", false, "agree")
	require.NoError(t, err)
	require.Equal(t, dispute.StatusResolvedForFreelancer, d.Status)

	_, err = svc.Disputes.SubmitVote(ctx, d.ID, "arb-z", true, "late")
	require.ErrorIs(t, err, apperr.ErrState)

	c, err := svc.Contracts.Get(ctx, "arb-1")
	require.NoError(t, err)
	require.Equal(t, contract.StatusDisputed, c.Status)
}

func TestIntegration_RequiredCredential(t *testing.T) {
	h := openClean(t)
	ctx := context.Background()
	pool := h.Pool()
	svc := actors.Wire(pool)
	svc.Contracts.WithSkillRegistry(credential.NewPGRegistry())

	p := twoMilestones("cred-1")
	p.RequiredSkills = []string{string(credential.SkillDataAnalyst)}

	_, err := svc.Contracts.Create(ctx, p)
	require.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = pool.Exec(ctx, `INSERT INTO credentials (holder, skill, score) VALUES ($1, $2, 80)`, "freelancer-a", string(credential.SkillDataAnalyst))
	require.NoError(t, err)

	_, err = svc.Contracts.Create(ctx, p)
	require.NoError(t, err)

	creds, err := credential.NewService(pool, nil).ListForHolder(ctx, "freelancer-a")
	require.NoError(t, err)
	require.Len(t, creds, 1)
	require.Equal(t, "Data Analyst", creds[0].Label)
}

func TestIntegration_RelayDeliversToHub(t *testing.T) {
	h := openClean(t)
	ctx := context.Background()
	svc := actors.Wire(h.Pool())

	updates, cancel := svc.Hub.Subscribe(16, nil)
	defer cancel()

	_, err := svc.Contracts.Create(ctx, twoMilestones("relay-1"))
	require.NoError(t, err)

	n, err := svc.Relay.Drain(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	select {
	case msg := <-updates:
		require.Equal(t, contract.TopicCreated, msg.Topic)
	case <-time.After(time.Second):
		t.Fatal("no message relayed")
	}

	var status string
	require.NoError(t, h.Pool().QueryRow(ctx, `SELECT status FROM outbox LIMIT 1`).Scan(&status))
	require.Equal(t, outbox.StatusProcessed, status)
}

func TestIntegration_AuthRepository(t *testing.T) {
	h := openClean(t)
	ctx := context.Background()
	users := auth.NewService(auth.NewRepository(h.Pool()), "integration-secret")

	u, err := users.Register(ctx, auth.RegisterRequest{Email: "Frank@Example.com", Password: "longenough", Role: auth.RoleFreelancer})
	require.NoError(t, err)
	require.Equal(t, "frank@example.com", u.Email)

	_, err = users.Register(ctx, auth.RegisterRequest{Email: "frank@example.com", Password: "longenough"})
	require.True(t, errors.Is(err, auth.ErrDuplicateEmail))

	res, err := users.Login(ctx, auth.LoginRequest{Email: "FRANK@example.com", Password: "longenough"})
	require.NoError(t, err)

	id, err := users.VerifyToken(res.Token)
	require.NoError(t, err)
	require.Equal(t, u.ID, id.UserID)
	require.Equal(t, auth.RoleFreelancer, id.Role)
}
