package contract

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"escrowflow/apperr"
)

var t0 = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

func drafts(amounts ...int64) []MilestoneDraft {
	out := make([]MilestoneDraft, len(amounts))
	for i, a := range amounts {
		out[i] = MilestoneDraft{Title: fmt.Sprintf("phase %d", i+1), Amount: a, Deadline: t0.Add(time.Duration(i+1) * 24 * time.Hour)}
	}
	return out
}

func params(amounts ...int64) CreateParams {
	var total int64
	for _, a := range amounts {
		total += a
	}
	return CreateParams{
		ID:           "job-1",
		Title:        "Landing page",
		Client:       "client",
		Freelancer:   "freelancer",
		Total:        total,
		Denomination: "USDC",
		Milestones:   drafts(amounts...),
	}
}

func deliverable(ref string) Deliverable {
	return Deliverable{ContentRef: ref, Name: "build " + ref}
}

func TestNewContractMilestoneBounds(t *testing.T) {
	c, err := NewContract(params(10, 10, 10, 10, 10), t0)
	require.NoError(t, err)
	require.Equal(t, 5, c.Milestones.Len())
	require.Equal(t, StatusActive, c.Status)
	require.Zero(t, c.Paid)
	require.False(t, c.ClientNDA || c.FreelancerNDA)
	for i, m := range c.Milestones.All() {
		require.Equal(t, i, m.Index)
		require.Equal(t, MilestonePending, m.Status)
	}

	_, err = NewContract(params(10, 10, 10, 10, 10, 10), t0)
	require.ErrorIs(t, err, apperr.ErrValidation)

	_, err = NewContract(params(), t0)
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestNewContractFieldLimits(t *testing.T) {
	cases := map[string]func(p *CreateParams){
		"id too long": func(p *CreateParams) {
			p.ID = strings.Repeat("x", MaxIDLen+1)
		},
		"empty id": func(p *CreateParams) {
			p.ID = ""
		},
		"title too long": func(p *CreateParams) {
			p.Title = strings.Repeat("t", MaxTitleLen+1)
		},
		"description too long": func(p *CreateParams) {
			p.Description = strings.Repeat("d", MaxDescriptionLen+1)
		},
		"milestone title too long": func(p *CreateParams) {
			p.Milestones[0].Title = strings.Repeat("m", MaxMilestoneTitleLen+1)
		},
		"milestone description too long": func(p *CreateParams) {
			p.Milestones[0].Description = strings.Repeat("m", MaxMilestoneDescriptionLen+1)
		},
		"zero milestone amount": func(p *CreateParams) {
			p.Milestones[0].Amount = 0
		},
		"self dealing": func(p *CreateParams) {
			p.Freelancer = p.Client
		},
		"no denomination": func(p *CreateParams) {
			p.Denomination = ""
		},
		"zero total": func(p *CreateParams) {
			p.Total = 0
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := params(40, 60)
			mutate(&p)
			_, err := NewContract(p, t0)
			require.ErrorIs(t, err, apperr.ErrValidation)
		})
	}

	p := params(40, 60)
	p.ID = strings.Repeat("x", MaxIDLen)
	p.Title = strings.Repeat("t", MaxTitleLen)
	_, err := NewContract(p, t0)
	require.NoError(t, err)
}

func TestFortySixtyFlow(t *testing.T) {
	c, err := NewContract(params(40, 60), t0)
	require.NoError(t, err)
	require.NoError(t, c.Fund("client", 100, t0))
	require.Equal(t, StatusFunded, c.Status)

	m, err := c.SubmitDeliverable("freelancer", 0, deliverable("ipfs://a"), t0)
	require.NoError(t, err)
	require.Equal(t, MilestoneUnderReview, m.Status)

	m, done, err := c.ApproveMilestone("client", 0, t0)
	require.NoError(t, err)
	require.False(t, done)
	require.Equal(t, MilestoneCompleted, m.Status)
	require.NotNil(t, m.CompletedAt)
	require.EqualValues(t, 40, c.Paid)
	require.Equal(t, StatusFunded, c.Status)
	require.NoError(t, c.CheckInvariants())

	_, err = c.SubmitDeliverable("freelancer", 1, deliverable("ipfs://b"), t0)
	require.NoError(t, err)
	_, done, err = c.ApproveMilestone("client", 1, t0)
	require.NoError(t, err)
	require.True(t, done)
	require.EqualValues(t, 100, c.Paid)
	require.Equal(t, StatusCompleted, c.Status)
	require.NoError(t, c.CheckInvariants())
}

func TestFundPreconditions(t *testing.T) {
	c, err := NewContract(params(40, 60), t0)
	require.NoError(t, err)

	require.ErrorIs(t, c.Fund("freelancer", 100, t0), apperr.ErrUnauthorized)
	require.ErrorIs(t, c.Fund("client", 99, t0), apperr.ErrValidation)
	require.ErrorIs(t, c.Fund("client", 101, t0), apperr.ErrValidation)
	require.Equal(t, StatusActive, c.Status)

	require.NoError(t, c.Fund("client", 100, t0))
	require.ErrorIs(t, c.Fund("client", 100, t0), apperr.ErrState)
}

func TestSignNDA(t *testing.T) {
	c, err := NewContract(params(40, 60), t0)
	require.NoError(t, err)

	require.ErrorIs(t, c.SignNDA("stranger", t0), apperr.ErrUnauthorized)
	require.NoError(t, c.SignNDA("freelancer", t0))
	require.True(t, c.FreelancerNDA)
	require.False(t, c.ClientNDA)
	require.NoError(t, c.SignNDA("client", t0))
	require.True(t, c.ClientNDA)
	require.Equal(t, StatusActive, c.Status)
}

func TestRevisionOnPendingIsStateError(t *testing.T) {
	c, err := NewContract(params(40, 60), t0)
	require.NoError(t, err)

	_, err = c.RequestRevision("client", 0, "not started", t0)
	require.ErrorIs(t, err, apperr.ErrState)
	m, _ := c.Milestones.At(0)
	require.Equal(t, MilestonePending, m.Status)
	require.Zero(t, m.Revisions)
}

func TestRevisionCounterCap(t *testing.T) {
	c, err := NewContract(params(40, 60), t0)
	require.NoError(t, err)
	_, err = c.SubmitDeliverable("freelancer", 0, deliverable("ipfs://1"), t0)
	require.NoError(t, err)

	m, _ := c.Milestones.At(0)
	m.Revisions = MaxRevisions
	for attempt := 0; attempt < 2; attempt++ {
		_, err = c.RequestRevision("client", 0, "again", t0)
		require.ErrorIs(t, err, apperr.ErrLimit)
	}
	require.Equal(t, MaxRevisions, m.Revisions)
	require.Equal(t, MilestoneUnderReview, m.Status)
}

func TestFullDeliverableListStillApprovable(t *testing.T) {
	c, err := NewContract(params(40, 60), t0)
	require.NoError(t, err)
	require.NoError(t, c.Fund("client", 100, t0))

	for i := 0; i < MaxDeliverables; i++ {
		m, err := c.SubmitDeliverable("freelancer", 0, deliverable(fmt.Sprintf("ipfs://%d", i)), t0)
		require.NoError(t, err)
		require.Len(t, m.Deliverables, i+1)
		if i < MaxDeliverables-1 {
			m, err = c.RequestRevision("client", 0, "more", t0)
			require.NoError(t, err)
			require.Equal(t, i+1, m.Revisions)
		}
	}

	for attempt := 0; attempt < 2; attempt++ {
		_, err = c.RequestRevision("client", 0, "one more", t0)
		require.ErrorIs(t, err, apperr.ErrLimit)
	}
	m, _ := c.Milestones.At(0)
	require.Len(t, m.Deliverables, MaxDeliverables)
	require.Equal(t, MaxDeliverables-1, m.Revisions)
	require.Equal(t, MilestoneUnderReview, m.Status)

	m, completed, err := c.ApproveMilestone("client", 0, t0)
	require.NoError(t, err)
	require.False(t, completed)
	require.Equal(t, MilestoneCompleted, m.Status)
	require.Equal(t, int64(40), c.Paid)
	require.NoError(t, c.CheckInvariants())
}

func TestDeliverableCapacityIsThree(t *testing.T) {
	c, err := NewContract(params(40, 60), t0)
	require.NoError(t, err)

	m, _ := c.Milestones.At(0)
	for i := 0; i < MaxDeliverables; i++ {
		m.Deliverables = append(m.Deliverables, deliverable(fmt.Sprintf("ipfs://%d", i)))
	}
	m.Status = MilestoneRevisionRequested

	_, err = c.SubmitDeliverable("freelancer", 0, deliverable("ipfs://overflow"), t0)
	require.ErrorIs(t, err, apperr.ErrLimit)
	require.Len(t, m.Deliverables, MaxDeliverables)
	require.Equal(t, MilestoneRevisionRequested, m.Status)
}

func TestSubmitDeliverableChecks(t *testing.T) {
	c, err := NewContract(params(40, 60), t0)
	require.NoError(t, err)

	_, err = c.SubmitDeliverable("client", 0, deliverable("ipfs://a"), t0)
	require.ErrorIs(t, err, apperr.ErrUnauthorized)
	_, err = c.SubmitDeliverable("freelancer", 2, deliverable("ipfs://a"), t0)
	require.ErrorIs(t, err, apperr.ErrValidation)
	_, err = c.SubmitDeliverable("freelancer", 0, Deliverable{}, t0)
	require.ErrorIs(t, err, apperr.ErrValidation)
	_, err = c.SubmitDeliverable("freelancer", 0, Deliverable{ContentRef: "x", Note: strings.Repeat("n", MaxDeliverableNoteLen+1)}, t0)
	require.ErrorIs(t, err, apperr.ErrValidation)

	_, err = c.SubmitDeliverable("freelancer", 0, deliverable("ipfs://a"), t0)
	require.NoError(t, err)
	_, err = c.SubmitDeliverable("freelancer", 0, deliverable("ipfs://b"), t0)
	require.ErrorIs(t, err, apperr.ErrState, "already under review")
}

func TestApprovePreconditions(t *testing.T) {
	c, err := NewContract(params(40, 60), t0)
	require.NoError(t, err)
	_, err = c.SubmitDeliverable("freelancer", 0, deliverable("ipfs://a"), t0)
	require.NoError(t, err)

	_, _, err = c.ApproveMilestone("client", 0, t0)
	require.ErrorIs(t, err, apperr.ErrState, "unfunded contract")

	require.NoError(t, c.Fund("client", 100, t0))
	_, _, err = c.ApproveMilestone("freelancer", 0, t0)
	require.ErrorIs(t, err, apperr.ErrUnauthorized)
	_, _, err = c.ApproveMilestone("client", 1, t0)
	require.ErrorIs(t, err, apperr.ErrState, "pending milestone")

	_, _, err = c.ApproveMilestone("client", 0, t0)
	require.NoError(t, err)
	_, _, err = c.ApproveMilestone("client", 0, t0)
	require.ErrorIs(t, err, apperr.ErrState, "second approval")
	require.EqualValues(t, 40, c.Paid)
}

func TestEscalateFromAnyStatus(t *testing.T) {
	for _, status := range []Status{StatusActive, StatusFunded, StatusCompleted, StatusDisputed} {
		c, err := NewContract(params(40, 60), t0)
		require.NoError(t, err)
		c.Status = status

		_, err = c.Escalate("stranger", t0)
		require.ErrorIs(t, err, apperr.ErrUnauthorized)
		require.Equal(t, status, c.Status)

		prev, err := c.Escalate("freelancer", t0)
		require.NoError(t, err)
		require.Equal(t, status, prev)
		require.Equal(t, StatusDisputed, c.Status)
	}
}

func TestApproveBlockedWhileDisputed(t *testing.T) {
	c, err := NewContract(params(40, 60), t0)
	require.NoError(t, err)
	require.NoError(t, c.Fund("client", 100, t0))
	_, err = c.SubmitDeliverable("freelancer", 0, deliverable("ipfs://a"), t0)
	require.NoError(t, err)
	_, err = c.Escalate("client", t0)
	require.NoError(t, err)

	_, _, err = c.ApproveMilestone("client", 0, t0)
	require.ErrorIs(t, err, apperr.ErrState)
}

func TestLedgerJSONRoundTripKeepsCapacity(t *testing.T) {
	c, err := NewContract(params(10, 20, 30), t0)
	require.NoError(t, err)
	raw, err := c.Milestones.MarshalJSON()
	require.NoError(t, err)

	var l Ledger
	require.NoError(t, l.UnmarshalJSON(raw))
	require.Equal(t, 3, l.Len())
	require.EqualValues(t, 0, l.CompletedTotal())

	var tooMany Ledger
	err = tooMany.UnmarshalJSON([]byte(`[{"index":0},{"index":1},{"index":2},{"index":3},{"index":4},{"index":5}]`))
	require.Error(t, err)
}
