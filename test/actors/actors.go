// Package actors drives the real services concurrently for the stress test.
// Rejections are expected under contention; the oracles judge the outcome.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/apperr"
	"escrowflow/contract"
	"escrowflow/dispute"
	"escrowflow/outbox"
	"escrowflow/timesession"
)

// Services bundles the wired services every actor shares.
type Services struct {
	Contracts *contract.Service
	Disputes  *dispute.Service
	Sessions  *timesession.Service
	Relay     *outbox.Relay
	Hub       *outbox.Hub
}

// Wire builds the production service graph on pool.
func Wire(pool *pgxpool.Pool) *Services {
	events := outbox.NewWriter()
	contracts := contract.NewService(pool, contract.NewPGRepository(), events, events)
	hub := outbox.NewHub()
	return &Services{
		Contracts: contracts,
		Disputes:  dispute.NewService(pool, dispute.NewPGRepository(), contracts, events, events),
		Sessions:  timesession.NewService(pool, timesession.NewPGRepository(), contracts),
		Relay:     outbox.NewRelay(pool, outbox.NewPGStore(), hub, 20, 100*time.Millisecond, nil),
		Hub:       hub,
	}
}

// Stats counts actor outcomes by kind.
type Stats struct {
	Applied  atomic.Int64
	Rejected atomic.Int64
	Internal atomic.Int64
}

func (s *Stats) observe(err error) {
	switch {
	case err == nil:
		s.Applied.Add(1)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
	case apperr.KindOf(err) == apperr.KindInternal:
		s.Internal.Add(1)
	default:
		s.Rejected.Add(1)
	}
}

func (s *Stats) String() string {
	return fmt.Sprintf("applied=%d rejected=%d internal=%d", s.Applied.Load(), s.Rejected.Load(), s.Internal.Load())
}

// Deal is one seeded contract and its parties.
type Deal struct {
	ID         string
	Client     string
	Freelancer string
	Milestones int
}

// Seed creates and funds n contracts with three milestones each.
func Seed(ctx context.Context, svc *Services, n int) ([]Deal, error) {
	deals := make([]Deal, 0, n)
	for i := 0; i < n; i++ {
		d := Deal{
			ID:         fmt.Sprintf("stress-%d-%d", time.Now().UnixNano()%1e9, i),
			Client:     fmt.Sprintf("client-%d", i),
			Freelancer: fmt.Sprintf("freelancer-%d", i),
			Milestones: 3,
		}
		_, err := svc.Contracts.Create(ctx, contract.CreateParams{
			ID:           d.ID,
			Title:        "stress contract",
			Client:       d.Client,
			Freelancer:   d.Freelancer,
			Total:        300,
			Denomination: "USDC",
			Milestones: []contract.MilestoneDraft{
				{Title: "one", Amount: 50, Deadline: time.Now().Add(24 * time.Hour)},
				{Title: "two", Amount: 100, Deadline: time.Now().Add(48 * time.Hour)},
				{Title: "three", Amount: 150, Deadline: time.Now().Add(72 * time.Hour)},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("seed create %s: %w", d.ID, err)
		}
		if _, err := svc.Contracts.Fund(ctx, d.ID, d.Client, 300); err != nil {
			return nil, fmt.Errorf("seed fund %s: %w", d.ID, err)
		}
		deals = append(deals, d)
	}
	return deals, nil
}

func pick(deals []Deal) Deal {
	return deals[rand.Intn(len(deals))]
}

func pause(min, spread int) {
	time.Sleep(time.Duration(min+rand.Intn(spread)) * time.Millisecond)
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

// Submitter hands in deliverables on random milestones as the freelancer.
func Submitter(ctx context.Context, svc *Services, deals []Deal, stats *Stats, stop <-chan struct{}) error {
	for n := 0; !stopped(ctx, stop); n++ {
		d := pick(deals)
		_, err := svc.Contracts.SubmitDeliverable(ctx, d.ID, d.Freelancer, rand.Intn(d.Milestones), contract.Deliverable{
			ContentRef: fmt.Sprintf("ipfs://%d", n),
			Name:       "draft",
		})
		stats.observe(err)
		pause(10, 20)
	}
	return nil
}

// Reviewer approves or sends back random milestones as the client. Several
// reviewers race on the same milestone to exercise the single-release rule.
func Reviewer(ctx context.Context, svc *Services, deals []Deal, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		d := pick(deals)
		idx := rand.Intn(d.Milestones)
		var err error
		if rand.Intn(3) == 0 {
			_, err = svc.Contracts.RequestRevision(ctx, d.ID, d.Client, idx, "needs work")
		} else {
			_, err = svc.Contracts.ApproveMilestone(ctx, d.ID, d.Client, idx)
		}
		stats.observe(err)
		pause(10, 30)
	}
	return nil
}

// Disputer occasionally escalates a contract.
func Disputer(ctx context.Context, svc *Services, deals []Deal, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		d := pick(deals)
		initiator := d.Client
		if rand.Intn(2) == 0 {
			initiator = d.Freelancer
		}
		_, err := svc.Disputes.Open(ctx, dispute.OpenParams{
			ContractID: d.ID,
			Initiator:  initiator,
			Category:   dispute.CategoryQuality,
			Reason:     "stress escalation",
		})
		stats.observe(err)
		pause(300, 400)
	}
	return nil
}

// Panel seats arbitrators on open disputes and has them vote. Each
// arbitrator runs in its own goroutine so ballots race.
func Panel(ctx context.Context, svc *Services, deals []Deal, arbitrators []string, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		d := pick(deals)
		disputes, err := svc.Disputes.List(ctx, d.ID)
		if err != nil {
			stats.observe(err)
			pause(50, 50)
			continue
		}
		for _, ds := range disputes {
			switch ds.Status {
			case dispute.StatusOpen:
				_, err := svc.Disputes.AssignArbitrators(ctx, dispute.AssignParams{
					DisputeID:    ds.ID,
					ActorID:      "admin",
					ActorIsAdmin: true,
					Arbitrators:  arbitrators,
				})
				stats.observe(err)
			case dispute.StatusUnderReview:
				done := make(chan struct{}, len(arbitrators))
				for _, arb := range arbitrators {
					go func(arb string) {
						_, err := svc.Disputes.SubmitVote(ctx, ds.ID, arb, rand.Intn(2) == 0, "stress ballot")
						stats.observe(err)
						done <- struct{}{}
					}(arb)
				}
				for range arbitrators {
					<-done
				}
			}
		}
		pause(50, 100)
	}
	return nil
}

// Timekeeper opens and closes work sessions as the freelancer.
func Timekeeper(ctx context.Context, svc *Services, deals []Deal, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		d := pick(deals)
		sess, err := svc.Sessions.Start(ctx, d.ID, d.Freelancer, rand.Intn(d.Milestones))
		stats.observe(err)
		if err == nil {
			pause(5, 10)
			_, err = svc.Sessions.End(ctx, sess.ID, d.Freelancer, "stress")
			stats.observe(err)
		}
		pause(40, 60)
	}
	return nil
}

// Relay runs the outbox relay until stop.
func Relay(ctx context.Context, svc *Services, stop <-chan struct{}) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	return svc.Relay.Run(ctx)
}
