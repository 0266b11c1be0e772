package timesession

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"escrowflow/apperr"
	"escrowflow/contract"
	"escrowflow/db"
	"escrowflow/db/dbtest"
)

type memRepo struct {
	sessions map[string]Session
	order    []string
}

func (m *memRepo) Insert(_ context.Context, _ pgx.Tx, s Session) error {
	m.sessions[s.ID] = s
	m.order = append(m.order, s.ID)
	return nil
}

func (m *memRepo) GetForUpdate(_ context.Context, _ pgx.Tx, id string) (Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, apperr.ErrNotFound
	}
	return s, nil
}

func (m *memRepo) Close(_ context.Context, _ pgx.Tx, s Session) error {
	m.sessions[s.ID] = s
	return nil
}

func (m *memRepo) ListForContract(_ context.Context, _ db.Querier, contractID string) ([]Session, error) {
	var out []Session
	for _, id := range m.order {
		if s := m.sessions[id]; s.ContractID == contractID {
			out = append(out, s)
		}
	}
	return out, nil
}

type stubContracts struct{ c *contract.Contract }

func (s stubContracts) Lookup(_ context.Context, _ db.Querier, id string) (*contract.Contract, error) {
	if id != s.c.ID {
		return nil, apperr.ErrNotFound
	}
	return s.c, nil
}

func newService(t *testing.T, clock *time.Time) (*Service, *dbtest.Pool) {
	t.Helper()
	c, err := contract.NewContract(contract.CreateParams{
		ID:           "job-1",
		Title:        "Data pipeline",
		Client:       "client",
		Freelancer:   "freelancer",
		Total:        50,
		Denomination: "USDC",
		Milestones:   []contract.MilestoneDraft{{Title: "a", Amount: 20}, {Title: "b", Amount: 30}},
	}, *clock)
	if err != nil {
		t.Fatalf("new contract: %v", err)
	}
	pool := &dbtest.Pool{}
	svc := NewService(pool, &memRepo{sessions: make(map[string]Session)}, stubContracts{c: c}).
		WithClock(func() time.Time { return *clock }).
		WithIDGenerator(func() string { return "session-1" })
	return svc, pool
}

func TestStartAndEndSession(t *testing.T) {
	clock := time.Date(2025, 4, 2, 8, 0, 0, 0, time.UTC)
	svc, pool := newService(t, &clock)
	ctx := context.Background()

	sess, err := svc.Start(ctx, "job-1", "freelancer", 1)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !pool.Last().Committed {
		t.Fatalf("expected start to commit")
	}

	clock = clock.Add(90 * time.Minute)
	ended, err := svc.End(ctx, sess.ID, "freelancer", "wired the loader")
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.Duration != 5400 {
		t.Errorf("expected 5400s, got %d", ended.Duration)
	}
	if ended.EndedAt == nil || !ended.EndedAt.Equal(clock) {
		t.Errorf("unexpected end time %v", ended.EndedAt)
	}

	if _, err := svc.End(ctx, sess.ID, "freelancer", ""); !errors.Is(err, apperr.ErrState) {
		t.Errorf("expected state error on second end, got %v", err)
	}

	list, err := svc.List(ctx, "job-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Note != "wired the loader" {
		t.Errorf("unexpected sessions %+v", list)
	}
}

func TestSessionRejections(t *testing.T) {
	clock := time.Date(2025, 4, 2, 8, 0, 0, 0, time.UTC)
	svc, _ := newService(t, &clock)
	ctx := context.Background()

	if _, err := svc.Start(ctx, "job-1", "client", 0); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("client start: expected unauthorized, got %v", err)
	}
	if _, err := svc.Start(ctx, "job-1", "freelancer", 5); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("bad index: expected validation, got %v", err)
	}
	if _, err := svc.Start(ctx, "job-9", "freelancer", 0); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown contract: expected not found, got %v", err)
	}

	sess, err := svc.Start(ctx, "job-1", "freelancer", 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.End(ctx, sess.ID, "client", ""); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("client end: expected unauthorized, got %v", err)
	}
	if _, err := svc.End(ctx, sess.ID, "freelancer", strings.Repeat("n", MaxNoteLen+1)); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("long note: expected validation, got %v", err)
	}
}
