package credential

import (
	"context"
	"time"

	"escrowflow/db"
)

// Reader abstracts registry reads for the service.
type Reader interface {
	GetByID(ctx context.Context, q db.Querier, id string) (Credential, error)
	ListForHolder(ctx context.Context, q db.Querier, holder string) ([]Credential, error)
}

// Service exposes read-only credential lookups. Issuance and revocation
// belong to the external registry.
type Service struct {
	q    db.Querier
	repo Reader
	now  func() time.Time
}

// NewService builds a Service using the provided repository.
func NewService(q db.Querier, repo Reader) *Service {
	if repo == nil {
		repo = NewPGRegistry()
	}
	return &Service{q: q, repo: repo, now: time.Now}
}

// Verify returns the credential together with its validity at the current time.
func (s *Service) Verify(ctx context.Context, id string) (Verification, error) {
	c, err := s.repo.GetByID(ctx, s.q, id)
	if err != nil {
		return Verification{}, err
	}
	return Verify(c, s.now()), nil
}

// ListForHolder returns every credential held by holder.
func (s *Service) ListForHolder(ctx context.Context, holder string) ([]Credential, error) {
	return s.repo.ListForHolder(ctx, s.q, holder)
}
