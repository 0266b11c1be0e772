// Package api exposes the contract, escrow and arbitration services over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"escrowflow/auth"
	"escrowflow/contract"
	"escrowflow/credential"
	"escrowflow/dispute"
	"escrowflow/outbox"
	"escrowflow/timesession"
)

type AuthService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (auth.Identity, error)
}

type ContractService interface {
	Create(ctx context.Context, p contract.CreateParams) (*contract.Contract, error)
	Fund(ctx context.Context, id, caller string, amount int64) (*contract.Contract, error)
	SignNDA(ctx context.Context, id, caller string) (*contract.Contract, error)
	SubmitDeliverable(ctx context.Context, id, caller string, index int, d contract.Deliverable) (*contract.Contract, error)
	RequestRevision(ctx context.Context, id, caller string, index int, reason string) (*contract.Contract, error)
	ApproveMilestone(ctx context.Context, id, caller string, index int) (*contract.Contract, error)
	Get(ctx context.Context, id string) (*contract.Contract, error)
	List(ctx context.Context, party string, limit int) ([]*contract.Contract, error)
	Escrow(ctx context.Context, id string) (contract.EscrowView, error)
	Timeline(ctx context.Context, id string) ([]outbox.TimelineEvent, error)
}

type DisputeService interface {
	Open(ctx context.Context, p dispute.OpenParams) (*dispute.Dispute, error)
	AssignArbitrators(ctx context.Context, p dispute.AssignParams) (*dispute.Dispute, error)
	SubmitVote(ctx context.Context, disputeID, arbitrator string, favorsClient bool, reasoning string) (*dispute.Dispute, error)
	Get(ctx context.Context, id string) (*dispute.Dispute, error)
	List(ctx context.Context, contractID string) ([]*dispute.Dispute, error)
}

type SessionService interface {
	Start(ctx context.Context, contractID, freelancer string, milestoneIndex int) (timesession.Session, error)
	End(ctx context.Context, sessionID, freelancer, note string) (timesession.Session, error)
	List(ctx context.Context, contractID string) ([]timesession.Session, error)
}

type CredentialService interface {
	Verify(ctx context.Context, id string) (credential.Verification, error)
	ListForHolder(ctx context.Context, holder string) ([]credential.Credential, error)
}

// EventSource is satisfied by *outbox.Hub.
type EventSource interface {
	Subscribe(buffer int, filter func(outbox.Message) bool) (<-chan outbox.Message, func())
}

// Config captures the dependencies required to construct the server.
type Config struct {
	Auth        AuthService
	Contracts   ContractService
	Disputes    DisputeService
	Sessions    SessionService
	Credentials CredentialService
	Events      EventSource
	Limiter     *RateLimiter
	Logger      *slog.Logger
	// Tracing wraps the router with otelhttp when set.
	Tracing bool
}

// Server holds the services behind the HTTP routes.
type Server struct {
	auth        AuthService
	contracts   ContractService
	disputes    DisputeService
	sessions    SessionService
	credentials CredentialService
	events      EventSource
	limiter     *RateLimiter
	log         *slog.Logger

	router http.Handler
}

func New(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	srv := &Server{
		auth:        cfg.Auth,
		contracts:   cfg.Contracts,
		disputes:    cfg.Disputes,
		sessions:    cfg.Sessions,
		credentials: cfg.Credentials,
		events:      cfg.Events,
		limiter:     cfg.Limiter,
		log:         log.With("component", "api"),
	}
	var handler http.Handler = srv.buildRouter()
	if cfg.Tracing {
		handler = otelhttp.NewHandler(handler, "escrowflow")
	}
	srv.router = handler
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(instrument)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Post("/auth/register", s.handleRegister)
		api.Post("/auth/login", s.handleLogin)

		api.Group(func(p chi.Router) {
			p.Use(s.authenticate)
			if s.limiter != nil {
				p.Use(s.limiter.Middleware)
			}

			p.Post("/contracts", s.handleCreateContract)
			p.Get("/contracts", s.handleListContracts)
			p.Route("/contracts/{id}", func(c chi.Router) {
				c.Get("/", s.handleGetContract)
				c.Post("/fund", s.handleFund)
				c.Post("/nda", s.handleSignNDA)
				c.Post("/milestones/{index}/deliverables", s.handleSubmitDeliverable)
				c.Post("/milestones/{index}/revision", s.handleRequestRevision)
				c.Post("/milestones/{index}/approve", s.handleApproveMilestone)
				c.Get("/escrow", s.handleEscrow)
				c.Get("/timeline", s.handleTimeline)
				c.Post("/disputes", s.handleOpenDispute)
				c.Get("/disputes", s.handleListDisputes)
				c.Post("/sessions", s.handleStartSession)
				c.Get("/sessions", s.handleListSessions)
			})

			p.Get("/disputes/{id}", s.handleGetDispute)
			p.With(requireRole(auth.RoleAdmin)).Post("/disputes/{id}/arbitrators", s.handleAssignArbitrators)
			p.Post("/disputes/{id}/votes", s.handleVote)

			p.Post("/sessions/{id}/end", s.handleEndSession)

			p.Get("/users/{id}/credentials", s.handleListCredentials)
			p.Get("/credentials/{id}", s.handleVerifyCredential)

			p.Get("/events/ws", s.handleEvents)
		})
	})

	return r
}
