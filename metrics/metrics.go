package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"escrowflow/apperr"
)

// Prometheus metrics for the contract, escrow and arbitration services
var (
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrowflow_operations_total",
			Help: "State-changing operations by outcome (ok or rejection kind)",
		},
		[]string{"operation", "result"},
	)

	ContractsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "escrowflow_contracts_created_total",
			Help: "Total number of contracts created",
		},
	)

	EscrowDepositedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrowflow_escrow_deposited_total",
			Help: "Amount moved into custody, by denomination",
		},
		[]string{"denomination"},
	)

	EscrowReleasedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrowflow_escrow_released_total",
			Help: "Amount released from custody, by denomination",
		},
		[]string{"denomination"},
	)

	DisputesOpenedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrowflow_disputes_opened_total",
			Help: "Total number of disputes opened, by category",
		},
		[]string{"category"},
	)

	DisputesResolvedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrowflow_disputes_resolved_total",
			Help: "Total number of disputes resolved, by outcome",
		},
		[]string{"outcome"},
	)

	OutboxDeliveredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrowflow_outbox_delivered_total",
			Help: "Outbox messages handled by the relay, by result",
		},
		[]string{"result"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrowflow_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "escrowflow_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
)

var registerOnce sync.Once

// Register registers all Prometheus metrics with the default registry.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(OperationsTotal)
		prometheus.MustRegister(ContractsCreatedTotal)
		prometheus.MustRegister(EscrowDepositedTotal)
		prometheus.MustRegister(EscrowReleasedTotal)
		prometheus.MustRegister(DisputesOpenedTotal)
		prometheus.MustRegister(DisputesResolvedTotal)
		prometheus.MustRegister(OutboxDeliveredTotal)
		prometheus.MustRegister(HTTPRequestsTotal)
		prometheus.MustRegister(HTTPRequestDuration)
	})
}

// ObserveOperation counts one operation outcome.
func ObserveOperation(operation string, err error) {
	result := "ok"
	if err != nil {
		result = string(apperr.KindOf(err))
	}
	OperationsTotal.WithLabelValues(operation, result).Inc()
}
