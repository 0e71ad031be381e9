package pos

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	vendorRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_vendor_requests_total",
			Help: "Total vendor API requests by provider and outcome status",
		},
		[]string{"provider", "status"},
	)

	vendorRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_vendor_retries_total",
			Help: "Vendor API calls that were retried after a retryable failure",
		},
		[]string{"provider"},
	)

	vendorRateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_vendor_rate_limited_total",
			Help: "Vendor API responses with HTTP 429",
		},
		[]string{"provider"},
	)

	vendorRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pos_vendor_request_duration_seconds",
			Help:    "Vendor API request duration including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	matchLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_match_lookups_total",
			Help: "Transaction match lookups by result (hit, miss, ambiguous, cached)",
		},
		[]string{"result"},
	)
)

// RegisterMetrics installs the adapter layer's collectors on a registry.
// Call once from main.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		vendorRequestsTotal,
		vendorRetriesTotal,
		vendorRateLimitedTotal,
		vendorRequestDuration,
		matchLookupsTotal,
	)
}
