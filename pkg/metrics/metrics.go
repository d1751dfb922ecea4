// Package metrics defines the Prometheus metrics sieveforge exports.
//
// All metrics are registered on the default registry via promauto and are
// served by "sieveforge serve" at the configured metrics path.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Generation metrics
var (
	FiltersGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sieveforge_filters_generated_total",
			Help: "Total number of filters generated",
		},
		[]string{"source"},
	)

	RulesGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sieveforge_rules_generated_total",
			Help: "Total number of rules in generated filters",
		},
	)

	GenerationSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sieveforge_generation_skips_total",
			Help: "Categories and patterns left out of generated filters",
		},
		[]string{"reason"},
	)

	LintIssues = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sieveforge_lint_issues_total",
			Help: "Lint findings by severity",
		},
		[]string{"severity"},
	)

	PatternsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sieveforge_patterns_detected_total",
			Help: "Patterns found by the detector",
		},
		[]string{"kind"},
	)
)

// Dry-run metrics
var (
	DryRunEmails = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sieveforge_dry_run_emails_total",
			Help: "Emails evaluated in dry runs",
		},
		[]string{"result"},
	)

	CrossCheckMismatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sieveforge_cross_check_mismatches_total",
			Help: "Emails on which the matcher and go-sieve disagreed",
		},
	)
)

// Adapter metrics
var (
	EmailsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sieveforge_emails_fetched_total",
			Help: "Emails read from IMAP or a corpus",
		},
		[]string{"source"},
	)

	ManageSieveCommands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sieveforge_managesieve_commands_total",
			Help: "ManageSieve commands sent",
		},
		[]string{"command", "status"},
	)

	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sieveforge_storage_operations_total",
			Help: "Script repository operations",
		},
		[]string{"backend", "operation", "status"},
	)

	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sieveforge_storage_operation_duration_seconds",
			Help:    "Duration of script repository operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	StoredScripts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sieveforge_stored_scripts",
			Help: "Scripts currently held by the repository",
		},
	)

	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sieveforge_retry_attempts_total",
			Help: "Retries of failed network operations",
		},
		[]string{"operation"},
	)
)

// HTTP API metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sieveforge_http_requests_total",
			Help: "HTTP API requests",
		},
		[]string{"route", "code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sieveforge_http_request_duration_seconds",
			Help:    "Duration of HTTP API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Status maps an error to StatusSuccess or StatusFailure.
func Status(err error) string {
	if err != nil {
		return StatusFailure
	}
	return StatusSuccess
}
