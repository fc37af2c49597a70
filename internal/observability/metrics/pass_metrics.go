package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	PassRebuild = "rebuild"
	PassReplay  = "replay"
	PassRefresh = "refresh"
	PassSync    = "sync"
	PassLive    = "live"
)

const (
	ItemApplied = "applied"
	ItemDropped = "dropped"
	ItemFailed  = "failed"
	ItemPending = "pending"
)

const (
	ReasonDeadlineExceeded     = "deadline_exceeded"
	ReasonCanceled             = "canceled"
	ReasonDBLockTimeout        = "db_lock_timeout"
	ReasonSerializationFailure = "serialization_failure"
	ReasonUniqueViolation      = "unique_violation"
	ReasonCheckViolation       = "check_violation"
	ReasonUnknown              = "unknown"
)

// PassMetrics captures the health of background reconciliation passes.
type PassMetrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	items       *prometheus.CounterVec
	errors      *prometheus.CounterVec
	lastSuccess *prometheus.GaugeVec
}

var (
	passMetricsOnce sync.Once
	passMetrics     *PassMetrics
)

// Passes returns the singleton pass metrics registered on the default registerer.
func Passes() *PassMetrics {
	return PassesWithConfig(Config{})
}

func PassesWithConfig(cfg Config) *PassMetrics {
	passMetricsOnce.Do(func() {
		passMetrics = newPassMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return passMetrics
}

// ResetPassMetricsForTest resets the singleton for tests.
func ResetPassMetricsForTest() {
	passMetricsOnce = sync.Once{}
	passMetrics = nil
}

// NewPassMetricsForRegistry registers pass metrics on registerer.
func NewPassMetricsForRegistry(registerer prometheus.Registerer, cfg Config) *PassMetrics {
	return newPassMetrics(registerer, cfg)
}

func newPassMetrics(registerer prometheus.Registerer, cfg Config) *PassMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "purchaseledger"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "purchaseledger_pass_runs_total",
		Help:        "Reconciliation passes by name and outcome.",
		ConstLabels: constLabels,
	}, []string{"pass", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "purchaseledger_pass_duration_seconds",
		Help:        "Reconciliation pass latency.",
		Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		ConstLabels: constLabels,
	}, []string{"pass"})
	items := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "purchaseledger_pass_items_total",
		Help:        "Transactions and products handled by reconciliation passes.",
		ConstLabels: constLabels,
	}, []string{"pass", "result"})
	errs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "purchaseledger_pass_errors_total",
		Help:        "Reconciliation errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"pass", "reason"})
	lastSuccess := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:        "purchaseledger_pass_last_success_timestamp_seconds",
		Help:        "Unix time of the last pass that finished without errors.",
		ConstLabels: constLabels,
	}, []string{"pass"})

	registerer.MustRegister(runs, duration, items, errs, lastSuccess)

	return &PassMetrics{
		runs:        runs,
		duration:    duration,
		items:       items,
		errors:      errs,
		lastSuccess: lastSuccess,
	}
}

// ObservePass records one finished pass.
func (m *PassMetrics) ObservePass(pass string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(pass).Observe(time.Since(started).Seconds())
	if err != nil {
		m.runs.WithLabelValues(pass, "failure").Inc()
		return
	}
	m.runs.WithLabelValues(pass, "success").Inc()
	m.lastSuccess.WithLabelValues(pass).Set(float64(time.Now().Unix()))
}

func (m *PassMetrics) AddItems(pass, result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.items.WithLabelValues(pass, result).Add(float64(n))
}

// IncError counts err under reason, which callers usually derive with ClassifyReason.
func (m *PassMetrics) IncError(pass, reason string) {
	if m == nil {
		return
	}
	if strings.TrimSpace(reason) == "" {
		reason = ReasonUnknown
	}
	m.errors.WithLabelValues(pass, reason).Inc()
}

// ClassifyReason maps infrastructure failures to a low-cardinality reason.
// It returns "" when err carries no infrastructure signal.
func ClassifyReason(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonDeadlineExceeded
	}
	if errors.Is(err, context.Canceled) {
		return ReasonCanceled
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ReasonUniqueViolation
	}
	if errors.Is(err, gorm.ErrCheckConstraintViolated) {
		return ReasonCheckViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03":
			return ReasonDBLockTimeout
		case "40001":
			return ReasonSerializationFailure
		case "23505":
			return ReasonUniqueViolation
		case "23514":
			return ReasonCheckViolation
		}
	}
	return ""
}
