package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	"gorm.io/gorm"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("product_kind", "consumable"),
		attribute.String("transaction_id", "2000001"),
		attribute.String("outcome", "success"),
	)
	require.Len(t, attrs, 2)
	assert.Equal(t, attribute.Key("product_kind"), attrs[0].Key)
	assert.Equal(t, attribute.Key("outcome"), attrs[1].Key)
}

func TestNilMetricsAreNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordTransaction(context.Background(), "consumable", "live", "")
		m.RecordConsume(context.Background(), "insufficient_balance")
	})

	var p *PassMetrics
	assert.NotPanics(t, func() {
		p.ObservePass(PassReplay, time.Now(), nil)
		p.IncError(PassReplay, ReasonUnknown)
	})
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{}, noop.NewMeterProvider())
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		m.RecordTransaction(context.Background(), "auto_renewable", "replay", "")
		m.RecordNotification(context.Background(), "accepted")
	})
}

func TestClassifyReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "deadline", err: fmt.Errorf("refresh: %w", context.DeadlineExceeded), want: ReasonDeadlineExceeded},
		{name: "canceled", err: context.Canceled, want: ReasonCanceled},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: ReasonDBLockTimeout},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: ReasonSerializationFailure},
		{name: "check_violation", err: &pgconn.PgError{Code: "23514"}, want: ReasonCheckViolation},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: ReasonUniqueViolation},
		{name: "plain", err: errors.New("boom"), want: ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyReason(tc.err))
		})
	}
}

func TestObservePass(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewPassMetricsForRegistry(registry, Config{ServiceName: "purchaseledger", Environment: "test"})

	m.ObservePass(PassReplay, time.Now(), nil)
	m.ObservePass(PassReplay, time.Now(), errors.New("boom"))
	m.AddItems(PassReplay, ItemApplied, 3)
	m.AddItems(PassReplay, ItemDropped, 0)
	m.IncError(PassRefresh, "")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.runs.WithLabelValues(PassReplay, "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.runs.WithLabelValues(PassReplay, "failure")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.items.WithLabelValues(PassReplay, ItemApplied)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.errors.WithLabelValues(PassRefresh, ReasonUnknown)))

	families, err := registry.Gather()
	require.NoError(t, err)
	var histogram *dto.Metric
	for _, family := range families {
		if family.GetName() == "purchaseledger_pass_duration_seconds" {
			histogram = family.GetMetric()[0]
		}
	}
	require.NotNil(t, histogram)
	assert.Equal(t, uint64(2), histogram.GetHistogram().GetSampleCount())
	labels := map[string]string{}
	for _, pair := range histogram.GetLabel() {
		labels[pair.GetName()] = pair.GetValue()
	}
	assert.Equal(t, "test", labels["env"])
	assert.Equal(t, PassReplay, labels["pass"])
}
