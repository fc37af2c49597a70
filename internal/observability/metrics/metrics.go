package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes ledger instruments.
type Metrics struct {
	transactions         metric.Int64Counter
	verificationFailures metric.Int64Counter
	consumes             metric.Int64Counter
	renewalRefreshes     metric.Int64Counter
	notifications        metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the ledger instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "purchaseledger"
	}
	meter := provider.Meter(name)

	transactions, err := meter.Int64Counter("purchaseledger_transactions_applied_total")
	if err != nil {
		return nil, err
	}
	verificationFailures, err := meter.Int64Counter("purchaseledger_verification_failures_total")
	if err != nil {
		return nil, err
	}
	consumes, err := meter.Int64Counter("purchaseledger_consumes_total")
	if err != nil {
		return nil, err
	}
	renewalRefreshes, err := meter.Int64Counter("purchaseledger_renewal_refreshes_total")
	if err != nil {
		return nil, err
	}
	notifications, err := meter.Int64Counter("purchaseledger_notifications_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		transactions:         transactions,
		verificationFailures: verificationFailures,
		consumes:             consumes,
		renewalRefreshes:     renewalRefreshes,
		notifications:        notifications,
	}, nil
}

// RecordTransaction counts an applied or rejected transaction. An empty
// errorKind means it was applied.
func (m *Metrics) RecordTransaction(ctx context.Context, productKind, source, errorKind string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("product_kind", strings.TrimSpace(productKind)),
		attribute.String("source", strings.TrimSpace(source)),
		attribute.String("outcome", outcome(errorKind)),
		attribute.String("error_kind", strings.TrimSpace(errorKind)),
	)
	m.transactions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordVerificationFailure counts results dropped at the verification boundary.
func (m *Metrics) RecordVerificationFailure(ctx context.Context, source, errorKind string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("source", strings.TrimSpace(source)),
		attribute.String("error_kind", strings.TrimSpace(errorKind)),
	)
	m.verificationFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordConsume(ctx context.Context, errorKind string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("outcome", outcome(errorKind)),
		attribute.String("error_kind", strings.TrimSpace(errorKind)),
	)
	m.consumes.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordRenewalRefresh(ctx context.Context, errorKind string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("outcome", outcome(errorKind)),
		attribute.String("error_kind", strings.TrimSpace(errorKind)),
	)
	m.renewalRefreshes.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordNotification counts authority notifications by ingest status.
func (m *Metrics) RecordNotification(ctx context.Context, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("status", strings.TrimSpace(status)))
	m.notifications.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func outcome(errorKind string) string {
	if strings.TrimSpace(errorKind) == "" {
		return "success"
	}
	return "failure"
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"product_kind": {},
	"source":       {},
	"outcome":      {},
	"error_kind":   {},
	"status":       {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
