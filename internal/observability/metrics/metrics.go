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

// Metrics exposes application-level instruments for the billing engine.
type Metrics struct {
	planAssignments      metric.Int64Counter
	idempotentReplays    metric.Int64Counter
	gatewayErrors        metric.Int64Counter
	compensationRuns     metric.Int64Counter
	compensationFailures metric.Int64Counter
	auditWrites          metric.Int64Counter
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

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "pressplane"
	}
	meter := provider.Meter(name)

	planAssignments, err := meter.Int64Counter("pressplane_plan_assignments_total")
	if err != nil {
		return nil, err
	}
	idempotentReplays, err := meter.Int64Counter("pressplane_idempotent_replays_total")
	if err != nil {
		return nil, err
	}
	gatewayErrors, err := meter.Int64Counter("pressplane_gateway_errors_total")
	if err != nil {
		return nil, err
	}
	compensationRuns, err := meter.Int64Counter("pressplane_compensation_runs_total")
	if err != nil {
		return nil, err
	}
	compensationFailures, err := meter.Int64Counter("pressplane_compensation_failures_total")
	if err != nil {
		return nil, err
	}
	auditWrites, err := meter.Int64Counter("pressplane_audit_writes_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		planAssignments:      planAssignments,
		idempotentReplays:    idempotentReplays,
		gatewayErrors:        gatewayErrors,
		compensationRuns:     compensationRuns,
		compensationFailures: compensationFailures,
		auditWrites:          auditWrites,
	}, nil
}

// RecordPlanAssignment increments plan assignment counts by outcome.
func (m *Metrics) RecordPlanAssignment(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.planAssignments.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordIdempotentReplay increments replay counts.
func (m *Metrics) RecordIdempotentReplay(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("operation", strings.TrimSpace(operation)))
	m.idempotentReplays.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordGatewayError increments gateway failure counts.
func (m *Metrics) RecordGatewayError(ctx context.Context, call string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("call", strings.TrimSpace(call)))
	m.gatewayErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCompensationRun increments compensation attempt counts.
func (m *Metrics) RecordCompensationRun(ctx context.Context) {
	if m == nil {
		return
	}
	m.compensationRuns.Add(ctx, 1)
}

// RecordCompensationFailure increments compensation failure counts.
func (m *Metrics) RecordCompensationFailure(ctx context.Context, call string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("call", strings.TrimSpace(call)))
	m.compensationFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordAuditWrite increments audit event write counts.
func (m *Metrics) RecordAuditWrite(ctx context.Context, action string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("action", strings.TrimSpace(action)))
	m.auditWrites.Add(ctx, 1, metric.WithAttributes(attrs...))
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
	"outcome":   {},
	"operation": {},
	"call":      {},
	"action":    {},
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
