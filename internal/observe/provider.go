package observe

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Resource attribute keys describing the transcription setup a process was
// started with.
const (
	AttrModel   = attribute.Key("holdscribe.engine.model")
	AttrLocale  = attribute.Key("holdscribe.engine.locale")
	AttrBackend = attribute.Key("holdscribe.engine.backend")
)

// ProviderConfig configures the OpenTelemetry SDK providers.
type ProviderConfig struct {
	ServiceVersion string

	// Model, Locale and Backend describe the engine configured at startup.
	// Empty values are omitted from the resource.
	Model   string
	Locale  string
	Backend string

	// SampleRatio is the fraction of session traces kept, in [0, 1]. Zero
	// keeps every trace. Spans inherit their parent's decision.
	SampleRatio float64

	// TraceExporter receives sampled spans. When nil, spans are recorded
	// for the in-process tracer but not exported.
	TraceExporter sdktrace.SpanExporter
}

// InitProvider installs the global meter and tracer providers. Metrics are
// read by the Prometheus exporter and served on /metrics. The returned
// function flushes and stops both providers.
func InitProvider(ctx context.Context, cfg ProviderConfig) (func(context.Context) error, error) {
	res, err := NewResource(cfg)
	if err != nil {
		return nil, err
	}

	exp, err := promexporter.New()
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exp),
	)

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(Sampler(cfg.SampleRatio)),
	}
	if cfg.TraceExporter != nil {
		opts = append(opts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(opts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		// Spans first: a batcher may still hold spans whose metrics were
		// already recorded.
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

// NewResource describes this process: the service plus the engine it was
// configured with.
func NewResource(cfg ProviderConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName("holdscribe"),
		semconv.ServiceVersion(cfg.ServiceVersion),
	}
	for key, v := range map[attribute.Key]string{
		AttrModel:   cfg.Model,
		AttrLocale:  cfg.Locale,
		AttrBackend: cfg.Backend,
	} {
		if v != "" {
			attrs = append(attrs, key.String(v))
		}
	}
	// Schemaless, so the merge never conflicts with the SDK's own schema URL.
	return resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
}

// Sampler returns the session trace sampler for ratio. Ratios outside
// (0, 1) sample everything.
func Sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}
