package observe

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures the OpenTelemetry SDK provider.
type ProviderConfig struct {
	// ServiceName is the service name reported in telemetry. Default: "voxlog".
	ServiceName string

	// ServiceVersion is the service version reported in telemetry.
	ServiceVersion string
}

// InitProvider initialises the OTel metrics SDK with a Prometheus exporter
// bridge and registers it as the global meter provider, so metrics recorded
// through [DefaultMetrics] land on the /metrics endpoint.
//
// Returns a shutdown function that flushes and closes the provider. Call it
// in a defer from main().
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "voxlog"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	promExp, err := promexporter.New()
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)
	otel.SetMeterProvider(mp)

	return mp.Shutdown, nil
}

// Handler returns the HTTP handler serving the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
