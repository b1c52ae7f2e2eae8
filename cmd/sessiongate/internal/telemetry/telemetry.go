package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/MrEthical07/sessiongate"
	sgotel "github.com/MrEthical07/sessiongate/metrics/export/otel"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const meterName = "github.com/MrEthical07/sessiongate"

// InitMetrics starts an OTLP meter provider and publishes the engine's metrics through it.
// The exporter reads OTEL_EXPORTER_OTLP_ENDPOINT and OTEL_EXPORTER_OTLP_HEADERS from the
// environment.
//
// Returns a shutdown function that should be called on graceful shutdown.
func InitMetrics(ctx context.Context, engine *sessiongate.Engine, version string, interval time.Duration, log zerolog.Logger) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("sessiongate"),
			semconv.ServiceVersion(version),
		),
		resource.WithFromEnv(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	metricExporter, err := otlpmetricgrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(interval))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	exporter, err := sgotel.NewOTelExporter(mp.Meter(meterName), engine)
	if err != nil {
		_ = mp.Shutdown(ctx)
		return nil, fmt.Errorf("failed to register engine metrics: %w", err)
	}

	log.Info().Dur("interval", interval).Msg("OpenTelemetry metrics initialized")

	return func(ctx context.Context) error {
		if err := exporter.Close(); err != nil {
			return fmt.Errorf("unregister engine metrics: %w", err)
		}
		return mp.Shutdown(ctx)
	}, nil
}
