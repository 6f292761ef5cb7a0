// Package telemetry はOpenTelemetryのトレース設定を提供する。
package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config はOTLPエクスポーターの設定。
type Config struct {
	ServiceName string
	Endpoint    string
	Insecure    bool
}

// ShutdownFunc は送信待ちのスパンをフラッシュしてプロバイダーを停止する。
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// Setup はOTLP/gRPCでスパンを送信するTracerProviderをグローバルに設定する。
// Endpointが空の場合、またはエクスポーターの生成に失敗した場合は何もしない。
func Setup(ctx context.Context, cfg Config) ShutdownFunc {
	if cfg.Endpoint == "" {
		return noopShutdown
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		slog.Error("failed to create OTLP exporter", slog.String("error", err.Error()))
		return noopShutdown
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		slog.Warn("failed to build OTel resource", slog.String("error", err.Error()))
	}

	provider := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	slog.Info("tracing enabled",
		slog.String("endpoint", cfg.Endpoint),
		slog.String("service", cfg.ServiceName),
	)

	return provider.Shutdown
}
