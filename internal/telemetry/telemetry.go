// Package telemetry はOpenTelemetryのトレース送信を設定する。
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// Config はトレース送信の設定。
type Config struct {
	// ServiceName はトレースに付与するサービス名。
	ServiceName string
	// ServiceVersion はトレースに付与するサービスのバージョン。
	ServiceVersion string
	// Endpoint はOTLP/HTTPの送信先URL（例: "http://otel-collector:4318"）。
	// 空の場合はグローバルのno-opプロバイダーのままにする。
	Endpoint string
	// SampleRate はサンプリング率（0.0〜1.0）。0以下なら1.0として扱う。
	SampleRate float64
}

// ShutdownFunc は未送信のスパンを送信してプロバイダーを停止する。
type ShutdownFunc func(context.Context) error

// Setup はOTLP/HTTPエクスポーターを持つトレースプロバイダーをグローバルに設定する。
func Setup(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("リソースの作成に失敗: %w", err)
	}

	exporter, err := otlptrace.New(ctx,
		otlptracehttp.NewClient(
			otlptracehttp.WithEndpointURL(cfg.Endpoint),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("エクスポーターの作成に失敗: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg.SampleRate)),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return provider.Shutdown, nil
}

// newSampler は親スパンの判定を優先し、ルートスパンだけを指定の率でサンプリングする。
func newSampler(rate float64) sdktrace.Sampler {
	if rate <= 0 {
		rate = 1.0
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
}
