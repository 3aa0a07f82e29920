package infra

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"wallet-vault-service/config"
)

// OwnerIDKey はボールト所有者を示すスパン属性。
const OwnerIDKey = attribute.Key("vault.owner_id")

const tracerShutdownTimeout = 5 * time.Second

type tracerSettings struct {
	serviceName    string
	serviceVersion string
	exporter       sdktrace.SpanExporter
}

// TracerOption は InitTracer の設定を上書きする。
type TracerOption func(*tracerSettings)

// WithServiceName は OTEL_SERVICE_NAME の代わりに使うサービス名を指定する。
// レジストリサーバーとCLIを別サービスとして区別するために使う。
func WithServiceName(name string) TracerOption {
	return func(s *tracerSettings) { s.serviceName = name }
}

// WithServiceVersion はリソースに service.version を付ける。
func WithServiceVersion(v string) TracerOption {
	return func(s *tracerSettings) { s.serviceVersion = v }
}

// WithSpanExporter はOTLPの代わりに任意のエクスポーターを使う。
func WithSpanExporter(exp sdktrace.SpanExporter) TracerOption {
	return func(s *tracerSettings) { s.exporter = exp }
}

// InitTracer はトレーサープロバイダーを初期化し、グローバルに登録する。
// OTEL_ENABLED=false の場合は nil を返す。
func InitTracer(ctx context.Context, cfg *config.Config, opts ...TracerOption) (*sdktrace.TracerProvider, error) {
	if !cfg.OtelEnabled {
		return nil, nil
	}

	settings := tracerSettings{serviceName: cfg.OtelServiceName}
	for _, opt := range opts {
		opt(&settings)
	}

	exporter := settings.exporter
	if exporter == nil {
		var err error
		exporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.OtelEndpoint))
		if err != nil {
			return nil, err
		}
	}

	attrs := []attribute.KeyValue{semconv.ServiceName(settings.serviceName)}
	if settings.serviceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(settings.serviceVersion))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.OtelSamplingRate))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp, nil
}

// ShutdownTracer は未送信のスパンを送り出してプロバイダーを停止する。
// tp が nil なら何もしない。呼び出し元のコンテキストがキャンセル済みでも送信を試みる。
func ShutdownTracer(tp *sdktrace.TracerProvider) error {
	if tp == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), tracerShutdownTimeout)
	defer cancel()
	return tp.Shutdown(ctx)
}

// AnnotateOwner は現在のスパンに所有者IDを付ける。
func AnnotateOwner(ctx context.Context, ownerID string) {
	trace.SpanFromContext(ctx).SetAttributes(OwnerIDKey.String(ownerID))
}

// EndSpan はコマンド単位のスパンを結果とともに閉じる。
func EndSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
