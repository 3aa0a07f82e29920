package infra

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"wallet-vault-service/config"
)

func TestInitTracer_Disabled(t *testing.T) {
	tp, err := InitTracer(context.Background(), &config.Config{OtelEnabled: false})
	require.NoError(t, err)
	require.Nil(t, tp)
	require.NoError(t, ShutdownTracer(tp))
}

func TestInitTracer_ClientResourceAndOwner(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	exp := tracetest.NewInMemoryExporter()
	cfg := &config.Config{OtelEnabled: true, OtelServiceName: "wallet-vault-service", OtelSamplingRate: 1.0}
	tp, err := InitTracer(context.Background(), cfg,
		WithServiceName("vaultctl"),
		WithServiceVersion("1.2.3"),
		WithSpanExporter(exp),
	)
	require.NoError(t, err)
	require.NotNil(t, tp)

	ctx, span := otel.Tracer("test").Start(context.Background(), "vaultctl add")
	AnnotateOwner(ctx, "owner-abc")
	EndSpan(span, errors.New("registry unreachable"))
	require.NoError(t, tp.ForceFlush(context.Background()))
	t.Cleanup(func() { _ = ShutdownTracer(tp) })

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	got := spans[0]

	res := map[attribute.Key]string{}
	for _, kv := range got.Resource.Attributes() {
		res[kv.Key] = kv.Value.Emit()
	}
	require.Equal(t, "vaultctl", res["service.name"])
	require.Equal(t, "1.2.3", res["service.version"])
	require.Contains(t, got.Attributes, OwnerIDKey.String("owner-abc"))
	require.Equal(t, codes.Error, got.Status.Code)
}

func TestInitTracer_DefaultsToConfiguredServiceName(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	exp := tracetest.NewInMemoryExporter()
	cfg := &config.Config{OtelEnabled: true, OtelServiceName: "pointer-registry", OtelSamplingRate: 1.0}
	tp, err := InitTracer(context.Background(), cfg, WithSpanExporter(exp))
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "op")
	EndSpan(span, context.Canceled)
	require.NoError(t, tp.ForceFlush(context.Background()))
	t.Cleanup(func() { _ = ShutdownTracer(tp) })

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	name, ok := spans[0].Resource.Set().Value("service.name")
	require.True(t, ok)
	require.Equal(t, "pointer-registry", name.AsString())
	require.Equal(t, codes.Unset, spans[0].Status.Code)
}
