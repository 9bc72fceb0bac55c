package otelcol

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/fx/fxtest"

	"mediaconv/pkg/config"
)

func TestProvideTraceExportsSpans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	cfg := &config.Config{AppName: "mediaconv", AppEnv: "test"}

	tp := ProvideTrace(exp, trace.WithResource(NewResource(cfg)))
	_, span := tp.Tracer("test").Start(context.Background(), "convert")
	span.End()

	require.NoError(t, tp.ForceFlush(context.Background()))
	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	require.Equal(t, "convert", spans[0].Name)

	var service string
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == "service.name" {
			service = kv.Value.AsString()
		}
	}
	require.Equal(t, "mediaconv", service)
	require.NoError(t, tp.Shutdown(context.Background()))
}

func TestRegisterTracingDisabledWithoutAddr(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	require.NoError(t, registerTracing(lc, &config.Config{}))
	lc.RequireStart().RequireStop()
}
