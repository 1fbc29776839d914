package telemetry

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/aws-agent/verity/pkg/config"
)

func TestInit_NilContext(t *testing.T) {
	_, err := Init(nil, config.TracingConfig{Exporter: "none"}, Options{})
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestInit_None(t *testing.T) {
	shutdown, err := Init(context.Background(), config.TracingConfig{Exporter: "none"}, Options{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_UnknownExporter(t *testing.T) {
	shutdown, err := Init(context.Background(), config.TracingConfig{Exporter: "zipkin"}, Options{})
	assert.ErrorIs(t, err, ErrUnknownExporter)
	assert.NotNil(t, shutdown)
}

func TestInit_StdoutWritesSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := Init(context.Background(),
		config.TracingConfig{Exporter: "stdout", SampleRatio: 1},
		Options{ServiceName: "verity-test", Writer: &buf})
	require.NoError(t, err)

	_, span := StartSpan(context.Background(), "evaluate", attribute.String("mode", "light"))
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), `"Name":"evaluate"`)
	assert.Contains(t, buf.String(), "verity-test")
}

func TestRecordError(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	_, span := tp.Tracer(TracerName).Start(context.Background(), "regenerate")
	RecordError(span, nil)
	RecordError(span, errors.New("upstream down"))
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "upstream down", ended[0].Status().Description)
	assert.Len(t, ended[0].Events(), 1)
}
