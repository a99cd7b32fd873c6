package telemetry

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestSetupDisabledIsNoop(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	var buf bytes.Buffer

	shutdown, err := Setup(context.Background(), Config{Enabled: false}, &buf, logger)
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
	assert.Zero(t, buf.Len())
}

func TestSetupStdoutExportsSpans(t *testing.T) {
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	var buf bytes.Buffer

	shutdown, err := Setup(context.Background(), Config{
		Enabled:        true,
		Exporter:       "stdout",
		ServiceName:    "platformd",
		ServiceVersion: "test",
	}, &buf, logger)
	require.NoError(t, err)

	_, span := otel.Tracer("telemetry_test").Start(context.Background(), "engine.launch")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	out := buf.String()
	assert.Contains(t, out, `"Name":"engine.launch"`)
	assert.Contains(t, out, "platformd")
}
