package tracing

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpanRecordsStatus(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	require.NoError(t, InitWithExporter("taskpump-test", "test", exporter))
	t.Cleanup(func() { _ = Shutdown(context.Background()) })

	ctx, span := StartSpan(context.Background(), "pump")
	span.SetInt("claimed", 2)
	span.SetString("stop_reason", "queue_empty")
	_, child := StartSpan(ctx, "task.execute")
	child.End(errors.New("boom"))
	span.End(nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)

	byName := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range spans.Snapshots() {
		byName[s.Name()] = s
	}
	assert.Equal(t, codes.Error, byName["task.execute"].Status().Code)
	assert.Equal(t, codes.Ok, byName["pump"].Status().Code)
	assert.Equal(t, byName["pump"].SpanContext().SpanID(), byName["task.execute"].Parent().SpanID())
}

func TestNilSpanIsSafe(t *testing.T) {
	var s *Span
	assert.NotPanics(t, func() {
		s.SetInt("k", 1)
		s.SetString("k", "v")
		s.End(nil)
	})
}

func TestInitWithFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	spansFile := filepath.Join(dir, "spans.json")
	otherFile := filepath.Join(dir, "other.json")

	require.NoError(t, Init("taskpump-test", "test", spansFile))
	_, span := StartSpan(ctx, "task.pump")
	span.End(nil)

	require.NoError(t, Init("taskpump-test", "test", otherFile), "second init keeps the running provider")
	_, err := os.Stat(otherFile)
	assert.True(t, os.IsNotExist(err), "second init opens nothing")

	require.NoError(t, Shutdown(ctx))
	assert.Nil(t, output, "output file is released")
	assert.NoError(t, Shutdown(ctx))

	data, err := os.ReadFile(spansFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"task.pump"`, "span written before shutdown survives")

	require.NoError(t, Init("taskpump-test", "test", otherFile), "init works again after shutdown")
	require.NoError(t, Shutdown(ctx))
	_, err = os.Stat(otherFile)
	assert.NoError(t, err)
}
