package observability_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	noopmetric "go.opentelemetry.io/otel/metric/noop"

	"github.com/tracecore/tracecore/pkg/observability"
)

func TestNewIngestMetrics_CreatesAllInstruments(t *testing.T) {
	t.Parallel()

	meter := noopmetric.NewMeterProvider().Meter("test")

	metrics, err := observability.NewIngestMetrics(meter)
	require.NoError(t, err)
	require.NotNil(t, metrics)
}

func TestIngestMetrics_NilReceiverIsNoop(t *testing.T) {
	t.Parallel()

	var metrics *observability.IngestMetrics

	ctx := context.Background()

	// All recording methods must tolerate a nil *IngestMetrics so callers
	// can skip constructing metrics when disabled.
	metrics.RecordDispatch(ctx, "tag", time.Millisecond)
	metrics.RecordConflict(ctx)
	metrics.RecordAllocation(ctx, "alloc")
	metrics.RecordAllocCacheLookup(ctx, true)
	metrics.SetRefMapSize(ctx, 1)
	metrics.ThreadStarted(ctx)
	metrics.ThreadStopped(ctx)
	metrics.RecordBatchFlush(ctx)
}

func TestIngestMetrics_RecordingDoesNotPanic(t *testing.T) {
	t.Parallel()

	meter := noopmetric.NewMeterProvider().Meter("test")

	metrics, err := observability.NewIngestMetrics(meter)
	require.NoError(t, err)

	ctx := context.Background()
	metrics.RecordDispatch(ctx, "mem_ref", 150*time.Microsecond)
	metrics.RecordConflict(ctx)
	metrics.RecordAllocation(ctx, "free")
	metrics.RecordAllocCacheLookup(ctx, false)
	metrics.SetRefMapSize(ctx, 42)
	metrics.SetRefMapSize(ctx, -1)
	metrics.ThreadStarted(ctx)
	metrics.ThreadStopped(ctx)
	metrics.RecordBatchFlush(ctx)
}
