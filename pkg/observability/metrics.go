package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricRecordsTotal       = "tracecore.records.total"
	metricRecordDuration     = "tracecore.record.duration.seconds"
	metricConflictsTotal     = "tracecore.conflicts.total"
	metricAllocationsTotal   = "tracecore.allocations.total"
	metricAllocCacheHits     = "tracecore.alloccache.hits.total"
	metricAllocCacheMisses   = "tracecore.alloccache.misses.total"
	metricRefMapSize         = "tracecore.refmap.size"
	metricActiveThreads      = "tracecore.threads.active"
	metricWriterBatchFlushes = "tracecore.writer.batch_flushes.total"
	metricBatchesDelivered   = "tracecore.manager.batches_delivered.total"
	metricBatchesDrained     = "tracecore.manager.batches_drained.total"

	attrRecordKind = "kind"
	attrAllocKind  = "kind"
	attrThreadID   = "thread_id"
)

// recordDurationBoundaries covers microsecond-scale record dispatch up to
// multi-millisecond worst cases from lock contention or batch flush stalls.
var recordDurationBoundaries = []float64{
	0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1,
}

// IngestMetrics holds the OTel instruments emitted while a trace is consumed.
type IngestMetrics struct {
	recordsTotal     metric.Int64Counter
	recordDuration   metric.Float64Histogram
	conflictsTotal   metric.Int64Counter
	allocationsTotal metric.Int64Counter
	allocCacheHits   metric.Int64Counter
	allocCacheMisses metric.Int64Counter
	refMapSize       metric.Int64UpDownCounter
	activeThreads    metric.Int64UpDownCounter
	batchFlushes     metric.Int64Counter
	batchesDelivered metric.Int64Counter
	batchesDrained   metric.Int64Counter
}

// NewIngestMetrics creates ingest metric instruments from the given meter.
func NewIngestMetrics(mt metric.Meter) (*IngestMetrics, error) {
	recordsTotal, err := mt.Int64Counter(metricRecordsTotal,
		metric.WithDescription("Total records consumed, by kind"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricRecordsTotal, err)
	}

	recordDuration, err := mt.Float64Histogram(metricRecordDuration,
		metric.WithDescription("Per-record dispatch duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(recordDurationBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricRecordDuration, err)
	}

	conflictsTotal, err := mt.Int64Counter(metricConflictsTotal,
		metric.WithDescription("Total conflicts emitted by the detector"),
		metric.WithUnit("{conflict}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricConflictsTotal, err)
	}

	allocationsTotal, err := mt.Int64Counter(metricAllocationsTotal,
		metric.WithDescription("Total allocation lifecycle events observed"),
		metric.WithUnit("{allocation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricAllocationsTotal, err)
	}

	allocCacheHits, err := mt.Int64Counter(metricAllocCacheHits,
		metric.WithDescription("Fingerprint correlation cache hits"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricAllocCacheHits, err)
	}

	allocCacheMisses, err := mt.Int64Counter(metricAllocCacheMisses,
		metric.WithDescription("Fingerprint correlation cache misses"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricAllocCacheMisses, err)
	}

	refMapSize, err := mt.Int64UpDownCounter(metricRefMapSize,
		metric.WithDescription("Entries currently held in the shared reference map"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricRefMapSize, err)
	}

	activeThreads, err := mt.Int64UpDownCounter(metricActiveThreads,
		metric.WithDescription("Number of thread consumers currently running"),
		metric.WithUnit("{thread}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricActiveThreads, err)
	}

	batchFlushes, err := mt.Int64Counter(metricWriterBatchFlushes,
		metric.WithDescription("Writer batch flushes committed"),
		metric.WithUnit("{flush}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricWriterBatchFlushes, err)
	}

	batchesDelivered, err := mt.Int64Counter(metricBatchesDelivered,
		metric.WithDescription("Record batches handed to a per-thread consumer goroutine"),
		metric.WithUnit("{batch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricBatchesDelivered, err)
	}

	batchesDrained, err := mt.Int64Counter(metricBatchesDrained,
		metric.WithDescription("Record batches fully consumed by a per-thread consumer goroutine"),
		metric.WithUnit("{batch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricBatchesDrained, err)
	}

	return &IngestMetrics{
		recordsTotal:     recordsTotal,
		recordDuration:   recordDuration,
		conflictsTotal:   conflictsTotal,
		allocationsTotal: allocationsTotal,
		allocCacheHits:   allocCacheHits,
		allocCacheMisses: allocCacheMisses,
		refMapSize:       refMapSize,
		activeThreads:    activeThreads,
		batchFlushes:     batchFlushes,
		batchesDelivered: batchesDelivered,
		batchesDrained:   batchesDrained,
	}, nil
}

// RecordDispatch records a single consumed record of the given kind.
// Safe to call on a nil receiver (no-op), so callers need not guard every
// call site when metrics are disabled.
func (im *IngestMetrics) RecordDispatch(ctx context.Context, kind string, duration time.Duration) {
	if im == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String(attrRecordKind, kind))
	im.recordsTotal.Add(ctx, 1, attrs)
	im.recordDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordConflict increments the conflict counter.
func (im *IngestMetrics) RecordConflict(ctx context.Context) {
	if im == nil {
		return
	}

	im.conflictsTotal.Add(ctx, 1)
}

// RecordAllocation records an allocation lifecycle event (alloc, free, or leak).
func (im *IngestMetrics) RecordAllocation(ctx context.Context, kind string) {
	if im == nil {
		return
	}

	im.allocationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrAllocKind, kind)))
}

// RecordAllocCacheLookup records a fingerprint correlation cache hit or miss.
func (im *IngestMetrics) RecordAllocCacheLookup(ctx context.Context, hit bool) {
	if im == nil {
		return
	}

	if hit {
		im.allocCacheHits.Add(ctx, 1)

		return
	}

	im.allocCacheMisses.Add(ctx, 1)
}

// SetRefMapSize adjusts the shared reference map size gauge by delta.
func (im *IngestMetrics) SetRefMapSize(ctx context.Context, delta int64) {
	if im == nil {
		return
	}

	im.refMapSize.Add(ctx, delta)
}

// ThreadStarted increments the active-thread gauge.
func (im *IngestMetrics) ThreadStarted(ctx context.Context) {
	if im == nil {
		return
	}

	im.activeThreads.Add(ctx, 1)
}

// ThreadStopped decrements the active-thread gauge.
func (im *IngestMetrics) ThreadStopped(ctx context.Context) {
	if im == nil {
		return
	}

	im.activeThreads.Add(ctx, -1)
}

// RecordBatchFlush increments the writer batch-flush counter.
func (im *IngestMetrics) RecordBatchFlush(ctx context.Context) {
	if im == nil {
		return
	}

	im.batchFlushes.Add(ctx, 1)
}

// BatchDelivered records that a record batch was handed to threadID's
// consumer goroutine.
func (im *IngestMetrics) BatchDelivered(ctx context.Context, threadID string) {
	if im == nil {
		return
	}

	im.batchesDelivered.Add(ctx, 1, metric.WithAttributes(attribute.String(attrThreadID, threadID)))
}

// BatchDrained records that threadID's consumer goroutine finished
// applying every record in a batch.
func (im *IngestMetrics) BatchDrained(ctx context.Context, threadID string) {
	if im == nil {
		return
	}

	im.batchesDrained.Add(ctx, 1, metric.WithAttributes(attribute.String(attrThreadID, threadID)))
}
