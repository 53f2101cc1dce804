// Package commands implements CLI command handlers for tracecore.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tracecore/tracecore/internal/bootstrap"
	"github.com/tracecore/tracecore/internal/manager"
	"github.com/tracecore/tracecore/internal/model"
	"github.com/tracecore/tracecore/internal/record"
	"github.com/tracecore/tracecore/internal/writer/sqlitestore"
	"github.com/tracecore/tracecore/pkg/observability"
)

const (
	defaultBatchSize = 100_000

	// traceFileSuffix marks a per-thread trace file within --trace-dir;
	// the stem before it, parsed as an int64, is the thread id the
	// front-end assigned (the wire format itself never repeats it on
	// Call/CallEnter/Ret/Tag/MemRef records, only on the Alloc* ones).
	traceFileSuffix = ".trace"
)

// ErrNoTraceFiles is returned when --trace-dir contains no *.trace files.
var ErrNoTraceFiles = errors.New("no trace files found")

type ingestExecutor func(ctx context.Context, ic *ingestCommand) error

// ingestCommand holds the flags and injected dependencies for `tracecore
// ingest`, following the teacher's pattern of a struct-bound RunE plus a
// swappable executor for tests.
type ingestCommand struct {
	dbPath      string
	sourcePath  string
	filterPath  string
	symbolPath  string
	accessPath  string
	traceDir    string
	batchSize   int
	workers     int
	metricsAddr string

	exec ingestExecutor
}

// NewIngestCommand builds the `tracecore ingest` command.
func NewIngestCommand() *cobra.Command {
	ic := &ingestCommand{exec: runIngest}

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest a binary-instrumentation trace into a SQLite store",
		RunE:  ic.run,
	}

	cmd.Flags().StringVar(&ic.dbPath, "db", "data.db", "Output SQLite database path")
	cmd.Flags().StringVar(&ic.sourcePath, "source", "source.yaml", "Tag-source config path")
	cmd.Flags().StringVar(&ic.filterPath, "filter", "filter.yaml", "Address-filter config path")
	cmd.Flags().StringVar(&ic.symbolPath, "symbols", "", "Symbol-table config path (image/file/function per FunctionID)")
	cmd.Flags().StringVar(&ic.accessPath, "access-table", "", "Access-details table path (resolves MemRef handles)")
	cmd.Flags().StringVar(&ic.traceDir, "trace-dir", "traces", "Directory of per-thread *.trace record files")
	cmd.Flags().IntVar(&ic.batchSize, "batch-size", defaultBatchSize, "Records per dispatch batch")
	cmd.Flags().IntVar(&ic.workers, "workers", 0, "Trace files read concurrently (0 = CPU count)")
	cmd.Flags().StringVar(&ic.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics at this address (empty disables)")

	return cmd
}

func (ic *ingestCommand) run(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return ic.exec(ctx, ic)
}

// runIngest is the default executor: wires observability, loads config,
// opens the store, drains every per-thread trace file concurrently
// through the manager, and flushes on completion.
func runIngest(ctx context.Context, ic *ingestCommand) error {
	obsCfg := observability.DefaultConfig()
	obsCfg.PrometheusAddr = ic.metricsAddr

	providers, err := observability.Init(obsCfg)
	if err != nil {
		return fmt.Errorf("ingest: init observability: %w", err)
	}
	defer func() { _ = providers.Shutdown(context.Background()) }()

	metrics, err := observability.NewIngestMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("ingest: init metrics: %w", err)
	}

	files, err := traceFiles(ic.traceDir)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	sink, err := sqlitestore.Open(ic.dbPath)
	if err != nil {
		return fmt.Errorf("ingest: open store: %w", err)
	}
	defer sink.Close()

	if err := sink.Begin(ctx); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	result, err := bootstrap.Load(ctx, sink, ic.sourcePath, ic.filterPath, ic.symbolPath, ic.accessPath)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	mgr := manager.New(manager.Config{
		Sink:                     sink,
		Index:                    result.Index,
		Logger:                   providers.Logger,
		Metrics:                  metrics,
		AllowFunction:            result.AllowFunction,
		IgnoreAccess:             result.IgnoreAccess,
		ProcessCallsByDefault:    result.Flags.ProcessCallsByDefault,
		ProcessAccessesByDefault: result.Flags.ProcessAccessesByDefault,
	})

	stats, err := drainTraceFiles(ctx, mgr, result, files, ic.workers, ic.batchSize)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	if err := mgr.StopAll(ctx, time.Now().UnixNano(), stats.lastTSC()); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	if err := sink.Commit(ctx); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	printSummary(stats, len(files))

	return nil
}

// traceFiles lists every *.trace file under dir, sorted by name for
// reproducible ordering.
func traceFiles(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+traceFileSuffix))
	if err != nil {
		return nil, fmt.Errorf("glob trace dir: %w", err)
	}

	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoTraceFiles, dir)
	}

	return matches, nil
}

// runStats accumulates counts across all concurrently drained trace
// files for the end-of-run summary and StopAll's end-tsc anchor.
type runStats struct {
	mu      sync.Mutex
	records int64
	tsc     uint64
}

func (s *runStats) observe(n int, tsc uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records += int64(n)

	if tsc > s.tsc {
		s.tsc = tsc
	}
}

func (s *runStats) lastTSC() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.tsc
}

// drainTraceFiles reads every file concurrently (bounded by workers),
// dispatching batches of up to batchSize records to the thread id its
// filename names.
func drainTraceFiles(
	ctx context.Context,
	mgr *manager.Manager,
	result *bootstrap.Result,
	files []string,
	workers, batchSize int,
) (*runStats, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	stats := &runStats{}
	sem := make(chan struct{}, workers)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	for _, path := range files {
		threadID, err := threadIDFromFilename(path)
		if err != nil {
			return nil, err
		}

		wg.Add(1)

		go func(path string, threadID model.ThreadID) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			if err := drainOneFile(ctx, mgr, result, path, threadID, batchSize, stats); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(path, threadID)
	}

	wg.Wait()

	return stats, firstErr
}

func threadIDFromFilename(path string) (model.ThreadID, error) {
	stem := strings.TrimSuffix(filepath.Base(path), traceFileSuffix)

	id, err := strconv.ParseInt(stem, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("trace file %q: thread id not parseable: %w", path, err)
	}

	return model.ThreadID(id), nil
}

// drainOneFile reads one thread's trace file to EOF, batching records
// and dispatching each batch through mgr. The first record's wall-clock
// arrival and tsc anchor the thread's start; the front end offers no
// better anchor per-thread since only the process as a whole anchors
// its end (StopAll).
func drainOneFile(
	ctx context.Context,
	mgr *manager.Manager,
	result *bootstrap.Result,
	path string,
	threadID model.ThreadID,
	batchSize int,
	stats *runStats,
) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %q: %w", path, err)
	}
	defer f.Close()

	startTime := time.Now().UnixNano()

	var (
		startTSC uint64
		started  bool
		batch    = make([]record.Record, 0, batchSize)
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}

		if err := mgr.DispatchBatch(ctx, threadID, batch, startTime, startTSC); err != nil {
			return err
		}

		stats.observe(len(batch), batch[len(batch)-1].TSC)
		batch = make([]record.Record, 0, batchSize)

		return nil
	}

	for {
		rec, err := record.Decode(f, result.ResolveAccess)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}

			return fmt.Errorf("decode %q: %w", path, err)
		}

		if !started {
			startTSC = rec.TSC
			started = true
		}

		batch = append(batch, rec)

		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return fmt.Errorf("dispatch %q: %w", path, err)
			}
		}
	}

	return flush()
}

func printSummary(stats *runStats, fileCount int) {
	green := color.New(color.FgGreen)
	green.Fprintf(os.Stdout, "ingest complete: %s records across %s trace files\n",
		humanize.Comma(stats.records), humanize.Comma(int64(fileCount)))
}
