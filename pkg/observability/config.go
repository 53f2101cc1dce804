package observability

import "log/slog"

// defaultShutdownTimeoutSec bounds how long Shutdown waits for exporters to flush.
const defaultShutdownTimeoutSec = 5

// AppMode distinguishes the process role for resource attribution.
type AppMode string

const (
	// ModeIngest is the batch trace-ingestion CLI.
	ModeIngest AppMode = "ingest"

	// ModeWorker is a per-thread consumer worker reporting through a shared meter.
	ModeWorker AppMode = "worker"
)

// Config controls observability provider construction.
type Config struct {
	// ServiceName identifies this binary in traces, metrics, and logs.
	ServiceName string

	// ServiceVersion is the build version, attached as a resource attribute.
	ServiceVersion string

	// Environment is the deployment environment (e.g. "prod", "staging").
	Environment string

	// Mode classifies the process role.
	Mode AppMode

	// LogLevel is the minimum slog level emitted.
	LogLevel slog.Level

	// LogJSON selects JSON log encoding over text when true.
	LogJSON bool

	// PrometheusAddr, if non-empty, serves every metric instrument in
	// Prometheus exposition format at http://<addr>/metrics instead of
	// pushing over OTLP; takes priority over OTLPEndpoint for metrics
	// specifically (traces still use OTLPEndpoint).
	PrometheusAddr string

	// OTLPEndpoint is the OTLP/gRPC collector endpoint. Empty disables export
	// and falls back to no-op tracer/meter providers.
	OTLPEndpoint string

	// OTLPInsecure disables TLS on the OTLP connection.
	OTLPInsecure bool

	// OTLPHeaders are additional headers sent with every OTLP export.
	OTLPHeaders map[string]string

	// SampleRatio is the trace sampling ratio used when OTEL_TRACES_SAMPLER
	// is not set in the environment. Zero defaults to always-on.
	SampleRatio float64

	// ShutdownTimeoutSec bounds the Shutdown flush deadline.
	ShutdownTimeoutSec int
}

// DefaultConfig returns sensible defaults for the ingest CLI.
func DefaultConfig() Config {
	return Config{
		ServiceName:        "tracecore",
		Mode:               ModeIngest,
		LogLevel:           slog.LevelInfo,
		ShutdownTimeoutSec: defaultShutdownTimeoutSec,
	}
}
