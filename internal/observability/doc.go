// Package observability provides monitoring and debugging capabilities for
// sweep execution through metrics, structured logging, and distributed
// tracing.
//
// # Overview
//
// The observability package implements the three pillars of observability:
//
//  1. Metrics - Quantitative measurements using Prometheus
//  2. Logging - Structured logs with run and sweep correlation
//  3. Tracing - Per-attempt and per-decision tracing with OpenTelemetry
//
// A parameter sweep can run for hours and launch hundreds of engine
// processes. The instrumentation here answers the questions that come up
// while one is in flight: how many runs are left, which scenarios are
// burning retries, and whether decision serving is keeping up with the
// engines.
//
// # Metrics
//
// Metrics are implemented using Prometheus client libraries and track:
//   - Terminal run outcomes and retries per scenario variant
//   - Engine wall-clock durations
//   - Decision traffic per strategy and served action
//   - Decision failures by reason
//   - Dataset growth
//
// Example usage:
//
//	metrics := observability.NewMetrics()
//
//	// Track a finished run
//	metrics.RunFinished("staff-support", "succeeded", 93.5)
//
//	// Track decision serving
//	start := time.Now()
//	// ... serve decision ...
//	metrics.DecisionServed("help-matrix", "ask-help", time.Since(start).Seconds())
//
// The gateway exposes all registered metrics at /metrics alongside the
// decision endpoints.
//
// # Logging
//
// Logging is built on Go's slog package with enhancements for:
//   - Automatic sweep, run, and scenario correlation from context
//   - JSON output for unattended sweeps, text for development
//   - Configurable log levels
//
// Example usage:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:  "info",
//	    Format: "json",
//	})
//	ctx = observability.AddRunID(ctx, "staff-support_0")
//	logger.Info(ctx, "Launching engine", "attempt", 1)
//
// # Tracing
//
// Tracing uses OpenTelemetry with OTLP export. Each engine attempt and
// each decision callback gets its own span, so a slow or flapping run can
// be followed from launch to terminal state. With no collector endpoint
// configured the tracer is a no-op and adds no overhead.
//
// Example usage:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName: "egress",
//	    Endpoint:    os.Getenv("OTEL_ENDPOINT"),
//	})
//	defer shutdown(context.Background())
//
//	ctx, span := tracer.TraceRunAttempt(ctx, runID, scenario, attempt)
//	defer span.End()
package observability
