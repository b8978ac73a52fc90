// Package telemetry provides the deployer's diagnostic instrumentation.
//
// Three concerns are covered, each optional and independent of the
// operator-facing progress output:
//
//  1. Structured logging with zerolog, written to standard error.
//  2. Tracing with OpenTelemetry: one span per run and per stage, exported
//     to stdout (pretty JSON) or to an OTLP gRPC collector.
//  3. Prometheus metrics, written to a node exporter textfile when a run
//     finishes.
//
// # Logging
//
//	logger := telemetry.NewLogger(telemetry.LoggingConfig{Level: "debug"})
//	log := logger.NewComponentLogger("stages")
//	log.Debug().Str("stage", "fetch").Msg("cloning")
//
// # Tracing
//
//	tracer, err := telemetry.NewTracer(ctx, telemetry.TracingConfig{Exporter: "stdout"}, "deployer", version)
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(context.Background())
//	pipeline := engine.NewPipeline(stages, engine.WithTracer(tracer.Tracer()))
//
// # Metrics
//
// The deployer is not a daemon, so there is no scrape endpoint. The
// MetricsObserver updates the registry from the finished run and writes it
// with prometheus.WriteToTextfile. Exposed metrics:
//
//   - deployer_runs_total{status}
//   - deployer_run_duration_seconds
//   - deployer_stage_duration_seconds{stage}
//   - deployer_stage_status{stage,status}
//   - deployer_stage_changed{stage}
//   - deployer_last_success_timestamp_seconds
//   - deployer_last_run_timestamp_seconds
package telemetry
