package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/deployer/pkg/config"
	"github.com/openfroyo/deployer/pkg/console"
	"github.com/openfroyo/deployer/pkg/engine"
	"github.com/openfroyo/deployer/pkg/hostexec"
	"github.com/openfroyo/deployer/pkg/hostfs"
	"github.com/openfroyo/deployer/pkg/policy"
	"github.com/openfroyo/deployer/pkg/stages"
	"github.com/openfroyo/deployer/pkg/stores"
	"github.com/openfroyo/deployer/pkg/telemetry"
)

const serviceName = "deployer"

// options holds the root command's flags.
type options struct {
	configPath string
	logLevel   string
	logFormat  string
	noColor    bool
	version    string
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	opts := &options{version: version}

	rootCmd := &cobra.Command{
		Use:   "deployer",
		Short: "Provision the discharge summary application on this host",
		Long: `deployer provisions a single Linux host to serve the discharge summary
web application behind nginx.

Each run executes the same stages in order and stops at the first failure:
  1. Check for root privileges
  2. Install system packages
  3. Fetch the application code (the application directory is replaced)
  4. Build the Python environment
  5. Provision the secrets file (an existing file is never overwritten)
  6. Register and restart the systemd service
  7. Install and validate the nginx site
  8. Configure the firewall

Re-running is safe and converges the host to the same state.`,
		Example: `  # Deploy with the built-in defaults
  sudo deployer

  # Deploy with a custom configuration
  sudo deployer --config /etc/deployer/deployer.yaml`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Failures below are rendered by the progress reporter.
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true

			opts.resolve(cmd)
			return deploy(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	rootCmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "config file path (YAML or CUE)")
	rootCmd.Flags().StringVar(&opts.logLevel, "log-level", "", "diagnostic log level (trace, debug, info, warn, error)")
	rootCmd.Flags().StringVar(&opts.logFormat, "log-format", "", "diagnostic log format (console, json)")
	rootCmd.Flags().BoolVar(&opts.noColor, "no-color", false, "disable coloured output")

	return rootCmd
}

// resolve fills in flag values from the environment when they were not
// given on the command line. An unrecognised LOG_LEVEL is ignored; an
// unrecognised --log-level is left for validation to reject.
func (o *options) resolve(cmd *cobra.Command) {
	o.logLevel = normalizeLevel(o.logLevel)
	if !cmd.Flags().Changed("log-level") {
		o.logLevel = ""
		if env := normalizeLevel(os.Getenv("LOG_LEVEL")); knownLevels[env] {
			o.logLevel = env
		} else if env != "" {
			log.Warn().Str("LOG_LEVEL", env).Msg("Ignoring unknown log level")
		}
	}
	if !cmd.Flags().Changed("no-color") && os.Getenv("NO_COLOR") != "" {
		o.noColor = true
	}
}

var knownLevels = map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}

// normalizeLevel lowercases a level name and maps "warning" to "warn".
func normalizeLevel(level string) string {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		return "warn"
	}
	return level
}

// tracingConfig returns the trace export settings. Unprivileged runs never
// get past the privilege check, so they export nothing and create no files.
func tracingConfig(cfg *config.Config, privileged bool) telemetry.TracingConfig {
	if !privileged {
		return telemetry.TracingConfig{Exporter: "none"}
	}
	return telemetry.TracingConfig{
		Exporter: cfg.Telemetry.TraceExporter,
		Endpoint: cfg.Telemetry.TraceEndpoint,
		Insecure: cfg.Telemetry.TraceInsecure,
	}
}

// apply overrides configuration values with explicit options.
func (o *options) apply(cfg *config.Config) {
	if o.logLevel != "" {
		cfg.Telemetry.LogLevel = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Telemetry.LogFormat = o.logFormat
	}
}

// deploy loads the configuration, runs the preflight checks and executes the
// provisioning pipeline.
func deploy(ctx context.Context, opts *options, out io.Writer) error {
	progress := console.NewProgress(out, opts.noColor)
	fail := func(err error) error {
		fmt.Fprintln(out, progress.FormatError(err))
		return err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fail(engine.NewError(engine.KindConfig, "failed to load deployer configuration", err).
			WithHint("Check the file passed with --config."))
	}
	opts.apply(cfg)
	if err := config.Validate(cfg); err != nil {
		return fail(engine.NewError(engine.KindConfig, "invalid option", err))
	}

	zerolog.SetGlobalLevel(telemetry.ParseLevel(cfg.Telemetry.LogLevel))
	runID := uuid.NewString()
	logger := telemetry.NewLogger(telemetry.LoggingConfig{
		Level:   cfg.Telemetry.LogLevel,
		Format:  cfg.Telemetry.LogFormat,
		NoColor: opts.noColor,
	}).WithRunID(runID)
	cliLog := logger.NewComponentLogger("cli")
	privileged := os.Geteuid() == 0

	policies, err := policy.NewEngine(ctx, logger.Zerolog())
	if err != nil {
		return fail(engine.NewError(engine.KindConfig, "failed to load preflight policies", err))
	}
	warnings, err := policies.Check(ctx, cfg)
	for _, w := range warnings {
		fmt.Fprintf(out, "Policy warning: %s\n", w.Message)
	}
	if err != nil {
		return fail(err)
	}

	tracer, err := telemetry.NewTracer(ctx, tracingConfig(cfg, privileged), serviceName, opts.version)
	if err != nil {
		return fail(engine.NewError(engine.KindConfig, "failed to set up tracing", err))
	}
	defer func() {
		if err := tracer.Shutdown(context.WithoutCancel(ctx)); err != nil {
			cliLog.Warn().Err(err).Msg("Failed to flush traces")
		}
	}()

	fs := hostfs.New(cfg.Root)
	deps := stages.Deps{
		Config: cfg,
		Runner: hostexec.NewLocalRunner(logger.NewComponentLogger("hostexec")),
		FS:     fs,
		Logger: logger.Zerolog(),
		Out:    out,
	}

	pipelineOpts := []engine.Option{
		engine.WithObserver(progress),
		engine.WithTracer(tracer.Tracer()),
		engine.WithLogger(logger.Zerolog()),
		engine.WithRunID(runID),
	}

	if journal := openJournal(ctx, cfg, fs, privileged, cliLog); journal != nil {
		defer journal.Close()
		deps.History = journal
		pipelineOpts = append(pipelineOpts,
			engine.WithObserver(stores.NewJournalObserver(journal, stages.NameGuard, logger.Zerolog())))
	}

	if cfg.Telemetry.MetricsTextfile != "" {
		pipelineOpts = append(pipelineOpts, engine.WithObserver(telemetry.NewMetricsObserver(
			telemetry.NewMetrics(), fs.Path(cfg.Telemetry.MetricsTextfile), stages.NameGuard, logger.Zerolog())))
	}

	numbered, report := stages.Build(deps)
	pipelineOpts = append(pipelineOpts, engine.WithFinal(report))

	run, err := engine.NewPipeline(numbered, pipelineOpts...).Execute(ctx)
	if run != nil {
		cliLog.Debug().Str("status", string(run.Status)).Msg("Run finished")
	}
	return err
}

// openJournal opens the run journal. It returns nil when the journal is
// disabled, when not running as root (the privilege check aborts the run
// before anything would be recorded), or when the database cannot be opened.
func openJournal(ctx context.Context, cfg *config.Config, fs *hostfs.FS, privileged bool, logger zerolog.Logger) *stores.Journal {
	if !cfg.Journal.Enabled || !privileged {
		return nil
	}
	journal, err := stores.Open(ctx, stores.Config{Path: fs.Path(cfg.Journal.Path)})
	if err == nil {
		if err = journal.HealthCheck(ctx); err != nil {
			journal.Close()
		}
	}
	if err != nil {
		logger.Warn().Err(err).Str("path", cfg.Journal.Path).Msg("Run journal unavailable, continuing without history")
		return nil
	}
	return journal
}
