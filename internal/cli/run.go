package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/drblury/vuflow/internal/runtime/compiler"
	"github.com/drblury/vuflow/internal/runtime/config"
	"github.com/drblury/vuflow/internal/runtime/events"
	"github.com/drblury/vuflow/internal/runtime/logging"
	"github.com/drblury/vuflow/internal/runtime/processors"
	"github.com/drblury/vuflow/internal/runtime/responder"
	"github.com/drblury/vuflow/internal/runtime/runner"
	"github.com/drblury/vuflow/transport"
	"github.com/drblury/vuflow/transport/channel"
	_ "github.com/drblury/vuflow/transport/transports"
)

type runOptions struct {
	vus       int
	target    string
	transport string
	noColor   bool
	echo      []string
	logLevel  string
	logFormat string
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Run a scenario file",
		Long: `Run the scenario of a run file for the configured number of virtual users.

  vuflow run chat.yaml --vus 50 --target nats://localhost:4222

With the in-memory channel transport, --echo starts a responder that answers
every request published on the given topics with its own params:

  vuflow run chat.yaml --echo rooms`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.logLevel, _ = cmd.Flags().GetString("log-level")
			opts.logFormat, _ = cmd.Flags().GetString("log-format")
			return runFile(cmd, args[0], opts)
		},
	}

	cmd.Flags().IntVar(&opts.vus, "vus", 0, "number of virtual users (overrides the file)")
	cmd.Flags().StringVar(&opts.target, "target", "", "broker address (overrides the file)")
	cmd.Flags().StringVar(&opts.transport, "transport", "", "pub/sub system (overrides the file)")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	cmd.Flags().StringSliceVar(&opts.echo, "echo", nil, "topics answered by an in-process echo responder (channel transport only)")
	return cmd
}

func (o *runOptions) apply(cfg *config.Config) {
	if o.vus > 0 {
		cfg.VUs = o.vus
	}
	if o.target != "" {
		cfg.Target = o.target
	}
	if o.transport != "" {
		cfg.PubSubSystem = o.transport
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.logFormat != "" {
		cfg.LogFormat = o.logFormat
	}
}

func runFile(cmd *cobra.Command, path string, opts *runOptions) error {
	doc, err := config.Load(path)
	if err != nil {
		return err
	}
	cfg := &doc.Config
	opts.apply(cfg)
	if err := config.ValidateConfig(cfg); err != nil {
		return err
	}
	if len(opts.echo) > 0 && cfg.PubSubSystem != channel.TransportName {
		return fmt.Errorf("--echo needs the %s transport, got %q", channel.TransportName, cfg.PubSubSystem)
	}

	logger, err := logging.New(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	logger.Debug("Loaded run file", logging.LogFields{"path": path, "config": cfg.String()})

	recorder := events.NewRecorder()
	sinks := []events.Sink{recorder, events.NewLogSink(logger)}
	if cfg.MetricsEnabled {
		metrics, err := startMetrics(cfg.MetricsPort, logger)
		if err != nil {
			return err
		}
		defer metrics.Close()
		sinks = append(sinks, metrics.sink)
	}
	sink := events.Multi(sinks...)

	reg := processors.NewRegistry()
	processors.RegisterBuiltins(reg)

	pipeline, err := compiler.Compile(doc.Scenario, reg, compiler.Options{
		DefaultThink:  cfg.DefaultThink,
		AckTimeout:    cfg.AckTimeout,
		LoopValueName: cfg.LoopValueName,
		LogWriter:     cmd.OutOrStdout(),
		Sink:          sink,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("compile scenario: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.PubSubSystem == channel.TransportName {
		defer channel.Shutdown()
	}
	if len(opts.echo) > 0 {
		echo, err := startEcho(ctx, cfg, opts.echo, logger)
		if err != nil {
			return err
		}
		defer echo.Close()
	}

	logger.Info("Starting run", logging.LogFields{
		"scenario":  doc.Scenario.Name,
		"transport": cfg.PubSubSystem,
		"vus":       cfg.VUs,
	})
	summary := runner.New(cfg, pipeline, runner.Dependencies{Sink: sink, Logger: logger}).Run(ctx)

	printer := newSummaryPrinter(cmd.OutOrStdout(), opts.noColor)
	printer.Print(doc.Scenario.Name, summary, recorder.Snapshot())

	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d virtual users failed", summary.Failed, len(summary.Results))
	}
	if ctx.Err() != nil {
		return fmt.Errorf("run interrupted: %d virtual users skipped", summary.Skipped)
	}
	return nil
}

func startEcho(ctx context.Context, cfg *config.Config, topics []string, logger logging.ServiceLogger) (*transport.Client, error) {
	conn, err := transport.Dial(ctx, nil, cfg, logging.NewWatermillAdapter(logger), nil)
	if err != nil {
		return nil, fmt.Errorf("start echo responder: %w", err)
	}
	echo := responder.New(conn, responder.Echo, logger.With(logging.LogFields{"component": "echo"}))
	if err := echo.Listen(ctx, topics...); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("start echo responder: %w", err)
	}
	logger.Info("Echo responder listening", logging.LogFields{"topics": strings.Join(topics, ",")})
	return conn, nil
}
