package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/petal-labs/digestflow/config"
	"github.com/petal-labs/digestflow/llmprovider"
	flowotel "github.com/petal-labs/digestflow/otel"
	"github.com/petal-labs/digestflow/pipeline"
	"github.com/petal-labs/digestflow/runtime"
	"github.com/petal-labs/digestflow/server"
)

// NewServeCmd creates the "serve" subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the digest HTTP server",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	cmd.Flags().String("config", "", "Path to digestflow.yaml (default: discovery order)")
	cmd.Flags().String("addr", "", "Listen address, e.g. :8080")
	cmd.Flags().String("mailbox", "", "Path to the mailbox JSON file")
	cmd.Flags().String("provider", "", "LLM provider: anthropic | openai | ollama")
	cmd.Flags().String("model", "", "Model identifier")
	cmd.Flags().String("store-path", "", "Path to the SQLite run history database")
	cmd.Flags().String("schedule", "", "Cron expression (UTC) for unattended runs")
	cmd.Flags().Duration("read-timeout", 30*time.Second, "HTTP read timeout")
	cmd.Flags().Duration("write-timeout", 10*time.Minute, "HTTP write timeout")
	cmd.Flags().Int64("max-body", 1<<20, "Max request body size in bytes")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyStringFlag(cmd, "addr", &cfg.Server.Addr)
	applyStringFlag(cmd, "mailbox", &cfg.Mailbox.Path)
	applyStringFlag(cmd, "provider", &cfg.Provider.Name)
	applyStringFlag(cmd, "model", &cfg.Provider.Model)
	applyStringFlag(cmd, "store-path", &cfg.Server.StorePath)
	applyStringFlag(cmd, "schedule", &cfg.Server.Schedule)
	readTimeout, _ := cmd.Flags().GetDuration("read-timeout")
	writeTimeout, _ := cmd.Flags().GetDuration("write-timeout")
	maxBody, _ := cmd.Flags().GetInt64("max-body")

	logger := buildLogger(cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events, shutdownTelemetry, err := setupTelemetry(ctx, cfg.Telemetry, logger)
	if err != nil {
		return exitError(exitRuntime, "initializing telemetry: %v", err)
	}
	defer shutdownTelemetry()

	client, err := llmprovider.NewClient(cfg.Provider.Name, cfg.Provider.APIKey)
	if err != nil {
		return exitError(exitProvider, "creating %s client: %v", cfg.Provider.Name, err)
	}

	p, err := pipeline.New(pipeline.Config{
		Source:         &pipeline.FileSource{Path: cfg.Mailbox.Path},
		Client:         client,
		Model:          cfg.Provider.Model,
		PlannerTimeout: cfg.Pipeline.PlannerTimeout.Std(),
		MaxIterations:  cfg.Pipeline.MaxIterations,
		Events:         events,
		Logger:         logger,
	})
	if err != nil {
		return exitError(exitValidation, "%v", err)
	}

	store, closeStore, err := resolveRunStore(cfg.Server.StorePath)
	if err != nil {
		return exitError(exitRuntime, "opening run store: %v", err)
	}
	defer closeStore()

	srv, err := server.NewServer(server.Config{
		Runner:            p,
		Store:             store,
		DefaultEmailCount: cfg.Pipeline.EmailCount,
		CORSOrigins:       cfg.Server.CORSOrigins,
		MaxBody:           maxBody,
		Logger:            logger,
	})
	if err != nil {
		return exitError(exitValidation, "%v", err)
	}

	if cfg.Server.Schedule != "" {
		scheduler, err := server.NewScheduler(server.SchedulerConfig{
			Expr:       cfg.Server.Schedule,
			Runner:     p,
			Store:      store,
			EmailCount: cfg.Pipeline.EmailCount,
			Logger:     logger,
		})
		if err != nil {
			return exitError(exitValidation, "%v", err)
		}
		go scheduler.Run(ctx)
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("digestflow server listening", "addr", cfg.Server.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(cmd.OutOrStdout(), "Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return exitError(exitRuntime, "shutdown error: %v", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return exitError(exitRuntime, "server error: %v", err)
		}
		return nil
	}
}

// resolveRunStore opens the SQLite history store when a path is configured
// and falls back to in-memory history otherwise.
func resolveRunStore(storePath string) (server.RunStore, func(), error) {
	if storePath == "" {
		return server.NewMemoryRunStore(), func() {}, nil
	}
	store, err := server.NewSQLiteRunStore(server.SQLiteRunStoreConfig{DSN: storePath})
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}

// setupTelemetry installs the OTLP trace exporter and returns the event
// handler chain for the pipeline. When telemetry is disabled it returns a
// nil handler and a no-op shutdown.
func setupTelemetry(ctx context.Context, cfg config.TelemetryConfig, logger *slog.Logger) (runtime.EventHandler, func(), error) {
	if !cfg.Enabled {
		return nil, func() {}, nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithInsecure()}
	if cfg.Endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("creating OTLP trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", "digestflow"),
		)),
	)
	otelapi.SetTracerProvider(tp)

	tracing := flowotel.NewTracingHandler(tp.Tracer("digestflow/pipeline"))
	metrics, err := flowotel.NewMetricsHandler(otelapi.GetMeterProvider().Meter("digestflow/pipeline"))
	if err != nil {
		return nil, nil, fmt.Errorf("initializing pipeline metrics: %w", err)
	}

	events := flowotel.EnrichHandler(
		flowotel.Fanout(tracing.Handle, metrics.Handle, eventLogHandler(logger)),
		tracing,
	)
	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error("trace exporter shutdown failed", "error", err)
		}
	}
	return events, shutdown, nil
}

// eventLogHandler logs loop events at debug level, including the trace
// correlation stamped by the enrichment handler.
func eventLogHandler(logger *slog.Logger) runtime.EventHandler {
	return func(e runtime.Event) {
		switch e.Kind {
		case runtime.EventToolFinished, runtime.EventToolFailed, runtime.EventRunFinished:
			logger.Debug("pipeline event",
				"kind", string(e.Kind),
				"run_id", e.RunID,
				"tool", e.Tool,
				"elapsed", e.Elapsed,
				"trace_id", e.Payload["trace_id"])
		}
	}
}
