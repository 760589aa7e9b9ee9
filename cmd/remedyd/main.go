// Remedyd is the remediation orchestration daemon.
//
// It serves health, readiness, status and metrics over HTTP, sweeps stale
// jobs, and, when Temporal is enabled, runs the job workflow worker so that
// review decisions reach jobs as workflow signals.
//
// Usage:
//
//	# Start with defaults (sqlite under the data directory)
//	remedyd
//
//	# Use a config file and override the port
//	REMEDYD_SERVER_HTTP_PORT=9191 remedyd -config /etc/remedyd/config.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/batch"
	"github.com/fyrsmithlabs/remedyd/internal/config"
	"github.com/fyrsmithlabs/remedyd/internal/events"
	"github.com/fyrsmithlabs/remedyd/internal/http"
	"github.com/fyrsmithlabs/remedyd/internal/logging"
	"github.com/fyrsmithlabs/remedyd/internal/metrics"
	"github.com/fyrsmithlabs/remedyd/internal/services"
	"github.com/fyrsmithlabs/remedyd/internal/telemetry"
	"github.com/fyrsmithlabs/remedyd/internal/workflows"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  remedyd [-config file]   Start the remedyd daemon\n")
			fmt.Fprintf(os.Stderr, "  remedyd version          Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("remedyd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts remedyd and blocks until ctx is cancelled.
//
// Startup order:
//  1. Load and validate configuration
//  2. Initialize telemetry, then the logger bridged to it
//  3. Connect the NATS publisher and Temporal client when enabled
//  4. Build services over the store
//  5. Start the stale-job sweeper, the workflow worker and the HTTP server
//  6. Shut everything down in reverse on cancellation
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	logCfg, err := logging.FromAppConfig(cfg.Logging)
	if err != nil {
		return fmt.Errorf("invalid logging configuration: %w", err)
	}
	logCfg.Output.OTEL = cfg.Telemetry.Enabled
	appLogger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = appLogger.Sync()
	}()
	logger := appLogger.Underlying()

	logger.Info("Starting remedyd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("storage_driver", cfg.Storage.Driver),
		zap.Bool("nats", cfg.NATS.Enabled),
		zap.Bool("temporal", cfg.Temporal.Enabled))

	deps, err := initDependencies(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	reg, err := services.Build(ctx, cfg, services.BuildOptions{
		Logger:    logger,
		Publisher: deps.publisher,
		Metrics:   metrics.New(),
		Advancer:  deps.advancer(cfg, logger),
	})
	if err != nil {
		return fmt.Errorf("failed to build services: %w", err)
	}
	defer func() {
		if err := reg.Store().Close(); err != nil {
			logger.Warn("closing store", zap.Error(err))
		}
	}()

	if err := reg.Sweeper().Start(); err != nil {
		return fmt.Errorf("failed to start sweeper: %w", err)
	}
	defer reg.Sweeper().Stop()

	errCh := make(chan error, 2)

	if deps.temporal != nil {
		w := workflows.NewWorker(deps.temporal, cfg.Temporal.TaskQueue, reg.Pipeline())
		if err := w.Start(); err != nil {
			return fmt.Errorf("failed to start workflow worker: %w", err)
		}
		defer w.Stop()
		logger.Info("Workflow worker started", zap.String("task_queue", cfg.Temporal.TaskQueue))
	}

	srv, err := http.NewServer(reg.Store(), logger.Named("http"), &http.Config{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// dependencies holds the optional infrastructure connections.
type dependencies struct {
	nats      *events.NATSPublisher
	publisher events.Publisher
	temporal  client.Client
}

// initDependencies connects NATS and Temporal when they are enabled.
func initDependencies(cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	deps := &dependencies{publisher: events.Nop{}}

	if cfg.NATS.Enabled {
		pub, err := events.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger.Named("events"))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
		}
		deps.nats = pub
		deps.publisher = pub
		logger.Info("Connected to NATS", zap.String("url", cfg.NATS.URL))
	}

	if cfg.Temporal.Enabled {
		c, err := client.Dial(client.Options{
			HostPort:  cfg.Temporal.HostPort,
			Namespace: cfg.Temporal.Namespace,
		})
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("unable to create Temporal client: %w", err)
		}
		deps.temporal = c
		logger.Info("Temporal client connected", zap.String("host", cfg.Temporal.HostPort))
	}

	return deps, nil
}

// advancer routes batch decisions through workflow signals when jobs run
// under Temporal. Nil lets the pipeline advance jobs in-process.
func (d *dependencies) advancer(cfg *config.Config, logger *zap.Logger) batch.JobAdvancer {
	if d.temporal == nil {
		return nil
	}
	return workflows.NewSignaler(d.temporal, cfg.Temporal.TaskQueue, cfg.Temporal.ReviewTimeout, logger.Named("workflows"))
}

// Close releases all infrastructure connections.
func (d *dependencies) Close() {
	if d.temporal != nil {
		d.temporal.Close()
	}
	if d.nats != nil {
		_ = d.nats.Flush()
		_ = d.nats.Close()
	}
}
