// Deadlined watches chat and email streams for deadlines and reminds you
// before they are due.
//
// Configuration is loaded from ~/.config/deadlined/config.yaml (optional)
// and environment variables. See internal/config for details.
//
// Usage:
//
//	# Start the daemon with defaults
//	deadlined
//
//	# Use a specific config file
//	deadlined -config /etc/deadlined/config.yaml
//
//	# Configure via environment
//	SERVER_HTTP_PORT=9090 EXTRACTION_PROVIDER=pattern deadlined
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/facebookgo/clock"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/deadlined/internal/assistant"
	"github.com/fyrsmithlabs/deadlined/internal/config"
	"github.com/fyrsmithlabs/deadlined/internal/deadline"
	"github.com/fyrsmithlabs/deadlined/internal/events"
	"github.com/fyrsmithlabs/deadlined/internal/extraction"
	httpserver "github.com/fyrsmithlabs/deadlined/internal/http"
	"github.com/fyrsmithlabs/deadlined/internal/ingestion"
	"github.com/fyrsmithlabs/deadlined/internal/logging"
	"github.com/fyrsmithlabs/deadlined/internal/notify"
	"github.com/fyrsmithlabs/deadlined/internal/reminder"
	"github.com/fyrsmithlabs/deadlined/internal/scheduler"
	"github.com/fyrsmithlabs/deadlined/internal/store"
	"github.com/fyrsmithlabs/deadlined/internal/telemetry"
	"github.com/fyrsmithlabs/deadlined/internal/tracker"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// Push sources are always registered so the HTTP API can feed them.
var pushSources = []struct {
	name string
	kind deadline.Source
}{
	{"chat", deadline.SourceChatStream},
	{"email", deadline.SourceEmail},
}

func main() {
	configPath := flag.String("config", "", "path to config file")
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
			fmt.Fprintf(os.Stderr, "  deadlined           Start the deadlined daemon\n")
			fmt.Fprintf(os.Stderr, "  deadlined version   Show version information\n")
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
	fmt.Printf("deadlined by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until ctx is cancelled.
//
// Startup order:
//  1. Loads and validates configuration
//  2. Initializes logger and telemetry
//  3. Opens the store and the optional NATS connection
//  4. Builds the extraction chain and the notification dispatcher
//  5. Rebuilds the reminder queue from the store and starts the engine
//  6. Registers ingestion sources and starts them
//  7. Serves the HTTP API until shutdown
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()
	zl := logger.Underlying()

	tel, err := telemetry.New(ctx, telemetry.FromObservability(cfg.Observability, version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	zl.Info("Starting deadlined",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Driver),
		zap.String("timezone", loc.String()))

	deps, err := initDependencies(cfg, zl)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	bus := events.NewBus(deps.natsConn, zl.Named("events"))

	chain, err := extraction.NewChainFromConfig(cfg.Extraction, zl.Named("extraction"),
		extraction.WithTracer(tel.Tracer("github.com/fyrsmithlabs/deadlined/extraction")))
	if err != nil {
		return fmt.Errorf("failed to create extraction chain: %w", err)
	}

	dispatcher, err := notify.NewDispatcher(deps.store, zl.Named("notify"),
		notify.WithNotifiers(notify.NotifiersFromConfig(cfg.Notify, zl.Named("notify"))),
		notify.WithLocation(loc),
		notify.WithPublisher(bus),
		notify.WithTracer(tel.Tracer("github.com/fyrsmithlabs/deadlined/notify")),
	)
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	engine, err := scheduler.NewEngine(dispatcher, zl.Named("scheduler"),
		scheduler.WithResolver(reminder.NewResolver(
			reminder.MissedPolicy(cfg.Scheduler.MissedPolicy),
			cfg.Scheduler.CatchUpWindow.Duration(),
		)),
		scheduler.WithDispatchTimeout(cfg.Scheduler.DispatchTimeout.Duration()),
	)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	n, err := engine.Reconcile(ctx, deps.store, engine.Now())
	if err != nil {
		return fmt.Errorf("failed to rebuild reminder queue: %w", err)
	}
	zl.Info("Reminder queue rebuilt", zap.Int("triggers", n))

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer func() {
		_ = engine.Stop()
	}()

	deadlines, err := tracker.NewService(deps.store, engine, zl.Named("tracker"),
		tracker.WithDefaultOffsets(cfg.Ingestion.DefaultOffsets),
		tracker.WithPublisher(bus),
	)
	if err != nil {
		return fmt.Errorf("failed to create tracker: %w", err)
	}

	manager, err := ingestion.NewManager(ctx, ingestion.Deps{
		Chain:     chain,
		Store:     deps.store,
		Scheduler: engine,
		Publisher: bus,
		Logger:    zl.Named("ingestion"),
		Clock:     clock.New(),
	}, ingestion.SettingsFrom(cfg.Ingestion, loc))
	if err != nil {
		return fmt.Errorf("failed to create ingestion manager: %w", err)
	}
	if err := registerSources(manager, cfg, deps.natsConn, zl); err != nil {
		_ = manager.StopAll()
		return err
	}
	if err := manager.StartAll(); err != nil {
		_ = manager.StopAll()
		return fmt.Errorf("failed to start ingestion: %w", err)
	}

	chat, err := initAssistant(cfg, deadlines, loc, zl.Named("assistant"))
	if err != nil {
		_ = manager.StopAll()
		return err
	}

	srv, err := httpserver.NewServer(httpserver.Deps{
		Deadlines: deadlines,
		Extractor: chain,
		Ingestion: manager,
		Reminders: engine,
		Stats:     dispatcher,
		Assistant: chat,
		Version:   version,
	}, zl.Named("http"), &httpserver.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		_ = manager.StopAll()
		return fmt.Errorf("failed to create http server: %w", err)
	}

	zl.Info("Server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port)),
		zap.String("api_prefix", "/api/v1"),
		zap.String("metrics_endpoint", "/metrics"),
		zap.Strings("interpreters", chain.Names()),
		zap.Bool("nats_connected", deps.natsConn != nil))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	return errors.Join(
		serveErr,
		srv.Shutdown(shutdownCtx),
		manager.StopAll(),
		tel.Shutdown(shutdownCtx),
	)
}

// registerSources wires the push, drop-directory and NATS sources.
func registerSources(m *ingestion.Manager, cfg *config.Config, nc *nats.Conn, logger *zap.Logger) error {
	for _, ps := range pushSources {
		if err := m.Register(ps.name, ps.kind, ingestion.NewPushSource(0)); err != nil {
			return fmt.Errorf("failed to register source %s: %w", ps.name, err)
		}
	}

	if cfg.Ingestion.DropDir != "" {
		dir, err := ingestion.NewDirSource(cfg.Ingestion.DropDir, logger.Named("dropdir"))
		if err != nil {
			return fmt.Errorf("failed to open drop directory: %w", err)
		}
		if err := m.Register("dropdir", deadline.SourceEmail, dir); err != nil {
			_ = dir.Close()
			return fmt.Errorf("failed to register source dropdir: %w", err)
		}
	}

	if len(cfg.Ingestion.NATSSources) > 0 && nc == nil {
		logger.Warn("NATS sources configured but NATS is disabled",
			zap.Strings("sources", cfg.Ingestion.NATSSources))
		return nil
	}
	for _, name := range cfg.Ingestion.NATSSources {
		src, err := ingestion.NewNATSSource(nc, name)
		if err != nil {
			return fmt.Errorf("failed to subscribe source %s: %w", name, err)
		}
		kind, err := deadline.ParseSource(name)
		if err != nil {
			kind = deadline.SourceChatStream
		}
		if err := m.Register(name, kind, src); err != nil {
			_ = src.Close()
			return fmt.Errorf("failed to register source %s: %w", name, err)
		}
		logger.Info("NATS source registered",
			zap.String("source", name),
			zap.String("subject", src.Subject()))
	}
	return nil
}

// dependencies holds infrastructure with a lifetime.
type dependencies struct {
	store    store.Store
	natsConn *nats.Conn
	logger   *zap.Logger
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if d.natsConn != nil {
		if err := d.natsConn.Drain(); err != nil {
			d.natsConn.Close()
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Warn("failed to close store", zap.Error(err))
		}
	}
}

func initLogger(cfg *config.Config) (*logging.Logger, error) {
	lc := logging.NewDefaultConfig()
	level, err := logging.LevelFromString(cfg.Observability.LogLevel)
	if err != nil {
		return nil, err
	}
	lc.Level = level
	lc.Format = cfg.Observability.LogFormat
	return logging.NewLogger(lc, nil)
}

func initDependencies(cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	deps := &dependencies{logger: logger}

	switch cfg.Store.Driver {
	case "memory":
		deps.store = store.NewMemoryStore()
	default:
		st, err := store.OpenSQLite(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open store at %s: %w", cfg.Store.Path, err)
		}
		deps.store = st
	}
	logger.Info("Store opened", zap.String("driver", cfg.Store.Driver), zap.String("path", cfg.Store.Path))

	if !cfg.NATS.Enabled {
		return deps, nil
	}

	nc, err := nats.Connect(cfg.NATS.URL,
		nats.Name("deadlined"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	deps.natsConn = nc
	logger.Info("Connected to NATS", zap.String("url", cfg.NATS.URL))

	return deps, nil
}

// initAssistant builds the deadline Q&A assistant on the local model. The
// model is only contacted when a question is asked.
func initAssistant(cfg *config.Config, deadlines *tracker.Service, loc *time.Location, logger *zap.Logger) (*assistant.Assistant, error) {
	completer, err := extraction.NewOllamaCompleter(extraction.OllamaConfig{
		ServerURL:   cfg.Extraction.OllamaURL,
		Model:       cfg.Extraction.ChatModel,
		Timeout:     cfg.Extraction.Timeout.Duration(),
		Temperature: 0.3,
		MaxTokens:   200,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	a, err := assistant.New(completer, deadlines, logger,
		assistant.WithModel(cfg.Extraction.ChatModel),
		assistant.WithLocation(loc),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create assistant: %w", err)
	}
	return a, nil
}
