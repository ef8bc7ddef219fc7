// main package for the murmur TTS server
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/murmur-tts/internal/backend/execworker"
	"github.com/book-expert/murmur-tts/internal/backend/httpworker"
	"github.com/book-expert/murmur-tts/internal/config"
	"github.com/book-expert/murmur-tts/internal/lifecycle"
	"github.com/book-expert/murmur-tts/internal/metrics"
	"github.com/book-expert/murmur-tts/internal/objectstore"
	"github.com/book-expert/murmur-tts/internal/orchestrator"
	"github.com/book-expert/murmur-tts/internal/server"
	"github.com/book-expert/murmur-tts/internal/textnorm"
	"github.com/book-expert/murmur-tts/internal/voice"
	"github.com/book-expert/murmur-tts/internal/worker"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
)

const (
	bootstrapLogFile = "murmur-server-bootstrap.log"
	serverLogFile    = "murmur-server.log"
	natsClientName   = "murmur-tts"
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func loadConfig(configPath string, log *logger.Logger) (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}

	return config.Load(log)
}

func run(configPath string) error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		// If bootstrap logger fails, we can only print to stderr
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() { _ = bootstrapLog.Close() }()

	// 2. Load configuration
	cfg, err := loadConfig(configPath, bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// 3. Initialize the final logger based on the loaded configuration
	log, err := setupLogger(cfg.Paths.BaseLogsDir, serverLogFile)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, log)
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	samplesDir, found := voice.FindSamplesDir(append([]string{cfg.Voices.SamplesDir}, cfg.Voices.SearchPaths...)...)
	if !found {
		log.Warn("No voice manifest found; cloning voices are limited to the default reference")
	}

	catalog, err := voice.NewCatalog(samplesDir, log)
	if err != nil {
		return fmt.Errorf("failed to build voice catalog: %w", err)
	}

	registry := lifecycle.NewRegistry(cfg.Tiers)
	collector := metrics.New(registry)

	factories := map[string]lifecycle.Factory{
		config.DriverHTTP: httpworker.NewFactory(cfg.Server.Device),
		config.DriverExec: execworker.NewFactory(cfg.Server.Device),
	}

	loader := lifecycle.NewLoader(registry, cfg.Tiers, factories, collector, log)

	service := orchestrator.NewService(
		orchestrator.NewResolver(registry),
		orchestrator.NewDispatcher(registry, cfg.Tiers, catalog, log),
		cfg,
		textnorm.New(),
		collector,
		log,
	)

	httpServer := server.New(cfg, server.Dependencies{
		Generator: service,
		Health:    orchestrator.NewHealthReporter(registry, cfg.Tiers, cfg.Server.Device, catalog),
		Reloader:  loader,
		Catalog:   catalog,
		Metrics:   collector.Handler(),
	}, log)

	var natsWorker *worker.NatsWorker

	if cfg.NATS.Enabled {
		var closeNATS func()

		natsWorker, closeNATS, err = newNatsWorker(cfg, service, log)
		if err != nil {
			return err
		}

		defer closeNATS()
	}

	group, groupCtx := errgroup.WithContext(ctx)

	// Loads run in the background; the server answers health checks meanwhile.
	loader.Start(groupCtx)

	log.System("Murmur TTS server initialized on %s (device %s, %d voices)",
		cfg.Server.Address(), cfg.Server.Device, catalog.Count())

	group.Go(func() error { return httpServer.Run(groupCtx) })

	if natsWorker != nil {
		group.Go(func() error { return natsWorker.Run(groupCtx) })
	}

	runErr := group.Wait()

	return errors.Join(runErr, shutdown(cfg, loader, registry, log))
}

func newNatsWorker(
	cfg *config.Config,
	service *orchestrator.Service,
	log *logger.Logger,
) (*worker.NatsWorker, func(), error) {
	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name(natsClientName))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	jetStreamContext, err := natsConnection.JetStream()
	if err != nil {
		natsConnection.Close()

		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	textStore, err := objectstore.New(jetStreamContext, cfg.NATS.TextObjectStoreBucket)
	if err != nil {
		natsConnection.Close()

		return nil, nil, err
	}

	audioStore, err := objectstore.New(jetStreamContext, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		natsConnection.Close()

		return nil, nil, err
	}

	natsWorker := worker.NewNatsWorker(
		natsConnection,
		cfg.NATS.TextProcessedSubject,
		textStore,
		audioStore,
		service,
		cfg.NATS.DefaultTier,
		0,
		log,
	)

	log.Info("NATS worker connected to %s", cfg.NATS.URL)

	return natsWorker, natsConnection.Close, nil
}

// shutdown waits for in-flight loads and closes every backend within the
// configured shutdown timeout.
func shutdown(cfg *config.Config, loader *lifecycle.Loader, registry *lifecycle.Registry, log *logger.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer cancel()

	waited := make(chan struct{})

	go func() {
		loader.Wait()
		close(waited)
	}()

	select {
	case <-waited:
	case <-ctx.Done():
		log.Warn("Model loads still running after %s; closing loaded tiers anyway", cfg.Server.ShutdownTimeout())
	}

	started := time.Now()

	err := registry.Close(ctx)
	if err != nil {
		log.Error("Failed to close backends: %v", err)

		return fmt.Errorf("failed to close backends: %w", err)
	}

	log.System("Murmur TTS server stopped; backends closed in %s", time.Since(started))

	return nil
}

func main() {
	configPath := flag.String("config", "", "Path to a local TOML config file (defaults to the central configurator)")
	flag.Parse()

	err := run(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
