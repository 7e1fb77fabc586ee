// main package for the mixdown-service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/mixdown-service/internal/api"
	"github.com/book-expert/mixdown-service/internal/audio"
	"github.com/book-expert/mixdown-service/internal/config"
	"github.com/book-expert/mixdown-service/internal/core"
	"github.com/book-expert/mixdown-service/internal/credentials"
	"github.com/book-expert/mixdown-service/internal/objectstore"
	"github.com/book-expert/mixdown-service/internal/providers"
	"github.com/book-expert/mixdown-service/internal/script"
	"github.com/book-expert/mixdown-service/internal/storage"
	"github.com/book-expert/mixdown-service/internal/worker"
	"github.com/nats-io/nats.go"
)

// Environment-sourced credential names.
const envCredentialName = "environment"

// Placeholder cache staleness for the orchestrator's catalog lookups.
const placeholderCacheTTL = 30 * time.Second

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "mixdown-service.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process.
	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	bootstrapLog.Info("Bootstrap logger created.")

	// 2. Load configuration using the central configurator.
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 3. Initialize the final logger based on the loaded configuration.
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runService(ctx, cfg, finalLog)
}

// runService wires the pipeline components and serves until the context is
// cancelled.
func runService(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	store, storeErr := storage.New(ctx, cfg.Storage, log)
	if storeErr != nil {
		return fmt.Errorf("failed to create storage backend: %w", storeErr)
	}

	catalog := storage.NewCatalog(store, cfg.Storage.CatalogKey, log)
	registry := buildRegistry(cfg)
	manager := buildCredentialManager(cfg, log)

	runner := audio.NewRunner(cfg.Merge.FFmpegBinary, log)
	profile := audio.Profile{
		SampleRate:     cfg.Merge.SampleRate,
		BitDepth:       cfg.Merge.BitDepth,
		Channels:       cfg.Merge.Channels,
		MinSourceBytes: cfg.Merge.MinSourceBytes,
	}

	profileErr := profile.Validate()
	if profileErr != nil {
		return fmt.Errorf("invalid merge profile: %w", profileErr)
	}

	engine := audio.NewEngine(profile, runner, cfg.Merge.Workers, cfg.Merge.WorkDir, log)

	orchestrator := script.NewOrchestrator(
		registry,
		manager,
		catalog.PlaceholderResolver(placeholderCacheTTL),
		cfg.Service.DefaultProvider,
		cfg.Service.DefaultVoice,
		log,
	)

	server := api.NewServer(orchestrator, engine, store, catalog, registry, log)

	workerErrChan, workerErr := startWorker(ctx, cfg, orchestrator, engine, store, catalog, log)
	if workerErr != nil {
		return workerErr
	}

	serverErrChan := make(chan error, 1)

	go func() {
		serverErrChan <- server.Listen(fmt.Sprintf(":%d", cfg.Service.HTTPPort))
	}()

	log.System("Mixdown service listening on port %d (backend: %s)", cfg.Service.HTTPPort, cfg.Storage.Backend)

	select {
	case <-ctx.Done():
		log.System("Shutting down.")

		shutdownErr := server.Shutdown()
		if shutdownErr != nil {
			return shutdownErr
		}

		if workerErrChan != nil {
			return <-workerErrChan
		}

		return nil
	case serveErr := <-serverErrChan:
		return serveErr
	}
}

// startWorker connects the async job path. An unset NATS URL disables it;
// the HTTP surface still serves merges.
func startWorker(
	ctx context.Context,
	cfg *config.Config,
	orchestrator *script.Orchestrator,
	engine *audio.Engine,
	store core.ArtifactStore,
	catalog *storage.Catalog,
	log *logger.Logger,
) (chan error, error) {
	if cfg.NATS.URL == "" {
		log.Info("NATS URL not configured; async merge jobs disabled.")

		return nil, nil
	}

	natsConnection, connectErr := nats.Connect(cfg.NATS.URL)
	if connectErr != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, connectErr)
	}

	jetstreamContext, jsErr := natsConnection.JetStream()
	if jsErr != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", jsErr)
	}

	segments, segmentsErr := objectstore.New(jetstreamContext, cfg.NATS.SegmentStoreBucket)
	if segmentsErr != nil {
		return nil, fmt.Errorf("failed to create segment store: %w", segmentsErr)
	}

	mergeWorker, workerErr := worker.NewNatsWorker(
		natsConnection,
		cfg.NATS.JobSubmittedSubject,
		segments,
		orchestrator,
		engine,
		store,
		catalog,
		log,
	)
	if workerErr != nil {
		return nil, fmt.Errorf("failed to create merge worker: %w", workerErr)
	}

	errChan := make(chan error, 1)

	go func() {
		errChan <- mergeWorker.Run(ctx)
		natsConnection.Close()
	}()

	log.System("Merge job worker listening on subject: %s", cfg.NATS.JobSubmittedSubject)

	return errChan, nil
}

// buildRegistry constructs one adapter per configured provider.
func buildRegistry(cfg *config.Config) *providers.Registry {
	adapters := []core.Synthesizer{
		providers.NewGoogleTranslate(),
		providers.NewElevenLabs(cfg.Providers.ElevenLabs.BaseURL, cfg.Providers.ElevenLabs.Model),
		providers.NewOpenAISpeech(cfg.Providers.OpenAI.BaseURL, cfg.Providers.OpenAI.Model),
	}

	return providers.NewRegistry(adapters...)
}

// buildCredentialManager installs the ordered credential lists. Keys from
// the environment are inserted ahead of the configured lists.
func buildCredentialManager(cfg *config.Config, log *logger.Logger) *credentials.Manager {
	store := credentials.NewFileQuotaStore(cfg.Paths.QuotaFile)
	staleness := time.Duration(cfg.Providers.QuotaStaleSeconds) * time.Second

	// No confirmation port in service mode: rotation advances silently.
	manager := credentials.NewManager(store, staleness, nil, log)

	elevenCreds := credentialList(cfg.Providers.ElevenLabs.APIKey, cfg.Providers.ElevenLabs.Credentials)
	if len(elevenCreds) > 0 {
		prober := credentials.NewElevenLabsProber(cfg.Providers.ElevenLabs.BaseURL)
		manager.RegisterProvider(providers.ProviderElevenLabs, elevenCreds, prober)
	}

	openAICreds := credentialList(cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.Credentials)
	if len(openAICreds) > 0 {
		manager.RegisterProvider(providers.ProviderOpenAISpeech, openAICreds, nil)
	}

	return manager
}

func credentialList(envKey string, configured []config.CredentialConfig) []core.Credential {
	creds := make([]core.Credential, 0, len(configured)+1)

	if envKey != "" {
		creds = append(creds, core.Credential{
			Provider:       "",
			Name:           envCredentialName,
			Secret:         envKey,
			Active:         true,
			Remaining:      0,
			RemainingKnown: false,
		})
	}

	for _, credential := range configured {
		creds = append(creds, core.Credential{
			Provider:       "",
			Name:           credential.Name,
			Secret:         credential.Secret,
			Active:         credential.Active,
			Remaining:      0,
			RemainingKnown: false,
		})
	}

	return creds
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
