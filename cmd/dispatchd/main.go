// Dispatchd is the AI request orchestration daemon: cache lookup,
// knowledge retrieval, provider dispatch and audit logging behind one
// REST surface, with an async job manager for long-running work.
//
// Configuration is loaded from an optional YAML file and DISPATCHD_*
// environment variables. See internal/config for details.
//
// Usage:
//
//	# Start with defaults
//	dispatchd
//
//	# Configure via file and environment
//	dispatchd -config /etc/dispatchd/config.yaml
//	DISPATCHD_SERVER_PORT=9999 dispatchd
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dispatchd/internal/audit"
	"github.com/fyrsmithlabs/dispatchd/internal/cache"
	"github.com/fyrsmithlabs/dispatchd/internal/config"
	"github.com/fyrsmithlabs/dispatchd/internal/embeddings"
	httpserver "github.com/fyrsmithlabs/dispatchd/internal/http"
	"github.com/fyrsmithlabs/dispatchd/internal/jobs"
	"github.com/fyrsmithlabs/dispatchd/internal/knowledge"
	"github.com/fyrsmithlabs/dispatchd/internal/logging"
	"github.com/fyrsmithlabs/dispatchd/internal/modelconfig"
	"github.com/fyrsmithlabs/dispatchd/internal/orchestrator"
	"github.com/fyrsmithlabs/dispatchd/internal/provider"
	"github.com/fyrsmithlabs/dispatchd/internal/storage"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("dispatchd\nVersion:    %s\nCommit:     %s\nBuild Date: %s\n",
			version, gitCommit, buildDate)
		os.Exit(0)
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

// run wires all dependencies and blocks until the context is cancelled.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("starting dispatchd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("knowledge_backend", cfg.Knowledge.Backend))

	// Relational storage for model configs, jobs and the audit trail.
	db, err := storage.Open(storage.Config{Path: config.ExpandPath(cfg.Storage.Path)})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	modelStore, err := modelconfig.NewStore(db)
	if err != nil {
		return err
	}
	auditStore, err := audit.NewStore(db, logger)
	if err != nil {
		return err
	}
	jobStore, err := jobs.NewStore(db)
	if err != nil {
		return err
	}

	// Embeddings power both the knowledge store and the semantic cache.
	embedder, err := embeddings.NewProvider(embeddings.ProviderConfig{
		Provider: cfg.Embedding.Provider,
		Model:    cfg.Embedding.Model,
		BaseURL:  cfg.Embedding.BaseURL,
		CacheDir: config.ExpandPath(cfg.Embedding.CacheDir),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize embeddings: %w", err)
	}
	defer embedder.Close()

	knowledgeStore, err := knowledge.NewStore(knowledge.StoreConfig{
		Backend: cfg.Knowledge.Backend,
		Chromem: knowledge.ChromemConfig{
			Path:       config.ExpandPath(cfg.Knowledge.Path),
			Collection: cfg.Knowledge.Collection,
			VectorSize: cfg.Knowledge.VectorSize,
		},
		Qdrant: knowledge.QdrantConfig{
			Host:       cfg.Knowledge.QdrantHost,
			Port:       cfg.Knowledge.QdrantPort,
			Collection: cfg.Knowledge.Collection,
			VectorSize: cfg.Knowledge.VectorSize,
		},
	}, embedder, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize knowledge store: %w", err)
	}
	knowledgeSvc, err := knowledge.NewService(knowledgeStore, logger)
	if err != nil {
		return err
	}
	defer knowledgeSvc.Close()

	var responseCache orchestrator.ResponseCache
	if cfg.Cache.Enabled {
		c, err := cache.New(cache.Config{
			ExactTTL:          cfg.Cache.ExactTTL,
			TemplateTTL:       cfg.Cache.TemplateTTL,
			SemanticTTL:       cfg.Cache.SemanticTTL,
			SemanticThreshold: float32(cfg.Cache.SemanticThreshold),
			MaxEntries:        cfg.Cache.MaxEntries,
		}, embedder, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize cache: %w", err)
		}
		responseCache = c
	}

	registry := provider.NewRegistry(provider.Config{
		OpenAIKey:         cfg.Providers.OpenAIKey,
		OpenAIBaseURL:     cfg.Providers.OpenAIBaseURL,
		AnthropicKey:      cfg.Providers.AnthropicKey,
		OllamaURL:         cfg.Providers.OllamaURL,
		DispatchTimeout:   cfg.Providers.DispatchTimeout,
		RequestsPerSecond: float64(cfg.Providers.RequestsPerMin) / 60,
	}, logger)

	orch, err := orchestrator.New(modelStore, registry, responseCache, knowledgeSvc, auditStore, logger)
	if err != nil {
		return err
	}

	// Job lifecycle events go to NATS when configured.
	var publisher jobs.Publisher
	if cfg.Jobs.NATSEnabled {
		nc, err := nats.Connect(cfg.Jobs.NATSURL,
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(-1))
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer nc.Close()
		publisher = jobs.NewNATSPublisher(nc)
		logger.Info("job events publishing to NATS", zap.String("url", cfg.Jobs.NATSURL))
	}

	manager, err := jobs.NewManager(jobStore, publisher, jobs.Config{
		Workers:       cfg.Jobs.Workers,
		Retention:     time.Duration(cfg.Jobs.RetentionDays) * 24 * time.Hour,
		SweepInterval: cfg.Jobs.SweepInterval,
	}, logger)
	if err != nil {
		return err
	}
	manager.RegisterHandler("execute", executeJobHandler(orch))
	manager.Start()
	defer manager.Stop()

	server, err := httpserver.NewServer(orch, manager, knowledgeSvc, auditStore, modelStore,
		logger, httpserver.Config{Host: cfg.Server.Host, Port: cfg.Server.Port})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// executeJobHandler runs the execution pipeline asynchronously. The job
// input is an ExecutionRequest JSON document; the result is the
// ExecutionResult JSON.
func executeJobHandler(orch *orchestrator.Orchestrator) jobs.Handler {
	return func(ctx context.Context, jc *jobs.JobContext) (string, error) {
		var req orchestrator.ExecutionRequest
		if err := json.Unmarshal([]byte(jc.Job().Input), &req); err != nil {
			return "", fmt.Errorf("invalid job input: %w", err)
		}

		if jc.Cancelled(ctx) {
			return "", jobs.ErrCancelled
		}
		jc.Progress(ctx, 10, "dispatching")

		result, err := orch.Execute(ctx, &req)
		if err != nil {
			return "", err
		}

		if jc.Cancelled(ctx) {
			return "", jobs.ErrCancelled
		}
		jc.Progress(ctx, 90, "encoding result")

		out, err := json.Marshal(result)
		if err != nil {
			return "", fmt.Errorf("failed to encode result: %w", err)
		}
		return string(out), nil
	}
}
