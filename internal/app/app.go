// Package app initializes and orchestrates the main components of the
// FormPulse application. It wires together the configuration, storage,
// engine, jobs and server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/sevigo/goframe/llms"
	"github.com/sevigo/goframe/llms/gemini"
	"github.com/sevigo/goframe/llms/ollama"

	"github.com/formpulse/formpulse/internal/breaker"
	"github.com/formpulse/formpulse/internal/config"
	"github.com/formpulse/formpulse/internal/core"
	"github.com/formpulse/formpulse/internal/credits"
	"github.com/formpulse/formpulse/internal/db"
	"github.com/formpulse/formpulse/internal/engine"
	"github.com/formpulse/formpulse/internal/formconfig"
	"github.com/formpulse/formpulse/internal/guard"
	"github.com/formpulse/formpulse/internal/integrations"
	"github.com/formpulse/formpulse/internal/jobs"
	"github.com/formpulse/formpulse/internal/notify"
	"github.com/formpulse/formpulse/internal/orchestrator"
	"github.com/formpulse/formpulse/internal/ratelimit"
	"github.com/formpulse/formpulse/internal/retry"
	"github.com/formpulse/formpulse/internal/server"
	"github.com/formpulse/formpulse/internal/storage"
)

// App holds the main application components.
type App struct {
	ctx        context.Context
	cfg        *config.Config
	server     *server.Server
	logger     *slog.Logger
	dispatcher *jobs.Dispatcher
	dbCleanup  func()
}

// newOllamaHTTPClient creates an HTTP client with longer timeouts for Ollama
// requests, which can take a while to complete.
func newOllamaHTTPClient() *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxConnsPerHost:     10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DisableKeepAlives:   false,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   5 * time.Minute,
	}
}

// NewApp sets up the application with all its dependencies.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	logger.Info("initializing FormPulse application",
		"llm_provider", cfg.LLMProvider,
		"generator_model", cfg.GeneratorModelName,
		"max_workers", cfg.MaxWorkers)

	logger.Info("connecting to generator LLM", "model", cfg.GeneratorModelName)
	generatorLLM, err := createLLM(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect to generator LLM", "error", err)
		return nil, fmt.Errorf("failed to create generator LLM: %w", err)
	}

	store, dbCleanup, err := createStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	forms, err := formconfig.Load(cfg.FormConfigPath)
	if err != nil {
		if !errors.Is(err, formconfig.ErrConfigNotFound) {
			dbCleanup()
			return nil, fmt.Errorf("failed to load form config: %w", err)
		}
		logger.Warn("form config file not found, running on defaults", "path", cfg.FormConfigPath)
	}
	forms.SetDefaultRateLimit(cfg.RateLimitPerMinute)

	promptMgr, err := engine.NewPromptManager()
	if err != nil {
		dbCleanup()
		logger.Error("failed to initialize prompt manager", "error", err)
		return nil, fmt.Errorf("failed to initialize prompt manager: %w", err)
	}

	brk := breaker.New(cfg.CircuitThreshold, cfg.CircuitCooldown, logger)
	eng := engine.NewLLMEngine(generatorLLM, promptMgr, brk, cfg.LLMProvider, logger)

	limiter := ratelimit.New()
	idempotency := guard.New()
	ledger := credits.NewLedger(store, logger)
	hub := notify.NewHub(logger)
	registryOpts, err := sheetsOptions(ctx, cfg, logger)
	if err != nil {
		dbCleanup()
		return nil, err
	}
	registry := integrations.NewRegistry(&http.Client{Timeout: 30 * time.Second}, logger, registryOpts...)
	orch := orchestrator.New(orchestrator.NewRunner(logger), logger)

	recorder := jobs.NewStoreRecorder(store, logger)
	dispatcher := jobs.NewDispatcher(cfg.MaxWorkers, hub, recorder, logger)

	completionJob := jobs.NewCompletionWorkflowJob(orch, store, ledger, forms, dispatcher, hub, logger)
	analysisJob := jobs.NewResponseAnalysisJob(orch, store, ledger, forms, eng, idempotency, limiter, hub, cfg.GeneratorModelName, logger)
	questionJob := jobs.NewDynamicQuestionGenerationJob(orch, store, ledger, forms, eng, limiter, hub, cfg.GeneratorModelName, logger)
	integrationJob := jobs.NewIntegrationTriggerJob(orch, store, forms, registry, idempotency, logger)

	dispatcher.Register(core.EventFormCompleted, completionJob, core.QueueDefault, retry.Default())
	dispatcher.Register(core.EventResponseAnalyzed, analysisJob, core.QueueAIProcessing, retry.Default())
	dispatcher.Register(core.EventDynamicQuestionRequested, questionJob, core.QueueAIProcessing, retry.Default())
	dispatcher.Register(core.EventIntegrationTriggered, integrationJob, core.QueueIntegrations, retry.Default())
	dispatcher.Start()

	httpServer := server.NewServer(ctx, cfg, dispatcher, store, ledger, hub, logger)

	logger.Info("FormPulse application initialized successfully")
	return &App{
		ctx:        ctx,
		cfg:        cfg,
		server:     httpServer,
		logger:     logger,
		dispatcher: dispatcher,
		dbCleanup:  dbCleanup,
	}, nil
}

// Start runs the HTTP server.
func (a *App) Start() error {
	a.logger.Info("starting FormPulse",
		"server_port", a.cfg.ServerPort,
		"max_workers", a.cfg.MaxWorkers)

	err := a.server.Start()
	if err != nil {
		a.logger.Error("failed to start HTTP server", "error", err)
		return err
	}

	return nil
}

// Stop shuts down the application cleanly.
func (a *App) Stop() error {
	a.logger.Info("shutting down FormPulse services")

	// Stop the HTTP server first to prevent new incoming requests.
	serverErr := a.server.Stop()
	if serverErr != nil {
		a.logger.Error("error during HTTP server shutdown", "error", serverErr)
		// Continue to stop other components even if the server failed.
	}

	// Stop the job dispatcher, allowing in-flight jobs to finish.
	a.dispatcher.Stop()

	a.logger.Info("closing storage")
	a.dbCleanup()

	if serverErr != nil {
		a.logger.Error("FormPulse stopped with errors", "error", serverErr)
		return serverErr
	}

	a.logger.Info("FormPulse stopped successfully")
	return nil
}

// sheetsOptions loads the Google service-account key and turns it into a
// registry option. Without configured credentials the sheets handler stays
// unauthenticated and rejects deliveries with a validation error.
func sheetsOptions(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]integrations.Option, error) {
	if cfg.SheetsCredentialsFile == "" {
		return nil, nil
	}

	credentialsJSON, err := os.ReadFile(cfg.SheetsCredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheets credentials file: %w", err)
	}
	tokens, err := integrations.SheetsTokenSource(ctx, credentialsJSON)
	if err != nil {
		return nil, err
	}

	logger.Info("google sheets integration authenticated", "credentials_file", cfg.SheetsCredentialsFile)
	return []integrations.Option{integrations.WithSheetsTokenSource(tokens)}, nil
}

// createStore picks the postgres store when a database is configured and the
// in-memory store otherwise.
func createStore(cfg *config.Config, logger *slog.Logger) (storage.Store, func(), error) {
	if !cfg.Database.Enabled() {
		logger.Warn("no database configured, using in-memory store")
		return storage.NewMemoryStore(), func() {}, nil
	}

	dbConn, cleanup, err := db.NewDatabase(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return storage.NewStore(dbConn.DB), cleanup, nil
}

// createLLM creates the appropriate LLM client based on the configured provider.
func createLLM(ctx context.Context, cfg *config.Config, logger *slog.Logger) (llms.Model, error) {
	switch cfg.LLMProvider {
	case "gemini":
		logger.Info("Using Gemini LLM provider", "model", cfg.GeneratorModelName)
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is not set in environment for gemini provider")
		}
		return gemini.New(ctx,
			gemini.WithModel(cfg.GeneratorModelName),
			gemini.WithAPIKey(cfg.GeminiAPIKey),
		)

	case "ollama":
		logger.Info("Using Ollama LLM provider", "model", cfg.GeneratorModelName)
		return ollama.New(
			ollama.WithServerURL(cfg.OllamaHost),
			ollama.WithHTTPClient(newOllamaHTTPClient()),
			ollama.WithModel(cfg.GeneratorModelName),
			ollama.WithLogger(logger),
		)

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}
}
