package app

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"featureflow/internal/config"
	"featureflow/internal/errors"
	"featureflow/internal/exporter"
	"featureflow/internal/infrastructure"
	"featureflow/internal/marketdata"
	customMiddleware "featureflow/internal/middleware"
	"featureflow/internal/operations"
	"featureflow/internal/pubsub"
	"featureflow/internal/services"
	"featureflow/internal/storage"
	handlers "featureflow/internal/transport/http"
	ws "featureflow/internal/websocket"
	"featureflow/pkg/contracts"
)

const (
	VERSION = contracts.Version
	AppName = "featureflow"

	maxBodyBytes = 1 << 20
)

var (
	// BuildTime is set at compile time
	BuildTime = time.Now().Format(time.RFC3339)
	// BuildID is a unique identifier for this build
	BuildID = generateBuildID()
)

func generateBuildID() string {
	h := sha256.New()
	h.Write([]byte(VERSION))
	h.Write([]byte(time.Now().Format("2006-01-02")))
	return fmt.Sprintf("%x", h.Sum(nil))[:12]
}

// Application wires every component of the service
type Application struct {
	Config        *config.Config
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Metrics       *infrastructure.PipelineMetrics

	Store       storage.Store
	Source      marketdata.Source
	Broker      *pubsub.Broker
	Hub         *ws.Hub
	Sink        *exporter.ParquetSink
	Coordinator *operations.Coordinator
	JobStore    *operations.MemoryJobStore
	JobQueue    *operations.JobQueue

	FeatureService *services.FeatureService
	HealthService  *services.HealthService

	Router *chi.Mux
	Server *http.Server

	unsubscribe func()
	cancelJobs  context.CancelFunc
}

// NewApplication loads configuration, initializes logging and telemetry, and
// builds the application
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Info("Application starting",
		slog.String("name", AppName),
		slog.String("version", VERSION),
		slog.String("build_id", BuildID))

	providers, err := infrastructure.InitializeOTel(infrastructure.OTelConfigFrom(cfg.Telemetry), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	return New(context.Background(), cfg, logger, providers)
}

// New builds the application from an already loaded configuration
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, providers *infrastructure.OTelProviders) (*Application, error) {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	if providers == nil {
		providers = infrastructure.NoopProviders(logger)
	}

	a := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: providers,
	}

	if err := a.initializeServices(ctx); err != nil {
		a.closeResources()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	a.setupRouter()
	a.createServer()
	return a, nil
}

// initializeServices builds the store, source, broker, hub, coordinator and
// job queue in dependency order
func (a *Application) initializeServices(ctx context.Context) error {
	cfg := a.Config

	metrics, err := infrastructure.CreatePipelineMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create pipeline metrics: %w", err)
	}
	a.Metrics = metrics

	store, err := storage.Open(ctx, cfg.Storage, cfg.SpectrumWidth(), a.Logger)
	if err != nil {
		return err
	}
	a.Store = store

	if cfg.MarketData.BaseURL != "" {
		client, err := marketdata.NewClient(cfg.MarketData, infrastructure.RetryPolicyFrom(cfg.Retry), a.Logger)
		if err != nil {
			return err
		}
		a.Source = client
	} else {
		a.Logger.Info("no market data URL configured, reading bars from the store",
			slog.String("base_resolution", cfg.MarketData.BaseResolution.String()))
		a.Source = marketdata.StoreSource{Store: store, Base: cfg.MarketData.BaseResolution}
	}

	a.Broker = pubsub.NewBroker(a.Logger, metrics)

	wsMetrics, err := ws.NewOTelMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create websocket metrics: %w", err)
	}
	a.Hub = ws.NewHub(cfg.WebSocket, a.Broker, wsMetrics, a.Logger)

	var sink operations.Sink
	if cfg.Export.Dir != "" {
		a.Sink, err = exporter.NewParquetSink(cfg.Export.Dir, a.Logger)
		if err != nil {
			return err
		}
		sink = a.Sink
	}

	a.Coordinator, err = operations.NewCoordinator(cfg, operations.Deps{
		Source:   a.Source,
		Store:    store,
		Broker:   a.Broker,
		Notifier: a.Hub,
		Sink:     sink,
		Metrics:  metrics,
		Tracer:   a.OTelProviders.Tracer,
		Logger:   a.Logger,
	})
	if err != nil {
		return err
	}
	a.unsubscribe, err = a.Coordinator.Subscribe(cfg.Pipeline.QueueSize)
	if err != nil {
		return err
	}

	a.JobStore = operations.NewMemoryJobStore()
	a.JobQueue = operations.NewJobQueue(cfg.Pipeline.Workers, cfg.Pipeline.QueueSize, a.JobStore, a.Coordinator, a.Logger,
		operations.WithRetention(cfg.Pipeline.JobRetention))

	a.FeatureService = services.NewFeatureService(a.Coordinator, a.JobQueue, a.Broker, a.Logger)
	a.HealthService = services.NewHealthService(VERSION, store, a.JobQueue, a.Hub, a.Logger)
	return nil
}

// setupRouter configures the HTTP router with all routes
func (a *Application) setupRouter() {
	r := chi.NewRouter()
	errorHandler := errors.NewErrorHandler(a.Logger, a.Config.Logging.Level == "debug")

	// RequestID and RealIP do not wrap the ResponseWriter, so the WebSocket
	// upgrade below still sees a hijackable writer.
	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)

	r.With(customMiddleware.WebSocketTraceMiddleware(a.Logger)).Handle("/ws", a.Hub)

	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(customMiddleware.NewOTelMiddleware(a.OTelProviders, a.Metrics).Handler)
		r.Use(customMiddleware.StructuredLogger(a.Logger))
		r.Use(customMiddleware.Recoverer(a.Logger))
		r.Use(customMiddleware.SecurityHeaders)
		r.Use(customMiddleware.CORS(customMiddleware.CORSConfig{}))

		healthHandler := handlers.NewHealthHandler(a.HealthService, a.Logger)
		r.Get("/healthz", healthHandler.HealthCheck)
		r.Get("/readyz", healthHandler.ReadinessCheck)
		r.Get("/livez", healthHandler.LivenessCheck)

		r.Route("/api/v1", func(r chi.Router) {
			if rl := a.Config.Server.RateLimit; rl.Enabled {
				r.Use(customMiddleware.NewRateLimiter(rl.RPS, rl.Burst, a.Logger).Handler)
			}
			r.Use(render.SetContentType(render.ContentTypeJSON))
			r.Use(customMiddleware.ContentTypeValidator("application/json"))
			r.Use(customMiddleware.MaxBodySize(maxBodyBytes))
			r.Use(customMiddleware.Timeout(a.Config.Server.RequestTimeout))

			r.Mount("/", handlers.NewPipelineHandler(a.FeatureService, errorHandler, a.Logger).Routes())
		})
	})

	r.NotFound(errorHandler.NotFound)
	r.MethodNotAllowed(errorHandler.MethodNotAllowed)

	a.Router = r
}

func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// StartBackground starts the hub loop and the job queue workers without
// serving HTTP
func (a *Application) StartBackground(ctx context.Context) {
	a.Hub.Start()

	jobsCtx, cancel := context.WithCancel(ctx)
	a.cancelJobs = cancel
	a.JobQueue.Start(jobsCtx)
}

// Start launches the background services and the HTTP server. A listener
// failure calls cancel.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.Logger.InfoContext(ctx, "Starting application",
		slog.String("name", AppName),
		slog.String("version", VERSION),
		slog.Int("port", a.Config.Server.Port),
		slog.String("storage", a.Config.Storage.Driver),
		slog.Int("instruments", len(a.Config.Instruments)),
		slog.Int("pairs", len(a.Config.Pairs)))

	a.StartBackground(ctx)

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.ErrorContext(ctx, "Server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	if err := a.performStartupHealthCheck(ctx); err != nil {
		a.Logger.WarnContext(ctx, "Startup health check warnings", slog.String("warnings", err.Error()))
	}

	a.Logger.InfoContext(ctx, "Application started successfully",
		slog.String("address", a.Server.Addr))
	return nil
}

// Stop drains HTTP, then jobs and triggers, and finally closes the store
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var serverErr error
	if a.Server != nil {
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			serverErr = fmt.Errorf("server shutdown error: %w", err)
		}
	}

	if a.JobQueue != nil {
		a.Logger.InfoContext(ctx, "Stopping job queue")
		if err := a.JobQueue.Stop(a.Config.Server.ShutdownTimeout); err != nil {
			a.Logger.ErrorContext(ctx, "Failed to stop job queue gracefully", slog.String("error", err.Error()))
		}
	}
	if a.cancelJobs != nil {
		a.cancelJobs()
	}

	a.closeResources()

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	return serverErr
}

// closeResources releases what initializeServices acquired. The broker is
// drained before the store closes since its handlers still write.
func (a *Application) closeResources() {
	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}
	if a.Broker != nil {
		a.Broker.Close()
	}
	if a.Hub != nil {
		a.Hub.Stop()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Error("Error closing store", slog.String("error", err.Error()))
		}
		a.Store = nil
	}
}

// Run runs the application until interrupted
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if err := a.Start(ctx, cancel); err != nil {
		return err
	}

	select {
	case <-sigChan:
		a.Logger.InfoContext(ctx, "Received interrupt signal")
	case <-ctx.Done():
		a.Logger.InfoContext(ctx, "Server stopped unexpectedly")
	}

	return a.Stop(context.Background())
}

// performStartupHealthCheck pings the store and warns about an empty
// instrument catalogue
func (a *Application) performStartupHealthCheck(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.Store.Ping(pingCtx); err != nil {
		return fmt.Errorf("store not reachable: %w", err)
	}
	if len(a.Config.Instruments) == 0 {
		a.Logger.WarnContext(ctx, "No instruments configured; only on-demand pipelines will run")
	}
	a.Logger.InfoContext(ctx, "Startup health check passed")
	return nil
}
