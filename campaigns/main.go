package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/andronoma-labs/andronoma-go/internal/assets"
	"github.com/andronoma-labs/andronoma-go/internal/dispatch"
	"github.com/andronoma-labs/andronoma-go/internal/logbroker"
	"github.com/andronoma-labs/andronoma-go/internal/orchestrator"
	"github.com/andronoma-labs/andronoma-go/internal/pipeline"
	"github.com/andronoma-labs/andronoma-go/internal/platform/auditlog"
	"github.com/andronoma-labs/andronoma-go/internal/platform/auth"
	"github.com/andronoma-labs/andronoma-go/internal/platform/env"
	"github.com/andronoma-labs/andronoma-go/internal/platform/httpserver"
	"github.com/andronoma-labs/andronoma-go/internal/platform/objectstore"
	"github.com/andronoma-labs/andronoma-go/internal/platform/postgres"
	repopg "github.com/andronoma-labs/andronoma-go/internal/repo/postgres"
	"github.com/andronoma-labs/andronoma-go/internal/stage"
	"github.com/andronoma-labs/andronoma-go/internal/stages"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("CAMPAIGNS_HTTP_ADDR", ":8080")
	shutdownTimeout, err := env.Duration("CAMPAIGNS_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	defaults := pipeline.DefaultConfig()
	if path := strings.TrimSpace(env.String("ANDRONOMA_PIPELINE_DEFAULTS", "")); path != "" {
		defaults, err = pipeline.LoadDefaults(path)
		if err != nil {
			logger.Error("invalid pipeline defaults", "path", path, "error", err)
			os.Exit(2)
		}
	}

	maxConcurrentRuns, err := env.Int("ANDRONOMA_MAX_CONCURRENT_RUNS", 4)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	if maxConcurrentRuns < 1 {
		logger.Error("ANDRONOMA_MAX_CONCURRENT_RUNS must be >= 1", "value", maxConcurrentRuns)
		os.Exit(2)
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := repopg.Migrate(db); err != nil {
		logger.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	storeClient, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		logger.Error("object store client init failed", "error", err)
		os.Exit(2)
	}
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := objectstore.EnsureBucket(startupCtx, storeClient, storeCfg); err != nil {
		cancel()
		logger.Error("object store unavailable", "error", err)
		os.Exit(1)
	}
	cancel()

	runStore := repopg.NewRunStore(db)
	stageStore := repopg.NewStageStore(db)
	logStore := repopg.NewLogStore(db)
	assetStore := repopg.NewAssetStore(db)

	broker := logbroker.NewBroker()
	emitter := logbroker.NewEmitter(logStore, broker, logger)
	sink := assets.NewSink(storeClient, storeCfg.Bucket, assetStore)

	scrapeClient := &http.Client{Timeout: 20 * time.Second}
	registry, err := stage.NewRegistry(stages.All(scrapeClient, assetStore, defaults)...)
	if err != nil {
		logger.Error("stage registry init failed", "error", err)
		os.Exit(2)
	}

	runner := stage.NewRunner(runStore, stageStore, emitter, registry, sink)
	dispatcher := dispatch.NewChainDispatcher(runner, logger, int64(maxConcurrentRuns))
	orch := orchestrator.New(runStore, stageStore, emitter, dispatcher, defaults.BaseBudget)

	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}
	var authenticator auth.Authenticator
	switch authCfg.Mode {
	case auth.ModeOIDC:
		oidcAuth, err := auth.NewOIDCAuthenticator(ctx, authCfg)
		if err != nil {
			logger.Error("oidc init failed", "error", err)
			os.Exit(1)
		}
		authenticator = oidcAuth
	default:
		logger.Warn("dev auth mode enabled; all requests share one identity", "subject", authCfg.DevSubject)
		authenticator = auth.NewDevAuthenticator(authCfg)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("campaigns"))
	mux.HandleFunc(
		"/readyz",
		httpserver.ReadyzWithChecks(
			"campaigns",
			httpserver.ReadinessCheck{
				Name:  "postgres",
				Check: httpserver.WithTimeout(750*time.Millisecond, db.PingContext),
			},
			httpserver.ReadinessCheck{
				Name: "minio",
				Check: httpserver.WithTimeout(750*time.Millisecond, func(ctx context.Context) error {
					return objectstore.CheckBucket(ctx, storeClient, storeCfg)
				}),
			},
		),
	)

	api := newCampaignsAPI(logger, orch, logStore, assetStore, sink, broker)
	api.register(mux)

	handler := auth.Middleware{
		Logger:        logger,
		Authenticator: authenticator,
		Authorize:     auth.MethodRoleAuthorizer(),
		Audit: func(ctx context.Context, event auth.DenyEvent) error {
			return auditlog.InsertAuthDeny(ctx, db, "campaigns", event)
		},
		SkipPrefixes: []string{"/healthz", "/readyz"},
	}.Wrap(mux)

	err = httpserver.Run(ctx, logger, httpserver.Config{
		Service:         "campaigns",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}, httpserver.Wrap(logger, "campaigns", handler))
	if err != nil && err != http.ErrServerClosed {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelDrain()
	if err := dispatcher.Shutdown(drainCtx); err != nil {
		logger.Warn("dispatcher drain incomplete", "error", err)
	}
}
