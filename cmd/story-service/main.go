package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"story-workers/internal/api"
	"story-workers/internal/common/camunda"
	"story-workers/internal/common/config"
	"story-workers/internal/common/database"
	"story-workers/internal/common/logger"
	"story-workers/internal/common/observability"
	gs "story-workers/internal/workers/stories/generate-stories"
	rs "story-workers/internal/workers/stories/reconcile-stories"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting story service...", zap.String("environment", cfg.App.Environment))

	obs, err := observability.New(cfg.App.Name)
	if err != nil {
		zapLog.Fatal("observability init failed", zap.Error(err))
	}
	defer obs.Shutdown(context.Background())

	ctx := context.Background()
	checks := map[string]api.ReadinessCheck{}

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	checks["postgres"] = pg.Ping
	zapLog.Info("PostgreSQL connected successfully")

	if cfg.Database.Postgres.Migrate {
		if err := database.RunMigrations(pg.DB, log); err != nil {
			zapLog.Fatal("migrations failed", zap.Error(err))
		}
	}

	// --- Init Redis with retry ---
	var redis *database.RedisClient
	if cfg.LocalCache.Provider == "redis" {
		redis = database.NewRedis(cfg.Database.Redis)
		err = retryWithBackoff(func() error {
			return redis.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer redis.Close()
		checks["redis"] = redis.Ping
		zapLog.Info("Redis connected successfully")
	}

	// --- Init Elasticsearch with retry ---
	var esClient *database.ElasticsearchClient
	if cfg.Search.Enabled {
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		checks["elasticsearch"] = esClient.Ping
		zapLog.Info("Elasticsearch connected successfully")
	}

	// --- Init NATS with retry ---
	var nc *nats.Conn
	if cfg.Storage.Provider == "nats" {
		err = retryWithBackoff(func() error {
			var err error
			nc, err = nats.Connect(cfg.NATS.URL, nats.Name(cfg.App.Name))
			return err
		}, 10, 2*time.Second, zapLog, "NATS connection")
		if err != nil {
			zapLog.Fatal("nats failed after retries", zap.Error(err))
		}
		defer nc.Close()
		checks["nats"] = func(context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("nats connection is %s", nc.Status())
			}
			return nil
		}
		zapLog.Info("NATS connected successfully")
	}

	app, err := buildApp(ctx, cfg, deps{pg: pg, redis: redis, es: esClient, nats: nc}, obs, log)
	if err != nil {
		zapLog.Fatal("failed to build story service", zap.Error(err))
	}
	defer app.close()

	// --- Job Workers ---
	var workers []*camunda.CamundaWorker
	if cfg.Camunda.Enabled {
		var zeebe *camunda.Client
		err = retryWithBackoff(func() error {
			var err error
			zeebe, err = camunda.NewClient(cfg.Camunda.BrokerAddress, config.GetDuration(cfg.Camunda.RequestTimeout))
			return err
		}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
		if err != nil {
			zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
		}
		defer zeebe.Close()
		checks["zeebe"] = zeebe.HealthCheck
		zapLog.Info("Zeebe client connected successfully")

		if config.IsWorkerEnabled(cfg, gs.TaskType) {
			wcfg := config.GetWorkerConfig(cfg, gs.TaskType)
			handler := gs.NewHandler(gs.ConfigFromApp(cfg), app.service, log)
			workers = append(workers, camunda.NewWorker(zeebe.GetClient(), gs.TaskType,
				wcfg.MaxJobsActive, config.GetDuration(wcfg.Timeout), handler, log))
		}
		if config.IsWorkerEnabled(cfg, rs.TaskType) {
			wcfg := config.GetWorkerConfig(cfg, rs.TaskType)
			handler := rs.NewHandler(rs.ConfigFromApp(cfg), app.service, log)
			workers = append(workers, camunda.NewWorker(zeebe.GetClient(), rs.TaskType,
				wcfg.MaxJobsActive, config.GetDuration(wcfg.Timeout), handler, log))
		}
		log.Info("job workers registered", map[string]interface{}{"count": len(workers)})
	}

	// --- HTTP Server ---
	server := api.NewServer(api.Config{
		Port:            cfg.Server.Port,
		ReadTimeout:     config.GetDuration(cfg.Server.ReadTimeout),
		WriteTimeout:    config.GetDuration(cfg.Server.WriteTimeout),
		ShutdownTimeout: config.GetDuration(cfg.Server.ShutdownTimeout),
		Env:             envReport(cfg),
	}, app.service, app.auth, checks, obs, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		zapLog.Info("Shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			zapLog.Error("http server failed", zap.Error(err))
		}
	}

	if err := server.Shutdown(context.Background()); err != nil {
		zapLog.Error("http server shutdown failed", zap.Error(err))
	}
	for _, w := range workers {
		w.Stop()
	}

	zapLog.Info("Story service stopped")
}

// envReport tells operators which integrations are configured. It reports
// presence only, never values of secrets.
func envReport(cfg *config.Config) map[string]interface{} {
	return map[string]interface{}{
		"environment":       cfg.App.Environment,
		"openai_key_set":    cfg.OpenAI.APIKey != "",
		"openai_model":      cfg.OpenAI.Model,
		"speech_provider":   cfg.Speech.Provider,
		"storage_provider":  cfg.Storage.Provider,
		"storage_bucket":    cfg.Storage.Bucket != "",
		"local_cache":       cfg.LocalCache.Provider,
		"auth_mode":         cfg.Auth.Mode,
		"search_enabled":    cfg.Search.Enabled,
		"camunda_enabled":   cfg.Camunda.Enabled,
		"alarms_configured": cfg.Alarms.SNSTopicARN != "" || cfg.Alarms.SESFrom != "",
	}
}
