package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-function-engine/internal/action"
	"gitlab.com/timkado/api/daisi-function-engine/internal/ai"
	"gitlab.com/timkado/api/daisi-function-engine/internal/cache"
	"gitlab.com/timkado/api/daisi-function-engine/internal/config"
	"gitlab.com/timkado/api/daisi-function-engine/internal/counter"
	"gitlab.com/timkado/api/daisi-function-engine/internal/crm"
	"gitlab.com/timkado/api/daisi-function-engine/internal/delivery"
	"gitlab.com/timkado/api/daisi-function-engine/internal/extraction"
	"gitlab.com/timkado/api/daisi-function-engine/internal/jetstream"
	"gitlab.com/timkado/api/daisi-function-engine/internal/mailer"
	"gitlab.com/timkado/api/daisi-function-engine/internal/observer"
	"gitlab.com/timkado/api/daisi-function-engine/internal/schedule"
	"gitlab.com/timkado/api/daisi-function-engine/internal/server"
	"gitlab.com/timkado/api/daisi-function-engine/internal/storage"
	"gitlab.com/timkado/api/daisi-function-engine/internal/trigger"
	"gitlab.com/timkado/api/daisi-function-engine/internal/usecase"
	"gitlab.com/timkado/api/daisi-function-engine/internal/webhook"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/logger"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/utils"
)

const (
	serviceName     = "daisi-function-engine"
	shutdownTimeout = 30 * time.Second
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	time.Local = time.UTC

	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Initialize(cfg.LogLevel, zap.String("service", serviceName)); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	observer.InitMetrics(cfg.Metrics.Enabled)

	log := logger.Log
	log.Info("Starting function engine",
		zap.String("version", version),
		zap.String("environment", cfg.Environment),
		zap.String("company_id", cfg.Company.ID),
	)
	if cfg.Company.ID == "" {
		log.Fatal("company.id is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// storage
	if cfg.Database.PostgresDSN == "" {
		log.Fatal("database.postgresDSN is required")
	}
	pg, err := storage.NewPostgresRepo(cfg.Database.PostgresDSN, cfg.Database.PostgresAutoMigrate, cfg.Company.ID)
	if err != nil {
		log.Fatal("Failed to initialize Postgres repository", zap.Error(err))
	}
	functions := storage.NewFunctionRepoAdapter(pg)
	executions := storage.NewExecutionRepoAdapter(pg)
	schedules := storage.NewScheduleRepoAdapter(pg)
	conversations := storage.NewConversationRepoAdapter(pg)

	js, err := jetstream.NewClient(ctx, cfg.NATS.URL, serviceName+"-"+cfg.Company.ID)
	if err != nil {
		log.Fatal("Failed to connect to NATS", zap.Error(err))
	}

	counters, redisClient := initCounterStore(ctx, cfg)

	publisher := delivery.NewPublisher(js, counter.NewDeduper(counters, cfg.Engine.DeliveryDedupWindow),
		cfg.NATS.OutboundStream, cfg.NATS.OutboundSubject, cfg.NATS.NotificationSubject)
	if err := publisher.Setup(ctx); err != nil {
		log.Fatal("Failed to set up outbound stream", zap.Error(err))
	}

	// collaborators
	aiClient := initAIClient(cfg.AI)
	crms := crm.NewRegistryFromConfig(cfg.CRM)
	log.Info("CRM providers configured", zap.Strings("providers", crms.Providers()))

	actions := action.NewRunner(crms, initMailer(cfg.SMTP), cfg.Engine.ActionHTTPTimeout)
	extractor := extraction.NewExtractor(aiClient, cfg.Engine.HistoryWindow)
	evaluator := trigger.NewEvaluator(aiClient, cfg.Engine.IntentThreshold)
	executor := usecase.NewExecutor(executions, conversations, extractor, actions, publisher, cfg.Engine.HistoryWindow)

	functionCache := cache.NewFunctionCache(cfg.Company.ID, cfg.Webhook.CacheSize, cfg.Webhook.CacheTTL)

	// inbound conversation messages and function change events
	service := usecase.NewMessageService(functions, conversations, evaluator, executor)
	processor := usecase.NewProcessor(service, js, cfg, cfg.Company.ID)
	processor.WatchFunctionChanges(functionCache)
	if err := processor.Setup(); err != nil {
		log.Fatal("Failed to set up processor", zap.Error(err))
	}

	runner, err := schedule.NewRunner(schedules, functions, conversations, executor, counters, publisher,
		cfg.WorkerPools.Scheduler, cfg.Company.ID)
	if err != nil {
		log.Fatal("Failed to create schedule runner", zap.Error(err))
	}

	ingress := webhook.NewIngress(functions, conversations, executor, functionCache,
		counter.NewRateLimiter(counters), cfg.Webhook, cfg.Company.ID)

	opts := server.Options{
		Version:       version,
		ReadTimeout:   cfg.Server.ReadTimeout,
		WriteTimeout:  cfg.Server.WriteTimeout,
		Checks:        readinessChecks(pg, js, redisClient),
		Webhook:       ingress.Handler(),
		Schedules:     runner,
		CRMs:          crms,
		FunctionCache: functionCache,
	}
	if cfg.Metrics.Enabled {
		opts.Metrics = promhttp.Handler()
	}
	httpServer := server.NewServer(strconv.Itoa(cfg.Server.Port), log, opts)
	httpServer.Start()

	if err := processor.Start(); err != nil {
		log.Fatal("Failed to start processor", zap.Error(err))
	}

	var schedulerDone sync.WaitGroup
	schedulerDone.Add(1)
	utils.SafeGo(func() {
		defer schedulerDone.Done()
		runner.Start(ctx, cfg.Engine.ScheduleTick)
	}, func(r interface{}, stack []byte) {
		log.Error("[panic] schedule runner crashed", zap.Any("panic", r), zap.ByteString("stack", stack))
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("Received termination signal", zap.String("signal", sig.String()))

	cancel()
	shutdown(log, []component{
		{"http server", func(ctx context.Context) error { return httpServer.Stop(ctx) }},
		{"processor", func(context.Context) error { processor.Stop(); return nil }},
		{"schedule runner", func(context.Context) error {
			schedulerDone.Wait()
			runner.Close()
			return nil
		}},
	})
	// connections close after every user of them stopped
	shutdown(log, []component{
		{"postgres", pg.Close},
		{"nats", func(context.Context) error { js.Close(); return nil }},
		{"redis", func(context.Context) error {
			if redisClient == nil {
				return nil
			}
			return redisClient.Close()
		}},
	})
	log.Info("Function engine shutdown complete")
}

type component struct {
	name string
	stop func(ctx context.Context) error
}

// shutdown stops components concurrently and waits up to shutdownTimeout.
func shutdown(log *zap.Logger, components []component) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(len(components))
	for _, c := range components {
		c := c
		utils.SafeGo(func() {
			defer wg.Done()
			start := time.Now()
			if err := c.stop(ctx); err != nil {
				log.Error("[shutdown] Failed to stop "+c.name, zap.Error(err))
				return
			}
			log.Info("[shutdown] Stopped "+c.name, zap.Duration("duration", time.Since(start)))
		}, func(r interface{}, stack []byte) {
			log.Error("[shutdown] Panic while stopping "+c.name, zap.Any("panic", r), zap.ByteString("stack", stack))
		})
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn("[shutdown] Timed out, forcing exit")
	}
}

// initCounterStore returns the Redis store when enabled, else an in-memory one.
func initCounterStore(ctx context.Context, cfg *config.Config) (counter.Store, *redis.Client) {
	if !cfg.Redis.Enabled {
		logger.Log.Info("Using in-memory counter store")
		return counter.NewMemoryStore(), nil
	}
	client, err := counter.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	logger.Log.Info("Using Redis counter store", zap.String("addr", cfg.Redis.Addr))
	return counter.NewRedisStore(client, cfg.Redis.Prefix), client
}

func initAIClient(cfg config.AIConfig) ai.Client {
	client, err := ai.NewOpenAIClient(cfg)
	if err != nil {
		logger.Log.Warn("AI client disabled, AI triggers and extraction are off", zap.Error(err))
		return nil
	}
	return client
}

func initMailer(cfg config.SMTPConfig) mailer.Mailer {
	m, err := mailer.NewSMTPMailer(cfg)
	if err != nil {
		logger.Log.Warn("Mailer disabled; send_email actions will fail", zap.Error(err))
		return nil
	}
	return m
}

func readinessChecks(pg *storage.PostgresRepo, js *jetstream.Client, redisClient *redis.Client) []server.ReadinessCheck {
	checks := []server.ReadinessCheck{
		{Name: "postgres", Check: pg.Ping},
		{Name: "nats", Check: js.Ping},
	}
	if redisClient != nil {
		checks = append(checks, server.ReadinessCheck{Name: "redis", Check: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	}
	return checks
}
