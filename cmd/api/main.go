package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/aws-agent/verity/internal/api/handlers"
	"github.com/aws-agent/verity/internal/audit"
	"github.com/aws-agent/verity/internal/cache/redis"
	"github.com/aws-agent/verity/internal/engine"
	"github.com/aws-agent/verity/internal/llm"
	"github.com/aws-agent/verity/internal/metrics"
	"github.com/aws-agent/verity/internal/middleware/ratelimit"
	"github.com/aws-agent/verity/internal/middleware/security"
	"github.com/aws-agent/verity/internal/middleware/validation"
	"github.com/aws-agent/verity/internal/safety"
	"github.com/aws-agent/verity/internal/storage/sqlite"
	"github.com/aws-agent/verity/internal/telemetry"
	"github.com/aws-agent/verity/pkg/circuitbreaker"
	"github.com/aws-agent/verity/pkg/config"
	appLogger "github.com/aws-agent/verity/pkg/logger"
	"github.com/aws-agent/verity/pkg/utils"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to verity.yaml")
	flag.Parse()

	loader := config.NewLoader(*configPath)
	cfg, err := loader.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Verity API Server",
		zap.String("version", version),
		zap.String("config_file", loader.ConfigFile()),
	)

	shutdownTracing, err := telemetry.Init(context.Background(), cfg.Tracing, telemetry.Options{
		ServiceName:    "verity-api",
		ServiceVersion: version,
		Environment:    cfg.Server.Environment,
	})
	if err != nil {
		appLogger.Fatal("Failed to initialize tracing", zap.Error(err))
	}

	metrics.Init()

	sinks := audit.Multi{
		audit.NewLogSink(appLogger.Named("audit")),
		metrics.NewSink(),
	}

	var sqliteClient *sqlite.Client
	if cfg.SQLite.Enabled {
		sqliteClient, err = sqlite.NewClient(cfg.SQLite.Path)
		if err != nil {
			appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
		}
		defer sqliteClient.Close()

		if err := sqliteClient.InitSchema(); err != nil {
			appLogger.Fatal("Failed to initialize schema", zap.Error(err))
		}
		sinks = append(sinks, sqliteClient)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewClient(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.ModerationTTL,
		)
		if err != nil {
			appLogger.Fatal("Failed to create Redis client", zap.Error(err))
		}
		defer redisClient.Close()
		sinks = append(sinks, redisClient)
	}

	opts := []engine.Option{
		engine.WithSink(sinks),
		engine.WithBreaker(circuitbreaker.NewCircuitBreaker("regenerate", circuitbreaker.Config{
			FailureThreshold: cfg.Generation.BreakerFailures,
			Timeout:          cfg.Generation.BreakerTimeout,
			IsFailure:        engine.IsGenerationFailure,
			OnStateChange:    metrics.ObserveBreaker,
			Logger:           appLogger.Named("breaker"),
		})),
	}
	if checker := safetyChecker(cfg, redisClient); checker != nil {
		opts = append(opts, engine.WithSafetyChecker(checker))
	}

	eng, err := engine.New(cfg, opts...)
	if err != nil {
		appLogger.Fatal("Failed to create engine", zap.Error(err))
	}

	loader.Watch(func(next *config.Config) {
		if err := eng.Reload(next); err != nil {
			appLogger.Error("Rejected configuration reload", zap.Error(err))
			return
		}
		appLogger.Info("Configuration reloaded")
	}, func(err error) {
		appLogger.Error("Invalid configuration change ignored", zap.Error(err))
	})

	var regenerate engine.RegenerateFunc
	if cfg.LLM.APIKey != "" {
		regenerate = llm.NewClient(cfg.LLM).Regenerate
	} else {
		appLogger.Warn("No LLM API key configured; server-side regeneration disabled")
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	allowOrigins := "*"
	if len(cfg.Server.AllowedOrigins) > 0 {
		allowOrigins = strings.Join(cfg.Server.AllowedOrigins, ",")
	}

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerSecond: cfg.Server.RateLimit,
		Burst:             cfg.Server.RateBurst,
		Logger:            appLogger.Named("ratelimit"),
	})
	defer limiter.Stop()

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-API-Key",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		IsDevelopment:  cfg.Server.Environment == "development",
	}))

	validationCfg := validation.Config{Logger: appLogger.Named("validation")}
	evaluateHandler := handlers.NewEvaluateHandler(eng, regenerate, validationCfg)
	wsHandler := handlers.NewWebSocketHandler(evaluateHandler, cfg.Engine.Deadline+5*time.Second)

	app.Get("/metrics", metrics.MetricsHandler())

	api := app.Group("/api/v1")

	api.Post("/evaluate", limiter.Middleware(), validation.Middleware(validationCfg), evaluateHandler.HandleEvaluate)

	if sqliteClient != nil {
		historyHandler := handlers.NewHistoryHandler(sqliteClient)
		api.Get("/evaluations", historyHandler.ListEvaluations)
		api.Get("/evaluations/reasons", historyHandler.ReasonTotals)
		api.Get("/evaluations/:id", historyHandler.GetEvaluation)
	}
	if redisClient != nil {
		api.Get("/stats", handlers.NewStatsHandler(redisClient).GetStats)
	}

	api.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/ws", websocket.New(wsHandler.HandleConnection))

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"time":    time.Now().Unix(),
			"breaker": eng.Breaker().Snapshot(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		checks := fiber.Map{}
		ready := true
		if sqliteClient != nil {
			checks["sqlite"] = probe(ctx, sqliteClient.Ping, &ready)
		}
		if redisClient != nil {
			checks["redis"] = probe(ctx, redisClient.Ping, &ready)
		}

		status := fiber.StatusOK
		state := "ready"
		if !ready {
			status = fiber.StatusServiceUnavailable
			state = "not_ready"
		}
		return c.Status(status).JSON(fiber.Map{
			"status": state,
			"checks": checks,
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(ctx); err != nil {
		appLogger.Error("Failed to flush traces", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}

// safetyChecker returns nil when the built-in lexicon should be used.
func safetyChecker(cfg *config.Config, cache *redis.Client) safety.Checker {
	if cfg.Validators.Ethics.Provider != "openai" {
		return nil
	}
	var checker safety.Checker = llm.NewModerationChecker(cfg.LLM)
	if cache != nil {
		checker = safety.NewCachedChecker(checker, cache, utils.HashString)
	}
	return checker
}

func probe(ctx context.Context, ping func(context.Context) error, ready *bool) string {
	if err := ping(ctx); err != nil {
		*ready = false
		return err.Error()
	}
	return "ok"
}
