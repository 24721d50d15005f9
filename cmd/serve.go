package cmd

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/vibast-solutions/ms-go-settlement/app/alert"
	"github.com/vibast-solutions/ms-go-settlement/app/controller"
	"github.com/vibast-solutions/ms-go-settlement/app/idempotency"
	"github.com/vibast-solutions/ms-go-settlement/app/provider"
	"github.com/vibast-solutions/ms-go-settlement/app/repository"
	"github.com/vibast-solutions/ms-go-settlement/app/service"
	"github.com/vibast-solutions/ms-go-settlement/app/storage"
	"github.com/vibast-solutions/ms-go-settlement/app/types"
	"github.com/vibast-solutions/ms-go-settlement/app/worker"
	"github.com/vibast-solutions/ms-go-settlement/config"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server and the persist worker pool",
	Long:  "Start the HTTP (Echo) server for jobs, payments, and provider webhooks, plus the background pool that persists finished result assets.",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// services bundles everything serve and the sweep commands share.
type services struct {
	job      *service.JobService
	payment  *service.PaymentService
	dispatch *service.DispatchService
	queue    worker.Queue
}

func runServe(_ *cobra.Command, _ []string) {
	cfg, svcs, cleanup := mustCreateServices()
	defer cleanup()

	jobController := controller.NewJobController(svcs.job)
	paymentController := controller.NewPaymentController(svcs.payment)
	webhookController := controller.NewWebhookController(svcs.dispatch)

	pool := worker.NewPool(svcs.queue, svcs.job.HandlePersistTask, cfg.Worker.Count, logrus.StandardLogger())
	pool.Start()

	e := setupHTTPServer(cfg, jobController, paymentController, webhookController)

	go func() {
		httpAddr := net.JoinHostPort(cfg.HTTP.Host, cfg.HTTP.Port)
		logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
		if err := e.Start(httpAddr); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP shutdown error")
	}
	pool.Stop()

	logrus.Info("Server stopped")
}

func setupHTTPServer(
	cfg *config.Config,
	jobController *controller.JobController,
	paymentController *controller.PaymentController,
	webhookController *controller.WebhookController,
) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"remote_ip":  v.RemoteIP,
				"host":       v.Host,
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"latency_ns": v.Latency.Nanoseconds(),
				"user_agent": v.UserAgent,
			}
			entry := logrus.WithFields(fields)
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http_request")
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())

	e.GET("/health", jobController.Health)

	jobs := e.Group("/jobs", requireRequestID(), requireAPIKey(cfg.App.APIKey))
	jobs.POST("", jobController.SubmitJob)
	jobs.GET("", jobController.ListJobs)
	jobs.GET("/:id", jobController.GetJob)
	jobs.POST("/:id/fail", jobController.FailJob)

	payments := e.Group("/payments", requireRequestID(), requireAPIKey(cfg.App.APIKey))
	payments.POST("", paymentController.RegisterPayment)
	payments.GET("", paymentController.ListPayments)
	payments.GET("/:id", paymentController.GetPayment)

	// Webhooks carry no API key; the payload signature is the authentication.
	// Providers do not send a request id, so one is minted for log correlation.
	webhooks := e.Group("/webhooks/providers", assignRequestID())
	webhooks.POST("/:provider", webhookController.HandleWebhook)

	return e
}

func requireRequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			requestID := strings.TrimSpace(ctx.Request().Header.Get(echo.HeaderXRequestID))
			if requestID == "" {
				return ctx.JSON(http.StatusBadRequest, &types.ErrorResponse{Error: "x-request-id header is required"})
			}
			ctx.Response().Header().Set(echo.HeaderXRequestID, requestID)
			return next(ctx)
		}
	}
}

func assignRequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			requestID := strings.TrimSpace(ctx.Request().Header.Get(echo.HeaderXRequestID))
			if requestID == "" {
				requestID = uuid.NewString()
				ctx.Request().Header.Set(echo.HeaderXRequestID, requestID)
			}
			ctx.Response().Header().Set(echo.HeaderXRequestID, requestID)
			return next(ctx)
		}
	}
}

func requireAPIKey(apiKey string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if apiKey == "" {
				return next(ctx)
			}
			provided := strings.TrimSpace(ctx.Request().Header.Get("X-API-Key"))
			if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
				return ctx.JSON(http.StatusUnauthorized, &types.ErrorResponse{Error: "invalid api key"})
			}
			return next(ctx)
		}
	}
}

func mustCreateServices() (*config.Config, *services, func()) {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		logrus.WithError(err).Fatal("Failed to ping database")
	}

	jobRepo := repository.NewJobRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	paymentEventRepo := repository.NewPaymentEventRepository(db)
	webhookEventRepo := repository.NewWebhookEventRepository(db)

	var (
		redisClient *redis.Client
		dedup       idempotency.Store
		queue       worker.Queue
	)
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			_ = db.Close()
			logrus.WithError(err).Fatal("Failed to ping redis")
		}
		dedup = idempotency.NewRedisStore(redisClient, cfg.Sweeps.IdempotencyRetention)
		queue = worker.NewRedisQueue(redisClient, cfg.Worker.QueueName)
	} else {
		logrus.Warn("REDIS_ADDR is not set, using in-process dedup store and task queue")
		dedup = idempotency.NewMemoryStore(cfg.Sweeps.IdempotencyRetention)
		queue = worker.NewMemoryQueue(0)
	}

	objectStore, err := storage.NewS3Store(context.Background(), cfg.S3, logrus.StandardLogger())
	if err != nil {
		_ = db.Close()
		logrus.WithError(err).Fatal("Failed to initialize object storage")
	}

	generationAdapter := provider.NewGenerationAdapter(provider.GenerationConfig{
		BaseURL:       cfg.Generation.BaseURL,
		APIKey:        cfg.Generation.APIKey,
		WebhookSecret: cfg.Generation.WebhookSecret,
		HTTPTimeout:   cfg.Generation.HTTPTimeout,
	})
	gatewayAdapter := provider.NewGatewayAdapter(provider.GatewayConfig{
		WebhookSecret:             cfg.Gateway.WebhookSecret,
		SignatureToleranceSeconds: cfg.Gateway.SignatureToleranceSeconds,
	})
	providerRegistry := provider.NewRegistry(generationAdapter, gatewayAdapter)

	alerts := alert.NewLogAlerter(logrus.StandardLogger())
	assetService := service.NewAssetService(objectStore, cfg.Assets)
	jobService := service.NewJobService(jobRepo, generationAdapter, queue, assetService, alerts, cfg.Sweeps)
	paymentService := service.NewPaymentService(paymentRepo, paymentEventRepo, alerts)
	dispatchService := service.NewDispatchService(
		providerRegistry,
		dedup,
		webhookEventRepo,
		jobService,
		paymentService,
		cfg.Sweeps,
	)

	cleanup := func() {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logrus.WithError(err).Warn("Failed to close redis client")
			}
		}
		if err := db.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close database")
		}
	}

	return cfg, &services{
		job:      jobService,
		payment:  paymentService,
		dispatch: dispatchService,
		queue:    queue,
	}, cleanup
}
