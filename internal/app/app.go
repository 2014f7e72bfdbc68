package app

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/titleforge/server/internal/infra/httpclient"
	"github.com/titleforge/server/internal/module/analytics"
	"github.com/titleforge/server/internal/module/billing"
	"github.com/titleforge/server/internal/module/generation"
	"github.com/titleforge/server/internal/module/media"
	"github.com/titleforge/server/internal/module/payment"
	"github.com/titleforge/server/internal/module/ratelimit"
	"github.com/titleforge/server/internal/module/reputation"
	"github.com/titleforge/server/internal/module/stories"
	"github.com/titleforge/server/internal/module/trends"
	"github.com/titleforge/server/internal/module/user"
	"github.com/titleforge/server/internal/shared/cache"
	"github.com/titleforge/server/internal/shared/config"
	"github.com/titleforge/server/internal/shared/database"
	"github.com/titleforge/server/internal/shared/logger"
	"github.com/titleforge/server/internal/utils/metrics"
	"github.com/titleforge/server/internal/utils/middleware"
)

// App wires the modules together and owns their shared resources.
type App struct {
	config  *config.Config
	logger  *zap.Logger
	db      *gorm.DB
	redis   *redis.Client
	router  *gin.Engine
	metrics *metrics.Metrics
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	log, err := logger.New(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	if err := db.AutoMigrate(
		&user.User{},
		&reputation.Reputation{},
		&trends.Trend{},
		&trends.Vote{},
		&stories.SuccessStory{},
		&payment.ProcessedEvent{},
	); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	redisClient, err := cache.NewRedisClient(&cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}

	app := &App{
		config:  cfg,
		logger:  log,
		db:      db,
		redis:   redisClient,
		metrics: metrics.New(""),
	}
	app.router = app.buildRouter()
	return app, nil
}

func (a *App) buildRouter() *gin.Engine {
	cfg := a.config

	// Rate limiting
	limiter := ratelimit.NewLimiter(
		ratelimit.NewFixedWindow(a.redis),
		ratelimit.TableFromConfig(&cfg.RateLimit),
		a.logger,
	)
	byUser := ratelimit.KeyFunc(func(c *gin.Context) string {
		return user.EmailFromContext(c)
	})
	generateLimit := ratelimit.Middleware(limiter, ratelimit.OpGenerate, byUser, a.metrics)
	paymentLimit := ratelimit.Middleware(limiter, ratelimit.OpPayment, byUser, a.metrics)
	authLimit := ratelimit.Middleware(limiter, ratelimit.OpAuth, nil, a.metrics)
	settingsLimit := ratelimit.Middleware(limiter, ratelimit.OpSettings, byUser, a.metrics)

	// Billing and generation
	tracker := billing.NewTracker(a.redis, &cfg.Quota, a.logger)
	provider := generation.NewOpenAIProvider(&cfg.OpenAI, httpclient.New(cfg.OpenAI.Timeout), a.logger)
	generationHandler := generation.NewHandler(tracker, provider, a.metrics, a.logger)

	// Users and auth
	jwtManager := user.NewJWTManager(&cfg.Auth)
	userRepo := user.NewRepository(a.db)
	reputationRepo := reputation.NewRepository(a.db)
	settingsStore := user.NewSettingsStore(a.redis)
	userHandler := user.NewHandler(
		user.NewGoogleProvider(&cfg.OAuth),
		userRepo,
		jwtManager,
		settingsStore,
		reputationRepo,
		a.redis,
		&cfg.Auth,
		cfg.Server.FrontendURL,
		a.logger,
	)

	// Payments
	paymentService := payment.NewService(&cfg.Stripe)
	webhookHandler := payment.NewWebhookHandler(
		paymentService,
		tracker,
		payment.NewEventStore(a.db),
		a.metrics,
		a.logger,
	)
	paymentHandler := payment.NewHandler(paymentService, webhookHandler, a.logger)

	// Community
	imageStore, err := media.NewStore(&cfg.Storage)
	if err != nil {
		a.logger.Warn("image uploads disabled", zap.Error(err))
		imageStore = nil
	}
	trendsHandler := trends.NewHandler(
		trends.NewService(trends.NewRepository(a.db), imageStore, reputationRepo, a.logger),
		a.logger,
	)
	storiesHandler := stories.NewHandler(
		stories.NewService(a.db, imageStore, reputationRepo, a.logger),
		a.logger,
	)

	// Analytics
	analyticsHandler := analytics.NewHandler(analytics.NewService(tracker), a.logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(
		middleware.RequestID(),
		middleware.Logging(a.logger),
		middleware.Recovery(a.logger),
		middleware.CORS(middleware.DefaultCORSConfig()),
		middleware.Metrics(a.metrics),
	)

	router.GET("/healthz", a.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	userHandler.RegisterAuthRoutes(api, authLimit)
	webhookHandler.RegisterRoutes(api)

	authed := api.Group("", user.SessionAuth(jwtManager, cfg.Auth.CookieName))
	generationHandler.RegisterRoutes(authed, generateLimit)
	analyticsHandler.RegisterRoutes(authed, settingsLimit)
	userHandler.RegisterUserRoutes(authed, settingsLimit)
	trendsHandler.RegisterRoutes(authed)
	storiesHandler.RegisterRoutes(authed)
	paymentHandler.RegisterRoutes(authed, paymentLimit)

	return router
}

func (a *App) health(c *gin.Context) {
	ctx := c.Request.Context()

	status := http.StatusOK
	checks := gin.H{"redis": "ok", "database": "ok"}

	if err := a.redis.Ping(ctx).Err(); err != nil {
		checks["redis"] = "down"
		status = http.StatusServiceUnavailable
	}
	if sqlDB, err := a.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		checks["database"] = "down"
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, checks)
}

// Router returns the HTTP handler.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Stop releases the application's resources.
func (a *App) Stop() {
	if err := cache.Close(a.redis); err != nil {
		a.logger.Warn("close redis", zap.Error(err))
	}
	if err := database.Close(a.db); err != nil {
		a.logger.Warn("close database", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// Logger exposes the application logger for the process entrypoint.
func (a *App) Logger() *zap.Logger {
	return a.logger
}
