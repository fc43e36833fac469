package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cloudsignup/backend/src/gateway"
	"github.com/cloudsignup/backend/src/handler"
	"github.com/cloudsignup/backend/src/notification"
	"github.com/cloudsignup/backend/src/repository"
	"github.com/cloudsignup/backend/src/service"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	postgresDriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

type Application struct {
	config           AppConfig
	database         *gorm.DB
	redis            *redis.Client
	TokenService     *service.TokenService
	ChallengeService *service.ChallengeService
	SweepService     *service.SweepService
}

func NewApplication(ctx context.Context, config AppConfig) (*Application, error) {
	logger := zerolog.Ctx(ctx).With().Str("function", "NewApplication").Logger()

	database, err := OpenDatabase(ctx, config)
	if err != nil {
		return nil, err
	}

	challengeRepo, err := PrepareChallengeStore(ctx, database, config)
	if err != nil {
		return nil, err
	}

	var rdb *redis.Client
	var limiter service.RateLimiter
	if *config.RedisURL != "" {
		redisOpts, err := redis.ParseURL(*config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis URL: %w", err)
		}

		rdb = redis.NewClient(redisOpts)

		// Test Redis connection
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connection to redis failed: %w", err)
		}
		logger.Info().Msg("Redis connection established")

		limiter = repository.NewRedisRateLimiter(rdb, *config.RateLimitMax, *config.RateLimitWindow)
	} else {
		logger.Info().Msg("REDIS_URL not set, rate limiting in memory")
		limiter = repository.NewMemoryRateLimiter(*config.RateLimitMax, *config.RateLimitWindow)
	}

	accounts := gateway.NewAccountsClient(gateway.Config{
		BaseURL:   *config.AccountsAPIURL,
		AccessKey: *config.AccountsAccessKey,
		SecretKey: *config.AccountsSecretKey,
	}, http.DefaultClient)

	notifier := notification.NewNotifier(accounts, newDispatcher(config), *config.MailFrom)
	logger.Info().Str("provider", *config.MailProvider).Msg("Mail provider configured")

	if err := service.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	tokenService := service.NewTokenService(challengeRepo)
	challengeService := service.NewChallengeService(tokenService, accounts, notifier, limiter)
	sweepService := service.NewSweepService(tokenService, service.SweepConfig{
		SweepInterval: *config.SweepInterval,
	})

	return &Application{
		config:           config,
		database:         database,
		redis:            rdb,
		TokenService:     tokenService,
		ChallengeService: challengeService,
		SweepService:     sweepService,
	}, nil
}

// OpenDatabase connects to the token store and checks the connection.
func OpenDatabase(ctx context.Context, config AppConfig) (*gorm.DB, error) {
	logger := zerolog.Ctx(ctx).With().Str("function", "OpenDatabase").Logger()

	database, err := gorm.Open(postgresDriver.Open(*config.DSN), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connection to database failed: %w", err)
	}

	// Test database connection
	db, err := database.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying database connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("connection to database failed: %w", err)
	}

	logger.Info().Msg("Database connection established")
	return database, nil
}

// PrepareChallengeStore brings the challenge table up to date. The default
// table is owned by the SQL migrations; a prefixed table is created from the
// model.
func PrepareChallengeStore(ctx context.Context, database *gorm.DB, config AppConfig) (*repository.ChallengeRepository, error) {
	logger := zerolog.Ctx(ctx).With().Str("function", "PrepareChallengeStore").Logger()

	challengeRepo := repository.NewChallengeRepository(database, *config.TablePrefix)

	if *config.TablePrefix == "" {
		if err := MigrationUp(*config.DSN, *config.MigrationPath); err != nil {
			return nil, err
		}
	} else if err := challengeRepo.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate %s: %w", challengeRepo.TableName(), err)
	}

	logger.Info().Str("table", challengeRepo.TableName()).Msg("Challenge table ready")
	return challengeRepo, nil
}

func newDispatcher(config AppConfig) notification.Dispatcher {
	if *config.MailProvider == MailProviderSMTP {
		return notification.NewSMTPDispatcher(notification.SMTPConfig{
			Host:     *config.SMTPHost,
			Port:     *config.SMTPPort,
			Username: *config.SMTPUser,
			Password: *config.SMTPPassword,
			SSL:      *config.SMTPSSL,
		})
	}
	return notification.NewSendGridDispatcher(*config.SendGridHost)
}

func (app *Application) Shutdown(ctx context.Context) {
	logger := zerolog.Ctx(ctx).With().Str("function", "Shutdown").Logger()

	// Close database connection
	if app.database != nil {
		db, err := app.database.DB()
		if err != nil {
			logger.Error().Err(err).Msg("Failed to get underlying database connection")
		} else {
			if err := db.Close(); err != nil {
				logger.Error().Err(err).Msg("Failed to close database connection")
			} else {
				logger.Info().Msg("Database connection closed")
			}
		}
	}

	// Close Redis connection
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close redis connection")
		} else {
			logger.Info().Msg("Redis connection closed")
		}
	}
}

func (app *Application) RunHTTPServer(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	logger := zerolog.Ctx(ctx).With().Str("function", "RunHTTPServer").Logger()

	// Set to release mode to disable Gin logger
	gin.SetMode(gin.ReleaseMode)

	ginRouter := gin.New()
	ginRouter.Use(gin.Recovery())

	// Register routes
	app.registerRoutes(ctx, ginRouter)

	// Build HTTP server
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", *app.config.Port),
		Handler: ginRouter,
	}

	// Start server in goroutine
	go func() {
		zerolog.Ctx(ctx).Info().Msgf("HTTP server is on http://localhost:%s/health", *app.config.Port)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			zerolog.Ctx(ctx).Panic().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	// Wait for context cancellation
	<-ctx.Done()

	logger.Info().Msg("Gracefully shutting down HTTP server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Shutdown server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to shutdown HTTP server gracefully")
	} else {
		logger.Info().Msg("HTTP server shutdown complete")
	}
}

func (app *Application) RunSweepWorker(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	logger := zerolog.Ctx(ctx).With().Str("function", "RunSweepWorker").Logger()
	logger.Info().Msg("Starting sweep worker")

	if err := app.SweepService.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("Sweep worker stopped unexpectedly")
		return
	}

	logger.Info().Msg("Sweep worker stopped")
}

func (app *Application) registerRoutes(ctx context.Context, router *gin.Engine) {
	// Configure CORS
	config := cors.DefaultConfig()
	config.AllowOrigins = *app.config.AllowOrigins
	config.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With", "X-Request-ID"}
	config.AllowCredentials = true

	router.Use(cors.New(config))

	challengeHandler := handler.NewChallengeHandler(app.ChallengeService, *app.config.AllowOrigins, *app.config.PublicURL)

	handler.RegisterRoutes(ctx, router, challengeHandler, promhttp.Handler())
}
