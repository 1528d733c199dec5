package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/eyecare/eyecare/internal/config"
	"github.com/eyecare/eyecare/internal/domain/dataset"
	"github.com/eyecare/eyecare/internal/domain/patient"
	"github.com/eyecare/eyecare/internal/domain/prediction"
	"github.com/eyecare/eyecare/internal/domain/report"
	"github.com/eyecare/eyecare/internal/domain/user"
	"github.com/eyecare/eyecare/internal/platform/apperr"
	"github.com/eyecare/eyecare/internal/platform/auth"
	"github.com/eyecare/eyecare/internal/platform/blobstore"
	"github.com/eyecare/eyecare/internal/platform/cache"
	"github.com/eyecare/eyecare/internal/platform/db"
	"github.com/eyecare/eyecare/internal/platform/metrics"
	"github.com/eyecare/eyecare/internal/platform/middleware"
	"github.com/eyecare/eyecare/internal/platform/notification"
	"github.com/eyecare/eyecare/internal/store/memory"
)

// passwordCost is the bcrypt cost for new password hashes.
var passwordCost = 12

// stores holds the repositories of the configured driver.
type stores struct {
	users    user.Repository
	patients patient.Repository
	reports  report.Repository
	links    report.LinkStore
	datasets dataset.Repository
	pool     *pgxpool.Pool
}

func (s *stores) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.StoreDriver == config.StoreMemory {
		return memoryStores(), nil
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, err
	}
	return &stores{
		users:    user.NewRepoPG(pool),
		patients: patient.NewRepoPG(pool),
		reports:  report.NewRepoPG(pool),
		links:    report.NewLinkStorePG(pool),
		datasets: dataset.NewRepoPG(pool),
		pool:     pool,
	}, nil
}

func memoryStores() *stores {
	m := memory.New()
	return &stores{
		users:    m.Users(),
		patients: m.Patients(),
		reports:  m.Reports(),
		links:    m.Links(),
		datasets: m.Datasets(),
	}
}

func emailSender(cfg *config.Config, logger zerolog.Logger) notification.EmailSender {
	if cfg.SMTPHost == "" {
		logger.Warn().Msg("SMTP_HOST not set, emails are written to the log")
		return notification.NewLogSender(logger)
	}
	return notification.NewSMTPSender(notification.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		User:     cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
}

func newUserService(cfg *config.Config, users user.Repository, sender notification.EmailSender, logger zerolog.Logger) *user.Service {
	return user.NewService(
		users,
		auth.NewPasswordHasher(passwordCost),
		auth.NewTokenManager(cfg.SigningKey(), cfg.JWTExpiresIn),
		notification.NewMailer(sender, notification.NewTemplateEngine()),
		cfg.CodeTTL,
		logger,
	)
}

// deps are the outside resources the HTTP server is assembled from.
type deps struct {
	cfg     *config.Config
	stores  *stores
	kv      cache.KV
	blobs   blobstore.BlobStore
	mail    notification.EmailSender
	scorer  prediction.Scorer
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func newServer(d deps) *echo.Echo {
	cfg, logger := d.cfg, d.logger

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(logger)

	tokens := auth.NewTokenManager(cfg.SigningKey(), cfg.JWTExpiresIn)
	subjects := auth.NewCachedSubjectLookup(user.NewSubjectSource(d.stores.users), d.kv, cfg.UserCacheTTL, logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(d.cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.BodyLimit("1M", cfg.MaxUploadSize))
	e.Use(middleware.Metrics(d.metrics))
	e.Use(auth.NewAuthenticator(tokens, subjects).Middleware(auth.AuthSkipper))
	e.Use(middleware.Audit(logger))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
			"store":   cfg.StoreDriver,
		})
	})
	if d.stores.pool != nil {
		e.GET("/health/db", db.HealthHandler(d.stores.pool, db.NewMigrator(d.stores.pool, cfg.MigrationsDir)))
	}
	e.GET("/metrics", echo.WrapHandler(d.metrics.Handler()))

	users := newUserService(cfg, d.stores.users, d.mail, logger)
	users.SetInvalidator(subjects)

	coordinator := prediction.NewCoordinator(d.scorer, cfg.PredictionTimeout, d.metrics, logger)
	patients := patient.NewService(d.stores.patients, users, d.blobs, logger)
	reports := report.NewService(d.stores.reports, d.stores.patients, coordinator, d.blobs, logger)
	datasets := dataset.NewService(d.stores.datasets, d.blobs, logger)

	apiV1 := e.Group("/api/v1")
	user.NewHandler(users, d.blobs, logger).RegisterRoutes(apiV1, middleware.RateLimit(middleware.AuthRateLimitConfig()))
	patient.NewHandler(patients).RegisterRoutes(apiV1)
	report.NewHandler(reports).RegisterRoutes(apiV1)
	dataset.NewHandler(datasets).RegisterRoutes(apiV1)

	return e
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	st, err := openStores(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()
	logger.Info().Str("driver", cfg.StoreDriver).Msg("store ready")

	var kv cache.KV = cache.NewMemoryKV()
	if cfg.RedisURL != "" {
		rdb, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rdb.Close()
		kv = cache.NewRedisKV(rdb)
		logger.Info().Msg("connected to redis")
	}

	var blobs blobstore.BlobStore = blobstore.NewInMemoryBlobStore()
	if cfg.BlobDir != "" {
		disk, err := blobstore.NewDiskBlobStore(cfg.BlobDir)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open blob dir")
		}
		blobs = disk
	} else {
		logger.Warn().Msg("BLOB_DIR not set, uploaded images are kept in memory")
	}

	scorer := prediction.Disabled()
	if cfg.PredictionURL != "" {
		scorer = prediction.NewHTTPScorer(cfg.PredictionURL, cfg.PredictionTimeout)
	} else {
		logger.Warn().Msg("PREDICTION_URL not set, predictions are recorded as failed")
	}

	e := newServer(deps{
		cfg:     cfg,
		stores:  st,
		kv:      kv,
		blobs:   blobs,
		mail:    emailSender(cfg, logger),
		scorer:  scorer,
		metrics: metrics.New(),
		logger:  logger,
	})

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
