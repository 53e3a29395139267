package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/craftzone/craftzone-api/internal/config"
	"github.com/craftzone/craftzone-api/internal/domain/abuse"
	"github.com/craftzone/craftzone-api/internal/domain/admin"
	"github.com/craftzone/craftzone-api/internal/domain/auth"
	"github.com/craftzone/craftzone-api/internal/domain/ledger"
	"github.com/craftzone/craftzone-api/internal/domain/notification"
	"github.com/craftzone/craftzone-api/internal/domain/reconcile"
	"github.com/craftzone/craftzone-api/internal/domain/reward"
	"github.com/craftzone/craftzone-api/internal/domain/settings"
	"github.com/craftzone/craftzone-api/internal/domain/store"
	"github.com/craftzone/craftzone-api/internal/domain/user"
	"github.com/craftzone/craftzone-api/internal/domain/vote"
	"github.com/craftzone/craftzone-api/internal/domain/withdrawal"
	"github.com/craftzone/craftzone-api/internal/middleware"
	"github.com/craftzone/craftzone-api/internal/pkg/cache"
	"github.com/craftzone/craftzone-api/internal/pkg/clock"
	"github.com/craftzone/craftzone-api/internal/pkg/database"
	"github.com/craftzone/craftzone-api/internal/pkg/email"
	"github.com/craftzone/craftzone-api/internal/pkg/jwt"
	"github.com/craftzone/craftzone-api/internal/pkg/logger"
	"github.com/craftzone/craftzone-api/internal/pkg/metrics"
	pkgresponse "github.com/craftzone/craftzone-api/internal/pkg/response"
	"github.com/craftzone/craftzone-api/internal/pkg/storage"
)

const (
	eventBufferSize  = 1024
	rateSweepEvery   = 5 * time.Minute
	shutdownDeadline = 30 * time.Second
)

func main() {
	cfg := config.Load()
	if err := logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env, LogFile: cfg.LogFile}); err != nil {
		log.Fatal().Err(err).Msg("Failed to init logger")
	}

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting CraftZone API")

	db, err := database.NewPostgres(cfg.DatabaseURL, database.PoolConfig{})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	if cfg.AutoMigrate {
		if err := database.Migrate(context.Background(), db); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply migrations")
		}
	}

	rdb, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(rdb)

	clk := clock.RealClock{}
	runner := database.NewTxRunner(db, cfg.TxMaxRetries, cfg.TxRetryBackoff)
	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)
	guard := abuse.New(rdb, clk)
	appCache := cache.New(rdb, "craftzone:cache:")
	tokenStore := cache.New(rdb, "craftzone:auth:")

	emailService := email.NewService(email.NewSender(email.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.EmailFrom,
		FromName:  cfg.EmailFromName,
	}))
	defer emailService.Close()

	blob, err := newBlobStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create blob storage")
	}

	// ---------- Repositories ----------
	userRepo := user.NewRepository(db)
	ledgerRepo := ledger.NewRepository(runner)
	rewardRepo := reward.NewRepository(runner, ledgerRepo)
	storeRepo := store.NewRepository(runner, ledgerRepo)
	withdrawalRepo := withdrawal.NewRepository(runner, ledgerRepo)
	voteRepo := vote.NewRepository(runner)
	settingsRepo := settings.NewRepository(db)
	auditRepo := notification.NewAuditRepository(db)

	// ---------- Notifications ----------
	hub := notification.NewHub(rdb)
	go hub.Run()
	dispatcher := notification.NewDispatcher(eventBufferSize,
		auditRepo,
		hub,
		notification.NewMailer(emailService, userRepo, cfg.FrontendURL),
	)

	// ---------- Services ----------
	ledgerService := ledger.NewService(ledgerRepo, dispatcher)
	settingsService := settings.NewService(settingsRepo, appCache, cfg.SettingsCacheTTL, dispatcher, cfg.ReferralRewardDefault)
	rewardService := reward.NewService(rewardRepo, userRepo, ledgerService, guard, settingsService,
		abuse.Policy{Class: abuse.ClassReferralApply, Window: cfg.ReferralWindow, MaxAttempts: cfg.ReferralMaxPerAddr},
		dispatcher)
	storeService := store.NewService(storeRepo, ledgerService, dispatcher)
	withdrawalService := withdrawal.NewService(withdrawalRepo, ledgerService, appCache, dispatcher, cfg.WithdrawalMinAmount)
	voteService := vote.NewService(voteRepo, guard, abuse.Policy{Class: abuse.ClassVote, Window: cfg.VoteCooldown, MaxAttempts: 1})
	reconcileService := reconcile.NewService(ledgerService, blob, dispatcher, clk)
	authService := auth.NewService(userRepo, jwtService, tokenStore, rewardService, guard, emailService, auth.Config{
		RefreshTTL:  cfg.JWTRefreshTTL,
		FrontendURL: cfg.FrontendURL,
		ResetPolicy: abuse.Policy{Window: cfg.PasswordResetWindow, MaxAttempts: cfg.PasswordResetMax},
	})

	// ---------- Handlers ----------
	authHandler := auth.NewHandler(authService)
	ledgerHandler := ledger.NewHandler(ledgerService)
	rewardHandler := reward.NewHandler(rewardService)
	storeHandler := store.NewHandler(storeService)
	withdrawalHandler := withdrawal.NewHandler(withdrawalService)
	voteHandler := vote.NewHandler(voteService)
	settingsHandler := settings.NewHandler(settingsService)
	notificationHandler := notification.NewHandler(auditRepo, hub, cfg.AllowedOrigins)
	reconcileHandler := reconcile.NewHandler(reconcileService, rdb)

	authMiddleware := middleware.Auth(jwtService)
	limiter := middleware.NewRateLimiter(cfg.HTTPRatePerMinute, cfg.HTTPRateBurst)
	proxies, err := middleware.NewProxyResolver(cfg.TrustedProxies)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid TRUSTED_PROXIES")
	}

	// ---------- Router ----------
	r := chi.NewRouter()

	r.Use(proxies.Middleware)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			pkgresponse.ServiceUnavailable(w)
			return
		}
		pkgresponse.OK(w, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(limiter.Middleware)

		r.Mount("/auth", authHandler.Routes(authMiddleware))
		r.Mount("/wallet", ledgerHandler.Routes(authMiddleware))
		r.Mount("/store", storeHandler.Routes(authMiddleware))
		r.Mount("/withdrawals", withdrawalHandler.Routes(authMiddleware))
		r.Mount("/votes", voteHandler.Routes(authMiddleware))

		// /referrals and /quizzes
		r.Mount("/", rewardHandler.Routes(authMiddleware))
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(authMiddleware)
		r.Use(admin.RequireStaff())

		mountAdminRoutes(r, adminRoutes{
			reconcile:   reconcileHandler.AdminRoutes(),
			ledger:      ledgerHandler.AdminRoutes(),
			store:       storeHandler.AdminRoutes(),
			withdrawals: withdrawalHandler.AdminRoutes(),
			settings:    settingsHandler.AdminRoutes(),
			feed:        notificationHandler.AdminRoutes(),
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go sweepRateLimiter(ctx, limiter)

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Requests are done; flush pending events before the stores close.
	dispatcher.Close()
	hub.Shutdown()

	log.Info().Msg("Server exited properly")
}

type adminRoutes struct {
	reconcile   http.Handler
	ledger      http.Handler
	store       http.Handler
	withdrawals http.Handler
	settings    http.Handler
	feed        http.Handler
}

// mountAdminRoutes mounts the staff API. /ledger/reconcile must be mounted
// next to /ledger, not inside it.
func mountAdminRoutes(r chi.Router, routes adminRoutes) {
	r.Mount("/ledger/reconcile", routes.reconcile)
	r.Mount("/ledger", routes.ledger)
	r.Mount("/store", routes.store)
	r.Mount("/withdrawals", routes.withdrawals)
	r.Mount("/settings", routes.settings)
	r.Mount("/", routes.feed)
}

func newBlobStore(cfg *config.Config) (storage.Storage, error) {
	if !cfg.StorageEnabled() {
		log.Warn().Msg("S3 not configured, reconcile reports go to local disk")
		return storage.NewLocalStorage(".data/blob")
	}
	return storage.NewS3Storage(context.Background(), storage.Config{
		S3Endpoint:  cfg.S3Endpoint,
		S3Region:    cfg.S3Region,
		S3Bucket:    cfg.S3Bucket,
		S3AccessKey: cfg.S3AccessKey,
		S3SecretKey: cfg.S3SecretKey,
	})
}

func sweepRateLimiter(ctx context.Context, limiter *middleware.RateLimiter) {
	ticker := time.NewTicker(rateSweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := limiter.Sweep(); n > 0 {
				log.Debug().Int("removed", n).Msg("Rate limiter swept")
			}
		}
	}
}
