package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"

	"github.com/fieldserve/fieldserve-api/internal/http/handlers"
	httpmw "github.com/fieldserve/fieldserve-api/internal/http/middleware"
	"github.com/fieldserve/fieldserve-api/internal/numbering"
	"github.com/fieldserve/fieldserve-api/internal/platform/idempotency"
	"github.com/fieldserve/fieldserve-api/internal/platform/mailer"
	"github.com/fieldserve/fieldserve-api/internal/repo/postgres"
	"github.com/fieldserve/fieldserve-api/internal/service"
	"github.com/fieldserve/fieldserve-api/pkg/config"
	"github.com/fieldserve/fieldserve-api/pkg/database"
	"github.com/fieldserve/fieldserve-api/pkg/events"
	"github.com/fieldserve/fieldserve-api/pkg/logger"
	mw "github.com/fieldserve/fieldserve-api/pkg/middleware"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	eventBus, err := events.NewNATSEventBus(cfg.NATS.URL)
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	idemStore, err := idempotency.NewRedisStore(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer idemStore.Close()

	// Repositories
	accountsRepo := postgres.NewAccountsRepo(pool)
	codesRepo := postgres.NewLoginCodesRepo(pool)
	documentsRepo := postgres.NewDocumentsRepo(pool)
	countersRepo := postgres.NewCountersRepo(pool)
	settingsRepo := postgres.NewSettingsRepo(pool)

	// Services
	mail := newMailer(cfg)
	numbers := numbering.NewGenerator(countersRepo, settingsRepo)
	authService := service.NewAuthService(accountsRepo, codesRepo, mail, eventBus, cfg)
	documentService := service.NewDocumentService(documentsRepo, settingsRepo, numbers, mail, eventBus, cfg)

	h := handlers.New(authService, documentService, cfg)

	codeLimiter := httpmw.NewRateLimiter(pool, httpmw.RateLimitConfig{
		Requests: 5,
		Window:   time.Minute,
		KeyFunc:  httpmw.LoginCodeRateLimitKeyFunc,
	})

	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("api"))
	r.Use(mw.Logging)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.Public.BaseURL},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(mw.Health)

	h.Mount(r, codeLimiter.Middleware(), mw.Idempotency(idemStore))

	// Expired login codes are only ever checked at consume time, the
	// sweeper keeps the table from growing unbounded.
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go sweepLoginCodes(sweepCtx, authService, cfg.Auth.SweepInterval)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down...")
		stopSweep()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Shutdown error", "error", err)
		}
	}()

	logger.Info("Starting API", "port", cfg.Server.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}

func newMailer(cfg *config.Config) mailer.Service {
	switch {
	case cfg.Email.DevMode:
		return mailer.NewDevMailer()
	case cfg.Email.MailerSendKey != "":
		return mailer.NewMailerSendMailer(cfg.Email.MailerSendKey, "FieldServe", cfg.Email.SMTPFrom)
	default:
		return mailer.NewSMTPMailer(cfg.Email.SMTPHost, cfg.Email.SMTPPort,
			cfg.Email.SMTPFrom, cfg.Email.SMTPUser, cfg.Email.SMTPPass, cfg.Email.SMTPUseTLS)
	}
}

func sweepLoginCodes(ctx context.Context, auth service.AuthService, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := auth.SweepExpired(ctx)
			if err != nil {
				logger.Error("Login code sweep failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("Swept expired login codes", "deleted", n)
			}
		}
	}
}
