package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/shutterhub/shutterhub-api/internal/config"
	"github.com/shutterhub/shutterhub-api/internal/domain/auth"
	"github.com/shutterhub/shutterhub-api/internal/domain/booking"
	"github.com/shutterhub/shutterhub-api/internal/domain/dispute"
	"github.com/shutterhub/shutterhub-api/internal/domain/escrow"
	"github.com/shutterhub/shutterhub-api/internal/domain/notify"
	"github.com/shutterhub/shutterhub-api/internal/domain/session"
	"github.com/shutterhub/shutterhub-api/internal/domain/user"
	"github.com/shutterhub/shutterhub-api/internal/middleware"
	"github.com/shutterhub/shutterhub-api/internal/pkg/database"
	"github.com/shutterhub/shutterhub-api/internal/pkg/jwt"
	"github.com/shutterhub/shutterhub-api/internal/pkg/paygate"
	pkgresponse "github.com/shutterhub/shutterhub-api/internal/pkg/response"
	"github.com/shutterhub/shutterhub-api/internal/pkg/storage"
)

func main() {
	cfg := config.Load()
	setupLogger(cfg)

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting ShutterHub API")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	redis, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(redis)

	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL, cfg.JWTRefreshTTL)

	gateway := paygate.NewClient(paygate.Config{
		BaseURL:     cfg.GatewayBaseURL,
		MerchantID:  cfg.GatewayMerchantID,
		SecretKey:   cfg.GatewaySecretKey,
		Timeout:     cfg.GatewayTimeout,
		MaxAttempts: cfg.GatewayMaxAttempts,
	})

	evidenceStore, err := storage.NewEvidenceStore(storage.R2Config{
		AccountID:       cfg.R2AccountID,
		AccessKeyID:     cfg.R2AccessKeyID,
		AccessKeySecret: cfg.R2AccessKeySecret,
		BucketName:      cfg.R2BucketName,
		PublicURL:       cfg.R2PublicURL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create evidence store")
	}

	// ---------- Repositories ----------
	userRepo := user.NewRepository(db)
	sessionRepo := session.NewRepository(db)
	bookingRepo := booking.NewRepository(db)
	escrowRepo := escrow.NewRepository(db)
	disputeRepo := dispute.NewRepository(db)

	// ---------- WebSocket hub ----------
	hub := notify.NewHub(redis)
	go hub.Run()
	defer hub.Stop()

	// ---------- Services ----------
	authService := auth.NewService(userRepo, jwtService, auth.NewRefreshStore(redis))
	sessionService := session.NewService(sessionRepo, userRepo)
	escrowService := escrow.NewService(escrowRepo, gateway, escrow.Config{
		SettleDeadline: cfg.SettleDeadline,
		ReconcileGrace: cfg.ReconcileGrace,
	}).WithNotifier(hub)
	bookingService := booking.NewService(bookingRepo, sessionRepo, userRepo, escrowService, hub, redis, booking.Config{
		OfferTTL:     cfg.OfferTTL,
		CancelCutoff: cfg.CancelCutoff,
	})
	disputeService := dispute.NewService(disputeRepo, escrowService, evidenceStore).WithNotifier(hub)

	// ---------- Handlers ----------
	authHandler := auth.NewHandler(authService)
	sessionHandler := session.NewHandler(sessionService)
	bookingHandler := booking.NewHandler(bookingService)
	escrowHandler := escrow.NewHandler(escrowService)
	disputeHandler := dispute.NewHandler(disputeService)
	userHandler := user.NewHandler(userRepo)
	notifyHandler := notify.NewHandler(hub, cfg.AllowedOrigins)

	authMiddleware := middleware.Auth(jwtService)
	organizerOnly := middleware.RequireOrganizer()
	adminOnly := middleware.RequireAdmin()

	// ---------- Router ----------
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))

	// WebSocket endpoint (before Compress)
	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
		authMiddleware(http.HandlerFunc(notifyHandler.WebSocket)).ServeHTTP(w, r)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pkgresponse.OK(w, map[string]string{
			"status":  "ok",
			"version": "1.0.0",
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chimw.Compress(5))

		r.Mount("/auth", authHandler.Routes(authMiddleware))
		r.Mount("/sessions", sessionHandler.Routes(authMiddleware, organizerOnly))

		// Slot-scoped routes: public availability plus booking actions
		r.Route("/slots", func(r chi.Router) {
			r.Get("/{slotID}/availability", sessionHandler.Availability)

			r.Group(func(r chi.Router) {
				r.Use(authMiddleware)
				r.Post("/{slotID}/bookings", bookingHandler.Create)
				r.Get("/{slotID}/bookings", bookingHandler.ListForSlot)
				r.With(organizerOnly).Post("/{slotID}/lottery/draw", bookingHandler.Draw)
			})
		})

		r.Route("/bookings", func(r chi.Router) {
			r.Use(authMiddleware)
			r.Get("/my", bookingHandler.ListMine)
			r.Get("/{id}", bookingHandler.Get)
			r.Delete("/{id}", bookingHandler.Cancel)
			r.Post("/{id}/select", bookingHandler.Select)
			r.Post("/{id}/accept-offer", bookingHandler.AcceptOffer)
			r.Get("/{id}/escrow", escrowHandler.GetForBooking)
		})

		r.Route("/escrows", func(r chi.Router) {
			r.Use(authMiddleware)
			r.Post("/{id}/disputes", disputeHandler.Raise)

			r.Group(func(r chi.Router) {
				r.Use(organizerOnly)
				r.Post("/{id}/capture", escrowHandler.Capture)
				r.Post("/{id}/release", escrowHandler.Release)
			})
		})

		r.Mount("/disputes", disputeHandler.Routes(authMiddleware, adminOnly))
		r.Mount("/users", userHandler.Routes(authMiddleware, adminOnly))
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

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

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}

func setupLogger(cfg *config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.IsDevelopment() {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		})
	}
}
