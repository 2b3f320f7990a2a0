package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"echo-backend/internal/config"
	"echo-backend/internal/handlers"
	"echo-backend/internal/middleware"
	"echo-backend/internal/repository"
	"echo-backend/internal/services"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func Run() {
	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logger
	setupLogger(cfg.Log.Level)

	// Connect to database
	db, err := pgxpool.New(context.Background(), cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Test database connection
	if err := db.Ping(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to ping database")
	}
	log.Info().Msg("Database connection established")

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	familyRepo := repository.NewFamilyRepository(db)
	profileRepo := repository.NewProfileRepository(db)
	checkinRepo := repository.NewCheckinRepository(db)
	talkRepo := repository.NewTalkRepository(db)
	glowRepo := repository.NewGlowRepository(db)
	subRepo := repository.NewSubscriptionRepository(db)

	// Initialize services
	feedHub := services.NewFeedHub()
	userService := services.NewUserService(userRepo, cfg.JWT.Secret)
	familyService := services.NewFamilyService(familyRepo, profileRepo, feedHub)
	sender := services.NewVAPIDSender(cfg.Push.Subject, cfg.Push.VAPIDPublicKey, cfg.Push.VAPIDPrivateKey)
	pushService := services.NewPushService(subRepo, profileRepo, sender)
	generator := services.NewGeminiTopicGenerator(cfg.AI.APIKey, cfg.AI.Model)
	checkinService := services.NewCheckInService(checkinRepo, profileRepo, generator, pushService, feedHub)
	talkService := services.NewTalkService(talkRepo, pushService, feedHub)
	glowService := services.NewGlowService(glowRepo, profileRepo, pushService, feedHub)

	// Initialize handlers
	userHandler := handlers.NewUserHandler(userService)
	familyHandler := handlers.NewFamilyHandler(familyService)
	checkinHandler := handlers.NewCheckinHandler(checkinService, familyService)
	talkHandler := handlers.NewTalkHandler(talkService, familyService)
	glowHandler := handlers.NewGlowHandler(glowService, familyService)
	pushHandler := handlers.NewPushHandler(pushService)
	wsHandler := handlers.NewWebSocketHandler(feedHub, userService, familyService)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(corsMiddleware)

	// Routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Post("/users", userHandler.CreateUser)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(userService))

			r.Post("/spaces", familyHandler.CreateSpace)
			r.Post("/spaces/join", familyHandler.JoinSpace)
			r.Get("/space", familyHandler.GetSpace)
			r.Put("/space/name", familyHandler.RenameFamily)
			r.Put("/profile/vibe", familyHandler.UpdateVibe)

			r.Get("/checkins/current", checkinHandler.GetCurrent)
			r.Post("/checkins/{checkin_id}/responses", checkinHandler.SubmitResponse)
			r.Post("/checkins/{checkin_id}/reconcile", checkinHandler.Reconcile)
			r.Post("/checkins/{checkin_id}/regenerate", checkinHandler.Regenerate)
			r.Post("/checkins/{checkin_id}/reset", checkinHandler.ResetWeek)
			r.Post("/checkins/{checkin_id}/timer", checkinHandler.UpdateTimer)
			r.Post("/checkins/{checkin_id}/timer/finished", checkinHandler.TimerFinished)
			r.Get("/checkin-config", checkinHandler.GetConfig)
			r.Put("/checkin-config", checkinHandler.UpdateConfig)

			r.Get("/talks", talkHandler.List)
			r.Post("/talks", talkHandler.Schedule)
			r.Delete("/talks/{talk_id}", talkHandler.Cancel)
			r.Post("/talks/{talk_id}/due", talkHandler.NotifyDue)

			r.Get("/glows", glowHandler.List)
			r.Post("/glows", glowHandler.Send)
			r.Post("/glows/{glow_id}/{action}", glowHandler.UpdateFlags)

			r.Post("/push/subscriptions", pushHandler.Subscribe)
			r.Post("/push/test", pushHandler.SendTest)
		})
	})

	// WebSocket change feed
	r.Get("/ws", wsHandler.HandleWebSocket)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("host", cfg.Server.Host).
			Int("port", cfg.Server.Port).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// setupLogger configures zerolog logger
func setupLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// corsMiddleware handles CORS
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
