package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ticket-backoffice/config"
	"ticket-backoffice/internal/handlers"
	"ticket-backoffice/internal/services"
	"ticket-backoffice/internal/services/checkin"
	"ticket-backoffice/internal/services/directory"
	"ticket-backoffice/internal/store"
	"ticket-backoffice/monitoring"
	"ticket-backoffice/security"
	"ticket-backoffice/utils"

	"github.com/jonboulle/clockwork"
	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pubnub "github.com/pubnub/go/v7"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Redis
	redisClient, err := utils.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	// Initialize PubNub
	pnConfig := pubnub.NewConfigWithUserId(pubnub.UserId(cfg.PubNubUserID))
	pnConfig.PublishKey = cfg.PubNubPublishKey
	pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
	pnConfig.SecretKey = cfg.PubNubSecretKey
	pn := pubnub.NewPubNub(pnConfig)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: false,
	})

	// Setup graceful shutdown
	go handleShutdown(cancel)

	clock := clockwork.NewRealClock()

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		backend, err := openStore(ctx, app, cfg)
		if err != nil {
			return err
		}
		app.OnTerminate().BindFunc(func(te *core.TerminateEvent) error {
			closeCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			if err := backend.Close(closeCtx); err != nil {
				log.Printf("Error closing store: %v", err)
			}
			return te.Next()
		})

		// Initialize services
		relations := store.NewRelationCache(backend, redisClient, cfg.RelationCacheTTL)
		attendance := services.NewAttendanceService(redisClient, clock)
		notifier := services.NewCheckInNotifier(services.NewPubNubPublisher(pn))
		issuer := services.NewURLIssuer(redisClient, cfg.QRBaseURL)
		issuer.RequireCode = cfg.QRRequireCode
		registry := services.NewRegistryService(backend, issuer, relations)

		breaker := checkin.NewBreaker(utils.BreakerSettings{
			MaxRequests:  uint32(cfg.BreakerMaxRequests),
			Interval:     cfg.BreakerInterval,
			Timeout:      cfg.BreakerTimeout,
			FailureRatio: cfg.BreakerFailureRatio,
			Clock:        clock,
		})
		machine := checkin.NewMachine(backend, relations, breaker, clock, attendance, notifier)
		scanners := checkin.NewScannerPool(machine, issuer, clock, cfg.ScanSettleDelay, cfg.ScannerIdleTTL, nil)
		go scanners.Run(ctx)

		sessions := directory.NewSessions(backend, directory.NewResolver(relations), cfg.PageSize, cfg.SessionIdleTTL, clock)
		go sessions.Run(ctx)

		if cfg.EnableMetrics {
			go monitoring.NewMonitor(redisClient, cfg.MonitorInterval).Start(ctx)
		}

		// Initialize handlers
		directoryHandler := handlers.NewDirectoryHandler(sessions)
		checkInHandler := handlers.NewCheckInHandler(scanners)
		adminHandler := handlers.NewAdminHandler(registry, attendance)
		healthHandler := handlers.NewHealthHandler(backend, redisClient)
		rateLimiter := security.NewRateLimiter(redisClient, cfg.ScanRateLimit, time.Minute)

		// Directory endpoints
		e.Router.POST("/api/v1/directory/sessions", directoryHandler.CreateSession)
		e.Router.GET("/api/v1/directory/sessions/{sessionId}", directoryHandler.GetView)
		e.Router.POST("/api/v1/directory/sessions/{sessionId}/sort", directoryHandler.ToggleSort)
		e.Router.POST("/api/v1/directory/sessions/{sessionId}/next", directoryHandler.Next)
		e.Router.POST("/api/v1/directory/sessions/{sessionId}/prev", directoryHandler.Prev)
		e.Router.POST("/api/v1/directory/sessions/{sessionId}/reload", directoryHandler.Reload)
		e.Router.DELETE("/api/v1/directory/sessions/{sessionId}", directoryHandler.CloseSession)

		// Check-in endpoints
		e.Router.POST("/api/v1/checkin", checkInHandler.Scan).BindFunc(rateLimiter.ScanRateLimit)
		e.Router.POST("/api/v1/checkin/errors", checkInHandler.DecodeError)

		// Admin endpoints
		e.Router.POST("/api/v1/admin/tickets", adminHandler.RegisterTicket)
		e.Router.PATCH("/api/v1/admin/tickets/{ticketId}", adminHandler.UpdateTicket)
		e.Router.DELETE("/api/v1/admin/tickets/{ticketId}", adminHandler.DeleteTicket)
		e.Router.GET("/api/v1/admin/events/{eventId}/attendance", adminHandler.GetAttendance)

		// Health check
		e.Router.GET("/health", healthHandler.Health)
		if cfg.EnableMetrics {
			e.Router.GET("/metrics", apis.WrapStdHandler(promhttp.Handler()))
		}

		log.Printf("Server routes registered (store backend: %s)", cfg.StoreBackend)

		return e.Next()
	})

	// Start server
	return app.Start()
}

func openStore(ctx context.Context, app core.App, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "pocketbase":
		return store.NewPocketBaseStore(app), nil
	case "mongo":
		client, err := store.NewMongoClient(ctx, cfg.MongoDSN, cfg.MongoUser, cfg.MongoPassword)
		if err != nil {
			return nil, err
		}
		s := store.NewMongoStore(client, cfg.MongoDB)
		if err := s.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		log.Println("Using in-memory store; data is lost on restart")
		return store.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	cancel()
}
