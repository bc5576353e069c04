package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/kendall-kelly/atelier-market-api/config"
	"github.com/kendall-kelly/atelier-market-api/controllers"
	"github.com/kendall-kelly/atelier-market-api/logger"
	"github.com/kendall-kelly/atelier-market-api/middleware"
	"github.com/kendall-kelly/atelier-market-api/models"
	"github.com/kendall-kelly/atelier-market-api/polling"
	"github.com/kendall-kelly/atelier-market-api/realtime"
	"github.com/kendall-kelly/atelier-market-api/services"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zl := logger.New(cfg.LogLevel, cfg.IsProduction())
	defer zl.Sync() //nolint:errcheck

	if err := run(cfg, zl); err != nil {
		zl.Fatal("Server exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zl.Info("Starting Atelier Market API", zap.String("env", cfg.GoEnv))

	if err := config.ConnectDatabase(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	db := config.GetDB()
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	zl.Info("Database migration completed successfully")

	messages := services.InitMessageService(services.NewMessageService(db))
	analytics := services.InitAnalyticsService(services.NewAnalyticsService(db))

	hubOpts := []realtime.Option{
		realtime.WithMessageStore(messages),
		realtime.WithCheckOrigin(originChecker(cfg.CORSAllowedOrigins)),
	}
	if len(cfg.KafkaBrokers) > 0 {
		backplane, err := realtime.NewKafkaBackplane(cfg.KafkaBrokers, cfg.KafkaRealtimeTopic, zl)
		if err != nil {
			return fmt.Errorf("failed to create realtime backplane: %w", err)
		}
		defer func() {
			if err := backplane.Close(); err != nil {
				zl.Warn("Failed to close realtime backplane", zap.Error(err))
			}
		}()
		hubOpts = append(hubOpts, realtime.WithBackplane(backplane))
		zl.Info("Realtime backplane enabled", zap.Strings("brokers", cfg.KafkaBrokers))
	}

	// assigned before the hub accepts connections
	var refresher *polling.Poller
	if cfg.TrackingRefreshEnabled && cfg.TrackingRefreshPauseIdle {
		hubOpts = append(hubOpts, realtime.WithPresence(func(active bool) {
			if active {
				refresher.Activate()
			} else {
				refresher.Deactivate()
			}
		}))
	}
	hub := realtime.NewHub(zl, hubOpts...)

	trackingOpts := []services.TrackingOption{
		services.WithNotifier(hub),
		services.WithEstimator(analytics),
		services.WithStrictSync(cfg.StrictTrackingSync()),
	}
	if cfg.AWSS3Bucket != "" {
		archive, err := services.NewS3WebhookArchive(ctx, cfg)
		if err != nil {
			return err
		}
		trackingOpts = append(trackingOpts, services.WithWebhookArchive(archive))
		zl.Info("Courier webhook archive enabled", zap.String("bucket", cfg.AWSS3Bucket))
	}
	tracking := services.InitTrackingService(services.NewTrackingService(db, cfg.Couriers,
		services.NewHTTPCourierClient(cfg.CourierTimeout), zl, trackingOpts...))

	if cfg.TrackingRefreshEnabled {
		refresher = polling.New("tracking-refresh", polling.Config{
			MinInterval:       cfg.TrackingRefreshMin,
			MaxInterval:       cfg.TrackingRefreshMax,
			PauseWhenInactive: cfg.TrackingRefreshPauseIdle,
		}, func(ctx context.Context) (any, error) {
			return tracking.SyncActiveShipments(ctx)
		}, zl)
		// no sockets are connected yet
		refresher.Deactivate()
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           setupRouter(cfg, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zl.Info("Server is running", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return hub.Run(gctx)
	})
	if refresher != nil {
		g.Go(func() error {
			refresher.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		zl.Info("Shutting down server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	zl.Info("Server gracefully stopped")
	return nil
}

// setupRouter wires middleware and routes. Couriers call the webhook route
// without a JWT.
func setupRouter(cfg *config.Config, hub *realtime.Hub) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Instrument())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSAllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", healthCheck)
	router.GET("/health/ready", readinessCheck(hub))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.POST("/webhooks/couriers/:courier", controllers.CourierWebhook)

	api := v1.Group("")
	api.Use(middleware.EnsureValidToken(cfg))
	{
		api.POST("/users", controllers.CreateUser)
		api.GET("/users/me", controllers.GetMyProfile)
		api.PUT("/users/me", controllers.UpdateMyProfile)

		api.POST("/orders/:id/tracking", controllers.AssignTracking)
		api.GET("/orders/:id/tracking", controllers.GetTrackingStatus)
		api.PUT("/orders/:id/delivery-status", controllers.OverrideDeliveryStatus)
		api.POST("/tracking/status", controllers.GetMultipleTrackingStatus)
		api.POST("/tracking/sync", controllers.SyncTracking)

		api.GET("/notifications", controllers.ListNotifications)
		api.PATCH("/notifications/:id/read", controllers.MarkNotificationRead)

		api.GET("/analytics/delivery-estimate", controllers.GetDeliveryEstimate)
		api.GET("/analytics/churn/:buyerId", controllers.GetChurnRisk)

		api.GET("/tickets/:ticketId/messages", controllers.ListMessages)
		api.POST("/tickets/:ticketId/messages", controllers.SendMessage(hub))

		api.GET("/ws", controllers.SocketHandler(hub))
	}

	return router
}

// healthCheck handles the liveness endpoint
func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Atelier Market API is running",
	})
}

// readinessCheck pings the database and reports socket hub occupancy
func readinessCheck(hub *realtime.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := config.GetDB().DB()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "DATABASE_ERROR",
					"message": "Failed to get database instance",
				},
			})
			return
		}
		if err := sqlDB.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "DATABASE_CONNECTION_ERROR",
					"message": "Database connection failed",
				},
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":  true,
			"database": "connected",
			"realtime": hub.Stats(),
		})
	}
}

// originChecker allows socket upgrades from the CORS origins. Requests
// without an Origin header are not from browsers and are allowed.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}
