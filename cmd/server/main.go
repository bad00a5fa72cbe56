package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/messhub/booking-engine/internal/config"
	"github.com/messhub/booking-engine/internal/database"
	"github.com/messhub/booking-engine/internal/handlers"
	"github.com/messhub/booking-engine/internal/middleware"
	"github.com/messhub/booking-engine/internal/models"
	"github.com/messhub/booking-engine/internal/services"
	"github.com/messhub/booking-engine/pkg/jwt"
	"github.com/messhub/booking-engine/pkg/notify"
	"github.com/sirupsen/logrus"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting MessHub booking engine")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		gin.SetMode(gin.DebugMode)
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	// Notifications: RabbitMQ when enabled, otherwise the log; Redis dedup on top
	var publisher notify.Publisher = notify.NewLogPublisher(logger)
	if cfg.RabbitMQ.Enabled {
		rabbit, err := notify.NewRabbitMQPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue, logger)
		if err != nil {
			logger.WithError(err).Warn("RabbitMQ unavailable, notifications will only be logged")
		} else {
			defer rabbit.Close()
			publisher = rabbit
			logger.WithField("queue", cfg.RabbitMQ.Queue).Info("✓ RabbitMQ notification publisher ready")
		}
	}
	if cfg.Redis.Enabled {
		if client := notify.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger); client != nil {
			defer client.Close()
			publisher = notify.NewDedupPublisher(publisher, notify.NewRedisGuard(client), cfg.Redis.DedupTTL, logger)
			logger.Info("✓ Notification dedup enabled")
		}
	}

	logger.Info("Initializing services...")
	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)
	coordinator := services.NewCoordinator(store, publisher, logger)
	gateway := services.NewSSLCommerzService(&cfg.Payment, logger)
	auditService := services.NewAuditService(store.PaymentAudits(), logger)
	bookingService := services.NewBookingService(coordinator, logger)
	paymentService := services.NewPaymentService(coordinator, gateway, auditService, &cfg.Payment, logger)
	viewingService := services.NewViewingRequestService(coordinator, logger)
	adminService := services.NewAdminService(coordinator, paymentService, auditService, logger)
	sweeper := services.NewExpirationService(coordinator, cfg.Booking, logger)

	if err := sweeper.Start(); err != nil {
		logger.Fatalf("Failed to start expiry sweeper: %v", err)
	}

	var verifier handlers.IPNVerifier
	if cfg.Payment.StorePassword != "" {
		verifier = gateway
	}

	router := newRouter(cfg, logger, store, jwtService, routeHandlers{
		bookings: handlers.NewBookingHandler(bookingService, logger),
		payments: handlers.NewPaymentHandler(paymentService, verifier, cfg.Server.FrontendURL, logger),
		viewings: handlers.NewViewingRequestHandler(viewingService, logger),
		admin:    handlers.NewAdminHandler(adminService, sweeper, logger),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infof("Server listening on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}
	sweeper.Stop()
	coordinator.Wait()

	logger.Info("Server exited")
}

// openStore connects to PostgreSQL, or builds the in-memory store for local runs
func openStore(cfg *config.Config, logger *logrus.Logger) (database.Store, error) {
	if cfg.Database.Driver == "memory" {
		logger.Warn("Using in-memory store, data is lost on restart")
		return database.NewMemoryStore(), nil
	}

	db, err := database.NewConnection(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Database connection established")

	if cfg.Database.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		logger.Info("✓ Database schema applied")
	}
	return db, nil
}

type routeHandlers struct {
	bookings *handlers.BookingHandler
	payments *handlers.PaymentHandler
	viewings *handlers.ViewingRequestHandler
	admin    *handlers.AdminHandler
}

func newRouter(cfg *config.Config, logger *logrus.Logger, store database.Store, jwtService *jwt.Service, h routeHandlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	corsConfig := cors.Config{
		AllowMethods:  cfg.CORS.AllowedMethods,
		AllowHeaders:  cfg.CORS.AllowedHeaders,
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.CORS.AllowedOrigins) == 1 && cfg.CORS.AllowedOrigins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.CORS.AllowedOrigins
		corsConfig.AllowCredentials = true
	}
	router.Use(cors.New(corsConfig))

	router.GET("/health", healthCheckHandler(store))

	auth := middleware.AuthMiddleware(jwtService, logger)
	active := middleware.RequireActiveAccount(store.Repositories().Users(), logger)

	v1 := router.Group("/api/v1")
	{
		bookings := v1.Group("/bookings", auth)
		{
			bookings.POST("", active, h.bookings.CreateBooking)
			bookings.GET("/:id", h.bookings.GetBooking)
			bookings.PATCH("/:id/status", middleware.RequireRole(models.RoleOwner, models.RoleAdmin), active, h.bookings.UpdateStatus)
			bookings.POST("/:id/cancel", active, h.bookings.CancelBooking)
		}

		payments := v1.Group("/payments")
		{
			// gateway callbacks carry no token
			payments.POST("/ipn", h.payments.IPN)
			payments.POST("/success", h.payments.PaymentSuccess)
			payments.POST("/fail", h.payments.PaymentFail)
			payments.POST("/cancel", h.payments.PaymentCancel)

			payments.POST("/initiate", auth, active, h.payments.InitiatePayment)
			payments.POST("/fallback-confirm", auth, active, h.payments.FallbackConfirm)
			payments.GET("/status/:transactionId", auth, h.payments.GetStatus)
		}

		viewings := v1.Group("/viewing-requests", auth, active)
		{
			viewings.POST("", h.viewings.CreateViewingRequest)
			viewings.PATCH("/:id/status", middleware.RequireRole(models.RoleOwner, models.RoleAdmin), h.viewings.UpdateStatus)
		}

		admin := v1.Group("/admin", auth, middleware.RequireRole(models.RoleAdmin))
		{
			admin.PATCH("/bookings/:id/status", h.admin.OverrideStatus)
			admin.POST("/bookings/:id/refund", h.admin.Refund)
			admin.DELETE("/bookings/:id", h.admin.DeleteBooking)
			admin.POST("/jobs/expire-pending", h.admin.RunExpirySweep)
		}
	}

	return router
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := logrus.Fields{
			"status":     c.Writer.Status(),
			"method":     c.Request.Method,
			"path":       path,
			"query":      c.Request.URL.RawQuery,
			"ip":         c.ClientIP(),
			"latency_ms": time.Since(start).Milliseconds(),
			"user_agent": c.Request.UserAgent(),
			"has_auth":   c.GetHeader("Authorization") != "",
		}
		if userCtx, ok := middleware.GetUserContext(c); ok {
			fields["user_id"] = userCtx.UserID
			fields["roles"] = userCtx.Roles
		}

		entry := logger.WithFields(fields)
		if len(c.Errors) > 0 {
			for i, err := range c.Errors {
				entry = entry.WithField(fmt.Sprintf("error_%d", i), err.Error())
			}
			entry.Error("Request failed with errors")
			return
		}

		status := c.Writer.Status()
		switch {
		case status >= 500:
			entry.Error("Request completed with server error")
		case status >= 400:
			entry.Warn("Request completed with client error")
		default:
			entry.Info("Request completed successfully")
		}
	}
}

func healthCheckHandler(store database.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		if err := store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": "unhealthy",
				"error":    err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"database":  "healthy",
			"version":   version,
			"timestamp": time.Now().Unix(),
		})
	}
}
