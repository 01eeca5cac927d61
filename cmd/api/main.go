package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"bingo-cashier-backend/internal/config"
	"bingo-cashier-backend/internal/handlers"
	"bingo-cashier-backend/internal/logger"
	"bingo-cashier-backend/internal/middleware"
	"bingo-cashier-backend/internal/services"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logger.New(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zlog.Sync()

	catalog, err := services.OpenCatalog(cfg.DatabaseURL, zlog)
	if err != nil {
		zlog.Fatal("failed to open catalog", zap.Error(err))
	}
	defer catalog.Close()

	var (
		tickets services.TicketStore
		games   services.GameStore
		limiter middleware.RateLimiter
		pinger  func(context.Context) error
	)
	switch cfg.StoreBackend {
	case "redis":
		redisService, err := services.NewRedisService(cfg)
		if err != nil {
			zlog.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redisService.Close()
		tickets, games, limiter, pinger = redisService, redisService, redisService, redisService.Ping
	default:
		memory := services.NewMemoryStore()
		tickets, games = memory, memory
	}

	bus := services.NewEventBus(zlog)
	gameEngine := services.NewGameEngine(tickets, games, catalog, bus, zlog, services.EngineOptions{
		MinTicketsToStart:   cfg.MinTicketsToStart,
		MaxStake:            cfg.MaxStake,
		AutoDraw:            cfg.AutoDraw,
		DrawInterval:        cfg.DrawInterval,
		PatternCacheTTL:     cfg.PatternCacheTTL,
		FinancialResetAfter: cfg.FinancialResetAfter,
	})
	defer gameEngine.Shutdown()

	janitor, err := services.StartJanitor(gameEngine, "@every 5m", zlog)
	if err != nil {
		zlog.Fatal("failed to start janitor", zap.Error(err))
	}
	defer janitor.Stop()

	hub, closeHub := handlers.NewWebSocketHub(bus, zlog)
	defer closeHub()

	jwtService := services.NewJWTService(cfg)
	authHandler := handlers.NewAuthHandler(catalog, jwtService)
	adminHandler := handlers.NewAdminHandler(catalog, gameEngine, cfg.CardsFile, zlog)
	cashierHandler := handlers.NewCashierHandler(catalog, gameEngine)
	gameHandler := handlers.NewGameHandler(gameEngine)
	wsHandler := handlers.NewWebSocketHandler(gameEngine, hub, zlog)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Admin-Key")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	router.GET("/health", func(c *gin.Context) {
		if pinger != nil {
			if err := pinger(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "store": cfg.StoreBackend})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/auth/token", middleware.AdminKeyMiddleware(cfg.AdminKey), authHandler.IssueToken)

	admin := router.Group("/admin")
	admin.Use(middleware.AdminKeyMiddleware(cfg.AdminKey))
	{
		admin.POST("/shops", adminHandler.SaveShop)
		admin.POST("/cashiers", adminHandler.SaveCashier)
	}

	protected := router.Group("/api")
	protected.Use(middleware.AuthMiddleware(jwtService))
	protected.Use(middleware.RateLimitMiddleware(limiter, cfg.BetRateLimit))
	{
		protected.GET("/me", cashierHandler.GetCurrentCashier)
		protected.PUT("/draw-settings", cashierHandler.UpdateDrawSettings)
		protected.POST("/cards", cashierHandler.SaveCard)

		protected.GET("/ws", wsHandler.HandleWebSocket)

		patterns := protected.Group("/patterns")
		{
			patterns.GET("", cashierHandler.ListPatterns)
			patterns.POST("", cashierHandler.SavePattern)
			patterns.POST("/seed", cashierHandler.SeedPatterns)
		}

		games := protected.Group("/games")
		{
			games.POST("", gameHandler.CreateGame)
			games.GET("/current", gameHandler.GetCurrentGame)
			games.GET("/:id", gameHandler.GetGame)

			games.POST("/:id/start", gameHandler.StartGame())
			games.POST("/:id/pause", gameHandler.PauseGame())
			games.POST("/:id/resume", gameHandler.ResumeGame())
			games.POST("/:id/end", gameHandler.EndGame())
			games.POST("/:id/reset", gameHandler.ResetGame())
			games.POST("/:id/recover", gameHandler.RecoverGame())
			games.POST("/:id/draw", gameHandler.DrawNumber)

			games.POST("/:id/tickets", gameHandler.PlaceTicket)
			games.DELETE("/:id/tickets/:number", gameHandler.CancelTicket)
			games.POST("/:id/tickets/:number/redeem", gameHandler.RedeemTicket)

			games.GET("/:id/cards", gameHandler.ScanCards)
			games.POST("/:id/cards/:card/verify", gameHandler.VerifyCard)
			games.POST("/:id/cards/:card/lock", gameHandler.LockVerification)
			games.DELETE("/:id/cards/:card/lock", gameHandler.LockVerification)
		}
	}

	port := cfg.Port
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zlog.Info("server starting", zap.String("port", port), zap.String("store", cfg.StoreBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zlog.Error("server shutdown failed", zap.Error(err))
	}
}
