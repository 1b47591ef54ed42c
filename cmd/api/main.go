package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/altiroute/altiroute_core/internal/api"
	"github.com/altiroute/altiroute_core/internal/cache"
	"github.com/altiroute/altiroute_core/internal/elevation"
	"github.com/altiroute/altiroute_core/internal/middleware"
	"github.com/altiroute/altiroute_core/internal/provider"
	"github.com/altiroute/altiroute_core/internal/regional"
	"github.com/altiroute/altiroute_core/internal/route"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	log.Println("Starting AltiRoute API server...")

	if err := godotenv.Load(); err == nil {
		log.Println("✓ Loaded .env")
	}

	// Redis is an optional elevation cache. The service runs fine without
	// it, every lookup just goes straight to the providers.
	var rdb *redis.Client
	if client, err := cache.GetClient(); err != nil {
		log.Printf("⚠️  Redis unavailable, elevation cache disabled: %v", err)
	} else {
		rdb = client
		defer cache.Close()
		log.Println("✓ Redis connection established")
	}

	cacheCfg := cache.LoadConfigFromEnv()
	registry := provider.DefaultRegistry()
	estimator := regional.NewEstimator()
	resolver := elevation.NewResolver(registry, estimator, elevation.ResolverConfig{
		Cache: cache.NewElevationCache(rdb, cacheCfg.TTL, cacheCfg.MutexTTL),
	})
	profiles := elevation.NewProfileBuilder(resolver, elevation.ProfileConfig{})
	prober := elevation.NewProber(resolver, registry)
	store := route.NewStore()
	handlers := api.New(resolver, profiles, prober, store)

	log.Printf("✓ Elevation pipeline ready (%d providers)", registry.Len())

	app := fiber.New(fiber.Config{
		AppName:      "AltiRoute API",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorHandler: customErrorHandler,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PATCH,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))
	app.Use(middleware.RateLimitMiddleware(rdb, middleware.DefaultRateLimits))
	app.Use(middleware.AnalyticsMiddleware(rdb))

	// Routes
	app.Get("/health", handlers.Health)
	app.Get("/v1/diagnostics", handlers.Diagnostics)
	app.Get("/v1/elevation", handlers.GetElevation)
	app.Post("/v1/profile", handlers.BuildProfile)
	app.Get("/v1/providers/status", handlers.ProviderStatus)
	app.Get("/v1/route", handlers.GetRoute)
	app.Post("/v1/route/points", handlers.AddPoint)
	app.Patch("/v1/route/points/:id", handlers.UpdatePoint)
	app.Post("/v1/route/points/:id/elevation", handlers.RefreshPointElevation)
	app.Delete("/v1/route/points/:id", handlers.DeletePoint)
	app.Delete("/v1/route", handlers.ClearRoute)
	app.Get("/v1/route/export", handlers.ExportTrajectory)
	app.Post("/v1/route/import", handlers.ImportTrajectory)
	app.Get("/v1/route/profile/export", handlers.ExportProfile)

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(404).JSON(fiber.Map{
			"error": "endpoint not found",
		})
	})

	port := getEnv("API_PORT", "8080")
	addr := fmt.Sprintf(":%s", port)

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down gracefully...")
		if err := app.Shutdown(); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	}()

	log.Printf("🚀 Server listening on http://localhost%s", addr)
	log.Printf("📍 Elevation: http://localhost%s/v1/elevation?lat=43.6047&lon=1.4442", addr)
	log.Printf("❤️  Health check: http://localhost%s/health", addr)

	if err := app.Listen(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// customErrorHandler handles errors returned from handlers
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	log.Printf("Error: %v", err)

	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
