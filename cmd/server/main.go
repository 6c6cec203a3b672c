package main

import (
	"log"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"rentbill/internal/handlers"
	authMiddleware "rentbill/internal/middleware"
	"rentbill/internal/services"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment")
	}

	// Initialize Firebase
	credPath := os.Getenv("FIREBASE_CREDENTIALS_PATH")
	if credPath == "" {
		credPath = "./firebase-service-account.json"
	}

	authClient, err := services.InitFirebase(credPath)
	if err != nil {
		log.Printf("Warning: Firebase initialization failed: %v", err)
		log.Println("Auth features will not work until valid credentials are provided")
	}

	// Initialize Database
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	db, err := services.InitDB(databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := services.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	// Redis is optional; without it summaries are computed per request and
	// the scheduler runs without a cross-process lock.
	var cache *services.RedisCache
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cache, err = services.NewRedisCache(redisURL)
		if err != nil {
			log.Printf("Warning: Redis initialization failed: %v", err)
			cache = nil
		}
	} else {
		log.Println("Warning: REDIS_URL not set, caching disabled")
	}

	keys := services.LoadProcessorKeys()
	if keys.WebhookSecret == "" {
		log.Println("Warning: STRIPE_WEBHOOK_SECRET not set, webhook delivery will be rejected")
	}

	// Create Echo instance
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = authMiddleware.CustomErrorHandler

	// Initialize handlers
	planHandler := handlers.NewPlanHandler(db, keys)
	checkoutHandler := handlers.NewCheckoutHandler(db, keys)
	billingHandler := handlers.NewBillingHandler(db, keys, cache)

	// Processor callbacks carry their own signature check, not a bearer token
	e.POST("/webhooks/stripe", checkoutHandler.ProcessorWebhook)
	e.GET("/checkout/confirm", checkoutHandler.ConfirmCheckout)

	// Protected API routes
	api := e.Group("/api")
	api.Use(authMiddleware.RequireAuth(authClient))

	api.POST("/plans", planHandler.CreatePlan)
	api.GET("/plans/:id", planHandler.GetPlan)
	api.POST("/plans/:id/payment-method", planHandler.ReplacePaymentMethod)
	api.POST("/plans/:id/checkout", checkoutHandler.StartCheckout)
	api.POST("/plans/:id/hold", checkoutHandler.PlaceHold)
	api.POST("/plans/:id/payoff", billingHandler.Payoff)

	api.POST("/rentals/:id/reject", billingHandler.RejectRental)
	api.POST("/rentals/:id/refund", billingHandler.Refund)

	api.POST("/billing/run", billingHandler.RunBilling)
	api.GET("/billing/summary", billingHandler.Summary)

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// Start server
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Server starting on port %s", port)
	e.Logger.Fatal(e.Start(":" + port))
}
