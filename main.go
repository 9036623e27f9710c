package main

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/BinodLamichhane31/kix-sub000/audit"
	"github.com/BinodLamichhane31/kix-sub000/config"
	"github.com/BinodLamichhane31/kix-sub000/controllers"
	"github.com/BinodLamichhane31/kix-sub000/database"
	apperrors "github.com/BinodLamichhane31/kix-sub000/errors"
	"github.com/BinodLamichhane31/kix-sub000/gateway"
	"github.com/BinodLamichhane31/kix-sub000/logger"
	"github.com/BinodLamichhane31/kix-sub000/middleware"
	"github.com/BinodLamichhane31/kix-sub000/repository"
	"github.com/BinodLamichhane31/kix-sub000/routes"
	"github.com/BinodLamichhane31/kix-sub000/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("[CheckoutService] ❌ Failed to load config:", err)
	}

	logger.Initialize(cfg.Environment)
	defer logger.Log.Sync()

	if err := database.ConnectMongo(cfg.MongoURI, cfg.MongoDB); err != nil {
		log.Fatal("[CheckoutService] ❌ Failed to connect to MongoDB:", err)
	}
	defer database.CloseMongo()

	redisClient := database.NewRedisClient(cfg.RedisURL)

	orderRepo := repository.NewMongoOrderRepository(database.DB, cfg.MongoUseTransactions)
	productRepo := repository.NewMongoProductRepository(database.DB)
	cartRepo := repository.NewRedisCartRepository(redisClient)
	auditRepo := repository.NewMongoAuditRepository(database.DB)

	if err := auditRepo.EnsureIndexes(context.Background()); err != nil {
		log.Println("[CheckoutService] Failed to ensure audit indexes:", err)
	}

	recorder := audit.NewMongoRecorder(auditRepo, logger.Log)

	gw := gateway.NewClient(gateway.Config{
		PaymentURL:   cfg.EsewaPaymentURL,
		StatusURL:    cfg.EsewaStatusURL,
		MerchantCode: cfg.EsewaMerchant,
		SecretKey:    cfg.EsewaSecretKey,
		SuccessURL:   cfg.FrontendURL + "/payment/callback",
		FailureURL:   cfg.FrontendURL + "/payment/callback",
		Timeout:      cfg.GatewayTimeout,
	}, logger.Log)
	if !gw.Configured() {
		log.Println("[CheckoutService] ⚠️ Gateway credentials missing; payment routes will answer 503")
	}

	orderService := services.NewOrderService(orderRepo, productRepo, cartRepo, recorder, logger.Log)
	paymentService := services.NewPaymentService(orderRepo, productRepo, cartRepo, gw, recorder, logger.Log)

	oc := controllers.NewOrderController(orderService, auditRepo)
	pc := controllers.NewPaymentController(paymentService, cfg.FrontendURL)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.RequestLogger())
	r.Use(middleware.SecurityHeaders())
	r.Use(apperrors.ErrorMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{cfg.FrontendURL},
		AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		AllowCredentials: true,
	}))

	r.GET("/healthz", func(c *gin.Context) {
		status := http.StatusOK
		checks := gin.H{"mongo": "ok", "redis": "ok"}
		if err := database.MongoClient.Ping(c.Request.Context(), nil); err != nil {
			checks["mongo"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		if err := redisClient.Ping(c.Request.Context()).Err(); err != nil {
			checks["redis"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, checks)
	})

	routes.RegisterRoutes(r, oc, pc, cfg.JWTSecret, routes.RateLimits{
		Limiter:        middleware.NewRedisLimiter(redisClient),
		PaymentWindow:  cfg.PaymentRateWindow,
		PaymentLimit:   cfg.PaymentRateLimit,
		CallbackWindow: cfg.CallbackRateWindow,
		CallbackLimit:  cfg.CallbackRateLimit,
	})

	log.Println("[CheckoutService] ✅ Running on port", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal("[CheckoutService] ❌ Server failed:", err)
	}
}
