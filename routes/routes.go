package routes

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/BinodLamichhane31/kix-sub000/controllers"
	"github.com/BinodLamichhane31/kix-sub000/middleware"
)

type RateLimits struct {
	Limiter        middleware.Limiter
	PaymentWindow  time.Duration
	PaymentLimit   int
	CallbackWindow time.Duration
	CallbackLimit  int
}

func RegisterRoutes(r *gin.Engine, oc *controllers.OrderController, pc *controllers.PaymentController, jwtSecret string, limits RateLimits) {
	paymentLimit := middleware.RateLimit(limits.Limiter, "payment", limits.PaymentWindow, limits.PaymentLimit)
	// The gateway itself retries callbacks, so it gets a higher ceiling.
	callbackLimit := middleware.RateLimit(limits.Limiter, "callback", limits.CallbackWindow, limits.CallbackLimit)

	orderRoutes := r.Group("/orders")
	orderRoutes.Use(middleware.AuthMiddleware(jwtSecret))
	orderRoutes.POST("/", oc.CreateOrder)
	orderRoutes.GET("/", oc.GetOrders)
	orderRoutes.GET("/:id", oc.GetOrderByID)
	orderRoutes.POST("/:id/cancel", oc.CancelOrder)
	orderRoutes.POST("/:id/payment", paymentLimit, pc.InitiatePayment)
	orderRoutes.POST("/:id/verify-payment", paymentLimit, pc.VerifyPayment)

	// Callbacks are authenticated by gateway verification, never by session.
	r.GET("/payments/callback", callbackLimit, pc.Callback)
	r.POST("/payments/callback", callbackLimit, pc.Callback)

	adminRoutes := r.Group("/admin")
	adminRoutes.Use(middleware.AuthMiddleware(jwtSecret), middleware.AdminOnly())
	adminRoutes.GET("/orders", oc.GetAllOrders)
	adminRoutes.PATCH("/orders/:id/status", oc.UpdateStatus)
	adminRoutes.GET("/orders/:id/audit", oc.GetOrderAudit)
}
