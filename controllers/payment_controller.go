package controllers

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/BinodLamichhane31/kix-sub000/middleware"
	"github.com/BinodLamichhane31/kix-sub000/services"
)

type PaymentController struct {
	paymentService *services.PaymentService
	frontendURL    string
}

func NewPaymentController(paymentService *services.PaymentService, frontendURL string) *PaymentController {
	return &PaymentController{
		paymentService: paymentService,
		frontendURL:    frontendURL,
	}
}

// InitiatePayment builds the signed gateway redirect payload for an order.
func (pc *PaymentController) InitiatePayment(ctx *gin.Context) {
	userID, err := middleware.GetUserID(ctx)
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	orderID, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID format"})
		return
	}

	payload, svcErr := pc.paymentService.InitiatePayment(ctx.Request.Context(), userID, orderID, requestMeta(ctx))
	if svcErr != nil {
		ctx.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message, "code": svcErr.Reason})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"paymentUrl": payload.PaymentURL,
		"formData":   payload.FormData,
	})
}

// Callback receives gateway notifications. Gateways vary between POST form
// bodies and GET query strings, so both are accepted. The response is always
// a redirect to the storefront callback route; the gateway expects no JSON.
func (pc *PaymentController) Callback(ctx *gin.Context) {
	params := services.CallbackParams{
		TransactionUUID: pickParam(ctx, "transaction_uuid"),
		ProductCode:     pickParam(ctx, "product_code"),
		TotalAmount:     pickParam(ctx, "total_amount"),
		Status:          pickParam(ctx, "status"),
		RefID:           pickParam(ctx, "ref_id"),
		Signature:       pickParam(ctx, "signature"),
	}

	outcome := pc.paymentService.HandleCallback(ctx.Request.Context(), params, requestMeta(ctx))

	q := url.Values{}
	q.Set("status", outcome.Status)
	if outcome.OrderID != "" {
		q.Set("orderId", outcome.OrderID)
	}
	if outcome.Error != "" {
		q.Set("error", outcome.Error)
	}
	if outcome.AlreadyPaid {
		q.Set("alreadyPaid", "true")
	}

	ctx.Redirect(http.StatusFound, pc.frontendURL+"/payment/callback?"+q.Encode())
}

// VerifyPayment lets the order's owner re-run gateway verification.
func (pc *PaymentController) VerifyPayment(ctx *gin.Context) {
	userID, err := middleware.GetUserID(ctx)
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	orderID, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID format"})
		return
	}

	result, svcErr := pc.paymentService.VerifyPayment(ctx.Request.Context(), userID, orderID, requestMeta(ctx))
	if svcErr != nil {
		ctx.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message, "code": svcErr.Reason})
		return
	}

	ctx.JSON(http.StatusOK, result)
}

// pickParam reads a field from the query string or the form body.
func pickParam(ctx *gin.Context, name string) string {
	if v := ctx.Query(name); v != "" {
		return v
	}
	return ctx.PostForm(name)
}
