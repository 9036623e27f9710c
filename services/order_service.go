package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/BinodLamichhane31/kix-sub000/audit"
	"github.com/BinodLamichhane31/kix-sub000/models"
	"github.com/BinodLamichhane31/kix-sub000/pricing"
	"github.com/BinodLamichhane31/kix-sub000/repository"
)

const orderNumberMaxAttempts = 5

type CreateOrderRequest struct {
	ShippingAddress models.Address `json:"shipping_address" binding:"required"`
	PaymentMethod   string         `json:"payment_method" binding:"required"`
	ShippingMethod  string         `json:"shipping_method"`
	PromoCode       string         `json:"promo_code"`
	Notes           string         `json:"notes"`
}

type UpdateStatusRequest struct {
	Status         string `json:"status" binding:"required"`
	TrackingNumber string `json:"tracking_number"`
}

type OrderListResponse struct {
	Orders []models.Order `json:"orders"`
	Meta   MetaData       `json:"meta"`
}

type OrderService struct {
	orders   repository.OrderRepository
	products repository.ProductRepository
	carts    repository.CartRepository
	recorder audit.Recorder
	validate *validator.Validate
	logger   *zap.Logger
}

func NewOrderService(
	orders repository.OrderRepository,
	products repository.ProductRepository,
	carts repository.CartRepository,
	recorder audit.Recorder,
	logger *zap.Logger,
) *OrderService {
	return &OrderService{
		orders:   orders,
		products: products,
		carts:    carts,
		recorder: recorder,
		validate: validator.New(),
		logger:   logger,
	}
}

// CreateOrder converts the user's cart into an immutable order snapshot.
// Totals are computed server-side from captured per-line prices; the client
// never supplies money values. For cash-on-delivery, stock is deducted and
// the cart cleared as part of creation; gateway methods defer both until the
// payment is verified.
func (s *OrderService) CreateOrder(ctx context.Context, userID uuid.UUID, userEmail string, req *CreateOrderRequest, meta RequestMeta) (*models.Order, *ServiceError) {
	method := models.PaymentMethod(strings.ToLower(req.PaymentMethod))
	if !method.Valid() {
		return nil, newError(http.StatusBadRequest, "invalid_payment_method", "Unsupported payment method")
	}
	if err := s.validate.Struct(req.ShippingAddress); err != nil {
		return nil, newError(http.StatusBadRequest, "invalid_address", "Shipping address is incomplete")
	}

	cart, err := s.carts.GetCart(ctx, userID.String())
	if err != nil {
		s.logger.Error("Failed to load cart", zap.String("user_id", userID.String()), zap.Error(err))
		return nil, newError(http.StatusInternalServerError, "internal", "Failed to load cart")
	}
	if cart == nil || len(cart.Items) == 0 {
		return nil, newError(http.StatusBadRequest, "empty_cart", "Cart is empty")
	}

	shippingMethod := req.ShippingMethod
	if shippingMethod == "" {
		shippingMethod = cart.ShippingMethod
	}
	promoCode := req.PromoCode
	if promoCode == "" {
		promoCode = cart.PromoCode
	}

	// Validate every line before touching anything: all-or-nothing.
	items := make([]models.OrderItem, 0, len(cart.Items))
	for _, ci := range cart.Items {
		if ci.Quantity < 1 {
			return nil, newError(http.StatusBadRequest, "invalid_quantity", fmt.Sprintf("Invalid quantity for %s", ci.Name))
		}
		product, err := s.products.FindByID(ctx, ci.ProductID)
		if err == repository.ErrProductNotFound {
			return nil, newError(http.StatusBadRequest, "product_unavailable", fmt.Sprintf("Product %s is no longer available", ci.Name))
		}
		if err != nil {
			s.logger.Error("Failed to load product", zap.String("product_id", ci.ProductID.String()), zap.Error(err))
			return nil, newError(http.StatusInternalServerError, "internal", "Failed to validate cart")
		}
		if product.Stock < ci.Quantity {
			return nil, newError(http.StatusBadRequest, "insufficient_stock", fmt.Sprintf("Insufficient stock for %s", product.Name))
		}
		// Copy by value; later cart or catalog mutations cannot reach into
		// the placed order.
		items = append(items, models.OrderItem{
			ProductID: ci.ProductID,
			Name:      ci.Name,
			Quantity:  ci.Quantity,
			UnitPrice: ci.UnitPrice,
			Size:      ci.Size,
			Color:     ci.Color,
		})
	}

	subtotal := pricing.Subtotal(cart.Items)
	discount := pricing.Discount(promoCode, subtotal)
	shippingFee, known := pricing.ShippingFee(shippingMethod)
	if !known && shippingMethod != "" {
		return nil, newError(http.StatusBadRequest, "invalid_shipping_method", "Unknown shipping method")
	}
	if shippingMethod == "" {
		shippingMethod = pricing.DefaultShippingMethod
	}
	total := pricing.Total(subtotal, discount, shippingFee)

	orderNumber, svcErr := s.generateOrderNumber(ctx)
	if svcErr != nil {
		return nil, svcErr
	}

	order := &models.Order{
		ID:              uuid.New(),
		OrderNumber:     orderNumber,
		UserID:          userID,
		UserEmail:       userEmail,
		Items:           items,
		ShippingAddress: req.ShippingAddress,
		ShippingMethod:  shippingMethod,
		PromoCode:       promoCode,
		Notes:           req.Notes,
		PaymentMethod:   method,
		PaymentStatus:   models.PaymentPending,
		Status:          models.OrderPending,
		Subtotal:        subtotal,
		Discount:        discount,
		ShippingFee:     shippingFee,
		Total:           total,
	}

	if method == models.PaymentMethodCOD {
		// Money never moves through the gateway, so stock is committed now.
		if svcErr := s.deductStockLines(ctx, items); svcErr != nil {
			return nil, svcErr
		}
		order.StockDeducted = true
	}

	if err := s.orders.Create(ctx, order); err != nil {
		s.logger.Error("Failed to persist order", zap.String("order_number", orderNumber), zap.Error(err))
		if method == models.PaymentMethodCOD {
			s.restoreStockLines(context.WithoutCancel(ctx), items)
		}
		return nil, newError(http.StatusInternalServerError, "internal", "Failed to create order")
	}

	if method == models.PaymentMethodCOD {
		if err := s.carts.DeleteCart(ctx, userID.String()); err != nil {
			// Order stands; a stale cart is an inconvenience, not a failure.
			s.logger.Warn("Failed to clear cart after COD order", zap.String("order_id", order.ID.String()), zap.Error(err))
		}
	}

	s.recorder.Record(&models.AuditLogEntry{
		Action:        models.AuditOrderCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        userID,
		UserEmail:     userEmail,
		PaymentMethod: method,
		Amount:        total,
		StatusAfter:   models.OrderPending,
		PaymentAfter:  models.PaymentPending,
		ClientIP:      meta.ClientIP,
		UserAgent:     meta.UserAgent,
		RequestID:     meta.RequestID,
		Success:       true,
	})

	s.logger.Info("Order created",
		zap.String("order_number", orderNumber),
		zap.String("payment_method", string(method)),
		zap.Int64("total", total),
	)
	return order, nil
}

// generateOrderNumber produces a collision-checked human-readable order
// number, bailing out after a small retry ceiling.
func (s *OrderService) generateOrderNumber(ctx context.Context) (string, *ServiceError) {
	for attempt := 0; attempt < orderNumberMaxAttempts; attempt++ {
		buf := make([]byte, 3)
		if _, err := rand.Read(buf); err != nil {
			return "", newError(http.StatusInternalServerError, "internal", "Failed to generate order number")
		}
		candidate := fmt.Sprintf("KIX-%s-%s", time.Now().UTC().Format("20060102"), strings.ToUpper(hex.EncodeToString(buf)))

		exists, err := s.orders.OrderNumberExists(ctx, candidate)
		if err != nil {
			return "", newError(http.StatusInternalServerError, "internal", "Failed to generate order number")
		}
		if !exists {
			return candidate, nil
		}
	}
	s.logger.Error("Order number generation exhausted retries")
	return "", newError(http.StatusInternalServerError, "order_number_exhausted", "Failed to generate a unique order number")
}

func (s *OrderService) deductStockLines(ctx context.Context, items []models.OrderItem) *ServiceError {
	for i, it := range items {
		if err := s.products.DecrementStock(ctx, it.ProductID, it.Quantity); err != nil {
			// Undo what we already took so a shortfall leaves no trace.
			s.restoreStockLines(context.WithoutCancel(ctx), items[:i])
			if err == repository.ErrInsufficientStock {
				return newError(http.StatusBadRequest, "insufficient_stock", fmt.Sprintf("Insufficient stock for %s", it.Name))
			}
			s.logger.Error("Stock decrement failed", zap.String("product_id", it.ProductID.String()), zap.Error(err))
			return newError(http.StatusInternalServerError, "internal", "Failed to reserve stock")
		}
	}
	return nil
}

func (s *OrderService) restoreStockLines(ctx context.Context, items []models.OrderItem) {
	for _, it := range items {
		if err := s.products.IncrementStock(ctx, it.ProductID, it.Quantity); err != nil {
			s.logger.Error("Stock restore failed",
				zap.String("product_id", it.ProductID.String()),
				zap.Int("quantity", it.Quantity),
				zap.Error(err),
			)
		}
	}
}

// GetOrder retrieves a specific order for its owner.
func (s *OrderService) GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, *ServiceError) {
	order, err := s.orders.FindByIDAndUserID(ctx, orderID, userID)
	if err == repository.ErrOrderNotFound {
		return nil, newError(http.StatusNotFound, "not_found", "Order not found")
	}
	if err != nil {
		s.logger.Error("Failed to fetch order", zap.String("order_id", orderID.String()), zap.Error(err))
		return nil, newError(http.StatusInternalServerError, "internal", "Failed to fetch order")
	}
	return order, nil
}

// GetUserOrders retrieves paginated orders for a specific user
func (s *OrderService) GetUserOrders(ctx context.Context, userID uuid.UUID, page, limit int) (*OrderListResponse, *ServiceError) {
	orders, total, err := s.orders.FindByUserID(ctx, userID, page, limit)
	if err != nil {
		s.logger.Error("Failed to fetch orders", zap.String("user_id", userID.String()), zap.Error(err))
		return nil, newError(http.StatusInternalServerError, "internal", "Failed to fetch orders")
	}
	return s.listResponse(orders, total, page, limit), nil
}

// GetAllOrders retrieves paginated orders for all users (admin only)
func (s *OrderService) GetAllOrders(ctx context.Context, page, limit int) (*OrderListResponse, *ServiceError) {
	orders, total, err := s.orders.FindAll(ctx, page, limit)
	if err != nil {
		s.logger.Error("Failed to fetch all orders", zap.Error(err))
		return nil, newError(http.StatusInternalServerError, "internal", "Failed to fetch orders")
	}
	return s.listResponse(orders, total, page, limit), nil
}

func (s *OrderService) listResponse(orders []models.Order, total int64, page, limit int) *OrderListResponse {
	return &OrderListResponse{
		Orders: orders,
		Meta: MetaData{
			Page:        page,
			Limit:       limit,
			TotalOrders: total,
			TotalPages:  calculateTotalPages(total, limit),
			HasMore:     total > int64(page*limit),
		},
	}
}

// UpdateStatus moves an order along the fulfilment flow. Non-COD orders may
// not advance past pending until their payment is verified; shipping unpaid
// goods is never allowed.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID uuid.UUID, req *UpdateStatusRequest, actorID uuid.UUID, meta RequestMeta) (*models.Order, *ServiceError) {
	next := models.OrderStatus(strings.ToLower(req.Status))
	if !next.Valid() {
		return nil, newError(http.StatusBadRequest, "invalid_status", "Unknown order status")
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err == repository.ErrOrderNotFound {
		return nil, newError(http.StatusNotFound, "not_found", "Order not found")
	}
	if err != nil {
		return nil, newError(http.StatusInternalServerError, "internal", "Failed to fetch order")
	}

	if next == models.OrderCancelled {
		return s.cancelOrder(ctx, order, actorID, meta)
	}

	// Re-setting delivered must not overwrite the original timestamp.
	if next == models.OrderDelivered && order.Status == models.OrderDelivered {
		return order, nil
	}

	if !order.CanTransitionTo(next) {
		s.auditStatusAttempt(order, next, actorID, meta, false, "invalid_transition")
		return nil, newError(http.StatusBadRequest, "invalid_transition",
			fmt.Sprintf("Cannot move order from %s to %s", order.Status, next))
	}

	if order.PaymentMethod != models.PaymentMethodCOD && order.PaymentStatus != models.PaymentPaid {
		s.auditStatusAttempt(order, next, actorID, meta, false, "payment_pending")
		return nil, newError(http.StatusBadRequest, "payment_pending",
			"Order cannot advance until its payment is verified")
	}

	set := bson.M{"status": next}
	if next == models.OrderShipped && req.TrackingNumber != "" {
		set["tracking_number"] = req.TrackingNumber
	}
	if next == models.OrderDelivered {
		now := time.Now().UTC()
		set["delivered_at"] = now
		if order.PaymentMethod == models.PaymentMethodCOD {
			// Cash settles on delivery confirmation.
			set["payment_status"] = models.PaymentPaid
		}
	}

	// Condition on the status we read so concurrent admin updates cannot
	// interleave.
	applied, err := s.orders.ConditionalUpdate(ctx, order.ID, bson.M{"status": order.Status}, set)
	if err != nil {
		s.logger.Error("Status update failed", zap.String("order_id", order.ID.String()), zap.Error(err))
		return nil, newError(http.StatusInternalServerError, "internal", "Failed to update order status")
	}
	if !applied {
		s.auditStatusAttempt(order, next, actorID, meta, false, "concurrent_update")
		return nil, newError(http.StatusConflict, "conflict", "Order was modified concurrently; retry")
	}

	s.auditStatusAttempt(order, next, actorID, meta, true, "")

	updated, err := s.orders.FindByID(ctx, order.ID)
	if err != nil {
		return order, nil
	}
	return updated, nil
}

// CancelOrder cancels an order on behalf of its owner.
func (s *OrderService) CancelOrder(ctx context.Context, userID, orderID uuid.UUID, meta RequestMeta) (*models.Order, *ServiceError) {
	order, err := s.orders.FindByIDAndUserID(ctx, orderID, userID)
	if err == repository.ErrOrderNotFound {
		return nil, newError(http.StatusNotFound, "not_found", "Order not found")
	}
	if err != nil {
		return nil, newError(http.StatusInternalServerError, "internal", "Failed to fetch order")
	}
	return s.cancelOrder(ctx, order, userID, meta)
}

// cancelOrder is the shared cancellation path: permitted from pending and
// confirmed only, restores stock if it was ever deducted, and flips a
// captured payment to refunded.
func (s *OrderService) cancelOrder(ctx context.Context, order *models.Order, actorID uuid.UUID, meta RequestMeta) (*models.Order, *ServiceError) {
	set := bson.M{
		"status":       models.OrderCancelled,
		"cancelled_at": time.Now().UTC(),
	}
	if order.PaymentStatus == models.PaymentPaid {
		set["payment_status"] = models.PaymentRefunded
	}

	cond := bson.M{"status": bson.M{"$in": []models.OrderStatus{models.OrderPending, models.OrderConfirmed}}}
	applied, err := s.orders.ConditionalUpdate(ctx, order.ID, cond, set)
	if err != nil {
		s.logger.Error("Cancellation failed", zap.String("order_id", order.ID.String()), zap.Error(err))
		return nil, newError(http.StatusInternalServerError, "internal", "Failed to cancel order")
	}
	if !applied {
		s.auditCancelAttempt(order, actorID, meta, false, "invalid_transition")
		return nil, newError(http.StatusBadRequest, "invalid_transition",
			fmt.Sprintf("Order in status %s cannot be cancelled", order.Status))
	}

	// Restore stock exactly once, keyed off the same flag that guards
	// deduction.
	flagged, err := s.orders.ConditionalUpdate(ctx, order.ID, bson.M{"stock_deducted": true}, bson.M{"stock_deducted": false})
	if err != nil {
		s.logger.Error("Stock restore flag flip failed", zap.String("order_id", order.ID.String()), zap.Error(err))
	} else if flagged {
		s.restoreStockLines(ctx, order.Items)
	}

	s.auditCancelAttempt(order, actorID, meta, true, "")

	updated, err := s.orders.FindByID(ctx, order.ID)
	if err != nil {
		return order, nil
	}
	return updated, nil
}

func (s *OrderService) auditStatusAttempt(order *models.Order, next models.OrderStatus, actorID uuid.UUID, meta RequestMeta, success bool, errCode string) {
	entry := &models.AuditLogEntry{
		Action:        models.AuditStatusUpdated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        actorID,
		PaymentMethod: order.PaymentMethod,
		StatusBefore:  order.Status,
		StatusAfter:   next,
		PaymentBefore: order.PaymentStatus,
		PaymentAfter:  order.PaymentStatus,
		ClientIP:      meta.ClientIP,
		UserAgent:     meta.UserAgent,
		RequestID:     meta.RequestID,
		Success:       success,
		ErrorCode:     errCode,
	}
	if success && next == models.OrderDelivered && order.PaymentMethod == models.PaymentMethodCOD {
		entry.PaymentAfter = models.PaymentPaid
	}
	s.recorder.Record(entry)
}

func (s *OrderService) auditCancelAttempt(order *models.Order, actorID uuid.UUID, meta RequestMeta, success bool, errCode string) {
	paymentAfter := order.PaymentStatus
	if success && order.PaymentStatus == models.PaymentPaid {
		paymentAfter = models.PaymentRefunded
	}
	s.recorder.Record(&models.AuditLogEntry{
		Action:        models.AuditOrderCancelled,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        actorID,
		PaymentMethod: order.PaymentMethod,
		StatusBefore:  order.Status,
		StatusAfter:   models.OrderCancelled,
		PaymentBefore: order.PaymentStatus,
		PaymentAfter:  paymentAfter,
		ClientIP:      meta.ClientIP,
		UserAgent:     meta.UserAgent,
		RequestID:     meta.RequestID,
		Success:       success,
		ErrorCode:     errCode,
	})
}
