package services_test

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/BinodLamichhane31/kix-sub000/models"
	"github.com/BinodLamichhane31/kix-sub000/services"
)

type orderFixture struct {
	orders   *mockOrderRepo
	products *mockProductRepo
	carts    *mockCartRepo
	recorder *captureRecorder
	svc      *services.OrderService
	userID   uuid.UUID
}

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()
	f := &orderFixture{
		orders:   newMockOrderRepo(),
		products: newMockProductRepo(),
		carts:    newMockCartRepo(),
		recorder: &captureRecorder{},
		userID:   uuid.New(),
	}
	f.svc = services.NewOrderService(f.orders, f.products, f.carts, f.recorder, zap.NewNop())
	return f
}

func (f *orderFixture) seedProduct(price int64, stock int) uuid.UUID {
	id := uuid.New()
	f.products.add(&models.Product{ID: id, Name: "Sneaker " + id.String()[:4], Price: price, Stock: stock, InStock: true})
	return id
}

func (f *orderFixture) seedCart(items ...models.CartItem) {
	f.carts.carts[f.userID.String()] = &models.Cart{UserID: f.userID.String(), Items: items}
}

func testAddress() models.Address {
	return models.Address{
		FullName: "Sita Sharma",
		Phone:    "9841000000",
		Line1:    "Baneshwor Height",
		City:     "Kathmandu",
	}
}

func testMeta() services.RequestMeta {
	return services.RequestMeta{ClientIP: "10.0.0.1", UserAgent: "test", RequestID: "req-1"}
}

func TestCreateOrderCOD(t *testing.T) {
	f := newOrderFixture(t)
	productID := f.seedProduct(500, 10)
	f.seedCart(models.CartItem{ProductID: productID, Name: "Sneaker", Quantity: 2, UnitPrice: 500})

	order, svcErr := f.svc.CreateOrder(context.Background(), f.userID, "sita@example.com", &services.CreateOrderRequest{
		ShippingAddress: testAddress(),
		PaymentMethod:   "cod",
	}, testMeta())

	assert.Nil(t, svcErr)
	assert.Equal(t, int64(1000), order.Subtotal)
	assert.Equal(t, int64(1000), order.Total)
	assert.Equal(t, models.OrderPending, order.Status)
	assert.Equal(t, models.PaymentPending, order.PaymentStatus)
	assert.True(t, strings.HasPrefix(order.OrderNumber, "KIX-"))

	// COD commits stock and clears the cart at creation time.
	assert.Equal(t, 2, f.products.decremented(productID))
	assert.False(t, f.carts.has(f.userID.String()))
	assert.True(t, f.orders.get(order.ID).StockDeducted)
	assert.Len(t, f.recorder.byAction(models.AuditOrderCreated), 1)
}

func TestCreateOrderGatewayDefersStockAndCart(t *testing.T) {
	f := newOrderFixture(t)
	productID := f.seedProduct(500, 10)
	f.seedCart(models.CartItem{ProductID: productID, Name: "Sneaker", Quantity: 2, UnitPrice: 500})

	order, svcErr := f.svc.CreateOrder(context.Background(), f.userID, "sita@example.com", &services.CreateOrderRequest{
		ShippingAddress: testAddress(),
		PaymentMethod:   "esewa",
	}, testMeta())

	assert.Nil(t, svcErr)
	assert.Equal(t, 0, f.products.decremented(productID))
	assert.True(t, f.carts.has(f.userID.String()))
	assert.False(t, f.orders.get(order.ID).StockDeducted)
	assert.Empty(t, order.Payment.TransactionID)
}

func TestCreateOrderTotalsServerSide(t *testing.T) {
	f := newOrderFixture(t)
	productID := f.seedProduct(100, 5)
	f.seedCart(models.CartItem{ProductID: productID, Name: "Tee", Quantity: 1, UnitPrice: 100})

	order, svcErr := f.svc.CreateOrder(context.Background(), f.userID, "sita@example.com", &services.CreateOrderRequest{
		ShippingAddress: testAddress(),
		PaymentMethod:   "cod",
		ShippingMethod:  "express",
		PromoCode:       "WELCOME10",
	}, testMeta())

	assert.Nil(t, svcErr)
	assert.Equal(t, int64(100), order.Subtotal)
	assert.Equal(t, int64(10), order.Discount)
	assert.Equal(t, int64(12), order.ShippingFee)
	assert.Equal(t, int64(102), order.Total)
	assert.Equal(t, order.Subtotal-order.Discount+order.ShippingFee, order.Total)
}

func TestCreateOrderEmptyCart(t *testing.T) {
	f := newOrderFixture(t)

	_, svcErr := f.svc.CreateOrder(context.Background(), f.userID, "sita@example.com", &services.CreateOrderRequest{
		ShippingAddress: testAddress(),
		PaymentMethod:   "cod",
	}, testMeta())

	assert.NotNil(t, svcErr)
	assert.Equal(t, http.StatusBadRequest, svcErr.StatusCode)
	assert.Equal(t, "empty_cart", svcErr.Reason)
}

func TestCreateOrderInvalidInputs(t *testing.T) {
	f := newOrderFixture(t)
	productID := f.seedProduct(100, 5)
	f.seedCart(models.CartItem{ProductID: productID, Name: "Tee", Quantity: 1, UnitPrice: 100})

	_, svcErr := f.svc.CreateOrder(context.Background(), f.userID, "sita@example.com", &services.CreateOrderRequest{
		ShippingAddress: testAddress(),
		PaymentMethod:   "bitcoin",
	}, testMeta())
	assert.NotNil(t, svcErr)
	assert.Equal(t, "invalid_payment_method", svcErr.Reason)

	addr := testAddress()
	addr.City = ""
	_, svcErr = f.svc.CreateOrder(context.Background(), f.userID, "sita@example.com", &services.CreateOrderRequest{
		ShippingAddress: addr,
		PaymentMethod:   "cod",
	}, testMeta())
	assert.NotNil(t, svcErr)
	assert.Equal(t, "invalid_address", svcErr.Reason)

	_, svcErr = f.svc.CreateOrder(context.Background(), f.userID, "sita@example.com", &services.CreateOrderRequest{
		ShippingAddress: testAddress(),
		PaymentMethod:   "cod",
		ShippingMethod:  "teleport",
	}, testMeta())
	assert.NotNil(t, svcErr)
	assert.Equal(t, "invalid_shipping_method", svcErr.Reason)
}

func TestCreateOrderInsufficientStockIsAllOrNothing(t *testing.T) {
	f := newOrderFixture(t)
	plentiful := f.seedProduct(100, 10)
	scarce := f.seedProduct(200, 1)
	f.seedCart(
		models.CartItem{ProductID: plentiful, Name: "Tee", Quantity: 2, UnitPrice: 100},
		models.CartItem{ProductID: scarce, Name: "Cap", Quantity: 3, UnitPrice: 200},
	)

	_, svcErr := f.svc.CreateOrder(context.Background(), f.userID, "sita@example.com", &services.CreateOrderRequest{
		ShippingAddress: testAddress(),
		PaymentMethod:   "cod",
	}, testMeta())

	assert.NotNil(t, svcErr)
	assert.Equal(t, "insufficient_stock", svcErr.Reason)
	// Nothing was persisted, nothing was deducted, the cart survives.
	assert.Equal(t, 0, f.products.decremented(plentiful))
	assert.Equal(t, 0, f.products.decremented(scarce))
	assert.True(t, f.carts.has(f.userID.String()))
}

func TestCreateOrderRetriesNumberCollisions(t *testing.T) {
	f := newOrderFixture(t)
	productID := f.seedProduct(100, 5)
	f.seedCart(models.CartItem{ProductID: productID, Name: "Tee", Quantity: 1, UnitPrice: 100})
	f.orders.collisions = 2

	order, svcErr := f.svc.CreateOrder(context.Background(), f.userID, "sita@example.com", &services.CreateOrderRequest{
		ShippingAddress: testAddress(),
		PaymentMethod:   "cod",
	}, testMeta())
	assert.Nil(t, svcErr)
	assert.NotEmpty(t, order.OrderNumber)
}

func TestCreateOrderNumberExhaustion(t *testing.T) {
	f := newOrderFixture(t)
	productID := f.seedProduct(100, 5)
	f.seedCart(models.CartItem{ProductID: productID, Name: "Tee", Quantity: 1, UnitPrice: 100})
	f.orders.collisions = 50

	_, svcErr := f.svc.CreateOrder(context.Background(), f.userID, "sita@example.com", &services.CreateOrderRequest{
		ShippingAddress: testAddress(),
		PaymentMethod:   "cod",
	}, testMeta())
	assert.NotNil(t, svcErr)
	assert.Equal(t, "order_number_exhausted", svcErr.Reason)
}

func placeOrder(t *testing.T, f *orderFixture, method string) *models.Order {
	t.Helper()
	productID := f.seedProduct(100, 10)
	f.seedCart(models.CartItem{ProductID: productID, Name: "Tee", Quantity: 2, UnitPrice: 100})
	order, svcErr := f.svc.CreateOrder(context.Background(), f.userID, "sita@example.com", &services.CreateOrderRequest{
		ShippingAddress: testAddress(),
		PaymentMethod:   method,
	}, testMeta())
	if svcErr != nil {
		t.Fatalf("placing order: %s", svcErr.Message)
	}
	return order
}

func TestUpdateStatusFulfilmentFlow(t *testing.T) {
	f := newOrderFixture(t)
	order := placeOrder(t, f, "cod")
	admin := uuid.New()
	ctx := context.Background()

	for _, step := range []string{"confirmed", "processing"} {
		updated, svcErr := f.svc.UpdateStatus(ctx, order.ID, &services.UpdateStatusRequest{Status: step}, admin, testMeta())
		assert.Nil(t, svcErr)
		assert.Equal(t, models.OrderStatus(step), updated.Status)
	}

	updated, svcErr := f.svc.UpdateStatus(ctx, order.ID, &services.UpdateStatusRequest{
		Status:         "shipped",
		TrackingNumber: "TRK-42",
	}, admin, testMeta())
	assert.Nil(t, svcErr)
	assert.Equal(t, "TRK-42", updated.TrackingNumber)

	updated, svcErr = f.svc.UpdateStatus(ctx, order.ID, &services.UpdateStatusRequest{Status: "delivered"}, admin, testMeta())
	assert.Nil(t, svcErr)
	assert.NotNil(t, updated.DeliveredAt)
	// Cash settles on delivery.
	assert.Equal(t, models.PaymentPaid, updated.PaymentStatus)

	// Re-delivery is a no-op that keeps the original timestamp.
	first := *updated.DeliveredAt
	again, svcErr := f.svc.UpdateStatus(ctx, order.ID, &services.UpdateStatusRequest{Status: "delivered"}, admin, testMeta())
	assert.Nil(t, svcErr)
	assert.Equal(t, first, *again.DeliveredAt)
}

func TestUpdateStatusRejectsSkippedSteps(t *testing.T) {
	f := newOrderFixture(t)
	order := placeOrder(t, f, "cod")

	_, svcErr := f.svc.UpdateStatus(context.Background(), order.ID, &services.UpdateStatusRequest{Status: "shipped"}, uuid.New(), testMeta())
	assert.NotNil(t, svcErr)
	assert.Equal(t, "invalid_transition", svcErr.Reason)
	assert.Equal(t, http.StatusBadRequest, svcErr.StatusCode)
}

func TestUpdateStatusBlocksUnpaidGatewayOrder(t *testing.T) {
	f := newOrderFixture(t)
	order := placeOrder(t, f, "esewa")

	_, svcErr := f.svc.UpdateStatus(context.Background(), order.ID, &services.UpdateStatusRequest{Status: "confirmed"}, uuid.New(), testMeta())
	assert.NotNil(t, svcErr)
	assert.Equal(t, "payment_pending", svcErr.Reason)

	failed := f.recorder.byAction(models.AuditStatusUpdated)
	assert.Len(t, failed, 1)
	assert.False(t, failed[0].Success)
	assert.Equal(t, "payment_pending", failed[0].ErrorCode)
}

func TestCancelOrderRestoresStockOnce(t *testing.T) {
	f := newOrderFixture(t)
	order := placeOrder(t, f, "cod")
	productID := order.Items[0].ProductID
	ctx := context.Background()

	cancelled, svcErr := f.svc.CancelOrder(ctx, f.userID, order.ID, testMeta())
	assert.Nil(t, svcErr)
	assert.Equal(t, models.OrderCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CancelledAt)
	assert.Equal(t, 2, f.products.increments[productID])

	// A second cancellation is rejected and must not restore again.
	_, svcErr = f.svc.CancelOrder(ctx, f.userID, order.ID, testMeta())
	assert.NotNil(t, svcErr)
	assert.Equal(t, "invalid_transition", svcErr.Reason)
	assert.Equal(t, 2, f.products.increments[productID])
}

func TestCancelShippedOrderRejected(t *testing.T) {
	f := newOrderFixture(t)
	order := placeOrder(t, f, "cod")
	admin := uuid.New()
	ctx := context.Background()
	for _, step := range []string{"confirmed", "processing", "shipped"} {
		_, svcErr := f.svc.UpdateStatus(ctx, order.ID, &services.UpdateStatusRequest{Status: step}, admin, testMeta())
		assert.Nil(t, svcErr)
	}

	_, svcErr := f.svc.CancelOrder(ctx, f.userID, order.ID, testMeta())
	assert.NotNil(t, svcErr)
	assert.Equal(t, "invalid_transition", svcErr.Reason)
}

func TestCancelPaidOrderFlipsToRefunded(t *testing.T) {
	f := newOrderFixture(t)
	order := placeOrder(t, f, "esewa")
	// Simulate a settled payment.
	stored := f.orders.get(order.ID)
	stored.PaymentStatus = models.PaymentPaid
	stored.Status = models.OrderConfirmed
	stored.StockDeducted = true
	f.orders.put(stored)

	cancelled, svcErr := f.svc.CancelOrder(context.Background(), f.userID, order.ID, testMeta())
	assert.Nil(t, svcErr)
	assert.Equal(t, models.PaymentRefunded, cancelled.PaymentStatus)
	assert.Equal(t, 2, f.products.increments[order.Items[0].ProductID])

	audits := f.recorder.byAction(models.AuditOrderCancelled)
	assert.Len(t, audits, 1)
	assert.Equal(t, models.PaymentRefunded, audits[0].PaymentAfter)
}

func TestGetOrderScopedToOwner(t *testing.T) {
	f := newOrderFixture(t)
	order := placeOrder(t, f, "cod")

	got, svcErr := f.svc.GetOrder(context.Background(), f.userID, order.ID)
	assert.Nil(t, svcErr)
	assert.Equal(t, order.ID, got.ID)

	_, svcErr = f.svc.GetOrder(context.Background(), uuid.New(), order.ID)
	assert.NotNil(t, svcErr)
	assert.Equal(t, http.StatusNotFound, svcErr.StatusCode)
}
