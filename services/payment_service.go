package services

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/BinodLamichhane31/kix-sub000/audit"
	"github.com/BinodLamichhane31/kix-sub000/gateway"
	"github.com/BinodLamichhane31/kix-sub000/models"
	"github.com/BinodLamichhane31/kix-sub000/repository"
)

// CallbackParams are the fields a gateway notification carries. They are
// untrusted until verified server-to-server.
type CallbackParams struct {
	TransactionUUID string
	ProductCode     string
	TotalAmount     string
	Status          string
	RefID           string
	Signature       string
}

// CallbackOutcome is what the callback handler redirects with. The redirect
// contract (status, orderId, optional error/alreadyPaid) is part of the
// public interface.
type CallbackOutcome struct {
	Status      string // "success" or "failed"
	OrderID     string
	Error       string
	AlreadyPaid bool
}

// VerifyOutcome is the response of a manual re-verification request.
type VerifyOutcome struct {
	PaymentStatus models.PaymentStatus `json:"payment_status"`
	VerifiedAt    *time.Time           `json:"verified_at,omitempty"`
	Verified      bool                 `json:"verified"`
	Message       string               `json:"message,omitempty"`
}

// PaymentService owns the gateway half of the order lifecycle: initiation,
// callback reconciliation, and manual re-verification.
type PaymentService struct {
	orders   repository.OrderRepository
	products repository.ProductRepository
	carts    repository.CartRepository
	gw       *gateway.Client
	recorder audit.Recorder
	logger   *zap.Logger
}

func NewPaymentService(
	orders repository.OrderRepository,
	products repository.ProductRepository,
	carts repository.CartRepository,
	gw *gateway.Client,
	recorder audit.Recorder,
	logger *zap.Logger,
) *PaymentService {
	return &PaymentService{
		orders:   orders,
		products: products,
		carts:    carts,
		gw:       gw,
		recorder: recorder,
		logger:   logger,
	}
}

// InitiatePayment produces the signed redirect payload for a gateway order.
// Safe to call repeatedly: a prior initiation's transaction is reused while
// the order is still pending, so a page refresh cannot mint duplicate
// gateway transactions.
func (s *PaymentService) InitiatePayment(ctx context.Context, userID, orderID uuid.UUID, meta RequestMeta) (*gateway.PaymentPayload, *ServiceError) {
	if !s.gw.Configured() {
		return nil, newError(http.StatusServiceUnavailable, "gateway_unconfigured", "Payment gateway is not configured")
	}

	order, err := s.orders.FindByIDAndUserID(ctx, orderID, userID)
	if err == repository.ErrOrderNotFound {
		return nil, newError(http.StatusNotFound, "not_found", "Order not found")
	}
	if err != nil {
		return nil, newError(http.StatusInternalServerError, "internal", "Failed to fetch order")
	}

	if !order.PaymentMethod.IsGateway() {
		return nil, newError(http.StatusBadRequest, "invalid_payment_method", "Order does not use a gateway payment method")
	}
	if order.PaymentStatus == models.PaymentPaid {
		return nil, newError(http.StatusBadRequest, "already_paid", "Order is already paid")
	}
	if order.Status == models.OrderCancelled {
		return nil, newError(http.StatusBadRequest, "order_cancelled", "Order has been cancelled")
	}

	txn := order.Payment.TransactionID
	productCode := order.Payment.ProductCode
	locked := order.Payment.LockedAmount

	if txn == "" {
		txn = uuid.New().String()
		productCode = s.gw.ProductCode(string(order.PaymentMethod))
		locked = order.Total

		// Persist the transaction and lock the amount before building the
		// outbound payload. Conditioned on no transaction existing yet so
		// two concurrent initiations cannot both mint one.
		applied, err := s.orders.ConditionalUpdate(ctx, order.ID,
			bson.M{"payment.transaction_id": bson.M{"$in": bson.A{nil, ""}}},
			bson.M{
				"payment.transaction_id": txn,
				"payment.product_code":   productCode,
				"payment.locked_amount":  locked,
			})
		if err != nil {
			s.logger.Error("Failed to persist payment metadata", zap.String("order_id", order.ID.String()), zap.Error(err))
			return nil, newError(http.StatusInternalServerError, "internal", "Failed to initiate payment")
		}
		if !applied {
			// Lost the race; reuse whatever the winner persisted.
			fresh, err := s.orders.FindByID(ctx, order.ID)
			if err != nil {
				return nil, newError(http.StatusInternalServerError, "internal", "Failed to initiate payment")
			}
			txn = fresh.Payment.TransactionID
			productCode = fresh.Payment.ProductCode
			locked = fresh.Payment.LockedAmount
		}
	}

	payload, err := s.gw.BuildPayment(txn, productCode, locked)
	if err != nil {
		s.recorder.Record(&models.AuditLogEntry{
			Action:        models.AuditPaymentInitiated,
			OrderID:       order.ID,
			OrderNumber:   order.OrderNumber,
			UserID:        userID,
			UserEmail:     order.UserEmail,
			PaymentMethod: order.PaymentMethod,
			TransactionID: txn,
			Amount:        locked,
			ClientIP:      meta.ClientIP,
			UserAgent:     meta.UserAgent,
			RequestID:     meta.RequestID,
			Success:       false,
			ErrorCode:     "payload_build_failed",
			ErrorMessage:  err.Error(),
		})
		s.logger.Error("Failed to build payment payload", zap.String("order_id", order.ID.String()), zap.Error(err))
		return nil, newError(http.StatusInternalServerError, "gateway_error", "Failed to build payment payload")
	}

	s.recorder.Record(&models.AuditLogEntry{
		Action:        models.AuditPaymentInitiated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        userID,
		UserEmail:     order.UserEmail,
		PaymentMethod: order.PaymentMethod,
		TransactionID: txn,
		Amount:        locked,
		ClientIP:      meta.ClientIP,
		UserAgent:     meta.UserAgent,
		RequestID:     meta.RequestID,
		Success:       true,
	})

	return payload, nil
}

// HandleCallback reconciles an inbound gateway notification. It is safe to
// call any number of times with duplicated or stale data: all state moves go
// through conditional updates on the persisted order, and a success claim is
// only honoured after server-to-server verification.
func (s *PaymentService) HandleCallback(ctx context.Context, p CallbackParams, meta RequestMeta) CallbackOutcome {
	if p.TransactionUUID == "" || p.ProductCode == "" {
		s.auditCallback(nil, p, meta, models.AuditPaymentFailed, false, "missing_params", "callback missing transaction parameters")
		return CallbackOutcome{Status: "failed", Error: "missing_params"}
	}

	order, err := s.orders.FindByTransactionID(ctx, p.TransactionUUID)
	if err == repository.ErrOrderNotFound {
		s.auditCallback(nil, p, meta, models.AuditPaymentFailed, false, "order_not_found", "no order for transaction")
		return CallbackOutcome{Status: "failed", Error: "order_not_found"}
	}
	if err != nil {
		s.logger.Error("Callback order lookup failed", zap.String("transaction_uuid", p.TransactionUUID), zap.Error(err))
		return CallbackOutcome{Status: "failed", Error: "internal"}
	}

	outcome := CallbackOutcome{OrderID: order.ID.String()}

	if p.ProductCode != order.Payment.ProductCode {
		s.auditCallback(order, p, meta, models.AuditPaymentFailed, false, "callback_mismatch", "product code does not match order")
		outcome.Status = "failed"
		outcome.Error = "callback_mismatch"
		return outcome
	}
	if p.TotalAmount != "" {
		if claimed, err := strconv.ParseInt(p.TotalAmount, 10, 64); err != nil || claimed != order.Payment.LockedAmount {
			s.auditCallback(order, p, meta, models.AuditPaymentFailed, false, "callback_mismatch", "claimed amount does not match locked amount")
			outcome.Status = "failed"
			outcome.Error = "callback_mismatch"
			return outcome
		}
	}
	// When the callback carries a signature, it must check out against the
	// order's own locked amount before any claim is considered.
	if p.Signature != "" && !s.gw.VerifyCallbackSignature(p.TransactionUUID, p.ProductCode, order.Payment.LockedAmount, p.Signature) {
		s.auditCallback(order, p, meta, models.AuditPaymentFailed, false, "callback_mismatch", "callback signature is invalid")
		outcome.Status = "failed"
		outcome.Error = "callback_mismatch"
		return outcome
	}

	if order.PaymentStatus == models.PaymentPaid {
		s.auditAlreadyPaid(order, meta)
		outcome.Status = "success"
		outcome.AlreadyPaid = true
		return outcome
	}

	claim := strings.ToUpper(p.Status)
	if claim != "COMPLETE" && claim != "SUCCESS" {
		// Failure, cancellation or pending claim: compare-and-swap
		// pending -> failed against the persisted value. If another
		// callback already moved it, this one is a no-op.
		applied, err := s.orders.ConditionalUpdate(ctx, order.ID,
			bson.M{"payment_status": models.PaymentPending},
			bson.M{"payment_status": models.PaymentFailed})
		if err != nil {
			s.logger.Error("Callback failure transition errored", zap.String("order_id", order.ID.String()), zap.Error(err))
			outcome.Status = "failed"
			outcome.Error = "internal"
			return outcome
		}
		code := "payment_declined"
		if !applied {
			code = "no_op"
		}
		s.auditCallback(order, p, meta, models.AuditPaymentFailed, false, code, "gateway reported "+p.Status)
		outcome.Status = "failed"
		outcome.Error = "payment_" + strings.ToLower(p.Status)
		return outcome
	}

	// Success claim: never trusted directly.
	return s.settleVerified(ctx, order, meta, models.AuditPaymentSucceeded)
}

// VerifyPayment lets an order's owner re-run verification after a gateway
// outage or a missed callback.
func (s *PaymentService) VerifyPayment(ctx context.Context, userID, orderID uuid.UUID, meta RequestMeta) (*VerifyOutcome, *ServiceError) {
	order, err := s.orders.FindByIDAndUserID(ctx, orderID, userID)
	if err == repository.ErrOrderNotFound {
		return nil, newError(http.StatusNotFound, "not_found", "Order not found")
	}
	if err != nil {
		return nil, newError(http.StatusInternalServerError, "internal", "Failed to fetch order")
	}

	if !order.PaymentMethod.IsGateway() {
		return nil, newError(http.StatusBadRequest, "invalid_payment_method", "Order does not use a gateway payment method")
	}
	if order.PaymentStatus == models.PaymentPaid {
		return &VerifyOutcome{
			PaymentStatus: models.PaymentPaid,
			VerifiedAt:    order.Payment.VerifiedAt,
			Verified:      true,
			Message:       "Payment already verified",
		}, nil
	}
	if order.Payment.TransactionID == "" {
		return nil, newError(http.StatusBadRequest, "payment_not_started", "Payment was never initiated for this order")
	}
	if !s.gw.Configured() {
		return nil, newError(http.StatusServiceUnavailable, "gateway_unconfigured", "Payment gateway is not configured")
	}

	outcome := s.settleVerified(ctx, order, meta, models.AuditPaymentVerified)
	switch {
	case outcome.AlreadyPaid, outcome.Status == "success":
		fresh, err := s.orders.FindByID(ctx, order.ID)
		if err != nil {
			fresh = order
		}
		return &VerifyOutcome{
			PaymentStatus: models.PaymentPaid,
			VerifiedAt:    fresh.Payment.VerifiedAt,
			Verified:      true,
		}, nil
	default:
		// A negative result is a legitimate outcome, not an error.
		fresh, err := s.orders.FindByID(ctx, order.ID)
		if err != nil {
			fresh = order
		}
		return &VerifyOutcome{
			PaymentStatus: fresh.PaymentStatus,
			Verified:      false,
			Message:       verifyFailureMessage(outcome.Error),
		}, nil
	}
}

func verifyFailureMessage(code string) string {
	switch code {
	case "verification_timeout":
		return "Gateway did not respond in time; the order remains pending, try again shortly"
	default:
		return "Payment could not be verified"
	}
}

// settleVerified runs the authoritative verification and, on a positive
// answer, applies the success bundle atomically: payment flags, stock
// deduction and cart clearing commit together.
func (s *PaymentService) settleVerified(ctx context.Context, order *models.Order, meta RequestMeta, action models.AuditAction) CallbackOutcome {
	outcome := CallbackOutcome{OrderID: order.ID.String()}

	if err := s.orders.RecordVerifyAttempt(ctx, order.ID); err != nil {
		s.logger.Warn("Failed to record verification attempt", zap.String("order_id", order.ID.String()), zap.Error(err))
	}

	res, err := s.gw.Verify(ctx, order.Payment.TransactionID, order.Payment.ProductCode, order.Payment.LockedAmount)
	if err == gateway.ErrTimeout {
		// Unknown outcome: the gateway may have completed the payment after
		// we gave up. Leave the order pending and let manual
		// re-verification finish the job.
		s.auditVerification(order, meta, models.AuditVerificationAttempt, false, "verification_timeout", "gateway verification timed out", "")
		outcome.Status = "failed"
		outcome.Error = "verification_timeout"
		return outcome
	}
	if err != nil {
		s.auditVerification(order, meta, models.AuditVerificationAttempt, false, "gateway_error", err.Error(), "")
		s.logger.Error("Gateway verification errored", zap.String("order_id", order.ID.String()), zap.Error(err))
		outcome.Status = "failed"
		outcome.Error = "gateway_error"
		return outcome
	}

	if !res.Verified {
		// An affirmative "not verified" answer is terminal for now; only a
		// manual re-verification can revisit it.
		if _, err := s.orders.ConditionalUpdate(ctx, order.ID,
			bson.M{"payment_status": models.PaymentPending},
			bson.M{"payment_status": models.PaymentFailed}); err != nil {
			s.logger.Error("Failed transition errored", zap.String("order_id", order.ID.String()), zap.Error(err))
		}
		s.auditVerification(order, meta, models.AuditVerificationFailed, false, "verification_failed", "gateway reported "+res.Status, res.Raw)
		outcome.Status = "failed"
		outcome.Error = "verification_failed"
		return outcome
	}

	now := time.Now().UTC()
	var applied bool
	txnErr := s.orders.WithTransaction(ctx, func(ctx context.Context) error {
		// Idempotency re-check happens inside the commit itself: the update
		// only applies while the persisted record is not yet paid.
		var err error
		applied, err = s.orders.ConditionalUpdate(ctx, order.ID,
			bson.M{"payment_status": bson.M{"$ne": models.PaymentPaid}},
			bson.M{
				"payment_status":      models.PaymentPaid,
				"status":              models.OrderConfirmed,
				"payment.ref_id":      res.RefID,
				"payment.verified_at": now,
			})
		if err != nil || !applied {
			return err
		}
		return s.applyPaidSideEffects(ctx, order)
	})
	if txnErr != nil {
		s.auditVerification(order, meta, models.AuditVerificationAttempt, false, "internal", txnErr.Error(), res.Raw)
		s.logger.Error("Payment settlement failed", zap.String("order_id", order.ID.String()), zap.Error(txnErr))
		outcome.Status = "failed"
		outcome.Error = "internal"
		return outcome
	}

	if !applied {
		// A concurrent reconciliation won; this one is a successful no-op.
		s.auditAlreadyPaid(order, meta)
		outcome.Status = "success"
		outcome.AlreadyPaid = true
		return outcome
	}

	s.recorder.Record(&models.AuditLogEntry{
		Action:        action,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		UserEmail:     order.UserEmail,
		PaymentMethod: order.PaymentMethod,
		TransactionID: order.Payment.TransactionID,
		Amount:        order.Payment.LockedAmount,
		StatusBefore:  order.Status,
		StatusAfter:   models.OrderConfirmed,
		PaymentBefore: order.PaymentStatus,
		PaymentAfter:  models.PaymentPaid,
		ClientIP:      meta.ClientIP,
		UserAgent:     meta.UserAgent,
		RequestID:     meta.RequestID,
		Success:       true,
		Metadata:      map[string]string{"ref_id": res.RefID},
	})

	s.logger.Info("Payment verified and settled",
		zap.String("order_number", order.OrderNumber),
		zap.String("transaction_uuid", order.Payment.TransactionID),
		zap.Int64("amount", order.Payment.LockedAmount),
	)

	outcome.Status = "success"
	return outcome
}

// applyPaidSideEffects deducts stock and clears the cart after the payment
// flag committed. Stock deduction is keyed off the order's stock_deducted
// flag, so duplicate callbacks and crash-recovery retries cannot deduct
// twice; the cart delete is naturally idempotent.
func (s *PaymentService) applyPaidSideEffects(ctx context.Context, order *models.Order) error {
	flagged, err := s.orders.ConditionalUpdate(ctx, order.ID,
		bson.M{"stock_deducted": false},
		bson.M{"stock_deducted": true})
	if err != nil {
		return err
	}
	if flagged {
		for _, it := range order.Items {
			if err := s.products.DecrementStock(ctx, it.ProductID, it.Quantity); err != nil {
				// Paid orders win over the stock counter; log and keep
				// going rather than stranding a verified payment.
				s.logger.Error("Post-payment stock decrement failed",
					zap.String("order_id", order.ID.String()),
					zap.String("product_id", it.ProductID.String()),
					zap.Error(err),
				)
			}
		}
	}

	if err := s.carts.DeleteCart(ctx, order.UserID.String()); err != nil {
		s.logger.Warn("Failed to clear cart after payment", zap.String("order_id", order.ID.String()), zap.Error(err))
	}
	return nil
}

func (s *PaymentService) auditAlreadyPaid(order *models.Order, meta RequestMeta) {
	s.recorder.Record(&models.AuditLogEntry{
		Action:        models.AuditPaymentSucceeded,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		UserEmail:     order.UserEmail,
		PaymentMethod: order.PaymentMethod,
		TransactionID: order.Payment.TransactionID,
		Amount:        order.Payment.LockedAmount,
		PaymentBefore: models.PaymentPaid,
		PaymentAfter:  models.PaymentPaid,
		ClientIP:      meta.ClientIP,
		UserAgent:     meta.UserAgent,
		RequestID:     meta.RequestID,
		Success:       true,
		Metadata:      map[string]string{"already_paid": "true"},
	})
}

func (s *PaymentService) auditVerification(order *models.Order, meta RequestMeta, action models.AuditAction, success bool, errCode, errMsg, raw string) {
	entry := &models.AuditLogEntry{
		Action:        action,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		UserEmail:     order.UserEmail,
		PaymentMethod: order.PaymentMethod,
		TransactionID: order.Payment.TransactionID,
		Amount:        order.Payment.LockedAmount,
		StatusBefore:  order.Status,
		PaymentBefore: order.PaymentStatus,
		ClientIP:      meta.ClientIP,
		UserAgent:     meta.UserAgent,
		RequestID:     meta.RequestID,
		Success:       success,
		ErrorCode:     errCode,
		ErrorMessage:  errMsg,
	}
	if raw != "" {
		entry.Metadata = map[string]string{"gateway_response": raw}
	}
	s.recorder.Record(entry)
}

func (s *PaymentService) auditCallback(order *models.Order, p CallbackParams, meta RequestMeta, action models.AuditAction, success bool, errCode, errMsg string) {
	entry := &models.AuditLogEntry{
		Action:        action,
		TransactionID: p.TransactionUUID,
		ClientIP:      meta.ClientIP,
		UserAgent:     meta.UserAgent,
		RequestID:     meta.RequestID,
		Success:       success,
		ErrorCode:     errCode,
		ErrorMessage:  errMsg,
		Metadata:      map[string]string{"claimed_status": p.Status},
	}
	if order != nil {
		entry.OrderID = order.ID
		entry.OrderNumber = order.OrderNumber
		entry.UserID = order.UserID
		entry.UserEmail = order.UserEmail
		entry.PaymentMethod = order.PaymentMethod
		entry.Amount = order.Payment.LockedAmount
		entry.StatusBefore = order.Status
		entry.PaymentBefore = order.PaymentStatus
	}
	s.recorder.Record(entry)
}
