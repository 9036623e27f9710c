package models

import (
	"time"

	"github.com/google/uuid"
)

type AuditAction string

const (
	AuditOrderCreated        AuditAction = "order_created"
	AuditPaymentInitiated    AuditAction = "payment_initiated"
	AuditPaymentVerified     AuditAction = "payment_verified"
	AuditPaymentSucceeded    AuditAction = "payment_succeeded"
	AuditPaymentFailed       AuditAction = "payment_failed"
	AuditVerificationAttempt AuditAction = "verification_attempted"
	AuditVerificationFailed  AuditAction = "verification_failed"
	AuditStatusUpdated       AuditAction = "status_updated"
	AuditOrderCancelled      AuditAction = "order_cancelled"
)

// AuditLogEntry is an immutable record of one attempted state-changing
// operation, successful or not. Entries are never updated after insert.
type AuditLogEntry struct {
	ID            uuid.UUID         `bson:"_id" json:"id"`
	Action        AuditAction       `bson:"action" json:"action"`
	OrderID       uuid.UUID         `bson:"order_id" json:"order_id"`
	OrderNumber   string            `bson:"order_number" json:"order_number"`
	UserID        uuid.UUID         `bson:"user_id" json:"user_id"`
	UserEmail     string            `bson:"user_email,omitempty" json:"user_email,omitempty"`
	PaymentMethod PaymentMethod     `bson:"payment_method,omitempty" json:"payment_method,omitempty"`
	TransactionID string            `bson:"transaction_id,omitempty" json:"transaction_id,omitempty"`
	Amount        int64             `bson:"amount,omitempty" json:"amount,omitempty"`
	StatusBefore  OrderStatus       `bson:"status_before,omitempty" json:"status_before,omitempty"`
	StatusAfter   OrderStatus       `bson:"status_after,omitempty" json:"status_after,omitempty"`
	PaymentBefore PaymentStatus     `bson:"payment_before,omitempty" json:"payment_before,omitempty"`
	PaymentAfter  PaymentStatus     `bson:"payment_after,omitempty" json:"payment_after,omitempty"`
	ClientIP      string            `bson:"client_ip,omitempty" json:"client_ip,omitempty"`
	UserAgent     string            `bson:"user_agent,omitempty" json:"user_agent,omitempty"`
	RequestID     string            `bson:"request_id,omitempty" json:"request_id,omitempty"`
	Success       bool              `bson:"success" json:"success"`
	ErrorCode     string            `bson:"error_code,omitempty" json:"error_code,omitempty"`
	ErrorMessage  string            `bson:"error_message,omitempty" json:"error_message,omitempty"`
	Metadata      map[string]string `bson:"metadata,omitempty" json:"metadata,omitempty"`
	CreatedAt     time.Time         `bson:"created_at" json:"created_at"`
}
