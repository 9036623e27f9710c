package models

import (
	"time"

	"github.com/google/uuid"
)

type PaymentMethod string

const (
	PaymentMethodCOD   PaymentMethod = "cod"
	PaymentMethodEsewa PaymentMethod = "esewa"
	PaymentMethodCard  PaymentMethod = "card"
)

// IsGateway reports whether the method settles through the payment gateway.
func (m PaymentMethod) IsGateway() bool {
	return m == PaymentMethodEsewa || m == PaymentMethodCard
}

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCOD, PaymentMethodEsewa, PaymentMethodCard:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderConfirmed  OrderStatus = "confirmed"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderConfirmed, OrderProcessing, OrderShipped, OrderDelivered, OrderCancelled:
		return true
	}
	return false
}

type Address struct {
	FullName string `bson:"full_name" json:"full_name" binding:"required" validate:"required"`
	Phone    string `bson:"phone" json:"phone" binding:"required" validate:"required,min=7"`
	Line1    string `bson:"line1" json:"line1" binding:"required" validate:"required"`
	Line2    string `bson:"line2,omitempty" json:"line2,omitempty"`
	City     string `bson:"city" json:"city" binding:"required" validate:"required"`
	District string `bson:"district,omitempty" json:"district,omitempty"`
	Postal   string `bson:"postal,omitempty" json:"postal,omitempty"`
}

// OrderItem is a value snapshot of a cart line at order time. UnitPrice is
// the price captured when the order was placed, not the live catalog price.
type OrderItem struct {
	ProductID uuid.UUID `bson:"product_id" json:"product_id"`
	Name      string    `bson:"name" json:"name"`
	Quantity  int       `bson:"quantity" json:"quantity"`
	UnitPrice int64     `bson:"unit_price" json:"unit_price"`
	Size      string    `bson:"size,omitempty" json:"size,omitempty"`
	Color     string    `bson:"color,omitempty" json:"color,omitempty"`
}

// PaymentInfo holds the gateway metadata for an order. LockedAmount is the
// order total frozen at initiation time; verification always uses it, never
// a callback-supplied amount.
type PaymentInfo struct {
	TransactionID  string     `bson:"transaction_id,omitempty" json:"transaction_id,omitempty"`
	ProductCode    string     `bson:"product_code,omitempty" json:"product_code,omitempty"`
	LockedAmount   int64      `bson:"locked_amount,omitempty" json:"locked_amount,omitempty"`
	RefID          string     `bson:"ref_id,omitempty" json:"ref_id,omitempty"`
	VerifyAttempts int        `bson:"verify_attempts" json:"verify_attempts"`
	LastAttemptAt  *time.Time `bson:"last_attempt_at,omitempty" json:"last_attempt_at,omitempty"`
	VerifiedAt     *time.Time `bson:"verified_at,omitempty" json:"verified_at,omitempty"`
}

type Order struct {
	ID              uuid.UUID     `bson:"_id" json:"id"`
	OrderNumber     string        `bson:"order_number" json:"order_number"`
	UserID          uuid.UUID     `bson:"user_id" json:"user_id"`
	UserEmail       string        `bson:"user_email" json:"user_email"`
	Items           []OrderItem   `bson:"items" json:"items"`
	ShippingAddress Address       `bson:"shipping_address" json:"shipping_address"`
	ShippingMethod  string        `bson:"shipping_method" json:"shipping_method"`
	PromoCode       string        `bson:"promo_code,omitempty" json:"promo_code,omitempty"`
	Notes           string        `bson:"notes,omitempty" json:"notes,omitempty"`
	PaymentMethod   PaymentMethod `bson:"payment_method" json:"payment_method"`
	PaymentStatus   PaymentStatus `bson:"payment_status" json:"payment_status"`
	Status          OrderStatus   `bson:"status" json:"status"`
	Subtotal        int64         `bson:"subtotal" json:"subtotal"`
	Discount        int64         `bson:"discount" json:"discount"`
	ShippingFee     int64         `bson:"shipping_fee" json:"shipping_fee"`
	Total           int64         `bson:"total" json:"total"`
	Payment         PaymentInfo   `bson:"payment" json:"payment"`
	StockDeducted   bool          `bson:"stock_deducted" json:"-"`
	TrackingNumber  string        `bson:"tracking_number,omitempty" json:"tracking_number,omitempty"`
	DeliveredAt     *time.Time    `bson:"delivered_at,omitempty" json:"delivered_at,omitempty"`
	CancelledAt     *time.Time    `bson:"cancelled_at,omitempty" json:"cancelled_at,omitempty"`
	CreatedAt       time.Time     `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `bson:"updated_at" json:"updated_at"`
}

// allowedStatusNext defines the forward transitions of the fulfilment flow.
var allowedStatusNext = map[OrderStatus][]OrderStatus{
	OrderPending:    {OrderConfirmed, OrderCancelled},
	OrderConfirmed:  {OrderProcessing, OrderCancelled},
	OrderProcessing: {OrderShipped},
	OrderShipped:    {OrderDelivered},
}

// CanTransitionTo reports whether a status move is allowed by the lifecycle.
func (o *Order) CanTransitionTo(next OrderStatus) bool {
	for _, s := range allowedStatusNext[o.Status] {
		if s == next {
			return true
		}
	}
	return false
}
