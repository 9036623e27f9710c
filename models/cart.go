package models

import (
	"time"

	"github.com/google/uuid"
)

type CartItem struct {
	ProductID uuid.UUID `json:"product_id"`
	Name      string    `json:"name"`
	Quantity  int       `json:"quantity"`
	UnitPrice int64     `json:"unit_price"`
	Size      string    `json:"size,omitempty"`
	Color     string    `json:"color,omitempty"`
}

type Cart struct {
	UserID         string     `json:"user_id"`
	Items          []CartItem `json:"items"`
	ShippingMethod string     `json:"shipping_method,omitempty"`
	PromoCode      string     `json:"promo_code,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
