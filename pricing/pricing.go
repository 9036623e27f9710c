// Package pricing holds the closed pricing policies used at order creation.
// Shipping fees and promo rules live in one place so order totals can never
// drift between call sites.
package pricing

import (
	"strings"

	"github.com/BinodLamichhane31/kix-sub000/models"
)

const DefaultShippingMethod = "standard"

// ShippingPolicy is a fixed fee keyed by shipping method.
type ShippingPolicy struct {
	Method string
	Fee    int64
}

var shippingTable = map[string]ShippingPolicy{
	"standard": {Method: "standard", Fee: 0},
	"express":  {Method: "express", Fee: 12},
}

// PromoRule is a closed-form discount policy. Percent applies to the
// subtotal; MinSubtotal gates eligibility.
type PromoRule struct {
	Code        string
	Percent     int64
	MinSubtotal int64
}

var promoTable = map[string]PromoRule{
	"WELCOME10": {Code: "WELCOME10", Percent: 10},
	"KIX20":     {Code: "KIX20", Percent: 20, MinSubtotal: 500},
}

// ShippingFee returns the fee for a shipping method, defaulting to standard
// for unknown methods. The second return reports whether the method was known.
func ShippingFee(method string) (int64, bool) {
	if method == "" {
		method = DefaultShippingMethod
	}
	p, ok := shippingTable[strings.ToLower(method)]
	if !ok {
		return shippingTable[DefaultShippingMethod].Fee, false
	}
	return p.Fee, true
}

// Discount computes the promo discount for a subtotal. Unknown or ineligible
// codes yield zero.
func Discount(promoCode string, subtotal int64) int64 {
	if promoCode == "" {
		return 0
	}
	rule, ok := promoTable[strings.ToUpper(promoCode)]
	if !ok {
		return 0
	}
	if subtotal < rule.MinSubtotal {
		return 0
	}
	return subtotal * rule.Percent / 100
}

// Subtotal sums the captured per-line prices of a cart snapshot.
func Subtotal(items []models.CartItem) int64 {
	var sum int64
	for _, it := range items {
		sum += it.UnitPrice * int64(it.Quantity)
	}
	return sum
}

// Total applies the order-total invariant: max(subtotal - discount, 0) + fee.
func Total(subtotal, discount, shippingFee int64) int64 {
	t := subtotal - discount
	if t < 0 {
		t = 0
	}
	return t + shippingFee
}
