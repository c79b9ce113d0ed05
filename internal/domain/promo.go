package domain

import "time"

// PromoDiscountType enumerates how a promo code value is interpreted.
type PromoDiscountType string

const (
	// PromoDiscountPercentage applies Value as a percentage of the subtotal.
	PromoDiscountPercentage PromoDiscountType = "percentage"
	// PromoDiscountFixed applies Value as a fixed amount in cents.
	PromoDiscountFixed PromoDiscountType = "fixed"
)

// PromoCode is a redeemable order-level discount.
type PromoCode struct {
	ID             string
	Code           string
	DiscountType   PromoDiscountType
	Value          float64
	MaxDiscount    *int64
	MinOrderAmount *int64
	MaxRedemptions *int
	Redemptions    int
	Active         bool
	StartsAt       *time.Time
	EndsAt         *time.Time
}
