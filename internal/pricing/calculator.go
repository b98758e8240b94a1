// Package pricing computes the local order estimate shown before checkout.
// Every arithmetic step runs on exact decimals; the store's own totals remain
// authoritative and this estimate is never sent back to it.
package pricing

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/Sharper-Labs-IT/tvk-store-engine/internal/domain"
)

// Policy holds the storefront pricing knobs. All values are non-negative;
// TaxRate is a fraction (0.08 means 8%).
type Policy struct {
	FreeShippingThreshold decimal.Decimal
	FlatShippingFee       decimal.Decimal
	TaxRate               decimal.Decimal
}

// Breakdown is one priced view over a cart. Amounts are exact; call Rounded
// before display.
type Breakdown struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Shipping decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// Rounded returns the breakdown with every amount rounded to two decimal
// places for presentation. Intermediate math never rounds.
func (b Breakdown) Rounded() Breakdown {
	return Breakdown{
		Subtotal: b.Subtotal.Round(2),
		Discount: b.Discount.Round(2),
		Shipping: b.Shipping.Round(2),
		Tax:      b.Tax.Round(2),
		Total:    b.Total.Round(2),
	}
}

// Calculator derives order estimates from line items and a discount amount.
// It holds no mutable state and is safe for concurrent use.
type Calculator struct {
	policy Policy
}

// ErrNegativePolicy is returned when a policy knob is below zero.
var ErrNegativePolicy = errors.New("pricing: policy values must be non-negative")

// NewCalculator validates the policy and returns a calculator.
func NewCalculator(policy Policy) (*Calculator, error) {
	if policy.FreeShippingThreshold.IsNegative() ||
		policy.FlatShippingFee.IsNegative() ||
		policy.TaxRate.IsNegative() {
		return nil, ErrNegativePolicy
	}
	return &Calculator{policy: policy}, nil
}

// Quote prices the given items with the given discount amount.
//
// The rules, in order:
//   - subtotal is the sum of unit price times quantity
//   - the discount is clamped to the subtotal; it can zero an order but
//     never drive it negative
//   - shipping is waived when the pre-discount subtotal meets the free
//     threshold, and skipped entirely when nothing in the cart ships
//     (virtual coin items only). Applying a discount cannot reinstate a
//     shipping fee the undiscounted subtotal already cleared.
//   - tax applies to the discounted subtotal; shipping is never taxed
func (c *Calculator) Quote(items []domain.LineItem, discount decimal.Decimal) Breakdown {
	subtotal := decimal.Zero
	shippable := false
	for _, item := range items {
		subtotal = subtotal.Add(item.Subtotal())
		if item.Class != domain.ItemClassCoin {
			shippable = true
		}
	}

	if discount.IsNegative() {
		discount = decimal.Zero
	}
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}

	shipping := decimal.Zero
	if shippable && subtotal.LessThan(c.policy.FreeShippingThreshold) {
		shipping = c.policy.FlatShippingFee
	}

	taxable := subtotal.Sub(discount)
	tax := taxable.Mul(c.policy.TaxRate)

	return Breakdown{
		Subtotal: subtotal,
		Discount: discount,
		Shipping: shipping,
		Tax:      tax,
		Total:    taxable.Add(tax).Add(shipping),
	}
}
