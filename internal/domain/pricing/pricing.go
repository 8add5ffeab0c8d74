// Package pricing derives delivery fee, tax and grand total from a cart subtotal.
//
// All values are carried at full decimal precision. Rounding to cents happens
// only when a value is rendered (see Display), never on stored totals.
package pricing

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// DefaultDeliveryFee is the flat fee charged for any non-empty cart.
	DefaultDeliveryFee = decimal.RequireFromString("2.00")
	// DefaultTaxRate is applied to the subtotal.
	DefaultTaxRate = decimal.RequireFromString("0.08")
)

// Breakdown is the full set of monetary values derived from one subtotal.
type Breakdown struct {
	Subtotal    decimal.Decimal
	DeliveryFee decimal.Decimal
	Tax         decimal.Decimal
	Total       decimal.Decimal
}

// Calculator holds the fee and rate used for pricing.
type Calculator struct {
	deliveryFee decimal.Decimal
	taxRate     decimal.Decimal
}

// NewCalculator creates a Calculator. Fee and rate must be non-negative.
func NewCalculator(deliveryFee, taxRate decimal.Decimal) (*Calculator, error) {
	if deliveryFee.IsNegative() {
		return nil, errors.New("delivery fee must not be negative")
	}
	if taxRate.IsNegative() {
		return nil, errors.New("tax rate must not be negative")
	}
	return &Calculator{deliveryFee: deliveryFee, taxRate: taxRate}, nil
}

// Default returns a Calculator with the storefront's reference fee and rate.
func Default() *Calculator {
	return &Calculator{deliveryFee: DefaultDeliveryFee, taxRate: DefaultTaxRate}
}

// DeliveryFee is zero for an empty cart and the flat fee otherwise.
func (c *Calculator) DeliveryFee(subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.IsZero() {
		return decimal.Zero
	}
	return c.deliveryFee
}

// Tax is subtotal multiplied by the tax rate.
func (c *Calculator) Tax(subtotal decimal.Decimal) decimal.Decimal {
	return subtotal.Mul(c.taxRate)
}

// Total is subtotal + delivery fee + tax.
func (c *Calculator) Total(subtotal decimal.Decimal) decimal.Decimal {
	return subtotal.Add(c.DeliveryFee(subtotal)).Add(c.Tax(subtotal))
}

// Breakdown computes every derived value for subtotal.
func (c *Calculator) Breakdown(subtotal decimal.Decimal) Breakdown {
	fee := c.DeliveryFee(subtotal)
	tax := c.Tax(subtotal)
	return Breakdown{
		Subtotal:    subtotal,
		DeliveryFee: fee,
		Tax:         tax,
		Total:       subtotal.Add(fee).Add(tax),
	}
}

// Display renders a monetary value with two fractional digits.
func Display(d decimal.Decimal) string {
	return d.StringFixed(2)
}
