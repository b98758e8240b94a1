package pricing

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/Sharper-Labs-IT/tvk-store-engine/internal/domain"
)

func testPolicy() Policy {
	return Policy{
		FreeShippingThreshold: decimal.RequireFromString("50"),
		FlatShippingFee:       decimal.RequireFromString("5.99"),
		TaxRate:               decimal.RequireFromString("0.08"),
	}
}

func merchLine(price string, qty int) domain.LineItem {
	return domain.LineItem{
		ID:        "line",
		UnitPrice: decimal.RequireFromString(price),
		Quantity:  qty,
		Class:     domain.ItemClassMerch,
	}
}

func TestNewCalculatorRejectsNegativePolicy(t *testing.T) {
	_, err := NewCalculator(Policy{TaxRate: decimal.RequireFromString("-0.01")})
	if err == nil {
		t.Fatal("expected error for negative tax rate")
	}
}

func TestQuoteWorkedExample(t *testing.T) {
	calc, err := NewCalculator(testPolicy())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// $40 subtotal, $4 discount: below the free-shipping threshold, so the
	// flat fee applies; tax runs on the discounted 36.
	items := []domain.LineItem{merchLine("20", 2)}
	got := calc.Quote(items, decimal.RequireFromString("4")).Rounded()

	assertAmount(t, "subtotal", got.Subtotal, "40")
	assertAmount(t, "discount", got.Discount, "4")
	assertAmount(t, "shipping", got.Shipping, "5.99")
	assertAmount(t, "tax", got.Tax, "2.88")
	assertAmount(t, "total", got.Total, "44.87")
}

func TestQuoteFreeShippingAtThreshold(t *testing.T) {
	calc, _ := NewCalculator(testPolicy())

	got := calc.Quote([]domain.LineItem{merchLine("50", 1)}, decimal.Zero)
	if !got.Shipping.IsZero() {
		t.Fatalf("subtotal at threshold should ship free, got %s", got.Shipping)
	}

	got = calc.Quote([]domain.LineItem{merchLine("49.99", 1)}, decimal.Zero)
	assertAmount(t, "shipping", got.Shipping, "5.99")
}

func TestQuoteDiscountDoesNotReinstateShipping(t *testing.T) {
	calc, _ := NewCalculator(testPolicy())

	// Pre-discount subtotal 60 clears the threshold; a 20 discount drops the
	// payable amount below it but shipping stays free.
	got := calc.Quote([]domain.LineItem{merchLine("60", 1)}, decimal.RequireFromString("20"))
	if !got.Shipping.IsZero() {
		t.Fatalf("discount must not reinstate shipping, got %s", got.Shipping)
	}
	assertAmount(t, "tax", got.Tax, "3.2")
	assertAmount(t, "total", got.Total, "43.2")
}

func TestQuoteDiscountClampedToSubtotal(t *testing.T) {
	calc, _ := NewCalculator(testPolicy())

	got := calc.Quote([]domain.LineItem{merchLine("10", 1)}, decimal.RequireFromString("25"))
	assertAmount(t, "discount", got.Discount, "10")
	assertAmount(t, "tax", got.Tax, "0")
	// Only the shipping fee remains; the total never goes negative.
	assertAmount(t, "total", got.Total, "5.99")
}

func TestQuoteNegativeDiscountIgnored(t *testing.T) {
	calc, _ := NewCalculator(testPolicy())

	got := calc.Quote([]domain.LineItem{merchLine("10", 1)}, decimal.RequireFromString("-5"))
	assertAmount(t, "discount", got.Discount, "0")
}

func TestQuoteCoinOnlyCartSkipsShipping(t *testing.T) {
	calc, _ := NewCalculator(testPolicy())

	coins := domain.LineItem{
		ID:        "coin-line",
		UnitPrice: decimal.RequireFromString("9.99"),
		Quantity:  1,
		Class:     domain.ItemClassCoin,
	}
	got := calc.Quote([]domain.LineItem{coins}, decimal.Zero)
	if !got.Shipping.IsZero() {
		t.Fatalf("virtual items need no shipping, got %s", got.Shipping)
	}

	// One merch line alongside the coins brings shipping back.
	got = calc.Quote([]domain.LineItem{coins, merchLine("5", 1)}, decimal.Zero)
	assertAmount(t, "shipping", got.Shipping, "5.99")
}

func TestQuoteEmptyCart(t *testing.T) {
	calc, _ := NewCalculator(testPolicy())

	got := calc.Quote(nil, decimal.Zero)
	assertAmount(t, "subtotal", got.Subtotal, "0")
	assertAmount(t, "shipping", got.Shipping, "0")
	assertAmount(t, "total", got.Total, "0")
}

func TestRoundedOnlyAtPresentation(t *testing.T) {
	calc, _ := NewCalculator(testPolicy())

	// 3 x 19.99 = 59.97, tax 4.7976: exact until Rounded.
	got := calc.Quote([]domain.LineItem{merchLine("19.99", 3)}, decimal.Zero)
	assertAmount(t, "tax", got.Tax, "4.7976")
	assertAmount(t, "rounded tax", got.Rounded().Tax, "4.8")
	assertAmount(t, "rounded total", got.Rounded().Total, "64.77")
}

func assertAmount(t *testing.T, label string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("%s: got %s, want %s", label, got, want)
	}
}
