package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// ItemClass distinguishes physical merchandise from virtual currency items.
type ItemClass string

const (
	// ItemClassMerch marks physical merchandise that requires shipping.
	ItemClassMerch ItemClass = "merch"
	// ItemClassCoin marks virtual currency items delivered digitally.
	ItemClassCoin ItemClass = "coin"
)

// LineItem is one cart entry as last reported by the store. The entry id is
// server-assigned and opaque; the unit price is whatever the server returned
// at fetch time and is never recomputed locally.
type LineItem struct {
	ID           string
	ProductID    string
	Name         string
	UnitPrice    decimal.Decimal
	Quantity     int
	Stock        int
	VariantID    string
	VariantLabel string
	Class        ItemClass
}

// Subtotal returns price multiplied by quantity.
func (l LineItem) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Validate checks the at-rest invariant 1 <= quantity <= stock.
func (l LineItem) Validate() error {
	if strings.TrimSpace(l.ID) == "" {
		return fmt.Errorf("line item: id is required")
	}
	if l.Quantity < 1 {
		return fmt.Errorf("line item %s: quantity must be at least 1", l.ID)
	}
	if l.Stock >= 0 && l.Quantity > l.Stock {
		return fmt.Errorf("line item %s: quantity %d exceeds stock %d", l.ID, l.Quantity, l.Stock)
	}
	return nil
}

// Product is the denormalized product snapshot embedded in wishlist entries
// so the UI can render without a second round trip.
type Product struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	Stock    int
	ImageURL string
	Class    ItemClass
}

// WishlistEntry pairs a server-assigned entry id with the product snapshot.
type WishlistEntry struct {
	ID        string
	ProductID string
	Product   Product
}

// CartSnapshot is a derived, point-in-time view over the line items. It is
// recomputed on every read, never cached.
type CartSnapshot struct {
	Items []LineItem
	Count int
	Total decimal.Decimal
	// Syncing is the number of remote mutations still in flight.
	Syncing int
}

// NewCartSnapshot derives count and total from the given items.
func NewCartSnapshot(items []LineItem, syncing int) CartSnapshot {
	snap := CartSnapshot{
		Items:   make([]LineItem, len(items)),
		Total:   decimal.Zero,
		Syncing: syncing,
	}
	copy(snap.Items, items)
	for _, item := range items {
		snap.Count += item.Quantity
		snap.Total = snap.Total.Add(item.Subtotal())
	}
	return snap
}

// DiscountStatus is the tri-state validity of a submitted discount code.
type DiscountStatus string

const (
	// DiscountUnvalidated means the code has not been checked against the
	// store since it (or the cart) last changed.
	DiscountUnvalidated DiscountStatus = "unvalidated"
	// DiscountValid means the store accepted the code.
	DiscountValid DiscountStatus = "valid"
	// DiscountInvalid means the store rejected the code.
	DiscountInvalid DiscountStatus = "invalid"
)

// DiscountState tracks a submitted code, its validity and the resulting
// amount. The amount is non-zero only while the status is DiscountValid.
type DiscountState struct {
	Code    string
	Status  DiscountStatus
	Amount  decimal.Decimal
	Message string
}

// Applied reports whether the discount may be attached to an order.
func (d DiscountState) Applied() bool {
	return d.Status == DiscountValid && strings.TrimSpace(d.Code) != ""
}

// Address holds the shipping address collected at checkout. Line2 and State
// are optional; everything else is required for submission.
type Address struct {
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// Validate reports the first missing required field.
func (a Address) Validate() error {
	switch {
	case strings.TrimSpace(a.Line1) == "":
		return fmt.Errorf("address: line1 is required")
	case strings.TrimSpace(a.City) == "":
		return fmt.Errorf("address: city is required")
	case strings.TrimSpace(a.PostalCode) == "":
		return fmt.Errorf("address: postal code is required")
	case strings.TrimSpace(a.Country) == "":
		return fmt.Errorf("address: country is required")
	}
	return nil
}

// CheckoutDraft is the read-only view over the cart and discount state at
// submission time. It is not persisted beyond the checkout attempt.
type CheckoutDraft struct {
	Address      Address
	Currency     string
	DiscountCode string
}

// OrderSummary is the store's acknowledgement of a created order.
type OrderSummary struct {
	OrderID     string
	RedirectURL string
}

// DiscountQuote is the success-shaped result of validating a code.
// Valid=false is a normal outcome, not an error.
type DiscountQuote struct {
	Valid   bool
	Amount  decimal.Decimal
	Message string
}

// VerificationStatus is the outcome of the payment verification gate.
type VerificationStatus string

const (
	VerificationPending VerificationStatus = "pending"
	VerificationSuccess VerificationStatus = "success"
	VerificationFailed  VerificationStatus = "failed"
)

// PaymentVerificationRecord is scoped to a single page load: an attempted
// latch plus the settled outcome.
type PaymentVerificationRecord struct {
	SessionID string
	Attempted bool
	Status    VerificationStatus
	Message   string
}

// ValidateCurrency checks the code against the ISO 4217 registry.
func ValidateCurrency(code string) error {
	trimmed := strings.ToUpper(strings.TrimSpace(code))
	if trimmed == "" {
		return fmt.Errorf("currency: code is required")
	}
	if _, err := currency.ParseISO(trimmed); err != nil {
		return fmt.Errorf("currency: %q is not a valid ISO code", code)
	}
	return nil
}
