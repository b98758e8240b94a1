// Package gateway is the engine's only doorway to the remote store. It
// exposes a fixed operation set, classifies failures into a small taxonomy,
// and normalises the backend's varying payload shapes into canonical domain
// types so shape-sniffing never leaks into consumers.
package gateway

import (
	"context"

	"github.com/Sharper-Labs-IT/tvk-store-engine/internal/domain"
)

// StoreGateway is the remote operation set the engine depends on. The store
// is a black box: pricing, tax, inventory truth, and the payment provider
// all live behind these calls.
type StoreGateway interface {
	// FetchCart returns the ordered, server-authoritative line items.
	FetchCart(ctx context.Context) ([]domain.LineItem, error)
	// AddCartLine acknowledges the add; the response body is not trusted
	// for pricing, so callers re-fetch.
	AddCartLine(ctx context.Context, req AddCartLineRequest) error
	UpdateCartLine(ctx context.Context, lineID string, quantity int) error
	RemoveCartLine(ctx context.Context, lineID string) error
	ClearCart(ctx context.Context) error

	FetchWishlist(ctx context.Context) ([]domain.WishlistEntry, error)
	AddWishlistEntry(ctx context.Context, productID string) (domain.WishlistEntry, error)
	RemoveWishlistEntry(ctx context.Context, entryID string) error

	// FetchProduct returns the current price/stock snapshot for a product.
	FetchProduct(ctx context.Context, productID string) (domain.Product, error)

	// ValidateDiscount returns a success-shaped quote; Valid=false is a
	// normal outcome, never an error.
	ValidateDiscount(ctx context.Context, code string) (domain.DiscountQuote, error)

	CreateOrder(ctx context.Context, req CreateOrderRequest) (domain.OrderSummary, error)
	// CreatePaymentSession starts the membership upgrade flow.
	CreatePaymentSession(ctx context.Context, req CreatePaymentSessionRequest) (PaymentSession, error)
	// VerifyPaymentSession confirms a session after the provider redirect.
	VerifyPaymentSession(ctx context.Context, sessionID string) (VerifyResult, error)
}

// AddCartLineRequest carries the add-to-cart payload. VariantID is optional.
type AddCartLineRequest struct {
	ProductID string
	Quantity  int
	VariantID string
}

// CreateOrderRequest packages the checkout draft for order creation. The
// discount code is included only when the orchestrator holds a currently
// valid code.
type CreateOrderRequest struct {
	Address      domain.Address
	Currency     string
	DiscountCode string
}

// CreatePaymentSessionRequest starts a provider session for a membership plan.
type CreatePaymentSessionRequest struct {
	PlanID   string
	Currency string
}

// PaymentSession is the provider hand-off returned by the store.
type PaymentSession struct {
	RedirectURL string
}

// VerifyResult reports whether the store confirmed the payment session.
type VerifyResult struct {
	Success bool
	Message string
}
