// Package services holds the storefront engine's stateful coordinators: the
// cart and wishlist synchronizers, the checkout orchestrator, and the payment
// verification gate. Each service owns its slice of client-resident state;
// consumers mutate through the service and observe through subscriptions.
package services

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/Sharper-Labs-IT/tvk-store-engine/internal/domain"
	"github.com/Sharper-Labs-IT/tvk-store-engine/internal/pricing"
)

// Domain aliases keep service signatures terse.
type (
	LineItem      = domain.LineItem
	CartSnapshot  = domain.CartSnapshot
	WishlistEntry = domain.WishlistEntry
	Address       = domain.Address
	DiscountState = domain.DiscountState
)

// Session reports whether the surrounding app currently holds an
// authenticated session. Token plumbing stays in the gateway; services only
// gate on the boolean.
type Session interface {
	Authenticated(ctx context.Context) bool
}

// SessionFunc adapts ordinary functions to Session.
type SessionFunc func(ctx context.Context) bool

// Authenticated implements Session.
func (f SessionFunc) Authenticated(ctx context.Context) bool { return f(ctx) }

// NoticeLevel grades a transient user-facing notice.
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is a transient, user-facing message emitted by a service.
type Notice struct {
	Level   NoticeLevel
	Message string
}

// Notifier receives notices for display. Implementations must not block.
type Notifier func(ctx context.Context, notice Notice)

// AddItemRequest carries an add-to-cart command. VariantID is optional.
type AddItemRequest struct {
	ProductID string
	Quantity  int
	VariantID string
}

// CartService synchronizes the cart mirror against the remote store.
type CartService interface {
	// Snapshot derives the current view: items, count, total, in-flight count.
	Snapshot() CartSnapshot
	// Refresh re-fetches the authoritative cart. Stale responses that land
	// after a newer fetch are discarded.
	Refresh(ctx context.Context) error
	AddItem(ctx context.Context, req AddItemRequest) error
	// UpdateQuantity is a no-op below 1 and refuses quantities above the
	// line's known stock without touching the network.
	UpdateQuantity(ctx context.Context, lineID string, quantity int) error
	RemoveItem(ctx context.Context, lineID string) error
	Clear(ctx context.Context) error
	Count() int
	Total() decimal.Decimal
	Subscribe(fn func(CartSnapshot)) (cancel func())
	HandleLogin(ctx context.Context) error
	HandleLogout(ctx context.Context)
}

// WishlistService synchronizes the wishlist mirror against the remote store.
type WishlistService interface {
	Entries() []WishlistEntry
	// Contains is an O(1) membership check by product id.
	Contains(productID string) bool
	Refresh(ctx context.Context) error
	Add(ctx context.Context, productID string) error
	Remove(ctx context.Context, productID string) error
	Toggle(ctx context.Context, productID string) error
	Subscribe(fn func([]WishlistEntry)) (cancel func())
	HandleLogin(ctx context.Context) error
	HandleLogout(ctx context.Context)
}

// CheckoutPhase is the orchestrator's coarse position in the checkout flow.
type CheckoutPhase string

const (
	PhaseEditing            CheckoutPhase = "editing"
	PhaseValidatingDiscount CheckoutPhase = "validating_discount"
	PhaseSubmitting         CheckoutPhase = "submitting"
	PhaseRedirected         CheckoutPhase = "redirected_to_payment"
	PhaseSubmissionFailed   CheckoutPhase = "submission_failed"
)

// CheckoutState is the orchestrator's observable state.
type CheckoutState struct {
	Phase    CheckoutPhase
	Discount DiscountState
	// FailureMessage holds the user-facing explanation after a failed
	// submission; empty otherwise.
	FailureMessage string
}

// CheckoutService drives discount validation and order submission.
type CheckoutService interface {
	State() CheckoutState
	// SetDiscountCode records the typed code and reverts any prior
	// validation verdict to unvalidated.
	SetDiscountCode(code string)
	// ValidateDiscount checks the code with the store. A rejected code
	// settles into the invalid status and returns nil.
	ValidateDiscount(ctx context.Context) error
	// Estimate prices the current cart with the applied discount.
	Estimate() pricing.Breakdown
	// Submit creates the order and navigates to the payment redirect.
	Submit(ctx context.Context, address Address, currencyCode string) error
	// CreateUpgradeSession starts a membership payment session and
	// navigates to the provider.
	CreateUpgradeSession(ctx context.Context, planID, currencyCode string) error
}

// VerificationService is the post-payment landing gate: at most one verify
// call per session id per page life.
type VerificationService interface {
	Verify(ctx context.Context, sessionID string) (domain.PaymentVerificationRecord, error)
	// Continue navigates to the account dashboard and cancels any pending
	// auto-continue.
	Continue(ctx context.Context)
	// ReturnToStore is the second exit offered after a failed verification.
	ReturnToStore(ctx context.Context)
}
