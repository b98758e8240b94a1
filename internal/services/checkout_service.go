package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/Sharper-Labs-IT/tvk-store-engine/internal/domain"
	"github.com/Sharper-Labs-IT/tvk-store-engine/internal/gateway"
	"github.com/Sharper-Labs-IT/tvk-store-engine/internal/pricing"
)

var (
	errCheckoutGatewayRequired = errors.New("checkout service: gateway is required")
	errCheckoutCartRequired    = errors.New("checkout service: cart is required")
	errCheckoutPricerRequired  = errors.New("checkout service: pricer is required")
)

// ErrCheckoutInvalidInput indicates the draft is incomplete or malformed.
var ErrCheckoutInvalidInput = errors.New("checkout service: invalid input")

// ErrCheckoutBusy indicates a validation or submission is already in flight.
var ErrCheckoutBusy = errors.New("checkout service: operation in flight")

// ErrCheckoutEmptyCart indicates submission was attempted with no items.
var ErrCheckoutEmptyCart = errors.New("checkout service: cart is empty")

// ErrCheckoutUnavailable indicates the store could not fulfil the request.
var ErrCheckoutUnavailable = errors.New("checkout service: unavailable")

const (
	genericSubmitFailure = "We couldn't place your order. Please check your details and try again."
	// Shown when the backend reports a product that is missing payment
	// metadata: retrying cannot help, removing the item can.
	itemNotPurchasableFailure = "An item in your cart isn't available for purchase right now. Remove it and try again."
)

// cartReader is the slice of CartService the orchestrator depends on.
type cartReader interface {
	Snapshot() CartSnapshot
	Subscribe(fn func(CartSnapshot)) func()
}

// navigateFunc performs a full-page navigation to the given URL.
type navigateFunc func(ctx context.Context, url string)

// CheckoutServiceDeps wires the checkout orchestrator.
type CheckoutServiceDeps struct {
	Gateway gateway.StoreGateway
	Cart    cartReader
	Pricer  *pricing.Calculator
	Logger  func(context.Context, string, map[string]any)
	Notify  Notifier
	// Navigate hands control to the payment provider after submission.
	Navigate        navigateFunc
	DefaultCurrency string
}

type checkoutService struct {
	gw       gateway.StoreGateway
	cart     cartReader
	pricer   *pricing.Calculator
	logger   func(context.Context, string, map[string]any)
	notify   Notifier
	navigate navigateFunc
	currency string

	mu       sync.Mutex
	phase    CheckoutPhase
	discount domain.DiscountState
	failure  string
}

// NewCheckoutService constructs a CheckoutService and subscribes to cart
// changes so any edit invalidates the discount verdict.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Gateway == nil {
		return nil, errCheckoutGatewayRequired
	}
	if deps.Cart == nil {
		return nil, errCheckoutCartRequired
	}
	if deps.Pricer == nil {
		return nil, errCheckoutPricerRequired
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	notify := deps.Notify
	if notify == nil {
		notify = func(context.Context, Notice) {}
	}
	navigate := deps.Navigate
	if navigate == nil {
		navigate = func(context.Context, string) {}
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if currency == "" {
		currency = "USD"
	}

	service := &checkoutService{
		gw:       deps.Gateway,
		cart:     deps.Cart,
		pricer:   deps.Pricer,
		logger:   logger,
		notify:   notify,
		navigate: navigate,
		currency: currency,
		phase:    PhaseEditing,
		discount: domain.DiscountState{Status: domain.DiscountUnvalidated},
	}
	deps.Cart.Subscribe(func(CartSnapshot) { service.invalidateDiscount() })
	return service, nil
}

func (s *checkoutService) State() CheckoutState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CheckoutState{Phase: s.phase, Discount: s.discount, FailureMessage: s.failure}
}

// SetDiscountCode records the typed code. Any change to the text discards
// the previous verdict; only a fresh validation can mark it valid again.
func (s *checkoutService) SetDiscountCode(code string) {
	trimmed := strings.TrimSpace(code)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.discount.Code == trimmed && s.discount.Status != domain.DiscountUnvalidated {
		return
	}
	s.discount = domain.DiscountState{Code: trimmed, Status: domain.DiscountUnvalidated}
}

func (s *checkoutService) ValidateDiscount(ctx context.Context) error {
	s.mu.Lock()
	if s.phase != PhaseEditing && s.phase != PhaseSubmissionFailed {
		s.mu.Unlock()
		return ErrCheckoutBusy
	}
	code := s.discount.Code
	if code == "" {
		s.mu.Unlock()
		return fmt.Errorf("%w: discount code is empty", ErrCheckoutInvalidInput)
	}
	s.phase = PhaseValidatingDiscount
	s.mu.Unlock()

	quote, err := s.gw.ValidateDiscount(ctx, code)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseEditing
	if err != nil {
		// Unknown verdict: the code stays unvalidated rather than flipping
		// to rejected on a network blip.
		s.discount = domain.DiscountState{Code: code, Status: domain.DiscountUnvalidated}
		return s.translateGatewayError(err)
	}
	if s.discount.Code != code {
		// The code was edited while the check was in flight.
		return nil
	}
	if quote.Valid {
		s.discount = domain.DiscountState{Code: code, Status: domain.DiscountValid, Amount: quote.Amount}
		s.logger(ctx, "checkout.discount.applied", map[string]any{"amount": quote.Amount.String()})
	} else {
		message := quote.Message
		if message == "" {
			message = "This code isn't valid."
		}
		s.discount = domain.DiscountState{Code: code, Status: domain.DiscountInvalid, Message: message}
	}
	return nil
}

func (s *checkoutService) Estimate() pricing.Breakdown {
	snapshot := s.cart.Snapshot()
	s.mu.Lock()
	discount := decimal.Zero
	if s.discount.Applied() {
		discount = s.discount.Amount
	}
	s.mu.Unlock()
	return s.pricer.Quote(snapshot.Items, discount)
}

func (s *checkoutService) Submit(ctx context.Context, address Address, currencyCode string) error {
	if err := address.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
	}
	currencyCode = strings.ToUpper(strings.TrimSpace(currencyCode))
	if currencyCode == "" {
		currencyCode = s.currency
	}
	if err := domain.ValidateCurrency(currencyCode); err != nil {
		return fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
	}
	if len(s.cart.Snapshot().Items) == 0 {
		return ErrCheckoutEmptyCart
	}

	s.mu.Lock()
	if s.phase == PhaseSubmitting || s.phase == PhaseValidatingDiscount {
		s.mu.Unlock()
		return ErrCheckoutBusy
	}
	s.phase = PhaseSubmitting
	s.failure = ""
	code := ""
	if s.discount.Applied() {
		code = s.discount.Code
	}
	s.mu.Unlock()

	summary, err := s.gw.CreateOrder(ctx, gateway.CreateOrderRequest{
		Address:      address,
		Currency:     currencyCode,
		DiscountCode: code,
	})
	if err != nil {
		message := submissionFailureMessage(err)
		s.mu.Lock()
		s.phase = PhaseSubmissionFailed
		s.failure = message
		s.mu.Unlock()
		s.notify(ctx, Notice{Level: NoticeError, Message: message})
		s.logger(ctx, "checkout.submit.failed", map[string]any{"error": err.Error()})
		return s.translateGatewayError(err)
	}

	s.mu.Lock()
	s.phase = PhaseRedirected
	s.mu.Unlock()
	s.logger(ctx, "checkout.submit.redirected", map[string]any{"orderId": summary.OrderID})
	s.navigate(ctx, summary.RedirectURL)
	return nil
}

func (s *checkoutService) CreateUpgradeSession(ctx context.Context, planID, currencyCode string) error {
	planID = strings.TrimSpace(planID)
	if planID == "" {
		return fmt.Errorf("%w: plan id is required", ErrCheckoutInvalidInput)
	}
	currencyCode = strings.ToUpper(strings.TrimSpace(currencyCode))
	if currencyCode == "" {
		currencyCode = s.currency
	}
	if err := domain.ValidateCurrency(currencyCode); err != nil {
		return fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
	}

	session, err := s.gw.CreatePaymentSession(ctx, gateway.CreatePaymentSessionRequest{
		PlanID:   planID,
		Currency: currencyCode,
	})
	if err != nil {
		s.notify(ctx, Notice{Level: NoticeError, Message: "Couldn't start the upgrade. Please try again."})
		return s.translateGatewayError(err)
	}
	s.logger(ctx, "checkout.upgrade.redirected", map[string]any{"planId": planID})
	s.navigate(ctx, session.RedirectURL)
	return nil
}

// invalidateDiscount reverts an applied or rejected code to unvalidated
// whenever the cart changes underneath it.
func (s *checkoutService) invalidateDiscount() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.discount.Status == domain.DiscountUnvalidated {
		return
	}
	s.discount = domain.DiscountState{Code: s.discount.Code, Status: domain.DiscountUnvalidated}
}

// submissionFailureMessage distinguishes the one backend rejection a shopper
// can actually act on: a cart item whose product or payment metadata is
// incomplete on the store side.
func submissionFailureMessage(err error) string {
	if !gateway.IsValidation(err) {
		return genericSubmitFailure
	}
	probe := strings.ToLower(err.Error())
	for field, msg := range gateway.FieldErrors(err) {
		probe += " " + strings.ToLower(field) + " " + strings.ToLower(msg)
	}
	if strings.Contains(probe, "metadata") || strings.Contains(probe, "price id") ||
		strings.Contains(probe, "not purchasable") {
		return itemNotPurchasableFailure
	}
	return genericSubmitFailure
}

func (s *checkoutService) translateGatewayError(err error) error {
	switch gateway.KindOf(err) {
	case gateway.KindValidation:
		return fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
	default:
		return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}
}
