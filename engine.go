// Package engine assembles the storefront client engine: the remote store
// gateway, the cart and wishlist synchronizers, the checkout orchestrator,
// and the payment verification gate. Consumers construct one Engine per
// signed-in surface and talk to the services it exposes.
package engine

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/Sharper-Labs-IT/tvk-store-engine/internal/gateway"
	"github.com/Sharper-Labs-IT/tvk-store-engine/internal/platform/config"
	"github.com/Sharper-Labs-IT/tvk-store-engine/internal/platform/idempotency"
	"github.com/Sharper-Labs-IT/tvk-store-engine/internal/platform/observability"
	"github.com/Sharper-Labs-IT/tvk-store-engine/internal/pricing"
	"github.com/Sharper-Labs-IT/tvk-store-engine/internal/services"
)

// Re-exported surface so consumers never import internal packages.
type (
	Config              = config.Config
	TokenSource         = gateway.TokenSource
	Session             = services.Session
	SessionFunc         = services.SessionFunc
	Notice              = services.Notice
	Notifier            = services.Notifier
	AddItemRequest      = services.AddItemRequest
	CartService         = services.CartService
	WishlistService     = services.WishlistService
	CheckoutService     = services.CheckoutService
	VerificationService = services.VerificationService
)

// TokenSourceFunc adapts ordinary functions to TokenSource.
type TokenSourceFunc = gateway.TokenSourceFunc

// LoadConfig reads engine configuration from the process environment.
func LoadConfig() (Config, error) { return config.Load() }

// Options configures engine construction. Tokens and Session are required;
// the hooks default to no-ops and Logger to a fresh structured logger.
type Options struct {
	Config  Config
	Tokens  TokenSource
	Session Session
	Logger  *zap.Logger

	// Notify receives transient user-facing notices.
	Notify Notifier
	// OpenCart reveals the cart view after a successful add.
	OpenCart func(context.Context)
	// ConfirmClear asks the shopper before the cart is emptied.
	ConfirmClear func(context.Context) bool
	// Navigate performs a full-page navigation, handing control to the
	// payment provider or back to an app route.
	Navigate func(ctx context.Context, url string)
	// Celebrate fires the payment-success moment.
	Celebrate func(context.Context)

	// DashboardPath and StorePath are the verification gate's exits.
	DashboardPath string
	StorePath     string
}

// Engine bundles the constructed services.
type Engine struct {
	Cart         CartService
	Wishlist     WishlistService
	Checkout     CheckoutService
	Verification VerificationService
}

var errTokensRequired = errors.New("engine: token source is required")
var errSessionRequired = errors.New("engine: session is required")

// New wires the engine from options.
func New(opts Options) (*Engine, error) {
	if opts.Tokens == nil {
		return nil, errTokensRequired
	}
	if opts.Session == nil {
		return nil, errSessionRequired
	}

	logger := opts.Logger
	if logger == nil {
		built, err := observability.NewLogger()
		if err != nil {
			return nil, err
		}
		logger = built
	}
	events := observability.EventLogger(logger)

	gw, err := gateway.New(gateway.Config{
		BaseURL:    opts.Config.Store.BaseURL,
		APIVersion: opts.Config.Store.APIVersion,
		Timeout:    opts.Config.Store.Timeout,
	}, opts.Tokens)
	if err != nil {
		return nil, err
	}

	calculator, err := pricing.NewCalculator(pricing.Policy{
		FreeShippingThreshold: opts.Config.Pricing.FreeShippingThreshold,
		FlatShippingFee:       opts.Config.Pricing.FlatShippingFee,
		TaxRate:               opts.Config.Pricing.TaxRate,
	})
	if err != nil {
		return nil, err
	}

	cart, err := services.NewCartService(services.CartServiceDeps{
		Gateway:      gw,
		Session:      opts.Session,
		Logger:       events,
		Notify:       opts.Notify,
		OpenCart:     opts.OpenCart,
		ConfirmClear: opts.ConfirmClear,
	})
	if err != nil {
		return nil, err
	}

	wishlist, err := services.NewWishlistService(services.WishlistServiceDeps{
		Gateway: gw,
		Session: opts.Session,
		Logger:  events,
		Notify:  opts.Notify,
	})
	if err != nil {
		return nil, err
	}

	checkout, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Gateway:         gw,
		Cart:            cart,
		Pricer:          calculator,
		Logger:          events,
		Notify:          opts.Notify,
		Navigate:        opts.Navigate,
		DefaultCurrency: opts.Config.Pricing.DefaultCurrency,
	})
	if err != nil {
		return nil, err
	}

	verification, err := services.NewVerificationService(services.VerificationServiceDeps{
		Gateway:           gw,
		Latch:             idempotency.NewLatch(),
		Logger:            events,
		Navigate:          opts.Navigate,
		Celebrate:         opts.Celebrate,
		AutoContinueDelay: opts.Config.Verification.AutoContinueDelay,
		DashboardPath:     opts.DashboardPath,
		StorePath:         opts.StorePath,
	})
	if err != nil {
		return nil, err
	}

	return &Engine{
		Cart:         cart,
		Wishlist:     wishlist,
		Checkout:     checkout,
		Verification: verification,
	}, nil
}

// HandleLogin rebuilds both mirrors from the store after sign-in.
func (e *Engine) HandleLogin(ctx context.Context) error {
	if err := e.Cart.HandleLogin(ctx); err != nil {
		return err
	}
	return e.Wishlist.HandleLogin(ctx)
}

// HandleLogout drops all client-resident state.
func (e *Engine) HandleLogout(ctx context.Context) {
	e.Cart.HandleLogout(ctx)
	e.Wishlist.HandleLogout(ctx)
}
