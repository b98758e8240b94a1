package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/Sharper-Labs-IT/tvk-store-engine/internal/domain"
	"github.com/Sharper-Labs-IT/tvk-store-engine/internal/gateway"
)

var (
	errCartGatewayRequired = errors.New("cart service: gateway is required")
	errCartSessionRequired = errors.New("cart service: session is required")
)

// ErrCartSignInRequired indicates the caller attempted a mutation without a session.
var ErrCartSignInRequired = errors.New("cart service: sign-in required")

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart service: invalid input")

// ErrCartLineNotFound indicates the referenced cart line is not in the mirror.
var ErrCartLineNotFound = errors.New("cart service: line not found")

// ErrCartStockExceeded indicates the requested quantity exceeds known stock.
// The store is never consulted for this rejection.
var ErrCartStockExceeded = errors.New("cart service: quantity exceeds stock")

// ErrCartUnavailable indicates the remote store could not fulfil the request.
var ErrCartUnavailable = errors.New("cart service: unavailable")

// CartServiceDeps wires the gateway and side-effect hooks for the cart synchronizer.
type CartServiceDeps struct {
	Gateway gateway.StoreGateway
	Session Session
	Logger  func(context.Context, string, map[string]any)
	Notify  Notifier
	// OpenCart is invoked after a successful add so the surrounding UI can
	// reveal the cart view.
	OpenCart func(context.Context)
	// ConfirmClear asks the shopper before the cart is emptied. Clearing
	// proceeds only on an affirmative answer; nil means always confirmed.
	ConfirmClear func(context.Context) bool
	IDGenerator  func() string
}

type cartService struct {
	gw           gateway.StoreGateway
	session      Session
	logger       func(context.Context, string, map[string]any)
	notify       Notifier
	openCart     func(context.Context)
	confirmClear func(context.Context) bool
	newID        func() string

	mu sync.Mutex
	// items mirrors the last applied server fetch plus optimistic edits.
	items   []domain.LineItem
	syncing int
	// issuedSeq/appliedSeq implement latest-successful-fetch-wins: a fetch
	// response only lands if no later fetch has been applied since it left.
	issuedSeq   uint64
	appliedSeq  uint64
	subscribers map[string]func(CartSnapshot)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Gateway == nil {
		return nil, errCartGatewayRequired
	}
	if deps.Session == nil {
		return nil, errCartSessionRequired
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	notify := deps.Notify
	if notify == nil {
		notify = func(context.Context, Notice) {}
	}
	openCart := deps.OpenCart
	if openCart == nil {
		openCart = func(context.Context) {}
	}
	confirmClear := deps.ConfirmClear
	if confirmClear == nil {
		confirmClear = func(context.Context) bool { return true }
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	return &cartService{
		gw:           deps.Gateway,
		session:      deps.Session,
		logger:       logger,
		notify:       notify,
		openCart:     openCart,
		confirmClear: confirmClear,
		newID:        idGen,
		subscribers:  make(map[string]func(CartSnapshot)),
	}, nil
}

func (s *cartService) Snapshot() CartSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.NewCartSnapshot(s.items, s.syncing)
}

func (s *cartService) Count() int { return s.Snapshot().Count }

func (s *cartService) Total() decimal.Decimal { return s.Snapshot().Total }

func (s *cartService) Refresh(ctx context.Context) error {
	token := s.nextFetchToken()
	items, err := s.gw.FetchCart(ctx)
	if err != nil {
		return s.translateGatewayError(err)
	}
	if s.applyFetch(ctx, token, items) {
		s.logger(ctx, "cart.refreshed", map[string]any{"lines": len(items)})
	}
	return nil
}

func (s *cartService) AddItem(ctx context.Context, req AddItemRequest) error {
	if err := s.requireSession(ctx); err != nil {
		return err
	}
	productID := strings.TrimSpace(req.ProductID)
	if productID == "" || req.Quantity < 1 {
		return ErrCartInvalidInput
	}

	s.beginSync()
	defer s.endSync()

	err := s.gw.AddCartLine(ctx, gateway.AddCartLineRequest{
		ProductID: productID,
		Quantity:  req.Quantity,
		VariantID: strings.TrimSpace(req.VariantID),
	})
	if err != nil {
		// Nothing was changed locally; the mirror is still whatever the
		// last fetch said.
		s.notify(ctx, Notice{Level: NoticeError, Message: "Couldn't add the item to your cart. Please try again."})
		return s.translateGatewayError(err)
	}

	// The add acknowledgement is not trusted for pricing; the fetch is.
	if err := s.Refresh(ctx); err != nil {
		s.logger(ctx, "cart.add.refresh_failed", map[string]any{"error": err.Error()})
	}
	s.openCart(ctx)
	return nil
}

func (s *cartService) UpdateQuantity(ctx context.Context, lineID string, quantity int) error {
	if quantity < 1 {
		return nil
	}
	if err := s.requireSession(ctx); err != nil {
		return err
	}
	id := strings.TrimSpace(lineID)
	if id == "" {
		return ErrCartInvalidInput
	}

	s.mu.Lock()
	idx := s.lineIndexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return ErrCartLineNotFound
	}
	line := s.items[idx]
	// A zero stock means the server omitted the figure; the guard only
	// fires against a known ceiling.
	if line.Stock > 0 && quantity > line.Stock {
		s.mu.Unlock()
		s.notify(ctx, Notice{Level: NoticeWarning, Message: fmt.Sprintf("Only %d available", line.Stock)})
		return fmt.Errorf("%w: requested %d of %d", ErrCartStockExceeded, quantity, line.Stock)
	}
	previous := line.Quantity
	s.items[idx].Quantity = quantity
	s.mu.Unlock()
	s.publish()

	s.beginSync()
	defer s.endSync()

	if err := s.gw.UpdateCartLine(ctx, id, quantity); err != nil {
		s.logger(ctx, "cart.update.rollback", map[string]any{
			"lineId": id, "from": previous, "to": quantity, "error": err.Error(),
		})
		s.rollbackByRefetch(ctx)
		s.notify(ctx, Notice{Level: NoticeError, Message: "Couldn't update the quantity. Your cart has been restored."})
		return s.translateGatewayError(err)
	}
	return nil
}

func (s *cartService) RemoveItem(ctx context.Context, lineID string) error {
	if err := s.requireSession(ctx); err != nil {
		return err
	}
	id := strings.TrimSpace(lineID)
	if id == "" {
		return ErrCartInvalidInput
	}

	s.mu.Lock()
	idx := s.lineIndexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return ErrCartLineNotFound
	}
	s.items = append(s.items[:idx], s.items[idx+1:]...)
	s.mu.Unlock()
	s.publish()

	s.beginSync()
	defer s.endSync()

	if err := s.gw.RemoveCartLine(ctx, id); err != nil {
		s.logger(ctx, "cart.remove.rollback", map[string]any{"lineId": id, "error": err.Error()})
		s.rollbackByRefetch(ctx)
		s.notify(ctx, Notice{Level: NoticeError, Message: "Couldn't remove the item. Your cart has been restored."})
		return s.translateGatewayError(err)
	}
	return nil
}

func (s *cartService) Clear(ctx context.Context) error {
	if err := s.requireSession(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	if len(s.items) == 0 {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if !s.confirmClear(ctx) {
		return nil
	}

	s.mu.Lock()
	s.items = nil
	s.mu.Unlock()
	s.publish()

	s.beginSync()
	defer s.endSync()

	if err := s.gw.ClearCart(ctx); err != nil {
		s.logger(ctx, "cart.clear.rollback", map[string]any{"error": err.Error()})
		s.rollbackByRefetch(ctx)
		s.notify(ctx, Notice{Level: NoticeError, Message: "Couldn't clear your cart. It has been restored."})
		return s.translateGatewayError(err)
	}
	return nil
}

func (s *cartService) Subscribe(fn func(CartSnapshot)) func() {
	if fn == nil {
		return func() {}
	}
	token := s.newID()
	s.mu.Lock()
	s.subscribers[token] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subscribers, token)
		s.mu.Unlock()
	}
}

func (s *cartService) HandleLogin(ctx context.Context) error {
	return s.Refresh(ctx)
}

// HandleLogout drops the mirror and invalidates every in-flight fetch so a
// stale response from the previous session can never land.
func (s *cartService) HandleLogout(ctx context.Context) {
	s.mu.Lock()
	s.items = nil
	s.issuedSeq++
	s.appliedSeq = s.issuedSeq
	s.mu.Unlock()
	s.publish()
	s.logger(ctx, "cart.cleared_on_logout", nil)
}

func (s *cartService) requireSession(ctx context.Context) error {
	if s.session.Authenticated(ctx) {
		return nil
	}
	s.notify(ctx, Notice{Level: NoticeInfo, Message: "Sign in to manage your cart"})
	return ErrCartSignInRequired
}

func (s *cartService) lineIndexLocked(lineID string) int {
	for i, item := range s.items {
		if item.ID == lineID {
			return i
		}
	}
	return -1
}

func (s *cartService) nextFetchToken() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issuedSeq++
	return s.issuedSeq
}

// applyFetch lands a fetch response unless a later fetch already applied.
func (s *cartService) applyFetch(ctx context.Context, token uint64, items []domain.LineItem) bool {
	s.mu.Lock()
	if token <= s.appliedSeq {
		s.mu.Unlock()
		s.logger(ctx, "cart.fetch.stale_discarded", map[string]any{"token": token})
		return false
	}
	s.appliedSeq = token
	s.items = make([]domain.LineItem, len(items))
	copy(s.items, items)
	s.mu.Unlock()
	s.publish()
	return true
}

// rollbackByRefetch restores the mirror from the server after a failed
// optimistic mutation. There is no pre-image replay; the fetch is the rollback.
func (s *cartService) rollbackByRefetch(ctx context.Context) {
	token := s.nextFetchToken()
	items, err := s.gw.FetchCart(ctx)
	if err != nil {
		s.logger(ctx, "cart.rollback.fetch_failed", map[string]any{"error": err.Error()})
		return
	}
	s.applyFetch(ctx, token, items)
}

func (s *cartService) beginSync() {
	s.mu.Lock()
	s.syncing++
	s.mu.Unlock()
	s.publish()
}

func (s *cartService) endSync() {
	s.mu.Lock()
	s.syncing--
	s.mu.Unlock()
	s.publish()
}

func (s *cartService) publish() {
	s.mu.Lock()
	snapshot := domain.NewCartSnapshot(s.items, s.syncing)
	fns := make([]func(CartSnapshot), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(snapshot)
	}
}

func (s *cartService) translateGatewayError(err error) error {
	switch gateway.KindOf(err) {
	case gateway.KindUnauthenticated:
		return fmt.Errorf("%w: %v", ErrCartSignInRequired, err)
	case gateway.KindValidation:
		return fmt.Errorf("%w: %v", ErrCartInvalidInput, err)
	case gateway.KindNotFound:
		return fmt.Errorf("%w: %v", ErrCartLineNotFound, err)
	default:
		return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	}
}
