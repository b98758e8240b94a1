package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/Sharper-Labs-IT/tvk-store-engine/internal/domain"
	"github.com/Sharper-Labs-IT/tvk-store-engine/internal/gateway"
)

var (
	errWishlistGatewayRequired = errors.New("wishlist service: gateway is required")
	errWishlistSessionRequired = errors.New("wishlist service: session is required")
)

// ErrWishlistSignInRequired indicates a mutation was attempted without a session.
var ErrWishlistSignInRequired = errors.New("wishlist service: sign-in required")

// ErrWishlistInvalidInput indicates the caller supplied invalid input.
var ErrWishlistInvalidInput = errors.New("wishlist service: invalid input")

// ErrWishlistUnavailable indicates the remote store could not fulfil the request.
var ErrWishlistUnavailable = errors.New("wishlist service: unavailable")

// WishlistServiceDeps wires the gateway and hooks for the wishlist synchronizer.
type WishlistServiceDeps struct {
	Gateway     gateway.StoreGateway
	Session     Session
	Logger      func(context.Context, string, map[string]any)
	Notify      Notifier
	IDGenerator func() string
}

type wishlistService struct {
	gw      gateway.StoreGateway
	session Session
	logger  func(context.Context, string, map[string]any)
	notify  Notifier
	newID   func() string

	mu      sync.Mutex
	entries []domain.WishlistEntry
	// byProduct maps product id to entry id; at most one entry per product.
	byProduct   map[string]string
	issuedSeq   uint64
	appliedSeq  uint64
	subscribers map[string]func([]WishlistEntry)
}

// NewWishlistService constructs a WishlistService enforcing dependency validation.
func NewWishlistService(deps WishlistServiceDeps) (WishlistService, error) {
	if deps.Gateway == nil {
		return nil, errWishlistGatewayRequired
	}
	if deps.Session == nil {
		return nil, errWishlistSessionRequired
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	notify := deps.Notify
	if notify == nil {
		notify = func(context.Context, Notice) {}
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	return &wishlistService{
		gw:          deps.Gateway,
		session:     deps.Session,
		logger:      logger,
		notify:      notify,
		newID:       idGen,
		byProduct:   make(map[string]string),
		subscribers: make(map[string]func([]WishlistEntry)),
	}, nil
}

func (s *wishlistService) Entries() []WishlistEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]WishlistEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *wishlistService) Contains(productID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byProduct[strings.TrimSpace(productID)]
	return ok
}

func (s *wishlistService) Refresh(ctx context.Context) error {
	s.mu.Lock()
	s.issuedSeq++
	token := s.issuedSeq
	s.mu.Unlock()

	entries, err := s.gw.FetchWishlist(ctx)
	if err != nil {
		return s.translateGatewayError(err)
	}
	s.applyFetch(ctx, token, entries)
	return nil
}

func (s *wishlistService) Add(ctx context.Context, productID string) error {
	if err := s.requireSession(ctx); err != nil {
		return err
	}
	id := strings.TrimSpace(productID)
	if id == "" {
		return ErrWishlistInvalidInput
	}
	if s.Contains(id) {
		return nil
	}

	// The denormalized product snapshot comes only from the server, so
	// nothing is inserted optimistically.
	entry, err := s.gw.AddWishlistEntry(ctx, id)
	if err != nil {
		s.notify(ctx, Notice{Level: NoticeError, Message: "Couldn't save to your wishlist. Please try again."})
		return s.translateGatewayError(err)
	}

	s.mu.Lock()
	if _, dup := s.byProduct[entry.ProductID]; !dup {
		s.entries = append(s.entries, entry)
		s.byProduct[entry.ProductID] = entry.ID
	}
	s.mu.Unlock()
	s.publish()
	s.logger(ctx, "wishlist.added", map[string]any{"productId": entry.ProductID})
	return nil
}

func (s *wishlistService) Remove(ctx context.Context, productID string) error {
	if err := s.requireSession(ctx); err != nil {
		return err
	}
	id := strings.TrimSpace(productID)
	if id == "" {
		return ErrWishlistInvalidInput
	}

	s.mu.Lock()
	entryID, ok := s.byProduct[id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	s.removeLocked(id)
	s.mu.Unlock()
	s.publish()

	if err := s.gw.RemoveWishlistEntry(ctx, entryID); err != nil {
		s.logger(ctx, "wishlist.remove.rollback", map[string]any{"productId": id, "error": err.Error()})
		s.rollbackByRefetch(ctx)
		s.notify(ctx, Notice{Level: NoticeError, Message: "Couldn't remove the item. Your wishlist has been restored."})
		return s.translateGatewayError(err)
	}
	return nil
}

func (s *wishlistService) Toggle(ctx context.Context, productID string) error {
	if s.Contains(strings.TrimSpace(productID)) {
		return s.Remove(ctx, productID)
	}
	return s.Add(ctx, productID)
}

func (s *wishlistService) Subscribe(fn func([]WishlistEntry)) func() {
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

func (s *wishlistService) HandleLogin(ctx context.Context) error {
	return s.Refresh(ctx)
}

func (s *wishlistService) HandleLogout(ctx context.Context) {
	s.mu.Lock()
	s.entries = nil
	s.byProduct = make(map[string]string)
	s.issuedSeq++
	s.appliedSeq = s.issuedSeq
	s.mu.Unlock()
	s.publish()
	s.logger(ctx, "wishlist.cleared_on_logout", nil)
}

func (s *wishlistService) requireSession(ctx context.Context) error {
	if s.session.Authenticated(ctx) {
		return nil
	}
	s.notify(ctx, Notice{Level: NoticeInfo, Message: "Sign in to manage your wishlist"})
	return ErrWishlistSignInRequired
}

func (s *wishlistService) removeLocked(productID string) {
	entryID := s.byProduct[productID]
	delete(s.byProduct, productID)
	for i, entry := range s.entries {
		if entry.ID == entryID {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}

func (s *wishlistService) applyFetch(ctx context.Context, token uint64, entries []domain.WishlistEntry) {
	s.mu.Lock()
	if token <= s.appliedSeq {
		s.mu.Unlock()
		s.logger(ctx, "wishlist.fetch.stale_discarded", map[string]any{"token": token})
		return
	}
	s.appliedSeq = token
	s.entries = s.entries[:0]
	s.byProduct = make(map[string]string, len(entries))
	for _, entry := range entries {
		if _, dup := s.byProduct[entry.ProductID]; dup {
			continue
		}
		s.entries = append(s.entries, entry)
		s.byProduct[entry.ProductID] = entry.ID
	}
	s.mu.Unlock()
	s.publish()
}

func (s *wishlistService) rollbackByRefetch(ctx context.Context) {
	s.mu.Lock()
	s.issuedSeq++
	token := s.issuedSeq
	s.mu.Unlock()

	entries, err := s.gw.FetchWishlist(ctx)
	if err != nil {
		s.logger(ctx, "wishlist.rollback.fetch_failed", map[string]any{"error": err.Error()})
		return
	}
	s.applyFetch(ctx, token, entries)
}

func (s *wishlistService) publish() {
	s.mu.Lock()
	entries := make([]WishlistEntry, len(s.entries))
	copy(entries, s.entries)
	fns := make([]func([]WishlistEntry), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(entries)
	}
}

func (s *wishlistService) translateGatewayError(err error) error {
	switch gateway.KindOf(err) {
	case gateway.KindUnauthenticated:
		return fmt.Errorf("%w: %v", ErrWishlistSignInRequired, err)
	case gateway.KindValidation:
		return fmt.Errorf("%w: %v", ErrWishlistInvalidInput, err)
	default:
		return fmt.Errorf("%w: %v", ErrWishlistUnavailable, err)
	}
}
