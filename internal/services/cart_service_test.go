package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/Sharper-Labs-IT/tvk-store-engine/internal/domain"
	"github.com/Sharper-Labs-IT/tvk-store-engine/internal/gateway"
)

func cartLine(id string, price string, qty, stock int) domain.LineItem {
	return domain.LineItem{
		ID:        id,
		ProductID: "prod-" + id,
		Name:      "Item " + id,
		UnitPrice: decimal.RequireFromString(price),
		Quantity:  qty,
		Stock:     stock,
		Class:     domain.ItemClassMerch,
	}
}

func newCartService(t *testing.T, deps CartServiceDeps) CartService {
	t.Helper()
	if deps.Session == nil {
		deps.Session = authenticated()
	}
	svc, err := NewCartService(deps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return svc
}

func TestNewCartServiceValidatesDeps(t *testing.T) {
	if _, err := NewCartService(CartServiceDeps{Session: authenticated()}); err == nil {
		t.Fatal("expected error without gateway")
	}
	if _, err := NewCartService(CartServiceDeps{Gateway: &stubGateway{}}); err == nil {
		t.Fatal("expected error without session")
	}
}

func TestCartRefreshAppliesServerState(t *testing.T) {
	gw := &stubGateway{
		fetchCartFn: func(context.Context) ([]domain.LineItem, error) {
			return []domain.LineItem{cartLine("a", "10", 2, 5)}, nil
		},
	}
	svc := newCartService(t, CartServiceDeps{Gateway: gw})

	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := svc.Snapshot()
	if len(snap.Items) != 1 || snap.Count != 2 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if !snap.Total.Equal(decimal.RequireFromString("20")) {
		t.Fatalf("unexpected total: %s", snap.Total)
	}
}

func TestCartAddItemRequiresSession(t *testing.T) {
	called := false
	gw := &stubGateway{
		addCartLineFn: func(context.Context, gateway.AddCartLineRequest) error {
			called = true
			return nil
		},
	}
	rec := &noticeRecorder{}
	svc := newCartService(t, CartServiceDeps{Gateway: gw, Session: anonymous(), Notify: rec.record})

	err := svc.AddItem(context.Background(), AddItemRequest{ProductID: "prod-1", Quantity: 1})
	if !errors.Is(err, ErrCartSignInRequired) {
		t.Fatalf("expected sign-in error, got %v", err)
	}
	if called {
		t.Fatal("gateway must not be reached without a session")
	}
	if notice, ok := rec.last(); !ok || notice.Level != NoticeInfo {
		t.Fatalf("expected sign-in notice, got %+v", rec.notices)
	}
}

func TestCartAddItemFetchesAfterWriteAndOpensCart(t *testing.T) {
	var order []string
	gw := &stubGateway{
		addCartLineFn: func(_ context.Context, req gateway.AddCartLineRequest) error {
			order = append(order, "add")
			if req.ProductID != "prod-1" || req.Quantity != 2 {
				t.Fatalf("unexpected add request: %+v", req)
			}
			return nil
		},
		fetchCartFn: func(context.Context) ([]domain.LineItem, error) {
			order = append(order, "fetch")
			return []domain.LineItem{cartLine("a", "12.50", 2, 9)}, nil
		},
	}
	opened := false
	svc := newCartService(t, CartServiceDeps{Gateway: gw, OpenCart: func(context.Context) { opened = true }})

	if err := svc.AddItem(context.Background(), AddItemRequest{ProductID: "prod-1", Quantity: 2}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(order) != 2 || order[0] != "add" || order[1] != "fetch" {
		t.Fatalf("expected add then fetch, got %v", order)
	}
	if !opened {
		t.Fatal("expected cart view to open after a successful add")
	}
	if got := svc.Snapshot().Count; got != 2 {
		t.Fatalf("expected count 2 after refresh, got %d", got)
	}
}

func TestCartAddItemFailureLeavesStateUntouched(t *testing.T) {
	gw := &stubGateway{
		fetchCartFn: func(context.Context) ([]domain.LineItem, error) {
			return []domain.LineItem{cartLine("a", "10", 1, 5)}, nil
		},
	}
	rec := &noticeRecorder{}
	svc := newCartService(t, CartServiceDeps{Gateway: gw, Notify: rec.record})
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	gw.addCartLineFn = func(context.Context, gateway.AddCartLineRequest) error {
		return gateway.NewTransportError(errors.New("boom"))
	}

	err := svc.AddItem(context.Background(), AddItemRequest{ProductID: "prod-2", Quantity: 1})
	if !errors.Is(err, ErrCartUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	if got := svc.Snapshot().Count; got != 1 {
		t.Fatalf("prior state must be untouched, got count %d", got)
	}
	if notice, ok := rec.last(); !ok || notice.Level != NoticeError {
		t.Fatalf("expected failure notice, got %+v", rec.notices)
	}
}

func TestCartUpdateQuantityBelowOneIsNoOp(t *testing.T) {
	called := false
	gw := &stubGateway{
		updateCartLineFn: func(context.Context, string, int) error {
			called = true
			return nil
		},
	}
	svc := newCartService(t, CartServiceDeps{Gateway: gw})

	if err := svc.UpdateQuantity(context.Background(), "a", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Fatal("quantities below one must not reach the store")
	}
}

func TestCartUpdateQuantityStockGuardSkipsNetwork(t *testing.T) {
	called := false
	gw := &stubGateway{
		fetchCartFn: func(context.Context) ([]domain.LineItem, error) {
			return []domain.LineItem{cartLine("a", "10", 1, 3)}, nil
		},
		updateCartLineFn: func(context.Context, string, int) error {
			called = true
			return nil
		},
	}
	rec := &noticeRecorder{}
	svc := newCartService(t, CartServiceDeps{Gateway: gw, Notify: rec.record})
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := svc.UpdateQuantity(context.Background(), "a", 4)
	if !errors.Is(err, ErrCartStockExceeded) {
		t.Fatalf("expected stock error, got %v", err)
	}
	if called {
		t.Fatal("stock guard must reject locally, without a network call")
	}
	if notice, ok := rec.last(); !ok || notice.Message != "Only 3 available" {
		t.Fatalf("expected availability notice, got %+v", rec.notices)
	}
	if got := svc.Snapshot().Items[0].Quantity; got != 1 {
		t.Fatalf("quantity must be unchanged, got %d", got)
	}
}

func TestCartUpdateQuantityOptimisticThenConfirmed(t *testing.T) {
	var sent int
	gw := &stubGateway{
		fetchCartFn: func(context.Context) ([]domain.LineItem, error) {
			return []domain.LineItem{cartLine("a", "10", 1, 5)}, nil
		},
		updateCartLineFn: func(_ context.Context, lineID string, quantity int) error {
			if lineID != "a" {
				t.Fatalf("unexpected line id %q", lineID)
			}
			sent = quantity
			return nil
		},
	}
	svc := newCartService(t, CartServiceDeps{Gateway: gw})
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var sawOptimistic bool
	cancel := svc.Subscribe(func(snap CartSnapshot) {
		if len(snap.Items) == 1 && snap.Items[0].Quantity == 3 {
			sawOptimistic = true
		}
	})
	defer cancel()

	if err := svc.UpdateQuantity(context.Background(), "a", 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sent != 3 {
		t.Fatalf("expected remote update to 3, got %d", sent)
	}
	if !sawOptimistic {
		t.Fatal("expected the optimistic quantity to be published before the remote call settled")
	}
}

func TestCartUpdateQuantityRollsBackByRefetch(t *testing.T) {
	serverItems := []domain.LineItem{cartLine("a", "10", 1, 5)}
	fetches := 0
	gw := &stubGateway{
		fetchCartFn: func(context.Context) ([]domain.LineItem, error) {
			fetches++
			return serverItems, nil
		},
		updateCartLineFn: func(context.Context, string, int) error {
			return gateway.NewTransportError(errors.New("timeout"))
		},
	}
	rec := &noticeRecorder{}
	svc := newCartService(t, CartServiceDeps{Gateway: gw, Notify: rec.record})
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := svc.UpdateQuantity(context.Background(), "a", 3)
	if !errors.Is(err, ErrCartUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	if fetches != 2 {
		t.Fatalf("expected a rollback re-fetch, got %d fetches", fetches)
	}
	if got := svc.Snapshot().Items[0].Quantity; got != 1 {
		t.Fatalf("expected server quantity restored, got %d", got)
	}
	if notice, ok := rec.last(); !ok || notice.Level != NoticeError {
		t.Fatalf("expected restore notice, got %+v", rec.notices)
	}
}

func TestCartRemoveItemOptimistic(t *testing.T) {
	gw := &stubGateway{
		fetchCartFn: func(context.Context) ([]domain.LineItem, error) {
			return []domain.LineItem{cartLine("a", "10", 1, 5), cartLine("b", "5", 2, 5)}, nil
		},
	}
	svc := newCartService(t, CartServiceDeps{Gateway: gw})
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	removed := ""
	gw.removeCartLineFn = func(_ context.Context, lineID string) error {
		// The mirror already dropped the line before the delete left.
		if got := len(svc.Snapshot().Items); got != 1 {
			t.Fatalf("expected optimistic removal before remote call, got %d items", got)
		}
		removed = lineID
		return nil
	}

	if err := svc.RemoveItem(context.Background(), "a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != "a" {
		t.Fatalf("expected remote delete of line a, got %q", removed)
	}
}

func TestCartRemoveUnknownLine(t *testing.T) {
	svc := newCartService(t, CartServiceDeps{Gateway: &stubGateway{}})
	if err := svc.RemoveItem(context.Background(), "ghost"); !errors.Is(err, ErrCartLineNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestCartClearEmptyIsIdempotent(t *testing.T) {
	called := false
	gw := &stubGateway{
		clearCartFn: func(context.Context) error {
			called = true
			return nil
		},
	}
	svc := newCartService(t, CartServiceDeps{Gateway: gw})

	if err := svc.Clear(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Fatal("clearing an empty cart must not reach the store")
	}
}

func TestCartClearDeclinedConfirmationKeepsItems(t *testing.T) {
	cleared := false
	gw := &stubGateway{
		fetchCartFn: func(context.Context) ([]domain.LineItem, error) {
			return []domain.LineItem{cartLine("a", "10", 1, 5)}, nil
		},
		clearCartFn: func(context.Context) error {
			cleared = true
			return nil
		},
	}
	svc := newCartService(t, CartServiceDeps{
		Gateway:      gw,
		ConfirmClear: func(context.Context) bool { return false },
	})
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := svc.Clear(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cleared {
		t.Fatal("a declined confirmation must not reach the store")
	}
	if svc.Count() != 1 {
		t.Fatalf("expected items kept, got count %d", svc.Count())
	}
}

func TestCartStaleFetchDiscarded(t *testing.T) {
	firstFetchStarted := make(chan struct{})
	releaseFirstFetch := make(chan struct{})
	fetches := 0

	var mu sync.Mutex
	gw := &stubGateway{}
	gw.fetchCartFn = func(context.Context) ([]domain.LineItem, error) {
		mu.Lock()
		fetches++
		n := fetches
		mu.Unlock()
		if n == 1 {
			close(firstFetchStarted)
			<-releaseFirstFetch
			return []domain.LineItem{cartLine("stale", "1", 1, 5)}, nil
		}
		return []domain.LineItem{cartLine("fresh", "2", 1, 5)}, nil
	}

	svc := newCartService(t, CartServiceDeps{Gateway: gw})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Refresh(context.Background())
	}()

	<-firstFetchStarted
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	close(releaseFirstFetch)
	<-done

	items := svc.Snapshot().Items
	if len(items) != 1 || items[0].ID != "fresh" {
		t.Fatalf("stale fetch must not overwrite newer state, got %+v", items)
	}
}

func TestCartSyncingCounter(t *testing.T) {
	gw := &stubGateway{}
	svc := newCartService(t, CartServiceDeps{Gateway: gw})

	var peak int
	gw.addCartLineFn = func(context.Context, gateway.AddCartLineRequest) error {
		if s := svc.Snapshot().Syncing; s > peak {
			peak = s
		}
		return nil
	}

	if err := svc.AddItem(context.Background(), AddItemRequest{ProductID: "prod-1", Quantity: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if peak != 1 {
		t.Fatalf("expected syncing=1 during the mutation, got %d", peak)
	}
	if got := svc.Snapshot().Syncing; got != 0 {
		t.Fatalf("expected syncing to settle at 0, got %d", got)
	}
}

func TestCartLogoutClearsMirror(t *testing.T) {
	gw := &stubGateway{
		fetchCartFn: func(context.Context) ([]domain.LineItem, error) {
			return []domain.LineItem{cartLine("a", "10", 1, 5)}, nil
		},
	}
	svc := newCartService(t, CartServiceDeps{Gateway: gw})
	if err := svc.HandleLogin(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if svc.Count() != 1 {
		t.Fatalf("expected one item after login, got %d", svc.Count())
	}

	svc.HandleLogout(context.Background())
	if svc.Count() != 0 {
		t.Fatalf("expected empty cart after logout, got %d", svc.Count())
	}
}

func TestCartSubscribeCancel(t *testing.T) {
	gw := &stubGateway{
		fetchCartFn: func(context.Context) ([]domain.LineItem, error) {
			return []domain.LineItem{cartLine("a", "10", 1, 5)}, nil
		},
	}
	svc := newCartService(t, CartServiceDeps{Gateway: gw})

	calls := 0
	cancel := svc.Subscribe(func(CartSnapshot) { calls++ })
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls == 0 {
		t.Fatal("expected a notification after refresh")
	}

	cancel()
	before := calls
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != before {
		t.Fatal("expected no notifications after cancel")
	}
}
