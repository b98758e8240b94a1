package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sharper-Labs-IT/tvk-store-engine/internal/domain"
	"github.com/Sharper-Labs-IT/tvk-store-engine/internal/platform/requestctx"
)

var tracer = otel.Tracer("github.com/Sharper-Labs-IT/tvk-store-engine/internal/gateway")

const requestIDHeader = "X-Request-Id"

// TokenSource supplies the bearer token for the active session, if any.
// Mutating calls without a token fail client-side with KindUnauthenticated
// before any network traffic.
type TokenSource interface {
	Token(ctx context.Context) (string, bool)
}

// TokenSourceFunc adapts ordinary functions to TokenSource.
type TokenSourceFunc func(ctx context.Context) (string, bool)

// Token implements TokenSource.
func (f TokenSourceFunc) Token(ctx context.Context) (string, bool) { return f(ctx) }

// Config holds the HTTP gateway construction parameters.
type Config struct {
	// BaseURL is the store API origin, e.g. https://store.example.com.
	BaseURL string
	// APIVersion is the path segment appended after /api.
	APIVersion string
	Timeout    time.Duration
	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// HTTPGateway implements StoreGateway over the store's JSON API.
type HTTPGateway struct {
	httpClient   *http.Client
	baseURL      string
	version      string
	tokens       TokenSource
	newRequestID func() string
}

// New constructs an HTTPGateway, validating required configuration.
func New(cfg Config, tokens TokenSource) (*HTTPGateway, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("gateway: base URL is required")
	}
	if parsed, err := url.Parse(base); err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("gateway: invalid base URL %q", cfg.BaseURL)
	}
	if tokens == nil {
		return nil, errors.New("gateway: token source is required")
	}

	version := strings.Trim(strings.TrimSpace(cfg.APIVersion), "/")
	if version == "" {
		version = "v1"
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	return &HTTPGateway{
		httpClient:   client,
		baseURL:      base,
		version:      version,
		tokens:       tokens,
		newRequestID: func() string { return ulid.Make().String() },
	}, nil
}

// FetchCart implements StoreGateway.
func (g *HTTPGateway) FetchCart(ctx context.Context) ([]domain.LineItem, error) {
	body, err := g.do(ctx, http.MethodGet, "/cart", nil, false)
	if err != nil {
		return nil, err
	}
	items, err := decodeCartPayload(body)
	if err != nil {
		return nil, &StoreError{Kind: KindTransport, Message: "malformed cart payload", cause: err}
	}
	return items, nil
}

// AddCartLine implements StoreGateway. The acknowledgement body is discarded;
// callers re-fetch for authoritative price and stock.
func (g *HTTPGateway) AddCartLine(ctx context.Context, req AddCartLineRequest) error {
	payload := map[string]any{
		"product_id": strings.TrimSpace(req.ProductID),
		"quantity":   req.Quantity,
	}
	if v := strings.TrimSpace(req.VariantID); v != "" {
		payload["variant_id"] = v
	}
	_, err := g.do(ctx, http.MethodPost, "/cart/items", payload, true)
	return err
}

// UpdateCartLine implements StoreGateway.
func (g *HTTPGateway) UpdateCartLine(ctx context.Context, lineID string, quantity int) error {
	id := url.PathEscape(strings.TrimSpace(lineID))
	_, err := g.do(ctx, http.MethodPatch, "/cart/items/"+id, map[string]any{"quantity": quantity}, true)
	return err
}

// RemoveCartLine implements StoreGateway.
func (g *HTTPGateway) RemoveCartLine(ctx context.Context, lineID string) error {
	id := url.PathEscape(strings.TrimSpace(lineID))
	_, err := g.do(ctx, http.MethodDelete, "/cart/items/"+id, nil, true)
	return err
}

// ClearCart implements StoreGateway.
func (g *HTTPGateway) ClearCart(ctx context.Context) error {
	_, err := g.do(ctx, http.MethodDelete, "/cart", nil, true)
	return err
}

// FetchWishlist implements StoreGateway.
func (g *HTTPGateway) FetchWishlist(ctx context.Context) ([]domain.WishlistEntry, error) {
	body, err := g.do(ctx, http.MethodGet, "/wishlist", nil, false)
	if err != nil {
		return nil, err
	}
	var wire struct {
		Entries []wireWishlistEntry `json:"entries"`
	}
	if err := unmarshalNumbers(body, &wire); err != nil {
		return nil, &StoreError{Kind: KindTransport, Message: "malformed wishlist payload", cause: err}
	}
	entries := make([]domain.WishlistEntry, 0, len(wire.Entries))
	for _, w := range wire.Entries {
		entry, err := normalizeWishlistEntry(w)
		if err != nil {
			return nil, &StoreError{Kind: KindTransport, Message: "malformed wishlist payload", cause: err}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// AddWishlistEntry implements StoreGateway. The response carries the
// denormalized product snapshot needed for display.
func (g *HTTPGateway) AddWishlistEntry(ctx context.Context, productID string) (domain.WishlistEntry, error) {
	payload := map[string]any{"product_id": strings.TrimSpace(productID)}
	body, err := g.do(ctx, http.MethodPost, "/wishlist", payload, true)
	if err != nil {
		return domain.WishlistEntry{}, err
	}
	var wire wireWishlistEntry
	if err := unmarshalNumbers(body, &wire); err != nil {
		return domain.WishlistEntry{}, &StoreError{Kind: KindTransport, Message: "malformed wishlist payload", cause: err}
	}
	entry, err := normalizeWishlistEntry(wire)
	if err != nil {
		return domain.WishlistEntry{}, &StoreError{Kind: KindTransport, Message: "malformed wishlist payload", cause: err}
	}
	return entry, nil
}

// RemoveWishlistEntry implements StoreGateway.
func (g *HTTPGateway) RemoveWishlistEntry(ctx context.Context, entryID string) error {
	id := url.PathEscape(strings.TrimSpace(entryID))
	_, err := g.do(ctx, http.MethodDelete, "/wishlist/"+id, nil, true)
	return err
}

// FetchProduct implements StoreGateway.
func (g *HTTPGateway) FetchProduct(ctx context.Context, productID string) (domain.Product, error) {
	id := url.PathEscape(strings.TrimSpace(productID))
	body, err := g.do(ctx, http.MethodGet, "/products/"+id, nil, false)
	if err != nil {
		return domain.Product{}, err
	}
	var wire wireProduct
	if err := unmarshalNumbers(body, &wire); err != nil {
		return domain.Product{}, &StoreError{Kind: KindTransport, Message: "malformed product payload", cause: err}
	}
	product, err := normalizeProduct(wire)
	if err != nil {
		return domain.Product{}, &StoreError{Kind: KindTransport, Message: "malformed product payload", cause: err}
	}
	return product, nil
}

// ValidateDiscount implements StoreGateway. A valid:false response decodes
// into a quote, not an error.
func (g *HTTPGateway) ValidateDiscount(ctx context.Context, code string) (domain.DiscountQuote, error) {
	payload := map[string]any{"code": strings.TrimSpace(code)}
	body, err := g.do(ctx, http.MethodPost, "/discounts/validate", payload, true)
	if err != nil {
		return domain.DiscountQuote{}, err
	}
	var wire struct {
		Valid          bool        `json:"valid"`
		DiscountAmount json.Number `json:"discount_amount"`
		Error          string      `json:"error"`
	}
	if err := unmarshalNumbers(body, &wire); err != nil {
		return domain.DiscountQuote{}, &StoreError{Kind: KindTransport, Message: "malformed discount payload", cause: err}
	}
	quote := domain.DiscountQuote{Valid: wire.Valid, Message: strings.TrimSpace(wire.Error)}
	if wire.Valid {
		amount, err := parseAmount(wire.DiscountAmount)
		if err != nil {
			return domain.DiscountQuote{}, &StoreError{Kind: KindTransport, Message: "malformed discount payload", cause: err}
		}
		quote.Amount = amount
	}
	return quote, nil
}

// CreateOrder implements StoreGateway.
func (g *HTTPGateway) CreateOrder(ctx context.Context, req CreateOrderRequest) (domain.OrderSummary, error) {
	payload := map[string]any{
		"shipping_address": map[string]string{
			"line1":       strings.TrimSpace(req.Address.Line1),
			"line2":       strings.TrimSpace(req.Address.Line2),
			"city":        strings.TrimSpace(req.Address.City),
			"state":       strings.TrimSpace(req.Address.State),
			"postal_code": strings.TrimSpace(req.Address.PostalCode),
			"country":     strings.TrimSpace(req.Address.Country),
		},
		"currency": strings.ToUpper(strings.TrimSpace(req.Currency)),
	}
	if code := strings.TrimSpace(req.DiscountCode); code != "" {
		payload["discount_code"] = code
	}

	body, err := g.do(ctx, http.MethodPost, "/orders", payload, true)
	if err != nil {
		return domain.OrderSummary{}, err
	}
	var wire struct {
		Order struct {
			ID string `json:"id"`
		} `json:"order"`
		CheckoutRedirectURL string `json:"checkout_redirect_url"`
	}
	if err := unmarshalNumbers(body, &wire); err != nil {
		return domain.OrderSummary{}, &StoreError{Kind: KindTransport, Message: "malformed order payload", cause: err}
	}
	if strings.TrimSpace(wire.CheckoutRedirectURL) == "" {
		return domain.OrderSummary{}, &StoreError{Kind: KindTransport, Message: "order response missing redirect target"}
	}
	return domain.OrderSummary{
		OrderID:     strings.TrimSpace(wire.Order.ID),
		RedirectURL: strings.TrimSpace(wire.CheckoutRedirectURL),
	}, nil
}

// CreatePaymentSession implements StoreGateway.
func (g *HTTPGateway) CreatePaymentSession(ctx context.Context, req CreatePaymentSessionRequest) (PaymentSession, error) {
	payload := map[string]any{
		"plan_id":  strings.TrimSpace(req.PlanID),
		"currency": strings.ToUpper(strings.TrimSpace(req.Currency)),
	}
	body, err := g.do(ctx, http.MethodPost, "/payments/sessions", payload, true)
	if err != nil {
		return PaymentSession{}, err
	}
	var wire struct {
		RedirectURL string `json:"redirect_url"`
	}
	if err := unmarshalNumbers(body, &wire); err != nil {
		return PaymentSession{}, &StoreError{Kind: KindTransport, Message: "malformed session payload", cause: err}
	}
	if strings.TrimSpace(wire.RedirectURL) == "" {
		return PaymentSession{}, &StoreError{Kind: KindTransport, Message: "session response missing redirect target"}
	}
	return PaymentSession{RedirectURL: strings.TrimSpace(wire.RedirectURL)}, nil
}

// VerifyPaymentSession implements StoreGateway.
func (g *HTTPGateway) VerifyPaymentSession(ctx context.Context, sessionID string) (VerifyResult, error) {
	id := url.PathEscape(strings.TrimSpace(sessionID))
	body, err := g.do(ctx, http.MethodPost, "/payments/sessions/"+id+"/verify", nil, true)
	if err != nil {
		return VerifyResult{}, err
	}
	var wire struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := unmarshalNumbers(body, &wire); err != nil {
		return VerifyResult{}, &StoreError{Kind: KindTransport, Message: "malformed verify payload", cause: err}
	}
	return VerifyResult{Success: wire.Success, Message: strings.TrimSpace(wire.Message)}, nil
}

// do executes one store call: span, correlation id, auth header, error
// classification. Mutations require a session token up front.
func (g *HTTPGateway) do(ctx context.Context, method, path string, payload any, mutating bool) ([]byte, error) {
	requestID := g.newRequestID()
	ctx = requestctx.WithRequestID(ctx, requestID)

	ctx, span := tracer.Start(ctx, "store "+method+" "+path, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("http.request.method", method),
		attribute.String("url.path", path),
	)

	token, ok := g.tokens.Token(ctx)
	if mutating && (!ok || strings.TrimSpace(token) == "") {
		return nil, NewUnauthenticatedError("sign in required")
	}

	var bodyReader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, &StoreError{Kind: KindTransport, Message: "encoding request", cause: err}
		}
		bodyReader = bytes.NewReader(encoded)
	}

	target := g.baseURL + "/api/" + g.version + path
	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, &StoreError{Kind: KindTransport, Message: "building request", cause: err}
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if ok && strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		span.SetAttributes(attribute.Bool("error", true))
		return nil, NewTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &StoreError{Kind: KindTransport, Message: "reading response", cause: err}
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= 400 {
		return nil, parseErrorResponse(resp.StatusCode, body)
	}
	return body, nil
}

// parseErrorResponse maps status codes and the structured error envelope
// into the gateway taxonomy. Best-effort: an undecodable body still yields a
// classified error.
func parseErrorResponse(status int, body []byte) error {
	var envelope struct {
		Error   string            `json:"error"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	}
	_ = json.Unmarshal(body, &envelope)

	message := strings.TrimSpace(envelope.Message)
	if message == "" {
		message = strings.TrimSpace(envelope.Error)
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		if message == "" {
			message = "sign in required"
		}
		return NewUnauthenticatedError(message)
	case http.StatusNotFound:
		return &StoreError{Kind: KindNotFound, Message: message}
	case http.StatusConflict:
		return &StoreError{Kind: KindConflict, Message: message}
	case http.StatusTooManyRequests:
		return &StoreError{Kind: KindRateLimited, Message: message}
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		if message == "" {
			message = "invalid request"
		}
		return NewValidationError(message, envelope.Fields)
	default:
		return &StoreError{Kind: KindTransport, Message: fmt.Sprintf("status %d: %s", status, message)}
	}
}
