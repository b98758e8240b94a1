package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Sharper-Labs-IT/tvk-store-engine/internal/domain"
)

// The backend has shipped several envelope shapes for the cart payload over
// time: a bare item array, an "items" field, a legacy "cart_items" field,
// and a "data"-wrapped variant of either. Normalisation happens here, once,
// producing the canonical LineItem.

type cartEnvelope struct {
	Items     []wireLineItem  `json:"items"`
	CartItems []wireLineItem  `json:"cart_items"`
	Data      json.RawMessage `json:"data"`
}

type wireLineItem struct {
	ID             string      `json:"id"`
	LineID         string      `json:"line_id"`
	ProductID      string      `json:"product_id"`
	Name           string      `json:"name"`
	Price          json.Number `json:"price"`
	UnitPrice      json.Number `json:"unit_price"`
	Quantity       int         `json:"quantity"`
	Stock          *int        `json:"stock"`
	AvailableStock *int        `json:"available_stock"`
	VariantID      string      `json:"variant_id"`
	VariantLabel   string      `json:"variant_label"`
	ItemType       string      `json:"item_type"`
}

type wireProduct struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Price    json.Number `json:"price"`
	Stock    int         `json:"stock"`
	ImageURL string      `json:"image_url"`
	ItemType string      `json:"item_type"`
}

type wireWishlistEntry struct {
	ID        string       `json:"id"`
	ProductID string       `json:"product_id"`
	Product   *wireProduct `json:"product"`
}

// decodeCartPayload unwraps whichever envelope the backend used and returns
// canonical line items in server order.
func decodeCartPayload(body []byte) ([]domain.LineItem, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "null" {
		return []domain.LineItem{}, nil
	}

	// Bare array shape.
	if strings.HasPrefix(trimmed, "[") {
		var wire []wireLineItem
		if err := unmarshalNumbers(body, &wire); err != nil {
			return nil, fmt.Errorf("decoding cart payload: %w", err)
		}
		return normalizeLineItems(wire)
	}

	var env cartEnvelope
	if err := unmarshalNumbers(body, &env); err != nil {
		return nil, fmt.Errorf("decoding cart payload: %w", err)
	}

	switch {
	case env.Items != nil:
		return normalizeLineItems(env.Items)
	case env.CartItems != nil:
		return normalizeLineItems(env.CartItems)
	case len(env.Data) > 0:
		return decodeCartPayload(env.Data)
	}
	return []domain.LineItem{}, nil
}

func normalizeLineItems(wire []wireLineItem) ([]domain.LineItem, error) {
	items := make([]domain.LineItem, 0, len(wire))
	for _, w := range wire {
		item, err := normalizeLineItem(w)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func normalizeLineItem(w wireLineItem) (domain.LineItem, error) {
	id := strings.TrimSpace(firstNonEmpty(w.ID, w.LineID))
	if id == "" {
		return domain.LineItem{}, fmt.Errorf("cart payload: line item missing id")
	}

	price, err := parseAmount(firstNumber(w.UnitPrice, w.Price))
	if err != nil {
		return domain.LineItem{}, fmt.Errorf("cart payload: line %s: %w", id, err)
	}

	stock := 0
	switch {
	case w.Stock != nil:
		stock = *w.Stock
	case w.AvailableStock != nil:
		stock = *w.AvailableStock
	}
	if stock < 0 {
		stock = 0
	}

	return domain.LineItem{
		ID:           id,
		ProductID:    strings.TrimSpace(w.ProductID),
		Name:         strings.TrimSpace(w.Name),
		UnitPrice:    price,
		Quantity:     w.Quantity,
		Stock:        stock,
		VariantID:    strings.TrimSpace(w.VariantID),
		VariantLabel: strings.TrimSpace(w.VariantLabel),
		Class:        normalizeItemClass(w.ItemType),
	}, nil
}

func normalizeProduct(w wireProduct) (domain.Product, error) {
	price, err := parseAmount(w.Price)
	if err != nil {
		return domain.Product{}, fmt.Errorf("product payload: %w", err)
	}
	stock := w.Stock
	if stock < 0 {
		stock = 0
	}
	return domain.Product{
		ID:       strings.TrimSpace(w.ID),
		Name:     strings.TrimSpace(w.Name),
		Price:    price,
		Stock:    stock,
		ImageURL: strings.TrimSpace(w.ImageURL),
		Class:    normalizeItemClass(w.ItemType),
	}, nil
}

func normalizeWishlistEntry(w wireWishlistEntry) (domain.WishlistEntry, error) {
	id := strings.TrimSpace(w.ID)
	if id == "" {
		return domain.WishlistEntry{}, fmt.Errorf("wishlist payload: entry missing id")
	}
	entry := domain.WishlistEntry{
		ID:        id,
		ProductID: strings.TrimSpace(w.ProductID),
	}
	if w.Product != nil {
		product, err := normalizeProduct(*w.Product)
		if err != nil {
			return domain.WishlistEntry{}, err
		}
		entry.Product = product
		if entry.ProductID == "" {
			entry.ProductID = product.ID
		}
	}
	if entry.ProductID == "" {
		return domain.WishlistEntry{}, fmt.Errorf("wishlist payload: entry %s missing product id", id)
	}
	return entry, nil
}

func normalizeItemClass(raw string) domain.ItemClass {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "coin", "virtual", "currency":
		return domain.ItemClassCoin
	default:
		return domain.ItemClassMerch
	}
}

// parseAmount converts a JSON number or quoted decimal into a Decimal
// without a float round trip.
func parseAmount(n json.Number) (decimal.Decimal, error) {
	raw := strings.TrimSpace(n.String())
	if raw == "" {
		return decimal.Zero, nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", raw)
	}
	return value, nil
}

func unmarshalNumbers(body []byte, dst any) error {
	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.UseNumber()
	return dec.Decode(dst)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstNumber(values ...json.Number) json.Number {
	for _, v := range values {
		if strings.TrimSpace(v.String()) != "" {
			return v
		}
	}
	return ""
}
