package pricing

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
)

// Shape tells which input layout an Item arrived in.
type Shape int

const (
	// ShapeDirect items carry a flat name, price, quantity and offer.
	ShapeDirect Shape = iota + 1
	// ShapeCart items embed a product snapshot next to a quantity.
	ShapeCart
)

func (s Shape) String() string {
	switch s {
	case ShapeDirect:
		return "direct"
	case ShapeCart:
		return "cart"
	default:
		return "unknown"
	}
}

// ProductSnapshot is the product copy a cart-shaped item embeds.
type ProductSnapshot struct {
	ID    string
	Name  string
	Price float64
	Offer float64
}

// Item is one raw order item in either accepted shape. Exactly one of the
// shape-specific field groups is meaningful, selected by Shape.
type Item struct {
	Shape Shape

	// ShapeDirect
	Name      string
	Price     float64
	Offer     float64
	ProductID string

	// ShapeCart
	Product ProductSnapshot

	// Quantity is zero when the supplied value was missing or not a
	// positive integer.
	Quantity int
}

// DirectItem builds a direct-shaped item.
func DirectItem(name string, price float64, quantity int, offer float64) Item {
	return Item{Shape: ShapeDirect, Name: name, Price: price, Quantity: quantity, Offer: offer}
}

// CartItem builds a cart-shaped item.
func CartItem(product ProductSnapshot, quantity int) Item {
	return Item{Shape: ShapeCart, Product: product, Quantity: quantity}
}

var errItemNotObject = errors.New("order item must be an object")

// UnmarshalJSON detects the item shape: an object with a "product" object is
// cart-shaped, anything else is direct-shaped. Prices and offers that are
// missing or not numeric decode as 0.
func (it *Item) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return errItemNotObject
	}

	it.Quantity = coerceQuantity(fields["quantity"])

	if raw, ok := fields["product"]; ok && isObject(raw) {
		var product map[string]json.RawMessage
		if err := json.Unmarshal(raw, &product); err != nil {
			return errItemNotObject
		}
		it.Shape = ShapeCart
		it.Product = ProductSnapshot{
			ID:    firstString(product["_id"], product["id"]),
			Name:  coerceString(product["name"]),
			Price: coerceNumber(product["price"]),
			Offer: coerceNumber(firstPresent(product["offer"], product["discount"])),
		}
		return nil
	}

	it.Shape = ShapeDirect
	it.Name = coerceString(fields["name"])
	it.Price = coerceNumber(fields["price"])
	it.Offer = coerceNumber(firstPresent(fields["offer"], fields["discount"]))
	it.ProductID = firstString(fields["productId"], fields["_id"])
	return nil
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func firstPresent(values ...json.RawMessage) json.RawMessage {
	for _, v := range values {
		if len(bytes.TrimSpace(v)) > 0 && string(bytes.TrimSpace(v)) != "null" {
			return v
		}
	}
	return nil
}

func firstString(values ...json.RawMessage) string {
	for _, v := range values {
		if s := coerceString(v); s != "" {
			return s
		}
	}
	return ""
}

func coerceString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// coerceNumber accepts JSON numbers and numeric strings; everything else,
// including NaN and infinities, is 0.
func coerceNumber(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return finiteOrZero(n)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return finiteOrZero(parsed)
		}
	}
	return 0
}

func coerceQuantity(raw json.RawMessage) int {
	n := coerceNumber(raw)
	if n < 1 || n != math.Trunc(n) || n > math.MaxInt32 {
		return 0
	}
	return int(n)
}

func finiteOrZero(n float64) float64 {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0
	}
	return n
}
