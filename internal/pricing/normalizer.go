// Package pricing turns raw order items into canonical line items and a
// total. Prices are derived here and nowhere else.
package pricing

import (
	"math"

	"storefront/internal/apperr"
	"storefront/internal/models"
)

var (
	ErrEmptyItems     = apperr.Validation("items_required", "items must be a non-empty array")
	ErrInvalidPricing = apperr.Validation("invalid_pricing", "invalid order total")
)

// Result is the canonical form of an order's items.
type Result struct {
	Items []models.LineItem
	Total float64
}

// EffectivePrice is the post-discount unit price. Only discounted prices are
// rounded; an undiscounted price is returned as supplied.
func EffectivePrice(unitPrice, discountPercent float64) float64 {
	if discountPercent > 0 {
		return round(unitPrice * (1 - discountPercent/100))
	}
	return unitPrice
}

// LineEffectivePrice is EffectivePrice applied to a stored line item.
func LineEffectivePrice(item models.LineItem) float64 {
	return EffectivePrice(item.Price, item.DiscountPercent)
}

// Normalize maps every item onto a LineItem and sums the total, rounding
// once at the end.
func Normalize(items []Item) (Result, error) {
	if len(items) == 0 {
		return Result{}, ErrEmptyItems
	}

	lines := make([]models.LineItem, 0, len(items))
	var sum float64
	for i, item := range items {
		line := toLineItem(item)
		if line.Quantity < 1 {
			return Result{}, ErrInvalidPricing.WithMessage("item %d: quantity must be a positive integer", i)
		}

		effective := LineEffectivePrice(line)
		if math.IsNaN(effective) || effective < 0 {
			return Result{}, ErrInvalidPricing.WithMessage("item %d: price must not be negative", i)
		}

		sum += effective * float64(line.Quantity)
		lines = append(lines, line)
	}

	total := round(sum)
	if math.IsNaN(total) || math.IsInf(total, 0) || total < 0 {
		return Result{}, ErrInvalidPricing
	}

	return Result{Items: lines, Total: total}, nil
}

// Total recomputes the rounded sum of already-normalized lines.
func Total(lines []models.LineItem) float64 {
	var sum float64
	for _, line := range lines {
		sum += LineEffectivePrice(line) * float64(line.Quantity)
	}
	return round(sum)
}

func toLineItem(item Item) models.LineItem {
	if item.Shape == ShapeCart {
		return models.LineItem{
			Name:            item.Product.Name,
			Price:           item.Product.Price,
			Quantity:        item.Quantity,
			ProductID:       item.Product.ID,
			DiscountPercent: item.Product.Offer,
		}
	}
	return models.LineItem{
		Name:            item.Name,
		Price:           item.Price,
		Quantity:        item.Quantity,
		ProductID:       item.ProductID,
		DiscountPercent: item.Offer,
	}
}

// round matches half-up rounding for the non-negative amounts it is used on.
func round(x float64) float64 {
	return math.Floor(x + 0.5)
}
