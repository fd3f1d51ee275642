package checkout

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/safar/storefront/internal/apperr"
	"github.com/safar/storefront/internal/models"
	"github.com/shopspring/decimal"
)

// maxMetadataValue is Stripe's limit on a single metadata value.
const maxMetadataValue = 500

var hundred = decimal.NewFromInt(100)

// UnitAmountMinor converts a major-unit price to minor units, rounding half
// away from zero.
func UnitAmountMinor(price decimal.Decimal) int64 {
	return price.Mul(hundred).Round(0).IntPart()
}

// TotalMinor sums round(price*100)*quantity over the cart. Rounding happens
// per item, before multiplying by quantity.
func TotalMinor(products []models.CartItem) int64 {
	var total int64
	for _, p := range products {
		total += UnitAmountMinor(p.Price) * int64(p.Quantity)
	}
	return total
}

func validateCart(op string, products []models.CartItem) error {
	if len(products) == 0 {
		return apperr.Validation(op, "Invalid or empty products array")
	}
	for i, p := range products {
		switch {
		case strings.TrimSpace(p.Name) == "":
			return apperr.Validation(op, fmt.Sprintf("Invalid product data: item %d has no name", i))
		case !p.Price.IsPositive():
			return apperr.Validation(op, fmt.Sprintf("Invalid product data: item %d has no valid price", i))
		case p.Quantity < 1:
			return apperr.Validation(op, fmt.Sprintf("Invalid product data: item %d has no valid quantity", i))
		case UnitAmountMinor(p.Price) < 1:
			return apperr.Validation(op, fmt.Sprintf("Invalid product data: item %d is priced below the smallest currency unit", i))
		}
	}
	return nil
}

func encodeSnapshot(op string, products []models.CartItem) (string, error) {
	snapshot := make([]models.SnapshotItem, 0, len(products))
	for _, p := range products {
		snapshot = append(snapshot, models.SnapshotItem{ID: p.ID, Quantity: p.Quantity, Price: p.Price})
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return "", apperr.Internal(op, "Internal server error", fmt.Errorf("encode cart snapshot: %w", err))
	}
	if len(data) > maxMetadataValue {
		return "", apperr.Validation(op, "Too many distinct products in cart")
	}
	return string(data), nil
}

func decodeSnapshot(raw string) ([]models.SnapshotItem, error) {
	if raw == "" {
		return nil, fmt.Errorf("session metadata has no cart snapshot")
	}
	var items []models.SnapshotItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("decode cart snapshot: %w", err)
	}
	return items, nil
}
