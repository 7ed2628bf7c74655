package pricing

import (
	"context"
	"fmt"

	"marketplace-service/internal/apperr"
	"marketplace-service/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProductReader resolves catalog products. Pass a transaction-scoped reader so
// prices come from the same snapshot the order is written in.
type ProductReader interface {
	GetProductsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error)
}

// Compute sums unit price times amount over products, in the order given.
func Compute(products []*models.Product) decimal.Decimal {
	subtotal := decimal.Zero
	for _, p := range products {
		subtotal = subtotal.Add(p.LineTotal())
	}
	return subtotal
}

// Subtotal resolves every item against current catalog state with one batched
// read and returns the authoritative subtotal together with the resolved
// products, one per item. A product that cannot be resolved fails the whole
// computation.
func Subtotal(ctx context.Context, reader ProductReader, items []models.OrderItem) (decimal.Decimal, []*models.Product, error) {
	if len(items) == 0 {
		return decimal.Zero, nil, apperr.InvalidArgument("at least one item is required")
	}

	ids := make([]uuid.UUID, 0, len(items))
	seen := make(map[uuid.UUID]struct{}, len(items))
	for _, item := range items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}

	found, err := reader.GetProductsByIDs(ctx, ids)
	if err != nil {
		return decimal.Zero, nil, fmt.Errorf("failed to load products: %w", err)
	}

	byID := make(map[uuid.UUID]*models.Product, len(found))
	for i := range found {
		byID[found[i].ID] = &found[i]
	}

	resolved := make([]*models.Product, 0, len(items))
	for _, item := range items {
		product, ok := byID[item.ProductID]
		if !ok {
			return decimal.Zero, nil, apperr.NotFound("product not found: %s", item.ProductID)
		}
		resolved = append(resolved, product)
	}

	return Compute(resolved), resolved, nil
}
