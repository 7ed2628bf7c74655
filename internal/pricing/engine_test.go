package pricing

import (
	"context"
	"errors"
	"testing"

	"marketplace-service/internal/apperr"
	"marketplace-service/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubReader struct {
	products map[uuid.UUID]models.Product
	calls    int
	err      error
}

func (s *stubReader) GetProductsByIDs(_ context.Context, ids []uuid.UUID) ([]models.Product, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := []models.Product{}
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func product(price int64, amount int) models.Product {
	return models.Product{ID: uuid.New(), UnitPrice: decimal.NewFromInt(price), Amount: amount}
}

func TestSubtotal(t *testing.T) {
	a, b := product(50, 2), product(25, 4)
	reader := &stubReader{products: map[uuid.UUID]models.Product{a.ID: a, b.ID: b}}

	total, resolved, err := Subtotal(context.Background(), reader, []models.OrderItem{{ProductID: a.ID}, {ProductID: b.ID}})
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(200).Equal(total), "got %s", total)
	require.Len(t, resolved, 2)
	assert.Equal(t, a.ID, resolved[0].ID)
	assert.Equal(t, b.ID, resolved[1].ID)
	assert.Equal(t, 1, reader.calls, "products must be read in one batch")
}

func TestSubtotalCountsDuplicatesPerOccurrence(t *testing.T) {
	a := product(10, 3)
	reader := &stubReader{products: map[uuid.UUID]models.Product{a.ID: a}}

	total, resolved, err := Subtotal(context.Background(), reader, []models.OrderItem{{ProductID: a.ID}, {ProductID: a.ID}})
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(60).Equal(total))
	assert.Len(t, resolved, 2)
}

func TestSubtotalMissingProduct(t *testing.T) {
	a := product(10, 1)
	missing := uuid.New()
	reader := &stubReader{products: map[uuid.UUID]models.Product{a.ID: a}}

	total, resolved, err := Subtotal(context.Background(), reader, []models.OrderItem{{ProductID: a.ID}, {ProductID: missing}})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	assert.Contains(t, err.Error(), missing.String())
	assert.True(t, total.IsZero())
	assert.Nil(t, resolved)
}

func TestSubtotalEmpty(t *testing.T) {
	_, _, err := Subtotal(context.Background(), &stubReader{}, nil)
	assert.True(t, apperr.Is(err, apperr.KindInvalidArgument))
}

func TestSubtotalReaderError(t *testing.T) {
	boom := errors.New("connection reset")
	_, _, err := Subtotal(context.Background(), &stubReader{err: boom}, []models.OrderItem{{ProductID: uuid.New()}})
	assert.ErrorIs(t, err, boom)
}

func TestComputeKeepsDecimalPrecision(t *testing.T) {
	p1 := &models.Product{UnitPrice: decimal.RequireFromString("0.10"), Amount: 3}
	p2 := &models.Product{UnitPrice: decimal.RequireFromString("19.99"), Amount: 1}

	assert.Equal(t, "20.29", Compute([]*models.Product{p1, p2}).StringFixed(2))
	assert.True(t, Compute(nil).IsZero())
}
