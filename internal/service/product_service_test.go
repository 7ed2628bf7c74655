package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketplace-service/internal/apperr"
	"marketplace-service/internal/idgen"
	"marketplace-service/internal/models"
	"marketplace-service/internal/redisclient"
	"marketplace-service/internal/store/memstore"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type productFixture struct {
	store  *memstore.Store
	svc    *ProductService
	cache  *redisclient.Client
	redis  *miniredis.Miniredis
	events *recordingPublisher
	seller models.Principal
	other  models.Principal
	admin  models.Principal
}

func newProductFixture(t *testing.T) *productFixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cache := redisclient.NewFromRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = cache.Close() })

	f := &productFixture{
		store:  memstore.New(),
		cache:  cache,
		redis:  mr,
		events: &recordingPublisher{},
		seller: models.Principal{ID: uuid.New(), Role: models.RoleUser},
		other:  models.Principal{ID: uuid.New(), Role: models.RoleUser},
		admin:  models.Principal{ID: uuid.New(), Role: models.RoleAdmin},
	}
	f.svc = NewProductService(f.store, idgen.New(), cache, f.events, time.Minute)
	return f
}

func productRequest(category uuid.UUID) CreateProductRequest {
	return CreateProductRequest{
		CategoryID: category,
		Name:       "Mechanical keyboard",
		UnitPrice:  decimal.RequireFromString("49.50"),
		Amount:     2,
		File:       ProductFileRequest{Type: "image/png", Size: 2048},
	}
}

func (f *productFixture) create(t *testing.T, p models.Principal, category uuid.UUID) *models.Product {
	t.Helper()
	product, err := f.svc.CreateProduct(context.Background(), p, productRequest(category))
	require.NoError(t, err)
	return product
}

func TestCreateProduct(t *testing.T) {
	f := newProductFixture(t)

	product := f.create(t, f.seller, uuid.New())
	assert.Equal(t, f.seller.ID, product.UserID)
	assert.Equal(t, "99.00", product.SubTotal.StringFixed(2))

	stored, err := f.store.GetProductByID(context.Background(), product.ID)
	require.NoError(t, err)
	assert.True(t, product.SubTotal.Equal(stored.SubTotal))

	require.Len(t, f.events.product, 1)
	assert.Equal(t, models.EventTypeProductCreated, f.events.product[0].EventType)
}

func TestCreateProductValidation(t *testing.T) {
	f := newProductFixture(t)

	cases := map[string]func(r *CreateProductRequest){
		"blank name":     func(r *CreateProductRequest) { r.Name = "" },
		"no category":    func(r *CreateProductRequest) { r.CategoryID = uuid.Nil },
		"negative price": func(r *CreateProductRequest) { r.UnitPrice = decimal.NewFromInt(-1) },
		"negative qty":   func(r *CreateProductRequest) { r.Amount = -1 },
		"no file type":   func(r *CreateProductRequest) { r.File.Type = "" },
		"empty file":     func(r *CreateProductRequest) { r.File.Size = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := productRequest(uuid.New())
			mutate(&req)
			_, err := f.svc.CreateProduct(context.Background(), f.seller, req)
			assertKind(t, err, apperr.KindInvalidArgument)
		})
	}

	total, err := f.store.CountProducts(context.Background(), models.ProductFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestCreateProductFileFailureRollsBackProduct(t *testing.T) {
	f := newProductFixture(t)
	fixed := uuid.New()
	// the first product's file takes the fixed id; the second product's file
	// reuses it and must fail after its product row was written
	f.svc.ids = idgen.Func(func() (uuid.UUID, error) { return fixed, nil })
	f.create(t, f.seller, uuid.New())

	calls := 0
	f.svc.ids = idgen.Func(func() (uuid.UUID, error) {
		calls++
		if calls == 2 {
			return fixed, nil
		}
		return uuid.New(), nil
	})

	_, err := f.svc.CreateProduct(context.Background(), f.seller, productRequest(uuid.New()))
	assertKind(t, err, apperr.KindConflict)

	total, err := f.store.CountProducts(context.Background(), models.ProductFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total, "product insert must roll back with the file insert")
}

func TestFindProductByIDUsesCacheAndPolicy(t *testing.T) {
	f := newProductFixture(t)
	ctx := context.Background()
	product := f.create(t, f.seller, uuid.New())

	got, err := f.svc.FindProductByID(ctx, f.seller, product.ID)
	require.NoError(t, err)
	assert.Equal(t, product.ID, got.ID)
	assert.True(t, f.redis.Exists("product:"+product.ID.String()))

	// served from cache, still denied to a foreign user
	_, err = f.svc.FindProductByID(ctx, f.other, product.ID)
	assertKind(t, err, apperr.KindForbidden)

	viaAdmin, err := f.svc.FindProductByID(ctx, f.admin, product.ID)
	require.NoError(t, err)
	assert.Equal(t, product.Name, viaAdmin.Name)

	_, err = f.svc.FindProductByID(ctx, f.admin, uuid.New())
	assertKind(t, err, apperr.KindNotFound)
}

func TestFindProductByIDWithoutCache(t *testing.T) {
	f := newProductFixture(t)
	f.svc.cache = nil
	product := f.create(t, f.seller, uuid.New())

	got, err := f.svc.FindProductByID(context.Background(), f.seller, product.ID)
	require.NoError(t, err)
	assert.Equal(t, product.ID, got.ID)
}

func TestUpdateProductRecomputesSubtotalAndRefreshesCache(t *testing.T) {
	f := newProductFixture(t)
	ctx := context.Background()
	product := f.create(t, f.seller, uuid.New())

	_, err := f.svc.FindProductByID(ctx, f.seller, product.ID)
	require.NoError(t, err)
	require.True(t, f.redis.Exists("product:"+product.ID.String()))

	price := decimal.NewFromInt(10)
	amount := 7
	updated, err := f.svc.UpdateProductByID(ctx, f.seller, product.ID, UpdateProductRequest{UnitPrice: &price, Amount: &amount})
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(70).Equal(updated.SubTotal))
	assert.Equal(t, f.seller.ID, updated.UserID)
	cached, err := f.cache.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	require.NotNil(t, cached, "update writes the new row through")
	assert.True(t, decimal.NewFromInt(70).Equal(cached.SubTotal))

	fresh, err := f.svc.FindProductByID(ctx, f.seller, product.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(70).Equal(fresh.SubTotal))

	_, err = f.svc.UpdateProductByID(ctx, f.other, product.ID, UpdateProductRequest{Amount: &amount})
	assertKind(t, err, apperr.KindForbidden)

	_, err = f.svc.UpdateProductByID(ctx, f.seller, product.ID, UpdateProductRequest{})
	assertKind(t, err, apperr.KindInvalidArgument)

	negative := -3
	_, err = f.svc.UpdateProductByID(ctx, f.seller, product.ID, UpdateProductRequest{Amount: &negative})
	assertKind(t, err, apperr.KindInvalidArgument)

	_, err = f.svc.UpdateProductByID(ctx, f.seller, uuid.New(), UpdateProductRequest{Amount: &amount})
	assertKind(t, err, apperr.KindNotFound)
}

func TestDeleteProduct(t *testing.T) {
	f := newProductFixture(t)
	ctx := context.Background()
	product := f.create(t, f.seller, uuid.New())

	err := f.svc.DeleteProductByID(ctx, f.other, product.ID)
	assertKind(t, err, apperr.KindForbidden)

	require.NoError(t, f.svc.DeleteProductByID(ctx, f.seller, product.ID))
	_, err = f.svc.FindProductByID(ctx, f.seller, product.ID)
	assertKind(t, err, apperr.KindNotFound)

	err = f.svc.DeleteProductByID(ctx, f.seller, product.ID)
	assertKind(t, err, apperr.KindNotFound)
}

func TestDeleteProductReferencedByOrderConflicts(t *testing.T) {
	f := newProductFixture(t)
	ctx := context.Background()
	product := f.create(t, f.seller, uuid.New())

	orders := NewOrderService(f.store, idgen.New(), nil, nil, time.Minute)
	_, err := orders.CreateOrder(ctx, f.other, CreateOrderRequest{
		Items:          []models.OrderItem{{ProductID: product.ID}},
		ShippingFee:    decimal.NewFromInt(5),
		ShippingMethod: "courier",
		PaymentID:      "pay",
	})
	require.NoError(t, err)

	err = f.svc.DeleteProductByID(ctx, f.seller, product.ID)
	assertKind(t, err, apperr.KindConflict)

	_, err = f.store.GetProductByID(ctx, product.ID)
	assert.NoError(t, err)
}

func TestProductListings(t *testing.T) {
	f := newProductFixture(t)
	ctx := context.Background()
	shoes := uuid.New()

	f.create(t, f.seller, shoes)
	f.create(t, f.seller, uuid.New())
	f.create(t, f.other, shoes)

	mine, err := f.svc.FindAllProducts(ctx, f.seller, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), mine.Total)

	all, err := f.svc.FindAllProducts(ctx, f.admin, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), all.Total)
	assert.Equal(t, 2, all.TotalPages)
	assert.Len(t, all.Products, 2)

	byCategory, err := f.svc.FindAllProductsByCategoryID(ctx, f.seller, shoes, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), byCategory.Total, "USER sees only own products in a category")

	byCategoryAdmin, err := f.svc.FindAllProductsByCategoryID(ctx, f.admin, shoes, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), byCategoryAdmin.Total)

	_, err = f.svc.FindAllProductsByUserID(ctx, f.seller, f.other.ID, 1, 10)
	assertKind(t, err, apperr.KindForbidden)

	others, err := f.svc.FindAllProductsByUserID(ctx, f.admin, f.other.ID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), others.Total)

	_, err = f.svc.FindAllProducts(ctx, f.admin, 1, -1)
	assertKind(t, err, apperr.KindInvalidArgument)
}

func TestProductCacheFailureFallsBackToStore(t *testing.T) {
	f := newProductFixture(t)
	product := f.create(t, f.seller, uuid.New())
	f.redis.SetError("cache unavailable")

	got, err := f.svc.FindProductByID(context.Background(), f.seller, product.ID)
	require.NoError(t, err)
	assert.Equal(t, product.ID, got.ID)
}

func TestProductEventPublishFailureIsLogged(t *testing.T) {
	f := newProductFixture(t)
	f.events.err = errors.New("broker down")

	product, err := f.svc.CreateProduct(context.Background(), f.seller, productRequest(uuid.New()))
	require.NoError(t, err)
	assert.NotNil(t, product)
}

func TestLateCacheFillCannotOverwriteUpdate(t *testing.T) {
	f := newProductFixture(t)
	ctx := context.Background()
	product := f.create(t, f.seller, uuid.New())
	stale := *product

	amount := 10
	_, err := f.svc.UpdateProductByID(ctx, f.seller, product.ID, UpdateProductRequest{Amount: &amount})
	require.NoError(t, err)

	// a reader that loaded the row before the update fills the cache afterwards
	require.NoError(t, f.cache.FillProduct(ctx, &stale, time.Minute))

	got, err := f.svc.FindProductByID(ctx, f.seller, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.Amount)
}

func TestLateCacheFillCannotResurrectDeletedProduct(t *testing.T) {
	f := newProductFixture(t)
	ctx := context.Background()
	product := f.create(t, f.seller, uuid.New())
	stale := *product

	require.NoError(t, f.svc.DeleteProductByID(ctx, f.seller, product.ID))
	require.NoError(t, f.cache.FillProduct(ctx, &stale, time.Minute))

	_, err := f.svc.FindProductByID(ctx, f.seller, product.ID)
	assertKind(t, err, apperr.KindNotFound)
}
