package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"marketplace-service/internal/access"
	"marketplace-service/internal/apperr"
	"marketplace-service/internal/idgen"
	"marketplace-service/internal/models"
	"marketplace-service/internal/store"
	"marketplace-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ProductService manages the catalog owned by sellers
type ProductService struct {
	store    store.TxStore
	ids      idgen.Generator
	cache    ProductCache
	events   EventPublisher
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewProductService creates a new product service. cache and events may be nil.
func NewProductService(
	store store.TxStore,
	ids idgen.Generator,
	cache ProductCache,
	events EventPublisher,
	cacheTTL time.Duration,
) *ProductService {
	if ids == nil {
		ids = idgen.New()
	}
	return &ProductService{
		store:    store,
		ids:      ids,
		cache:    cache,
		events:   events,
		cacheTTL: cacheTTL,
		logger:   util.GetLogger(),
	}
}

// ProductFileRequest describes the uploaded file stored with a product
type ProductFileRequest struct {
	Type string `json:"type" binding:"required"`
	Size int64  `json:"size"`
}

// CreateProductRequest represents a request to list a new product
type CreateProductRequest struct {
	CategoryID  uuid.UUID          `json:"category_id"`
	Name        string             `json:"name" binding:"required"`
	UnitPrice   decimal.Decimal    `json:"unit_price"`
	Amount      int                `json:"amount"`
	IsPurchased bool               `json:"is_purchased"`
	File        ProductFileRequest `json:"file"`
}

func (r *CreateProductRequest) validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return apperr.InvalidArgument("name is required")
	}
	if r.CategoryID == uuid.Nil {
		return apperr.InvalidArgument("category_id is required")
	}
	if r.UnitPrice.IsNegative() {
		return apperr.InvalidArgument("unit_price must not be negative")
	}
	if r.Amount < 0 {
		return apperr.InvalidArgument("amount must not be negative")
	}
	if strings.TrimSpace(r.File.Type) == "" {
		return apperr.InvalidArgument("file.type is required")
	}
	if r.File.Size <= 0 {
		return apperr.InvalidArgument("file.size must be positive")
	}
	return nil
}

// UpdateProductRequest is a partial update; nil fields are left unchanged
type UpdateProductRequest struct {
	Name        *string          `json:"name,omitempty"`
	CategoryID  *uuid.UUID       `json:"category_id,omitempty"`
	UnitPrice   *decimal.Decimal `json:"unit_price,omitempty"`
	Amount      *int             `json:"amount,omitempty"`
	IsPurchased *bool            `json:"is_purchased,omitempty"`
}

func (r *UpdateProductRequest) validate() error {
	if r.Name == nil && r.CategoryID == nil && r.UnitPrice == nil && r.Amount == nil && r.IsPurchased == nil {
		return apperr.InvalidArgument("no fields to update")
	}
	if r.Name != nil && strings.TrimSpace(*r.Name) == "" {
		return apperr.InvalidArgument("name must not be empty")
	}
	if r.CategoryID != nil && *r.CategoryID == uuid.Nil {
		return apperr.InvalidArgument("category_id must not be empty")
	}
	if r.UnitPrice != nil && r.UnitPrice.IsNegative() {
		return apperr.InvalidArgument("unit_price must not be negative")
	}
	if r.Amount != nil && *r.Amount < 0 {
		return apperr.InvalidArgument("amount must not be negative")
	}
	return nil
}

// CreateProduct stores a product owned by p together with its file record.
// Both rows commit or neither does.
func (s *ProductService) CreateProduct(ctx context.Context, p models.Principal, req CreateProductRequest) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "ProductService.CreateProduct", attribute.String("user_id", p.ID.String()))
	defer span.End()

	if err := req.validate(); err != nil {
		return nil, err
	}

	productID, err := s.ids.Next()
	if err != nil {
		return nil, mapError(s.logger, "generate product id", err)
	}
	fileID, err := s.ids.Next()
	if err != nil {
		return nil, mapError(s.logger, "generate file id", err)
	}

	product := &models.Product{
		ID:          productID,
		UserID:      p.ID,
		CategoryID:  req.CategoryID,
		Name:        req.Name,
		UnitPrice:   req.UnitPrice,
		Amount:      req.Amount,
		IsPurchased: req.IsPurchased,
	}
	product.SubTotal = product.LineTotal()

	err = s.store.WithTx(ctx, func(tx store.Repository) error {
		if err := tx.CreateProduct(ctx, product); err != nil {
			return err
		}
		return tx.CreateProductFile(ctx, &models.ProductFile{
			ID:          fileID,
			ProductID:   product.ID,
			CategoryID:  product.CategoryID,
			UserID:      product.UserID,
			Type:        req.File.Type,
			Key:         product.ID.String(),
			Size:        req.File.Size,
			IsPurchased: product.IsPurchased,
		})
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, mapError(s.logger, "create product", err, zap.String("product_id", productID.String()))
	}

	util.ProductsCreatedTotal.Inc()
	s.logger.Info("Product created",
		zap.String("product_id", product.ID.String()),
		zap.String("user_id", product.UserID.String()))

	s.publish(ctx, models.EventTypeProductCreated, product)
	return product, nil
}

// FindAllProducts lists products visible to p
func (s *ProductService) FindAllProducts(ctx context.Context, p models.Principal, page, limit int) (*ProductPage, error) {
	pg, err := newPage(page, limit)
	if err != nil {
		return nil, err
	}
	return s.list(ctx, models.ProductFilter{UserID: access.Scope(p)}, pg)
}

// FindAllProductsByCategoryID lists products of a category visible to p
func (s *ProductService) FindAllProductsByCategoryID(ctx context.Context, p models.Principal, categoryID uuid.UUID, page, limit int) (*ProductPage, error) {
	pg, err := newPage(page, limit)
	if err != nil {
		return nil, err
	}
	return s.list(ctx, models.ProductFilter{UserID: access.Scope(p), CategoryID: &categoryID}, pg)
}

// FindAllProductsByUserID lists the products of userID. A USER asking for
// someone else's products is refused.
func (s *ProductService) FindAllProductsByUserID(ctx context.Context, p models.Principal, userID uuid.UUID, page, limit int) (*ProductPage, error) {
	pg, err := newPage(page, limit)
	if err != nil {
		return nil, err
	}
	if err := access.AuthorizeUserListing(p, access.ResourceProduct, userID); err != nil {
		return nil, err
	}
	return s.list(ctx, models.ProductFilter{UserID: &userID}, pg)
}

func (s *ProductService) list(ctx context.Context, filter models.ProductFilter, pg models.Page) (*ProductPage, error) {
	ctx, span := util.StartSpan(ctx, "ProductService.List")
	defer span.End()

	result := &ProductPage{Page: pg.Page, Limit: pg.Limit}
	err := s.store.WithReadTx(ctx, func(tx store.Repository) error {
		total, err := tx.CountProducts(ctx, filter)
		if err != nil {
			return err
		}
		products, err := tx.ListProducts(ctx, filter, pg)
		if err != nil {
			return err
		}
		result.Total = total
		result.Products = products
		return nil
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, mapError(s.logger, "list products", err)
	}

	result.TotalPages = totalPages(result.Total, pg.Limit)
	return result, nil
}

// FindProductByID returns one product, from cache when possible
func (s *ProductService) FindProductByID(ctx context.Context, p models.Principal, id uuid.UUID) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "ProductService.FindProductByID", attribute.String("product_id", id.String()))
	defer span.End()

	if product := s.cached(ctx, id); product != nil {
		if err := access.Authorize(p, access.ResourceProduct, product.UserID, access.ActionRead); err != nil {
			return nil, err
		}
		return product, nil
	}

	product, err := getProduct(ctx, s.store, id)
	if err != nil {
		return nil, mapError(s.logger, "find product", err, zap.String("product_id", id.String()))
	}
	if err := access.Authorize(p, access.ResourceProduct, product.UserID, access.ActionRead); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.FillProduct(ctx, product, s.cacheTTL); err != nil {
			s.logger.Warn("Failed to cache product", zap.String("product_id", id.String()), zap.Error(err))
		}
	}
	return product, nil
}

func (s *ProductService) cached(ctx context.Context, id uuid.UUID) *models.Product {
	if s.cache == nil {
		return nil
	}
	product, err := s.cache.GetProduct(ctx, id)
	if err != nil {
		util.ProductCacheRequestsTotal.WithLabelValues("error").Inc()
		s.logger.Warn("Product cache lookup failed", zap.String("product_id", id.String()), zap.Error(err))
		return nil
	}
	if product == nil {
		util.ProductCacheRequestsTotal.WithLabelValues("miss").Inc()
		return nil
	}
	util.ProductCacheRequestsTotal.WithLabelValues("hit").Inc()
	return product
}

// UpdateProductByID applies patch to a product and recomputes its subtotal
func (s *ProductService) UpdateProductByID(ctx context.Context, p models.Principal, id uuid.UUID, patch UpdateProductRequest) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "ProductService.UpdateProductByID", attribute.String("product_id", id.String()))
	defer span.End()

	if err := patch.validate(); err != nil {
		return nil, err
	}

	var product *models.Product
	err := s.store.WithTx(ctx, func(tx store.Repository) error {
		current, err := getProduct(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := access.Authorize(p, access.ResourceProduct, current.UserID, access.ActionUpdate); err != nil {
			return err
		}

		if patch.Name != nil {
			current.Name = *patch.Name
		}
		if patch.CategoryID != nil {
			current.CategoryID = *patch.CategoryID
		}
		if patch.UnitPrice != nil {
			current.UnitPrice = *patch.UnitPrice
		}
		if patch.Amount != nil {
			current.Amount = *patch.Amount
		}
		if patch.IsPurchased != nil {
			current.IsPurchased = *patch.IsPurchased
		}
		current.SubTotal = current.LineTotal()

		if err := tx.UpdateProduct(ctx, current); err != nil {
			return err
		}
		product = current
		return nil
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, mapError(s.logger, "update product", err, zap.String("product_id", id.String()))
	}

	s.refresh(ctx, product)
	s.publish(ctx, models.EventTypeProductUpdated, product)
	return product, nil
}

// DeleteProductByID removes a product and its file record. Products still
// referenced by order lines cannot be deleted.
func (s *ProductService) DeleteProductByID(ctx context.Context, p models.Principal, id uuid.UUID) error {
	ctx, span := util.StartSpan(ctx, "ProductService.DeleteProductByID", attribute.String("product_id", id.String()))
	defer span.End()

	var product *models.Product
	err := s.store.WithTx(ctx, func(tx store.Repository) error {
		current, err := getProduct(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := access.Authorize(p, access.ResourceProduct, current.UserID, access.ActionDelete); err != nil {
			return err
		}
		product = current
		return tx.DeleteProduct(ctx, id)
	})
	if errors.Is(err, store.ErrConflict) {
		s.logger.Warn("Product still referenced by orders", zap.String("product_id", id.String()), zap.Error(err))
		return apperr.Conflict("product is referenced by existing orders", err)
	}
	if err != nil {
		util.RecordError(span, err)
		return mapError(s.logger, "delete product", err, zap.String("product_id", id.String()))
	}

	util.ProductsDeletedTotal.Inc()
	s.logger.Info("Product deleted", zap.String("product_id", id.String()))

	s.markDeleted(ctx, id)
	s.publish(ctx, models.EventTypeProductDeleted, product)
	return nil
}

// refresh writes the committed row over any cached version. If that fails
// the entry is dropped so readers go back to the database.
func (s *ProductService) refresh(ctx context.Context, product *models.Product) {
	if s.cache == nil {
		return
	}
	err := s.cache.SetProduct(ctx, product, s.cacheTTL)
	if err == nil {
		return
	}
	s.logger.Warn("Failed to refresh cached product", zap.String("product_id", product.ID.String()), zap.Error(err))
	if err := s.cache.DeleteProduct(ctx, product.ID); err != nil {
		s.logger.Warn("Failed to evict product from cache", zap.String("product_id", product.ID.String()), zap.Error(err))
	}
}

func (s *ProductService) markDeleted(ctx context.Context, id uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.MarkProductDeleted(ctx, id, s.cacheTTL); err != nil {
		s.logger.Warn("Failed to mark product deleted in cache", zap.String("product_id", id.String()), zap.Error(err))
	}
}

func (s *ProductService) publish(ctx context.Context, eventType string, product *models.Product) {
	if s.events == nil {
		return
	}
	event := &models.ProductEvent{
		BaseEvent:  models.NewBaseEvent(eventType),
		ProductID:  product.ID,
		UserID:     product.UserID,
		CategoryID: product.CategoryID,
		UnitPrice:  product.UnitPrice,
		Amount:     product.Amount,
	}
	if err := s.events.PublishProductEvent(ctx, event); err != nil {
		s.logger.Error("Failed to publish product event", zap.String("type", eventType), zap.Error(err))
	}
}

func getProduct(ctx context.Context, repo store.Repository, id uuid.UUID) (*models.Product, error) {
	product, err := repo.GetProductByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("product not found: %s", id)
	}
	return product, err
}
