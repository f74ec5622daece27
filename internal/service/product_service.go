package service

import (
	"context"
	"fmt"

	"jewelry-store/internal/models"
	"jewelry-store/internal/store"
	"jewelry-store/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ProductService is the product ledger: catalog records, prices and stock
type ProductService struct {
	store  *store.Store
	clock  util.Clock
	logger *zap.Logger
}

// NewProductService creates a new product service
func NewProductService(store *store.Store, clock util.Clock) *ProductService {
	if clock == nil {
		clock = util.SystemClock{}
	}
	return &ProductService{
		store:  store,
		clock:  clock,
		logger: util.GetLogger(),
	}
}

// validateProduct enforces price > 0, stock >= 0 and discount < price
func validateProduct(p *models.Product) error {
	if p.Name == "" {
		return models.NewInvalidOperation("product name is required")
	}
	if !p.Price.IsPositive() {
		return models.NewInvalidOperation("price must be greater than 0")
	}
	if p.Stock < 0 {
		return models.NewInvalidOperation("stock cannot be negative")
	}
	if p.DiscountPrice != nil && p.DiscountPrice.GreaterThanOrEqual(p.Price) {
		return models.NewInvalidOperation("discount price must be lower than price")
	}
	return nil
}

// CreateProduct validates and persists a new product
func (s *ProductService) CreateProduct(ctx context.Context, p *models.Product) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "ProductService.CreateProduct")
	defer span.End()

	if err := validateProduct(p); err != nil {
		return nil, err
	}

	if p.SKU != nil {
		exists, err := s.store.SKUExists(ctx, *p.SKU)
		if err != nil {
			return nil, fmt.Errorf("failed to check sku: %w", err)
		}
		if exists {
			return nil, &models.DuplicateResourceError{Resource: "product", Field: "sku", Value: *p.SKU}
		}
	}

	now := s.clock.Now()
	p.CreatedAt = now
	p.UpdatedAt = now

	if err := s.store.CreateProduct(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Info("Product created",
		zap.Int64("product_id", p.ID),
		zap.String("sku", p.SKUValue()),
		zap.Int("stock", p.Stock))
	return p, nil
}

// UpdateProduct replaces every editable field of an existing product
func (s *ProductService) UpdateProduct(ctx context.Context, id int64, details *models.Product) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "ProductService.UpdateProduct")
	defer span.End()

	if err := validateProduct(details); err != nil {
		return nil, err
	}

	var updated *models.Product
	err := s.store.RunInTx(ctx, func(tx *store.Store) error {
		current, err := tx.GetProductByID(ctx, id)
		if err != nil {
			return err
		}

		if details.SKU != nil && *details.SKU != current.SKUValue() {
			exists, err := tx.SKUExists(ctx, *details.SKU)
			if err != nil {
				return fmt.Errorf("failed to check sku: %w", err)
			}
			if exists {
				return &models.DuplicateResourceError{Resource: "product", Field: "sku", Value: *details.SKU}
			}
		}

		details.ID = current.ID
		details.CreatedAt = current.CreatedAt
		details.UpdatedAt = s.clock.Now()
		if err := tx.UpdateProduct(ctx, details); err != nil {
			return err
		}
		updated = details
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Product updated", zap.Int64("product_id", id))
	return updated, nil
}

// UpdateStock sets an absolute stock level
func (s *ProductService) UpdateStock(ctx context.Context, id int64, newStock int) (*models.Product, error) {
	if newStock < 0 {
		return nil, models.NewInvalidOperation("stock cannot be negative")
	}
	return s.modify(ctx, id, func(p *models.Product) error {
		p.Stock = newStock
		return nil
	})
}

// UpdatePrice changes the list price; existing order snapshots are unaffected
func (s *ProductService) UpdatePrice(ctx context.Context, id int64, newPrice decimal.Decimal) (*models.Product, error) {
	if !newPrice.IsPositive() {
		return nil, models.NewInvalidOperation("price must be greater than 0")
	}
	return s.modify(ctx, id, func(p *models.Product) error {
		if p.DiscountPrice != nil && p.DiscountPrice.GreaterThanOrEqual(newPrice) {
			return models.NewInvalidOperation("price must stay above the discount price %s", p.DiscountPrice)
		}
		p.Price = newPrice
		return nil
	})
}

// DeleteProduct deactivates a product; order history keeps its snapshots
func (s *ProductService) DeleteProduct(ctx context.Context, id int64) error {
	_, err := s.modify(ctx, id, func(p *models.Product) error {
		p.Active = false
		return nil
	})
	return err
}

func (s *ProductService) modify(ctx context.Context, id int64, change func(p *models.Product) error) (*models.Product, error) {
	var product *models.Product
	err := s.store.RunInTx(ctx, func(tx *store.Store) error {
		p, err := tx.GetProductByID(ctx, id)
		if err != nil {
			return err
		}
		if err := change(p); err != nil {
			return err
		}
		p.UpdatedAt = s.clock.Now()
		if err := tx.UpdateProduct(ctx, p); err != nil {
			return err
		}
		product = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}

// GetProductByID retrieves a product
func (s *ProductService) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	return s.store.GetProductByID(ctx, id)
}

// GetProductBySKU retrieves a product by its SKU
func (s *ProductService) GetProductBySKU(ctx context.Context, sku string) (*models.Product, error) {
	return s.store.GetProductBySKU(ctx, sku)
}

// ListActiveProducts returns the sellable catalog
func (s *ProductService) ListActiveProducts(ctx context.Context) ([]models.Product, error) {
	return s.store.FindActiveProducts(ctx, store.ProductQuery{})
}

// ProductFilter narrows a catalog listing. Price bounds are inclusive and
// compare the list price.
type ProductFilter struct {
	Name     string
	Featured bool
	OnSale   bool
	MinPrice *decimal.Decimal
	MaxPrice *decimal.Decimal
}

// IsZero reports whether f matches the whole active catalog
func (f ProductFilter) IsZero() bool {
	return f.Name == "" && !f.Featured && !f.OnSale && f.MinPrice == nil && f.MaxPrice == nil
}

// SearchProducts lists active products matching f
func (s *ProductService) SearchProducts(ctx context.Context, f ProductFilter) ([]models.Product, error) {
	if f.MinPrice != nil && f.MaxPrice != nil && f.MaxPrice.LessThan(*f.MinPrice) {
		return nil, models.NewInvalidOperation("max price %s is below min price %s", f.MaxPrice, f.MinPrice)
	}

	found, err := s.store.FindActiveProducts(ctx, store.ProductQuery{
		Name:     f.Name,
		Featured: f.Featured,
		OnSale:   f.OnSale,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search products: %w", err)
	}

	// price is stored as text on sqlite, so the range is applied here
	products := found[:0]
	for _, p := range found {
		if f.MinPrice != nil && p.Price.LessThan(*f.MinPrice) {
			continue
		}
		if f.MaxPrice != nil && p.Price.GreaterThan(*f.MaxPrice) {
			continue
		}
		products = append(products, p)
	}
	return products, nil
}

// ProductPatch is a partial product update; nil fields are left alone
type ProductPatch struct {
	Name          *string          `json:"name"`
	Description   *string          `json:"description"`
	Price         *decimal.Decimal `json:"price"`
	Stock         *int             `json:"stock"`
	SKU           *string          `json:"sku"`
	DiscountPrice *decimal.Decimal `json:"discount_price"`
	Featured      *bool            `json:"featured"`
	Active        *bool            `json:"active"`
}

// PatchProduct applies patch and revalidates the result. A clashing sku
// surfaces as DuplicateResource from the unique index.
func (s *ProductService) PatchProduct(ctx context.Context, id int64, patch *ProductPatch) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "ProductService.PatchProduct")
	defer span.End()

	return s.modify(ctx, id, func(p *models.Product) error {
		if patch.Name != nil {
			p.Name = *patch.Name
		}
		if patch.Description != nil {
			p.Description = *patch.Description
		}
		if patch.Price != nil {
			p.Price = *patch.Price
		}
		if patch.Stock != nil {
			p.Stock = *patch.Stock
		}
		if patch.SKU != nil {
			p.SKU = patch.SKU
		}
		if patch.DiscountPrice != nil {
			p.DiscountPrice = patch.DiscountPrice
		}
		if patch.Featured != nil {
			p.Featured = *patch.Featured
		}
		if patch.Active != nil {
			p.Active = *patch.Active
		}
		return validateProduct(p)
	})
}

// ReduceStock deducts quantity units, failing without mutation when the
// product cannot cover them
func (s *ProductService) ReduceStock(ctx context.Context, id int64, quantity int) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "ProductService.ReduceStock")
	defer span.End()

	var product *models.Product
	err := s.store.RunInTx(ctx, func(tx *store.Store) error {
		if err := s.reduceStock(ctx, tx, id, quantity, "manual"); err != nil {
			return err
		}
		p, err := tx.GetProductByID(ctx, id)
		product = p
		return err
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}

// IncreaseStock returns quantity units to the product
func (s *ProductService) IncreaseStock(ctx context.Context, id int64, quantity int) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "ProductService.IncreaseStock")
	defer span.End()

	var product *models.Product
	err := s.store.RunInTx(ctx, func(tx *store.Store) error {
		if err := s.increaseStock(ctx, tx, id, quantity); err != nil {
			return err
		}
		p, err := tx.GetProductByID(ctx, id)
		product = p
		return err
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}

// reduceStock runs the guarded decrement on tx; stage labels the metric
func (s *ProductService) reduceStock(ctx context.Context, tx *store.Store, id int64, quantity int, stage string) error {
	if quantity < 1 {
		return models.NewInvalidOperation("quantity must be at least 1")
	}

	err := tx.ReduceStock(ctx, id, quantity, s.clock.Now())
	if models.IsInsufficientStock(err) {
		util.StockInsufficientTotal.WithLabelValues(stage).Inc()
		s.logger.Warn("Insufficient stock",
			zap.Int64("product_id", id),
			zap.Int("requested", quantity),
			zap.String("stage", stage))
	}
	return err
}

func (s *ProductService) increaseStock(ctx context.Context, tx *store.Store, id int64, quantity int) error {
	if quantity < 1 {
		return models.NewInvalidOperation("quantity must be at least 1")
	}
	return tx.IncreaseStock(ctx, id, quantity, s.clock.Now())
}
