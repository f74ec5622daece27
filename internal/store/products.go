package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"jewelry-store/internal/models"
)

const productColumns = `id, name, description, price, stock, sku, discount_price,
	featured, active, created_at, updated_at`

// CreateProduct inserts a new product
func (s *Store) CreateProduct(ctx context.Context, p *models.Product) error {
	query := s.rebind(`
		INSERT INTO products (name, description, price, stock, sku, discount_price,
			featured, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)

	err := s.q.GetContext(ctx, &p.ID, query,
		p.Name, p.Description, p.Price, p.Stock, p.SKU, p.DiscountPrice,
		p.Featured, p.Active, p.CreatedAt, p.UpdatedAt)
	if isUniqueViolation(err, "sku") {
		return &models.DuplicateResourceError{Resource: "product", Field: "sku", Value: p.SKUValue()}
	}
	return err
}

// UpdateProduct overwrites all mutable product fields
func (s *Store) UpdateProduct(ctx context.Context, p *models.Product) error {
	query := s.rebind(`
		UPDATE products
		SET name = ?, description = ?, price = ?, stock = ?, sku = ?, discount_price = ?,
			featured = ?, active = ?, updated_at = ?
		WHERE id = ?`)

	res, err := s.q.ExecContext(ctx, query,
		p.Name, p.Description, p.Price, p.Stock, p.SKU, p.DiscountPrice,
		p.Featured, p.Active, p.UpdatedAt, p.ID)
	if isUniqueViolation(err, "sku") {
		return &models.DuplicateResourceError{Resource: "product", Field: "sku", Value: p.SKUValue()}
	}
	if err != nil {
		return err
	}

	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return models.NewNotFound("product", p.ID)
	}
	return nil
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.q.GetContext(ctx, &product,
		s.rebind("SELECT "+productColumns+" FROM products WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewNotFound("product", id)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProductBySKU retrieves a product by SKU
func (s *Store) GetProductBySKU(ctx context.Context, sku string) (*models.Product, error) {
	var product models.Product
	err := s.q.GetContext(ctx, &product,
		s.rebind("SELECT "+productColumns+" FROM products WHERE sku = ?"), sku)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.NotFoundError{Resource: "product", Field: "sku", Value: sku}
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// SKUExists reports whether any product already uses sku
func (s *Store) SKUExists(ctx context.Context, sku string) (bool, error) {
	var exists bool
	err := s.q.GetContext(ctx, &exists,
		s.rebind("SELECT EXISTS(SELECT 1 FROM products WHERE sku = ?)"), sku)
	return exists, err
}

// ProductQuery narrows the active catalog; zero values match everything
type ProductQuery struct {
	Name     string
	Featured bool
	OnSale   bool
}

// FindActiveProducts lists active products matching q, name matched as a
// case-insensitive substring
func (s *Store) FindActiveProducts(ctx context.Context, q ProductQuery) ([]models.Product, error) {
	query := "SELECT " + productColumns + " FROM products WHERE active = ?"
	args := []interface{}{true}

	if q.Name != "" {
		query += " AND LOWER(name) LIKE ?"
		args = append(args, "%"+strings.ToLower(q.Name)+"%")
	}
	if q.Featured {
		query += " AND featured = ?"
		args = append(args, true)
	}
	if q.OnSale {
		query += " AND discount_price IS NOT NULL"
	}
	query += " ORDER BY id"

	products := []models.Product{}
	err := s.q.SelectContext(ctx, &products, s.rebind(query), args...)
	return products, err
}

// ReduceStock decrements stock in a single conditional statement so two
// concurrent deductions can never both pass a stale availability check.
func (s *Store) ReduceStock(ctx context.Context, productID int64, quantity int, now time.Time) error {
	res, err := s.q.ExecContext(ctx, s.rebind(`
		UPDATE products
		SET stock = stock - ?, updated_at = ?
		WHERE id = ? AND stock >= ?`),
		quantity, now, productID, quantity)
	if err != nil {
		return fmt.Errorf("failed to reduce stock: %w", err)
	}

	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	product, err := s.GetProductByID(ctx, productID)
	if err != nil {
		return err
	}
	return &models.InsufficientStockError{
		ProductID:   product.ID,
		ProductName: product.Name,
		Available:   product.Stock,
		Requested:   quantity,
	}
}

// IncreaseStock increments stock; used for compensating reversals
func (s *Store) IncreaseStock(ctx context.Context, productID int64, quantity int, now time.Time) error {
	res, err := s.q.ExecContext(ctx, s.rebind(`
		UPDATE products
		SET stock = stock + ?, updated_at = ?
		WHERE id = ?`),
		quantity, now, productID)
	if err != nil {
		return fmt.Errorf("failed to increase stock: %w", err)
	}

	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return models.NewNotFound("product", productID)
	}
	return nil
}
