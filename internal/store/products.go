package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
)

const productColumns = "id, name, price, unit_type, in_stock, created_at, updated_at"

func scanProduct(scanner interface{ Scan(dest ...any) error }) (*Product, error) {
	var (
		p          Product
		unit       string
		inStock    int64
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(&p.ID, &p.Name, &p.Price, &unit, &inStock, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	p.UnitType = UnitType(unit)
	p.InStock = inStock != 0
	p.CreatedAt = parseTimestamp(createdRaw)
	p.UpdatedAt = parseTimestamp(updatedRaw)
	return &p, nil
}

func validateProduct(in *ProductInput) error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return invalid("product name is required")
	}
	if math.IsNaN(in.Price) || math.IsInf(in.Price, 0) || in.Price < 0 {
		return invalid("product price must be a non-negative number")
	}
	in.Price = round(in.Price, 2)
	unit, ok := ParseUnitType(string(in.UnitType))
	if !ok {
		return invalid("unit type must be kg or un, got %q", in.UnitType)
	}
	in.UnitType = unit
	return nil
}

// ListProducts returns the catalog ordered by name.
func (s *Store) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY name COLLATE NOCASE, id`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

// GetProduct fetches a product by identifier.
func (s *Store) GetProduct(ctx context.Context, id string) (*Product, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// CreateProduct inserts a product with a fresh identifier.
func (s *Store) CreateProduct(ctx context.Context, in ProductInput) (*Product, error) {
	if err := validateProduct(&in); err != nil {
		return nil, err
	}
	id := s.newID()
	now := timestamp(s.now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO products (id, name, price, unit_type, in_stock, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, in.Name, in.Price, string(in.UnitType), boolToInt(in.InStock), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert product: %w", err)
	}
	return s.GetProduct(ctx, id)
}

// UpdateProduct applies patch to an existing product.
func (s *Store) UpdateProduct(ctx context.Context, id string, patch ProductPatch) (*Product, error) {
	current, err := s.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	in := ProductInput{
		Name:     current.Name,
		Price:    current.Price,
		UnitType: current.UnitType,
		InStock:  current.InStock,
	}
	if patch.Name != nil {
		in.Name = *patch.Name
	}
	if patch.Price != nil {
		in.Price = *patch.Price
	}
	if patch.UnitType != nil {
		in.UnitType = *patch.UnitType
	}
	if patch.InStock != nil {
		in.InStock = *patch.InStock
	}
	if err := validateProduct(&in); err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE products SET name = ?, price = ?, unit_type = ?, in_stock = ?, updated_at = ? WHERE id = ?`,
		in.Name, in.Price, string(in.UnitType), boolToInt(in.InStock), timestamp(s.now()), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update product: %w", err)
	}
	if err := expectOneRow(res, "product", id); err != nil {
		return nil, err
	}
	return s.GetProduct(ctx, id)
}

// DeleteProduct removes a product. Products referenced by sales cannot be
// deleted; mark them out of stock instead.
func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	var refs int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM sale_items WHERE product_id = ?`, id).Scan(&refs); err != nil {
		return fmt.Errorf("count product sales: %w", err)
	}
	if refs > 0 {
		return invalid("product %s appears in %d sale lines; mark it out of stock instead", id, refs)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	return expectOneRow(res, "product", id)
}

// ToggleProductAvailability flips in_stock and returns the updated product.
func (s *Store) ToggleProductAvailability(ctx context.Context, id string) (*Product, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE products SET in_stock = CASE in_stock WHEN 0 THEN 1 ELSE 0 END, updated_at = ? WHERE id = ?`,
		timestamp(s.now()), id,
	)
	if err != nil {
		return nil, fmt.Errorf("toggle product: %w", err)
	}
	if err := expectOneRow(res, "product", id); err != nil {
		return nil, err
	}
	return s.GetProduct(ctx, id)
}

func expectOneRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
