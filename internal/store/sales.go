package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
)

const saleColumns = "id, method, subtotal, discount, total, created_at"

func validateSale(in *SaleInput) error {
	method, ok := ParsePaymentMethod(string(in.Method))
	if !ok {
		return invalid("payment method must be cash, card or pix, got %q", in.Method)
	}
	in.Method = method
	if len(in.Items) == 0 {
		return invalid("sale has no items")
	}
	for i := range in.Items {
		item := &in.Items[i]
		item.ProductID = strings.TrimSpace(item.ProductID)
		if item.ProductID == "" {
			return invalid("item %d has no product id", i+1)
		}
		if !finite(item.Quantity) || item.Quantity <= 0 {
			return invalid("item %d quantity must be positive", i+1)
		}
		if !finite(item.UnitPrice) || item.UnitPrice < 0 {
			return invalid("item %d unit price must be non-negative", i+1)
		}
		item.Quantity = round(item.Quantity, 3)
		item.UnitPrice = round(item.UnitPrice, 2)
	}
	for _, v := range []float64{in.Subtotal, in.Discount, in.Total} {
		if !finite(v) || v < 0 {
			return invalid("sale amounts must be non-negative numbers")
		}
	}
	in.Subtotal = round(in.Subtotal, 2)
	in.Discount = round(in.Discount, 2)
	in.Total = round(in.Total, 2)
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// CreateSale records a sale and its items in one transaction. Every item
// must reference an existing product.
func (s *Store) CreateSale(ctx context.Context, in SaleInput) (*Sale, error) {
	if err := validateSale(&in); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin sale tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	id := s.newID()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sales (id, method, subtotal, discount, total, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, string(in.Method), in.Subtotal, in.Discount, in.Total, timestamp(s.now()),
	); err != nil {
		return nil, fmt.Errorf("insert sale: %w", err)
	}

	for _, item := range in.Items {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM products WHERE id = ?`, item.ProductID).Scan(&exists); err != nil {
			return nil, fmt.Errorf("check product: %w", err)
		}
		if exists == 0 {
			return nil, fmt.Errorf("product %s: %w", item.ProductID, ErrNotFound)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sale_items (sale_id, product_id, quantity, unit_price) VALUES (?, ?, ?, ?)`,
			id, item.ProductID, item.Quantity, item.UnitPrice,
		); err != nil {
			return nil, fmt.Errorf("insert sale item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit sale: %w", err)
	}
	return s.GetSale(ctx, id)
}

// GetSale fetches a sale with its items.
func (s *Store) GetSale(ctx context.Context, id string) (*Sale, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = ?`, id)
	sale, err := scanSale(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sale %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get sale: %w", err)
	}
	items, err := s.saleItems(ctx, `si.sale_id = ?`, id)
	if err != nil {
		return nil, err
	}
	sale.Items = items[id]
	return sale, nil
}

// ListSales returns sales newest first with their items. A positive limit
// caps the number of sales returned.
func (s *Store) ListSales(ctx context.Context, limit int) ([]Sale, error) {
	// The item lookup reuses the same ordered id selection so it is bound
	// by at most one variable however many sales exist.
	ids := `SELECT id FROM sales ORDER BY created_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		ids += ` LIMIT ?`
		args = append(args, limit)
	}
	query := `SELECT ` + saleColumns + ` FROM sales WHERE id IN (` + ids + `) ORDER BY created_at DESC, id DESC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}

	var sales []Sale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan sale: %w", err)
		}
		sales = append(sales, *sale)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate sales: %w", err)
	}
	_ = rows.Close()

	if len(sales) == 0 {
		return sales, nil
	}
	items, err := s.saleItems(ctx, `si.sale_id IN (`+ids+`)`, args...)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Items = items[sales[i].ID]
	}
	return sales, nil
}

// saleItems loads the items matching filter, keyed by sale id.
func (s *Store) saleItems(ctx context.Context, filter string, args ...any) (map[string][]SaleItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT si.id, si.sale_id, si.product_id, COALESCE(p.name, ''), si.quantity, si.unit_price
         FROM sale_items si LEFT JOIN products p ON p.id = si.product_id
         WHERE `+filter+`
         ORDER BY si.id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list sale items: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]SaleItem)
	for rows.Next() {
		var item SaleItem
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan sale item: %w", err)
		}
		out[item.SaleID] = append(out[item.SaleID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sale items: %w", err)
	}
	return out, nil
}

func scanSale(scanner interface{ Scan(dest ...any) error }) (*Sale, error) {
	var (
		sale       Sale
		method     string
		createdRaw string
	)
	if err := scanner.Scan(&sale.ID, &method, &sale.Subtotal, &sale.Discount, &sale.Total, &createdRaw); err != nil {
		return nil, err
	}
	sale.Method = PaymentMethod(method)
	sale.CreatedAt = parseTimestamp(createdRaw)
	return &sale, nil
}
