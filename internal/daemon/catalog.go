package daemon

import (
	"context"

	"tillpoint/internal/logging"
	"tillpoint/internal/store"
)

// ListProducts returns the catalog.
func (d *Daemon) ListProducts(ctx context.Context) ([]store.Product, error) {
	return d.store.ListProducts(ctx)
}

// GetProduct returns one product.
func (d *Daemon) GetProduct(ctx context.Context, id string) (*store.Product, error) {
	return d.store.GetProduct(ctx, id)
}

// CreateProduct adds a product.
func (d *Daemon) CreateProduct(ctx context.Context, in store.ProductInput) (*store.Product, error) {
	p, err := d.store.CreateProduct(ctx, in)
	if err != nil {
		return nil, err
	}
	d.logger.Info("product created",
		logging.String(logging.FieldEventType, "product_created"),
		logging.String("product_id", p.ID),
		logging.String("name", p.Name),
	)
	return p, nil
}

// UpdateProduct patches a product.
func (d *Daemon) UpdateProduct(ctx context.Context, id string, patch store.ProductPatch) (*store.Product, error) {
	return d.store.UpdateProduct(ctx, id, patch)
}

// DeleteProduct removes a product.
func (d *Daemon) DeleteProduct(ctx context.Context, id string) error {
	if err := d.store.DeleteProduct(ctx, id); err != nil {
		return err
	}
	d.logger.Info("product deleted",
		logging.String(logging.FieldEventType, "product_deleted"),
		logging.String("product_id", id),
	)
	return nil
}

// ToggleProduct flips a product's availability.
func (d *Daemon) ToggleProduct(ctx context.Context, id string) (*store.Product, error) {
	return d.store.ToggleProductAvailability(ctx, id)
}

// CreateSale records a checkout.
func (d *Daemon) CreateSale(ctx context.Context, in store.SaleInput) (*store.Sale, error) {
	sale, err := d.store.CreateSale(ctx, in)
	if err != nil {
		return nil, err
	}
	d.logger.Info("sale recorded",
		logging.String(logging.FieldEventType, "sale_recorded"),
		logging.String("sale_id", sale.ID),
		logging.String("method", string(sale.Method)),
		logging.Float64("total", sale.Total),
		logging.Int("items", len(sale.Items)),
	)
	return sale, nil
}

// ListSales returns sales newest first.
func (d *Daemon) ListSales(ctx context.Context, limit int) ([]store.Sale, error) {
	return d.store.ListSales(ctx, limit)
}
