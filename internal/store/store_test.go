package store_test

import (
	"context"
	"errors"
	"testing"

	"tillpoint/internal/store"
	"tillpoint/internal/testsupport"
)

func TestOpenAppliesMigrations(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	version, err := st.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if version != "001_initial" {
		t.Fatalf("schema version = %q", version)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("reopen applies migrations idempotently: %v", err)
	}
	_ = reopened.Close()
}

func TestProductCRUD(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	created, err := st.CreateProduct(ctx, store.ProductInput{Name: "  Banana Prata ", Price: 6.999, UnitType: "KG", InStock: true})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected generated id")
	}
	if created.Name != "Banana Prata" || created.Price != 7 || created.UnitType != store.UnitKilogram || !created.InStock {
		t.Fatalf("unexpected product %+v", created)
	}

	name := "Banana Nanica"
	price := 5.49
	updated, err := st.UpdateProduct(ctx, created.ID, store.ProductPatch{Name: &name, Price: &price})
	if err != nil {
		t.Fatalf("UpdateProduct: %v", err)
	}
	if updated.Name != name || updated.Price != price || updated.UnitType != store.UnitKilogram {
		t.Fatalf("unexpected update %+v", updated)
	}

	toggled, err := st.ToggleProductAvailability(ctx, created.ID)
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if toggled.InStock {
		t.Fatal("expected product out of stock after toggle")
	}
	toggled, err = st.ToggleProductAvailability(ctx, created.ID)
	if err != nil || !toggled.InStock {
		t.Fatalf("second toggle = %+v, %v", toggled, err)
	}

	testsupport.NewProduct(t, st, "Arroz 5kg", 27.9, store.UnitPiece)
	list, err := st.ListProducts(ctx)
	if err != nil {
		t.Fatalf("ListProducts: %v", err)
	}
	if len(list) != 2 || list[0].Name != "Arroz 5kg" {
		t.Fatalf("expected two products sorted by name, got %+v", list)
	}

	if err := st.DeleteProduct(ctx, created.ID); err != nil {
		t.Fatalf("DeleteProduct: %v", err)
	}
	if _, err := st.GetProduct(ctx, created.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := st.DeleteProduct(ctx, created.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	if _, err := st.ToggleProductAvailability(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound toggling missing product, got %v", err)
	}
}

func TestCreateProductValidation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	tests := []struct {
		name string
		in   store.ProductInput
	}{
		{name: "empty name", in: store.ProductInput{Name: " ", Price: 1, UnitType: store.UnitPiece}},
		{name: "negative price", in: store.ProductInput{Name: "x", Price: -1, UnitType: store.UnitPiece}},
		{name: "unknown unit", in: store.ProductInput{Name: "x", Price: 1, UnitType: "lb"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := st.CreateProduct(context.Background(), tt.in); !errors.Is(err, store.ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestCreateSale(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	apple := testsupport.NewProduct(t, st, "Maçã", 9.9, store.UnitKilogram)
	bread := testsupport.NewProduct(t, st, "Pão", 1.5, store.UnitPiece)

	sale, err := st.CreateSale(ctx, store.SaleInput{
		Method:   store.PaymentPix,
		Subtotal: 15.87,
		Discount: 0.87,
		Total:    15,
		Items: []store.SaleItemInput{
			{ProductID: apple.ID, Quantity: 1.2345, UnitPrice: 9.9},
			{ProductID: bread.ID, Quantity: 3, UnitPrice: 1.5},
		},
	})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}
	if sale.ID == "" || sale.Method != store.PaymentPix || sale.Total != 15 {
		t.Fatalf("unexpected sale %+v", sale)
	}
	if len(sale.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(sale.Items))
	}
	if sale.Items[0].Quantity != 1.235 && sale.Items[0].Quantity != 1.234 {
		t.Fatalf("quantity not rounded to 3 places: %v", sale.Items[0].Quantity)
	}
	if sale.Items[1].ProductName != "Pão" {
		t.Fatalf("expected product name joined, got %q", sale.Items[1].ProductName)
	}

	if err := st.DeleteProduct(ctx, bread.ID); !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("deleting a sold product should be rejected, got %v", err)
	}

	sales, err := st.ListSales(ctx, 0)
	if err != nil {
		t.Fatalf("ListSales: %v", err)
	}
	if len(sales) != 1 || len(sales[0].Items) != 2 {
		t.Fatalf("unexpected sales %+v", sales)
	}
}

func TestCreateSaleRollsBackUnknownProduct(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	bread := testsupport.NewProduct(t, st, "Pão", 1.5, store.UnitPiece)
	_, err := st.CreateSale(ctx, store.SaleInput{
		Method: store.PaymentCash,
		Items: []store.SaleItemInput{
			{ProductID: bread.ID, Quantity: 1, UnitPrice: 1.5},
			{ProductID: "does-not-exist", Quantity: 1, UnitPrice: 2},
		},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	sales, err := st.ListSales(ctx, 0)
	if err != nil {
		t.Fatalf("ListSales: %v", err)
	}
	if len(sales) != 0 {
		t.Fatalf("failed sale must not be persisted, got %+v", sales)
	}
}

func TestCreateSaleValidation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	tests := []struct {
		name string
		in   store.SaleInput
	}{
		{name: "unknown method", in: store.SaleInput{Method: "cheque", Items: []store.SaleItemInput{{ProductID: "p", Quantity: 1}}}},
		{name: "no items", in: store.SaleInput{Method: store.PaymentCard}},
		{name: "zero quantity", in: store.SaleInput{Method: store.PaymentCard, Items: []store.SaleItemInput{{ProductID: "p"}}}},
		{name: "negative total", in: store.SaleInput{Method: store.PaymentCard, Total: -1, Items: []store.SaleItemInput{{ProductID: "p", Quantity: 1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := st.CreateSale(context.Background(), tt.in); !errors.Is(err, store.ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}
