package testsupport

import (
	"context"
	"testing"

	"tillpoint/internal/config"
	"tillpoint/internal/settings"
	"tillpoint/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

// NewProduct inserts an in-stock product for tests.
func NewProduct(t testing.TB, st *store.Store, name string, price float64, unit store.UnitType) *store.Product {
	t.Helper()

	p, err := st.CreateProduct(context.Background(), store.ProductInput{
		Name:     name,
		Price:    price,
		UnitType: unit,
		InStock:  true,
	})
	if err != nil {
		t.Fatalf("store.CreateProduct: %v", err)
	}
	return p
}

// MustOpenSettings opens the settings file configured for cfg.
func MustOpenSettings(t testing.TB, cfg *config.Config) *settings.Store {
	t.Helper()

	s, err := settings.Open(cfg.SettingsPath())
	if err != nil {
		t.Fatalf("settings.Open: %v", err)
	}
	return s
}
