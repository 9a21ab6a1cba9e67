package store

import (
	"strings"
	"time"
)

// UnitType is how a product is measured at the till.
type UnitType string

const (
	// UnitKilogram products are weighed on the scale.
	UnitKilogram UnitType = "kg"
	// UnitPiece products are counted.
	UnitPiece UnitType = "un"
)

// ParseUnitType normalizes a unit string.
func ParseUnitType(raw string) (UnitType, bool) {
	switch UnitType(strings.ToLower(strings.TrimSpace(raw))) {
	case UnitKilogram:
		return UnitKilogram, true
	case UnitPiece:
		return UnitPiece, true
	default:
		return "", false
	}
}

// Weighed reports whether quantities come from the scale.
func (u UnitType) Weighed() bool {
	return u == UnitKilogram
}

// PaymentMethod is how a sale was settled.
type PaymentMethod string

const (
	PaymentCash PaymentMethod = "cash"
	PaymentCard PaymentMethod = "card"
	PaymentPix  PaymentMethod = "pix"
)

// ParsePaymentMethod normalizes a payment method string.
func ParsePaymentMethod(raw string) (PaymentMethod, bool) {
	switch PaymentMethod(strings.ToLower(strings.TrimSpace(raw))) {
	case PaymentCash:
		return PaymentCash, true
	case PaymentCard:
		return PaymentCard, true
	case PaymentPix:
		return PaymentPix, true
	default:
		return "", false
	}
}

// Product is a catalog entry.
type Product struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Price     float64   `json:"price"`
	UnitType  UnitType  `json:"unitType"`
	InStock   bool      `json:"inStock"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ProductInput carries the editable product fields.
type ProductInput struct {
	Name     string   `json:"name"`
	Price    float64  `json:"price"`
	UnitType UnitType `json:"unitType"`
	InStock  bool     `json:"inStock"`
}

// ProductPatch updates only the fields that are set.
type ProductPatch struct {
	Name     *string   `json:"name,omitempty"`
	Price    *float64  `json:"price,omitempty"`
	UnitType *UnitType `json:"unitType,omitempty"`
	InStock  *bool     `json:"inStock,omitempty"`
}

// Sale is a completed checkout.
type Sale struct {
	ID        string        `json:"id"`
	Method    PaymentMethod `json:"method"`
	Subtotal  float64       `json:"subtotal"`
	Discount  float64       `json:"discount"`
	Total     float64       `json:"total"`
	CreatedAt time.Time     `json:"createdAt"`
	Items     []SaleItem    `json:"items"`
}

// SaleItem is one line of a sale.
type SaleItem struct {
	ID          int64   `json:"id"`
	SaleID      string  `json:"saleId"`
	ProductID   string  `json:"productId"`
	ProductName string  `json:"productName,omitempty"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
}

// SaleInput is what checkout submits.
type SaleInput struct {
	Method   PaymentMethod   `json:"method"`
	Subtotal float64         `json:"subtotal"`
	Discount float64         `json:"discount"`
	Total    float64         `json:"total"`
	Items    []SaleItemInput `json:"items"`
}

// SaleItemInput is one submitted sale line.
type SaleItemInput struct {
	ProductID string  `json:"productId"`
	Quantity  float64 `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
}
