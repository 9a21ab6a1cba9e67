// Package checkout holds the till's cart arithmetic and the retried scale
// reading used for weighed items.
package checkout

import (
	"errors"
	"fmt"
	"math"

	"tillpoint/internal/store"
)

var (
	// ErrEmptyCart reports a checkout with no lines.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrOutOfStock reports an attempt to sell a product marked unavailable.
	ErrOutOfStock = errors.New("product out of stock")
	// ErrNoWeight reports a scale reading that is zero or negative.
	ErrNoWeight = errors.New("scale reports no weight")
	// ErrLineIndex reports an index outside the cart.
	ErrLineIndex = errors.New("cart line out of range")
)

// Line is one cart entry.
type Line struct {
	ProductID string         `json:"productId"`
	Name      string         `json:"name"`
	UnitType  store.UnitType `json:"unitType"`
	Qty       float64        `json:"qty"`
	UnitPrice float64        `json:"unitPrice"`
	Discount  float64        `json:"discount"`
}

// Amount is qty times unit price less the line discount.
func (l Line) Amount() float64 {
	return l.Qty*l.UnitPrice - l.Discount
}

// Cart accumulates lines and sale-level discounts.
type Cart struct {
	lines           []Line
	discountPercent float64
	discountValue   float64
}

// Lines returns a copy of the cart lines.
func (c *Cart) Lines() []Line {
	return append([]Line(nil), c.lines...)
}

// Len returns the number of lines.
func (c *Cart) Len() int {
	return len(c.lines)
}

// Add puts qty of p in the cart. A line with the same product and unit price
// absorbs the quantity instead of creating a new line.
func (c *Cart) Add(p store.Product, qty float64) error {
	if !p.InStock {
		return fmt.Errorf("%w: %s", ErrOutOfStock, p.Name)
	}
	qty = roundQty(qty)
	if qty <= 0 {
		return fmt.Errorf("quantity for %s must be positive", p.Name)
	}
	for i := range c.lines {
		if c.lines[i].ProductID == p.ID && c.lines[i].UnitPrice == p.Price {
			c.lines[i].Qty = roundQty(c.lines[i].Qty + qty)
			return nil
		}
	}
	c.lines = append(c.lines, Line{
		ProductID: p.ID,
		Name:      p.Name,
		UnitType:  p.UnitType,
		Qty:       qty,
		UnitPrice: p.Price,
	})
	return nil
}

// SetQty replaces a line's quantity. Negative input clamps to zero.
func (c *Cart) SetQty(index int, qty float64) error {
	if index < 0 || index >= len(c.lines) {
		return ErrLineIndex
	}
	c.lines[index].Qty = roundQty(qty)
	return nil
}

// SetLineDiscount sets a per-line discount, clamped at zero.
func (c *Cart) SetLineDiscount(index int, discount float64) error {
	if index < 0 || index >= len(c.lines) {
		return ErrLineIndex
	}
	c.lines[index].Discount = roundMoney(discount)
	return nil
}

// Remove drops a line.
func (c *Cart) Remove(index int) error {
	if index < 0 || index >= len(c.lines) {
		return ErrLineIndex
	}
	c.lines = append(c.lines[:index], c.lines[index+1:]...)
	return nil
}

// SetSaleDiscount sets the sale-level percentage and fixed discounts.
func (c *Cart) SetSaleDiscount(percent, value float64) {
	c.discountPercent = clampZero(percent)
	c.discountValue = roundMoney(value)
}

// Clear empties the cart.
func (c *Cart) Clear() {
	c.lines = nil
	c.discountPercent = 0
	c.discountValue = 0
}

// Subtotal sums every line amount.
func (c *Cart) Subtotal() float64 {
	var sum float64
	for _, l := range c.lines {
		sum += l.Amount()
	}
	return sum
}

// SaleDiscount is percent of the subtotal plus the fixed value.
func (c *Cart) SaleDiscount() float64 {
	return c.Subtotal()*c.discountPercent/100 + c.discountValue
}

// Total is the subtotal less the sale discount, never below zero.
func (c *Cart) Total() float64 {
	return math.Max(c.Subtotal()-c.SaleDiscount(), 0)
}

// Change is what the customer gets back from paid, never below zero.
func (c *Cart) Change(paid float64) float64 {
	return math.Max(paid-c.Total(), 0)
}

// Sale converts the cart into a store sale. Lines with zero quantity are
// skipped.
func (c *Cart) Sale(method store.PaymentMethod) (store.SaleInput, error) {
	items := make([]store.SaleItemInput, 0, len(c.lines))
	for _, l := range c.lines {
		if l.Qty <= 0 {
			continue
		}
		items = append(items, store.SaleItemInput{
			ProductID: l.ProductID,
			Quantity:  l.Qty,
			UnitPrice: l.UnitPrice,
		})
	}
	if len(items) == 0 {
		return store.SaleInput{}, ErrEmptyCart
	}
	return store.SaleInput{
		Method:   method,
		Subtotal: roundMoney(c.Subtotal()),
		Discount: roundMoney(c.SaleDiscount()),
		Total:    roundMoney(c.Total()),
		Items:    items,
	}, nil
}

func roundQty(v float64) float64 {
	return math.Round(clampZero(v)*1000) / 1000
}

func roundMoney(v float64) float64 {
	return math.Round(clampZero(v)*100) / 100
}

func clampZero(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}
