package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tillpoint/internal/scale"
	"tillpoint/internal/store"
)

// WeightReader reads the scale as of a given instant.
type WeightReader interface {
	ReadWeight(ctx context.Context, asOf time.Time) (float64, error)
}

// Weigher retries stale scale readings a fixed number of times.
type Weigher struct {
	Reader   WeightReader
	Attempts int
	Delay    time.Duration
	Now      func() time.Time
}

// Read returns a fresh weight. Only scale.ErrStaleReading is retried; any
// other error returns immediately. Exhaustion returns the last error.
func (w Weigher) Read(ctx context.Context) (float64, error) {
	attempts := w.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	now := w.Now
	if now == nil {
		now = time.Now
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		weight, err := w.Reader.ReadWeight(ctx, now())
		if err == nil {
			return weight, nil
		}
		lastErr = err
		if !errors.Is(err, scale.ErrStaleReading) || attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(w.Delay):
		}
	}
	return 0, lastErr
}

// AddWeighed reads the scale and adds the weighed quantity of p.
func (c *Cart) AddWeighed(ctx context.Context, p store.Product, w Weigher) (float64, error) {
	if !p.UnitType.Weighed() {
		return 0, fmt.Errorf("%s is sold by %s, not weighed", p.Name, p.UnitType)
	}
	if !p.InStock {
		return 0, fmt.Errorf("%w: %s", ErrOutOfStock, p.Name)
	}
	weight, err := w.Read(ctx)
	if err != nil {
		return 0, fmt.Errorf("weigh %s: %w", p.Name, err)
	}
	if weight <= 0 {
		return 0, fmt.Errorf("weigh %s: %w", p.Name, ErrNoWeight)
	}
	if err := c.Add(p, weight); err != nil {
		return 0, err
	}
	return roundQty(weight), nil
}
