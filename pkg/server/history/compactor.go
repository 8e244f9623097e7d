package history

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Tick is one aggregated value folded into history.
type Tick struct {
	Value     decimal.Decimal
	Timestamp time.Time
}

// Bucket is the OHLC summary of every tick in one interval window.
type Bucket struct {
	Symbol       string          `json:"symbol"`
	BaseCurrency string          `json:"base_currency"`
	Interval     string          `json:"interval"`
	Start        time.Time       `json:"bucket_start"`
	Open         decimal.Decimal `json:"open"`
	High         decimal.Decimal `json:"high"`
	Low          decimal.Decimal `json:"low"`
	Close        decimal.Decimal `json:"close"`
	TickCount    int             `json:"tick_count"`
	Sealed       bool            `json:"sealed"`
}

// Compactor maintains the open bucket of one pair for one interval.
// It is not safe for concurrent use; the owning Book serializes access.
type Compactor struct {
	symbol   string
	base     string
	interval Interval

	open *Bucket
	// sealedUntil is the start of the oldest window that may still accept ticks.
	sealedUntil time.Time
}

// NewCompactor creates a compactor for one pair and interval.
func NewCompactor(symbol, base string, interval Interval) *Compactor {
	return &Compactor{symbol: symbol, base: base, interval: interval}
}

// Fold applies a tick. It returns the current open bucket and, when the tick
// starts a later window, the bucket that was sealed by it.
func (c *Compactor) Fold(t Tick) (Bucket, *Bucket, error) {
	start := c.interval.Start(t.Timestamp)

	if start.Before(c.sealedUntil) || (c.open != nil && start.Before(c.open.Start)) {
		return Bucket{}, nil, fmt.Errorf("%w: %s window %s", ErrLateTick, c.interval.Label, start.Format(time.RFC3339))
	}

	var sealed *Bucket
	if c.open != nil && start.After(c.open.Start) {
		done := *c.open
		done.Sealed = true
		sealed = &done
		c.open = nil
		c.sealedUntil = start
	}

	if c.open == nil {
		c.open = &Bucket{
			Symbol:       c.symbol,
			BaseCurrency: c.base,
			Interval:     c.interval.Label,
			Start:        start,
			Open:         t.Value,
			High:         t.Value,
			Low:          t.Value,
			Close:        t.Value,
			TickCount:    1,
		}
		return *c.open, sealed, nil
	}

	if t.Value.GreaterThan(c.open.High) {
		c.open.High = t.Value
	}
	if t.Value.LessThan(c.open.Low) {
		c.open.Low = t.Value
	}
	c.open.Close = t.Value
	c.open.TickCount++

	return *c.open, sealed, nil
}

// Open returns a copy of the open bucket, if any.
func (c *Compactor) Open() (Bucket, bool) {
	if c.open == nil {
		return Bucket{}, false
	}
	return *c.open, true
}
