package history

import (
	"fmt"
	"sync"
)

// DefaultRetention is the number of sealed buckets kept per interval.
const DefaultRetention = 500

// Book holds the history working set of a single pair: one compactor per
// configured interval plus a bounded ring of recently sealed buckets.
// Fold is called by the pair's single writer; readers may call Recent concurrently.
type Book struct {
	mu         sync.RWMutex
	intervals  []Interval
	compactors map[string]*Compactor
	sealed     map[string][]Bucket
	retention  int
}

// NewBook creates a book for symbol/base with the given interval labels.
func NewBook(symbol, base string, labels []string, retention int) (*Book, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	b := &Book{
		compactors: make(map[string]*Compactor, len(labels)),
		sealed:     make(map[string][]Bucket, len(labels)),
		retention:  retention,
	}
	for _, label := range labels {
		iv, err := ParseInterval(label)
		if err != nil {
			return nil, err
		}
		if _, dup := b.compactors[label]; dup {
			continue
		}
		b.intervals = append(b.intervals, iv)
		b.compactors[label] = NewCompactor(symbol, base, iv)
	}
	return b, nil
}

// Intervals returns the configured intervals in configuration order.
func (b *Book) Intervals() []Interval {
	return append([]Interval(nil), b.intervals...)
}

// Fold applies a tick to one interval. A sealed bucket, if any, is retained
// and returned.
func (b *Book) Fold(t Tick, label string) (Bucket, *Bucket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.compactors[label]
	if !ok {
		return Bucket{}, nil, fmt.Errorf("%w: %s", ErrUnknownInterval, label)
	}

	current, sealed, err := c.Fold(t)
	if err != nil {
		return Bucket{}, nil, err
	}
	if sealed != nil {
		ring := append(b.sealed[label], *sealed)
		if len(ring) > b.retention {
			ring = append([]Bucket(nil), ring[len(ring)-b.retention:]...)
		}
		b.sealed[label] = ring
	}
	return current, sealed, nil
}

// Recent returns up to limit buckets for label, oldest first. When
// includeOpen is set the open bucket is appended after the sealed ones.
func (b *Book) Recent(label string, limit int, includeOpen bool) ([]Bucket, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	c, ok := b.compactors[label]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInterval, label)
	}

	out := append([]Bucket(nil), b.sealed[label]...)
	if includeOpen {
		if open, ok := c.Open(); ok {
			out = append(out, open)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
