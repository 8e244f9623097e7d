package history

import (
	"fmt"
	"strconv"
	"time"
)

// Interval is a bucket width such as "1m", "1h" or "1d".
type Interval struct {
	Label    string
	Duration time.Duration
}

var unitDurations = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
}

// ParseInterval parses labels of the form <n><unit> with unit one of s, m, h, d, w.
func ParseInterval(label string) (Interval, error) {
	if len(label) < 2 {
		return Interval{}, fmt.Errorf("%w: %q", ErrInvalidInterval, label)
	}
	unit, ok := unitDurations[label[len(label)-1]]
	if !ok {
		return Interval{}, fmt.Errorf("%w: unknown unit in %q", ErrInvalidInterval, label)
	}
	n, err := strconv.Atoi(label[:len(label)-1])
	if err != nil || n <= 0 {
		return Interval{}, fmt.Errorf("%w: %q", ErrInvalidInterval, label)
	}
	return Interval{Label: label, Duration: time.Duration(n) * unit}, nil
}

// Start returns the beginning of the epoch-aligned window containing t.
func (iv Interval) Start(t time.Time) time.Time {
	size := int64(iv.Duration / time.Second)
	sec := t.Unix()
	offset := sec % size
	if offset < 0 {
		offset += size
	}
	return time.Unix(sec-offset, 0).UTC()
}

func (iv Interval) String() string {
	return iv.Label
}
