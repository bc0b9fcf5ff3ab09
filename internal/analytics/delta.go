package analytics

import (
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Comparison is an aggregate over the current window and the window before it.
// Either side is nil when its window holds no values to reduce.
type Comparison struct {
	Current  *float64 `json:"current"`
	Previous *float64 `json:"previous"`
}

// Delta returns the percent change of the comparison, or nil when it is undefined:
// either side is null or the current value is zero.
func (c Comparison) Delta() *float64 {
	if c.Current == nil || c.Previous == nil {
		return nil
	}
	d, err := Delta(*c.Current, *c.Previous)
	if err != nil {
		return nil
	}
	return &d
}

// Delta computes the percent change 100 * (current - previous) / current.
// The change is relative to the current value.
//
// When current is zero the result is ErrDivisionUndefined together with NaN if
// previous is also zero, or an infinity signed like (current - previous).
func Delta(current, previous float64) (float64, error) {
	diff := current - previous
	if current == 0 {
		if diff == 0 || math.IsNaN(diff) {
			return math.NaN(), fmt.Errorf("%w: delta of %g against %g", domain.ErrDivisionUndefined, current, previous)
		}
		sign := 1
		if diff < 0 {
			sign = -1
		}
		return math.Inf(sign), fmt.Errorf("%w: delta of %g against %g", domain.ErrDivisionUndefined, current, previous)
	}
	return 100 * diff / current, nil
}
