package review

import (
	"fmt"
	"math"
)

// NormalizeRating maps a rating on a declared 1..scale range onto the
// canonical 1..5 range: 1 + (r-1)*4/(scale-1), rounded half-up. A 9 on a
// 1..10 scale becomes 5, a 6 becomes 3. Ratings already on a 5 scale are
// rounded to the nearest whole star.
func NormalizeRating(value float64, scale int) (int, error) {
	if scale < 2 {
		return 0, fmt.Errorf("rating scale must be at least 2, got %d", scale)
	}
	if value < 1 || value > float64(scale) {
		return 0, fmt.Errorf("rating %.2f outside declared scale 1..%d", value, scale)
	}
	mapped := 1 + (value-1)*4/float64(scale-1)
	rounded := int(math.Floor(mapped + 0.5))
	if rounded < 1 {
		rounded = 1
	}
	if rounded > 5 {
		rounded = 5
	}
	return rounded, nil
}
