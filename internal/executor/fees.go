package executor

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/routeengine/internal/domain"
)

// Quote is the outcome of applying a segment's cost to an input amount.
type Quote struct {
	FeePercent float64
	FixedFee   float64
	Rate       float64
	Fees       float64
	AfterFees  float64
	Output     float64
}

// ApplyFees computes fees and output for input under cost. The fee percent
// is clamped to [0,100] and the fixed fee floored at 0; a non-positive rate
// or a negative input is rejected.
func ApplyFees(cost domain.SegmentCost, input float64) (Quote, error) {
	if input < 0 || math.IsNaN(input) || math.IsInf(input, 0) {
		return Quote{}, fmt.Errorf("executor: invalid input amount %v: %w", input, domain.ErrInvalidSegmentData)
	}
	rate := cost.Rate()
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return Quote{}, fmt.Errorf("executor: invalid rate %v: %w", rate, domain.ErrInvalidSegmentData)
	}
	q := Quote{
		FeePercent: math.Max(0, math.Min(100, cost.FeePercent)),
		FixedFee:   math.Max(0, cost.FixedFee),
		Rate:       rate,
	}
	q.Fees = input*q.FeePercent/100 + q.FixedFee
	q.AfterFees = math.Max(0, input-q.Fees)
	q.Output = q.AfterFees * rate
	return q, nil
}
