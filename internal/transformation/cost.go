package transformation

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const costScale int32 = 6

// Produced is an output or scrap line with its quantity in base units.
type Produced struct {
	LineID        int64
	Role          Role
	NormalizedQty decimal.Decimal
	ScrapValue    decimal.Decimal
}

// Allocation is the cost carried by one produced line.
type Allocation struct {
	LineID   int64
	Total    decimal.Decimal
	UnitCost decimal.Decimal
}

// AllocateCost splits consumed value plus additional cost over the produced
// lines. Scrap keeps its declared value. The remaining pool goes to outputs
// pro rata by base quantity, truncated to the cost scale. The last output
// absorbs the remainder, so the totals add up to the pool and no share is
// negative.
func AllocateCost(consumed, additional decimal.Decimal, produced []Produced) ([]Allocation, error) {
	pool := consumed.Add(additional)
	var outputs []int
	for i, p := range produced {
		if !p.NormalizedQty.IsPositive() {
			return nil, fmt.Errorf("line %d has no quantity: %w", p.LineID, ErrValidation)
		}
		if p.Role == RoleScrap {
			pool = pool.Sub(p.ScrapValue)
			continue
		}
		outputs = append(outputs, i)
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("no output lines: %w", ErrValidation)
	}
	if pool.IsNegative() {
		return nil, fmt.Errorf("scrap value exceeds consumed cost by %s: %w", pool.Neg(), ErrValidation)
	}

	totalQty := decimal.Zero
	for _, i := range outputs {
		totalQty = totalQty.Add(produced[i].NormalizedQty)
	}

	out := make([]Allocation, len(produced))
	allocated := decimal.Zero
	for n, i := range outputs {
		p := produced[i]
		share := pool.Mul(p.NormalizedQty).Div(totalQty).Truncate(costScale)
		if n == len(outputs)-1 {
			share = pool.Sub(allocated)
		}
		allocated = allocated.Add(share)
		out[i] = Allocation{LineID: p.LineID, Total: share, UnitCost: share.DivRound(p.NormalizedQty, costScale)}
	}
	for i, p := range produced {
		if p.Role != RoleScrap {
			continue
		}
		out[i] = Allocation{LineID: p.LineID, Total: p.ScrapValue, UnitCost: p.ScrapValue.DivRound(p.NormalizedQty, costScale)}
	}
	return out, nil
}
