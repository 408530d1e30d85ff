package inventory

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ResolveUnits converts inputQty expressed in packagingID into the item's base
// unit. A nil packaging means the quantity is already in base units.
func ResolveUnits(item Item, inputQty decimal.Decimal, packagingID *int64) (UnitResolution, error) {
	if item.BaseUOM == "" || item.BasePackagingID == nil {
		return UnitResolution{}, fmt.Errorf("item %d: %w", item.ID, ErrMissingUnitOfMeasure)
	}
	res := UnitResolution{
		NormalizedQty:    inputQty,
		ConversionFactor: decimal.NewFromInt(1),
		BasePackagingID:  *item.BasePackagingID,
	}
	if packagingID == nil {
		return res, nil
	}
	for _, p := range item.Packagings {
		if p.ID != *packagingID {
			continue
		}
		if p.ItemID != item.ID || !p.IsActive || !p.QtyPerPack.IsPositive() {
			break
		}
		res.ConversionFactor = p.QtyPerPack
		res.NormalizedQty = inputQty.Mul(p.QtyPerPack).Round(qtyScale)
		return res, nil
	}
	return UnitResolution{}, fmt.Errorf("item %d packaging %d: %w", item.ID, *packagingID, ErrInvalidPackaging)
}
