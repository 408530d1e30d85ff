package inventorytest

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Fixture seeds one company with a warehouse on top of a MemoryRepository.
type Fixture struct {
	Repo      *MemoryRepository
	Scope     shared.Scope
	Warehouse inventory.Warehouse
}

// NewFixture creates company companyID with warehouse "WH1".
func NewFixture(companyID int64) *Fixture {
	f := &Fixture{
		Repo:  NewMemoryRepository(),
		Scope: shared.Scope{CompanyID: companyID, ActorID: 7},
	}
	f.Warehouse = f.AddWarehouse("WH1", nil)
	return f
}

// AddWarehouse seeds an active warehouse for the fixture company.
func (f *Fixture) AddWarehouse(code string, businessUnitID *int64) inventory.Warehouse {
	return f.Repo.AddWarehouse(inventory.Warehouse{
		CompanyID:      f.Scope.CompanyID,
		BusinessUnitID: businessUnitID,
		Code:           code,
		Name:           code,
		IsActive:       true,
	})
}

// AddItem seeds an item whose base packaging is "pcs" followed by packs.
// Packagings are returned in the same order, base first.
func (f *Fixture) AddItem(code string, packs ...inventory.Packaging) inventory.Item {
	packagings := []inventory.Packaging{{Name: "pcs", QtyPerPack: decimal.NewFromInt(1), IsActive: true}}
	packagings = append(packagings, packs...)
	item := f.Repo.AddItem(inventory.Item{
		CompanyID:  f.Scope.CompanyID,
		Code:       code,
		Name:       code,
		BaseUOM:    "pcs",
		IsActive:   true,
		Packagings: packagings,
	})
	item.BasePackagingID = &item.Packagings[0].ID
	return f.Repo.AddItem(item)
}

// AddLocation seeds an active, pickable bin in the warehouse.
func (f *Fixture) AddLocation(warehouseID int64, code string) inventory.Location {
	return f.Repo.AddLocation(inventory.Location{
		CompanyID:   f.Scope.CompanyID,
		WarehouseID: warehouseID,
		Code:        code,
		Type:        inventory.LocationTypeBin,
		IsPickable:  true,
		IsStorable:  true,
		IsActive:    true,
	})
}

// Dec parses a decimal literal and panics on malformed input.
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
