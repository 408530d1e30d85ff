package inventory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// DriftPolicy decides what an outbound posting does when location rows hold
// less than the aggregate balance.
type DriftPolicy string

const (
	// DriftPolicyRepair tops up the default location through the Reconciler
	// and retries the consumption.
	DriftPolicyRepair DriftPolicy = "repair"
	// DriftPolicyFail returns ErrInsufficientStockAcrossLocations.
	DriftPolicyFail DriftPolicy = "fail"
)

// Poster applies one MovementRequest inside a caller supplied transaction.
type Poster struct {
	balances   BalanceStore
	allocator  LocationAllocator
	reconciler *Reconciler
	policy     DriftPolicy
	now        func() time.Time
}

// NewPoster constructs a Poster. A nil reconciler behaves like DriftPolicyFail.
func NewPoster(reconciler *Reconciler, policy DriftPolicy) *Poster {
	if policy == "" {
		policy = DriftPolicyRepair
	}
	return &Poster{reconciler: reconciler, policy: policy, now: time.Now}
}

type balanceKey struct {
	itemID      int64
	warehouseID int64
}

func compareKeys(a, b balanceKey) int {
	if c := cmp.Compare(a.itemID, b.itemID); c != 0 {
		return c
	}
	return cmp.Compare(a.warehouseID, b.warehouseID)
}

// posting accumulates the ledger rows of one request.
type posting struct {
	scope      shared.Scope
	items      map[int64]Item
	warehouses map[int64]Warehouse
	header     Transaction
	lineNo     int
}

func (p *posting) addItem(item TransactionItem) {
	p.lineNo++
	item.LineNo = p.lineNo
	p.header.Items = append(p.header.Items, item)
}

func (p *posting) addEffect(itemID, warehouseID, locationID int64, delta decimal.Decimal) {
	p.header.Locations = append(p.header.Locations, LocationEffect{
		ItemID:      itemID,
		WarehouseID: warehouseID,
		LocationID:  locationID,
		QtyDelta:    delta,
	})
}

// Post validates req, locks every balance it touches in key order, applies
// the lines and appends the ledger rows. Any error leaves the transaction to
// be rolled back by the caller.
func (p *Poster) Post(ctx context.Context, tx TxRepository, scope shared.Scope, req MovementRequest) (Transaction, error) {
	if err := req.validate(); err != nil {
		return Transaction{}, err
	}
	ps, err := p.prepare(ctx, tx, scope, req)
	if err != nil {
		return Transaction{}, err
	}
	resolved, err := p.resolveLines(ps, req)
	if err != nil {
		return Transaction{}, err
	}
	if err := p.lockKeys(ctx, tx, scope, req.balanceKeys()); err != nil {
		return Transaction{}, err
	}

	switch req.Type {
	case TransactionTypeIn:
		for i, line := range req.Lines {
			loc := firstNonNil(line.LocationID, req.ToLocationID, req.FromLocationID)
			if _, err := p.receive(ctx, tx, ps, line, resolved[i], req.lineWarehouse(line), loc, line.UnitCost); err != nil {
				return Transaction{}, err
			}
		}
	case TransactionTypeOut:
		for i, line := range req.Lines {
			loc := firstNonNil(line.LocationID, req.FromLocationID)
			if _, err := p.issue(ctx, tx, ps, line, resolved[i], req.lineWarehouse(line), loc); err != nil {
				return Transaction{}, err
			}
		}
	case TransactionTypeTransfer:
		for i, line := range req.Lines {
			rate, err := p.issue(ctx, tx, ps, line, resolved[i], req.WarehouseID, req.FromLocationID)
			if err != nil {
				return Transaction{}, err
			}
			if _, err := p.receive(ctx, tx, ps, line, resolved[i], *req.ToWarehouseID, req.ToLocationID, &rate); err != nil {
				return Transaction{}, err
			}
		}
	case TransactionTypeAdjustment:
		net := decimal.Zero
		for i, line := range req.Lines {
			if line.Qty.IsZero() {
				continue
			}
			wh := req.lineWarehouse(line)
			if line.Qty.IsPositive() {
				if _, err := p.receive(ctx, tx, ps, line, resolved[i], wh, line.LocationID, line.UnitCost); err != nil {
					return Transaction{}, err
				}
				net = net.Add(resolved[i].NormalizedQty)
				continue
			}
			if _, err := p.issue(ctx, tx, ps, line, resolved[i], wh, line.LocationID); err != nil {
				return Transaction{}, err
			}
			net = net.Sub(resolved[i].NormalizedQty)
		}
		ps.header.Type = adjustmentHeaderType(net)
	}

	return p.persist(ctx, tx, ps)
}

// Reverse posts the exact opposite of original, location by location.
func (p *Poster) Reverse(ctx context.Context, tx TxRepository, scope shared.Scope, original Transaction, note string) (Transaction, error) {
	if original.CompanyID != scope.CompanyID {
		return Transaction{}, fmt.Errorf("transaction %d: %w", original.ID, ErrNotFound)
	}
	if original.ReversalOf != nil {
		return Transaction{}, fmt.Errorf("transaction %s is itself a reversal: %w", original.Code, ErrInvalidRequest)
	}
	if id, found, err := tx.FindReversal(ctx, original.ID); err != nil {
		return Transaction{}, err
	} else if found {
		return Transaction{}, fmt.Errorf("transaction %s reversed by %d: %w", original.Code, id, ErrAlreadyReversed)
	}

	keys := make([]balanceKey, 0, len(original.Items))
	for _, item := range original.Items {
		keys = append(keys, balanceKey{itemID: item.ItemID, warehouseID: item.WarehouseID})
	}
	if err := p.lockKeys(ctx, tx, scope, keys); err != nil {
		return Transaction{}, err
	}

	ps := &posting{scope: scope}
	ps.header = Transaction{
		CompanyID:      scope.CompanyID,
		Type:           reversedType(original.Type),
		WarehouseID:    original.WarehouseID,
		ToWarehouseID:  original.ToWarehouseID,
		FromLocationID: original.ToLocationID,
		ToLocationID:   original.FromLocationID,
		ReferenceType:  "reversal",
		ReferenceID:    original.Code,
		Status:         StatusPosted,
		Note:           note,
		ReversalOf:     &original.ID,
		PostingDate:    p.now().UTC(),
		CreatedBy:      scope.ActorID,
	}
	if original.Type == TransactionTypeTransfer && original.ToWarehouseID != nil {
		from := original.WarehouseID
		ps.header.WarehouseID = *original.ToWarehouseID
		ps.header.ToWarehouseID = &from
	}

	for _, effect := range original.Locations {
		loc := effect.LocationID
		if _, err := p.allocator.Adjust(ctx, tx, scope, AdjustInput{
			ItemID:         effect.ItemID,
			WarehouseID:    effect.WarehouseID,
			LocationID:     &loc,
			QtyOnHandDelta: effect.QtyDelta.Neg(),
		}); err != nil {
			return Transaction{}, err
		}
		ps.addEffect(effect.ItemID, effect.WarehouseID, loc, effect.QtyDelta.Neg())
	}
	for _, item := range original.Items {
		before, err := tx.GetBalance(ctx, item.ItemID, item.WarehouseID)
		if err != nil {
			return Transaction{}, err
		}
		delta := item.NormalizedQty.Neg()
		var cost *decimal.Decimal
		if delta.IsPositive() {
			rate := item.ValuationRate
			cost = &rate
		}
		after, err := p.balances.ApplyDelta(ctx, tx, scope, item.ItemID, item.WarehouseID, delta, cost)
		if err != nil {
			return Transaction{}, err
		}
		ps.addItem(TransactionItem{
			ItemID:           item.ItemID,
			WarehouseID:      item.WarehouseID,
			InputQty:         item.InputQty.Neg(),
			InputPackagingID: item.InputPackagingID,
			ConversionFactor: item.ConversionFactor,
			NormalizedQty:    delta,
			ValuationRate:    item.ValuationRate,
			QtyBefore:        before.CurrentStock,
			QtyAfter:         after.CurrentStock,
			StockValueBefore: before.StockValue(),
			StockValueAfter:  after.StockValue(),
		})
	}
	return p.persist(ctx, tx, ps)
}

// receive adds stock at one location and returns the valuation rate used.
func (p *Poster) receive(ctx context.Context, tx TxRepository, ps *posting, line MovementLine, res UnitResolution, warehouseID int64, locationID *int64, unitCost *decimal.Decimal) (decimal.Decimal, error) {
	before, err := tx.GetBalance(ctx, line.ItemID, warehouseID)
	if err != nil {
		return decimal.Zero, err
	}
	loc, err := p.allocator.Adjust(ctx, tx, ps.scope, AdjustInput{
		ItemID:         line.ItemID,
		WarehouseID:    warehouseID,
		LocationID:     locationID,
		QtyOnHandDelta: res.NormalizedQty,
	})
	if err != nil {
		return decimal.Zero, err
	}
	if needsDefault(before, locationID, loc) {
		if err := tx.SetDefaultLocation(ctx, line.ItemID, warehouseID, loc); err != nil {
			return decimal.Zero, err
		}
	}
	after, err := p.balances.ApplyDelta(ctx, tx, ps.scope, line.ItemID, warehouseID, res.NormalizedQty, unitCost)
	if err != nil {
		return decimal.Zero, err
	}
	rate := before.AvgCost
	if unitCost != nil {
		rate = *unitCost
	}
	ps.addItem(TransactionItem{
		ItemID:           line.ItemID,
		WarehouseID:      warehouseID,
		InputQty:         line.Qty.Abs(),
		InputPackagingID: line.PackagingID,
		ConversionFactor: res.ConversionFactor,
		NormalizedQty:    res.NormalizedQty,
		ValuationRate:    rate,
		QtyBefore:        before.CurrentStock,
		QtyAfter:         after.CurrentStock,
		StockValueBefore: before.StockValue(),
		StockValueAfter:  after.StockValue(),
	})
	ps.addEffect(line.ItemID, warehouseID, loc, res.NormalizedQty)
	return rate, nil
}

// needsDefault reports whether a receipt into loc becomes the item's default:
// the first located receipt, or an unlocated one that fell back past a stale default.
func needsDefault(bal WarehouseBalance, explicit *int64, loc int64) bool {
	if bal.DefaultLocationID == nil {
		return true
	}
	return explicit == nil && *bal.DefaultLocationID != loc
}

// issue removes stock and returns the moving average it was valued at.
func (p *Poster) issue(ctx context.Context, tx TxRepository, ps *posting, line MovementLine, res UnitResolution, warehouseID int64, locationID *int64) (decimal.Decimal, error) {
	qty := res.NormalizedQty
	before, err := tx.GetBalance(ctx, line.ItemID, warehouseID)
	if err != nil {
		return decimal.Zero, err
	}
	if before.CurrentStock.LessThan(qty) {
		return decimal.Zero, fmt.Errorf("item %d warehouse %d has %s, needs %s: %w",
			line.ItemID, warehouseID, before.CurrentStock, qty, ErrInsufficientStockAcrossLocations)
	}
	var consumed []Consumption
	if len(line.Sources) > 0 {
		consumed, err = p.consumeSources(ctx, tx, ps.scope, line.ItemID, warehouseID, qty, line.Sources)
	} else {
		consumed, err = p.consume(ctx, tx, ps.scope, line.ItemID, warehouseID, qty, locationID)
	}
	if err != nil {
		return decimal.Zero, err
	}
	after, err := p.balances.ApplyDelta(ctx, tx, ps.scope, line.ItemID, warehouseID, qty.Neg(), nil)
	if err != nil {
		return decimal.Zero, err
	}
	ps.addItem(TransactionItem{
		ItemID:           line.ItemID,
		WarehouseID:      warehouseID,
		InputQty:         line.Qty.Abs().Neg(),
		InputPackagingID: line.PackagingID,
		ConversionFactor: res.ConversionFactor,
		NormalizedQty:    qty.Neg(),
		ValuationRate:    before.AvgCost,
		QtyBefore:        before.CurrentStock,
		QtyAfter:         after.CurrentStock,
		StockValueBefore: before.StockValue(),
		StockValueAfter:  after.StockValue(),
	})
	for _, c := range consumed {
		ps.addEffect(line.ItemID, warehouseID, c.LocationID, c.Quantity.Neg())
	}
	return before.AvgCost, nil
}

// consumeSources takes each pinned quantity from its own location.
func (p *Poster) consumeSources(ctx context.Context, tx TxRepository, scope shared.Scope, itemID, warehouseID int64, qty decimal.Decimal, sources []Consumption) ([]Consumption, error) {
	total := decimal.Zero
	for _, c := range sources {
		total = total.Add(c.Quantity)
	}
	if !total.Equal(qty) {
		return nil, fmt.Errorf("item %d sources hold %s, line needs %s: %w", itemID, total, qty, ErrInvalidQuantity)
	}
	out := make([]Consumption, 0, len(sources))
	for _, c := range sources {
		loc := c.LocationID
		if _, err := p.allocator.Adjust(ctx, tx, scope, AdjustInput{
			ItemID:         itemID,
			WarehouseID:    warehouseID,
			LocationID:     &loc,
			QtyOnHandDelta: c.Quantity.Neg(),
		}); err != nil {
			return nil, err
		}
		out = append(out, Consumption{LocationID: loc, Quantity: c.Quantity})
	}
	return out, nil
}

func (p *Poster) consume(ctx context.Context, tx TxRepository, scope shared.Scope, itemID, warehouseID int64, qty decimal.Decimal, locationID *int64) ([]Consumption, error) {
	if locationID != nil {
		loc, err := p.allocator.Adjust(ctx, tx, scope, AdjustInput{
			ItemID:         itemID,
			WarehouseID:    warehouseID,
			LocationID:     locationID,
			QtyOnHandDelta: qty.Neg(),
		})
		if err != nil {
			return nil, err
		}
		return []Consumption{{LocationID: loc, Quantity: qty}}, nil
	}
	plan, err := p.allocator.ConsumeFIFO(ctx, tx, scope, itemID, warehouseID, qty)
	if err == nil || !errors.Is(err, ErrInsufficientStockAcrossLocations) {
		return plan, err
	}
	if p.policy != DriftPolicyRepair || p.reconciler == nil {
		return nil, err
	}
	repaired, rerr := p.reconciler.RepairItem(ctx, tx, scope, itemID, warehouseID, RepairSourcePosting)
	if rerr != nil {
		return nil, rerr
	}
	if !repaired.IsPositive() {
		return nil, err
	}
	return p.allocator.ConsumeFIFO(ctx, tx, scope, itemID, warehouseID, qty)
}

func (p *Poster) prepare(ctx context.Context, tx TxRepository, scope shared.Scope, req MovementRequest) (*posting, error) {
	ps := &posting{
		scope:      scope,
		items:      make(map[int64]Item),
		warehouses: make(map[int64]Warehouse),
	}
	for _, id := range req.warehouseIDs() {
		wh, err := tx.GetWarehouse(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("warehouse %d: %w", id, err)
		}
		if wh.CompanyID != scope.CompanyID {
			return nil, fmt.Errorf("warehouse %d: %w", id, ErrWarehouseMismatch)
		}
		if !wh.IsActive {
			return nil, fmt.Errorf("warehouse %d inactive: %w", id, ErrInvalidRequest)
		}
		ps.warehouses[id] = wh
	}
	if req.Type == TransactionTypeTransfer && scope.HasBusinessUnit() {
		dest := ps.warehouses[*req.ToWarehouseID]
		if dest.BusinessUnitID == nil || *dest.BusinessUnitID != scope.BusinessUnitID {
			return nil, fmt.Errorf("destination warehouse %d: %w", dest.ID, ErrWarehouseMismatch)
		}
	}
	for _, line := range req.Lines {
		if _, ok := ps.items[line.ItemID]; ok {
			continue
		}
		item, err := tx.GetItem(ctx, line.ItemID)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", line.ItemID, err)
		}
		if item.CompanyID != scope.CompanyID {
			return nil, fmt.Errorf("item %d: %w", line.ItemID, ErrNotFound)
		}
		if !item.IsActive {
			return nil, fmt.Errorf("item %d inactive: %w", line.ItemID, ErrInvalidRequest)
		}
		ps.items[line.ItemID] = item
	}

	postingDate := req.PostingDate
	if postingDate.IsZero() {
		postingDate = p.now()
	}
	ps.header = Transaction{
		CompanyID:      scope.CompanyID,
		Type:           req.Type,
		WarehouseID:    req.WarehouseID,
		ToWarehouseID:  req.ToWarehouseID,
		FromLocationID: req.FromLocationID,
		ToLocationID:   req.ToLocationID,
		ReferenceType:  req.ReferenceType,
		ReferenceID:    req.ReferenceID,
		Status:         StatusPosted,
		Note:           req.Note,
		PostingDate:    postingDate.UTC(),
		CreatedBy:      scope.ActorID,
	}
	return ps, nil
}

func (p *Poster) resolveLines(ps *posting, req MovementRequest) ([]UnitResolution, error) {
	out := make([]UnitResolution, len(req.Lines))
	for i, line := range req.Lines {
		if line.Qty.IsZero() {
			continue
		}
		res, err := ResolveUnits(ps.items[line.ItemID], line.Qty.Abs(), line.PackagingID)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		if !res.NormalizedQty.IsPositive() {
			return nil, fmt.Errorf("line %d rounds to zero: %w", i+1, ErrInvalidQuantity)
		}
		out[i] = res
	}
	return out, nil
}

// lockKeys takes balance row locks in ascending (item, warehouse) order so
// that concurrent postings touching overlapping keys cannot deadlock.
func (p *Poster) lockKeys(ctx context.Context, tx TxRepository, scope shared.Scope, keys []balanceKey) error {
	slices.SortFunc(keys, compareKeys)
	keys = slices.Compact(keys)
	for _, k := range keys {
		if _, err := p.balances.Lock(ctx, tx, scope, k.itemID, k.warehouseID); err != nil {
			return err
		}
	}
	return nil
}

func (p *Poster) persist(ctx context.Context, tx TxRepository, ps *posting) (Transaction, error) {
	header := ps.header
	header.Code = newTransactionCode(header.Type)
	id, err := tx.InsertTransaction(ctx, header)
	if err != nil {
		return Transaction{}, err
	}
	header.ID = id
	if err := tx.InsertTransactionItems(ctx, id, header.Items); err != nil {
		return Transaction{}, err
	}
	if err := tx.InsertLocationEffects(ctx, id, header.Locations); err != nil {
		return Transaction{}, err
	}
	return header, nil
}

func (req MovementRequest) validate() error {
	if !req.Type.Valid() {
		return fmt.Errorf("type %q: %w", req.Type, ErrInvalidRequest)
	}
	if req.WarehouseID <= 0 {
		return fmt.Errorf("warehouse required: %w", ErrInvalidRequest)
	}
	if len(req.Lines) == 0 {
		return fmt.Errorf("no lines: %w", ErrInvalidRequest)
	}
	effective := 0
	for i, line := range req.Lines {
		if line.ItemID <= 0 {
			return fmt.Errorf("line %d item required: %w", i+1, ErrInvalidRequest)
		}
		if line.UnitCost != nil && line.UnitCost.IsNegative() {
			return fmt.Errorf("line %d: %w", i+1, ErrInvalidUnitCost)
		}
		if req.Type == TransactionTypeAdjustment {
			if !line.Qty.IsZero() {
				effective++
			}
			continue
		}
		if !line.Qty.IsPositive() {
			return fmt.Errorf("line %d qty %s: %w", i+1, line.Qty, ErrInvalidQuantity)
		}
		if len(line.Sources) > 0 {
			if req.Type != TransactionTypeOut || line.LocationID != nil {
				return fmt.Errorf("line %d: sources only apply to unlocated outbound lines: %w", i+1, ErrInvalidRequest)
			}
			for _, c := range line.Sources {
				if c.LocationID <= 0 || !c.Quantity.IsPositive() {
					return fmt.Errorf("line %d source %d qty %s: %w", i+1, c.LocationID, c.Quantity, ErrInvalidQuantity)
				}
			}
		}
		effective++
	}
	if effective == 0 {
		return ErrNoEffectiveLines
	}
	if req.Type != TransactionTypeTransfer {
		return nil
	}
	if req.ToWarehouseID == nil || *req.ToWarehouseID <= 0 {
		return fmt.Errorf("transfer destination required: %w", ErrInvalidRequest)
	}
	for i, line := range req.Lines {
		if line.WarehouseID != nil || line.LocationID != nil {
			return fmt.Errorf("line %d: transfer lines cannot override warehouse or location: %w", i+1, ErrInvalidRequest)
		}
	}
	if *req.ToWarehouseID == req.WarehouseID {
		if req.FromLocationID == nil || req.ToLocationID == nil || *req.FromLocationID == *req.ToLocationID {
			return fmt.Errorf("transfer source and destination must differ: %w", ErrInvalidRequest)
		}
	}
	return nil
}

func (req MovementRequest) lineWarehouse(line MovementLine) int64 {
	if line.WarehouseID != nil {
		return *line.WarehouseID
	}
	return req.WarehouseID
}

func (req MovementRequest) warehouseIDs() []int64 {
	ids := []int64{req.WarehouseID}
	if req.ToWarehouseID != nil {
		ids = append(ids, *req.ToWarehouseID)
	}
	for _, line := range req.Lines {
		if line.WarehouseID != nil {
			ids = append(ids, *line.WarehouseID)
		}
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

func (req MovementRequest) balanceKeys() []balanceKey {
	keys := make([]balanceKey, 0, len(req.Lines)*2)
	for _, line := range req.Lines {
		if line.Qty.IsZero() {
			continue
		}
		keys = append(keys, balanceKey{itemID: line.ItemID, warehouseID: req.lineWarehouse(line)})
		if req.Type == TransactionTypeTransfer {
			keys = append(keys, balanceKey{itemID: line.ItemID, warehouseID: *req.ToWarehouseID})
		}
	}
	return keys
}

func adjustmentHeaderType(net decimal.Decimal) TransactionType {
	switch {
	case net.IsPositive():
		return TransactionTypeIn
	case net.IsNegative():
		return TransactionTypeOut
	default:
		return TransactionTypeAdjustment
	}
}

func reversedType(t TransactionType) TransactionType {
	switch t {
	case TransactionTypeIn:
		return TransactionTypeOut
	case TransactionTypeOut:
		return TransactionTypeIn
	default:
		return t
	}
}

func newTransactionCode(t TransactionType) string {
	prefix := map[TransactionType]string{
		TransactionTypeIn:         "IN",
		TransactionTypeOut:        "OUT",
		TransactionTypeTransfer:   "TRF",
		TransactionTypeAdjustment: "ADJ",
	}[t]
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return fmt.Sprintf("%s-%s", prefix, id[:16])
}

func firstNonNil(ids ...*int64) *int64 {
	for _, id := range ids {
		if id != nil {
			return id
		}
	}
	return nil
}
