package production

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// PostingPort is the subset of the posting engine production drives.
type PostingPort interface {
	PostProductionIssue(ctx context.Context, evt posting.ProductionIssueEvent) (posting.Result, error)
	PostProductionOutput(ctx context.Context, evt posting.ProductionOutputEvent) (posting.Result, error)
}

// StockPort answers availability before materials are issued.
type StockPort interface {
	GetBalance(ctx context.Context, itemID, locationID string) (inventory.StockBalance, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates BOMs and production orders.
type Service struct {
	repo    RepositoryPort
	posting PostingPort
	stock   StockPort
	audit   AuditPort
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs production service.
func NewService(repo RepositoryPort, engine PostingPort, stock StockPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, posting: engine, stock: stock, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateBOMInput describes a bill of materials.
type CreateBOMInput struct {
	ItemID   string
	Note     string
	Lines    []BOMLine
	Activate bool
}

// CreateBOM stores a DRAFT BOM, or an ACTIVE one with in.Activate.
func (s *Service) CreateBOM(ctx context.Context, in CreateBOMInput) (BOM, error) {
	if in.ItemID == "" {
		return BOM{}, shared.Invalid("item_id", "required")
	}
	if len(in.Lines) == 0 {
		return BOM{}, shared.Invalid("lines", "minimal 1 line")
	}
	seen := make(map[string]bool, len(in.Lines))
	for i, line := range in.Lines {
		switch {
		case line.ItemID == "":
			return BOM{}, shared.Invalid("item_id", "line %d: required", i+1)
		case line.ItemID == in.ItemID:
			return BOM{}, shared.Invalid("item_id", "line %d: item cannot consume itself", i+1)
		case seen[line.ItemID]:
			return BOM{}, shared.Invalid("item_id", "line %d: duplicate component %s", i+1, line.ItemID)
		case !line.QtyPerUnit.IsPositive():
			return BOM{}, shared.Invalid("qty_per_unit", "line %d: must be positive", i+1)
		}
		seen[line.ItemID] = true
	}

	now := s.now().UTC()
	bom := BOM{
		ID: uuid.New(), ItemID: in.ItemID, Status: BOMStatusDraft, Note: in.Note, Lines: in.Lines,
		CreatedBy: shared.ActorFromContext(ctx), CreatedAt: now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.ListBOMs(ctx, in.ItemID)
		if err != nil {
			return err
		}
		bom.Version = len(existing) + 1
		number, err := tx.NextNumber(ctx, shared.KindBOM)
		if err != nil {
			return err
		}
		bom.Number = number
		if in.Activate {
			return s.activate(ctx, tx, &bom, existing, now)
		}
		return tx.PutBOM(ctx, bom)
	})
	if err != nil {
		return BOM{}, err
	}
	s.logger.Info("bom created", slog.String("bom", bom.Number), slog.String("item", bom.ItemID), slog.Int("version", bom.Version))
	s.recordAudit(ctx, "bom.create", "bom", bom.ID, map[string]any{"number": bom.Number, "item_id": bom.ItemID})
	return bom, nil
}

// ActivateBOM makes a BOM the active one for its item and deactivates the
// previous one.
func (s *Service) ActivateBOM(ctx context.Context, id uuid.UUID) (BOM, error) {
	var bom BOM
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		bom, err = tx.GetBOM(ctx, id)
		if err != nil {
			return err
		}
		if bom.Status == BOMStatusActive {
			return shared.InvalidTransition("bom", string(bom.Status), string(BOMStatusActive), string(BOMStatusDraft), string(BOMStatusInactive))
		}
		existing, err := tx.ListBOMs(ctx, bom.ItemID)
		if err != nil {
			return err
		}
		return s.activate(ctx, tx, &bom, existing, s.now().UTC())
	})
	if err != nil {
		return BOM{}, err
	}
	s.recordAudit(ctx, "bom.activate", "bom", bom.ID, map[string]any{"number": bom.Number, "item_id": bom.ItemID})
	return bom, nil
}

func (s *Service) activate(ctx context.Context, tx TxRepository, bom *BOM, existing []BOM, now time.Time) error {
	for _, other := range existing {
		if other.ID == bom.ID || other.Status != BOMStatusActive {
			continue
		}
		other.Status = BOMStatusInactive
		if err := tx.PutBOM(ctx, other); err != nil {
			return err
		}
	}
	bom.Status = BOMStatusActive
	bom.ActivatedAt = &now
	return tx.PutBOM(ctx, *bom)
}

// DeactivateBOM retires an active BOM.
func (s *Service) DeactivateBOM(ctx context.Context, id uuid.UUID) (BOM, error) {
	var bom BOM
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		bom, err = tx.GetBOM(ctx, id)
		if err != nil {
			return err
		}
		if bom.Status != BOMStatusActive {
			return shared.InvalidTransition("bom", string(bom.Status), string(BOMStatusInactive), string(BOMStatusActive))
		}
		bom.Status = BOMStatusInactive
		return tx.PutBOM(ctx, bom)
	})
	if err != nil {
		return BOM{}, err
	}
	s.recordAudit(ctx, "bom.deactivate", "bom", bom.ID, map[string]any{"number": bom.Number})
	return bom, nil
}

// ActiveBOM returns the active BOM of itemID or a NoActiveBOMError.
func (s *Service) ActiveBOM(ctx context.Context, itemID string) (BOM, error) {
	var bom BOM
	err := s.repo.View(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		bom, err = activeBOM(ctx, tx, itemID)
		return err
	})
	return bom, err
}

// HasActiveBOM reports whether itemID can be manufactured.
func (s *Service) HasActiveBOM(ctx context.Context, itemID string) (bool, error) {
	_, err := s.ActiveBOM(ctx, itemID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, shared.ErrNoActiveBOM):
		return false, nil
	}
	return false, err
}

func activeBOM(ctx context.Context, tx TxRepository, itemID string) (BOM, error) {
	boms, err := tx.ListBOMs(ctx, itemID)
	if err != nil {
		return BOM{}, err
	}
	for _, bom := range boms {
		if bom.Status == BOMStatusActive {
			return bom, nil
		}
	}
	return BOM{}, &shared.NoActiveBOMError{ItemID: itemID}
}

// ListBOMs returns the BOMs of itemID, or all of them.
func (s *Service) ListBOMs(ctx context.Context, itemID string) ([]BOM, error) {
	var out []BOM
	err := s.repo.View(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.ListBOMs(ctx, itemID)
		return err
	})
	return out, err
}

// CreateOrderInput describes a production order. MaterialLocationID
// defaults to LocationID.
type CreateOrderInput struct {
	ItemID             string
	LocationID         string
	MaterialLocationID string
	Qty                decimal.Decimal
	PlannedDate        time.Time
	SourceID           uuid.UUID
	SourceNo           string
}

// CreateProductionOrder expands the active BOM of the item into a PLANNED
// order. Called from another orchestrator it joins that transaction.
func (s *Service) CreateProductionOrder(ctx context.Context, in CreateOrderInput) (ProductionOrder, error) {
	if in.ItemID == "" {
		return ProductionOrder{}, shared.Invalid("item_id", "required")
	}
	if in.LocationID == "" {
		return ProductionOrder{}, shared.Invalid("location_id", "required")
	}
	if !in.Qty.IsPositive() {
		return ProductionOrder{}, shared.Invalid("qty", "must be positive")
	}
	materialLocation := in.MaterialLocationID
	if materialLocation == "" {
		materialLocation = in.LocationID
	}
	now := s.now().UTC()
	var order ProductionOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bom, err := activeBOM(ctx, tx, in.ItemID)
		if err != nil {
			return err
		}
		number, err := tx.NextNumber(ctx, shared.KindProductionOrder)
		if err != nil {
			return err
		}
		order = ProductionOrder{
			ID: uuid.New(), Number: number, ItemID: in.ItemID, BOMID: bom.ID, LocationID: in.LocationID,
			PlannedQty: in.Qty, ProducedQty: decimal.Zero, Status: OrderStatusPlanned,
			SourceID: in.SourceID, SourceNo: in.SourceNo, IssuedCost: decimal.Zero,
			PlannedDate: defaultTime(in.PlannedDate, now), CreatedBy: shared.ActorFromContext(ctx),
			CreatedAt: now, UpdatedAt: now,
		}
		for _, line := range bom.Lines {
			order.Materials = append(order.Materials, MaterialLine{
				ItemID: line.ItemID, LocationID: materialLocation, PlannedQty: line.QtyPerUnit.Mul(in.Qty),
				IssuedQty: decimal.Zero, IssuedCost: decimal.Zero,
			})
		}
		return tx.PutOrder(ctx, order)
	})
	if err != nil {
		return ProductionOrder{}, err
	}
	s.logger.Info("production order created", slog.String("order", order.Number), slog.String("item", order.ItemID), slog.String("qty", order.PlannedQty.String()))
	s.recordAudit(ctx, "prd.create", "production_order", order.ID, map[string]any{"number": order.Number, "source": order.SourceNo})
	return order, nil
}

// StartProduction moves a PLANNED order to IN_PROGRESS.
func (s *Service) StartProduction(ctx context.Context, id uuid.UUID) (ProductionOrder, error) {
	var order ProductionOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		if order.Status != OrderStatusPlanned {
			return shared.InvalidTransition("production order", string(order.Status), string(OrderStatusInProgress), string(OrderStatusPlanned))
		}
		now := s.now().UTC()
		order.Status = OrderStatusInProgress
		order.StartedAt = &now
		order.UpdatedAt = now
		return tx.PutOrder(ctx, order)
	})
	if err != nil {
		return ProductionOrder{}, err
	}
	s.recordAudit(ctx, "prd.start", "production_order", order.ID, map[string]any{"number": order.Number})
	return order, nil
}

// IssueInput overrides the issue cost per material item. Materials without
// an override are issued at their moving average cost.
type IssueInput struct {
	UnitCosts map[string]decimal.Decimal
}

// IssueMaterials issues every outstanding material of an IN_PROGRESS order
// in one posting. Nothing is issued unless every line is available.
func (s *Service) IssueMaterials(ctx context.Context, id uuid.UUID, in IssueInput) (ProductionOrder, error) {
	var order ProductionOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		if order.Status != OrderStatusInProgress {
			return shared.InvalidTransition("production order", string(order.Status), "ISSUE", string(OrderStatusInProgress))
		}

		var shortages []error
		evt := posting.ProductionIssueEvent{Document: s.document(ctx, order)}
		for _, m := range order.Materials {
			qty := m.Outstanding()
			if !qty.IsPositive() {
				continue
			}
			bal, err := s.stock.GetBalance(ctx, m.ItemID, m.LocationID)
			if err != nil {
				return err
			}
			if bal.BalanceQty.LessThan(qty) {
				shortages = append(shortages, &shared.InsufficientStockError{
					ItemID: m.ItemID, LocationID: m.LocationID, Requested: qty, Available: bal.BalanceQty,
				})
				continue
			}
			evt.Lines = append(evt.Lines, posting.MaterialLine{
				ItemID: m.ItemID, LocationID: m.LocationID, Qty: qty, UnitCost: in.UnitCosts[m.ItemID],
			})
		}
		if len(shortages) > 0 {
			return errors.Join(shortages...)
		}
		if len(evt.Lines) == 0 {
			return shared.Invalid("materials", "nothing left to issue on %s", order.Number)
		}

		res, err := s.posting.PostProductionIssue(ctx, evt)
		if err != nil {
			return err
		}
		cost := make(map[string]decimal.Decimal)
		for _, entry := range res.StockEntries {
			cost[entry.ItemID] = cost[entry.ItemID].Add(entry.TotalCost)
		}
		for i := range order.Materials {
			m := &order.Materials[i]
			qty := m.Outstanding()
			if !qty.IsPositive() {
				continue
			}
			m.IssuedQty = m.IssuedQty.Add(qty)
			m.IssuedCost = m.IssuedCost.Add(cost[m.ItemID])
		}
		order.IssuedCost = order.IssuedCost.Add(res.StockCost())
		order.JournalIDs = append(order.JournalIDs, res.JournalIDs()...)
		order.UpdatedAt = s.now().UTC()
		return tx.PutOrder(ctx, order)
	})
	if err != nil {
		return ProductionOrder{}, err
	}
	s.logger.Info("materials issued", slog.String("order", order.Number), slog.String("cost", order.IssuedCost.StringFixed(2)))
	s.recordAudit(ctx, "prd.issue", "production_order", order.ID, map[string]any{"number": order.Number, "cost": order.IssuedCost.StringFixed(2)})
	return order, nil
}

// CompleteInput describes the output of a production order. Zero Qty
// produces the planned quantity; zero UnitCost spreads the issued cost.
type CompleteInput struct {
	Qty        decimal.Decimal
	UnitCost   decimal.Decimal
	BatchNo    string
	ExpiryDate *time.Time
}

// CompleteProduction receives the finished goods of a fully issued order.
func (s *Service) CompleteProduction(ctx context.Context, id uuid.UUID, in CompleteInput) (ProductionOrder, error) {
	if in.Qty.IsNegative() {
		return ProductionOrder{}, shared.Invalid("qty", "must not be negative")
	}
	if in.UnitCost.IsNegative() {
		return ProductionOrder{}, shared.Invalid("unit_cost", "must not be negative")
	}
	var order ProductionOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		if order.Status != OrderStatusInProgress {
			return shared.InvalidTransition("production order", string(order.Status), string(OrderStatusCompleted), string(OrderStatusInProgress))
		}
		if !order.fullyIssued() {
			return shared.Invalid("materials", "%s has materials not yet issued", order.Number)
		}
		qty := in.Qty
		if qty.IsZero() {
			qty = order.PlannedQty
		}
		unitCost := in.UnitCost
		if unitCost.IsZero() {
			unitCost = order.IssuedCost.Div(qty).Round(6)
		}
		doc := s.document(ctx, order)
		res, err := s.posting.PostProductionOutput(ctx, posting.ProductionOutputEvent{
			Document: doc, ItemID: order.ItemID, LocationID: order.LocationID, Qty: qty, UnitCost: unitCost,
			BatchNo: in.BatchNo, ExpiryDate: in.ExpiryDate,
		})
		if err != nil {
			return err
		}
		now := s.now().UTC()
		order.ProducedQty = qty
		order.UnitCost = unitCost
		order.OutputCost = res.StockCost()
		order.JournalIDs = append(order.JournalIDs, res.JournalIDs()...)
		order.Status = OrderStatusCompleted
		order.CompletedAt = &now
		order.UpdatedAt = now
		return tx.PutOrder(ctx, order)
	})
	if err != nil {
		return ProductionOrder{}, err
	}
	s.logger.Info("production completed", slog.String("order", order.Number), slog.String("qty", order.ProducedQty.String()))
	s.recordAudit(ctx, "prd.complete", "production_order", order.ID, map[string]any{"number": order.Number, "cost": order.OutputCost.StringFixed(2)})
	return order, nil
}

// CancelProductionOrder cancels an order before any material is issued.
func (s *Service) CancelProductionOrder(ctx context.Context, id uuid.UUID) (ProductionOrder, error) {
	var order ProductionOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		return s.cancel(ctx, tx, &order)
	})
	if err != nil {
		return ProductionOrder{}, err
	}
	s.recordAudit(ctx, "prd.cancel", "production_order", order.ID, map[string]any{"number": order.Number})
	return order, nil
}

// CancelForSource cancels the open orders raised for a source document and
// returns how many were cancelled. Completed orders are left alone.
func (s *Service) CancelForSource(ctx context.Context, sourceID uuid.UUID) (int, error) {
	var cancelled []ProductionOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		orders, err := tx.ListOrders(ctx)
		if err != nil {
			return err
		}
		for _, order := range orders {
			if order.SourceID != sourceID || order.Status == OrderStatusCompleted || order.Status == OrderStatusCancelled {
				continue
			}
			if err := s.cancel(ctx, tx, &order); err != nil {
				return err
			}
			cancelled = append(cancelled, order)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, order := range cancelled {
		s.recordAudit(ctx, "prd.cancel", "production_order", order.ID, map[string]any{"number": order.Number, "source": order.SourceNo})
	}
	return len(cancelled), nil
}

func (s *Service) cancel(ctx context.Context, tx TxRepository, order *ProductionOrder) error {
	if order.Status != OrderStatusPlanned && order.Status != OrderStatusInProgress {
		return shared.InvalidTransition("production order", string(order.Status), string(OrderStatusCancelled), string(OrderStatusPlanned), string(OrderStatusInProgress))
	}
	if order.anyIssued() {
		return shared.InvalidTransition("production order", "ISSUED", string(OrderStatusCancelled), string(OrderStatusPlanned))
	}
	order.Status = OrderStatusCancelled
	order.UpdatedAt = s.now().UTC()
	return tx.PutOrder(ctx, *order)
}

// GetProductionOrder loads an order.
func (s *Service) GetProductionOrder(ctx context.Context, id uuid.UUID) (ProductionOrder, error) {
	var order ProductionOrder
	err := s.repo.View(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.GetOrder(ctx, id)
		return err
	})
	return order, err
}

// OrderFilter narrows ListProductionOrders. Zero fields match everything.
type OrderFilter struct {
	Status   OrderStatus
	SourceID uuid.UUID
}

// ListProductionOrders returns the orders matching filter.
func (s *Service) ListProductionOrders(ctx context.Context, filter OrderFilter) ([]ProductionOrder, error) {
	var out []ProductionOrder
	err := s.repo.View(ctx, func(ctx context.Context, tx TxRepository) error {
		orders, err := tx.ListOrders(ctx)
		if err != nil {
			return err
		}
		for _, order := range orders {
			if filter.Status != "" && order.Status != filter.Status {
				continue
			}
			if filter.SourceID != uuid.Nil && order.SourceID != filter.SourceID {
				continue
			}
			out = append(out, order)
		}
		return nil
	})
	return out, err
}

func (s *Service) document(ctx context.Context, order ProductionOrder) posting.Document {
	note := order.ItemID
	if order.SourceNo != "" {
		note += " for " + order.SourceNo
	}
	return posting.Document{
		ID: order.ID, Number: order.Number, Date: s.now().UTC(), CreatedBy: shared.ActorFromContext(ctx), Note: note,
	}
}

func (s *Service) recordAudit(ctx context.Context, action, entity string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: entity, EntityID: id.String(), Meta: meta, At: s.now().UTC()}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func defaultTime(v, fallback time.Time) time.Time {
	if v.IsZero() {
		return fallback
	}
	return v
}
