package production

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BOMStatus enumerates bill of materials states.
type BOMStatus string

const (
	BOMStatusDraft    BOMStatus = "DRAFT"
	BOMStatusActive   BOMStatus = "ACTIVE"
	BOMStatusInactive BOMStatus = "INACTIVE"
)

// BOM lists the materials consumed per unit of a manufactured item.
// At most one BOM per item is ACTIVE.
type BOM struct {
	ID          uuid.UUID  `json:"id"`
	Number      string     `json:"number"`
	ItemID      string     `json:"item_id"`
	Version     int        `json:"version"`
	Status      BOMStatus  `json:"status"`
	Note        string     `json:"note,omitempty"`
	Lines       []BOMLine  `json:"lines"`
	CreatedBy   string     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
}

// BOMLine is one component of a BOM.
type BOMLine struct {
	ItemID     string          `json:"item_id"`
	QtyPerUnit decimal.Decimal `json:"qty_per_unit"`
}

// OrderStatus enumerates production order states.
type OrderStatus string

const (
	OrderStatusPlanned    OrderStatus = "PLANNED"
	OrderStatusInProgress OrderStatus = "IN_PROGRESS"
	OrderStatusCompleted  OrderStatus = "COMPLETED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// ProductionOrder converts materials into one finished item.
type ProductionOrder struct {
	ID          uuid.UUID       `json:"id"`
	Number      string          `json:"number"`
	ItemID      string          `json:"item_id"`
	BOMID       uuid.UUID       `json:"bom_id"`
	LocationID  string          `json:"location_id"`
	PlannedQty  decimal.Decimal `json:"planned_qty"`
	ProducedQty decimal.Decimal `json:"produced_qty"`
	Status      OrderStatus     `json:"status"`
	SourceID    uuid.UUID       `json:"source_id,omitempty"`
	SourceNo    string          `json:"source_no,omitempty"`
	Materials   []MaterialLine  `json:"materials"`
	IssuedCost  decimal.Decimal `json:"issued_cost"`
	OutputCost  decimal.Decimal `json:"output_cost"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	JournalIDs  []uuid.UUID     `json:"journal_ids,omitempty"`
	PlannedDate time.Time       `json:"planned_date"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	CreatedBy   string          `json:"created_by"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// MaterialLine is one component requirement of a production order.
type MaterialLine struct {
	ItemID     string          `json:"item_id"`
	LocationID string          `json:"location_id"`
	PlannedQty decimal.Decimal `json:"planned_qty"`
	IssuedQty  decimal.Decimal `json:"issued_qty"`
	IssuedCost decimal.Decimal `json:"issued_cost"`
}

// Outstanding returns the quantity still to be issued.
func (m MaterialLine) Outstanding() decimal.Decimal {
	rest := m.PlannedQty.Sub(m.IssuedQty)
	if rest.IsNegative() {
		return decimal.Zero
	}
	return rest
}

func (o ProductionOrder) fullyIssued() bool {
	for _, m := range o.Materials {
		if m.Outstanding().IsPositive() {
			return false
		}
	}
	return true
}

func (o ProductionOrder) anyIssued() bool {
	for _, m := range o.Materials {
		if m.IssuedQty.IsPositive() {
			return true
		}
	}
	return false
}
