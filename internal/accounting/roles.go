package accounting

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Role names a ledger purpose the posting engine writes to.
type Role string

const (
	RoleCash            Role = "cash"
	RoleBank            Role = "bank"
	RoleAR              Role = "ar"
	RoleAP              Role = "ap"
	RoleInventory       Role = "inventory"
	RoleRawMaterials    Role = "raw_materials"
	RoleWIP             Role = "wip"
	RoleFinishedGoods   Role = "finished_goods"
	RoleCOGS            Role = "cogs"
	RoleSalesRevenue    Role = "sales_revenue"
	RoleSalesReturns    Role = "sales_returns"
	RoleVATPayable      Role = "vat_payable"
	RoleVATInput        Role = "vat_input"
	RoleInventoryGain   Role = "inventory_gain"
	RoleInventoryLoss   Role = "inventory_loss"
	RoleOpeningEquity   Role = "opening_equity"
	RolePurchaseExpense Role = "purchase_expense"
)

// ChartAccount is one row of the seeded chart of accounts.
type ChartAccount struct {
	Code string
	Name string
	Type AccountType
	Role Role
}

// DefaultChart is seeded on first start and backs the default role table.
var DefaultChart = []ChartAccount{
	{Code: "1000", Name: "Cash on Hand", Type: AccountTypeAsset, Role: RoleCash},
	{Code: "1010", Name: "Bank", Type: AccountTypeAsset, Role: RoleBank},
	{Code: "1100", Name: "Accounts Receivable", Type: AccountTypeAsset, Role: RoleAR},
	{Code: "1200", Name: "Inventory", Type: AccountTypeAsset, Role: RoleInventory},
	{Code: "1210", Name: "Raw Materials", Type: AccountTypeAsset, Role: RoleRawMaterials},
	{Code: "1220", Name: "Work in Progress", Type: AccountTypeAsset, Role: RoleWIP},
	{Code: "1230", Name: "Finished Goods", Type: AccountTypeAsset, Role: RoleFinishedGoods},
	{Code: "1300", Name: "VAT Input", Type: AccountTypeAsset, Role: RoleVATInput},
	{Code: "2000", Name: "Accounts Payable", Type: AccountTypeLiability, Role: RoleAP},
	{Code: "2100", Name: "VAT Payable", Type: AccountTypeLiability, Role: RoleVATPayable},
	{Code: "3000", Name: "Owner Equity", Type: AccountTypeEquity},
	{Code: "3100", Name: "Opening Balance Equity", Type: AccountTypeEquity, Role: RoleOpeningEquity},
	{Code: "4000", Name: "Sales Revenue", Type: AccountTypeIncome, Role: RoleSalesRevenue},
	{Code: "4100", Name: "Sales Returns", Type: AccountTypeIncome, Role: RoleSalesReturns},
	{Code: "4200", Name: "Inventory Gain", Type: AccountTypeIncome, Role: RoleInventoryGain},
	{Code: "5000", Name: "Cost of Goods Sold", Type: AccountTypeExpense, Role: RoleCOGS},
	{Code: "5100", Name: "Inventory Loss", Type: AccountTypeExpense, Role: RoleInventoryLoss},
	{Code: "5200", Name: "Purchase Expense", Type: AccountTypeExpense, Role: RolePurchaseExpense},
}

// RoleTable resolves every role to a ledger account.
type RoleTable struct {
	Cash            uuid.UUID
	Bank            uuid.UUID
	AR              uuid.UUID
	AP              uuid.UUID
	Inventory       uuid.UUID
	RawMaterials    uuid.UUID
	WIP             uuid.UUID
	FinishedGoods   uuid.UUID
	COGS            uuid.UUID
	SalesRevenue    uuid.UUID
	SalesReturns    uuid.UUID
	VATPayable      uuid.UUID
	VATInput        uuid.UUID
	InventoryGain   uuid.UUID
	InventoryLoss   uuid.UUID
	OpeningEquity   uuid.UUID
	PurchaseExpense uuid.UUID
}

func (t *RoleTable) slots() map[Role]*uuid.UUID {
	return map[Role]*uuid.UUID{
		RoleCash:            &t.Cash,
		RoleBank:            &t.Bank,
		RoleAR:              &t.AR,
		RoleAP:              &t.AP,
		RoleInventory:       &t.Inventory,
		RoleRawMaterials:    &t.RawMaterials,
		RoleWIP:             &t.WIP,
		RoleFinishedGoods:   &t.FinishedGoods,
		RoleCOGS:            &t.COGS,
		RoleSalesRevenue:    &t.SalesRevenue,
		RoleSalesReturns:    &t.SalesReturns,
		RoleVATPayable:      &t.VATPayable,
		RoleVATInput:        &t.VATInput,
		RoleInventoryGain:   &t.InventoryGain,
		RoleInventoryLoss:   &t.InventoryLoss,
		RoleOpeningEquity:   &t.OpeningEquity,
		RolePurchaseExpense: &t.PurchaseExpense,
	}
}

// Account returns the account bound to role.
func (t RoleTable) Account(role Role) (uuid.UUID, error) {
	slot, ok := t.slots()[role]
	if !ok {
		return uuid.Nil, shared.Invalid("role", "unknown role %q", role)
	}
	if *slot == uuid.Nil {
		return uuid.Nil, shared.Invalid("role", "role %q is not mapped", role)
	}
	return *slot, nil
}

// Roles lists every known role in stable order.
func Roles() []Role {
	var t RoleTable
	out := make([]Role, 0, 17)
	for role := range t.slots() {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DefaultRoleCodes maps each role to its DefaultChart account code.
func DefaultRoleCodes() map[Role]string {
	out := make(map[Role]string)
	for _, acc := range DefaultChart {
		if acc.Role != "" {
			out[acc.Role] = acc.Code
		}
	}
	return out
}

// ParseRoleOverrides parses "role:code,role:code" pairs.
func ParseRoleOverrides(raw string) (map[Role]string, error) {
	out := make(map[Role]string)
	var known RoleTable
	slots := known.slots()
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		role, code, ok := strings.Cut(pair, ":")
		if !ok || strings.TrimSpace(code) == "" {
			return nil, fmt.Errorf("accounting: invalid role override %q", pair)
		}
		r := Role(strings.ToLower(strings.TrimSpace(role)))
		if _, exists := slots[r]; !exists {
			return nil, fmt.Errorf("accounting: unknown role %q", role)
		}
		out[r] = strings.TrimSpace(code)
	}
	return out, nil
}

// NewRoleTable binds roles to account codes. Every role must be present in codes.
func NewRoleTable(codes map[Role]string) (RoleTable, error) {
	var table RoleTable
	for role, slot := range table.slots() {
		code, ok := codes[role]
		if !ok || code == "" {
			return RoleTable{}, fmt.Errorf("accounting: role %q has no account", role)
		}
		*slot = AccountID(code)
	}
	return table, nil
}
