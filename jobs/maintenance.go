package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reports"
	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

// LedgerPort is the accounting surface used by maintenance jobs.
type LedgerPort interface {
	RecalculateAllBalances(ctx context.Context) (int, error)
	TrialBalance(ctx context.Context) (reports.TrialBalance, error)
	BalanceSheet(ctx context.Context) (reports.BalanceSheet, error)
}

// StockPort is the stock ledger surface used by maintenance jobs.
type StockPort interface {
	RecalculateAllBalances(ctx context.Context) (int, error)
	ListBalances(ctx context.Context) ([]inventory.StockBalance, error)
	ValuationReport(ctx context.Context) (inventory.Valuation, error)
}

// MaintenanceDeps bundles the collaborators of Maintenance.
type MaintenanceDeps struct {
	Ledger             LedgerPort
	Stock              StockPort
	Metrics            *jobmetrics.Metrics
	Logger             *slog.Logger
	AllowNegativeStock bool
}

// Maintenance runs ledger and stock upkeep jobs.
type Maintenance struct {
	ledger        LedgerPort
	stock         StockPort
	metrics       *jobmetrics.Metrics
	logger        *slog.Logger
	allowNegative bool
}

// NewMaintenance wires the maintenance jobs.
func NewMaintenance(deps MaintenanceDeps) *Maintenance {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Maintenance{
		ledger:        deps.Ledger,
		stock:         deps.Stock,
		metrics:       deps.Metrics,
		logger:        logger,
		allowNegative: deps.AllowNegativeStock,
	}
}

// IntegrityReport summarises one integrity run.
type IntegrityReport struct {
	TrialBalanced bool     `json:"trial_balanced"`
	SheetBalanced bool     `json:"sheet_balanced"`
	NegativeStock []string `json:"negative_stock,omitempty"`
	Anomalies     int      `json:"anomalies"`
}

// OK reports whether the run found nothing to flag.
func (r IntegrityReport) OK() bool { return r.Anomalies == 0 }

// RecalculateLedger rebuilds account balances.
func (m *Maintenance) RecalculateLedger(ctx context.Context) error {
	tracker := m.metrics.Track(TaskLedgerRecalculate)
	n, err := m.ledger.RecalculateAllBalances(ctx)
	if err == nil {
		m.logger.Info("ledger recalculated", slog.String("job", TaskLedgerRecalculate), slog.Int("accounts", n))
	}
	return tracker.End(err)
}

// RecalculateStock rebuilds stock balances.
func (m *Maintenance) RecalculateStock(ctx context.Context) error {
	tracker := m.metrics.Track(TaskStockRecalculate)
	n, err := m.stock.RecalculateAllBalances(ctx)
	if err == nil {
		m.logger.Info("stock recalculated", slog.String("job", TaskStockRecalculate), slog.Int("pairs", n))
	}
	return tracker.End(err)
}

// Revalue computes the stock valuation and logs it per location.
func (m *Maintenance) Revalue(ctx context.Context) (inventory.Valuation, error) {
	tracker := m.metrics.Track(TaskStockRevaluation)
	report, err := m.stock.ValuationReport(ctx)
	if err != nil {
		return inventory.Valuation{}, tracker.End(err)
	}
	for _, row := range report.Locations {
		m.logger.Info("stock valuation",
			slog.String("job", TaskStockRevaluation),
			slog.String("location", row.LocationID),
			slog.Int("items", row.Items),
			slog.String("value", row.StockValue.StringFixed(2)),
		)
	}
	return report, tracker.End(nil)
}

// CheckIntegrity builds the trial balance and balance sheet concurrently and
// scans stock balances for negative quantities.
func (m *Maintenance) CheckIntegrity(ctx context.Context) (IntegrityReport, error) {
	tracker := m.metrics.Track(TaskLedgerIntegrity)
	var (
		tb       reports.TrialBalance
		bs       reports.BalanceSheet
		balances []inventory.StockBalance
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tb, err = m.ledger.TrialBalance(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		bs, err = m.ledger.BalanceSheet(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		balances, err = m.stock.ListBalances(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return IntegrityReport{}, tracker.End(err)
	}

	report := IntegrityReport{TrialBalanced: tb.IsBalanced, SheetBalanced: bs.IsBalanced}
	if !tb.IsBalanced {
		report.Anomalies++
		m.metrics.AddAnomalies("trial_balance", 1)
		m.logger.Warn("trial balance out of balance",
			slog.String("debit", tb.TotalDebit.StringFixed(2)),
			slog.String("credit", tb.TotalCredit.StringFixed(2)),
		)
	}
	if !bs.IsBalanced {
		report.Anomalies++
		m.metrics.AddAnomalies("balance_sheet", 1)
		m.logger.Warn("accounting equation does not hold",
			slog.String("assets", bs.Assets.Total.StringFixed(2)),
			slog.String("liabilities_equity", bs.TotalLiabilitiesAndEquity.StringFixed(2)),
		)
	}
	if !m.allowNegative {
		for _, bal := range balances {
			if bal.BalanceQty.IsNegative() {
				report.NegativeStock = append(report.NegativeStock, bal.ItemID+"@"+bal.LocationID)
			}
		}
		if n := len(report.NegativeStock); n > 0 {
			report.Anomalies += n
			m.metrics.AddAnomalies("negative_stock", n)
			m.logger.Warn("negative stock balances", slog.Any("pairs", report.NegativeStock))
		}
	}
	m.logger.Info("ledger integrity checked", slog.String("job", TaskLedgerIntegrity), slog.Int("anomalies", report.Anomalies))
	return report, tracker.End(nil)
}

// Reconcile recalculates both ledgers concurrently and then checks integrity.
func (m *Maintenance) Reconcile(ctx context.Context) (IntegrityReport, error) {
	tracker := m.metrics.Track(TaskLedgerReconcile)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.RecalculateLedger(gctx) })
	g.Go(func() error { return m.RecalculateStock(gctx) })
	if err := g.Wait(); err != nil {
		return IntegrityReport{}, tracker.End(fmt.Errorf("jobs: reconcile: %w", err))
	}
	report, err := m.CheckIntegrity(ctx)
	return report, tracker.End(err)
}

// Run executes a task by name. Used by the HTTP handler when no queue is configured.
func (m *Maintenance) Run(ctx context.Context, name string) (any, error) {
	switch name {
	case TaskLedgerRecalculate:
		return nil, m.RecalculateLedger(ctx)
	case TaskStockRecalculate:
		return nil, m.RecalculateStock(ctx)
	case TaskStockRevaluation:
		return m.Revalue(ctx)
	case TaskLedgerIntegrity:
		return m.CheckIntegrity(ctx)
	case TaskLedgerReconcile:
		return m.Reconcile(ctx)
	}
	return nil, fmt.Errorf("jobs: unsupported task %q", name)
}

// Handlers exposes every maintenance task as an Asynq handler.
func (m *Maintenance) Handlers() []TaskHandler {
	out := make([]TaskHandler, 0, len(TaskNames))
	for _, name := range TaskNames {
		out = append(out, TaskHandler{Type: name, Handler: m.handle})
	}
	return out
}

func (m *Maintenance) handle(ctx context.Context, t *asynq.Task) error {
	payload, err := decodePayload(t)
	if err != nil {
		return err
	}
	m.logger.Info("maintenance task started", slog.String("job", t.Type()), slog.String("requested_by", payload.RequestedBy))
	_, err = m.Run(ctx, t.Type())
	return err
}
