package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reports"
	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/testing/ledgertest"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

func newMaintenance(t *testing.T) (*ledgertest.Fixture, *jobs.Maintenance, *prometheus.Registry) {
	t.Helper()
	f := ledgertest.New(t)
	registry := prometheus.NewRegistry()
	m := jobs.NewMaintenance(jobs.MaintenanceDeps{
		Ledger:  f.Ledger,
		Stock:   f.Stock,
		Metrics: jobmetrics.NewMetrics(registry),
		Logger:  slog.Default(),
	})
	return f, m, registry
}

func TestReconcileKeepsConsistentState(t *testing.T) {
	f, m, registry := newMaintenance(t)
	f.Receive(t, "WIDGET", "WH1", "5", "2")

	report, err := m.Reconcile(context.Background())
	require.NoError(t, err)
	require.True(t, report.OK())
	require.True(t, report.TrialBalanced)
	require.True(t, report.SheetBalanced)

	bal := f.OnHand(t, "WIDGET", "WH1")
	require.Equal(t, "5", bal.BalanceQty.String())
	require.Equal(t, "10.00", bal.StockValue.StringFixed(2))
	f.AssertBalanced(t)

	// reconcile, both recalculations and the integrity check.
	count, err := testutil.GatherAndCount(registry, "odyssey_jobs_total")
	require.NoError(t, err)
	require.Equal(t, 4, count)
}

func TestRevalueReportsStockValue(t *testing.T) {
	f, m, _ := newMaintenance(t)
	f.Receive(t, "WIDGET", "WH1", "5", "2")
	f.Receive(t, "BOLT", "WH2", "10", "0.5")

	val, err := m.Revalue(context.Background())
	require.NoError(t, err)
	require.Len(t, val.Locations, 2)
	require.Equal(t, "15.00", val.TotalValue.StringFixed(2))
}

type stubLedger struct {
	tb reports.TrialBalance
	bs reports.BalanceSheet
}

func (s stubLedger) RecalculateAllBalances(context.Context) (int, error) { return 0, nil }

func (s stubLedger) TrialBalance(context.Context) (reports.TrialBalance, error) { return s.tb, nil }

func (s stubLedger) BalanceSheet(context.Context) (reports.BalanceSheet, error) { return s.bs, nil }

type stubStock struct {
	balances []inventory.StockBalance
	err      error
}

func (s stubStock) RecalculateAllBalances(context.Context) (int, error) { return 0, s.err }

func (s stubStock) ListBalances(context.Context) ([]inventory.StockBalance, error) {
	return s.balances, nil
}

func (s stubStock) ValuationReport(context.Context) (inventory.Valuation, error) {
	return inventory.Valuation{}, nil
}

func TestCheckIntegrityFlagsAnomalies(t *testing.T) {
	stock := stubStock{balances: []inventory.StockBalance{
		{ItemID: "WIDGET", LocationID: "WH1", BalanceQty: decimal.NewFromInt(-2)},
		{ItemID: "BOLT", LocationID: "WH1", BalanceQty: decimal.NewFromInt(3)},
	}}
	registry := prometheus.NewRegistry()
	m := jobs.NewMaintenance(jobs.MaintenanceDeps{
		Ledger:  stubLedger{tb: reports.TrialBalance{IsBalanced: false}, bs: reports.BalanceSheet{IsBalanced: true}},
		Stock:   stock,
		Metrics: jobmetrics.NewMetrics(registry),
	})

	report, err := m.CheckIntegrity(context.Background())
	require.NoError(t, err)
	require.False(t, report.OK())
	require.Equal(t, 2, report.Anomalies)
	require.Equal(t, []string{"WIDGET@WH1"}, report.NegativeStock)

	count, err := testutil.GatherAndCount(registry, "odyssey_ledger_anomalies_total")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	lenient := jobs.NewMaintenance(jobs.MaintenanceDeps{
		Ledger:             stubLedger{tb: reports.TrialBalance{IsBalanced: true}, bs: reports.BalanceSheet{IsBalanced: true}},
		Stock:              stock,
		AllowNegativeStock: true,
	})
	report, err = lenient.CheckIntegrity(context.Background())
	require.NoError(t, err)
	require.True(t, report.OK())
}

func TestReconcileSurfacesRecalculationFailure(t *testing.T) {
	boom := errors.New("store unavailable")
	m := jobs.NewMaintenance(jobs.MaintenanceDeps{
		Ledger: stubLedger{tb: reports.TrialBalance{IsBalanced: true}, bs: reports.BalanceSheet{IsBalanced: true}},
		Stock:  stubStock{err: boom},
	})
	_, err := m.Reconcile(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestHandlersCoverEveryTask(t *testing.T) {
	_, m, _ := newMaintenance(t)
	handlers := m.Handlers()
	require.Len(t, handlers, len(jobs.TaskNames))

	task := asynq.NewTask(jobs.TaskLedgerIntegrity, []byte("{"))
	err := handlers[0].Handler(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)

	task, err = jobs.NewTask(jobs.TaskLedgerIntegrity, jobs.Payload{RequestedBy: "test"})
	require.NoError(t, err)
	require.NoError(t, handlers[0].Handler(context.Background(), task))
}

func TestNewTaskRejectsUnknownName(t *testing.T) {
	_, err := jobs.NewTask("mail:send", jobs.Payload{})
	require.Error(t, err)

	cron, err := jobs.DefaultCron()
	require.NoError(t, err)
	require.Len(t, cron, 3)
	for _, c := range cron {
		require.True(t, jobs.KnownTask(c.Task.Type()))
	}
}

type stubQueue struct {
	names []string
}

func (s *stubQueue) Enqueue(_ context.Context, name string, _ jobs.Payload) (*asynq.TaskInfo, error) {
	s.names = append(s.names, name)
	return &asynq.TaskInfo{ID: "task-1", Queue: jobs.QueueDefault, Type: name}, nil
}

type stubInspector struct{}

func (stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return &asynq.QueueInfo{Queue: queue, Pending: 3, Retry: 1}, nil
}

func TestHandlerRunsInlineWithoutQueue(t *testing.T) {
	_, m, _ := newMaintenance(t)
	r := chi.NewRouter()
	jobs.NewHandler(jobs.HandlerDeps{Runner: m}).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/tasks/"+jobs.TaskLedgerIntegrity, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Task   string               `json:"task"`
		Result jobs.IntegrityReport `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, jobs.TaskLedgerIntegrity, out.Task)
	require.True(t, out.Result.TrialBalanced)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/tasks/mail:send", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"inline":true`)
}

func TestHandlerEnqueuesWithQueue(t *testing.T) {
	queue := &stubQueue{}
	r := chi.NewRouter()
	jobs.NewHandler(jobs.HandlerDeps{Queue: queue, Inspector: stubInspector{}}).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/tasks/"+jobs.TaskLedgerReconcile, nil))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), `"id":"task-1"`)
	require.Equal(t, []string{jobs.TaskLedgerReconcile}, queue.names)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"pending":3`)
}
