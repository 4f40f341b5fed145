package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	_ "github.com/odyssey-erp/odyssey-ledger/internal/testing/guard"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	cfg, err := app.LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, "IDR", cfg.BaseCurrency)
	require.True(t, cfg.SeedChart)
	require.False(t, cfg.IsProduction())
	require.Equal(t, "odyssey", cfg.StoreNamespace)
}

func TestLoadConfigRejectsBadSettings(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	_, err := app.LoadConfig()
	require.ErrorContains(t, err, "STORE_DRIVER")

	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("STOCK_BALANCE_MODE", "lazy")
	_, err = app.LoadConfig()
	require.ErrorContains(t, err, "STOCK_BALANCE_MODE")

	t.Setenv("STOCK_BALANCE_MODE", "replay")
	t.Setenv("ACCOUNT_ROLES", "treasury:1000")
	_, err = app.LoadConfig()
	require.Error(t, err)
}

func TestRoleOverridesRebindAccounts(t *testing.T) {
	cfg := memoryConfig()
	cfg.AccountRoles = "cash:" + accounting.DefaultRoleCodes()[accounting.RoleBank]
	svc, err := app.BuildServices(context.Background(), cfg, slog.Default(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	require.Equal(t, accounting.AccountID(accounting.DefaultRoleCodes()[accounting.RoleBank]), svc.Roles.Cash)
}

func TestBuildServicesFailsWithoutChart(t *testing.T) {
	cfg := memoryConfig()
	cfg.SeedChart = false
	_, err := app.BuildServices(context.Background(), cfg, slog.Default(), nil)
	require.ErrorContains(t, err, "resolve account roles")
}

func TestRouterServesLedgerAPI(t *testing.T) {
	cfg := memoryConfig()
	metrics := observability.NewMetrics()
	svc, err := app.BuildServices(context.Background(), cfg, slog.Default(), metrics.Registerer())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	metrics.MarkStore(cfg.StoreDriver)

	jobHandler := jobs.NewHandler(jobs.HandlerDeps{Runner: svc.Maintenance})
	router := app.NewRouter(app.NewHandlers(slog.Default(), cfg, svc, jobHandler, metrics))

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
		if body == "" {
			req = httptest.NewRequest(method, path, nil)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = do(http.MethodGet, "/finance/accounts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var accounts []accounting.Account
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accounts))
	require.Len(t, accounts, len(accounting.DefaultChart))

	rec = do(http.MethodPut, "/masterdata/items/WIDGET", `{"sku":"WIDGET","name":"Widget","unit":"pcs","is_active":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(http.MethodPost, "/jobs/tasks/"+jobs.TaskLedgerReconcile, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), `"trial_balanced":true`)

	rec = do(http.MethodGet, "/finance/reports/trial-balance", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.True(t, strings.Contains(body, `odyssey_http_requests_total{code="200",route="/healthz"} 1`), body)
	require.Contains(t, body, `odyssey_jobs_total{job="ledger:reconcile",status="success"} 1`)
	require.Contains(t, body, `odyssey_store_info{driver="memory"} 1`)
}

func TestBuildServicesOnRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := memoryConfig()
	cfg.StoreDriver = app.DriverRedis
	cfg.RedisAddr = mr.Addr()

	svc, err := app.BuildServices(context.Background(), cfg, slog.Default(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	require.NotNil(t, svc.Redis)

	accounts, err := svc.Ledger.ListAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, len(accounting.DefaultChart))

	// A second boot over the same data seeds nothing new.
	again, err := app.BuildServices(context.Background(), cfg, slog.Default(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = again.Close() })
	accounts, err = again.Ledger.ListAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, len(accounting.DefaultChart))
}

func TestBuildServicesRedisUnavailable(t *testing.T) {
	cfg := memoryConfig()
	cfg.StoreDriver = app.DriverRedis
	cfg.RedisAddr = "127.0.0.1:1"
	_, err := app.BuildServices(context.Background(), cfg, slog.Default(), nil)
	require.Error(t, err)
}

func memoryConfig() *app.Config {
	return &app.Config{
		AppEnv:           "test",
		StoreDriver:      app.DriverMemory,
		StoreNamespace:   "test",
		StockBalanceMode: "incremental",
		BaseCurrency:     "IDR",
		SeedChart:        true,
	}
}
