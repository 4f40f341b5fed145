package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/kv"
	"github.com/odyssey-erp/odyssey-ledger/internal/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/procurement"
	"github.com/odyssey-erp/odyssey-ledger/internal/production"
	"github.com/odyssey-erp/odyssey-ledger/internal/sales"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

// Services holds every wired domain service sharing one store.
type Services struct {
	Store       kv.Store
	Redis       *redis.Client
	Audit       *shared.AuditLogger
	Directory   *masterdata.Directory
	Ledger      *accounting.Service
	Stock       *inventory.Service
	Engine      *posting.Engine
	Documents   *posting.StockDocuments
	Procurement *procurement.Service
	Production  *production.Service
	Sales       *sales.Service
	Maintenance *jobs.Maintenance
	Roles       accounting.RoleTable
}

// BuildServices opens the configured store, seeds the chart when asked and
// wires the ledger, stock ledger, posting engine and orchestrators. A nil
// registerer skips metrics.
func BuildServices(ctx context.Context, cfg *Config, logger *slog.Logger, registerer prometheus.Registerer) (*Services, error) {
	if logger == nil {
		logger = slog.Default()
	}
	store, client, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	svc, err := wire(ctx, cfg, store, logger, registerer)
	if err != nil {
		_ = store.Close()
		if client != nil {
			_ = client.Close()
		}
		return nil, err
	}
	svc.Redis = client
	logger.Info("services ready",
		slog.String("store", cfg.StoreDriver),
		slog.String("balance_mode", cfg.StockBalanceMode),
		slog.String("base_currency", cfg.BaseCurrency),
	)
	return svc, nil
}

func openStore(ctx context.Context, cfg *Config) (kv.Store, *redis.Client, error) {
	switch cfg.StoreDriver {
	case DriverMemory:
		return kv.NewMemoryStore(), nil, nil
	case DriverRedis:
		client, err := cache.New(ctx, cfg.Redis())
		if err != nil {
			return nil, nil, err
		}
		return kv.NewRedisStore(client, kv.RedisOptions{
			Namespace: cfg.StoreNamespace,
			LockTTL:   cfg.StoreLockTTL,
			LockWait:  cfg.StoreLockWait,
		}), client, nil
	case DriverPostgres:
		pool, err := db.Open(ctx, cfg.Postgres())
		if err != nil {
			return nil, nil, err
		}
		if err := kv.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return kv.NewPostgresStore(pool, cfg.StoreNamespace), nil, nil
	}
	return nil, nil, fmt.Errorf("app: unsupported STORE_DRIVER %q", cfg.StoreDriver)
}

func wire(ctx context.Context, cfg *Config, store kv.Store, logger *slog.Logger, registerer prometheus.Registerer) (*Services, error) {
	audit := shared.NewAuditLogger(store)
	directory := masterdata.NewService(masterdata.NewRepository(store), cfg.BaseCurrency)
	ledger := accounting.NewService(accounting.NewRepository(store), audit, logger)
	stock := inventory.NewService(inventory.NewRepository(store), cfg.StockConfig(), logger)

	if cfg.SeedChart {
		created, err := ledger.SeedChart(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: seed chart: %w", err)
		}
		if created > 0 {
			logger.Info("chart of accounts seeded", slog.Int("accounts", created))
		}
	}
	overrides, err := cfg.RoleOverrides()
	if err != nil {
		return nil, err
	}
	roles, err := ledger.ResolveRoles(ctx, overrides)
	if err != nil {
		return nil, fmt.Errorf("app: resolve account roles: %w", err)
	}

	engine := posting.NewEngine(store, ledger, stock, directory, roles, logger)
	var jm *jobmetrics.Metrics
	if registerer != nil {
		engine.WithMetrics(posting.NewMetrics(registerer))
		jm = jobmetrics.NewMetrics(registerer)
	}
	documents := posting.NewStockDocuments(store, engine, audit, logger)
	proc := procurement.NewService(procurement.NewRepository(store), engine, audit, logger)
	prod := production.NewService(production.NewRepository(store), engine, stock, audit, logger)
	sell := sales.NewService(sales.NewRepository(store), sales.Deps{
		Posting:    engine,
		Items:      directory,
		Stock:      stock,
		Production: prod,
		Audit:      audit,
	}, logger)
	maint := jobs.NewMaintenance(jobs.MaintenanceDeps{
		Ledger:             ledger,
		Stock:              stock,
		Metrics:            jm,
		Logger:             logger,
		AllowNegativeStock: cfg.AllowNegativeStock,
	})

	return &Services{
		Store:       store,
		Audit:       audit,
		Directory:   directory,
		Ledger:      ledger,
		Stock:       stock,
		Engine:      engine,
		Documents:   documents,
		Procurement: proc,
		Production:  prod,
		Sales:       sell,
		Maintenance: maint,
		Roles:       roles,
	}, nil
}

// Close releases the store and the Redis client.
func (s *Services) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	if s.Store != nil {
		errs = append(errs, s.Store.Close())
	}
	if s.Redis != nil {
		errs = append(errs, s.Redis.Close())
	}
	return errors.Join(errs...)
}
