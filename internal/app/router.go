package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/procurement"
	"github.com/odyssey-erp/odyssey-ledger/internal/production"
	"github.com/odyssey-erp/odyssey-ledger/internal/sales"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	AccountingHandler  *accounting.Handler
	InventoryHandler   *inventory.Handler
	MasterDataHandler  *masterdata.Handler
	PostingHandler     *posting.Handler
	ProcurementHandler *procurement.Handler
	ProductionHandler  *production.Handler
	SalesHandler       *sales.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewHandlers builds every HTTP handler over the wired services.
func NewHandlers(logger *slog.Logger, cfg *Config, svc *Services, jobHandler *jobs.Handler, metrics *observability.Metrics) RouterParams {
	return RouterParams{
		Logger:             logger,
		Config:             cfg,
		AccountingHandler:  accounting.NewHandler(logger, svc.Ledger),
		InventoryHandler:   inventory.NewHandler(logger, svc.Stock),
		MasterDataHandler:  masterdata.NewHandler(logger, svc.Directory),
		PostingHandler:     posting.NewHandler(logger, svc.Documents),
		ProcurementHandler: procurement.NewHandler(logger, svc.Procurement),
		ProductionHandler:  production.NewHandler(logger, svc.Production),
		SalesHandler:       sales.NewHandler(logger, svc.Sales),
		JobHandler:         jobHandler,
		Metrics:            metrics,
	}
}

// NewRouter constructs the chi.Router with Odyssey defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if params.AccountingHandler != nil {
		params.AccountingHandler.MountRoutes(r)
	}
	if params.InventoryHandler != nil {
		params.InventoryHandler.MountRoutes(r)
	}
	if params.PostingHandler != nil {
		params.PostingHandler.MountRoutes(r)
	}
	if params.MasterDataHandler != nil {
		r.Route("/masterdata", params.MasterDataHandler.MountRoutes)
	}
	if params.ProcurementHandler != nil {
		params.ProcurementHandler.MountRoutes(r)
	}
	if params.ProductionHandler != nil {
		params.ProductionHandler.MountRoutes(r)
	}
	if params.SalesHandler != nil {
		params.SalesHandler.MountRoutes(r)
	}
	if params.JobHandler != nil {
		params.JobHandler.MountRoutes(r)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
