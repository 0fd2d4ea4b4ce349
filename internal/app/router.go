package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/apotek-pos/apotek-pos/internal/batch"
	"github.com/apotek-pos/apotek-pos/internal/ledger"
	"github.com/apotek-pos/apotek-pos/internal/pos"
	"github.com/apotek-pos/apotek-pos/internal/products"
	"github.com/apotek-pos/apotek-pos/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	SaleHandler     *pos.Handler
	BatchHandler    *batch.Handler
	LedgerHandler   *ledger.Handler
	ProductsHandler *products.Handler
	JobsHandler     *jobs.Handler
}

// NewRouter constructs the chi.Router with application defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/sales", params.SaleHandler.MountRoutes)
	r.Route("/batches", params.BatchHandler.MountRoutes)
	r.Route("/movements", params.LedgerHandler.MountRoutes)
	r.Route("/products", params.ProductsHandler.MountRoutes)
	if params.JobsHandler != nil {
		r.Route("/jobs", params.JobsHandler.MountRoutes)
	}

	return r
}
