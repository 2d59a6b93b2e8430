package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"brand-catalog/internal/observability"
)

// Timeouts bound each route group. Zero values fall back to defaults.
type Timeouts struct {
	// Read covers catalog and viewer GETs.
	Read time.Duration
	// Write covers a campaign insert including every storage retry.
	Write time.Duration
	// Capture covers one brand's capture including every fetch retry. A batch gets
	// one Capture budget per group.
	Capture time.Duration
	// BatchSize is the number of brands captured concurrently by a batch.
	BatchSize int
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Read <= 0 {
		t.Read = 5 * time.Second
	}
	if t.Write <= 0 {
		t.Write = 30 * time.Second
	}
	if t.Capture <= 0 {
		t.Capture = 5 * time.Minute
	}
	if t.BatchSize <= 0 {
		t.BatchSize = 3
	}
	return t
}

// BatchBudget is the deadline for capturing brands in groups of batchSize. Groups
// run one after another and each may use the whole per-group budget.
func BatchBudget(brands, batchSize int, perGroup time.Duration) time.Duration {
	if batchSize <= 0 {
		batchSize = 3
	}
	groups := max(1, (brands+batchSize-1)/batchSize)
	return time.Duration(groups) * perGroup
}

// Router wires the catalog API. Reads get a short timeout; writes and capture
// routes wait on retries and get budgets sized for them.
func Router(h *Handler, t Timeouts) http.Handler {
	t = t.withDefaults()
	r := chi.NewRouter()

	r.Use(observability.Measure)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(CORS)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(t.Read))
		r.Get("/v1/brands", h.ListBrands)
		r.Get("/v1/brands/{id}", h.GetBrand)
		r.Get("/v1/brands/{id}/popups", h.ListPopups)
		r.Get("/v1/brands/{id}/popups/view", h.ViewPopups)
		r.Get("/v1/brands/{id}/campaigns", h.ListCampaigns)
		r.Get("/v1/brands/{id}/campaigns/view", h.ViewCampaigns)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(t.Write))
		r.Post("/v1/brands/{id}/campaigns", h.CreateCampaign)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(t.Capture))
		r.Post("/v1/brands/{id}/capture", h.CaptureBrand)
		r.Post("/v1/capture", h.CaptureProvider)
	})

	r.With(batchTimeout(h.Catalog, t)).Post("/v1/capture/all", h.CaptureAll)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", h.Ready)
	r.Handle("/metrics", observability.MetricsHandler())
	return r
}

// batchTimeout sizes the batch deadline from the current brand count and extends
// the connection's write deadline to match.
func batchTimeout(c Catalog, t Timeouts) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			brands, err := c.ListBrands(r.Context())
			if err != nil {
				writeError(w, r, err)
				return
			}
			budget := BatchBudget(len(brands), t.BatchSize, t.Capture)
			if err := http.NewResponseController(w).SetWriteDeadline(time.Now().Add(budget + 5*time.Second)); err != nil && !errors.Is(err, http.ErrNotSupported) {
				log.Warn().Err(err).Msg("extend write deadline")
			}
			middleware.Timeout(budget)(next).ServeHTTP(w, r)
		})
	}
}

// CORS lets the browser client call the API from another origin.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
