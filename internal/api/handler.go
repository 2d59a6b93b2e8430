package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"brand-catalog/internal/catalog"
	"brand-catalog/internal/content"
	"brand-catalog/internal/refresh"
	"brand-catalog/internal/storage"
	"brand-catalog/internal/viewer"
)

type Catalog interface {
	ListBrands(ctx context.Context) ([]content.Brand, error)
	GetBrand(ctx context.Context, id string) (content.Brand, error)
	ListBrandPopups(ctx context.Context, brandID string) ([]content.PopupContent, error)
	ListEmailCampaigns(ctx context.Context, brandID string) ([]content.EmailCampaign, error)
}

type Capturer interface {
	CaptureBrandByID(ctx context.Context, id string) (refresh.Result, error)
	CaptureAll(ctx context.Context) ([]refresh.Result, error)
	RecordCampaign(ctx context.Context, brandID string, nc content.NewCampaign) (content.EmailCampaign, error)
}

// PopupShooter renders a URL into a popup; it backs the capture provider endpoint.
type PopupShooter interface {
	Popup(ctx context.Context, target string) (content.PopupContent, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	Catalog Catalog
	Capture Capturer
	Shots   PopupShooter
	DB      Pinger
	// APIKey, when set, is the bearer token required by POST /v1/capture.
	APIKey string
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// writeError maps domain errors to a status. Fetch and save failures stay distinguishable.
// Once the request context is done the timeout middleware owns the response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if ctxErr := r.Context().Err(); ctxErr != nil {
		log.Warn().Err(err).Str("request_id", middleware.GetReqID(r.Context())).Str("path", r.URL.Path).
			AnErr("context", ctxErr).Msg("request ended before response")
		return
	}
	var ce *content.CampaignError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "brand not found"})
	case errors.As(err, &ce):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid campaign", Fields: ce.Fields})
	case errors.Is(err, refresh.ErrFetchFailed):
		writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error()})
	case errors.Is(err, storage.ErrSaveFailed):
		log.Error().Err(err).Str("request_id", middleware.GetReqID(r.Context())).Msg("save failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: storage.ErrSaveFailed.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, errorBody{Error: "request timed out"})
	default:
		log.Error().Err(err).Str("request_id", middleware.GetReqID(r.Context())).Str("path", r.URL.Path).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func (h *Handler) ListBrands(w http.ResponseWriter, r *http.Request) {
	brands, err := h.Catalog.ListBrands(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, catalog.FilterBrands(brands, r.URL.Query().Get("q")))
}

func (h *Handler) GetBrand(w http.ResponseWriter, r *http.Request) {
	b, err := h.Catalog.GetBrand(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) ListPopups(w http.ResponseWriter, r *http.Request) {
	items, err := h.Catalog.ListBrandPopups(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	items, err := h.Catalog.ListEmailCampaigns(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// viewParams reads the client-held cursor: ?index=&move=next|prev&image_failed=1.
func viewParams(r *http.Request) (int, viewer.Move, bool) {
	q := r.URL.Query()
	idx, _ := strconv.Atoi(q.Get("index"))
	failed, _ := strconv.ParseBool(q.Get("image_failed"))
	return idx, viewer.Move(strings.ToLower(q.Get("move"))), failed
}

func (h *Handler) ViewPopups(w http.ResponseWriter, r *http.Request) {
	items, err := h.Catalog.ListBrandPopups(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	idx, move, failed := viewParams(r)
	writeJSON(w, http.StatusOK, viewer.PopupFrame(viewer.Replay(items, idx, move, failed)))
}

func (h *Handler) ViewCampaigns(w http.ResponseWriter, r *http.Request) {
	items, err := h.Catalog.ListEmailCampaigns(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	idx, move, failed := viewParams(r)
	writeJSON(w, http.StatusOK, viewer.CampaignFrame(viewer.Replay(items, idx, move, failed)))
}

func (h *Handler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var nc content.NewCampaign
	if err := json.NewDecoder(r.Body).Decode(&nc); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	c, err := h.Capture.RecordCampaign(r.Context(), chi.URLParam(r, "id"), nc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) CaptureBrand(w http.ResponseWriter, r *http.Request) {
	res, err := h.Capture.CaptureBrandByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Successfully fetched popup content",
		"items":   res.Items,
	})
}

type batchEntry struct {
	refresh.Result
	Error string `json:"error,omitempty"`
}

func (h *Handler) CaptureAll(w http.ResponseWriter, r *http.Request) {
	results, err := h.Capture.CaptureAll(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]batchEntry, len(results))
	for i, res := range results {
		out[i] = batchEntry{Result: res}
		if res.Err != nil {
			out[i].Error = res.Err.Error()
		}
	}
	ok, failed := refresh.Summary(results)
	writeJSON(w, http.StatusOK, map[string]any{"succeeded": ok, "failed": failed, "results": out})
}

type providerResponse struct {
	Success bool                   `json:"success"`
	Data    []content.PopupContent `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// CaptureProvider implements the capture provider contract on top of the screenshot API.
func (h *Handler) CaptureProvider(w http.ResponseWriter, r *http.Request) {
	if h.APIKey != "" {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.APIKey)) != 1 {
			writeJSON(w, http.StatusUnauthorized, providerResponse{Error: "unauthorized"})
			return
		}
	}

	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		writeJSON(w, http.StatusBadRequest, providerResponse{Error: "url is required"})
		return
	}

	log.Info().Str("url", req.URL).Msg("processing capture request")
	popup, err := h.Shots.Popup(r.Context(), req.URL)
	if err != nil {
		log.Error().Err(err).Str("url", req.URL).Msg("capture request failed")
		writeJSON(w, http.StatusInternalServerError, providerResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, providerResponse{Success: true, Data: []content.PopupContent{popup}})
}

func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.DB != nil {
		if err := h.DB.Ping(r.Context()); err != nil {
			log.Warn().Err(err).Msg("readiness check failed")
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "database unavailable"})
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
