package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/hurttlocker/impact/internal/allocation"
	"github.com/hurttlocker/impact/internal/engine"
	"github.com/hurttlocker/impact/internal/impact"
	prn "github.com/hurttlocker/impact/internal/recovery"
	"github.com/hurttlocker/impact/internal/search"
	"github.com/hurttlocker/impact/internal/store"
	"github.com/hurttlocker/impact/internal/suggest"
)

const maxBodyBytes = 1 << 20

type handler struct {
	engine  *engine.Engine
	log     zerolog.Logger
	version string
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": "impact",
		"version": h.version,
	})
}

func (h *handler) search(w http.ResponseWriter, r *http.Request) {
	var req search.Request
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := h.engine.SearchProcesses(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) suggest(w http.ResponseWriter, r *http.Request) {
	var req suggest.Request
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := h.engine.SuggestProxies(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(resp.Remaining))
	writeJSON(w, http.StatusOK, resp)
}

type aggregateRequest struct {
	Items []impact.Item `json:"items"`
}

func (h *handler) aggregate(w http.ResponseWriter, r *http.Request) {
	var req aggregateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.engine.Aggregate(r.Context(), req.Items)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type facilityRequest struct {
	Intensity      float64 `json:"intensity"`
	PrimaryMetered bool    `json:"primary_metered"`
}

func (h *handler) setFacility(w http.ResponseWriter, r *http.Request) {
	var req facilityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	f := allocation.Facility{
		ID:             chi.URLParam(r, "facilityID"),
		Intensity:      req.Intensity,
		PrimaryMetered: req.PrimaryMetered,
	}
	if err := h.engine.SetFacility(r.Context(), f); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"facility_id":     f.ID,
		"intensity":       f.Intensity,
		"primary_metered": f.PrimaryMetered,
		"data_source":     f.Source(),
	})
}

type siteRequest struct {
	ProductionVolume float64 `json:"production_volume"`
}

func (h *handler) setSite(w http.ResponseWriter, r *http.Request) {
	var req siteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sum, err := h.engine.SetSite(r.Context(), chi.URLParam(r, "productID"), chi.URLParam(r, "facilityID"), req.ProductionVolume)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *handler) removeSite(w http.ResponseWriter, r *http.Request) {
	sum, err := h.engine.RemoveSite(r.Context(), chi.URLParam(r, "productID"), chi.URLParam(r, "facilityID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *handler) listSites(w http.ResponseWriter, r *http.Request) {
	sum, err := h.engine.Allocation(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

type buildRequest struct {
	Tonnage map[string]float64 `json:"tonnage"`
}

func (h *handler) buildObligations(w http.ResponseWriter, r *http.Request) {
	year, ok := yearParam(w, r)
	if !ok {
		return
	}
	var req buildRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rep, err := h.engine.BuildObligations(r.Context(), chi.URLParam(r, "orgID"), year, req.Tonnage)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type purchaseRequest struct {
	MaterialCode string  `json:"material_code"`
	Tonnes       float64 `json:"tonnes"`
	CostPerTonne float64 `json:"cost_per_tonne"`
}

func (h *handler) recordPurchase(w http.ResponseWriter, r *http.Request) {
	year, ok := yearParam(w, r)
	if !ok {
		return
	}
	var req purchaseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	o, err := h.engine.RecordPurchase(r.Context(), chi.URLParam(r, "orgID"), year, req.MaterialCode, req.Tonnes, req.CostPerTonne)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *handler) obligations(w http.ResponseWriter, r *http.Request) {
	year, ok := yearParam(w, r)
	if !ok {
		return
	}
	rep, err := h.engine.Obligations(r.Context(), chi.URLParam(r, "orgID"), year)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// --- Helpers ---

func yearParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil || year < 1 {
		respondError(w, http.StatusBadRequest, "year must be a positive whole number")
		return 0, false
	}
	return year, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// writeError maps engine errors onto HTTP statuses.
func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var rle *suggest.RateLimitError
	switch {
	case errors.As(err, &rle):
		secs := int(math.Ceil(rle.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(rle.Remaining))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"success":     false,
			"error":       err.Error(),
			"remaining":   rle.Remaining,
			"retry_after": rle.RetryAfter.Round(time.Second).String(),
		})
		return
	case errors.Is(err, search.ErrQueryTooShort),
		errors.Is(err, suggest.ErrInvalidRequest),
		errors.Is(err, impact.ErrInvalidItem),
		errors.Is(err, allocation.ErrInvalidVolume),
		errors.Is(err, prn.ErrInvalidPurchase),
		errors.Is(err, prn.ErrNoTargets),
		errors.Is(err, store.ErrMissingID):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrSiteNotFound), errors.Is(err, store.ErrObligationNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrSiteExists):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrUnavailable):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
