package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/tracker/internal/logging"
	"github.com/JonMunkholm/tracker/internal/store"
)

const healthTimeout = 2 * time.Second

type healthResponse struct {
	Status     string `json:"status"`
	Engine     string `json:"engine"`
	ActiveRuns int    `json:"activeRuns"`
	Error      string `json:"error,omitempty"`
}

// handleHealth pings the store. It answers 503 while the store is unreachable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := healthResponse{
		Status:     "ok",
		Engine:     s.store.Engine(),
		ActiveRuns: s.limiter.Active(),
	}
	if err := s.store.Ping(ctx); err != nil {
		logging.FromContext(ctx).Warn("health check failed", "error", err)
		resp.Status = "unavailable"
		resp.Error = newErrorResponse(err).Message
		writeJSON(w, r, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

type statusDistributionResponse struct {
	Statuses []store.StatusCount `json:"statuses"`
}

func (s *Server) handleStatusDistribution(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.StatusDistribution(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	if counts == nil {
		counts = []store.StatusCount{}
	}
	writeJSON(w, r, http.StatusOK, statusDistributionResponse{Statuses: counts})
}

type deliveryTimeResponse struct {
	// Delivered is false when no package has a delivery event yet; the
	// other fields are then zero.
	Delivered   bool    `json:"delivered"`
	MeanSeconds float64 `json:"meanSeconds"`
	Mean        string  `json:"mean,omitempty"`
}

func (s *Server) handleDeliveryTime(w http.ResponseWriter, r *http.Request) {
	mean, ok, err := s.store.MeanDeliveryDuration(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}

	resp := deliveryTimeResponse{Delivered: ok}
	if ok {
		resp.MeanSeconds = mean.Seconds()
		resp.Mean = mean.Round(time.Second).String()
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) handleTotals(w http.ResponseWriter, r *http.Request) {
	totals, err := s.store.Totals(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, totals)
}

func (s *Server) handlePackageHistory(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "packageID"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(w, r, "package id must be a positive integer")
		return
	}

	hist, err := s.store.PackageHistory(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, hist)
}
