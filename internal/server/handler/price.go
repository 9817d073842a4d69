package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// PriceService exposes the live normalized oracle price.
type PriceService interface {
	CurrentPrice(ctx context.Context) (int64, error)
}

// PriceHandler serves the read-only oracle price endpoint.
type PriceHandler struct {
	prices    PriceService
	threshold int64
	logger    *slog.Logger
}

// NewPriceHandler creates a PriceHandler. threshold is included in the
// response so clients can render the winning boundary without a second call.
func NewPriceHandler(prices PriceService, threshold int64, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{
		prices:    prices,
		threshold: threshold,
		logger:    logHandler(logger, "price"),
	}
}

// GetPrice returns the current normalized price and the winning threshold.
// GET /api/price
func (h *PriceHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	price, err := h.prices.CurrentPrice(r.Context())
	if err != nil {
		h.logger.WarnContext(r.Context(), "price query failed", slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"price":     price,
		"threshold": h.threshold,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
