package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/coinduel/internal/domain"
	"github.com/alanyoungcy/coinduel/internal/server/middleware"
)

// BetService defines the operations the bet handler requires from the
// registry. It is declared locally so the handler package does not depend on
// the concrete registry implementation.
type BetService interface {
	CreateBet(ctx context.Context, partyStable, partyVolatile string) (domain.Bet, error)
	GetBet(ctx context.Context, id int64) (domain.Bet, error)
	ListBets(ctx context.Context, opts domain.ListOpts) ([]domain.Bet, error)
	Count(ctx context.Context) (int64, error)
	AddStableDeposit(ctx context.Context, id int64, caller string) (domain.Bet, error)
	AddVolatileDeposit(ctx context.Context, id int64, caller string) (domain.Bet, error)
	SettleBet(ctx context.Context, id int64) (domain.Bet, error)
	WithdrawStale(ctx context.Context, id int64, caller string) (domain.Bet, error)
}

// BetHandler serves the bet lifecycle HTTP endpoints.
type BetHandler struct {
	bets   BetService
	window time.Duration
	logger *slog.Logger
}

// NewBetHandler creates a BetHandler. window is the settlement window length
// used to report each active bet's settle deadline.
func NewBetHandler(bets BetService, window time.Duration, logger *slog.Logger) *BetHandler {
	return &BetHandler{
		bets:   bets,
		window: window,
		logger: logHandler(logger, "bets"),
	}
}

// betResponse is the wire representation of a bet.
type betResponse struct {
	ID              int64   `json:"id"`
	PartyStable     string  `json:"party_stable"`
	PartyVolatile   string  `json:"party_volatile"`
	Status          string  `json:"status"`
	StableFunded    bool    `json:"stable_funded"`
	VolatileFunded  bool    `json:"volatile_funded"`
	StartTimestamp  *string `json:"start_timestamp,omitempty"`
	SettleDeadline  *string `json:"settle_deadline,omitempty"`
	Winner          string  `json:"winner,omitempty"`
	SettlementPrice int64   `json:"settlement_price,omitempty"`
	CreatedAt       string  `json:"created_at"`
	SettledAt       *string `json:"settled_at,omitempty"`
}

func (h *BetHandler) toResponse(b domain.Bet) betResponse {
	resp := betResponse{
		ID:              b.ID,
		PartyStable:     b.PartyStable,
		PartyVolatile:   b.PartyVolatile,
		Status:          string(b.Status()),
		StableFunded:    b.StableFunded,
		VolatileFunded:  b.VolatileFunded,
		Winner:          b.Winner,
		SettlementPrice: b.SettlementPrice,
		CreatedAt:       b.CreatedAt.UTC().Format(time.RFC3339),
	}
	if b.Activated() {
		start := b.StartTimestamp.UTC().Format(time.RFC3339)
		deadline := b.SettleDeadline(h.window).UTC().Format(time.RFC3339)
		resp.StartTimestamp = &start
		resp.SettleDeadline = &deadline
	}
	if b.SettledAt != nil {
		settled := b.SettledAt.UTC().Format(time.RFC3339)
		resp.SettledAt = &settled
	}
	return resp
}

// createBetRequest is the body for POST /api/bets.
type createBetRequest struct {
	PartyStable   string `json:"party_stable"`
	PartyVolatile string `json:"party_volatile"`
}

// CreateBet creates a new unfunded bet between two parties.
// POST /api/bets
func (h *BetHandler) CreateBet(w http.ResponseWriter, r *http.Request) {
	var req createBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PartyStable == "" || req.PartyVolatile == "" {
		writeError(w, http.StatusBadRequest, "party_stable and party_volatile are required")
		return
	}

	bet, err := h.bets.CreateBet(r.Context(), req.PartyStable, req.PartyVolatile)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "create bet failed", slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.toResponse(bet))
}

// listBetsResponse wraps the list endpoint output with metadata.
type listBetsResponse struct {
	Bets   []betResponse `json:"bets"`
	Total  int64         `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// ListBets returns bets with pagination, newest first.
// GET /api/bets?limit=50&offset=0
func (h *BetHandler) ListBets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	bets, err := h.bets.ListBets(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list bets failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list bets")
		return
	}
	total, err := h.bets.Count(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "count bets failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to count bets")
		return
	}

	out := make([]betResponse, 0, len(bets))
	for _, b := range bets {
		out = append(out, h.toResponse(b))
	}
	writeJSON(w, http.StatusOK, listBetsResponse{
		Bets:   out,
		Total:  total,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}

// GetBet returns a single bet by id.
// GET /api/bets/{id}
func (h *BetHandler) GetBet(w http.ResponseWriter, r *http.Request) {
	id, err := betID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid bet id")
		return
	}

	bet, err := h.bets.GetBet(r.Context(), id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			h.logger.ErrorContext(r.Context(), "get bet failed",
				slog.Int64("bet_id", id), slog.String("error", err.Error()))
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toResponse(bet))
}

// DepositStable funds the stable leg as the authenticated caller.
// POST /api/bets/{id}/deposit/stable
func (h *BetHandler) DepositStable(w http.ResponseWriter, r *http.Request) {
	h.deposit(w, r, h.bets.AddStableDeposit)
}

// DepositVolatile funds the volatile leg as the authenticated caller.
// POST /api/bets/{id}/deposit/volatile
func (h *BetHandler) DepositVolatile(w http.ResponseWriter, r *http.Request) {
	h.deposit(w, r, h.bets.AddVolatileDeposit)
}

func (h *BetHandler) deposit(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, id int64, caller string) (domain.Bet, error)) {

	id, err := betID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid bet id")
		return
	}
	caller := middleware.CallerFrom(r.Context())
	if caller == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	bet, err := fn(r.Context(), id, caller)
	if err != nil {
		h.logger.WarnContext(r.Context(), "deposit rejected",
			slog.Int64("bet_id", id),
			slog.String("caller", caller),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toResponse(bet))
}

// SettleBet settles a due bet. Permissionless; no signature required.
// POST /api/bets/{id}/settle
func (h *BetHandler) SettleBet(w http.ResponseWriter, r *http.Request) {
	id, err := betID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid bet id")
		return
	}

	bet, err := h.bets.SettleBet(r.Context(), id)
	if err != nil {
		h.logger.WarnContext(r.Context(), "settle rejected",
			slog.Int64("bet_id", id),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toResponse(bet))
}

// WithdrawStale refunds the funded leg of a never-activated bet as the
// authenticated caller.
// POST /api/bets/{id}/withdraw
func (h *BetHandler) WithdrawStale(w http.ResponseWriter, r *http.Request) {
	id, err := betID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid bet id")
		return
	}
	caller := middleware.CallerFrom(r.Context())
	if caller == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	bet, err := h.bets.WithdrawStale(r.Context(), id, caller)
	if err != nil {
		h.logger.WarnContext(r.Context(), "withdraw rejected",
			slog.Int64("bet_id", id),
			slog.String("caller", caller),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toResponse(bet))
}
