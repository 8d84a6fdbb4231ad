package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Controller is the engine control surface the market handler drives. It is
// declared locally so the handler package does not depend on the engine.
type Controller interface {
	MarketLister
	Subscribe(ctx context.Context, market string) error
	Unsubscribe(market string) error
	ChangeGranularity(market string, tick decimal.Decimal) error
	ResetVolumeProfile(market string) error
	RefreshTriggerOrders(market string) error
	ReportOrderFailure(market, reason string)
}

// MarketHandler serves the per-market control endpoints.
type MarketHandler struct {
	engine Controller
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler over the given controller.
func NewMarketHandler(engine Controller, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		engine: engine,
		logger: logHandler(logger, "market"),
	}
}

type subscribeRequest struct {
	Market string `json:"market"`
}

type granularityRequest struct {
	Tick decimal.Decimal `json:"tick"`
}

type orderFailureRequest struct {
	Reason string `json:"reason"`
}

type marketsResponse struct {
	Markets []string `json:"markets"`
}

// ListMarkets returns the synced markets in name order.
// GET /api/markets
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets := h.engine.Markets()
	sort.Strings(markets)
	writeJSON(w, http.StatusOK, marketsResponse{Markets: markets})
}

// Subscribe starts syncing a market.
// POST /api/markets {"market":"BTC-PERP"}
func (h *MarketHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	market := strings.TrimSpace(req.Market)
	if market == "" {
		writeError(w, http.StatusBadRequest, "market is required")
		return
	}
	if err := h.engine.Subscribe(r.Context(), market); err != nil {
		h.fail(w, r, "subscribe", market, err)
		return
	}
	writeJSON(w, http.StatusAccepted, subscribeRequest{Market: market})
}

// Unsubscribe stops syncing a market.
// DELETE /api/markets/{market}
func (h *MarketHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	market := pathParam(r, "market")
	if err := h.engine.Unsubscribe(market); err != nil {
		h.fail(w, r, "unsubscribe", market, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ChangeGranularity switches the display tick of a market.
// POST /api/markets/{market}/granularity {"tick":"5"}
func (h *MarketHandler) ChangeGranularity(w http.ResponseWriter, r *http.Request) {
	market := pathParam(r, "market")
	var req granularityRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.engine.ChangeGranularity(market, req.Tick); err != nil {
		h.fail(w, r, "change granularity", market, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// ResetProfile clears a market's volume profile.
// POST /api/markets/{market}/profile/reset
func (h *MarketHandler) ResetProfile(w http.ResponseWriter, r *http.Request) {
	market := pathParam(r, "market")
	if err := h.engine.ResetVolumeProfile(market); err != nil {
		h.fail(w, r, "reset profile", market, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// RefreshTriggers reloads a market's trigger orders over REST.
// POST /api/markets/{market}/triggers/refresh
func (h *MarketHandler) RefreshTriggers(w http.ResponseWriter, r *http.Request) {
	market := pathParam(r, "market")
	if err := h.engine.RefreshTriggerOrders(market); err != nil {
		h.fail(w, r, "refresh triggers", market, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// ReportOrderFailure raises an order_fail notification, used by order entry
// clients when the exchange rejects a placement.
// POST /api/markets/{market}/order-failures {"reason":"..."}
func (h *MarketHandler) ReportOrderFailure(w http.ResponseWriter, r *http.Request) {
	market := pathParam(r, "market")
	var req orderFailureRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		writeError(w, http.StatusBadRequest, "reason is required")
		return
	}
	h.engine.ReportOrderFailure(market, req.Reason)
	w.WriteHeader(http.StatusAccepted)
}

func (h *MarketHandler) fail(w http.ResponseWriter, r *http.Request, op, market string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("market", market),
			slog.String("error", err.Error()),
		)
	}
	writeError(w, status, err.Error())
}
