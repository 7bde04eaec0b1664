package orders

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fx-arena/internal/httputil"
	"fx-arena/internal/pricing"
	"fx-arena/internal/types"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type lockedQuoteRequest struct {
	Bid       string `json:"bid"`
	Ask       string `json:"ask"`
	Timestamp int64  `json:"timestamp_ms"`
}

type placeOrderRequest struct {
	ContestID   string              `json:"contest_id"`
	Symbol      string              `json:"symbol"`
	Side        string              `json:"side"`
	Type        string              `json:"type"`
	Qty         string              `json:"qty"`
	Price       string              `json:"price"`
	Leverage    string              `json:"leverage"`
	StopLoss    string              `json:"stop_loss"`
	TakeProfit  string              `json:"take_profit"`
	LockedQuote *lockedQuoteRequest `json:"locked_quote"`
}

func parseOptionalDecimal(raw, field string) (*decimal.Decimal, string) {
	if raw == "" {
		return nil, ""
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, "invalid " + field
	}
	return &d, ""
}

func (h *Handler) Place(w http.ResponseWriter, r *http.Request, userID string) {
	var req placeOrderRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "symbol is required"})
		return
	}
	if strings.TrimSpace(req.ContestID) == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "contest_id is required"})
		return
	}
	qty, err := decimal.NewFromString(req.Qty)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid qty"})
		return
	}
	price, msg := parseOptionalDecimal(req.Price, "price")
	if msg != "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: msg})
		return
	}
	stopLoss, msg := parseOptionalDecimal(req.StopLoss, "stop_loss")
	if msg != "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: msg})
		return
	}
	takeProfit, msg := parseOptionalDecimal(req.TakeProfit, "take_profit")
	if msg != "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: msg})
		return
	}
	leverage := decimal.Zero
	if req.Leverage != "" {
		leverage, err = decimal.NewFromString(req.Leverage)
		if err != nil {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid leverage"})
			return
		}
	}
	var locked *pricing.LockedQuote
	if req.LockedQuote != nil {
		bid, err := decimal.NewFromString(req.LockedQuote.Bid)
		if err != nil {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid locked_quote bid"})
			return
		}
		ask, err := decimal.NewFromString(req.LockedQuote.Ask)
		if err != nil {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid locked_quote ask"})
			return
		}
		locked = &pricing.LockedQuote{
			Bid:       bid,
			Ask:       ask,
			Timestamp: time.UnixMilli(req.LockedQuote.Timestamp).UTC(),
		}
	}

	order, err := h.svc.PlaceOrder(r.Context(), PlaceOrderRequest{
		UserID:         userID,
		ContestID:      strings.TrimSpace(req.ContestID),
		Symbol:         symbol,
		Side:           types.OrderSide(req.Side),
		Type:           types.OrderType(req.Type),
		Qty:            qty,
		RequestedPrice: price,
		Leverage:       leverage,
		StopLoss:       stopLoss,
		TakeProfit:     takeProfit,
		LockedQuote:    locked,
	})
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, order)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request, userID, orderID string) {
	if err := h.svc.CancelOrder(r.Context(), userID, orderID); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"order_id": orderID, "status": string(types.OrderStatusCancelled)})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request, userID, orderID string) {
	order, err := h.svc.GetOrderByID(r.Context(), userID, orderID)
	if err != nil {
		status := http.StatusBadRequest
		if strings.Contains(err.Error(), "not found") {
			status = http.StatusNotFound
		}
		httputil.WriteJSON(w, status, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, order)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request, userID string) {
	contestID := strings.TrimSpace(r.URL.Query().Get("contest_id"))
	if contestID == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "contest_id is required"})
		return
	}
	var before *time.Time
	if raw := r.URL.Query().Get("before"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid before, expected RFC3339"})
			return
		}
		before = &t
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = n
	}
	list, err := h.svc.GetUserOrders(r.Context(), userID, contestID, before, limit)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"orders": list})
}

func (h *Handler) Positions(w http.ResponseWriter, r *http.Request, userID string) {
	contestID := strings.TrimSpace(r.URL.Query().Get("contest_id"))
	if contestID == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "contest_id is required"})
		return
	}
	positions, err := h.svc.GetOpenPositions(r.Context(), userID, contestID)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"positions": positions})
}

func (h *Handler) GetPosition(w http.ResponseWriter, r *http.Request, userID, positionID string) {
	p, err := h.svc.GetPosition(r.Context(), userID, positionID)
	if err != nil {
		status := http.StatusBadRequest
		if strings.Contains(err.Error(), "not found") {
			status = http.StatusNotFound
		}
		httputil.WriteJSON(w, status, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) Close(w http.ResponseWriter, r *http.Request, userID, positionID string) {
	p, err := h.svc.ClosePosition(r.Context(), userID, positionID, types.CloseReasonManual)
	if err != nil {
		status := http.StatusBadRequest
		if strings.Contains(err.Error(), "not found") {
			status = http.StatusNotFound
		}
		httputil.WriteJSON(w, status, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

// Sweep triggers one limit-order and stop-trigger pass for a contest.
// Internal-token route; the scheduler does the same thing on a timer.
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request, contestID string) {
	res, err := h.svc.CheckLimitOrders(r.Context(), contestID)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	stops, err := h.svc.CheckStopTriggers(r.Context(), contestID)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"limit_orders": res, "stops_closed": stops})
}

// Finish force-closes every open position in a contest at contest end.
func (h *Handler) Finish(w http.ResponseWriter, r *http.Request, contestID string) {
	res, err := h.svc.CloseAllForContest(r.Context(), contestID, types.CloseReasonContestEnd)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}
