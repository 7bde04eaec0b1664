package margin

import (
	"net/http"
	"strings"

	"fx-arena/internal/httputil"
)

type Handler struct {
	monitor *Monitor
}

func NewHandler(monitor *Monitor) *Handler {
	return &Handler{monitor: monitor}
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request, userID string) {
	contestID := strings.TrimSpace(r.URL.Query().Get("contest_id"))
	if contestID == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "contest_id is required"})
		return
	}
	res, err := h.monitor.Status(r.Context(), userID, contestID)
	if err != nil {
		status := http.StatusBadRequest
		if strings.Contains(err.Error(), "not found") {
			status = http.StatusNotFound
		}
		httputil.WriteJSON(w, status, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}
