package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"numera-bot/internal/stories/orders"
	"numera-bot/internal/telemetry"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := h.cfg.Admin.Token
		if token == "" {
			writeError(w, http.StatusForbidden, "admin api disabled")
			return
		}
		got := r.Header.Get("X-Admin-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type adminConfirmRequest struct {
	ProviderPaymentID string `json:"provider_payment_id"`
	Actor             string `json:"actor"`
}

func (h *Handler) handleAdminConfirm(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var req adminConfirmRequest
	if r.Body != nil {
		// Пустое тело допустимо: платёж будет помечен manual-идентификатором.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	actor := req.Actor
	if actor == "" {
		actor = "admin"
	}

	outcome, err := h.orders.AdminConfirm(r.Context(), orderID, actor, req.ProviderPaymentID)
	if err != nil {
		if errors.Is(err, orders.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.Error("ручное подтверждение оплаты",
			slog.Int64("order_id", orderID),
			slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "confirm failed")
		return
	}
	if outcome == orders.OutcomeConfirmed {
		telemetry.PaymentsConfirmed.WithLabelValues(string(orders.SourceAdminManual)).Inc()
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": string(outcome)})
}

func (h *Handler) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.storage.GetAdminStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stats query failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
