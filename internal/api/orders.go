package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"numera-bot/internal/stories/orders"
	"numera-bot/internal/stories/tariffs"
	"numera-bot/internal/telemetry"

	"github.com/samber/lo"
)

type createOrderRequest struct {
	TelegramUserID int64  `json:"telegram_user_id"`
	Tariff         string `json:"tariff"`
	Provider       string `json:"provider"`
	SmokeCheck     bool   `json:"smoke_check"`
}

// handleCreateOrder создаёт заказ и платёжную ссылку. Бесплатный тариф
// заказа не требует: задача генерации ставится сразу.
func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TelegramUserID == 0 {
		writeError(w, http.StatusBadRequest, "telegram_user_id is required")
		return
	}
	tariff := tariffs.Tariff(req.Tariff)
	if !tariff.Valid() {
		writeError(w, http.StatusBadRequest, "unknown tariff")
		return
	}

	user, err := h.storage.GetOrCreateUser(r.Context(), req.TelegramUserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}

	if tariff.Free() {
		job, err := h.jobs.Enqueue(r.Context(), user.ID, nil, tariff, lo.ToPtr(user.TelegramUserID))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "enqueue failed")
			return
		}
		telemetry.JobsEnqueued.Inc()
		writeJSON(w, http.StatusCreated, map[string]any{
			"status": "queued",
			"job_id": job.ID,
		})
		return
	}

	order, err := h.orders.CreateOrder(r.Context(), user.ID, tariff, req.SmokeCheck)
	if err != nil {
		h.logger.Error("создание заказа", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "create order failed")
		return
	}

	providerName := orders.Provider(req.Provider)
	if req.Provider == "" {
		providerName = h.registry.Primary().Name()
	}
	provider, err := h.registry.ByName(providerName)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown provider")
		return
	}

	link, err := provider.PaymentLink(order, user.TelegramUserID)
	if err != nil {
		h.logger.Error("платёжная ссылка", slog.Int64("order_id", order.ID), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "payment link failed")
		return
	}

	if err := h.orders.MarkPending(r.Context(), order.ID, provider.Name(), nil); err != nil {
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"order_id":    order.ID,
		"amount":      order.Amount,
		"currency":    order.Currency,
		"provider":    string(provider.Name()),
		"payment_url": link,
	})
}
