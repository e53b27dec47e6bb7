package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"numera-bot/internal/payments"
	"numera-bot/internal/stories/orders"
	"numera-bot/internal/telemetry"
)

const maxWebhookBody = 1 << 20 // 1 MiB

// handlePaymentWebhook принимает уведомления обоих провайдеров.
// Явный ?provider= проверяется строго им одним; без параметра пробуем
// основного провайдера и один раз — второго.
func (h *Handler) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	rawBody, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read body")
		return
	}

	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}

	provider, result, err := h.verifyWebhook(r.URL.Query().Get("provider"), rawBody, headers)
	if err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, errUnknownProvider) {
			status = http.StatusBadRequest
		}
		h.logger.Warn("webhook отклонён", slog.Any("error", err))
		writeError(w, status, err.Error())
		return
	}

	order, err := h.orders.GetOrder(r.Context(), result.OrderID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	if order == nil {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}

	if !result.Paid {
		// Промежуточный статус: запоминаем провайдера и платёж, ждём дальше.
		var paymentID *string
		if result.ProviderPaymentID != "" {
			paymentID = &result.ProviderPaymentID
		}
		if err := h.orders.MarkPending(r.Context(), order.ID, provider.Name(), paymentID); err != nil {
			writeError(w, http.StatusInternalServerError, "storage error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	if result.ProviderPaymentID == "" {
		// paid без идентификатора платежа нарушает инвариант подтверждения.
		// Не подтверждаем, ждём повторного уведомления или poll-сверки.
		h.logger.Warn("webhook paid без provider_payment_id",
			slog.Int64("order_id", order.ID),
			slog.String("provider", string(provider.Name())))
		if err := h.orders.MarkPending(r.Context(), order.ID, provider.Name(), nil); err != nil {
			writeError(w, http.StatusInternalServerError, "storage error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	outcome, err := h.orders.ConfirmPayment(
		r.Context(), order.ID, orders.SourceProviderWebhook,
		provider.Name(), result.ProviderPaymentID, nil,
	)
	if err != nil {
		if errors.Is(err, orders.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "confirm failed")
		return
	}
	if outcome == orders.OutcomeConfirmed {
		telemetry.PaymentsConfirmed.WithLabelValues(string(orders.SourceProviderWebhook)).Inc()
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

var errUnknownProvider = errors.New("неизвестный провайдер")

func (h *Handler) verifyWebhook(providerParam string, rawBody []byte, headers map[string]string) (payments.Provider, *payments.WebhookResult, error) {
	if providerParam != "" {
		provider, err := h.registry.ByName(orders.Provider(providerParam))
		if err != nil {
			return nil, nil, errUnknownProvider
		}
		result, err := provider.VerifyWebhook(rawBody, headers)
		if err != nil {
			telemetry.WebhooksRejected.WithLabelValues(string(provider.Name())).Inc()
			return nil, nil, err
		}
		return provider, result, nil
	}

	primary := h.registry.Primary()
	result, err := primary.VerifyWebhook(rawBody, headers)
	if err == nil {
		return primary, result, nil
	}
	telemetry.WebhooksRejected.WithLabelValues(string(primary.Name())).Inc()

	fallback := h.registry.Fallback()
	if fallback == nil {
		return nil, nil, err
	}
	result, ferr := fallback.VerifyWebhook(rawBody, headers)
	if ferr != nil {
		telemetry.WebhooksRejected.WithLabelValues(string(fallback.Name())).Inc()
		return nil, nil, err
	}
	return fallback, result, nil
}

// handleProviderInfo отдаёт основного провайдера и адрес для настройки
// уведомлений в его кабинете.
func (h *Handler) handleProviderInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"provider":    h.cfg.Payments.Primary,
		"webhook_url": h.cfg.Payments.WebhookURL,
	})
}
