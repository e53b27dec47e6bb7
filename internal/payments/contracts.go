// Package payments — адаптеры платёжных провайдеров. Каждый адаптер умеет
// проверить подпись webhook'а, построить платёжную ссылку и (если провайдер
// это поддерживает) опросить статус платежа.
package payments

import (
	"context"
	"errors"

	"numera-bot/internal/stories/orders"
)

var (
	ErrInvalidSignature = errors.New("неверная подпись webhook")
	ErrMissingSignature = errors.New("webhook без подписи")
	ErrMalformedPayload = errors.New("нечитаемый payload webhook")
)

// WebhookResult — нормализованное событие провайдера.
type WebhookResult struct {
	OrderID           int64
	ProviderPaymentID string
	Status            string
	Paid              bool
}

type Provider interface {
	Name() orders.Provider
	// VerifyWebhook проверяет подпись и разбирает тело уведомления.
	VerifyWebhook(rawBody []byte, headers map[string]string) (*WebhookResult, error)
	// PollStatus активно опрашивает провайдера. nil без ошибки — провайдер
	// опрос не поддерживает либо платёж ещё не найден.
	PollStatus(ctx context.Context, order *orders.Order) (*WebhookResult, error)
	// PaymentLink строит ссылку на оплату заказа.
	PaymentLink(order *orders.Order, telegramUserID int64) (string, error)
}
