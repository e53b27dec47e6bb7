package paymentpoll

import (
	"context"
	"time"

	"numera-bot/internal/stories/orders"
)

type OrdersService interface {
	ListPendingPollOrders(ctx context.Context, provider orders.Provider, limit int) ([]*orders.Order, error)
	ConfirmPayment(ctx context.Context, orderID int64, source orders.ConfirmationSource, provider orders.Provider, providerPaymentID string, paidAt *time.Time) (orders.ConfirmationOutcome, error)
}
