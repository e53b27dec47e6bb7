package orders

import (
	"context"

	"numera-bot/internal/stories/reportjobs"
	"numera-bot/internal/stories/tariffs"
	"numera-bot/internal/stories/users"
)

type Storage interface {
	CreateOrder(ctx context.Context, order Order) (*Order, error)
	GetOrder(ctx context.Context, id int64) (*Order, error)
	GetOrderByProviderPaymentID(ctx context.Context, provider Provider, paymentID string) (*Order, error)
	MarkOrderPending(ctx context.Context, orderID int64, provider Provider, providerPaymentID *string) error
	ConfirmOrderPayment(ctx context.Context, params ConfirmParams) (bool, error)
	ListPendingPollOrders(ctx context.Context, provider Provider, limit int) ([]*Order, error)
	GetUser(ctx context.Context, id int64) (*users.User, error)
	CreateFinanceEvent(ctx context.Context, orderID int64, action, actor, beforeJSON, afterJSON string) error
}

type Tariffs interface {
	Get(code tariffs.Tariff) (tariffs.Info, error)
}

// JobEnqueuer ставит задачу генерации после подтверждённой оплаты.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, userID int64, orderID *int64, tariff tariffs.Tariff, chatID *int64) (*reportjobs.Job, error)
}
