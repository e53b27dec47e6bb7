// Package paymentpoll — страховка от потерянных webhook'ов: периодически
// опрашивает провайдеров по зависшим в pending заказам.
package paymentpoll

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"numera-bot/internal/payments"
	"numera-bot/internal/stories/orders"
	"numera-bot/internal/telemetry"

	"github.com/robfig/cron/v3"
)

type Worker struct {
	ordersService OrdersService
	registry      *payments.Registry
	logger        *slog.Logger
	cron          *cron.Cron
	interval      time.Duration
	batch         int
}

func NewWorker(ordersService OrdersService, registry *payments.Registry, interval time.Duration, batch int, logger *slog.Logger) *Worker {
	return &Worker{
		ordersService: ordersService,
		registry:      registry,
		logger:        logger,
		cron:          cron.New(),
		interval:      interval,
		batch:         batch,
	}
}

func (w *Worker) Name() string {
	return "payment-poll"
}

func (w *Worker) Start() error {
	_, err := w.cron.AddFunc(fmt.Sprintf("@every %s", w.interval), func() {
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error("Panic in payment poll worker", "panic", r)
			}
		}()
		ctx := context.Background()
		if err := w.run(ctx); err != nil {
			w.logger.Error("Payment poll worker failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule payment poll worker: %w", err)
	}

	w.cron.Start()
	w.logger.Info("Payment poll worker started", "interval", w.interval.String())
	return nil
}

func (w *Worker) Stop() {
	ctx := w.cron.Stop()
	<-ctx.Done()
}

func (w *Worker) run(ctx context.Context) error {
	for _, provider := range w.registry.All() {
		pending, err := w.ordersService.ListPendingPollOrders(ctx, provider.Name(), w.batch)
		if err != nil {
			return fmt.Errorf("list pending orders: %w", err)
		}

		for _, order := range pending {
			w.checkOrder(ctx, provider, order)
		}
	}

	return nil
}

func (w *Worker) checkOrder(ctx context.Context, provider payments.Provider, order *orders.Order) {
	result, err := provider.PollStatus(ctx, order)
	if err != nil {
		w.logger.Warn("опрос платежа",
			slog.Int64("order_id", order.ID),
			slog.String("provider", string(provider.Name())),
			slog.Any("error", err))
		return
	}
	if result == nil || !result.Paid || result.ProviderPaymentID == "" {
		return
	}

	outcome, err := w.ordersService.ConfirmPayment(
		ctx, order.ID, orders.SourceProviderPoll,
		provider.Name(), result.ProviderPaymentID, nil,
	)
	if err != nil {
		w.logger.Error("подтверждение по poll",
			slog.Int64("order_id", order.ID),
			slog.Any("error", err))
		return
	}
	if outcome == orders.OutcomeConfirmed {
		telemetry.PaymentsConfirmed.WithLabelValues(string(orders.SourceProviderPoll)).Inc()
		w.logger.Info("оплата подтверждена по poll", slog.Int64("order_id", order.ID))
	}
}
