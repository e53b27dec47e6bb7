package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"numera-bot/internal/stories/reportjobs"
	"numera-bot/internal/stories/tariffs"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

type Service struct {
	storage  Storage
	tariffs  Tariffs
	enqueuer JobEnqueuer
	logger   *slog.Logger
}

func NewService(storage Storage, tariffsService Tariffs, enqueuer JobEnqueuer, logger *slog.Logger) *Service {
	return &Service{
		storage:  storage,
		tariffs:  tariffsService,
		enqueuer: enqueuer,
		logger:   logger,
	}
}

// CreateOrder создаёт заказ на платный тариф. Бесплатный тариф заказа не
// требует — разбор ставится в очередь напрямую.
func (s *Service) CreateOrder(ctx context.Context, userID int64, tariff tariffs.Tariff, smokeCheck bool) (*Order, error) {
	info, err := s.tariffs.Get(tariff)
	if err != nil {
		return nil, fmt.Errorf("get tariff: %w", err)
	}
	if info.Code.Free() {
		return nil, ErrTariffNotPayable
	}

	order, err := s.storage.CreateOrder(ctx, Order{
		UserID:       userID,
		Tariff:       info.Code,
		Amount:       info.Price,
		IsSmokeCheck: smokeCheck,
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	s.logger.Info("заказ создан",
		slog.Int64("order_id", order.ID),
		slog.String("tariff", string(tariff)),
		slog.Int("amount", info.Price))
	return order, nil
}

func (s *Service) GetOrder(ctx context.Context, id int64) (*Order, error) {
	return s.storage.GetOrder(ctx, id)
}

func (s *Service) GetOrderByProviderPaymentID(ctx context.Context, provider Provider, paymentID string) (*Order, error) {
	return s.storage.GetOrderByProviderPaymentID(ctx, provider, paymentID)
}

func (s *Service) ListPendingPollOrders(ctx context.Context, provider Provider, limit int) ([]*Order, error) {
	return s.storage.ListPendingPollOrders(ctx, provider, limit)
}

// MarkPending фиксирует, что пользователь ушёл платить: провайдер выбран,
// платёж (если уже известен) привязан к заказу.
func (s *Service) MarkPending(ctx context.Context, orderID int64, provider Provider, providerPaymentID *string) error {
	return s.storage.MarkOrderPending(ctx, orderID, provider, providerPaymentID)
}

// ConfirmPayment — единственная точка подтверждения оплаты для всех
// источников (webhook, poll, админ). Идемпотентна: первый источник
// подтверждает и ставит задачу генерации, остальные получают
// OutcomeAlreadyConfirmed без побочных эффектов.
func (s *Service) ConfirmPayment(ctx context.Context, orderID int64, source ConfirmationSource, provider Provider, providerPaymentID string, paidAt *time.Time) (ConfirmationOutcome, error) {
	if providerPaymentID == "" {
		return "", ErrMissingPaymentID
	}

	confirmed, err := s.storage.ConfirmOrderPayment(ctx, ConfirmParams{
		OrderID:           orderID,
		Provider:          provider,
		ProviderPaymentID: providerPaymentID,
		PaidAt:            lo.FromPtrOr(paidAt, time.Now().UTC()),
		Source:            source,
	})
	if err != nil {
		return "", fmt.Errorf("confirm order payment: %w", err)
	}

	if !confirmed {
		order, err := s.storage.GetOrder(ctx, orderID)
		if err != nil {
			return "", fmt.Errorf("get order: %w", err)
		}
		if order == nil {
			return "", ErrOrderNotFound
		}
		return OutcomeAlreadyConfirmed, nil
	}

	order, err := s.storage.GetOrder(ctx, orderID)
	if err != nil {
		return "", fmt.Errorf("get confirmed order: %w", err)
	}
	if order == nil {
		return "", ErrOrderNotFound
	}

	s.logger.Info("оплата подтверждена",
		slog.Int64("order_id", orderID),
		slog.String("source", string(source)),
		slog.String("provider_payment_id", providerPaymentID))

	if err := s.enqueueFulfillment(ctx, order); err != nil {
		// Оплата уже зафиксирована, задачу доставит poll-воркер или
		// повторный webhook через requeue.
		s.logger.Error("постановка задачи генерации после оплаты",
			slog.Int64("order_id", orderID),
			slog.Any("error", err))
	}

	return OutcomeConfirmed, nil
}

func (s *Service) enqueueFulfillment(ctx context.Context, order *Order) error {
	var chatID *int64
	user, err := s.storage.GetUser(ctx, order.UserID)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	if user != nil {
		chatID = lo.ToPtr(user.TelegramUserID)
	}

	_, err = s.enqueuer.Enqueue(ctx, order.UserID, lo.ToPtr(order.ID), order.Tariff, chatID)
	if err != nil {
		if errors.Is(err, reportjobs.ErrDuplicateJob) {
			return nil
		}
		return fmt.Errorf("enqueue report job: %w", err)
	}

	return nil
}

// AdminConfirm — ручное подтверждение оплаты оператором. Пишет строку
// финансового аудита и подтверждает через общий путь.
func (s *Service) AdminConfirm(ctx context.Context, orderID int64, actor, providerPaymentID string) (ConfirmationOutcome, error) {
	before, err := s.storage.GetOrder(ctx, orderID)
	if err != nil {
		return "", fmt.Errorf("get order: %w", err)
	}
	if before == nil {
		return "", ErrOrderNotFound
	}

	if providerPaymentID == "" {
		providerPaymentID = "manual-" + uuid.NewString()
	}

	outcome, err := s.ConfirmPayment(ctx, orderID, SourceAdminManual, before.Provider, providerPaymentID, nil)
	if err != nil {
		return "", err
	}

	after, err := s.storage.GetOrder(ctx, orderID)
	if err != nil {
		return "", fmt.Errorf("get order after confirm: %w", err)
	}

	beforeJSON, err := json.Marshal(before)
	if err != nil {
		return "", fmt.Errorf("marshal order before: %w", err)
	}
	afterJSON, err := json.Marshal(after)
	if err != nil {
		return "", fmt.Errorf("marshal order after: %w", err)
	}

	if err := s.storage.CreateFinanceEvent(ctx, orderID, "manual_confirm", actor, string(beforeJSON), string(afterJSON)); err != nil {
		return "", fmt.Errorf("create finance event: %w", err)
	}

	return outcome, nil
}
