package orders

import (
	"errors"
	"time"

	"numera-bot/internal/stories/tariffs"
)

type Status string

const (
	StatusCreated  Status = "created"
	StatusPending  Status = "pending"
	StatusPaid     Status = "paid"
	StatusFailed   Status = "failed"
	StatusCanceled Status = "canceled"
)

type Provider string

const (
	ProviderNone          Provider = "none"
	ProviderProdamus      Provider = "prodamus"
	ProviderCloudPayments Provider = "cloudpayments"
)

// ConfirmationSource — откуда пришло подтверждение оплаты.
type ConfirmationSource string

const (
	SourceProviderWebhook ConfirmationSource = "provider_webhook"
	SourceProviderPoll    ConfirmationSource = "provider_poll"
	SourceAdminManual     ConfirmationSource = "admin_manual"
	SourceSystem          ConfirmationSource = "system"
)

type FulfillmentStatus string

const (
	FulfillmentPending   FulfillmentStatus = "pending"
	FulfillmentCompleted FulfillmentStatus = "completed"
)

type Order struct {
	ID                        int64
	UserID                    int64
	Tariff                    tariffs.Tariff
	Amount                    int
	Currency                  string
	Provider                  Provider
	ProviderPaymentID         *string
	Status                    Status
	CreatedAt                 time.Time
	PaidAt                    *time.Time
	PaymentConfirmed          bool
	PaymentConfirmedAt        *time.Time
	PaymentConfirmationSource *ConfirmationSource
	FulfillmentStatus         FulfillmentStatus
	FulfilledAt               *time.Time
	FulfilledReportID         *int64
	ConsumedAt                *time.Time
	IsSmokeCheck              bool
}

// ConfirmParams — параметры подтверждения оплаты для хранилища.
type ConfirmParams struct {
	OrderID           int64
	Provider          Provider
	ProviderPaymentID string
	PaidAt            time.Time
	Source            ConfirmationSource
}

// ConfirmationOutcome — результат сверки оплаты. Повторное подтверждение
// того же заказа — штатная ситуация (webhook + poll), не ошибка.
type ConfirmationOutcome string

const (
	OutcomeConfirmed        ConfirmationOutcome = "confirmed"
	OutcomeAlreadyConfirmed ConfirmationOutcome = "already_confirmed"
)

var (
	ErrOrderNotFound    = errors.New("заказ не найден")
	ErrMissingPaymentID = errors.New("подтверждение без идентификатора платежа")
	ErrTariffNotPayable = errors.New("тариф не требует оплаты")
)
