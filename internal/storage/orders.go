package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"numera-bot/internal/stories/orders"
	"numera-bot/internal/stories/tariffs"

	sq "github.com/Masterminds/squirrel"
)

const ordersTable = "orders"

var orderRowFields = fields(orderRow{})

type orderRow struct {
	ID                        int64      `db:"id"`
	UserID                    int64      `db:"user_id"`
	Tariff                    string     `db:"tariff"`
	Amount                    int        `db:"amount"`
	Currency                  string     `db:"currency"`
	Provider                  string     `db:"provider"`
	ProviderPaymentID         *string    `db:"provider_payment_id"`
	Status                    string     `db:"status"`
	CreatedAt                 time.Time  `db:"created_at"`
	PaidAt                    *time.Time `db:"paid_at"`
	PaymentConfirmed          bool       `db:"payment_confirmed"`
	PaymentConfirmedAt        *time.Time `db:"payment_confirmed_at"`
	PaymentConfirmationSource *string    `db:"payment_confirmation_source"`
	FulfillmentStatus         string     `db:"fulfillment_status"`
	FulfilledAt               *time.Time `db:"fulfilled_at"`
	FulfilledReportID         *int64     `db:"fulfilled_report_id"`
	ConsumedAt                *time.Time `db:"consumed_at"`
	IsSmokeCheck              bool       `db:"is_smoke_check"`
}

func (o orderRow) ToModel() *orders.Order {
	var source *orders.ConfirmationSource
	if o.PaymentConfirmationSource != nil {
		s := orders.ConfirmationSource(*o.PaymentConfirmationSource)
		source = &s
	}
	return &orders.Order{
		ID:                        o.ID,
		UserID:                    o.UserID,
		Tariff:                    tariffs.Tariff(o.Tariff),
		Amount:                    o.Amount,
		Currency:                  o.Currency,
		Provider:                  orders.Provider(o.Provider),
		ProviderPaymentID:         o.ProviderPaymentID,
		Status:                    orders.Status(o.Status),
		CreatedAt:                 o.CreatedAt,
		PaidAt:                    o.PaidAt,
		PaymentConfirmed:          o.PaymentConfirmed,
		PaymentConfirmedAt:        o.PaymentConfirmedAt,
		PaymentConfirmationSource: source,
		FulfillmentStatus:         orders.FulfillmentStatus(o.FulfillmentStatus),
		FulfilledAt:               o.FulfilledAt,
		FulfilledReportID:         o.FulfilledReportID,
		ConsumedAt:                o.ConsumedAt,
		IsSmokeCheck:              o.IsSmokeCheck,
	}
}

func (s *storageImpl) CreateOrder(ctx context.Context, order orders.Order) (*orders.Order, error) {
	now := s.now()

	currency := order.Currency
	if currency == "" {
		currency = "RUB"
	}
	provider := order.Provider
	if provider == "" {
		provider = orders.ProviderNone
	}
	status := order.Status
	if status == "" {
		status = orders.StatusCreated
	}

	params := map[string]interface{}{
		"user_id":             order.UserID,
		"tariff":              string(order.Tariff),
		"amount":              order.Amount,
		"currency":            currency,
		"provider":            string(provider),
		"provider_payment_id": order.ProviderPaymentID,
		"status":              string(status),
		"created_at":          now,
		"fulfillment_status":  string(orders.FulfillmentPending),
		"is_smoke_check":      order.IsSmokeCheck,
	}

	q, args, err := s.stmpBuilder().
		Insert(ordersTable).
		SetMap(params).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	result, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("db.ExecContext: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("result.LastInsertId: %w", err)
	}

	return s.GetOrder(ctx, id)
}

func (s *storageImpl) GetOrder(ctx context.Context, id int64) (*orders.Order, error) {
	q, args, err := s.stmpBuilder().
		Select(orderRowFields).
		From(ordersTable).
		Where(sq.Eq{"id": id}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var row orderRow
	err = s.db.GetContext(ctx, &row, q, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("db.GetContext: %w", err)
	}

	return row.ToModel(), nil
}

func (s *storageImpl) GetOrderByProviderPaymentID(ctx context.Context, provider orders.Provider, paymentID string) (*orders.Order, error) {
	q, args, err := s.stmpBuilder().
		Select(orderRowFields).
		From(ordersTable).
		Where(sq.Eq{"provider": string(provider), "provider_payment_id": paymentID}).
		OrderBy("id DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var row orderRow
	err = s.db.GetContext(ctx, &row, q, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("db.GetContext: %w", err)
	}

	return row.ToModel(), nil
}

// MarkOrderPending переводит заказ в ожидание оплаты и запоминает платёж
// провайдера. Оплаченные и отменённые заказы не трогаем.
func (s *storageImpl) MarkOrderPending(ctx context.Context, orderID int64, provider orders.Provider, providerPaymentID *string) error {
	query := s.stmpBuilder().
		Update(ordersTable).
		Set("status", string(orders.StatusPending)).
		Set("provider", sq.Expr("CASE WHEN provider = 'none' THEN ? ELSE provider END", string(provider))).
		Where(sq.Eq{"id": orderID}).
		Where(sq.Eq{"status": []string{string(orders.StatusCreated), string(orders.StatusPending)}})

	if providerPaymentID != nil {
		query = query.Set("provider_payment_id", sq.Expr("COALESCE(provider_payment_id, ?)", *providerPaymentID))
	}

	q, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build sql query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("db.ExecContext: %w", err)
	}

	return nil
}

// ConfirmOrderPayment — единственная точка перевода заказа в paid. Один
// условный UPDATE: кто прошёл guard payment_confirmed=0, тот и подтвердил;
// все остальные источники увидят 0 строк. paid_at и payment_confirmed_at
// сохраняют самое раннее известное время оплаты.
func (s *storageImpl) ConfirmOrderPayment(ctx context.Context, params orders.ConfirmParams) (bool, error) {
	now := s.now()
	confirmedAt := now
	if params.PaidAt.Before(now) {
		confirmedAt = params.PaidAt
	}

	q, args, err := s.stmpBuilder().
		Update(ordersTable).
		Set("status", string(orders.StatusPaid)).
		Set("provider", sq.Expr("CASE WHEN provider = 'none' THEN ? ELSE provider END", string(params.Provider))).
		Set("provider_payment_id", sq.Expr("COALESCE(provider_payment_id, ?)", params.ProviderPaymentID)).
		Set("paid_at", sq.Expr("COALESCE(paid_at, ?)", params.PaidAt)).
		Set("payment_confirmed", 1).
		Set("payment_confirmed_at", sq.Expr("COALESCE(payment_confirmed_at, ?)", confirmedAt)).
		Set("payment_confirmation_source", string(params.Source)).
		Where(sq.Eq{"id": params.OrderID}).
		Where(sq.Eq{"payment_confirmed": 0}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build sql query: %w", err)
	}

	result, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("db.ExecContext: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("result.RowsAffected: %w", err)
	}

	return affected == 1, nil
}

// ListPendingPollOrders возвращает заказы, ожидающие подтверждения, по
// которым есть платёж провайдера — кандидаты для poll-сверки.
func (s *storageImpl) ListPendingPollOrders(ctx context.Context, provider orders.Provider, limit int) ([]*orders.Order, error) {
	q, args, err := s.stmpBuilder().
		Select(orderRowFields).
		From(ordersTable).
		Where(sq.Eq{"status": string(orders.StatusPending)}).
		Where(sq.Eq{"payment_confirmed": 0}).
		Where(sq.Eq{"provider": string(provider)}).
		Where(sq.NotEq{"provider_payment_id": nil}).
		OrderBy("created_at ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var rows []orderRow
	err = s.db.SelectContext(ctx, &rows, q, args...)
	if err != nil {
		return nil, fmt.Errorf("db.SelectContext: %w", err)
	}

	var result []*orders.Order
	for _, row := range rows {
		result = append(result, row.ToModel())
	}

	return result, nil
}
