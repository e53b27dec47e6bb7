package storage

import (
	"context"
	"fmt"
)

const adminFinanceEventsTable = "admin_finance_events"

// CreateFinanceEvent пишет строку аудита ручных операций с заказами.
// Журнал только добавляется, правок и удалений нет.
func (s *storageImpl) CreateFinanceEvent(ctx context.Context, orderID int64, action, actor, beforeJSON, afterJSON string) error {
	q, args, err := s.stmpBuilder().
		Insert(adminFinanceEventsTable).
		SetMap(map[string]interface{}{
			"order_id":    orderID,
			"action":      action,
			"actor":       actor,
			"before_json": beforeJSON,
			"after_json":  afterJSON,
			"created_at":  s.now(),
		}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build sql query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("db.ExecContext: %w", err)
	}

	return nil
}
