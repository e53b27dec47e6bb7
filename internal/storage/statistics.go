package storage

import (
	"context"
	"fmt"
)

// AdminStats — сводка для админского API. Smoke-check заказы (технические
// прогоны пайплайна) в бизнес-счётчики не входят.
type AdminStats struct {
	TotalUsers       int64 `db:"total_users" json:"total_users"`
	PaidOrders       int64 `db:"paid_orders" json:"paid_orders"`
	PendingOrders    int64 `db:"pending_orders" json:"pending_orders"`
	Revenue          int64 `db:"revenue" json:"revenue"`
	ReportsGenerated int64 `db:"reports_generated" json:"reports_generated"`
	FailedJobs       int64 `db:"failed_jobs" json:"failed_jobs"`
}

const adminStatsQuery = `
SELECT
    (SELECT COUNT(*) FROM users) AS total_users,
    (SELECT COUNT(*) FROM orders WHERE status = 'paid' AND is_smoke_check = 0) AS paid_orders,
    (SELECT COUNT(*) FROM orders WHERE status = 'pending' AND is_smoke_check = 0) AS pending_orders,
    (SELECT COALESCE(SUM(amount), 0) FROM orders WHERE status = 'paid' AND is_smoke_check = 0) AS revenue,
    (SELECT COUNT(*) FROM reports) AS reports_generated,
    (SELECT COUNT(*) FROM report_jobs WHERE status = 'failed') AS failed_jobs`

func (s *storageImpl) GetAdminStats(ctx context.Context) (*AdminStats, error) {
	var stats AdminStats
	if err := s.db.GetContext(ctx, &stats, adminStatsQuery); err != nil {
		return nil, fmt.Errorf("db.GetContext: %w", err)
	}
	return &stats, nil
}
