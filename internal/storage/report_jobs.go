package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"numera-bot/internal/infra/sqlite3"
	"numera-bot/internal/stories/orders"
	"numera-bot/internal/stories/reportjobs"
	"numera-bot/internal/stories/reports"
	"numera-bot/internal/stories/tariffs"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
)

const reportJobsTable = "report_jobs"

var reportJobRowFields = fields(reportJobRow{})

type reportJobRow struct {
	ID        int64      `db:"id"`
	UserID    int64      `db:"user_id"`
	OrderID   *int64     `db:"order_id"`
	Tariff    string     `db:"tariff"`
	Status    string     `db:"status"`
	Attempts  int        `db:"attempts"`
	LastError *string    `db:"last_error"`
	ChatID    *int64     `db:"chat_id"`
	LockToken *string    `db:"lock_token"`
	LockedAt  *time.Time `db:"locked_at"`
	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`
}

func (r reportJobRow) ToModel() *reportjobs.Job {
	return &reportjobs.Job{
		ID:        r.ID,
		UserID:    r.UserID,
		OrderID:   r.OrderID,
		Tariff:    tariffs.Tariff(r.Tariff),
		Status:    reportjobs.Status(r.Status),
		Attempts:  r.Attempts,
		LastError: r.LastError,
		ChatID:    r.ChatID,
		LockToken: r.LockToken,
		LockedAt:  r.LockedAt,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// RequeueFailedReportJob возвращает последнюю failed-задачу заказа в очередь
// со сброшенными attempts. Возвращает true, если такая задача нашлась.
func (s *storageImpl) RequeueFailedReportJob(ctx context.Context, orderID int64) (bool, error) {
	q, args, err := s.stmpBuilder().
		Update(reportJobsTable).
		Set("status", string(reportjobs.StatusPending)).
		Set("attempts", 0).
		Set("last_error", nil).
		Set("lock_token", nil).
		Set("locked_at", nil).
		Set("updated_at", s.now()).
		Where(sq.Expr(
			"id IN (SELECT id FROM report_jobs WHERE order_id = ? AND status = ? ORDER BY id DESC LIMIT 1)",
			orderID, string(reportjobs.StatusFailed),
		)).
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

const createReportJobQuery = `
INSERT INTO report_jobs (user_id, order_id, tariff, status, attempts, chat_id, created_at, updated_at)
SELECT ?, ?, ?, ?, 0, ?, ?, ?
WHERE NOT EXISTS (
    SELECT 1 FROM report_jobs
    WHERE order_id = ? AND status IN (?, ?)
)
AND NOT EXISTS (
    SELECT 1 FROM orders WHERE id = ? AND fulfilled_report_id IS NOT NULL
)`

// CreateReportJob ставит задачу генерации. Для платного заказа вставка
// условная: активная задача или уже исполненный заказ блокируют её, и
// вызывающий получает ErrDuplicateJob. Бесплатные разборы (order_id NULL)
// вставляются без guard'а.
func (s *storageImpl) CreateReportJob(ctx context.Context, job reportjobs.Job) (*reportjobs.Job, error) {
	now := s.now()

	if job.OrderID == nil {
		q, args, err := s.stmpBuilder().
			Insert(reportJobsTable).
			SetMap(map[string]interface{}{
				"user_id":    job.UserID,
				"order_id":   nil,
				"tariff":     string(job.Tariff),
				"status":     string(reportjobs.StatusPending),
				"attempts":   0,
				"chat_id":    job.ChatID,
				"created_at": now,
				"updated_at": now,
			}).
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
		return s.GetReportJob(ctx, id)
	}

	args := []interface{}{
		job.UserID,
		*job.OrderID,
		string(job.Tariff),
		string(reportjobs.StatusPending),
		job.ChatID,
		now,
		now,
		*job.OrderID,
		string(reportjobs.StatusPending),
		string(reportjobs.StatusInProgress),
		*job.OrderID,
	}

	result, err := s.db.ExecContext(ctx, createReportJobQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("db.ExecContext: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("result.RowsAffected: %w", err)
	}
	if affected == 0 {
		return nil, reportjobs.ErrDuplicateJob
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("result.LastInsertId: %w", err)
	}

	return s.GetReportJob(ctx, id)
}

func (s *storageImpl) GetReportJob(ctx context.Context, id int64) (*reportjobs.Job, error) {
	q, args, err := s.stmpBuilder().
		Select(reportJobRowFields).
		From(reportJobsTable).
		Where(sq.Eq{"id": id}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var row reportJobRow
	err = s.db.GetContext(ctx, &row, q, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("db.GetContext: %w", err)
	}

	return row.ToModel(), nil
}

func (s *storageImpl) GetReportJobByOrderID(ctx context.Context, orderID int64) (*reportjobs.Job, error) {
	q, args, err := s.stmpBuilder().
		Select(reportJobRowFields).
		From(reportJobsTable).
		Where(sq.Eq{"order_id": orderID}).
		OrderBy("id DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var row reportJobRow
	err = s.db.GetContext(ctx, &row, q, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("db.GetContext: %w", err)
	}

	return row.ToModel(), nil
}

// ClaimNextReportJob захватывает самую старую pending-задачу либо
// in_progress-задачу с протухшим локом. Захват — один условный UPDATE:
// из двух конкурентов строку получает тот, чей UPDATE прошёл первым,
// второй увидит пустую очередь.
func (s *storageImpl) ClaimNextReportJob(ctx context.Context, lockToken string, staleBefore time.Time) (*reportjobs.Job, error) {
	now := s.now()

	q, args, err := s.stmpBuilder().
		Update(reportJobsTable).
		Set("status", string(reportjobs.StatusInProgress)).
		Set("lock_token", lockToken).
		Set("locked_at", now).
		Set("updated_at", now).
		Where(sq.Expr(
			`id IN (
    SELECT id FROM report_jobs
    WHERE status = ?
       OR (status = ? AND locked_at IS NOT NULL AND locked_at < ?)
    ORDER BY created_at ASC, id ASC
    LIMIT 1
)`,
			string(reportjobs.StatusPending),
			string(reportjobs.StatusInProgress),
			staleBefore,
		)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	result, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("db.ExecContext: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("result.RowsAffected: %w", err)
	}
	if affected == 0 {
		return nil, nil
	}

	selectQ, selectArgs, err := s.stmpBuilder().
		Select(reportJobRowFields).
		From(reportJobsTable).
		Where(sq.Eq{"lock_token": lockToken}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var row reportJobRow
	if err := s.db.GetContext(ctx, &row, selectQ, selectArgs...); err != nil {
		return nil, fmt.Errorf("db.GetContext: %w", err)
	}

	return row.ToModel(), nil
}

// CompleteReportJob — одна транзакция: отчёт вставлен, задача завершена,
// заказ исполнен. Несовпадение lock_token откатывает всё с ErrStaleLock.
func (s *storageImpl) CompleteReportJob(ctx context.Context, job *reportjobs.Job, draft reports.Draft) (*reports.Report, error) {
	if job.LockToken == nil {
		return nil, reportjobs.ErrStaleLock
	}
	now := s.now()

	var reportID int64
	err := sqlite3.RunInTx(ctx, s.db, nil, func(tx *sqlx.Tx) error {
		q, args, err := s.stmpBuilder().
			Update(reportJobsTable).
			Set("status", string(reportjobs.StatusCompleted)).
			Set("lock_token", nil).
			Set("locked_at", nil).
			Set("last_error", nil).
			Set("updated_at", now).
			Where(sq.Eq{
				"id":         job.ID,
				"lock_token": *job.LockToken,
				"status":     string(reportjobs.StatusInProgress),
			}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build sql query: %w", err)
		}

		result, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return fmt.Errorf("tx.ExecContext: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("result.RowsAffected: %w", err)
		}
		if affected == 0 {
			return reportjobs.ErrStaleLock
		}

		var safetyFlags interface{}
		if len(draft.SafetyFlags) > 0 {
			encoded, err := json.Marshal(draft.SafetyFlags)
			if err != nil {
				return fmt.Errorf("сериализация safety flags: %w", err)
			}
			safetyFlags = string(encoded)
		}

		insertQ, insertArgs, err := s.stmpBuilder().
			Insert(reportsTable).
			SetMap(map[string]interface{}{
				"user_id":               job.UserID,
				"order_id":              job.OrderID,
				"tariff":                string(job.Tariff),
				"report_text":           draft.ReportText,
				"report_text_canonical": draft.CanonicalText,
				"model_used":            string(draft.ModelUsed),
				"safety_flags":          safetyFlags,
				"created_at":            now,
			}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build sql query: %w", err)
		}

		insertResult, err := tx.ExecContext(ctx, insertQ, insertArgs...)
		if err != nil {
			return fmt.Errorf("tx.ExecContext: %w", err)
		}
		reportID, err = insertResult.LastInsertId()
		if err != nil {
			return fmt.Errorf("result.LastInsertId: %w", err)
		}

		if job.OrderID == nil {
			return nil
		}

		orderQ, orderArgs, err := s.stmpBuilder().
			Update(ordersTable).
			Set("fulfillment_status", string(orders.FulfillmentCompleted)).
			Set("fulfilled_at", now).
			Set("fulfilled_report_id", reportID).
			Set("consumed_at", now).
			Where(sq.Eq{
				"id":                 *job.OrderID,
				"fulfillment_status": string(orders.FulfillmentPending),
			}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build sql query: %w", err)
		}

		orderResult, err := tx.ExecContext(ctx, orderQ, orderArgs...)
		if err != nil {
			return fmt.Errorf("tx.ExecContext: %w", err)
		}
		orderAffected, err := orderResult.RowsAffected()
		if err != nil {
			return fmt.Errorf("result.RowsAffected: %w", err)
		}
		if orderAffected == 0 {
			return fmt.Errorf("заказ %d: %w", *job.OrderID, reportjobs.ErrOrderAlreadyFulfilled)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.GetReport(ctx, reportID)
}

// FailReportJob фиксирует неудачную попытку. Пока attempts < maxAttempts
// задача возвращается в pending для немедленного ретрая, иначе — failed.
func (s *storageImpl) FailReportJob(ctx context.Context, job *reportjobs.Job, cause string, maxAttempts int) error {
	if job.LockToken == nil {
		return reportjobs.ErrStaleLock
	}

	q, args, err := s.stmpBuilder().
		Update(reportJobsTable).
		Set("attempts", sq.Expr("attempts + 1")).
		Set("last_error", cause).
		Set("status", sq.Expr(
			"CASE WHEN attempts + 1 < ? THEN ? ELSE ? END",
			maxAttempts, string(reportjobs.StatusPending), string(reportjobs.StatusFailed),
		)).
		Set("lock_token", nil).
		Set("locked_at", nil).
		Set("updated_at", s.now()).
		Where(sq.Eq{
			"id":         job.ID,
			"lock_token": *job.LockToken,
			"status":     string(reportjobs.StatusInProgress),
		}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build sql query: %w", err)
	}

	result, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("db.ExecContext: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("result.RowsAffected: %w", err)
	}
	if affected == 0 {
		return reportjobs.ErrStaleLock
	}

	return nil
}

func (s *storageImpl) CountReportJobs(ctx context.Context) (reportjobs.Counts, error) {
	const q = `
SELECT
    COUNT(CASE WHEN status = 'pending' THEN 1 END) AS pending,
    COUNT(CASE WHEN status = 'in_progress' THEN 1 END) AS in_progress,
    COUNT(CASE WHEN status = 'failed' THEN 1 END) AS failed
FROM report_jobs`

	var row struct {
		Pending    int64 `db:"pending"`
		InProgress int64 `db:"in_progress"`
		Failed     int64 `db:"failed"`
	}
	if err := s.db.GetContext(ctx, &row, q); err != nil {
		return reportjobs.Counts{}, fmt.Errorf("db.GetContext: %w", err)
	}

	return reportjobs.Counts{
		Pending:    row.Pending,
		InProgress: row.InProgress,
		Failed:     row.Failed,
	}, nil
}
