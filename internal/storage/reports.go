package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"numera-bot/internal/stories/reports"
	"numera-bot/internal/stories/tariffs"

	sq "github.com/Masterminds/squirrel"
)

const reportsTable = "reports"

var reportRowFields = fields(reportRow{})

type reportRow struct {
	ID            int64     `db:"id"`
	UserID        int64     `db:"user_id"`
	OrderID       *int64    `db:"order_id"`
	Tariff        string    `db:"tariff"`
	ReportText    string    `db:"report_text"`
	CanonicalText string    `db:"report_text_canonical"`
	ModelUsed     string    `db:"model_used"`
	SafetyFlags   *string   `db:"safety_flags"`
	CreatedAt     time.Time `db:"created_at"`
}

func (r reportRow) ToModel() (*reports.Report, error) {
	var flags []string
	if r.SafetyFlags != nil && *r.SafetyFlags != "" {
		if err := json.Unmarshal([]byte(*r.SafetyFlags), &flags); err != nil {
			return nil, fmt.Errorf("разбор safety flags отчёта %d: %w", r.ID, err)
		}
	}
	return &reports.Report{
		ID:            r.ID,
		UserID:        r.UserID,
		OrderID:       r.OrderID,
		Tariff:        tariffs.Tariff(r.Tariff),
		ReportText:    r.ReportText,
		CanonicalText: r.CanonicalText,
		ModelUsed:     reports.Model(r.ModelUsed),
		SafetyFlags:   flags,
		CreatedAt:     r.CreatedAt,
	}, nil
}

func (s *storageImpl) GetReport(ctx context.Context, id int64) (*reports.Report, error) {
	q, args, err := s.stmpBuilder().
		Select(reportRowFields).
		From(reportsTable).
		Where(sq.Eq{"id": id}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var row reportRow
	err = s.db.GetContext(ctx, &row, q, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("db.GetContext: %w", err)
	}

	return row.ToModel()
}

func (s *storageImpl) GetReportByOrderID(ctx context.Context, orderID int64) (*reports.Report, error) {
	q, args, err := s.stmpBuilder().
		Select(reportRowFields).
		From(reportsTable).
		Where(sq.Eq{"order_id": orderID}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var row reportRow
	err = s.db.GetContext(ctx, &row, q, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("db.GetContext: %w", err)
	}

	return row.ToModel()
}
