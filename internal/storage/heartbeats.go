package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

const serviceHeartbeatsTable = "service_heartbeats"

var heartbeatRowFields = fields(heartbeatRow{})

type heartbeatRow struct {
	ServiceName string    `db:"service_name"`
	UpdatedAt   time.Time `db:"updated_at"`
	Host        string    `db:"host"`
	PID         int       `db:"pid"`
}

type Heartbeat struct {
	ServiceName string
	UpdatedAt   time.Time
	Host        string
	PID         int
}

func (h heartbeatRow) ToModel() *Heartbeat {
	return &Heartbeat{
		ServiceName: h.ServiceName,
		UpdatedAt:   h.UpdatedAt,
		Host:        h.Host,
		PID:         h.PID,
	}
}

func (s *storageImpl) UpsertHeartbeat(ctx context.Context, serviceName, host string, pid int) error {
	q, args, err := s.stmpBuilder().
		Insert(serviceHeartbeatsTable).
		SetMap(map[string]interface{}{
			"service_name": serviceName,
			"updated_at":   s.now(),
			"host":         host,
			"pid":          pid,
		}).
		Suffix("ON CONFLICT(service_name) DO UPDATE SET updated_at = excluded.updated_at, host = excluded.host, pid = excluded.pid").
		ToSql()
	if err != nil {
		return fmt.Errorf("build sql query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("db.ExecContext: %w", err)
	}

	return nil
}

func (s *storageImpl) GetHeartbeat(ctx context.Context, serviceName string) (*Heartbeat, error) {
	q, args, err := s.stmpBuilder().
		Select(heartbeatRowFields).
		From(serviceHeartbeatsTable).
		Where(sq.Eq{"service_name": serviceName}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var row heartbeatRow
	err = s.db.GetContext(ctx, &row, q, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("db.GetContext: %w", err)
	}

	return row.ToModel(), nil
}
