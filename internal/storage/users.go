package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"numera-bot/internal/stories/users"

	sq "github.com/Masterminds/squirrel"
)

const usersTable = "users"

var userRowFields = fields(userRow{})

type userRow struct {
	ID             int64     `db:"id"`
	TelegramUserID int64     `db:"telegram_user_id"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (u userRow) ToModel() *users.User {
	return &users.User{
		ID:             u.ID,
		TelegramUserID: u.TelegramUserID,
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
	}
}

func (s *storageImpl) GetUserByTelegramID(ctx context.Context, telegramUserID int64) (*users.User, error) {
	q, args, err := s.stmpBuilder().
		Select(userRowFields).
		From(usersTable).
		Where(sq.Eq{"telegram_user_id": telegramUserID}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var row userRow
	err = s.db.GetContext(ctx, &row, q, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("db.GetContext: %w", err)
	}

	return row.ToModel(), nil
}

func (s *storageImpl) GetUser(ctx context.Context, id int64) (*users.User, error) {
	q, args, err := s.stmpBuilder().
		Select(userRowFields).
		From(usersTable).
		Where(sq.Eq{"id": id}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var row userRow
	err = s.db.GetContext(ctx, &row, q, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("db.GetContext: %w", err)
	}

	return row.ToModel(), nil
}

// GetOrCreateUser — идемпотентная регистрация по telegram id.
func (s *storageImpl) GetOrCreateUser(ctx context.Context, telegramUserID int64) (*users.User, error) {
	existing, err := s.GetUserByTelegramID(ctx, telegramUserID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := s.now()
	q, args, err := s.stmpBuilder().
		Insert(usersTable).
		SetMap(map[string]interface{}{
			"telegram_user_id": telegramUserID,
			"created_at":       now,
			"updated_at":       now,
		}).
		Suffix("ON CONFLICT(telegram_user_id) DO NOTHING").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return nil, fmt.Errorf("db.ExecContext: %w", err)
	}

	// Перечитываем: при гонке строку мог вставить конкурент.
	created, err := s.GetUserByTelegramID(ctx, telegramUserID)
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, fmt.Errorf("пользователь %d не найден после вставки", telegramUserID)
	}

	return created, nil
}
