package storage

import (
	"context"
	"fmt"
	"time"

	"numera-bot/internal/stories/llmkeys"

	sq "github.com/Masterminds/squirrel"
)

const llmAPIKeysTable = "llm_api_keys"

var llmKeyRowFields = fields(llmKeyRow{})

type llmKeyRow struct {
	ID                int64      `db:"id"`
	Provider          string     `db:"provider"`
	Key               string     `db:"key"`
	IsActive          bool       `db:"is_active"`
	Priority          int        `db:"priority"`
	LastUsedAt        *time.Time `db:"last_used_at"`
	LastSuccessAt     *time.Time `db:"last_success_at"`
	LastError         *string    `db:"last_error"`
	LastStatusCode    *int       `db:"last_status_code"`
	SuccessCount      int64      `db:"success_count"`
	FailureCount      int64      `db:"failure_count"`
	AuthFailureStreak int64      `db:"auth_failure_streak"`
	DisabledAt        *time.Time `db:"disabled_at"`
	CreatedAt         time.Time  `db:"created_at"`
}

func (k llmKeyRow) ToModel() *llmkeys.Key {
	return &llmkeys.Key{
		ID:                k.ID,
		Provider:          k.Provider,
		Key:               k.Key,
		IsActive:          k.IsActive,
		Priority:          k.Priority,
		LastUsedAt:        k.LastUsedAt,
		LastSuccessAt:     k.LastSuccessAt,
		LastError:         k.LastError,
		LastStatusCode:    k.LastStatusCode,
		SuccessCount:      k.SuccessCount,
		FailureCount:      k.FailureCount,
		AuthFailureStreak: k.AuthFailureStreak,
		DisabledAt:        k.DisabledAt,
		CreatedAt:         k.CreatedAt,
	}
}

// ListActiveLLMKeys возвращает активные ключи провайдера в порядке ротации:
// priority по возрастанию, при равенстве — старейший первым.
func (s *storageImpl) ListActiveLLMKeys(ctx context.Context, provider string) ([]*llmkeys.Key, error) {
	q, args, err := s.stmpBuilder().
		Select(llmKeyRowFields).
		From(llmAPIKeysTable).
		Where(sq.Eq{"provider": provider, "is_active": 1}).
		OrderBy("priority ASC", "created_at ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var rows []llmKeyRow
	err = s.db.SelectContext(ctx, &rows, q, args...)
	if err != nil {
		return nil, fmt.Errorf("db.SelectContext: %w", err)
	}

	var keys []*llmkeys.Key
	for _, row := range rows {
		keys = append(keys, row.ToModel())
	}

	return keys, nil
}

// SeedLLMKeys вставляет ключи из конфигурации, пропуская уже известные.
func (s *storageImpl) SeedLLMKeys(ctx context.Context, provider string, keys []string) error {
	now := s.now()
	for i, key := range keys {
		q, args, err := s.stmpBuilder().
			Insert(llmAPIKeysTable).
			SetMap(map[string]interface{}{
				"provider":   provider,
				"key":        key,
				"is_active":  1,
				"priority":   (i + 1) * 10,
				"created_at": now,
			}).
			Suffix("ON CONFLICT(provider, key) DO NOTHING").
			ToSql()
		if err != nil {
			return fmt.Errorf("build sql query: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("db.ExecContext: %w", err)
		}
	}
	return nil
}

// RecordLLMKeyUsage обновляет счётчики ключа по исходу обращения.
// success_count и failure_count монотонные, за всю жизнь ключа; серия
// подряд идущих auth-ошибок считается отдельно в auth_failure_streak,
// и после failureThreshold таких ошибок подряд ключ гасится.
func (s *storageImpl) RecordLLMKeyUsage(ctx context.Context, keyID int64, usage llmkeys.Usage, failureThreshold int) error {
	now := s.now()

	query := s.stmpBuilder().
		Update(llmAPIKeysTable).
		Set("last_used_at", now).
		Where(sq.Eq{"id": keyID})

	if usage.Success {
		query = query.
			Set("last_success_at", now).
			Set("last_error", nil).
			Set("last_status_code", usage.StatusCode).
			Set("success_count", sq.Expr("success_count + 1")).
			Set("auth_failure_streak", 0)
	} else {
		query = query.
			Set("last_error", usage.Error).
			Set("last_status_code", usage.StatusCode).
			Set("failure_count", sq.Expr("failure_count + 1"))

		if usage.StatusCode == 401 || usage.StatusCode == 403 {
			query = query.
				Set("auth_failure_streak", sq.Expr("auth_failure_streak + 1")).
				Set("is_active", sq.Expr("CASE WHEN auth_failure_streak + 1 >= ? THEN 0 ELSE is_active END", failureThreshold)).
				Set("disabled_at", sq.Expr("CASE WHEN auth_failure_streak + 1 >= ? THEN ? ELSE disabled_at END", failureThreshold, now))
		} else {
			// Не-auth ошибка прерывает серию.
			query = query.Set("auth_failure_streak", 0)
		}
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
