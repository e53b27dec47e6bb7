package llmkeys

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Ключ гасится после стольких подряд идущих 401/403. Разовый auth-сбой
// на стороне провайдера не должен выводить ключ из ротации навсегда.
const authFailureThreshold = 5

type Service struct {
	storage    Storage
	configured map[string][]string // provider → ключи из ENV для первичного посева
	logger     *slog.Logger
}

func NewService(storage Storage, configured map[string][]string, logger *slog.Logger) *Service {
	return &Service{
		storage:    storage,
		configured: configured,
		logger:     logger,
	}
}

// ResolveKeys возвращает активные ключи провайдера в порядке ротации.
// Пустой пул при первом обращении засевается ключами из конфигурации.
func (s *Service) ResolveKeys(ctx context.Context, provider string) ([]*Key, error) {
	keys, err := s.storage.ListActiveLLMKeys(ctx, provider)
	if err != nil {
		return nil, fmt.Errorf("list llm keys: %w", err)
	}
	if len(keys) > 0 {
		return keys, nil
	}

	seed := make([]string, 0, len(s.configured[provider]))
	for _, k := range s.configured[provider] {
		if strings.TrimSpace(k) != "" {
			seed = append(seed, strings.TrimSpace(k))
		}
	}
	if len(seed) == 0 {
		return nil, nil
	}

	if err := s.storage.SeedLLMKeys(ctx, provider, seed); err != nil {
		return nil, fmt.Errorf("seed llm keys: %w", err)
	}
	s.logger.Info("пул ключей засеян из конфигурации",
		slog.String("provider", provider),
		slog.Int("count", len(seed)))

	keys, err = s.storage.ListActiveLLMKeys(ctx, provider)
	if err != nil {
		return nil, fmt.Errorf("list llm keys after seed: %w", err)
	}

	return keys, nil
}

// RecordUsage фиксирует исход обращения с ключом. Счётчики обновляются
// всегда, в том числе для уже погашенных ключей.
func (s *Service) RecordUsage(ctx context.Context, keyID int64, usage Usage) error {
	if err := s.storage.RecordLLMKeyUsage(ctx, keyID, usage, authFailureThreshold); err != nil {
		return fmt.Errorf("record llm key usage: %w", err)
	}
	return nil
}
