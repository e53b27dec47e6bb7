package reports

import (
	"context"

	"numera-bot/internal/stories/llmkeys"
)

// LLMClient — транспорт одного провайдера (internal/infra/llmapi).
type LLMClient interface {
	Name() string
	Generate(ctx context.Context, apiKey, prompt string) (string, error)
}

type KeyPool interface {
	ResolveKeys(ctx context.Context, provider string) ([]*llmkeys.Key, error)
	RecordUsage(ctx context.Context, keyID int64, usage llmkeys.Usage) error
}
