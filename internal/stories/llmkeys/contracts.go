package llmkeys

import "context"

type Storage interface {
	ListActiveLLMKeys(ctx context.Context, provider string) ([]*Key, error)
	SeedLLMKeys(ctx context.Context, provider string, keys []string) error
	RecordLLMKeyUsage(ctx context.Context, keyID int64, usage Usage, failureThreshold int) error
}
