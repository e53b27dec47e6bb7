package llmkeys

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

type fakeStorage struct {
	keys     map[string][]*Key
	seeded   map[string][]string
	recorded []struct {
		keyID     int64
		usage     Usage
		threshold int
	}
}

func (f *fakeStorage) ListActiveLLMKeys(_ context.Context, provider string) ([]*Key, error) {
	return f.keys[provider], nil
}

func (f *fakeStorage) SeedLLMKeys(_ context.Context, provider string, seed []string) error {
	f.seeded[provider] = seed
	for i, k := range seed {
		f.keys[provider] = append(f.keys[provider], &Key{
			ID:       int64(i + 1),
			Provider: provider,
			Key:      k,
			IsActive: true,
			Priority: (i + 1) * 10,
		})
	}
	return nil
}

func (f *fakeStorage) RecordLLMKeyUsage(_ context.Context, keyID int64, usage Usage, threshold int) error {
	f.recorded = append(f.recorded, struct {
		keyID     int64
		usage     Usage
		threshold int
	}{keyID, usage, threshold})
	return nil
}

func newTestService(storage *fakeStorage, configured map[string][]string) *Service {
	return NewService(storage, configured, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestResolveKeysSeedsEmptyPool(t *testing.T) {
	storage := &fakeStorage{keys: map[string][]*Key{}, seeded: map[string][]string{}}
	s := newTestService(storage, map[string][]string{
		"gemini": {"key-a", "  ", "key-b", ""},
	})

	keys, err := s.ResolveKeys(context.Background(), "gemini")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("len(keys) = %d, want 2", len(keys))
	}

	// Пустые строки из конфигурации не сеются.
	seed := storage.seeded["gemini"]
	if len(seed) != 2 || seed[0] != "key-a" || seed[1] != "key-b" {
		t.Fatalf("seeded = %v", seed)
	}
}

func TestResolveKeysExistingPoolNotReseeded(t *testing.T) {
	storage := &fakeStorage{
		keys: map[string][]*Key{
			"gemini": {{ID: 1, Provider: "gemini", Key: "db-key", IsActive: true}},
		},
		seeded: map[string][]string{},
	}
	s := newTestService(storage, map[string][]string{"gemini": {"env-key"}})

	keys, err := s.ResolveKeys(context.Background(), "gemini")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(keys) != 1 || keys[0].Key != "db-key" {
		t.Fatalf("keys = %+v", keys)
	}
	if len(storage.seeded) != 0 {
		t.Fatalf("seeded = %v, pool must not be reseeded", storage.seeded)
	}
}

func TestResolveKeysNothingConfigured(t *testing.T) {
	storage := &fakeStorage{keys: map[string][]*Key{}, seeded: map[string][]string{}}
	s := newTestService(storage, map[string][]string{})

	keys, err := s.ResolveKeys(context.Background(), "openai")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if keys != nil {
		t.Fatalf("keys = %+v, want nil", keys)
	}
}

func TestRecordUsagePassesThreshold(t *testing.T) {
	storage := &fakeStorage{keys: map[string][]*Key{}, seeded: map[string][]string{}}
	s := newTestService(storage, nil)

	if err := s.RecordUsage(context.Background(), 7, Usage{StatusCode: 401, Error: "unauthorized"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(storage.recorded) != 1 {
		t.Fatalf("recorded = %d, want 1", len(storage.recorded))
	}
	if storage.recorded[0].keyID != 7 || storage.recorded[0].threshold != authFailureThreshold {
		t.Fatalf("recorded = %+v", storage.recorded[0])
	}
}
