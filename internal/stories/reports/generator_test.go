package reports

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"numera-bot/internal/infra/llmapi"
	"numera-bot/internal/stories/llmkeys"
)

type fakeCall struct {
	keyID int64
	usage llmkeys.Usage
}

type fakePool struct {
	keys  map[string][]*llmkeys.Key
	calls []fakeCall
}

func (p *fakePool) ResolveKeys(_ context.Context, provider string) ([]*llmkeys.Key, error) {
	return p.keys[provider], nil
}

func (p *fakePool) RecordUsage(_ context.Context, keyID int64, usage llmkeys.Usage) error {
	p.calls = append(p.calls, fakeCall{keyID: keyID, usage: usage})
	return nil
}

// fakeClient отдаёт ответы по ключам в порядке вызовов.
type fakeClient struct {
	name      string
	responses []func(apiKey string) (string, error)
	seenKeys  []string
}

func (c *fakeClient) Name() string { return c.name }

func (c *fakeClient) Generate(_ context.Context, apiKey, _ string) (string, error) {
	c.seenKeys = append(c.seenKeys, apiKey)
	if len(c.responses) == 0 {
		return "", errors.New("нет подготовленных ответов")
	}
	next := c.responses[0]
	c.responses = c.responses[1:]
	return next(apiKey)
}

func ok(text string) func(string) (string, error) {
	return func(string) (string, error) { return text, nil }
}

func fail(provider string, status int, category llmapi.ErrorCategory) func(string) (string, error) {
	return func(string) (string, error) {
		return "", &llmapi.ProviderError{
			Provider:   provider,
			StatusCode: status,
			Category:   category,
			Message:    "fail",
		}
	}
}

func poolKeys(provider string, n int) []*llmkeys.Key {
	keys := make([]*llmkeys.Key, 0, n)
	for i := 0; i < n; i++ {
		keys = append(keys, &llmkeys.Key{
			ID:       int64(i + 1),
			Provider: provider,
			Key:      provider + "-key-" + string(rune('a'+i)),
		})
	}
	return keys
}

func newTestGenerator(pool KeyPool, clients ...LLMClient) (*Generator, *[]time.Duration) {
	g := NewGenerator(pool, slog.New(slog.NewTextHandler(io.Discard, nil)), clients...)
	var delays []time.Duration
	g.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return g, &delays
}

func TestGenerateFirstKeySucceeds(t *testing.T) {
	pool := &fakePool{keys: map[string][]*llmkeys.Key{"gemini": poolKeys("gemini", 2)}}
	gemini := &fakeClient{name: "gemini", responses: []func(string) (string, error){ok("Отчёт готов")}}

	g, _ := newTestGenerator(pool, gemini)

	draft, err := g.Generate(context.Background(), GenerateRequest{Prompt: "разбор"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if draft.ReportText != "Отчёт готов" || draft.ModelUsed != ModelGemini {
		t.Fatalf("draft = %+v", draft)
	}
	if len(gemini.seenKeys) != 1 || gemini.seenKeys[0] != "gemini-key-a" {
		t.Fatalf("seen keys = %v", gemini.seenKeys)
	}
	if len(pool.calls) != 1 || !pool.calls[0].usage.Success || pool.calls[0].keyID != 1 {
		t.Fatalf("usage calls = %+v", pool.calls)
	}
}

func TestGenerateAuthErrorRotatesKey(t *testing.T) {
	pool := &fakePool{keys: map[string][]*llmkeys.Key{"gemini": poolKeys("gemini", 2)}}
	gemini := &fakeClient{name: "gemini", responses: []func(string) (string, error){
		fail("gemini", 401, llmapi.CategoryAuth),
		ok("Отчёт"),
	}}

	g, delays := newTestGenerator(pool, gemini)

	draft, err := g.Generate(context.Background(), GenerateRequest{Prompt: "разбор"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if draft.ReportText != "Отчёт" {
		t.Fatalf("draft = %+v", draft)
	}
	// Auth-ошибка — смена ключа, без ретраев и пауз.
	if len(*delays) != 0 {
		t.Fatalf("delays = %v, want none", *delays)
	}
	if len(gemini.seenKeys) != 2 || gemini.seenKeys[1] != "gemini-key-b" {
		t.Fatalf("seen keys = %v", gemini.seenKeys)
	}
	if len(pool.calls) != 2 || pool.calls[0].usage.StatusCode != 401 || !pool.calls[1].usage.Success {
		t.Fatalf("usage calls = %+v", pool.calls)
	}
}

func TestGenerateTransientRetriesSameKey(t *testing.T) {
	pool := &fakePool{keys: map[string][]*llmkeys.Key{"gemini": poolKeys("gemini", 1)}}
	gemini := &fakeClient{name: "gemini", responses: []func(string) (string, error){
		fail("gemini", 503, llmapi.CategoryTransient),
		fail("gemini", 503, llmapi.CategoryTransient),
		ok("Отчёт"),
	}}

	g, delays := newTestGenerator(pool, gemini)

	if _, err := g.Generate(context.Background(), GenerateRequest{Prompt: "разбор"}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got := *delays; len(got) != 2 || got[0] != time.Second || got[1] != 2*time.Second {
		t.Fatalf("delays = %v, want [1s 2s]", got)
	}
	// Все три попытки — одним ключом.
	for _, k := range gemini.seenKeys {
		if k != "gemini-key-a" {
			t.Fatalf("seen keys = %v, want single key", gemini.seenKeys)
		}
	}
}

func TestGenerateRateLimitHonorsRetryAfter(t *testing.T) {
	pool := &fakePool{keys: map[string][]*llmkeys.Key{"gemini": poolKeys("gemini", 1)}}
	gemini := &fakeClient{name: "gemini", responses: []func(string) (string, error){
		func(string) (string, error) {
			return "", &llmapi.ProviderError{
				Provider:   "gemini",
				StatusCode: 429,
				Category:   llmapi.CategoryRateLimited,
				RetryAfter: 5 * time.Second,
				Message:    "rate limited",
			}
		},
		ok("Отчёт"),
	}}

	g, delays := newTestGenerator(pool, gemini)

	if _, err := g.Generate(context.Background(), GenerateRequest{Prompt: "разбор"}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got := *delays; len(got) != 1 || got[0] != 5*time.Second {
		t.Fatalf("delays = %v, want [5s]", got)
	}
}

func TestGenerateEmptyResponseAbortsProvider(t *testing.T) {
	pool := &fakePool{keys: map[string][]*llmkeys.Key{
		"gemini": poolKeys("gemini", 2),
		"openai": poolKeys("openai", 1),
	}}
	gemini := &fakeClient{name: "gemini", responses: []func(string) (string, error){
		fail("gemini", 200, llmapi.CategoryEmptyResponse),
	}}
	openai := &fakeClient{name: "openai", responses: []func(string) (string, error){
		ok("Резервный отчёт"),
	}}

	g, _ := newTestGenerator(pool, gemini, openai)

	draft, err := g.Generate(context.Background(), GenerateRequest{Prompt: "разбор"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if draft.ModelUsed != ModelChatGPT {
		t.Fatalf("model = %s, want chatgpt fallback", draft.ModelUsed)
	}
	// Пустой ответ — не проблема ключа: второй ключ gemini не трогаем.
	if len(gemini.seenKeys) != 1 {
		t.Fatalf("gemini seen keys = %v, want 1", gemini.seenKeys)
	}
}

func TestGenerateProviderFallback(t *testing.T) {
	pool := &fakePool{keys: map[string][]*llmkeys.Key{
		"gemini": poolKeys("gemini", 1),
		"openai": poolKeys("openai", 1),
	}}
	gemini := &fakeClient{name: "gemini", responses: []func(string) (string, error){
		fail("gemini", 401, llmapi.CategoryAuth),
	}}
	openai := &fakeClient{name: "openai", responses: []func(string) (string, error){
		ok("Резервный отчёт"),
	}}

	g, _ := newTestGenerator(pool, gemini, openai)

	draft, err := g.Generate(context.Background(), GenerateRequest{Prompt: "разбор"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if draft.ReportText != "Резервный отчёт" || draft.ModelUsed != ModelChatGPT {
		t.Fatalf("draft = %+v", draft)
	}
}

func TestGenerateAllExhausted(t *testing.T) {
	pool := &fakePool{keys: map[string][]*llmkeys.Key{
		"gemini": poolKeys("gemini", 1),
		"openai": poolKeys("openai", 1),
	}}
	gemini := &fakeClient{name: "gemini", responses: []func(string) (string, error){
		fail("gemini", 401, llmapi.CategoryAuth),
	}}
	openai := &fakeClient{name: "openai", responses: []func(string) (string, error){
		fail("openai", 403, llmapi.CategoryAuth),
	}}

	g, _ := newTestGenerator(pool, gemini, openai)

	_, err := g.Generate(context.Background(), GenerateRequest{Prompt: "разбор"})
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("err = %v, want ErrGenerationFailed", err)
	}
}

func TestGenerateNoKeysConfigured(t *testing.T) {
	pool := &fakePool{keys: map[string][]*llmkeys.Key{}}
	gemini := &fakeClient{name: "gemini"}

	g, _ := newTestGenerator(pool, gemini)

	_, err := g.Generate(context.Background(), GenerateRequest{Prompt: "разбор"})
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("err = %v, want ErrGenerationFailed", err)
	}
}
