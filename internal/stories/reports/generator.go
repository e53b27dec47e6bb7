package reports

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"numera-bot/internal/infra/llmapi"
	"numera-bot/internal/stories/llmkeys"
	"numera-bot/internal/telemetry"
)

const (
	backoffBase   = time.Second
	backoffCap    = 8 * time.Second
	retriesPerKey = 3
)

// Generator гоняет запрос по провайдерам и их ключам. Порядок провайдеров
// фиксирован конструктором (Gemini, затем OpenAI). Внутри провайдера ключи
// ротируются только на auth-ошибках: 429 и 5xx — проблема провайдера, а не
// ключа, пустой ответ — проблема промпта.
type Generator struct {
	clients []LLMClient
	keys    KeyPool
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewGenerator(keys KeyPool, logger *slog.Logger, clients ...LLMClient) *Generator {
	return &Generator{
		clients: clients,
		keys:    keys,
		logger:  logger,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func modelFor(provider string) Model {
	if provider == "openai" {
		return ModelChatGPT
	}
	return ModelGemini
}

// Generate возвращает черновик отчёта либо ErrGenerationFailed, когда все
// провайдеры и ключи исчерпаны.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (*Draft, error) {
	var lastErr error

	for _, client := range g.clients {
		draft, err := g.tryProvider(ctx, client, req)
		if err == nil {
			return draft, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		g.logger.Warn("провайдер исчерпан, переключаемся на следующий",
			slog.String("provider", client.Name()),
			slog.Any("error", err))
	}

	if lastErr == nil {
		lastErr = errors.New("нет настроенных ключей")
	}
	return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, lastErr)
}

func (g *Generator) tryProvider(ctx context.Context, client LLMClient, req GenerateRequest) (*Draft, error) {
	keys, err := g.keys.ResolveKeys(ctx, client.Name())
	if err != nil {
		return nil, fmt.Errorf("resolve keys: %w", err)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("провайдер %s без активных ключей", client.Name())
	}

	var lastErr error
	for _, key := range keys {
		text, err := g.tryKey(ctx, client, key, req.Prompt)
		if err == nil {
			return g.buildDraft(client.Name(), text), nil
		}
		lastErr = err

		var perr *llmapi.ProviderError
		if errors.As(err, &perr) {
			switch perr.Category {
			case llmapi.CategoryEmptyResponse, llmapi.CategoryInvalidRequest:
				// Дело не в ключе: ротация остальных ключей только
				// сожжёт квоту тем же запросом.
				return nil, err
			}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}

// tryKey выполняет запрос одним ключом с ретраями перегрузок. Каждый исход
// записывается в пул, включая промежуточные 429/5xx.
func (g *Generator) tryKey(ctx context.Context, client LLMClient, key *llmkeys.Key, prompt string) (string, error) {
	backoff := backoffBase

	for attempt := 0; ; attempt++ {
		text, err := client.Generate(ctx, key.Key, prompt)

		usage := llmkeys.Usage{Success: err == nil}
		var perr *llmapi.ProviderError
		if errors.As(err, &perr) {
			usage.StatusCode = perr.StatusCode
			usage.Error = perr.Message
		} else if err != nil {
			usage.Error = err.Error()
		} else {
			usage.StatusCode = 200
		}
		if recErr := g.keys.RecordUsage(ctx, key.ID, usage); recErr != nil {
			g.logger.Error("запись исхода ключа", slog.Any("error", recErr))
		}

		outcome := "success"
		switch {
		case perr != nil:
			outcome = string(perr.Category)
		case err != nil:
			outcome = "error"
		}
		telemetry.LLMRequests.WithLabelValues(client.Name(), outcome).Inc()

		if err == nil {
			return text, nil
		}

		retryable := perr != nil &&
			(perr.Category == llmapi.CategoryTransient || perr.Category == llmapi.CategoryRateLimited)
		if !retryable || attempt >= retriesPerKey-1 {
			return "", err
		}

		delay := backoff
		if perr.RetryAfter > delay {
			delay = perr.RetryAfter
		}
		g.logger.Warn("перегрузка провайдера, повтор",
			slog.String("provider", client.Name()),
			slog.Int("status", perr.StatusCode),
			slog.Duration("delay", delay))
		if err := g.sleep(ctx, delay); err != nil {
			return "", err
		}

		backoff *= 2
		if backoff > backoffCap {
			backoff = backoffCap
		}
	}
}

func (g *Generator) buildDraft(provider, text string) *Draft {
	canonical := Canonicalize(text)
	return &Draft{
		ReportText:    text,
		CanonicalText: canonical,
		ModelUsed:     modelFor(provider),
		SafetyFlags:   EvaluateSafety(canonical),
	}
}
