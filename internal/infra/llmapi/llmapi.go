// Package llmapi содержит HTTP-клиенты LLM провайдеров (Gemini, OpenAI).
// Политика ротации ключей и fallback живёт в stories/reports, здесь только
// транспорт и классификация ошибок.
package llmapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

type ErrorCategory string

const (
	CategoryAuth           ErrorCategory = "auth"            // 401/403 — ключ мёртв, переходим к следующему
	CategoryRateLimited    ErrorCategory = "rate_limited"    // 429
	CategoryTransient      ErrorCategory = "transient"       // 5xx, таймауты, сетевые ошибки
	CategoryInvalidRequest ErrorCategory = "invalid_request" // 400/404 — ретраи бессмысленны
	CategoryEmptyResponse  ErrorCategory = "empty_response"  // 200 без текста
)

type ProviderError struct {
	Provider   string
	StatusCode int
	Category   ErrorCategory
	RetryAfter time.Duration
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s (status=%d): %s", e.Provider, e.Category, e.StatusCode, e.Message)
}

func classifyStatus(code int) ErrorCategory {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return CategoryAuth
	case code == http.StatusTooManyRequests:
		return CategoryRateLimited
	case code == http.StatusBadRequest || code == http.StatusNotFound:
		return CategoryInvalidRequest
	default:
		return CategoryTransient
	}
}

// parseRetryAfter читает Retry-After в секундах; абсолютные даты не поддерживаем.
func parseRetryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func truncateBody(b []byte) string {
	const limit = 512
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
