package llmkeys

import "time"

type Key struct {
	ID             int64
	Provider       string
	Key            string
	IsActive       bool
	Priority       int
	LastUsedAt     *time.Time
	LastSuccessAt  *time.Time
	LastError      *string
	LastStatusCode *int
	SuccessCount   int64
	// FailureCount монотонный; серия подряд идущих auth-ошибок
	// для авто-отключения ключа считается в AuthFailureStreak.
	FailureCount      int64
	AuthFailureStreak int64
	DisabledAt        *time.Time
	CreatedAt         time.Time
}

// Usage — исход одного обращения к провайдеру с конкретным ключом.
type Usage struct {
	Success    bool
	StatusCode int
	Error      string
}
