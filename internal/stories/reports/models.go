package reports

import (
	"errors"
	"time"

	"numera-bot/internal/stories/tariffs"
)

// Model — модель, сгенерировавшая отчёт, как она хранится в БД.
type Model string

const (
	ModelGemini  Model = "gemini"
	ModelChatGPT Model = "chatgpt"
)

type Report struct {
	ID            int64
	UserID        int64
	OrderID       *int64
	Tariff        tariffs.Tariff
	ReportText    string
	CanonicalText string
	ModelUsed     Model
	SafetyFlags   []string
	CreatedAt     time.Time
}

// Draft — результат генерации до записи в БД.
type Draft struct {
	ReportText    string
	CanonicalText string
	ModelUsed     Model
	SafetyFlags   []string
}

type GenerateRequest struct {
	UserID  int64
	OrderID *int64
	Tariff  tariffs.Tariff
	Prompt  string
}

// ErrGenerationFailed — все провайдеры и ключи исчерпаны.
var ErrGenerationFailed = errors.New("генерация отчёта не удалась")
