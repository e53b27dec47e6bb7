package config

import (
	"fmt"
	"time"
)

type Config struct {
	Env              string                  `env:"ENV,default=local"`
	Logger           LoggerConfig            `env:",prefix=LOGGER_"`
	Observability    ObservabilityHTTPConfig `env:",prefix=OBSERVABILITY_"`
	API              APIHTTPConfig           `env:",prefix=API_"`
	ShutdownDuration time.Duration           `env:"SHUTDOWN_DURATION,default=30s"`
	DB               SQLiteConfig            `env:",prefix=DB_"`
	Telegram         TelegramConfig          `env:",prefix=TELEGRAM_"`
	Payments         PaymentsConfig          `env:",prefix=PAYMENTS_"`
	LLM              LLMConfig               `env:",prefix=LLM_"`
	Worker           WorkerConfig            `env:",prefix=WORKER_"`
	Admin            AdminConfig             `env:",prefix=ADMIN_"`
}

type TelegramConfig struct {
	BotToken string        `env:"BOT_TOKEN"`
	Timeout  time.Duration `env:"TIMEOUT,default=30s"`
}

type PaymentsConfig struct {
	// Primary определяет провайдера, чья подпись проверяется первой,
	// когда webhook приходит без явного параметра provider.
	Primary       string              `env:"PRIMARY,default=prodamus"`
	SuccessURL    string              `env:"SUCCESS_URL"`
	ReturnURL     string              `env:"RETURN_URL"`
	WebhookURL    string              `env:"WEBHOOK_URL"`
	Prodamus      ProdamusConfig      `env:",prefix=PRODAMUS_"`
	CloudPayments CloudPaymentsConfig `env:",prefix=CLOUDPAYMENTS_"`
}

type ProdamusConfig struct {
	FormURL       string `env:"FORM_URL"`
	UnifiedKey    string `env:"UNIFIED_KEY"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`
}

type CloudPaymentsConfig struct {
	PublicID   string `env:"PUBLIC_ID"`
	APISecret  string `env:"API_SECRET"`
	APIBaseURL string `env:"API_BASE_URL,default=https://api.cloudpayments.ru"`
	WidgetURL  string `env:"WIDGET_URL,default=https://widget.cloudpayments.ru/"`
}

type LLMConfig struct {
	Timeout time.Duration     `env:"TIMEOUT,default=60s"`
	Gemini  GeminiLLMConfig   `env:",prefix=GEMINI_"`
	OpenAI  OpenAILLMConfig   `env:",prefix=OPENAI_"`
}

type GeminiLLMConfig struct {
	APIKey  string `env:"API_KEY"`
	APIKeys string `env:"API_KEYS"` // дополнительные ключи через запятую
	Model   string `env:"MODEL,default=gemini-1.5-pro"`
	BaseURL string `env:"BASE_URL,default=https://generativelanguage.googleapis.com"`
}

type OpenAILLMConfig struct {
	APIKey  string `env:"API_KEY"`
	APIKeys string `env:"API_KEYS"`
	Model   string `env:"MODEL,default=gpt-4o"`
	BaseURL string `env:"BASE_URL,default=https://api.openai.com"`
}

type WorkerConfig struct {
	PollInterval time.Duration `env:"POLL_INTERVAL,default=5s"`
	LockTimeout  time.Duration `env:"LOCK_TIMEOUT,default=10m"`
	MaxAttempts  int           `env:"MAX_ATTEMPTS,default=3"`
	PollBatch    int           `env:"POLL_BATCH,default=50"`
}

type AdminConfig struct {
	Token string `env:"TOKEN"`
}

type LoggerConfig struct {
	Level string `env:"LEVEL,default=debug"`
}

type ObservabilityHTTPConfig struct {
	Host         string        `env:"HOST,default=127.0.0.1"`
	Port         uint16        `env:"PORT,default=8383"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT,default=30s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT,default=30s"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT,default=1m"`
}

func (a ObservabilityHTTPConfig) ADDR() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

type APIHTTPConfig struct {
	Host         string        `env:"HOST,default=0.0.0.0"`
	Port         uint16        `env:"PORT,default=8080"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT,default=30s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT,default=30s"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT,default=1m"`
}

func (a APIHTTPConfig) ADDR() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

type SQLiteConfig struct {
	Path         string `env:"PATH,default=./data/numera.db"`
	MaxOpenConns int    `env:"MAX_OPEN_CONNS,default=25"`
	MaxIdleConns int    `env:"MAX_IDLE_CONNS,default=5"`
	MaxLifetime  string `env:"MAX_LIFETIME,default=5m"`
}
