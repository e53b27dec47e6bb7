package environment

import (
	"context"
	"log/slog"
	"time"

	"numera-bot/internal/config"
	"numera-bot/internal/infra/llmapi"
	"numera-bot/internal/infra/sqlite3"
	"numera-bot/internal/infra/telegram"
)

type Clients struct {
	SQLiteDB    *sqlite3.DB
	TelegramBot *telegram.Client
	Gemini      *llmapi.GeminiClient
	OpenAI      *llmapi.OpenAIClient
}

func newClients(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Clients, error) {
	sqliteDB, err := provideSQLiteDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	telegramBot, err := provideTelegramBot(cfg, logger)
	if err != nil {
		return nil, err
	}

	return &Clients{
		SQLiteDB:    sqliteDB,
		TelegramBot: telegramBot,
		Gemini:      llmapi.NewGeminiClient(cfg.LLM.Gemini.BaseURL, cfg.LLM.Gemini.Model, cfg.LLM.Timeout, logger),
		OpenAI:      llmapi.NewOpenAIClient(cfg.LLM.OpenAI.BaseURL, cfg.LLM.OpenAI.Model, cfg.LLM.Timeout, logger),
	}, nil
}

func provideSQLiteDB(ctx context.Context, cfg config.Config) (*sqlite3.DB, error) {
	maxLifetimeStr := cfg.DB.MaxLifetime
	if maxLifetimeStr == "" {
		maxLifetimeStr = "5m"
	}
	maxLifetime, err := time.ParseDuration(maxLifetimeStr)
	if err != nil {
		return nil, err
	}

	opts := []sqlite3.Option{
		sqlite3.WithDSN(cfg.DB.Path),
		sqlite3.WithMaxOpenConns(cfg.DB.MaxOpenConns),
		sqlite3.WithMaxIdleConns(cfg.DB.MaxIdleConns),
		sqlite3.WithConnMaxLifetime(maxLifetime),
	}

	return sqlite3.New(ctx, opts...)
}

func provideTelegramBot(cfg config.Config, logger *slog.Logger) (*telegram.Client, error) {
	if cfg.Telegram.BotToken == "" {
		// Без токена работаем дальше: доставка отчётов уйдёт в noop-sender.
		return nil, nil
	}

	return telegram.NewClient(cfg.Telegram.BotToken, logger)
}
