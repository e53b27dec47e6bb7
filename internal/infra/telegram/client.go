package telegram

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

type Client struct {
	api     *tgbotapi.BotAPI
	logger  *slog.Logger
	limiter *rate.Limiter
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewClient(token string, logger *slog.Logger) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("создание telegram бота: %w", err)
	}

	// Rate limiting - 30 сообщений в секунду
	limiter := rate.NewLimiter(30, 1)

	return &Client{
		api:     bot,
		logger:  logger,
		limiter: limiter,
	}, nil
}

// Start привязывает контекст для rate limiter'а.
func (c *Client) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Telegram клиент запущен")
	return nil
}

// Stop останавливает клиент
func (c *Client) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.logger.Info("Telegram клиент остановлен")
}

// SendMessage отправляет сообщение с rate limiting
func (c *Client) SendMessage(chatID int64, text string) error {
	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiting: %w", err)
	}

	msg := tgbotapi.NewMessage(chatID, text)
	_, err := c.api.Send(msg)
	if err != nil {
		c.logger.Error("ошибка отправки сообщения",
			slog.Int64("chat_id", chatID),
			slog.String("error", err.Error()))
		return fmt.Errorf("отправка сообщения: %w", err)
	}

	return nil
}

// Send отправляет любое сообщение с rate limiting
func (c *Client) Send(chattable tgbotapi.Chattable) (tgbotapi.Message, error) {
	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return tgbotapi.Message{}, fmt.Errorf("rate limiting: %w", err)
	}

	message, err := c.api.Send(chattable)
	if err != nil {
		c.logger.Error("ошибка отправки", slog.Any("error", err))
		return tgbotapi.Message{}, fmt.Errorf("отправка: %w", err)
	}

	return message, nil
}
