package environment

import (
	"context"
	"log/slog"
	"strings"

	"numera-bot/internal/api"
	"numera-bot/internal/config"
	"numera-bot/internal/payments"
	"numera-bot/internal/storage"
	"numera-bot/internal/stories/llmkeys"
	"numera-bot/internal/stories/orders"
	"numera-bot/internal/stories/reportjobs"
	"numera-bot/internal/stories/reports"
	"numera-bot/internal/stories/tariffs"
	"numera-bot/internal/workers"
	workerpoll "numera-bot/internal/workers/paymentpoll"
	workerjobs "numera-bot/internal/workers/reportjobs"

	"github.com/pkg/errors"
)

type Services struct {
	Tariffs       *tariffs.Service
	Orders        *orders.Service
	Jobs          *reportjobs.Service
	Keys          *llmkeys.Service
	Generator     *reports.Generator
	Payments      *payments.Registry
	WorkerManager *workers.Manager
	APIHandler    *api.Handler
}

func newServices(ctx context.Context, clients *Clients, cfg config.Config, logger *slog.Logger) (*Services, error) {
	store := storage.New(clients.SQLiteDB.DB)
	if err := store.RunMigrations(ctx); err != nil {
		return nil, errors.Wrap(err, "run migrations")
	}

	tariffService, err := tariffs.NewService()
	if err != nil {
		return nil, errors.Wrap(err, "tariff catalog")
	}

	keyService := llmkeys.NewService(store, map[string][]string{
		"gemini": configuredKeys(cfg.LLM.Gemini.APIKey, cfg.LLM.Gemini.APIKeys),
		"openai": configuredKeys(cfg.LLM.OpenAI.APIKey, cfg.LLM.OpenAI.APIKeys),
	}, logger)

	generator := reports.NewGenerator(keyService, logger, clients.Gemini, clients.OpenAI)

	jobService := reportjobs.NewService(store, cfg.Worker.LockTimeout, cfg.Worker.MaxAttempts, logger)
	orderService := orders.NewService(store, tariffService, jobService, logger)

	registry, err := payments.NewRegistry(cfg.Payments, logger)
	if err != nil {
		return nil, errors.Wrap(err, "payments registry")
	}

	var sender workerjobs.TelegramSender
	if clients.TelegramBot != nil {
		sender = clients.TelegramBot
	} else {
		sender = noopSender{logger: logger}
	}

	jobWorker := workerjobs.NewWorker(
		jobService,
		generator,
		tariffService,
		store,
		sender,
		cfg.Worker.PollInterval,
		cfg.Worker.MaxAttempts,
		logger.With(slog.String("worker", "report-jobs")),
	)
	pollWorker := workerpoll.NewWorker(
		orderService,
		registry,
		cfg.Worker.PollInterval,
		cfg.Worker.PollBatch,
		logger.With(slog.String("worker", "payment-poll")),
	)

	manager := workers.NewManager(logger, jobWorker, pollWorker)

	handler := api.NewHandler(cfg, orderService, jobService, tariffService, store, registry, logger.WithGroup("api"))

	return &Services{
		Tariffs:       tariffService,
		Orders:        orderService,
		Jobs:          jobService,
		Keys:          keyService,
		Generator:     generator,
		Payments:      registry,
		WorkerManager: manager,
		APIHandler:    handler,
	}, nil
}

// configuredKeys собирает пул ключей из одиночного APIKey и списка через
// запятую. Дубликаты отсеет уникальный индекс при посеве.
func configuredKeys(single, commaSeparated string) []string {
	var keys []string
	if strings.TrimSpace(single) != "" {
		keys = append(keys, strings.TrimSpace(single))
	}
	for _, k := range strings.Split(commaSeparated, ",") {
		if strings.TrimSpace(k) != "" {
			keys = append(keys, strings.TrimSpace(k))
		}
	}
	return keys
}

type noopSender struct {
	logger *slog.Logger
}

func (n noopSender) SendMessage(chatID int64, text string) error {
	n.logger.Warn("telegram клиент не настроен, сообщение не отправлено",
		slog.Int64("chat_id", chatID))
	return nil
}
