package environment

import (
	"context"
	"log/slog"

	"numera-bot/internal/config"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sethvargo/go-envconfig"
)

type closer func()

type Env struct {
	Config   *config.Config
	Logger   *slog.Logger
	Servers  *Servers
	Clients  *Clients
	Services *Services

	Closers []closer
}

func Setup(ctx context.Context) (*Env, error) {
	// Загружаем .env файл если он существует (игнорируем ошибки - файл может не существовать)
	_ = godotenv.Load()

	var cfg config.Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, errors.Wrap(err, "env processing")
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "initLogger")
	}

	clients, err := newClients(ctx, cfg, logger)
	if err != nil {
		return nil, errors.Wrap(err, "newClients")
	}

	services, err := newServices(ctx, clients, cfg, logger)
	if err != nil {
		return nil, errors.Wrap(err, "newServices")
	}

	servers := newServers(cfg, logger, clients, services)

	return &Env{
		Config:   &cfg,
		Logger:   logger,
		Servers:  servers,
		Clients:  clients,
		Services: services,
		Closers: []closer{
			func() { _ = clients.SQLiteDB.Close() },
		},
	}, nil
}
