package environment

import (
	"log/slog"
	"net/http"

	"numera-bot/internal/api"
	"numera-bot/internal/config"
)

type Servers struct {
	HTTP struct {
		Observability *http.Server
		API           *http.Server
	}
}

func newServers(cfg config.Config, logger *slog.Logger, clients *Clients, services *Services) *Servers {
	var servers Servers

	servers.HTTP.API = api.NewServer(cfg.API, services.APIHandler)
	servers.HTTP.Observability = initObservability(logger.WithGroup("http"), clients, cfg)

	return &servers
}
