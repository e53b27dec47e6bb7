package payments

import (
	"fmt"
	"log/slog"

	"numera-bot/internal/config"
	"numera-bot/internal/stories/orders"
)

// Registry держит настроенные адаптеры и знает, кто из них основной.
type Registry struct {
	providers map[orders.Provider]Provider
	primary   orders.Provider
}

func NewRegistry(cfg config.PaymentsConfig, logger *slog.Logger) (*Registry, error) {
	primary := orders.Provider(cfg.Primary)
	if primary != orders.ProviderProdamus && primary != orders.ProviderCloudPayments {
		return nil, fmt.Errorf("неизвестный основной провайдер: %q", cfg.Primary)
	}

	return &Registry{
		providers: map[orders.Provider]Provider{
			orders.ProviderProdamus:      NewProdamus(cfg, logger),
			orders.ProviderCloudPayments: NewCloudPayments(cfg.CloudPayments, logger),
		},
		primary: primary,
	}, nil
}

func (r *Registry) ByName(name orders.Provider) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("неизвестный провайдер: %q", name)
	}
	return p, nil
}

func (r *Registry) Primary() Provider {
	return r.providers[r.primary]
}

// Fallback — второй провайдер для webhook'ов без явного provider.
func (r *Registry) Fallback() Provider {
	for name, p := range r.providers {
		if name != r.primary {
			return p
		}
	}
	return nil
}

func (r *Registry) All() []Provider {
	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	return out
}
