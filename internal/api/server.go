// Package api — публичный HTTP-сервер: платёжные webhook'и, health
// воркера, публичный каталог тарифов и админские операции.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"numera-bot/internal/config"
	"numera-bot/internal/payments"
	"numera-bot/internal/storage"
	"numera-bot/internal/stories/orders"
	"numera-bot/internal/stories/reportjobs"
	"numera-bot/internal/stories/tariffs"
	"numera-bot/internal/stories/users"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type OrdersService interface {
	CreateOrder(ctx context.Context, userID int64, tariff tariffs.Tariff, smokeCheck bool) (*orders.Order, error)
	GetOrder(ctx context.Context, id int64) (*orders.Order, error)
	MarkPending(ctx context.Context, orderID int64, provider orders.Provider, providerPaymentID *string) error
	ConfirmPayment(ctx context.Context, orderID int64, source orders.ConfirmationSource, provider orders.Provider, providerPaymentID string, paidAt *time.Time) (orders.ConfirmationOutcome, error)
	AdminConfirm(ctx context.Context, orderID int64, actor, providerPaymentID string) (orders.ConfirmationOutcome, error)
}

type JobsService interface {
	Enqueue(ctx context.Context, userID int64, orderID *int64, tariff tariffs.Tariff, chatID *int64) (*reportjobs.Job, error)
	Counts(ctx context.Context) (reportjobs.Counts, error)
}

type TariffCatalog interface {
	Currency() string
	Prices() map[tariffs.Tariff]int
}

type Storage interface {
	GetOrCreateUser(ctx context.Context, telegramUserID int64) (*users.User, error)
	GetHeartbeat(ctx context.Context, serviceName string) (*storage.Heartbeat, error)
	GetAdminStats(ctx context.Context) (*storage.AdminStats, error)
}

type Handler struct {
	cfg      config.Config
	orders   OrdersService
	jobs     JobsService
	tariffs  TariffCatalog
	storage  Storage
	registry *payments.Registry
	logger   *slog.Logger
}

func NewHandler(
	cfg config.Config,
	ordersService OrdersService,
	jobsService JobsService,
	tariffCatalog TariffCatalog,
	store Storage,
	registry *payments.Registry,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		cfg:      cfg,
		orders:   ordersService,
		jobs:     jobsService,
		tariffs:  tariffCatalog,
		storage:  store,
		registry: registry,
		logger:   logger,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/webhooks/payments", h.handlePaymentWebhook)
	r.Get("/webhooks/payments/provider", h.handleProviderInfo)
	r.Get("/health/report-worker", h.handleReportWorkerHealth)
	r.Get("/api/public/tariffs", h.handlePublicTariffs)
	r.Post("/api/public/orders", h.handleCreateOrder)

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(h.adminAuth)
		r.Post("/orders/{id}/confirm", h.handleAdminConfirm)
		r.Get("/stats", h.handleAdminStats)
	})

	return r
}

func NewServer(cfg config.APIHTTPConfig, handler *Handler) *http.Server {
	return &http.Server{
		Handler:           handler.Router(),
		Addr:              cfg.ADDR(),
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
