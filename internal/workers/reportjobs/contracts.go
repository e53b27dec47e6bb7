package reportjobs

import (
	"context"

	"numera-bot/internal/stories/reportjobs"
	"numera-bot/internal/stories/reports"
	"numera-bot/internal/stories/tariffs"
)

type JobQueue interface {
	ClaimNext(ctx context.Context) (*reportjobs.Job, error)
	Complete(ctx context.Context, job *reportjobs.Job, draft reports.Draft) (*reports.Report, error)
	Fail(ctx context.Context, job *reportjobs.Job, cause string) error
	FailTerminal(ctx context.Context, job *reportjobs.Job, cause string) error
	Counts(ctx context.Context) (reportjobs.Counts, error)
}

type Generator interface {
	Generate(ctx context.Context, req reports.GenerateRequest) (*reports.Draft, error)
}

type TariffCatalog interface {
	Get(code tariffs.Tariff) (tariffs.Info, error)
}

type HeartbeatStorage interface {
	UpsertHeartbeat(ctx context.Context, serviceName, host string, pid int) error
}

type TelegramSender interface {
	SendMessage(chatID int64, text string) error
}
