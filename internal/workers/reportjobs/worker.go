// Package reportjobs — воркер очереди генерации отчётов: heartbeat,
// захват задач, генерация и доставка результата в Telegram.
package reportjobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"numera-bot/internal/stories/reportjobs"
	"numera-bot/internal/stories/reports"
	"numera-bot/internal/telemetry"

	"github.com/robfig/cron/v3"
)

const serviceName = "report_jobs_worker"

const failedMessage = "К сожалению, не получилось подготовить ваш разбор. Мы уже разбираемся, деньги не пропадут — разбор придёт, как только всё починим."

type Worker struct {
	queue       JobQueue
	generator   Generator
	tariffs     TariffCatalog
	heartbeats  HeartbeatStorage
	telegram    TelegramSender
	logger      *slog.Logger
	cron        *cron.Cron
	interval    time.Duration
	maxAttempts int
}

func NewWorker(
	queue JobQueue,
	generator Generator,
	tariffCatalog TariffCatalog,
	heartbeats HeartbeatStorage,
	telegram TelegramSender,
	interval time.Duration,
	maxAttempts int,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		queue:       queue,
		generator:   generator,
		tariffs:     tariffCatalog,
		heartbeats:  heartbeats,
		telegram:    telegram,
		logger:      logger,
		cron:        cron.New(),
		interval:    interval,
		maxAttempts: maxAttempts,
	}
}

func (w *Worker) Name() string {
	return "report-jobs"
}

func (w *Worker) Start() error {
	_, err := w.cron.AddFunc(fmt.Sprintf("@every %s", w.interval), func() {
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error("Panic in report jobs worker", "panic", r)
			}
		}()
		ctx := context.Background()
		if err := w.run(ctx); err != nil {
			w.logger.Error("Report jobs worker failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule report jobs worker: %w", err)
	}

	w.cron.Start()
	w.logger.Info("Report jobs worker started", "interval", w.interval.String())
	return nil
}

func (w *Worker) Stop() {
	ctx := w.cron.Stop()
	<-ctx.Done()
}

func (w *Worker) run(ctx context.Context) error {
	host, _ := os.Hostname()
	if err := w.heartbeats.UpsertHeartbeat(ctx, serviceName, host, os.Getpid()); err != nil {
		w.logger.Error("heartbeat не записан", slog.Any("error", err))
	}

	// Выгребаем очередь до дна, чтобы бэклог не рос между тиками.
	for {
		job, err := w.queue.ClaimNext(ctx)
		if err != nil {
			return fmt.Errorf("claim job: %w", err)
		}
		if job == nil {
			break
		}

		w.process(ctx, job)
	}

	if counts, err := w.queue.Counts(ctx); err == nil {
		telemetry.QueueDepth.Set(float64(counts.Pending))
	}

	return nil
}

func (w *Worker) process(ctx context.Context, job *reportjobs.Job) {
	w.logger.Info("задача захвачена",
		slog.Int64("job_id", job.ID),
		slog.String("tariff", string(job.Tariff)),
		slog.Int("attempts", job.Attempts))

	info, err := w.tariffs.Get(job.Tariff)
	if err != nil {
		w.fail(ctx, job, fmt.Sprintf("неизвестный тариф: %v", err))
		return
	}

	draft, err := w.generator.Generate(ctx, reports.GenerateRequest{
		UserID:  job.UserID,
		OrderID: job.OrderID,
		Tariff:  job.Tariff,
		Prompt:  info.Prompt,
	})
	if err != nil {
		w.fail(ctx, job, err.Error())
		return
	}

	report, err := w.queue.Complete(ctx, job, *draft)
	if err != nil {
		if errors.Is(err, reportjobs.ErrStaleLock) {
			// Лок перехвачен: результат выбрасываем, доставит владелец лока.
			telemetry.JobsReclaimed.Inc()
			w.logger.Warn("задача перехвачена другим воркером", slog.Int64("job_id", job.ID))
			return
		}
		if errors.Is(err, reportjobs.ErrOrderAlreadyFulfilled) {
			// Отчёт по заказу уже есть: задача закрывается без ретраев
			// и без сообщения пользователю.
			telemetry.JobsFailed.Inc()
			w.logger.Warn("заказ уже исполнен, задача закрыта", slog.Int64("job_id", job.ID))
			if ferr := w.queue.FailTerminal(ctx, job, err.Error()); ferr != nil && !errors.Is(ferr, reportjobs.ErrStaleLock) {
				w.logger.Error("закрытие задачи", slog.Int64("job_id", job.ID), slog.Any("error", ferr))
			}
			return
		}
		w.logger.Error("фиксация результата", slog.Int64("job_id", job.ID), slog.Any("error", err))
		return
	}

	telemetry.JobsCompleted.Inc()
	w.logger.Info("отчёт готов",
		slog.Int64("job_id", job.ID),
		slog.Int64("report_id", report.ID),
		slog.String("model", string(report.ModelUsed)))

	w.deliver(job, report.ReportText)
}

func (w *Worker) fail(ctx context.Context, job *reportjobs.Job, cause string) {
	telemetry.JobsFailed.Inc()

	if err := w.queue.Fail(ctx, job, cause); err != nil {
		if errors.Is(err, reportjobs.ErrStaleLock) {
			telemetry.JobsReclaimed.Inc()
			return
		}
		w.logger.Error("фиксация неудачной попытки", slog.Int64("job_id", job.ID), slog.Any("error", err))
		return
	}

	w.logger.Warn("попытка генерации не удалась",
		slog.Int64("job_id", job.ID),
		slog.Int("attempt", job.Attempts+1),
		slog.String("cause", cause))

	if job.Attempts+1 >= w.maxAttempts {
		w.deliver(job, failedMessage)
	}
}

func (w *Worker) deliver(job *reportjobs.Job, text string) {
	if job.ChatID == nil {
		return
	}
	if err := w.telegram.SendMessage(*job.ChatID, text); err != nil {
		w.logger.Error("доставка сообщения",
			slog.Int64("job_id", job.ID),
			slog.Int64("chat_id", *job.ChatID),
			slog.Any("error", err))
	}
}
