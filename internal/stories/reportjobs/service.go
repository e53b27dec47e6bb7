package reportjobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"numera-bot/internal/stories/reports"
	"numera-bot/internal/stories/tariffs"

	"github.com/google/uuid"
)

// Service — очередь задач генерации отчётов поверх SQLite. Вся
// конкуренция решается условными UPDATE в хранилище, сервис только
// раздаёт lock-токены и параметры ретраев.
type Service struct {
	storage     Storage
	logger      *slog.Logger
	lockTimeout time.Duration
	maxAttempts int
}

func NewService(storage Storage, lockTimeout time.Duration, maxAttempts int, logger *slog.Logger) *Service {
	return &Service{
		storage:     storage,
		logger:      logger,
		lockTimeout: lockTimeout,
		maxAttempts: maxAttempts,
	}
}

// Enqueue ставит задачу генерации. Если по заказу уже есть failed-задача,
// она возвращается в очередь вместо вставки новой. Дубликат активной
// задачи — ErrDuplicateJob.
func (s *Service) Enqueue(ctx context.Context, userID int64, orderID *int64, tariff tariffs.Tariff, chatID *int64) (*Job, error) {
	if orderID != nil {
		requeued, err := s.storage.RequeueFailedReportJob(ctx, *orderID)
		if err != nil {
			return nil, fmt.Errorf("requeue failed job: %w", err)
		}
		if requeued {
			s.logger.Info("failed-задача возвращена в очередь", slog.Int64("order_id", *orderID))
			return s.storage.GetReportJobByOrderID(ctx, *orderID)
		}
	}

	job, err := s.storage.CreateReportJob(ctx, Job{
		UserID:  userID,
		OrderID: orderID,
		Tariff:  tariff,
		ChatID:  chatID,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("задача генерации поставлена",
		slog.Int64("job_id", job.ID),
		slog.String("tariff", string(tariff)))
	return job, nil
}

// ClaimNext захватывает следующую задачу под свежим lock-токеном.
// nil без ошибки — очередь пуста.
func (s *Service) ClaimNext(ctx context.Context) (*Job, error) {
	token := uuid.NewString()
	staleBefore := time.Now().UTC().Add(-s.lockTimeout)

	job, err := s.storage.ClaimNextReportJob(ctx, token, staleBefore)
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}

	return job, nil
}

func (s *Service) Complete(ctx context.Context, job *Job, draft reports.Draft) (*reports.Report, error) {
	return s.storage.CompleteReportJob(ctx, job, draft)
}

func (s *Service) Fail(ctx context.Context, job *Job, cause string) error {
	return s.storage.FailReportJob(ctx, job, cause, s.maxAttempts)
}

// FailTerminal закрывает задачу в failed без оставшихся ретраев:
// maxAttempts = 0 делает CASE в хранилище безусловным.
func (s *Service) FailTerminal(ctx context.Context, job *Job, cause string) error {
	return s.storage.FailReportJob(ctx, job, cause, 0)
}

func (s *Service) Counts(ctx context.Context) (Counts, error) {
	return s.storage.CountReportJobs(ctx)
}
