package reportjobs

import (
	"context"
	"time"

	"numera-bot/internal/stories/reports"
)

type Storage interface {
	RequeueFailedReportJob(ctx context.Context, orderID int64) (bool, error)
	CreateReportJob(ctx context.Context, job Job) (*Job, error)
	GetReportJobByOrderID(ctx context.Context, orderID int64) (*Job, error)
	ClaimNextReportJob(ctx context.Context, lockToken string, staleBefore time.Time) (*Job, error)
	CompleteReportJob(ctx context.Context, job *Job, draft reports.Draft) (*reports.Report, error)
	FailReportJob(ctx context.Context, job *Job, cause string, maxAttempts int) error
	CountReportJobs(ctx context.Context) (Counts, error)
}
