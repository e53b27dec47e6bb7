package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"numera-bot/internal/stories/reportjobs"
	"numera-bot/internal/stories/reports"
	"numera-bot/internal/stories/tariffs"

	"github.com/samber/lo"
)

func enqueueTestJob(t *testing.T, s *storageImpl, userID int64, orderID *int64) *reportjobs.Job {
	t.Helper()

	job, err := s.CreateReportJob(context.Background(), reportjobs.Job{
		UserID:  userID,
		OrderID: orderID,
		Tariff:  tariffs.TariffT1,
		ChatID:  lo.ToPtr(int64(42)),
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job
}

func testDraft() reports.Draft {
	return reports.Draft{
		ReportText:    "<b>Разбор</b> готов",
		CanonicalText: "Разбор готов",
		ModelUsed:     reports.ModelGemini,
	}
}

func TestCreateReportJobDuplicate(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	user := createTestUser(t, s)
	order := createTestOrder(t, s, user.ID)

	first := enqueueTestJob(t, s, user.ID, &order.ID)
	if first.Status != reportjobs.StatusPending {
		t.Fatalf("job status = %s, want pending", first.Status)
	}

	_, err := s.CreateReportJob(ctx, reportjobs.Job{
		UserID:  user.ID,
		OrderID: &order.ID,
		Tariff:  tariffs.TariffT1,
	})
	if !errors.Is(err, reportjobs.ErrDuplicateJob) {
		t.Fatalf("duplicate enqueue err = %v, want ErrDuplicateJob", err)
	}
}

func TestCreateReportJobFreeTariffNoGuard(t *testing.T) {
	s := newTestStorage(t)

	user := createTestUser(t, s)

	first := enqueueTestJob(t, s, user.ID, nil)
	second := enqueueTestJob(t, s, user.ID, nil)
	if first.ID == second.ID {
		t.Fatalf("free jobs should not deduplicate")
	}
}

func TestClaimNextOrderingAndExclusivity(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	user := createTestUser(t, s)
	orderA := createTestOrder(t, s, user.ID)
	orderB := createTestOrder(t, s, user.ID)

	jobA := enqueueTestJob(t, s, user.ID, &orderA.ID)
	jobB := enqueueTestJob(t, s, user.ID, &orderB.ID)

	staleBefore := time.Now().UTC().Add(-10 * time.Minute)

	claimed1, err := s.ClaimNextReportJob(ctx, "token-1", staleBefore)
	if err != nil {
		t.Fatalf("claim 1: %v", err)
	}
	if claimed1 == nil || claimed1.ID != jobA.ID {
		t.Fatalf("claim 1 = %+v, want oldest job %d", claimed1, jobA.ID)
	}
	if claimed1.Status != reportjobs.StatusInProgress || claimed1.LockToken == nil {
		t.Fatalf("claimed job not locked: %+v", claimed1)
	}

	claimed2, err := s.ClaimNextReportJob(ctx, "token-2", staleBefore)
	if err != nil {
		t.Fatalf("claim 2: %v", err)
	}
	if claimed2 == nil || claimed2.ID != jobB.ID {
		t.Fatalf("claim 2 = %+v, want job %d", claimed2, jobB.ID)
	}

	claimed3, err := s.ClaimNextReportJob(ctx, "token-3", staleBefore)
	if err != nil {
		t.Fatalf("claim 3: %v", err)
	}
	if claimed3 != nil {
		t.Fatalf("claim 3 = %+v, want nil (queue empty)", claimed3)
	}
}

func TestClaimNextStaleReclaim(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	user := createTestUser(t, s)
	order := createTestOrder(t, s, user.ID)
	enqueueTestJob(t, s, user.ID, &order.ID)

	fresh := time.Now().UTC().Add(-10 * time.Minute)
	claimed, err := s.ClaimNextReportJob(ctx, "token-1", fresh)
	if err != nil || claimed == nil {
		t.Fatalf("initial claim: job=%v err=%v", claimed, err)
	}

	// Лок ещё свежий: чужая задача недоступна.
	again, err := s.ClaimNextReportJob(ctx, "token-2", fresh)
	if err != nil {
		t.Fatalf("claim with fresh lock: %v", err)
	}
	if again != nil {
		t.Fatalf("claim with fresh lock = %+v, want nil", again)
	}

	// Граница в будущем — лок считается протухшим и перехватывается.
	reclaimed, err := s.ClaimNextReportJob(ctx, "token-3", time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if reclaimed == nil || reclaimed.ID != claimed.ID {
		t.Fatalf("reclaim = %+v, want job %d", reclaimed, claimed.ID)
	}
	if reclaimed.LockToken == nil || *reclaimed.LockToken != "token-3" {
		t.Fatalf("reclaimed lock token = %v, want token-3", reclaimed.LockToken)
	}
}

func TestFailReportJobRetryThenFailed(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	user := createTestUser(t, s)
	order := createTestOrder(t, s, user.ID)
	enqueueTestJob(t, s, user.ID, &order.ID)

	staleBefore := time.Now().UTC().Add(-10 * time.Minute)

	claimed, err := s.ClaimNextReportJob(ctx, "token-1", staleBefore)
	if err != nil || claimed == nil {
		t.Fatalf("claim: job=%v err=%v", claimed, err)
	}

	if err := s.FailReportJob(ctx, claimed, "gemini: timeout", 2); err != nil {
		t.Fatalf("fail 1: %v", err)
	}

	job, err := s.GetReportJob(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != reportjobs.StatusPending || job.Attempts != 1 {
		t.Fatalf("after fail 1: status=%s attempts=%d, want pending/1", job.Status, job.Attempts)
	}
	if job.LockToken != nil || job.LockedAt != nil {
		t.Fatalf("lock not released after fail: %+v", job)
	}
	if job.LastError == nil || *job.LastError != "gemini: timeout" {
		t.Fatalf("last_error = %v", job.LastError)
	}

	claimed, err = s.ClaimNextReportJob(ctx, "token-2", staleBefore)
	if err != nil || claimed == nil {
		t.Fatalf("re-claim: job=%v err=%v", claimed, err)
	}
	if err := s.FailReportJob(ctx, claimed, "openai: timeout", 2); err != nil {
		t.Fatalf("fail 2: %v", err)
	}

	job, _ = s.GetReportJob(ctx, claimed.ID)
	if job.Status != reportjobs.StatusFailed || job.Attempts != 2 {
		t.Fatalf("after fail 2: status=%s attempts=%d, want failed/2", job.Status, job.Attempts)
	}
}

func TestFailReportJobStaleToken(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	user := createTestUser(t, s)
	order := createTestOrder(t, s, user.ID)
	enqueueTestJob(t, s, user.ID, &order.ID)

	first, err := s.ClaimNextReportJob(ctx, "token-1", time.Now().UTC().Add(-10*time.Minute))
	if err != nil || first == nil {
		t.Fatalf("claim: job=%v err=%v", first, err)
	}

	// Второй воркер перехватывает лок.
	second, err := s.ClaimNextReportJob(ctx, "token-2", time.Now().UTC().Add(time.Hour))
	if err != nil || second == nil {
		t.Fatalf("reclaim: job=%v err=%v", second, err)
	}

	if err := s.FailReportJob(ctx, first, "boom", 3); !errors.Is(err, reportjobs.ErrStaleLock) {
		t.Fatalf("fail with stale token err = %v, want ErrStaleLock", err)
	}
	if _, err := s.CompleteReportJob(ctx, first, testDraft()); !errors.Is(err, reportjobs.ErrStaleLock) {
		t.Fatalf("complete with stale token err = %v, want ErrStaleLock", err)
	}

	// Задача осталась у владельца актуального лока.
	job, _ := s.GetReportJob(ctx, second.ID)
	if job.Status != reportjobs.StatusInProgress || *job.LockToken != "token-2" {
		t.Fatalf("job state broken by stale writer: %+v", job)
	}
}

func TestCompleteReportJob(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	user := createTestUser(t, s)
	order := createTestOrder(t, s, user.ID)
	enqueueTestJob(t, s, user.ID, &order.ID)

	claimed, err := s.ClaimNextReportJob(ctx, "token-1", time.Now().UTC().Add(-10*time.Minute))
	if err != nil || claimed == nil {
		t.Fatalf("claim: job=%v err=%v", claimed, err)
	}

	draft := testDraft()
	draft.SafetyFlags = []string{reports.FlagGuaranteeClaim}

	report, err := s.CompleteReportJob(ctx, claimed, draft)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if report.CanonicalText != draft.CanonicalText || report.ModelUsed != reports.ModelGemini {
		t.Fatalf("report = %+v", report)
	}
	if len(report.SafetyFlags) != 1 || report.SafetyFlags[0] != reports.FlagGuaranteeClaim {
		t.Fatalf("safety flags = %v", report.SafetyFlags)
	}

	job, _ := s.GetReportJob(ctx, claimed.ID)
	if job.Status != reportjobs.StatusCompleted || job.LockToken != nil {
		t.Fatalf("job after complete: %+v", job)
	}

	got, err := s.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.FulfillmentStatus != "completed" {
		t.Fatalf("fulfillment_status = %s, want completed", got.FulfillmentStatus)
	}
	if got.FulfilledReportID == nil || *got.FulfilledReportID != report.ID {
		t.Fatalf("fulfilled_report_id = %v, want %d", got.FulfilledReportID, report.ID)
	}
	if got.FulfilledAt == nil || got.ConsumedAt == nil {
		t.Fatalf("fulfilled_at/consumed_at not set: %+v", got)
	}
}

func TestCompleteReportJobOrderAlreadyFulfilled(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	user := createTestUser(t, s)
	order := createTestOrder(t, s, user.ID)
	enqueueTestJob(t, s, user.ID, &order.ID)

	claimed, err := s.ClaimNextReportJob(ctx, "token-1", time.Now().UTC().Add(-10*time.Minute))
	if err != nil || claimed == nil {
		t.Fatalf("claim = %+v/%v", claimed, err)
	}

	// Заказ исполнили мимо очереди, пока задача была в работе.
	if _, err := s.db.ExecContext(ctx, "UPDATE orders SET fulfillment_status = 'completed' WHERE id = ?", order.ID); err != nil {
		t.Fatalf("fulfill order: %v", err)
	}

	_, err = s.CompleteReportJob(ctx, claimed, testDraft())
	if !errors.Is(err, reportjobs.ErrOrderAlreadyFulfilled) {
		t.Fatalf("complete err = %v, want ErrOrderAlreadyFulfilled", err)
	}

	// Транзакция откатилась: задача осталась в работе под тем же локом.
	job, _ := s.GetReportJobByOrderID(ctx, order.ID)
	if job.Status != reportjobs.StatusInProgress {
		t.Fatalf("job status = %s, want in_progress", job.Status)
	}

	// Закрытие без ретраев: maxAttempts = 0 переводит сразу в failed.
	if err := s.FailReportJob(ctx, claimed, "заказ уже исполнен", 0); err != nil {
		t.Fatalf("fail terminal: %v", err)
	}
	job, _ = s.GetReportJobByOrderID(ctx, order.ID)
	if job.Status != reportjobs.StatusFailed || job.Attempts != 1 {
		t.Fatalf("job = %+v, want failed after terminal fail", job)
	}
}

func TestCreateReportJobAfterFulfilled(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	user := createTestUser(t, s)
	order := createTestOrder(t, s, user.ID)
	enqueueTestJob(t, s, user.ID, &order.ID)

	claimed, _ := s.ClaimNextReportJob(ctx, "token-1", time.Now().UTC().Add(-10*time.Minute))
	if _, err := s.CompleteReportJob(ctx, claimed, testDraft()); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// Заказ исполнен: даже новая задача по нему не создаётся.
	_, err := s.CreateReportJob(ctx, reportjobs.Job{
		UserID:  user.ID,
		OrderID: &order.ID,
		Tariff:  tariffs.TariffT1,
	})
	if !errors.Is(err, reportjobs.ErrDuplicateJob) {
		t.Fatalf("enqueue after fulfillment err = %v, want ErrDuplicateJob", err)
	}
}

func TestRequeueFailedReportJob(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	user := createTestUser(t, s)
	order := createTestOrder(t, s, user.ID)
	enqueueTestJob(t, s, user.ID, &order.ID)

	claimed, _ := s.ClaimNextReportJob(ctx, "token-1", time.Now().UTC().Add(-10*time.Minute))
	if err := s.FailReportJob(ctx, claimed, "boom", 1); err != nil {
		t.Fatalf("fail: %v", err)
	}

	requeued, err := s.RequeueFailedReportJob(ctx, order.ID)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if !requeued {
		t.Fatalf("requeue = false, want true")
	}

	job, _ := s.GetReportJobByOrderID(ctx, order.ID)
	if job.Status != reportjobs.StatusPending || job.Attempts != 0 || job.LastError != nil {
		t.Fatalf("requeued job = %+v, want pending with reset attempts", job)
	}

	// Нечего возвращать — false без ошибки.
	requeued, err = s.RequeueFailedReportJob(ctx, order.ID)
	if err != nil || requeued {
		t.Fatalf("second requeue = %v/%v, want false/nil", requeued, err)
	}
}

func TestCountReportJobs(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	user := createTestUser(t, s)
	orderA := createTestOrder(t, s, user.ID)
	orderB := createTestOrder(t, s, user.ID)
	enqueueTestJob(t, s, user.ID, &orderA.ID)
	enqueueTestJob(t, s, user.ID, &orderB.ID)

	claimed, _ := s.ClaimNextReportJob(ctx, "token-1", time.Now().UTC().Add(-10*time.Minute))
	if err := s.FailReportJob(ctx, claimed, "boom", 1); err != nil {
		t.Fatalf("fail: %v", err)
	}

	counts, err := s.CountReportJobs(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts.Pending != 1 || counts.InProgress != 0 || counts.Failed != 1 {
		t.Fatalf("counts = %+v, want pending=1 failed=1", counts)
	}
}
