package reportjobs

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"numera-bot/internal/stories/reportjobs"
	"numera-bot/internal/stories/reports"
	"numera-bot/internal/stories/tariffs"

	"github.com/samber/lo"
)

type fakeQueue struct {
	completeErr   error
	failed        []string
	failedForever []string
}

func (f *fakeQueue) ClaimNext(context.Context) (*reportjobs.Job, error) { return nil, nil }

func (f *fakeQueue) Complete(context.Context, *reportjobs.Job, reports.Draft) (*reports.Report, error) {
	if f.completeErr != nil {
		return nil, f.completeErr
	}
	return &reports.Report{ID: 1, ReportText: "готово"}, nil
}

func (f *fakeQueue) Fail(_ context.Context, _ *reportjobs.Job, cause string) error {
	f.failed = append(f.failed, cause)
	return nil
}

func (f *fakeQueue) FailTerminal(_ context.Context, _ *reportjobs.Job, cause string) error {
	f.failedForever = append(f.failedForever, cause)
	return nil
}

func (f *fakeQueue) Counts(context.Context) (reportjobs.Counts, error) {
	return reportjobs.Counts{}, nil
}

type fakeGenerator struct{}

func (fakeGenerator) Generate(context.Context, reports.GenerateRequest) (*reports.Draft, error) {
	return &reports.Draft{ReportText: "готово", CanonicalText: "готово", ModelUsed: reports.ModelGemini}, nil
}

type fakeTariffs struct{}

func (fakeTariffs) Get(code tariffs.Tariff) (tariffs.Info, error) {
	return tariffs.Info{Code: code, Prompt: "prompt"}, nil
}

type fakeHeartbeats struct{}

func (fakeHeartbeats) UpsertHeartbeat(context.Context, string, string, int) error { return nil }

type fakeSender struct {
	sent []string
}

func (f *fakeSender) SendMessage(_ int64, text string) error {
	f.sent = append(f.sent, text)
	return nil
}

func newTestWorker(queue *fakeQueue, sender *fakeSender) *Worker {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewWorker(queue, fakeGenerator{}, fakeTariffs{}, fakeHeartbeats{}, sender, time.Second, 3, logger)
}

func TestProcessDeliversReport(t *testing.T) {
	queue := &fakeQueue{}
	sender := &fakeSender{}
	w := newTestWorker(queue, sender)

	w.process(context.Background(), &reportjobs.Job{ID: 1, Tariff: tariffs.TariffT1, ChatID: lo.ToPtr(int64(42))})

	if len(sender.sent) != 1 || sender.sent[0] != "готово" {
		t.Fatalf("sent = %v, want report text", sender.sent)
	}
	if len(queue.failed) != 0 || len(queue.failedForever) != 0 {
		t.Fatalf("fail calls = %v/%v, want none", queue.failed, queue.failedForever)
	}
}

func TestProcessFulfilledOrderClosesJobWithoutRetry(t *testing.T) {
	queue := &fakeQueue{completeErr: reportjobs.ErrOrderAlreadyFulfilled}
	sender := &fakeSender{}
	w := newTestWorker(queue, sender)

	order := int64(7)
	w.process(context.Background(), &reportjobs.Job{ID: 1, OrderID: &order, Tariff: tariffs.TariffT1, ChatID: lo.ToPtr(int64(42))})

	if len(queue.failedForever) != 1 {
		t.Fatalf("terminal fails = %v, want one", queue.failedForever)
	}
	if len(queue.failed) != 0 {
		t.Fatalf("retryable fails = %v, want none", queue.failed)
	}
	// Отчёт уже доставлен владельцем заказа, пользователю ничего не шлём.
	if len(sender.sent) != 0 {
		t.Fatalf("sent = %v, want nothing", sender.sent)
	}
}
