package reportjobs

import (
	"errors"
	"time"

	"numera-bot/internal/stories/tariffs"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

type Job struct {
	ID        int64
	UserID    int64
	OrderID   *int64 // NULL для бесплатных разборов
	Tariff    tariffs.Tariff
	Status    Status
	Attempts  int
	LastError *string
	ChatID    *int64
	LockToken *string
	LockedAt  *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Counts — сводка очереди для health-эндпоинта.
type Counts struct {
	Pending    int64 `json:"pending"`
	InProgress int64 `json:"in_progress"`
	Failed     int64 `json:"failed"`
}

var (
	// ErrDuplicateJob — для заказа уже есть активная задача или заказ
	// уже исполнен. Повторная постановка — no-op для вызывающего.
	ErrDuplicateJob = errors.New("задача для заказа уже существует")
	// ErrStaleLock — задачу перехватил другой воркер, lock_token не совпал.
	ErrStaleLock = errors.New("лок задачи устарел")
	// ErrOrderAlreadyFulfilled — по заказу уже есть отчёт, фиксировать
	// результат некуда. Ретраи бессмысленны, задача закрывается насовсем.
	ErrOrderAlreadyFulfilled = errors.New("заказ уже исполнен")
)
