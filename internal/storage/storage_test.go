package storage

import (
	"context"
	"sync/atomic"
	"testing"

	"numera-bot/internal/infra/sqlite3"
	"numera-bot/internal/stories/orders"
	"numera-bot/internal/stories/tariffs"
	"numera-bot/internal/stories/users"
)

var testTelegramID atomic.Int64

// newTestStorage поднимает хранилище на in-memory SQLite с применёнными
// миграциями. Один коннект обязателен: у каждого соединения in-memory
// базы своя копия данных.
func newTestStorage(t *testing.T) *storageImpl {
	t.Helper()

	db, err := sqlite3.New(context.Background(),
		sqlite3.WithDSN(":memory:"),
		sqlite3.WithMaxOpenConns(1),
	)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	s := New(db.DB)
	if err := s.RunMigrations(context.Background()); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	return s
}

func createTestUser(t *testing.T, s *storageImpl) *users.User {
	t.Helper()

	user, err := s.GetOrCreateUser(context.Background(), 100000+testTelegramID.Add(1))
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func createTestOrder(t *testing.T, s *storageImpl, userID int64) *orders.Order {
	t.Helper()

	order, err := s.CreateOrder(context.Background(), orders.Order{
		UserID: userID,
		Tariff: tariffs.TariffT1,
		Amount: 990,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}
