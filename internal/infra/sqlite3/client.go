package sqlite3

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

var (
	defaultConnTimeout     = 10 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = time.Hour
	defaultBusyTimeout     = 5 * time.Second
)

type config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnTimeout     time.Duration
	BusyTimeout     time.Duration
}

type Option func(*config)

func WithDSN(dsn string) Option {
	return func(c *config) {
		c.DSN = dsn
	}
}

func WithMaxOpenConns(maxOpen int) Option {
	return func(c *config) {
		c.MaxOpenConns = maxOpen
	}
}

func WithMaxIdleConns(maxIdle int) Option {
	return func(c *config) {
		c.MaxIdleConns = maxIdle
	}
}

func WithConnMaxLifetime(lifetime time.Duration) Option {
	return func(c *config) {
		c.ConnMaxLifetime = lifetime
	}
}

func WithConnTimeout(timeout time.Duration) Option {
	return func(c *config) {
		c.ConnTimeout = timeout
	}
}

func WithBusyTimeout(timeout time.Duration) Option {
	return func(c *config) {
		c.BusyTimeout = timeout
	}
}

func newConfig(opts ...Option) *config {
	cfg := &config{
		DSN:             ":memory:",
		MaxOpenConns:    defaultMaxOpenConns,
		MaxIdleConns:    defaultMaxIdleConns,
		ConnMaxLifetime: defaultConnMaxLifetime,
		ConnTimeout:     defaultConnTimeout,
		BusyTimeout:     defaultBusyTimeout,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	return cfg
}

func New(ctx context.Context, opts ...Option) (*DB, error) {
	cfg := newConfig(opts...)

	db, err := sqlx.Open("sqlite3", buildDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite3 database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite3 database: %w", err)
	}

	return &DB{
		DB: db,
	}, nil
}

// buildDSN добавляет pragma-параметры: busy_timeout нужен, потому что
// claim/confirm выражены одиночными условными UPDATE и конкурируют за writer.
func buildDSN(cfg *config) string {
	params := url.Values{}
	params.Set("_busy_timeout", fmt.Sprintf("%d", cfg.BusyTimeout.Milliseconds()))
	params.Set("_foreign_keys", "on")
	return fmt.Sprintf("file:%s?%s", cfg.DSN, params.Encode())
}

type DB struct {
	*sqlx.DB
}

func (d *DB) Close() error {
	return d.DB.Close()
}
