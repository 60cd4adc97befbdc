// Package sqlite provides the embedded SQLite database behind the local
// vector index. It uses the pure Go glebarez driver, so no cgo is needed.
package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kart-io/finrag/pkg/component/storage"
)

// Client wraps gorm.DB with the storage.Client interface.
type Client struct {
	db   *gorm.DB
	opts *Options

	closeOnce sync.Once
	closeErr  error
}

var _ storage.Client = (*Client)(nil)

// New opens (creating when missing) the database file and verifies it with
// a ping bounded by ctx.
func New(ctx context.Context, opts *Options) (*Client, error) {
	if opts == nil {
		return nil, storage.ErrInvalidConfig.WithMessage("sqlite options cannot be nil")
	}
	if err := opts.Validate(); err != nil {
		return nil, storage.ErrInvalidConfig.WithCause(err)
	}

	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, storage.ErrConnectionFailed.WithCause(fmt.Errorf("create directory for %s: %w", opts.Path, err))
	}

	db, err := gorm.Open(sqlite.Open(opts.DSN()), &gorm.Config{
		Logger: NewGormLogger(parseLogLevel(opts.LogLevel), opts.SlowThreshold, true),
	})
	if err != nil {
		return nil, storage.ErrConnectionFailed.WithCause(err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, storage.ErrConnectionFailed.WithCause(err)
	}
	if opts.MaxOpenConnections > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConnections)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, storage.ErrConnectionFailed.WithCause(err)
	}

	return &Client{db: db, opts: opts}, nil
}

// Name returns the storage type identifier.
func (c *Client) Name() string {
	return "sqlite"
}

// Path returns the database file.
func (c *Client) Path() string {
	return c.opts.Path
}

// Ping checks that the database is usable.
func (c *Client) Ping(ctx context.Context) error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database. Subsequent calls return the first result.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		sqlDB, err := c.db.DB()
		if err != nil {
			c.closeErr = err
			return
		}
		c.closeErr = sqlDB.Close()
	})
	return c.closeErr
}

// Health returns a HealthChecker bound to a 3s timeout.
func (c *Client) Health() storage.HealthChecker {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return c.Ping(ctx)
	}
}

// DB returns the underlying gorm.DB instance.
func (c *Client) DB() *gorm.DB {
	return c.db
}

func parseLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}
