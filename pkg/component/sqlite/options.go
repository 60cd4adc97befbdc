package sqlite

import (
	"fmt"
	"time"
)

// Options configures an embedded SQLite database.
type Options struct {
	// Path is the database file. Its parent directory is created on open.
	Path string

	// LogLevel is the gorm log level (silent|error|warn|info).
	LogLevel string

	// SlowThreshold marks queries logged as slow; 0 disables the check.
	SlowThreshold time.Duration

	// BusyTimeout is how long a writer waits for a lock.
	BusyTimeout time.Duration

	// MaxOpenConnections limits the pool; SQLite serializes writers anyway.
	MaxOpenConnections int
}

// NewOptions returns options for the database at path.
func NewOptions(path string) *Options {
	return &Options{
		Path:               path,
		LogLevel:           "warn",
		SlowThreshold:      500 * time.Millisecond,
		BusyTimeout:        5 * time.Second,
		MaxOpenConnections: 1,
	}
}

// DSN returns the driver data source name with pragmas applied.
func (o *Options) DSN() string {
	return fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", o.Path, o.BusyTimeout.Milliseconds())
}

// Validate validates the options.
func (o *Options) Validate() error {
	if o.Path == "" {
		return fmt.Errorf("sqlite path is required")
	}
	switch o.LogLevel {
	case "silent", "error", "warn", "info":
	default:
		return fmt.Errorf("sqlite log level must be silent, error, warn or info, got %q", o.LogLevel)
	}
	if o.BusyTimeout < 0 {
		return fmt.Errorf("sqlite busy timeout must not be negative")
	}
	return nil
}
