package wsclient

import (
	"fmt"
	"time"

	"github.com/c360/previewsync/errors"
	"github.com/c360/previewsync/pkg/backoff"
)

// Config holds construction configuration for a Manager.
type Config struct {
	// Name identifies the manager in logs and metric labels.
	Name string
	// URL is the WebSocket endpoint of the preview renderer.
	URL string
	// DialTimeout bounds each connection attempt, including the initial
	// one. An in-flight connect is never unbounded.
	DialTimeout time.Duration
	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration
	// HeartbeatInterval is how often a ping envelope is sent while open.
	HeartbeatInterval time.Duration
	// Backoff is the reconnect delay schedule.
	Backoff backoff.Policy
	// QueueCapacity bounds the offline queue.
	QueueCapacity int
	// QueueOverflow selects the behavior when the offline queue is full.
	QueueOverflow OverflowPolicy
	// ReadLimit caps the size of a single inbound frame in bytes.
	ReadLimit int64
}

// DefaultConfig returns sensible defaults for Manager construction. The
// URL must be supplied by the caller.
func DefaultConfig() Config {
	return Config{
		Name:              "preview",
		DialTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		Backoff:           backoff.DefaultPolicy(),
		QueueCapacity:     256,
		QueueOverflow:     DropOldest,
		ReadLimit:         1 << 20, // 1 MiB
	}
}

// Validate checks the configuration for usable values.
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: url cannot be empty", errors.ErrInvalidConfig),
			"wsclient", "Validate", "check url")
	}
	if c.DialTimeout <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: dial timeout must be positive, got %v", errors.ErrInvalidConfig, c.DialTimeout),
			"wsclient", "Validate", "check dial timeout")
	}
	if c.WriteTimeout <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: write timeout must be positive, got %v", errors.ErrInvalidConfig, c.WriteTimeout),
			"wsclient", "Validate", "check write timeout")
	}
	if c.HeartbeatInterval <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: heartbeat interval must be positive, got %v", errors.ErrInvalidConfig, c.HeartbeatInterval),
			"wsclient", "Validate", "check heartbeat interval")
	}
	if err := c.Backoff.Validate(); err != nil {
		return err
	}
	if c.QueueCapacity <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: queue capacity must be positive, got %d", errors.ErrInvalidConfig, c.QueueCapacity),
			"wsclient", "Validate", "check queue capacity")
	}
	if !c.QueueOverflow.IsValid() {
		return errors.WrapInvalid(
			fmt.Errorf("%w: unknown queue overflow policy %q", errors.ErrInvalidConfig, c.QueueOverflow),
			"wsclient", "Validate", "check queue overflow policy")
	}
	if c.ReadLimit <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: read limit must be positive, got %d", errors.ErrInvalidConfig, c.ReadLimit),
			"wsclient", "Validate", "check read limit")
	}
	return nil
}
