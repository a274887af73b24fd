package session

import (
	"fmt"
	"time"
)

// Config contains configuration attributes for sync sessions.
type Config struct {
	// SyncInterval is the period of the sync trigger.
	SyncInterval time.Duration
	// PendingTTL flags pending records older than it as stale in the merged view. Zero disables it.
	PendingTTL time.Duration
	// RefreshTimeout bounds the store and balance reads done after a pass.
	RefreshTimeout time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:   time.Second * 30,
		PendingTTL:     0,
		RefreshTimeout: time.Second * 10,
	}
}

// Option modifies a configuration attribute.
type Option func(*Config) error

// WithSyncInterval sets the period of the sync trigger.
func WithSyncInterval(interval time.Duration) Option {
	return func(c *Config) error {
		if interval <= 0 {
			return fmt.Errorf("interval must be positive")
		}
		c.SyncInterval = interval
		return nil
	}
}

// WithPendingTTL flags pending transactions older than ttl as stale. They're never deleted.
func WithPendingTTL(ttl time.Duration) Option {
	return func(c *Config) error {
		if ttl < 0 {
			return fmt.Errorf("ttl cannot be negative")
		}
		c.PendingTTL = ttl
		return nil
	}
}

// WithRefreshTimeout sets the timeout of the view and balance refreshes.
func WithRefreshTimeout(timeout time.Duration) Option {
	return func(c *Config) error {
		if timeout <= 0 {
			return fmt.Errorf("timeout must be positive")
		}
		c.RefreshTimeout = timeout
		return nil
	}
}
