package blocksync

import (
	"fmt"
	"time"
)

// Config contains configuration attributes for a sync engine.
type Config struct {
	// ReorgOverlap is the number of blocks below the cursor that are re-scanned on every pass.
	ReorgOverlap uint64
	// MinBlockDepth is how many blocks behind the head a block must be to be scanned.
	// Zero scans up to the head itself.
	MinBlockDepth uint64

	// NearTipWindow is the distance to the end of the range under which groups are small.
	NearTipWindow    uint64
	NearTipGroupSize uint64
	FarGroupSize     uint64

	FetchConcurrency int
	FetchTimeout     time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ReorgOverlap:     10,
		MinBlockDepth:    0,
		NearTipWindow:    1000,
		NearTipGroupSize: 10,
		FarGroupSize:     100,
		FetchConcurrency: 4,
		FetchTimeout:     time.Second * 30,
	}
}

// Option modifies a configuration attribute.
type Option func(*Config) error

// WithReorgOverlap sets how many blocks below the cursor are scanned again on each pass,
// so transactions of short reorgs are picked up.
func WithReorgOverlap(blocks uint64) Option {
	return func(c *Config) error {
		c.ReorgOverlap = blocks
		return nil
	}
}

// WithMinBlockDepth sets how many blocks behind the head a block must be to be scanned.
func WithMinBlockDepth(depth uint64) Option {
	return func(c *Config) error {
		c.MinBlockDepth = depth
		return nil
	}
}

// WithGroupSizes configures the size of the groups of blocks fetched together. Groups starting
// within nearTipWindow blocks of the end of the range have nearTipSize blocks, the rest farSize.
func WithGroupSizes(nearTipWindow, nearTipSize, farSize uint64) Option {
	return func(c *Config) error {
		if nearTipSize < 1 || farSize < 1 {
			return fmt.Errorf("group sizes cannot be less than 1")
		}
		c.NearTipWindow = nearTipWindow
		c.NearTipGroupSize = nearTipSize
		c.FarGroupSize = farSize
		return nil
	}
}

// WithFetchConcurrency limits how many blocks are fetched at the same time.
func WithFetchConcurrency(n int) Option {
	return func(c *Config) error {
		if n < 1 {
			return fmt.Errorf("concurrency cannot be less than 1")
		}
		c.FetchConcurrency = n
		return nil
	}
}

// WithFetchTimeout sets the timeout of each block fetch.
func WithFetchTimeout(timeout time.Duration) Option {
	return func(c *Config) error {
		if timeout <= 0 {
			return fmt.Errorf("timeout must be positive")
		}
		c.FetchTimeout = timeout
		return nil
	}
}
