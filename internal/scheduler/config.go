// Package scheduler drives the per-frame update loop for headless embedders.
package scheduler

import "time"

// DefaultFrameInterval is the time between two frames.
const DefaultFrameInterval = 100 * time.Millisecond

// Config defines the frame loop configuration.
type Config struct {
	// FrameInterval is the time between two Update calls.
	FrameInterval time.Duration `yaml:"interval"`
}

// DefaultConfig returns the default frame loop configuration.
func DefaultConfig() *Config {
	return &Config{
		FrameInterval: DefaultFrameInterval,
	}
}

// GetFrameInterval returns the configured interval, or the default when unset.
func (c *Config) GetFrameInterval() time.Duration {
	if c == nil || c.FrameInterval <= 0 {
		return DefaultFrameInterval
	}
	return c.FrameInterval
}
