package sender

import "time"

// ProcessorConfig controls delivery retries.
type ProcessorConfig struct {
	Attempts  int
	BaseDelay time.Duration
}

func DefaultConfig() ProcessorConfig {
	return ProcessorConfig{Attempts: 3, BaseDelay: time.Second}
}

func (c ProcessorConfig) withDefaults() ProcessorConfig {
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	return c
}
