package loader

import (
	"errors"
	"time"
)

// Config holds the time budgets and thresholds of the load engine.
type Config struct {
	DirectTimeout        time.Duration
	ScriptPollInterval   time.Duration
	ScriptMaxPolls       int
	EarlyStopPause       time.Duration
	RawFetchPollInterval time.Duration
	RawFetchMaxPolls     int
	TransientRetries     int
	BackoffBase          time.Duration
	BackoffMax           time.Duration
	MinContentChars      int
	WatchdogInterval     time.Duration
	StopTimeout          time.Duration
	Strategies           []Strategy
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		DirectTimeout:        45 * time.Second,
		ScriptPollInterval:   time.Second,
		ScriptMaxPolls:       60,
		EarlyStopPause:       2 * time.Second,
		RawFetchPollInterval: time.Second,
		RawFetchMaxPolls:     30,
		TransientRetries:     2,
		BackoffBase:          500 * time.Millisecond,
		BackoffMax:           3 * time.Second,
		MinContentChars:      100,
		WatchdogInterval:     2 * time.Second,
		StopTimeout:          2 * time.Second,
		Strategies:           DefaultStrategies(),
	}
}

// Validate rejects configurations the engine cannot run.
func (c Config) Validate() error {
	if c.DirectTimeout <= 0 {
		return errors.New("direct timeout must be > 0")
	}
	if c.ScriptMaxPolls <= 0 || c.RawFetchMaxPolls <= 0 {
		return errors.New("poll counts must be > 0")
	}
	if c.TransientRetries < 0 {
		return errors.New("transient retries must be >= 0")
	}
	if c.MinContentChars < 0 {
		return errors.New("min content chars must be >= 0")
	}
	if len(c.Strategies) == 0 {
		return errors.New("at least one strategy is required")
	}
	return nil
}
