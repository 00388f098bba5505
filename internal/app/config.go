package app

import (
	"time"

	"github.com/google/uuid"

	"quiz-session-service/internal/timer"
)

const (
	DefaultAutosaveInterval   = 30 * time.Second
	DefaultNegativeMark       = 0.25
	DefaultResultSaveAttempts = 3
	DefaultResultRetryBackoff = 200 * time.Millisecond
)

// SessionConfig tunes session timing, scoring and persistence retries.
type SessionConfig struct {
	AutosaveInterval time.Duration
	TickInterval     time.Duration
	// NegativeMark is the per-wrong-answer penalty used when a session completes.
	NegativeMark       float64
	ResultSaveAttempts int
	ResultRetryBackoff time.Duration

	Clock     func() time.Time
	NewTicker func(time.Duration) timer.Ticker
	NewID     func() string
}

// DefaultSessionConfig returns production defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		AutosaveInterval:   DefaultAutosaveInterval,
		TickInterval:       timer.DefaultPollInterval,
		NegativeMark:       DefaultNegativeMark,
		ResultSaveAttempts: DefaultResultSaveAttempts,
		ResultRetryBackoff: DefaultResultRetryBackoff,
	}
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.AutosaveInterval <= 0 {
		c.AutosaveInterval = DefaultAutosaveInterval
	}
	if c.TickInterval <= 0 {
		c.TickInterval = timer.DefaultPollInterval
	}
	if c.NegativeMark < 0 {
		c.NegativeMark = 0
	}
	if c.ResultSaveAttempts <= 0 {
		c.ResultSaveAttempts = DefaultResultSaveAttempts
	}
	if c.ResultRetryBackoff <= 0 {
		c.ResultRetryBackoff = DefaultResultRetryBackoff
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.NewTicker == nil {
		c.NewTicker = timer.NewTicker
	}
	if c.NewID == nil {
		c.NewID = uuid.NewString
	}
	return c
}
