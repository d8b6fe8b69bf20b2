package usecase

import (
	"errors"
	"time"
)

var (
	ErrSessionActive   = errors.New("a session is already active")
	ErrNoActiveSession = errors.New("no active session")
	ErrEngineBusy      = errors.New("engine is busy")
	ErrPermission      = errors.New("microphone access denied")
)

// Config controls controller timing. Tests shrink the intervals.
type Config struct {
	TickInterval time.Duration
}

func (c Config) tick() time.Duration {
	if c.TickInterval <= 0 {
		return time.Second
	}
	return c.TickInterval
}
