package party

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the tunables of the sync protocol. The zero value is not
// usable; start from DefaultConfig.
type Config struct {
	// HeartbeatInterval is how often the host publishes a snapshot.
	HeartbeatInterval time.Duration
	// CloseGrace is how long NotifyCloseRoom waits after sending room_closed.
	CloseGrace time.Duration
	// LeaveNotice is how long a guest shows the "session ended" notice
	// before the room closed callback runs.
	LeaveNotice time.Duration
	// StateSuppressWindow mutes local player events after a forced play/pause.
	StateSuppressWindow time.Duration
	// SeekSuppressWindow mutes local player events after a hard seek.
	SeekSuppressWindow time.Duration

	// SyncedThreshold and HardResyncThreshold bound the drift bands, in seconds.
	// Each band includes its lower bound.
	SyncedThreshold     float64
	HardResyncThreshold float64
	CatchUpRate         float64
	SlowDownRate        float64

	// EnforceSequence drops packets older than the last accepted one from the
	// same host epoch.
	EnforceSequence bool

	PublishTimeout time.Duration
	InboxSize      int
}

func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:   3000 * time.Millisecond,
		CloseGrace:          500 * time.Millisecond,
		LeaveNotice:         2000 * time.Millisecond,
		StateSuppressWindow: 500 * time.Millisecond,
		SeekSuppressWindow:  1000 * time.Millisecond,
		SyncedThreshold:     0.5,
		HardResyncThreshold: 2.0,
		CatchUpRate:         1.05,
		SlowDownRate:        0.95,
		EnforceSequence:     true,
		PublishTimeout:      2 * time.Second,
		InboxSize:           64,
	}
}

var errInvalidConfig = errors.New("invalid sync config")

func (c Config) Validate() error {
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: heartbeat interval must be positive", errInvalidConfig)
	}
	if c.CloseGrace < 0 || c.LeaveNotice < 0 || c.StateSuppressWindow < 0 || c.SeekSuppressWindow < 0 {
		return fmt.Errorf("%w: delays must not be negative", errInvalidConfig)
	}
	if c.SyncedThreshold <= 0 || c.HardResyncThreshold <= c.SyncedThreshold {
		return fmt.Errorf("%w: need 0 < synced threshold < hard resync threshold", errInvalidConfig)
	}
	if c.CatchUpRate <= 1 || c.SlowDownRate >= 1 || c.SlowDownRate <= 0 {
		return fmt.Errorf("%w: catch-up rate must exceed 1 and slow-down rate must be in (0,1)", errInvalidConfig)
	}
	if c.PublishTimeout <= 0 {
		return fmt.Errorf("%w: publish timeout must be positive", errInvalidConfig)
	}
	if c.InboxSize <= 0 {
		return fmt.Errorf("%w: inbox size must be positive", errInvalidConfig)
	}
	return nil
}
