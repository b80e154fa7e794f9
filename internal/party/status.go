package party

import "time"

// Band is the drift classification of the last reconciled packet.
type Band string

const (
	BandSynced    Band = "synced"
	BandAdjusting Band = "adjusting"
	BandBuffering Band = "buffering"
)

// Classify maps an absolute drift in seconds to a band.
func Classify(absDiff float64, cfg Config) Band {
	switch {
	case absDiff < cfg.SyncedThreshold:
		return BandSynced
	case absDiff < cfg.HardResyncThreshold:
		return BandAdjusting
	default:
		return BandBuffering
	}
}

type Role int

const (
	RoleGuest Role = iota
	RoleHost
)

func (r Role) String() string {
	if r == RoleHost {
		return "host"
	}
	return "guest"
}

// LifecycleState is where a session sits in its room lifecycle.
// Hosts go active -> closing -> closed, guests go active -> left.
type LifecycleState string

const (
	StateActive  LifecycleState = "active"
	StateClosing LifecycleState = "closing"
	StateClosed  LifecycleState = "closed"
	StateLeft    LifecycleState = "left"
)

// Status is the observable outcome of reconciliation.
type Status struct {
	Role    Role
	State   LifecycleState
	Band    Band
	Latency time.Duration
	// Drift is host minus local position in seconds; positive means the guest is behind.
	Drift          float64
	LocalOverrides int
	UpdatedAt      time.Time
}
