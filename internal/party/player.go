package party

// PlayerState mirrors the embedded player's state codes.
type PlayerState int

const (
	PlayerUnstarted PlayerState = -1
	PlayerEnded     PlayerState = 0
	PlayerPlaying   PlayerState = 1
	PlayerPaused    PlayerState = 2
	PlayerBuffering PlayerState = 3
	PlayerCued      PlayerState = 5
)

func (s PlayerState) String() string {
	switch s {
	case PlayerUnstarted:
		return "unstarted"
	case PlayerEnded:
		return "ended"
	case PlayerPlaying:
		return "playing"
	case PlayerPaused:
		return "paused"
	case PlayerBuffering:
		return "buffering"
	case PlayerCued:
		return "cued"
	default:
		return "unknown"
	}
}

// Advancing reports whether the playhead is actually moving. Buffering
// counts as not playing.
func (s PlayerState) Advancing() bool {
	return s == PlayerPlaying
}

// Player is the control surface of the local media player. Calls are
// fire-and-forget; the session never waits for them to take effect.
type Player interface {
	GetCurrentTime() float64
	GetPlayerState() PlayerState
	PlayVideo()
	PauseVideo()
	SeekTo(seconds float64, allowSeekAhead bool)
	SetPlaybackRate(rate float64)
	GetPlaybackRate() float64
}
