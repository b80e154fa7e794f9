// Package player provides a headless media player driven by a clock.
package player

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"watchparty/internal/party"
)

// Virtual is a playhead without media. Position advances with the clock at
// the playback rate while playing and stops at Duration when one is set.
type Virtual struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	state    party.PlayerState
	position float64
	anchor   time.Time
	rate     float64
	duration float64
	onChange func(party.PlayerState)
}

func NewVirtual(clock clockwork.Clock, duration float64) *Virtual {
	return &Virtual{
		clock:    clock,
		state:    party.PlayerCued,
		anchor:   clock.Now(),
		rate:     1,
		duration: duration,
	}
}

// OnStateChange registers the callback fired after every transition and seek.
func (v *Virtual) OnStateChange(fn func(party.PlayerState)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onChange = fn
}

func (v *Virtual) GetCurrentTime() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.advanceLocked()
	return v.position
}

func (v *Virtual) GetPlayerState() party.PlayerState {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.advanceLocked()
	return v.state
}

func (v *Virtual) PlayVideo() {
	v.transition(func() {
		if v.duration > 0 && v.position >= v.duration {
			v.position = 0
		}
		v.state = party.PlayerPlaying
	})
}

func (v *Virtual) PauseVideo() {
	v.transition(func() {
		v.state = party.PlayerPaused
	})
}

// Buffer stalls the playhead as a network hiccup would.
func (v *Virtual) Buffer() {
	v.transition(func() {
		v.state = party.PlayerBuffering
	})
}

func (v *Virtual) SeekTo(seconds float64, allowSeekAhead bool) {
	v.transition(func() {
		if seconds < 0 {
			seconds = 0
		}
		if v.duration > 0 && seconds > v.duration {
			seconds = v.duration
		}
		v.position = seconds
		if v.state == party.PlayerCued || v.state == party.PlayerEnded {
			v.state = party.PlayerPaused
		}
	})
}

func (v *Virtual) SetPlaybackRate(rate float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.advanceLocked()
	if rate > 0 {
		v.rate = rate
	}
}

func (v *Virtual) GetPlaybackRate() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.rate
}

func (v *Virtual) transition(apply func()) {
	v.mu.Lock()
	v.advanceLocked()
	apply()
	state := v.state
	fn := v.onChange
	v.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

// advanceLocked moves the position forward to the clock's now.
func (v *Virtual) advanceLocked() {
	now := v.clock.Now()
	if v.state == party.PlayerPlaying {
		v.position += now.Sub(v.anchor).Seconds() * v.rate
		if v.duration > 0 && v.position >= v.duration {
			v.position = v.duration
			v.state = party.PlayerEnded
		}
	}
	v.anchor = now
}
