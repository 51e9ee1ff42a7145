package playback

import (
	"errors"
	"sync"
	"time"

	"github.com/loqalabs/loqa-reader/internal/audio"
)

var errNothingLoaded = errors.New("no audio loaded")

// Player is the single audio output. Only the Sequencer drives it.
type Player interface {
	Load(a audio.Asset) error
	Play() error
	Pause() error
	Seek(at time.Duration) error
	Position() time.Duration
	Stop() error
	// Epoch identifies the current run of the loaded audio. Every load, seek,
	// play, pause and stop moves it on; the ended callback reports the epoch
	// of the run that completed.
	Epoch() uint64
}

// DurationProber measures an asset's playing time.
type DurationProber interface {
	Duration(a audio.Asset) (time.Duration, error)
}

// ClockPlayer plays nothing; it advances a wall clock over the loaded asset's
// duration and reports completion through the ended callback.
type ClockPlayer struct {
	prober DurationProber
	now    func() time.Time

	mu        sync.Mutex
	onEnded   func(epoch uint64)
	loaded    bool
	duration  time.Duration
	offset    time.Duration
	startedAt time.Time
	playing   bool
	timer     *time.Timer
	epoch     uint64
}

func NewClockPlayer(prober DurationProber) *ClockPlayer {
	return &ClockPlayer{prober: prober, now: time.Now}
}

// SetOnEnded registers the completion callback. It runs on a timer
// goroutine without the player lock held, so by the time it runs the player
// may already have moved on to another epoch.
func (p *ClockPlayer) SetOnEnded(fn func(epoch uint64)) {
	p.mu.Lock()
	p.onEnded = fn
	p.mu.Unlock()
}

func (p *ClockPlayer) Load(a audio.Asset) error {
	d, err := p.prober.Duration(a)
	if err != nil {
		d = 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.haltLocked()
	p.loaded = true
	p.duration = d
	p.offset = 0
	return nil
}

func (p *ClockPlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.loaded {
		return errNothingLoaded
	}
	if p.playing {
		return nil
	}
	p.playing = true
	p.startedAt = p.now()
	p.scheduleLocked()
	return nil
}

func (p *ClockPlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.haltLocked()
	return nil
}

func (p *ClockPlayer) Seek(at time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.loaded {
		return errNothingLoaded
	}
	wasPlaying := p.playing
	p.haltLocked()
	p.offset = clamp(at, 0, p.duration)
	if wasPlaying {
		p.playing = true
		p.startedAt = p.now()
		p.scheduleLocked()
	}
	return nil
}

func (p *ClockPlayer) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked()
}

func (p *ClockPlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.haltLocked()
	p.loaded = false
	p.offset = 0
	p.duration = 0
	return nil
}

func (p *ClockPlayer) Epoch() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.epoch
}

func (p *ClockPlayer) positionLocked() time.Duration {
	pos := p.offset
	if p.playing {
		pos += p.now().Sub(p.startedAt)
	}
	return clamp(pos, 0, p.duration)
}

// haltLocked freezes the position and cancels any pending completion.
func (p *ClockPlayer) haltLocked() {
	if p.playing {
		p.offset = p.positionLocked()
		p.playing = false
	}
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.epoch++
}

func (p *ClockPlayer) scheduleLocked() {
	p.epoch++
	epoch := p.epoch
	remaining := p.duration - p.offset
	if remaining < 0 {
		remaining = 0
	}
	p.timer = time.AfterFunc(remaining, func() { p.fire(epoch) })
}

func (p *ClockPlayer) fire(epoch uint64) {
	p.mu.Lock()
	if epoch != p.epoch || !p.playing {
		p.mu.Unlock()
		return
	}
	p.offset = p.duration
	p.playing = false
	p.timer = nil
	fn := p.onEnded
	p.mu.Unlock()
	if fn != nil {
		fn(epoch)
	}
}

func clamp(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
