package playback

import (
	"errors"
	"fmt"
)

var (
	// ErrIllegalTransition is returned for an action the current state does not allow.
	ErrIllegalTransition = errors.New("illegal playback transition")
	// ErrSynthesisInFlight rejects a second play while audio is being synthesized.
	ErrSynthesisInFlight = errors.New("synthesis already in flight")
	// ErrSuperseded reports a synthesis result discarded because the chapter changed.
	ErrSuperseded = errors.New("chapter changed during synthesis")

	errNoPlayablePage = errors.New("no playable page audio")
)

type State int

const (
	Idle State = iota
	Ready
	Synthesizing
	Playing
	Paused
	Finished
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Ready:
		return "ready"
	case Synthesizing:
		return "synthesizing"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Finished:
		return "finished"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type event int

const (
	evLoad event = iota
	evUnload
	evPlay
	evSynthesize
	evSynthesized
	evSynthFailed
	evPause
	evAdvance
	evFinish
	evSeek
)

func (e event) String() string {
	switch e {
	case evLoad:
		return "load"
	case evUnload:
		return "unload"
	case evPlay:
		return "play"
	case evSynthesize:
		return "synthesize"
	case evSynthesized:
		return "synthesized"
	case evSynthFailed:
		return "synthesis_failed"
	case evPause:
		return "pause"
	case evAdvance:
		return "advance"
	case evFinish:
		return "finish"
	case evSeek:
		return "seek"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// apply is the only place states change.
func apply(s State, e event) (State, error) {
	switch e {
	case evLoad:
		return Ready, nil
	case evUnload:
		return Idle, nil
	case evPlay:
		switch s {
		case Ready, Paused, Finished:
			return Playing, nil
		case Synthesizing:
			return s, ErrSynthesisInFlight
		}
	case evSynthesize:
		switch s {
		case Ready, Paused, Finished:
			return Synthesizing, nil
		case Synthesizing:
			return s, ErrSynthesisInFlight
		}
	case evSynthesized:
		if s == Synthesizing {
			return Playing, nil
		}
	case evSynthFailed:
		if s == Synthesizing {
			return Ready, nil
		}
	case evPause:
		if s == Playing {
			return Paused, nil
		}
	case evAdvance:
		if s == Playing {
			return Playing, nil
		}
	case evFinish:
		if s == Playing {
			return Finished, nil
		}
	case evSeek:
		switch s {
		case Playing:
			return Playing, nil
		case Ready, Paused, Finished:
			return Paused, nil
		}
	}
	return s, fmt.Errorf("%w: %s while %s", ErrIllegalTransition, e, s)
}
