package pipeline

import "time"

// State is a render's position in the stage sequence.
type State int

const (
	StateInit State = iota
	StateVoiceSelected
	StateAudioSynthesized
	StatePortraitProcessed
	StateSilentVideoSynthesized
	StateMuxed
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateInit:                   "init",
	StateVoiceSelected:          "voice_selected",
	StateAudioSynthesized:       "audio_synthesized",
	StatePortraitProcessed:      "portrait_processed",
	StateSilentVideoSynthesized: "silent_video_synthesized",
	StateMuxed:                  "muxed",
	StateDone:                   "done",
	StateFailed:                 "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Progress is a rough completion percentage for s. Synthesis dominates
// wall-clock time, so the jump into SilentVideoSynthesized is the largest.
func (s State) Progress() int {
	switch s {
	case StateVoiceSelected:
		return 5
	case StateAudioSynthesized:
		return 20
	case StatePortraitProcessed:
		return 30
	case StateSilentVideoSynthesized:
		return 85
	case StateMuxed:
		return 95
	case StateDone:
		return 100
	}
	return 0
}

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

// Event is published on every state transition.
type Event struct {
	RunID    string    `json:"run_id"`
	State    State     `json:"-"`
	Stage    string    `json:"stage"`
	Progress int       `json:"progress"`
	Error    string    `json:"error,omitempty"`
	Kind     string    `json:"error_kind,omitempty"`
	At       time.Time `json:"at"`
}

// Observer is notified of transitions. Implementations must not block for
// long; they run on the render goroutine.
type Observer interface {
	Transition(ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev Event)

func (f ObserverFunc) Transition(ev Event) { f(ev) }

// Observers fans an event out to several observers in order.
type Observers []Observer

func (o Observers) Transition(ev Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Transition(ev)
		}
	}
}
