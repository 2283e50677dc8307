// Package gpio is the Input Arbiter (spec.md §4.8, C9): it reads the
// station's active-low buttons through periph.io/x/periph/conn/gpio,
// software-debounces each line, and turns raw presses into the
// capture/reset/voice-mode/control semantics the Supervisor understands.
// Grounded on periph's gpio.PinIO line-reading idiom (the lepton driver in
// other_examples is the only periph consumer in the pack; it drives an
// output pin, so the input side here follows periph's own PinIn contract)
// and on original_source/src/main_arm.py's GPIOButton polling loop for the
// cooldown/refractory timing constants.
package gpio

import (
	"fmt"
	"time"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/host"
)

// Edge/level semantics per line, per spec.md §4.8.
type Action string

const (
	ActionCapture      Action = "capture"       // Idle: capture() ; Result: reset()
	ActionEnterVoice   Action = "enter_voice"    // Result: video edge with voice-mode off
	ActionVoiceStart   Action = "voice_start"    // Voice mode: video level goes true
	ActionVoiceStop    Action = "voice_stop"     // Voice mode: video level goes false
	ActionControlPrev  Action = "control_prev"   // pgup edge
	ActionControlNext  Action = "control_next"   // pgdn edge
)

const (
	captureCooldown    = 1 * time.Second
	resetRefractory    = 2 * time.Second
	defaultBouncetime  = 100 * time.Millisecond
	pollInterval       = 10 * time.Millisecond
)

// Mode mirrors the subset of types.Mode the arbiter needs to decide how to
// interpret the capture/video lines, without importing pkg/types and
// coupling this package to the full Supervisor state.
type Mode string

const (
	ModeIdle       Mode = "idle"
	ModeResult     Mode = "result"
	ModeProcessing Mode = "processing"
	ModeVoice      Mode = "voice"
)

// levelReader is the narrow slice of periph's gpio.PinIn this package
// needs; keeping it narrow lets tests fake a line without implementing
// gpio.PinIn's full Pin/Halt/WaitForEdge surface.
type levelReader interface {
	Read() gpio.Level
}

// Line is one configured, software-debounced GPIO input.
type Line struct {
	Name       string
	pin        levelReader
	bouncetime time.Duration

	lastLevel    gpio.Level
	lastEdgeTime time.Time
}

// OpenLine binds a named periph pin as an active-low input with the given
// software debounce window.
func OpenLine(name string, pinNumber int, bouncetime time.Duration) (*Line, error) {
	if bouncetime <= 0 {
		bouncetime = defaultBouncetime
	}
	pin := gpioreg.ByName(fmt.Sprintf("GPIO%d", pinNumber))
	if pin == nil {
		return nil, fmt.Errorf("gpio: pin %d (%s) not found", pinNumber, name)
	}
	pinIn, ok := pin.(gpio.PinIn)
	if !ok {
		return nil, fmt.Errorf("gpio: pin %d (%s) does not support input", pinNumber, name)
	}
	if err := pinIn.In(gpio.PullUp, gpio.BothEdges); err != nil {
		return nil, fmt.Errorf("gpio: configure pin %d (%s): %w", pinNumber, name, err)
	}
	return newLine(name, pinIn, bouncetime), nil
}

// newLine builds a Line directly over a levelReader, bypassing periph
// hardware discovery. Used by OpenLine in production and by tests with a
// fake reader.
func newLine(name string, pin levelReader, bouncetime time.Duration) *Line {
	if bouncetime <= 0 {
		bouncetime = defaultBouncetime
	}
	return &Line{Name: name, pin: pin, bouncetime: bouncetime, lastLevel: gpio.High}
}

// Pressed reports the instantaneous, active-low press state (level
// semantics from spec.md §4.8): true when the line reads Low.
func (l *Line) Pressed() bool {
	return l.pin.Read() == gpio.Low
}

// PollEdge reports a debounced falling-edge press: true at most once per
// physical press, after bouncetime has elapsed since the last accepted
// edge.
func (l *Line) PollEdge(now time.Time) bool {
	level := l.pin.Read()
	fired := false
	if level == gpio.Low && l.lastLevel == gpio.High && now.Sub(l.lastEdgeTime) >= l.bouncetime {
		fired = true
		l.lastEdgeTime = now
	}
	l.lastLevel = level
	return fired
}

// Init brings up the periph host drivers; callers must call this once
// before OpenLine.
func Init() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("gpio: init host drivers: %w", err)
	}
	return nil
}

// Arbiter owns the four named lines and the cooldown/refractory state
// machine layered on top of their raw edges/levels.
type Arbiter struct {
	capture *Line
	video   *Line
	pgup    *Line
	pgdn    *Line

	lastCaptureTime time.Time
	lastResetTime   time.Time

	voiceReleaseRequired bool
}

// New builds an Arbiter over already-opened lines. Any of the four may be
// nil if that line isn't wired on this deployment; Poll then simply never
// fires the corresponding action.
func New(capture, video, pgup, pgdn *Line) *Arbiter {
	return &Arbiter{capture: capture, video: video, pgup: pgup, pgdn: pgdn}
}

// NoteReset must be called whenever the Supervisor transitions into Idle
// via a reset, so the next capture edge is checked against the refractory
// window.
func (a *Arbiter) NoteReset(now time.Time) {
	a.lastResetTime = now
}

// Poll checks all configured lines once against the current mode and
// voice-recording state, returning the actions that fired this tick (at
// most one action each from the capture and video lines — in Result mode
// both can fire together — and independently up to two control actions,
// since pgup/pgdn never interact with the mode machine).
func (a *Arbiter) Poll(now time.Time, mode Mode, voiceRecording bool) []Action {
	var actions []Action

	if a.pgup != nil && a.pgup.PollEdge(now) {
		actions = append(actions, ActionControlPrev)
	}
	if a.pgdn != nil && a.pgdn.PollEdge(now) {
		actions = append(actions, ActionControlNext)
	}

	switch mode {
	case ModeIdle:
		if a.capture != nil && a.capture.PollEdge(now) {
			if now.Sub(a.lastResetTime) < resetRefractory {
				// Refractory window active: a capture press within 2.0s of
				// a reset is silently dropped, per main_arm.py.
				break
			}
			if now.Sub(a.lastCaptureTime) >= captureCooldown {
				a.lastCaptureTime = now
				actions = append(actions, ActionCapture)
			}
		}
	case ModeResult:
		if a.capture != nil && a.capture.PollEdge(now) {
			if now.Sub(a.lastCaptureTime) >= captureCooldown {
				a.lastCaptureTime = now
				actions = append(actions, ActionCapture)
			}
		}
		if a.video != nil && a.video.PollEdge(now) {
			a.voiceReleaseRequired = true
			actions = append(actions, ActionEnterVoice)
		}
	case ModeVoice:
		if a.video != nil {
			pressed := a.video.Pressed()
			if a.voiceReleaseRequired {
				if !pressed {
					a.voiceReleaseRequired = false
				}
			} else if pressed && !voiceRecording {
				actions = append(actions, ActionVoiceStart)
			} else if !pressed && voiceRecording {
				actions = append(actions, ActionVoiceStop)
			}
		}
	case ModeProcessing:
		// No button is meaningful mid-pipeline except pgup/pgdn, already
		// handled above.
	}

	return actions
}
