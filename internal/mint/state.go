package mint

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// State is a step of the purchase state machine:
// Idle → Verifying → Minting(i) → Confirming(i) → Recording → Done | Failed.
type State string

const (
	StateIdle       State = "idle"
	StateVerifying  State = "verifying"
	StateMinting    State = "minting"
	StateConfirming State = "confirming"
	StateRecording  State = "recording"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

var transitions = map[State][]State{
	StateIdle:       {StateVerifying, StateFailed},
	StateVerifying:  {StateMinting, StateFailed},
	StateMinting:    {StateConfirming, StateRecording, StateFailed},
	StateConfirming: {StateMinting, StateRecording, StateFailed},
	StateRecording:  {StateDone, StateFailed},
}

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// machine tracks the current state of one purchase and logs every exit and entry.
type machine struct {
	state   State
	edition int
	entered time.Time
	logger  *log.Entry
	trace   func(State, int)
}

func newMachine(logger *log.Entry, trace func(State, int)) *machine {
	m := &machine{state: StateIdle, edition: -1, entered: time.Now(), logger: logger, trace: trace}
	m.logger.WithField("state", m.state).Debug("enter state")
	return m
}

// enter moves to next. edition is the 0-based edition index for Minting/Confirming, -1 otherwise.
func (m *machine) enter(next State, edition int) {
	if m.state.Terminal() {
		m.logger.WithFields(log.Fields{"from": m.state, "to": next}).Error("purchase already finished")
		return
	}
	if !allowed(m.state, next) {
		m.logger.WithFields(log.Fields{"from": m.state, "to": next}).Error("invalid purchase state transition")
	}
	exit := m.logger.WithFields(log.Fields{"state": m.state, "duration_ms": time.Since(m.entered).Milliseconds()})
	if m.edition >= 0 {
		exit = exit.WithField("edition", m.edition)
	}
	exit.Debug("exit state")

	m.state = next
	m.edition = edition
	m.entered = time.Now()

	enter := m.logger.WithField("state", next)
	if edition >= 0 {
		enter = enter.WithField("edition", edition)
	}
	enter.Info("enter state")
	if m.trace != nil {
		m.trace(next, edition)
	}
}
