package session

import (
	"fmt"
	"sync"
)

// Event drives the session state machine.
type Event int

const (
	EventStartAccepted Event = iota
	EventSpawnSucceeded
	EventSpawnFailed
	EventProcessExited
	EventStopRequested
)

var eventNames = [...]string{
	"start_accepted", "spawn_succeeded", "spawn_failed", "process_exited", "stop_requested",
}

func (e Event) String() string {
	if int(e) >= 0 && int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("unknown(%d)", int(e))
}

// transitions lists every legal move. Anything absent is rejected.
var transitions = map[State]map[Event]State{
	StateOffline: {
		EventStartAccepted: StatePreparing,
	},
	StatePreparing: {
		EventSpawnSucceeded: StateLive,
		EventSpawnFailed:    StateOffline,
		EventProcessExited:  StateOffline,
		EventStopRequested:  StateOffline,
	},
	StateLive: {
		EventProcessExited: StateOffline,
		EventStopRequested: StateOffline,
	},
}

// Transition records one state change.
type Transition struct {
	From      State
	To        State
	Event     Event
	SessionID string
}

// StateMachine serializes all lifecycle transitions of the session. Each
// cycle is identified by the session id given with EventStartAccepted; later
// events must carry the same id so that a late exit from a previous cycle
// cannot move the current one.
type StateMachine struct {
	mu        sync.Mutex
	state     State
	sessionID string
	observe   func(Transition)
}

// NewStateMachine returns a machine in StateOffline. observe, if non-nil,
// is called after every transition while the machine is still locked, so
// observers see transitions in order; it must not call back into the
// machine.
func NewStateMachine(observe func(Transition)) *StateMachine {
	return &StateMachine{state: StateOffline, observe: observe}
}

// Current returns the state and the id of the cycle it belongs to.
func (m *StateMachine) Current() (State, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.sessionID
}

// State returns the current state.
func (m *StateMachine) State() State {
	s, _ := m.Current()
	return s
}

// Fire applies ev for sessionID. Errors:
//   - ErrNotOffline for EventStartAccepted outside StateOffline
//   - ErrNotRunning for EventStopRequested in StateOffline
//   - errStaleSession when sessionID is not the current cycle
//   - a descriptive error for any other undefined transition
func (m *StateMachine) Fire(ev Event, sessionID string) (Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ev != EventStartAccepted && sessionID != m.sessionID {
		return Transition{}, errStaleSession
	}

	to, ok := transitions[m.state][ev]
	if !ok {
		switch {
		case ev == EventStartAccepted:
			return Transition{}, ErrNotOffline
		case ev == EventStopRequested && m.state == StateOffline:
			return Transition{}, ErrNotRunning
		default:
			return Transition{}, fmt.Errorf("no transition from %s on %s", m.state, ev)
		}
	}

	tr := Transition{From: m.state, To: to, Event: ev, SessionID: sessionID}
	m.state = to
	if ev == EventStartAccepted {
		m.sessionID = sessionID
	}
	if m.observe != nil {
		m.observe(tr)
	}
	return tr, nil
}
