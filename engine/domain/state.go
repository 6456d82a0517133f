package domain

import (
	"fmt"
	"time"
)

// State is a query's position in the pipeline.
type State string

const (
	StateReceived   State = "RECEIVED"
	StatePlanned    State = "PLANNED"
	StateRetrieving State = "RETRIEVING"
	StateComposing  State = "COMPOSING"
	StateDone       State = "DONE"
	StateFailed     State = "FAILED"
)

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

var nextState = map[State]State{
	StateReceived:   StatePlanned,
	StatePlanned:    StateRetrieving,
	StateRetrieving: StateComposing,
	StateComposing:  StateDone,
}

// Transition is one recorded state change.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
	Kind ErrorKind `json:"kind,omitempty"`
}

// Tracker enforces the per-query state machine
// RECEIVED → PLANNED → RETRIEVING → COMPOSING → DONE, with FAILED reachable
// from any non-terminal state. A Tracker is owned by a single query.
type Tracker struct {
	state   State
	kind    ErrorKind
	history []Transition
	now     func() time.Time
}

// NewTracker starts a query in RECEIVED.
func NewTracker() *Tracker {
	return &Tracker{state: StateReceived, now: time.Now}
}

// State returns the current state.
func (t *Tracker) State() State { return t.state }

// FailureKind returns the error kind carried by FAILED.
func (t *Tracker) FailureKind() ErrorKind { return t.kind }

// History returns the recorded transitions.
func (t *Tracker) History() []Transition {
	out := make([]Transition, len(t.history))
	copy(out, t.history)
	return out
}

// Advance moves to the next state. Only the single forward edge is legal.
func (t *Tracker) Advance(to State) error {
	if t.state.Terminal() {
		return fmt.Errorf("state: %s is terminal", t.state)
	}
	if nextState[t.state] != to {
		return fmt.Errorf("state: illegal transition %s -> %s", t.state, to)
	}
	t.history = append(t.history, Transition{From: t.state, To: to, At: t.now()})
	t.state = to
	return nil
}

// Fail moves to FAILED carrying kind. It returns the state the query was in.
func (t *Tracker) Fail(kind ErrorKind) (State, error) {
	from := t.state
	if from.Terminal() {
		return from, fmt.Errorf("state: %s is terminal", from)
	}
	t.history = append(t.history, Transition{From: from, To: StateFailed, At: t.now(), Kind: kind})
	t.state = StateFailed
	t.kind = kind
	return from, nil
}
