package exec

import "sync"

type State string

const (
	StateIdle         State = "idle"
	StatePricing      State = "pricing"
	StateLegsPlaced   State = "legs_placed"
	StateCompensating State = "compensating"
	StateSettled      State = "settled"
	StateFailed       State = "failed"
	StateAborted      State = "aborted"
)

// Terminal reports whether an attempt can make no further transitions.
func (s State) Terminal() bool {
	return s == StateSettled || s == StateFailed || s == StateAborted
}

type Event string

const (
	EventPrice      Event = "price"
	EventLegsPlaced Event = "legs_placed"
	EventSettle     Event = "settle"
	EventCompensate Event = "compensate"
	EventFail       Event = "fail"
	EventAbort      Event = "abort"
)

// StateMachine tracks one attempt's lifecycle. Invalid events leave the
// state unchanged, so a stray event cannot resurrect a terminal attempt.
type StateMachine struct {
	mu    sync.Mutex
	State State
}

func NewStateMachine() *StateMachine {
	return &StateMachine{State: StateIdle}
}

func (s *StateMachine) Apply(event Event) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = nextState(s.State, event)
	return s.State
}

func (s *StateMachine) Current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State
}

func nextState(current State, event Event) State {
	switch current {
	case StateIdle:
		if event == EventPrice {
			return StatePricing
		}
	case StatePricing:
		if event == EventLegsPlaced {
			return StateLegsPlaced
		}
		if event == EventAbort {
			return StateAborted
		}
	case StateLegsPlaced:
		if event == EventSettle {
			return StateSettled
		}
		if event == EventCompensate {
			return StateCompensating
		}
	case StateCompensating:
		if event == EventFail {
			return StateFailed
		}
	}
	return current
}
