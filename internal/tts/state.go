package tts

import (
	"fmt"
	"strings"
	"time"
)

// State is a step in the life of a synthesis request.
type State int

const (
	// StateCreated is a validated request that has not asked for admission.
	StateCreated State = iota
	// StateAdmissionPending is waiting on the admission decision.
	StateAdmissionPending
	// StateRejected means the admission queue was full.
	StateRejected
	// StateAdmitted holds a queue slot.
	StateAdmitted
	// StateResolving is looking up the reference audio.
	StateResolving
	// StateResolutionFailed means no reference audio matched.
	StateResolutionFailed
	// StateResolved has a reference asset and may ask for the executor.
	StateResolved
	// StateQueued is waiting for the executor permit.
	StateQueued
	// StateProcessing holds the executor permit.
	StateProcessing
	// StateSynthesisFailed means the engine or post-processing failed.
	StateSynthesisFailed
	// StateCompleted produced audio.
	StateCompleted
	// StateCanceled means the caller left while waiting for the permit.
	StateCanceled
	// StateReleased gave the queue slot back.
	StateReleased
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAdmissionPending:
		return "admission_pending"
	case StateRejected:
		return "rejected"
	case StateAdmitted:
		return "admitted"
	case StateResolving:
		return "resolving"
	case StateResolutionFailed:
		return "resolution_failed"
	case StateResolved:
		return "resolved"
	case StateQueued:
		return "queued"
	case StateProcessing:
		return "processing"
	case StateSynthesisFailed:
		return "synthesis_failed"
	case StateCompleted:
		return "completed"
	case StateCanceled:
		return "canceled"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateRejected || s == StateReleased
}

var transitions = map[State][]State{
	StateCreated:          {StateAdmissionPending},
	StateAdmissionPending: {StateRejected, StateAdmitted},
	StateAdmitted:         {StateResolving, StateReleased},
	StateResolving:        {StateResolutionFailed, StateResolved},
	StateResolutionFailed: {StateReleased},
	StateResolved:         {StateQueued},
	StateQueued:           {StateProcessing, StateCanceled},
	StateProcessing:       {StateSynthesisFailed, StateCompleted},
	StateSynthesisFailed:  {StateReleased},
	StateCompleted:        {StateReleased},
	StateCanceled:         {StateReleased},
}

// Transition is one recorded state change.
type Transition struct {
	State State
	At    time.Time
}

// Trace is the ordered list of states a request went through.
type Trace []Transition

// States returns just the states of the trace.
func (t Trace) States() []State {
	out := make([]State, len(t))
	for i, tr := range t {
		out[i] = tr.State
	}
	return out
}

func (t Trace) String() string {
	names := make([]string, len(t))
	for i, tr := range t {
		names[i] = tr.State.String()
	}
	return strings.Join(names, " -> ")
}

// lifecycle enforces the request state machine and records the trace.
// It is owned by a single request goroutine.
type lifecycle struct {
	current State
	trace   Trace
	now     func() time.Time
}

func newLifecycle(now func() time.Time) *lifecycle {
	l := &lifecycle{current: StateCreated, now: now}
	l.trace = append(l.trace, Transition{State: StateCreated, At: now()})
	return l
}

// to moves to next, returning an error for a transition the machine does
// not allow.
func (l *lifecycle) to(next State) error {
	for _, allowed := range transitions[l.current] {
		if allowed == next {
			l.current = next
			l.trace = append(l.trace, Transition{State: next, At: l.now()})
			return nil
		}
	}
	return fmt.Errorf("invalid state transition %s -> %s", l.current, next)
}

// Current returns the current state.
func (l *lifecycle) Current() State {
	return l.current
}
