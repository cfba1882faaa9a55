package lock

import "fmt"

// State is the app-lock state.
type State string

const (
	Unlocked                 State = "unlocked"
	LockedPinOnly            State = "locked_pin_only"
	LockedBiometricAvailable State = "locked_biometric_available"
)

// Locked reports whether s requires authentication.
func (s State) Locked() bool {
	return s != Unlocked
}

type event string

const (
	evLock         event = "lock"
	evUnlock       event = "unlock"
	evBiometric    event = "unlock_biometric"
	evStepUp       event = "step_up"
	evCancelStepUp event = "cancel_step_up"
)

type guard func() bool

type transition struct {
	to      State
	guards  []guard
	actions []func()
}

// fsm is a transition table keyed by [from][event]. Several transitions
// may share a key; the first one whose guards all pass is taken.
type fsm struct {
	current State
	table   map[State]map[event][]transition
}

func newFSM(initial State) *fsm {
	return &fsm{current: initial, table: make(map[State]map[event][]transition)}
}

func (f *fsm) add(from State, ev event, to State, guards []guard, actions ...func()) {
	if _, ok := f.table[from]; !ok {
		f.table[from] = make(map[event][]transition)
	}
	f.table[from][ev] = append(f.table[from][ev], transition{to: to, guards: guards, actions: actions})
}

func (f *fsm) can(ev event) bool {
	_, ok := f.match(ev)
	return ok
}

func (f *fsm) fire(ev event) error {
	t, ok := f.match(ev)
	if !ok {
		return fmt.Errorf("%w: %s in state %s", ErrInvalidState, ev, f.current)
	}
	for _, a := range t.actions {
		a()
	}
	f.current = t.to
	return nil
}

func (f *fsm) match(ev event) (transition, bool) {
	for _, t := range f.table[f.current][ev] {
		passed := true
		for _, g := range t.guards {
			if !g() {
				passed = false
				break
			}
		}
		if passed {
			return t, true
		}
	}
	return transition{}, false
}

func all(gs ...guard) []guard { return gs }

func not(g guard) guard { return func() bool { return !g() } }
