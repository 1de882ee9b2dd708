package pipeline

import "fmt"

// State is a step of one pipeline run.
type State string

const (
	StateSelecting   State = "selecting"
	StateResearching State = "researching"
	StateDrafting    State = "drafting"
	StateEditing     State = "editing"
	StateImaging     State = "imaging"
	StatePublishing  State = "publishing"
	StateAnnouncing  State = "announcing"
	StateDone        State = "done"
	StateAborted     State = "aborted"
)

var transitions = map[State][]State{
	StateSelecting:   {StateResearching, StateDone, StateAborted},
	StateResearching: {StateDrafting, StateAborted},
	StateDrafting:    {StateEditing, StateAborted},
	StateEditing:     {StateImaging, StateAborted},
	StateImaging:     {StatePublishing, StateAborted},
	StatePublishing:  {StateAnnouncing, StateAborted},
	StateAnnouncing:  {StateDone},
}

// CanAdvance reports whether a run may move from one state to another.
// Selecting may finish directly as done when there is no work.
func CanAdvance(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted
}

// machine tracks the state of one run and records the path taken.
type machine struct {
	current State
	path    []State
}

func newMachine() *machine {
	return &machine{current: StateSelecting, path: []State{StateSelecting}}
}

func (m *machine) advance(to State) error {
	if !CanAdvance(m.current, to) {
		return fmt.Errorf("invalid run transition %s -> %s", m.current, to)
	}
	m.current = to
	m.path = append(m.path, to)
	return nil
}
