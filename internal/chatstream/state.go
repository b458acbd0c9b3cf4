package chatstream

// State tags one assistant message's generation lifecycle. States move
// forward only; skipping ahead is allowed (KG_RETRIEVING only occurs when
// graph augmentation is enabled) but a state is never revisited once left.
// ERROR is reachable from any non-terminal state.
type State string

const (
	// StateConnecting is client-only: it is the zero state before the first
	// server frame and is never emitted by the server.
	StateConnecting   State = "CONNECTING"
	StateCreating     State = "CREATING"
	StateKGRetrieving State = "KG_RETRIEVING"
	StateSearching    State = "SEARCHING"
	StateReranking    State = "RERANKING"
	StateGenerating   State = "GENERATING"
	StateFinished     State = "FINISHED"
	StateError        State = "ERROR"
)

var stateOrder = map[State]int{
	StateConnecting:   0,
	StateCreating:     1,
	StateKGRetrieving: 2,
	StateSearching:    3,
	StateReranking:    4,
	StateGenerating:   5,
	StateFinished:     6,
	StateError:        7,
}

func (s State) Valid() bool {
	_, ok := stateOrder[s]
	return ok
}

func (s State) Terminal() bool {
	return s == StateFinished || s == StateError
}

// CanTransition reports whether moving from s to next respects the forward
// ordering. Terminal states accept nothing; ERROR is reachable from any
// non-terminal state.
func (s State) CanTransition(next State) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s.Terminal() {
		return false
	}
	if next == StateError {
		return true
	}
	return stateOrder[next] > stateOrder[s]
}
