package transport

import "fmt"

// State is a connection's position in the handshake/close state machine of
// spec §4.3. States advance only through the transitions table below;
// anything else is a programming error.
type State int

const (
	StateClosed State = iota
	StateSynSent
	StateSynReceived
	StateEstablished
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateSynSent:
		return "SYN-SENT"
	case StateSynReceived:
		return "SYN-RECEIVED"
	case StateEstablished:
		return "ESTABLISHED"
	case StateClosing:
		return "CLOSING"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// event names the trigger driving an FSM transition.
type event int

const (
	eventConnect event = iota
	eventRecvSyn
	eventRecvSynAck
	eventRecvAck
	eventClose
	eventRecvFin
	eventRecvFinAck
	eventAbort
)

// transitions enumerates every legal (state, event) -> state edge from
// spec §4.3's diagram. Anything not in this table is illegal.
var transitions = map[State]map[event]State{
	StateClosed: {
		eventConnect: StateSynSent,
		eventRecvSyn: StateSynReceived,
	},
	StateSynSent: {
		eventRecvSynAck: StateEstablished,
		eventAbort:       StateClosed,
	},
	StateSynReceived: {
		eventRecvAck: StateEstablished,
		eventAbort:   StateClosed,
	},
	StateEstablished: {
		eventClose:   StateClosing,
		eventRecvFin: StateClosing,
		eventAbort:   StateClosed,
	},
	StateClosing: {
		eventRecvFinAck: StateClosed,
		eventAbort:      StateClosed,
	},
}

// step applies event ev to state s, returning the resulting state and
// whether the transition is legal. An illegal transition leaves the state
// unchanged.
func step(s State, ev event) (State, bool) {
	byEvent, ok := transitions[s]
	if !ok {
		return s, false
	}
	next, ok := byEvent[ev]
	if !ok {
		return s, false
	}
	return next, true
}
