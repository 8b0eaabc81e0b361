package protocol

// State is the negotiator's attach state for one endpoint.
type State int

const (
	// StateArmed waits for AttachToken; every other frame is ignored.
	StateArmed State = iota

	// StateAttached classifies frames for a live session.
	StateAttached
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateArmed:
		return "armed"
	case StateAttached:
		return "attached"
	default:
		return "unknown"
	}
}

// Negotiator tracks the attach state of a single endpoint and turns its frames
// into signals. It outlives the sessions on that endpoint: after a peer closes
// or errors the negotiator re-arms, so the same endpoint can attach again.
//
// A Negotiator is not safe for concurrent use; it is driven by the endpoint's
// reader.
type Negotiator struct {
	state State
}

// NewNegotiator returns a negotiator in the given initial state. Dialed
// endpoints start Armed; accepted peers start Attached because the host opens
// their session on accept.
func NewNegotiator(initial State) *Negotiator {
	return &Negotiator{state: initial}
}

// State returns the current state.
func (n *Negotiator) State() State {
	return n.state
}

// Next classifies frame and advances the state machine.
//
// Armed: AttachToken yields SignalAttachRequested and moves to Attached; any
// other frame is ignored, including malformed ones.
//
// Attached: frames are classified with Classify. SignalPeerClosed and
// SignalPeerErrored move back to Armed. A repeated AttachToken is reported as
// SignalAttachRequested and the state stays Attached; the caller decides
// whether it replaces the current session.
func (n *Negotiator) Next(frame string) Signal {
	if n.state == StateArmed {
		if frame == AttachToken {
			n.state = StateAttached
			return Signal{Kind: SignalAttachRequested}
		}
		return Signal{Kind: SignalIgnored}
	}

	sig := Classify(frame)
	switch sig.Kind {
	case SignalPeerClosed, SignalPeerErrored:
		n.state = StateArmed
	}
	return sig
}
