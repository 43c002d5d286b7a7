package txn

// Both state machines are encoded as compile-time constant lookup tables
// keyed by (state, event), mirroring the appendFSM switch-dispatch of the
// teacher but expressed as a table rather than a sequence of handler
// methods, since ingress/egress validity here is a pure function of the
// pair rather than a procedure with side effects. Unlisted (state, event)
// pairs zero-value to {ok: false} and are therefore rejected by construction.

// IngressState is a state of the ingress half of a Transaction.
type IngressState int

const (
	IngressStart IngressState = iota
	IngressHeadersReceived
	IngressRegularBodyReceived
	IngressChunkHeaderReceived
	IngressChunkBodyReceived
	IngressChunkCompleted
	IngressTrailersReceived
	IngressUpgradeComplete
	IngressEOMQueued
	IngressReceivingDone
	numIngressStates
)

func (s IngressState) String() string {
	switch s {
	case IngressStart:
		return "Start"
	case IngressHeadersReceived:
		return "HeadersReceived"
	case IngressRegularBodyReceived:
		return "RegularBodyReceived"
	case IngressChunkHeaderReceived:
		return "ChunkHeaderReceived"
	case IngressChunkBodyReceived:
		return "ChunkBodyReceived"
	case IngressChunkCompleted:
		return "ChunkCompleted"
	case IngressTrailersReceived:
		return "TrailersReceived"
	case IngressUpgradeComplete:
		return "UpgradeComplete"
	case IngressEOMQueued:
		return "EOMQueued"
	case IngressReceivingDone:
		return "ReceivingDone"
	default:
		return "InvalidIngressState"
	}
}

// IsTerminal reports whether no further ingress events can be accepted.
func (s IngressState) IsTerminal() bool { return s == IngressReceivingDone }

// IngressEvent is an event fired against the ingress state machine.
type IngressEvent int

const (
	EventOnHeaders IngressEvent = iota
	EventOnBody
	EventOnChunkHeader
	EventOnChunkComplete
	EventOnTrailers
	EventOnUpgrade
	EventOnEOM
	eventIngressEOMFlushed // internal: delivered to the handler, not externally fired
	numIngressEvents
)

type ingressTransition struct {
	next IngressState
	ok   bool
}

var ingressTable = [numIngressStates][numIngressEvents]ingressTransition{
	IngressStart: {
		EventOnHeaders: {IngressHeadersReceived, true},
	},
	IngressHeadersReceived: {
		EventOnBody:        {IngressRegularBodyReceived, true},
		EventOnChunkHeader: {IngressChunkHeaderReceived, true},
		EventOnTrailers:    {IngressTrailersReceived, true},
		EventOnUpgrade:     {IngressUpgradeComplete, true},
		EventOnEOM:         {IngressEOMQueued, true},
	},
	IngressRegularBodyReceived: {
		EventOnBody:     {IngressRegularBodyReceived, true},
		EventOnTrailers: {IngressTrailersReceived, true},
		EventOnEOM:      {IngressEOMQueued, true},
	},
	IngressChunkHeaderReceived: {
		EventOnBody: {IngressChunkBodyReceived, true},
		EventOnEOM:  {IngressEOMQueued, true},
	},
	IngressChunkBodyReceived: {
		EventOnChunkComplete: {IngressChunkCompleted, true},
		EventOnEOM:           {IngressEOMQueued, true},
	},
	IngressChunkCompleted: {
		EventOnChunkHeader: {IngressChunkHeaderReceived, true},
		EventOnTrailers:    {IngressTrailersReceived, true},
		EventOnEOM:         {IngressEOMQueued, true},
	},
	IngressTrailersReceived: {
		EventOnEOM: {IngressEOMQueued, true},
	},
	IngressUpgradeComplete: {
		// Once upgraded the stream no longer speaks HTTP body framing; the
		// codec is expected to drive onEOM exactly once to release the
		// transaction when the upgraded connection itself closes.
		EventOnEOM: {IngressEOMQueued, true},
	},
	IngressEOMQueued: {
		eventIngressEOMFlushed: {IngressReceivingDone, true},
	},
	IngressReceivingDone: {},
}

// IngressSM is the per-Transaction ingress state machine.
type IngressSM struct {
	state IngressState
}

// State returns the current ingress state.
func (m *IngressSM) State() IngressState { return m.state }

// Fire attempts the (state, event) transition. It mutates state only when
// the transition is accepted, so a rejected event never has a side effect.
func (m *IngressSM) Fire(ev IngressEvent) bool {
	var t = ingressTable[m.state][ev]
	if !t.ok {
		return false
	}
	m.state = t.next
	return true
}

// EgressState is a state of the egress half of a Transaction.
type EgressState int

const (
	EgressStart EgressState = iota
	EgressHeadersSent
	EgressChunkHeaderSent
	EgressChunkBodySent
	EgressChunkTerminatorSent
	EgressTrailersSent
	EgressRegularBodySent
	EgressEOMQueued
	EgressSendingDone
	numEgressStates
)

func (s EgressState) String() string {
	switch s {
	case EgressStart:
		return "Start"
	case EgressHeadersSent:
		return "HeadersSent"
	case EgressChunkHeaderSent:
		return "ChunkHeaderSent"
	case EgressChunkBodySent:
		return "ChunkBodySent"
	case EgressChunkTerminatorSent:
		return "ChunkTerminatorSent"
	case EgressTrailersSent:
		return "TrailersSent"
	case EgressRegularBodySent:
		return "RegularBodySent"
	case EgressEOMQueued:
		return "EOMQueued"
	case EgressSendingDone:
		return "SendingDone"
	default:
		return "InvalidEgressState"
	}
}

func (s EgressState) IsTerminal() bool { return s == EgressSendingDone }

// EgressEvent is an event fired against the egress state machine.
type EgressEvent int

const (
	EventSendHeaders EgressEvent = iota
	EventSendBody
	EventSendChunkHeader
	EventSendChunkTerminator
	EventSendTrailers
	EventSendEOM
	eventEgressEOMFlushed // internal: transport has finished writing the EOM
	numEgressEvents
)

type egressTransition struct {
	next EgressState
	ok   bool
}

var egressTable = [numEgressStates][numEgressEvents]egressTransition{
	EgressStart: {
		EventSendHeaders: {EgressHeadersSent, true},
	},
	EgressHeadersSent: {
		EventSendBody:        {EgressRegularBodySent, true},
		EventSendChunkHeader: {EgressChunkHeaderSent, true},
		EventSendTrailers:    {EgressTrailersSent, true},
		EventSendEOM:         {EgressEOMQueued, true},
	},
	EgressRegularBodySent: {
		EventSendBody:     {EgressRegularBodySent, true},
		EventSendTrailers: {EgressTrailersSent, true},
		EventSendEOM:      {EgressEOMQueued, true},
	},
	EgressChunkHeaderSent: {
		EventSendBody: {EgressChunkBodySent, true},
	},
	EgressChunkBodySent: {
		EventSendChunkTerminator: {EgressChunkTerminatorSent, true},
	},
	EgressChunkTerminatorSent: {
		EventSendChunkHeader: {EgressChunkHeaderSent, true},
		EventSendTrailers:    {EgressTrailersSent, true},
		EventSendEOM:         {EgressEOMQueued, true},
	},
	EgressTrailersSent: {
		EventSendEOM: {EgressEOMQueued, true},
	},
	EgressEOMQueued: {
		eventEgressEOMFlushed: {EgressSendingDone, true},
	},
	EgressSendingDone: {},
}

// EgressSM is the per-Transaction egress state machine.
type EgressSM struct {
	state EgressState
}

// State returns the current egress state.
func (m *EgressSM) State() EgressState { return m.state }

// Fire attempts the (state, event) transition, per the same contract as
// IngressSM.Fire.
func (m *EgressSM) Fire(ev EgressEvent) bool {
	var t = egressTable[m.state][ev]
	if !t.ok {
		return false
	}
	m.state = t.next
	return true
}
