package federation

import (
	"fmt"

	"spacecomms/pkg/protocol"
	"spacecomms/pkg/types"
)

// Outcome is the kind of routing decision.
type Outcome int

const (
	Accept Outcome = iota
	Reject
	AcceptAndForward
)

func (o Outcome) String() string {
	switch o {
	case Accept:
		return "accept"
	case Reject:
		return "reject"
	case AcceptAndForward:
		return "accept_and_forward"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Rejection reasons.
const (
	ReasonOwnMessage   = "own message"
	ReasonMaxHops      = "max hop count exceeded"
	ReasonDuplicate    = "duplicate"
	ReasonStaleMessage = "stale message"
)

// Decision is the routing verdict for one inbound message. Reason is set
// for Reject; Targets for AcceptAndForward.
type Decision struct {
	Outcome Outcome
	Reason  string
	Targets []types.NodeID
}

func (d Decision) String() string {
	switch d.Outcome {
	case Reject:
		return fmt.Sprintf("reject(%s)", d.Reason)
	case AcceptAndForward:
		return fmt.Sprintf("accept_and_forward%v", d.Targets)
	}
	return d.Outcome.String()
}

// Router is the pure routing decision function for one node.
type Router struct {
	localID     types.NodeID
	maxHopCount uint32
}

func NewRouter(localID types.NodeID, maxHopCount uint32) *Router {
	return &Router{localID: localID, maxHopCount: maxHopCount}
}

func (r *Router) LocalID() types.NodeID { return r.localID }

// Decide classifies a message. Rules apply in order: own message, hop
// ceiling, exhausted ttl (terminal accept), session types (never gossiped),
// then forward to every known peer except the source.
//
// Decide does not consult deduplication; callers gate on the seen set first.
func (r *Router) Decide(mt protocol.MessageType, source types.NodeID, hopCount, ttl uint32, knownPeers []types.NodeID) Decision {
	if source == r.localID {
		return Decision{Outcome: Reject, Reason: ReasonOwnMessage}
	}
	if hopCount > r.maxHopCount {
		return Decision{Outcome: Reject, Reason: ReasonMaxHops}
	}
	if ttl == 0 {
		return Decision{Outcome: Accept}
	}
	if mt.IsSession() {
		return Decision{Outcome: Accept}
	}

	targets := make([]types.NodeID, 0, len(knownPeers))
	for _, id := range knownPeers {
		if id != source {
			targets = append(targets, id)
		}
	}
	if len(targets) == 0 {
		return Decision{Outcome: Accept}
	}
	return Decision{Outcome: AcceptAndForward, Targets: targets}
}

// ShouldForwardToPeer maps a message type onto the matching policy flag.
// Session and unknown types are never forwarded.
func ShouldForwardToPeer(mt protocol.MessageType, acceptCDM, acceptObjectState, acceptManeuver bool) bool {
	switch {
	case mt.IsCDM():
		return acceptCDM
	case mt.IsObjectState():
		return acceptObjectState
	case mt.IsManeuver():
		return acceptManeuver
	}
	return false
}
