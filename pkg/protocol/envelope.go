package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"spacecomms/pkg/types"

	"github.com/google/uuid"
)

const (
	// EnvelopeVersion is stamped on every envelope this node creates.
	EnvelopeVersion = "1.0.0"

	// DefaultTTL is the per-message hop budget of a fresh envelope.
	DefaultTTL uint32 = 10
)

// MessageType tags the payload schema carried by an envelope.
type MessageType string

const (
	Hello               MessageType = "HELLO"
	Heartbeat           MessageType = "HEARTBEAT"
	Error               MessageType = "ERROR"
	CdmAnnounce         MessageType = "CDM_ANNOUNCE"
	CdmWithdraw         MessageType = "CDM_WITHDRAW"
	ObjectStateAnnounce MessageType = "OBJECT_STATE_ANNOUNCE"
	ObjectStateWithdraw MessageType = "OBJECT_STATE_WITHDRAW"
	ManeuverIntent      MessageType = "MANEUVER_INTENT"
	ManeuverStatus      MessageType = "MANEUVER_STATUS"
)

// MessageTypes lists every type in wire order.
var MessageTypes = []MessageType{
	Hello, Heartbeat, Error,
	CdmAnnounce, CdmWithdraw,
	ObjectStateAnnounce, ObjectStateWithdraw,
	ManeuverIntent, ManeuverStatus,
}

func (t MessageType) String() string { return string(t) }

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	for _, known := range MessageTypes {
		if t == known {
			return true
		}
	}
	return false
}

// IsSession reports whether t is a point-to-point session message that is
// never gossiped.
func (t MessageType) IsSession() bool {
	return t == Hello || t == Heartbeat || t == Error
}

func (t MessageType) IsCDM() bool { return t == CdmAnnounce || t == CdmWithdraw }

func (t MessageType) IsObjectState() bool {
	return t == ObjectStateAnnounce || t == ObjectStateWithdraw
}

func (t MessageType) IsManeuver() bool { return t == ManeuverIntent || t == ManeuverStatus }

// Envelope is the routing wrapper around every protocol message.
//
// MessageID, Timestamp, SourceNodeID, MessageType and Payload are fixed at
// origination; HopCount only grows and TTL only shrinks as copies are forwarded.
type Envelope struct {
	ProtocolVersion string          `json:"protocol_version"`
	MessageID       types.MessageID `json:"message_id"`
	Timestamp       time.Time       `json:"timestamp"`
	SourceNodeID    types.NodeID    `json:"source_node_id"`
	MessageType     MessageType     `json:"message_type"`
	HopCount        uint32          `json:"hop_count"`
	TTL             uint32          `json:"ttl"`
	Payload         json.RawMessage `json:"payload"`
}

// NewEnvelope wraps payload in a fresh envelope originated by source.
// payload may be a json.RawMessage, in which case it is carried verbatim.
func NewEnvelope(source types.NodeID, messageType MessageType, payload interface{}) (*Envelope, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		ProtocolVersion: EnvelopeVersion,
		MessageID:       types.MessageID(uuid.NewString()),
		Timestamp:       time.Now().UTC(),
		SourceNodeID:    source,
		MessageType:     messageType,
		HopCount:        0,
		TTL:             DefaultTTL,
		Payload:         raw,
	}, nil
}

func encodePayload(payload interface{}) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		return append(json.RawMessage(nil), p...), nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, types.Wrap(types.KindInternal, err, "encode payload")
	}
	return raw, nil
}

// CanForward reports whether a forwarded copy may still be produced.
func (e *Envelope) CanForward() bool {
	return e.TTL > 0
}

// Forwarded returns the copy sent to the next hop: hop count up by one, ttl
// down by one, everything else preserved. ok is false once ttl is exhausted.
func (e *Envelope) Forwarded() (fwd *Envelope, ok bool) {
	if !e.CanForward() {
		return nil, false
	}

	cp := *e
	cp.HopCount = e.HopCount + 1
	cp.TTL = e.TTL - 1
	cp.Payload = append(json.RawMessage(nil), e.Payload...)
	return &cp, true
}

// Validate checks the fields every envelope must carry.
func (e *Envelope) Validate() error {
	if e.MessageID == "" {
		return types.Errorf(types.KindProtocol, "envelope message_id is required")
	}
	if e.SourceNodeID == "" {
		return types.Errorf(types.KindProtocol, "envelope source_node_id is required")
	}
	if !e.MessageType.Valid() {
		return types.Errorf(types.KindProtocol, "unknown message type %q", e.MessageType)
	}
	if e.Timestamp.IsZero() {
		return types.Errorf(types.KindProtocol, "envelope timestamp is required")
	}
	return nil
}

// DecodePayload unmarshals the payload into v. Malformed payloads are
// reported as Parse errors.
func (e *Envelope) DecodePayload(v interface{}) error {
	if len(e.Payload) == 0 {
		return types.Errorf(types.KindParse, "%s: empty payload", e.MessageType)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return types.Wrap(types.KindParse, err, "decode %s payload", e.MessageType)
	}
	return nil
}

// Encode renders the envelope in its JSON wire form.
func (e *Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, types.Wrap(types.KindInternal, err, "encode envelope %s", e.MessageID)
	}
	return data, nil
}

// DecodeEnvelope parses a JSON envelope. Malformed JSON is a Parse error;
// structurally valid JSON missing required routing fields is a Protocol error.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&env); err != nil {
		return nil, types.Wrap(types.KindParse, err, "decode envelope")
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

func (e *Envelope) String() string {
	return fmt.Sprintf("%s[%s from %s hop=%d ttl=%d]", e.MessageType, e.MessageID, e.SourceNodeID, e.HopCount, e.TTL)
}
