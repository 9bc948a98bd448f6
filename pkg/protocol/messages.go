package protocol

import (
	"encoding/json"
	"time"

	"spacecomms/pkg/cdm"
	"spacecomms/pkg/types"
)

// Capabilities advertised in HELLO.
const (
	CapabilityCDM         = "CDM"
	CapabilityObjectState = "OBJECT_STATE"
	CapabilityManeuver    = "MANEUVER"
)

type HelloPayload struct {
	NodeName          string   `json:"node_name"`
	ProtocolVersion   string   `json:"protocol_version"`
	SupportedVersions []string `json:"supported_versions"`
	Capabilities      []string `json:"capabilities"`
	AuthToken         string   `json:"auth_token,omitempty"`
}

// DefaultHello describes this implementation's handshake.
func DefaultHello(nodeName string) HelloPayload {
	return HelloPayload{
		NodeName:          nodeName,
		ProtocolVersion:   HandshakeVersion,
		SupportedVersions: append([]string(nil), SupportedVersions...),
		Capabilities:      []string{CapabilityCDM, CapabilityObjectState, CapabilityManeuver},
	}
}

type HeartbeatPayload struct {
	Sequence       uint64  `json:"sequence"`
	ObjectsTracked *uint64 `json:"objects_tracked,omitempty"`
	CdmsActive     *uint64 `json:"cdms_active,omitempty"`
}

type ErrorCode string

const (
	ErrInvalidMessage     ErrorCode = "INVALID_MESSAGE"
	ErrUnsupportedVersion ErrorCode = "UNSUPPORTED_VERSION"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrInternal           ErrorCode = "INTERNAL_ERROR"
)

func (c *ErrorCode) UnmarshalJSON(data []byte) error {
	s, err := types.DecodeEnum(data, "error_code",
		string(ErrInvalidMessage), string(ErrUnsupportedVersion), string(ErrUnauthorized),
		string(ErrRateLimited), string(ErrInternal))
	if err != nil {
		return err
	}
	*c = ErrorCode(s)
	return nil
}

type ErrorPayload struct {
	ErrorCode        ErrorCode       `json:"error_code"`
	ErrorMessage     string          `json:"error_message"`
	RelatedMessageID types.MessageID `json:"related_message_id,omitempty"`
}

// RejectionError is returned when an inbound message must be answered with
// an ERROR payload rather than silently dropped.
type RejectionError struct {
	Payload ErrorPayload
	Err     error
}

func (e *RejectionError) Error() string { return e.Err.Error() }
func (e *RejectionError) Unwrap() error { return e.Err }

// CdmAnnouncePayload is the full CDM record.
type CdmAnnouncePayload = cdm.Record

type CdmWithdrawReason string

const (
	CdmSuperseded    CdmWithdrawReason = "SUPERSEDED"
	CdmTcaPassed     CdmWithdrawReason = "TCA_PASSED"
	CdmFalsePositive CdmWithdrawReason = "FALSE_POSITIVE"
	CdmError         CdmWithdrawReason = "ERROR"
)

func (r *CdmWithdrawReason) UnmarshalJSON(data []byte) error {
	s, err := types.DecodeEnum(data, "cdm withdraw reason",
		string(CdmSuperseded), string(CdmTcaPassed), string(CdmFalsePositive), string(CdmError))
	if err != nil {
		return err
	}
	*r = CdmWithdrawReason(s)
	return nil
}

type CdmWithdrawPayload struct {
	CdmID         types.CdmID       `json:"cdm_id"`
	Reason        CdmWithdrawReason `json:"reason"`
	SupersededBy  types.CdmID       `json:"superseded_by,omitempty"`
	EffectiveTime time.Time         `json:"effective_time"`
}

type ObjectStateAnnouncePayload struct {
	ObjectID      types.ObjectID             `json:"object_id"`
	ObjectName    string                     `json:"object_name"`
	ObjectType    cdm.ObjectType             `json:"object_type"`
	OwnerOperator string                     `json:"owner_operator,omitempty"`
	Epoch         time.Time                  `json:"epoch"`
	StateVector   cdm.StateVector            `json:"state_vector"`
	Covariance    *cdm.CovarianceRTN         `json:"covariance,omitempty"`
	Metadata      map[string]json.RawMessage `json:"metadata,omitempty"`
}

// Record converts an announce into the stored object state.
func (p *ObjectStateAnnouncePayload) Record(source types.NodeID, now time.Time) *cdm.ObjectRecord {
	return &cdm.ObjectRecord{
		ObjectID:      p.ObjectID,
		ObjectName:    p.ObjectName,
		ObjectType:    p.ObjectType,
		OwnerOperator: p.OwnerOperator,
		Epoch:         p.Epoch,
		StateVector:   p.StateVector,
		Covariance:    p.Covariance,
		SourceNode:    source,
		LastUpdated:   now,
	}
}

type ObjectWithdrawReason string

const (
	ObjectDecayed          ObjectWithdrawReason = "DECAYED"
	ObjectManeuverComplete ObjectWithdrawReason = "MANEUVER_COMPLETE"
	ObjectSuperseded       ObjectWithdrawReason = "SUPERSEDED"
	ObjectError            ObjectWithdrawReason = "ERROR"
)

func (r *ObjectWithdrawReason) UnmarshalJSON(data []byte) error {
	s, err := types.DecodeEnum(data, "object withdraw reason",
		string(ObjectDecayed), string(ObjectManeuverComplete), string(ObjectSuperseded), string(ObjectError))
	if err != nil {
		return err
	}
	*r = ObjectWithdrawReason(s)
	return nil
}

type ObjectStateWithdrawPayload struct {
	ObjectID      types.ObjectID       `json:"object_id"`
	Reason        ObjectWithdrawReason `json:"reason"`
	EffectiveTime time.Time            `json:"effective_time"`
}

type ManeuverType string

const (
	ManeuverCollisionAvoidance ManeuverType = "COLLISION_AVOIDANCE"
	ManeuverStationKeeping     ManeuverType = "STATION_KEEPING"
	ManeuverDeorbit            ManeuverType = "DEORBIT"
	ManeuverOther              ManeuverType = "OTHER"
)

func (m *ManeuverType) UnmarshalJSON(data []byte) error {
	s, err := types.DecodeEnum(data, "maneuver_type",
		string(ManeuverCollisionAvoidance), string(ManeuverStationKeeping),
		string(ManeuverDeorbit), string(ManeuverOther))
	if err != nil {
		return err
	}
	*m = ManeuverType(s)
	return nil
}

// DeltaV is an impulse in the velocity/normal/binormal frame, m/s.
type DeltaV struct {
	ReferenceFrame string  `json:"reference_frame"`
	DvVMS          float64 `json:"dv_v_m_s"`
	DvNMS          float64 `json:"dv_n_m_s"`
	DvBMS          float64 `json:"dv_b_m_s"`
}

type ManeuverIntentPayload struct {
	ManeuverID                 string           `json:"maneuver_id"`
	ObjectID                   types.ObjectID   `json:"object_id"`
	RelatedCdmID               types.CdmID      `json:"related_cdm_id,omitempty"`
	PlannedStart               time.Time        `json:"planned_start"`
	PlannedDurationS           float64          `json:"planned_duration_s"`
	ManeuverType               ManeuverType     `json:"maneuver_type"`
	DeltaV                     *DeltaV          `json:"delta_v,omitempty"`
	PredictedPostManeuverState *cdm.StateVector `json:"predicted_post_maneuver_state,omitempty"`
}

// Validate checks the fields a maneuver intent must carry.
func (p *ManeuverIntentPayload) Validate() error {
	if p.ManeuverID == "" {
		return types.Validation("maneuver_id is required")
	}
	if p.ObjectID == "" {
		return types.Validation("object_id is required")
	}
	if p.PlannedDurationS < 0 {
		return types.Validation("planned_duration_s must be non-negative")
	}
	return nil
}

type ManeuverStatusType string

const (
	ManeuverPlanned    ManeuverStatusType = "PLANNED"
	ManeuverInProgress ManeuverStatusType = "IN_PROGRESS"
	ManeuverCompleted  ManeuverStatusType = "COMPLETED"
	ManeuverCancelled  ManeuverStatusType = "CANCELLED"
	ManeuverFailed     ManeuverStatusType = "FAILED"
)

func (s *ManeuverStatusType) UnmarshalJSON(data []byte) error {
	v, err := types.DecodeEnum(data, "maneuver status",
		string(ManeuverPlanned), string(ManeuverInProgress), string(ManeuverCompleted),
		string(ManeuverCancelled), string(ManeuverFailed))
	if err != nil {
		return err
	}
	*s = ManeuverStatusType(v)
	return nil
}

type ManeuverStatusPayload struct {
	ManeuverID        string             `json:"maneuver_id"`
	ObjectID          types.ObjectID     `json:"object_id"`
	Status            ManeuverStatusType `json:"status"`
	ActualStart       *time.Time         `json:"actual_start,omitempty"`
	ActualDurationS   *float64           `json:"actual_duration_s,omitempty"`
	AchievedDeltaV    *DeltaV            `json:"achieved_delta_v,omitempty"`
	PostManeuverState *cdm.StateVector   `json:"post_maneuver_state,omitempty"`
}

func (p *ManeuverStatusPayload) Validate() error {
	if p.ManeuverID == "" {
		return types.Validation("maneuver_id is required")
	}
	if p.ObjectID == "" {
		return types.Validation("object_id is required")
	}
	return nil
}
