// Package cdm holds the conjunction data message model, its validator and
// parser, and a synthetic generator used for demos and tests.
package cdm

import (
	"encoding/json"
	"time"

	"spacecomms/pkg/types"
)

// ObjectType classifies a tracked space object.
type ObjectType string

const (
	ObjectPayload    ObjectType = "PAYLOAD"
	ObjectDebris     ObjectType = "DEBRIS"
	ObjectRocketBody ObjectType = "ROCKET_BODY"
	ObjectUnknown    ObjectType = "UNKNOWN"
)

func (t *ObjectType) UnmarshalJSON(data []byte) error {
	s, err := types.DecodeEnum(data, "object_type",
		string(ObjectPayload), string(ObjectDebris), string(ObjectRocketBody), string(ObjectUnknown))
	if err != nil {
		return err
	}
	*t = ObjectType(s)
	return nil
}

// ConjunctionCategory is the operator-facing risk bucket of a conjunction.
type ConjunctionCategory string

const (
	CategoryHigh   ConjunctionCategory = "HIGH"
	CategoryMedium ConjunctionCategory = "MEDIUM"
	CategoryLow    ConjunctionCategory = "LOW"
)

func (c *ConjunctionCategory) UnmarshalJSON(data []byte) error {
	s, err := types.DecodeEnum(data, "conjunction_category",
		string(CategoryHigh), string(CategoryMedium), string(CategoryLow))
	if err != nil {
		return err
	}
	*c = ConjunctionCategory(s)
	return nil
}

type RecommendedAction string

const (
	ActionMonitor  RecommendedAction = "MONITOR"
	ActionPrepare  RecommendedAction = "PREPARE"
	ActionManeuver RecommendedAction = "MANEUVER"
)

func (a *RecommendedAction) UnmarshalJSON(data []byte) error {
	s, err := types.DecodeEnum(data, "recommended_action",
		string(ActionMonitor), string(ActionPrepare), string(ActionManeuver))
	if err != nil {
		return err
	}
	*a = RecommendedAction(s)
	return nil
}

type ScreenType string

const (
	ScreenRoutine   ScreenType = "ROUTINE"
	ScreenSpecial   ScreenType = "SPECIAL"
	ScreenEmergency ScreenType = "EMERGENCY"
)

func (s *ScreenType) UnmarshalJSON(data []byte) error {
	v, err := types.DecodeEnum(data, "screen_type",
		string(ScreenRoutine), string(ScreenSpecial), string(ScreenEmergency))
	if err != nil {
		return err
	}
	*s = ScreenType(v)
	return nil
}

// StateVector is a position/velocity pair in a named reference frame.
type StateVector struct {
	ReferenceFrame string     `json:"reference_frame"`
	Epoch          *time.Time `json:"epoch,omitempty"`
	XKm            float64    `json:"x_km"`
	YKm            float64    `json:"y_km"`
	ZKm            float64    `json:"z_km"`
	VxKmS          float64    `json:"vx_km_s"`
	VyKmS          float64    `json:"vy_km_s"`
	VzKmS          float64    `json:"vz_km_s"`
}

// CovarianceRTN is the lower triangle of a position covariance in the
// radial/transverse/normal frame, in m².
type CovarianceRTN struct {
	ReferenceFrame string  `json:"reference_frame"`
	CrR            float64 `json:"cr_r"`
	CtR            float64 `json:"ct_r"`
	CtT            float64 `json:"ct_t"`
	CnR            float64 `json:"cn_r"`
	CnT            float64 `json:"cn_t"`
	CnN            float64 `json:"cn_n"`
}

type RelativeState struct {
	RelativePositionRM  float64 `json:"relative_position_r_m"`
	RelativePositionTM  float64 `json:"relative_position_t_m"`
	RelativePositionNM  float64 `json:"relative_position_n_m"`
	RelativeVelocityRMS float64 `json:"relative_velocity_r_m_s"`
	RelativeVelocityTMS float64 `json:"relative_velocity_t_m_s"`
	RelativeVelocityNMS float64 `json:"relative_velocity_n_m_s"`
}

type ScreeningData struct {
	ScreenType        ScreenType `json:"screen_type"`
	ScreenVolumeShape string     `json:"screen_volume_shape,omitempty"`
	HardBodyRadiusM   *float64   `json:"hard_body_radius_m,omitempty"`
}

// Object is one of the two bodies in a conjunction.
type Object struct {
	ObjectID      types.ObjectID `json:"object_id"`
	ObjectName    string         `json:"object_name"`
	ObjectType    ObjectType     `json:"object_type"`
	OwnerOperator string         `json:"owner_operator,omitempty"`
	Maneuverable  bool           `json:"maneuverable"`
	StateVector   StateVector    `json:"state_vector"`
	Covariance    *CovarianceRTN `json:"covariance,omitempty"`
}

// UnmarshalJSON also accepts the covariance under "covariance_rtm", the name
// some CDM producers emit.
func (o *Object) UnmarshalJSON(data []byte) error {
	type plain Object
	aux := struct {
		*plain
		CovarianceRTM *CovarianceRTN `json:"covariance_rtm"`
	}{plain: (*plain)(o)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if o.Covariance == nil {
		o.Covariance = aux.CovarianceRTM
	}
	return nil
}

// Record is a conjunction data message. Records are immutable once stored;
// a correction is a withdraw followed by a new announce.
type Record struct {
	CdmID                types.CdmID          `json:"cdm_id"`
	CreationDate         time.Time            `json:"creation_date"`
	Originator           string               `json:"originator"`
	MessageFor           string               `json:"message_for"`
	TCA                  time.Time            `json:"tca"`
	MissDistanceM        float64              `json:"miss_distance_m"`
	CollisionProbability float64              `json:"collision_probability"`
	Object1              Object               `json:"object1"`
	Object2              Object               `json:"object2"`
	RelativeState        *RelativeState       `json:"relative_state,omitempty"`
	ScreeningData        *ScreeningData       `json:"screening_data,omitempty"`
	DataQualityScore     *float64             `json:"data_quality_score,omitempty"`
	ConjunctionCategory  *ConjunctionCategory `json:"conjunction_category,omitempty"`
	RecommendedAction    *RecommendedAction   `json:"recommended_action,omitempty"`
}

// ObjectRecord is the latest known state of a tracked object.
type ObjectRecord struct {
	ObjectID      types.ObjectID `json:"object_id"`
	ObjectName    string         `json:"object_name"`
	ObjectType    ObjectType     `json:"object_type"`
	OwnerOperator string         `json:"owner_operator,omitempty"`
	Epoch         time.Time      `json:"epoch"`
	StateVector   StateVector    `json:"state_vector"`
	Covariance    *CovarianceRTN `json:"covariance,omitempty"`
	SourceNode    types.NodeID   `json:"source_node"`
	LastUpdated   time.Time      `json:"last_updated"`
}
