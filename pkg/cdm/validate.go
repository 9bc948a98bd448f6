package cdm

import (
	"math"

	"spacecomms/pkg/types"
)

// Validate checks a record before it is accepted, stopping at the first
// violation. All failures are Validation-kind errors.
func Validate(r *Record) error {
	if r == nil {
		return types.Validation("cdm is empty")
	}
	if r.CdmID == "" {
		return types.Validation("cdm_id is required")
	}
	if r.Originator == "" {
		return types.Validation("originator is required")
	}
	if r.MessageFor == "" {
		return types.Validation("message_for is required")
	}
	if err := validateObject(&r.Object1, "object1"); err != nil {
		return err
	}
	if err := validateObject(&r.Object2, "object2"); err != nil {
		return err
	}
	if math.IsNaN(r.MissDistanceM) || r.MissDistanceM < 0 {
		return types.Validation("miss_distance_m must be non-negative, got %v", r.MissDistanceM)
	}
	if !inUnitInterval(r.CollisionProbability) {
		return types.Validation("collision_probability must be between 0.0 and 1.0, got %v", r.CollisionProbability)
	}
	if r.TCA.Before(r.CreationDate) {
		return types.Validation("tca %s is before creation_date %s",
			r.TCA.Format(timeLayout), r.CreationDate.Format(timeLayout))
	}
	if r.DataQualityScore != nil && !inUnitInterval(*r.DataQualityScore) {
		return types.Validation("data_quality_score must be between 0.0 and 1.0, got %v", *r.DataQualityScore)
	}
	return nil
}

func validateObject(o *Object, field string) error {
	if o.ObjectID == "" {
		return types.Validation("%s.object_id is required", field)
	}
	if o.ObjectName == "" {
		return types.Validation("%s.object_name is required", field)
	}
	return nil
}

// ValidateObjectRecord checks a tracked-object state before it is stored.
func ValidateObjectRecord(o *ObjectRecord) error {
	if o == nil {
		return types.Validation("object state is empty")
	}
	if o.ObjectID == "" {
		return types.Validation("object_id is required")
	}
	if o.ObjectName == "" {
		return types.Validation("object_name is required")
	}
	return nil
}

func inUnitInterval(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

const timeLayout = "2006-01-02T15:04:05Z07:00"
