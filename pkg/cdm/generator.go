package cdm

import (
	"math"
	"time"

	"spacecomms/pkg/types"
)

const (
	earthRadiusKm = 6378.137
	earthMuKm3S2  = 398600.4418
	demoAltKm     = 550.0
)

// Category buckets a collision probability.
func Category(pc float64) ConjunctionCategory {
	switch {
	case pc > 1e-3:
		return CategoryHigh
	case pc > 1e-5:
		return CategoryMedium
	default:
		return CategoryLow
	}
}

// Action is the recommended operator response for a collision probability.
func Action(pc float64) RecommendedAction {
	if pc > 1e-4 {
		return ActionPrepare
	}
	return ActionMonitor
}

// GenerateSynthetic builds a valid record for a LEO conjunction between a
// maneuverable payload and a piece of debris. No propagation is performed;
// both objects sit on the same circular orbit at epoch.
func GenerateSynthetic(obj1ID, obj1Name, obj2ID, obj2Name string, tca time.Time, missDistanceM, pc float64) *Record {
	now := time.Now().UTC()
	category := Category(pc)
	action := Action(pc)
	quality := 0.95
	hbr := 15.0

	return &Record{
		CdmID:                types.CdmID(types.NewDatedID("CDM", now)),
		CreationDate:         now,
		Originator:           "SYNTHETIC-GENERATOR",
		MessageFor:           "DEMO-OPERATOR",
		TCA:                  tca.UTC(),
		MissDistanceM:        missDistanceM,
		CollisionProbability: pc,
		Object1:              syntheticObject(obj1ID, obj1Name, ObjectPayload, true, now),
		Object2:              syntheticObject(obj2ID, obj2Name, ObjectDebris, false, now),
		RelativeState: &RelativeState{
			RelativePositionRM:  missDistanceM * 0.3,
			RelativePositionTM:  missDistanceM * 0.6,
			RelativePositionNM:  missDistanceM * 0.1,
			RelativeVelocityRMS: 0.5,
			RelativeVelocityTMS: 15000.0,
			RelativeVelocityNMS: 0.1,
		},
		ScreeningData: &ScreeningData{
			ScreenType:        ScreenRoutine,
			ScreenVolumeShape: "ELLIPSOID",
			HardBodyRadiusM:   &hbr,
		},
		DataQualityScore:    &quality,
		ConjunctionCategory: &category,
		RecommendedAction:   &action,
	}
}

// GenerateDemo returns a medium-risk CDM with TCA two days out.
func GenerateDemo() *Record {
	return GenerateSynthetic(
		"NORAD-12345", "STARLINK-1234",
		"NORAD-99999", "FENGYUN-1C-DEB",
		time.Now().UTC().Add(48*time.Hour),
		150.5, 1.2e-4,
	)
}

func syntheticObject(id, name string, kind ObjectType, maneuverable bool, epoch time.Time) Object {
	radius := earthRadiusKm + demoAltKm
	obj := Object{
		ObjectID:     types.ObjectID(id),
		ObjectName:   name,
		ObjectType:   kind,
		Maneuverable: maneuverable,
		StateVector: StateVector{
			ReferenceFrame: "TEME",
			Epoch:          &epoch,
			XKm:            radius,
			VyKmS:          math.Sqrt(earthMuKm3S2 / radius),
		},
		Covariance: &CovarianceRTN{
			ReferenceFrame: "RTN",
			CrR:            1.0e-4,
			CtT:            1.0e-4,
			CnN:            1.0e-4,
		},
	}
	if maneuverable {
		obj.OwnerOperator = "Demo Operator"
	}
	return obj
}
