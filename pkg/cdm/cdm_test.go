package cdm

import (
	"encoding/json"
	"testing"
	"time"

	"spacecomms/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord() *Record {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return &Record{
		CdmID:                "CDM-TEST-001",
		CreationDate:         now,
		Originator:           "TEST-PROVIDER",
		MessageFor:           "TEST-OPERATOR",
		TCA:                  now.Add(48 * time.Hour),
		MissDistanceM:        150,
		CollisionProbability: 1.2e-4,
		Object1: Object{
			ObjectID:     "NORAD-12345",
			ObjectName:   "SAT-1",
			ObjectType:   ObjectPayload,
			Maneuverable: true,
			StateVector:  StateVector{ReferenceFrame: "TEME", XKm: 6878.137, VyKmS: 7.612},
		},
		Object2: Object{
			ObjectID:    "NORAD-99999",
			ObjectName:  "DEBRIS-1",
			ObjectType:  ObjectDebris,
			StateVector: StateVector{ReferenceFrame: "TEME", XKm: 6878.2, YKm: 0.05, VyKmS: 7.61},
		},
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(testRecord()); err != nil {
		t.Fatalf("valid record rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(r *Record)
		want   string
	}{
		{"missing cdm_id", func(r *Record) { r.CdmID = "" }, "cdm_id is required"},
		{"missing originator", func(r *Record) { r.Originator = "" }, "originator is required"},
		{"missing message_for", func(r *Record) { r.MessageFor = "" }, "message_for is required"},
		{"missing object1 id", func(r *Record) { r.Object1.ObjectID = "" }, "object1.object_id is required"},
		{"missing object2 name", func(r *Record) { r.Object2.ObjectName = "" }, "object2.object_name is required"},
		{"negative miss distance", func(r *Record) { r.MissDistanceM = -0.1 }, "miss_distance_m"},
		{"probability above one", func(r *Record) { r.CollisionProbability = 1.5 }, "collision_probability"},
		{"probability below zero", func(r *Record) { r.CollisionProbability = -1e-9 }, "collision_probability"},
		{"tca before creation", func(r *Record) { r.TCA = r.CreationDate.Add(-time.Hour) }, "tca"},
		{"quality score out of range", func(r *Record) {
			q := 1.2
			r.DataQualityScore = &q
		}, "data_quality_score"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testRecord()
			tt.mutate(r)
			err := Validate(r)
			require.Error(t, err)
			assert.True(t, types.IsValidation(err), "kind = %s", types.KindOf(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_FailsFastOnFirstViolation(t *testing.T) {
	r := testRecord()
	r.CdmID = ""
	r.CollisionProbability = 7
	err := Validate(r)
	require.Error(t, err)
	assert.Equal(t, "cdm_id is required", err.Error())
}

func TestValidate_Boundaries(t *testing.T) {
	r := testRecord()
	r.TCA = r.CreationDate
	r.MissDistanceM = 0
	r.CollisionProbability = 0
	assert.NoError(t, Validate(r))

	r.CollisionProbability = 1
	assert.NoError(t, Validate(r))
}

func TestParse_DistinguishesParseFromValidation(t *testing.T) {
	_, err := Parse([]byte(`{"cdm_id": 42`))
	require.Error(t, err)
	assert.True(t, types.IsParse(err))

	_, err = Parse([]byte(`{"cdm_id": 42}`))
	require.Error(t, err)
	assert.True(t, types.IsParse(err), "wrong field type should be a parse error")

	for _, input := range []string{`null`, `[]`, `"cdm"`, `42`} {
		_, err = Parse([]byte(input))
		require.Error(t, err, input)
		assert.True(t, types.IsParse(err), "input %s: kind = %s", input, types.KindOf(err))
	}

	r := testRecord()
	r.CollisionProbability = 2
	data, err := json.Marshal(r)
	require.NoError(t, err)
	_, err = Parse(data)
	require.Error(t, err)
	assert.True(t, types.IsValidation(err))
}

func TestParse_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(raw map[string]interface{})
		want   string
	}{
		{"tca", func(raw map[string]interface{}) { delete(raw, "tca") }, "missing field tca"},
		{"creation_date", func(raw map[string]interface{}) { delete(raw, "creation_date") }, "creation_date"},
		{"miss_distance_m", func(raw map[string]interface{}) { delete(raw, "miss_distance_m") }, "miss_distance_m"},
		{"collision_probability null", func(raw map[string]interface{}) { raw["collision_probability"] = nil }, "collision_probability"},
		{"object2", func(raw map[string]interface{}) { delete(raw, "object2") }, "object2"},
		{"object_type", func(raw map[string]interface{}) {
			delete(raw["object1"].(map[string]interface{}), "object_type")
		}, "object1: missing field object_type"},
		{"state_vector", func(raw map[string]interface{}) {
			delete(raw["object2"].(map[string]interface{}), "state_vector")
		}, "object2: missing field state_vector"},
		{"state vector component", func(raw map[string]interface{}) {
			sv := raw["object1"].(map[string]interface{})["state_vector"].(map[string]interface{})
			delete(sv, "vz_km_s")
		}, "object1.state_vector: missing field vz_km_s"},
		{"screening type", func(raw map[string]interface{}) {
			raw["screening_data"] = map[string]interface{}{"screen_volume_shape": "ELLIPSOID"}
		}, "screening_data: missing field screen_type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(testRecord())
			require.NoError(t, err)
			var raw map[string]interface{}
			require.NoError(t, json.Unmarshal(data, &raw))
			tt.mutate(raw)
			data, err = json.Marshal(raw)
			require.NoError(t, err)

			_, err = Parse(data)
			require.Error(t, err)
			assert.True(t, types.IsParse(err), "kind = %s", types.KindOf(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_OptionalFieldsMayBeOmitted(t *testing.T) {
	data := []byte(`{
		"cdm_id": "CDM-MIN-1",
		"creation_date": "2024-03-01T12:00:00Z",
		"originator": "PROVIDER",
		"message_for": "OPERATOR",
		"tca": "2024-03-03T12:00:00Z",
		"miss_distance_m": 0,
		"collision_probability": 0,
		"object1": {"object_id": "A", "object_name": "SAT-A", "object_type": "PAYLOAD",
			"state_vector": {"reference_frame": "TEME", "x_km": 1, "y_km": 0, "z_km": 0, "vx_km_s": 0, "vy_km_s": 7, "vz_km_s": 0}},
		"object2": {"object_id": "B", "object_name": "DEB-B", "object_type": "DEBRIS",
			"state_vector": {"reference_frame": "TEME", "x_km": 1, "y_km": 0, "z_km": 0, "vx_km_s": 0, "vy_km_s": 7, "vz_km_s": 0}}
	}`)
	r, err := Parse(data)
	require.NoError(t, err)
	assert.False(t, r.Object1.Maneuverable)
	assert.Nil(t, r.Object1.Covariance)
	assert.Nil(t, r.RelativeState)
}

func TestParse_CovarianceWireNames(t *testing.T) {
	cov := `{"reference_frame": "RTN", "cr_r": 100, "ct_r": 1, "ct_t": 400, "cn_r": 2, "cn_t": 3, "cn_n": 90}`
	for _, key := range []string{"covariance", "covariance_rtm"} {
		t.Run(key, func(t *testing.T) {
			data, err := json.Marshal(testRecord())
			require.NoError(t, err)
			var raw map[string]interface{}
			require.NoError(t, json.Unmarshal(data, &raw))
			var c interface{}
			require.NoError(t, json.Unmarshal([]byte(cov), &c))
			raw["object1"].(map[string]interface{})[key] = c
			data, err = json.Marshal(raw)
			require.NoError(t, err)

			r, err := Parse(data)
			require.NoError(t, err)
			require.NotNil(t, r.Object1.Covariance)
			assert.Equal(t, 400.0, r.Object1.Covariance.CtT)
			assert.Nil(t, r.Object2.Covariance)
		})
	}
}

func TestParse_UnknownEnum(t *testing.T) {
	r := testRecord()
	data, err := json.Marshal(r)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	raw["object1"].(map[string]interface{})["object_type"] = "SPACESHIP"
	data, err = json.Marshal(raw)
	require.NoError(t, err)

	_, err = Parse(data)
	require.Error(t, err)
	assert.True(t, types.IsParse(err))
	assert.Contains(t, err.Error(), "SPACESHIP")
}

func TestParse_RoundTrip(t *testing.T) {
	records := []*Record{testRecord(), GenerateDemo()}
	for _, want := range records {
		data, err := Marshal(want)
		require.NoError(t, err)

		got, err := Parse(data)
		require.NoError(t, err)
		assert.NoError(t, Validate(got))
		assert.Equal(t, want.CdmID, got.CdmID)
		assert.True(t, want.TCA.Equal(got.TCA))
		assert.Equal(t, want.Object1.ObjectType, got.Object1.ObjectType)
	}
}

func TestParse_WireNames(t *testing.T) {
	cat := CategoryHigh
	r := testRecord()
	r.ConjunctionCategory = &cat

	data, err := Marshal(r)
	require.NoError(t, err)
	s := string(data)
	assert.Contains(t, s, `"object_type":"PAYLOAD"`)
	assert.Contains(t, s, `"conjunction_category":"HIGH"`)
	assert.NotContains(t, s, "relative_state")
}

func TestGenerateSynthetic(t *testing.T) {
	tca := time.Now().Add(24 * time.Hour)
	r := GenerateSynthetic("SAT-001", "Test Satellite", "DEB-001", "Test Debris", tca, 100, 5e-5)

	require.NoError(t, Validate(r))
	assert.Regexp(t, `^CDM-\d{8}-[0-9A-F]{8}$`, string(r.CdmID))
	assert.Equal(t, types.ObjectID("SAT-001"), r.Object1.ObjectID)
	assert.True(t, r.Object1.Maneuverable)
	assert.False(t, r.Object2.Maneuverable)
	assert.Equal(t, CategoryMedium, *r.ConjunctionCategory)
	assert.Equal(t, ActionMonitor, *r.RecommendedAction)
}

func TestCategoryAndAction(t *testing.T) {
	assert.Equal(t, CategoryHigh, Category(2e-3))
	assert.Equal(t, CategoryMedium, Category(1e-4))
	assert.Equal(t, CategoryLow, Category(1e-5))
	assert.Equal(t, ActionPrepare, Action(2e-4))
	assert.Equal(t, ActionMonitor, Action(1e-4))
}

func TestValidateObjectRecord(t *testing.T) {
	assert.NoError(t, ValidateObjectRecord(&ObjectRecord{ObjectID: "NORAD-1", ObjectName: "SAT"}))
	assert.True(t, types.IsValidation(ValidateObjectRecord(&ObjectRecord{ObjectName: "SAT"})))
	assert.True(t, types.IsValidation(ValidateObjectRecord(&ObjectRecord{ObjectID: "NORAD-1"})))
}
