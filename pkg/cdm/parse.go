package cdm

import (
	"encoding/json"

	"spacecomms/pkg/types"
)

var (
	recordFields = []string{
		"cdm_id", "creation_date", "originator", "message_for", "tca",
		"miss_distance_m", "collision_probability", "object1", "object2",
	}
	objectFields      = []string{"object_id", "object_name", "object_type", "state_vector"}
	stateVectorFields = []string{"reference_frame", "x_km", "y_km", "z_km", "vx_km_s", "vy_km_s", "vz_km_s"}
	relativeFields    = []string{
		"relative_position_r_m", "relative_position_t_m", "relative_position_n_m",
		"relative_velocity_r_m_s", "relative_velocity_t_m_s", "relative_velocity_n_m_s",
	}
	screeningFields = []string{"screen_type"}
)

// Parse decodes and validates a CDM. Input that is not a structurally valid
// record (bad JSON, missing required fields, wrong field types, unknown enum
// values) yields a Parse error; a well-formed record that breaks a domain
// rule yields a Validation error.
func Parse(data []byte) (*Record, error) {
	if err := checkStructure(data); err != nil {
		return nil, err
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, types.Wrap(types.KindParse, err, "parse cdm")
	}
	if err := Validate(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

// checkStructure rejects records whose required fields are absent or null.
func checkStructure(data []byte) error {
	top, err := requireFields(data, "cdm", recordFields)
	if err != nil {
		return err
	}
	for _, name := range []string{"object1", "object2"} {
		obj, err := requireFields(top[name], name, objectFields)
		if err != nil {
			return err
		}
		if _, err := requireFields(obj["state_vector"], name+".state_vector", stateVectorFields); err != nil {
			return err
		}
	}
	if raw, ok := present(top, "relative_state"); ok {
		if _, err := requireFields(raw, "relative_state", relativeFields); err != nil {
			return err
		}
	}
	if raw, ok := present(top, "screening_data"); ok {
		if _, err := requireFields(raw, "screening_data", screeningFields); err != nil {
			return err
		}
	}
	return nil
}

func requireFields(raw json.RawMessage, path string, fields []string) (map[string]json.RawMessage, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, types.Wrap(types.KindParse, err, "parse %s", path)
	}
	if m == nil {
		return nil, types.Errorf(types.KindParse, "parse %s: expected an object", path)
	}
	for _, f := range fields {
		if _, ok := present(m, f); !ok {
			return nil, types.Errorf(types.KindParse, "parse %s: missing field %s", path, f)
		}
	}
	return m, nil
}

func present(m map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	raw, ok := m[key]
	if !ok || string(raw) == "null" {
		return nil, false
	}
	return raw, true
}

// Marshal renders r in its wire form.
func Marshal(r *Record) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, types.Wrap(types.KindInternal, err, "encode cdm %s", r.CdmID)
	}
	return data, nil
}
