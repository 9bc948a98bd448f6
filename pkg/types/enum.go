package types

import (
	"encoding/json"
	"strings"
)

// DecodeEnum unmarshals a JSON string and checks it against the allowed
// wire values. Unknown values are Parse errors.
func DecodeEnum(data []byte, name string, allowed ...string) (string, error) {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return "", Wrap(KindParse, err, "%s must be a string", name)
	}
	for _, a := range allowed {
		if s == a {
			return s, nil
		}
	}
	return "", Errorf(KindParse, "unknown %s %q (expected one of %s)", name, s, strings.Join(allowed, ", "))
}
