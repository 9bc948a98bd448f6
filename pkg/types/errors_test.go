package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   Kind
		client bool
	}{
		{"parse", Errorf(KindParse, "bad json"), KindParse, true},
		{"validation", Validation("cdm_id is required"), KindValidation, true},
		{"protocol", Errorf(KindProtocol, "unknown message type"), KindProtocol, true},
		{"not found", NotFound("CDM not found: %s", "X"), KindNotFound, false},
		{"plain", errors.New("boom"), KindInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, KindOf(tt.err))
			assert.Equal(t, tt.client, IsClientError(tt.err))
		})
	}
}

func TestNotFoundMatchesSentinelThroughWrapping(t *testing.T) {
	err := fmt.Errorf("withdraw failed: %w", NotFound("CDM not found: %s", "CDM-1"))

	assert.True(t, IsNotFound(err))
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, IsNotFound(Validation("nope")))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(KindStorage, cause, "store cdm %s", "CDM-1")

	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "store cdm CDM-1: disk full", err.Error())
	assert.True(t, IsKind(err, KindStorage))
}
