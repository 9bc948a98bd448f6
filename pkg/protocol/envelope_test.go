package protocol

import (
	"encoding/json"
	"testing"

	"spacecomms/pkg/cdm"
	"spacecomms/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope(t *testing.T) {
	env, err := NewEnvelope("node-a", Heartbeat, HeartbeatPayload{Sequence: 7})
	require.NoError(t, err)

	assert.Equal(t, EnvelopeVersion, env.ProtocolVersion)
	assert.NotEmpty(t, env.MessageID)
	assert.Equal(t, types.NodeID("node-a"), env.SourceNodeID)
	assert.Equal(t, uint32(0), env.HopCount)
	assert.Equal(t, DefaultTTL, env.TTL)
	assert.False(t, env.Timestamp.IsZero())

	var hb HeartbeatPayload
	require.NoError(t, env.DecodePayload(&hb))
	assert.Equal(t, uint64(7), hb.Sequence)

	other, err := NewEnvelope("node-a", Heartbeat, nil)
	require.NoError(t, err)
	assert.NotEqual(t, env.MessageID, other.MessageID)
}

func TestEnvelope_Forwarded(t *testing.T) {
	env, err := NewEnvelope("node-a", CdmAnnounce, cdm.GenerateDemo())
	require.NoError(t, err)

	for ttl := env.TTL; ttl > 0; ttl-- {
		require.True(t, env.CanForward())
		fwd, ok := env.Forwarded()
		require.True(t, ok)

		assert.Equal(t, env.HopCount+1, fwd.HopCount)
		assert.Equal(t, env.TTL-1, fwd.TTL)
		assert.Equal(t, env.MessageID, fwd.MessageID)
		assert.True(t, env.Timestamp.Equal(fwd.Timestamp))
		assert.Equal(t, env.SourceNodeID, fwd.SourceNodeID)
		assert.Equal(t, env.MessageType, fwd.MessageType)
		assert.JSONEq(t, string(env.Payload), string(fwd.Payload))
		env = fwd
	}

	assert.Equal(t, uint32(0), env.TTL)
	assert.False(t, env.CanForward())
	fwd, ok := env.Forwarded()
	assert.False(t, ok)
	assert.Nil(t, fwd)
}

func TestEnvelope_ForwardedDoesNotAlias(t *testing.T) {
	env, err := NewEnvelope("node-a", CdmWithdraw, json.RawMessage(`{"cdm_id":"CDM-1"}`))
	require.NoError(t, err)

	fwd, ok := env.Forwarded()
	require.True(t, ok)
	fwd.Payload[2] = 'X'
	assert.JSONEq(t, `{"cdm_id":"CDM-1"}`, string(env.Payload))
}

func TestEnvelope_WireFormat(t *testing.T) {
	env, err := NewEnvelope("node-a", ObjectStateAnnounce, json.RawMessage(`{"object_id":"NORAD-1"}`))
	require.NoError(t, err)

	data, err := env.Encode()
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"protocol_version", "message_id", "timestamp", "source_node_id", "message_type", "hop_count", "ttl", "payload"} {
		assert.Contains(t, raw, key)
	}
	assert.Equal(t, "OBJECT_STATE_ANNOUNCE", raw["message_type"])

	decoded, err := DecodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, env.MessageID, decoded.MessageID)
	assert.Equal(t, env.TTL, decoded.TTL)
}

func TestDecodeEnvelope_Errors(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{not json`))
	assert.True(t, types.IsParse(err))

	_, err = DecodeEnvelope([]byte(`{"message_id":"m1","source_node_id":"a","message_type":"GOSSIP","timestamp":"2024-01-01T00:00:00Z"}`))
	assert.True(t, types.IsKind(err, types.KindProtocol))

	_, err = DecodeEnvelope([]byte(`{"source_node_id":"a","message_type":"HELLO","timestamp":"2024-01-01T00:00:00Z"}`))
	assert.True(t, types.IsKind(err, types.KindProtocol))
}

func TestMessageType_Classes(t *testing.T) {
	for _, mt := range MessageTypes {
		classes := 0
		for _, in := range []bool{mt.IsSession(), mt.IsCDM(), mt.IsObjectState(), mt.IsManeuver()} {
			if in {
				classes++
			}
		}
		if classes != 1 {
			t.Errorf("%s belongs to %d classes, want 1", mt, classes)
		}
	}
	assert.False(t, MessageType("GOSSIP").Valid())
}

func TestPayloads_UnknownEnumIsParseError(t *testing.T) {
	env := &Envelope{MessageType: CdmWithdraw, Payload: json.RawMessage(`{"cdm_id":"CDM-1","reason":"BORED"}`)}
	var p CdmWithdrawPayload
	err := env.DecodePayload(&p)
	require.Error(t, err)
	assert.True(t, types.IsParse(err))

	env.Payload = json.RawMessage(`{"cdm_id":"CDM-1","reason":"TCA_PASSED","effective_time":"2024-01-01T00:00:00Z"}`)
	require.NoError(t, env.DecodePayload(&p))
	assert.Equal(t, CdmTcaPassed, p.Reason)
}

func TestObjectStateAnnounce_Record(t *testing.T) {
	p := ObjectStateAnnouncePayload{ObjectID: "NORAD-1", ObjectName: "SAT", ObjectType: cdm.ObjectPayload}
	rec := p.Record("node-b", p.Epoch)
	assert.Equal(t, types.ObjectID("NORAD-1"), rec.ObjectID)
	assert.Equal(t, types.NodeID("node-b"), rec.SourceNode)
	assert.NoError(t, cdm.ValidateObjectRecord(rec))
}
